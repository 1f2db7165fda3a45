package compiler

import (
	"fmt"

	"github.com/splanck/viper-sub004/pkg/il"
)

// scanInfo is the result of the single pre-pass over a function.
type scanInfo struct {
	numParams  int
	numLocals  int
	stackBound int // conservative upper bound on operand stack depth
	scratch    int // bytes of constant-size allocas, 8-byte aligned
	uses       map[int]int
	handlers   map[string]bool // blocks entered through eh.push
	hasEH      bool
}

// scan walks the function once to size its frame.
func scan(fn *il.Function) scanInfo {
	info := scanInfo{
		numParams:  len(fn.Params),
		numLocals:  len(fn.Params),
		stackBound: 1,
		uses:       make(map[int]int),
		handlers:   make(map[string]bool),
	}
	bound := func(n int) {
		if n > info.stackBound {
			info.stackBound = n
		}
	}
	use := func(vs []il.Value) {
		for _, v := range vs {
			if v.Kind == il.KindTemp {
				info.uses[v.ID]++
			}
		}
	}

	for _, blk := range fn.Blocks {
		info.numLocals += len(blk.Params)
		for i := range blk.Instrs {
			in := &blk.Instrs[i]
			if in.HasResult() {
				info.numLocals++
			}
			use(in.Operands)
			bound(len(in.Operands) + 1)
			for _, args := range in.Args {
				use(args)
				bound(len(args) + 1)
			}
			switch in.Op {
			case il.OpEhPush:
				info.hasEH = true
				if len(in.Labels) > 0 {
					info.handlers[in.Labels[0]] = true
				}
				// err and tok land on the stack at handler entry.
				bound(2)
			case il.OpAlloca:
				if len(in.Operands) == 1 && in.Operands[0].Kind == il.KindInt && in.Operands[0].Int > 0 {
					info.scratch += int((in.Operands[0].Int + 7) &^ 7)
				}
			}
		}
	}
	return info
}

// slotMap assigns every IL value a dense local slot: parameters first, then
// block parameters and instruction results in declaration order.
type slotMap struct {
	slots map[int]int
	names []string
}

func mapSlots(fn *il.Function) slotMap {
	sm := slotMap{slots: make(map[int]int)}
	add := func(id int, name string) {
		if _, ok := sm.slots[id]; ok {
			return
		}
		sm.slots[id] = len(sm.names)
		sm.names = append(sm.names, name)
	}
	for _, p := range fn.Params {
		add(p.ID, p.Name)
	}
	for _, blk := range fn.Blocks {
		for _, p := range blk.Params {
			add(p.ID, blk.Label+"."+p.Name)
		}
		for i := range blk.Instrs {
			if blk.Instrs[i].HasResult() {
				add(blk.Instrs[i].Dst, fmt.Sprintf("%%t%d", blk.Instrs[i].Dst))
			}
		}
	}
	return sm
}

func (sm *slotMap) slot(id int) (int, bool) {
	s, ok := sm.slots[id]
	return s, ok
}

func (sm *slotMap) count() int { return len(sm.names) }

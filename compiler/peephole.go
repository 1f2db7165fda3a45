package compiler

import (
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// maxPeepholeRounds bounds the fixpoint loop.
const maxPeepholeRounds = 16

// peephole rewrites short instruction windows in place, marking removed
// instructions dead. A window never spans a label except at its first
// instruction. Rounds repeat until nothing changes.
func (g *funcGen) peephole() {
	for round := 0; round < maxPeepholeRounds; round++ {
		changed := false
		changed = g.threadJumps() || changed
		changed = g.peepholeRound() || changed
		if !changed {
			return
		}
	}
}

// nextLive returns the first live instruction index at or after i, or -1.
func (g *funcGen) nextLive(i int) int {
	for ; i < len(g.b.code); i++ {
		if !g.b.code[i].dead {
			return i
		}
	}
	return -1
}

// window collects n consecutive live instructions starting at i. It fails
// when fewer remain or a label sits inside the window.
func (g *funcGen) window(i, n int) ([]int, bool) {
	idx := make([]int, 0, n)
	j := i
	for len(idx) < n {
		j = g.nextLive(j)
		if j < 0 {
			return nil, false
		}
		idx = append(idx, j)
		j++
	}
	for k := i + 1; k <= idx[n-1]; k++ {
		if g.b.labelAt(k) {
			return nil, false
		}
	}
	return idx, true
}

// slotUses counts narrow loads and stores per local slot. Wide accesses
// and INC/DEC count as both so such slots are left alone.
func (g *funcGen) slotUses() (loads, stores map[int]int) {
	loads, stores = make(map[int]int), make(map[int]int)
	for i := range g.b.code {
		in := &g.b.code[i]
		if in.dead {
			continue
		}
		switch in.op {
		case bc.OpLoadLocal:
			loads[int(in.a)]++
		case bc.OpStoreLocal:
			stores[int(in.a)]++
		case bc.OpLoadLocalW, bc.OpStoreLocalW:
			loads[int(in.arg)] += 2
			stores[int(in.arg)] += 2
		case bc.OpIncLocal, bc.OpDecLocal:
			loads[int(in.a)] += 2
			stores[int(in.a)] += 2
		}
	}
	return loads, stores
}

func (g *funcGen) peepholeRound() bool {
	code := g.b.code
	loads, stores := g.slotUses()
	changed := false

	for i := range code {
		if code[i].dead {
			continue
		}
		in := &code[i]

		switch in.op {
		case bc.OpStoreLocal:
			// Store immediately reloaded and never read again. Skipped when
			// handlers exist: resume relies on every IL result reaching its slot.
			if g.info.hasEH {
				break
			}
			w, ok := g.window(i, 2)
			if !ok {
				break
			}
			next := &code[w[1]]
			if next.op == bc.OpLoadLocal && next.a == in.a && loads[int(in.a)] == 1 && stores[int(in.a)] == 1 {
				in.dead, next.dead = true, true
				changed = true
			}

		case bc.OpLoadLocal:
			if w, ok := g.window(i, 4); ok {
				one, arith, st := &code[w[1]], &code[w[2]], &code[w[3]]
				if one.op == bc.OpLoadOne && st.op == bc.OpStoreLocal && st.a == in.a &&
					(arith.op == bc.OpAddI64 || arith.op == bc.OpSubI64) {
					op := bc.OpIncLocal
					if arith.op == bc.OpSubI64 {
						op = bc.OpDecLocal
					}
					in.op = op
					one.dead, arith.dead, st.dead = true, true, true
					changed = true
					break
				}
			}
			if w, ok := g.window(i, 2); ok {
				next := &code[w[1]]
				if next.op == bc.OpLoadLocal && next.a == in.a {
					next.op, next.a = bc.OpDup, 0
					changed = true
				}
			}

		case bc.OpLoadZero:
			w, ok := g.window(i, 3)
			if !ok {
				break
			}
			load, sub := &code[w[1]], &code[w[2]]
			if (load.op == bc.OpLoadLocal || load.op == bc.OpLoadLocalW) && sub.op == bc.OpSubI64 {
				*in = *load
				in.line = sub.line
				load.dead = true
				sub.op = bc.OpNegI64
				changed = true
			}

		case bc.OpJump:
			if in.target < 0 {
				break
			}
			if g.nextLive(g.b.labels[in.target]) == g.nextLive(i+1) {
				in.dead = true
				changed = true
			}
		}
	}
	return changed
}

// threadJumps retargets branches whose destination is an unconditional
// jump. Chains that loop back on themselves are left alone.
func (g *funcGen) threadJumps() bool {
	code := g.b.code
	final := func(label int) int {
		seen := map[int]bool{label: true}
		for {
			j := g.nextLive(g.b.labels[label])
			if j < 0 || code[j].op != bc.OpJump || code[j].target < 0 {
				return label
			}
			next := code[j].target
			if seen[next] {
				return -1
			}
			seen[next] = true
			label = next
		}
	}

	changed := false
	for i := range code {
		in := &code[i]
		if in.dead || in.target < 0 {
			continue
		}
		switch in.op {
		case bc.OpJump, bc.OpJumpIfTrue, bc.OpJumpIfFalse:
		default:
			continue
		}
		to := final(in.target)
		if to >= 0 && to != in.target && g.b.depth[to] == g.b.depth[in.target] {
			in.target = to
			changed = true
		}
	}
	return changed
}

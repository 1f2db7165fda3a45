package compiler

import (
	"sort"

	"github.com/splanck/viper-sub004/pkg/il"
)

// linearize orders the blocks of fn for emission. Starting at the entry,
// each block is followed by its first-declared unvisited successor, so the
// common path falls through without a jump. Blocks reachable only as
// handlers or resume targets, and unreachable blocks, follow in
// declaration order, each starting its own depth-first run.
func linearize(fn *il.Function) []int {
	index := make(map[string]int, len(fn.Blocks))
	for i, b := range fn.Blocks {
		index[b.Label] = i
	}

	visited := make([]bool, len(fn.Blocks))
	order := make([]int, 0, len(fn.Blocks))

	run := func(start int) {
		stack := []int{start}
		for len(stack) > 0 {
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[b] {
				continue
			}
			visited[b] = true
			order = append(order, b)

			succ := successors(fn.Blocks[b], index)
			// Push in reverse so the first-declared successor is laid out next.
			for i := len(succ) - 1; i >= 0; i-- {
				if !visited[succ[i]] {
					stack = append(stack, succ[i])
				}
			}
		}
	}

	if len(fn.Blocks) > 0 {
		run(0)
	}
	for i := range fn.Blocks {
		if !visited[i] {
			run(i)
		}
	}
	return order
}

// successors returns the distinct fall-through-capable successors of b in
// declaration order. Handler and resume targets are excluded: control never
// falls into them.
func successors(b *il.Block, index map[string]int) []int {
	term := b.Terminator()
	if term == nil {
		return nil
	}
	switch term.Op {
	case il.OpBr, il.OpCBr, il.OpSwitch:
	default:
		return nil
	}
	seen := make(map[int]bool, len(term.Labels))
	var out []int
	for _, l := range term.Labels {
		if i, ok := index[l]; ok && !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

package compiler

import (
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// assembled is the encoded body of one function plus its side tables.
type assembled struct {
	code     []uint32
	switches []bc.SwitchTable
	ranges   []bc.ExceptionRange
	resume   []bc.ResumePoint
	lines    []uint32
	depth    []int32
	maxStack int
}

// layout assigns a pc to every instruction index. pcs[len(code)] is the end
// of the function. Dead instructions share the pc of the next live one.
func layout(code []insn) []int {
	pcs := make([]int, len(code)+1)
	pc := 0
	for i := range code {
		pcs[i] = pc
		if !code[i].dead {
			pc += code[i].op.Width()
		}
	}
	pcs[len(code)] = pc
	return pcs
}

// assemble resolves labels and encodes the live instructions of b.
func (g *funcGen) assemble() (*assembled, error) {
	b := g.b
	for l, at := range b.labels {
		if at < 0 {
			return nil, g.fail(ErrUnresolvedTarget, "label %d never placed", l)
		}
	}
	pcs := layout(b.code)
	labelPC := func(l int) int { return pcs[b.labels[l]] }

	out := &assembled{code: make([]uint32, 0, pcs[len(b.code)])}

	for i := range b.code {
		in := &b.code[i]
		if in.dead {
			continue
		}
		pc := pcs[i]
		next := pc + in.op.Width()

		switch in.op.Format() {
		case bc.FmtNone:
			out.code = append(out.code, bc.Encode(in.op, 0, 0, 0))
		case bc.FmtA8, bc.FmtI8:
			out.code = append(out.code, bc.Encode(in.op, in.a, 0, 0))
		case bc.FmtA8A8:
			out.code = append(out.code, bc.Encode(in.op, in.a, in.b, 0))
		case bc.FmtA16:
			if in.arg < 0 || in.arg > 0xFFFF {
				return nil, g.fail(ErrLimit, "%s operand %d exceeds 16 bits", in.op, in.arg)
			}
			out.code = append(out.code, bc.Encode16(in.op, uint16(in.arg), 0))
		case bc.FmtI16:
			if in.target < 0 {
				out.code = append(out.code, bc.EncodeI16(in.op, int16(in.arg)))
				break
			}
			off := labelPC(in.target) - next
			switch {
			case bc.FitsI16(off):
				out.code = append(out.code, bc.EncodeI16(in.op, int16(off)))
			case in.op.LongForm() != in.op && bc.FitsI24(off):
				out.code = append(out.code, bc.EncodeI24(in.op.LongForm(), int32(off)))
			default:
				return nil, g.fail(ErrLimit, "branch offset %d out of range", off)
			}
		case bc.FmtI24:
			off := labelPC(in.target) - next
			if !bc.FitsI24(off) {
				return nil, g.fail(ErrLimit, "branch offset %d out of range", off)
			}
			out.code = append(out.code, bc.EncodeI24(in.op, int32(off)))
		case bc.FmtExt:
			imm := in.imm
			if in.op == bc.OpSwitch {
				tbl, err := g.resolveSwitch(b.switches[in.table], next, labelPC)
				if err != nil {
					return nil, err
				}
				imm = uint32(len(out.switches))
				out.switches = append(out.switches, tbl)
			}
			w0, w1 := bc.EncodeExtended(in.op, in.a, in.b, in.c, imm)
			out.code = append(out.code, w0, w1)
		}

		if in.traps {
			s := b.spans[b.spanOf[i]]
			out.resume = append(out.resume, bc.ResumePoint{
				PC:   uint32(pc),
				Same: uint32(pcs[s.start]),
				Next: uint32(pcs[s.end]),
			})
		}
	}

	out.ranges = g.ranges(pcs, labelPC)
	if err := g.simulate(pcs, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *funcGen) resolveSwitch(t switchTable, next int, labelPC func(int) int) (bc.SwitchTable, error) {
	rel := func(l int) (int32, error) {
		off := labelPC(l) - next
		if !bc.FitsI24(off) {
			return 0, g.fail(ErrLimit, "switch offset %d out of range", off)
		}
		return int32(off), nil
	}
	var tbl bc.SwitchTable
	def, err := rel(t.def)
	if err != nil {
		return tbl, err
	}
	tbl.Default = def
	for i, v := range t.values {
		off, err := rel(t.targets[i])
		if err != nil {
			return tbl, err
		}
		tbl.Cases = append(tbl.Cases, bc.SwitchCase{Value: v, Offset: off})
	}
	return tbl, nil
}

// ranges summarizes the EH_PUSH/EH_POP pairs of the function in linear
// order. The interpreter dispatches through its runtime handler stack; the
// table serves tooling and validation.
func (g *funcGen) ranges(pcs []int, labelPC func(int) int) []bc.ExceptionRange {
	var out []bc.ExceptionRange
	code := g.b.code
	for i := range code {
		if code[i].dead || code[i].op != bc.OpEhPush {
			continue
		}
		r := bc.ExceptionRange{
			StartPC:   uint32(pcs[i]),
			EndPC:     uint32(pcs[len(code)]),
			HandlerPC: uint32(labelPC(code[i].target)),
		}
		nest := 0
	scan:
		for j := i + 1; j < len(code); j++ {
			if code[j].dead {
				continue
			}
			switch code[j].op {
			case bc.OpEhPush:
				nest++
			case bc.OpEhPop:
				if nest == 0 {
					r.EndPC = uint32(pcs[j] + 1)
					break scan
				}
				nest--
			}
		}
		out = append(out, r)
	}
	return out
}

// simulate walks the live instructions in layout order tracking operand
// stack depth. Each label resets the depth to its declared entry depth;
// control never falls off a terminal instruction into unlabeled code.
func (g *funcGen) simulate(pcs []int, out *assembled) error {
	b := g.b
	total := pcs[len(b.code)]
	out.lines = make([]uint32, total)
	out.depth = make([]int32, total)

	depth := 0
	for i := range b.code {
		if ls := b.marks[i]; len(ls) > 0 {
			depth = b.depth[ls[0]]
		}
		in := &b.code[i]
		if in.dead {
			continue
		}
		pc := pcs[i]
		for k := 0; k < in.op.Width(); k++ {
			out.lines[pc+k] = in.line
			out.depth[pc+k] = int32(depth)
		}
		pops, pushes := in.effect()
		depth -= pops
		if depth < 0 {
			return g.fail(ErrMalformedInstr, "stack underflow at pc %d (%s)", pc, in.op)
		}
		depth += pushes
		if depth > out.maxStack {
			out.maxStack = depth
		}
		if in.op.IsTerminal() {
			depth = 0
		}
	}
	if out.maxStack > g.info.stackBound {
		return g.fail(ErrLimit, "max stack %d exceeds bound %d", out.maxStack, g.info.stackBound)
	}
	return nil
}

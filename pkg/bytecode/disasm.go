package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a human-readable listing of every function in m.
func (m *Module) Disassemble() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; module %s (format v%d)\n", m.Name, m.Version))

	if len(m.I64Pool) > 0 {
		sb.WriteString("; i64 pool:\n")
		for i, v := range m.I64Pool {
			sb.WriteString(fmt.Sprintf(";   [%3d] %d\n", i, v))
		}
	}
	if len(m.F64Pool) > 0 {
		sb.WriteString("; f64 pool:\n")
		for i, v := range m.F64Pool {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, strconv.FormatFloat(v, 'g', -1, 64)))
		}
	}
	if len(m.StrPool) > 0 {
		sb.WriteString("; string pool:\n")
		for i, s := range m.StrPool {
			display := s
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %q\n", i, display))
		}
	}
	if len(m.Natives) > 0 {
		sb.WriteString("; natives:\n")
		for i, n := range m.Natives {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s/%d\n", i, n.Name, n.Argc))
		}
	}

	for _, f := range m.Functions {
		sb.WriteString("\n")
		sb.WriteString(m.DisassembleFunction(f))
	}
	return sb.String()
}

// DisassembleFunction returns the listing for one function.
func (m *Module) DisassembleFunction(f *Function) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("; === %s ===\n", f.Name))
	sb.WriteString(fmt.Sprintf("; params=%d locals=%d max_stack=%d scratch=%d\n",
		f.NumParams, f.NumLocals, f.MaxStack, f.MaxScratch))
	for _, r := range f.Ranges {
		sb.WriteString(fmt.Sprintf("; try [%04d, %04d) -> %04d\n", r.StartPC, r.EndPC, r.HandlerPC))
	}

	for pc := 0; pc < len(f.Code); {
		text, width := m.DisassembleInstruction(f, pc)
		if line := f.Line(pc); line > 0 {
			sb.WriteString(fmt.Sprintf("%04d  %-32s ; line %d\n", pc, text, line))
		} else {
			sb.WriteString(fmt.Sprintf("%04d  %s\n", pc, text))
		}
		pc += width
	}
	return sb.String()
}

// DisassembleInstruction formats the instruction at pc and returns its
// width in words.
func (m *Module) DisassembleInstruction(f *Function, pc int) (string, int) {
	if pc >= len(f.Code) {
		return "<end of code>", 1
	}
	w := f.Code[pc]
	op := OpOf(w)
	if !op.Valid() {
		return fmt.Sprintf("%s 0x%08X", op, w), 1
	}
	name := op.String()
	next := pc + op.Width()

	switch op.Format() {
	case FmtNone:
		return name, 1
	case FmtA8:
		slot := Arg8(w)
		if (op == OpLoadLocal || op == OpStoreLocal || op == OpIncLocal || op == OpDecLocal) && f.Debug != nil && int(slot) < len(f.Debug.LocalNames) {
			return fmt.Sprintf("%-16s %d ; %s", name, slot, f.Debug.LocalNames[slot]), 1
		}
		if op == OpTrap {
			return fmt.Sprintf("%-16s %s", name, TrapKind(slot)), 1
		}
		return fmt.Sprintf("%-16s %d", name, slot), 1
	case FmtI8:
		return fmt.Sprintf("%-16s %d", name, ArgI8(w)), 1
	case FmtI16:
		off := int(ArgI16(w))
		return fmt.Sprintf("%-16s %+d -> %04d", name, off, next+off), 1
	case FmtI24:
		off := int(ArgI24(w))
		return fmt.Sprintf("%-16s %+d -> %04d", name, off, next+off), 1
	case FmtA16:
		idx := int(Arg16(w))
		return fmt.Sprintf("%-16s %d%s", name, idx, m.operandComment(op, idx)), 1
	case FmtA8A8:
		_, a, b, _ := Decode(w)
		return fmt.Sprintf("%-16s argc=%d result=%d", name, a, b), 1
	case FmtExt:
		if pc+1 >= len(f.Code) {
			return name + " <truncated>", 1
		}
		_, ext, a, _, imm := DecodeExtended(w, f.Code[pc+1])
		switch op {
		case OpCallNative:
			return fmt.Sprintf("%-16s %d argc=%d result=%d%s", name, imm, ext, a, m.operandComment(op, int(imm))), 2
		case OpSwitch:
			s := fmt.Sprintf("%-16s table=%d", name, imm)
			if int(imm) < len(f.Switches) {
				t := f.Switches[imm]
				for _, c := range t.Cases {
					s += fmt.Sprintf(" %d:%04d", c.Value, next+int(c.Offset))
				}
				s += fmt.Sprintf(" default:%04d", next+int(t.Default))
			}
			return s, 2
		}
		return fmt.Sprintf("%-16s ext=%d op0=%d imm=%d", name, ext, a, imm), 2
	}
	return name, 1
}

func (m *Module) operandComment(op Opcode, idx int) string {
	switch op {
	case OpLoadI64:
		if idx < len(m.I64Pool) {
			return fmt.Sprintf(" ; %d", m.I64Pool[idx])
		}
	case OpLoadF64:
		if idx < len(m.F64Pool) {
			return " ; " + strconv.FormatFloat(m.F64Pool[idx], 'g', -1, 64)
		}
	case OpLoadStr:
		if idx < len(m.StrPool) {
			return fmt.Sprintf(" ; %q", m.StrPool[idx])
		}
	case OpCall, OpLoadFunc:
		if idx < len(m.Functions) {
			return " ; " + m.Functions[idx].Name
		}
	case OpCallNative, OpLoadNative:
		if idx < len(m.Natives) {
			return " ; " + m.Natives[idx].Name
		}
	case OpLoadGlobal, OpStoreGlob:
		if idx < len(m.Globals) {
			return " ; @" + m.Globals[idx].Name
		}
	}
	return ""
}

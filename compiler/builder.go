package compiler

import (
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// insn is one instruction before layout. Branches refer to labels; the
// resolver turns them into pc-relative offsets once every position is known.
type insn struct {
	op      bc.Opcode
	a, b, c uint8
	arg     int32  // 16-bit argument or signed immediate
	imm     uint32 // extended immediate
	target  int    // label id for branches, -1 otherwise
	table   int    // switch table id for SWITCH, -1 otherwise
	line    uint32
	pops    int // stack effect for variable-arity opcodes
	pushes  int
	traps   bool // may fault; gets a resume point
	dead    bool // removed by the peephole pass
}

// switchTable is a SWITCH side table expressed in labels.
type switchTable struct {
	values  []int64
	targets []int
	def     int
}

// ilSpan is the instruction range produced by one IL instruction that may
// trap. end is exclusive.
type ilSpan struct {
	start, end int
}

// builder accumulates instructions and labels for one function. Labels are
// positions in the instruction list; a label placed at index i resolves to
// the pc of the first live instruction at or after i.
type builder struct {
	code     []insn
	labels   []int // label id -> insn index, -1 while unplaced
	depth    []int // label id -> operand stack depth on entry
	marks    map[int][]int
	switches []switchTable
	spans    []ilSpan
	spanOf   map[int]int // insn index -> span index
	line     uint32
}

func newBuilder() *builder {
	return &builder{
		marks:  make(map[int][]int),
		spanOf: make(map[int]int),
	}
}

// newLabel creates an unplaced label whose stack depth on entry is depth.
func (b *builder) newLabel(depth int) int {
	b.labels = append(b.labels, -1)
	b.depth = append(b.depth, depth)
	return len(b.labels) - 1
}

// mark places label at the current position.
func (b *builder) mark(label int) {
	b.labels[label] = len(b.code)
	b.marks[len(b.code)] = append(b.marks[len(b.code)], label)
}

// labelAt reports whether any label is placed at insn index i.
func (b *builder) labelAt(i int) bool { return len(b.marks[i]) > 0 }

func (b *builder) emit(in insn) int {
	in.line = b.line
	b.code = append(b.code, in)
	return len(b.code) - 1
}

func (b *builder) op(op bc.Opcode) int {
	return b.emit(insn{op: op, target: -1, table: -1})
}

func (b *builder) opA(op bc.Opcode, a uint8) int {
	return b.emit(insn{op: op, a: a, target: -1, table: -1})
}

func (b *builder) opArg(op bc.Opcode, arg int32) int {
	return b.emit(insn{op: op, arg: arg, target: -1, table: -1})
}

// jump emits a branch to label. Narrow forms are widened by the resolver
// when the offset does not fit.
func (b *builder) jump(op bc.Opcode, label int) int {
	return b.emit(insn{op: op, target: label, table: -1})
}

func (b *builder) switchOn(t switchTable) int {
	b.switches = append(b.switches, t)
	return b.emit(insn{op: bc.OpSwitch, target: -1, table: len(b.switches) - 1})
}

// call emits a variable-arity call with an explicit stack effect.
func (b *builder) call(in insn, pops, pushes int) int {
	in.pops, in.pushes = pops, pushes
	in.target, in.table = -1, -1
	return b.emit(in)
}

// beginSpan opens the resume span of a trapping IL instruction.
func (b *builder) beginSpan() int {
	b.spans = append(b.spans, ilSpan{start: len(b.code), end: -1})
	return len(b.spans) - 1
}

// endSpan closes span s and attaches it to each trapping instruction in it.
func (b *builder) endSpan(s int) {
	b.spans[s].end = len(b.code)
	for i := b.spans[s].start; i < b.spans[s].end; i++ {
		if b.code[i].op.MayTrap() {
			b.code[i].traps = true
			b.spanOf[i] = s
		}
	}
}

// effect returns the stack effect of a live instruction.
func (in *insn) effect() (pops, pushes int) {
	info := bc.GetOpcodeInfo(in.op)
	if info.StackPop < 0 {
		return in.pops, in.pushes
	}
	return info.StackPop, info.StackPush
}

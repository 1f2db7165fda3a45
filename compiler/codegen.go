package compiler

import (
	"fmt"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
)

// ---------------------------------------------------------------------------
// Codegen: lower linearized IL to stack instructions
// ---------------------------------------------------------------------------

var binaryOps = map[il.Opcode]bc.Opcode{
	il.OpAdd:      bc.OpAddI64,
	il.OpSub:      bc.OpSubI64,
	il.OpMul:      bc.OpMulI64,
	il.OpSDiv:     bc.OpSDivI64,
	il.OpUDiv:     bc.OpUDivI64,
	il.OpSRem:     bc.OpSRemI64,
	il.OpURem:     bc.OpURemI64,
	il.OpIAddOvf:  bc.OpAddI64Ovf,
	il.OpISubOvf:  bc.OpSubI64Ovf,
	il.OpIMulOvf:  bc.OpMulI64Ovf,
	il.OpSDivChk0: bc.OpSDivI64Chk,
	il.OpUDivChk0: bc.OpUDivI64Chk,
	il.OpSRemChk0: bc.OpSRemI64Chk,
	il.OpURemChk0: bc.OpURemI64Chk,
	il.OpFAdd:     bc.OpAddF64,
	il.OpFSub:     bc.OpSubF64,
	il.OpFMul:     bc.OpMulF64,
	il.OpFDiv:     bc.OpDivF64,
	il.OpAnd:      bc.OpAnd,
	il.OpOr:       bc.OpOr,
	il.OpXor:      bc.OpXor,
	il.OpShl:      bc.OpShl,
	il.OpLShr:     bc.OpLShr,
	il.OpAShr:     bc.OpAShr,
	il.OpICmpEq:   bc.OpCmpEqI64,
	il.OpICmpNe:   bc.OpCmpNeI64,
	il.OpSCmpLT:   bc.OpCmpSLtI64,
	il.OpSCmpLE:   bc.OpCmpSLeI64,
	il.OpSCmpGT:   bc.OpCmpSGtI64,
	il.OpSCmpGE:   bc.OpCmpSGeI64,
	il.OpUCmpLT:   bc.OpCmpULtI64,
	il.OpUCmpLE:   bc.OpCmpULeI64,
	il.OpUCmpGT:   bc.OpCmpUGtI64,
	il.OpUCmpGE:   bc.OpCmpUGeI64,
	il.OpFCmpEQ:   bc.OpCmpEqF64,
	il.OpFCmpNE:   bc.OpCmpNeF64,
	il.OpFCmpLT:   bc.OpCmpLtF64,
	il.OpFCmpLE:   bc.OpCmpLeF64,
	il.OpFCmpGT:   bc.OpCmpGtF64,
	il.OpFCmpGE:   bc.OpCmpGeF64,
	il.OpGEP:      bc.OpGEP,
}

var unaryOps = map[il.Opcode]bc.Opcode{
	il.OpNeg:           bc.OpNegI64,
	il.OpFNeg:          bc.OpNegF64,
	il.OpNot:           bc.OpNot,
	il.OpSIToFP:        bc.OpI64ToF64,
	il.OpUIToFP:        bc.OpU64ToF64,
	il.OpFPToSI:        bc.OpF64ToI64,
	il.OpCastFPToSIChk: bc.OpF64ToI64Chk,
	il.OpCastFPToUIChk: bc.OpF64ToU64Chk,
	il.OpZext1:         bc.OpZext1,
	il.OpTrunc1:        bc.OpTrunc1,
	il.OpAlloca:        bc.OpAlloca,
	il.OpErrGetKind:    bc.OpErrGetKind,
	il.OpErrGetCode:    bc.OpErrGetCode,
	il.OpErrGetIP:      bc.OpErrGetIP,
	il.OpErrGetLine:    bc.OpErrGetLine,
}

var loadOps = map[il.Type]bc.Opcode{
	il.I1:  bc.OpLoadI8Mem,
	il.I16: bc.OpLoadI16Mem,
	il.I32: bc.OpLoadI32Mem,
	il.I64: bc.OpLoadI64Mem,
	il.F64: bc.OpLoadF64Mem,
	il.Ptr: bc.OpLoadPtrMem,
	il.Str: bc.OpLoadPtrMem,
}

var storeOps = map[il.Type]bc.Opcode{
	il.I1:  bc.OpStoreI8Mem,
	il.I16: bc.OpStoreI16Mem,
	il.I32: bc.OpStoreI32Mem,
	il.I64: bc.OpStoreI64Mem,
	il.F64: bc.OpStoreF64Mem,
	il.Ptr: bc.OpStorePtrMem,
	il.Str: bc.OpStorePtrMem,
}

var narrowTargets = map[il.Type]uint8{
	il.I1:  bc.NarrowI1,
	il.I16: bc.NarrowI16,
	il.I32: bc.NarrowI32,
	il.I64: bc.NarrowI64,
}

// funcGen holds per-function code generation state.
type funcGen struct {
	c     *Compiler
	fn    *il.Function
	info  scanInfo
	slots slotMap
	b     *builder

	blockLabel map[string]int
	order      []int
	pos        int // index into order of the block being emitted

	curBlock string
	curInstr int
}

func (g *funcGen) fail(kind error, format string, args ...interface{}) error {
	return &Error{
		Func:   g.fn.Name,
		Block:  g.curBlock,
		Instr:  g.curInstr,
		Err:    kind,
		Detail: fmt.Sprintf(format, args...),
	}
}

// nextLabel returns the label of the block laid out after the current one.
func (g *funcGen) nextLabel() string {
	if g.pos+1 < len(g.order) {
		return g.fn.Blocks[g.order[g.pos+1]].Label
	}
	return ""
}

func (g *funcGen) label(name string) (int, error) {
	l, ok := g.blockLabel[name]
	if !ok {
		return 0, g.fail(ErrUnresolvedTarget, "no block %q", name)
	}
	return l, nil
}

func (g *funcGen) loadSlot(s int) {
	if s <= 0xFF {
		g.b.opA(bc.OpLoadLocal, uint8(s))
	} else {
		g.b.opArg(bc.OpLoadLocalW, int32(s))
	}
}

func (g *funcGen) storeSlot(s int) {
	if s <= 0xFF {
		g.b.opA(bc.OpStoreLocal, uint8(s))
	} else {
		g.b.opArg(bc.OpStoreLocalW, int32(s))
	}
}

func (g *funcGen) slotOf(id int) (int, error) {
	s, ok := g.slots.slot(id)
	if !ok {
		return 0, g.fail(ErrMalformedInstr, "undefined temp %%t%d", id)
	}
	return s, nil
}

// pushValue emits the cheapest instruction that pushes v.
func (g *funcGen) pushValue(v il.Value) error {
	switch v.Kind {
	case il.KindTemp:
		s, err := g.slotOf(v.ID)
		if err != nil {
			return err
		}
		g.loadSlot(s)
	case il.KindInt:
		switch n := v.Int; {
		case n == 0:
			g.b.op(bc.OpLoadZero)
		case n == 1:
			g.b.op(bc.OpLoadOne)
		case n >= -128 && n <= 127:
			g.b.opA(bc.OpLoadI8, uint8(int8(n)))
		case n >= -32768 && n <= 32767:
			g.b.opArg(bc.OpLoadI16, int32(n))
		default:
			idx := g.c.out.AddI64(n)
			if idx > 0xFFFF {
				return g.fail(ErrLimit, "i64 pool exceeds 65536 entries")
			}
			g.b.opArg(bc.OpLoadI64, int32(idx))
		}
	case il.KindFloat:
		idx := g.c.out.AddF64(v.Float)
		if idx > 0xFFFF {
			return g.fail(ErrLimit, "f64 pool exceeds 65536 entries")
		}
		g.b.opArg(bc.OpLoadF64, int32(idx))
	case il.KindStr:
		idx := g.c.out.AddStr(v.Str)
		if idx > 0xFFFF {
			return g.fail(ErrLimit, "string pool exceeds 65536 entries")
		}
		g.b.opArg(bc.OpLoadStr, int32(idx))
	case il.KindNull:
		g.b.op(bc.OpLoadNull)
	case il.KindFunc:
		if idx, ok := g.c.funcIdx[v.Str]; ok {
			g.b.opArg(bc.OpLoadFunc, int32(idx))
			return nil
		}
		if ext := g.c.src.Extern(v.Str); ext != nil {
			idx := g.c.native(ext, len(ext.Params))
			g.b.opArg(bc.OpLoadNative, int32(idx))
			return nil
		}
		return g.fail(ErrUnknownCallee, "no function %q", v.Str)
	default:
		return g.fail(ErrMalformedInstr, "operand %s cannot be pushed", v)
	}
	return nil
}

func (g *funcGen) pushAll(vs []il.Value) error {
	for _, v := range vs {
		if err := g.pushValue(v); err != nil {
			return err
		}
	}
	return nil
}

// result stores the value on top of the stack into the instruction's slot,
// or discards it when nothing reads it.
func (g *funcGen) result(in *il.Instr) error {
	if !in.HasResult() || g.info.uses[in.Dst] == 0 {
		g.b.op(bc.OpPop)
		return nil
	}
	s, err := g.slotOf(in.Dst)
	if err != nil {
		return err
	}
	g.storeSlot(s)
	return nil
}

// moves assigns branch arguments to the target block's parameters. All
// arguments are pushed before any store so the assignment is parallel.
func (g *funcGen) moves(target string, args []il.Value) error {
	blk := g.fn.Block(target)
	if blk == nil {
		return g.fail(ErrUnresolvedTarget, "no block %q", target)
	}
	if len(args) != len(blk.Params) {
		return g.fail(ErrMalformedInstr, "branch to %s passes %d args, block takes %d", target, len(args), len(blk.Params))
	}
	if err := g.pushAll(args); err != nil {
		return err
	}
	for i := len(blk.Params) - 1; i >= 0; i-- {
		s, err := g.slotOf(blk.Params[i].ID)
		if err != nil {
			return err
		}
		g.storeSlot(s)
	}
	return nil
}

// jumpTo emits a jump unless target is laid out next.
func (g *funcGen) jumpTo(target string) error {
	if target == g.nextLabel() {
		return nil
	}
	l, err := g.label(target)
	if err != nil {
		return err
	}
	g.b.jump(bc.OpJump, l)
	return nil
}

func argsAt(in *il.Instr, i int) []il.Value {
	if i < len(in.Args) {
		return in.Args[i]
	}
	return nil
}

// genBlock emits one block: label, handler prologue, body.
func (g *funcGen) genBlock(blk *il.Block) error {
	g.curBlock = blk.Label
	g.curInstr = -1
	g.b.mark(g.blockLabel[blk.Label])
	if len(blk.Instrs) > 0 {
		g.b.line = uint32(blk.Instrs[0].Line)
	}

	if g.info.handlers[blk.Label] {
		// The interpreter arrives here with err and tok pushed.
		g.b.op(bc.OpEhEntry)
		switch n := len(blk.Params); {
		case n == 0:
			g.b.op(bc.OpPop2)
		case n == 1:
			g.b.op(bc.OpPop)
			if err := g.storeParam(blk, 0); err != nil {
				return err
			}
		default:
			if err := g.storeParam(blk, 1); err != nil {
				return err
			}
			if err := g.storeParam(blk, 0); err != nil {
				return err
			}
		}
	}

	for i := range blk.Instrs {
		g.curInstr = i
		in := &blk.Instrs[i]
		g.b.line = uint32(in.Line)

		traps := in.Op.MayTrap() || in.Op == il.OpTrap || in.Op == il.OpTrapFromErr
		span := -1
		if traps {
			span = g.b.beginSpan()
		}
		if err := g.genInstr(in); err != nil {
			return err
		}
		if traps {
			g.b.endSpan(span)
		}
	}
	return nil
}

func (g *funcGen) storeParam(blk *il.Block, i int) error {
	s, err := g.slotOf(blk.Params[i].ID)
	if err != nil {
		return err
	}
	g.storeSlot(s)
	return nil
}

func (g *funcGen) genInstr(in *il.Instr) error {
	if op, ok := binaryOps[in.Op]; ok {
		if len(in.Operands) != 2 {
			return g.fail(ErrMalformedInstr, "%s takes 2 operands", in.Op)
		}
		if err := g.pushAll(in.Operands); err != nil {
			return err
		}
		g.b.op(op)
		return g.result(in)
	}
	if op, ok := unaryOps[in.Op]; ok {
		if len(in.Operands) != 1 {
			return g.fail(ErrMalformedInstr, "%s takes 1 operand", in.Op)
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		g.b.op(op)
		return g.result(in)
	}

	switch in.Op {
	case il.OpCastSINarrow, il.OpCastUINarrow:
		width, ok := narrowTargets[in.Type]
		if !ok || len(in.Operands) != 1 {
			return g.fail(ErrMalformedInstr, "%s to %s", in.Op, in.Type)
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		op := bc.OpI64NarrowChk
		if in.Op == il.OpCastUINarrow {
			op = bc.OpU64NarrowChk
		}
		g.b.opA(op, width)
		return g.result(in)

	case il.OpIdxChk:
		if len(in.Operands) != 3 {
			return g.fail(ErrMalformedInstr, "idx.chk takes idx, lo, hi")
		}
		if err := g.pushAll(in.Operands); err != nil {
			return err
		}
		g.b.op(bc.OpIdxChk)
		return g.result(in)

	case il.OpLoad:
		op, ok := loadOps[in.Type]
		if !ok || len(in.Operands) != 1 {
			return g.fail(ErrMalformedInstr, "load of %s", in.Type)
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		g.b.op(op)
		return g.result(in)

	case il.OpStore:
		op, ok := storeOps[in.Type]
		if !ok || len(in.Operands) != 2 {
			return g.fail(ErrMalformedInstr, "store of %s", in.Type)
		}
		if err := g.pushAll(in.Operands); err != nil {
			return err
		}
		g.b.op(op)
		return nil

	case il.OpGLoad, il.OpGStore:
		if len(in.Operands) == 0 || in.Operands[0].Kind != il.KindGlobal {
			return g.fail(ErrMalformedInstr, "%s needs a global operand", in.Op)
		}
		idx := g.c.src.GlobalIndex(in.Operands[0].Str)
		if idx < 0 {
			return g.fail(ErrUnresolvedTarget, "no global @%s", in.Operands[0].Str)
		}
		if in.Op == il.OpGLoad {
			g.b.opArg(bc.OpLoadGlobal, int32(idx))
			return g.result(in)
		}
		if len(in.Operands) != 2 {
			return g.fail(ErrMalformedInstr, "gstore takes a value")
		}
		if err := g.pushValue(in.Operands[1]); err != nil {
			return err
		}
		g.b.opArg(bc.OpStoreGlob, int32(idx))
		return nil

	case il.OpStrRetain, il.OpStrRelease:
		if len(in.Operands) != 1 {
			return g.fail(ErrMalformedInstr, "%s takes 1 operand", in.Op)
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		if in.Op == il.OpStrRetain {
			g.b.op(bc.OpStrRetain)
		} else {
			g.b.op(bc.OpStrRelease)
		}
		return nil

	case il.OpCall:
		return g.genCall(in)

	case il.OpCallIndirect:
		if len(in.Operands) == 0 || len(in.Operands) > 256 {
			return g.fail(ErrMalformedInstr, "call.indirect needs a target")
		}
		args := in.Operands[1:]
		if err := g.pushAll(args); err != nil {
			return err
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		hasResult := in.Type != il.Void && in.Type != ""
		push := 0
		if hasResult {
			push = 1
		}
		g.b.call(insn{op: bc.OpCallIndirect, a: uint8(len(args)), b: uint8(push)}, len(args)+1, push)
		if hasResult {
			return g.result(in)
		}
		return nil

	case il.OpEhPush:
		if len(in.Labels) != 1 {
			return g.fail(ErrMalformedInstr, "eh.push takes one handler")
		}
		l, err := g.label(in.Labels[0])
		if err != nil {
			return err
		}
		g.b.jump(bc.OpEhPush, l)
		return nil

	case il.OpEhPop:
		g.b.op(bc.OpEhPop)
		return nil

	case il.OpEhEntry:
		// The handler prologue already carries EH_ENTRY.
		return nil
	}

	if in.Op.IsTerminator() {
		return g.genTerminator(in)
	}
	return g.fail(ErrMalformedInstr, "unsupported opcode %q", in.Op)
}

func (g *funcGen) genCall(in *il.Instr) error {
	if err := g.pushAll(in.Operands); err != nil {
		return err
	}
	argc := len(in.Operands)

	if idx, ok := g.c.funcIdx[in.Callee]; ok {
		callee := g.c.src.Functions[idx]
		if argc != len(callee.Params) {
			return g.fail(ErrMalformedInstr, "call %s with %d args, want %d", in.Callee, argc, len(callee.Params))
		}
		push := 0
		if callee.Ret != il.Void {
			push = 1
		}
		g.b.call(insn{op: bc.OpCall, arg: int32(idx)}, argc, push)
		if push == 1 {
			return g.result(in)
		}
		return nil
	}

	ext := g.c.src.Extern(in.Callee)
	if ext == nil {
		return g.fail(ErrUnknownCallee, "%q", in.Callee)
	}
	if argc != len(ext.Params) || argc > 0xFF {
		return g.fail(ErrMalformedInstr, "call %s with %d args, want %d", in.Callee, argc, len(ext.Params))
	}
	idx := g.c.native(ext, argc)
	push := 0
	if ext.Ret != il.Void {
		push = 1
	}
	g.b.call(insn{op: bc.OpCallNative, a: uint8(argc), b: uint8(push), imm: idx}, argc, push)
	if push == 1 {
		return g.result(in)
	}
	return nil
}

func (g *funcGen) genTerminator(in *il.Instr) error {
	switch in.Op {
	case il.OpRet:
		if g.fn.Ret == il.Void {
			g.b.op(bc.OpReturnVoid)
			return nil
		}
		if len(in.Operands) != 1 {
			return g.fail(ErrMalformedInstr, "ret in %s needs a value", g.fn.Name)
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		g.b.op(bc.OpReturn)
		return nil

	case il.OpBr:
		if len(in.Labels) != 1 {
			return g.fail(ErrMalformedInstr, "br takes one target")
		}
		if err := g.moves(in.Labels[0], argsAt(in, 0)); err != nil {
			return err
		}
		return g.jumpTo(in.Labels[0])

	case il.OpCBr:
		return g.genCBr(in)

	case il.OpSwitch:
		return g.genSwitch(in)

	case il.OpTrap:
		kind, ok := bc.ParseTrapKind(in.Kind)
		if !ok {
			return g.fail(ErrMalformedInstr, "unknown trap kind %q", in.Kind)
		}
		g.b.opA(bc.OpTrap, uint8(kind))
		return nil

	case il.OpTrapFromErr:
		if len(in.Operands) != 1 {
			return g.fail(ErrMalformedInstr, "trap.from_err takes an error")
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		g.b.op(bc.OpTrapFromErr)
		return nil

	case il.OpResumeSame, il.OpResumeNext:
		if len(in.Operands) != 1 {
			return g.fail(ErrMalformedInstr, "%s takes a token", in.Op)
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		if in.Op == il.OpResumeSame {
			g.b.op(bc.OpResumeSame)
		} else {
			g.b.op(bc.OpResumeNext)
		}
		return nil

	case il.OpResumeLabel:
		if len(in.Operands) != 1 || len(in.Labels) != 1 {
			return g.fail(ErrMalformedInstr, "resume.label takes a token and a label")
		}
		if len(argsAt(in, 0)) != 0 {
			return g.fail(ErrMalformedInstr, "resume.label target cannot take arguments")
		}
		l, err := g.label(in.Labels[0])
		if err != nil {
			return err
		}
		if err := g.pushValue(in.Operands[0]); err != nil {
			return err
		}
		g.b.jump(bc.OpResumeLabel, l)
		return nil
	}
	return g.fail(ErrMalformedInstr, "unsupported terminator %q", in.Op)
}

// genCBr lowers a two-way branch. The false edge is tested first so the
// true edge can fall through; when only the false edge carries arguments
// the test is inverted instead.
func (g *funcGen) genCBr(in *il.Instr) error {
	if len(in.Operands) != 1 || len(in.Labels) != 2 {
		return g.fail(ErrMalformedInstr, "cbr takes a condition and two targets")
	}
	t, f := in.Labels[0], in.Labels[1]
	targs, fargs := argsAt(in, 0), argsAt(in, 1)
	if err := g.pushValue(in.Operands[0]); err != nil {
		return err
	}

	switch {
	case len(fargs) == 0:
		fl, err := g.label(f)
		if err != nil {
			return err
		}
		g.b.jump(bc.OpJumpIfFalse, fl)
		if err := g.moves(t, targs); err != nil {
			return err
		}
		return g.jumpTo(t)

	case len(targs) == 0:
		tl, err := g.label(t)
		if err != nil {
			return err
		}
		g.b.jump(bc.OpJumpIfTrue, tl)
		if err := g.moves(f, fargs); err != nil {
			return err
		}
		return g.jumpTo(f)

	default:
		edge := g.b.newLabel(0)
		g.b.jump(bc.OpJumpIfFalse, edge)
		if err := g.moves(t, targs); err != nil {
			return err
		}
		tl, err := g.label(t)
		if err != nil {
			return err
		}
		g.b.jump(bc.OpJump, tl)
		g.b.mark(edge)
		if err := g.moves(f, fargs); err != nil {
			return err
		}
		return g.jumpTo(f)
	}
}

// genSwitch lowers switch.i32. Edges that carry arguments go through a
// stub that performs the moves and jumps on.
func (g *funcGen) genSwitch(in *il.Instr) error {
	if len(in.Operands) != 1 || len(in.Labels) != len(in.Cases)+1 {
		return g.fail(ErrMalformedInstr, "switch.i32 needs a selector, a default and one label per case")
	}
	if err := g.pushValue(in.Operands[0]); err != nil {
		return err
	}

	type stub struct {
		label  int
		target string
		args   []il.Value
	}
	var stubs []stub
	edge := func(i int) (int, error) {
		target, args := in.Labels[i], argsAt(in, i)
		if len(args) == 0 {
			return g.label(target)
		}
		l := g.b.newLabel(0)
		stubs = append(stubs, stub{label: l, target: target, args: args})
		return l, nil
	}

	var t switchTable
	def, err := edge(0)
	if err != nil {
		return err
	}
	t.def = def
	for i, v := range in.Cases {
		l, err := edge(i + 1)
		if err != nil {
			return err
		}
		t.values = append(t.values, v)
		t.targets = append(t.targets, l)
	}
	g.b.switchOn(t)

	for i, s := range stubs {
		g.b.mark(s.label)
		if err := g.moves(s.target, s.args); err != nil {
			return err
		}
		if i == len(stubs)-1 {
			if err := g.jumpTo(s.target); err != nil {
				return err
			}
			continue
		}
		l, err := g.label(s.target)
		if err != nil {
			return err
		}
		g.b.jump(bc.OpJump, l)
	}
	return nil
}

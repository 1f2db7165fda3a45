package vm

import (
	"math"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// opFunc executes one instruction. w is its first word; pc already points
// past it.
type opFunc func(i *Interpreter, w uint32)

// opTable is the dispatch table of EngineTable. Unassigned bytes raise
// InvalidOpcode.
var opTable [256]opFunc

func init() {
	for k := range opTable {
		opTable[k] = opInvalid
	}
	for op, fn := range map[bc.Opcode]opFunc{
		bc.OpNop:  opNop,
		bc.OpDup:  opDup,
		bc.OpDup2: opDup2,
		bc.OpPop:  opPop,
		bc.OpPop2: opPop2,
		bc.OpSwap: opSwap,
		bc.OpRot3: opRot3,

		bc.OpLoadLocal:   opLoadLocal,
		bc.OpStoreLocal:  opStoreLocal,
		bc.OpLoadLocalW:  opLoadLocalW,
		bc.OpStoreLocalW: opStoreLocalW,
		bc.OpIncLocal:    opIncLocal,
		bc.OpDecLocal:    opDecLocal,

		bc.OpLoadI8:     opLoadI8,
		bc.OpLoadI16:    opLoadI16,
		bc.OpLoadI64:    opLoadI64,
		bc.OpLoadF64:    opLoadF64,
		bc.OpLoadStr:    opLoadStr,
		bc.OpLoadNull:   opLoadZero,
		bc.OpLoadZero:   opLoadZero,
		bc.OpLoadOne:    opLoadOne,
		bc.OpLoadGlobal: opLoadGlobal,
		bc.OpStoreGlob:  opStoreGlobal,
		bc.OpLoadFunc:   opLoadFunc,
		bc.OpLoadNative: opLoadNative,

		bc.OpAddI64:  opAddI64,
		bc.OpSubI64:  opSubI64,
		bc.OpMulI64:  opMulI64,
		bc.OpSDivI64: opSDivI64,
		bc.OpUDivI64: opUDivI64,
		bc.OpSRemI64: opSRemI64,
		bc.OpURemI64: opURemI64,
		bc.OpNegI64:  opNegI64,

		bc.OpAddI64Ovf:  opAddI64Ovf,
		bc.OpSubI64Ovf:  opSubI64Ovf,
		bc.OpMulI64Ovf:  opMulI64Ovf,
		bc.OpSDivI64Chk: opSDivI64Chk,
		bc.OpUDivI64Chk: opUDivI64Chk,
		bc.OpSRemI64Chk: opSRemI64Chk,
		bc.OpURemI64Chk: opURemI64Chk,
		bc.OpIdxChk:     opIdxChk,

		bc.OpAddF64: opAddF64,
		bc.OpSubF64: opSubF64,
		bc.OpMulF64: opMulF64,
		bc.OpDivF64: opDivF64,
		bc.OpNegF64: opNegF64,

		bc.OpAnd:  opAnd,
		bc.OpOr:   opOr,
		bc.OpXor:  opXor,
		bc.OpNot:  opNot,
		bc.OpShl:  opShl,
		bc.OpLShr: opLShr,
		bc.OpAShr: opAShr,

		bc.OpCmpEqI64:  opCmpEqI64,
		bc.OpCmpNeI64:  opCmpNeI64,
		bc.OpCmpSLtI64: opCmpSLtI64,
		bc.OpCmpSLeI64: opCmpSLeI64,
		bc.OpCmpSGtI64: opCmpSGtI64,
		bc.OpCmpSGeI64: opCmpSGeI64,
		bc.OpCmpULtI64: opCmpULtI64,
		bc.OpCmpULeI64: opCmpULeI64,
		bc.OpCmpUGtI64: opCmpUGtI64,
		bc.OpCmpUGeI64: opCmpUGeI64,

		bc.OpCmpEqF64: opCmpEqF64,
		bc.OpCmpNeF64: opCmpNeF64,
		bc.OpCmpLtF64: opCmpLtF64,
		bc.OpCmpLeF64: opCmpLeF64,
		bc.OpCmpGtF64: opCmpGtF64,
		bc.OpCmpGeF64: opCmpGeF64,

		bc.OpI64ToF64:     opI64ToF64,
		bc.OpU64ToF64:     opU64ToF64,
		bc.OpF64ToI64:     opF64ToI64,
		bc.OpF64ToI64Chk:  opF64ToI64Chk,
		bc.OpF64ToU64Chk:  opF64ToU64Chk,
		bc.OpI64NarrowChk: opI64NarrowChk,
		bc.OpU64NarrowChk: opU64NarrowChk,
		bc.OpTrunc1:       opTrunc1,
		bc.OpZext1:        opNop,

		bc.OpJump:            opJump,
		bc.OpJumpIfTrue:      opJumpIfTrue,
		bc.OpJumpIfFalse:     opJumpIfFalse,
		bc.OpJumpLong:        opJumpLong,
		bc.OpJumpIfTrueLong:  opJumpIfTrueLong,
		bc.OpJumpIfFalseLong: opJumpIfFalseLong,
		bc.OpSwitch:          opSwitch,

		bc.OpCall:         opCall,
		bc.OpCallNative:   opCallNative,
		bc.OpCallIndirect: opCallIndirect,
		bc.OpReturn:       opReturn,
		bc.OpReturnVoid:   opReturnVoid,

		bc.OpAlloca:      opAlloca,
		bc.OpGEP:         opGEP,
		bc.OpLoadI8Mem:   opLoadI8Mem,
		bc.OpLoadI16Mem:  opLoadI16Mem,
		bc.OpLoadI32Mem:  opLoadI32Mem,
		bc.OpLoadI64Mem:  opLoadI64Mem,
		bc.OpLoadF64Mem:  opLoadI64Mem,
		bc.OpLoadPtrMem:  opLoadI64Mem,
		bc.OpStoreI8Mem:  opStoreI8Mem,
		bc.OpStoreI16Mem: opStoreI16Mem,
		bc.OpStoreI32Mem: opStoreI32Mem,
		bc.OpStoreI64Mem: opStoreI64Mem,
		bc.OpStoreF64Mem: opStoreI64Mem,
		bc.OpStorePtrMem: opStoreI64Mem,

		bc.OpStrRetain:  opStrRetain,
		bc.OpStrRelease: opStrRelease,

		bc.OpEhPush:      opEhPush,
		bc.OpEhPop:       opEhPop,
		bc.OpEhEntry:     opNop,
		bc.OpTrap:        opTrap,
		bc.OpTrapFromErr: opTrapFromErr,
		bc.OpErrGetKind:  opErrGetKind,
		bc.OpErrGetCode:  opErrGetCode,
		bc.OpErrGetIP:    opErrGetIP,
		bc.OpErrGetLine:  opErrGetLine,
		bc.OpResumeSame:  opResumeSame,
		bc.OpResumeNext:  opResumeNext,
		bc.OpResumeLabel: opResumeLabel,
	} {
		opTable[op] = fn
	}
}

func opInvalid(i *Interpreter, w uint32) {
	i.raise(bc.TrapInvalidOpcode, "unknown opcode 0x%02X", byte(w))
}

func opNop(i *Interpreter, w uint32) {}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

func opDup(i *Interpreter, w uint32) {
	i.stack[i.sp] = i.stack[i.sp-1]
	i.sp++
}

func opDup2(i *Interpreter, w uint32) {
	i.stack[i.sp] = i.stack[i.sp-2]
	i.stack[i.sp+1] = i.stack[i.sp-1]
	i.sp += 2
}

func opPop(i *Interpreter, w uint32) { i.sp-- }

func opPop2(i *Interpreter, w uint32) { i.sp -= 2 }

func opSwap(i *Interpreter, w uint32) {
	s := i.stack
	s[i.sp-1], s[i.sp-2] = s[i.sp-2], s[i.sp-1]
}

// a b c -> b c a
func opRot3(i *Interpreter, w uint32) {
	s := i.stack
	a := s[i.sp-3]
	s[i.sp-3] = s[i.sp-2]
	s[i.sp-2] = s[i.sp-1]
	s[i.sp-1] = a
}

// ---------------------------------------------------------------------------
// Locals, constants, globals
// ---------------------------------------------------------------------------

func opLoadLocal(i *Interpreter, w uint32) {
	i.stack[i.sp] = i.stack[i.base+int(bc.Arg8(w))]
	i.sp++
}

func opStoreLocal(i *Interpreter, w uint32) {
	i.sp--
	i.stack[i.base+int(bc.Arg8(w))] = i.stack[i.sp]
}

func opLoadLocalW(i *Interpreter, w uint32) {
	i.stack[i.sp] = i.stack[i.base+int(bc.Arg16(w))]
	i.sp++
}

func opStoreLocalW(i *Interpreter, w uint32) {
	i.sp--
	i.stack[i.base+int(bc.Arg16(w))] = i.stack[i.sp]
}

func opIncLocal(i *Interpreter, w uint32) { i.stack[i.base+int(bc.Arg8(w))]++ }

func opDecLocal(i *Interpreter, w uint32) { i.stack[i.base+int(bc.Arg8(w))]-- }

func opLoadI8(i *Interpreter, w uint32) {
	i.stack[i.sp] = I64(int64(bc.ArgI8(w)))
	i.sp++
}

func opLoadI16(i *Interpreter, w uint32) {
	i.stack[i.sp] = I64(int64(bc.ArgI16(w)))
	i.sp++
}

func opLoadI64(i *Interpreter, w uint32) {
	i.stack[i.sp] = I64(i.mod.I64Pool[bc.Arg16(w)])
	i.sp++
}

func opLoadF64(i *Interpreter, w uint32) {
	i.stack[i.sp] = F64(i.mod.F64Pool[bc.Arg16(w)])
	i.sp++
}

func opLoadStr(i *Interpreter, w uint32) {
	i.stack[i.sp] = i.str(int(bc.Arg16(w)))
	i.sp++
}

func opLoadZero(i *Interpreter, w uint32) {
	i.stack[i.sp] = 0
	i.sp++
}

func opLoadOne(i *Interpreter, w uint32) {
	i.stack[i.sp] = 1
	i.sp++
}

func opLoadGlobal(i *Interpreter, w uint32) {
	i.stack[i.sp] = i.globals[bc.Arg16(w)]
	i.sp++
}

func opStoreGlobal(i *Interpreter, w uint32) {
	i.sp--
	i.globals[bc.Arg16(w)] = i.stack[i.sp]
}

func opLoadFunc(i *Interpreter, w uint32) {
	i.stack[i.sp] = FuncPointer(int(bc.Arg16(w)))
	i.sp++
}

func opLoadNative(i *Interpreter, w uint32) {
	i.stack[i.sp] = NativePointer(int(bc.Arg16(w)))
	i.sp++
}

// ---------------------------------------------------------------------------
// Integer arithmetic
// ---------------------------------------------------------------------------

// binary returns the two operands and pops the right one; the result goes
// to stack[sp-1].
func (i *Interpreter) binary() (a, b int64) {
	i.sp--
	return i.stack[i.sp-1].I64(), i.stack[i.sp].I64()
}

func (i *Interpreter) setTop(v Slot) { i.stack[i.sp-1] = v }

func opAddI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a + b)) }

func opSubI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a - b)) }

func opMulI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a * b)) }

// Unchecked division by zero yields 0.
func opSDivI64(i *Interpreter, w uint32) {
	a, b := i.binary()
	if b == 0 {
		i.setTop(0)
		return
	}
	i.setTop(I64(a / b))
}

func opUDivI64(i *Interpreter, w uint32) {
	a, b := i.binary()
	if b == 0 {
		i.setTop(0)
		return
	}
	i.setTop(Slot(uint64(a) / uint64(b)))
}

func opSRemI64(i *Interpreter, w uint32) {
	a, b := i.binary()
	if b == 0 {
		i.setTop(0)
		return
	}
	i.setTop(I64(a % b))
}

func opURemI64(i *Interpreter, w uint32) {
	a, b := i.binary()
	if b == 0 {
		i.setTop(0)
		return
	}
	i.setTop(Slot(uint64(a) % uint64(b)))
}

func opNegI64(i *Interpreter, w uint32) { i.setTop(I64(-i.stack[i.sp-1].I64())) }

// Checked forms inspect both operands before popping anything, so a
// trapping instruction leaves no value behind.

func (i *Interpreter) operands() (a, b int64) {
	return i.stack[i.sp-2].I64(), i.stack[i.sp-1].I64()
}

func (i *Interpreter) commit(v Slot) {
	i.sp--
	i.stack[i.sp-1] = v
}

func opAddI64Ovf(i *Interpreter, w uint32) {
	a, b := i.operands()
	r := a + b
	if (a^r)&(b^r) < 0 {
		i.raise(bc.TrapOverflow, "integer overflow in add")
		return
	}
	i.commit(I64(r))
}

func opSubI64Ovf(i *Interpreter, w uint32) {
	a, b := i.operands()
	r := a - b
	if (a^b)&(a^r) < 0 {
		i.raise(bc.TrapOverflow, "integer overflow in sub")
		return
	}
	i.commit(I64(r))
}

func opMulI64Ovf(i *Interpreter, w uint32) {
	a, b := i.operands()
	if mulOverflows(a, b) {
		i.raise(bc.TrapOverflow, "integer overflow in mul")
		return
	}
	i.commit(I64(a * b))
}

func mulOverflows(a, b int64) bool {
	if a == 0 || b == 0 {
		return false
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return true
	}
	return (a*b)/b != a
}

func opSDivI64Chk(i *Interpreter, w uint32) {
	a, b := i.operands()
	switch {
	case b == 0:
		i.raise(bc.TrapDivisionByZero, "division by zero")
	case a == math.MinInt64 && b == -1:
		i.raise(bc.TrapOverflow, "integer overflow in sdiv")
	default:
		i.commit(I64(a / b))
	}
}

func opUDivI64Chk(i *Interpreter, w uint32) {
	a, b := i.operands()
	if b == 0 {
		i.raise(bc.TrapDivisionByZero, "division by zero")
		return
	}
	i.commit(Slot(uint64(a) / uint64(b)))
}

func opSRemI64Chk(i *Interpreter, w uint32) {
	a, b := i.operands()
	if b == 0 {
		i.raise(bc.TrapDivisionByZero, "division by zero")
		return
	}
	i.commit(I64(a % b))
}

func opURemI64Chk(i *Interpreter, w uint32) {
	a, b := i.operands()
	if b == 0 {
		i.raise(bc.TrapDivisionByZero, "division by zero")
		return
	}
	i.commit(Slot(uint64(a) % uint64(b)))
}

// idx lo hi -> idx, trapping unless lo <= idx < hi.
func opIdxChk(i *Interpreter, w uint32) {
	s := i.stack
	idx, lo, hi := s[i.sp-3].I64(), s[i.sp-2].I64(), s[i.sp-1].I64()
	if idx < lo || idx >= hi {
		i.raise(bc.TrapIndexOutOfBounds, "index %d outside [%d, %d)", idx, lo, hi)
		return
	}
	i.sp -= 2
}

// ---------------------------------------------------------------------------
// Floating point
// ---------------------------------------------------------------------------

func (i *Interpreter) binaryF() (a, b float64) {
	i.sp--
	return i.stack[i.sp-1].F64(), i.stack[i.sp].F64()
}

func opAddF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(F64(a + b)) }

func opSubF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(F64(a - b)) }

func opMulF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(F64(a * b)) }

func opDivF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(F64(a / b)) }

func opNegF64(i *Interpreter, w uint32) { i.setTop(F64(-i.stack[i.sp-1].F64())) }

// ---------------------------------------------------------------------------
// Bitwise
// ---------------------------------------------------------------------------

func opAnd(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a & b)) }

func opOr(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a | b)) }

func opXor(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a ^ b)) }

func opNot(i *Interpreter, w uint32) { i.setTop(^i.stack[i.sp-1]) }

func opShl(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a << (b & 63))) }

func opLShr(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Slot(uint64(a) >> (b & 63))) }

func opAShr(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(I64(a >> (b & 63))) }

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

func opCmpEqI64(i *Interpreter, w uint32)  { a, b := i.binary(); i.setTop(Bool(a == b)) }
func opCmpNeI64(i *Interpreter, w uint32)  { a, b := i.binary(); i.setTop(Bool(a != b)) }
func opCmpSLtI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(a < b)) }
func opCmpSLeI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(a <= b)) }
func opCmpSGtI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(a > b)) }
func opCmpSGeI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(a >= b)) }
func opCmpULtI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(uint64(a) < uint64(b))) }
func opCmpULeI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(uint64(a) <= uint64(b))) }
func opCmpUGtI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(uint64(a) > uint64(b))) }
func opCmpUGeI64(i *Interpreter, w uint32) { a, b := i.binary(); i.setTop(Bool(uint64(a) >= uint64(b))) }

func opCmpEqF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(Bool(a == b)) }
func opCmpNeF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(Bool(a != b)) }
func opCmpLtF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(Bool(a < b)) }
func opCmpLeF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(Bool(a <= b)) }
func opCmpGtF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(Bool(a > b)) }
func opCmpGeF64(i *Interpreter, w uint32) { a, b := i.binaryF(); i.setTop(Bool(a >= b)) }

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

const (
	two63 = 9223372036854775808.0
	two64 = 18446744073709551616.0
)

func opI64ToF64(i *Interpreter, w uint32) { i.setTop(F64(float64(i.stack[i.sp-1].I64()))) }

func opU64ToF64(i *Interpreter, w uint32) { i.setTop(F64(float64(i.stack[i.sp-1].U64()))) }

// F64_TO_I64 truncates toward zero, saturates out-of-range values and maps
// NaN to 0.
func opF64ToI64(i *Interpreter, w uint32) {
	f := i.stack[i.sp-1].F64()
	switch {
	case math.IsNaN(f):
		i.setTop(0)
	case f >= two63:
		i.setTop(I64(math.MaxInt64))
	case f < -two63:
		i.setTop(I64(math.MinInt64))
	default:
		i.setTop(I64(int64(f)))
	}
}

func opF64ToI64Chk(i *Interpreter, w uint32) {
	f := i.stack[i.sp-1].F64()
	if math.IsNaN(f) {
		i.raise(bc.TrapInvalidCast, "float to int conversion of NaN")
		return
	}
	r := math.RoundToEven(f)
	if r >= two63 || r < -two63 {
		i.raise(bc.TrapInvalidCast, "float to int conversion overflow")
		return
	}
	i.setTop(I64(int64(r)))
}

func opF64ToU64Chk(i *Interpreter, w uint32) {
	f := i.stack[i.sp-1].F64()
	if math.IsNaN(f) {
		i.raise(bc.TrapInvalidCast, "float to uint conversion of NaN")
		return
	}
	r := math.RoundToEven(f)
	if r < 0 || r >= two64 {
		i.raise(bc.TrapInvalidCast, "float to uint conversion overflow")
		return
	}
	i.setTop(Slot(uint64(r)))
}

func opI64NarrowChk(i *Interpreter, w uint32) {
	v := i.stack[i.sp-1].I64()
	ok := true
	switch bc.Arg8(w) {
	case bc.NarrowI1:
		ok = v == 0 || v == 1
	case bc.NarrowI16:
		ok = v >= math.MinInt16 && v <= math.MaxInt16
	case bc.NarrowI32:
		ok = v >= math.MinInt32 && v <= math.MaxInt32
	}
	if !ok {
		i.raise(bc.TrapOverflow, "signed narrow conversion overflow")
	}
}

func opU64NarrowChk(i *Interpreter, w uint32) {
	v := i.stack[i.sp-1].U64()
	ok := true
	switch bc.Arg8(w) {
	case bc.NarrowI1:
		ok = v <= 1
	case bc.NarrowI16:
		ok = v <= math.MaxUint16
	case bc.NarrowI32:
		ok = v <= math.MaxUint32
	}
	if !ok {
		i.raise(bc.TrapOverflow, "unsigned narrow conversion overflow")
	}
}

func opTrunc1(i *Interpreter, w uint32) { i.setTop(i.stack[i.sp-1] & 1) }

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func opJump(i *Interpreter, w uint32) { i.pc += int(bc.ArgI16(w)) }

func opJumpIfTrue(i *Interpreter, w uint32) {
	i.sp--
	if i.stack[i.sp] != 0 {
		i.pc += int(bc.ArgI16(w))
	}
}

func opJumpIfFalse(i *Interpreter, w uint32) {
	i.sp--
	if i.stack[i.sp] == 0 {
		i.pc += int(bc.ArgI16(w))
	}
}

func opJumpLong(i *Interpreter, w uint32) { i.pc += int(bc.ArgI24(w)) }

func opJumpIfTrueLong(i *Interpreter, w uint32) {
	i.sp--
	if i.stack[i.sp] != 0 {
		i.pc += int(bc.ArgI24(w))
	}
}

func opJumpIfFalseLong(i *Interpreter, w uint32) {
	i.sp--
	if i.stack[i.sp] == 0 {
		i.pc += int(bc.ArgI24(w))
	}
}

// The selector is compared as a 32-bit value.
func opSwitch(i *Interpreter, w uint32) {
	t := &i.fn.Switches[i.code[i.pc]]
	i.pc++
	i.sp--
	i.pc += int(t.Lookup(int64(int32(i.stack[i.sp]))))
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func opCall(i *Interpreter, w uint32) { i.call(int(bc.Arg16(w))) }

func opCallNative(i *Interpreter, w uint32) {
	imm := i.code[i.pc]
	i.pc++
	_, argc, result, _, _ := bc.DecodeExtended(w, imm)
	i.callNative(int(imm), int(argc), result != 0)
}

// CALL_INDIRECT argc result: the callee pointer sits above the arguments.
func opCallIndirect(i *Interpreter, w uint32) {
	argc := int(bc.Arg8(w))
	hasResult := uint8(w>>16) != 0
	i.sp--
	target := i.stack[i.sp]

	switch {
	case target == 0:
		i.raise(bc.TrapNullPointer, "null indirect callee")
	case !target.IsFunc():
		i.raise(bc.TrapRuntimeError, "invalid indirect call target %#x", uint64(target))
	case target.IsNative():
		i.callNative(target.FuncIndex(), argc, hasResult)
	default:
		idx, ok := i.indirectTarget(target)
		if !ok {
			i.raise(bc.TrapRuntimeError, "invalid indirect function index %d", target.FuncIndex())
			return
		}
		fn := i.mod.Functions[idx]
		i.assert(int(fn.NumParams) == argc && fn.HasReturn == hasResult, ErrCorruptCode,
			"indirect call to %s with %d args", fn.Name, argc)
		i.call(idx)
	}
}

// indirectTarget resolves a function pointer through the site cache.
func (i *Interpreter) indirectTarget(target Slot) (int, bool) {
	ic := i.siteCache()
	if t, ok := ic.Lookup(target); ok {
		return t.fn, true
	}
	idx := target.FuncIndex()
	if idx >= len(i.mod.Functions) {
		return 0, false
	}
	ic.Update(target, callTarget{fn: idx})
	return idx, true
}

func opReturn(i *Interpreter, w uint32) { i.ret(true) }

func opReturnVoid(i *Interpreter, w uint32) { i.ret(false) }

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func opStrRetain(i *Interpreter, w uint32) {
	i.sp--
	if p := i.stack[i.sp]; !p.IsNull() {
		i.rt.Retain(p)
	}
}

func opStrRelease(i *Interpreter, w uint32) {
	i.sp--
	if p := i.stack[i.sp]; !p.IsNull() {
		i.rt.Release(p)
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func opEhPush(i *Interpreter, w uint32) { i.pushHandler(i.pc + int(bc.ArgI24(w))) }

func opEhPop(i *Interpreter, w uint32) { i.popHandler() }

func opTrap(i *Interpreter, w uint32) {
	kind := bc.TrapKind(bc.Arg8(w))
	i.raise(kind, "%s raised", kind)
}

func opTrapFromErr(i *Interpreter, w uint32) {
	i.sp--
	kind := ErrKind(i.stack[i.sp])
	if kind == bc.TrapNone {
		kind = bc.TrapRuntimeError
	}
	i.raise(kind, "%s rethrown", kind)
}

func opErrGetKind(i *Interpreter, w uint32) { i.setTop(I64(int64(ErrKind(i.stack[i.sp-1])))) }

func opErrGetCode(i *Interpreter, w uint32) { i.setTop(I64(ErrKind(i.stack[i.sp-1]).ErrorCode())) }

func opErrGetIP(i *Interpreter, w uint32) { i.setTop(I64(ErrPC(i.stack[i.sp-1]))) }

func opErrGetLine(i *Interpreter, w uint32) { i.setTop(I64(ErrLine(i.stack[i.sp-1]))) }

func opResumeSame(i *Interpreter, w uint32) { i.resume(resumeSame, 0) }

func opResumeNext(i *Interpreter, w uint32) { i.resume(resumeNext, 0) }

func opResumeLabel(i *Interpreter, w uint32) { i.resume(resumeLabel, i.pc+int(bc.ArgI24(w))) }

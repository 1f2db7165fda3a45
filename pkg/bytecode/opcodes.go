package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00
	OpDup  Opcode = 0x01 // a -> a a
	OpDup2 Opcode = 0x02 // a b -> a b a b
	OpPop  Opcode = 0x03
	OpPop2 Opcode = 0x04
	OpSwap Opcode = 0x05 // a b -> b a
	OpRot3 Opcode = 0x06 // a b c -> b c a

	// ========================================================================
	// Local slots (0x10-0x1F)
	// ========================================================================

	OpLoadLocal   Opcode = 0x10 // LOAD_LOCAL <slot:u8>
	OpStoreLocal  Opcode = 0x11 // STORE_LOCAL <slot:u8>
	OpLoadLocalW  Opcode = 0x12 // LOAD_LOCAL_W <slot:u16>
	OpStoreLocalW Opcode = 0x13 // STORE_LOCAL_W <slot:u16>
	OpIncLocal    Opcode = 0x14 // INC_LOCAL <slot:u8>, wrapping
	OpDecLocal    Opcode = 0x15 // DEC_LOCAL <slot:u8>, wrapping

	// ========================================================================
	// Constants and globals (0x20-0x2F)
	// ========================================================================

	OpLoadI8     Opcode = 0x20 // LOAD_I8 <imm:i8>
	OpLoadI16    Opcode = 0x21 // LOAD_I16 <imm:i16>
	OpLoadI64    Opcode = 0x22 // LOAD_I64 <pool:u16>
	OpLoadF64    Opcode = 0x23 // LOAD_F64 <pool:u16>
	OpLoadStr    Opcode = 0x24 // LOAD_STR <pool:u16>
	OpLoadNull   Opcode = 0x25
	OpLoadZero   Opcode = 0x26
	OpLoadOne    Opcode = 0x27
	OpLoadGlobal Opcode = 0x28 // LOAD_GLOBAL <global:u16>
	OpStoreGlob  Opcode = 0x29 // STORE_GLOBAL <global:u16>
	OpLoadFunc   Opcode = 0x2A // LOAD_FUNC <func:u16>, tagged function pointer
	OpLoadNative Opcode = 0x2B // LOAD_NATIVE <native:u16>, tagged native pointer

	// ========================================================================
	// Integer arithmetic, wrapping (0x30-0x3F)
	// ========================================================================

	OpAddI64  Opcode = 0x30
	OpSubI64  Opcode = 0x31
	OpMulI64  Opcode = 0x32
	OpSDivI64 Opcode = 0x33 // zero divisor yields 0
	OpUDivI64 Opcode = 0x34
	OpSRemI64 Opcode = 0x35
	OpURemI64 Opcode = 0x36
	OpNegI64  Opcode = 0x37

	// ========================================================================
	// Checked integer arithmetic (0x40-0x4F)
	// ========================================================================

	OpAddI64Ovf  Opcode = 0x40
	OpSubI64Ovf  Opcode = 0x41
	OpMulI64Ovf  Opcode = 0x42
	OpSDivI64Chk Opcode = 0x43
	OpUDivI64Chk Opcode = 0x44
	OpSRemI64Chk Opcode = 0x45
	OpURemI64Chk Opcode = 0x46
	OpIdxChk     Opcode = 0x47 // idx lo hi -> idx

	// ========================================================================
	// Floating point (0x50-0x57)
	// ========================================================================

	OpAddF64 Opcode = 0x50
	OpSubF64 Opcode = 0x51
	OpMulF64 Opcode = 0x52
	OpDivF64 Opcode = 0x53
	OpNegF64 Opcode = 0x54

	// ========================================================================
	// Bitwise (0x58-0x5F)
	// ========================================================================

	OpAnd  Opcode = 0x58
	OpOr   Opcode = 0x59
	OpXor  Opcode = 0x5A
	OpNot  Opcode = 0x5B
	OpShl  Opcode = 0x5C // count masked to 0-63
	OpLShr Opcode = 0x5D
	OpAShr Opcode = 0x5E

	// ========================================================================
	// Integer comparison (0x60-0x6F)
	// ========================================================================

	OpCmpEqI64  Opcode = 0x60
	OpCmpNeI64  Opcode = 0x61
	OpCmpSLtI64 Opcode = 0x62
	OpCmpSLeI64 Opcode = 0x63
	OpCmpSGtI64 Opcode = 0x64
	OpCmpSGeI64 Opcode = 0x65
	OpCmpULtI64 Opcode = 0x66
	OpCmpULeI64 Opcode = 0x67
	OpCmpUGtI64 Opcode = 0x68
	OpCmpUGeI64 Opcode = 0x69

	// ========================================================================
	// Float comparison (0x70-0x77)
	// ========================================================================

	OpCmpEqF64 Opcode = 0x70
	OpCmpNeF64 Opcode = 0x71
	OpCmpLtF64 Opcode = 0x72
	OpCmpLeF64 Opcode = 0x73
	OpCmpGtF64 Opcode = 0x74
	OpCmpGeF64 Opcode = 0x75

	// ========================================================================
	// Conversions (0x78-0x8F)
	// ========================================================================

	OpI64ToF64     Opcode = 0x78
	OpU64ToF64     Opcode = 0x79
	OpF64ToI64     Opcode = 0x7A // truncating, NaN -> 0
	OpF64ToI64Chk  Opcode = 0x7B // round-to-even, traps InvalidCast
	OpF64ToU64Chk  Opcode = 0x7C
	OpI64NarrowChk Opcode = 0x7D // I64_NARROW_CHK <width:u8>
	OpU64NarrowChk Opcode = 0x7E
	OpTrunc1       Opcode = 0x7F // x & 1
	OpZext1        Opcode = 0x80 // i1 -> i64, identity on canonical booleans

	// ========================================================================
	// Control flow (0x90-0x9F)
	// ========================================================================

	OpJump            Opcode = 0x90 // JUMP <off:i16>
	OpJumpIfTrue      Opcode = 0x91
	OpJumpIfFalse     Opcode = 0x92
	OpJumpLong        Opcode = 0x93 // JUMP_LONG <off:i24>
	OpJumpIfTrueLong  Opcode = 0x94
	OpJumpIfFalseLong Opcode = 0x95
	OpSwitch          Opcode = 0x96 // extended: SWITCH <table:u32>

	// ========================================================================
	// Calls and returns (0xA0-0xAF)
	// ========================================================================

	OpCall         Opcode = 0xA0 // CALL <func:u16>
	OpCallNative   Opcode = 0xA1 // extended: CALL_NATIVE argc=ext result=op0 <native:u32>
	OpCallIndirect Opcode = 0xA2 // CALL_INDIRECT <argc:u8> <result:u8>
	OpReturn       Opcode = 0xA3
	OpReturnVoid   Opcode = 0xA4

	// ========================================================================
	// Memory (0xB0-0xBF)
	// ========================================================================

	OpAlloca      Opcode = 0xB0 // size -> ptr
	OpGEP         Opcode = 0xB1 // ptr off -> ptr
	OpLoadI8Mem   Opcode = 0xB2
	OpLoadI16Mem  Opcode = 0xB3
	OpLoadI32Mem  Opcode = 0xB4
	OpLoadI64Mem  Opcode = 0xB5
	OpLoadF64Mem  Opcode = 0xB6
	OpLoadPtrMem  Opcode = 0xB7
	OpStoreI8Mem  Opcode = 0xB8 // ptr v ->
	OpStoreI16Mem Opcode = 0xB9
	OpStoreI32Mem Opcode = 0xBA
	OpStoreI64Mem Opcode = 0xBB
	OpStoreF64Mem Opcode = 0xBC
	OpStorePtrMem Opcode = 0xBD

	// ========================================================================
	// Strings (0xC8-0xCF)
	// ========================================================================

	OpStrRetain  Opcode = 0xC8
	OpStrRelease Opcode = 0xC9

	// ========================================================================
	// Exceptions (0xD0-0xDF)
	// ========================================================================

	OpEhPush      Opcode = 0xD0 // EH_PUSH <off:i24>
	OpEhPop       Opcode = 0xD1
	OpEhEntry     Opcode = 0xD2 // handler head marker
	OpTrap        Opcode = 0xD3 // TRAP <kind:u8>
	OpTrapFromErr Opcode = 0xD4
	OpErrGetKind  Opcode = 0xD5
	OpErrGetCode  Opcode = 0xD6
	OpErrGetIP    Opcode = 0xD7
	OpErrGetLine  Opcode = 0xD8
	OpResumeSame  Opcode = 0xD9
	OpResumeNext  Opcode = 0xDA
	OpResumeLabel Opcode = 0xDB // RESUME_LABEL <off:i24>
)

// Format describes how the operand bits of an instruction word are used.
type Format uint8

const (
	FmtNone Format = iota // opcode only
	FmtA8                 // op0
	FmtI8                 // op0 as signed
	FmtA16                // bits 8-23 unsigned
	FmtI16                // bits 8-23 signed
	FmtI24                // bits 8-31 signed
	FmtA8A8               // op0, op1
	FmtExt                // two words: opcode ext op0 op1 | imm32
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string // Human-readable name
	StackPop  int    // How many values popped from stack (-1 = variable)
	StackPush int    // How many values pushed to stack (-1 = variable)
	Format Format
}

// opcodeInfoTable is indexed directly by opcode byte. Entries with an empty
// Name are unassigned.
var opcodeInfoTable = [256]OpcodeInfo{
	OpNop:  {"NOP", 0, 0, FmtNone},
	OpDup:  {"DUP", 1, 2, FmtNone},
	OpDup2: {"DUP2", 2, 4, FmtNone},
	OpPop:  {"POP", 1, 0, FmtNone},
	OpPop2: {"POP2", 2, 0, FmtNone},
	OpSwap: {"SWAP", 2, 2, FmtNone},
	OpRot3: {"ROT3", 3, 3, FmtNone},

	OpLoadLocal:   {"LOAD_LOCAL", 0, 1, FmtA8},
	OpStoreLocal:  {"STORE_LOCAL", 1, 0, FmtA8},
	OpLoadLocalW:  {"LOAD_LOCAL_W", 0, 1, FmtA16},
	OpStoreLocalW: {"STORE_LOCAL_W", 1, 0, FmtA16},
	OpIncLocal:    {"INC_LOCAL", 0, 0, FmtA8},
	OpDecLocal:    {"DEC_LOCAL", 0, 0, FmtA8},

	OpLoadI8:     {"LOAD_I8", 0, 1, FmtI8},
	OpLoadI16:    {"LOAD_I16", 0, 1, FmtI16},
	OpLoadI64:    {"LOAD_I64", 0, 1, FmtA16},
	OpLoadF64:    {"LOAD_F64", 0, 1, FmtA16},
	OpLoadStr:    {"LOAD_STR", 0, 1, FmtA16},
	OpLoadNull:   {"LOAD_NULL", 0, 1, FmtNone},
	OpLoadZero:   {"LOAD_ZERO", 0, 1, FmtNone},
	OpLoadOne:    {"LOAD_ONE", 0, 1, FmtNone},
	OpLoadGlobal: {"LOAD_GLOBAL", 0, 1, FmtA16},
	OpStoreGlob:  {"STORE_GLOBAL", 1, 0, FmtA16},
	OpLoadFunc:   {"LOAD_FUNC", 0, 1, FmtA16},
	OpLoadNative: {"LOAD_NATIVE", 0, 1, FmtA16},

	OpAddI64:  {"ADD_I64", 2, 1, FmtNone},
	OpSubI64:  {"SUB_I64", 2, 1, FmtNone},
	OpMulI64:  {"MUL_I64", 2, 1, FmtNone},
	OpSDivI64: {"SDIV_I64", 2, 1, FmtNone},
	OpUDivI64: {"UDIV_I64", 2, 1, FmtNone},
	OpSRemI64: {"SREM_I64", 2, 1, FmtNone},
	OpURemI64: {"UREM_I64", 2, 1, FmtNone},
	OpNegI64:  {"NEG_I64", 1, 1, FmtNone},

	OpAddI64Ovf:  {"ADD_I64_OVF", 2, 1, FmtNone},
	OpSubI64Ovf:  {"SUB_I64_OVF", 2, 1, FmtNone},
	OpMulI64Ovf:  {"MUL_I64_OVF", 2, 1, FmtNone},
	OpSDivI64Chk: {"SDIV_I64_CHK", 2, 1, FmtNone},
	OpUDivI64Chk: {"UDIV_I64_CHK", 2, 1, FmtNone},
	OpSRemI64Chk: {"SREM_I64_CHK", 2, 1, FmtNone},
	OpURemI64Chk: {"UREM_I64_CHK", 2, 1, FmtNone},
	OpIdxChk:     {"IDX_CHK", 3, 1, FmtNone},

	OpAddF64: {"ADD_F64", 2, 1, FmtNone},
	OpSubF64: {"SUB_F64", 2, 1, FmtNone},
	OpMulF64: {"MUL_F64", 2, 1, FmtNone},
	OpDivF64: {"DIV_F64", 2, 1, FmtNone},
	OpNegF64: {"NEG_F64", 1, 1, FmtNone},

	OpAnd:  {"AND", 2, 1, FmtNone},
	OpOr:   {"OR", 2, 1, FmtNone},
	OpXor:  {"XOR", 2, 1, FmtNone},
	OpNot:  {"NOT", 1, 1, FmtNone},
	OpShl:  {"SHL", 2, 1, FmtNone},
	OpLShr: {"LSHR", 2, 1, FmtNone},
	OpAShr: {"ASHR", 2, 1, FmtNone},

	OpCmpEqI64:  {"CMP_EQ_I64", 2, 1, FmtNone},
	OpCmpNeI64:  {"CMP_NE_I64", 2, 1, FmtNone},
	OpCmpSLtI64: {"CMP_SLT_I64", 2, 1, FmtNone},
	OpCmpSLeI64: {"CMP_SLE_I64", 2, 1, FmtNone},
	OpCmpSGtI64: {"CMP_SGT_I64", 2, 1, FmtNone},
	OpCmpSGeI64: {"CMP_SGE_I64", 2, 1, FmtNone},
	OpCmpULtI64: {"CMP_ULT_I64", 2, 1, FmtNone},
	OpCmpULeI64: {"CMP_ULE_I64", 2, 1, FmtNone},
	OpCmpUGtI64: {"CMP_UGT_I64", 2, 1, FmtNone},
	OpCmpUGeI64: {"CMP_UGE_I64", 2, 1, FmtNone},

	OpCmpEqF64: {"CMP_EQ_F64", 2, 1, FmtNone},
	OpCmpNeF64: {"CMP_NE_F64", 2, 1, FmtNone},
	OpCmpLtF64: {"CMP_LT_F64", 2, 1, FmtNone},
	OpCmpLeF64: {"CMP_LE_F64", 2, 1, FmtNone},
	OpCmpGtF64: {"CMP_GT_F64", 2, 1, FmtNone},
	OpCmpGeF64: {"CMP_GE_F64", 2, 1, FmtNone},

	OpI64ToF64:     {"I64_TO_F64", 1, 1, FmtNone},
	OpU64ToF64:     {"U64_TO_F64", 1, 1, FmtNone},
	OpF64ToI64:     {"F64_TO_I64", 1, 1, FmtNone},
	OpF64ToI64Chk:  {"F64_TO_I64_CHK", 1, 1, FmtNone},
	OpF64ToU64Chk:  {"F64_TO_U64_CHK", 1, 1, FmtNone},
	OpI64NarrowChk: {"I64_NARROW_CHK", 1, 1, FmtA8},
	OpU64NarrowChk: {"U64_NARROW_CHK", 1, 1, FmtA8},
	OpTrunc1:       {"TRUNC1", 1, 1, FmtNone},
	OpZext1:        {"ZEXT1", 1, 1, FmtNone},

	OpJump:            {"JUMP", 0, 0, FmtI16},
	OpJumpIfTrue:      {"JUMP_IF_TRUE", 1, 0, FmtI16},
	OpJumpIfFalse:     {"JUMP_IF_FALSE", 1, 0, FmtI16},
	OpJumpLong:        {"JUMP_LONG", 0, 0, FmtI24},
	OpJumpIfTrueLong:  {"JUMP_IF_TRUE_LONG", 1, 0, FmtI24},
	OpJumpIfFalseLong: {"JUMP_IF_FALSE_LONG", 1, 0, FmtI24},
	OpSwitch:          {"SWITCH", 1, 0, FmtExt},

	OpCall:         {"CALL", -1, -1, FmtA16},
	OpCallNative:   {"CALL_NATIVE", -1, -1, FmtExt},
	OpCallIndirect: {"CALL_INDIRECT", -1, -1, FmtA8A8},
	OpReturn:       {"RETURN", 1, 0, FmtNone},
	OpReturnVoid:   {"RETURN_VOID", 0, 0, FmtNone},

	OpAlloca:      {"ALLOCA", 1, 1, FmtNone},
	OpGEP:         {"GEP", 2, 1, FmtNone},
	OpLoadI8Mem:   {"LOAD_I8_MEM", 1, 1, FmtNone},
	OpLoadI16Mem:  {"LOAD_I16_MEM", 1, 1, FmtNone},
	OpLoadI32Mem:  {"LOAD_I32_MEM", 1, 1, FmtNone},
	OpLoadI64Mem:  {"LOAD_I64_MEM", 1, 1, FmtNone},
	OpLoadF64Mem:  {"LOAD_F64_MEM", 1, 1, FmtNone},
	OpLoadPtrMem:  {"LOAD_PTR_MEM", 1, 1, FmtNone},
	OpStoreI8Mem:  {"STORE_I8_MEM", 2, 0, FmtNone},
	OpStoreI16Mem: {"STORE_I16_MEM", 2, 0, FmtNone},
	OpStoreI32Mem: {"STORE_I32_MEM", 2, 0, FmtNone},
	OpStoreI64Mem: {"STORE_I64_MEM", 2, 0, FmtNone},
	OpStoreF64Mem: {"STORE_F64_MEM", 2, 0, FmtNone},
	OpStorePtrMem: {"STORE_PTR_MEM", 2, 0, FmtNone},

	OpStrRetain:  {"STR_RETAIN", 1, 0, FmtNone},
	OpStrRelease: {"STR_RELEASE", 1, 0, FmtNone},

	OpEhPush:      {"EH_PUSH", 0, 0, FmtI24},
	OpEhPop:       {"EH_POP", 0, 0, FmtNone},
	OpEhEntry:     {"EH_ENTRY", 0, 0, FmtNone},
	OpTrap:        {"TRAP", 0, 0, FmtA8},
	OpTrapFromErr: {"TRAP_FROM_ERR", 1, 0, FmtNone},
	OpErrGetKind:  {"ERR_GET_KIND", 1, 1, FmtNone},
	OpErrGetCode:  {"ERR_GET_CODE", 1, 1, FmtNone},
	OpErrGetIP:    {"ERR_GET_IP", 1, 1, FmtNone},
	OpErrGetLine:  {"ERR_GET_LINE", 1, 1, FmtNone},
	OpResumeSame:  {"RESUME_SAME", 1, 0, FmtNone},
	OpResumeNext:  {"RESUME_NEXT", 1, 0, FmtNone},
	OpResumeLabel: {"RESUME_LABEL", 1, 0, FmtI24},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns an OpcodeInfo named "UNKNOWN(0x..)" if the opcode is not assigned.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info := opcodeInfoTable[op]; info.Name != "" {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Valid reports whether op is an assigned opcode.
func (op Opcode) Valid() bool { return opcodeInfoTable[op].Name != "" }

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Format returns the operand layout of op.
func (op Opcode) Format() Format { return opcodeInfoTable[op].Format }

// Width returns the instruction length in 32-bit words.
func (op Opcode) Width() int {
	if opcodeInfoTable[op].Format == FmtExt {
		return 2
	}
	return 1
}

// IsJump reports whether op transfers control with a pc-relative offset.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfFalseLong
}

// IsTerminal reports whether control never falls through op.
func (op Opcode) IsTerminal() bool {
	switch op {
	case OpJump, OpJumpLong, OpSwitch, OpReturn, OpReturnVoid, OpTrap,
		OpTrapFromErr, OpResumeSame, OpResumeNext, OpResumeLabel:
		return true
	}
	return false
}

// MayTrap reports whether executing op can raise a trap.
func (op Opcode) MayTrap() bool {
	switch {
	case op >= OpAddI64Ovf && op <= OpIdxChk,
		op >= OpF64ToI64Chk && op <= OpU64NarrowChk,
		op >= OpAlloca && op <= OpStorePtrMem,
		op >= OpCall && op <= OpCallIndirect,
		op == OpStrRetain, op == OpStrRelease, op == OpTrap, op == OpTrapFromErr:
		return true
	}
	return false
}

// LongForm returns the 24-bit variant of a narrow jump, or op unchanged.
func (op Opcode) LongForm() Opcode {
	switch op {
	case OpJump:
		return OpJumpLong
	case OpJumpIfTrue:
		return OpJumpIfTrueLong
	case OpJumpIfFalse:
		return OpJumpIfFalseLong
	}
	return op
}

// AllOpcodes returns every assigned opcode in numeric order.
func AllOpcodes() []Opcode {
	var ops []Opcode
	for i := range opcodeInfoTable {
		if opcodeInfoTable[i].Name != "" {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(AllOpcodes())
}

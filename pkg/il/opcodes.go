package il

// Opcode names an IL operation.
type Opcode string

const (
	// Integer arithmetic (wrapping)
	OpAdd  Opcode = "add"
	OpSub  Opcode = "sub"
	OpMul  Opcode = "mul"
	OpSDiv Opcode = "sdiv"
	OpUDiv Opcode = "udiv"
	OpSRem Opcode = "srem"
	OpURem Opcode = "urem"
	OpNeg  Opcode = "neg"

	// Checked integer arithmetic
	OpIAddOvf  Opcode = "iadd.ovf"
	OpISubOvf  Opcode = "isub.ovf"
	OpIMulOvf  Opcode = "imul.ovf"
	OpSDivChk0 Opcode = "sdiv.chk0"
	OpUDivChk0 Opcode = "udiv.chk0"
	OpSRemChk0 Opcode = "srem.chk0"
	OpURemChk0 Opcode = "urem.chk0"
	OpIdxChk   Opcode = "idx.chk"

	// Floating point
	OpFAdd Opcode = "fadd"
	OpFSub Opcode = "fsub"
	OpFMul Opcode = "fmul"
	OpFDiv Opcode = "fdiv"
	OpFNeg Opcode = "fneg"

	// Bitwise
	OpAnd  Opcode = "and"
	OpOr   Opcode = "or"
	OpXor  Opcode = "xor"
	OpNot  Opcode = "not"
	OpShl  Opcode = "shl"
	OpLShr Opcode = "lshr"
	OpAShr Opcode = "ashr"

	// Comparisons produce i1
	OpICmpEq Opcode = "icmp_eq"
	OpICmpNe Opcode = "icmp_ne"
	OpSCmpLT Opcode = "scmp_lt"
	OpSCmpLE Opcode = "scmp_le"
	OpSCmpGT Opcode = "scmp_gt"
	OpSCmpGE Opcode = "scmp_ge"
	OpUCmpLT Opcode = "ucmp_lt"
	OpUCmpLE Opcode = "ucmp_le"
	OpUCmpGT Opcode = "ucmp_gt"
	OpUCmpGE Opcode = "ucmp_ge"
	OpFCmpEQ Opcode = "fcmp_eq"
	OpFCmpNE Opcode = "fcmp_ne"
	OpFCmpLT Opcode = "fcmp_lt"
	OpFCmpLE Opcode = "fcmp_le"
	OpFCmpGT Opcode = "fcmp_gt"
	OpFCmpGE Opcode = "fcmp_ge"

	// Conversions
	OpSIToFP        Opcode = "sitofp"
	OpUIToFP        Opcode = "uitofp"
	OpFPToSI        Opcode = "fptosi"
	OpCastFPToSIChk Opcode = "cast.fp_to_si.rte.chk"
	OpCastFPToUIChk Opcode = "cast.fp_to_ui.rte.chk"
	OpCastSINarrow  Opcode = "cast.si_narrow.chk"
	OpCastUINarrow  Opcode = "cast.ui_narrow.chk"
	OpZext1         Opcode = "zext1"
	OpTrunc1        Opcode = "trunc1"

	// Memory
	OpAlloca Opcode = "alloca"
	OpGEP    Opcode = "gep"
	OpLoad   Opcode = "load"
	OpStore  Opcode = "store"
	OpGLoad  Opcode = "gload"
	OpGStore Opcode = "gstore"

	// Strings
	OpStrRetain  Opcode = "str.retain"
	OpStrRelease Opcode = "str.release"

	// Calls
	OpCall         Opcode = "call"
	OpCallIndirect Opcode = "call.indirect"

	// Control flow
	OpBr     Opcode = "br"
	OpCBr    Opcode = "cbr"
	OpSwitch Opcode = "switch.i32"
	OpRet    Opcode = "ret"

	// Traps and handlers
	OpTrap        Opcode = "trap"
	OpTrapFromErr Opcode = "trap.from_err"
	OpEhPush      Opcode = "eh.push"
	OpEhPop       Opcode = "eh.pop"
	OpEhEntry     Opcode = "eh.entry"
	OpResumeSame  Opcode = "resume.same"
	OpResumeNext  Opcode = "resume.next"
	OpResumeLabel Opcode = "resume.label"
	OpErrGetKind  Opcode = "err.get_kind"
	OpErrGetCode  Opcode = "err.get_code"
	OpErrGetIP    Opcode = "err.get_ip"
	OpErrGetLine  Opcode = "err.get_line"
)

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpBr, OpCBr, OpSwitch, OpRet, OpTrap, OpTrapFromErr,
		OpResumeSame, OpResumeNext, OpResumeLabel:
		return true
	}
	return false
}

// MayTrap reports whether executing op can raise a trap. Calls count as
// trapping because the callee may fault.
func (op Opcode) MayTrap() bool {
	switch op {
	case OpIAddOvf, OpISubOvf, OpIMulOvf,
		OpSDivChk0, OpUDivChk0, OpSRemChk0, OpURemChk0, OpIdxChk,
		OpCastFPToSIChk, OpCastFPToUIChk, OpCastSINarrow, OpCastUINarrow,
		OpAlloca, OpLoad, OpStore, OpStrRetain, OpStrRelease,
		OpCall, OpCallIndirect:
		return true
	}
	return false
}

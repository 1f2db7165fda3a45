package bytecode

// Instruction words are little-endian bit fields:
//
//	bits  0-7   opcode
//	bits  8-15  op0
//	bits 16-23  op1
//	bits 24-31  op2
//
// A 16-bit argument occupies bits 8-23 and a 24-bit argument bits 8-31.
// Extended instructions use a second word holding a 32-bit immediate; the
// first word carries opcode, ext, op0 and op1. Whether a word starts an
// extended instruction is a property of its opcode byte alone.

// Encode packs an opcode with three 8-bit operands.
func Encode(op Opcode, a, b, c uint8) uint32 {
	return uint32(op) | uint32(a)<<8 | uint32(b)<<16 | uint32(c)<<24
}

// Encode16 packs an opcode with a 16-bit argument and an optional 8-bit op2.
func Encode16(op Opcode, arg uint16, c uint8) uint32 {
	return uint32(op) | uint32(arg)<<8 | uint32(c)<<24
}

// EncodeI16 packs an opcode with a signed 16-bit argument.
func EncodeI16(op Opcode, arg int16) uint32 {
	return uint32(op) | uint32(uint16(arg))<<8
}

// EncodeI24 packs an opcode with a signed 24-bit argument. The caller
// guarantees arg fits.
func EncodeI24(op Opcode, arg int32) uint32 {
	return uint32(op) | (uint32(arg)&0xFFFFFF)<<8
}

// EncodeExtended packs a two-word instruction.
func EncodeExtended(op Opcode, ext, a, b uint8, imm uint32) (uint32, uint32) {
	return Encode(op, ext, a, b), imm
}

// Decode splits a word into opcode and three 8-bit operands.
func Decode(w uint32) (op Opcode, a, b, c uint8) {
	return Opcode(w), uint8(w >> 8), uint8(w >> 16), uint8(w >> 24)
}

// DecodeExtended splits an extended instruction.
func DecodeExtended(w0, w1 uint32) (op Opcode, ext, a, b uint8, imm uint32) {
	return Opcode(w0), uint8(w0 >> 8), uint8(w0 >> 16), uint8(w0 >> 24), w1
}

// OpOf returns the opcode byte of w.
func OpOf(w uint32) Opcode { return Opcode(w) }

// Arg8 returns op0.
func Arg8(w uint32) uint8 { return uint8(w >> 8) }

// ArgI8 returns op0 as a signed value.
func ArgI8(w uint32) int8 { return int8(w >> 8) }

// Arg16 returns bits 8-23.
func Arg16(w uint32) uint16 { return uint16(w >> 8) }

// ArgI16 returns bits 8-23 as a signed value.
func ArgI16(w uint32) int16 { return int16(w >> 8) }

// ArgI24 returns bits 8-31 sign-extended.
func ArgI24(w uint32) int32 { return int32(w) >> 8 }

// Op2 returns bits 24-31.
func Op2(w uint32) uint8 { return uint8(w >> 24) }

// FitsI16 reports whether v is representable as a narrow offset.
func FitsI16(v int) bool { return v >= -1<<15 && v < 1<<15 }

// FitsI24 reports whether v is representable as a wide offset.
func FitsI24(v int) bool { return v >= -1<<23 && v < 1<<23 }

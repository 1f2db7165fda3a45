// Package bytecode defines the instruction set and compiled-module format
// executed by the interpreter in package vm.
//
// The format is designed for:
//   - Fixed-width decoding (one 32-bit word, or two for extended forms)
//   - Exact static stack effects per opcode
//   - Deterministic serialization (canonical CBOR behind a magic/version header)
//
// # Architecture Overview
//
//   - Opcodes: one byte, grouped by numeric range (stack, locals, constants,
//     integer and checked arithmetic, floats, bitwise, comparisons,
//     conversions, control flow, calls, memory, strings, exceptions).
//
//   - Module: constant pools shared by every function, native references,
//     globals and compiled functions. A module is frozen after compilation
//     and shared read-only by concurrent interpreters.
//
//   - Function: linear code plus exception ranges, switch tables, resume
//     points and optional debug tables (lines, static stack depth, local
//     names).
//
// # Word Layout
//
//	bits  0-7   opcode
//	bits  8-15  op0   (or low byte of a 16/24-bit argument)
//	bits 16-23  op1
//	bits 24-31  op2
//
// Branch offsets are relative to the instruction that follows the branch.
//
// # Persisted Form
//
//	"VBCM" | version (uint32, big-endian) | CBOR body
//
// Unmarshal rejects any version it does not understand.
package bytecode

// Package vm implements the bytecode virtual machine.
//
// This package contains:
//   - Untagged 64-bit slot representation and tagged pointers
//   - Table-driven and switch-based dispatch engines
//   - Trap dispatch, handler stack and resume tokens
//   - Alloca storage and the runtime memory interface
//   - The native-call bridge with call-site inline caches
//   - Tracing, profiling and a stepping debugger
package vm

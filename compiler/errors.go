package compiler

import (
	"errors"
	"fmt"
)

// Compile failures signal input the upstream verifier should have rejected.
// They abort compilation and are never patched over.
var (
	ErrUnresolvedTarget = errors.New("unresolved branch target")
	ErrUnknownCallee    = errors.New("unknown callee")
	ErrMalformedInstr   = errors.New("malformed instruction")
	ErrLimit            = errors.New("encoding limit exceeded")
)

// Error locates a compile failure. It wraps one of the sentinel errors
// above so callers can use errors.Is.
type Error struct {
	Func   string
	Block  string
	Instr  int // index within the block, -1 if not instruction-specific
	Err    error
	Detail string
}

func (e *Error) Error() string {
	loc := e.Func
	if e.Block != "" {
		loc += ":" + e.Block
	}
	if e.Instr >= 0 {
		loc += fmt.Sprintf("#%d", e.Instr)
	}
	if e.Detail == "" {
		return fmt.Sprintf("compile %s: %v", loc, e.Err)
	}
	return fmt.Sprintf("compile %s: %v: %s", loc, e.Err, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

package vm

import (
	"errors"
	"fmt"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

var (
	// ErrNoFunction is returned when the entry function does not exist.
	ErrNoFunction = errors.New("vm: no such function")

	// ErrArgCount is returned when Execute receives the wrong number of
	// arguments for the entry function.
	ErrArgCount = errors.New("vm: argument count mismatch")

	// ErrBusy is returned when an instance is asked to start while a
	// stepping session is still in progress.
	ErrBusy = errors.New("vm: interpreter is busy")

	// ErrPaused is returned by Execute when a breakpoint stopped the run.
	// The session continues with Continue or SingleStep.
	ErrPaused = errors.New("vm: execution paused at a breakpoint")

	// ErrNotStarted is returned by stepping calls without a session.
	ErrNotStarted = errors.New("vm: no execution in progress")

	// ErrResumeTokenReused marks a second resume through the same token.
	ErrResumeTokenReused = errors.New("vm: resume token already consumed")

	// ErrStackDepth marks an operand stack that disagrees with the depth
	// the compiler recorded.
	ErrStackDepth = errors.New("vm: operand stack depth mismatch")

	// ErrCorruptCode marks a host fault raised while executing malformed
	// bytecode.
	ErrCorruptCode = errors.New("vm: corrupt bytecode")
)

// TrapError describes a trap no handler caught. It is returned only after
// every frame has been unwound.
type TrapError struct {
	Kind    bc.TrapKind
	Func    string
	PC      int
	Line    int
	Message string
}

func (e *TrapError) Error() string {
	loc := fmt.Sprintf("%s pc %d", e.Func, e.PC)
	if e.Line > 0 {
		loc += fmt.Sprintf(" line %d", e.Line)
	}
	if e.Message == "" {
		return fmt.Sprintf("trap %s at %s", e.Kind, loc)
	}
	return fmt.Sprintf("trap %s at %s: %s", e.Kind, loc, e.Message)
}

// AsTrap unwraps err to a *TrapError.
func AsTrap(err error) (*TrapError, bool) {
	var te *TrapError
	ok := errors.As(err, &te)
	return te, ok
}

// AssertionError reports a broken interpreter invariant detected while
// Options.Debug is set, or a host fault caused by malformed bytecode.
type AssertionError struct {
	Func   string
	PC     int
	Err    error
	Detail string
}

func (e *AssertionError) Error() string {
	msg := fmt.Sprintf("assertion failed in %s at pc %d: %v", e.Func, e.PC, e.Err)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *AssertionError) Unwrap() error { return e.Err }

// Trap is the error a native returns to raise a specific trap kind.
// Any other error from a native becomes a RuntimeError trap.
type Trap struct {
	Kind    bc.TrapKind
	Message string
}

func (t *Trap) Error() string {
	if t.Message == "" {
		return t.Kind.String()
	}
	return t.Kind.String() + ": " + t.Message
}

// NewTrap returns an error that raises kind when returned from a native.
func NewTrap(kind bc.TrapKind, format string, args ...interface{}) error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Trap{Kind: kind, Message: msg}
}

// trapOf classifies an error returned across the native bridge.
func trapOf(err error) (bc.TrapKind, string) {
	var t *Trap
	if errors.As(err, &t) {
		return t.Kind, t.Message
	}
	if te, ok := AsTrap(err); ok {
		return te.Kind, te.Error()
	}
	return bc.TrapRuntimeError, err.Error()
}

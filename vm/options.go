package vm

import "fmt"

// Engine selects a dispatch loop. Both engines are observably identical.
type Engine uint8

const (
	// EngineTable dispatches through a [256]opFunc table.
	EngineTable Engine = iota
	// EngineSwitch decodes common opcodes in one switch statement.
	EngineSwitch
)

func (e Engine) String() string {
	switch e {
	case EngineTable:
		return "table"
	case EngineSwitch:
		return "switch"
	}
	return fmt.Sprintf("Engine(%d)", uint8(e))
}

// ParseEngine maps "table" or "switch" to an Engine.
func ParseEngine(s string) (Engine, error) {
	switch s {
	case "table", "":
		return EngineTable, nil
	case "switch":
		return EngineSwitch, nil
	}
	return EngineTable, fmt.Errorf("vm: unknown engine %q", s)
}

// Options configures an Interpreter.
type Options struct {
	Engine Engine

	// MaxCallDepth bounds the number of live frames.
	MaxCallDepth int
	// StackSlots is the size of the value stack shared by all frames.
	StackSlots int
	// AllocaLimit bounds the alloca buffer in bytes.
	AllocaLimit int

	// Debug enables interpreter assertions: operand-stack depth against
	// the compiler's depth table, handler stack balance and resume token
	// reuse.
	Debug bool

	// NativeFastPath lets hot call sites invoke a native's Fast entry.
	NativeFastPath bool

	Runtime  Runtime
	Natives  *NativeRegistry
	Profiler *Profiler
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Engine:         EngineTable,
		MaxCallDepth:   4096,
		StackSlots:     1 << 16,
		AllocaLimit:    1 << 20,
		NativeFastPath: true,
	}
}

// Option mutates Options.
type Option func(*Options)

func WithEngine(e Engine) Option { return func(o *Options) { o.Engine = e } }

func WithMaxCallDepth(n int) Option { return func(o *Options) { o.MaxCallDepth = n } }

func WithStackSlots(n int) Option { return func(o *Options) { o.StackSlots = n } }

func WithAllocaLimit(n int) Option { return func(o *Options) { o.AllocaLimit = n } }

func WithDebug(on bool) Option { return func(o *Options) { o.Debug = on } }

func WithNativeFastPath(on bool) Option { return func(o *Options) { o.NativeFastPath = on } }

// WithRuntime attaches the runtime that owns heap regions and strings.
func WithRuntime(rt Runtime) Option { return func(o *Options) { o.Runtime = rt } }

// WithNatives attaches the registry CALL_NATIVE resolves against.
func WithNatives(r *NativeRegistry) Option { return func(o *Options) { o.Natives = r } }

// WithProfiler attaches a profiler. A profiler may be shared by several
// instances.
func WithProfiler(p *Profiler) Option { return func(o *Options) { o.Profiler = p } }

// WithOptions replaces all options at once.
func WithOptions(opts Options) Option { return func(o *Options) { *o = opts } }

package vm

import (
	"context"
	"fmt"
	"sync"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Debugger: breakpoints, line watches and stepping
// ---------------------------------------------------------------------------

// TraceEvent is delivered once per dispatched instruction, before it runs.
type TraceEvent struct {
	Func  string
	PC    int
	Op    bc.Opcode
	Line  int
	Depth int // operand stack depth of the frame
}

// SetTrace installs fn as the trace hook; nil removes it.
func (i *Interpreter) SetTrace(fn func(TraceEvent)) {
	i.trace = fn
	i.refreshHooks()
}

// StepResult reports why a stepping call returned.
type StepResult uint8

const (
	// StepContinue: the requested instructions ran and more remain.
	StepContinue StepResult = iota
	// StepBreak: execution stopped at a breakpoint, watch or step target.
	StepBreak
	// StepDone: the run finished, normally or with an unhandled trap.
	StepDone
)

func (r StepResult) String() string {
	switch r {
	case StepContinue:
		return "continue"
	case StepBreak:
		return "break"
	case StepDone:
		return "done"
	}
	return fmt.Sprintf("StepResult(%d)", uint8(r))
}

// StepMode indicates the current stepping mode.
type StepMode int

const (
	StepNone StepMode = iota
	StepOver
	StepInto
	StepOut
)

// DebugEvent records why the debugger stopped or what it observed.
type DebugEvent struct {
	Type     string // "breakpointHit", "watch", "step", "trap"
	Reason   string
	Location SourceLocation
}

// SourceLocation is a position in a running program.
type SourceLocation struct {
	Func string
	PC   int
	Line int
}

// StackFrame describes one live frame, innermost first.
type StackFrame struct {
	ID   int
	Func string
	PC   int
	Line int
}

// Variable is a local slot rendered for inspection.
type Variable struct {
	Name  string
	Slot  int
	Value string
}

// Breakpoint is a (function, pc) stop.
type Breakpoint struct {
	Func   string
	PC     int
	Active bool
}

type breakpointKey struct {
	fn *bc.Function
	pc int
}

type lineKey struct {
	fn   *bc.Function
	line int
}

// Debugger holds the stop conditions of one instance. Its mutators may be
// called from other goroutines; the checks run on the interpreter's.
type Debugger struct {
	mu          sync.Mutex
	breakpoints map[breakpointKey]bool
	watches     map[lineKey]bool

	stepMode  StepMode
	stepFrame int
	stepLine  int

	lastFn    *bc.Function
	lastLine  int
	lastFrame int

	events []DebugEvent
}

func newDebugger() *Debugger {
	return &Debugger{
		breakpoints: make(map[breakpointKey]bool),
		watches:     make(map[lineKey]bool),
		lastFrame:   -1,
	}
}

// Debugger returns the instance's debugger, attaching one on first use.
func (i *Interpreter) Debugger() *Debugger {
	if i.dbg == nil {
		i.dbg = newDebugger()
		i.refreshHooks()
	}
	return i.dbg
}

func (i *Interpreter) function(name string) (*bc.Function, error) {
	fn := i.mod.Function(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoFunction, name)
	}
	return fn, nil
}

// SetBreakpoint stops execution before the instruction at pc of fn.
func (i *Interpreter) SetBreakpoint(fn string, pc int) error {
	f, err := i.function(fn)
	if err != nil {
		return err
	}
	if pc < 0 || pc >= len(f.Code) {
		return fmt.Errorf("vm: pc %d outside %s (%d words)", pc, fn, len(f.Code))
	}
	d := i.Debugger()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[breakpointKey{f, pc}] = true
	return nil
}

// ClearBreakpoint removes a breakpoint.
func (i *Interpreter) ClearBreakpoint(fn string, pc int) {
	f := i.mod.Function(fn)
	if f == nil || i.dbg == nil {
		return
	}
	i.dbg.mu.Lock()
	defer i.dbg.mu.Unlock()
	delete(i.dbg.breakpoints, breakpointKey{f, pc})
}

// WatchLine stops execution whenever fn enters source line line.
func (i *Interpreter) WatchLine(fn string, line int) error {
	f, err := i.function(fn)
	if err != nil {
		return err
	}
	if f.Debug == nil {
		return fmt.Errorf("vm: %s has no line table", fn)
	}
	d := i.Debugger()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.watches[lineKey{f, line}] = true
	return nil
}

// Breakpoints lists the installed breakpoints.
func (d *Debugger) Breakpoints() []Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Breakpoint, 0, len(d.breakpoints))
	for k, active := range d.breakpoints {
		out = append(out, Breakpoint{Func: k.fn.Name, PC: k.pc, Active: active})
	}
	return out
}

// Events returns the events recorded so far and clears the log.
func (d *Debugger) Events() []DebugEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	ev := d.events
	d.events = nil
	return ev
}

// SetStepMode arms a line-level step relative to the given position.
func (d *Debugger) SetStepMode(mode StepMode, frame, line int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stepMode = mode
	d.stepFrame = frame
	d.stepLine = line
}

func (d *Debugger) record(ev DebugEvent) {
	d.events = append(d.events, ev)
}

// shouldBreak is called before every instruction while a debugger is
// attached.
func (d *Debugger) shouldBreak(fn *bc.Function, pc, frame int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := int(fn.Line(pc))
	entered := fn != d.lastFn || line != d.lastLine || frame != d.lastFrame
	d.lastFn, d.lastLine, d.lastFrame = fn, line, frame
	loc := SourceLocation{Func: fn.Name, PC: pc, Line: line}

	if d.breakpoints[breakpointKey{fn, pc}] {
		d.record(DebugEvent{Type: "breakpointHit", Reason: "breakpoint", Location: loc})
		return true
	}
	if entered && line > 0 && d.watches[lineKey{fn, line}] {
		d.record(DebugEvent{Type: "watch", Reason: fmt.Sprintf("line %d", line), Location: loc})
		return true
	}

	hit := false
	switch d.stepMode {
	case StepInto:
		hit = entered && line > 0 && line != d.stepLine
	case StepOver:
		hit = frame <= d.stepFrame && line > 0 && line != d.stepLine
	case StepOut:
		hit = frame < d.stepFrame
	}
	if hit {
		d.stepMode = StepNone
		d.record(DebugEvent{Type: "step", Reason: "step", Location: loc})
	}
	return hit
}

func (d *Debugger) notifyTrap(kind bc.TrapKind, msg string, loc SourceLocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(DebugEvent{Type: "trap", Reason: kind.String() + ": " + msg, Location: loc})
}

// ---------------------------------------------------------------------------
// Stepping sessions
// ---------------------------------------------------------------------------

// Start prepares a run of entry without executing anything. Drive it with
// Continue and SingleStep.
func (i *Interpreter) Start(entry string, args ...Slot) error {
	return i.StartContext(context.Background(), entry, args...)
}

// StartContext is Start with a context handed to natives.
func (i *Interpreter) StartContext(ctx context.Context, entry string, args ...Slot) error {
	if err := i.begin(ctx, entry, args); err != nil {
		return err
	}
	i.Debugger()
	i.skipBreak = false
	return nil
}

// Continue runs until a stop condition or the end of the run.
func (i *Interpreter) Continue() (StepResult, error) {
	if !i.started {
		return StepDone, ErrNotStarted
	}
	i.skipBreak = i.paused
	i.budget = -1
	return i.step()
}

// SingleStep executes exactly one instruction.
func (i *Interpreter) SingleStep() (StepResult, error) {
	if !i.started {
		return StepDone, ErrNotStarted
	}
	i.skipBreak = true
	i.budget = 1
	return i.step()
}

// StepLine runs until another source line starts, following calls when
// mode is StepInto.
func (i *Interpreter) StepLine(mode StepMode) (StepResult, error) {
	if !i.started {
		return StepDone, ErrNotStarted
	}
	loc := i.Location()
	i.Debugger().SetStepMode(mode, len(i.frames)-1, loc.Line)
	return i.Continue()
}

func (i *Interpreter) step() (StepResult, error) {
	i.refreshHooks()
	err := i.dispatch()
	i.budget = -1
	i.refreshHooks()
	if err != nil {
		return StepDone, err
	}
	if i.state == StateHalted {
		_, err := i.finish()
		return StepDone, err
	}
	if i.breakHit {
		return StepBreak, nil
	}
	return StepContinue, nil
}

// Result returns the outcome of the last completed run.
func (i *Interpreter) Result() Result { return i.result }

// Location returns the position of the next instruction to execute.
func (i *Interpreter) Location() SourceLocation {
	if i.fn == nil {
		return SourceLocation{}
	}
	return SourceLocation{Func: i.fn.Name, PC: i.pc, Line: int(i.fn.Line(i.pc))}
}

// CallStack returns the live frames, innermost first.
func (i *Interpreter) CallStack() []StackFrame {
	out := make([]StackFrame, 0, len(i.frames))
	for n := len(i.frames) - 1; n >= 0; n-- {
		f := &i.frames[n]
		pc := f.pc
		if n == len(i.frames)-1 {
			pc = i.pc
		}
		out = append(out, StackFrame{ID: n, Func: f.fn.Name, PC: pc, Line: int(f.fn.Line(pc))})
	}
	return out
}

// Locals renders the local slots of frame id as integers.
func (i *Interpreter) Locals(id int) []Variable {
	if id < 0 || id >= len(i.frames) {
		return nil
	}
	f := &i.frames[id]
	var names []string
	if f.fn.Debug != nil {
		names = f.fn.Debug.LocalNames
	}
	vars := make([]Variable, 0, f.fn.NumLocals)
	for k := 0; k < int(f.fn.NumLocals); k++ {
		name := fmt.Sprintf("%%%d", k)
		if k < len(names) && names[k] != "" {
			name = names[k]
		}
		vars = append(vars, Variable{Name: name, Slot: k, Value: FormatSlot(KindI64, i.stack[f.base+k])})
	}
	return vars
}

package vm

import (
	"context"
	"fmt"
	"runtime"

	"github.com/tliron/commonlog"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

var log = commonlog.GetLogger("bcvm.vm")

// State is the execution state of an instance.
type State uint8

const (
	StateRunning State = iota
	StateTrapped
	StateHandling
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateTrapped:
		return "trapped"
	case StateHandling:
		return "handling"
	case StateHalted:
		return "halted"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Result is the outcome of a completed execution.
type Result struct {
	Value    Slot
	HasValue bool
}

// frame is one activation record. Locals occupy stack[base:stackBase];
// the operand stack of the frame starts at stackBase.
type frame struct {
	fn         *bc.Function
	fnIdx      int
	pc         int // saved while a callee runs
	base       int
	stackBase  int
	ehDepth    int
	allocaBase int
	callSitePC int // pc of the call instruction in the caller, or -1
}

// Interpreter executes one thread of a compiled module. An instance is not
// safe for concurrent use; run one instance per goroutine and share the
// module.
type Interpreter struct {
	mod     *bc.Module
	opts    Options
	rt      Runtime
	natives *NativeRegistry
	prof    *Profiler
	ctx     context.Context

	stack []Slot
	sp    int

	frames []frame
	// Cached view of the top frame.
	fn        *bc.Function
	fnIdx     int
	code      []uint32
	base      int
	stackBase int
	pc        int
	ipc       int // start of the instruction being executed

	globals []Slot
	strs    []Slot
	strDone []bool

	alloca    []byte
	allocaTop int

	handlers  []handler
	tokens    map[uint64]*resumeToken
	nextToken uint64
	nextSeq   uint64

	caches []*InlineCacheTable

	state     State
	stop      bool
	paused    bool
	breakHit  bool
	started   bool
	result    Result
	failure   *TrapError
	hooks     bool
	budget    int
	skipBreak bool
	trace     func(TraceEvent)
	dbg       *Debugger
}

// New creates an instance for mod. The module is frozen if it was not
// already; it is never modified afterwards.
func New(mod *bc.Module, opts ...Option) *Interpreter {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	mod.Freeze()
	i := &Interpreter{
		mod:     mod,
		opts:    o,
		rt:      o.Runtime,
		natives: o.Natives,
		prof:    o.Profiler,
		ctx:     context.Background(),
		stack:   make([]Slot, o.StackSlots),
		strs:    make([]Slot, len(mod.StrPool)),
		strDone: make([]bool, len(mod.StrPool)),
		tokens:  make(map[uint64]*resumeToken),
		caches:  make([]*InlineCacheTable, len(mod.Functions)),
		state:   StateHalted,
		budget:  -1,
	}
	if i.rt == nil {
		i.rt = newStringRuntime()
	}
	if i.natives == nil {
		i.natives = NewNativeRegistry()
	}
	i.initGlobals()
	i.refreshHooks()
	return i
}

func (i *Interpreter) initGlobals() {
	i.globals = make([]Slot, len(i.mod.Globals))
	for k, g := range i.mod.Globals {
		switch g.Init {
		case bc.InitInt:
			i.globals[k] = I64(g.Int)
		case bc.InitFloat:
			i.globals[k] = F64(g.Float)
		case bc.InitStr:
			i.globals[k] = i.str(int(g.Str))
		}
	}
}

// str returns the interned handle of string pool entry idx.
func (i *Interpreter) str(idx int) Slot {
	if !i.strDone[idx] {
		i.strs[idx] = i.rt.Intern(i.mod.StrPool[idx])
		i.strDone[idx] = true
	}
	return i.strs[idx]
}

// Module returns the module the instance runs.
func (i *Interpreter) Module() *bc.Module { return i.mod }

// Options returns the options the instance was created with.
func (i *Interpreter) Options() Options { return i.opts }

// Runtime returns the runtime serving heap regions.
func (i *Interpreter) Runtime() Runtime { return i.rt }

// Natives returns the registry CALL_NATIVE resolves against.
func (i *Interpreter) Natives() *NativeRegistry { return i.natives }

// State returns the current execution state.
func (i *Interpreter) State() State { return i.state }

// Global returns the current value of global idx.
func (i *Interpreter) Global(idx int) Slot { return i.globals[idx] }

// FunctionPointer returns the tagged pointer to the named function.
func (i *Interpreter) FunctionPointer(name string) (Slot, bool) {
	idx := i.mod.FunctionIndex(name)
	if idx < 0 {
		return 0, false
	}
	return FuncPointer(idx), true
}

// Execute runs entry to completion. An unhandled trap is returned as a
// *TrapError once every frame has been unwound.
func (i *Interpreter) Execute(entry string, args ...Slot) (Result, error) {
	return i.ExecuteContext(context.Background(), entry, args...)
}

// ExecuteContext is Execute with a context handed to natives. The
// interpreter itself never polls ctx.
func (i *Interpreter) ExecuteContext(ctx context.Context, entry string, args ...Slot) (Result, error) {
	if err := i.begin(ctx, entry, args); err != nil {
		return Result{}, err
	}
	i.budget = -1
	i.refreshHooks()
	if err := i.dispatch(); err != nil {
		return Result{}, err
	}
	if i.paused {
		return Result{}, ErrPaused
	}
	return i.finish()
}

// begin resets per-run state and pushes the entry frame.
func (i *Interpreter) begin(ctx context.Context, entry string, args []Slot) error {
	if i.started && i.state != StateHalted {
		return ErrBusy
	}
	idx := i.mod.FunctionIndex(entry)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrNoFunction, entry)
	}
	fn := i.mod.Functions[idx]
	if len(args) != int(fn.NumParams) {
		return fmt.Errorf("%w: %s takes %d, got %d", ErrArgCount, entry, fn.NumParams, len(args))
	}
	if len(args) > len(i.stack) {
		return fmt.Errorf("%w: %d arguments exceed the value stack", ErrArgCount, len(args))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log.Debugf("execute %s (%d args, engine %s)", entry, len(args), i.opts.Engine)

	i.ctx = ctx
	i.sp = copy(i.stack, args)
	i.frames = i.frames[:0]
	i.handlers = i.handlers[:0]
	for id := range i.tokens {
		delete(i.tokens, id)
	}
	i.allocaTop = 0
	i.result = Result{}
	i.failure = nil
	i.started = true
	i.stop = false
	i.paused = false
	i.fn, i.fnIdx, i.code = nil, -1, nil
	i.ipc = -1
	i.state = StateRunning
	i.call(idx)
	return nil
}

func (i *Interpreter) finish() (Result, error) {
	i.started = false
	if i.failure != nil {
		return Result{}, i.failure
	}
	return i.result, nil
}

// dispatch runs the configured engine until the instance halts or pauses.
// Internal assertion panics and host faults from malformed code come back
// as *AssertionError.
func (i *Interpreter) dispatch() (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ae, ok := r.(*AssertionError)
		if !ok {
			re, isRuntime := r.(runtime.Error)
			if !isRuntime {
				panic(r)
			}
			ae = &AssertionError{Func: i.fnName(), PC: i.ipc, Err: ErrCorruptCode, Detail: re.Error()}
		}
		log.Errorf("%s", ae)
		i.abandon()
		err = ae
	}()
	i.stop = i.state == StateHalted
	i.paused = false
	i.breakHit = false
	switch i.opts.Engine {
	case EngineSwitch:
		i.runSwitch()
	default:
		i.runTable()
	}
	return nil
}

// abandon drops every frame without running cleanup.
func (i *Interpreter) abandon() {
	i.frames = i.frames[:0]
	i.handlers = i.handlers[:0]
	i.state = StateHalted
	i.started = false
	i.stop = true
}

func (i *Interpreter) fnName() string {
	if i.fn == nil {
		return ""
	}
	return i.fn.Name
}

// assert panics with an *AssertionError when Options.Debug is set.
func (i *Interpreter) assert(ok bool, kind error, format string, args ...interface{}) {
	if ok || !i.opts.Debug {
		return
	}
	panic(&AssertionError{Func: i.fnName(), PC: i.ipc, Err: kind, Detail: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// call pushes a frame for function idx. Its arguments are the top
// NumParams slots of the value stack.
func (i *Interpreter) call(idx int) {
	fn := i.mod.Functions[idx]
	if len(i.frames) >= i.opts.MaxCallDepth {
		i.raise(bc.TrapStackOverflow, "call depth exceeds %d", i.opts.MaxCallDepth)
		return
	}
	base := i.sp - int(fn.NumParams)
	stackBase := base + int(fn.NumLocals)
	if stackBase+int(fn.MaxStack) > len(i.stack) {
		i.raise(bc.TrapStackOverflow, "value stack exhausted calling %s", fn.Name)
		return
	}
	if n := len(i.frames); n > 0 {
		i.frames[n-1].pc = i.pc
	}
	for k := i.sp; k < stackBase; k++ {
		i.stack[k] = 0
	}
	i.frames = append(i.frames, frame{
		fn:         fn,
		fnIdx:      idx,
		base:       base,
		stackBase:  stackBase,
		ehDepth:    len(i.handlers),
		allocaBase: i.allocaTop,
		callSitePC: i.ipc,
	})
	i.sp = stackBase
	i.enter(len(i.frames) - 1)
	i.pc = 0
	if i.prof != nil {
		i.prof.RecordCall(fn)
	}
}

// enter makes frame n the current frame and restores its pc.
func (i *Interpreter) enter(n int) {
	f := &i.frames[n]
	i.fn = f.fn
	i.fnIdx = f.fnIdx
	i.code = f.fn.Code
	i.base = f.base
	i.stackBase = f.stackBase
	i.pc = f.pc
}

// ret pops the current frame, pushing the result into the caller.
func (i *Interpreter) ret(hasValue bool) {
	var v Slot
	if hasValue {
		i.sp--
		v = i.stack[i.sp]
	}
	i.popFrame(false)
	if i.state == StateHandling {
		i.settle()
	}
	if len(i.frames) == 0 {
		i.result = Result{Value: v, HasValue: hasValue}
		i.state = StateHalted
		i.stop = true
		return
	}
	if hasValue {
		i.stack[i.sp] = v
		i.sp++
	}
}

// popFrame discards the top frame. Handlers it registered go with it and
// its alloca storage is released; unwinding also runs runtime cleanup.
func (i *Interpreter) popFrame(unwinding bool) {
	n := len(i.frames) - 1
	f := &i.frames[n]
	if len(i.handlers) > f.ehDepth {
		i.handlers = i.handlers[:f.ehDepth]
	}
	i.allocaTop = f.allocaBase
	i.sp = f.base
	if unwinding {
		if se, ok := i.rt.(ScopeExiter); ok {
			se.ScopeExit(n)
		}
	}
	i.frames = i.frames[:n]
	i.dropTokens(n)
	if n > 0 {
		i.enter(n - 1)
	} else {
		i.fn, i.code = nil, nil
	}
}

// ---------------------------------------------------------------------------
// Dispatch loops
// ---------------------------------------------------------------------------

// runTable is the table-driven engine.
func (i *Interpreter) runTable() {
	for !i.stop {
		if i.hooks && i.beforeStep() {
			return
		}
		i.ipc = i.pc
		w := i.code[i.pc]
		i.pc++
		opTable[byte(w)](i, w)
	}
}

// refreshHooks recomputes whether the loop must call beforeStep.
func (i *Interpreter) refreshHooks() {
	i.hooks = i.trace != nil || i.dbg != nil || i.prof != nil || i.opts.Debug || i.budget >= 0
}

// beforeStep runs the per-instruction hooks. It reports whether the loop
// should pause before executing the instruction at pc.
func (i *Interpreter) beforeStep() bool {
	pc := i.pc
	if i.dbg != nil {
		if i.skipBreak {
			i.skipBreak = false
		} else if i.dbg.shouldBreak(i.fn, pc, len(i.frames)-1) {
			i.paused, i.breakHit, i.stop = true, true, true
			return true
		}
	}
	if i.budget >= 0 {
		if i.budget == 0 {
			i.paused, i.stop = true, true
			return true
		}
		i.budget--
	}
	op := bc.OpOf(i.code[pc])
	if i.trace != nil {
		i.trace(TraceEvent{Func: i.fn.Name, PC: pc, Op: op, Line: int(i.fn.Line(pc)), Depth: i.sp - i.stackBase})
	}
	if i.prof != nil {
		i.prof.RecordOp(op)
	}
	if i.opts.Debug {
		if d := i.fn.Debug; d != nil && pc < len(d.StackDepth) {
			want := int(d.StackDepth[pc])
			i.ipc = pc
			i.assert(i.sp-i.stackBase == want, ErrStackDepth, "%s: depth %d, compiler recorded %d", op, i.sp-i.stackBase, want)
		}
	}
	return false
}

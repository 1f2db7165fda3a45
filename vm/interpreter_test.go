package vm

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/splanck/viper-sub004/compiler"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
)

var engines = []Engine{EngineTable, EngineSwitch}

func compile(t *testing.T, m *il.Module, opts ...compiler.Option) *bc.Module {
	t.Helper()
	out, err := compiler.Compile(m, opts...)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return out
}

// run executes entry on every engine and checks that they agree.
func run(t *testing.T, m *bc.Module, entry string, args []Slot, opts ...Option) (Result, error) {
	t.Helper()
	var (
		first    Result
		firstErr error
	)
	for n, e := range engines {
		vm := New(m, append([]Option{WithEngine(e)}, opts...)...)
		res, err := vm.Execute(entry, args...)
		if n == 0 {
			first, firstErr = res, err
			continue
		}
		if res != first || errString(err) != errString(firstErr) {
			t.Fatalf("%s engine: (%v, %v), table engine: (%v, %v)", e, res, err, first, firstErr)
		}
	}
	return first, firstErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func mustValue(t *testing.T, res Result, err error, want int64) {
	t.Helper()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.HasValue {
		t.Fatal("no result value")
	}
	if got := res.Value.I64(); got != want {
		t.Fatalf("result = %d, want %d", got, want)
	}
}

func mustTrap(t *testing.T, err error, kind bc.TrapKind) *TrapError {
	t.Helper()
	te, ok := AsTrap(err)
	if !ok {
		t.Fatalf("expected %s trap, got %v", kind, err)
	}
	if te.Kind != kind {
		t.Fatalf("trap kind = %s, want %s (%v)", te.Kind, kind, te)
	}
	return te
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func fibModule() *il.Module {
	mb := il.NewModuleBuilder("fib")
	fb := mb.Function("fib", il.I64, il.P("n", il.I64))
	entry := fb.Block("entry").Line(1)
	base := fb.Block("base").Line(2)
	rec := fb.Block("rec").Line(3)

	c := entry.Op(il.OpSCmpLT, il.I1, fb.Param(0), il.Int(2))
	entry.CBr(c, "base", nil, "rec", nil)
	base.Ret(fb.Param(0))
	a := rec.Op(il.OpSub, il.I64, fb.Param(0), il.Int(1))
	x := rec.Call("fib", il.I64, a)
	b := rec.Op(il.OpSub, il.I64, fb.Param(0), il.Int(2))
	y := rec.Call("fib", il.I64, b)
	rec.Ret(rec.Op(il.OpAdd, il.I64, x, y))
	return mb.Module()
}

// countModule counts from 0 up to n; the loop header sits on line 2.
func countModule() *il.Module {
	mb := il.NewModuleBuilder("loop")
	fb := mb.Function("count", il.I64, il.P("n", il.I64))
	entry := fb.Block("entry").Line(1)
	loop := fb.Block("loop", il.P("i", il.I64)).Line(2)
	body := fb.Block("body").Line(3)
	done := fb.Block("done").Line(4)

	entry.Br("loop", il.Int(0))
	c := loop.Op(il.OpSCmpLT, il.I1, loop.Param(0), fb.Param(0))
	loop.CBr(c, "body", nil, "done", nil)
	body.Br("loop", body.Op(il.OpAdd, il.I64, loop.Param(0), il.Int(1)))
	done.Ret(loop.Param(0))
	return mb.Module()
}

// binModule wraps a single binary instruction in f(a, b).
func binModule(op il.Opcode) *il.Module {
	mb := il.NewModuleBuilder("bin")
	fb := mb.Function("f", il.I64, il.P("a", il.I64), il.P("b", il.I64))
	e := fb.Block("entry").Line(1)
	e.Ret(e.Op(op, il.I64, fb.Param(0), fb.Param(1)))
	return mb.Module()
}

// guardedDiv returns a/b, or the trap's kind*100+line when b is zero.
func guardedDiv() *il.Module {
	mb := il.NewModuleBuilder("eh")
	fb := mb.Function("div", il.I64, il.P("a", il.I64), il.P("b", il.I64))
	entry := fb.Block("entry").Line(1)
	h := fb.Block("handler", il.P("err", il.Error), il.P("tok", il.ResumeTok)).Line(9)

	entry.EhPush("handler")
	q := entry.Line(5).Op(il.OpSDivChk0, il.I64, fb.Param(0), fb.Param(1))
	entry.Line(6).EhPop()
	entry.Ret(q)

	h.EhEntry()
	k := h.Op(il.OpErrGetKind, il.I64, h.Param(0))
	l := h.Op(il.OpErrGetLine, il.I64, h.Param(0))
	h.Ret(h.Op(il.OpAdd, il.I64, h.Op(il.OpMul, il.I64, k, il.Int(100)), l))
	return mb.Module()
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func TestFib(t *testing.T) {
	m := compile(t, fibModule())
	for _, e := range engines {
		p := NewProfiler()
		vm := New(m, WithEngine(e), WithProfiler(p))
		res, err := vm.Execute("fib", I64(10))
		mustValue(t, res, err, 55)
		if calls := p.Calls(m.Function("fib")); calls != 177 {
			t.Errorf("%s: fib called %d times, want 177", e, calls)
		}
		if p.OpCount(bc.OpCall) != 176 {
			t.Errorf("%s: %d CALL dispatches, want 176", e, p.OpCount(bc.OpCall))
		}
	}
}

func TestFibPeephole(t *testing.T) {
	plain := compile(t, fibModule())
	peep := compile(t, fibModule(), compiler.WithPeephole(true))
	for n := int64(0); n <= 15; n++ {
		a, errA := run(t, plain, "fib", []Slot{I64(n)})
		b, errB := run(t, peep, "fib", []Slot{I64(n)}, WithDebug(true))
		if errA != nil || errB != nil {
			t.Fatalf("fib(%d): %v / %v", n, errA, errB)
		}
		if a != b {
			t.Errorf("fib(%d): plain %d, peephole %d", n, a.Value.I64(), b.Value.I64())
		}
	}
}

func TestCountLoop(t *testing.T) {
	for _, peep := range []bool{false, true} {
		m := compile(t, countModule(), compiler.WithPeephole(peep))
		res, err := run(t, m, "count", []Slot{I64(1000)}, WithDebug(true))
		mustValue(t, res, err, 1000)
	}
}

func TestSDivChk(t *testing.T) {
	m := compile(t, binModule(il.OpSDivChk0))

	res, err := run(t, m, "f", []Slot{I64(5), I64(3)})
	mustValue(t, res, err, 1)

	res, err = run(t, m, "f", []Slot{I64(-7), I64(2)})
	mustValue(t, res, err, -3)

	_, err = run(t, m, "f", []Slot{I64(5), I64(0)})
	te := mustTrap(t, err, bc.TrapDivisionByZero)
	if te.Func != "f" || te.Line != 1 {
		t.Errorf("trap location = %s line %d", te.Func, te.Line)
	}

	_, err = run(t, m, "f", []Slot{I64(math.MinInt64), I64(-1)})
	mustTrap(t, err, bc.TrapOverflow)
}

func TestAddSubRoundTrip(t *testing.T) {
	add := compile(t, binModule(il.OpAdd))
	sub := compile(t, binModule(il.OpSub))
	values := []int64{math.MinInt64, -1, 0, 1, math.MaxInt64}
	for _, a := range values {
		for _, b := range values {
			s, err := run(t, add, "f", []Slot{I64(a), I64(b)})
			if err != nil {
				t.Fatal(err)
			}
			d, err := run(t, sub, "f", []Slot{s.Value, I64(b)})
			if err != nil {
				t.Fatal(err)
			}
			if d.Value.I64() != a {
				t.Errorf("(%d + %d) - %d = %d", a, b, b, d.Value.I64())
			}
		}
	}
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op   il.Opcode
		a, b int64
		want int64
		trap bc.TrapKind
	}{
		{il.OpMul, 6, 7, 42, 0},
		{il.OpSDiv, 7, 0, 0, 0},
		{il.OpSRem, -7, 3, -1, 0},
		{il.OpURem, -1, 10, 5, 0},
		{il.OpShl, 1, 65, 2, 0},
		{il.OpAShr, -8, 1, -4, 0},
		{il.OpLShr, -1, 60, 15, 0},
		{il.OpIAddOvf, math.MaxInt64, 1, 0, bc.TrapOverflow},
		{il.OpISubOvf, math.MinInt64, 1, 0, bc.TrapOverflow},
		{il.OpIMulOvf, 1 << 32, 1 << 31, 0, bc.TrapOverflow},
		{il.OpIMulOvf, -3, 4, -12, 0},
		{il.OpSRemChk0, 1, 0, 0, bc.TrapDivisionByZero},
		{il.OpUDivChk0, 9, 0, 0, bc.TrapDivisionByZero},
	}
	for _, tt := range tests {
		m := compile(t, binModule(tt.op))
		res, err := run(t, m, "f", []Slot{I64(tt.a), I64(tt.b)})
		if tt.trap != bc.TrapNone {
			mustTrap(t, err, tt.trap)
			continue
		}
		if err != nil {
			t.Errorf("%s(%d, %d): %v", tt.op, tt.a, tt.b, err)
			continue
		}
		if got := res.Value.I64(); got != tt.want {
			t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestConversions(t *testing.T) {
	mb := il.NewModuleBuilder("conv")
	for _, fn := range []struct {
		name string
		op   il.Opcode
	}{
		{"fptosi", il.OpFPToSI},
		{"chk", il.OpCastFPToSIChk},
	} {
		fb := mb.Function(fn.name, il.I64, il.P("x", il.F64))
		e := fb.Block("entry")
		e.Ret(e.Op(fn.op, il.I64, fb.Param(0)))
	}
	nb := mb.Function("narrow", il.I64, il.P("x", il.I64))
	ne := nb.Block("entry")
	ne.Ret(ne.Narrow(il.OpCastSINarrow, il.I16, nb.Param(0)))
	m := compile(t, mb.Module())

	res, err := run(t, m, "fptosi", []Slot{F64(math.NaN())})
	mustValue(t, res, err, 0)
	res, err = run(t, m, "fptosi", []Slot{F64(1e300)})
	mustValue(t, res, err, math.MaxInt64)
	res, err = run(t, m, "chk", []Slot{F64(2.5)})
	mustValue(t, res, err, 2)
	res, err = run(t, m, "chk", []Slot{F64(-3.5)})
	mustValue(t, res, err, -4)
	_, err = run(t, m, "chk", []Slot{F64(math.NaN())})
	mustTrap(t, err, bc.TrapInvalidCast)

	res, err = run(t, m, "narrow", []Slot{I64(-32768)})
	mustValue(t, res, err, -32768)
	_, err = run(t, m, "narrow", []Slot{I64(40000)})
	mustTrap(t, err, bc.TrapOverflow)
}

func TestSwitch(t *testing.T) {
	mb := il.NewModuleBuilder("sw")
	fb := mb.Function("f", il.I64, il.P("s", il.I64))
	e := fb.Block("entry")
	one, two, neg, def := fb.Block("one"), fb.Block("two"), fb.Block("neg"), fb.Block("d")
	e.Switch(fb.Param(0), "d", nil,
		il.SwitchCase{Value: 1, Label: "one"},
		il.SwitchCase{Value: 2, Label: "two"},
		il.SwitchCase{Value: -1, Label: "neg"})
	one.Ret(il.Int(10))
	two.Ret(il.Int(20))
	neg.Ret(il.Int(-10))
	def.Ret(il.Int(0))
	m := compile(t, mb.Module())

	for sel, want := range map[int64]int64{1: 10, 2: 20, -1: -10, 3: 0, 1<<32 + 1: 10} {
		res, err := run(t, m, "f", []Slot{I64(sel)})
		mustValue(t, res, err, want)
	}
}

func TestGlobals(t *testing.T) {
	mb := il.NewModuleBuilder("g")
	seven := il.Int(7)
	mb.Global("counter", il.I64, &seven)
	fb := mb.Function("bump", il.I64)
	e := fb.Block("entry")
	n := e.Op(il.OpAdd, il.I64, e.GLoad(il.I64, "counter"), il.Int(1))
	e.GStore("counter", n)
	e.Ret(n)
	m := compile(t, mb.Module())

	vm := New(m)
	for want := int64(8); want <= 10; want++ {
		res, err := vm.Execute("bump")
		mustValue(t, res, err, want)
	}
	if other := New(m); other.Global(0).I64() != 7 {
		t.Errorf("globals leak between instances: %d", other.Global(0).I64())
	}
}

func TestCallIndirect(t *testing.T) {
	mb := il.NewModuleBuilder("ind")
	for _, f := range []struct {
		name string
		op   il.Opcode
	}{{"add", il.OpAdd}, {"sub", il.OpSub}} {
		fb := mb.Function(f.name, il.I64, il.P("a", il.I64), il.P("b", il.I64))
		e := fb.Block("entry")
		e.Ret(e.Op(f.op, il.I64, fb.Param(0), fb.Param(1)))
	}
	fb := mb.Function("apply", il.I64, il.P("f", il.Ptr), il.P("a", il.I64), il.P("b", il.I64))
	e := fb.Block("entry")
	e.Ret(e.CallIndirect(fb.Param(0), il.I64, fb.Param(1), fb.Param(2)))
	m := compile(t, mb.Module())

	vm := New(m)
	add, _ := vm.FunctionPointer("add")
	sub, _ := vm.FunctionPointer("sub")
	res, err := vm.Execute("apply", add, I64(5), I64(3))
	mustValue(t, res, err, 8)
	res, err = vm.Execute("apply", sub, I64(5), I64(3))
	mustValue(t, res, err, 2)
	res, err = vm.Execute("apply", add, I64(1), I64(1))
	mustValue(t, res, err, 2)

	stats := vm.ICStats()
	if stats.Polymorphic != 1 || stats.TotalHits != 1 {
		t.Errorf("ICStats = %+v, want one polymorphic site with one hit", stats)
	}

	_, err = vm.Execute("apply", 0, I64(1), I64(1))
	mustTrap(t, err, bc.TrapNullPointer)
	_, err = vm.Execute("apply", I64(12), I64(1), I64(1))
	mustTrap(t, err, bc.TrapRuntimeError)
}

func TestStackOverflow(t *testing.T) {
	mb := il.NewModuleBuilder("rec")
	fb := mb.Function("down", il.I64, il.P("n", il.I64))
	e := fb.Block("entry")
	e.Ret(e.Call("down", il.I64, e.Op(il.OpAdd, il.I64, fb.Param(0), il.Int(1))))
	m := compile(t, mb.Module())

	_, err := run(t, m, "down", []Slot{I64(0)}, WithMaxCallDepth(50))
	mustTrap(t, err, bc.TrapStackOverflow)

	_, err = run(t, m, "down", []Slot{I64(0)}, WithStackSlots(64))
	mustTrap(t, err, bc.TrapStackOverflow)
}

func TestExecuteErrors(t *testing.T) {
	vm := New(compile(t, fibModule()))
	if _, err := vm.Execute("nope"); !errors.Is(err, ErrNoFunction) {
		t.Errorf("unknown entry: %v", err)
	}
	if _, err := vm.Execute("fib"); !errors.Is(err, ErrArgCount) {
		t.Errorf("missing argument: %v", err)
	}
	if vm.State() != StateHalted {
		t.Errorf("state = %s, want halted", vm.State())
	}
}

func TestDebugStackDepthAssertion(t *testing.T) {
	m := compile(t, countModule())
	f := m.Function("count")
	f.Debug.StackDepth[0] = 3

	vm := New(m, WithDebug(true))
	_, err := vm.Execute("count", I64(2))
	var ae *AssertionError
	if !errors.As(err, &ae) || !errors.Is(err, ErrStackDepth) {
		t.Fatalf("expected stack depth assertion, got %v", err)
	}
	if ae.Func != "count" || ae.PC != 0 {
		t.Errorf("assertion at %s pc %d", ae.Func, ae.PC)
	}

	// Without Debug the side table is not consulted.
	res, err := New(m).Execute("count", I64(2))
	mustValue(t, res, err, 2)
}

func TestCorruptCodeIsReported(t *testing.T) {
	m := compile(t, countModule())
	f := m.Function("count")
	f.Code = append([]uint32(nil), f.Code...)
	f.Code[0] = uint32(bc.OpJump) | uint32(0x7FFF)<<8

	for _, e := range engines {
		_, err := New(m, WithEngine(e)).Execute("count", I64(0))
		if !errors.Is(err, ErrCorruptCode) {
			t.Errorf("%s: expected corrupt code error, got %v", e, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

func memModule() *il.Module {
	mb := il.NewModuleBuilder("mem")

	fb := mb.Function("roundtrip", il.I64)
	e := fb.Block("entry")
	p := e.Op(il.OpAlloca, il.Ptr, il.Int(16))
	e.Store(il.I64, p, il.Int(-5))
	q := e.Op(il.OpGEP, il.Ptr, p, il.Int(8))
	e.Store(il.I32, q, il.Int(-1))
	e.Store(il.I16, e.Op(il.OpGEP, il.Ptr, p, il.Int(12)), il.Int(0x12345))
	a := e.Load(il.I64, p)
	b := e.Load(il.I32, q)
	c := e.Load(il.I16, e.Op(il.OpGEP, il.Ptr, p, il.Int(12)))
	e.Ret(e.Op(il.OpAdd, il.I64, e.Op(il.OpAdd, il.I64, a, b), c))

	for _, f := range []struct {
		name string
		off  int64
	}{{"misaligned", 4}, {"outside", 16}} {
		fb := mb.Function(f.name, il.I64)
		e := fb.Block("entry")
		p := e.Op(il.OpAlloca, il.Ptr, il.Int(16))
		e.Ret(e.Load(il.I64, e.Op(il.OpGEP, il.Ptr, p, il.Int(f.off))))
	}

	nb := mb.Function("null", il.I64)
	ne := nb.Block("entry")
	ne.Ret(ne.Load(il.I64, il.Null()))

	hb := mb.Function("huge", il.I64, il.P("n", il.I64))
	he := hb.Block("entry")
	he.Op(il.OpAlloca, il.Ptr, hb.Param(0))
	he.Ret(il.Int(1))

	sb := mb.Function("str", il.I64)
	se := sb.Block("entry")
	se.Ret(se.Load(il.I16, il.String("hi")))
	return mb.Module()
}

func TestMemory(t *testing.T) {
	m := compile(t, memModule())

	res, err := run(t, m, "roundtrip", nil)
	mustValue(t, res, err, -5+-1+0x2345)

	_, err = run(t, m, "misaligned", nil)
	mustTrap(t, err, bc.TrapMisalignedAccess)
	_, err = run(t, m, "outside", nil)
	mustTrap(t, err, bc.TrapInvalidOperation)
	_, err = run(t, m, "null", nil)
	mustTrap(t, err, bc.TrapNullPointer)

	res, err = run(t, m, "huge", []Slot{I64(512)}, WithAllocaLimit(1024))
	mustValue(t, res, err, 1)
	_, err = run(t, m, "huge", []Slot{I64(4096)}, WithAllocaLimit(1024))
	mustTrap(t, err, bc.TrapStackOverflow)
	_, err = run(t, m, "huge", []Slot{I64(-1)})
	mustTrap(t, err, bc.TrapInvalidOperation)

	res, err = run(t, m, "str", nil)
	mustValue(t, res, err, int64('h')|int64('i')<<8)
}

// ---------------------------------------------------------------------------
// Debugging
// ---------------------------------------------------------------------------

func TestTrace(t *testing.T) {
	m := compile(t, binModule(il.OpAdd))
	vm := New(m)
	var events []TraceEvent
	vm.SetTrace(func(ev TraceEvent) { events = append(events, ev) })

	res, err := vm.Execute("f", I64(2), I64(3))
	mustValue(t, res, err, 5)
	if len(events) == 0 {
		t.Fatal("no trace events")
	}
	if events[0].Func != "f" || events[0].PC != 0 || events[0].Depth != 0 || events[0].Line != 1 {
		t.Errorf("first event = %+v", events[0])
	}
	if last := events[len(events)-1]; last.Op != bc.OpReturn {
		t.Errorf("last event = %+v, want RETURN", last)
	}

	vm.SetTrace(nil)
	events = nil
	if _, err := vm.Execute("f", I64(1), I64(1)); err != nil || len(events) != 0 {
		t.Errorf("trace still active: %d events, err %v", len(events), err)
	}
}

func TestSingleStep(t *testing.T) {
	m := compile(t, binModule(il.OpAdd))
	for _, e := range engines {
		vm := New(m, WithEngine(e))
		if loc := vm.Location(); loc != (SourceLocation{}) {
			t.Errorf("location before start = %+v", loc)
		}
		if _, err := vm.SingleStep(); !errors.Is(err, ErrNotStarted) {
			t.Errorf("SingleStep without session: %v", err)
		}
		if err := vm.Start("f", I64(20), I64(22)); err != nil {
			t.Fatal(err)
		}
		if stack := vm.CallStack(); len(stack) != 1 || stack[0].Func != "f" {
			t.Fatalf("call stack = %+v", stack)
		}
		if locals := vm.Locals(0); len(locals) < 2 || locals[0].Name != "a" || locals[0].Value != "20" {
			t.Errorf("locals = %+v", locals)
		}

		steps := 0
		for {
			r, err := vm.SingleStep()
			if err != nil {
				t.Fatal(err)
			}
			steps++
			if r == StepDone {
				break
			}
			if r != StepContinue {
				t.Fatalf("step %d returned %s", steps, r)
			}
			if vm.Location().PC == 0 {
				t.Fatal("pc did not advance")
			}
		}
		if steps < 3 {
			t.Errorf("%s: finished after %d steps", e, steps)
		}
		if res := vm.Result(); !res.HasValue || res.Value.I64() != 42 {
			t.Errorf("%s: result = %+v", e, res)
		}
	}
}

func TestBreakpoint(t *testing.T) {
	m := compile(t, fibModule())
	vm := New(m)
	if err := vm.SetBreakpoint("fib", 0); err != nil {
		t.Fatal(err)
	}
	if err := vm.SetBreakpoint("fib", 1<<20); err == nil {
		t.Error("breakpoint outside the function accepted")
	}
	if err := vm.SetBreakpoint("nope", 0); !errors.Is(err, ErrNoFunction) {
		t.Errorf("breakpoint in unknown function: %v", err)
	}

	if _, err := vm.Execute("fib", I64(3)); !errors.Is(err, ErrPaused) {
		t.Fatalf("Execute with breakpoint: %v", err)
	}
	hits := 1
	for {
		r, err := vm.Continue()
		if err != nil {
			t.Fatal(err)
		}
		if r == StepDone {
			break
		}
		if r != StepBreak {
			t.Fatalf("Continue returned %s", r)
		}
		hits++
		if depth := len(vm.CallStack()); depth < 1 || depth > 3 {
			t.Errorf("stack depth %d at breakpoint", depth)
		}
	}
	// fib(3) makes 5 calls.
	if hits != 5 {
		t.Errorf("breakpoint hit %d times, want 5", hits)
	}
	if vm.Result().Value.I64() != 2 {
		t.Errorf("fib(3) = %d", vm.Result().Value.I64())
	}

	vm.ClearBreakpoint("fib", 0)
	res, err := vm.Execute("fib", I64(3))
	mustValue(t, res, err, 2)
}

func TestWatchLine(t *testing.T) {
	m := compile(t, countModule())
	vm := New(m, WithEngine(EngineSwitch))
	if err := vm.WatchLine("count", 2); err != nil {
		t.Fatal(err)
	}
	if err := vm.Start("count", I64(3)); err != nil {
		t.Fatal(err)
	}
	hits := 0
	for {
		r, err := vm.Continue()
		if err != nil {
			t.Fatal(err)
		}
		if r == StepDone {
			break
		}
		hits++
		if loc := vm.Location(); loc.Line != 2 {
			t.Errorf("stopped at line %d", loc.Line)
		}
	}
	if hits != 4 {
		t.Errorf("line 2 entered %d times, want 4", hits)
	}

	events := vm.Debugger().Events()
	if len(events) != 4 || events[0].Type != "watch" {
		t.Errorf("events = %+v", events)
	}
}

func TestStepLine(t *testing.T) {
	m := compile(t, countModule())
	vm := New(m)
	if err := vm.Start("count", I64(1)); err != nil {
		t.Fatal(err)
	}
	var lines []int
	for {
		r, err := vm.StepLine(StepOver)
		if err != nil {
			t.Fatal(err)
		}
		if r == StepDone {
			break
		}
		lines = append(lines, vm.Location().Line)
	}
	want := []int{2, 3, 2, 4}
	if len(lines) != len(want) {
		t.Fatalf("stepped through lines %v, want %v", lines, want)
	}
	for k := range want {
		if lines[k] != want[k] {
			t.Fatalf("stepped through lines %v, want %v", lines, want)
		}
	}
}

func TestTrapEvent(t *testing.T) {
	m := compile(t, binModule(il.OpSDivChk0))
	vm := New(m)
	dbg := vm.Debugger()
	_, err := vm.Execute("f", I64(1), I64(0))
	mustTrap(t, err, bc.TrapDivisionByZero)
	events := dbg.Events()
	if len(events) != 1 || events[0].Type != "trap" || !strings.HasPrefix(events[0].Reason, "DivisionByZero") {
		t.Errorf("events = %+v", events)
	}
}

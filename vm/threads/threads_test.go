package threads

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/splanck/viper-sub004/compiler"
	rt "github.com/splanck/viper-sub004/lib/runtime"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
	"github.com/splanck/viper-sub004/vm"
)

func threadModule() *il.Module {
	mb := il.NewModuleBuilder("threads")
	mb.Extern("rt_alloc", il.Ptr, il.I64)
	mb.Extern("rt_monitor_enter", il.Void, il.Ptr)
	mb.Extern("rt_monitor_exit", il.Void, il.Ptr)
	mb.Extern("rt_thread_start", il.Ptr, il.Ptr, il.Ptr)
	mb.Extern("rt_thread_join", il.Void, il.Ptr)
	mb.Extern("rt_thread_get_id", il.Str, il.Ptr)
	mb.Extern("rt_str_len", il.I64, il.Str)

	// sum(a, b) = a + b
	sb := mb.Function("sum", il.I64, il.P("a", il.I64), il.P("b", il.I64))
	se := sb.Block("entry")
	se.Ret(se.Op(il.OpAdd, il.I64, sb.Param(0), sb.Param(1)))

	// worker(p) adds 1 to *p a hundred times under p's monitor.
	wb := mb.Function("worker", il.Void, il.P("p", il.Ptr))
	we := wb.Block("entry")
	head := wb.Block("head", il.P("i", il.I64))
	body := wb.Block("body")
	done := wb.Block("done")
	p := wb.Param(0)
	we.Br("head", il.Int(0))
	head.CBr(head.Op(il.OpSCmpLT, il.I1, head.Param(0), il.Int(100)), "body", nil, "done", nil)
	body.Call("rt_monitor_enter", il.Void, p)
	v := body.Load(il.I64, p)
	body.Store(il.I64, p, body.Op(il.OpAdd, il.I64, v, il.Int(1)))
	body.Call("rt_monitor_exit", il.Void, p)
	body.Br("head", body.Op(il.OpAdd, il.I64, head.Param(0), il.Int(1)))
	done.Ret()

	// count() starts four workers on one counter and joins them.
	cb := mb.Function("count", il.I64)
	ce := cb.Block("entry")
	ctr := ce.Call("rt_alloc", il.Ptr, il.Int(8))
	var ts []il.Value
	for k := 0; k < 4; k++ {
		ts = append(ts, ce.Call("rt_thread_start", il.Ptr, il.FuncRef("worker"), ctr))
	}
	for _, t := range ts {
		ce.Call("rt_thread_join", il.Void, t)
	}
	ce.Ret(ce.Load(il.I64, ctr))

	// blocked(p) waits for p's monitor.
	bb := mb.Function("blocked", il.Void, il.P("p", il.Ptr))
	be := bb.Block("entry")
	be.Call("rt_monitor_enter", il.Void, bb.Param(0))
	be.Call("rt_monitor_exit", il.Void, bb.Param(0))
	be.Ret()

	xb := mb.Function("boom", il.I64)
	xe := xb.Block("entry").Line(9)
	xe.Ret(xe.Op(il.OpSDivChk0, il.I64, il.Int(1), il.Int(0)))

	nb := mb.Function("nop", il.Void)
	nb.Block("entry").Ret()

	// joinBoom joins a thread that traps.
	jb := mb.Function("joinBoom", il.Void)
	je := jb.Block("entry")
	je.Call("rt_thread_join", il.Void, je.Call("rt_thread_start", il.Ptr, il.FuncRef("boom"), il.Null()))
	je.Ret()

	tb := mb.Function("twice", il.Void)
	te := tb.Block("entry")
	th := te.Call("rt_thread_start", il.Ptr, il.FuncRef("nop"), il.Null())
	te.Call("rt_thread_join", il.Void, th)
	te.Call("rt_thread_join", il.Void, th)
	te.Ret()

	ib := mb.Function("ident", il.I64)
	ie := ib.Block("entry")
	it := ie.Call("rt_thread_start", il.Ptr, il.FuncRef("nop"), il.Null())
	ie.Call("rt_thread_join", il.Void, it)
	ie.Ret(ie.Call("rt_str_len", il.I64, ie.Call("rt_thread_get_id", il.Str, it)))

	zb := mb.Function("nullEntry", il.Void)
	ze := zb.Block("entry")
	ze.Call("rt_thread_start", il.Ptr, il.Null(), il.Null())
	ze.Ret()
	return mb.Module()
}

type fixture struct {
	mod     *bc.Module
	rt      *rt.Context
	natives *vm.NativeRegistry
	threads *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mod, err := compiler.Compile(threadModule())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	c := rt.NewContext(nil)
	reg := vm.NewNativeRegistry()
	rt.Install(reg, c)
	threads := Install(reg, c)
	if missing := reg.Missing(mod); len(missing) > 0 {
		t.Fatalf("unresolved natives %v", missing)
	}
	return &fixture{mod: mod, rt: c, natives: reg, threads: threads}
}

func (f *fixture) config(opts ...vm.Option) *Config {
	return &Config{Runtime: f.rt, Natives: f.natives, VM: opts}
}

func (f *fixture) main(t *testing.T, entry string, opts ...vm.Option) (vm.Result, error) {
	t.Helper()
	res, err := Spawn(context.Background(), f.mod, entry, nil, f.config(opts...)).Join()
	f.threads.Wait()
	return res, err
}

func TestSpawnJoin(t *testing.T) {
	f := newFixture(t)
	th := Spawn(context.Background(), f.mod, "sum", []vm.Slot{vm.I64(3), vm.I64(4)}, nil)
	if th.ID.String() == "" || th.Entry != "sum" {
		t.Errorf("thread = %s %q", th.ID, th.Entry)
	}
	<-th.Done()
	if th.Alive() {
		t.Error("finished thread reports alive")
	}
	res, err := th.Join()
	if err != nil || res.Value.I64() != 7 {
		t.Fatalf("Join = %d, %v; want 7", res.Value.I64(), err)
	}
	if _, err := th.Join(); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("second Join = %v", err)
	}
	if _, ok, err := th.TryJoinFor(0); ok || !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("TryJoinFor after Join = %v, %v", ok, err)
	}
}

func TestMonitorsSerializeIncrements(t *testing.T) {
	f := newFixture(t)
	for _, e := range []vm.Engine{vm.EngineTable, vm.EngineSwitch} {
		res, err := f.main(t, "count", vm.WithEngine(e))
		if err != nil {
			t.Fatalf("%s: %v", e, err)
		}
		if got := res.Value.I64(); got != 400 {
			t.Errorf("%s: counter = %d, want 400", e, got)
		}
	}
	for _, th := range f.threads.Threads() {
		if th.Alive() {
			t.Errorf("thread %s still running", th.ID)
		}
	}
}

func TestTryJoinFor(t *testing.T) {
	f := newFixture(t)
	lock, _ := f.rt.Heap.Alloc(8)
	holder := f.rt.NewSession()
	m := f.rt.Monitors.For(lock)
	if err := m.Enter(context.Background(), holder.Owner()); err != nil {
		t.Fatal(err)
	}

	th := Spawn(context.Background(), f.mod, "blocked", []vm.Slot{lock}, f.config())
	if _, ok, err := th.TryJoinFor(10 * time.Millisecond); ok || err != nil {
		t.Fatalf("TryJoinFor on a blocked thread = %v, %v", ok, err)
	}
	if !th.Alive() {
		t.Fatal("blocked thread is not alive")
	}
	m.Exit(holder.Owner())
	if _, ok, err := th.TryJoinFor(time.Second); !ok || err != nil {
		t.Fatalf("TryJoinFor after release = %v, %v", ok, err)
	}
}

func TestThreadTrap(t *testing.T) {
	f := newFixture(t)

	_, err := Spawn(context.Background(), f.mod, "boom", nil, f.config()).Join()
	te, ok := vm.AsTrap(err)
	if !ok || te.Kind != bc.TrapDivisionByZero || te.Line != 9 {
		t.Fatalf("Join = %v, want DivisionByZero at line 9", err)
	}

	_, err = f.main(t, "joinBoom")
	if te, ok := vm.AsTrap(err); !ok || te.Kind != bc.TrapDivisionByZero || !strings.Contains(te.Message, "thread failed") {
		t.Errorf("rt_thread_join of a failed thread = %v", err)
	}
}

func TestThreadNativeErrors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		entry string
		kind  bc.TrapKind
	}{
		{"twice", bc.TrapInvalidOperation},
		{"nullEntry", bc.TrapNullPointer},
	}
	for _, tt := range tests {
		_, err := f.main(t, tt.entry)
		if te, ok := vm.AsTrap(err); !ok || te.Kind != tt.kind {
			t.Errorf("%s = %v, want %s", tt.entry, err, tt.kind)
		}
	}
}

func TestThreadID(t *testing.T) {
	f := newFixture(t)
	res, err := f.main(t, "ident")
	if err != nil || res.Value.I64() != 36 {
		t.Fatalf("len(id) = %d, %v; want 36", res.Value.I64(), err)
	}
	ids := map[string]bool{}
	for _, th := range f.threads.Threads() {
		ids[th.ID.String()] = true
	}
	if len(ids) != len(f.threads.Threads()) {
		t.Error("thread ids are not unique")
	}
}

func TestRunAll(t *testing.T) {
	f := newFixture(t)
	calls := []Call{
		{Entry: "sum", Args: []vm.Slot{vm.I64(1), vm.I64(2)}},
		{Entry: "sum", Args: []vm.Slot{vm.I64(30), vm.I64(4)}},
		{Entry: "count"},
	}
	res, err := RunAll(context.Background(), f.mod, calls, f.config())
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{3, 34, 400}
	for k, w := range want {
		if got := res[k].Value.I64(); got != w {
			t.Errorf("%s = %d, want %d", calls[k], got, w)
		}
	}
	f.threads.Wait()

	_, err = RunAll(context.Background(), f.mod, []Call{{Entry: "nop"}, {Entry: "boom"}}, f.config())
	if te, ok := vm.AsTrap(err); !ok || te.Kind != bc.TrapDivisionByZero || !strings.HasPrefix(err.Error(), "boom:") {
		t.Errorf("RunAll = %v", err)
	}
}

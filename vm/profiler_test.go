package vm

import (
	"sync"
	"testing"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

func TestProfilerRecordCall(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 5

	fn := &bc.Function{Name: "test"}

	if p.RecordCall(fn) {
		t.Error("function should not be hot after 1 call")
	}
	profile := p.Profile(fn)
	if profile == nil {
		t.Fatal("profile should exist after a call")
	}
	if profile.Calls != 1 {
		t.Errorf("expected 1 call, got %d", profile.Calls)
	}

	var becameHot bool
	for i := 0; i < 4; i++ {
		becameHot = p.RecordCall(fn)
	}
	if !becameHot {
		t.Error("function should become hot at threshold")
	}
	if !p.Profile(fn).IsHot {
		t.Error("IsHot should be set")
	}
	if p.RecordCall(fn) {
		t.Error("function should not re-trigger hot")
	}
}

func TestProfilerOnHot(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 2
	var fired []string
	p.OnHot = func(fn *bc.Function, _ *FunctionProfile) { fired = append(fired, fn.Name) }

	a, b := &bc.Function{Name: "a"}, &bc.Function{Name: "b"}
	for i := 0; i < 3; i++ {
		p.RecordCall(a)
	}
	p.RecordCall(b)

	if len(fired) != 1 || fired[0] != "a" {
		t.Errorf("OnHot fired for %v, want [a]", fired)
	}
}

func TestProfilerStats(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 3

	fns := []*bc.Function{{Name: "f0"}, {Name: "f1"}, {Name: "f2"}}
	for i, fn := range fns {
		for n := 0; n <= i*2; n++ {
			p.RecordCall(fn)
		}
	}
	p.RecordOp(bc.OpAddI64)
	p.RecordOp(bc.OpAddI64)
	p.RecordOp(bc.OpReturn)

	stats := p.Stats()
	if stats.Functions != 3 {
		t.Errorf("expected 3 functions, got %d", stats.Functions)
	}
	// f0: 1, f1: 3 (hot), f2: 5 (hot)
	if stats.HotFunctions != 2 {
		t.Errorf("expected 2 hot functions, got %d", stats.HotFunctions)
	}
	if stats.Calls != 9 {
		t.Errorf("expected 9 calls, got %d", stats.Calls)
	}
	if stats.Dispatches != 3 {
		t.Errorf("expected 3 dispatches, got %d", stats.Dispatches)
	}
	if got := p.OpCount(bc.OpAddI64); got != 2 {
		t.Errorf("OpCount(ADD_I64) = %d, want 2", got)
	}
}

func TestProfilerHotFunctions(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 2

	hot, cold := &bc.Function{Name: "hot"}, &bc.Function{Name: "cold"}
	p.RecordCall(hot)
	p.RecordCall(hot)
	p.RecordCall(cold)

	got := p.HotFunctions()
	if len(got) != 1 || got[0] != hot {
		t.Errorf("HotFunctions = %v, want [hot]", got)
	}
}

func TestProfilerTopFunctions(t *testing.T) {
	p := NewProfiler()

	fns := map[string]int{"a": 10, "b": 50, "c": 30, "d": 30}
	byName := map[string]*bc.Function{}
	for name, n := range fns {
		fn := &bc.Function{Name: name}
		byName[name] = fn
		for i := 0; i < n; i++ {
			p.RecordCall(fn)
		}
	}

	top := p.TopFunctions(3)
	want := []string{"b", "c", "d"}
	if len(top) != len(want) {
		t.Fatalf("expected %d functions, got %d", len(want), len(top))
	}
	for i, name := range want {
		if top[i] != byName[name] {
			t.Errorf("top[%d] = %s, want %s", i, top[i].Name, name)
		}
	}
}

func TestProfilerTopOpcodes(t *testing.T) {
	p := NewProfiler()
	for i := 0; i < 3; i++ {
		p.RecordOp(bc.OpLoadLocal)
	}
	p.RecordOp(bc.OpCall)

	top := p.TopOpcodes(1)
	if len(top) != 1 || top[0].Op != bc.OpLoadLocal || top[0].Count != 3 {
		t.Errorf("TopOpcodes(1) = %+v", top)
	}
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1
	fn := &bc.Function{Name: "f"}
	p.RecordCall(fn)
	p.RecordOp(bc.OpPop)

	p.Reset()

	if p.Profile(fn) != nil {
		t.Error("profile should be cleared")
	}
	if stats := p.Stats(); stats.Calls != 0 || stats.Dispatches != 0 {
		t.Errorf("stats after reset = %+v", stats)
	}
}

func TestProfilerConcurrentAccess(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 1000

	fn := &bc.Function{Name: "test"}

	var wg sync.WaitGroup
	goroutines := 10
	callsPerGoroutine := 100
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < callsPerGoroutine; i++ {
				p.RecordCall(fn)
				p.RecordOp(bc.OpCall)
			}
		}()
	}
	wg.Wait()

	expected := uint64(goroutines * callsPerGoroutine)
	if got := p.Calls(fn); got != expected {
		t.Errorf("expected %d calls, got %d", expected, got)
	}
	if got := p.OpCount(bc.OpCall); got != expected {
		t.Errorf("expected %d dispatches, got %d", expected, got)
	}
}

// BenchmarkProfilerRecordCall measures profiling overhead.
func BenchmarkProfilerRecordCall(b *testing.B) {
	p := NewProfiler()
	fn := &bc.Function{Name: "test"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.RecordCall(fn)
	}
}

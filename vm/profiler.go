package vm

import (
	"sync"
	"sync/atomic"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// Profiler counts function calls and dispatched opcodes. One profiler may
// be shared by every instance running a module; counters are atomic.

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	Calls uint64 // Atomic counter for calls
	IsHot bool   // True once Calls reached the hot threshold
}

// Profiler manages profiling for all functions of a program.
type Profiler struct {
	funcs sync.Map // *bytecode.Function -> *FunctionProfile
	ops   [256]uint64

	// HotThreshold is the call count at which a function is reported hot.
	HotThreshold uint64

	// OnHot runs once per function when it becomes hot.
	OnHot func(fn *bc.Function, profile *FunctionProfile)

	hotCount uint64
}

// NewProfiler creates a new profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// RecordCall increments the call count of fn. It reports whether this
// call made the function hot.
func (p *Profiler) RecordCall(fn *bc.Function) bool {
	if fn == nil {
		return false
	}
	val, _ := p.funcs.LoadOrStore(fn, &FunctionProfile{})
	profile := val.(*FunctionProfile)

	count := atomic.AddUint64(&profile.Calls, 1)
	if count == p.HotThreshold {
		profile.IsHot = true
		atomic.AddUint64(&p.hotCount, 1)
		if p.OnHot != nil {
			p.OnHot(fn, profile)
		}
		return true
	}
	return false
}

// RecordOp counts one dispatch of op.
func (p *Profiler) RecordOp(op bc.Opcode) {
	atomic.AddUint64(&p.ops[op], 1)
}

// Profile returns the profile of fn, or nil if it was never called.
func (p *Profiler) Profile(fn *bc.Function) *FunctionProfile {
	if val, ok := p.funcs.Load(fn); ok {
		return val.(*FunctionProfile)
	}
	return nil
}

// Calls returns the call count of fn.
func (p *Profiler) Calls(fn *bc.Function) uint64 {
	if profile := p.Profile(fn); profile != nil {
		return atomic.LoadUint64(&profile.Calls)
	}
	return 0
}

// OpCount returns how many times op was dispatched.
func (p *Profiler) OpCount(op bc.Opcode) uint64 {
	return atomic.LoadUint64(&p.ops[op])
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Functions    int    // Number of functions called at least once
	HotFunctions int    // Number of hot functions
	Calls        uint64 // Total calls
	Dispatches   uint64 // Total dispatched instructions
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.funcs.Range(func(_, value interface{}) bool {
		profile := value.(*FunctionProfile)
		stats.Functions++
		stats.Calls += atomic.LoadUint64(&profile.Calls)
		if profile.IsHot {
			stats.HotFunctions++
		}
		return true
	})
	for k := range p.ops {
		stats.Dispatches += atomic.LoadUint64(&p.ops[k])
	}
	return stats
}

// HotFunctions returns every function past the hot threshold.
func (p *Profiler) HotFunctions() []*bc.Function {
	var hot []*bc.Function
	p.funcs.Range(func(key, value interface{}) bool {
		if value.(*FunctionProfile).IsHot {
			hot = append(hot, key.(*bc.Function))
		}
		return true
	})
	return hot
}

// TopFunctions returns the n most frequently called functions.
func (p *Profiler) TopFunctions(n int) []*bc.Function {
	type funcCount struct {
		fn    *bc.Function
		count uint64
	}
	var all []funcCount
	p.funcs.Range(func(key, value interface{}) bool {
		all = append(all, funcCount{key.(*bc.Function), atomic.LoadUint64(&value.(*FunctionProfile).Calls)})
		return true
	})

	// Selection sort for top N; ties break by name for stable output.
	for i := 0; i < n && i < len(all); i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].count > all[maxIdx].count ||
				all[j].count == all[maxIdx].count && all[j].fn.Name < all[maxIdx].fn.Name {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}

	result := make([]*bc.Function, 0, n)
	for i := 0; i < n && i < len(all); i++ {
		result = append(result, all[i].fn)
	}
	return result
}

// OpcodeCount pairs an opcode with its dispatch count.
type OpcodeCount struct {
	Op    bc.Opcode
	Count uint64
}

// TopOpcodes returns the n most frequently dispatched opcodes.
func (p *Profiler) TopOpcodes(n int) []OpcodeCount {
	var all []OpcodeCount
	for k := range p.ops {
		if c := atomic.LoadUint64(&p.ops[k]); c > 0 {
			all = append(all, OpcodeCount{bc.Opcode(k), c})
		}
	}
	for i := 0; i < n && i < len(all); i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].Count > all[maxIdx].Count {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.funcs.Range(func(key, _ interface{}) bool {
		p.funcs.Delete(key)
		return true
	})
	for k := range p.ops {
		atomic.StoreUint64(&p.ops[k], 0)
	}
	atomic.StoreUint64(&p.hotCount, 0)
}

package vm

import (
	"sync"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// Runtime is the external helper library as seen by the interpreter. It
// owns every pointer region from RegionHeapBase up; the interpreter keeps
// the alloca region itself.
//
// Load returns width bytes at p zero-extended; width is 1, 2, 4 or 8.
// Errors are turned into traps; return NewTrap to choose the kind.
type Runtime interface {
	Load(p Slot, width int) (uint64, error)
	Store(p Slot, width int, v uint64) error
	Intern(s string) Slot
	Retain(p Slot)
	Release(p Slot)
}

// ScopeExiter is implemented by runtimes that hold per-frame resources.
// ScopeExit runs for every frame discarded by trap unwinding; depth is the
// frame's index on the call stack.
type ScopeExiter interface {
	ScopeExit(depth int)
}

// stringRuntime is the runtime used when none is configured. It serves
// read-only string constants, one region per string.
type stringRuntime struct {
	mu   sync.Mutex
	strs []string
	idx  map[string]uint32
}

func newStringRuntime() *stringRuntime {
	return &stringRuntime{idx: make(map[string]uint32)}
}

func (r *stringRuntime) Intern(s string) Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.idx[s]
	if !ok {
		n = uint32(len(r.strs))
		r.strs = append(r.strs, s)
		r.idx[s] = n
	}
	return Ptr(RegionHeapBase+n, 0)
}

// String returns the string p points into.
func (r *stringRuntime) String(p Slot) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int(p.Region()) - int(RegionHeapBase)
	if n < 0 || n >= len(r.strs) {
		return "", false
	}
	return r.strs[n][min(int(p.Offset()), len(r.strs[n])):], true
}

func (r *stringRuntime) Load(p Slot, width int) (uint64, error) {
	s, ok := r.String(p)
	if !ok {
		return 0, NewTrap(bc.TrapNullPointer, "no heap region %d", p.Region())
	}
	if len(s) < width {
		return 0, NewTrap(bc.TrapIndexOutOfBounds, "read past end of string")
	}
	var v uint64
	for k := width - 1; k >= 0; k-- {
		v = v<<8 | uint64(s[k])
	}
	return v, nil
}

func (r *stringRuntime) Store(p Slot, width int, v uint64) error {
	return NewTrap(bc.TrapInvalidOperation, "heap region %d is read-only", p.Region())
}

func (r *stringRuntime) Retain(Slot)  {}
func (r *stringRuntime) Release(Slot) {}

package vm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Native-call bridge
// ---------------------------------------------------------------------------

// Sig is the signature of a native helper.
type Sig struct {
	Params []ValueKind
	Result ValueKind
}

// SourceLoc identifies the call site of a native.
type SourceLoc struct {
	Module string
	Func   string
	Line   int
}

// NativeCall is what the generic path hands to a native. Args is a copy
// owned by the callee.
type NativeCall struct {
	Args  []Slot
	Loc   SourceLoc
	Depth int
	Ctx   context.Context
	VM    *Interpreter
}

// NativeFunc is the generic entry of a native.
type NativeFunc func(call *NativeCall) (Slot, error)

// FastFunc is the optional fast entry. args aliases the value stack and
// must not be retained.
type FastFunc func(args []Slot) (Slot, error)

// NativeEntry describes one registered helper.
type NativeEntry struct {
	Name string
	Sig  Sig
	Fn   NativeFunc
	Fast FastFunc
}

// NativeRegistry maps helper names to entries. It is safe for concurrent
// use and is normally shared by every instance running one program.
type NativeRegistry struct {
	mu      sync.RWMutex
	entries map[string]*NativeEntry
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{entries: make(map[string]*NativeEntry)}
}

// Register adds or replaces an entry. Call sites already bound to the old
// entry keep it until their instance is reset.
func (r *NativeRegistry) Register(e NativeEntry) error {
	if e.Name == "" {
		return fmt.Errorf("vm: native without a name")
	}
	if e.Fn == nil {
		return fmt.Errorf("vm: native %s has no entry point", e.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Name] = &e
	return nil
}

// MustRegister is Register for static tables.
func (r *NativeRegistry) MustRegister(entries ...NativeEntry) {
	for _, e := range entries {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the entry registered under name.
func (r *NativeRegistry) Lookup(name string) (*NativeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns the registered names in sorted order.
func (r *NativeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Missing returns the natives m references that r cannot resolve.
func (r *NativeRegistry) Missing(m *bc.Module) []string {
	var out []string
	for _, n := range m.Natives {
		if _, ok := r.Lookup(n.Name); !ok {
			out = append(out, n.Name)
		}
	}
	return out
}

// resolveNative binds module native idx through the call-site cache.
func (i *Interpreter) resolveNative(idx int) (*NativeEntry, bool) {
	key := NativePointer(idx)
	ic := i.siteCache()
	if t, ok := ic.Lookup(key); ok {
		return t.native, true
	}
	if idx >= len(i.mod.Natives) {
		return nil, false
	}
	e, ok := i.natives.Lookup(i.mod.Natives[idx].Name)
	if !ok {
		return nil, false
	}
	ic.Update(key, callTarget{native: e})
	return e, true
}

// callNative runs module native idx on the top argc slots.
func (i *Interpreter) callNative(idx, argc int, hasResult bool) {
	e, ok := i.resolveNative(idx)
	if !ok {
		name := "?"
		if idx < len(i.mod.Natives) {
			name = i.mod.Natives[idx].Name
		}
		i.raise(bc.TrapRuntimeError, "native function not registered: %s", name)
		return
	}
	if e.Sig.Params != nil && len(e.Sig.Params) != argc {
		i.raise(bc.TrapRuntimeError, "native %s takes %d arguments, got %d", e.Name, len(e.Sig.Params), argc)
		return
	}

	window := i.stack[i.sp-argc : i.sp]
	var (
		res Slot
		err error
	)
	if i.opts.NativeFastPath && e.Fast != nil {
		res, err = e.Fast(window)
	} else {
		call := &NativeCall{
			Args:  append([]Slot(nil), window...),
			Loc:   SourceLoc{Module: i.mod.Name, Func: i.fn.Name, Line: int(i.fn.Line(i.ipc))},
			Depth: len(i.frames) - 1,
			Ctx:   i.ctx,
			VM:    i,
		}
		res, err = e.Fn(call)
	}
	if err != nil {
		kind, msg := trapOf(err)
		i.raise(kind, "%s: %s", e.Name, msg)
		return
	}
	i.sp -= argc
	if hasResult {
		i.stack[i.sp] = res
		i.sp++
	}
}

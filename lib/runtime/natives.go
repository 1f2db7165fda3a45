package runtime

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/vm"
)

// ---------------------------------------------------------------------------
// Helper natives
// ---------------------------------------------------------------------------

var (
	sigVoid    = vm.Sig{Result: vm.KindVoid}
	sigStr     = vm.Sig{Params: []vm.ValueKind{vm.KindStr}, Result: vm.KindVoid}
	sigI64     = vm.Sig{Params: []vm.ValueKind{vm.KindI64}, Result: vm.KindVoid}
	sigF64     = vm.Sig{Params: []vm.ValueKind{vm.KindF64}, Result: vm.KindVoid}
	sigPtr     = vm.Sig{Params: []vm.ValueKind{vm.KindPtr}, Result: vm.KindVoid}
	sigPtrI64  = vm.Sig{Params: []vm.ValueKind{vm.KindPtr, vm.KindI64}, Result: vm.KindI64}
	sigPtrBool = vm.Sig{Params: []vm.ValueKind{vm.KindPtr}, Result: vm.KindI64}
	sigF64F64  = vm.Sig{Params: []vm.ValueKind{vm.KindF64}, Result: vm.KindF64}
)

// Install registers the helper natives of c in reg.
func Install(reg *vm.NativeRegistry, c *Context) {
	h := c.Heap

	str := func(p vm.Slot) (string, error) { return h.String(p) }
	newStr := func(s string) (vm.Slot, error) { return h.NewString(s) }
	emit := func(s string) (vm.Slot, error) {
		_, err := io.WriteString(c, s)
		return 0, err
	}

	fast := func(f vm.FastFunc) vm.NativeFunc {
		return func(call *vm.NativeCall) (vm.Slot, error) { return f(call.Args) }
	}
	entry := func(name string, sig vm.Sig, f vm.FastFunc) vm.NativeEntry {
		return vm.NativeEntry{Name: name, Sig: sig, Fn: fast(f), Fast: f}
	}

	reg.MustRegister(
		// Output
		entry("rt_print_str", sigStr, func(a []vm.Slot) (vm.Slot, error) {
			s, err := str(a[0])
			if err != nil {
				return 0, err
			}
			return emit(s)
		}),
		entry("rt_print_i64", sigI64, func(a []vm.Slot) (vm.Slot, error) {
			return emit(vm.FormatSlot(vm.KindI64, a[0]))
		}),
		entry("rt_print_f64", sigF64, func(a []vm.Slot) (vm.Slot, error) {
			return emit(vm.FormatSlot(vm.KindF64, a[0]))
		}),
		entry("rt_print_nl", sigVoid, func([]vm.Slot) (vm.Slot, error) {
			return emit("\n")
		}),

		// Strings
		entry("rt_str_len", vm.Sig{Params: []vm.ValueKind{vm.KindStr}, Result: vm.KindI64},
			func(a []vm.Slot) (vm.Slot, error) {
				s, err := str(a[0])
				return vm.I64(int64(len(s))), err
			}),
		entry("rt_str_concat", vm.Sig{Params: []vm.ValueKind{vm.KindStr, vm.KindStr}, Result: vm.KindStr},
			func(a []vm.Slot) (vm.Slot, error) {
				x, err := str(a[0])
				if err != nil {
					return 0, err
				}
				y, err := str(a[1])
				if err != nil {
					return 0, err
				}
				return newStr(x + y)
			}),
		entry("rt_str_eq", vm.Sig{Params: []vm.ValueKind{vm.KindStr, vm.KindStr}, Result: vm.KindI64},
			func(a []vm.Slot) (vm.Slot, error) {
				x, err := str(a[0])
				if err != nil {
					return 0, err
				}
				y, err := str(a[1])
				return vm.Bool(x == y), err
			}),
		entry("rt_str_substr", vm.Sig{Params: []vm.ValueKind{vm.KindStr, vm.KindI64, vm.KindI64}, Result: vm.KindStr},
			func(a []vm.Slot) (vm.Slot, error) {
				s, err := str(a[0])
				if err != nil {
					return 0, err
				}
				start, n := a[1].I64(), a[2].I64()
				if start < 0 || n < 0 || start > int64(len(s)) {
					return 0, vm.NewTrap(bc.TrapIndexOutOfBounds, "substr(%d, %d) of a %d-byte string", start, n, len(s))
				}
				return newStr(s[start:min(start+n, int64(len(s)))])
			}),
		entry("rt_int_to_str", vm.Sig{Params: []vm.ValueKind{vm.KindI64}, Result: vm.KindStr},
			func(a []vm.Slot) (vm.Slot, error) { return newStr(vm.FormatSlot(vm.KindI64, a[0])) }),
		entry("rt_f64_to_str", vm.Sig{Params: []vm.ValueKind{vm.KindF64}, Result: vm.KindStr},
			func(a []vm.Slot) (vm.Slot, error) { return newStr(vm.FormatSlot(vm.KindF64, a[0])) }),

		// Memory
		entry("rt_alloc", vm.Sig{Params: []vm.ValueKind{vm.KindI64}, Result: vm.KindPtr},
			func(a []vm.Slot) (vm.Slot, error) { return h.Alloc(a[0].I64()) }),
		entry("rt_free", sigPtr, func(a []vm.Slot) (vm.Slot, error) {
			if !a[0].IsNull() {
				h.Release(a[0])
			}
			return 0, nil
		}),

		// Math
		entry("rt_sqrt", sigF64F64, func(a []vm.Slot) (vm.Slot, error) {
			x := a[0].F64()
			if x < 0 {
				return 0, vm.NewTrap(bc.TrapDomainError, "sqrt of negative number")
			}
			return vm.F64(math.Sqrt(x)), nil
		}),
		entry("rt_floor", sigF64F64, func(a []vm.Slot) (vm.Slot, error) {
			return vm.F64(math.Floor(a[0].F64())), nil
		}),
		entry("rt_pow_f64", vm.Sig{Params: []vm.ValueKind{vm.KindF64, vm.KindF64}, Result: vm.KindF64},
			func(a []vm.Slot) (vm.Slot, error) {
				r := math.Pow(a[0].F64(), a[1].F64())
				if math.IsNaN(r) && !math.IsNaN(a[0].F64()) && !math.IsNaN(a[1].F64()) {
					return 0, vm.NewTrap(bc.TrapDomainError, "pow(%g, %g)", a[0].F64(), a[1].F64())
				}
				return vm.F64(r), nil
			}),
		entry("rt_abs_i64", vm.Sig{Params: []vm.ValueKind{vm.KindI64}, Result: vm.KindI64},
			func(a []vm.Slot) (vm.Slot, error) {
				x := a[0].I64()
				if x == math.MinInt64 {
					return 0, vm.NewTrap(bc.TrapOverflow, "abs of most negative integer")
				}
				if x < 0 {
					x = -x
				}
				return vm.I64(x), nil
			}),
	)
	installMonitors(reg)
}

// ---------------------------------------------------------------------------
// Monitor natives
// ---------------------------------------------------------------------------

// session returns the Session of the calling interpreter.
func session(call *vm.NativeCall) (*Session, error) {
	s, ok := call.VM.Runtime().(*Session)
	if !ok {
		return nil, vm.NewTrap(bc.TrapRuntimeError, "interpreter has no runtime session")
	}
	return s, nil
}

// monitorOp resolves the session and the monitor of the first argument.
func monitorOp(call *vm.NativeCall, op string) (*Session, *Monitor, error) {
	s, err := session(call)
	if err != nil {
		return nil, nil, err
	}
	obj := call.Args[0]
	if obj.IsNull() {
		return nil, nil, vm.NewTrap(bc.TrapNullPointer, "Monitor.%s: null object", op)
	}
	return s, s.ctx.Monitors.For(obj), nil
}

func ownerTrap(op string, err error) error {
	if errors.Is(err, ErrNotOwner) {
		return vm.NewTrap(bc.TrapInvalidOperation, "Monitor.%s: not owner", op)
	}
	return err
}

func millis(s vm.Slot) time.Duration {
	return time.Duration(max(s.I64(), 0)) * time.Millisecond
}

func installMonitors(reg *vm.NativeRegistry) {
	reg.MustRegister(
		vm.NativeEntry{Name: "rt_monitor_enter", Sig: sigPtr, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "Enter")
			if err != nil {
				return 0, err
			}
			ctx := call.Ctx
			if ctx == nil {
				ctx = context.Background()
			}
			if err := m.Enter(ctx, s.owner); err != nil {
				return 0, vm.NewTrap(bc.TrapRuntimeError, "Monitor.Enter: %s", err)
			}
			s.noteEnter(call.Args[0], call.Depth)
			return 0, nil
		}},
		vm.NativeEntry{Name: "rt_monitor_try_enter", Sig: sigPtrBool, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "TryEnter")
			if err != nil {
				return 0, err
			}
			ok := m.TryEnter(s.owner)
			if ok {
				s.noteEnter(call.Args[0], call.Depth)
			}
			return vm.Bool(ok), nil
		}},
		vm.NativeEntry{Name: "rt_monitor_try_enter_for", Sig: sigPtrI64, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "TryEnterFor")
			if err != nil {
				return 0, err
			}
			ok := m.TryEnterFor(s.owner, millis(call.Args[1]))
			if ok {
				s.noteEnter(call.Args[0], call.Depth)
			}
			return vm.Bool(ok), nil
		}},
		vm.NativeEntry{Name: "rt_monitor_exit", Sig: sigPtr, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "Exit")
			if err != nil {
				return 0, err
			}
			if err := m.Exit(s.owner); err != nil {
				return 0, ownerTrap("Exit", err)
			}
			s.noteExit(call.Args[0])
			return 0, nil
		}},
		vm.NativeEntry{Name: "rt_monitor_wait", Sig: sigPtr, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "Wait")
			if err != nil {
				return 0, err
			}
			return 0, ownerTrap("Wait", m.Wait(s.owner))
		}},
		vm.NativeEntry{Name: "rt_monitor_wait_for", Sig: sigPtrI64, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "WaitFor")
			if err != nil {
				return 0, err
			}
			ok, err := m.WaitFor(s.owner, millis(call.Args[1]))
			return vm.Bool(ok), ownerTrap("WaitFor", err)
		}},
		vm.NativeEntry{Name: "rt_monitor_pause", Sig: sigPtr, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "Pause")
			if err != nil {
				return 0, err
			}
			return 0, ownerTrap("Pause", m.Pause(s.owner))
		}},
		vm.NativeEntry{Name: "rt_monitor_pause_all", Sig: sigPtr, Fn: func(call *vm.NativeCall) (vm.Slot, error) {
			s, m, err := monitorOp(call, "PauseAll")
			if err != nil {
				return 0, err
			}
			return 0, ownerTrap("PauseAll", m.PauseAll(s.owner))
		}},
	)
}

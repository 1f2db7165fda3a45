package threads

import (
	"context"
	"errors"
	"time"

	rt "github.com/splanck/viper-sub004/lib/runtime"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/vm"
)

// Install registers the thread natives in reg and returns the registry
// their handles resolve through. Spawned interpreters copy the caller's
// options, get a fresh session of c and resolve natives through reg.
//
//	rt_thread_start(entry, arg) ptr     entry takes no parameter or one ptr
//	rt_thread_join(thread)
//	rt_thread_try_join(thread) i64
//	rt_thread_join_for(thread, ms) i64
//	rt_thread_is_alive(thread) i64
//	rt_thread_get_id(thread) str
//	rt_thread_sleep(ms)
func Install(reg *vm.NativeRegistry, c *rt.Context) *Registry {
	threads := NewRegistry(c.Heap)

	handle := func(call *vm.NativeCall, op string) (*Thread, error) {
		h := call.Args[0]
		if h.IsNull() {
			return nil, vm.NewTrap(bc.TrapNullPointer, "Thread.%s: null thread", op)
		}
		t, ok := threads.Lookup(h)
		if !ok {
			return nil, vm.NewTrap(bc.TrapInvalidOperation, "Thread.%s: not a thread handle", op)
		}
		if t.interp == call.VM {
			return nil, vm.NewTrap(bc.TrapInvalidOperation, "Thread.%s: cannot join self", op)
		}
		return t, nil
	}

	// joined turns the outcome of a join into the native's result.
	joined := func(op string, err error) error {
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrAlreadyJoined):
			return vm.NewTrap(bc.TrapInvalidOperation, "Thread.%s: already joined", op)
		}
		if te, ok := vm.AsTrap(err); ok {
			return vm.NewTrap(te.Kind, "Thread.%s: thread failed: %s", op, te)
		}
		return vm.NewTrap(bc.TrapRuntimeError, "Thread.%s: thread failed: %s", op, err)
	}

	ptr, i64 := vm.KindPtr, vm.KindI64
	reg.MustRegister(
		vm.NativeEntry{
			Name: "rt_thread_start",
			Sig:  vm.Sig{Params: []vm.ValueKind{ptr, ptr}, Result: ptr},
			Fn: func(call *vm.NativeCall) (vm.Slot, error) {
				entry, arg := call.Args[0], call.Args[1]
				if entry.IsNull() {
					return 0, vm.NewTrap(bc.TrapNullPointer, "Thread.Start: null entry")
				}
				mod := call.VM.Module()
				if !entry.IsFunc() || entry.IsNative() || entry.FuncIndex() >= len(mod.Functions) {
					return 0, vm.NewTrap(bc.TrapInvalidOperation, "Thread.Start: invalid entry")
				}
				fn := mod.Functions[entry.FuncIndex()]
				if fn.NumParams > 1 {
					return 0, vm.NewTrap(bc.TrapInvalidOperation, "Thread.Start: invalid entry signature")
				}
				var args []vm.Slot
				if fn.NumParams == 1 {
					args = []vm.Slot{arg}
				}

				opts := call.VM.Options()
				opts.Runtime = c.NewSession()
				opts.Natives = reg
				ctx := call.Ctx
				if ctx == nil {
					ctx = context.Background()
				}
				t := spawn(ctx, vm.New(mod, vm.WithOptions(opts)), fn.Name, args)
				h, err := threads.add(t)
				if err != nil {
					return 0, err
				}
				return h, nil
			},
		},
		vm.NativeEntry{
			Name: "rt_thread_join",
			Sig:  vm.Sig{Params: []vm.ValueKind{ptr}, Result: vm.KindVoid},
			Fn: func(call *vm.NativeCall) (vm.Slot, error) {
				t, err := handle(call, "Join")
				if err != nil {
					return 0, err
				}
				_, err = t.Join()
				return 0, joined("Join", err)
			},
		},
		vm.NativeEntry{
			Name: "rt_thread_try_join",
			Sig:  vm.Sig{Params: []vm.ValueKind{ptr}, Result: i64},
			Fn: func(call *vm.NativeCall) (vm.Slot, error) {
				t, err := handle(call, "TryJoin")
				if err != nil {
					return 0, err
				}
				_, ok, err := t.TryJoinFor(0)
				return vm.Bool(ok), joined("TryJoin", err)
			},
		},
		vm.NativeEntry{
			Name: "rt_thread_join_for",
			Sig:  vm.Sig{Params: []vm.ValueKind{ptr, i64}, Result: i64},
			Fn: func(call *vm.NativeCall) (vm.Slot, error) {
				t, err := handle(call, "JoinFor")
				if err != nil {
					return 0, err
				}
				ms := max(call.Args[1].I64(), 0)
				_, ok, err := t.TryJoinFor(time.Duration(ms) * time.Millisecond)
				return vm.Bool(ok), joined("JoinFor", err)
			},
		},
		vm.NativeEntry{
			Name: "rt_thread_is_alive",
			Sig:  vm.Sig{Params: []vm.ValueKind{ptr}, Result: i64},
			Fn: func(call *vm.NativeCall) (vm.Slot, error) {
				t, ok := threads.Lookup(call.Args[0])
				if !ok {
					return 0, vm.NewTrap(bc.TrapInvalidOperation, "Thread.IsAlive: not a thread handle")
				}
				return vm.Bool(t.Alive()), nil
			},
		},
		vm.NativeEntry{
			Name: "rt_thread_get_id",
			Sig:  vm.Sig{Params: []vm.ValueKind{ptr}, Result: vm.KindStr},
			Fn: func(call *vm.NativeCall) (vm.Slot, error) {
				t, ok := threads.Lookup(call.Args[0])
				if !ok {
					return 0, vm.NewTrap(bc.TrapInvalidOperation, "Thread.Id: not a thread handle")
				}
				return c.Heap.NewString(t.ID.String())
			},
		},
		vm.NativeEntry{
			Name: "rt_thread_sleep",
			Sig:  vm.Sig{Params: []vm.ValueKind{i64}, Result: vm.KindVoid},
			Fn: func(call *vm.NativeCall) (vm.Slot, error) {
				ms := call.Args[0].I64()
				if ms <= 0 {
					return 0, nil
				}
				timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
				defer timer.Stop()
				if call.Ctx == nil {
					<-timer.C
					return 0, nil
				}
				select {
				case <-timer.C:
				case <-call.Ctx.Done():
				}
				return 0, nil
			},
		},
	)
	return threads
}

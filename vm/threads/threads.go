// Package threads runs bytecode on several goroutines. Each logical thread
// owns a fresh interpreter; the compiled module, the native registry and
// the runtime heap are shared.
package threads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	rt "github.com/splanck/viper-sub004/lib/runtime"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/vm"
)

var log = commonlog.GetLogger("bcvm.threads")

// ErrAlreadyJoined is returned by Join and TryJoinFor after a successful
// join.
var ErrAlreadyJoined = errors.New("threads: thread already joined")

// Config is what a spawned interpreter is built from.
type Config struct {
	// Runtime is shared by every thread; each thread gets its own session.
	// Nil runs threads without a heap.
	Runtime *rt.Context
	Natives *vm.NativeRegistry
	// VM holds options applied before Runtime and Natives.
	VM []vm.Option
}

func (c *Config) options() []vm.Option {
	var opts []vm.Option
	if c == nil {
		return opts
	}
	opts = append(opts, c.VM...)
	if c.Runtime != nil {
		opts = append(opts, vm.WithRuntime(c.Runtime.NewSession()))
	}
	if c.Natives != nil {
		opts = append(opts, vm.WithNatives(c.Natives))
	}
	return opts
}

// Thread is one interpreter running on its own goroutine.
type Thread struct {
	ID    uuid.UUID
	Entry string

	interp *vm.Interpreter
	done   chan struct{}
	res    vm.Result
	err    error
	joined atomic.Bool
}

// Spawn starts entry on a new interpreter. The result is delivered through
// Done, Join and TryJoinFor.
func Spawn(ctx context.Context, mod *bc.Module, entry string, args []vm.Slot, cfg *Config) *Thread {
	return spawn(ctx, vm.New(mod, cfg.options()...), entry, args)
}

func spawn(ctx context.Context, interp *vm.Interpreter, entry string, args []vm.Slot) *Thread {
	t := &Thread{
		ID:     uuid.New(),
		Entry:  entry,
		interp: interp,
		done:   make(chan struct{}),
	}
	args = append([]vm.Slot(nil), args...)
	log.Debugf("thread %s: starting %s", t.ID, entry)
	go func() {
		defer close(t.done)
		t.res, t.err = interp.ExecuteContext(ctx, entry, args...)
		if t.err != nil {
			log.Warningf("thread %s: %s", t.ID, t.err)
		} else {
			log.Debugf("thread %s: finished", t.ID)
		}
	}()
	return t
}

// Done is closed when the thread has finished.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Alive reports whether the thread is still running.
func (t *Thread) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Interpreter returns the interpreter the thread runs on.
func (t *Thread) Interpreter() *vm.Interpreter { return t.interp }

func (t *Thread) claim() (vm.Result, error) {
	if !t.joined.CompareAndSwap(false, true) {
		return vm.Result{}, ErrAlreadyJoined
	}
	return t.res, t.err
}

// Join waits for the thread and returns the entry's result. A thread can
// be joined once.
func (t *Thread) Join() (vm.Result, error) {
	if t.joined.Load() {
		return vm.Result{}, ErrAlreadyJoined
	}
	<-t.done
	return t.claim()
}

// TryJoinFor waits up to d. ok is false when the thread is still running.
func (t *Thread) TryJoinFor(d time.Duration) (res vm.Result, ok bool, err error) {
	if t.joined.Load() {
		return vm.Result{}, false, ErrAlreadyJoined
	}
	select {
	case <-t.done:
	default:
		timer := time.NewTimer(max(d, 0))
		defer timer.Stop()
		select {
		case <-t.done:
		case <-timer.C:
			return vm.Result{}, false, nil
		}
	}
	res, err = t.claim()
	if errors.Is(err, ErrAlreadyJoined) {
		return res, false, err
	}
	return res, true, err
}

// Call names one entry for RunAll.
type Call struct {
	Entry string
	Args  []vm.Slot
}

func (c Call) String() string { return fmt.Sprintf("%s%v", c.Entry, c.Args) }

// RunAll runs every call on its own thread and waits for all of them.
// Results are in call order. The first failure is returned; the others
// still run to completion.
func RunAll(ctx context.Context, mod *bc.Module, calls []Call, cfg *Config) ([]vm.Result, error) {
	results := make([]vm.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for k, c := range calls {
		g.Go(func() error {
			res, err := Spawn(gctx, mod, c.Entry, c.Args, cfg).Join()
			if err != nil {
				return fmt.Errorf("%s: %w", c.Entry, err)
			}
			results[k] = res
			return nil
		})
	}
	return results, g.Wait()
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Registry maps thread handles seen by bytecode to threads. Handles are
// heap regions, so they compare and pass around like any other pointer.
type Registry struct {
	mu      sync.Mutex
	heap    *rt.Heap
	threads map[vm.Slot]*Thread
	order   []*Thread
}

// NewRegistry creates a registry whose handles live in heap.
func NewRegistry(heap *rt.Heap) *Registry {
	return &Registry{heap: heap, threads: make(map[vm.Slot]*Thread)}
}

func (r *Registry) add(t *Thread) (vm.Slot, error) {
	h, err := r.heap.Alloc(8)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.threads[h] = t
	r.order = append(r.order, t)
	r.mu.Unlock()
	return h, nil
}

// Lookup returns the thread behind handle h.
func (r *Registry) Lookup(h vm.Slot) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[h]
	return t, ok
}

// Threads returns every thread started so far in start order.
func (r *Registry) Threads() []*Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Thread(nil), r.order...)
}

// Wait blocks until every started thread has finished.
func (r *Registry) Wait() {
	for _, t := range r.Threads() {
		<-t.Done()
	}
}

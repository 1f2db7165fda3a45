package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/splanck/viper-sub004/vm"
)

// ---------------------------------------------------------------------------
// Monitors: FIFO-fair, re-entrant locks keyed by object pointer
// ---------------------------------------------------------------------------

// ErrNotOwner is returned when a monitor operation requires ownership the
// caller does not have.
var ErrNotOwner = errors.New("runtime: monitor not owned by caller")

// Owner identifies a lock holder. Each Session is one owner.
type Owner uint64

type waiterState uint8

const (
	waitingLock waiterState = iota
	waitingPause
	acquired
)

// waiter is queued on a monitor. wake receives exactly one value, when the
// monitor is granted to it.
type waiter struct {
	owner     Owner
	state     waiterState
	recursion int
	wake      chan struct{}
}

func newWaiter(o Owner, state waiterState, recursion int) *waiter {
	return &waiter{owner: o, state: state, recursion: recursion, wake: make(chan struct{}, 1)}
}

// Monitor is a re-entrant lock with a condition queue. Ownership passes to
// waiters in arrival order; a newcomer never barges past a queued waiter.
type Monitor struct {
	mu        sync.Mutex
	owner     Owner
	recursion int
	acq       []*waiter
	waits     []*waiter
}

func (m *Monitor) isOwner(o Owner) bool { return m.recursion > 0 && m.owner == o }

// grantNext hands the monitor to the oldest acquirer. Caller holds m.mu
// and the monitor is free.
func (m *Monitor) grantNext() {
	if len(m.acq) == 0 {
		return
	}
	w := m.acq[0]
	m.acq = m.acq[1:]
	m.owner = w.owner
	m.recursion = w.recursion
	w.state = acquired
	w.wake <- struct{}{}
}

// tryAcquire takes the monitor without queueing. Caller holds m.mu.
func (m *Monitor) tryAcquire(o Owner) bool {
	if m.isOwner(o) {
		m.recursion++
		return true
	}
	if m.recursion == 0 && len(m.acq) == 0 {
		m.owner = o
		m.recursion = 1
		return true
	}
	return false
}

func removeWaiter(q []*waiter, w *waiter) []*waiter {
	for k, x := range q {
		if x == w {
			return append(q[:k], q[k+1:]...)
		}
	}
	return q
}

// Enter acquires the monitor for o, blocking until it is granted or ctx
// is done.
func (m *Monitor) Enter(ctx context.Context, o Owner) error {
	m.mu.Lock()
	if m.tryAcquire(o) {
		m.mu.Unlock()
		return nil
	}
	w := newWaiter(o, waitingLock, 1)
	m.acq = append(m.acq, w)
	m.mu.Unlock()

	select {
	case <-w.wake:
		return nil
	case <-ctx.Done():
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.state == acquired {
		<-w.wake
		return nil
	}
	m.acq = removeWaiter(m.acq, w)
	return ctx.Err()
}

// TryEnter acquires the monitor only if that needs no waiting.
func (m *Monitor) TryEnter(o Owner) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tryAcquire(o)
}

// TryEnterFor waits up to d for the monitor. A negative d is treated as 0.
func (m *Monitor) TryEnterFor(o Owner, d time.Duration) bool {
	if d <= 0 {
		return m.TryEnter(o)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return m.Enter(ctx, o) == nil
}

// Exit releases one level of ownership.
func (m *Monitor) Exit(o Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOwner(o) {
		return ErrNotOwner
	}
	m.recursion--
	if m.recursion == 0 {
		m.owner = 0
		m.grantNext()
	}
	return nil
}

// release gives up ownership completely and queues o for a pause signal.
// Caller holds m.mu.
func (m *Monitor) release(o Owner) (*waiter, error) {
	if !m.isOwner(o) {
		return nil, ErrNotOwner
	}
	w := newWaiter(o, waitingPause, m.recursion)
	m.owner, m.recursion = 0, 0
	m.grantNext()
	m.waits = append(m.waits, w)
	return w, nil
}

// Wait releases the monitor, waits for Pause or PauseAll, and re-acquires
// it with the same recursion depth.
func (m *Monitor) Wait(o Owner) error {
	m.mu.Lock()
	w, err := m.release(o)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	<-w.wake
	return nil
}

// WaitFor is Wait with a timeout. It reports false when the timeout
// expired before a pause signal; the monitor is re-acquired either way.
func (m *Monitor) WaitFor(o Owner, d time.Duration) (bool, error) {
	m.mu.Lock()
	w, err := m.release(o)
	m.mu.Unlock()
	if err != nil {
		return false, err
	}

	timer := time.NewTimer(max(d, 0))
	defer timer.Stop()
	select {
	case <-w.wake:
		return true, nil
	case <-timer.C:
	}

	m.mu.Lock()
	timedOut := w.state == waitingPause
	if timedOut {
		m.waits = removeWaiter(m.waits, w)
		w.state = waitingLock
		m.acq = append(m.acq, w)
		if m.recursion == 0 {
			m.grantNext()
		}
	}
	m.mu.Unlock()
	<-w.wake
	return !timedOut, nil
}

// Pause moves the oldest waiter to the acquire queue.
func (m *Monitor) Pause(o Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOwner(o) {
		return ErrNotOwner
	}
	if len(m.waits) > 0 {
		w := m.waits[0]
		m.waits = m.waits[1:]
		w.state = waitingLock
		m.acq = append(m.acq, w)
	}
	return nil
}

// PauseAll moves every waiter to the acquire queue.
func (m *Monitor) PauseAll(o Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOwner(o) {
		return ErrNotOwner
	}
	for _, w := range m.waits {
		w.state = waitingLock
		m.acq = append(m.acq, w)
	}
	m.waits = nil
	return nil
}

// Holder returns the current owner and recursion depth.
func (m *Monitor) Holder() (Owner, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, m.recursion
}

// MonitorTable maps object pointers to their monitors. Monitors are
// created on first use and never removed.
type MonitorTable struct {
	mu       sync.Mutex
	monitors map[vm.Slot]*Monitor
}

// NewMonitorTable creates an empty table.
func NewMonitorTable() *MonitorTable {
	return &MonitorTable{monitors: make(map[vm.Slot]*Monitor)}
}

// For returns the monitor of obj.
func (t *MonitorTable) For(obj vm.Slot) *Monitor {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.monitors[obj]
	if !ok {
		m = &Monitor{}
		t.monitors[obj] = m
	}
	return m
}

// Len returns the number of monitors created so far.
func (t *MonitorTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.monitors)
}

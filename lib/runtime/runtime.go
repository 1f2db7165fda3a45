// Package runtime is the helper library interpreters call through the
// native bridge: a shared heap of refcounted regions and strings, FIFO
// monitors, and output, math and string helpers.
package runtime

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/splanck/viper-sub004/vm"
)

var log = commonlog.GetLogger("bcvm.runtime")

// Context is the state shared by every interpreter running one program:
// the heap, the monitor table and the output stream.
type Context struct {
	Heap     *Heap
	Monitors *MonitorTable

	outMu sync.Mutex
	out   io.Writer

	nextOwner atomic.Uint64
}

// Config holds runtime configuration.
type Config struct {
	Out io.Writer // defaults to os.Stdout
}

// NewContext creates a runtime context.
func NewContext(cfg *Config) *Context {
	c := &Context{Heap: NewHeap(), Monitors: NewMonitorTable(), out: os.Stdout}
	if cfg != nil && cfg.Out != nil {
		c.out = cfg.Out
	}
	return c
}

// Write serializes output from concurrent interpreters.
func (c *Context) Write(p []byte) (int, error) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.out.Write(p)
}

// NewSession returns the vm.Runtime for one interpreter.
func (c *Context) NewSession() *Session {
	return &Session{Heap: c.Heap, ctx: c, owner: Owner(c.nextOwner.Add(1))}
}

// heldMonitor is one level of ownership taken by a frame.
type heldMonitor struct {
	obj   vm.Slot
	depth int
}

// Session is the per-interpreter face of a Context. It implements
// vm.Runtime through the shared heap and vm.ScopeExiter by releasing the
// monitors an unwound frame still holds. A Session belongs to one
// interpreter and is not safe for concurrent use.
type Session struct {
	*Heap
	ctx   *Context
	owner Owner
	held  []heldMonitor
}

var (
	_ vm.Runtime     = (*Session)(nil)
	_ vm.ScopeExiter = (*Session)(nil)
)

// Context returns the shared context.
func (s *Session) Context() *Context { return s.ctx }

// Owner returns the lock owner id of the session.
func (s *Session) Owner() Owner { return s.owner }

// Held returns the number of monitor levels the session holds.
func (s *Session) Held() int { return len(s.held) }

func (s *Session) noteEnter(obj vm.Slot, depth int) {
	s.held = append(s.held, heldMonitor{obj: obj, depth: depth})
}

func (s *Session) noteExit(obj vm.Slot) {
	for k := len(s.held) - 1; k >= 0; k-- {
		if s.held[k].obj == obj {
			s.held = append(s.held[:k], s.held[k+1:]...)
			return
		}
	}
}

// ScopeExit releases every monitor level taken at frame depth or deeper.
func (s *Session) ScopeExit(depth int) {
	var drop []heldMonitor
	kept := s.held[:0]
	for _, h := range s.held {
		if h.depth >= depth {
			drop = append(drop, h)
		} else {
			kept = append(kept, h)
		}
	}
	s.held = kept
	for k := len(drop) - 1; k >= 0; k-- {
		h := drop[k]
		if err := s.ctx.Monitors.For(h.obj).Exit(s.owner); err != nil {
			log.Warningf("releasing monitor %#x on unwind: %s", uint64(h.obj), err)
		} else {
			log.Debugf("released monitor %#x held by unwound frame %d", uint64(h.obj), h.depth)
		}
	}
}

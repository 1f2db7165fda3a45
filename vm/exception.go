package vm

import (
	"fmt"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Exception Handling Infrastructure
// ---------------------------------------------------------------------------

// handler is an entry of the handler stack, pushed by EH_PUSH.
type handler struct {
	pc     int // EH_ENTRY of the handler block
	frame  int // owning frame index
	seq    uint64
	active bool // currently running its handler block
}

// resumeToken lets a handler block continue the interrupted code exactly
// once.
type resumeToken struct {
	frame      int
	faultPC    int
	same, next int
	handlerSeq uint64
	used       bool
}

// Error values seen by handler blocks pack the trap kind, the source line
// and the faulting pc into one slot.
const (
	errKindShift = 56
	errLineShift = 32
	errLineMask  = 1<<24 - 1
)

func makeErr(kind bc.TrapKind, line, pc int) Slot {
	return Slot(uint64(kind)<<errKindShift | uint64(line&errLineMask)<<errLineShift | uint64(uint32(pc)))
}

// ErrKind returns the trap kind of an error value. A bare small integer is
// taken as the kind itself.
func ErrKind(s Slot) bc.TrapKind {
	if k := uint64(s) >> errKindShift; k != 0 {
		return bc.TrapKind(k)
	}
	return bc.TrapKind(s)
}

// ErrLine returns the source line of an error value, or -1 when unknown.
func ErrLine(s Slot) int64 {
	if l := int64(uint64(s) >> errLineShift & errLineMask); l != 0 {
		return l
	}
	return -1
}

// ErrPC returns the faulting pc of an error value.
func ErrPC(s Slot) int64 { return int64(uint32(s)) }

// ---------------------------------------------------------------------------
// Handler stack
// ---------------------------------------------------------------------------

func (i *Interpreter) pushHandler(pc int) {
	i.nextSeq++
	i.handlers = append(i.handlers, handler{pc: pc, frame: len(i.frames) - 1, seq: i.nextSeq})
}

func (i *Interpreter) popHandler() {
	n := len(i.handlers)
	floor := i.frames[len(i.frames)-1].ehDepth
	i.assert(n > floor, ErrCorruptCode, "EH_POP without a handler in this frame")
	if n > floor {
		i.handlers = i.handlers[:n-1]
	}
}

// findHandler returns the most recent handler not already handling a
// trap, or -1.
func (i *Interpreter) findHandler() int {
	for k := len(i.handlers) - 1; k >= 0; k-- {
		if !i.handlers[k].active {
			return k
		}
	}
	return -1
}

// settle leaves the trap states once a handler finishes.
func (i *Interpreter) settle() {
	for k := range i.handlers {
		if i.handlers[k].active {
			i.state = StateHandling
			return
		}
	}
	i.state = StateRunning
}

// ---------------------------------------------------------------------------
// Trap dispatch
// ---------------------------------------------------------------------------

// raise traps at the instruction starting at ipc. Control passes to the
// innermost idle handler, or the run ends with a *TrapError after every
// frame has been unwound.
func (i *Interpreter) raise(kind bc.TrapKind, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	i.state = StateTrapped
	line := 0
	if i.fn != nil && i.ipc >= 0 {
		line = int(i.fn.Line(i.ipc))
	}
	if i.dbg != nil {
		i.dbg.notifyTrap(kind, msg, i.Location())
	}

	h := i.findHandler()
	if h < 0 {
		i.failure = &TrapError{Kind: kind, Func: i.fnName(), PC: i.ipc, Line: line, Message: msg}
		log.Warningf("unhandled %s", i.failure)
		for len(i.frames) > 0 {
			i.popFrame(true)
		}
		i.state = StateHalted
		i.stop = true
		return
	}
	i.enterHandler(h, makeErr(kind, line, i.ipc))
}

// enterHandler unwinds to the frame owning handler h and jumps to its
// block with the error value and a fresh resume token on the stack.
func (i *Interpreter) enterHandler(h int, errVal Slot) {
	hd := i.handlers[h]
	hd.active = true
	i.handlers = i.handlers[:h+1]
	i.handlers[h] = hd

	owner := hd.frame
	site := i.ipc
	if owner < len(i.frames)-1 {
		site = i.frames[owner+1].callSitePC
	}
	for len(i.frames)-1 > owner {
		i.popFrame(true)
	}

	rp, ok := i.fn.ResumeAt(site)
	if !ok {
		w := bc.OpOf(i.code[site]).Width()
		rp = bc.ResumePoint{PC: uint32(site), Same: uint32(site), Next: uint32(site + w)}
	}
	i.nextToken++
	id := i.nextToken
	i.tokens[id] = &resumeToken{
		frame:      owner,
		faultPC:    site,
		same:       int(rp.Same),
		next:       int(rp.Next),
		handlerSeq: hd.seq,
	}

	i.sp = i.stackBase
	i.stack[i.sp] = errVal
	i.stack[i.sp+1] = Slot(id)
	i.sp += 2
	i.pc = hd.pc
	i.state = StateHandling
}

// resumeMode selects where RESUME_* continues.
type resumeMode uint8

const (
	resumeSame resumeMode = iota
	resumeNext
	resumeLabel
)

// resume consumes the token on top of the stack and continues the
// interrupted code. target is used by resumeLabel only.
func (i *Interpreter) resume(mode resumeMode, target int) {
	i.sp--
	id := uint64(i.stack[i.sp])
	tok, ok := i.tokens[id]
	if ok && tok.used && i.opts.Debug {
		panic(&AssertionError{Func: i.fnName(), PC: i.ipc, Err: ErrResumeTokenReused, Detail: fmt.Sprintf("token %d", id)})
	}
	if !ok || tok.used || tok.frame != len(i.frames)-1 {
		i.raise(bc.TrapInvalidOperation, "resume without a valid token")
		return
	}
	tok.used = true
	for k := len(i.handlers) - 1; k >= 0; k-- {
		if i.handlers[k].seq == tok.handlerSeq {
			i.handlers[k].active = false
			break
		}
	}

	i.sp = i.stackBase
	switch mode {
	case resumeSame:
		i.pc = tok.same
	case resumeNext:
		i.pc = tok.next
	default:
		i.pc = target
	}
	i.settle()
}

// dropTokens forgets tokens owned by frames at or above depth.
func (i *Interpreter) dropTokens(depth int) {
	if len(i.tokens) == 0 {
		return
	}
	for id, tok := range i.tokens {
		if tok.frame >= depth {
			delete(i.tokens, id)
		}
	}
}

package vm

import (
	"encoding/binary"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Alloca storage and memory access
// ---------------------------------------------------------------------------

// The alloca buffer is a per-instance bump allocator. Each frame releases
// what it allocated when it returns or is unwound.

const allocaAlign = 8

func opAlloca(i *Interpreter, w uint32) {
	size := i.stack[i.sp-1].I64()
	if size < 0 {
		i.raise(bc.TrapInvalidOperation, "negative alloca size %d", size)
		return
	}
	n := int((size + allocaAlign - 1) &^ (allocaAlign - 1))
	top := i.allocaTop + n
	if top > i.opts.AllocaLimit || top < i.allocaTop {
		i.raise(bc.TrapStackOverflow, "alloca stack overflow")
		return
	}
	if top > len(i.alloca) {
		grown := max(2*len(i.alloca), 1024)
		for grown < top {
			grown *= 2
		}
		buf := make([]byte, min(grown, i.opts.AllocaLimit))
		copy(buf, i.alloca[:i.allocaTop])
		i.alloca = buf
	}
	clear(i.alloca[i.allocaTop:top])
	i.setTop(Ptr(RegionAlloca, uint64(i.allocaTop)))
	i.allocaTop = top
}

func opGEP(i *Interpreter, w uint32) {
	i.sp--
	off := i.stack[i.sp].I64()
	i.setTop(i.stack[i.sp-1].Add(off))
}

// load reads width bytes at p zero-extended. ok is false when a trap was
// raised.
func (i *Interpreter) load(p Slot, width int) (uint64, bool) {
	switch p.Region() {
	case RegionNull:
		i.raise(bc.TrapNullPointer, "load through null pointer")
		return 0, false
	case RegionAlloca:
		b, ok := i.allocaBytes(p, width)
		if !ok {
			return 0, false
		}
		switch width {
		case 1:
			return uint64(b[0]), true
		case 2:
			return uint64(binary.LittleEndian.Uint16(b)), true
		case 4:
			return uint64(binary.LittleEndian.Uint32(b)), true
		}
		return binary.LittleEndian.Uint64(b), true
	}
	v, err := i.rt.Load(p, width)
	if err != nil {
		kind, msg := trapOf(err)
		i.raise(kind, "%s", msg)
		return 0, false
	}
	return v, true
}

func (i *Interpreter) store(p Slot, width int, v uint64) bool {
	switch p.Region() {
	case RegionNull:
		i.raise(bc.TrapNullPointer, "store through null pointer")
		return false
	case RegionAlloca:
		b, ok := i.allocaBytes(p, width)
		if !ok {
			return false
		}
		switch width {
		case 1:
			b[0] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(b, uint32(v))
		default:
			binary.LittleEndian.PutUint64(b, v)
		}
		return true
	}
	if err := i.rt.Store(p, width, v); err != nil {
		kind, msg := trapOf(err)
		i.raise(kind, "%s", msg)
		return false
	}
	return true
}

// allocaBytes bounds- and alignment-checks an access to the alloca region.
func (i *Interpreter) allocaBytes(p Slot, width int) ([]byte, bool) {
	off := p.Offset()
	if off%uint64(width) != 0 {
		i.raise(bc.TrapMisalignedAccess, "%d-byte access at offset %d", width, off)
		return nil, false
	}
	if off+uint64(width) > uint64(i.allocaTop) {
		i.raise(bc.TrapInvalidOperation, "access outside live alloca storage at offset %d", off)
		return nil, false
	}
	return i.alloca[off : off+uint64(width)], true
}

func (i *Interpreter) loadTop(width int, signed bool) {
	v, ok := i.load(i.stack[i.sp-1], width)
	if !ok {
		return
	}
	if signed {
		shift := 64 - 8*width
		v = uint64(int64(v<<shift) >> shift)
	}
	i.setTop(Slot(v))
}

func opLoadI8Mem(i *Interpreter, w uint32)  { i.loadTop(1, true) }
func opLoadI16Mem(i *Interpreter, w uint32) { i.loadTop(2, true) }
func opLoadI32Mem(i *Interpreter, w uint32) { i.loadTop(4, true) }
func opLoadI64Mem(i *Interpreter, w uint32) { i.loadTop(8, false) }

// ptr v ->
func (i *Interpreter) storeTop(width int) {
	if i.store(i.stack[i.sp-2], width, i.stack[i.sp-1].U64()) {
		i.sp -= 2
	}
}

func opStoreI8Mem(i *Interpreter, w uint32)  { i.storeTop(1) }
func opStoreI16Mem(i *Interpreter, w uint32) { i.storeTop(2) }
func opStoreI32Mem(i *Interpreter, w uint32) { i.storeTop(4) }
func opStoreI64Mem(i *Interpreter, w uint32) { i.storeTop(8) }

// ReadAlloca copies n bytes of live alloca storage starting at p. Natives
// use it to read buffers a function built on its frame.
func (i *Interpreter) ReadAlloca(p Slot, n int) ([]byte, bool) {
	off := p.Offset()
	if p.Region() != RegionAlloca || off+uint64(n) > uint64(i.allocaTop) {
		return nil, false
	}
	return append([]byte(nil), i.alloca[off:off+uint64(n)]...), true
}

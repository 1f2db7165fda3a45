package runtime

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/vm"
)

// ErrHeapExhausted is returned when every region id is in use.
var ErrHeapExhausted = errors.New("runtime: heap region ids exhausted")

type regionKind uint8

const (
	regionBlock regionKind = iota
	regionString
)

// region is one heap allocation. Strings are immutable; interned strings
// are pinned and ignore retain/release.
type region struct {
	kind   regionKind
	data   []byte
	refs   int32
	pinned bool
}

// Heap hands out pointer regions from vm.RegionHeapBase up. It is shared
// by every interpreter running the same program and is safe for
// concurrent use.
type Heap struct {
	mu       sync.Mutex
	regions  map[uint32]*region
	free     []uint32
	next     uint32
	interned map[string]uint32
	limit    uint32
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		regions:  make(map[uint32]*region),
		next:     vm.RegionHeapBase,
		interned: make(map[string]uint32),
		limit:    vm.MaxRegion,
	}
}

// allocID returns a free region id. Caller holds h.mu.
func (h *Heap) allocID() (uint32, error) {
	if n := len(h.free); n > 0 {
		id := h.free[n-1]
		h.free = h.free[:n-1]
		return id, nil
	}
	if h.next > h.limit {
		return 0, ErrHeapExhausted
	}
	id := h.next
	h.next++
	return id, nil
}

// Alloc returns a pointer to n zeroed bytes with one reference.
func (h *Heap) Alloc(n int64) (vm.Slot, error) {
	if n < 0 {
		return 0, vm.NewTrap(bc.TrapDomainError, "negative allocation size %d", n)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id, err := h.allocID()
	if err != nil {
		return 0, err
	}
	h.regions[id] = &region{kind: regionBlock, data: make([]byte, n), refs: 1}
	return vm.Ptr(id, 0), nil
}

// NewString stores s in a fresh region with one reference.
func (h *Heap) NewString(s string) (vm.Slot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, err := h.allocID()
	if err != nil {
		return 0, err
	}
	h.regions[id] = &region{kind: regionString, data: []byte(s), refs: 1}
	return vm.Ptr(id, 0), nil
}

// Intern returns the pinned region holding s, creating it on first use.
// Equal strings share one region.
func (h *Heap) Intern(s string) vm.Slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.interned[s]; ok {
		return vm.Ptr(id, 0)
	}
	id, err := h.allocID()
	if err != nil {
		log.Errorf("interning %q: %s", s, err)
		return 0
	}
	h.regions[id] = &region{kind: regionString, data: []byte(s), refs: 1, pinned: true}
	h.interned[s] = id
	return vm.Ptr(id, 0)
}

// lookup returns the live region p points into. Caller holds h.mu.
func (h *Heap) lookup(p vm.Slot) (*region, error) {
	if p.IsNull() {
		return nil, vm.NewTrap(bc.TrapNullPointer, "null heap pointer")
	}
	r, ok := h.regions[p.Region()]
	if !ok {
		return nil, vm.NewTrap(bc.TrapInvalidOperation, "dangling pointer to region %d", p.Region())
	}
	return r, nil
}

// bytes bounds- and alignment-checks an access of width bytes at p.
func (h *Heap) bytes(p vm.Slot, width int) (*region, []byte, error) {
	r, err := h.lookup(p)
	if err != nil {
		return nil, nil, err
	}
	off := p.Offset()
	if off%uint64(width) != 0 {
		return nil, nil, vm.NewTrap(bc.TrapMisalignedAccess, "%d-byte access at offset %d", width, off)
	}
	if off+uint64(width) > uint64(len(r.data)) {
		return nil, nil, vm.NewTrap(bc.TrapIndexOutOfBounds,
			"%d-byte access at offset %d of a %d-byte region", width, off, len(r.data))
	}
	return r, r.data[off : off+uint64(width)], nil
}

// Load implements vm.Runtime.
func (h *Heap) Load(p vm.Slot, width int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, b, err := h.bytes(p, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Store implements vm.Runtime. Strings are read-only.
func (h *Heap) Store(p vm.Slot, width int, v uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, b, err := h.bytes(p, width)
	if err != nil {
		return err
	}
	if r.kind == regionString {
		return vm.NewTrap(bc.TrapInvalidOperation, "store into string region %d", p.Region())
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
	return nil
}

// Retain adds a reference to the region p points into.
func (h *Heap) Retain(p vm.Slot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.regions[p.Region()]; ok && !r.pinned {
		r.refs++
	}
}

// Release drops a reference and frees the region at zero. Releasing a
// freed region is ignored.
func (h *Heap) Release(p vm.Slot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := p.Region()
	r, ok := h.regions[id]
	if !ok {
		log.Debugf("release of dead region %d", id)
		return
	}
	if r.pinned {
		return
	}
	r.refs--
	if r.refs <= 0 {
		delete(h.regions, id)
		h.free = append(h.free, id)
	}
}

// String returns the string p points into.
func (h *Heap) String(p vm.Slot) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, err := h.lookup(p)
	if err != nil {
		return "", err
	}
	if r.kind != regionString {
		return "", vm.NewTrap(bc.TrapInvalidCast, "region %d is not a string", p.Region())
	}
	off := p.Offset()
	if off > uint64(len(r.data)) {
		return "", vm.NewTrap(bc.TrapIndexOutOfBounds, "string offset %d past length %d", off, len(r.data))
	}
	return string(r.data[off:]), nil
}

// Refs returns the reference count of the region p points into, or 0
// when it is not live. Pinned regions report 1.
func (h *Heap) Refs(p vm.Slot) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.regions[p.Region()]; ok {
		return int(r.refs)
	}
	return 0
}

// HeapStats summarizes heap occupancy.
type HeapStats struct {
	Live     int
	Strings  int
	Interned int
	Bytes    int
}

func (s HeapStats) String() string {
	return fmt.Sprintf("%d live regions (%d strings, %d interned), %d bytes",
		s.Live, s.Strings, s.Interned, s.Bytes)
}

// Stats returns current heap occupancy.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HeapStats{Live: len(h.regions), Interned: len(h.interned)}
	for _, r := range h.regions {
		if r.kind == regionString {
			s.Strings++
		}
		s.Bytes += len(r.data)
	}
	return s
}

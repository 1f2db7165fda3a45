package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ---------------------------------------------------------------------------
// Slot: the untagged 8-byte value cell
// ---------------------------------------------------------------------------

// Slot is one cell of the value stack, a local or a global. It carries no
// type tag: the opcode that reads a slot decides whether it holds an
// integer, a float or a pointer. Compare slots only through the typed
// accessors.
type Slot uint64

// I64 returns a slot holding v.
func I64(v int64) Slot { return Slot(v) }

// F64 returns a slot holding the bits of v.
func F64(v float64) Slot { return Slot(math.Float64bits(v)) }

// Bool returns 1 for true and 0 for false.
func Bool(b bool) Slot {
	if b {
		return 1
	}
	return 0
}

// I64 reads the slot as a signed integer.
func (s Slot) I64() int64 { return int64(s) }

// U64 reads the slot as an unsigned integer.
func (s Slot) U64() uint64 { return uint64(s) }

// F64 reads the slot as a float.
func (s Slot) F64() float64 { return math.Float64frombits(uint64(s)) }

// Bool reports whether the slot is non-zero.
func (s Slot) Bool() bool { return s != 0 }

// ---------------------------------------------------------------------------
// Pointer handles
// ---------------------------------------------------------------------------

// Pointers are opaque handles: the high 24 bits name a region, the low 40
// bits a byte offset inside it. Region 0 is null whatever the offset.
const (
	RegionNull     uint32 = 0
	RegionAlloca   uint32 = 1
	RegionHeapBase uint32 = 2

	// MaxRegion is the largest region id the runtime may hand out. Higher
	// ids would collide with the function pointer tags.
	MaxRegion uint32 = 1<<22 - 1

	offsetBits = 40
	offsetMask = 1<<offsetBits - 1
)

// Ptr builds a pointer slot.
func Ptr(region uint32, off uint64) Slot {
	return Slot(uint64(region)<<offsetBits | off&offsetMask)
}

// Region returns the region id of a pointer slot.
func (s Slot) Region() uint32 { return uint32(uint64(s) >> offsetBits) }

// Offset returns the byte offset of a pointer slot.
func (s Slot) Offset() uint64 { return uint64(s) & offsetMask }

// IsNull reports whether a pointer slot is null.
func (s Slot) IsNull() bool { return s.Region() == RegionNull }

// Add returns the pointer moved by delta bytes within its region.
func (s Slot) Add(delta int64) Slot {
	return Ptr(s.Region(), uint64(int64(s.Offset())+delta))
}

// ---------------------------------------------------------------------------
// Function pointers
// ---------------------------------------------------------------------------

const (
	funcTag   Slot = 1 << 63
	nativeTag Slot = 1 << 62
	indexMask Slot = 1<<32 - 1
)

// FuncPointer returns the tagged pointer to bytecode function idx.
func FuncPointer(idx int) Slot { return funcTag | Slot(idx)&indexMask }

// NativePointer returns the tagged pointer to module native idx.
func NativePointer(idx int) Slot { return funcTag | nativeTag | Slot(idx)&indexMask }

// IsFunc reports whether s is a tagged function or native pointer.
func (s Slot) IsFunc() bool { return s&funcTag != 0 }

// IsNative reports whether s is a tagged native pointer.
func (s Slot) IsNative() bool { return s&(funcTag|nativeTag) == funcTag|nativeTag }

// FuncIndex returns the function or native index of a tagged pointer.
func (s Slot) FuncIndex() int { return int(s & indexMask) }

// ---------------------------------------------------------------------------
// Value kinds
// ---------------------------------------------------------------------------

// ValueKind names how a slot is interpreted at an interface boundary:
// native signatures and debugger output.
type ValueKind uint8

const (
	KindVoid ValueKind = iota
	KindI64
	KindF64
	KindPtr
	KindStr
)

var kindNames = [...]string{
	KindVoid: "void",
	KindI64:  "i64",
	KindF64:  "f64",
	KindPtr:  "ptr",
	KindStr:  "str",
}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// FormatSlot renders s as kind. The output does not depend on the host
// locale.
func FormatSlot(kind ValueKind, s Slot) string {
	switch kind {
	case KindVoid:
		return "void"
	case KindI64:
		return strconv.FormatInt(s.I64(), 10)
	case KindF64:
		return strconv.FormatFloat(s.F64(), 'g', -1, 64)
	case KindPtr, KindStr:
		if s.IsFunc() {
			if s.IsNative() {
				return "native#" + strconv.Itoa(s.FuncIndex())
			}
			return "func#" + strconv.Itoa(s.FuncIndex())
		}
		if s.IsNull() {
			return "null"
		}
		return "ptr(" + strconv.FormatUint(uint64(s.Region()), 10) + ":" + strconv.FormatUint(s.Offset(), 10) + ")"
	}
	return "0x" + strconv.FormatUint(uint64(s), 16)
}

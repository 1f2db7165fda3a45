package bytecode

import "fmt"

// TrapKind classifies a runtime fault. The numeric values are part of the
// persisted form and of the error values handlers observe.
type TrapKind uint8

const (
	TrapNone TrapKind = iota
	TrapDivisionByZero
	TrapOverflow
	TrapInvalidCast
	TrapIndexOutOfBounds
	TrapNullPointer
	TrapMisalignedAccess
	TrapStackOverflow
	TrapInvalidOpcode
	TrapInvalidOperation
	TrapRuntimeError
	TrapDomainError
)

var trapNames = [...]string{
	TrapNone:             "None",
	TrapDivisionByZero:   "DivisionByZero",
	TrapOverflow:         "Overflow",
	TrapInvalidCast:      "InvalidCast",
	TrapIndexOutOfBounds: "IndexOutOfBounds",
	TrapNullPointer:      "NullPointer",
	TrapMisalignedAccess: "MisalignedAccess",
	TrapStackOverflow:    "StackOverflow",
	TrapInvalidOpcode:    "InvalidOpcode",
	TrapInvalidOperation: "InvalidOperation",
	TrapRuntimeError:     "RuntimeError",
	TrapDomainError:      "DomainError",
}

func (k TrapKind) String() string {
	if int(k) < len(trapNames) {
		return trapNames[k]
	}
	return fmt.Sprintf("TrapKind(%d)", uint8(k))
}

// ErrorCode returns the numeric code exposed through err.get_code.
func (k TrapKind) ErrorCode() int64 {
	switch k {
	case TrapDivisionByZero:
		return 11
	case TrapOverflow:
		return 6
	case TrapIndexOutOfBounds:
		return 9
	case TrapNullPointer:
		return 91
	}
	return 0
}

// ParseTrapKind maps a kind name to its value. An empty name is
// RuntimeError.
func ParseTrapKind(name string) (TrapKind, bool) {
	if name == "" {
		return TrapRuntimeError, true
	}
	for i, n := range trapNames {
		if n == name {
			return TrapKind(i), true
		}
	}
	return TrapNone, false
}

// Narrowing targets encoded in op0 of I64_NARROW_CHK and U64_NARROW_CHK.
const (
	NarrowI1  uint8 = 0
	NarrowI16 uint8 = 1
	NarrowI32 uint8 = 2
	NarrowI64 uint8 = 3
)

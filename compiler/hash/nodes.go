package hash

// ---------------------------------------------------------------------------
// Frozen hashing IL types.
//
// These are stripped-down parallels of pkg/il with no names for temps or
// block parameters: every value is referred to by its dense definition
// index. Two modules that differ only in temp numbering or parameter names
// produce identical hashing trees.
// ---------------------------------------------------------------------------

// HValue is an operand. Float literals are stored as raw bits so signed
// zeros and NaN payloads are distinguished.
type HValue struct {
	Kind      string `cbor:"1,keyasint"`
	Temp      uint32 `cbor:"2,keyasint,omitempty"`
	Int       int64  `cbor:"3,keyasint,omitempty"`
	FloatBits uint64 `cbor:"4,keyasint,omitempty"`
	Str       string `cbor:"5,keyasint,omitempty"`
}

// HInstr is one instruction. Dst is 0 when no temp is defined.
type HInstr struct {
	Op       string     `cbor:"1,keyasint"`
	Dst      uint32     `cbor:"2,keyasint,omitempty"`
	Type     string     `cbor:"3,keyasint,omitempty"`
	Operands []HValue   `cbor:"4,keyasint,omitempty"`
	Callee   string     `cbor:"5,keyasint,omitempty"`
	Targets  []uint32   `cbor:"6,keyasint,omitempty"` // block indexes
	Args     [][]HValue `cbor:"7,keyasint,omitempty"`
	Cases    []int64    `cbor:"8,keyasint,omitempty"`
	Kind     string     `cbor:"9,keyasint,omitempty"`
	Line     int        `cbor:"10,keyasint,omitempty"`
}

// HBlock carries only parameter types; labels become block indexes.
type HBlock struct {
	Params []string `cbor:"1,keyasint,omitempty"`
	Instrs []HInstr `cbor:"2,keyasint"`
}

type HFunction struct {
	Name   string   `cbor:"1,keyasint"`
	Params []string `cbor:"2,keyasint,omitempty"`
	Ret    string   `cbor:"3,keyasint"`
	Blocks []HBlock `cbor:"4,keyasint"`
}

type HExtern struct {
	Name   string   `cbor:"1,keyasint"`
	Params []string `cbor:"2,keyasint,omitempty"`
	Ret    string   `cbor:"3,keyasint"`
}

type HGlobal struct {
	Name string  `cbor:"1,keyasint"`
	Type string  `cbor:"2,keyasint"`
	Init *HValue `cbor:"3,keyasint,omitempty"`
}

// HModule is the root of the hashing tree.
type HModule struct {
	Name      string      `cbor:"1,keyasint"`
	Externs   []HExtern   `cbor:"2,keyasint,omitempty"`
	Globals   []HGlobal   `cbor:"3,keyasint,omitempty"`
	Functions []HFunction `cbor:"4,keyasint"`
}

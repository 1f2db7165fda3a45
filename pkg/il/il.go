// Package il is the in-memory form of a verified IL module: functions made
// of basic blocks with block parameters, typed instructions and SSA temps.
//
// The textual parser and the verifier live upstream. Everything here assumes
// the module already passed verification; the bytecode compiler consumes it
// without re-checking types.
//
// Temps are identified by positive integers unique within a function.
// Zero means "no result".
package il

import "fmt"

// Type is an IL value type.
type Type string

const (
	Void      Type = "void"
	I1        Type = "i1"
	I16       Type = "i16"
	I32       Type = "i32"
	I64       Type = "i64"
	F64       Type = "f64"
	Ptr       Type = "ptr"
	Str       Type = "str"
	Error     Type = "error"
	ResumeTok Type = "resume_tok"
)

// IsFloat reports whether values of t live in a slot as float64 bits.
func (t Type) IsFloat() bool { return t == F64 }

// ValueKind discriminates operand forms.
type ValueKind string

const (
	KindTemp   ValueKind = "temp"
	KindInt    ValueKind = "int"
	KindFloat  ValueKind = "float"
	KindStr    ValueKind = "str"
	KindNull   ValueKind = "null"
	KindGlobal ValueKind = "global"
	KindFunc   ValueKind = "func"
)

// Value is an instruction operand: a temp, a literal, or a symbol reference.
type Value struct {
	Kind  ValueKind `json:"kind"`
	ID    int       `json:"id,omitempty"`
	Int   int64     `json:"int,omitempty"`
	Float float64   `json:"float,omitempty"`
	Str   string    `json:"str,omitempty"`
}

func Temp(id int) Value { return Value{Kind: KindTemp, ID: id} }
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func String(s string) Value { return Value{Kind: KindStr, Str: s} }
func Null() Value { return Value{Kind: KindNull} }
func GlobalRef(name string) Value { return Value{Kind: KindGlobal, Str: name} }
func FuncRef(name string) Value { return Value{Kind: KindFunc, Str: name} }

// Bool returns the i1 literal for b.
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

func (v Value) String() string {
	switch v.Kind {
	case KindTemp:
		return fmt.Sprintf("%%t%d", v.ID)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindStr:
		return fmt.Sprintf("%q", v.Str)
	case KindNull:
		return "null"
	case KindGlobal:
		return "@" + v.Str
	case KindFunc:
		return "&" + v.Str
	}
	return "?"
}

// Param is a function or block parameter.
type Param struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
	Type Type   `json:"type"`
}

// P is shorthand for a parameter whose id is assigned by a builder.
func P(name string, t Type) Param { return Param{Name: name, Type: t} }

// Instr is one IL instruction. Field use depends on Op:
//   - Dst/Type: result temp and its type (load/store: access type,
//     narrowing casts: target type).
//   - Callee: function or extern name for call.
//   - Labels/Args: successor blocks and their arguments (br, cbr,
//     switch.i32, eh.push, resume.label). For switch.i32, Labels[0] is the
//     default and Labels[i+1] matches Cases[i].
//   - Kind: trap kind name for trap.
type Instr struct {
	Op       Opcode    `json:"op"`
	Dst      int       `json:"dst,omitempty"`
	Type     Type      `json:"type,omitempty"`
	Operands []Value   `json:"operands,omitempty"`
	Callee   string    `json:"callee,omitempty"`
	Labels   []string  `json:"labels,omitempty"`
	Args     [][]Value `json:"args,omitempty"`
	Cases    []int64   `json:"cases,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Line     int       `json:"line,omitempty"`
}

// HasResult reports whether the instruction defines a temp.
func (in *Instr) HasResult() bool { return in.Dst > 0 }

// Block is a basic block. The last instruction is its terminator.
type Block struct {
	Label  string  `json:"label"`
	Params []Param `json:"params,omitempty"`
	Instrs []Instr `json:"instrs"`
}

// Terminator returns the block's final instruction, or nil for an empty block.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return &b.Instrs[len(b.Instrs)-1]
}

// Function is a verified IL function. Blocks[0] is the entry block.
type Function struct {
	Name   string   `json:"name"`
	Params []Param  `json:"params,omitempty"`
	Ret    Type     `json:"ret"`
	Blocks []*Block `json:"blocks"`
}

// Block returns the block with the given label, or nil.
func (f *Function) Block(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// Extern declares a runtime helper reachable through the native bridge.
type Extern struct {
	Name   string `json:"name"`
	Params []Type `json:"params,omitempty"`
	Ret    Type   `json:"ret"`
}

// Global is a module-level mutable cell with an optional literal initializer.
type Global struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
	Init *Value `json:"init,omitempty"`
}

// Module is a verified IL module.
type Module struct {
	Name      string      `json:"name"`
	Externs   []Extern    `json:"externs,omitempty"`
	Globals   []Global    `json:"globals,omitempty"`
	Functions []*Function `json:"functions"`
}

// Function returns the named function, or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Extern returns the named extern declaration, or nil.
func (m *Module) Extern(name string) *Extern {
	for i := range m.Externs {
		if m.Externs[i].Name == name {
			return &m.Externs[i]
		}
	}
	return nil
}

// GlobalIndex returns the index of the named global, or -1.
func (m *Module) GlobalIndex(name string) int {
	for i := range m.Globals {
		if m.Globals[i].Name == name {
			return i
		}
	}
	return -1
}

package bytecode

import (
	"fmt"
	"math"
)

// ExceptionRange covers [StartPC, EndPC) of a function with a handler.
// Ranges nest only in stack-like fashion. HandlerPC addresses EH_ENTRY.
type ExceptionRange struct {
	StartPC   uint32
	EndPC     uint32
	HandlerPC uint32
}

// SwitchCase maps one selector value to a target offset.
type SwitchCase struct {
	Value  int64
	Offset int32
}

// SwitchTable is the side table referenced by SWITCH. Offsets are relative
// to the instruction following the SWITCH. Selectors not listed take Default.
type SwitchTable struct {
	Cases   []SwitchCase
	Default int32
}

// Lookup returns the relative offset for selector v.
func (t *SwitchTable) Lookup(v int64) int32 {
	for _, c := range t.Cases {
		if c.Value == v {
			return c.Offset
		}
	}
	return t.Default
}

// ResumePoint records, for an instruction that may trap, the bounds of the
// IL instruction it belongs to: Same re-executes it, Next skips it.
type ResumePoint struct {
	PC   uint32
	Same uint32
	Next uint32
}

// DebugInfo holds optional per-pc tables. Lines and StackDepth are indexed
// by pc; the second word of an extended instruction repeats the first.
type DebugInfo struct {
	Lines      []uint32
	StackDepth []int32
	LocalNames []string
}

// Line returns the source line recorded for pc, or 0.
func (d *DebugInfo) Line(pc int) uint32 {
	if d == nil || pc < 0 || pc >= len(d.Lines) {
		return 0
	}
	return d.Lines[pc]
}

// Function is the compiled form of one IL function.
type Function struct {
	Name       string
	NumParams  uint32
	NumLocals  uint32
	MaxStack   uint32
	MaxScratch uint32
	HasReturn  bool

	Code     []uint32
	Ranges   []ExceptionRange
	Switches []SwitchTable
	Resume   []ResumePoint
	Debug    *DebugInfo
}

// ResumeAt returns the resume point registered for pc.
func (f *Function) ResumeAt(pc int) (ResumePoint, bool) {
	lo, hi := 0, len(f.Resume)
	for lo < hi {
		mid := (lo + hi) / 2
		switch p := int(f.Resume[mid].PC); {
		case p == pc:
			return f.Resume[mid], true
		case p < pc:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return ResumePoint{}, false
}

// Line returns the debug line for pc, or 0 without debug tables.
func (f *Function) Line(pc int) uint32 { return f.Debug.Line(pc) }

// NativeRef names a runtime helper called through CALL_NATIVE.
type NativeRef struct {
	Name      string
	Argc      uint8
	HasResult bool
}

// GlobalInit says how a global is initialized.
type GlobalInit uint8

const (
	InitZero GlobalInit = iota
	InitInt
	InitFloat
	InitStr
)

// GlobalDef is a module global. Str is an index into the string pool.
type GlobalDef struct {
	Name  string
	Init  GlobalInit
	Int   int64
	Float float64
	Str   uint32
}

// Module is the compiled-program container. It is read-only once frozen
// and may then be shared by any number of interpreters.
type Module struct {
	Version   uint32
	Name      string
	I64Pool   []int64
	F64Pool   []float64
	StrPool   []string
	Natives   []NativeRef
	Globals   []GlobalDef
	Functions []*Function

	frozen  bool
	funcIdx map[string]int
	i64Idx  map[int64]uint32
	f64Idx  map[uint64]uint32
	strIdx  map[string]uint32
}

// NewModule creates an empty module with the current format version.
func NewModule(name string) *Module {
	return &Module{
		Version: FormatVersion,
		Name:    name,
		i64Idx:  make(map[int64]uint32),
		f64Idx:  make(map[uint64]uint32),
		strIdx:  make(map[string]uint32),
	}
}

func (m *Module) mustBeMutable() {
	if m.frozen {
		panic(fmt.Sprintf("bytecode: module %q is frozen", m.Name))
	}
}

// AddI64 adds an integer constant and returns its pool index.
// Equal values share one slot.
func (m *Module) AddI64(v int64) uint32 {
	if idx, ok := m.i64Idx[v]; ok {
		return idx
	}
	m.mustBeMutable()
	idx := uint32(len(m.I64Pool))
	m.I64Pool = append(m.I64Pool, v)
	m.i64Idx[v] = idx
	return idx
}

// AddF64 adds a float constant, deduplicated by bit pattern so that 0.0 and
// -0.0 stay distinct and NaN payloads are preserved.
func (m *Module) AddF64(v float64) uint32 {
	bits := math.Float64bits(v)
	if idx, ok := m.f64Idx[bits]; ok {
		return idx
	}
	m.mustBeMutable()
	idx := uint32(len(m.F64Pool))
	m.F64Pool = append(m.F64Pool, v)
	m.f64Idx[bits] = idx
	return idx
}

// AddStr adds a string literal and returns its pool index.
func (m *Module) AddStr(s string) uint32 {
	if idx, ok := m.strIdx[s]; ok {
		return idx
	}
	m.mustBeMutable()
	idx := uint32(len(m.StrPool))
	m.StrPool = append(m.StrPool, s)
	m.strIdx[s] = idx
	return idx
}

// AddNative returns the index of the named native, adding it on first use.
func (m *Module) AddNative(ref NativeRef) uint32 {
	for i, n := range m.Natives {
		if n.Name == ref.Name {
			return uint32(i)
		}
	}
	m.mustBeMutable()
	m.Natives = append(m.Natives, ref)
	return uint32(len(m.Natives) - 1)
}

// Freeze marks the module read-only and builds lookup indexes. After
// Freeze the module is safe for concurrent readers.
func (m *Module) Freeze() {
	if m.frozen {
		return
	}
	m.funcIdx = make(map[string]int, len(m.Functions))
	for i, f := range m.Functions {
		m.funcIdx[f.Name] = i
	}
	m.frozen = true
}

// Frozen reports whether Freeze has been called.
func (m *Module) Frozen() bool { return m.frozen }

// FunctionIndex returns the index of the named function, or -1.
func (m *Module) FunctionIndex(name string) int {
	if m.funcIdx != nil {
		if i, ok := m.funcIdx[name]; ok {
			return i
		}
		return -1
	}
	for i, f := range m.Functions {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Function returns the named function, or nil.
func (m *Module) Function(name string) *Function {
	if i := m.FunctionIndex(name); i >= 0 {
		return m.Functions[i]
	}
	return nil
}

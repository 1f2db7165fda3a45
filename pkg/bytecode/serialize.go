package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the current persisted format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint32 = 1

// Magic bytes for compiled modules: "VBCM".
var Magic = [4]byte{'V', 'B', 'C', 'M'}

var (
	ErrBadMagic           = errors.New("bytecode: not a compiled module")
	ErrUnsupportedVersion = errors.New("bytecode: unsupported format version")
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// wireModule is the CBOR body. Floats travel as raw bits so NaN payloads
// and signed zeros survive canonical encoding.
type wireModule struct {
	Name      string         `cbor:"1,keyasint"`
	I64Pool   []int64        `cbor:"2,keyasint,omitempty"`
	F64Bits   []uint64       `cbor:"3,keyasint,omitempty"`
	StrPool   []string       `cbor:"4,keyasint,omitempty"`
	Natives   []NativeRef    `cbor:"5,keyasint,omitempty"`
	Globals   []wireGlobal   `cbor:"6,keyasint,omitempty"`
	Functions []wireFunction `cbor:"7,keyasint"`
}

type wireGlobal struct {
	Name      string     `cbor:"1,keyasint"`
	Init      GlobalInit `cbor:"2,keyasint"`
	Int       int64      `cbor:"3,keyasint,omitempty"`
	FloatBits uint64     `cbor:"4,keyasint,omitempty"`
	Str       uint32     `cbor:"5,keyasint,omitempty"`
}

type wireFunction struct {
	Name       string           `cbor:"1,keyasint"`
	NumParams  uint32           `cbor:"2,keyasint"`
	NumLocals  uint32           `cbor:"3,keyasint"`
	MaxStack   uint32           `cbor:"4,keyasint"`
	MaxScratch uint32           `cbor:"5,keyasint"`
	HasReturn  bool             `cbor:"6,keyasint"`
	Code       []uint32         `cbor:"7,keyasint"`
	Ranges     []ExceptionRange `cbor:"8,keyasint,omitempty"`
	Switches   []SwitchTable    `cbor:"9,keyasint,omitempty"`
	Resume     []ResumePoint    `cbor:"10,keyasint,omitempty"`
	Debug      *DebugInfo       `cbor:"11,keyasint,omitempty"`
}

// Marshal serializes m as magic, big-endian version, then a canonical CBOR
// body. Equal modules produce identical bytes.
func Marshal(m *Module) ([]byte, error) {
	w := wireModule{
		Name:    m.Name,
		I64Pool: m.I64Pool,
		StrPool: m.StrPool,
		Natives: m.Natives,
	}
	for _, f := range m.F64Pool {
		w.F64Bits = append(w.F64Bits, math.Float64bits(f))
	}
	for _, g := range m.Globals {
		w.Globals = append(w.Globals, wireGlobal{
			Name: g.Name, Init: g.Init, Int: g.Int,
			FloatBits: math.Float64bits(g.Float), Str: g.Str,
		})
	}
	for _, f := range m.Functions {
		w.Functions = append(w.Functions, wireFunction{
			Name: f.Name, NumParams: f.NumParams, NumLocals: f.NumLocals,
			MaxStack: f.MaxStack, MaxScratch: f.MaxScratch, HasReturn: f.HasReturn,
			Code: f.Code, Ranges: f.Ranges, Switches: f.Switches,
			Resume: f.Resume, Debug: f.Debug,
		})
	}
	body, err := encMode.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("bytecode: encode module %s: %w", m.Name, err)
	}

	var buf bytes.Buffer
	buf.Grow(8 + len(body))
	buf.Write(Magic[:])
	var ver [4]byte
	binary.BigEndian.PutUint32(ver[:], FormatVersion)
	buf.Write(ver[:])
	buf.Write(body)
	return buf.Bytes(), nil
}

// PeekVersion returns the version field of a serialized module without
// decoding the body.
func PeekVersion(data []byte) (uint32, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], Magic[:]) {
		return 0, ErrBadMagic
	}
	return binary.BigEndian.Uint32(data[4:8]), nil
}

// Unmarshal decodes a serialized module. It rejects any version other than
// FormatVersion rather than guessing compatibility. The result is frozen.
func Unmarshal(data []byte) (*Module, error) {
	ver, err := PeekVersion(data)
	if err != nil {
		return nil, err
	}
	if ver != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, ver, FormatVersion)
	}

	var w wireModule
	if err := cbor.Unmarshal(data[8:], &w); err != nil {
		return nil, fmt.Errorf("bytecode: decode module: %w", err)
	}

	m := &Module{
		Version: ver,
		Name:    w.Name,
		I64Pool: w.I64Pool,
		StrPool: w.StrPool,
		Natives: w.Natives,
	}
	for _, b := range w.F64Bits {
		m.F64Pool = append(m.F64Pool, math.Float64frombits(b))
	}
	for _, g := range w.Globals {
		m.Globals = append(m.Globals, GlobalDef{
			Name: g.Name, Init: g.Init, Int: g.Int,
			Float: math.Float64frombits(g.FloatBits), Str: g.Str,
		})
	}
	for _, f := range w.Functions {
		m.Functions = append(m.Functions, &Function{
			Name: f.Name, NumParams: f.NumParams, NumLocals: f.NumLocals,
			MaxStack: f.MaxStack, MaxScratch: f.MaxScratch, HasReturn: f.HasReturn,
			Code: f.Code, Ranges: f.Ranges, Switches: f.Switches,
			Resume: f.Resume, Debug: f.Debug,
		})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.Freeze()
	return m, nil
}

// Validate checks structural invariants a loader must not trust blindly:
// pool references, call targets and branch targets on instruction
// boundaries.
func (m *Module) Validate() error {
	for _, f := range m.Functions {
		if f.NumParams > f.NumLocals {
			return fmt.Errorf("bytecode: %s: %d params exceed %d locals", f.Name, f.NumParams, f.NumLocals)
		}
		starts := make([]bool, len(f.Code)+1)
		for pc := 0; pc < len(f.Code); {
			starts[pc] = true
			pc += OpOf(f.Code[pc]).Width()
		}
		starts[len(f.Code)] = true
		target := func(pc, off int) error {
			t := pc + off
			if t < 0 || t >= len(f.Code) || !starts[t] {
				return fmt.Errorf("bytecode: %s: pc %d: target %d is not an instruction boundary", f.Name, pc, t)
			}
			return nil
		}
		for pc := 0; pc < len(f.Code); {
			w := f.Code[pc]
			op := OpOf(w)
			next := pc + op.Width()
			if next > len(f.Code) {
				return fmt.Errorf("bytecode: %s: truncated instruction at pc %d", f.Name, pc)
			}
			switch op.Format() {
			case FmtI16:
				if err := target(next, int(ArgI16(w))); err != nil {
					return err
				}
			case FmtI24:
				if err := target(next, int(ArgI24(w))); err != nil {
					return err
				}
			}
			switch op {
			case OpLoadI64:
				if int(Arg16(w)) >= len(m.I64Pool) {
					return fmt.Errorf("bytecode: %s: pc %d: i64 pool index out of range", f.Name, pc)
				}
			case OpLoadF64:
				if int(Arg16(w)) >= len(m.F64Pool) {
					return fmt.Errorf("bytecode: %s: pc %d: f64 pool index out of range", f.Name, pc)
				}
			case OpLoadStr:
				if int(Arg16(w)) >= len(m.StrPool) {
					return fmt.Errorf("bytecode: %s: pc %d: string pool index out of range", f.Name, pc)
				}
			case OpCall, OpLoadFunc:
				if int(Arg16(w)) >= len(m.Functions) {
					return fmt.Errorf("bytecode: %s: pc %d: function index out of range", f.Name, pc)
				}
			case OpCallNative:
				if int(f.Code[pc+1]) >= len(m.Natives) {
					return fmt.Errorf("bytecode: %s: pc %d: native index out of range", f.Name, pc)
				}
			case OpLoadNative:
				if int(Arg16(w)) >= len(m.Natives) {
					return fmt.Errorf("bytecode: %s: pc %d: native index out of range", f.Name, pc)
				}
			case OpLoadGlobal, OpStoreGlob:
				if int(Arg16(w)) >= len(m.Globals) {
					return fmt.Errorf("bytecode: %s: pc %d: global index out of range", f.Name, pc)
				}
			case OpSwitch:
				idx := int(f.Code[pc+1])
				if idx >= len(f.Switches) {
					return fmt.Errorf("bytecode: %s: pc %d: switch table out of range", f.Name, pc)
				}
				tbl := &f.Switches[idx]
				if err := target(next, int(tbl.Default)); err != nil {
					return err
				}
				for _, c := range tbl.Cases {
					if err := target(next, int(c.Offset)); err != nil {
						return err
					}
				}
			}
			pc = next
		}
		for _, r := range f.Ranges {
			if int(r.HandlerPC) >= len(f.Code) || OpOf(f.Code[r.HandlerPC]) != OpEhEntry {
				return fmt.Errorf("bytecode: %s: handler pc %d is not EH_ENTRY", f.Name, r.HandlerPC)
			}
		}
	}
	return nil
}

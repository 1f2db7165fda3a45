package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeCount(t *testing.T) {
	if count := OpcodeCount(); count < 100 {
		t.Errorf("Expected at least 100 opcodes, got %d", count)
	}
}

func TestOpcodeNamesUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, ok := seen[name]; ok {
			t.Errorf("name %s used by 0x%02X and 0x%02X", name, byte(prev), byte(op))
		}
		seen[name] = op
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpLoadI8, "LOAD_I8"},
		{OpSDivI64Chk, "SDIV_I64_CHK"},
		{OpJumpLong, "JUMP_LONG"},
		{OpCallNative, "CALL_NATIVE"},
		{OpEhPush, "EH_PUSH"},
		{OpResumeLabel, "RESUME_LABEL"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE)
	if op.Valid() {
		t.Fatal("0xEE should be unassigned")
	}
	if got := op.String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
}

func TestOpcodeWidth(t *testing.T) {
	for _, op := range AllOpcodes() {
		want := 1
		if op.Format() == FmtExt {
			want = 2
		}
		if got := op.Width(); got != want {
			t.Errorf("%s.Width() = %d, want %d", op, got, want)
		}
	}
	if OpSwitch.Width() != 2 || OpCallNative.Width() != 2 {
		t.Error("SWITCH and CALL_NATIVE must be extended")
	}
}

func TestFixedStackEffects(t *testing.T) {
	tests := []struct {
		op        Opcode
		pop, push int
	}{
		{OpAddI64, 2, 1},
		{OpIdxChk, 3, 1},
		{OpStoreI64Mem, 2, 0},
		{OpResumeNext, 1, 0},
		{OpIncLocal, 0, 0},
		{OpDup2, 2, 4},
	}
	for _, tt := range tests {
		info := GetOpcodeInfo(tt.op)
		if info.StackPop != tt.pop || info.StackPush != tt.push {
			t.Errorf("%s effect = (%d,%d), want (%d,%d)", tt.op, info.StackPop, info.StackPush, tt.pop, tt.push)
		}
	}
	for _, op := range []Opcode{OpCall, OpCallNative, OpCallIndirect} {
		if GetOpcodeInfo(op).StackPop != -1 {
			t.Errorf("%s should have variable arity", op)
		}
	}
}

func TestLongForm(t *testing.T) {
	pairs := map[Opcode]Opcode{
		OpJump:        OpJumpLong,
		OpJumpIfTrue:  OpJumpIfTrueLong,
		OpJumpIfFalse: OpJumpIfFalseLong,
		OpEhPush:      OpEhPush,
	}
	for narrow, wide := range pairs {
		if got := narrow.LongForm(); got != wide {
			t.Errorf("%s.LongForm() = %s, want %s", narrow, got, wide)
		}
	}
}

func TestOpcodeRangesClassify(t *testing.T) {
	for _, op := range []Opcode{OpSDivI64Chk, OpF64ToI64Chk, OpLoadI64Mem, OpCall, OpTrap} {
		if !op.MayTrap() {
			t.Errorf("%s should be trapping", op)
		}
	}
	for _, op := range []Opcode{OpAddI64, OpSDivI64, OpJump, OpEhPush} {
		if op.MayTrap() {
			t.Errorf("%s should not trap", op)
		}
	}
	for _, op := range []Opcode{OpJump, OpReturnVoid, OpResumeSame, OpSwitch} {
		if !op.IsTerminal() {
			t.Errorf("%s should be terminal", op)
		}
	}
	if OpJumpIfFalse.IsTerminal() {
		t.Error("JUMP_IF_FALSE falls through")
	}
}

func TestTrapKindNames(t *testing.T) {
	for k := TrapNone; k <= TrapDomainError; k++ {
		got, ok := ParseTrapKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseTrapKind(%q) = %v,%v", k.String(), got, ok)
		}
	}
	if k, _ := ParseTrapKind(""); k != TrapRuntimeError {
		t.Errorf("empty kind = %v, want RuntimeError", k)
	}
	if _, ok := ParseTrapKind("Bogus"); ok {
		t.Error("unknown name accepted")
	}
	codes := map[TrapKind]int64{
		TrapDivisionByZero:   11,
		TrapOverflow:         6,
		TrapIndexOutOfBounds: 9,
		TrapNullPointer:      91,
		TrapInvalidCast:      0,
	}
	for k, want := range codes {
		if got := k.ErrorCode(); got != want {
			t.Errorf("%v.ErrorCode() = %d, want %d", k, got, want)
		}
	}
}

package hash

import (
	"testing"

	"github.com/splanck/viper-sub004/compiler"
	"github.com/splanck/viper-sub004/pkg/il"
)

// addModule builds add(a, b) = a + b. pad shifts every temp id without
// changing the program.
func addModule(pad int, paramName string) *il.Module {
	mb := il.NewModuleBuilder("m")
	fb := mb.Function("add", il.I64, il.P(paramName, il.I64), il.P("b", il.I64))
	f := fb.Func()
	for i := range f.Params {
		f.Params[i].ID += pad
	}
	entry := fb.Block("entry").Line(3)
	in := il.Instr{Op: il.OpAdd, Dst: 100 + pad, Type: il.I64, Operands: []il.Value{il.Temp(1 + pad), il.Temp(2 + pad)}, Line: 3}
	f.Blocks[0].Instrs = append(f.Blocks[0].Instrs, in)
	entry.Ret(il.Temp(100 + pad))
	return mb.Module()
}

func TestHashIgnoresTempNumbering(t *testing.T) {
	opts := compiler.DefaultOptions()
	h1, err := HashModule(addModule(0, "a"), opts)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashModule(addModule(40, "x"), opts)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Errorf("renumbered module hashed differently: %s vs %s", h1, h2)
	}
}

func TestHashDistinguishesPrograms(t *testing.T) {
	opts := compiler.DefaultOptions()
	a := addModule(0, "a")
	b := addModule(0, "a")
	b.Functions[0].Blocks[0].Instrs[0].Op = il.OpSub

	ha, _ := HashModule(a, opts)
	hb, _ := HashModule(b, opts)
	if ha == hb {
		t.Error("add and sub hashed the same")
	}
}

func TestHashTracksOptions(t *testing.T) {
	m := addModule(0, "a")
	plain, _ := HashModule(m, compiler.Options{})
	opt, _ := HashModule(m, compiler.Options{Peephole: true})
	if plain == opt {
		t.Error("peephole option does not change the hash")
	}
}

func TestHashLinesOnlyWithDebugInfo(t *testing.T) {
	a := addModule(0, "a")
	b := addModule(0, "a")
	b.Functions[0].Blocks[0].Instrs[0].Line = 99

	noDebug := compiler.Options{}
	ha, _ := HashModule(a, noDebug)
	hb, _ := HashModule(b, noDebug)
	if ha != hb {
		t.Error("line change altered hash without debug info")
	}

	debug := compiler.Options{DebugInfo: true}
	ha, _ = HashModule(a, debug)
	hb, _ = HashModule(b, debug)
	if ha == hb {
		t.Error("line change ignored with debug info")
	}
}

func TestSerializeDeterministic(t *testing.T) {
	hm := NormalizeModule(addModule(0, "a"), true)
	first, err := Serialize(hm)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Serialize(NormalizeModule(addModule(0, "a"), true))
		if string(again) != string(first) {
			t.Fatal("serialization is not deterministic")
		}
	}
	if first[0] != HashVersion {
		t.Errorf("prefix = %d, want %d", first[0], HashVersion)
	}
}

func TestNormalizeDenseTemps(t *testing.T) {
	hm := NormalizeModule(addModule(17, "a"), false)
	in := hm.Functions[0].Blocks[0].Instrs[0]
	if in.Dst != 3 {
		t.Errorf("result temp = %d, want 3", in.Dst)
	}
	if in.Operands[0].Temp != 1 || in.Operands[1].Temp != 2 {
		t.Errorf("operands = %+v, want temps 1 and 2", in.Operands)
	}
	if in.Line != 0 {
		t.Errorf("line kept without keepLines: %d", in.Line)
	}
}

func TestDigestString(t *testing.T) {
	var d Digest
	d[0] = 0xAB
	s := d.String()
	if len(s) != 64 || s[:2] != "ab" {
		t.Errorf("String() = %q", s)
	}
}

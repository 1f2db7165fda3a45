package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
)

func demoModule() *il.Module {
	mb := il.NewModuleBuilder("demo")
	mb.Extern("rt_print_str", il.Void, il.Str)
	mb.Extern("rt_str_concat", il.Str, il.Str, il.Str)

	fb := mb.Function("main", il.I64, il.P("x", il.I64))
	e := fb.Block("entry").Line(1)
	e.Call("rt_print_str", il.Void, il.String("hello\n"))
	e.Ret(e.Op(il.OpMul, il.I64, fb.Param(0), il.Int(2)))

	gb := mb.Function("greet", il.Str, il.P("name", il.Str))
	ge := gb.Block("entry").Line(5)
	ge.Ret(ge.Call("rt_str_concat", il.Str, il.String("hi "), gb.Param(0)))

	db := mb.Function("boom", il.I64, il.P("d", il.I64))
	de := db.Block("entry").Line(9)
	de.Ret(de.Op(il.OpSDivChk0, il.I64, il.Int(1), db.Param(0)))
	return mb.Module()
}

// project writes demo.il.json and a bcvm.toml with a private cache into a
// temp dir and returns the dir.
func project(t *testing.T, toml string) string {
	t.Helper()
	dir := t.TempDir()
	data, err := json.Marshal(demoModule())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "demo.il.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	conf := "[program]\nsource = \"demo.il.json\"\n\n[cache]\npath = \"cache.db\"\n" + toml
	if err := os.WriteFile(filepath.Join(dir, "bcvm.toml"), []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func bcvm(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errb bytes.Buffer
	code = run(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestRun(t *testing.T) {
	dir := project(t, "")
	tests := []struct {
		name string
		args []string
		code int
		out  string
	}{
		{"int result", []string{"run", "demo.il.json", "21"}, 0, "hello\n42\n"},
		{"switch engine", []string{"run", "-engine", "switch", "demo.il.json", "4"}, 0, "hello\n8\n"},
		{"string result", []string{"run", "-entry", "greet", "demo.il.json", "bob"}, 0, "\"hi bob\"\n"},
		{"trap", []string{"run", "-entry", "boom", "demo.il.json", "0"}, 3, ""},
		{"missing entry", []string{"run", "-entry", "nope", "demo.il.json"}, 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-C", dir}, tt.args...)
			// Module paths are passed absolute.
			for i, a := range args {
				if a == "demo.il.json" {
					args[i] = filepath.Join(dir, a)
				}
			}
			code, out, errs := bcvm(t, args...)
			if code != tt.code {
				t.Fatalf("exit code = %d, want %d (stderr %q)", code, tt.code, errs)
			}
			if tt.out != "" && out != tt.out {
				t.Errorf("stdout = %q, want %q", out, tt.out)
			}
		})
	}
}

func TestRunTrapReportsLocation(t *testing.T) {
	dir := project(t, "")
	code, _, errs := bcvm(t, "-C", dir, "run", "-entry", "boom", filepath.Join(dir, "demo.il.json"), "0")
	if code != 3 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(errs, "DivisionByZero") || !strings.Contains(errs, "boom") {
		t.Errorf("stderr = %q", errs)
	}
}

func TestCompileUsesCache(t *testing.T) {
	dir := project(t, "")
	src := filepath.Join(dir, "demo.il.json")
	out := filepath.Join(dir, "demo.vbc")

	for i := 0; i < 2; i++ {
		code, stdout, errs := bcvm(t, "-C", dir, "compile", "-o", out, src)
		if code != 0 {
			t.Fatalf("compile #%d: exit %d: %s", i, code, errs)
		}
		if !strings.HasPrefix(stdout, "demo ") {
			t.Errorf("compile output = %q", stdout)
		}
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := bc.PeekVersion(data); err != nil || v != bc.FormatVersion {
		t.Errorf("written module version = %d, %v", v, err)
	}

	// The persisted form runs without the IL.
	code, stdout, errs := bcvm(t, "-C", dir, "run", out, "5")
	if code != 0 || stdout != "hello\n10\n" {
		t.Errorf("run .vbc: exit %d stdout %q stderr %q", code, stdout, errs)
	}

	code, stdout, _ = bcvm(t, "-C", dir, "cache", "list")
	if code != 0 || !strings.Contains(stdout, "demo") {
		t.Errorf("cache list: exit %d stdout %q", code, stdout)
	}
	code, stdout, _ = bcvm(t, "-C", dir, "cache", "clear")
	if code != 0 || stdout != "removed 1 entries\n" {
		t.Errorf("cache clear: exit %d stdout %q", code, stdout)
	}
}

func TestDisasm(t *testing.T) {
	dir := project(t, "")
	code, stdout, errs := bcvm(t, "-C", dir, "disasm")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errs)
	}
	for _, want := range []string{"; module demo", "=== main ===", "=== boom ===", "rt_print_str"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("disassembly lacks %q", want)
		}
	}

	code, stdout, _ = bcvm(t, "-C", dir, "disasm", "-func", "greet")
	if code != 0 || strings.Contains(stdout, "=== main ===") || !strings.Contains(stdout, "=== greet ===") {
		t.Errorf("single function disasm: exit %d\n%s", code, stdout)
	}
	if code, _, _ := bcvm(t, "-C", dir, "disasm", "-func", "nope"); code != 1 {
		t.Errorf("unknown function exit = %d", code)
	}
}

func TestTrace(t *testing.T) {
	dir := project(t, "")
	code, stdout, errs := bcvm(t, "-C", dir, "trace", "-limit", "2", filepath.Join(dir, "demo.il.json"), "3")
	if code != 0 || stdout != "hello\n6\n" {
		t.Fatalf("exit %d stdout %q stderr %q", code, stdout, errs)
	}
	lines := strings.Split(strings.TrimSpace(errs), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "main") || !strings.HasSuffix(lines[2], "instructions") {
		t.Errorf("trace output = %q", errs)
	}
}

func TestNativePolicy(t *testing.T) {
	dir := project(t, "\n[natives]\ndeny = [\"rt_print_*\"]\n")
	code, _, errs := bcvm(t, "-C", dir, "run", filepath.Join(dir, "demo.il.json"), "1")
	if code != 1 || !strings.Contains(errs, "rt_print_str") {
		t.Errorf("exit %d stderr %q", code, errs)
	}
}

func TestUsage(t *testing.T) {
	if code, _, errs := bcvm(t); code != 2 || !strings.Contains(errs, "Commands:") {
		t.Errorf("no args: exit %d stderr %q", code, errs)
	}
	if code, _, _ := bcvm(t, "-C", t.TempDir(), "frobnicate"); code != 2 {
		t.Errorf("unknown command exit = %d", code)
	}
}

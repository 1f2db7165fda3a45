package dist

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/splanck/viper-sub004/compiler"
	"github.com/splanck/viper-sub004/compiler/hash"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
)

func sample(name string, k int64) *il.Module {
	mb := il.NewModuleBuilder(name)
	mb.Extern("rt_print_i64", il.Void, il.I64)
	fb := mb.Function("main", il.I64, il.P("x", il.I64))
	e := fb.Block("entry").Line(1)
	v := e.Op(il.OpMul, il.I64, fb.Param(0), il.Int(k))
	e.Call("rt_print_i64", il.Void, v)
	e.Ret(v)
	return mb.Module()
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func marshal(t *testing.T, m *bc.Module) []byte {
	t.Helper()
	b, err := bc.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCompileCachesByContent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	opts := compiler.DefaultOptions()

	first, hit, err := s.Compile(ctx, sample("m", 3), opts)
	if err != nil || hit {
		t.Fatalf("first compile: hit=%v err=%v", hit, err)
	}
	second, hit, err := s.Compile(ctx, sample("m", 3), opts)
	if err != nil || !hit {
		t.Fatalf("second compile: hit=%v err=%v", hit, err)
	}
	if !bytes.Equal(marshal(t, first), marshal(t, second)) {
		t.Error("cached module differs from the compiled one")
	}
	if !second.Frozen() {
		t.Error("cached module is not frozen")
	}

	// A different program or different options miss.
	if _, hit, _ := s.Compile(ctx, sample("m", 4), opts); hit {
		t.Error("different program hit the cache")
	}
	opts.Peephole = true
	if _, hit, _ := s.Compile(ctx, sample("m", 3), opts); hit {
		t.Error("different options hit the cache")
	}

	if st := s.Stats(); st.Hits != 1 || st.Misses != 3 {
		t.Errorf("stats = %+v, want 1 hit 3 misses", st)
	}
}

func TestStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	ctx := context.Background()
	opts := compiler.DefaultOptions()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Compile(ctx, sample("m", 2), opts); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, hit, err := s.Compile(ctx, sample("m", 2), opts); err != nil || !hit {
		t.Errorf("after reopen: hit=%v err=%v", hit, err)
	}
}

func TestManifest(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	opts := compiler.DefaultOptions()
	if _, _, err := s.Compile(ctx, sample("calc", 2), opts); err != nil {
		t.Fatal(err)
	}
	h, _ := hash.HashModule(sample("calc", 2), opts)

	man, err := s.Manifest(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if man.Name != "calc" || man.Format != bc.FormatVersion || man.CodeWords == 0 {
		t.Errorf("manifest = %+v", man)
	}
	if len(man.Functions) != 1 || man.Functions[0] != "main" {
		t.Errorf("functions = %v", man.Functions)
	}
	if len(man.Natives) != 1 || man.Natives[0] != "rt_print_i64" {
		t.Errorf("natives = %v", man.Natives)
	}
	if err := NewRestrictedPolicy([]string{"rt_str_*"}).Check(man); err == nil {
		t.Error("policy accepted a module needing rt_print_i64")
	}

	if _, err := s.Manifest(ctx, hash.Digest{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing manifest = %v", err)
	}
}

func TestManifestEncodingIsCanonical(t *testing.T) {
	a := &Manifest{Name: "m", Format: 1, Functions: []string{"f", "g"}, CodeWords: 9}
	b := &Manifest{CodeWords: 9, Functions: []string{"f", "g"}, Format: 1, Name: "m"}
	ea, _ := MarshalManifest(a)
	eb, _ := MarshalManifest(b)
	if !bytes.Equal(ea, eb) {
		t.Error("equal manifests encode differently")
	}
	back, err := UnmarshalManifest(ea)
	if err != nil || back.Name != "m" || back.CodeWords != 9 {
		t.Errorf("decoded %+v, %v", back, err)
	}
	if _, err := UnmarshalManifest([]byte{0xff}); err == nil {
		t.Error("garbage decoded")
	}
}

func TestCorruptEntryIsDropped(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	opts := compiler.DefaultOptions()
	m := sample("m", 5)
	if _, _, err := s.Compile(ctx, m, opts); err != nil {
		t.Fatal(err)
	}
	h, _ := hash.HashModule(m, opts)

	// Rewrite the version field to one this build does not understand.
	if _, err := s.db.Exec("UPDATE modules SET body = x'5642434D000000FF' WHERE hash = ?", h.String()); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Get(ctx, h); ok || err != nil {
		t.Fatalf("Get of corrupt entry: ok=%v err=%v", ok, err)
	}
	if _, err := s.Manifest(ctx, h); !errors.Is(err, ErrNotFound) {
		t.Error("corrupt entry was not removed")
	}
	if _, hit, err := s.Compile(ctx, m, opts); hit || err != nil {
		t.Errorf("recompile: hit=%v err=%v", hit, err)
	}
}

func TestEntriesAndPrune(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	opts := compiler.DefaultOptions()

	clock := time.Unix(1000, 0)
	s.now = func() time.Time { return clock }

	var hashes []hash.Digest
	for k := int64(1); k <= 3; k++ {
		clock = clock.Add(time.Second)
		m := sample("m", k)
		if _, _, err := s.Compile(ctx, m, opts); err != nil {
			t.Fatal(err)
		}
		h, _ := hash.HashModule(m, opts)
		hashes = append(hashes, h)
	}
	// Touch the oldest so it becomes the most recent.
	clock = clock.Add(time.Second)
	if _, ok, _ := s.Get(ctx, hashes[0]); !ok {
		t.Fatal("entry 0 missing")
	}

	entries, err := s.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].Hash != hashes[0] || entries[0].Hits != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].Hash != hashes[2] || !entries[0].LastUsed.Equal(clock) || entries[0].Size == 0 {
		t.Errorf("entry order or metadata wrong: %+v", entries[:2])
	}

	n, err := s.Prune(ctx, 2)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if _, ok, _ := s.Get(ctx, hashes[1]); ok {
		t.Error("least recently used entry survived the prune")
	}
	if _, ok, _ := s.Get(ctx, hashes[2]); !ok {
		t.Error("recent entry was pruned")
	}
}

// Package manifest handles bcvm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/splanck/viper-sub004/compiler"
	"github.com/splanck/viper-sub004/vm"
	"github.com/splanck/viper-sub004/vm/dist"
)

// FileName is the name Load and FindAndLoad look for.
const FileName = "bcvm.toml"

// Manifest represents a bcvm.toml project configuration.
type Manifest struct {
	Program  Program        `toml:"program"`
	VM       VMConfig       `toml:"vm"`
	Compiler CompilerConfig `toml:"compiler"`
	Cache    CacheConfig    `toml:"cache"`
	Natives  NativesConfig  `toml:"natives"`

	// Dir is the directory containing the bcvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Program names the IL input and its entry function.
type Program struct {
	Name   string `toml:"name"`
	Source string `toml:"source"`
	Entry  string `toml:"entry"`
}

// VMConfig mirrors vm.Options.
type VMConfig struct {
	Engine         string `toml:"engine"`
	MaxCallDepth   int    `toml:"max-call-depth"`
	StackSlots     int    `toml:"stack-slots"`
	AllocaLimit    int    `toml:"alloca-limit"`
	Debug          bool   `toml:"debug"`
	NativeFastPath bool   `toml:"native-fast-path"`
}

// CompilerConfig mirrors compiler.Options.
type CompilerConfig struct {
	Peephole  bool `toml:"peephole"`
	DebugInfo bool `toml:"debug-info"`
}

// CacheConfig configures the compiled-module cache.
type CacheConfig struct {
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
	Keep    int    `toml:"keep"`
}

// NativesConfig restricts which natives a program may bind. Patterns use
// path.Match syntax. An empty allow list allows everything.
type NativesConfig struct {
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// Default returns the configuration used when no bcvm.toml exists.
func Default() *Manifest {
	vo := vm.DefaultOptions()
	co := compiler.DefaultOptions()
	return &Manifest{
		Program: Program{Source: "main.il.json", Entry: "main"},
		VM: VMConfig{
			Engine:         vo.Engine.String(),
			MaxCallDepth:   vo.MaxCallDepth,
			StackSlots:     vo.StackSlots,
			AllocaLimit:    vo.AllocaLimit,
			NativeFastPath: vo.NativeFastPath,
		},
		Compiler: CompilerConfig{Peephole: co.Peephole, DebugInfo: co.DebugInfo},
		Cache:    CacheConfig{Path: filepath.Join(".bcvm", "cache.db"), Enabled: true, Keep: 256},
	}
}

// Load parses a bcvm.toml file from the given directory. Keys missing from
// the file keep their Default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undec[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a bcvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate rejects values the interpreter cannot run with.
func (m *Manifest) Validate() error {
	if _, err := vm.ParseEngine(m.VM.Engine); err != nil {
		return err
	}
	switch {
	case m.VM.MaxCallDepth <= 0:
		return fmt.Errorf("vm.max-call-depth must be positive, got %d", m.VM.MaxCallDepth)
	case m.VM.StackSlots <= 0:
		return fmt.Errorf("vm.stack-slots must be positive, got %d", m.VM.StackSlots)
	case m.VM.AllocaLimit < 0:
		return fmt.Errorf("vm.alloca-limit must not be negative, got %d", m.VM.AllocaLimit)
	case m.Cache.Keep < 0:
		return fmt.Errorf("cache.keep must not be negative, got %d", m.Cache.Keep)
	}
	return nil
}

// VMOptions converts the [vm] table to interpreter options.
func (m *Manifest) VMOptions() ([]vm.Option, error) {
	engine, err := vm.ParseEngine(m.VM.Engine)
	if err != nil {
		return nil, err
	}
	return []vm.Option{
		vm.WithEngine(engine),
		vm.WithMaxCallDepth(m.VM.MaxCallDepth),
		vm.WithStackSlots(m.VM.StackSlots),
		vm.WithAllocaLimit(m.VM.AllocaLimit),
		vm.WithDebug(m.VM.Debug),
		vm.WithNativeFastPath(m.VM.NativeFastPath),
	}, nil
}

// CompilerOptions converts the [compiler] table.
func (m *Manifest) CompilerOptions() compiler.Options {
	return compiler.Options{Peephole: m.Compiler.Peephole, DebugInfo: m.Compiler.DebugInfo}
}

// Policy builds the capability policy from the [natives] table.
func (m *Manifest) Policy() *dist.CapabilityPolicy {
	p := dist.NewPermissivePolicy()
	if len(m.Natives.Allow) > 0 {
		p = dist.NewRestrictedPolicy(m.Natives.Allow)
	}
	for _, d := range m.Natives.Deny {
		p.Deny(d)
	}
	return p
}

// SourcePath returns the absolute path of the program's IL file.
func (m *Manifest) SourcePath() string {
	return m.resolve(m.Program.Source)
}

// CachePath returns the absolute path of the module cache, or "" when the
// cache is disabled.
func (m *Manifest) CachePath() string {
	if !m.Cache.Enabled || m.Cache.Path == "" {
		return ""
	}
	if m.Cache.Path == ":memory:" {
		return m.Cache.Path
	}
	return m.resolve(m.Cache.Path)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/splanck/viper-sub004/compiler"
	rt "github.com/splanck/viper-sub004/lib/runtime"
	"github.com/splanck/viper-sub004/manifest"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
	"github.com/splanck/viper-sub004/vm"
	"github.com/splanck/viper-sub004/vm/dist"
	"github.com/splanck/viper-sub004/vm/threads"
)

var log = commonlog.GetLogger("bcvm")

// env carries the configuration and lazily opened resources shared by
// the subcommands.
type env struct {
	man    *manifest.Manifest
	stdout io.Writer
	stderr io.Writer

	store *dist.Store
}

func newEnv(dir string, stdout, stderr io.Writer) (*env, error) {
	man, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if man == nil {
		man = manifest.Default()
		if man.Dir, err = filepath.Abs(dir); err != nil {
			return nil, err
		}
	} else {
		log.Infof("using %s", filepath.Join(man.Dir, manifest.FileName))
	}
	return &env{man: man, stdout: stdout, stderr: stderr}, nil
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
}

// cache opens the module cache on first use. It returns nil when the
// cache is disabled.
func (e *env) cache() (*dist.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	path := e.man.CachePath()
	if path == "" {
		return nil, nil
	}
	s, err := dist.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening module cache: %w", err)
	}
	e.store = s
	return s, nil
}

// source resolves the module path argument, falling back to the
// configured program source.
func (e *env) source(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if p := e.man.SourcePath(); p != "" {
		return p, nil
	}
	return "", errors.New("no module given and no program source configured")
}

func isIL(path string) bool {
	return strings.HasSuffix(path, ".json")
}

func readIL(path string) (*il.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m il.Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// load returns the bytecode module at path. IL input is compiled, through
// the cache when it is enabled; anything else is read as persisted
// bytecode. The IL module is nil for bytecode input.
func (e *env) load(ctx context.Context, path string) (*bc.Module, *il.Module, error) {
	if !isIL(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		mod, err := bc.Unmarshal(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		return mod, nil, e.check(mod)
	}

	src, err := readIL(path)
	if err != nil {
		return nil, nil, err
	}
	opts := e.man.CompilerOptions()
	store, err := e.cache()
	if err != nil {
		return nil, nil, err
	}

	var mod *bc.Module
	if store != nil {
		var hit bool
		if mod, hit, err = store.Compile(ctx, src, opts); err != nil {
			return nil, nil, err
		}
		log.Infof("%s: cache hit=%t", src.Name, hit)
		if keep := e.man.Cache.Keep; keep > 0 && !hit {
			if _, err := store.Prune(ctx, keep); err != nil {
				log.Warningf("pruning module cache: %s", err)
			}
		}
	} else if mod, err = compiler.Compile(src, compiler.WithOptions(opts)); err != nil {
		return nil, nil, err
	}
	return mod, src, e.check(mod)
}

func (e *env) check(mod *bc.Module) error {
	return e.man.Policy().Check(dist.ManifestOf(mod))
}

// machine is one interpreter wired to a fresh runtime.
type machine struct {
	interp  *vm.Interpreter
	runtime *rt.Context
	session *rt.Session
	threads *threads.Registry
}

func (e *env) machine(mod *bc.Module, extra ...vm.Option) (*machine, error) {
	vmOpts, err := e.man.VMOptions()
	if err != nil {
		return nil, err
	}
	c := rt.NewContext(&rt.Config{Out: e.stdout})
	reg := vm.NewNativeRegistry()
	rt.Install(reg, c)
	tr := threads.Install(reg, c)
	if missing := reg.Missing(mod); len(missing) > 0 {
		return nil, fmt.Errorf("unresolved natives: %s", strings.Join(missing, ", "))
	}

	s := c.NewSession()
	opts := append(vmOpts, vm.WithRuntime(s), vm.WithNatives(reg))
	opts = append(opts, extra...)
	return &machine{interp: vm.New(mod, opts...), runtime: c, session: s, threads: tr}, nil
}

// parseArgs converts command line words to entry arguments: integers,
// then floats, then strings interned in the session heap.
func parseArgs(s *rt.Session, words []string) []vm.Slot {
	args := make([]vm.Slot, 0, len(words))
	for _, w := range words {
		if n, err := strconv.ParseInt(w, 0, 64); err == nil {
			args = append(args, vm.I64(n))
		} else if f, err := strconv.ParseFloat(w, 64); err == nil {
			args = append(args, vm.F64(f))
		} else {
			args = append(args, s.Intern(w))
		}
	}
	return args
}

// formatResult renders an entry's result using the IL return type when
// it is known.
func formatResult(m *machine, src *il.Module, entry string, res vm.Result) string {
	if !res.HasValue {
		return ""
	}
	kind := vm.KindI64
	if src != nil {
		if fn := src.Function(entry); fn != nil {
			switch fn.Ret {
			case il.F64:
				kind = vm.KindF64
			case il.Ptr:
				kind = vm.KindPtr
			case il.Str:
				if s, err := m.session.String(res.Value); err == nil {
					return strconv.Quote(s)
				}
				kind = vm.KindStr
			}
		}
	}
	return vm.FormatSlot(kind, res.Value)
}

// exitCode maps an error to the process status: 3 for an unhandled trap,
// 1 for anything else.
func exitCode(err error) int {
	if _, ok := vm.AsTrap(err); ok {
		return 3
	}
	return 1
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/splanck/viper-sub004/compiler/hash"
	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/vm"
)

func (e *env) flagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.Usage = func() {
		fmt.Fprintf(e.stderr, "Usage: bcvm %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func cmdCompile(ctx context.Context, e *env, args []string) error {
	fs := e.flagSet("compile", "[-o out.vbc] [module.il.json]")
	out := fs.String("o", "", "output path (default: input with .vbc extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := e.source(fs.Args())
	if err != nil {
		return err
	}
	if !isIL(path) {
		return fmt.Errorf("%s: compile expects an IL module (.json)", path)
	}

	mod, src, err := e.load(ctx, path)
	if err != nil {
		return err
	}
	data, err := bc.Marshal(mod)
	if err != nil {
		return err
	}
	if *out == "" {
		*out = strings.TrimSuffix(strings.TrimSuffix(path, ".json"), ".il") + ".vbc"
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}

	digest, err := hash.HashModule(src, e.man.CompilerOptions())
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s %s %d bytes -> %s\n", mod.Name, digest, len(data), *out)
	return nil
}

type runFlags struct {
	entry   *string
	engine  *string
	profile *bool
}

func (e *env) runFlagSet(name string) (*flag.FlagSet, runFlags) {
	fs := e.flagSet(name, "[flags] [module] [args...]")
	return fs, runFlags{
		entry:   fs.String("entry", e.man.Program.Entry, "entry function"),
		engine:  fs.String("engine", e.man.VM.Engine, "dispatch engine: table or switch"),
		profile: fs.Bool("profile", false, "print call and dispatch counts to stderr"),
	}
}

// execute loads the module named by the positional arguments, runs the
// entry and waits for every thread the program started.
func (e *env) execute(ctx context.Context, rf runFlags, pos []string, setup func(*vm.Interpreter)) error {
	path, err := e.source(pos)
	if err != nil {
		return err
	}
	var words []string
	if len(pos) > 1 {
		words = pos[1:]
	}
	engine, err := vm.ParseEngine(*rf.engine)
	if err != nil {
		return err
	}

	mod, src, err := e.load(ctx, path)
	if err != nil {
		return err
	}
	opts := []vm.Option{vm.WithEngine(engine)}
	var prof *vm.Profiler
	if *rf.profile {
		prof = vm.NewProfiler()
		opts = append(opts, vm.WithProfiler(prof))
	}
	m, err := e.machine(mod, opts...)
	if err != nil {
		return err
	}
	if setup != nil {
		setup(m.interp)
	}

	start := time.Now()
	res, err := m.interp.ExecuteContext(ctx, *rf.entry, parseArgs(m.session, words)...)
	m.threads.Wait()
	log.Infof("%s finished in %s", *rf.entry, time.Since(start))
	if prof != nil {
		e.printProfile(prof)
	}
	if err != nil {
		return err
	}
	if s := formatResult(m, src, *rf.entry, res); s != "" {
		fmt.Fprintln(e.stdout, s)
	}
	return nil
}

func (e *env) printProfile(p *vm.Profiler) {
	st := p.Stats()
	fmt.Fprintf(e.stderr, "calls=%d dispatches=%d functions=%d hot=%d\n",
		st.Calls, st.Dispatches, st.Functions, st.HotFunctions)
	for _, fn := range p.TopFunctions(5) {
		fmt.Fprintf(e.stderr, "  %-20s %d\n", fn.Name, p.Calls(fn))
	}
}

func cmdRun(ctx context.Context, e *env, args []string) error {
	fs, rf := e.runFlagSet("run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return e.execute(ctx, rf, fs.Args(), nil)
}

func cmdTrace(ctx context.Context, e *env, args []string) error {
	fs, rf := e.runFlagSet("trace")
	limit := fs.Int("limit", 0, "stop printing after n instructions (0 = no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n := 0
	hook := func(ev vm.TraceEvent) {
		n++
		if *limit > 0 && n > *limit {
			return
		}
		line := "-"
		if ev.Line > 0 {
			line = strconv.Itoa(ev.Line)
		}
		fmt.Fprintf(e.stderr, "%-16s %04d %-16s line=%-4s depth=%d\n", ev.Func, ev.PC, ev.Op, line, ev.Depth)
	}
	err := e.execute(ctx, rf, fs.Args(), func(i *vm.Interpreter) { i.SetTrace(hook) })
	fmt.Fprintf(e.stderr, "%d instructions\n", n)
	return err
}

func cmdDisasm(ctx context.Context, e *env, args []string) error {
	fs := e.flagSet("disasm", "[-func name] [module]")
	fn := fs.String("func", "", "only disassemble this function")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path, err := e.source(fs.Args())
	if err != nil {
		return err
	}
	mod, _, err := e.load(ctx, path)
	if err != nil {
		return err
	}
	if *fn == "" {
		fmt.Fprint(e.stdout, mod.Disassemble())
		return nil
	}
	idx := mod.FunctionIndex(*fn)
	if idx < 0 {
		return fmt.Errorf("%s: no function %q", path, *fn)
	}
	fmt.Fprint(e.stdout, mod.DisassembleFunction(mod.Functions[idx]))
	return nil
}

func cmdCache(ctx context.Context, e *env, args []string) error {
	fs := e.flagSet("cache", "[-keep n] list|prune|clear")
	keep := fs.Int("keep", e.man.Cache.Keep, "entries to keep when pruning")
	if err := fs.Parse(args); err != nil {
		return err
	}
	store, err := e.cache()
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("module cache is disabled")
	}

	switch fs.Arg(0) {
	case "", "list":
		entries, err := store.Entries(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HASH\tNAME\tSIZE\tHITS\tNATIVES\tLAST USED")
		for _, en := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
				en.Hash.String()[:12], en.Manifest.Name, en.Size, en.Hits,
				len(en.Manifest.Natives), en.LastUsed.Format(time.RFC3339))
		}
		return tw.Flush()
	case "prune":
		n, err := store.Prune(ctx, *keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "removed %d entries\n", n)
	case "clear":
		n, err := store.Prune(ctx, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "removed %d entries\n", n)
	default:
		fs.Usage()
		return fmt.Errorf("unknown cache action %q", fs.Arg(0))
	}
	return nil
}

package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	bc "github.com/splanck/viper-sub004/pkg/bytecode"
	"github.com/splanck/viper-sub004/pkg/il"
)

var log = commonlog.GetLogger("bcvm.compiler")

// Options tune code generation.
type Options struct {
	// Peephole enables the local rewrite pass after codegen.
	Peephole bool
	// DebugInfo attaches per-pc lines, stack depths and local names.
	DebugInfo bool
}

// DefaultOptions returns the options Compile starts from.
func DefaultOptions() Options {
	return Options{DebugInfo: true}
}

// Option modifies Options.
type Option func(*Options)

// WithPeephole toggles the peephole pass.
func WithPeephole(on bool) Option {
	return func(o *Options) { o.Peephole = on }
}

// WithDebugInfo toggles the debug side tables.
func WithDebugInfo(on bool) Option {
	return func(o *Options) { o.DebugInfo = on }
}

// WithOptions replaces all options at once.
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}

// Compiler carries module-wide state while functions are lowered.
type Compiler struct {
	src     *il.Module
	out     *bc.Module
	opts    Options
	funcIdx map[string]int
}

// Compile lowers a verified IL module to a frozen bytecode module. The
// result is a pure function of the input and options.
func Compile(m *il.Module, opts ...Option) (*bc.Module, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Compiler{
		src:     m,
		out:     bc.NewModule(m.Name),
		opts:    o,
		funcIdx: make(map[string]int, len(m.Functions)),
	}
	if len(m.Functions) > 0xFFFF+1 {
		return nil, &Error{Func: m.Name, Instr: -1, Err: ErrLimit, Detail: "too many functions"}
	}
	for i, fn := range m.Functions {
		if _, dup := c.funcIdx[fn.Name]; dup {
			return nil, &Error{Func: fn.Name, Instr: -1, Err: ErrMalformedInstr, Detail: "duplicate function"}
		}
		c.funcIdx[fn.Name] = i
	}

	if err := c.globals(); err != nil {
		return nil, err
	}

	c.out.Functions = make([]*bc.Function, len(m.Functions))
	for i, fn := range m.Functions {
		f, err := c.compileFunction(fn)
		if err != nil {
			return nil, err
		}
		c.out.Functions[i] = f
	}
	c.out.Freeze()
	log.Debugf("compiled module %q: %d functions, %d natives", m.Name, len(c.out.Functions), len(c.out.Natives))
	return c.out, nil
}

func (c *Compiler) globals() error {
	if len(c.src.Globals) > 0xFFFF+1 {
		return &Error{Func: c.src.Name, Instr: -1, Err: ErrLimit, Detail: "too many globals"}
	}
	for _, g := range c.src.Globals {
		def := bc.GlobalDef{Name: g.Name}
		if g.Init != nil {
			switch g.Init.Kind {
			case il.KindInt:
				def.Init, def.Int = bc.InitInt, g.Init.Int
			case il.KindFloat:
				def.Init, def.Float = bc.InitFloat, g.Init.Float
			case il.KindStr:
				def.Init, def.Str = bc.InitStr, c.out.AddStr(g.Init.Str)
			case il.KindNull:
			default:
				return &Error{Func: c.src.Name, Instr: -1, Err: ErrMalformedInstr,
					Detail: fmt.Sprintf("global @%s: unsupported initializer %s", g.Name, g.Init)}
			}
		}
		c.out.Globals = append(c.out.Globals, def)
	}
	return nil
}

// native returns the native table index for ext.
func (c *Compiler) native(ext *il.Extern, argc int) uint32 {
	return c.out.AddNative(bc.NativeRef{
		Name:      ext.Name,
		Argc:      uint8(argc),
		HasResult: ext.Ret != il.Void,
	})
}

func (c *Compiler) compileFunction(fn *il.Function) (*bc.Function, error) {
	g := &funcGen{
		c:          c,
		fn:         fn,
		info:       scan(fn),
		slots:      mapSlots(fn),
		b:          newBuilder(),
		blockLabel: make(map[string]int, len(fn.Blocks)),
		curInstr:   -1,
	}
	if len(fn.Blocks) == 0 {
		return nil, g.fail(ErrMalformedInstr, "function has no blocks")
	}
	if g.slots.count() > 0xFFFF+1 {
		return nil, g.fail(ErrLimit, "%d locals exceed 65536", g.slots.count())
	}
	for _, blk := range fn.Blocks {
		if _, dup := g.blockLabel[blk.Label]; dup {
			g.curBlock = blk.Label
			return nil, g.fail(ErrMalformedInstr, "duplicate block label")
		}
		if term := blk.Terminator(); term == nil || !term.Op.IsTerminator() {
			g.curBlock = blk.Label
			return nil, g.fail(ErrMalformedInstr, "block does not end in a terminator")
		}
		depth := 0
		if g.info.handlers[blk.Label] {
			depth = 2
		}
		g.blockLabel[blk.Label] = g.b.newLabel(depth)
	}

	g.order = linearize(fn)
	for pos, idx := range g.order {
		g.pos = pos
		if err := g.genBlock(fn.Blocks[idx]); err != nil {
			return nil, err
		}
	}
	g.curBlock, g.curInstr = "", -1

	if c.opts.Peephole {
		g.peephole()
	}
	asm, err := g.assemble()
	if err != nil {
		return nil, err
	}

	f := &bc.Function{
		Name:       fn.Name,
		NumParams:  uint32(len(fn.Params)),
		NumLocals:  uint32(g.slots.count()),
		MaxStack:   uint32(asm.maxStack),
		MaxScratch: uint32(g.info.scratch),
		HasReturn:  fn.Ret != il.Void,
		Code:       asm.code,
		Ranges:     asm.ranges,
		Switches:   asm.switches,
		Resume:     asm.resume,
	}
	if c.opts.DebugInfo {
		f.Debug = &bc.DebugInfo{
			Lines:      asm.lines,
			StackDepth: asm.depth,
			LocalNames: g.slots.names,
		}
	}
	log.Debugf("%s: %d words, %d locals, max stack %d", fn.Name, len(f.Code), f.NumLocals, f.MaxStack)
	return f, nil
}

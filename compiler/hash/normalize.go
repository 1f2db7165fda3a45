package hash

import (
	"math"

	"github.com/splanck/viper-sub004/pkg/il"
)

// ---------------------------------------------------------------------------
// Normalization: IL module → frozen hashing tree
//
// Temps are renumbered in definition order (function parameters, then each
// block's parameters and results in declaration order), starting at 1.
// Block labels are replaced by block indexes. Source lines are kept only
// when requested, since they feed debug tables but not semantics.
// ---------------------------------------------------------------------------

type normalizer struct {
	temps     map[int]uint32
	blocks    map[string]uint32
	keepLines bool
}

// NormalizeModule converts m into its hashing tree.
func NormalizeModule(m *il.Module, keepLines bool) *HModule {
	hm := &HModule{Name: m.Name}
	for _, e := range m.Externs {
		hm.Externs = append(hm.Externs, HExtern{Name: e.Name, Params: typeNames(e.Params), Ret: string(e.Ret)})
	}
	for _, g := range m.Globals {
		hg := HGlobal{Name: g.Name, Type: string(g.Type)}
		if g.Init != nil {
			v := literal(*g.Init)
			hg.Init = &v
		}
		hm.Globals = append(hm.Globals, hg)
	}
	for _, fn := range m.Functions {
		n := &normalizer{
			temps:     make(map[int]uint32),
			blocks:    make(map[string]uint32, len(fn.Blocks)),
			keepLines: keepLines,
		}
		hm.Functions = append(hm.Functions, n.function(fn))
	}
	return hm
}

func typeNames(ts []il.Type) []string {
	var out []string
	for _, t := range ts {
		out = append(out, string(t))
	}
	return out
}

func (n *normalizer) define(id int) uint32 {
	if t, ok := n.temps[id]; ok {
		return t
	}
	t := uint32(len(n.temps) + 1)
	n.temps[id] = t
	return t
}

func (n *normalizer) function(fn *il.Function) HFunction {
	hf := HFunction{Name: fn.Name, Ret: string(fn.Ret)}
	for _, p := range fn.Params {
		n.define(p.ID)
		hf.Params = append(hf.Params, string(p.Type))
	}
	// Definitions first so forward references resolve to the same index.
	for i, blk := range fn.Blocks {
		n.blocks[blk.Label] = uint32(i)
		for _, p := range blk.Params {
			n.define(p.ID)
		}
		for j := range blk.Instrs {
			if blk.Instrs[j].HasResult() {
				n.define(blk.Instrs[j].Dst)
			}
		}
	}
	for _, blk := range fn.Blocks {
		hb := HBlock{}
		for _, p := range blk.Params {
			hb.Params = append(hb.Params, string(p.Type))
		}
		for j := range blk.Instrs {
			hb.Instrs = append(hb.Instrs, n.instr(&blk.Instrs[j]))
		}
		hf.Blocks = append(hf.Blocks, hb)
	}
	return hf
}

func (n *normalizer) instr(in *il.Instr) HInstr {
	hi := HInstr{
		Op:     string(in.Op),
		Type:   string(in.Type),
		Callee: in.Callee,
		Cases:  in.Cases,
		Kind:   in.Kind,
	}
	if in.HasResult() {
		hi.Dst = n.temps[in.Dst]
	}
	if n.keepLines {
		hi.Line = in.Line
	}
	hi.Operands = n.values(in.Operands)
	for _, l := range in.Labels {
		idx, ok := n.blocks[l]
		if !ok {
			// Unknown labels hash distinctly from every real block.
			idx = math.MaxUint32
		}
		hi.Targets = append(hi.Targets, idx)
	}
	for _, args := range in.Args {
		hi.Args = append(hi.Args, n.values(args))
	}
	return hi
}

func (n *normalizer) values(vs []il.Value) []HValue {
	var out []HValue
	for _, v := range vs {
		if v.Kind == il.KindTemp {
			out = append(out, HValue{Kind: string(v.Kind), Temp: n.define(v.ID)})
			continue
		}
		out = append(out, literal(v))
	}
	return out
}

func literal(v il.Value) HValue {
	hv := HValue{Kind: string(v.Kind), Int: v.Int, Str: v.Str}
	if v.Kind == il.KindFloat {
		hv.FloatBits = math.Float64bits(v.Float)
	}
	return hv
}

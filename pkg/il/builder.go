package il

// ModuleBuilder assembles a Module in memory. Front ends and tests use it in
// place of the textual form.
type ModuleBuilder struct {
	mod *Module
}

// NewModuleBuilder starts an empty module.
func NewModuleBuilder(name string) *ModuleBuilder {
	return &ModuleBuilder{mod: &Module{Name: name}}
}

// Module returns the module built so far.
func (mb *ModuleBuilder) Module() *Module { return mb.mod }

// Extern declares a native helper.
func (mb *ModuleBuilder) Extern(name string, ret Type, params ...Type) {
	mb.mod.Externs = append(mb.mod.Externs, Extern{Name: name, Params: params, Ret: ret})
}

// Global declares a module global with an optional initializer.
func (mb *ModuleBuilder) Global(name string, t Type, init *Value) {
	mb.mod.Globals = append(mb.mod.Globals, Global{Name: name, Type: t, Init: init})
}

// Function starts a new function. Parameter ids are assigned in order
// starting at 1.
func (mb *ModuleBuilder) Function(name string, ret Type, params ...Param) *FuncBuilder {
	f := &Function{Name: name, Ret: ret}
	fb := &FuncBuilder{fn: f}
	for _, p := range params {
		p.ID = fb.newID()
		f.Params = append(f.Params, p)
	}
	mb.mod.Functions = append(mb.mod.Functions, f)
	return fb
}

// FuncBuilder adds blocks to one function and hands out temp ids.
type FuncBuilder struct {
	fn     *Function
	nextID int
}

func (fb *FuncBuilder) newID() int {
	fb.nextID++
	return fb.nextID
}

// Func returns the function being built.
func (fb *FuncBuilder) Func() *Function { return fb.fn }

// Param returns the i-th function parameter as an operand.
func (fb *FuncBuilder) Param(i int) Value { return Temp(fb.fn.Params[i].ID) }

// Block appends a basic block. The first block added is the entry.
func (fb *FuncBuilder) Block(label string, params ...Param) *BlockBuilder {
	b := &Block{Label: label}
	for _, p := range params {
		p.ID = fb.newID()
		b.Params = append(b.Params, p)
	}
	fb.fn.Blocks = append(fb.fn.Blocks, b)
	return &BlockBuilder{fb: fb, blk: b}
}

// BlockBuilder appends instructions to one block.
type BlockBuilder struct {
	fb   *FuncBuilder
	blk  *Block
	line int
}

// Param returns the i-th block parameter as an operand.
func (bb *BlockBuilder) Param(i int) Value { return Temp(bb.blk.Params[i].ID) }

// Label returns the block label.
func (bb *BlockBuilder) Label() string { return bb.blk.Label }

// Line sets the source line attached to subsequently appended instructions.
func (bb *BlockBuilder) Line(n int) *BlockBuilder {
	bb.line = n
	return bb
}

func (bb *BlockBuilder) append(in Instr) {
	if in.Line == 0 {
		in.Line = bb.line
	}
	bb.blk.Instrs = append(bb.blk.Instrs, in)
}

// Op appends a value-producing instruction and returns its result temp.
func (bb *BlockBuilder) Op(op Opcode, t Type, operands ...Value) Value {
	id := bb.fb.newID()
	bb.append(Instr{Op: op, Dst: id, Type: t, Operands: operands})
	return Temp(id)
}

// Do appends an instruction without a result.
func (bb *BlockBuilder) Do(op Opcode, operands ...Value) {
	bb.append(Instr{Op: op, Operands: operands})
}

// Call appends a direct call. A Void return type yields a zero Value.
func (bb *BlockBuilder) Call(callee string, ret Type, args ...Value) Value {
	in := Instr{Op: OpCall, Callee: callee, Type: ret, Operands: args}
	if ret != Void {
		in.Dst = bb.fb.newID()
	}
	bb.append(in)
	if in.Dst == 0 {
		return Value{}
	}
	return Temp(in.Dst)
}

// CallIndirect appends a call through a function pointer held in target.
func (bb *BlockBuilder) CallIndirect(target Value, ret Type, args ...Value) Value {
	in := Instr{Op: OpCallIndirect, Type: ret, Operands: append([]Value{target}, args...)}
	if ret != Void {
		in.Dst = bb.fb.newID()
	}
	bb.append(in)
	if in.Dst == 0 {
		return Value{}
	}
	return Temp(in.Dst)
}

// Load appends a typed memory load.
func (bb *BlockBuilder) Load(t Type, ptr Value) Value { return bb.Op(OpLoad, t, ptr) }

// Store appends a typed memory store.
func (bb *BlockBuilder) Store(t Type, ptr, v Value) {
	bb.append(Instr{Op: OpStore, Type: t, Operands: []Value{ptr, v}})
}

// Narrow appends a checked narrowing cast to t.
func (bb *BlockBuilder) Narrow(op Opcode, t Type, v Value) Value { return bb.Op(op, t, v) }

// GLoad reads a global.
func (bb *BlockBuilder) GLoad(t Type, name string) Value {
	return bb.Op(OpGLoad, t, GlobalRef(name))
}

// GStore writes a global.
func (bb *BlockBuilder) GStore(name string, v Value) {
	bb.Do(OpGStore, GlobalRef(name), v)
}

// Br appends an unconditional branch.
func (bb *BlockBuilder) Br(label string, args ...Value) {
	bb.append(Instr{Op: OpBr, Labels: []string{label}, Args: [][]Value{args}})
}

// CBr appends a two-way conditional branch.
func (bb *BlockBuilder) CBr(cond Value, t string, targs []Value, f string, fargs []Value) {
	bb.append(Instr{
		Op:       OpCBr,
		Operands: []Value{cond},
		Labels:   []string{t, f},
		Args:     [][]Value{targs, fargs},
	})
}

// SwitchCase is one arm of a switch.i32.
type SwitchCase struct {
	Value int64
	Label string
	Args  []Value
}

// Switch appends a multi-way branch on sel.
func (bb *BlockBuilder) Switch(sel Value, def string, defArgs []Value, cases ...SwitchCase) {
	in := Instr{
		Op:       OpSwitch,
		Operands: []Value{sel},
		Labels:   []string{def},
		Args:     [][]Value{defArgs},
	}
	for _, c := range cases {
		in.Labels = append(in.Labels, c.Label)
		in.Args = append(in.Args, c.Args)
		in.Cases = append(in.Cases, c.Value)
	}
	bb.append(in)
}

// Ret appends a return; pass no value for void functions.
func (bb *BlockBuilder) Ret(v ...Value) {
	bb.append(Instr{Op: OpRet, Operands: v})
}

// Trap raises a trap of the named kind.
func (bb *BlockBuilder) Trap(kind string) {
	bb.append(Instr{Op: OpTrap, Kind: kind})
}

// EhPush registers handler as the innermost exception handler.
func (bb *BlockBuilder) EhPush(handler string) {
	bb.append(Instr{Op: OpEhPush, Labels: []string{handler}})
}

// EhPop removes the innermost handler.
func (bb *BlockBuilder) EhPop() { bb.append(Instr{Op: OpEhPop}) }

// EhEntry marks a handler block head.
func (bb *BlockBuilder) EhEntry() { bb.append(Instr{Op: OpEhEntry}) }

// ResumeSame re-executes the faulting instruction.
func (bb *BlockBuilder) ResumeSame(tok Value) {
	bb.append(Instr{Op: OpResumeSame, Operands: []Value{tok}})
}

// ResumeNext continues after the faulting instruction.
func (bb *BlockBuilder) ResumeNext(tok Value) {
	bb.append(Instr{Op: OpResumeNext, Operands: []Value{tok}})
}

// ResumeLabel continues at label in the handler's function.
func (bb *BlockBuilder) ResumeLabel(tok Value, label string) {
	bb.append(Instr{Op: OpResumeLabel, Operands: []Value{tok}, Labels: []string{label}, Args: [][]Value{nil}})
}

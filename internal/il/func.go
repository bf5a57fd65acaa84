// Copyright (c) 2024 The Viper Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package il

// Param is a function parameter: a name and a type, realized in the
// entry block as that block's Params (spec.md §4.1: "the entry block
// realizes ABI parameter placement").
type Param struct {
	Name string
	Type Type
}

// Func is one IL function: typed parameters, a return-type list
// (supporting the zero/one/multi-value returns spec.md §4.1's calling
// convention allows), and a dense block list in input order. Blocks[0]
// is always the entry block.
type Func struct {
	Name    string
	Params  []Param
	Results []Type
	Blocks  []*Block
	nextID  int
}

// NewFunc creates an empty function ready to have blocks appended.
func NewFunc(name string, params []Param, results []Type) *Func {
	return &Func{Name: name, Params: params, Results: results}
}

// NewBlock appends a fresh block to f and returns it.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{ID: len(f.Blocks), Name: name, Func: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewValue allocates a value with a function-unique ID, owned by
// block b.
func (f *Func) NewValue(b *Block, op Op, typ Type) *Value {
	v := &Value{ID: f.nextID, Op: op, Type: typ, Block: b}
	f.nextID++
	return v
}

// Entry returns the function's entry block.
func (f *Func) Entry() *Block { return f.Blocks[0] }

// Predecessors computes, for every block, the set of blocks whose
// terminator targets it. IL is read-only once built so this is
// recomputed on demand rather than maintained incrementally, unlike
// ssa.Block's eagerly-updated Preds slice.
func (f *Func) Predecessors() map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// ReversePostOrder returns f's blocks in reverse post-order from the
// entry block, the traversal order spec.md §4.2 requires for
// assigning liveness instruction positions.
func (f *Func) ReversePostOrder() []*Block {
	visited := make(map[*Block]bool, len(f.Blocks))
	var post []*Block
	var visit func(b *Block)
	visit = func(b *Block) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range b.Succs() {
			visit(s)
		}
		post = append(post, b)
	}
	visit(f.Entry())
	rpo := make([]*Block, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}
	return rpo
}

// Module is a collection of functions plus the module-level globals
// (string and FP constants) the rodata pool interns. Mirrors the role
// of a Falcon compilation unit, minus the AST front-end state Falcon's
// top-level Compiler struct carries, since this backend never parses
// source.
type Module struct {
	Funcs   []*Func
	Globals []Global
}

// Global is a module-level constant referenced by address (a string
// literal or an FP constant too wide to inline), destined for the
// rodata pool.
type Global struct {
	Name  string
	Bytes []byte // for string/byte-blob globals
	IsFP  bool
	Bits  uint64 // IEEE-754 bit pattern, valid when IsFP
}

// NewModule returns an empty module.
func NewModule() *Module { return &Module{} }

// AddFunc appends fn to the module.
func (m *Module) AddFunc(fn *Func) { m.Funcs = append(m.Funcs, fn) }

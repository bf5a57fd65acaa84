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

package mir

// Module is the lowered counterpart of il.Module: one MIR function
// per IL function, in the same order, so the assembly emitter's
// ".text functions in input order" contract (spec.md §6) is just "walk
// Module.Funcs".
type Module struct {
	Funcs []*Func
}

// NewModule returns an empty MIR module.
func NewModule() *Module { return &Module{} }

// AddFunc appends fn.
func (m *Module) AddFunc(fn *Func) { m.Funcs = append(m.Funcs, fn) }

// Copyright (c) 2024 The Falcon Contributors
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
package ast

// Program is the single-module declaration set a host assembles before
// calling Execute: every function and class the verifier, MIR compiler and
// code generator need to resolve signatures and field offsets against.
// Multiple source modules are explicitly out of scope (spec.md §1), so one
// Program is the whole world for one execution.
type Program struct {
	Functions []*Function
	Classes   map[string]*Class

	// classOrder fixes a stable, zero-based integer id for every class, in
	// declaration order - the TypeID the heap's object header stores for a
	// class instance (see HeaderSize) and the runtime's type metadata table
	// indexes by. A Go map has no stable iteration order, so this can't be
	// derived from Classes itself.
	classOrder []string
}

func NewProgram() *Program {
	return &Program{Classes: make(map[string]*Class)}
}

func (p *Program) AddFunction(f *Function) {
	p.Functions = append(p.Functions, f)
}

func (p *Program) AddClass(c *Class) {
	if _, exists := p.Classes[c.Name]; !exists {
		p.classOrder = append(p.classOrder, c.Name)
	}
	p.Classes[c.Name] = c
}

func (p *Program) FindFunction(sig FunctionSignature) *Function {
	for _, f := range p.Functions {
		if f.Declaration.Signature().Equal(sig) {
			return f
		}
	}
	return nil
}

func (p *Program) FindClass(name string) *Class {
	return p.Classes[name]
}

// ClassIndex returns name's stable id, or -1 if no such class was added.
func (p *Program) ClassIndex(name string) int {
	for i, n := range p.classOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// ClassByIndex is ClassIndex's inverse, used by the runtime to recover a
// heap object's declared type from the TypeID stored in its header.
func (p *Program) ClassByIndex(id int) *Class {
	if id < 0 || id >= len(p.classOrder) {
		return nil
	}
	return p.Classes[p.classOrder[id]]
}

// ClassCount is the number of distinct classes added to the program.
func (p *Program) ClassCount() int {
	return len(p.classOrder)
}

// Main returns the designated entrypoint: a managed function named "main"
// with no parameters returning Int32, per spec.md §6.
func (p *Program) Main() *Function {
	for _, f := range p.Functions {
		if f.IsManaged() && f.Declaration.Name == "main" && len(f.Declaration.Parameters) == 0 && f.Declaration.Return.IsInt32() {
			return f
		}
	}
	return nil
}

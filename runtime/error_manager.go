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
package runtime

import "fmt"

// RuntimeErrorKind enumerates the fatal conditions a stackjit execution can
// raise. Values match codegen.TrapKind's ordering exactly; services.go
// converts between the two at the boundary rather than codegen depending
// on this package (see RuntimeServices in codegen/context.go).
type RuntimeErrorKind int32

const (
	NullReference RuntimeErrorKind = iota
	ArrayBounds
	ArrayCreate
	DivideByZero
)

func (k RuntimeErrorKind) String() string {
	switch k {
	case NullReference:
		return "NullReference"
	case ArrayBounds:
		return "ArrayBounds"
	case ArrayCreate:
		return "ArrayCreate"
	case DivideByZero:
		return "DivideByZero"
	default:
		return fmt.Sprintf("RuntimeErrorKind(%d)", int32(k))
	}
}

// RuntimeErrorManager holds the last fatal error one VM.Execute call
// raised, pinned exactly where it happened: the JIT frame's base pointer,
// its stack pointer at the moment of the trap, and the return address
// inside it execution would have resumed at had nothing gone wrong.
// VM.Execute resets this before every call; VM.TakeRuntimeError drains it.
type RuntimeErrorManager struct {
	Kind          RuntimeErrorKind
	ReturnAddress uintptr
	RBP           uintptr
	RSP           uintptr

	raised bool
}

func (m *RuntimeErrorManager) record(kind RuntimeErrorKind, bp, sp, retAddr uintptr) {
	m.Kind = kind
	m.ReturnAddress = retAddr
	m.RBP = bp
	m.RSP = sp
	m.raised = true
}

// Take drains the recorded error, if any, leaving the manager reset for
// the next execution.
func (m *RuntimeErrorManager) Take() (RuntimeErrorManager, bool) {
	if !m.raised {
		return RuntimeErrorManager{}, false
	}
	out := *m
	*m = RuntimeErrorManager{}
	return out, true
}

func (m *RuntimeErrorManager) Reset() { *m = RuntimeErrorManager{} }

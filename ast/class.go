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

// HeaderSize is the number of bytes the runtime heap reserves immediately
// before every object or array's payload (see runtime/object.go), laid out
// back to front from the payload:
//
//	payload-24 .. payload-16   TypeID  (an index into Program.Classes, or
//	                                    ArrayTypeTag; a tombstoned region
//	                                    reuses this slot for its full size)
//	payload-16 .. payload-8    GCInfo  (low byte: mark bit; 0xFF marks a
//	                                    tombstone rather than a live object)
//	payload-8  .. payload      Length  (an array's element count; unused,
//	                                    and left zero, for class instances)
//
// A reference value as stored in a register or stack slot always points at
// the payload, never at the header, so Field.Offset and array element
// addressing only ever need the Length word at a fixed payload-8 - only the
// heap iterator and the mark-compact GC look further behind a reference.
const HeaderSize = 24

// ArrayTypeTag is the header TypeID every array carries, distinguishing it
// from a Class instance (whose TypeID is its Program.Classes index) without
// needing a separate allocation kind byte.
const ArrayTypeTag = -1

// Field is one named, typed slot of a Class, with its byte offset within
// the class's payload already assigned.
type Field struct {
	Name   string
	Type   *Type
	Offset int
}

// Class is an ordered list of fields. Offsets are assigned by appending in
// declaration order - no padding, no alignment reshuffling: fields sit at
// their natural size, back to back.
type Class struct {
	Name       string
	Fields     []*Field
	MemorySize int
}

// NewClass lays out fields in declaration order and computes MemorySize.
func NewClass(name string, fieldNames []string, fieldTypes []*Type) *Class {
	if len(fieldNames) != len(fieldTypes) {
		panic("ast: NewClass field name/type count mismatch")
	}
	c := &Class{Name: name}
	offset := 0
	for i, fname := range fieldNames {
		ft := fieldTypes[i]
		c.Fields = append(c.Fields, &Field{Name: fname, Type: ft, Offset: offset})
		offset += ft.Size()
	}
	c.MemorySize = offset
	return c
}

func (c *Class) Field(name string) *Field {
	for _, f := range c.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

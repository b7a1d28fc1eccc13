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
package codegen

import (
	"fmt"
	"unsafe"

	"stackjit/utils"
)

// ExecutableBuffer is a single RWX-mapped region holding every function
// this VM instance has compiled, concatenated back to back. Functions never
// move once written (no code GC, no recompilation), so offsets handed out
// by Write stay valid for the buffer's whole lifetime.
type ExecutableBuffer struct {
	mem  []byte
	used int
}

// execPage is implemented per-OS (exec_page_unix.go); it must return a
// slice backed by memory mapped PROT_READ|PROT_WRITE|PROT_EXEC.
var execPage func(size int) ([]byte, error)

// NewExecutableBuffer reserves size bytes of RWX memory.
func NewExecutableBuffer(size int) (*ExecutableBuffer, error) {
	utils.Assert(execPage != nil, "codegen: no executable-memory backend registered for this platform")
	mem, err := execPage(size)
	if err != nil {
		return nil, fmt.Errorf("codegen: allocate executable memory: %w", err)
	}
	return &ExecutableBuffer{mem: mem}, nil
}

// Write copies code into the buffer and returns the byte offset it now
// starts at; CallRel/Jmp displacements and resolver.go's patching are both
// relative to these offsets, not to absolute addresses, until BaseAddr is
// added in at the very end.
func (b *ExecutableBuffer) Write(code []byte) (int, error) {
	if b.used+len(code) > len(b.mem) {
		return 0, fmt.Errorf("codegen: executable buffer exhausted (%d/%d bytes)", b.used+len(code), len(b.mem))
	}
	off := b.used
	copy(b.mem[off:], code)
	b.used += len(code)
	return off, nil
}

// BaseAddr is the address the buffer's offset 0 lives at.
func (b *ExecutableBuffer) BaseAddr() uintptr {
	if len(b.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

// EntryPointer returns the callable address of the function whose code
// starts at offset.
func (b *ExecutableBuffer) EntryPointer(offset int) uintptr {
	return b.BaseAddr() + uintptr(offset)
}

func (b *ExecutableBuffer) Used() int { return b.used }

// Bytes exposes the whole backing region for resolver.go's call-site
// patching, which must rewrite bytes already written by a prior Write.
func (b *ExecutableBuffer) Bytes() []byte { return b.mem }

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

//go:build unix

package codegen

import "golang.org/x/sys/unix"

func init() {
	execPage = mmapExecPage
}

// mmapExecPage maps an anonymous, private region with every protection bit
// set at creation time. x/sys/unix is used in place of the frozen syscall
// package because MAP_ANON/MAP_ANONYMOUS's name and value differ across the
// unix targets Go supports, and x/sys is the maintained source of truth for
// that platform table (see DESIGN.md).
func mmapExecPage(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
}

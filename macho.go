// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package macho reads Mach-O images that are mapped into the address space
// of another process.
//
// Images are read through a process.Memory, so the target may be a live
// task, a crashed one, or a snapshot of its memory. Nothing the image says
// about itself is trusted: every size, offset and count is checked before use.
//
// Mach-O header data structures
// Originally at:
// http://developer.apple.com/mac/library/documentation/DeveloperTools/Conceptual/MachORuntime/Reference/reference.html (since deleted by Apple)
// Archived copy at:
// https://web.archive.org/web/20090819232456/http://developer.apple.com/documentation/DeveloperTools/Conceptual/MachORuntime/index.html
// For cloned PDF see:
// https://github.com/aidansteele/osx-abi-macho-file-format-reference
package macho

import (
	"fmt"

	"github.com/appsworld/go-macho-reader/types"
	"github.com/pkg/errors"
)

var (
	// ErrSymbolNotFound is returned when an image does not export the requested symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrNoDWARF is returned when an image carries no DWARF debug sections.
	ErrNoDWARF = errors.New("no DWARF segment")
	// ErrReExported is returned for an exported symbol that another dylib defines.
	ErrReExported = errors.New("symbol is re-exported")
)

// FormatError is returned by some operations if the data does
// not have the correct format for a Mach-O image.
type FormatError struct {
	off int64
	msg string
	val interface{}

	// load command context, set when the error is about a load command
	cmd   types.LoadCmd
	index int
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	if e.cmd != 0 {
		msg = fmt.Sprintf("load command %d (%s): %s", e.index, e.cmd, msg)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

// Offset returns the offset of the offending record from the start of the image.
func (e *FormatError) Offset() int64 { return e.off }

// Command returns the load command the error is about, or zero.
func (e *FormatError) Command() types.LoadCmd { return e.cmd }

// Package process reads the memory of another process.
package process

import (
	"errors"
	"fmt"
)

var (
	ErrNotMapped    = errors.New("address not mapped")
	ErrNotSupported = errors.New("process memory access not supported on this platform")
)

// Memory is implemented by anything that can copy bytes out of a target
// address space. Read returns exactly size bytes starting at addr or an
// error; a short read is an error. Addresses need not be aligned.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Memory interface {
	Read(addr, size uint64) ([]byte, error)
}

// A ReadError records a failed read of the target's memory.
type ReadError struct {
	Addr uint64
	Size uint64
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %#x bytes at %#x: %v", e.Size, e.Addr, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ReadUint32 reads a little-endian uint32 at addr.
func ReadUint32(m Memory, addr uint64) (uint32, error) {
	b, err := m.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

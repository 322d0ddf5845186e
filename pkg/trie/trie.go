// Package trie reads the export tries dyld uses to bind symbols.
package trie

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Lookup for a symbol the trie does not export.
var ErrNotFound = errors.New("symbol not in trie")

// An Entry is a terminal node of an export trie.
//
// Address is an offset from the image's mach header for regular and thread
// local symbols, and the symbol's value for absolute ones. A re-export has
// no address; Other is the ordinal of the dylib it comes from. A stub with
// a resolver has Other set to the resolver's offset.
type Entry struct {
	Name     string
	ReExport string
	Flags    ExportFlag
	Other    uint64
	Address  uint64
}

func (e Entry) String() string {
	switch {
	case e.Flags.ReExport():
		if e.ReExport != "" {
			return fmt.Sprintf("%s (%s re-exported from dylib %d)", e.Name, e.ReExport, e.Other)
		}
		return fmt.Sprintf("%s (re-exported from dylib %d)", e.Name, e.Other)
	case e.Flags.StubAndResolver():
		return fmt.Sprintf("%#016x: %s (resolver %#x)", e.Address, e.Name, e.Other)
	}
	return fmt.Sprintf("%#016x: %s", e.Address, e.Name)
}

// ReadUleb128 reads an unsigned LEB128 value from r.
func ReadUleb128(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint64

	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "could not parse ULEB128 value")
		}
		if shift >= 64 {
			return 0, fmt.Errorf("could not parse ULEB128 value: overflows 64 bits")
		}

		result |= uint64(b&0x7f) << shift

		// If high order bit is 1.
		if (b & 0x80) == 0 {
			break
		}

		shift += 7
	}

	return result, nil
}

type node struct {
	offset uint64
	prefix []byte
}

type reader struct {
	*bytes.Reader
	size int64
}

func newReader(data []byte) reader {
	return reader{bytes.NewReader(data), int64(len(data))}
}

func (r reader) seek(off uint64) error {
	if off >= uint64(r.size) {
		return fmt.Errorf("trie node offset %#x outside of trie of %#x bytes", off, r.size)
	}
	_, err := r.Seek(int64(off), io.SeekStart)
	return err
}

func (r reader) cstring() ([]byte, error) {
	var s []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return nil, errors.New("trie string not NUL-terminated")
		}
		if c == 0 {
			return s, nil
		}
		s = append(s, c)
	}
}

// terminal reads the terminal information of the node at off, if any, and
// leaves r at the node's child count.
func (r reader) terminal(off uint64) (*Entry, error) {
	if err := r.seek(off); err != nil {
		return nil, err
	}
	terminalSize, err := ReadUleb128(r)
	if err != nil {
		return nil, err
	}
	start := uint64(r.size - int64(r.Len()))
	if terminalSize > uint64(r.size)-start {
		return nil, fmt.Errorf("trie node at %#x has terminal size %#x past the end of the trie", off, terminalSize)
	}
	if terminalSize == 0 {
		return nil, nil
	}

	var e Entry
	flags, err := ReadUleb128(r)
	if err != nil {
		return nil, err
	}
	e.Flags = ExportFlag(flags)
	if e.Flags.ReExport() {
		if e.Other, err = ReadUleb128(r); err != nil {
			return nil, err
		}
		name, err := r.cstring()
		if err != nil {
			return nil, err
		}
		e.ReExport = string(name)
	} else {
		if e.Address, err = ReadUleb128(r); err != nil {
			return nil, err
		}
		if e.Flags.StubAndResolver() {
			if e.Other, err = ReadUleb128(r); err != nil {
				return nil, err
			}
		}
	}
	if _, err := r.Seek(int64(start+terminalSize), io.SeekStart); err != nil {
		return nil, err
	}
	return &e, nil
}

// Parse returns every symbol exported by the trie in data.
func Parse(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := newReader(data)
	var entries []Entry
	visited := make(map[uint64]bool)
	nodes := []node{{offset: 0}}

	for len(nodes) > 0 {
		n := nodes[len(nodes)-1]
		nodes = nodes[:len(nodes)-1]
		if visited[n.offset] {
			return nil, fmt.Errorf("trie node at %#x is reachable twice", n.offset)
		}
		visited[n.offset] = true

		e, err := r.terminal(n.offset)
		if err != nil {
			return nil, err
		}
		if e != nil {
			e.Name = string(n.prefix)
			entries = append(entries, *e)
		}

		children, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrapf(err, "trie node at %#x has no child count", n.offset)
		}
		for i := 0; i < int(children); i++ {
			edge, err := r.cstring()
			if err != nil {
				return nil, err
			}
			child, err := ReadUleb128(r)
			if err != nil {
				return nil, err
			}
			prefix := make([]byte, 0, len(n.prefix)+len(edge))
			prefix = append(append(prefix, n.prefix...), edge...)
			nodes = append(nodes, node{offset: child, prefix: prefix})
		}
	}
	return entries, nil
}

// Lookup walks the trie in data for symbol without decoding the rest of it.
func Lookup(data []byte, symbol string) (Entry, error) {
	if len(data) == 0 {
		return Entry{}, ErrNotFound
	}
	r := newReader(data)
	var off uint64
	matched := 0
	for steps := 0; steps <= len(data); steps++ {
		e, err := r.terminal(off)
		if err != nil {
			return Entry{}, err
		}
		if matched == len(symbol) {
			if e == nil {
				return Entry{}, ErrNotFound
			}
			e.Name = symbol
			return *e, nil
		}

		children, err := r.ReadByte()
		if err != nil {
			return Entry{}, errors.Wrapf(err, "trie node at %#x has no child count", off)
		}
		next, found := uint64(0), false
		for i := 0; i < int(children); i++ {
			edge, err := r.cstring()
			if err != nil {
				return Entry{}, err
			}
			child, err := ReadUleb128(r)
			if err != nil {
				return Entry{}, err
			}
			if !found && bytes.HasPrefix([]byte(symbol[matched:]), edge) && len(edge) > 0 {
				next, found = child, true
				matched += len(edge)
			}
		}
		if !found {
			return Entry{}, ErrNotFound
		}
		off = next
	}
	return Entry{}, fmt.Errorf("trie walk for %s does not terminate", symbol)
}

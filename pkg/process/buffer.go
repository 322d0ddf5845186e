package process

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// A Region is a contiguous run of mapped bytes.
type Region struct {
	Addr uint64
	Data []byte
}

func (r Region) end() uint64 { return r.Addr + uint64(len(r.Data)) }

// Buffer is an in-memory address space made of non-overlapping regions. It
// serves snapshots of another process and synthetic images.
type Buffer struct {
	mu      sync.RWMutex
	regions []Region // sorted by Addr
}

// NewBuffer returns a Buffer holding the given regions.
func NewBuffer(regions ...Region) (*Buffer, error) {
	b := new(Buffer)
	for _, r := range regions {
		if err := b.Map(r.Addr, r.Data); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Map makes data readable at addr. The data is not copied.
func (b *Buffer) Map(addr uint64, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot map empty region at %#x", addr)
	}
	r := Region{Addr: addr, Data: data}
	if r.end() < addr {
		return fmt.Errorf("region at %#x with size %#x wraps the address space", addr, len(data))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i, _ := slices.BinarySearchFunc(b.regions, addr, byAddr)
	if i > 0 && b.regions[i-1].end() > addr {
		return fmt.Errorf("region at %#x overlaps region at %#x", addr, b.regions[i-1].Addr)
	}
	if i < len(b.regions) && b.regions[i].Addr < r.end() {
		return fmt.Errorf("region at %#x overlaps region at %#x", addr, b.regions[i].Addr)
	}
	b.regions = slices.Insert(b.regions, i, r)
	return nil
}

// Unmap removes the region starting at addr.
func (b *Buffer) Unmap(addr uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.regions {
		if r.Addr == addr {
			b.regions = slices.Delete(b.regions, i, i+1)
			return true
		}
	}
	return false
}

// Regions returns a copy of the mapped regions in address order.
func (b *Buffer) Regions() []Region {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.regions)
}

// Read copies size bytes starting at addr. The range may span adjacent
// regions but must not touch a hole.
func (b *Buffer) Read(addr, size uint64) ([]byte, error) {
	if addr+size < addr {
		return nil, &ReadError{Addr: addr, Size: size, Err: ErrNotMapped}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	// check the whole range before allocating
	for cur, left := addr, size; left > 0; {
		r, ok := b.find(cur)
		if !ok {
			return nil, &ReadError{Addr: addr, Size: size, Err: ErrNotMapped}
		}
		n := min(r.end()-cur, left)
		cur += n
		left -= n
	}

	out := make([]byte, 0, size)
	for cur := addr; uint64(len(out)) < size; {
		r, _ := b.find(cur)
		n := min(r.end()-cur, size-uint64(len(out)))
		off := cur - r.Addr
		out = append(out, r.Data[off:off+n]...)
		cur += n
	}
	return out, nil
}

func (b *Buffer) find(addr uint64) (Region, bool) {
	i, found := slices.BinarySearchFunc(b.regions, addr, byAddr)
	if found {
		return b.regions[i], true
	}
	if i > 0 && b.regions[i-1].end() > addr {
		return b.regions[i-1], true
	}
	return Region{}, false
}

func byAddr(r Region, addr uint64) int {
	return cmp.Compare(r.Addr, addr)
}

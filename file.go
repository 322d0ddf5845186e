// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package macho

// High level access to low level data structures.

import (
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/appsworld/go-macho-reader/pkg/process"
	"github.com/appsworld/go-macho-reader/types"
	"github.com/pkg/errors"
)

type readerState uint8

const (
	stateUninitialized readerState = iota
	stateFailed
	stateValid
)

// An ImageReader reads a Mach-O image mapped into another process.
//
// The zero value is ready for Initialize. Once Initialize has succeeded the
// reader is immutable and safe for concurrent use; calling any other method
// on a reader that has not been successfully initialized panics.
type ImageReader struct {
	mem     process.Memory
	name    string
	address uint64
	state   readerState

	layout types.Layout
	header types.FileHeader

	segments   []*SegmentReader
	segmentMap map[string]int
	sections   []*Section // by ordinal-1

	slide uint64
	size  uint64

	symtab        *types.SymtabCmd
	dysymtab      *types.DysymtabCmd
	idDylib       *types.DylibCmd
	dylibName     string
	dylinker      *types.DylinkerCmd
	dylinkerName  string
	uuid          *types.UUIDCmd
	sourceVersion *types.SourceVersionCmd
	exports       *types.LinkEditDataCmd // from LC_DYLD_INFO(_ONLY) or LC_DYLD_EXPORTS_TRIE

	symbolsOnce sync.Once
	symbols     map[string]uint64
	symbolsErr  error

	exportsOnce sync.Once
	exportsData []byte
	exportsErr  error
}

// NewImageReader returns a reader for the image at address in mem.
func NewImageReader(mem process.Memory, address uint64, name string) (*ImageReader, error) {
	r := new(ImageReader)
	if err := r.Initialize(mem, address, name); err != nil {
		return nil, err
	}
	return r, nil
}

// Initialize reads the Mach-O header and load commands of the image that
// begins at address in mem. name identifies the image in errors and log
// messages. Initialize panics if called more than once.
func (r *ImageReader) Initialize(mem process.Memory, address uint64, name string) (err error) {
	if r.state != stateUninitialized {
		panic("macho: ImageReader initialized twice")
	}
	r.state = stateFailed
	r.mem = mem
	r.address = address
	r.name = name

	defer func() {
		if err != nil {
			log.WithFields(log.Fields{
				"image":   name,
				"address": fmt.Sprintf("%#x", address),
			}).WithError(err).Warn("failed to read Mach-O image")
		}
	}()

	if err := r.load(); err != nil {
		return err
	}
	r.state = stateValid
	return nil
}

func (r *ImageReader) load() error {
	dat, err := r.read(r.address, 4, "magic")
	if err != nil {
		return err
	}
	magic := types.Magic(types.ByteOrder.Uint32(dat))
	layout, ok := types.LayoutForMagic(magic)
	if !ok {
		return &FormatError{msg: "invalid magic number", val: magic}
	}
	r.layout = layout

	hdrSize := uint64(layout.HeaderSize())
	if dat, err = r.read(r.address, hdrSize, "header"); err != nil {
		return err
	}
	if r.header, err = layout.ReadHeader(dat); err != nil {
		return &FormatError{msg: err.Error()}
	}
	if uint64(r.header.SizeCommands) < uint64(r.header.NCommands)*types.LoadCommandSize {
		return &FormatError{msg: fmt.Sprintf("load command region too small for %d commands", r.header.NCommands), val: r.header.SizeCommands}
	}

	cmdsAddr, ok := checkedAdd(r.address, hdrSize)
	if !ok {
		return &FormatError{msg: "load commands wrap the address space"}
	}
	if dat, err = r.read(cmdsAddr, uint64(r.header.SizeCommands), "load commands"); err != nil {
		return err
	}

	r.segmentMap = make(map[string]int)
	if err := r.loadCommands(dat, int64(hdrSize)); err != nil {
		return err
	}

	i, ok := r.segmentMap["__TEXT"]
	if !ok {
		return &FormatError{msg: "no __TEXT segment"}
	}
	text := r.segments[i]
	if text.Fileoff() != 0 {
		return &FormatError{msg: "__TEXT segment has nonzero file offset", val: text.Fileoff()}
	}

	r.slide = r.address - text.Vmaddr()
	for _, seg := range r.segments {
		seg.slide = r.slide
	}
	r.size = text.Size()
	return nil
}

// read copies size bytes at addr out of the target.
func (r *ImageReader) read(addr, size uint64, what string) ([]byte, error) {
	dat, err := r.mem.Read(addr, size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s of %s", what, r.name)
	}
	if uint64(len(dat)) != size {
		return nil, errors.Errorf("failed to read %s of %s: short read of %d bytes at %#x, want %d", what, r.name, len(dat), addr, size)
	}
	return dat, nil
}

func (r *ImageReader) mustBeValid() {
	if r.state != stateValid {
		panic("macho: ImageReader used without successful Initialize")
	}
}

// Name returns the name the image was initialized with.
func (r *ImageReader) Name() string {
	r.mustBeValid()
	return r.name
}

// FileType returns the file type from the Mach-O header.
func (r *ImageReader) FileType() types.HeaderFileType {
	r.mustBeValid()
	return r.header.Type
}

// CPU returns the CPU type from the Mach-O header.
func (r *ImageReader) CPU() types.CPU {
	r.mustBeValid()
	return r.header.CPU
}

// Flags returns the header flags.
func (r *ImageReader) Flags() types.HeaderFlag {
	r.mustBeValid()
	return r.header.Flags
}

// Header returns the decoded Mach-O header.
func (r *ImageReader) Header() types.FileHeader {
	r.mustBeValid()
	return r.header
}

// Is64Bit reports whether the image uses the 64-bit record layout.
func (r *ImageReader) Is64Bit() bool {
	r.mustBeValid()
	return r.layout.Is64Bit()
}

// Layout returns the record layout selected by the image's magic.
func (r *ImageReader) Layout() types.Layout {
	r.mustBeValid()
	return r.layout
}

// InDyldSharedCache reports whether the image is part of the dyld shared cache.
func (r *ImageReader) InDyldSharedCache() bool {
	r.mustBeValid()
	return r.header.Flags.DylibInCache()
}

// Address returns the address the image is loaded at, which is the address
// of its Mach-O header.
func (r *ImageReader) Address() uint64 {
	r.mustBeValid()
	return r.address
}

// Size returns the size of the __TEXT segment in the target.
func (r *ImageReader) Size() uint64 {
	r.mustBeValid()
	return r.size
}

// Slide returns the difference between the address the image is loaded at
// and the address its linker preferred, modulo 2^64.
func (r *ImageReader) Slide() uint64 {
	r.mustBeValid()
	return r.slide
}

// Segments returns the segments of the image in load command order.
func (r *ImageReader) Segments() []*SegmentReader {
	r.mustBeValid()
	return append([]*SegmentReader(nil), r.segments...)
}

// SegmentCount returns the number of segments in the image.
func (r *ImageReader) SegmentCount() int {
	r.mustBeValid()
	return len(r.segments)
}

// SectionCount returns the number of sections across all segments, which is
// the highest valid ordinal for GetSectionAtIndex.
func (r *ImageReader) SectionCount() int {
	r.mustBeValid()
	return len(r.sections)
}

// GetSegmentByName returns the segment named name along with its address
// and size in the target.
func (r *ImageReader) GetSegmentByName(name string) (seg *SegmentReader, address, size uint64, ok bool) {
	r.mustBeValid()
	i, ok := r.segmentMap[name]
	if !ok {
		return nil, 0, 0, false
	}
	seg = r.segments[i]
	return seg, seg.Address(), seg.Size(), true
}

// GetSectionByName returns the section sectName of segment segName along
// with its address in the target.
func (r *ImageReader) GetSectionByName(segName, sectName string) (*Section, uint64, bool) {
	seg, _, _, ok := r.GetSegmentByName(segName)
	if !ok {
		return nil, 0, false
	}
	return seg.GetSectionByName(sectName)
}

// GetSectionAtIndex returns the section with the 1-based ordinal index
// along with its address in the target. Values from an nlist n_sect field
// may be passed unchecked; an index that names no section is logged and
// reported as not found.
func (r *ImageReader) GetSectionAtIndex(index int) (*Section, uint64, bool) {
	r.mustBeValid()
	if index < 1 || index > len(r.sections) {
		log.WithFields(log.Fields{
			"image":    r.name,
			"index":    index,
			"sections": len(r.sections),
		}).Warn("section index out of range")
		return nil, 0, false
	}
	sect := r.sections[index-1]
	return sect, sect.Address(), true
}

// DylibVersion returns the current version from the LC_ID_DYLIB load
// command, or zero if there is none. It panics if the image is not a dylib.
func (r *ImageReader) DylibVersion() types.Version {
	r.mustBeValid()
	if r.header.Type != types.MH_DYLIB {
		panic(fmt.Sprintf("macho: DylibVersion called on %s image %s", r.header.Type, r.name))
	}
	if r.idDylib == nil {
		return 0
	}
	return r.idDylib.CurrentVersion
}

// DylibID returns the install name from the LC_ID_DYLIB load command, or
// the empty string if there is none.
func (r *ImageReader) DylibID() string {
	r.mustBeValid()
	return r.dylibName
}

// SourceVersion returns the version from the LC_SOURCE_VERSION load command,
// or zero if there is none.
func (r *ImageReader) SourceVersion() types.SrcVersion {
	r.mustBeValid()
	if r.sourceVersion == nil {
		return 0
	}
	return r.sourceVersion.Version
}

// UUID returns the image's UUID, or the zero UUID if there is no LC_UUID
// load command.
func (r *ImageReader) UUID() types.UUID {
	r.mustBeValid()
	if r.uuid == nil {
		return types.UUID{}
	}
	return r.uuid.UUID
}

// DylinkerName returns the path of the dynamic linker named by
// LC_LOAD_DYLINKER or LC_ID_DYLINKER, or the empty string.
func (r *ImageReader) DylinkerName() string {
	r.mustBeValid()
	return r.dylinkerName
}

package macho

import (
	"fmt"
	"strings"

	"github.com/appsworld/go-macho-reader/types"
)

// A Section is a section of a segment of an image.
type Section struct {
	types.SectionHeader

	// Ordinal is the 1-based position of the section across all segments of
	// the image, the numbering used by nlist n_sect.
	Ordinal int

	seg *SegmentReader
}

// Segment returns the segment containing s.
func (s *Section) Segment() *SegmentReader { return s.seg }

// Address returns the address of s in the target, adjusted for the slide
// when its segment slides.
func (s *Section) Address() uint64 {
	if s.seg.SegmentSlides() {
		return s.Addr + s.seg.slide
	}
	return s.Addr
}

func (s *Section) String() string {
	return fmt.Sprintf("sz=0x%08x off=0x%08x-0x%08x addr=0x%09x-0x%09x\t%s.%s%stype=%#x",
		s.Size, s.Offset, uint64(s.Offset)+s.Size, s.Address(), s.Address()+s.Size,
		s.Seg, s.Name, pad(32-(len(s.Seg)+len(s.Name)+1)), uint32(s.Flags.Type()))
}

// A SegmentReader reads one LC_SEGMENT or LC_SEGMENT_64 load command and the
// section table that follows it.
type SegmentReader struct {
	hdr        types.SegmentHeader
	sections   []*Section
	sectionMap map[string]int

	slide uint64
}

// newSegmentReader validates and decodes a segment command. Sections are
// numbered starting at firstOrdinal.
func newSegmentReader(l types.Layout, lc *loadCommand, firstOrdinal int) (*SegmentReader, error) {
	segSize, sectSize := l.SegmentSize(), l.SectionSize()
	if uint32(len(lc.dat)) < segSize {
		return nil, lc.errorf("segment command too small", len(lc.dat))
	}
	hdr, err := l.ReadSegment(lc.dat)
	if err != nil {
		return nil, lc.errorf(err.Error(), nil)
	}
	sects, ok := checkedMul(uint64(hdr.Nsect), uint64(sectSize))
	if !ok || uint64(len(lc.dat)) != uint64(segSize)+sects {
		return nil, lc.errorf("segment command size mismatch for nsects", hdr.Nsect)
	}
	segEnd, ok := checkedAdd(hdr.Addr, hdr.Memsz)
	if !ok {
		return nil, lc.errorf("segment address range overflows", hdr.Name)
	}
	if _, ok := checkedAdd(hdr.Offset, hdr.Filesz); !ok {
		return nil, lc.errorf("segment file range overflows", hdr.Name)
	}

	s := &SegmentReader{
		hdr:        hdr,
		sections:   make([]*Section, 0, hdr.Nsect),
		sectionMap: make(map[string]int, hdr.Nsect),
	}
	for i := uint32(0); i < hdr.Nsect; i++ {
		off := segSize + i*sectSize
		sh, err := l.ReadSection(lc.dat[off : off+sectSize])
		if err != nil {
			return nil, lc.errorf(err.Error(), nil)
		}
		if sh.Seg != hdr.Name {
			return nil, lc.errorf(fmt.Sprintf("section %s belongs to segment", sh.Name), sh.Seg)
		}
		if _, dup := s.sectionMap[sh.Name]; dup {
			return nil, lc.errorf(fmt.Sprintf("duplicate section in segment %s", hdr.Name), sh.Name)
		}
		sectEnd, ok := checkedAdd(sh.Addr, sh.Size)
		if !ok || sh.Addr < hdr.Addr || sectEnd > segEnd {
			return nil, lc.errorf(fmt.Sprintf("section does not fit in segment %s", hdr.Name), sh.Name)
		}
		s.sectionMap[sh.Name] = len(s.sections)
		s.sections = append(s.sections, &Section{
			SectionHeader: sh,
			Ordinal:       firstOrdinal + int(i),
			seg:           s,
		})
	}
	return s, nil
}

// Header returns the segment load command as found in the image.
func (s *SegmentReader) Header() types.SegmentHeader { return s.hdr }

func (s *SegmentReader) Name() string { return s.hdr.Name }
func (s *SegmentReader) Command() types.LoadCmd { return s.hdr.LoadCmd }
func (s *SegmentReader) Vmaddr() uint64 { return s.hdr.Addr }
func (s *SegmentReader) Vmsize() uint64 { return s.hdr.Memsz }
func (s *SegmentReader) Fileoff() uint64 { return s.hdr.Offset }
func (s *SegmentReader) Filesize() uint64 { return s.hdr.Filesz }
func (s *SegmentReader) MaxProt() types.VmProtection { return s.hdr.Maxprot }
func (s *SegmentReader) InitProt() types.VmProtection { return s.hdr.Prot }
func (s *SegmentReader) Flags() types.SegFlag { return s.hdr.Flag }
func (s *SegmentReader) SectionCount() int { return len(s.sections) }

// ContainsFileRange reports whether the size bytes at file offset off lie
// within the segment's file range.
func (s *SegmentReader) ContainsFileRange(off, size uint64) bool {
	return off >= s.hdr.Offset && size <= s.hdr.Filesz && off-s.hdr.Offset <= s.hdr.Filesz-size
}

// Sections returns the sections of s in load command order.
func (s *SegmentReader) Sections() []*Section {
	return append([]*Section(nil), s.sections...)
}

// SegmentSlides reports whether the segment is moved by the image slide.
//
// The kernel maps a __PAGEZERO-like segment (no file contents, no access,
// at address zero) at its preferred address and grows it by the slide
// instead, so that it still covers everything below the image.
func (s *SegmentReader) SegmentSlides() bool {
	return s.hdr.Addr != 0 ||
		s.hdr.Filesz != 0 ||
		s.hdr.Memsz == 0 ||
		s.hdr.Prot&types.VmProtAll != types.VmProtNone ||
		s.hdr.Maxprot&types.VmProtAll != types.VmProtNone
}

// Address returns the address of the segment in the target.
func (s *SegmentReader) Address() uint64 {
	if s.SegmentSlides() {
		return s.hdr.Addr + s.slide
	}
	return s.hdr.Addr
}

// Size returns the size of the segment in the target.
func (s *SegmentReader) Size() uint64 {
	if s.SegmentSlides() {
		return s.hdr.Memsz
	}
	return s.hdr.Memsz + s.slide
}

// GetSectionByName returns the section named name along with its address in
// the target.
func (s *SegmentReader) GetSectionByName(name string) (*Section, uint64, bool) {
	i, ok := s.sectionMap[name]
	if !ok {
		return nil, 0, false
	}
	sect := s.sections[i]
	return sect, sect.Address(), true
}

// GetSectionAtIndex returns the section at the 0-based index i within the
// segment along with its address in the target. It panics if i is out of
// range.
func (s *SegmentReader) GetSectionAtIndex(i int) (*Section, uint64) {
	if i < 0 || i >= len(s.sections) {
		panic(fmt.Sprintf("macho: section index %d out of range for segment %s with %d sections", i, s.hdr.Name, len(s.sections)))
	}
	sect := s.sections[i]
	return sect, sect.Address()
}

func (s *SegmentReader) String() string {
	return fmt.Sprintf("%s sz=0x%08x off=0x%08x-0x%08x addr=0x%09x-0x%09x %s/%s   %s%s",
		s.hdr.LoadCmd, s.hdr.Filesz, s.hdr.Offset, s.hdr.Offset+s.hdr.Filesz,
		s.Address(), s.Address()+s.Size(), s.hdr.Prot, s.hdr.Maxprot, s.hdr.Name, pad(20-len(s.hdr.Name)))
}

func pad(length int) string {
	if length > 0 {
		return strings.Repeat(" ", length)
	}
	return " "
}

package types

import "fmt"

type SectionFlag uint32

const (
	SectionType       SectionFlag = 0x000000ff /* 256 section types */
	SectionAttributes SectionFlag = 0xffffff00 /*  24 section attributes */
)

// Section types
const (
	Regular                         SectionFlag = 0x0  /* regular section */
	Zerofill                        SectionFlag = 0x1  /* zero fill on demand section */
	CstringLiterals                 SectionFlag = 0x2  /* section with only literal C strings*/
	NonLazySymbolPointers           SectionFlag = 0x6  /* section with only non-lazy symbol pointers */
	LazySymbolPointers              SectionFlag = 0x7  /* section with only lazy symbol pointers */
	SymbolStubs                     SectionFlag = 0x8  /* section with only symbol stubs */
	ModInitFuncPointers             SectionFlag = 0x9  /* section with only function pointers for initialization*/
	GbZerofill                      SectionFlag = 0xc  /* zero fill on demand section (that can be larger than 4 gigabytes) */
	ThreadLocalZerofill             SectionFlag = 0x12 /* zerofill section for thread local variables */
	ThreadLocalVariables            SectionFlag = 0x13 /* TLV descriptors */
	ThreadLocalInitFunctionPointers SectionFlag = 0x15 /* functions to call to initialize TLV values */
)

// Section attributes
const (
	AttrPureInstructions SectionFlag = 0x80000000 /* section contains only true machine instructions */
	AttrDebug            SectionFlag = 0x02000000 /* a debug section */
	AttrSomeInstructions SectionFlag = 0x00000400 /* section contains some machine instructions */
)

func (t SectionFlag) Type() SectionFlag { return t & SectionType }

// IsZerofill reports whether the section occupies no file space.
func (t SectionFlag) IsZerofill() bool {
	switch t.Type() {
	case Zerofill, GbZerofill, ThreadLocalZerofill:
		return true
	}
	return false
}

func (t SectionFlag) IsDebug() bool { return t&AttrDebug != 0 }

// A SegmentHeader is the header for a Mach-O 32-bit or 64-bit load segment
// command, widened to 64-bit fields.
type SegmentHeader struct {
	LoadCmd
	Len     uint32
	Name    string
	Addr    uint64
	Memsz   uint64
	Offset  uint64
	Filesz  uint64
	Maxprot VmProtection
	Prot    VmProtection
	Nsect   uint32
	Flag    SegFlag
}

func (s *SegmentHeader) String() string {
	return fmt.Sprintf(
		"Seg %s, len=%#x, addr=%#x, memsz=%#x, offset=%#x, filesz=%#x, maxprot=%#x, prot=%#x, nsect=%d, flag=%#x",
		s.Name, s.Len, s.Addr, s.Memsz, s.Offset, s.Filesz, s.Maxprot, s.Prot, s.Nsect, s.Flag)
}

// A SectionHeader is a Mach-O 32-bit or 64-bit section header, widened to
// 64-bit fields.
type SectionHeader struct {
	Name      string
	Seg       string
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     SectionFlag
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32 // only present if original was 64-bit
}

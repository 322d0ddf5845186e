package types

import (
	"encoding/binary"
	"strings"
)

// A FileHeader represents a Mach-O file header.
type FileHeader struct {
	Magic        Magic
	CPU          CPU
	SubCPU       CPUSubtype
	Type         HeaderFileType
	NCommands    uint32
	SizeCommands uint32
	Flags        HeaderFlag
	Reserved     uint32 // only present if original was 64-bit
}

func (h *FileHeader) Put(b []byte, o binary.ByteOrder) int {
	o.PutUint32(b[0:], uint32(h.Magic))
	o.PutUint32(b[4:], uint32(h.CPU))
	o.PutUint32(b[8:], uint32(h.SubCPU))
	o.PutUint32(b[12:], uint32(h.Type))
	o.PutUint32(b[16:], h.NCommands)
	o.PutUint32(b[20:], h.SizeCommands)
	o.PutUint32(b[24:], uint32(h.Flags))
	if h.Magic == Magic32 {
		return FileHeaderSize32
	}
	o.PutUint32(b[28:], h.Reserved)
	return FileHeaderSize64
}

const (
	FileHeaderSize32 = 7 * 4
	FileHeaderSize64 = 8 * 4
)

type Magic uint32

const (
	Magic32  Magic = 0xfeedface
	Magic64  Magic = 0xfeedfacf
	Cigam32  Magic = 0xcefaedfe
	Cigam64  Magic = 0xcffaedfe
	MagicFat Magic = 0xcafebabe
)

var magicStrings = []IntName{
	{uint32(Magic32), "32-bit MachO"},
	{uint32(Magic64), "64-bit MachO"},
	{uint32(Cigam32), "byte-swapped 32-bit MachO"},
	{uint32(Cigam64), "byte-swapped 64-bit MachO"},
	{uint32(MagicFat), "Fat MachO"},
}

func (i Magic) Int() uint32      { return uint32(i) }
func (i Magic) String() string   { return StringName(uint32(i), magicStrings, false) }
func (i Magic) GoString() string { return StringName(uint32(i), magicStrings, true) }

// A HeaderFileType is the Mach-O file type, e.g. an object file, executable, or dynamic library.
type HeaderFileType uint32

const (
	MH_OBJECT      HeaderFileType = 0x1 /* relocatable object file */
	MH_EXECUTE     HeaderFileType = 0x2 /* demand paged executable file */
	MH_FVMLIB      HeaderFileType = 0x3 /* fixed VM shared library file */
	MH_CORE        HeaderFileType = 0x4 /* core file */
	MH_PRELOAD     HeaderFileType = 0x5 /* preloaded executable file */
	MH_DYLIB       HeaderFileType = 0x6 /* dynamically bound shared library */
	MH_DYLINKER    HeaderFileType = 0x7 /* dynamic link editor */
	MH_BUNDLE      HeaderFileType = 0x8 /* dynamically bound bundle file */
	MH_DYLIB_STUB  HeaderFileType = 0x9 /* shared library stub for static linking only, no section contents */
	MH_DSYM        HeaderFileType = 0xa /* companion file with only debug sections */
	MH_KEXT_BUNDLE HeaderFileType = 0xb /* x86_64 kexts */
	MH_FILESET     HeaderFileType = 0xc /* a file composed of other Mach-Os to be run in the same userspace sharing a single linkedit. */
)

var fileTypeStrings = []IntName{
	{uint32(MH_OBJECT), "OBJECT"},
	{uint32(MH_EXECUTE), "EXECUTE"},
	{uint32(MH_FVMLIB), "FVMLIB"},
	{uint32(MH_CORE), "CORE"},
	{uint32(MH_PRELOAD), "PRELOAD"},
	{uint32(MH_DYLIB), "DYLIB"},
	{uint32(MH_DYLINKER), "DYLINKER"},
	{uint32(MH_BUNDLE), "BUNDLE"},
	{uint32(MH_DYLIB_STUB), "DYLIB_STUB"},
	{uint32(MH_DSYM), "DSYM"},
	{uint32(MH_KEXT_BUNDLE), "KEXT_BUNDLE"},
	{uint32(MH_FILESET), "FILESET"},
}

func (t HeaderFileType) String() string   { return StringName(uint32(t), fileTypeStrings, false) }
func (t HeaderFileType) GoString() string { return StringName(uint32(t), fileTypeStrings, true) }

type HeaderFlag uint32

const (
	None                  HeaderFlag = 0x0
	NoUndefs              HeaderFlag = 0x1
	IncrLink              HeaderFlag = 0x2
	DyldLink              HeaderFlag = 0x4
	BindAtLoad            HeaderFlag = 0x8
	Prebound              HeaderFlag = 0x10
	SplitSegs             HeaderFlag = 0x20
	TwoLevel              HeaderFlag = 0x80
	WeakDefines           HeaderFlag = 0x8000
	BindsToWeak           HeaderFlag = 0x10000
	AllowStackExecution   HeaderFlag = 0x20000
	PIE                   HeaderFlag = 0x200000
	HasTLVDescriptors     HeaderFlag = 0x800000
	NoHeapExecution       HeaderFlag = 0x1000000
	AppExtensionSafe      HeaderFlag = 0x2000000
	SubsectionsViaSymbols HeaderFlag = 0x2000
	DylibInCache          HeaderFlag = 0x80000000
)

var headerFlagStrings = []IntName{
	{uint32(NoUndefs), "NoUndefs"},
	{uint32(IncrLink), "IncrLink"},
	{uint32(DyldLink), "DyldLink"},
	{uint32(BindAtLoad), "BindAtLoad"},
	{uint32(Prebound), "Prebound"},
	{uint32(SplitSegs), "SplitSegs"},
	{uint32(TwoLevel), "TwoLevel"},
	{uint32(SubsectionsViaSymbols), "SubsectionsViaSymbols"},
	{uint32(WeakDefines), "WeakDefines"},
	{uint32(BindsToWeak), "BindsToWeak"},
	{uint32(AllowStackExecution), "AllowStackExecution"},
	{uint32(PIE), "PIE"},
	{uint32(HasTLVDescriptors), "HasTLVDescriptors"},
	{uint32(NoHeapExecution), "NoHeapExecution"},
	{uint32(AppExtensionSafe), "AppExtensionSafe"},
	{uint32(DylibInCache), "DylibInCache"},
}

func (f HeaderFlag) None() bool {
	return f == 0
}
func (f HeaderFlag) PIE() bool {
	return (f & PIE) != 0
}
func (f HeaderFlag) DylibInCache() bool {
	return (f & DylibInCache) != 0
}

// List returns the names of the set flags; unknown bits are shown in hex.
func (f HeaderFlag) List() []string {
	var flags []string
	if f.None() {
		return []string{"None"}
	}
	for bit := uint32(1); bit != 0; bit <<= 1 {
		if uint32(f)&bit != 0 {
			flags = append(flags, StringName(bit, headerFlagStrings, false))
		}
	}
	return flags
}

func (f HeaderFlag) String() string {
	return strings.Join(f.List(), ", ")
}

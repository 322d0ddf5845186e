package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// A Layout selects between the 32-bit and 64-bit record layouts of a Mach-O
// image. The choice depends on the magic of the image being read, never on
// the pointer width of the host.
type Layout uint8

const (
	Layout32 Layout = iota + 1 // mach_header, segment_command, section, nlist
	Layout64                   // mach_header_64, segment_command_64, section_64, nlist_64
)

// Sizes of the width-independent records.
const (
	LoadCommandSize      = 8
	SymtabCmdSize        = 24
	DysymtabCmdSize      = 80
	DylibCmdSize         = 24
	DylinkerCmdSize      = 12
	UUIDCmdSize          = 24
	SourceVersionCmdSize = 16
	LinkEditDataCmdSize  = 16
	DyldInfoCmdSize      = 48
)

// ByteOrder is the byte order of every image this package decodes. Mach-O
// images mapped into a live process are always in the host's native order,
// and all supported hosts are little-endian.
var ByteOrder binary.ByteOrder = binary.LittleEndian

// LayoutForMagic returns the layout described by magic.
func LayoutForMagic(magic Magic) (Layout, bool) {
	switch magic {
	case Magic32:
		return Layout32, true
	case Magic64:
		return Layout64, true
	}
	return 0, false
}

func (l Layout) String() string {
	switch l {
	case Layout32:
		return "32-bit"
	case Layout64:
		return "64-bit"
	}
	return fmt.Sprintf("Layout(%d)", uint8(l))
}

func (l Layout) Is64Bit() bool { return l == Layout64 }

func (l Layout) Magic() Magic {
	if l.Is64Bit() {
		return Magic64
	}
	return Magic32
}

func (l Layout) PointerSize() uint64 {
	if l.Is64Bit() {
		return 8
	}
	return 4
}

func (l Layout) HeaderSize() uint32 {
	if l.Is64Bit() {
		return FileHeaderSize64
	}
	return FileHeaderSize32
}

// SegmentCommand returns the segment load command matching the layout.
func (l Layout) SegmentCommand() LoadCmd {
	if l.Is64Bit() {
		return LC_SEGMENT_64
	}
	return LC_SEGMENT
}

func (l Layout) SegmentSize() uint32 {
	if l.Is64Bit() {
		return uint32(binary.Size(Segment64{}))
	}
	return uint32(binary.Size(Segment32{}))
}

func (l Layout) SectionSize() uint32 {
	if l.Is64Bit() {
		return uint32(binary.Size(Section64{}))
	}
	return uint32(binary.Size(Section32{}))
}

func (l Layout) NlistSize() uint32 {
	if l.Is64Bit() {
		return uint32(binary.Size(Nlist64{}))
	}
	return uint32(binary.Size(Nlist32{}))
}

// ReadHeader decodes a mach_header or mach_header_64 from b.
func (l Layout) ReadHeader(b []byte) (FileHeader, error) {
	var h FileHeader
	if uint32(len(b)) < l.HeaderSize() {
		return h, fmt.Errorf("%s header needs %d bytes, have %d", l, l.HeaderSize(), len(b))
	}
	o := ByteOrder
	h.Magic = Magic(o.Uint32(b[0:]))
	h.CPU = CPU(o.Uint32(b[4:]))
	h.SubCPU = CPUSubtype(o.Uint32(b[8:]))
	h.Type = HeaderFileType(o.Uint32(b[12:]))
	h.NCommands = o.Uint32(b[16:])
	h.SizeCommands = o.Uint32(b[20:])
	h.Flags = HeaderFlag(o.Uint32(b[24:]))
	if l.Is64Bit() {
		h.Reserved = o.Uint32(b[28:])
	}
	return h, nil
}

// ReadLoadCommand decodes the common cmd/cmdsize prefix of a load command.
func ReadLoadCommand(b []byte) (LoadCommand, error) {
	var lc LoadCommand
	if len(b) < LoadCommandSize {
		return lc, fmt.Errorf("load command needs %d bytes, have %d", LoadCommandSize, len(b))
	}
	lc.Cmd = LoadCmd(ByteOrder.Uint32(b[0:]))
	lc.Len = ByteOrder.Uint32(b[4:])
	return lc, nil
}

// ReadSegment decodes a segment_command or segment_command_64 from b.
func (l Layout) ReadSegment(b []byte) (SegmentHeader, error) {
	r := bytes.NewReader(b)
	if l.Is64Bit() {
		var seg64 Segment64
		if err := binary.Read(r, ByteOrder, &seg64); err != nil {
			return SegmentHeader{}, fmt.Errorf("failed to read %s: %v", LC_SEGMENT_64, err)
		}
		return SegmentHeader{
			LoadCmd: seg64.LoadCmd,
			Len:     seg64.Len,
			Name:    CString(seg64.Name[:]),
			Addr:    seg64.Addr,
			Memsz:   seg64.Memsz,
			Offset:  seg64.Offset,
			Filesz:  seg64.Filesz,
			Maxprot: seg64.Maxprot,
			Prot:    seg64.Prot,
			Nsect:   seg64.Nsect,
			Flag:    seg64.Flag,
		}, nil
	}
	var seg32 Segment32
	if err := binary.Read(r, ByteOrder, &seg32); err != nil {
		return SegmentHeader{}, fmt.Errorf("failed to read %s: %v", LC_SEGMENT, err)
	}
	return SegmentHeader{
		LoadCmd: seg32.LoadCmd,
		Len:     seg32.Len,
		Name:    CString(seg32.Name[:]),
		Addr:    uint64(seg32.Addr),
		Memsz:   uint64(seg32.Memsz),
		Offset:  uint64(seg32.Offset),
		Filesz:  uint64(seg32.Filesz),
		Maxprot: seg32.Maxprot,
		Prot:    seg32.Prot,
		Nsect:   seg32.Nsect,
		Flag:    seg32.Flag,
	}, nil
}

// ReadSection decodes a section or section_64 from b.
func (l Layout) ReadSection(b []byte) (SectionHeader, error) {
	r := bytes.NewReader(b)
	if l.Is64Bit() {
		var sh64 Section64
		if err := binary.Read(r, ByteOrder, &sh64); err != nil {
			return SectionHeader{}, fmt.Errorf("failed to read Section64: %v", err)
		}
		return SectionHeader{
			Name:      CString(sh64.Name[:]),
			Seg:       CString(sh64.Seg[:]),
			Addr:      sh64.Addr,
			Size:      sh64.Size,
			Offset:    sh64.Offset,
			Align:     sh64.Align,
			Reloff:    sh64.Reloff,
			Nreloc:    sh64.Nreloc,
			Flags:     sh64.Flags,
			Reserved1: sh64.Reserve1,
			Reserved2: sh64.Reserve2,
			Reserved3: sh64.Reserve3,
		}, nil
	}
	var sh32 Section32
	if err := binary.Read(r, ByteOrder, &sh32); err != nil {
		return SectionHeader{}, fmt.Errorf("failed to read Section32: %v", err)
	}
	return SectionHeader{
		Name:      CString(sh32.Name[:]),
		Seg:       CString(sh32.Seg[:]),
		Addr:      uint64(sh32.Addr),
		Size:      uint64(sh32.Size),
		Offset:    sh32.Offset,
		Align:     sh32.Align,
		Reloff:    sh32.Reloff,
		Nreloc:    sh32.Nreloc,
		Flags:     sh32.Flags,
		Reserved1: sh32.Reserve1,
		Reserved2: sh32.Reserve2,
	}, nil
}

// ReadNlist decodes an nlist or nlist_64 from b.
func (l Layout) ReadNlist(b []byte) (Nlist, error) {
	r := bytes.NewReader(b)
	if l.Is64Bit() {
		var n64 Nlist64
		if err := binary.Read(r, ByteOrder, &n64); err != nil {
			return Nlist{}, fmt.Errorf("failed to read Nlist64: %v", err)
		}
		return Nlist(n64), nil
	}
	var n32 Nlist32
	if err := binary.Read(r, ByteOrder, &n32); err != nil {
		return Nlist{}, fmt.Errorf("failed to read Nlist32: %v", err)
	}
	return Nlist{Name: n32.Name, Type: n32.Type, Sect: n32.Sect, Desc: n32.Desc, Value: uint64(n32.Value)}, nil
}

// ReadCommand decodes one of the fixed-layout, width-independent load
// command records (SymtabCmd, DysymtabCmd, DylibCmd, DylinkerCmd, UUIDCmd,
// SourceVersionCmd) from b into cmd.
func ReadCommand(b []byte, cmd any) error {
	if err := binary.Read(bytes.NewReader(b), ByteOrder, cmd); err != nil {
		return fmt.Errorf("failed to read %T: %v", cmd, err)
	}
	return nil
}

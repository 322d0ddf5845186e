// Package machotest assembles synthetic Mach-O images for tests.
package machotest

import (
	"bytes"
	"encoding/binary"
	"slices"

	"github.com/appsworld/go-macho-reader/pkg/process"
	"github.com/appsworld/go-macho-reader/types"
)

var bo = types.ByteOrder

// An Image is a Mach-O header followed by load commands.
type Image struct {
	Layout   types.Layout
	CPU      types.CPU
	Type     types.HeaderFileType
	Flags    types.HeaderFlag
	Commands [][]byte
}

// New returns an empty image of the given layout and file type.
func New(l types.Layout, typ types.HeaderFileType) *Image {
	cpu := types.CPU386
	if l.Is64Bit() {
		cpu = types.CPUAmd64
	}
	return &Image{Layout: l, CPU: cpu, Type: typ}
}

// Add appends load commands to the image.
func (im *Image) Add(cmds ...[]byte) *Image {
	im.Commands = append(im.Commands, cmds...)
	return im
}

// HeaderSize is the offset of the first load command.
func (im *Image) HeaderSize() int { return int(im.Layout.HeaderSize()) }

// Bytes encodes the header and load commands.
func (im *Image) Bytes() []byte {
	var sizeofcmds int
	for _, c := range im.Commands {
		sizeofcmds += len(c)
	}
	h := types.FileHeader{
		Magic:        im.Layout.Magic(),
		CPU:          im.CPU,
		Type:         im.Type,
		NCommands:    uint32(len(im.Commands)),
		SizeCommands: uint32(sizeofcmds),
		Flags:        im.Flags,
	}
	b := make([]byte, im.HeaderSize(), im.HeaderSize()+sizeofcmds)
	h.Put(b, bo)
	for _, c := range im.Commands {
		b = append(b, c...)
	}
	return b
}

// Memory maps the encoded image at addr, followed by any extra regions.
func (im *Image) Memory(addr uint64, extra ...process.Region) (*process.Buffer, error) {
	return process.NewBuffer(append([]process.Region{{Addr: addr, Data: im.Bytes()}}, extra...)...)
}

// A Seg describes a segment load command.
type Seg struct {
	Name     string
	Addr     uint64
	Memsz    uint64
	Offset   uint64
	Filesz   uint64
	Maxprot  types.VmProtection
	Prot     types.VmProtection
	Sections []Sect
}

// A Sect describes a section header. An empty Seg takes the name of the
// enclosing segment.
type Sect struct {
	Name   string
	Seg    string
	Addr   uint64
	Size   uint64
	Offset uint32
	Flags  types.SectionFlag
}

// Segment encodes s as LC_SEGMENT or LC_SEGMENT_64 for layout l.
func Segment(l types.Layout, s Seg) []byte {
	var buf bytes.Buffer
	n := uint32(len(s.Sections))
	size := l.SegmentSize() + n*l.SectionSize()
	var name [16]byte
	types.PutAtMost16Bytes(name[:], s.Name)
	if l.Is64Bit() {
		binary.Write(&buf, bo, types.Segment64{
			LoadCmd: types.LC_SEGMENT_64, Len: size, Name: name,
			Addr: s.Addr, Memsz: s.Memsz, Offset: s.Offset, Filesz: s.Filesz,
			Maxprot: s.Maxprot, Prot: s.Prot, Nsect: n,
		})
	} else {
		binary.Write(&buf, bo, types.Segment32{
			LoadCmd: types.LC_SEGMENT, Len: size, Name: name,
			Addr: uint32(s.Addr), Memsz: uint32(s.Memsz), Offset: uint32(s.Offset), Filesz: uint32(s.Filesz),
			Maxprot: s.Maxprot, Prot: s.Prot, Nsect: n,
		})
	}
	for _, sc := range s.Sections {
		var sname, segname [16]byte
		types.PutAtMost16Bytes(sname[:], sc.Name)
		if sc.Seg == "" {
			sc.Seg = s.Name
		}
		types.PutAtMost16Bytes(segname[:], sc.Seg)
		if l.Is64Bit() {
			binary.Write(&buf, bo, types.Section64{
				Name: sname, Seg: segname, Addr: sc.Addr, Size: sc.Size,
				Offset: sc.Offset, Flags: sc.Flags,
			})
		} else {
			binary.Write(&buf, bo, types.Section32{
				Name: sname, Seg: segname, Addr: uint32(sc.Addr), Size: uint32(sc.Size),
				Offset: sc.Offset, Flags: sc.Flags,
			})
		}
	}
	return buf.Bytes()
}

func record(v any) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, bo, v)
	return buf.Bytes()
}

// Symtab encodes an LC_SYMTAB command.
func Symtab(symoff, nsyms, stroff, strsize uint32) []byte {
	return record(types.SymtabCmd{
		LoadCmd: types.LC_SYMTAB, Len: types.SymtabCmdSize,
		Symoff: symoff, Nsyms: nsyms, Stroff: stroff, Strsize: strsize,
	})
}

// Dysymtab encodes an LC_DYSYMTAB command with the given external defined
// symbol range.
func Dysymtab(iextdefsym, nextdefsym uint32) []byte {
	return record(types.DysymtabCmd{
		LoadCmd: types.LC_DYSYMTAB, Len: types.DysymtabCmdSize,
		Iextdefsym: iextdefsym, Nextdefsym: nextdefsym,
	})
}

// UUID encodes an LC_UUID command.
func UUID(u types.UUID) []byte {
	return record(types.UUIDCmd{LoadCmd: types.LC_UUID, Len: types.UUIDCmdSize, UUID: u})
}

// SourceVersion encodes an LC_SOURCE_VERSION command.
func SourceVersion(v types.SrcVersion) []byte {
	return record(types.SourceVersionCmd{LoadCmd: types.LC_SOURCE_VERSION, Len: types.SourceVersionCmdSize, Version: v})
}

// withName appends a NUL-terminated name to a command record and pads the
// result to a multiple of 4 bytes, patching cmdsize.
func withName(rec []byte, name string) []byte {
	b := append(rec, name...)
	b = append(b, 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	bo.PutUint32(b[4:], uint32(len(b)))
	return b
}

// IDDylib encodes an LC_ID_DYLIB command.
func IDDylib(name string, current, compat types.Version) []byte {
	return withName(record(types.DylibCmd{
		LoadCmd: types.LC_ID_DYLIB, Name: types.DylibCmdSize,
		CurrentVersion: current, CompatVersion: compat,
	}), name)
}

// Dylinker encodes an LC_LOAD_DYLINKER or LC_ID_DYLINKER command.
func Dylinker(cmd types.LoadCmd, name string) []byte {
	return withName(record(types.DylinkerCmd{LoadCmd: cmd, Name: types.DylinkerCmdSize}), name)
}

// Raw encodes a load command with an arbitrary payload. cmdsize is set to
// the encoded length.
func Raw(cmd types.LoadCmd, payload []byte) []byte {
	b := make([]byte, types.LoadCommandSize, types.LoadCommandSize+len(payload))
	types.LoadCommand{Cmd: cmd, Len: uint32(types.LoadCommandSize + len(payload))}.Put(b, bo)
	return append(b, payload...)
}

// A Sym is a symbol table entry.
type Sym struct {
	Name  string
	Type  types.NType
	Sect  uint8
	Value uint64
}

// SymbolTable encodes syms as nlist entries for layout l along with a string
// table holding their names. The string table starts with a NUL so that
// offset zero is the empty name.
func SymbolTable(l types.Layout, syms []Sym) (nlists, strtab []byte) {
	var nl, st bytes.Buffer
	st.WriteByte(0)
	for _, s := range syms {
		strx := uint32(st.Len())
		st.WriteString(s.Name)
		st.WriteByte(0)
		if l.Is64Bit() {
			binary.Write(&nl, bo, types.Nlist64{Name: strx, Type: s.Type, Sect: s.Sect, Value: s.Value})
		} else {
			binary.Write(&nl, bo, types.Nlist32{Name: strx, Type: s.Type, Sect: s.Sect, Value: uint32(s.Value)})
		}
	}
	return nl.Bytes(), st.Bytes()
}

// PutUint32 overwrites the 32-bit word at off in b.
func PutUint32(b []byte, off int, v uint32) []byte {
	bo.PutUint32(b[off:], v)
	return b
}

// Uleb128 encodes vals as consecutive unsigned LEB128 values.
func Uleb128(vals ...uint64) []byte {
	var b []byte
	for _, v := range vals {
		for {
			c := byte(v & 0x7f)
			v >>= 7
			if v != 0 {
				c |= 0x80
			}
			b = append(b, c)
			if v == 0 {
				break
			}
		}
	}
	return b
}

// A TrieNode is a node of an export trie. Terminal holds the encoded
// terminal information, if any.
type TrieNode struct {
	Terminal []byte
	Edges    []TrieEdge
}

// A TrieEdge labels the edge to the node at index Child.
type TrieEdge struct {
	Label string
	Child int
}

// Trie encodes nodes as an export trie with nodes[0] as the root, laid out
// in slice order.
func Trie(nodes []TrieNode) []byte {
	offsets := make([]uint64, len(nodes))
	encode := func() []byte {
		var b []byte
		for i, n := range nodes {
			offsets[i] = uint64(len(b))
			b = append(b, Uleb128(uint64(len(n.Terminal)))...)
			b = append(b, n.Terminal...)
			b = append(b, byte(len(n.Edges)))
			for _, e := range n.Edges {
				b = append(b, e.Label...)
				b = append(b, 0)
				b = append(b, Uleb128(offsets[e.Child])...)
			}
		}
		return b
	}
	// child offsets settle once their encoded widths stop changing
	encode()
	for {
		prev := append([]uint64(nil), offsets...)
		b := encode()
		if slices.Equal(prev, offsets) {
			return b
		}
	}
}

// DyldInfo encodes an LC_DYLD_INFO_ONLY command whose only payload is the
// export trie at exportOff.
func DyldInfo(exportOff, exportSize uint32) []byte {
	return record(types.DyldInfoCmd{
		LoadCmd: types.LC_DYLD_INFO_ONLY, Len: types.DyldInfoCmdSize,
		ExportOff: exportOff, ExportSize: exportSize,
	})
}

// ExportsTrie encodes an LC_DYLD_EXPORTS_TRIE command.
func ExportsTrie(off, size uint32) []byte {
	return record(types.LinkEditDataCmd{LoadCmd: types.LC_DYLD_EXPORTS_TRIE, Len: types.LinkEditDataCmdSize, Offset: off, Size: size})
}

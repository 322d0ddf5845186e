package macho

import (
	"bytes"
	"fmt"

	"github.com/apex/log"
	"github.com/appsworld/go-macho-reader/types"
)

// A loadCommand is one load command being parsed.
type loadCommand struct {
	index int
	cmd   types.LoadCmd
	off   int64 // from the start of the image
	dat   []byte
}

func (lc *loadCommand) errorf(msg string, val interface{}) error {
	return &FormatError{off: lc.off, msg: msg, val: val, cmd: lc.cmd, index: lc.index}
}

// decode reads a fixed-size record whose cmdsize must be exactly size.
func (lc *loadCommand) decode(cmd any, size int) error {
	if len(lc.dat) != size {
		return lc.errorf(fmt.Sprintf("load command size must be %d", size), len(lc.dat))
	}
	if err := types.ReadCommand(lc.dat, cmd); err != nil {
		return lc.errorf(err.Error(), nil)
	}
	return nil
}

// decodeString reads a record of at least size bytes that is followed by a
// string at offset nameOff from the start of the command.
func (lc *loadCommand) decodeString(cmd any, size int, nameOff func() uint32) (string, error) {
	if len(lc.dat) < size {
		return "", lc.errorf(fmt.Sprintf("load command size must be at least %d", size), len(lc.dat))
	}
	if err := types.ReadCommand(lc.dat[:size], cmd); err != nil {
		return "", lc.errorf(err.Error(), nil)
	}
	off := nameOff()
	if off < uint32(size) || off >= uint32(len(lc.dat)) {
		return "", lc.errorf("name offset outside of load command", off)
	}
	name := lc.dat[off:]
	end := bytes.IndexByte(name, 0)
	if end < 0 {
		return "", lc.errorf("name not NUL-terminated within load command", nil)
	}
	return string(name[:end]), nil
}

type loadHandler struct {
	load      func(r *ImageReader, lc *loadCommand) error
	singleton bool
}

// loadHandlers lists the load commands the reader understands. Commands
// not listed here are skipped.
var loadHandlers = map[types.LoadCmd]loadHandler{
	types.LC_SEGMENT:        {(*ImageReader).loadSegment, false},
	types.LC_SEGMENT_64:     {(*ImageReader).loadSegment, false},
	types.LC_SYMTAB:         {(*ImageReader).loadSymtab, true},
	types.LC_DYSYMTAB:       {(*ImageReader).loadDysymtab, true},
	types.LC_ID_DYLIB:       {(*ImageReader).loadIDDylib, true},
	types.LC_LOAD_DYLINKER:  {(*ImageReader).loadDylinker, true},
	types.LC_ID_DYLINKER:    {(*ImageReader).loadDylinker, true},
	types.LC_UUID:           {(*ImageReader).loadUUID, true},
	types.LC_SOURCE_VERSION: {(*ImageReader).loadSourceVersion, true},

	types.LC_DYLD_INFO:         {(*ImageReader).loadDyldInfo, true},
	types.LC_DYLD_INFO_ONLY:    {(*ImageReader).loadDyldInfo, true},
	types.LC_DYLD_EXPORTS_TRIE: {(*ImageReader).loadExportsTrie, true},

	// recognized, nothing to keep
	types.LC_SYMSEG:     {nil, false},
	types.LC_THREAD:     {nil, false},
	types.LC_UNIXTHREAD: {nil, false},
}

// loadCommands walks the load command region dat, which starts at byte
// offset base of the image.
func (r *ImageReader) loadCommands(dat []byte, base int64) error {
	seen := make(map[types.LoadCmd]bool)
	var offset uint32
	for i := 0; i < int(r.header.NCommands); i++ {
		off := base + int64(offset)
		if uint64(offset)+types.LoadCommandSize > uint64(len(dat)) {
			return &FormatError{off: off, msg: "load command out of bounds", val: i}
		}
		hdr, err := types.ReadLoadCommand(dat[offset:])
		if err != nil {
			return &FormatError{off: off, msg: err.Error()}
		}
		lc := &loadCommand{index: i, cmd: hdr.Cmd, off: off}
		switch {
		case hdr.Len < types.LoadCommandSize:
			return lc.errorf("load command too small", hdr.Len)
		case hdr.Len > uint32(len(dat))-offset:
			return lc.errorf("load command exceeds region", hdr.Len)
		case align(hdr.Len, 4) != hdr.Len:
			return lc.errorf("load command size not a multiple of 4", hdr.Len)
		}
		lc.dat = dat[offset : offset+hdr.Len]
		offset += hdr.Len

		h, ok := loadHandlers[hdr.Cmd]
		if !ok {
			log.WithFields(log.Fields{
				"image":   r.name,
				"command": hdr.Cmd.String(),
				"index":   i,
			}).Debug("skipping load command")
			continue
		}
		if h.singleton {
			if seen[hdr.Cmd] {
				return lc.errorf("multiple load commands", hdr.Cmd)
			}
			seen[hdr.Cmd] = true
		}
		if h.load == nil {
			continue
		}
		if err := h.load(r, lc); err != nil {
			return err
		}
	}
	return nil
}

func (r *ImageReader) loadSegment(lc *loadCommand) error {
	if lc.cmd != r.layout.SegmentCommand() {
		return lc.errorf(fmt.Sprintf("unexpected load command in %s image", r.layout), lc.cmd)
	}
	seg, err := newSegmentReader(r.layout, lc, len(r.sections)+1)
	if err != nil {
		return err
	}
	if _, dup := r.segmentMap[seg.Name()]; dup {
		return lc.errorf("duplicate segment", seg.Name())
	}
	r.segmentMap[seg.Name()] = len(r.segments)
	r.segments = append(r.segments, seg)
	r.sections = append(r.sections, seg.sections...)
	return nil
}

func (r *ImageReader) loadSymtab(lc *loadCommand) error {
	r.symtab = new(types.SymtabCmd)
	return lc.decode(r.symtab, types.SymtabCmdSize)
}

func (r *ImageReader) loadDysymtab(lc *loadCommand) error {
	r.dysymtab = new(types.DysymtabCmd)
	return lc.decode(r.dysymtab, types.DysymtabCmdSize)
}

func (r *ImageReader) loadIDDylib(lc *loadCommand) error {
	if r.header.Type != types.MH_DYLIB {
		return lc.errorf("dylib identifier in non-dylib image", r.header.Type)
	}
	var cmd types.DylibCmd
	name, err := lc.decodeString(&cmd, types.DylibCmdSize, func() uint32 { return cmd.Name })
	if err != nil {
		return err
	}
	r.idDylib = &cmd
	r.dylibName = name
	return nil
}

func (r *ImageReader) loadDylinker(lc *loadCommand) error {
	want := types.MH_EXECUTE
	if lc.cmd == types.LC_ID_DYLINKER {
		want = types.MH_DYLINKER
	}
	if r.header.Type != want {
		return lc.errorf(fmt.Sprintf("load command not allowed in %s image", r.header.Type), lc.cmd)
	}
	if r.dylinker != nil {
		return lc.errorf("multiple dynamic linker load commands", lc.cmd)
	}
	var cmd types.DylinkerCmd
	name, err := lc.decodeString(&cmd, types.DylinkerCmdSize, func() uint32 { return cmd.Name })
	if err != nil {
		return err
	}
	r.dylinker = &cmd
	r.dylinkerName = name
	return nil
}

func (r *ImageReader) loadUUID(lc *loadCommand) error {
	r.uuid = new(types.UUIDCmd)
	return lc.decode(r.uuid, types.UUIDCmdSize)
}

func (r *ImageReader) loadSourceVersion(lc *loadCommand) error {
	r.sourceVersion = new(types.SourceVersionCmd)
	return lc.decode(r.sourceVersion, types.SourceVersionCmdSize)
}

func (r *ImageReader) setExports(lc *loadCommand, off, size uint32) error {
	if r.exports != nil {
		return lc.errorf("multiple export tries", lc.cmd)
	}
	if size == 0 {
		return nil
	}
	r.exports = &types.LinkEditDataCmd{LoadCmd: lc.cmd, Len: uint32(len(lc.dat)), Offset: off, Size: size}
	return nil
}

func (r *ImageReader) loadDyldInfo(lc *loadCommand) error {
	var cmd types.DyldInfoCmd
	if err := lc.decode(&cmd, types.DyldInfoCmdSize); err != nil {
		return err
	}
	return r.setExports(lc, cmd.ExportOff, cmd.ExportSize)
}

func (r *ImageReader) loadExportsTrie(lc *loadCommand) error {
	var cmd types.LinkEditDataCmd
	if err := lc.decode(&cmd, types.LinkEditDataCmdSize); err != nil {
		return err
	}
	return r.setExports(lc, cmd.Offset, cmd.Size)
}

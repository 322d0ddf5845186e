package macho

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/blacktop/go-dwarf"
	"github.com/pkg/errors"
)

// maxDecompressedSection bounds the size a ZLIB section header may claim.
const maxDecompressedSection = 1 << 30

// DWARF returns the DWARF debug information for the image, read from the
// __DWARF segment in the target.
func (r *ImageReader) DWARF() (*dwarf.Data, error) {
	r.mustBeValid()
	seg, _, _, ok := r.GetSegmentByName("__DWARF")
	if !ok {
		return nil, errors.Wrap(ErrNoDWARF, r.name)
	}

	dwarfSuffix := func(s *Section) string {
		switch {
		case strings.HasPrefix(s.Name, "__debug_"):
			return s.Name[8:]
		case strings.HasPrefix(s.Name, "__zdebug_"):
			return s.Name[9:]
		default:
			return ""
		}
	}
	sectionData := func(s *Section) ([]byte, error) {
		if s.Flags.IsZerofill() || s.Size == 0 {
			return nil, nil
		}
		if !seg.ContainsFileRange(uint64(s.Offset), s.Size) {
			return nil, &FormatError{off: int64(s.Offset), msg: fmt.Sprintf("section %s.%s outside of segment file range", s.Seg, s.Name), val: s.Size}
		}
		b, err := r.read(s.Address(), s.Size, fmt.Sprintf("section %s.%s", s.Seg, s.Name))
		if err != nil {
			return nil, err
		}
		if len(b) >= 12 && string(b[:4]) == "ZLIB" {
			dlen := binary.BigEndian.Uint64(b[4:12])
			if dlen > maxDecompressedSection {
				return nil, &FormatError{off: int64(s.Offset), msg: fmt.Sprintf("compressed section %s.%s too large", s.Seg, s.Name), val: dlen}
			}
			zr, err := zlib.NewReader(bytes.NewReader(b[12:]))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to decompress %s.%s", s.Seg, s.Name)
			}
			var dbuf bytes.Buffer
			if _, err := io.Copy(&dbuf, io.LimitReader(zr, int64(dlen)+1)); err != nil {
				return nil, errors.Wrapf(err, "failed to decompress %s.%s", s.Seg, s.Name)
			}
			if err := zr.Close(); err != nil {
				return nil, err
			}
			if uint64(dbuf.Len()) != dlen {
				return nil, &FormatError{off: int64(s.Offset), msg: fmt.Sprintf("compressed section %s.%s size mismatch", s.Seg, s.Name), val: fmt.Sprintf("%d != %d", dbuf.Len(), dlen)}
			}
			b = dbuf.Bytes()
		}
		return b, nil
	}

	// There are many other DWARF sections, but these
	// are the ones the dwarf package uses.
	// Don't bother loading others.
	var dat = map[string][]byte{"abbrev": nil, "info": nil, "str": nil, "line": nil, "ranges": nil}
	for _, s := range seg.sections {
		suffix := dwarfSuffix(s)
		if _, ok := dat[suffix]; !ok {
			continue
		}
		b, err := sectionData(s)
		if err != nil {
			return nil, err
		}
		dat[suffix] = b
	}

	d, err := dwarf.New(dat["abbrev"], nil, nil, dat["info"], dat["line"], nil, dat["ranges"], dat["str"])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse DWARF of %s", r.name)
	}

	// Look for DWARF4 .debug_types sections.
	for i, s := range seg.sections {
		if dwarfSuffix(s) != "types" {
			continue
		}
		b, err := sectionData(s)
		if err != nil {
			return nil, err
		}
		if err := d.AddTypes(fmt.Sprintf("types-%d", i), b); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s.%s", s.Seg, s.Name)
		}
	}
	return d, nil
}

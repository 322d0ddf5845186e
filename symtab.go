package macho

import (
	"bytes"
	"fmt"

	"github.com/appsworld/go-macho-reader/types"
	"github.com/pkg/errors"
)

// LookUpExternalDefinedSymbol returns the address in the target of the
// external symbol name defined by the image. C symbols carry their leading
// underscore, as in "_main". The symbol table is read on first use; an
// error found while reading it is returned by every later call.
func (r *ImageReader) LookUpExternalDefinedSymbol(name string) (uint64, error) {
	r.mustBeValid()
	r.symbolsOnce.Do(func() {
		r.symbols, r.symbolsErr = r.readExternalDefinedSymbols()
	})
	if r.symbolsErr != nil {
		return 0, r.symbolsErr
	}
	addr, ok := r.symbols[name]
	if !ok {
		return 0, errors.Wrapf(ErrSymbolNotFound, "%s in %s", name, r.name)
	}
	return addr, nil
}

// readExternalDefinedSymbols reads the external defined symbols out of
// __LINKEDIT. With an LC_DYSYMTAB only its external defined range is read
// and every entry in it must be well formed; without one the whole symbol
// table is scanned for external definitions.
func (r *ImageReader) readExternalDefinedSymbols() (map[string]uint64, error) {
	symbols := make(map[string]uint64)
	if r.symtab == nil {
		return symbols, nil
	}
	st := r.symtab

	linkedit, _, _, ok := r.GetSegmentByName("__LINKEDIT")
	if !ok {
		return nil, &FormatError{msg: "symbol table without __LINKEDIT segment"}
	}
	base := linkedit.Address() - linkedit.Fileoff()

	first, count := uint32(0), st.Nsyms
	strict := r.dysymtab != nil
	if strict {
		end, ok := checkedAdd(r.dysymtab.Iextdefsym, r.dysymtab.Nextdefsym)
		if !ok || end > st.Nsyms {
			return nil, &FormatError{msg: "external defined symbols outside of symbol table", val: fmt.Sprintf("%d+%d > %d", r.dysymtab.Iextdefsym, r.dysymtab.Nextdefsym, st.Nsyms)}
		}
		first, count = r.dysymtab.Iextdefsym, r.dysymtab.Nextdefsym
	}
	if count == 0 {
		return symbols, nil
	}

	nlistSize := uint64(r.layout.NlistSize())
	if !linkedit.ContainsFileRange(uint64(st.Symoff), uint64(st.Nsyms)*nlistSize) {
		return nil, &FormatError{off: int64(st.Symoff), msg: "symbol table outside of __LINKEDIT", val: st.Nsyms}
	}
	if !linkedit.ContainsFileRange(uint64(st.Stroff), uint64(st.Strsize)) {
		return nil, &FormatError{off: int64(st.Stroff), msg: "string table outside of __LINKEDIT", val: st.Strsize}
	}
	symAddr := base + uint64(st.Symoff) + uint64(first)*nlistSize
	symdat, err := r.read(symAddr, uint64(count)*nlistSize, "symbol table")
	if err != nil {
		return nil, err
	}
	strtab, err := r.read(base+uint64(st.Stroff), uint64(st.Strsize), "string table")
	if err != nil {
		return nil, err
	}

	for i := uint32(0); i < count; i++ {
		off := int64(st.Symoff) + int64(first+i)*int64(nlistSize)
		n, err := r.layout.ReadNlist(symdat[uint64(i)*nlistSize:])
		if err != nil {
			return nil, &FormatError{off: off, msg: err.Error()}
		}

		if !strict {
			if k := n.Type.Kind(); n.Type.IsDebugSym() || !n.Type.IsExternal() || (k != types.N_SECT && k != types.N_ABS) {
				continue
			}
		}

		if n.Name >= st.Strsize {
			return nil, &FormatError{off: off, msg: "symbol name outside of string table", val: n.Name}
		}
		s := strtab[n.Name:]
		end := bytes.IndexByte(s, 0)
		if end < 0 {
			return nil, &FormatError{off: off, msg: "symbol name not NUL-terminated", val: n.Name}
		}
		name := string(s[:end])

		if n.Type.IsDebugSym() {
			return nil, &FormatError{off: off, msg: "debugging symbol in external defined symbols", val: name}
		}
		if !n.Type.IsExternal() {
			return nil, &FormatError{off: off, msg: "non-external symbol in external defined symbols", val: name}
		}

		var value uint64
		switch n.Type.Kind() {
		case types.N_SECT:
			sect, _, ok := r.GetSectionAtIndex(int(n.Sect))
			if !ok {
				return nil, &FormatError{off: off, msg: fmt.Sprintf("symbol %s in nonexistent section", name), val: n.Sect}
			}
			value = n.Value
			if sect.Segment().SegmentSlides() {
				value += r.slide
			}
		case types.N_ABS:
			if n.Sect != types.NO_SECT {
				return nil, &FormatError{off: off, msg: fmt.Sprintf("absolute symbol %s with section", name), val: n.Sect}
			}
			value = n.Value
		default:
			return nil, &FormatError{off: off, msg: fmt.Sprintf("symbol %s has unexpected type", name), val: fmt.Sprintf("%#x", uint8(n.Type))}
		}

		if _, dup := symbols[name]; dup {
			return nil, &FormatError{off: off, msg: "duplicate external defined symbol", val: name}
		}
		symbols[name] = value
	}
	return symbols, nil
}

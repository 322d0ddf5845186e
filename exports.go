package macho

import (
	"github.com/appsworld/go-macho-reader/pkg/trie"
	"github.com/pkg/errors"
)

// LookUpExportedSymbol returns the address in the target of the symbol name
// as dyld would bind it, using the export trie of LC_DYLD_INFO(_ONLY) or
// LC_DYLD_EXPORTS_TRIE. Images in the shared cache often have a usable
// export trie but no local symbol table. A symbol re-exported from another
// dylib yields an error wrapping ErrReExported.
func (r *ImageReader) LookUpExportedSymbol(name string) (uint64, error) {
	e, err := r.lookUpExport(name)
	if err != nil {
		return 0, err
	}
	switch {
	case e.Flags.ReExport():
		return 0, errors.Wrapf(ErrReExported, "%s in %s is %s", name, r.name, e)
	case e.Flags.Absolute():
		return e.Address, nil
	}
	return r.address + e.Address, nil
}

// ExportedSymbols returns every symbol in the export trie. Addresses of
// regular and thread local symbols are adjusted to the target.
func (r *ImageReader) ExportedSymbols() ([]trie.Entry, error) {
	data, err := r.exportTrie()
	if err != nil {
		return nil, err
	}
	entries, err := trie.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse export trie of %s", r.name)
	}
	for i := range entries {
		e := &entries[i]
		if e.Flags.ReExport() || e.Flags.Absolute() {
			continue
		}
		e.Address += r.address
		if e.Flags.StubAndResolver() {
			e.Other += r.address
		}
	}
	return entries, nil
}

func (r *ImageReader) lookUpExport(name string) (trie.Entry, error) {
	data, err := r.exportTrie()
	if err != nil {
		return trie.Entry{}, err
	}
	e, err := trie.Lookup(data, name)
	if errors.Is(err, trie.ErrNotFound) {
		return e, errors.Wrapf(ErrSymbolNotFound, "%s in exports of %s", name, r.name)
	}
	if err != nil {
		return e, errors.Wrapf(err, "failed to walk export trie of %s", r.name)
	}
	return e, nil
}

// exportTrie reads the export trie out of __LINKEDIT once. An image without
// one has an empty trie.
func (r *ImageReader) exportTrie() ([]byte, error) {
	r.mustBeValid()
	r.exportsOnce.Do(func() {
		if r.exports == nil {
			return
		}
		linkedit, _, _, ok := r.GetSegmentByName("__LINKEDIT")
		if !ok {
			r.exportsErr = &FormatError{msg: "export trie without __LINKEDIT segment"}
			return
		}
		off := uint64(r.exports.Offset)
		if !linkedit.ContainsFileRange(off, uint64(r.exports.Size)) {
			r.exportsErr = &FormatError{off: int64(off), msg: "export trie outside of __LINKEDIT"}
			return
		}
		r.exportsData, r.exportsErr = r.read(linkedit.Address()+off-linkedit.Fileoff(), uint64(r.exports.Size), "export trie")
	})
	return r.exportsData, r.exportsErr
}

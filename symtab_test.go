package macho

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/appsworld/go-macho-reader/internal/machotest"
	"github.com/appsworld/go-macho-reader/pkg/process"
	"github.com/appsworld/go-macho-reader/types"
	"github.com/google/go-cmp/cmp"
)

const (
	symSlide  = 0x1c000
	symoff    = 0x8000
	stroff    = 0x8800
	nStabFun  = types.NType(0x24)
	extSect   = types.N_SECT | types.N_EXT
	extAbs    = types.N_ABS | types.N_EXT
	extUndef  = types.N_UNDF | types.N_EXT
	extIndr   = types.N_INDR | types.N_EXT
	localSect = types.N_SECT
)

func preferred(l types.Layout) uint64 {
	if l.Is64Bit() {
		return 0x100000000
	}
	return 0x1000
}

// A symImage is an image with a symbol table in __LINKEDIT. Symbol values
// of N_SECT symbols are offsets from the preferred __TEXT address.
type symImage struct {
	layout     types.Layout
	syms       []machotest.Sym
	ext        *[2]uint32 // iextdefsym, nextdefsym; nil covers all symbols
	noDysymtab bool
	noLinkedit bool
	trimStrtab int
	noStrtab   bool
	symtab     *[4]uint32 // symoff, nsyms, stroff, strsize; nil derives them
}

func (s symImage) build(t *testing.T) (*process.Buffer, uint64) {
	t.Helper()
	l := s.layout
	p := preferred(l)

	syms := make([]machotest.Sym, len(s.syms))
	copy(syms, s.syms)
	for i := range syms {
		if syms[i].Type.Kind() == types.N_SECT {
			syms[i].Value += p
		}
	}
	nlists, strtab := machotest.SymbolTable(l, syms)
	strsize := len(strtab) - s.trimStrtab

	im := machotest.New(l, types.MH_EXECUTE).Add(
		machotest.Segment(l, machotest.Seg{
			Name: "__TEXT", Addr: p, Memsz: 0x4000, Filesz: 0x4000, Maxprot: rx, Prot: rx,
			Sections: []machotest.Sect{
				{Name: "__text", Addr: p + 0xf00, Size: 0x100, Offset: 0xf00},
				{Name: "__cstring", Addr: p + 0x3000, Size: 0x40, Offset: 0x3000},
			},
		}),
		machotest.Segment(l, machotest.Seg{
			Name: "__DATA", Addr: p + 0x4000, Memsz: 0x1000, Offset: 0x4000, Filesz: 0x1000, Maxprot: rw, Prot: rw,
			Sections: []machotest.Sect{
				{Name: "__data", Addr: p + 0x4000, Size: 0x10, Offset: 0x4000},
				{Name: "__bss", Addr: p + 0x4100, Size: 0x100, Flags: types.Zerofill},
			},
		}),
	)
	if !s.noLinkedit {
		im.Add(machotest.Segment(l, machotest.Seg{Name: "__LINKEDIT", Addr: p + 0x8000, Memsz: 0x1000, Offset: 0x8000, Filesz: 0x1000, Maxprot: ro, Prot: ro}))
	}
	st := [4]uint32{symoff, uint32(len(syms)), stroff, uint32(strsize)}
	if s.symtab != nil {
		st = *s.symtab
	}
	im.Add(machotest.Symtab(st[0], st[1], st[2], st[3]))
	if !s.noDysymtab {
		ext := [2]uint32{0, uint32(len(syms))}
		if s.ext != nil {
			ext = *s.ext
		}
		im.Add(machotest.Dysymtab(ext[0], ext[1]))
	}

	addr := p + symSlide
	regions := []process.Region{{Addr: addr + symoff, Data: nlists}}
	if !s.noStrtab {
		regions = append(regions, process.Region{Addr: addr + stroff, Data: strtab})
	}
	mem, err := im.Memory(addr, regions...)
	if err != nil {
		t.Fatalf("Memory() error = %v", err)
	}
	return mem, addr
}

// testSyms is a local symbol, three external definitions and an import,
// sorted the way the static linker sorts them.
var testSyms = []machotest.Sym{
	{Name: "_helper", Type: localSect, Sect: 1, Value: 0xf80},
	{Name: "_main", Type: extSect, Sect: 1, Value: 0xf00},
	{Name: "_gCounter", Type: extSect, Sect: 3, Value: 0x4000},
	{Name: "_kVersion", Type: extAbs, Value: 0x1234},
	{Name: "_printf", Type: extUndef},
}

func TestLookUpExternalDefinedSymbol(t *testing.T) {
	for _, l := range []types.Layout{types.Layout32, types.Layout64} {
		for _, dysymtab := range []bool{true, false} {
			name := l.String()
			if !dysymtab {
				name += " without dysymtab"
			}
			t.Run(name, func(t *testing.T) {
				mem, addr := symImage{layout: l, syms: testSyms, ext: &[2]uint32{1, 3}, noDysymtab: !dysymtab}.build(t)
				r, err := NewImageReader(mem, addr, "symbols")
				if err != nil {
					t.Fatal(err)
				}
				p := preferred(l)
				want := map[string]uint64{
					"_main":     p + 0xf00 + symSlide,
					"_gCounter": p + 0x4000 + symSlide,
					"_kVersion": 0x1234,
				}
				got := make(map[string]uint64)
				for n := range want {
					v, err := r.LookUpExternalDefinedSymbol(n)
					if err != nil {
						t.Fatalf("LookUpExternalDefinedSymbol(%q) error = %v", n, err)
					}
					got[n] = v
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("symbol addresses mismatch (-want +got):\n%s", diff)
				}
				for _, n := range []string{"_helper", "_printf", "main", ""} {
					if _, err := r.LookUpExternalDefinedSymbol(n); !errors.Is(err, ErrSymbolNotFound) {
						t.Errorf("LookUpExternalDefinedSymbol(%q) error = %v, want ErrSymbolNotFound", n, err)
					}
				}
			})
		}
	}
}

func TestLookUpExternalDefinedSymbolConcurrent(t *testing.T) {
	mem, addr := symImage{layout: types.Layout64, syms: testSyms, ext: &[2]uint32{1, 3}}.build(t)
	r, err := NewImageReader(mem, addr, "symbols")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := r.LookUpExternalDefinedSymbol("_main"); err != nil || v != 0x100000f00+symSlide {
				t.Errorf("LookUpExternalDefinedSymbol(_main) = %#x, %v", v, err)
			}
			if _, _, ok := r.GetSectionAtIndex(2); !ok {
				t.Error("GetSectionAtIndex(2) not found")
			}
		}()
	}
	wg.Wait()
}

func TestLookUpExternalDefinedSymbolErrors(t *testing.T) {
	ext := func(syms ...machotest.Sym) []machotest.Sym {
		return append([]machotest.Sym{{Name: "_main", Type: extSect, Sect: 1, Value: 0xf00}}, syms...)
	}
	tests := []struct {
		name    string
		image   symImage
		wantMsg string
	}{
		{"debugging symbol", symImage{syms: ext(machotest.Sym{Name: "_f", Type: nStabFun, Sect: 1})}, "debugging symbol"},
		{"local symbol", symImage{syms: ext(machotest.Sym{Name: "_f", Type: localSect, Sect: 1})}, "non-external symbol"},
		{"section past the end", symImage{syms: ext(machotest.Sym{Name: "_f", Type: extSect, Sect: 9})}, "in nonexistent section"},
		{"section zero", symImage{syms: ext(machotest.Sym{Name: "_f", Type: extSect, Sect: types.NO_SECT})}, "in nonexistent section"},
		{"absolute with section", symImage{syms: ext(machotest.Sym{Name: "_f", Type: extAbs, Sect: 1})}, "with section"},
		{"undefined in defined range", symImage{syms: ext(machotest.Sym{Name: "_f", Type: extUndef})}, "unexpected type"},
		{"indirect", symImage{syms: ext(machotest.Sym{Name: "_f", Type: extIndr})}, "unexpected type"},
		{"duplicate", symImage{syms: ext(machotest.Sym{Name: "_main", Type: extAbs})}, "duplicate external defined symbol"},
		{"name outside string table", symImage{syms: ext(), trimStrtab: 6}, "outside of string table"},
		{"name unterminated", symImage{syms: ext(), trimStrtab: 1}, "not NUL-terminated"},
		{"range outside symbol table", symImage{syms: ext(), ext: &[2]uint32{1, 1}}, "outside of symbol table"},
		{"no __LINKEDIT", symImage{syms: ext(), noLinkedit: true}, "without __LINKEDIT"},
		{"string table unmapped", symImage{syms: ext(), noStrtab: true}, "string table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.image.layout = types.Layout64
			mem, addr := tt.image.build(t)
			r, err := NewImageReader(mem, addr, "symbols")
			if err != nil {
				t.Fatal(err)
			}
			_, err = r.LookUpExternalDefinedSymbol("_main")
			if err == nil {
				t.Fatal("LookUpExternalDefinedSymbol() succeeded")
			}
			if errors.Is(err, ErrSymbolNotFound) {
				t.Fatalf("LookUpExternalDefinedSymbol() error = %v, want a symbol table error", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("LookUpExternalDefinedSymbol() error = %q, want it to mention %q", err, tt.wantMsg)
			}
			if _, again := r.LookUpExternalDefinedSymbol("_main"); again != err {
				t.Errorf("second lookup error = %v, want the cached %v", again, err)
			}
		})
	}
}

func TestLookUpExternalDefinedSymbolBadRanges(t *testing.T) {
	syms := []machotest.Sym{{Name: "_main", Type: extSect, Sect: 1, Value: 0xf00}}
	tests := []struct {
		name    string
		image   symImage
		wantMsg string
	}{
		{"huge symbol count", symImage{syms: syms, noDysymtab: true, symtab: &[4]uint32{symoff, 0xffffffff, symoff, 0x10}}, "symbol table outside of __LINKEDIT"},
		{"huge symbol count with dysymtab", symImage{syms: syms, ext: &[2]uint32{0, 1}, symtab: &[4]uint32{symoff, 0xffffffff, stroff, 0x10}}, "symbol table outside of __LINKEDIT"},
		{"symbols before __LINKEDIT", symImage{syms: syms, symtab: &[4]uint32{0x4000, 1, stroff, 0x10}}, "symbol table outside of __LINKEDIT"},
		{"huge string table", symImage{syms: syms, symtab: &[4]uint32{symoff, 1, stroff, 0xffffffff}}, "string table outside of __LINKEDIT"},
		{"strings past __LINKEDIT", symImage{syms: syms, symtab: &[4]uint32{symoff, 1, 0x8ff0, 0x20}}, "string table outside of __LINKEDIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.image.layout = types.Layout64
			mem, addr := tt.image.build(t)
			r, err := NewImageReader(mem, addr, "symbols")
			if err != nil {
				t.Fatal(err)
			}
			_, err = r.LookUpExternalDefinedSymbol("_main")
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("LookUpExternalDefinedSymbol() error = %v, want a *FormatError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("LookUpExternalDefinedSymbol() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

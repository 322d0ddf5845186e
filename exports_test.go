package macho

import (
	"errors"
	"strings"
	"testing"

	"github.com/appsworld/go-macho-reader/internal/machotest"
	"github.com/appsworld/go-macho-reader/pkg/process"
	"github.com/appsworld/go-macho-reader/pkg/trie"
	"github.com/appsworld/go-macho-reader/types"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const exportOff = 0x5200 // in exec64's __LINKEDIT

func exportTrie() []byte {
	uleb := machotest.Uleb128
	return machotest.Trie([]machotest.TrieNode{
		{Edges: []machotest.TrieEdge{{Label: "_", Child: 1}}},
		{Edges: []machotest.TrieEdge{{Label: "main", Child: 2}, {Label: "kVersion", Child: 3}, {Label: "strlen", Child: 4}}},
		{Terminal: uleb(0, 0xf00)},
		{Terminal: uleb(uint64(trie.ExportSymbolFlagsKindAbsolute), 0x1234)},
		{Terminal: append(uleb(uint64(trie.ExportSymbolFlagsReexport), 1), "_platform_strlen\x00"...)},
	})
}

func exportImage(t *testing.T, cmd func(off, size uint32) []byte) (*ImageReader, uint64) {
	t.Helper()
	data := exportTrie()
	addr := uint64(0x100000000 + slide64)
	im := exec64().Add(cmd(exportOff, uint32(len(data))))
	mem, err := im.Memory(addr, process.Region{Addr: addr + exportOff, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewImageReader(mem, addr, "exports")
	if err != nil {
		t.Fatal(err)
	}
	return r, addr
}

func TestLookUpExportedSymbol(t *testing.T) {
	for name, cmd := range map[string]func(off, size uint32) []byte{
		"LC_DYLD_INFO_ONLY":    machotest.DyldInfo,
		"LC_DYLD_EXPORTS_TRIE": machotest.ExportsTrie,
	} {
		t.Run(name, func(t *testing.T) {
			r, addr := exportImage(t, cmd)

			if got, err := r.LookUpExportedSymbol("_main"); err != nil || got != addr+0xf00 {
				t.Errorf("LookUpExportedSymbol(_main) = %#x, %v; want %#x", got, err, addr+0xf00)
			}
			if got, err := r.LookUpExportedSymbol("_kVersion"); err != nil || got != 0x1234 {
				t.Errorf("LookUpExportedSymbol(_kVersion) = %#x, %v; want 0x1234", got, err)
			}
			if _, err := r.LookUpExportedSymbol("_strlen"); !errors.Is(err, ErrReExported) {
				t.Errorf("LookUpExportedSymbol(_strlen) error = %v, want ErrReExported", err)
			} else if !strings.Contains(err.Error(), "_platform_strlen") {
				t.Errorf("LookUpExportedSymbol(_strlen) error = %q, want it to name the re-exported symbol", err)
			}
			for _, n := range []string{"_printf", "_mai", "main"} {
				if _, err := r.LookUpExportedSymbol(n); !errors.Is(err, ErrSymbolNotFound) {
					t.Errorf("LookUpExportedSymbol(%q) error = %v, want ErrSymbolNotFound", n, err)
				}
			}

			got, err := r.ExportedSymbols()
			if err != nil {
				t.Fatal(err)
			}
			want := []trie.Entry{
				{Name: "_main", Address: addr + 0xf00},
				{Name: "_kVersion", Flags: trie.ExportSymbolFlagsKindAbsolute, Address: 0x1234},
				{Name: "_strlen", Flags: trie.ExportSymbolFlagsReexport, Other: 1, ReExport: "_platform_strlen"},
			}
			byName := cmpopts.SortSlices(func(a, b trie.Entry) bool { return a.Name < b.Name })
			if diff := cmp.Diff(want, got, byName); diff != "" {
				t.Errorf("ExportedSymbols() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLookUpExportedSymbolNoTrie(t *testing.T) {
	r := readImage(t, exec64(), 0x100000000)
	if _, err := r.LookUpExportedSymbol("_main"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("LookUpExportedSymbol() error = %v, want ErrSymbolNotFound", err)
	}
	if got, err := r.ExportedSymbols(); err != nil || len(got) != 0 {
		t.Errorf("ExportedSymbols() = %v, %v", got, err)
	}
}

func TestExportTrieErrors(t *testing.T) {
	t.Run("outside __LINKEDIT", func(t *testing.T) {
		r := readImage(t, exec64().Add(machotest.ExportsTrie(0x5f00, 0x200)), 0x100000000)
		_, err := r.LookUpExportedSymbol("_main")
		var fe *FormatError
		if !errors.As(err, &fe) || !strings.Contains(err.Error(), "outside of __LINKEDIT") {
			t.Errorf("LookUpExportedSymbol() error = %v", err)
		}
		if _, again := r.ExportedSymbols(); again != err {
			t.Errorf("ExportedSymbols() error = %v, want the cached %v", again, err)
		}
	})
	t.Run("unmapped", func(t *testing.T) {
		r := readImage(t, exec64().Add(machotest.DyldInfo(exportOff, 0x40)), 0x100000000)
		if _, err := r.LookUpExportedSymbol("_main"); err == nil || errors.Is(err, ErrSymbolNotFound) {
			t.Errorf("LookUpExportedSymbol() error = %v, want a read error", err)
		}
	})
	t.Run("two tries", func(t *testing.T) {
		im := exec64().Add(machotest.DyldInfo(exportOff, 0x10), machotest.ExportsTrie(exportOff, 0x10))
		mem, err := im.Memory(0x100000000)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewImageReader(mem, 0x100000000, "exports"); err == nil || !strings.Contains(err.Error(), "multiple export tries") {
			t.Errorf("NewImageReader() error = %v", err)
		}
	})
	t.Run("wrong size", func(t *testing.T) {
		b := machotest.Raw(types.LC_DYLD_EXPORTS_TRIE, make([]byte, 16))
		mem, err := exec64().Add(b).Memory(0x100000000)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := NewImageReader(mem, 0x100000000, "exports"); err == nil || !strings.Contains(err.Error(), "size must be 16") {
			t.Errorf("NewImageReader() error = %v", err)
		}
	})
}

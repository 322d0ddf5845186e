package trie

import (
	"errors"
	"testing"

	"github.com/appsworld/go-macho-reader/internal/machotest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var uleb = machotest.Uleb128

// testTrie exports _main, _malloc (with a resolver), a re-export of
// _mach_task_self, an absolute _kVersion and a weak thread local _tlv.
func testTrie() []byte {
	return machotest.Trie([]machotest.TrieNode{
		{Edges: []machotest.TrieEdge{{Label: "_ma", Child: 1}, {Label: "_kVersion", Child: 5}, {Label: "_tlv", Child: 6}}},
		{Edges: []machotest.TrieEdge{{Label: "in", Child: 2}, {Label: "lloc", Child: 3}, {Label: "ch_task_self", Child: 4}}},
		{Terminal: uleb(0, 0x3f50)},
		{Terminal: uleb(uint64(ExportSymbolFlagsStubAndResolver), 0x4000, 0x4010)},
		{Terminal: append(uleb(uint64(ExportSymbolFlagsReexport), 2), "_task_self_trap\x00"...)},
		{Terminal: uleb(uint64(ExportSymbolFlagsKindAbsolute), 0x1234)},
		{Terminal: uleb(uint64(ExportSymbolFlagsKindThreadLocal|ExportSymbolFlagsWeakDefinition), 0x8000)},
	})
}

var testEntries = []Entry{
	{Name: "_main", Address: 0x3f50},
	{Name: "_malloc", Flags: ExportSymbolFlagsStubAndResolver, Address: 0x4000, Other: 0x4010},
	{Name: "_mach_task_self", Flags: ExportSymbolFlagsReexport, Other: 2, ReExport: "_task_self_trap"},
	{Name: "_kVersion", Flags: ExportSymbolFlagsKindAbsolute, Address: 0x1234},
	{Name: "_tlv", Flags: ExportSymbolFlagsKindThreadLocal | ExportSymbolFlagsWeakDefinition, Address: 0x8000},
}

func TestParse(t *testing.T) {
	got, err := Parse(testTrie())
	if err != nil {
		t.Fatal(err)
	}
	sortByName := cmpopts.SortSlices(func(a, b Entry) bool { return a.Name < b.Name })
	if diff := cmp.Diff(testEntries, got, sortByName); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
	if got, err := Parse(nil); err != nil || len(got) != 0 {
		t.Errorf("Parse(nil) = %v, %v", got, err)
	}
}

func TestLookup(t *testing.T) {
	data := testTrie()
	for _, want := range testEntries {
		got, err := Lookup(data, want.Name)
		if err != nil {
			t.Errorf("Lookup(%q) error = %v", want.Name, err)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Lookup(%q) mismatch (-want +got):\n%s", want.Name, diff)
		}
	}
	for _, name := range []string{"", "_ma", "_mai", "_mainx", "_printf", "_kVersio"} {
		if _, err := Lookup(data, name); !errors.Is(err, ErrNotFound) {
			t.Errorf("Lookup(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		// Lookup of _a never reaches the malformed part
		lookupNotFound bool
	}{
		{"terminal past the end", []byte{0x10, 0x00}, false},
		{"unterminated edge", []byte{0x00, 0x01, '_', 'a'}, false},
		{"truncated uleb", []byte{0x00, 0x01, '_', 'a', 0x00, 0x80}, false},
		{"child offset outside", []byte{0x00, 0x01, '_', 0x00, 0x40}, false},
		{"cycle", []byte{0x00, 0x01, '_', 0x00, 0x00}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); err == nil {
				t.Error("Parse() succeeded")
			}
			_, err := Lookup(tt.data, "_a")
			switch {
			case err == nil:
				t.Error("Lookup() succeeded")
			case errors.Is(err, ErrNotFound) != tt.lookupNotFound:
				t.Errorf("Lookup() error = %v", err)
			}
		})
	}
}

func TestReadUleb128(t *testing.T) {
	for _, v := range []uint64{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 1<<63 | 1} {
		r := newReader(uleb(v))
		got, err := ReadUleb128(r)
		if err != nil || got != v {
			t.Errorf("ReadUleb128(%x) = %#x, %v", uleb(v), got, err)
		}
	}
	overlong := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	if _, err := ReadUleb128(newReader(overlong)); err == nil {
		t.Error("ReadUleb128() of an 11-byte value succeeded")
	}
}

func TestExportFlagString(t *testing.T) {
	for f, want := range map[ExportFlag]string{
		0:                                "Regular",
		ExportSymbolFlagsWeakDefinition:  "Regular (Weak Definition)",
		ExportSymbolFlagsStubAndResolver: "Regular (Has Resolver Function)",
		ExportSymbolFlagsKindThreadLocal: "Thread Local",
		ExportSymbolFlagsKindAbsolute:    "Absolute",
		ExportSymbolFlagsReexport:        "Re-export",
	} {
		if got := f.String(); got != want {
			t.Errorf("ExportFlag(%#x).String() = %q, want %q", uint64(f), got, want)
		}
	}
}

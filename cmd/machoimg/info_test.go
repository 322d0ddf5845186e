package main

import (
	"bytes"
	"strings"
	"testing"

	macho "github.com/appsworld/go-macho-reader"
	"github.com/appsworld/go-macho-reader/internal/machotest"
	"github.com/appsworld/go-macho-reader/pkg/process"
	"github.com/appsworld/go-macho-reader/types"
	"github.com/pkg/errors"
)

func TestPrintImage(t *testing.T) {
	l := types.Layout64
	im := machotest.New(l, types.MH_DYLIB).Add(
		machotest.Segment(l, machotest.Seg{
			Name: "__TEXT", Addr: 0x180000000, Memsz: 0x8000, Filesz: 0x8000,
			Maxprot: types.VmProtRead | types.VmProtExecute, Prot: types.VmProtRead | types.VmProtExecute,
			Sections: []machotest.Sect{{Name: "__text", Addr: 0x180001000, Size: 0x2000, Offset: 0x1000}},
		}),
		machotest.IDDylib("/usr/lib/libobjc.A.dylib", types.Version(228<<16), types.Version(1<<16)),
	)
	im.Flags = types.DylibInCache
	mem, err := im.Memory(0x181000000)
	if err != nil {
		t.Fatal(err)
	}
	img, err := macho.NewImageReader(mem, 0x181000000, "libobjc.A.dylib")
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	printImage(&out, img)
	got := strings.Join(strings.Fields(out.String()), " ")
	for _, want := range []string{
		"Type: DYLIB",
		"Slide: 0x1000000",
		"Dylib: /usr/lib/libobjc.A.dylib (228.0.0)",
		"Shared Cache: true",
		"__TEXT.__text",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("printImage() output missing %q:\n%s", want, out.String())
		}
	}
}

func TestLookUpSymbol(t *testing.T) {
	l := types.Layout64
	rx := types.VmProtRead | types.VmProtExecute
	data := machotest.Trie([]machotest.TrieNode{
		{Edges: []machotest.TrieEdge{{Label: "_objc_msgSend", Child: 1}}},
		{Terminal: machotest.Uleb128(0, 0x1400)},
	})
	im := machotest.New(l, types.MH_DYLIB).Add(
		machotest.Segment(l, machotest.Seg{Name: "__TEXT", Addr: 0x180000000, Memsz: 0x8000, Filesz: 0x8000, Maxprot: rx, Prot: rx}),
		machotest.Segment(l, machotest.Seg{Name: "__LINKEDIT", Addr: 0x180008000, Memsz: 0x1000, Offset: 0x8000, Filesz: 0x1000, Maxprot: types.VmProtRead, Prot: types.VmProtRead}),
		machotest.IDDylib("/usr/lib/libobjc.A.dylib", types.Version(228<<16), types.Version(1<<16)),
		machotest.ExportsTrie(0x8000, uint32(len(data))),
	)
	mem, err := im.Memory(0x181000000, process.Region{Addr: 0x181008000, Data: data})
	if err != nil {
		t.Fatal(err)
	}
	img, err := macho.NewImageReader(mem, 0x181000000, "libobjc.A.dylib")
	if err != nil {
		t.Fatal(err)
	}

	if v, err := lookUpSymbol(img, "_objc_msgSend"); err != nil || v != 0x181001400 {
		t.Errorf("lookUpSymbol(_objc_msgSend) = %#x, %v; want 0x181001400", v, err)
	}
	if _, err := lookUpSymbol(img, "_objc_release"); !errors.Is(err, macho.ErrSymbolNotFound) {
		t.Errorf("lookUpSymbol(_objc_release) error = %v, want ErrSymbolNotFound", err)
	}
}

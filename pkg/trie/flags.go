package trie

import "strings"

// ExportFlag is the flags word of a terminal node in an export trie.
type ExportFlag uint64

const (
	ExportSymbolFlagsKindMask        ExportFlag = 0x03
	ExportSymbolFlagsKindRegular     ExportFlag = 0x00
	ExportSymbolFlagsKindThreadLocal ExportFlag = 0x01
	ExportSymbolFlagsKindAbsolute    ExportFlag = 0x02
	ExportSymbolFlagsWeakDefinition  ExportFlag = 0x04
	ExportSymbolFlagsReexport        ExportFlag = 0x08
	ExportSymbolFlagsStubAndResolver ExportFlag = 0x10
)

func (f ExportFlag) Regular() bool {
	return (f & ExportSymbolFlagsKindMask) == ExportSymbolFlagsKindRegular
}
func (f ExportFlag) ThreadLocal() bool {
	return (f & ExportSymbolFlagsKindMask) == ExportSymbolFlagsKindThreadLocal
}
func (f ExportFlag) Absolute() bool {
	return (f & ExportSymbolFlagsKindMask) == ExportSymbolFlagsKindAbsolute
}
func (f ExportFlag) WeakDefinition() bool {
	return f&ExportSymbolFlagsWeakDefinition != 0
}
func (f ExportFlag) ReExport() bool {
	return f&ExportSymbolFlagsReexport != 0
}
func (f ExportFlag) StubAndResolver() bool {
	return f&ExportSymbolFlagsStubAndResolver != 0
}

func (f ExportFlag) String() string {
	var fStr string
	switch {
	case f.ReExport():
		fStr += "Re-export "
	case f.Regular():
		fStr += "Regular "
		if f.StubAndResolver() {
			fStr += "(Has Resolver Function)"
		} else if f.WeakDefinition() {
			fStr += "(Weak Definition)"
		}
	case f.ThreadLocal():
		fStr += "Thread Local"
	case f.Absolute():
		fStr += "Absolute"
	}
	return strings.TrimSpace(fStr)
}

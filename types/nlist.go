package types

// An Nlist32 is a Mach-O 32-bit symbol table entry.
type Nlist32 struct {
	Name  uint32
	Type  NType
	Sect  uint8
	Desc  uint16
	Value uint32
}

// An Nlist64 is a Mach-O 64-bit symbol table entry.
type Nlist64 struct {
	Name  uint32
	Type  NType
	Sect  uint8
	Desc  uint16
	Value uint64
}

// An Nlist is a symbol table entry of either width, widened to 64 bits.
type Nlist struct {
	Name  uint32
	Type  NType
	Sect  uint8
	Desc  uint16
	Value uint64
}

type NType uint8

const (
	N_STAB NType = 0xe0 /* if any of these bits set, a symbolic debugging entry */
	N_PEXT NType = 0x10 /* private external symbol bit */
	N_TYPE NType = 0x0e /* mask for the type bits */
	N_EXT  NType = 0x01 /* external symbol bit, set for external symbols */
)

// Values for N_TYPE bits of the n_type field.
const (
	N_UNDF NType = 0x0 /* undefined, n_sect == NO_SECT */
	N_ABS  NType = 0x2 /* absolute, n_sect == NO_SECT */
	N_SECT NType = 0xe /* defined in section number n_sect */
	N_PBUD NType = 0xc /* prebound undefined (defined in a dylib) */
	N_INDR NType = 0xa /* indirect */
)

const (
	NO_SECT  = 0   /* symbol is not in any section */
	MAX_SECT = 255 /* 1 thru 255 inclusive */
)

func (t NType) IsDebugSym() bool { return t&N_STAB != 0 }
func (t NType) IsExternal() bool { return t&N_EXT != 0 }
func (t NType) Kind() NType      { return t & N_TYPE }

package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
)

type VmProtection int32

const (
	VmProtNone    VmProtection = 0x0
	VmProtRead    VmProtection = 0x1
	VmProtWrite   VmProtection = 0x2
	VmProtExecute VmProtection = 0x4
	VmProtAll                  = VmProtRead | VmProtWrite | VmProtExecute
)

func (v VmProtection) Read() bool {
	return (v & VmProtRead) != 0
}

func (v VmProtection) Write() bool {
	return (v & VmProtWrite) != 0
}

func (v VmProtection) Execute() bool {
	return (v & VmProtExecute) != 0
}

func (v VmProtection) String() string {
	var protStr string
	if v.Read() {
		protStr += "r"
	} else {
		protStr += "-"
	}
	if v.Write() {
		protStr += "w"
	} else {
		protStr += "-"
	}
	if v.Execute() {
		protStr += "x"
	} else {
		protStr += "-"
	}
	return protStr
}

// UUID is a macho uuid object
type UUID [16]byte

// IsZero reports whether u is the all-zero UUID, which stands in for an
// image without an LC_UUID load command.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

func (u UUID) String() string {
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		u[0], u[1], u[2], u[3], u[4], u[5], u[6], u[7], u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15])
}

// Version is a X.Y.Z version packed as xxxx.yy.zz
type Version uint32

func (v Version) String() string {
	s := make([]byte, 4)
	binary.BigEndian.PutUint32(s, uint32(v))
	return fmt.Sprintf("%d.%d.%d", binary.BigEndian.Uint16(s[:2]), s[2], s[3])
}

// SrcVersion is a A.B.C.D.E version packed as a24.b10.c10.d10.e10
type SrcVersion uint64

func (sv SrcVersion) String() string {
	a := sv >> 40
	b := (sv >> 30) & 0x3ff
	c := (sv >> 20) & 0x3ff
	d := (sv >> 10) & 0x3ff
	e := sv & 0x3ff
	return fmt.Sprintf("%d.%d.%d.%d.%d", a, b, c, d, e)
}

type IntName struct {
	I uint32
	S string
}

func StringName(i uint32, names []IntName, goSyntax bool) string {
	for _, n := range names {
		if n.I == i {
			if goSyntax {
				return "macho." + n.S
			}
			return n.S
		}
	}
	return "0x" + strconv.FormatUint(uint64(i), 16)
}

// CString returns the bytes of b up to the first NUL, or all of b if there is none.
func CString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[0:i])
}

// PutAtMost16Bytes copies at most 16 bytes of name into b.
func PutAtMost16Bytes(b []byte, n string) {
	for i := range n { // at most 16 bytes
		if i == 16 {
			break
		}
		b[i] = n[i]
	}
}

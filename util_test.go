package macho

import "testing"

func TestAlign(t *testing.T) {
	tests := []struct {
		a, b, want uint32
	}{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{0x4d, 8, 0x50},
	}
	for _, tt := range tests {
		if got := align(tt.a, tt.b); got != tt.want {
			t.Errorf("align(%#x, %d) = %#x, want %#x", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCheckedArithmetic(t *testing.T) {
	if s, ok := checkedAdd[uint64](1<<63, 1<<62); !ok || s != 3<<62 {
		t.Errorf("checkedAdd = %#x, %v", s, ok)
	}
	if _, ok := checkedAdd[uint64](^uint64(0), 1); ok {
		t.Error("checkedAdd did not report wraparound")
	}
	if p, ok := checkedMul[uint32](80, 3); !ok || p != 240 {
		t.Errorf("checkedMul = %d, %v", p, ok)
	}
	if _, ok := checkedMul[uint32](1<<31, 2); ok {
		t.Error("checkedMul did not report wraparound")
	}
	if p, ok := checkedMul[uint32](0, 1<<31); !ok || p != 0 {
		t.Errorf("checkedMul(0, x) = %d, %v", p, ok)
	}
}

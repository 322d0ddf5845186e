package macho

import "golang.org/x/exp/constraints"

func align[I constraints.Unsigned](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

// checkedAdd returns a+b and whether the sum did not wrap.
func checkedAdd[I constraints.Unsigned](a, b I) (I, bool) {
	s := a + b
	return s, s >= a
}

// checkedMul returns a*b and whether the product did not wrap.
func checkedMul[I constraints.Unsigned](a, b I) (I, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	return p, p/b == a
}

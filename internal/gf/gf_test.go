package gf

import "testing"

func TestAddIsXor(t *testing.T) {
	if got := Add(0x53, 0xca); got != 0x53^0xca {
		t.Fatalf("Add(0x53, 0xca) = %#x, want %#x", got, 0x53^0xca)
	}
}

func TestMulIdentityAndZero(t *testing.T) {
	for x := 0; x < 256; x++ {
		b := byte(x)
		if got := Mul(b, 0); got != 0 {
			t.Fatalf("Mul(%#x, 0) = %#x, want 0", b, got)
		}
		if got := Mul(b, 1); got != b {
			t.Fatalf("Mul(%#x, 1) = %#x, want %#x", b, got, b)
		}
	}
}

func TestMulCommutative(t *testing.T) {
	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			if Mul(byte(a), byte(b)) != Mul(byte(b), byte(a)) {
				t.Fatalf("Mul not commutative for %#x, %#x", a, b)
			}
		}
	}
}

func TestInvRoundTrip(t *testing.T) {
	for x := 1; x < 256; x++ {
		b := byte(x)
		inv := Inv(b)
		if got := Mul(b, inv); got != 1 {
			t.Fatalf("Mul(%#x, Inv(%#x)=%#x) = %#x, want 1", b, b, inv, got)
		}
	}
}

func TestDivUndoesMul(t *testing.T) {
	for a := 1; a < 256; a++ {
		for b := 1; b < 256; b++ {
			product := Mul(byte(a), byte(b))
			if got := Div(product, byte(b)); got != byte(a) {
				t.Fatalf("Div(Mul(%#x,%#x)=%#x, %#x) = %#x, want %#x", a, b, product, b, got, a)
			}
		}
	}
}

func TestDivByZero(t *testing.T) {
	if got := Div(5, 0); got != 0 {
		t.Fatalf("Div(5, 0) = %#x, want 0", got)
	}
}

func TestEvalPolyConstant(t *testing.T) {
	// p(x) = 0x42 (constant polynomial) evaluates to 0x42 everywhere.
	coeffs := []byte{0x42}
	for x := 0; x < 256; x++ {
		if got := EvalPoly(coeffs, byte(x)); got != 0x42 {
			t.Fatalf("EvalPoly(const, %#x) = %#x, want 0x42", x, got)
		}
	}
}

func TestEvalPolyAtZeroIsConstantTerm(t *testing.T) {
	coeffs := []byte{0x07, 0x11, 0x99, 0xff}
	if got := EvalPoly(coeffs, 0); got != coeffs[0] {
		t.Fatalf("EvalPoly(coeffs, 0) = %#x, want %#x", got, coeffs[0])
	}
}

func TestInterpolateAtZeroRecoversConstantTerm(t *testing.T) {
	coeffs := []byte{0x5a, 0x3c, 0x91}
	points := make([]Point, 0, 5)
	for x := byte(1); x <= 5; x++ {
		points = append(points, Point{X: x, Y: EvalPoly(coeffs, x)})
	}
	if got := InterpolateAtZero(points); got != coeffs[0] {
		t.Fatalf("InterpolateAtZero = %#x, want %#x", got, coeffs[0])
	}
}

func TestInterpolateAtZeroWithMinimalPoints(t *testing.T) {
	// threshold-3 polynomial, recovered from exactly 3 points.
	coeffs := []byte{0xde, 0xad, 0xbe}
	points := []Point{
		{X: 10, Y: EvalPoly(coeffs, 10)},
		{X: 20, Y: EvalPoly(coeffs, 20)},
		{X: 30, Y: EvalPoly(coeffs, 30)},
	}
	if got := InterpolateAtZero(points); got != coeffs[0] {
		t.Fatalf("InterpolateAtZero = %#x, want %#x", got, coeffs[0])
	}
}

// Package gf implements GF(2^8) byte arithmetic over the AES reduction
// polynomial x^8 + x^4 + x^3 + x + 1 (0x11b), the field the Shamir
// secret-sharing module performs its polynomial math in.
package gf

// exp and log are anti-log/log tables built around the generator 0x03,
// extended here with a real table-based Div.
var (
	expTable [512]byte
	logTable [256]byte
)

func init() {
	x := byte(1)
	for i := 0; i < 255; i++ {
		expTable[i] = x
		logTable[x] = byte(i)
		x = mulNoTable(x, 0x03)
	}
	for i := 255; i < 512; i++ {
		expTable[i] = expTable[i-255]
	}
}

// mulNoTable multiplies two field elements without using the log/exp
// tables; it is only used to bootstrap those tables at init time.
func mulNoTable(a, b byte) byte {
	var result byte
	for b > 0 {
		if b&1 != 0 {
			result ^= a
		}
		hi := a & 0x80
		a <<= 1
		if hi != 0 {
			a ^= 0x1b
		}
		b >>= 1
	}
	return result
}

// Add returns a + b in GF(2^8), which is simply XOR.
func Add(a, b byte) byte {
	return a ^ b
}

// Mul returns a * b in GF(2^8).
func Mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return expTable[int(logTable[a])+int(logTable[b])]
}

// Inv returns the multiplicative inverse of a. Inv(0) is undefined and
// returns 0, matching the convention that 0 has no inverse.
func Inv(a byte) byte {
	if a == 0 {
		return 0
	}
	return expTable[255-int(logTable[a])]
}

// Div returns a / b in GF(2^8). Div by zero returns 0.
func Div(a, b byte) byte {
	if b == 0 {
		return 0
	}
	if a == 0 {
		return 0
	}
	return Mul(a, Inv(b))
}

// EvalPoly evaluates p(x) = coeffs[0] XOR coeffs[1]*x XOR ... XOR
// coeffs[n-1]*x^(n-1) using Horner's method, where coeffs[0] is the
// constant term (the secret byte for a Shamir polynomial).
func EvalPoly(coeffs []byte, x byte) byte {
	var result byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = Mul(result, x) ^ coeffs[i]
	}
	return result
}

// Point is an (x, y) sample of a polynomial over GF(2^8).
type Point struct {
	X byte
	Y byte
}

// InterpolateAtZero performs Lagrange interpolation of the given points
// and returns p(0), i.e. Sum_i( y_i * Prod_{j!=i}( x_j / (x_j XOR x_i) ) ).
// It does not validate that the x coordinates are distinct; callers must
// ensure that themselves (duplicate shares are a ShamirSecret-level
// error, not a GF-level one).
func InterpolateAtZero(points []Point) byte {
	return InterpolateAt(points, 0)
}

// InterpolateAt generalizes InterpolateAtZero to an arbitrary evaluation
// point x, returning p(x) for the unique degree len(points)-1 polynomial
// passing through points. Used both to audit extra shares against the
// polynomial fitted from a recovery's first `threshold` shares, and to
// mint further shares of an already-recovered secret at share numbers
// other than those used to recover it, without ever reconstructing the
// polynomial's coefficients explicitly.
func InterpolateAt(points []Point, x byte) byte {
	var result byte
	for i, pi := range points {
		numerator := byte(1)
		denominator := byte(1)
		for j, pj := range points {
			if i == j {
				continue
			}
			numerator = Mul(numerator, x^pj.X)
			denominator = Mul(denominator, pi.X^pj.X)
		}
		result ^= Mul(pi.Y, Div(numerator, denominator))
	}
	return result
}

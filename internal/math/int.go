// internal/math/int.go
package math

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Int is a signed fixed-point amount in sign-magnitude form. Zero is never
// negative. The magnitude is bounded to 2^255-1 (see Calc.ToInt).
type Int struct {
	neg bool
	mag Uint
}

// NewInt creates an Int from an int64.
func NewInt(v int64) Int {
	if v < 0 {
		// -(v+1)+1 avoids overflow on math.MinInt64
		return Int{neg: true, mag: NewUint(uint64(-(v + 1)) + 1)}
	}
	return Int{mag: NewUint(uint64(v))}
}

// IntFromUint returns +u, or -u when neg is set.
func IntFromUint(u Uint, neg bool) Int {
	return Int{neg: neg && !u.IsZero(), mag: u}
}

// IntFromString parses a base-10 string with an optional sign.
func IntFromString(s string) (Int, error) {
	neg := false
	body := s
	if strings.HasPrefix(body, "-") {
		neg = true
		body = body[1:]
	} else if strings.HasPrefix(body, "+") {
		body = body[1:]
	}
	mag, err := UintFromString(body)
	if err != nil {
		return Int{}, fmt.Errorf("parse int %q: %w", s, err)
	}
	if mag.u.BitLen() > 255 {
		return Int{}, fmt.Errorf("parse int %q: magnitude out of range", s)
	}
	return IntFromUint(mag, neg), nil
}

// MustInt parses a base-10 string and panics on failure.
func MustInt(s string) Int {
	v, err := IntFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Sign returns -1, 0 or +1.
func (x Int) Sign() int {
	switch {
	case x.mag.IsZero():
		return 0
	case x.neg:
		return -1
	default:
		return 1
	}
}

func (x Int) IsZero() bool     { return x.mag.IsZero() }
func (x Int) IsNegative() bool { return x.neg }
func (x Int) IsPositive() bool { return !x.neg && !x.mag.IsZero() }

// Abs returns the magnitude.
func (x Int) Abs() Uint { return x.mag }

// Neg returns -x. Negation never overflows in sign-magnitude form.
func (x Int) Neg() Int { return IntFromUint(x.mag, !x.neg) }

func (x Int) Cmp(y Int) int {
	xs, ys := x.Sign(), y.Sign()
	if xs != ys {
		if xs < ys {
			return -1
		}
		return 1
	}
	c := x.mag.Cmp(y.mag)
	if xs < 0 {
		return -c
	}
	return c
}

func (x Int) Eq(y Int) bool  { return x.Cmp(y) == 0 }
func (x Int) LT(y Int) bool  { return x.Cmp(y) < 0 }
func (x Int) GT(y Int) bool  { return x.Cmp(y) > 0 }
func (x Int) LTE(y Int) bool { return x.Cmp(y) <= 0 }
func (x Int) GTE(y Int) bool { return x.Cmp(y) >= 0 }

func (x Int) BigInt() *big.Int {
	b := x.mag.BigInt()
	if x.neg {
		b.Neg(b)
	}
	return b
}

func (x Int) String() string {
	if x.neg {
		return "-" + x.mag.String()
	}
	return x.mag.String()
}

// MinInt returns the smaller of a and b.
func MinInt(a, b Int) Int {
	if a.LT(b) {
		return a
	}
	return b
}

// MaxInt returns the larger of a and b.
func MaxInt(a, b Int) Int {
	if a.GT(b) {
		return a
	}
	return b
}

func (x Int) MarshalJSON() ([]byte, error) {
	return json.Marshal(x.String())
}

func (x *Int) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	v, err := IntFromString(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// Float64 approximates x / scale. For display only.
func (x Int) Float64(scale Uint) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x.BigInt()), new(big.Float).SetInt(scale.BigInt())).Float64()
	return f
}

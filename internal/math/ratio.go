// internal/math/ratio.go
package math

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Ratio is an exact non-negative decimal fraction such as a fee rate or a
// penalty percentage. It is written as a decimal string ("0.001") in
// configuration, directives and stored records.
type Ratio struct {
	d decimal.Decimal
}

// NewRatio builds num/den. den must be a power of ten for the ratio to stay
// exact; other denominators are rounded to 18 decimal places.
func NewRatio(num, den int64) Ratio {
	return Ratio{d: decimal.New(num, 0).DivRound(decimal.New(den, 0), 18)}
}

// ParseRatio parses a decimal string.
func ParseRatio(s string) (Ratio, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Ratio{}, fmt.Errorf("parse ratio %q: %w", s, err)
	}
	if d.IsNegative() {
		return Ratio{}, fmt.Errorf("parse ratio %q: negative", s)
	}
	return Ratio{d: d}, nil
}

// MustRatio parses a decimal string and panics on failure.
func MustRatio(s string) Ratio {
	r, err := ParseRatio(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Parts returns the ratio as numerator and denominator, with the
// denominator a power of ten.
func (r Ratio) Parts() (num, den Uint) {
	coef := r.d.Coefficient()
	exp := r.d.Exponent()
	ten := big.NewInt(10)
	if exp >= 0 {
		coef.Mul(coef, new(big.Int).Exp(ten, big.NewInt(int64(exp)), nil))
		n, _ := UintFromBig(coef)
		return n, NewUint(1)
	}
	d := new(big.Int).Exp(ten, big.NewInt(int64(-exp)), nil)
	n, _ := UintFromBig(coef)
	dd, _ := UintFromBig(d)
	return n, dd
}

func (r Ratio) IsZero() bool { return r.d.IsZero() }

// GT reports whether r > o.
func (r Ratio) GT(o Ratio) bool { return r.d.GreaterThan(o.d) }

func (r Ratio) Add(o Ratio) Ratio { return Ratio{d: r.d.Add(o.d)} }

func (r Ratio) Decimal() decimal.Decimal { return r.d }

func (r Ratio) String() string { return r.d.String() }

func (r Ratio) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.d.String())
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}
	v, err := ParseRatio(s)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// MarshalText lets Ratio appear in YAML configuration as a plain string.
func (r Ratio) MarshalText() ([]byte, error) { return []byte(r.d.String()), nil }

func (r *Ratio) UnmarshalText(text []byte) error {
	v, err := ParseRatio(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// MulRatio returns x * r, rounded down.
func (c *Calc) MulRatio(x Uint, r Ratio) Uint {
	num, den := r.Parts()
	return c.Div(c.Mul(x, num), den)
}

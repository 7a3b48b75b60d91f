// internal/math/uint.go
package math

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Uint is an unsigned fixed-point amount. The zero value is 0.
// Values are immutable: every operation returns a new Uint.
type Uint struct {
	u uint256.Int
}

// MaxUint256 is the largest representable Uint.
var MaxUint256 = Uint{u: *new(uint256.Int).SetAllOne()}

// NewUint creates a Uint from a uint64.
func NewUint(v uint64) Uint {
	return Uint{u: *uint256.NewInt(v)}
}

// UintFromString parses a base-10 string.
func UintFromString(s string) (Uint, error) {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return Uint{}, fmt.Errorf("parse uint %q: %w", s, err)
	}
	return Uint{u: *u}, nil
}

// MustUint parses a base-10 string and panics on failure. Intended for
// constants and tests.
func MustUint(s string) Uint {
	u, err := UintFromString(s)
	if err != nil {
		panic(err)
	}
	return u
}

// UintFromBig converts a non-negative big.Int. Returns false on overflow
// or a negative input.
func UintFromBig(b *big.Int) (Uint, bool) {
	if b.Sign() < 0 {
		return Uint{}, false
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return Uint{}, false
	}
	return Uint{u: *u}, true
}

func (x Uint) BigInt() *big.Int { return x.u.ToBig() }

func (x Uint) IsZero() bool { return x.u.IsZero() }

func (x Uint) IsUint64() bool { return x.u.IsUint64() }

// Uint64 returns the low 64 bits. Callers check IsUint64 first when the
// value may be larger.
func (x Uint) Uint64() uint64 { return x.u.Uint64() }

func (x Uint) Cmp(y Uint) int { return x.u.Cmp(&y.u) }

func (x Uint) Eq(y Uint) bool  { return x.u.Eq(&y.u) }
func (x Uint) LT(y Uint) bool  { return x.u.Lt(&y.u) }
func (x Uint) GT(y Uint) bool  { return x.u.Gt(&y.u) }
func (x Uint) LTE(y Uint) bool { return !x.u.Gt(&y.u) }
func (x Uint) GTE(y Uint) bool { return !x.u.Lt(&y.u) }

func (x Uint) String() string { return x.u.Dec() }

// MinUint returns the smaller of a and b.
func MinUint(a, b Uint) Uint {
	if a.LT(b) {
		return a
	}
	return b
}

// MaxUint returns the larger of a and b.
func MaxUint(a, b Uint) Uint {
	if a.GT(b) {
		return a
	}
	return b
}

// Sqrt returns floor(sqrt(x)).
func Sqrt(x Uint) Uint {
	var z uint256.Int
	z.Sqrt(&x.u)
	return Uint{u: z}
}

// MarshalJSON encodes the value as a decimal string so that amounts wider
// than 53 bits survive JavaScript consumers.
func (x Uint) MarshalJSON() ([]byte, error) {
	return json.Marshal(x.u.Dec())
}

func (x *Uint) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare JSON numbers as well.
		s = string(data)
	}
	v, err := UintFromString(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// Float64 approximates x / scale. For display only.
func (x Uint) Float64(scale Uint) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x.BigInt()), new(big.Float).SetInt(scale.BigInt())).Float64()
	return f
}

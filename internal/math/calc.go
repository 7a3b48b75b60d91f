// internal/math/calc.go
package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrArithmetic is matched by every checked-arithmetic failure.
var ErrArithmetic = errors.New("arithmetic error")

// ArithmeticError carries the operation that failed.
type ArithmeticError struct {
	Op     string
	Reason string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %s: %s", e.Op, e.Reason)
}

func (e *ArithmeticError) Is(target error) bool {
	return target == ErrArithmetic
}

// Calc performs checked arithmetic with a sticky error. After the first
// failure every further operation returns zero and Err reports the first
// failure, so a formula can be written as a single expression and checked
// once at the end.
type Calc struct {
	op  string
	err error
}

// NewCalc returns a Calc tagged with op for error reporting.
func NewCalc(op string) *Calc {
	return &Calc{op: op}
}

// Err returns the first failure, or nil.
func (c *Calc) Err() error { return c.err }

// Failed reports whether an operation has already failed.
func (c *Calc) Failed() bool { return c.err != nil }

// Fail records a failure with a custom reason.
func (c *Calc) Fail(reason string) {
	if c.err == nil {
		c.err = &ArithmeticError{Op: c.op, Reason: reason}
	}
}

func (c *Calc) Add(x, y Uint) Uint {
	if c.err != nil {
		return Uint{}
	}
	var z uint256.Int
	if _, overflow := z.AddOverflow(&x.u, &y.u); overflow {
		c.Fail("add overflow")
		return Uint{}
	}
	return Uint{u: z}
}

func (c *Calc) Sub(x, y Uint) Uint {
	if c.err != nil {
		return Uint{}
	}
	var z uint256.Int
	if _, underflow := z.SubOverflow(&x.u, &y.u); underflow {
		c.Fail("sub underflow")
		return Uint{}
	}
	return Uint{u: z}
}

func (c *Calc) Mul(x, y Uint) Uint {
	if c.err != nil {
		return Uint{}
	}
	var z uint256.Int
	if _, overflow := z.MulOverflow(&x.u, &y.u); overflow {
		c.Fail("mul overflow")
		return Uint{}
	}
	return Uint{u: z}
}

func (c *Calc) Div(x, y Uint) Uint {
	if c.err != nil {
		return Uint{}
	}
	if y.IsZero() {
		c.Fail("division by zero")
		return Uint{}
	}
	var z uint256.Int
	z.Div(&x.u, &y.u)
	return Uint{u: z}
}

// MulDiv returns x*y/z.
func (c *Calc) MulDiv(x, y, z Uint) Uint {
	return c.Div(c.Mul(x, y), z)
}

// ToInt converts an unsigned value into a signed one.
func (c *Calc) ToInt(x Uint) Int {
	if c.err != nil {
		return Int{}
	}
	if x.u.BitLen() > 255 {
		c.Fail("int conversion overflow")
		return Int{}
	}
	return Int{mag: x}
}

// ToUint converts a signed value into an unsigned one. Negative values fail.
func (c *Calc) ToUint(x Int) Uint {
	if c.err != nil {
		return Uint{}
	}
	if x.neg {
		c.Fail("uint conversion of negative value")
		return Uint{}
	}
	return x.mag
}

func (c *Calc) bound(mag Uint, neg bool) Int {
	if mag.u.BitLen() > 255 {
		c.Fail("int overflow")
		return Int{}
	}
	return IntFromUint(mag, neg)
}

func (c *Calc) IAdd(x, y Int) Int {
	if c.err != nil {
		return Int{}
	}
	if x.neg == y.neg {
		return c.bound(c.Add(x.mag, y.mag), x.neg)
	}
	if x.mag.GTE(y.mag) {
		return IntFromUint(c.Sub(x.mag, y.mag), x.neg)
	}
	return IntFromUint(c.Sub(y.mag, x.mag), y.neg)
}

func (c *Calc) ISub(x, y Int) Int {
	return c.IAdd(x, y.Neg())
}

func (c *Calc) IMul(x, y Int) Int {
	if c.err != nil {
		return Int{}
	}
	return c.bound(c.Mul(x.mag, y.mag), x.neg != y.neg)
}

// IDiv truncates toward zero.
func (c *Calc) IDiv(x, y Int) Int {
	if c.err != nil {
		return Int{}
	}
	return IntFromUint(c.Div(x.mag, y.mag), x.neg != y.neg)
}

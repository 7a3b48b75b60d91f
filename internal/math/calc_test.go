package math_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fpmath "PerpVAMM/internal/math"
)

func TestCalcStickyError(t *testing.T) {
	c := fpmath.NewCalc("test_op")
	v := c.Div(fpmath.NewUint(10), fpmath.NewUint(0))
	assert.True(t, v.IsZero())

	// subsequent operations are no-ops
	v = c.Add(fpmath.NewUint(1), fpmath.NewUint(2))
	assert.True(t, v.IsZero())

	err := c.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fpmath.ErrArithmetic))

	var arith *fpmath.ArithmeticError
	require.True(t, errors.As(err, &arith))
	assert.Equal(t, "test_op", arith.Op)
	assert.Equal(t, "division by zero", arith.Reason)
}

func TestCalcUnderflow(t *testing.T) {
	c := fpmath.NewCalc("sub")
	c.Sub(fpmath.NewUint(1), fpmath.NewUint(2))
	assert.ErrorIs(t, c.Err(), fpmath.ErrArithmetic)
}

func TestCalcMulOverflow(t *testing.T) {
	c := fpmath.NewCalc("mul")
	big := fpmath.MustUint("100000000000000000000000000000000000000000") // 1e41
	c.Mul(big, big)
	assert.ErrorIs(t, c.Err(), fpmath.ErrArithmetic)
}

func TestSignedArithmetic(t *testing.T) {
	c := fpmath.NewCalc("signed")

	assert.Equal(t, "-3", c.IAdd(fpmath.NewInt(2), fpmath.NewInt(-5)).String())
	assert.Equal(t, "7", c.ISub(fpmath.NewInt(2), fpmath.NewInt(-5)).String())
	assert.Equal(t, "-10", c.IMul(fpmath.NewInt(2), fpmath.NewInt(-5)).String())
	assert.Equal(t, "10", c.IMul(fpmath.NewInt(-2), fpmath.NewInt(-5)).String())

	// truncation toward zero
	assert.Equal(t, "-2", c.IDiv(fpmath.NewInt(-7), fpmath.NewInt(3)).String())
	assert.Equal(t, "2", c.IDiv(fpmath.NewInt(-7), fpmath.NewInt(-3)).String())
	assert.Equal(t, "0", c.IDiv(fpmath.NewInt(-2), fpmath.NewInt(3)).String())

	require.NoError(t, c.Err())
}

func TestIntZeroIsNeverNegative(t *testing.T) {
	c := fpmath.NewCalc("zero")
	z := c.IAdd(fpmath.NewInt(-5), fpmath.NewInt(5))
	assert.Equal(t, 0, z.Sign())
	assert.False(t, z.IsNegative())
	assert.Equal(t, "0", z.String())
	assert.True(t, z.Eq(fpmath.NewInt(0)))
}

func TestToUintRejectsNegative(t *testing.T) {
	c := fpmath.NewCalc("to_uint")
	c.ToUint(fpmath.NewInt(-1))
	assert.ErrorIs(t, c.Err(), fpmath.ErrArithmetic)
}

func TestIntCompare(t *testing.T) {
	assert.True(t, fpmath.NewInt(-10).LT(fpmath.NewInt(-1)))
	assert.True(t, fpmath.NewInt(-1).LT(fpmath.NewInt(0)))
	assert.True(t, fpmath.NewInt(3).GT(fpmath.NewInt(-30)))
	assert.Equal(t, "-10", fpmath.MinInt(fpmath.NewInt(-10), fpmath.NewInt(2)).String())
	assert.Equal(t, "2", fpmath.MaxInt(fpmath.NewInt(-10), fpmath.NewInt(2)).String())
}

func TestSqrt(t *testing.T) {
	assert.Equal(t, "5000000000000000000", fpmath.Sqrt(fpmath.MustUint("25000000000000000000000000000000000000")).String())
	assert.Equal(t, "3", fpmath.Sqrt(fpmath.NewUint(15)).String())
}

func TestRatioMul(t *testing.T) {
	c := fpmath.NewCalc("ratio")
	fee := c.MulRatio(fpmath.NewUint(49_750_000), fpmath.MustRatio("0.001"))
	require.NoError(t, c.Err())
	assert.Equal(t, "49750", fee.String())

	half := c.MulRatio(fpmath.NewUint(101), fpmath.NewRatio(1, 2))
	assert.Equal(t, "50", half.String())
	assert.Equal(t, "0.5", fpmath.NewRatio(1, 2).String())

	_, err := fpmath.ParseRatio("-0.1")
	assert.Error(t, err)
}

func TestJSONEncodesDecimalStrings(t *testing.T) {
	type record struct {
		U fpmath.Uint  `json:"u"`
		I fpmath.Int   `json:"i"`
		R fpmath.Ratio `json:"r"`
	}
	in := record{
		U: fpmath.MustUint("340282366920938463463374607431768211455"),
		I: fpmath.MustInt("-12345678901234567890"),
		R: fpmath.MustRatio("0.05"),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"u":"340282366920938463463374607431768211455","i":"-12345678901234567890","r":"0.05"}`, string(data))

	var out record
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.U.Eq(out.U))
	assert.True(t, in.I.Eq(out.I))
	assert.Equal(t, in.R.String(), out.R.String())
}

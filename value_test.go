package formulaengine_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	fe "github.com/vogtb/formulaengine"
)

func TestAddSubMulBasic(t *testing.T) {
	sum, err := fe.Add(fe.NumberValue(2), fe.NumberValue(3))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(5), sum)

	diff, err := fe.Sub(fe.NumberValue(5), fe.NumberValue(8))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(-3), diff)

	prod, err := fe.Mul(fe.NumberValue(4), fe.NumberValue(2.5))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(10), prod)
}

func TestArithRejectsNonNumeric(t *testing.T) {
	_, err := fe.Add(fe.StringValue("x"), fe.NumberValue(1))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindValue, err.Kind)

	_, err = fe.Add(fe.NumberValue(1), fe.BooleanValue(true))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindValue, err.Kind)
}

func TestDivByNonzero(t *testing.T) {
	v, err := fe.Div(fe.NumberValue(10), fe.NumberValue(4))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(2.5), v)
}

func TestDivZeroByZeroIsDiv0Error(t *testing.T) {
	_, err := fe.Div(fe.NumberValue(0), fe.NumberValue(0))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindDiv0, err.Kind)
}

func TestDivNonzeroByZeroIsSignedInfinity(t *testing.T) {
	pos, err := fe.Div(fe.NumberValue(5), fe.NumberValue(0))
	assert.Nil(t, err)
	assert.Equal(t, fe.ValueInfinity, pos.Kind)
	assert.Equal(t, int8(1), pos.Sign)

	neg, err := fe.Div(fe.NumberValue(-5), fe.NumberValue(0))
	assert.Nil(t, err)
	assert.Equal(t, fe.ValueInfinity, neg.Kind)
	assert.Equal(t, int8(-1), neg.Sign)
}

func TestArithOverflowProducesSignedInfinity(t *testing.T) {
	v, err := fe.Mul(fe.NumberValue(math.MaxFloat64), fe.NumberValue(math.MaxFloat64))
	assert.Nil(t, err)
	assert.Equal(t, fe.ValueInfinity, v.Kind)
	assert.Equal(t, int8(1), v.Sign)
}

func TestArithIndeterminateIsNumError(t *testing.T) {
	posInf := fe.InfinityValue(1)
	negInf := fe.InfinityValue(-1)
	_, err := fe.Add(posInf, negInf)
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindNum, err.Kind)
}

func TestPowZeroToZeroIsOne(t *testing.T) {
	v, err := fe.Pow(fe.NumberValue(0), fe.NumberValue(0))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(1), v)
}

func TestPowZeroToNegativeIsPositiveInfinity(t *testing.T) {
	v, err := fe.Pow(fe.NumberValue(0), fe.NumberValue(-2))
	assert.Nil(t, err)
	assert.Equal(t, fe.ValueInfinity, v.Kind)
	assert.Equal(t, int8(1), v.Sign)
}

func TestPowNegativeBaseNonIntegerExponentIsNumError(t *testing.T) {
	_, err := fe.Pow(fe.NumberValue(-4), fe.NumberValue(0.5))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindNum, err.Kind)
}

func TestPowNegativeBaseIntegerExponentIsFine(t *testing.T) {
	v, err := fe.Pow(fe.NumberValue(-2), fe.NumberValue(3))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(-8), v)
}

func TestPowInfinityToInfinityIsPositiveInfinity(t *testing.T) {
	v, err := fe.Pow(fe.InfinityValue(1), fe.InfinityValue(1))
	assert.Nil(t, err)
	assert.Equal(t, fe.ValueInfinity, v.Kind)
	assert.Equal(t, int8(1), v.Sign)
}

func TestPowBaseGreaterThanOneToInfiniteExponent(t *testing.T) {
	v, err := fe.Pow(fe.NumberValue(2), fe.InfinityValue(1))
	assert.Nil(t, err)
	assert.Equal(t, fe.ValueInfinity, v.Kind)

	v2, err := fe.Pow(fe.NumberValue(2), fe.InfinityValue(-1))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(0), v2)
}

func TestPowFractionalBaseToInfiniteExponent(t *testing.T) {
	v, err := fe.Pow(fe.NumberValue(0.5), fe.InfinityValue(1))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(0), v)

	v2, err := fe.Pow(fe.NumberValue(0.5), fe.InfinityValue(-1))
	assert.Nil(t, err)
	assert.Equal(t, fe.ValueInfinity, v2.Kind)
}

func TestPowAbsOneToInfiniteExponentIsOne(t *testing.T) {
	v, err := fe.Pow(fe.NumberValue(-1), fe.InfinityValue(1))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(1), v)
}

func TestEqualsStrictByTag(t *testing.T) {
	assert.True(t, fe.Equals(fe.NumberValue(1), fe.NumberValue(1)).Bool)
	assert.False(t, fe.Equals(fe.NumberValue(1), fe.StringValue("1")).Bool)
	assert.False(t, fe.Equals(fe.BooleanValue(true), fe.NumberValue(1)).Bool)
	assert.True(t, fe.Equals(fe.InfinityValue(1), fe.InfinityValue(1)).Bool)
	assert.False(t, fe.Equals(fe.InfinityValue(1), fe.InfinityValue(-1)).Bool)
}

func TestNotEquals(t *testing.T) {
	assert.True(t, fe.NotEquals(fe.NumberValue(1), fe.StringValue("1")).Bool)
	assert.False(t, fe.NotEquals(fe.NumberValue(1), fe.NumberValue(1)).Bool)
}

func TestCompareNumericOnly(t *testing.T) {
	c, err := fe.Compare(fe.NumberValue(1), fe.NumberValue(2))
	assert.Nil(t, err)
	assert.Equal(t, -1, c)

	_, err = fe.Compare(fe.StringValue("a"), fe.StringValue("b"))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindValue, err.Kind)
}

func TestConcatNumberAndStringOnly(t *testing.T) {
	v, err := fe.Concat(fe.StringValue("ab"), fe.NumberValue(3))
	assert.Nil(t, err)
	assert.Equal(t, "ab3", v.Str)

	_, err = fe.Concat(fe.StringValue("ab"), fe.BooleanValue(true))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindValue, err.Kind)

	_, err = fe.Concat(fe.StringValue("ab"), fe.InfinityValue(1))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindValue, err.Kind)
}

func TestPercent(t *testing.T) {
	v, err := fe.Percent(fe.NumberValue(50))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(0.5), v)

	_, err = fe.Percent(fe.InfinityValue(1))
	assert.NotNil(t, err)
	assert.Equal(t, fe.ErrKindNum, err.Kind)
}

func TestNegate(t *testing.T) {
	v, err := fe.Negate(fe.NumberValue(5))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(-5), v)

	v, err = fe.Negate(fe.InfinityValue(1))
	assert.Nil(t, err)
	assert.Equal(t, int8(-1), v.Sign)

	_, err = fe.Negate(fe.StringValue("x"))
	assert.NotNil(t, err)
}

func TestPlus(t *testing.T) {
	v, err := fe.Plus(fe.NumberValue(5))
	assert.Nil(t, err)
	assert.Equal(t, fe.NumberValue(5), v)

	_, err = fe.Plus(fe.BooleanValue(true))
	assert.NotNil(t, err)
}

func TestErrKindStringsAreSpreadsheetTokens(t *testing.T) {
	assert.Equal(t, "#DIV/0!", fe.ErrKindDiv0.String())
	assert.Equal(t, "#SPILL!", fe.ErrKindSpill.String())
	assert.Equal(t, "#CYCLE!", fe.ErrKindCycle.String())
}

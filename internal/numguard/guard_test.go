package numguard

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToScalar(t *testing.T) {
	v, err := ToScalar([]float64{3.5})
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestToScalar_Empty(t *testing.T) {
	_, err := ToScalar(nil)
	require.Error(t, err)

	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 0, shapeErr.Got)
}

func TestToScalar_MultiElement(t *testing.T) {
	_, err := ToScalar([]float64{1, 2, 3})

	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, 3, shapeErr.Got)
}

func TestSafeCompare_NaNIsFalse(t *testing.T) {
	values := []float64{1.0, math.NaN(), 3.0}

	result := SafeCompare(values, 2.0, OpGreater)

	require.Len(t, result, 3)
	assert.False(t, result[0])
	assert.False(t, result[1]) // NaN never compares true
	assert.True(t, result[2])
}

func TestSafeCompare_Operators(t *testing.T) {
	values := []float64{1.0, 2.0, 3.0}

	assert.Equal(t, []bool{false, true, true}, SafeCompare(values, 2.0, OpGreaterOrEqual))
	assert.Equal(t, []bool{true, false, false}, SafeCompare(values, 2.0, OpLess))
	assert.Equal(t, []bool{true, true, false}, SafeCompare(values, 2.0, OpLessOrEqual))
	assert.Equal(t, []bool{false, true, false}, SafeCompare(values, 2.0, OpEqual))
}

func TestSafeToBool_SingleElement(t *testing.T) {
	v, err := SafeToBool([]bool{true}, ReduceNone)
	require.NoError(t, err)
	assert.True(t, v)
}

func TestSafeToBool_AmbiguousWithoutReduction(t *testing.T) {
	_, err := SafeToBool([]bool{true, false}, ReduceNone)

	var ambErr *AmbiguousTruthError
	require.ErrorAs(t, err, &ambErr)
	assert.Equal(t, 2, ambErr.Len)
}

func TestSafeToBool_Reductions(t *testing.T) {
	values := []bool{true, false, true}

	anyResult, err := SafeToBool(values, ReduceAny)
	require.NoError(t, err)
	assert.True(t, anyResult)

	allResult, err := SafeToBool(values, ReduceAll)
	require.NoError(t, err)
	assert.False(t, allResult)
}

func TestGuard_SubstitutesNonFinite(t *testing.T) {
	g := NewGuard(-0.45, zerolog.Nop())

	v := g.Call("nan", func() float64 { return math.NaN() })
	assert.Equal(t, -0.45, v)

	v = g.Call("overflow", func() float64 { return math.Inf(1) })
	assert.Equal(t, -0.45, v)
}

func TestGuard_PassesFiniteThrough(t *testing.T) {
	g := NewGuard(-0.45, zerolog.Nop())

	v := g.Call("noop", func() float64 { return 0.07 })
	assert.Equal(t, 0.07, v)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite(1.5))
	assert.False(t, IsFinite(math.NaN()))
	assert.False(t, IsFinite(math.Inf(-1)))
}

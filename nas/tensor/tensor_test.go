package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromData_ShapeMismatch_Panics(t *testing.T) {
	assert.Panics(t, func() { FromData(1, 1, 2, 2, []float64{1, 2, 3}) })
}

func TestTensor_IndexLayout(t *testing.T) {
	x := New(2, 3, 4, 5)
	x.Set(1, 2, 3, 4, 9)
	assert.Equal(t, 9.0, x.Data[len(x.Data)-1])
	assert.Equal(t, 9.0, x.Plane(1, 2)[3*5+4])
	assert.Len(t, x.Sample(1), 3*4*5)
}

func TestDetach_CopiesAndFlags(t *testing.T) {
	// GIVEN a live tensor
	x := FromData(1, 1, 1, 2, []float64{1, 2})

	// WHEN detached
	d := x.Detach()

	// THEN the copy is flagged and independent of the source
	assert.True(t, d.Detached())
	assert.False(t, x.Detached())
	x.Data[0] = 100
	assert.Equal(t, 1.0, d.Data[0])
}

func TestFeatures_Detach_AllLevels(t *testing.T) {
	f := Features{New(1, 1, 2, 2), New(1, 1, 1, 1)}
	d := f.Detach()
	require.Len(t, d, 2)
	for i := range d {
		assert.True(t, d[i].Detached(), "level %d", i)
		assert.NotSame(t, f[i], d[i])
	}
}

func TestResizeBilinear_SameSize_ReturnsInput(t *testing.T) {
	x := New(1, 3, 8, 8)
	assert.Same(t, x, ResizeBilinear(x, 8, 8))
}

func TestResizeBilinear_ConstantPlaneStaysConstant(t *testing.T) {
	x := New(1, 1, 4, 6)
	for i := range x.Data {
		x.Data[i] = 3.5
	}
	y := ResizeBilinear(x, 7, 3)
	assert.Equal(t, [4]int{1, 1, 7, 3}, y.Shape())
	for _, v := range y.Data {
		assert.InDelta(t, 3.5, v, 1e-12)
	}
}

func TestResizeBilinear_UpsampleMatchesHalfPixelCentres(t *testing.T) {
	// GIVEN a 1x2 row [0, 1]
	x := FromData(1, 1, 1, 2, []float64{0, 1})

	// WHEN upsampled to width 4
	y := ResizeBilinear(x, 1, 4)

	// THEN values follow align_corners=false: src = (i+0.5)*0.5-0.5
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.75, 1}, y.Data, 1e-12)
}

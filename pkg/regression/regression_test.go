package regression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOLS_RecoversExactLine(t *testing.T) {
	// y = 2x + 1, noiseless.
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{3, 5, 7, 9, 11}
	l := OLS(x, y)
	assert.InDelta(t, 2.0, l.Slope, 1e-9)
	assert.InDelta(t, 1.0, l.Intercept, 1e-9)
	assert.InDelta(t, 0.0, l.Err, 1e-9)
}

func TestFoldline_RecoversExactKneeAtNaturalCrossing(t *testing.T) {
	// Two segments: slope 2 up to x=3, slope 0.5 after, meeting at x=3, so
	// the constrained Cramer's-rule fit with its knee forced to xc=3 must
	// nail both segments exactly (noiseless data).
	x1 := []float64{1, 2, 3}
	y1 := []float64{2, 4, 6}
	x2 := []float64{4, 5, 6}
	y2 := []float64{6.5, 7, 7.5}

	fl := Foldline(3, x1, y1, x2, y2)
	require.False(t, fl.Degenerate)
	assert.InDelta(t, 2.0, fl.Line1.Slope, 1e-6)
	assert.InDelta(t, 0.0, fl.Line1.Intercept, 1e-6)
	assert.InDelta(t, 0.5, fl.Line2.Slope, 1e-6)
	assert.InDelta(t, 6, fl.Line1.Slope*3+fl.Line1.Intercept, 1e-6)
	// Line2 must also pass through the same fold point at x==3.
	assert.InDelta(t, fl.Line1.Slope*3+fl.Line1.Intercept, fl.Line2.Slope*3+fl.Line2.Intercept, 1e-6)
}

func TestFit_SingleLineWinsOnMonotoneData(t *testing.T) {
	freqs := []int{1000, 1100, 1200, 1300}
	samples := [][]float64{
		{40, 41},
		{50, 51},
		{60, 61},
		{70, 71},
	}
	m := Fit(freqs, samples, 1e9)
	assert.False(t, m.Skip)
	assert.Equal(t, 0, m.Turn)
	assert.Greater(t, m.Single.Slope, 0.0)
}

func TestFit_FoldLineWinsOnSaturatingData(t *testing.T) {
	freqs := []int{1000, 1100, 1200, 1300}
	samples := [][]float64{
		{20, 20},
		{40, 40},
		{60, 60},
		{61, 61}, // saturates hard after the third probe point
	}
	m := Fit(freqs, samples, 1e9)
	assert.False(t, m.Skip)
	assert.Equal(t, 2, m.Turn)
	assert.Greater(t, m.Fold.Line1.Slope, m.Fold.Line2.Slope)
}

func TestFit_DiscardsModelWhenErrorExceedsThreshold(t *testing.T) {
	freqs := []int{1000, 1100, 1200, 1300}
	samples := [][]float64{
		{10, 90},
		{90, 10},
		{10, 90},
		{90, 10},
	}
	m := Fit(freqs, samples, 0.001)
	assert.True(t, m.Skip)
}

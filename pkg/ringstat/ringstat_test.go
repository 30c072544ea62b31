package ringstat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_WarmupIsZeroFilled(t *testing.T) {
	w := NewWindow(4)
	assert.Equal(t, 0.0, w.Mean())
	assert.Equal(t, 0.0, w.Std())
}

func TestWindow_MeanMatchesArithmeticMean(t *testing.T) {
	w := NewWindow(4)
	samples := []uint{10, 20, 30, 40}
	for i, s := range samples {
		w.Update(i, s)
	}
	require.InDelta(t, 25.0, w.Mean(), 1e-9)
}

func TestWindow_SlidesOverCursor(t *testing.T) {
	w := NewWindow(3)
	seq := []uint{6, 9, 12, 3, 3, 3}
	idx := 0
	for _, s := range seq {
		w.Update(idx, s)
		idx = (idx + 1) % 3
	}
	// last 3 samples are 3, 3, 3
	assert.InDelta(t, 3.0, w.Mean(), 1e-9)
	assert.InDelta(t, 0.0, w.Std(), 1e-9)
}

func TestWindow_StdNeverNegative(t *testing.T) {
	w := NewWindow(2)
	w.Update(0, 50)
	w.Update(1, 50)
	assert.GreaterOrEqual(t, w.Std(), 0.0)
	assert.InDelta(t, 0.0, w.Std(), 1e-9)
}

func TestWindow_KnownVariance(t *testing.T) {
	// samples 2,4,4,4,5,5,7,9 -> mean 5, population stddev 2
	w := NewWindow(8)
	samples := []uint{2, 4, 4, 4, 5, 5, 7, 9}
	for i, s := range samples {
		w.Update(i, s)
	}
	require.InDelta(t, 5.0, w.Mean(), 1e-9)
	require.InDelta(t, 2.0, w.Std(), 1e-9)
}

package controller

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geepafs/assure/pkg/config"
	"github.com/geepafs/assure/pkg/deviceapi"
	"github.com/geepafs/assure/pkg/profile"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestShutdownSink_IsIdempotent(t *testing.T) {
	mock := deviceapi.NewMock([][]deviceapi.Tick{{{GPUUtilPct: 0}}})
	c := newTestControllerOneDevice(t, mock)

	c.shutdownSink()
	c.shutdownSink()

	assert.Equal(t, 1, mock.ShutdownCalls())
}

func newTestControllerOneDevice(t *testing.T, mock *deviceapi.Mock) *Controller {
	t.Helper()
	prof, err := profile.Lookup(profile.V100_300W)
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.Machine = profile.V100_300W
	cfg.Policy = config.PolicyAssure
	return New(mock, prof, cfg, 1, discardLogger(), nil)
}

func TestDecideFreq_IdleGateNeverStartsABurstAndSkipsActuation(t *testing.T) {
	mock := deviceapi.NewMock([][]deviceapi.Tick{{{GPUUtilPct: 0, MemUtilPct: 0, SMFreqMHz: 952, PowerMW: 100000}}})
	c := newTestControllerOneDevice(t, mock)

	// Drain the initial (startup) probe burst deterministically, then force
	// the idle gate by advancing with zero utilization for long enough that
	// the gate re-evaluates and finds sumUtilMean < 1.
	ticks := c.Scheduler.KR() + 2 + int(c.Cfg.ProbeInterval/c.Cfg.LoopPeriod)
	var apply bool
	for i := 0; i < ticks; i++ {
		sample, err := mock.SampleDevice(0)
		require.NoError(t, err)
		_, apply = c.decideFreq(0, c.Devices[0], sample, false, 0)
		c.Scheduler.Advance(1000, uint64(c.Cfg.LoopPeriod.Microseconds()), uint64(c.Cfg.ProbeInterval.Microseconds()), 0)
	}

	assert.False(t, apply)
	assert.LessOrEqual(t, c.Scheduler.Counter, -1)
}

func TestDecideFreq_BaselineMaxFreqAppliesOnlyOnFirstTick(t *testing.T) {
	mock := deviceapi.NewMock([][]deviceapi.Tick{{{GPUUtilPct: 50, MemUtilPct: 10, SMFreqMHz: 1200, PowerMW: 150000}}})
	c := newTestControllerOneDevice(t, mock)
	c.Cfg.Policy = config.PolicyMaxFreq

	sample, err := mock.SampleDevice(0)
	require.NoError(t, err)

	freq, apply := c.decideFreq(0, c.Devices[0], sample, true, 0)
	assert.Equal(t, c.Profile.FMax, freq)
	assert.True(t, apply)

	_, apply2 := c.decideFreq(0, c.Devices[0], sample, false, 0)
	assert.False(t, apply2)
}

func TestDecideFreq_UtilizScaleLocksFrequencyAfterCycleTwo(t *testing.T) {
	mock := deviceapi.NewMock([][]deviceapi.Tick{{{GPUUtilPct: 40, MemUtilPct: 10, SMFreqMHz: 1200, PowerMW: 150000}}})
	c := newTestControllerOneDevice(t, mock)
	c.Cfg.Policy = config.PolicyUtilizScale

	sample, err := mock.SampleDevice(0)
	require.NoError(t, err)

	// Cycle 1: probe at max frequency.
	freq1, apply1 := c.decideFreq(0, c.Devices[0], sample, true, 1)
	assert.Equal(t, c.Profile.FMax, freq1)
	assert.True(t, apply1)

	// Cycle 2: compute and lock the util-proportional frequency once.
	freq2, apply2 := c.decideFreq(0, c.Devices[0], sample, false, 2)
	assert.True(t, apply2)
	assert.Equal(t, freq2, c.Devices[0].OperatingFreq)

	// Cycle 3 and beyond: reuse the locked frequency, never actuate again,
	// even if the live utilization sample changes.
	hotSample := sample
	hotSample.GPUUtilPct = 95
	freq3, apply3 := c.decideFreq(0, c.Devices[0], hotSample, false, 3)
	assert.Equal(t, freq2, freq3)
	assert.False(t, apply3)

	freq4, apply4 := c.decideFreq(0, c.Devices[0], hotSample, false, 3)
	assert.Equal(t, freq2, freq4)
	assert.False(t, apply4)
}

func TestDecideFreq_RestrictActuationToSkipsOtherDevices(t *testing.T) {
	mock := deviceapi.NewMock([][]deviceapi.Tick{
		{{GPUUtilPct: 50, MemUtilPct: 10, SMFreqMHz: 1200, PowerMW: 150000}},
		{{GPUUtilPct: 50, MemUtilPct: 10, SMFreqMHz: 1200, PowerMW: 150000}},
	})
	prof, err := profile.Lookup(profile.V100_300W)
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.Machine = profile.V100_300W
	cfg.Policy = config.PolicyMaxFreq
	only := 0
	cfg.RestrictActuationTo = &only
	c := New(mock, prof, cfg, 2, discardLogger(), nil)

	sample, err := mock.SampleDevice(1)
	require.NoError(t, err)
	_, apply := c.decideFreq(1, c.Devices[1], sample, true, 0)
	assert.False(t, apply)
}

func TestDecideFreq_MeasureOverheadOnlyNeverApplies(t *testing.T) {
	mock := deviceapi.NewMock([][]deviceapi.Tick{{{GPUUtilPct: 99, MemUtilPct: 5, SMFreqMHz: 1500, PowerMW: 200000}}})
	c := newTestControllerOneDevice(t, mock)
	c.Cfg.MeasureOverheadOnly = true

	sample, err := mock.SampleDevice(0)
	require.NoError(t, err)
	_, apply := c.decideFreq(0, c.Devices[0], sample, true, 0)
	assert.False(t, apply)
}

// Package arbiter turns one device's regression model (or the memory-util
// fallback) into the single frequency the controller actually commands,
// composing the performance-assured bound, the power-efficient bound, the
// per-tick utilization cap, and the device's settable range (§4.6).
package arbiter

import (
	"github.com/geepafs/assure/pkg/numeric"
	"github.com/geepafs/assure/pkg/regression"
)

// UpdateCap computes this tick's instantaneous frequency cap from the
// currently measured SM frequency and GPU utilization percentage, then
// folds it into the running per-burst cap: the first recording tick of a
// burst (first=true) resets the cap outright, every later recording tick
// only raises it.
//
// max(1, util) guards the division when the GPU is observed fully idle.
func UpdateCap(prevCap float64, first bool, freqNowMHz, maxFreqMHz, gpuUtilPct, perfThres float64) float64 {
	util := gpuUtilPct
	if util < 1 {
		util = 1
	}
	thisCap := freqNowMHz / ((1-perfThres)*(freqNowMHz/maxFreqMHz+100/util-1) + freqNowMHz/maxFreqMHz)
	if first || thisCap > prevCap {
		return thisCap
	}
	return prevCap
}

// Inputs bundles everything the arbiter needs to decide one device's next
// commanded frequency.
type Inputs struct {
	Model regression.Model

	ProbeFreqs []int     // P, ascending
	AvgMemUtil []float64 // per probe freq, averaged over the r repetitions
	AvgPower   []float64 // per probe freq, averaged power in watts

	UseRegression bool // false takes the max-memutil fallback path

	PerfThres float64
	UseCap    bool
	Cap       float64

	FEffDefault int   // profile.FEff, used whenever the model can't speak to efficiency
	FMin        int   // profile.FMin, the absolute floor (minSetFreq)
	FMax        int   // profile.FMax, the absolute ceiling (maxFreq)
	Available   []int // profile.F, ascending, every settable frequency
}

// Decision is the arbiter's verdict for one device.
type Decision struct {
	FreqMHz     int
	UsedPerf    bool // true if the performance bound won over the efficiency bound
	NoMemSignal bool // true if memory-bandwidth util was zero across the whole burst
}

// Decide selects the next commanded frequency for one device.
func Decide(in Inputs) Decision {
	var freqBound, freqEff float64
	noMemSignal := false

	sumMem := 0.0
	for _, v := range in.AvgMemUtil {
		sumMem += v
	}

	switch {
	case sumMem <= 0:
		freqBound = float64(in.FMax)
		freqEff = float64(in.FEffDefault)
		noMemSignal = true
	case !in.UseRegression:
		freqBound = maxMemUtilFreq(in.ProbeFreqs, in.AvgMemUtil)
		freqEff = float64(in.FEffDefault)
	case in.Model.Skip:
		freqBound = float64(in.FMax)
		freqEff = float64(in.FEffDefault)
	default:
		modelPerf := performanceCurve(in.Model, in.ProbeFreqs)

		bestEff := numeric.SafeDiv(modelPerf[0], in.AvgPower[0])
		bestEffFreq := in.ProbeFreqs[0]
		for j := 1; j < len(in.ProbeFreqs); j++ {
			eff := numeric.SafeDiv(modelPerf[j], in.AvgPower[j])
			if eff > bestEff {
				bestEff = eff
				bestEffFreq = in.ProbeFreqs[j]
			}
		}
		freqEff = float64(bestEffFreq)
		freqBound = performanceBound(in.Model, in.PerfThres, float64(in.FMax), in.ProbeFreqs)
	}

	var freqPerf float64
	if in.UseCap && freqBound > in.Cap {
		freqPerf = in.Cap
	} else {
		freqPerf = freqBound
	}

	usedPerf := freqPerf >= freqEff
	freqOpt := freqPerf
	if freqEff > freqOpt {
		freqOpt = freqEff
	}
	freqOpt = numeric.Clamp(freqOpt, float64(in.FMin), float64(in.FMax))

	return Decision{
		FreqMHz:     snapUp(in.Available, freqOpt),
		UsedPerf:    usedPerf,
		NoMemSignal: noMemSignal,
	}
}

// maxMemUtilFreq returns the lowest probe frequency whose averaged mem
// util is within 1% of the burst-wide maximum.
func maxMemUtilFreq(freqs []int, avgMemUtil []float64) float64 {
	max := avgMemUtil[0]
	for j := 1; j < len(avgMemUtil); j++ {
		if avgMemUtil[j] > max {
			max = avgMemUtil[j]
		}
	}
	for j, v := range avgMemUtil {
		if v >= max*0.99 {
			return float64(freqs[j])
		}
	}
	return float64(freqs[len(freqs)-1])
}

// performanceCurve reproduces modelPerf[j] for every probe index.
func performanceCurve(m regression.Model, freqs []int) []float64 {
	out := make([]float64, len(freqs))
	if m.Turn == 0 {
		s, b := m.Single.Slope, m.Single.Intercept
		for j, f := range freqs {
			if s > 0 {
				out[j] = s*float64(f) + b
			} else {
				out[j] = s*float64(freqs[0]) + b
			}
		}
		return out
	}

	l1, l2 := m.Fold.Line1, m.Fold.Line2
	switch {
	case l1.Slope > 0 && l2.Slope > 0:
		for j, f := range freqs {
			if j >= m.Turn {
				out[j] = l2.Slope*float64(f) + l2.Intercept
			} else {
				out[j] = l1.Slope*float64(f) + l1.Intercept
			}
		}
	case l2.Slope <= 0 && l1.Slope > 0:
		crossPerf := (l2.Slope*l1.Intercept - l1.Slope*l2.Intercept) / (l2.Slope - l1.Slope)
		for j, f := range freqs {
			if j < m.Turn {
				out[j] = l1.Slope*float64(f) + l1.Intercept
			} else {
				out[j] = crossPerf
			}
		}
	default: // l1.Slope <= 0
		v := l1.Slope*float64(freqs[0]) + l1.Intercept
		for j := range freqs {
			out[j] = v
		}
	}
	return out
}

// performanceBound reproduces freq_perfBound: the lowest frequency at which
// modeled performance is still within perfThres of its maximum.
func performanceBound(m regression.Model, perfThres, maxFreq float64, freqs []int) float64 {
	if m.Turn == 0 {
		s, b := m.Single.Slope, m.Single.Intercept
		if s > 0 {
			return (perfThres*(s*maxFreq+b) - b) / s
		}
		return float64(freqs[0])
	}

	l1, l2 := m.Fold.Line1, m.Fold.Line2
	if l1.Slope <= 0 {
		return float64(freqs[0])
	}
	if l2.Slope > 0 {
		criticalPerf := perfThres * (l2.Slope*maxFreq + l2.Intercept)
		bound := (criticalPerf - l2.Intercept) / l2.Slope
		cross := (l1.Intercept - l2.Intercept) / (l2.Slope - l1.Slope)
		if bound <= cross {
			return (criticalPerf - l1.Intercept) / l1.Slope
		}
		return bound
	}
	// l2.Slope <= 0: performance saturates at the crossing point.
	cross := (l1.Intercept - l2.Intercept) / (l2.Slope - l1.Slope)
	criticalPerf := perfThres * (l1.Slope*cross + l1.Intercept)
	return (criticalPerf - l1.Intercept) / l1.Slope
}

// SnapUp exposes the §4.6 snap-up algorithm for callers outside the
// arbiter's own Decide path (the baseline policies share the same ladder).
func SnapUp(available []int, target float64) int {
	return snapUp(available, target)
}

// snapUp returns the smallest entry in available (ascending) that is >=
// target, falling back to the highest entry if target exceeds all of them.
func snapUp(available []int, target float64) int {
	for i := len(available) - 1; i >= 0; i-- {
		if float64(available[i]) < target {
			if i < len(available)-1 {
				return available[i+1]
			}
			return available[i]
		}
	}
	return available[0]
}

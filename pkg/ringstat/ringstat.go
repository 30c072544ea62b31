// Package ringstat maintains the per-device windowed mean and standard
// deviation of compute utilization that the probe scheduler's idle gate
// reads each tick (§4.3 of the controller spec).
//
// The window warms up with zeros; there is no special-casing for the first
// W samples, so early statistics reflect that transient. This matches the
// source program and keeps the update O(1) per sample regardless of W.
package ringstat

import "math"

// Window is a fixed-size circular buffer of utilization samples (and their
// squares) for one device, plus the running sum/sum-of-squares needed to
// derive mean and standard deviation in O(1) per update.
type Window struct {
	size int
	vals []uint
	sqs  []uint

	sum   float64
	sqsum float64
}

// NewWindow allocates a Window of the given size, initialized to all zeros.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 1
	}
	return &Window{
		size: size,
		vals: make([]uint, size),
		sqs:  make([]uint, size),
	}
}

// Update replaces the sample at oldestIdx with u, adjusting the running sum
// and sum-of-squares accordingly. oldestIdx is owned by the caller (shared
// across every device's Window in a tick, per §3's SchedulerState) so that
// every device advances the same cursor position in lockstep.
func (w *Window) Update(oldestIdx int, u uint) {
	i := oldestIdx % w.size
	w.sum += float64(u) - float64(w.vals[i])
	w.sqsum += float64(u)*float64(u) - float64(w.sqs[i])
	w.vals[i] = u
	w.sqs[i] = u * u
}

// Mean returns the arithmetic mean of the last Size() samples.
func (w *Window) Mean() float64 {
	return w.sum / float64(w.size)
}

// Std returns the standard deviation of the last Size() samples, guarding
// against a negative variance from floating-point rounding by clamping to 0.
func (w *Window) Std() float64 {
	mean := w.Mean()
	variance := w.sqsum/float64(w.size) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Size returns the configured window size W.
func (w *Window) Size() int { return w.size }

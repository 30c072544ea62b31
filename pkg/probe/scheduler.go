// Package probe implements the state machine that decides, once per tick,
// which frequency the controller commands, whether that command is worth
// actually sending to the device, and when a probe burst has finished
// collecting enough samples for the regression engine to run (§4.4).
//
// The state lives entirely in the exported Counter/AccumTimeUs fields of
// Scheduler so a controller can snapshot, log, or restart it without a
// hidden internal clock.
package probe

// OperatingFreq is the sentinel TickCommand returns in place of a concrete
// frequency when the caller should command the device's current
// operating_freq instead of a probe-pattern value.
const OperatingFreq = -1

// Scheduler drives the probe burst state machine for the whole process
// (SchedulerState in the data model is shared across every device — there
// is exactly one burst in flight at a time, and every device is probed at
// the same pattern position on the same tick).
type Scheduler struct {
	K int   // number of probe frequencies
	R int   // repetitions per probe frequency
	P []int // probe set, strictly increasing, length K

	// Counter is probe_counter, ranging over [-99, K*R].
	Counter int
	// AccumTimeUs is accum_time_us, reset each time a burst decision fires.
	AccumTimeUs uint64
}

// NewScheduler builds a Scheduler that starts in a burst on its very first
// tick (Counter == K*R), matching the source program's behavior of probing
// immediately at startup.
func NewScheduler(k, r int, p []int) *Scheduler {
	return &Scheduler{K: k, R: r, P: append([]int(nil), p...), Counter: k * r}
}

// KR returns k*r, the number of samples collected per burst.
func (s *Scheduler) KR() int { return s.K * s.R }

// TickCommand returns the frequency to command this tick (or OperatingFreq
// if the operating frequency should be used instead), whether that command
// should actually be sent to the device, and the slot (or -1) into which
// this tick's telemetry — which reflects the frequency commanded on the
// *previous* tick — should be recorded.
func (s *Scheduler) TickCommand() (freq int, apply bool, recordSlot int) {
	kr := s.KR()
	c := s.Counter
	recordSlot = -1
	if c >= 0 && c <= kr-1 {
		recordSlot = kr - c - 1
	}

	switch {
	case c == kr:
		return s.pattern(0), true, recordSlot
	case c >= 1 && c <= kr-1:
		return s.pattern(kr - c), true, recordSlot
	case c == 0:
		return s.pattern(kr - 1), true, recordSlot
	case c == -1:
		return OperatingFreq, true, recordSlot
	default: // c <= -2
		return OperatingFreq, false, recordSlot
	}
}

// pattern implements the zig-zag walk over P: at burst-tick t, m = t mod 2k;
// command P[m] if m<k, else P[2k-1-m].
func (s *Scheduler) pattern(t int) int {
	twoK := 2 * s.K
	m := t % twoK
	if m < s.K {
		return s.P[m]
	}
	return s.P[twoK-1-m]
}

// BurstJustEnded reports whether this tick is the one where the last probe
// sample was recorded and the regression engine + arbiter should run.
func (s *Scheduler) BurstJustEnded() bool { return s.Counter == 0 }

// Advance applies the end-of-tick burst gating (§4.4). elapsedUs and
// loopPeriodUs are both tick durations in microseconds; probeIntervalUs is
// the configured probe_interval_s converted to microseconds; sumUtilMean is
// the sum of every device's current ring-statistics mean utilization.
func (s *Scheduler) Advance(elapsedUs, loopPeriodUs, probeIntervalUs uint64, sumUtilMean float64) {
	addTime := elapsedUs
	if loopPeriodUs > addTime {
		addTime = loopPeriodUs
	}
	if s.Counter < -1 {
		s.AccumTimeUs += addTime
	}
	if s.AccumTimeUs >= probeIntervalUs {
		if sumUtilMean >= 1 {
			s.Counter = s.KR()
		} else {
			s.Counter = -2
		}
		s.AccumTimeUs = 0
		return
	}
	if s.Counter > -99 {
		s.Counter--
	}
}

package controller

import "github.com/geepafs/assure/pkg/arbiter"

// baselineCommand reproduces the trivial non-Assure policies' setFreq /
// applyFreqSet selection (dvfs.c's freqsetAlg branches). These are out of
// scope for re-specification beyond their interface with the main loop.
func baselineCommand(policy string, p devicePolicyState, gpuUtilPct uint, initialLoop bool) (freq int, apply bool) {
	switch policy {
	case "MaxFreq":
		return p.maxFreq, initialLoop
	case "EfficientFix":
		return p.freqEff, initialLoop
	case "NVboost":
		return p.freqEff, false
	case "UtilizScale":
		switch {
		case p.cycle == 1:
			// Probe utilization at max frequency.
			return p.maxFreq, true
		case p.cycle == 2:
			// One-shot calibration: compute and store the locked frequency.
			target := float64(p.minFreq)
			scaled := float64(gpuUtilPct) / 100 * float64(p.maxFreq)
			if scaled > target {
				target = scaled
			}
			return snapUp(p.available, target), true
		default: // cycle >= 3: reuse the frequency locked in at cycle 2.
			return p.lockedFreq, false
		}
	default:
		return p.maxFreq, initialLoop
	}
}

// devicePolicyState is the slice of per-device state a baseline policy
// needs, kept separate from the Assure-only DeviceState fields.
type devicePolicyState struct {
	maxFreq, minFreq, freqEff int
	available                 []int
	cycle                     int // UtilizScale's calibration cycle counter, saturates at 3
	lockedFreq                int // UtilizScale's frequency computed and stored at cycle 2
}

func snapUp(available []int, target float64) int {
	// Shares the exact algorithm the arbiter uses for Assure so every
	// policy snaps to the same supported-frequency ladder.
	return arbiter.SnapUp(available, target)
}

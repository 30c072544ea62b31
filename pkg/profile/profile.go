// Package profile holds the immutable per-SKU machine constants the Assure
// policy is tuned against: settable frequency bounds, the fixed memory
// frequency, the full supported-frequency ladder, and the probe set used to
// excite the fold-line regression.
//
// Frequency lists are generated, not hand-entered, because the vendor step
// pattern (alternating +7/+8 MHz on the V100 parts, flat +15 MHz on A100)
// must reproduce byte-identical ladders for the snap-up policy in
// pkg/arbiter to remain compatible with what "nvidia-smi -q -d
// SUPPORTED_CLOCKS" reports on real hardware.
package profile

import "fmt"

// Key identifies a supported machine/SKU combination.
type Key string

const (
	V100MaxQ  Key = "v100-maxq"
	V100_300W Key = "v100-300w"
	A100Insp  Key = "a100-insp"
)

// Profile is the immutable constant set for one machine key.
type Profile struct {
	Key Key

	// FMin is the lowest settable core frequency, in MHz.
	FMin int
	// FEff is the globally efficient fallback frequency, in MHz.
	FEff int
	// FMax is the highest settable core frequency, in MHz.
	FMax int
	// FMem is the machine's single supported memory frequency, in MHz.
	FMem int

	// F is the sorted list of every frequency the device accepts, low to high.
	F []int
	// P is the probe set: a strictly increasing subset of F used during a
	// probe burst. len(P) is the regression engine's k.
	P []int
}

// Lookup returns the Profile for a known machine key.
func Lookup(key Key) (Profile, error) {
	switch key {
	case V100MaxQ:
		return Profile{
			Key:  V100MaxQ,
			FMin: 855, FEff: 855, FMax: 1440, FMem: 810,
			F: steppedLadder(135, 1440, true),
			P: []int{855, 1050, 1245, 1440},
		}, nil
	case V100_300W:
		return Profile{
			Key:  V100_300W,
			FMin: 952, FEff: 952, FMax: 1530, FMem: 877,
			F: steppedLadder(135, 1530, true),
			P: []int{952, 1147, 1335, 1530},
		}, nil
	case A100Insp:
		return Profile{
			Key:  A100Insp,
			FMin: 1110, FEff: 1110, FMax: 1410, FMem: 1593,
			F: steppedLadder(210, 1410, false),
			P: []int{1110, 1215, 1320, 1410},
		}, nil
	default:
		return Profile{}, fmt.Errorf("profile: unknown machine key %q", key)
	}
}

// steppedLadder reproduces the vendor's supported-clock enumeration.
//
// alternate7_8 selects the V100 pattern: starting at base, alternate +7/+8
// MHz steps (first step is +7), stopping once the next value would exceed
// max. The A100 pattern is a flat +15 MHz step with no alternation.
func steppedLadder(base, max int, alternate7_8 bool) []int {
	out := []int{base}
	freq := base
	seven := true
	for freq <= max {
		var step int
		if alternate7_8 {
			if seven {
				step = 7
			} else {
				step = 8
			}
			seven = !seven
		} else {
			step = 15
		}
		freq += step
		if freq <= max {
			out = append(out, freq)
		}
	}
	return out
}

// Package config resolves the Assure controller's tunables: built-in
// defaults, an optional TOML file, and command-line flags, in that
// ascending order of precedence (§3, §6).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/geepafs/assure/pkg/profile"
)

// PerfFloor is one of the three accepted performance-assurance fractions.
type PerfFloor float64

const (
	PerfFloor85 PerfFloor = 0.85
	PerfFloor90 PerfFloor = 0.90
	PerfFloor95 PerfFloor = 0.95
)

// ParsePerfFloorTag maps the CLI's p85/p90/p95 tag onto a PerfFloor.
func ParsePerfFloorTag(tag string) (PerfFloor, error) {
	switch tag {
	case "p85":
		return PerfFloor85, nil
	case "p90":
		return PerfFloor90, nil
	case "p95":
		return PerfFloor95, nil
	default:
		return 0, fmt.Errorf("config: unrecognized perf-floor tag %q, want one of p85, p90, p95", tag)
	}
}

// Policy is one of the named frequency-setting policies the control loop
// can dispatch to.
type Policy string

const (
	PolicyAssure       Policy = "Assure"
	PolicyMaxFreq      Policy = "MaxFreq"
	PolicyEfficientFix Policy = "EfficientFix"
	PolicyNVboost      Policy = "NVboost"
	PolicyUtilizScale  Policy = "UtilizScale"
)

// ParsePolicy validates a policy name from the CLI.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case PolicyAssure, PolicyMaxFreq, PolicyEfficientFix, PolicyNVboost, PolicyUtilizScale:
		return Policy(name), nil
	default:
		return "", fmt.Errorf("config: unrecognized policy %q", name)
	}
}

// PolicyConfig is the immutable tunable set for one controller run.
type PolicyConfig struct {
	Machine profile.Key
	Policy  Policy
	PerfFloor PerfFloor

	LoopPeriod      time.Duration
	ProbeInterval   time.Duration
	ProbeReps       int
	Window          int
	RegErrThreshold float64

	UseCap        bool
	UseRegression bool

	// RestrictActuationTo mirrors the source's onlySetFreqForOne: when set,
	// only this device index is ever actuated (others are sampled and
	// modeled as usual, but never commanded).
	RestrictActuationTo *int

	// MeasureOverheadOnly mirrors the source's skipSetFreq: never calls
	// SetAppClocks, used to benchmark loop overhead in isolation.
	MeasureOverheadOnly bool

	Verbose bool
}

// Defaults returns the built-in PolicyConfig defaults from §3, before any
// file or flag overrides are applied.
func Defaults() PolicyConfig {
	return PolicyConfig{
		PerfFloor:       PerfFloor90,
		LoopPeriod:      200 * time.Millisecond,
		ProbeInterval:   15 * time.Second,
		ProbeReps:       2,
		Window:          16,
		RegErrThreshold: 100,
		UseCap:          true,
		UseRegression:   true,
	}
}

// fileOverrides is the subset of PolicyConfig a TOML file may set. Zero
// values mean "not present in the file, don't override."
type fileOverrides struct {
	Machine         string   `toml:"machine"`
	LoopPeriodMS    int      `toml:"loop_period_ms"`
	ProbeIntervalS  int      `toml:"probe_interval_s"`
	ProbeReps       int      `toml:"probe_repetitions"`
	Window          int      `toml:"window"`
	RegErrThreshold *float64 `toml:"reg_err_threshold"`
	UseCap          *bool    `toml:"use_cap"`
	UseRegression   *bool    `toml:"use_regression"`
	Verbose         *bool    `toml:"verbose"`
}

// LoadFile decodes a TOML config file and applies any fields it sets on
// top of base, returning the merged PolicyConfig. Flags applied after this
// call take final precedence.
func LoadFile(path string, base PolicyConfig) (PolicyConfig, error) {
	var f fileOverrides
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return base, fmt.Errorf("config: decode %s: %w", path, err)
	}

	out := base
	if f.Machine != "" {
		out.Machine = profile.Key(f.Machine)
	}
	if f.LoopPeriodMS > 0 {
		out.LoopPeriod = time.Duration(f.LoopPeriodMS) * time.Millisecond
	}
	if f.ProbeIntervalS > 0 {
		out.ProbeInterval = time.Duration(f.ProbeIntervalS) * time.Second
	}
	if f.ProbeReps > 0 {
		out.ProbeReps = f.ProbeReps
	}
	if f.Window > 0 {
		out.Window = f.Window
	}
	if f.RegErrThreshold != nil {
		out.RegErrThreshold = *f.RegErrThreshold
	}
	if f.UseCap != nil {
		out.UseCap = *f.UseCap
	}
	if f.UseRegression != nil {
		out.UseRegression = *f.UseRegression
	}
	if f.Verbose != nil {
		out.Verbose = *f.Verbose
	}
	return out, nil
}

// Validate checks the invariants §3 implies on a resolved PolicyConfig.
func (c PolicyConfig) Validate() error {
	if c.LoopPeriod <= 0 {
		return fmt.Errorf("config: loop period must be > 0")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("config: probe interval must be > 0")
	}
	if c.ProbeReps <= 0 {
		return fmt.Errorf("config: probe repetitions must be > 0")
	}
	if c.Window <= 0 {
		return fmt.Errorf("config: window must be > 0")
	}
	if _, err := profile.Lookup(c.Machine); err != nil {
		return err
	}
	return nil
}

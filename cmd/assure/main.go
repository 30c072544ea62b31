//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/geepafs/assure/pkg/config"
	"github.com/geepafs/assure/pkg/controller"
	"github.com/geepafs/assure/pkg/deviceapi"
	"github.com/geepafs/assure/pkg/profile"
)

type opts struct {
	machine         string
	machineSet      bool
	configPath      string
	loopPeriodMS    int
	probeIntervalS  int
	probeReps       int
	window          int
	regErrThreshold float64
	noCap           bool
	noRegression    bool
	restrictTo      int
	measureOverhead bool
	verbose         bool
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "assure mod <policy> [perf-floor]",
		Short: "GPU core-clock frequency assurance controller",
		Long: `assure tunes the core clock of one or more NVIDIA GPUs to minimize energy
while holding a configurable fraction of max-frequency performance. It
samples compute/memory utilization and power, periodically probes the
clock-response curve, fits a piecewise-linear model, and arbitrates a
target frequency from the performance bound, a utilization-derived cap,
and a power-efficiency estimate.

Examples:
  assure mod Assure p90
  assure mod MaxFreq
  assure mod Assure p95 --machine v100-300w --probe-interval 10`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.machineSet = cmd.Flags().Changed("machine")
			return run(cmd.Context(), o, args)
		},
	}

	root.Flags().StringVar(&o.machine, "machine", "v100-300w", "machine profile key (v100-maxq, v100-300w, a100-insp)")
	root.Flags().StringVar(&o.configPath, "config", "", "optional TOML config file overriding defaults")
	root.Flags().IntVar(&o.loopPeriodMS, "loop-period", 0, "tick period in milliseconds (0 = use default/file value)")
	root.Flags().IntVar(&o.probeIntervalS, "probe-interval", 0, "seconds between probe burst attempts (0 = default/file)")
	root.Flags().IntVar(&o.probeReps, "probe-reps", 0, "repetitions per probe frequency (0 = default/file)")
	root.Flags().IntVar(&o.window, "window", 0, "utilization moving-average window size (0 = default/file)")
	root.Flags().Float64Var(&o.regErrThreshold, "reg-err-threshold", 0, "per-point regression error discard threshold (0 = default/file)")
	root.Flags().BoolVar(&o.noCap, "no-cap", false, "disable the utilization-derived frequency cap")
	root.Flags().BoolVar(&o.noRegression, "no-regression", false, "disable the regression model (fall back to max-memutil frequency)")
	root.Flags().IntVar(&o.restrictTo, "restrict-to", -1, "only actuate this device index; others are sampled and modeled only")
	root.Flags().BoolVar(&o.measureOverhead, "measure-overhead", false, "never actuate; for loop-overhead benchmarking")
	root.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "log model diagnostics on burst completion")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts, args []string) error {
	if args[0] != "mod" {
		return fmt.Errorf("assure: unrecognized mode %q, only \"mod\" is accepted", args[0])
	}

	policy, err := config.ParsePolicy(args[1])
	if err != nil {
		return err
	}

	cfg := config.Defaults()
	cfg.Machine = profile.Key(o.machine)
	cfg.Policy = policy

	if policy == config.PolicyAssure {
		if len(args) < 3 {
			return fmt.Errorf("assure: policy Assure requires a perf-floor tag (p85, p90, p95)")
		}
		floor, err := config.ParsePerfFloorTag(args[2])
		if err != nil {
			return err
		}
		cfg.PerfFloor = floor
	}

	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath, cfg)
		if err != nil {
			return err
		}
	}

	applyFlagOverrides(&cfg, o)

	if err := cfg.Validate(); err != nil {
		return err
	}
	prof, err := profile.Lookup(cfg.Machine)
	if err != nil {
		return err
	}

	api := deviceapi.NewNVML()
	if err := api.Init(); err != nil {
		return fmt.Errorf("assure: device init: %w", err)
	}
	count, err := api.DeviceCount()
	if err != nil {
		_ = api.Shutdown()
		return fmt.Errorf("assure: device count: %w", err)
	}
	if err := api.Shutdown(); err != nil {
		slog.Warn("preliminary shutdown failed", "err", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	ctl := controller.New(api, prof, cfg, count, slog.Default(), stdoutTicks{tw})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		ctl.Stop()
	}()

	return ctl.Run(ctx)
}

func applyFlagOverrides(cfg *config.PolicyConfig, o opts) {
	if o.machineSet {
		cfg.Machine = profile.Key(o.machine)
	}
	if o.loopPeriodMS > 0 {
		cfg.LoopPeriod = msToDuration(o.loopPeriodMS)
	}
	if o.probeIntervalS > 0 {
		cfg.ProbeInterval = secToDuration(o.probeIntervalS)
	}
	if o.probeReps > 0 {
		cfg.ProbeReps = o.probeReps
	}
	if o.window > 0 {
		cfg.Window = o.window
	}
	if o.regErrThreshold > 0 {
		cfg.RegErrThreshold = o.regErrThreshold
	}
	if o.noCap {
		cfg.UseCap = false
	}
	if o.noRegression {
		cfg.UseRegression = false
	}
	if o.restrictTo >= 0 {
		idx := o.restrictTo
		cfg.RestrictActuationTo = &idx
	}
	if o.measureOverhead {
		cfg.MeasureOverheadOnly = true
	}
	if o.verbose {
		cfg.Verbose = true
	}
}

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
func secToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// stdoutTicks implements controller.TickWriter, writing the controller's
// timestamped per-tick row to a tabwriter (§6's stdout logging format).
type stdoutTicks struct {
	tw *tabwriter.Writer
}

func (s stdoutTicks) WriteTick(line string) {
	fmt.Fprintln(s.tw, line)
	s.tw.Flush()
}

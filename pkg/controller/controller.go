// Package controller implements the fixed-cadence tick loop that ties the
// other components together: per-device sampling, the Assure probe/model/
// arbiter pipeline (or a trivial baseline policy), actuation, and the
// signal-driven shutdown coordinator (§4.7, §5).
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geepafs/assure/pkg/arbiter"
	"github.com/geepafs/assure/pkg/config"
	"github.com/geepafs/assure/pkg/deviceapi"
	"github.com/geepafs/assure/pkg/probe"
	"github.com/geepafs/assure/pkg/profile"
	"github.com/geepafs/assure/pkg/regression"
	"github.com/geepafs/assure/pkg/ringstat"
)

// DeviceState is the per-GPU Assure state: the windowed utilization
// statistics, the current probe burst's recorded samples, the running cap,
// and the operating frequency actuation continues from between bursts.
type DeviceState struct {
	Util *ringstat.Window

	// MemUtilSlots/PowerSlots hold k*r recordings for the in-flight burst,
	// indexed by the Probe Scheduler's recordSlot.
	MemUtilSlots []float64
	PowerSlots   []float64

	Cap           float64
	OperatingFreq int
}

func newDeviceState(kr int, fMax int) *DeviceState {
	return &DeviceState{
		MemUtilSlots:  make([]float64, kr),
		PowerSlots:    make([]float64, kr),
		OperatingFreq: fMax,
	}
}

// Controller runs the fixed-cadence tick loop against a DeviceAPI.
type Controller struct {
	API     deviceapi.DeviceAPI
	Profile profile.Profile
	Cfg     config.PolicyConfig
	Log     *slog.Logger
	Out     TickWriter

	Devices   []*DeviceState
	Scheduler *probe.Scheduler

	stopping atomic.Bool
	shutdown sync.Once
}

// TickWriter receives one formatted per-tick stdout line (§6's exact tuple
// format). Implementations must not block meaningfully; the loop's pacing
// does not account for writer latency.
type TickWriter interface {
	WriteTick(line string)
}

// New builds a Controller for deviceCount devices against prof and cfg.
func New(api deviceapi.DeviceAPI, prof profile.Profile, cfg config.PolicyConfig, deviceCount int, log *slog.Logger, out TickWriter) *Controller {
	k := len(prof.P)
	devices := make([]*DeviceState, deviceCount)
	for i := range devices {
		devices[i] = newDeviceState(k*cfg.ProbeReps, prof.FMax)
		devices[i].Util = ringstat.NewWindow(cfg.Window)
	}
	return &Controller{
		API:       api,
		Profile:   prof,
		Cfg:       cfg,
		Log:       log,
		Out:       out,
		Devices:   devices,
		Scheduler: probe.NewScheduler(k, cfg.ProbeReps, prof.P),
	}
}

// Stop requests cooperative termination; observed at the top of the next
// tick.
func (c *Controller) Stop() { c.stopping.Store(true) }

// Run executes the tick loop until Stop is called, ctx is cancelled, or a
// fatal driver error occurs. It always funnels through the shutdown sink
// before returning, per §5's scoped-acquisition discipline.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.API.Init(); err != nil {
		return fmt.Errorf("controller: device init: %w", err)
	}
	defer c.shutdownSink()

	for i := range c.Devices {
		if err := c.API.ResetClocks(i); err != nil {
			c.logResetErr(i, err)
		}
	}

	ticker := time.NewTicker(c.Cfg.LoopPeriod)
	defer ticker.Stop()

	ringOldestIdx := 0
	initialLoop := true
	utilizCycle := 0

	for {
		if c.stopping.Load() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case start := <-ticker.C:
			if c.stopping.Load() {
				return nil
			}
			if c.Cfg.Policy == config.PolicyUtilizScale && utilizCycle < 3 {
				utilizCycle++
			}

			var sumUtilMean float64
			row := start.Format(time.RFC3339Nano)
			for i, d := range c.Devices {
				sample, err := c.API.SampleDevice(i)
				if err != nil {
					if c.fatalDriverErr(i, err, false) {
						return err
					}
					continue
				}

				d.Util.Update(ringOldestIdx, sample.GPUUtilPct)
				sumUtilMean += d.Util.Mean()

				freq, apply := c.decideFreq(i, d, sample, initialLoop, utilizCycle)

				if apply {
					if err := c.API.SetAppClocks(i, uint(c.Profile.FMem), uint(freq)); err != nil {
						if c.fatalDriverErr(i, err, true) {
							return err
						}
					}
				}

				reported := -1
				if apply {
					reported = freq
				}
				row += fmt.Sprintf(" dev=%d gpu_util=%d mem_util=%d power_mw=%d observed_freq_mhz=%d commanded_freq_mhz=%d",
					i, sample.GPUUtilPct, sample.MemUtilPct, sample.PowerMW, sample.SMFreqMHz, reported)
			}

			if c.Cfg.Window > 0 {
				if ringOldestIdx < c.Cfg.Window-1 {
					ringOldestIdx++
				} else {
					ringOldestIdx = 0
				}
			}

			elapsed := time.Since(start)
			if c.Out != nil {
				c.Out.WriteTick(fmt.Sprintf("%s tick_us=%d", row, elapsed.Microseconds()))
			}
			c.Scheduler.Advance(uint64(elapsed.Microseconds()), uint64(c.Cfg.LoopPeriod.Microseconds()), uint64(c.Cfg.ProbeInterval.Microseconds()), sumUtilMean)

			initialLoop = false
		}
	}
}

// decideFreq dispatches to either the Assure pipeline or a trivial
// baseline policy for one device this tick, returning the frequency to
// command and whether it should actually be applied.
func (c *Controller) decideFreq(i int, d *DeviceState, sample deviceapi.Sample, initialLoop bool, utilizCycle int) (int, bool) {
	if c.Cfg.Policy != config.PolicyAssure {
		state := devicePolicyState{
			maxFreq:    c.Profile.FMax,
			minFreq:    c.Profile.FMin,
			freqEff:    c.Profile.FEff,
			available:  c.Profile.F,
			cycle:      utilizCycle,
			lockedFreq: d.OperatingFreq,
		}
		freq, apply := baselineCommand(string(c.Cfg.Policy), state, sample.GPUUtilPct, initialLoop)
		if c.Cfg.Policy == config.PolicyUtilizScale && utilizCycle == 2 {
			d.OperatingFreq = freq
		}
		if c.Cfg.MeasureOverheadOnly {
			apply = false
		}
		if c.Cfg.RestrictActuationTo != nil && *c.Cfg.RestrictActuationTo != i {
			apply = false
		}
		return freq, apply
	}

	freq, apply, slot := c.Scheduler.TickCommand()

	if slot >= 0 {
		d.MemUtilSlots[slot] = float64(sample.MemUtilPct)
		d.PowerSlots[slot] = float64(sample.PowerMW) / 1000
		if c.Cfg.UseCap {
			d.Cap = arbiter.UpdateCap(d.Cap, slot == 0, float64(sample.SMFreqMHz), float64(c.Profile.FMax), float64(sample.GPUUtilPct), float64(c.Cfg.PerfFloor))
		}
	}

	if c.Scheduler.BurstJustEnded() {
		d.OperatingFreq = c.runAssureModel(d)
	}

	if freq == probe.OperatingFreq {
		freq = d.OperatingFreq
	}

	if c.Cfg.MeasureOverheadOnly {
		apply = false
	}
	if c.Cfg.RestrictActuationTo != nil && *c.Cfg.RestrictActuationTo != i {
		apply = false
	}
	return freq, apply
}

// runAssureModel fits the regression model for a device's just-completed
// burst and runs the arbiter, returning the new operating frequency.
func (c *Controller) runAssureModel(d *DeviceState) int {
	k := len(c.Profile.P)
	r := c.Cfg.ProbeReps

	avgMem := make([]float64, k)
	avgPower := make([]float64, k)
	samples := make([][]float64, k)
	// Slot t holds the telemetry for burst-tick t's zig-zag command, so the
	// probe index is recovered with the scheduler's own pattern mapping.
	for slot := 0; slot < k*r; slot++ {
		j := slot % (2 * k)
		if j >= k {
			j = 2*k - 1 - j
		}
		samples[j] = append(samples[j], d.MemUtilSlots[slot])
		avgMem[j] += d.MemUtilSlots[slot] / float64(r)
		avgPower[j] += d.PowerSlots[slot] / float64(r)
	}

	model := regression.Fit(c.Profile.P, samples, c.Cfg.RegErrThreshold*float64(k*r))

	decision := arbiter.Decide(arbiter.Inputs{
		Model:         model,
		ProbeFreqs:    c.Profile.P,
		AvgMemUtil:    avgMem,
		AvgPower:      avgPower,
		UseRegression: c.Cfg.UseRegression,
		PerfThres:     float64(c.Cfg.PerfFloor),
		UseCap:        c.Cfg.UseCap,
		Cap:           d.Cap,
		FEffDefault:   c.Profile.FEff,
		FMin:          c.Profile.FMin,
		FMax:          c.Profile.FMax,
		Available:     c.Profile.F,
	})

	if c.Cfg.Verbose && c.Log != nil {
		c.Log.Info("burst complete", "skip_model", model.Skip, "turn", model.Turn, "operating_freq", decision.FreqMHz, "used_perf", decision.UsedPerf)
	}

	return decision.FreqMHz
}

func (c *Controller) logResetErr(dev int, err error) {
	var derr *deviceapi.DriverError
	if errors.As(err, &derr) && derr.Class == deviceapi.ClassNotSupported {
		c.Log.Warn("clock reset not supported", "device", dev)
		return
	}
	c.Log.Warn("clock reset failed", "device", dev, "err", err)
}

// fatalDriverErr classifies a sample/actuate error and logs it; it reports
// whether the controller must terminate.
func (c *Controller) fatalDriverErr(dev int, err error, forSet bool) bool {
	var derr *deviceapi.DriverError
	if errors.As(err, &derr) {
		if !derr.Fatal(forSet) {
			c.Log.Warn("driver op not supported", "device", dev, "op", derr.Op)
			return false
		}
		c.Log.Error("fatal driver error", "device", dev, "op", derr.Op, "err", err)
		return true
	}
	c.Log.Error("driver error", "device", dev, "err", err)
	return true
}

// shutdownSink resets every device's clocks and releases the vendor
// library exactly once; later calls are no-ops, satisfying the idempotent
// shutdown property (§5, §8 property 8).
func (c *Controller) shutdownSink() {
	c.shutdown.Do(func() {
		for i := range c.Devices {
			if err := c.API.ResetClocks(i); err != nil {
				c.logResetErr(i, err)
			}
		}
		if err := c.API.Shutdown(); err != nil {
			c.Log.Warn("vendor shutdown failed", "err", err)
		}
	})
}

//go:build linux

package deviceapi

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlAPI is the production DeviceAPI backed by the vendor's NVML library.
type nvmlAPI struct {
	mu      sync.Mutex
	started bool
}

// NewNVML returns a DeviceAPI that drives real hardware through NVML.
func NewNVML() DeviceAPI {
	return &nvmlAPI{}
}

func (a *nvmlAPI) Init() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("%w: %s", ErrInitFailed, nvml.ErrorString(ret))
	}
	a.started = true
	return nil
}

// Shutdown releases NVML. Idempotent: once released, a later call returns
// nil without reaching the driver, and an nvml.ERROR_UNINITIALIZED from the
// driver is treated as success rather than a fatal error, matching the
// "idempotent shutdown" guarantee in §5.
func (a *nvmlAPI) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	ret := nvml.Shutdown()
	a.started = false
	if ret != nvml.SUCCESS && ret != nvml.ERROR_UNINITIALIZED {
		return fmt.Errorf("deviceapi: nvml shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}

func (a *nvmlAPI) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, classify("device count", ret)
	}
	return count, nil
}

func (a *nvmlAPI) SampleDevice(idx int) (Sample, error) {
	dev, ret := nvml.DeviceGetHandleByIndex(idx)
	if ret != nvml.SUCCESS {
		return Sample{}, classify("get device handle", ret)
	}

	util, ret := dev.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return Sample{}, classify("get utilization rates", ret)
	}

	smClock, ret := dev.GetClockInfo(nvml.CLOCK_SM)
	if ret != nvml.SUCCESS {
		return Sample{}, classify("get sm clock", ret)
	}

	powerMW, ret := dev.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return Sample{}, classify("get power usage", ret)
	}

	return Sample{
		GPUUtilPct: uint(util.Gpu),
		MemUtilPct: uint(util.Memory),
		SMFreqMHz:  uint(smClock),
		PowerMW:    uint(powerMW),
	}, nil
}

func (a *nvmlAPI) SetAppClocks(idx int, memMHz, coreMHz uint) error {
	dev, ret := nvml.DeviceGetHandleByIndex(idx)
	if ret != nvml.SUCCESS {
		return classify("get device handle", ret)
	}
	ret = dev.SetApplicationsClocks(uint32(memMHz), uint32(coreMHz))
	if ret != nvml.SUCCESS {
		return classify("set applications clocks", ret)
	}
	return nil
}

func (a *nvmlAPI) ResetClocks(idx int) error {
	dev, ret := nvml.DeviceGetHandleByIndex(idx)
	if ret != nvml.SUCCESS {
		return classify("get device handle", ret)
	}
	ret = dev.ResetApplicationsClocks()
	if ret != nvml.SUCCESS {
		return classify("reset applications clocks", ret)
	}
	return nil
}

// classify maps an nvml.Return onto the DriverError taxonomy of §7.
func classify(op string, ret nvml.Return) error {
	class := ClassOther
	switch ret {
	case nvml.ERROR_NO_PERMISSION:
		class = ClassNoPermission
	case nvml.ERROR_NOT_SUPPORTED:
		class = ClassNotSupported
	}
	return &DriverError{Op: op, Class: class, Err: fmt.Errorf("%s", nvml.ErrorString(ret))}
}

// Package deviceapi is the narrow interface the Assure controller uses to
// talk to GPUs: initialize/shutdown the vendor library, enumerate devices,
// read one atomic telemetry snapshot, and actuate or reset the core clock.
//
// There are two implementations: nvmlAPI (pkg/deviceapi/nvml.go, built only
// on linux where the vendor library is actually present) and Mock
// (pkg/deviceapi/mock.go), a scripted, timeline-driven fake used by the
// controller package's tests.
package deviceapi

import "errors"

// ErrorClass buckets a driver failure into the three-way taxonomy §7 of the
// spec uses to decide whether an error is fatal or logged-and-continue.
type ErrorClass int

const (
	// ClassOther is any failure that isn't a permission or support issue.
	ClassOther ErrorClass = iota
	// ClassNoPermission means the caller lacks privilege for the operation.
	// Always fatal.
	ClassNoPermission
	// ClassNotSupported means the vendor/driver doesn't implement the
	// operation on this device. Logged, never fatal, whatever the operation.
	ClassNotSupported
)

// DriverError wraps a vendor failure with its classification.
type DriverError struct {
	Op    string
	Class ErrorClass
	Err   error
}

func (e *DriverError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *DriverError) Unwrap() error { return e.Err }

// Fatal reports whether this error must terminate the controller.
func (e *DriverError) Fatal(forSet bool) bool {
	switch e.Class {
	case ClassNoPermission:
		return true
	case ClassNotSupported:
		return false
	default: // ClassOther
		return true
	}
}

// ErrInitFailed is returned by Init when the vendor library cannot be
// acquired (driver missing, no GPUs visible, etc).
var ErrInitFailed = errors.New("deviceapi: vendor library init failed")

// Sample is one atomic telemetry snapshot for a single device.
type Sample struct {
	GPUUtilPct uint // compute utilization, 0-100
	MemUtilPct uint // memory-bandwidth utilization, 0-100
	SMFreqMHz  uint // current SM (core) clock, MHz
	PowerMW    uint // instantaneous power draw, milliwatts
}

// DeviceAPI is the uniform interface over the vendor telemetry/actuation
// library. Callers must call Init exactly once before any other method, and
// Shutdown exactly once when finished; Shutdown must be safe to call more
// than once (idempotent at the sink, per §5).
type DeviceAPI interface {
	// Init acquires the vendor library. Must precede all other calls.
	Init() error
	// Shutdown releases the vendor library. Safe to call more than once.
	Shutdown() error
	// DeviceCount returns the number of managed devices.
	DeviceCount() (int, error)
	// SampleDevice takes one atomic telemetry snapshot for device idx.
	SampleDevice(idx int) (Sample, error)
	// SetAppClocks actuates the applications clock for device idx.
	SetAppClocks(idx int, memMHz, coreMHz uint) error
	// ResetClocks restores the vendor default clocks for device idx.
	ResetClocks(idx int) error
}

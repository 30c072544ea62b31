package deviceapi

import "fmt"

// Tick is one scripted telemetry reading for one device, consumed in order
// by Mock.SampleDevice. The Mock doesn't know about frequencies it hasn't
// been told about; Mock.SetHistory lets scenario authors assert on what the
// controller actually commanded.
type Tick struct {
	GPUUtilPct uint
	MemUtilPct uint
	SMFreqMHz  uint
	PowerMW    uint
}

// Mock is a scripted, timeline-driven DeviceAPI used by property tests. It
// never touches real hardware or cgo. Each device has its own queue of
// Ticks; SampleDevice pops the next one each call and records the clock
// actually commanded by SetAppClocks so tests can assert actuation history.
type Mock struct {
	initCalled     bool
	shutdownCalls  int
	timelines      [][]Tick
	cursor         []int
	setHistory     [][]uint // per device, core MHz commanded at each SetAppClocks call
	resetHistory   []int    // per device, count of ResetClocks calls
	failInit       error
	failSampleAt   map[int]error // deviceIdx -> error to return on next sample
	failSetAt      map[int]error
}

// NewMock builds a Mock with one telemetry timeline per device.
func NewMock(timelines [][]Tick) *Mock {
	m := &Mock{
		timelines:    timelines,
		cursor:       make([]int, len(timelines)),
		setHistory:   make([][]uint, len(timelines)),
		resetHistory: make([]int, len(timelines)),
		failSampleAt: map[int]error{},
		failSetAt:    map[int]error{},
	}
	return m
}

// FailInit makes the next Init call return err.
func (m *Mock) FailInit(err error) { m.failInit = err }

// FailNextSample makes the next SampleDevice call on dev return err instead
// of consuming a Tick.
func (m *Mock) FailNextSample(dev int, err error) { m.failSampleAt[dev] = err }

// FailNextSet makes the next SetAppClocks call on dev return err.
func (m *Mock) FailNextSet(dev int, err error) { m.failSetAt[dev] = err }

func (m *Mock) Init() error {
	if m.failInit != nil {
		err := m.failInit
		m.failInit = nil
		return err
	}
	m.initCalled = true
	return nil
}

func (m *Mock) Shutdown() error {
	m.shutdownCalls++
	return nil
}

// ShutdownCalls reports how many times Shutdown was invoked, for the
// idempotent-shutdown property test.
func (m *Mock) ShutdownCalls() int { return m.shutdownCalls }

func (m *Mock) DeviceCount() (int, error) { return len(m.timelines), nil }

func (m *Mock) SampleDevice(idx int) (Sample, error) {
	if err, ok := m.failSampleAt[idx]; ok {
		delete(m.failSampleAt, idx)
		return Sample{}, err
	}
	if idx < 0 || idx >= len(m.timelines) {
		return Sample{}, fmt.Errorf("deviceapi: mock: no timeline for device %d", idx)
	}
	q := m.timelines[idx]
	c := m.cursor[idx]
	if c >= len(q) {
		// Repeat the last tick forever once the script is exhausted, so
		// long-running loop tests don't need to size the script exactly.
		if len(q) == 0 {
			return Sample{}, fmt.Errorf("deviceapi: mock: empty timeline for device %d", idx)
		}
		t := q[len(q)-1]
		return Sample{GPUUtilPct: t.GPUUtilPct, MemUtilPct: t.MemUtilPct, SMFreqMHz: t.SMFreqMHz, PowerMW: t.PowerMW}, nil
	}
	m.cursor[idx]++
	t := q[c]
	return Sample{GPUUtilPct: t.GPUUtilPct, MemUtilPct: t.MemUtilPct, SMFreqMHz: t.SMFreqMHz, PowerMW: t.PowerMW}, nil
}

func (m *Mock) SetAppClocks(idx int, _ uint, coreMHz uint) error {
	if err, ok := m.failSetAt[idx]; ok {
		delete(m.failSetAt, idx)
		return err
	}
	if idx < 0 || idx >= len(m.setHistory) {
		return fmt.Errorf("deviceapi: mock: no device %d", idx)
	}
	m.setHistory[idx] = append(m.setHistory[idx], coreMHz)
	return nil
}

func (m *Mock) ResetClocks(idx int) error {
	if idx < 0 || idx >= len(m.resetHistory) {
		return fmt.Errorf("deviceapi: mock: no device %d", idx)
	}
	m.resetHistory[idx]++
	return nil
}

// SetHistory returns the sequence of commanded core frequencies for dev.
func (m *Mock) SetHistory(dev int) []uint { return m.setHistory[dev] }

// ResetCalls reports how many times ResetClocks was called for dev.
func (m *Mock) ResetCalls(dev int) int { return m.resetHistory[dev] }

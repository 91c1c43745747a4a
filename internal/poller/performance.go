package poller

import (
	"sync"
	"time"
)

// historySize bounds each rolling sample window.
const historySize = 256

// Sample records one executed group operation.
type Sample struct {
	Device   string
	Group    string
	Duration time.Duration
	Words    int
	Success  bool
	At       time.Time
}

// Summary aggregates a device's (or the global) recent operations.
// Rates and averages cover the rolling window; the operation count is
// cumulative since start or the last reset.
type Summary struct {
	Device            string        `json:"device,omitempty"`
	TotalOperations   uint64        `json:"total_operations"`
	SuccessRate       float64       `json:"success_rate"`
	AverageDuration   time.Duration `json:"average_duration"`
	AverageThroughput float64       `json:"average_throughput"`
	LastOperation     time.Time     `json:"last_operation"`
	Groups            int           `json:"groups"`
	Registers         int           `json:"registers"`
	Efficiency        float64       `json:"efficiency"`
}

type planShape struct {
	groups    int
	registers int
}

type sampleWindow struct {
	samples []Sample
	next    int
	filled  bool
	total   uint64
	last    time.Time
}

func newSampleWindow() *sampleWindow {
	return &sampleWindow{samples: make([]Sample, historySize)}
}

func (w *sampleWindow) add(s Sample) {
	w.samples[w.next] = s
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
	w.total++
	w.last = s.At
}

func (w *sampleWindow) summarize() Summary {
	n := w.next
	if w.filled {
		n = len(w.samples)
	}

	sum := Summary{TotalOperations: w.total, LastOperation: w.last}
	if n == 0 {
		return sum
	}

	var successes, words int
	var elapsed time.Duration
	for i := 0; i < n; i++ {
		s := w.samples[i]
		if s.Success {
			successes++
		}
		words += s.Words
		elapsed += s.Duration
	}

	sum.SuccessRate = float64(successes) / float64(n)
	sum.AverageDuration = elapsed / time.Duration(n)
	if secs := elapsed.Seconds(); secs > 0 {
		sum.AverageThroughput = float64(words) / secs
	}
	return sum
}

// Monitor keeps bounded rolling operation histories per device and
// globally, plus each device's current plan shape for the optimization
// efficiency figure.
type Monitor struct {
	mu      sync.Mutex
	global  *sampleWindow
	devices map[string]*sampleWindow
	plans   map[string]planShape
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		global:  newSampleWindow(),
		devices: make(map[string]*sampleWindow),
		plans:   make(map[string]planShape),
	}
}

// Record adds one operation sample to the device's window and the
// global window.
func (m *Monitor) Record(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.devices[s.Device]
	if w == nil {
		w = newSampleWindow()
		m.devices[s.Device] = w
	}
	w.add(s)
	m.global.add(s)
}

// SetPlan records a device's current plan shape: how many read groups
// cover how many polled registers.
func (m *Monitor) SetPlan(device string, groups, registers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[device] = planShape{groups: groups, registers: registers}
}

// DropDevice removes a device's window and plan shape.
func (m *Monitor) DropDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, device)
	delete(m.plans, device)
}

// Summary returns the aggregate for one device, or the global aggregate
// when device is empty.
func (m *Monitor) Summary(device string) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum Summary
	var shape planShape
	if device == "" {
		sum = m.global.summarize()
		for _, p := range m.plans {
			shape.groups += p.groups
			shape.registers += p.registers
		}
	} else {
		if w := m.devices[device]; w != nil {
			sum = w.summarize()
		}
		sum.Device = device
		shape = m.plans[device]
	}

	sum.Groups = shape.groups
	sum.Registers = shape.registers
	if shape.registers > 0 {
		sum.Efficiency = 1 - float64(shape.groups)/float64(shape.registers)
	}
	return sum
}

// Reset clears one device's history, or every history when device is
// empty. Plan shapes survive: they describe the active configuration,
// not past operations.
func (m *Monitor) Reset(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if device == "" {
		m.global = newSampleWindow()
		m.devices = make(map[string]*sampleWindow)
		return
	}
	delete(m.devices, device)
}

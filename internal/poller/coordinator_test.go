package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/template"
	"github.com/nerrad567/gray-modbus-core/internal/transport"
)

type fakeSource struct {
	mu    sync.Mutex
	specs map[string][]*template.RegisterSpec
	ctxs  map[string]*template.DeviceContext
	err   error
}

func (s *fakeSource) set(device string, specs []*template.RegisterSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.specs == nil {
		s.specs = make(map[string][]*template.RegisterSpec)
	}
	s.specs[device] = specs
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeSource) DeviceSpecs(device string) ([]*template.RegisterSpec, *template.DeviceContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.specs[device], s.ctxs[device], nil
}

func testDeviceConfig(name string, specs ...*template.RegisterSpec) DeviceConfig {
	return DeviceConfig{
		Name:              name,
		Transport:         transport.Config{Mode: transport.ModeTCP, Host: "127.0.0.1", Port: 1502},
		SlaveID:           1,
		PollInterval:      10 * time.Millisecond,
		InterRequestDelay: time.Millisecond,
		Specs:             specs,
	}
}

func dialTo(fake *fakeTransport) func(transport.Config) (Transport, error) {
	return func(transport.Config) (Transport, error) {
		return fake, nil
	}
}

func mustStart(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

func TestNew_Validation(t *testing.T) {
	valid := testDeviceConfig("hp", sensorSpec("hp_temp", 100))

	tests := []struct {
		name    string
		devices []DeviceConfig
	}{
		{"no devices", nil},
		{"unnamed device", []DeviceConfig{{Transport: valid.Transport}}},
		{"duplicate names", []DeviceConfig{valid, valid}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{Devices: tt.devices})
			if !errors.Is(err, ErrConfig) {
				t.Errorf("New error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestNew_TuningOptions(t *testing.T) {
	cfg := testDeviceConfig("hp", sensorSpec("hp_temp", 100))

	c, err := New(Options{Devices: []DeviceConfig{cfg}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.opts.Tick != schedulerTick {
		t.Errorf("default tick = %v, want %v", c.opts.Tick, schedulerTick)
	}
	if c.errors.window != suppressionWindow {
		t.Errorf("default error window = %v, want %v", c.errors.window, suppressionWindow)
	}

	c, err = New(Options{
		Devices:        []DeviceConfig{cfg},
		Tick:           50 * time.Millisecond,
		ErrorLogWindow: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("New with tuning: %v", err)
	}
	if c.opts.Tick != 50*time.Millisecond {
		t.Errorf("tick = %v, want 50ms", c.opts.Tick)
	}
	if c.errors.window != 10*time.Minute {
		t.Errorf("error window = %v, want 10m", c.errors.window)
	}
}

func TestCoordinator_PollsIntoCache(t *testing.T) {
	fake := &fakeTransport{}
	fake.setReadFn(func(call readCall) ([]uint16, error) {
		return []uint16{215, 2}, nil
	})

	c := mustStart(t, Options{
		Devices: []DeviceConfig{testDeviceConfig("hp", sensorSpec("hp_temp", 100), sensorSpec("hp_mode", 101))},
		Dial:    dialTo(fake),
	})

	waitFor(t, 2*time.Second, func() bool {
		ev, err := c.GetValue("hp_temp")
		return err == nil && ev.Available && ev.Value.Number == 215
	}, "polled value never became readable")

	devs := c.Devices()
	if len(devs) != 1 {
		t.Fatalf("Devices has %d entries, want 1", len(devs))
	}
	st := devs[0]
	if st.Name != "hp" || !st.Connected || st.State != StateConnected {
		t.Errorf("status = %+v, want connected hp", st)
	}
	if st.Groups != 1 || st.Registers != 2 {
		t.Errorf("status shape = %d groups %d registers, want 1, 2", st.Groups, st.Registers)
	}

	vals, err := c.Values("hp")
	if err != nil || len(vals) != 2 {
		t.Errorf("Values(hp) = %d entries, %v, want 2, nil", len(vals), err)
	}
	all, err := c.Values("")
	if err != nil || len(all) != 2 {
		t.Errorf("Values() = %d entries, %v, want 2, nil", len(all), err)
	}
	if _, err := c.Values("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Values(nope) error = %v, want ErrUnknownDevice", err)
	}

	if _, err := c.GetValue("nope"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("GetValue(nope) error = %v, want ErrUnknownEntity", err)
	}

	plan, err := c.GroupPlan("hp")
	if err != nil || plan.Registers != 2 || len(plan.Groups) != 1 {
		t.Errorf("GroupPlan = %+v, %v, want 2 registers in 1 group", plan, err)
	}

	if recs := c.Errors(); len(recs) != 0 {
		t.Errorf("Errors = %+v, want none", recs)
	}
}

func TestCoordinator_GetValueSynthesizedForButton(t *testing.T) {
	fake := &fakeTransport{}
	c := mustStart(t, Options{
		Devices: []DeviceConfig{testDeviceConfig("hp", sensorSpec("hp_temp", 100), buttonSpec("hp_reset", 500))},
		Dial:    dialTo(fake),
	})

	waitFor(t, 2*time.Second, fake.IsConnected, "device never connected")

	ev, err := c.GetValue("hp_reset")
	if err != nil {
		t.Fatalf("GetValue(hp_reset): %v", err)
	}
	if !ev.Value.IsUnknown() {
		t.Errorf("button value = %+v, want unknown", ev.Value)
	}
	if !ev.Available {
		t.Error("button unavailable on a connected device, want available")
	}
	if !ev.Updated.IsZero() {
		t.Errorf("button Updated = %v, want zero for never-read", ev.Updated)
	}
}

func TestCoordinator_PartialStartKeepsHealthyDevices(t *testing.T) {
	fake := &fakeTransport{}
	fake.setReadFn(func(call readCall) ([]uint16, error) {
		return []uint16{215}, nil
	})

	bad := testDeviceConfig("bad", sensorSpec("dup", 100), sensorSpec("dup", 200))
	good := testDeviceConfig("good", sensorSpec("good_temp", 100))

	c, err := New(Options{Devices: []DeviceConfig{bad, good}, Dial: dialTo(fake)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Stop)

	err = c.Start()
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("Start error = %v, want rejection naming the bad device", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		ev, err := c.GetValue("good_temp")
		return err == nil && ev.Available
	}, "healthy device never polled despite sibling failure")

	devs := c.Devices()
	if len(devs) != 2 {
		t.Fatalf("Devices has %d entries, want 2", len(devs))
	}
	if devs[0].Name != "bad" || devs[0].LoadError == "" || devs[0].State != StateStopped {
		t.Errorf("bad device status = %+v, want stopped with load error", devs[0])
	}
	if devs[1].Name != "good" || devs[1].LoadError != "" {
		t.Errorf("good device status = %+v, want live without load error", devs[1])
	}

	if _, err := c.GroupPlan("bad"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("GroupPlan(bad) error = %v, want ErrUnknownDevice", err)
	}
}

func TestCoordinator_Command(t *testing.T) {
	fake := &fakeTransport{}
	fake.setReadFn(func(call readCall) ([]uint16, error) {
		return []uint16{215}, nil
	})

	sink := &eventSink{}
	c := mustStart(t, Options{
		Devices:  []DeviceConfig{testDeviceConfig("hp", numberControl("hp_setpoint", 300))},
		Dial:     dialTo(fake),
		OnUpdate: sink.add,
	})

	if err := c.Command(context.Background(), "hp_setpoint", 21.5); err != nil {
		t.Fatalf("Command: %v", err)
	}
	if w := fake.lastWrite(); w.address != 300 || w.words[0] != 215 {
		t.Errorf("write = %+v, want [215] at 300", w)
	}

	// The commanded value reads back without waiting for a poll.
	ev, err := c.GetValue("hp_setpoint")
	if err != nil || ev.Value.Number != 21.5 {
		t.Errorf("GetValue after command = %+v, %v, want 21.5", ev, err)
	}

	waitFor(t, time.Second, func() bool { return sink.count() >= 1 },
		"write-through never published an update")

	if err := c.Command(context.Background(), "nope", 1); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("Command(nope) error = %v, want ErrUnknownEntity", err)
	}
}

func TestCoordinator_Reload(t *testing.T) {
	fake := &fakeTransport{}
	fake.setReadFn(func(call readCall) ([]uint16, error) {
		words := make([]uint16, call.quantity)
		if call.address == 100 {
			words[0] = 215
		}
		return words, nil
	})

	source := &fakeSource{}
	c := mustStart(t, Options{
		Devices: []DeviceConfig{testDeviceConfig("hp", sensorSpec("hp_temp", 100), sensorSpec("hp_mode", 101))},
		Dial:    dialTo(fake),
		Source:  source,
	})

	waitFor(t, 2*time.Second, func() bool {
		ev, err := c.GetValue("hp_temp")
		return err == nil && ev.Available && ev.Value.Number == 215
	}, "initial poll never landed")

	// The revised set keeps hp_temp, drops hp_mode, adds hp_extra.
	source.set("hp", []*template.RegisterSpec{sensorSpec("hp_temp", 100), sensorSpec("hp_extra", 110)})
	if err := c.Reload("hp"); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if _, err := c.GetValue("hp_mode"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("GetValue(hp_mode) after reload error = %v, want ErrUnknownEntity", err)
	}
	ev, err := c.GetValue("hp_temp")
	if err != nil || !ev.Available || ev.Value.Number != 215 {
		t.Errorf("hp_temp after reload = %+v, %v, want last-known value kept", ev, err)
	}
	plan, err := c.GroupPlan("hp")
	if err != nil || plan.Registers != 2 {
		t.Errorf("plan after reload = %+v, %v, want 2 registers", plan, err)
	}

	// Source failure surfaces and changes nothing.
	source.setErr(errors.New("template store offline"))
	if err := c.Reload("hp"); err == nil || !strings.Contains(err.Error(), "reload source") {
		t.Errorf("Reload with source error = %v, want wrapped source failure", err)
	}
	source.setErr(nil)

	// A rejected register set leaves the running plan untouched.
	source.set("hp", []*template.RegisterSpec{sensorSpec("dup", 100), sensorSpec("dup", 200)})
	if err := c.Reload("hp"); !errors.Is(err, ErrConfig) {
		t.Errorf("Reload with duplicate ids error = %v, want ErrConfig", err)
	}
	plan, err = c.GroupPlan("hp")
	if err != nil || plan.Registers != 2 {
		t.Errorf("plan after rejected reload = %+v, %v, want previous plan live", plan, err)
	}

	if err := c.Reload("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Reload(nope) error = %v, want ErrUnknownDevice", err)
	}
}

func TestCoordinator_ReloadAll(t *testing.T) {
	fake := &fakeTransport{}
	source := &fakeSource{}
	c := mustStart(t, Options{
		Devices: []DeviceConfig{
			testDeviceConfig("hp", sensorSpec("hp_temp", 100)),
			testDeviceConfig("meter", sensorSpec("meter_power", 200)),
		},
		Dial:   dialTo(fake),
		Source: source,
	})

	source.set("hp", []*template.RegisterSpec{sensorSpec("hp_temp", 100), sensorSpec("hp_mode", 101)})
	source.set("meter", []*template.RegisterSpec{sensorSpec("meter_power", 200), sensorSpec("meter_energy", 201)})

	if err := c.Reload(""); err != nil {
		t.Fatalf("Reload all: %v", err)
	}
	for _, device := range []string{"hp", "meter"} {
		plan, err := c.GroupPlan(device)
		if err != nil || plan.Registers != 2 {
			t.Errorf("plan for %s after reload all = %+v, %v, want 2 registers", device, plan, err)
		}
	}

	// One bad device does not stop the rest from swapping.
	source.set("hp", []*template.RegisterSpec{sensorSpec("dup", 100), sensorSpec("dup", 200)})
	source.set("meter", []*template.RegisterSpec{sensorSpec("meter_power", 200)})
	err := c.Reload("")
	if !errors.Is(err, ErrConfig) || !strings.Contains(err.Error(), "hp") {
		t.Fatalf("Reload all with one bad device error = %v, want ErrConfig naming hp", err)
	}
	plan, err := c.GroupPlan("meter")
	if err != nil || plan.Registers != 1 {
		t.Errorf("meter plan after partial reload = %+v, %v, want the new single register", plan, err)
	}
	plan, err = c.GroupPlan("hp")
	if err != nil || plan.Registers != 2 {
		t.Errorf("hp plan after rejected reload = %+v, %v, want previous plan live", plan, err)
	}
}

func TestCoordinator_RemoveRegisters(t *testing.T) {
	fake := &fakeTransport{}
	c := mustStart(t, Options{
		Devices: []DeviceConfig{testDeviceConfig("hp",
			sensorSpec("hp_dhw_temp", 100),
			sensorSpec("hp_dhw_mode", 101),
			sensorSpec("hp_heat", 200),
		)},
		Dial: dialTo(fake),
	})

	n, err := c.RemoveRegisters("hp", "hp_dhw_*")
	if err != nil || n != 2 {
		t.Fatalf("RemoveRegisters = %d, %v, want 2, nil", n, err)
	}
	if _, err := c.GetValue("hp_dhw_temp"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("removed register still resolves, error = %v", err)
	}
	plan, err := c.GroupPlan("hp")
	if err != nil || plan.Registers != 1 {
		t.Errorf("plan after removal = %+v, %v, want 1 register", plan, err)
	}

	if n, err := c.RemoveRegisters("hp", "hp_dhw_*"); err != nil || n != 0 {
		t.Errorf("second removal = %d, %v, want 0, nil", n, err)
	}

	if n, err := c.RemoveRegisters("hp", "hp_heat"); err != nil || n != 1 {
		t.Errorf("exact-id removal = %d, %v, want 1, nil", n, err)
	}

	if _, err := c.RemoveRegisters("nope", "x"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("RemoveRegisters(nope) error = %v, want ErrUnknownDevice", err)
	}
}

func TestCoordinator_Performance(t *testing.T) {
	fake := &fakeTransport{}
	c := mustStart(t, Options{
		Devices: []DeviceConfig{testDeviceConfig("hp", sensorSpec("hp_temp", 100), sensorSpec("hp_mode", 101))},
		Dial:    dialTo(fake),
	})

	waitFor(t, 2*time.Second, func() bool {
		sum, err := c.Performance("hp")
		return err == nil && sum.TotalOperations >= 1
	}, "no operations recorded")

	sum, err := c.Performance("hp")
	if err != nil {
		t.Fatalf("Performance: %v", err)
	}
	if sum.Groups != 1 || sum.Registers != 2 || !approx(sum.Efficiency, 0.5) {
		t.Errorf("summary shape = %+v, want 1 group, 2 registers, efficiency 0.5", sum)
	}

	global, err := c.Performance("")
	if err != nil || global.TotalOperations < sum.TotalOperations {
		t.Errorf("global summary = %+v, %v, want at least the device totals", global, err)
	}

	if _, err := c.Performance("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Performance(nope) error = %v, want ErrUnknownDevice", err)
	}

	// Stop polling first so the reset result is stable.
	c.Stop()
	if err := c.ResetPerformance("hp"); err != nil {
		t.Fatalf("ResetPerformance: %v", err)
	}
	sum, _ = c.Performance("hp")
	if sum.TotalOperations != 0 {
		t.Errorf("TotalOperations after reset = %d, want 0", sum.TotalOperations)
	}
	if sum.Registers != 2 {
		t.Errorf("Registers after reset = %d, want plan shape kept", sum.Registers)
	}

	if err := c.ResetPerformance("nope"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("ResetPerformance(nope) error = %v, want ErrUnknownDevice", err)
	}
}

func TestCoordinator_SharedEndpointDialsOnce(t *testing.T) {
	fake := &fakeTransport{}
	dials := 0
	c := mustStart(t, Options{
		Devices: []DeviceConfig{
			testDeviceConfig("hp", sensorSpec("hp_temp", 100)),
			testDeviceConfig("inv", sensorSpec("inv_power", 5000)),
		},
		Dial: func(cfg transport.Config) (Transport, error) {
			dials++
			return fake, nil
		},
	})

	if dials != 1 {
		t.Errorf("dials = %d, want 1 for a shared endpoint", dials)
	}

	c.Stop()
	if fake.closes != 1 {
		t.Errorf("closes = %d, want the shared connection closed once", fake.closes)
	}
	c.Stop()
	if fake.closes != 1 {
		t.Errorf("closes after second Stop = %d, want still 1", fake.closes)
	}
}

func TestCoordinator_StartTwice(t *testing.T) {
	fake := &fakeTransport{}
	c := mustStart(t, Options{
		Devices: []DeviceConfig{testDeviceConfig("hp", sensorSpec("hp_temp", 100))},
		Dial:    dialTo(fake),
	})

	if err := c.Start(); !errors.Is(err, ErrConfig) {
		t.Errorf("second Start error = %v, want ErrConfig", err)
	}
}

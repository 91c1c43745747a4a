package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-modbus-core/internal/poller"
	"github.com/nerrad567/gray-modbus-core/internal/value"
)

type commandCall struct {
	uniqueID string
	target   any
}

// fakeEngine records commands and serves a fixed device list.
type fakeEngine struct {
	mu       sync.Mutex
	commands []commandCall
	err      error
	devices  []poller.DeviceStatus
}

func (e *fakeEngine) Command(_ context.Context, uniqueID string, target any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, commandCall{uniqueID: uniqueID, target: target})
	return e.err
}

func (e *fakeEngine) Devices() []poller.DeviceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]poller.DeviceStatus, len(e.devices))
	copy(out, e.devices)
	return out
}

func (e *fakeEngine) setDevices(devs ...poller.DeviceStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices = devs
}

func (e *fakeEngine) commandCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.commands)
}

func (e *fakeEngine) lastCommand() (commandCall, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.commands) == 0 {
		return commandCall{}, false
	}
	return e.commands[len(e.commands)-1], true
}

type pubRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// fakeMQTT records publishes and lets tests inject messages into
// registered subscription handlers.
type fakeMQTT struct {
	mu        sync.Mutex
	published []pubRecord
	handlers  map[string]mqtt.MessageHandler
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.published = append(m.published, pubRecord{topic: topic, payload: cp, qos: qos, retained: retained})
	return nil
}

func (m *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *fakeMQTT) IsConnected() bool { return true }

// inject delivers a message to every registered handler, the way the
// broker would for a matching wildcard subscription.
func (m *fakeMQTT) inject(topic string, payload []byte) error {
	m.mu.Lock()
	handlers := make([]mqtt.MessageHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	var err error
	for _, h := range handlers {
		if e := h(topic, payload); e != nil {
			err = e
		}
	}
	return err
}

func (m *fakeMQTT) subscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[topic]
	return ok
}

func (m *fakeMQTT) publishedTo(topic string) []pubRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pubRecord
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func newTestBridge(t *testing.T, engine *fakeEngine, client *fakeMQTT) *Bridge {
	t.Helper()
	b, err := New(Options{
		Engine:               engine,
		Client:               client,
		QoS:                  1,
		AvailabilityInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNew_Validation(t *testing.T) {
	engine := &fakeEngine{}
	client := newFakeMQTT()

	if _, err := New(Options{Client: client}); err == nil {
		t.Error("New() without engine expected error")
	}
	if _, err := New(Options{Engine: engine}); err == nil {
		t.Error("New() without client expected error")
	}
	if _, err := New(Options{Engine: engine, Client: client, QoS: 3}); err == nil {
		t.Error("New() with QoS 3 expected error")
	}
}

func TestStart_SubscribesToCommands(t *testing.T) {
	client := newFakeMQTT()
	newTestBridge(t, &fakeEngine{}, client)

	if !client.subscribed("graymodbus/command/+") {
		t.Error("bridge did not subscribe to graymodbus/command/+")
	}
}

func TestCommandDispatch(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantTarget any
		wantCmdID  string
	}{
		{"bare number", `42.5`, 42.5, ""},
		{"bare string", `"Comfort"`, "Comfort", ""},
		{"bare bool", `true`, true, ""},
		{"raw string", `Comfort`, "Comfort", ""},
		{"raw on", `on`, "on", ""},
		{"envelope", `{"id":"cmd-1","value":3,"source":"node-red"}`, float64(3), "cmd-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			client := newFakeMQTT()
			newTestBridge(t, engine, client)

			if err := client.inject("graymodbus/command/hp_mode", []byte(tt.payload)); err != nil {
				t.Fatalf("inject error = %v", err)
			}

			call, ok := engine.lastCommand()
			if !ok {
				t.Fatal("engine received no command")
			}
			if call.uniqueID != "hp_mode" {
				t.Errorf("uniqueID = %q, want hp_mode", call.uniqueID)
			}
			if call.target != tt.wantTarget {
				t.Errorf("target = %v (%T), want %v (%T)", call.target, call.target, tt.wantTarget, tt.wantTarget)
			}

			acks := client.publishedTo("graymodbus/ack/hp_mode")
			if len(acks) != 1 {
				t.Fatalf("acks published = %d, want 1", len(acks))
			}
			var ack AckMessage
			if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
				t.Fatalf("ack payload invalid: %v", err)
			}
			if ack.Status != AckOK {
				t.Errorf("ack status = %q, want %q", ack.Status, AckOK)
			}
			if ack.CommandID != tt.wantCmdID {
				t.Errorf("ack command_id = %q, want %q", ack.CommandID, tt.wantCmdID)
			}
			if acks[0].retained {
				t.Error("ack published retained, want not retained")
			}
		})
	}
}

func TestCommandFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("write timed out")}
	client := newFakeMQTT()

	var cbErr error
	b, err := New(Options{
		Engine: engine,
		Client: client,
		QoS:    1,
		OnCommand: func(_ CommandMessage, _ string, err error) {
			cbErr = err
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	if err := client.inject("graymodbus/command/hp_mode", []byte(`1`)); err == nil {
		t.Error("inject expected handler error for failed command")
	}

	acks := client.publishedTo("graymodbus/ack/hp_mode")
	if len(acks) != 1 {
		t.Fatalf("acks published = %d, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("ack payload invalid: %v", err)
	}
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
	if !strings.Contains(ack.Error, "write timed out") {
		t.Errorf("ack error = %q, want it to mention the failure", ack.Error)
	}
	if cbErr == nil {
		t.Error("OnCommand callback did not receive the error")
	}
}

func TestCommandEmptyPayload(t *testing.T) {
	engine := &fakeEngine{}
	client := newFakeMQTT()
	newTestBridge(t, engine, client)

	if err := client.inject("graymodbus/command/hp_mode", []byte("  ")); err == nil {
		t.Error("inject expected error for empty payload")
	}

	if engine.commandCount() != 0 {
		t.Errorf("engine commands = %d, want 0", engine.commandCount())
	}

	acks := client.publishedTo("graymodbus/ack/hp_mode")
	if len(acks) != 1 {
		t.Fatalf("acks published = %d, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("ack payload invalid: %v", err)
	}
	if ack.Status != AckFailed {
		t.Errorf("ack status = %q, want %q", ack.Status, AckFailed)
	}
}

func TestCommandMalformedTopic(t *testing.T) {
	engine := &fakeEngine{}
	client := newFakeMQTT()
	newTestBridge(t, engine, client)

	if err := client.inject("graymodbus/command", []byte(`1`)); err == nil {
		t.Error("inject expected error for malformed topic")
	}

	if engine.commandCount() != 0 {
		t.Errorf("engine commands = %d, want 0", engine.commandCount())
	}
}

func TestPublishValueFlowsToStateTopic(t *testing.T) {
	client := newFakeMQTT()
	b := newTestBridge(t, &fakeEngine{}, client)

	updated := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	b.PublishValue(poller.EntityValue{
		UniqueID:  "hp_flow_temp",
		Device:    "heat-pump",
		Name:      "Flow Temperature",
		Value:     value.NewNumber(21.5),
		Unit:      "°C",
		Updated:   updated,
		Available: true,
	})

	topic := "graymodbus/state/heat-pump/hp_flow_temp"
	waitFor(t, 2*time.Second, func() bool {
		return len(client.publishedTo(topic)) == 1
	}, "state update never published")

	rec := client.publishedTo(topic)[0]
	if !rec.retained {
		t.Error("state published without retained flag")
	}

	var msg StateMessage
	if err := json.Unmarshal(rec.payload, &msg); err != nil {
		t.Fatalf("state payload invalid: %v", err)
	}
	if msg.Value != 21.5 {
		t.Errorf("value = %v, want 21.5", msg.Value)
	}
	if !msg.Available {
		t.Error("available = false, want true")
	}
	if msg.Unit != "°C" {
		t.Errorf("unit = %q, want °C", msg.Unit)
	}
	if !msg.Timestamp.Equal(updated) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, updated)
	}
}

func TestPublishValueDropsWhenQueueFull(t *testing.T) {
	engine := &fakeEngine{}
	client := newFakeMQTT()

	// Not started: nothing drains the queue.
	b, err := New(Options{Engine: engine, Client: client, QoS: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ev := poller.EntityValue{UniqueID: "hp_x", Device: "hp", Value: value.NewNumber(1)}
	for i := 0; i < stateQueueSize+10; i++ {
		b.PublishValue(ev)
	}

	if got := len(b.updates); got != stateQueueSize {
		t.Errorf("queued updates = %d, want %d", got, stateQueueSize)
	}
}

func TestAvailabilityPublishedOnChange(t *testing.T) {
	engine := &fakeEngine{}
	engine.setDevices(poller.DeviceStatus{Name: "heat-pump", Connected: false})
	client := newFakeMQTT()
	newTestBridge(t, engine, client)

	topic := "graymodbus/availability/heat-pump"

	// Initial state published on Start.
	waitFor(t, 2*time.Second, func() bool {
		return len(client.publishedTo(topic)) >= 1
	}, "initial availability never published")

	var msg AvailabilityMessage
	if err := json.Unmarshal(client.publishedTo(topic)[0].payload, &msg); err != nil {
		t.Fatalf("availability payload invalid: %v", err)
	}
	if msg.Status != AvailabilityOffline {
		t.Errorf("status = %q, want %q", msg.Status, AvailabilityOffline)
	}

	// Reconnect flips the topic to online.
	engine.setDevices(poller.DeviceStatus{Name: "heat-pump", Connected: true})
	waitFor(t, 2*time.Second, func() bool {
		return len(client.publishedTo(topic)) >= 2
	}, "availability change never published")

	recs := client.publishedTo(topic)
	if err := json.Unmarshal(recs[len(recs)-1].payload, &msg); err != nil {
		t.Fatalf("availability payload invalid: %v", err)
	}
	if msg.Status != AvailabilityOnline {
		t.Errorf("status = %q, want %q", msg.Status, AvailabilityOnline)
	}
	if !recs[0].retained {
		t.Error("availability published without retained flag")
	}

	// Unchanged state publishes nothing further.
	count := len(client.publishedTo(topic))
	time.Sleep(50 * time.Millisecond)
	if got := len(client.publishedTo(topic)); got != count {
		t.Errorf("availability republished while unchanged: %d -> %d", count, got)
	}
}

func TestStopIdempotent(t *testing.T) {
	client := newFakeMQTT()
	b := newTestBridge(t, &fakeEngine{}, client)

	b.Stop()
	b.Stop()
}

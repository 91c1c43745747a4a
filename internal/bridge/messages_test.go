package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/poller"
	"github.com/nerrad567/gray-modbus-core/internal/value"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantValue any
		wantID    string
		wantErr   bool
	}{
		{"number", `42.5`, 42.5, "", false},
		{"integer", `7`, float64(7), "", false},
		{"quoted string", `"Comfort"`, "Comfort", "", false},
		{"bool", `false`, false, "", false},
		{"null", `null`, nil, "", false},
		{"raw string", `Comfort`, "Comfort", "", false},
		{"raw on", `on`, "on", "", false},
		{"envelope", `{"id":"cmd-9","value":55,"source":"scheduler"}`, float64(55), "cmd-9", false},
		{"envelope no id", `{"value":"off"}`, "off", "", false},
		{"bad envelope", `{"value":`, nil, "", true},
		{"empty", ``, nil, "", true},
		{"whitespace", "  \n ", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseCommand() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand() error = %v", err)
			}
			if cmd.Value != tt.wantValue {
				t.Errorf("value = %v (%T), want %v (%T)", cmd.Value, cmd.Value, tt.wantValue, tt.wantValue)
			}
			if cmd.ID != tt.wantID {
				t.Errorf("id = %q, want %q", cmd.ID, tt.wantID)
			}
		})
	}
}

func TestNewStateMessage(t *testing.T) {
	updated := time.Date(2026, 3, 1, 8, 30, 0, 0, time.FixedZone("CET", 3600))

	msg := NewStateMessage(poller.EntityValue{
		UniqueID:  "hp_flow_temp",
		Device:    "heat-pump",
		Name:      "Flow Temperature",
		Value:     value.NewNumber(38.5),
		Unit:      "°C",
		Updated:   updated,
		Available: true,
	})

	if msg.UniqueID != "hp_flow_temp" {
		t.Errorf("unique_id = %q, want hp_flow_temp", msg.UniqueID)
	}
	if msg.Device != "heat-pump" {
		t.Errorf("device = %q, want heat-pump", msg.Device)
	}
	if msg.Value != 38.5 {
		t.Errorf("value = %v, want 38.5", msg.Value)
	}
	if msg.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp zone = %v, want UTC", msg.Timestamp.Location())
	}
	if !msg.Timestamp.Equal(updated) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, updated)
	}
}

func TestNewStateMessageUnknownValue(t *testing.T) {
	msg := NewStateMessage(poller.EntityValue{
		UniqueID: "hp_flow_temp",
		Device:   "heat-pump",
		Value:    value.Unknown(),
	})

	if msg.Value != nil {
		t.Errorf("value = %v, want nil for unknown", msg.Value)
	}
	if msg.Available {
		t.Error("available = true, want false")
	}
}

func TestNewAck(t *testing.T) {
	cmd := CommandMessage{ID: "cmd-3", Value: 5}

	ack := NewAck(cmd, "hp_mode", nil)
	if ack.Status != AckOK {
		t.Errorf("status = %q, want %q", ack.Status, AckOK)
	}
	if ack.CommandID != "cmd-3" {
		t.Errorf("command_id = %q, want cmd-3", ack.CommandID)
	}
	if ack.Error != "" {
		t.Errorf("error = %q, want empty", ack.Error)
	}
	if ack.UniqueID != "hp_mode" {
		t.Errorf("unique_id = %q, want hp_mode", ack.UniqueID)
	}

	ack = NewAck(cmd, "hp_mode", errors.New("register not writable"))
	if ack.Status != AckFailed {
		t.Errorf("status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error != "register not writable" {
		t.Errorf("error = %q, want register not writable", ack.Error)
	}
}

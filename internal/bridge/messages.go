package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/poller"
)

// MQTT message types for the engine's external surface.

// StateMessage is published to graymodbus/state/{device}/{unique_id}
// whenever a register's value or availability changes.
// QoS: configured, Retained: yes.
type StateMessage struct {
	// UniqueID is the register entity identifier.
	UniqueID string `json:"unique_id"`

	// Device is the name of the polled device the entity belongs to.
	Device string `json:"device"`

	// Name is the display name, when the template declares one.
	Name string `json:"name,omitempty"`

	// Value is the decoded reading: number, string, bool, or null when
	// the reading is unknown.
	Value any `json:"value"`

	// Unit is the engineering unit, when the template declares one.
	Unit string `json:"unit,omitempty"`

	// Available reports whether the reading is current. An unavailable
	// entity keeps its last value but should not be trusted.
	Available bool `json:"available"`

	// Timestamp is when the reading was taken (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// NewStateMessage builds the wire form of one cache entry.
func NewStateMessage(ev poller.EntityValue) StateMessage {
	return StateMessage{
		UniqueID:  ev.UniqueID,
		Device:    ev.Device,
		Name:      ev.Name,
		Value:     ev.Value.Payload(),
		Unit:      ev.Unit,
		Available: ev.Available,
		Timestamp: ev.Updated.UTC(),
	}
}

// Availability statuses for device availability topics.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// AvailabilityMessage is published to graymodbus/availability/{device}
// when a device's reachability changes.
// QoS: configured, Retained: yes.
type AvailabilityMessage struct {
	// Device is the polled device name.
	Device string `json:"device"`

	// Status is "online" or "offline".
	Status string `json:"status"`

	// Timestamp is when the status was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is the parsed form of a payload received on
// graymodbus/command/{unique_id}.
//
// Two payload shapes are accepted: a bare JSON scalar (42.5, "Comfort",
// true) and an envelope object carrying correlation metadata:
//
//	{"id": "cmd-1a2b", "value": 42.5, "source": "node-red"}
//
// Non-JSON payloads are taken as plain string values so that simple
// publishers can send Comfort or on without quoting.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Optional.
	ID string `json:"id,omitempty"`

	// Value is the target value. May be null for button registers,
	// which ignore the payload entirely.
	Value any `json:"value"`

	// Source names the publisher, for the audit trail. Optional.
	Source string `json:"source,omitempty"`
}

// ParseCommand interprets a command payload.
func ParseCommand(payload []byte) (CommandMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return CommandMessage{}, errors.New("empty command payload")
	}

	if trimmed[0] == '{' {
		var cmd CommandMessage
		if err := json.Unmarshal(trimmed, &cmd); err != nil {
			return CommandMessage{}, fmt.Errorf("parsing command envelope: %w", err)
		}
		return cmd, nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		// Not JSON. Keep the raw bytes as a string value so payloads
		// like Comfort or on work without quoting.
		return CommandMessage{Value: string(trimmed)}, nil
	}
	return CommandMessage{Value: v}, nil
}

// Ack statuses.
const (
	AckOK     = "ok"
	AckFailed = "failed"
)

// AckMessage is published to graymodbus/ack/{unique_id} after every
// command, successful or not.
// QoS: configured, Retained: no.
type AckMessage struct {
	// CommandID echoes the ID from the command envelope, when present.
	CommandID string `json:"command_id,omitempty"`

	// UniqueID is the register entity the command addressed.
	UniqueID string `json:"unique_id"`

	// Status is "ok" or "failed".
	Status string `json:"status"`

	// Error describes the failure when Status is "failed".
	Error string `json:"error,omitempty"`

	// Timestamp is when the command finished (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// NewAck builds the acknowledgement for a finished command.
func NewAck(cmd CommandMessage, uniqueID string, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		UniqueID:  uniqueID,
		Status:    AckOK,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = err.Error()
	}
	return ack
}

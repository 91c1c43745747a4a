package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-modbus-core/internal/audit"
	"github.com/nerrad567/gray-modbus-core/internal/poller"
)

// ValueState is the wire form of one cached register reading. The same
// shape is used for REST responses and WebSocket value.changed events.
type ValueState struct {
	UniqueID  string    `json:"unique_id"`
	Device    string    `json:"device"`
	Name      string    `json:"name,omitempty"`
	Value     any       `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Available bool      `json:"available"`
	Updated   time.Time `json:"updated"`
}

// NewValueState converts a cache entry to its wire form. The decoded
// value flattens to a JSON number, string, bool, or null when unknown.
func NewValueState(ev poller.EntityValue) ValueState {
	return ValueState{
		UniqueID:  ev.UniqueID,
		Device:    ev.Device,
		Name:      ev.Name,
		Value:     ev.Value.Payload(),
		Unit:      ev.Unit,
		Available: ev.Available,
		Updated:   ev.Updated.UTC(),
	}
}

// CommandRequest is the body of POST /commands/{unique_id}.
type CommandRequest struct {
	// Value is the target value: number, string, or bool. Null is
	// accepted for button registers that fire on a fixed payload.
	Value any `json:"value"`
}

// handleListValues returns every cached register value, optionally
// filtered to one device.
//
// Query parameters:
//   - device: restrict results to a single device
func (s *Server) handleListValues(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")

	values, err := s.engine.Values(device)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	states := make([]ValueState, 0, len(values))
	for _, ev := range values {
		states = append(states, NewValueState(ev))
	}

	writeJSON(w, http.StatusOK, map[string]any{"values": states, "count": len(states)})
}

// handleGetValue returns the cached reading for one register entity.
func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	uniqueID := chi.URLParam(r, "unique_id")

	ev, err := s.engine.GetValue(uniqueID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewValueState(ev))
}

// handleCommand writes a control value to a device register, bypassing
// the poll schedule. The write is synchronous: a 200 means the device
// acknowledged it on the wire.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	uniqueID := chi.URLParam(r, "unique_id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.engine.Command(r.Context(), uniqueID, req.Value); err != nil {
		writeEngineError(w, err)
		return
	}

	s.auditLog(audit.ActionCommand, audit.EntityRegister, uniqueID, map[string]any{
		"value": req.Value,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"unique_id": uniqueID,
		"status":    "ok",
	})
}

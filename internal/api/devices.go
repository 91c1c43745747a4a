package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-modbus-core/internal/audit"
)

// handleListDevices returns the status of every configured device,
// including ones whose register set was rejected at load.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.engine.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device's status by name.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	status, ok := s.findDevice(name)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleDeviceValues returns the cached register values for one device.
func (s *Server) handleDeviceValues(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	values, err := s.engine.Values(name)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	states := make([]ValueState, 0, len(values))
	for _, ev := range values {
		states = append(states, NewValueState(ev))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device": name,
		"values": states,
		"count":  len(states),
	})
}

// handleDevicePlan returns the device's active read plan: the optimized
// groups the scheduler actually executes, with their member registers.
func (s *Server) handleDevicePlan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	plan, err := s.engine.GroupPlan(name)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// handleReloadDevice rebuilds a device's register plan from fresh specs.
// Surviving registers keep their cached values. On a build failure the
// previous plan stays live and the error is returned to the caller.
func (s *Server) handleReloadDevice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.engine.Reload(name); err != nil {
		writeEngineError(w, err)
		return
	}

	s.auditLog(audit.ActionReload, audit.EntityDevice, name, nil)

	// Return the freshly built plan so the caller sees what went live.
	plan, err := s.engine.GroupPlan(name)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// handleReloadAll rebuilds every device's register plan from fresh
// specs. A device whose rebuild fails keeps its previous plan while
// the rest swap, so a failure response still means the healthy
// devices reloaded.
func (s *Server) handleReloadAll(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Reload(""); err != nil {
		writeEngineError(w, err)
		return
	}

	s.auditLog(audit.ActionReload, audit.EntityEngine, "", nil)

	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded", "scope": "engine"})
}

// handleRemoveRegisters unloads registers from a device's plan.
//
// Query parameters:
//   - selector: exact unique_id or path-style glob (hp_dhw_*), required
//
// The plan rebuilds without the matched registers and their cached
// values drop immediately.
func (s *Server) handleRemoveRegisters(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	selector := strings.TrimSpace(r.URL.Query().Get("selector"))
	if selector == "" {
		writeBadRequest(w, "selector is required")
		return
	}

	removed, err := s.engine.RemoveRegisters(name, selector)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.auditLog(audit.ActionRemove, audit.EntityDevice, name, map[string]any{
		"selector": selector,
		"removed":  removed,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"device":   name,
		"selector": selector,
		"removed":  removed,
	})
}

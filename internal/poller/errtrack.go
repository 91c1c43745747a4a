package poller

import (
	"sort"
	"sync"
	"time"
)

// suppressionWindow is how long repeat failures for one register stay
// off the log after a logged line.
const suppressionWindow = time.Hour

// ErrorRecord is the diagnostic view of one tracked register failure.
type ErrorRecord struct {
	Device     string    `json:"device"`
	UniqueID   string    `json:"unique_id"`
	Kind       string    `json:"kind"`
	FirstSeen  time.Time `json:"first_seen"`
	LastLogged time.Time `json:"last_logged"`
	Suppressed int       `json:"suppressed"`
}

type errorKey struct {
	device   string
	uniqueID string
}

type errorRecord struct {
	kind       string
	firstSeen  time.Time
	lastLogged time.Time
	suppressed int
}

// ErrorTracker suppresses repeat failure logging per register. The
// first failure logs immediately, warn for required registers and debug
// for optional ones. Repeats within the suppression window count
// silently; once the window lapses the next failure logs again with the
// suppressed count. A successful read clears the record.
type ErrorTracker struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	logger  Logger
	records map[errorKey]*errorRecord
}

// NewErrorTracker returns a tracker logging through the given logger.
func NewErrorTracker(logger Logger) *ErrorTracker {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ErrorTracker{
		window:  suppressionWindow,
		now:     time.Now,
		logger:  logger,
		records: make(map[errorKey]*errorRecord),
	}
}

// Failure records a failed operation for one register and decides
// whether it deserves a log line.
func (t *ErrorTracker) Failure(device, uniqueID, kind string, optional bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := errorKey{device: device, uniqueID: uniqueID}
	rec, ok := t.records[key]
	if !ok {
		t.records[key] = &errorRecord{kind: kind, firstSeen: now, lastLogged: now}
		t.emit(optional, "register failing",
			"device", device,
			"entity", uniqueID,
			"kind", kind,
			"error", err)
		return
	}

	rec.kind = kind
	if now.Sub(rec.lastLogged) < t.window {
		rec.suppressed++
		t.logger.Debug("register still failing",
			"device", device,
			"entity", uniqueID,
			"kind", kind,
			"suppressed", rec.suppressed,
			"error", err)
		return
	}

	t.emit(optional, "register still failing",
		"device", device,
		"entity", uniqueID,
		"kind", kind,
		"suppressed", rec.suppressed,
		"first_seen", rec.firstSeen,
		"error", err)
	rec.lastLogged = now
	rec.suppressed = 0
}

// Success clears any tracked failure for a register.
func (t *ErrorTracker) Success(device, uniqueID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, errorKey{device: device, uniqueID: uniqueID})
}

// Records returns the current failure records sorted by device then
// unique_id.
func (t *ErrorTracker) Records() []ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ErrorRecord, 0, len(t.records))
	for key, rec := range t.records {
		out = append(out, ErrorRecord{
			Device:     key.device,
			UniqueID:   key.uniqueID,
			Kind:       rec.kind,
			FirstSeen:  rec.firstSeen,
			LastLogged: rec.lastLogged,
			Suppressed: rec.suppressed,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].UniqueID < out[j].UniqueID
	})
	return out
}

// DropDevice clears every record belonging to a device.
func (t *ErrorTracker) DropDevice(device string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.records {
		if key.device == device {
			delete(t.records, key)
		}
	}
}

// Drop discards the records for registers that were unloaded from a
// device.
func (t *ErrorTracker) Drop(device string, uniqueIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range uniqueIDs {
		delete(t.records, errorKey{device: device, uniqueID: id})
	}
}

// emit logs at warn, or debug for optional registers.
func (t *ErrorTracker) emit(optional bool, msg string, args ...any) {
	if optional {
		t.logger.Debug(msg, args...)
		return
	}
	t.logger.Warn(msg, args...)
}

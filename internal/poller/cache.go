package poller

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/template"
	"github.com/nerrad567/gray-modbus-core/internal/value"
)

// EntityValue is one cache entry: the most recently decoded value for a
// register entity plus its availability.
type EntityValue struct {
	UniqueID  string
	Device    string
	Name      string
	Value     value.Value
	Unit      string
	Updated   time.Time
	Available bool
}

// Cache is the live entity value store. Each device's task is the sole
// writer for its own entries; readers receive copies.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]EntityValue
	byDevice map[string]map[string]struct{}
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries:  make(map[string]EntityValue),
		byDevice: make(map[string]map[string]struct{}),
	}
}

// Put stores an entry and reports whether its externally visible state
// changed: a different value, or a different availability flag. Callers
// use the result to decide whether to emit an update event.
func (c *Cache) Put(ev EntityValue) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, exists := c.entries[ev.UniqueID]
	c.entries[ev.UniqueID] = ev
	c.index(ev.Device, ev.UniqueID)

	if !exists {
		return true
	}
	return old.Available != ev.Available || !sameValue(old.Value, ev.Value)
}

// Get returns the entry for a unique_id.
func (c *Cache) Get(uniqueID string) (EntityValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.entries[uniqueID]
	return ev, ok
}

// Raw returns the most recent raw register value for a unique_id.
// It resolves only for available entries carrying a raw word; anything
// else reports false so dependency gates fall back.
func (c *Cache) Raw(uniqueID string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.entries[uniqueID]
	if !ok || !ev.Available || !ev.Value.HasRaw {
		return 0, false
	}
	return ev.Value.Raw, true
}

// MarkUnavailable flags the given registers' entries unavailable,
// creating unknown-valued entries for registers never read. It returns
// the entries whose availability actually flipped, for event emission.
func (c *Cache) MarkUnavailable(device string, specs []*template.RegisterSpec, at time.Time) []EntityValue {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []EntityValue
	for _, spec := range specs {
		ev, ok := c.entries[spec.UniqueID]
		if ok && !ev.Available {
			continue
		}
		if !ok {
			ev = EntityValue{
				UniqueID: spec.UniqueID,
				Device:   device,
				Name:     spec.Name,
				Value:    value.Unknown(),
				Unit:     spec.Unit,
			}
		}
		ev.Available = false
		ev.Updated = at
		c.entries[spec.UniqueID] = ev
		c.index(device, spec.UniqueID)
		changed = append(changed, ev)
	}
	return changed
}

// DeviceSnapshot returns copies of a device's entries sorted by
// unique_id.
func (c *Cache) DeviceSnapshot(device string) []EntityValue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.byDevice[device]
	out := make([]EntityValue, 0, len(ids))
	for id := range ids {
		out = append(out, c.entries[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

// Snapshot returns copies of every entry sorted by device then
// unique_id.
func (c *Cache) Snapshot() []EntityValue {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EntityValue, 0, len(c.entries))
	for _, ev := range c.entries {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].UniqueID < out[j].UniqueID
	})
	return out
}

// Drop removes the given unique_ids from a device's entries.
func (c *Cache) Drop(device string, uniqueIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range uniqueIDs {
		delete(c.entries, id)
		if ids := c.byDevice[device]; ids != nil {
			delete(ids, id)
		}
	}
}

// DropDevice removes every entry belonging to a device.
func (c *Cache) DropDevice(device string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.byDevice[device] {
		delete(c.entries, id)
	}
	delete(c.byDevice, device)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// index records id under device. Callers hold the write lock.
func (c *Cache) index(device, id string) {
	ids := c.byDevice[device]
	if ids == nil {
		ids = make(map[string]struct{})
		c.byDevice[device] = ids
	}
	ids[id] = struct{}{}
}

// sameValue compares the displayable part of two values. Raw words are
// deliberately excluded: a raw change hidden by precision rounding is
// not an externally visible change.
func sameValue(a, b value.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case value.KindNumber:
		return a.Number == b.Number
	case value.KindText:
		return a.Text == b.Text
	case value.KindBool:
		return a.Bool == b.Bool
	default:
		return true
	}
}

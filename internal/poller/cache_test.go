package poller

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/template"
	"github.com/nerrad567/gray-modbus-core/internal/value"
)

func testEntity(device, id string, v value.Value) EntityValue {
	return EntityValue{
		UniqueID:  id,
		Device:    device,
		Name:      id,
		Value:     v,
		Updated:   time.Now(),
		Available: true,
	}
}

func TestCache_PutChangeDetection(t *testing.T) {
	c := NewCache()

	ev := testEntity("hp", "hp_temp", value.NewNumber(21.5))
	if !c.Put(ev) {
		t.Fatal("first Put = false, want true")
	}

	// Same reading again: only the timestamp moved, nothing to publish.
	ev.Updated = ev.Updated.Add(time.Second)
	if c.Put(ev) {
		t.Error("Put with unchanged value = true, want false")
	}

	ev.Value = value.NewNumber(22.0)
	if !c.Put(ev) {
		t.Error("Put with changed number = false, want true")
	}

	ev.Available = false
	if !c.Put(ev) {
		t.Error("Put with availability flip = false, want true")
	}

	got, ok := c.Get("hp_temp")
	if !ok {
		t.Fatal("Get after Put = miss")
	}
	if got.Available || got.Value.Number != 22.0 {
		t.Errorf("Get = %+v, want unavailable 22.0", got)
	}
}

func TestCache_PutIgnoresRawOnlyChange(t *testing.T) {
	c := NewCache()

	ev := testEntity("hp", "hp_temp", value.Value{Kind: value.KindNumber, Number: 21.5, Raw: 215, HasRaw: true})
	c.Put(ev)

	// A different raw pattern decoding to the same reading is not a
	// state change.
	ev.Value.Raw = 999
	if c.Put(ev) {
		t.Error("Put with raw-only change = true, want false")
	}
}

func TestCache_Raw(t *testing.T) {
	c := NewCache()

	withRaw := testEntity("hp", "hp_mode", value.Value{Kind: value.KindText, Text: "heating", Raw: 2, HasRaw: true})
	c.Put(withRaw)

	noRaw := testEntity("hp", "hp_label", value.NewText("SH10RT"))
	c.Put(noRaw)

	offline := testEntity("hp", "hp_state", value.Value{Kind: value.KindNumber, Number: 1, Raw: 1, HasRaw: true})
	offline.Available = false
	c.Put(offline)

	if raw, ok := c.Raw("hp_mode"); !ok || raw != 2 {
		t.Errorf("Raw(hp_mode) = %d, %v, want 2, true", raw, ok)
	}
	if _, ok := c.Raw("hp_label"); ok {
		t.Error("Raw(hp_label) = hit, want miss for value without raw")
	}
	if _, ok := c.Raw("hp_state"); ok {
		t.Error("Raw(hp_state) = hit, want miss for unavailable entry")
	}
	if _, ok := c.Raw("nope"); ok {
		t.Error("Raw(nope) = hit, want miss")
	}
}

func TestCache_MarkUnavailable(t *testing.T) {
	c := NewCache()
	c.Put(testEntity("hp", "hp_temp", value.NewNumber(21.5)))

	specs := []*template.RegisterSpec{
		{UniqueID: "hp_temp", Name: "Temperature", Unit: "°C"},
		{UniqueID: "hp_mode", Name: "Mode"},
	}
	at := time.Now()

	flipped := c.MarkUnavailable("hp", specs, at)
	if len(flipped) != 2 {
		t.Fatalf("MarkUnavailable flipped %d entries, want 2", len(flipped))
	}

	// The read register keeps its last value, now flagged stale.
	temp, _ := c.Get("hp_temp")
	if temp.Available {
		t.Error("hp_temp still available after MarkUnavailable")
	}
	if temp.Value.Number != 21.5 {
		t.Errorf("hp_temp value = %v, want last-known 21.5 retained", temp.Value.Number)
	}

	// The never-read register gains an unknown placeholder entry.
	mode, ok := c.Get("hp_mode")
	if !ok {
		t.Fatal("hp_mode has no cache entry after MarkUnavailable")
	}
	if mode.Available || !mode.Value.IsUnknown() {
		t.Errorf("hp_mode = %+v, want unavailable unknown", mode)
	}

	// Already-unavailable entries do not flip again.
	if again := c.MarkUnavailable("hp", specs, at.Add(time.Second)); len(again) != 0 {
		t.Errorf("second MarkUnavailable flipped %d entries, want 0", len(again))
	}
}

func TestCache_Snapshots(t *testing.T) {
	c := NewCache()
	c.Put(testEntity("inv", "inv_power", value.NewNumber(3500)))
	c.Put(testEntity("hp", "hp_temp", value.NewNumber(21.5)))
	c.Put(testEntity("hp", "hp_mode", value.NewText("heating")))

	dev := c.DeviceSnapshot("hp")
	if len(dev) != 2 {
		t.Fatalf("DeviceSnapshot(hp) has %d entries, want 2", len(dev))
	}
	if dev[0].UniqueID != "hp_mode" || dev[1].UniqueID != "hp_temp" {
		t.Errorf("DeviceSnapshot order = %s, %s, want hp_mode, hp_temp", dev[0].UniqueID, dev[1].UniqueID)
	}

	all := c.Snapshot()
	if len(all) != 3 {
		t.Fatalf("Snapshot has %d entries, want 3", len(all))
	}
	if all[0].Device != "hp" || all[2].Device != "inv" {
		t.Errorf("Snapshot device order = %s...%s, want hp...inv", all[0].Device, all[2].Device)
	}

	if got := c.DeviceSnapshot("nope"); len(got) != 0 {
		t.Errorf("DeviceSnapshot(nope) has %d entries, want 0", len(got))
	}
}

func TestCache_Drop(t *testing.T) {
	c := NewCache()
	c.Put(testEntity("hp", "hp_temp", value.NewNumber(21.5)))
	c.Put(testEntity("hp", "hp_mode", value.NewText("heating")))
	c.Put(testEntity("inv", "inv_power", value.NewNumber(3500)))

	c.Drop("hp", []string{"hp_temp", "not_cached"})
	if _, ok := c.Get("hp_temp"); ok {
		t.Error("hp_temp survived Drop")
	}
	if _, ok := c.Get("hp_mode"); !ok {
		t.Error("hp_mode dropped, want kept")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	c.DropDevice("hp")
	if got := c.DeviceSnapshot("hp"); len(got) != 0 {
		t.Errorf("DeviceSnapshot(hp) after DropDevice has %d entries, want 0", len(got))
	}
	if _, ok := c.Get("inv_power"); !ok {
		t.Error("inv_power lost to another device's DropDevice")
	}
}

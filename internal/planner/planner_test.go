package planner

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/template"
)

func testRegister(id string, addr uint16, words int) *template.RegisterSpec {
	return &template.RegisterSpec{
		Kind:         template.KindSensor,
		Name:         id,
		UniqueID:     id,
		Address:      addr,
		RegisterType: template.RegisterHolding,
		DataType:     template.TypeUint16,
		Words:        words,
		Scale:        1,
		Precision:    -1,
		BitPosition:  -1,
	}
}

func testOptions() Options {
	return Options{
		MaxBatchWords:     50,
		GapMergeThreshold: 10,
		DefaultSlaveID:    1,
		DefaultInterval:   30 * time.Second,
	}
}

func TestPlan_GapThreshold(t *testing.T) {
	specs := []*template.RegisterSpec{
		testRegister("a", 100, 1),
		testRegister("b", 101, 1),
		testRegister("c", 102, 1),
		testRegister("d", 150, 1),
	}

	t.Run("small gap threshold splits", func(t *testing.T) {
		opts := testOptions()
		groups, err := Plan(specs, opts)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		if len(groups) != 2 {
			t.Fatalf("got %d groups, want 2", len(groups))
		}
		if groups[0].Start != 100 || groups[0].Count != 3 {
			t.Errorf("group 0 = %d+%d, want 100+3", groups[0].Start, groups[0].Count)
		}
		if groups[1].Start != 150 || groups[1].Count != 1 {
			t.Errorf("group 1 = %d+%d, want 150+1", groups[1].Start, groups[1].Count)
		}
	})

	t.Run("large gap threshold merges", func(t *testing.T) {
		opts := testOptions()
		opts.GapMergeThreshold = 60
		groups, err := Plan(specs, opts)
		if err != nil {
			t.Fatalf("Plan failed: %v", err)
		}
		if len(groups) != 1 {
			t.Fatalf("got %d groups, want 1", len(groups))
		}
		g := groups[0]
		if g.Start != 100 || g.End() != 150 {
			t.Errorf("group = %d..%d, want 100..150", g.Start, g.End())
		}
		if g.Count != 51 {
			t.Errorf("Count = %d, want 51", g.Count)
		}
		if len(g.Registers) != 4 {
			t.Errorf("got %d members, want 4", len(g.Registers))
		}
	})
}

func TestPlan_PartitionsByTableAndSlave(t *testing.T) {
	holding := testRegister("h", 0, 1)
	input := testRegister("i", 0, 1)
	input.RegisterType = template.RegisterInput
	otherSlave := testRegister("s", 0, 1)
	otherSlave.SlaveID = 2

	groups, err := Plan([]*template.RegisterSpec{input, otherSlave, holding}, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("got %d groups, want 3", len(groups))
	}

	// Partitions come out in sorted (table, slave) order.
	wantTypes := []template.RegisterType{template.RegisterHolding, template.RegisterHolding, template.RegisterInput}
	wantSlaves := []uint8{1, 2, 1}
	for i, g := range groups {
		if g.RegisterType != wantTypes[i] || g.SlaveID != wantSlaves[i] {
			t.Errorf("group %d = %s/%d, want %s/%d", i, g.RegisterType, g.SlaveID, wantTypes[i], wantSlaves[i])
		}
	}
}

func TestPlan_ExplicitSlaveMatchingDefaultShares(t *testing.T) {
	a := testRegister("a", 0, 1)
	b := testRegister("b", 1, 1)
	b.SlaveID = 1 // explicit, same as the default

	groups, err := Plan([]*template.RegisterSpec{a, b}, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1; explicit slave equal to the default must share a partition", len(groups))
	}
}

func TestPlan_MultiWordSpansStayWhole(t *testing.T) {
	specs := []*template.RegisterSpec{
		testRegister("power", 100, 2),
		testRegister("energy", 102, 4),
		testRegister("state", 106, 1),
	}

	groups, err := Plan(specs, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Start != 100 || groups[0].Count != 7 {
		t.Errorf("group = %d+%d, want 100+7", groups[0].Start, groups[0].Count)
	}
}

func TestPlan_SpanTooWide(t *testing.T) {
	opts := testOptions()
	opts.MaxBatchWords = 2

	_, err := Plan([]*template.RegisterSpec{testRegister("wide", 0, 4)}, opts)
	if !errors.Is(err, ErrSpanTooWide) {
		t.Fatalf("error = %v, want ErrSpanTooWide", err)
	}
}

func TestPlan_SpanPastAddressSpace(t *testing.T) {
	_, err := Plan([]*template.RegisterSpec{testRegister("edge", 65535, 2)}, testOptions())
	if !errors.Is(err, ErrSpanTooWide) {
		t.Fatalf("error = %v, want ErrSpanTooWide", err)
	}
}

func TestPlan_GroupWidthBound(t *testing.T) {
	// Registers every third address over a wide span, with a gap
	// threshold that never blocks merging. Group count must stay within
	// ceil(range/width) and no group may exceed the batch width.
	var specs []*template.RegisterSpec
	for addr := 0; addr <= 117; addr += 3 {
		specs = append(specs, testRegister(fmt.Sprintf("reg_%d", addr), uint16(addr), 1))
	}

	opts := testOptions()
	opts.MaxBatchWords = 40
	opts.GapMergeThreshold = 40

	groups, err := Plan(specs, opts)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	const addressRange = 117
	maxGroups := (addressRange + opts.MaxBatchWords - 1) / opts.MaxBatchWords
	if len(groups) > maxGroups {
		t.Errorf("got %d groups, bound is %d", len(groups), maxGroups)
	}
	for i, g := range groups {
		if int(g.End())-int(g.Start) > opts.MaxBatchWords {
			t.Errorf("group %d spans %d..%d, wider than %d", i, g.Start, g.End(), opts.MaxBatchWords)
		}
	}
}

func TestPlan_Deterministic(t *testing.T) {
	specs := []*template.RegisterSpec{
		testRegister("a", 10, 2),
		testRegister("b", 13, 1),
		testRegister("c", 40, 4),
		testRegister("d", 100, 1),
	}

	first, err := Plan(specs, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Plan(specs, testOptions())
		if err != nil {
			t.Fatalf("Plan failed on repeat: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("iteration %d: plan differs from first run", i)
		}
	}
}

func TestPlan_ButtonsExcluded(t *testing.T) {
	button := testRegister("restart", 50, 1)
	button.Kind = template.KindControl
	button.Control = template.ControlButton

	groups, err := Plan([]*template.RegisterSpec{button}, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0; buttons have no read state", len(groups))
	}
}

func TestPlan_MinimumMemberInterval(t *testing.T) {
	slow := testRegister("slow", 0, 1)
	slow.ScanInterval = 60 * time.Second
	fast := testRegister("fast", 1, 1)
	fast.ScanInterval = 10 * time.Second
	inherit := testRegister("inherit", 2, 1)

	groups, err := Plan([]*template.RegisterSpec{slow, fast, inherit}, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if got := groups[0].ScanInterval; got != 10*time.Second {
		t.Errorf("ScanInterval = %v, want 10s (minimum member)", got)
	}
}

func TestPlan_SharedAddress(t *testing.T) {
	raw := testRegister("state_raw", 100, 1)
	mapped := testRegister("state_label", 100, 1)

	groups, err := Plan([]*template.RegisterSpec{raw, mapped}, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Count != 1 || len(groups[0].Registers) != 2 {
		t.Errorf("group = %d words %d members, want 1 word 2 members", groups[0].Count, len(groups[0].Registers))
	}
}

func TestPlan_BadOptions(t *testing.T) {
	specs := []*template.RegisterSpec{testRegister("a", 0, 1)}

	opts := testOptions()
	opts.MaxBatchWords = 0
	if _, err := Plan(specs, opts); !errors.Is(err, ErrBadOptions) {
		t.Errorf("zero batch width: error = %v, want ErrBadOptions", err)
	}

	opts = testOptions()
	opts.GapMergeThreshold = -1
	if _, err := Plan(specs, opts); !errors.Is(err, ErrBadOptions) {
		t.Errorf("negative gap threshold: error = %v, want ErrBadOptions", err)
	}
}

func TestRegisterCount(t *testing.T) {
	specs := []*template.RegisterSpec{
		testRegister("a", 0, 1),
		testRegister("b", 1, 1),
		testRegister("c", 200, 1),
	}
	groups, err := Plan(specs, testOptions())
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if got := RegisterCount(groups); got != 3 {
		t.Errorf("RegisterCount = %d, want 3", got)
	}
}

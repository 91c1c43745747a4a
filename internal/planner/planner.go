package planner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/template"
)

// Options tune how registers pack into read groups.
type Options struct {
	// MaxBatchWords caps a group's address span, measured start to last
	// covered address.
	MaxBatchWords int

	// GapMergeThreshold is the largest run of unused filler words worth
	// reading to avoid a second request.
	GapMergeThreshold int

	// DefaultSlaveID applies to registers without their own override.
	DefaultSlaveID uint8

	// DefaultInterval applies to registers without their own interval.
	DefaultInterval time.Duration
}

// Group is one contiguous read: Count words from Start on a single
// register table and slave. Registers holds the members in ascending
// address order; filler words between them are read and discarded.
type Group struct {
	RegisterType template.RegisterType
	SlaveID      uint8
	Start        uint16
	Count        int

	// ScanInterval is the minimum of the members' intervals.
	ScanInterval time.Duration

	Registers []*template.RegisterSpec
}

// End returns the last address the group covers.
func (g *Group) End() uint16 {
	return g.Start + uint16(g.Count) - 1
}

// String renders the wire parameters for logs and diagnostics.
func (g *Group) String() string {
	return fmt.Sprintf("%s/%d %d..%d (%d words, %d registers)",
		g.RegisterType, g.SlaveID, g.Start, g.End(), g.Count, len(g.Registers))
}

type partitionKey struct {
	registerType template.RegisterType
	slaveID      uint8
}

// Plan batches the pollable registers into read groups. Identical
// inputs always produce identical output: partitions are visited in
// sorted key order and members in ascending address order, document
// order breaking address ties.
func Plan(specs []*template.RegisterSpec, opts Options) ([]*Group, error) {
	if opts.MaxBatchWords < 1 {
		return nil, fmt.Errorf("%w: max batch words %d", ErrBadOptions, opts.MaxBatchWords)
	}
	if opts.GapMergeThreshold < 0 {
		return nil, fmt.Errorf("%w: gap merge threshold %d", ErrBadOptions, opts.GapMergeThreshold)
	}

	parts := make(map[partitionKey][]*template.RegisterSpec)
	for _, spec := range specs {
		if !spec.Polled() {
			continue
		}
		spanEnd := int(spec.Address) + spec.Words - 1
		if spanEnd > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %s runs past the address space", ErrSpanTooWide, spec.UniqueID)
		}
		if spec.Words-1 > opts.MaxBatchWords {
			return nil, fmt.Errorf("%w: %s needs %d words, batch width is %d",
				ErrSpanTooWide, spec.UniqueID, spec.Words, opts.MaxBatchWords)
		}

		key := partitionKey{spec.RegisterType, resolveSlave(spec, opts)}
		parts[key] = append(parts[key], spec)
	}

	keys := make([]partitionKey, 0, len(parts))
	for key := range parts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].registerType != keys[j].registerType {
			return keys[i].registerType < keys[j].registerType
		}
		return keys[i].slaveID < keys[j].slaveID
	})

	var groups []*Group
	for _, key := range keys {
		members := parts[key]
		sort.SliceStable(members, func(i, j int) bool {
			return members[i].Address < members[j].Address
		})
		groups = append(groups, packPartition(key, members, opts)...)
	}

	return groups, nil
}

// packPartition merges one sorted partition greedily.
func packPartition(key partitionKey, members []*template.RegisterSpec, opts Options) []*Group {
	var groups []*Group
	var current *Group
	end := 0 // last covered address of the open group

	flush := func() {
		if current == nil {
			return
		}
		current.Count = end - int(current.Start) + 1
		groups = append(groups, current)
		current = nil
	}

	for _, spec := range members {
		spanEnd := int(spec.Address) + spec.Words - 1

		if current != nil {
			newEnd := end
			if spanEnd > newEnd {
				newEnd = spanEnd
			}
			gap := 0
			if int(spec.Address) > end {
				gap = int(spec.Address) - end - 1
			}
			if gap <= opts.GapMergeThreshold && newEnd-int(current.Start) <= opts.MaxBatchWords {
				current.Registers = append(current.Registers, spec)
				end = newEnd
				if iv := resolveInterval(spec, opts); iv < current.ScanInterval {
					current.ScanInterval = iv
				}
				continue
			}
			flush()
		}

		current = &Group{
			RegisterType: key.registerType,
			SlaveID:      key.slaveID,
			Start:        spec.Address,
			ScanInterval: resolveInterval(spec, opts),
			Registers:    []*template.RegisterSpec{spec},
		}
		end = spanEnd
	}
	flush()

	return groups
}

func resolveSlave(spec *template.RegisterSpec, opts Options) uint8 {
	if spec.SlaveID != 0 {
		return spec.SlaveID
	}
	return opts.DefaultSlaveID
}

func resolveInterval(spec *template.RegisterSpec, opts Options) time.Duration {
	if spec.ScanInterval > 0 {
		return spec.ScanInterval
	}
	return opts.DefaultInterval
}

// RegisterCount sums the members across groups, the denominator for
// batching-efficiency figures.
func RegisterCount(groups []*Group) int {
	total := 0
	for _, g := range groups {
		total += len(g.Registers)
	}
	return total
}

package poller

import (
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/gray-modbus-core/internal/condition"
	"github.com/nerrad567/gray-modbus-core/internal/planner"
	"github.com/nerrad567/gray-modbus-core/internal/template"
)

// generation is one immutable configuration build: the register set
// active under the device's context plus its batched read plan. A
// reload builds a new generation off to the side and swaps the pointer;
// the groups and spec map are never mutated after construction.
type generation struct {
	builtAt time.Time
	specs   map[string]*template.RegisterSpec
	groups  []*planner.Group
	polled  int
}

// buildGeneration filters a device's registers through their conditions
// and plans the read groups. Malformed conditions, duplicate
// unique_ids, circular dependencies, and unplannable spans are
// configuration errors; the device must not go live on them.
func buildGeneration(cfg *DeviceConfig, at time.Time) (*generation, error) {
	var ctx condition.Context = condition.MapContext(nil)
	if cfg.Context != nil {
		ctx = cfg.Context
	}

	gen := &generation{
		builtAt: at,
		specs:   make(map[string]*template.RegisterSpec, len(cfg.Specs)),
	}

	var active []*template.RegisterSpec
	for _, spec := range cfg.Specs {
		if spec.Condition != "" {
			if err := condition.Validate(spec.Condition); err != nil {
				return nil, fmt.Errorf("%w: register %s condition: %v", ErrConfig, spec.UniqueID, err)
			}
			if !condition.Evaluate(spec.Condition, ctx) {
				continue
			}
		}
		if _, dup := gen.specs[spec.UniqueID]; dup {
			return nil, fmt.Errorf("%w: duplicate unique_id %s", ErrConfig, spec.UniqueID)
		}
		gen.specs[spec.UniqueID] = spec
		active = append(active, spec)
		if spec.Polled() {
			gen.polled++
		}
	}

	if err := checkDependencyCycles(gen.specs); err != nil {
		return nil, err
	}

	groups, err := planner.Plan(active, planner.Options{
		MaxBatchWords:     cfg.MaxBatchWords,
		GapMergeThreshold: *cfg.GapMergeThreshold,
		DefaultSlaveID:    cfg.SlaveID,
		DefaultInterval:   cfg.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	gen.groups = groups

	return gen, nil
}

// checkDependencyCycles rejects depends_on chains that loop back inside
// the active set. References leaving the set resolve through the cache
// at runtime and cannot deadlock, so only in-set edges are walked.
func checkDependencyCycles(specs map[string]*template.RegisterSpec) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(specs))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: circular depends_on involving %s", ErrConfig, id)
		case done:
			return nil
		}
		state[id] = visiting
		if spec := specs[id]; spec.DependsOn != nil {
			if _, inSet := specs[spec.DependsOn.UniqueID]; inSet {
				if err := visit(spec.DependsOn.UniqueID); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	ids := make([]string, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// dependencyMet reports whether a depends_on gate passes given the
// current cache contents. An unresolved reference, never read or
// currently unavailable, falls back to the declared constant; without
// a fallback the gate stays closed.
func dependencyMet(cache *Cache, dep *template.Dependency) bool {
	if raw, ok := cache.Raw(dep.UniqueID); ok {
		return raw == dep.Required
	}
	if dep.Fallback != nil {
		return *dep.Fallback == dep.Required
	}
	return false
}

// PlanView is the diagnostic view of a device's current read plan.
type PlanView struct {
	Device    string      `json:"device"`
	BuiltAt   time.Time   `json:"built_at"`
	Registers int         `json:"registers"`
	Groups    []GroupView `json:"groups"`
}

// GroupView describes one planned read group.
type GroupView struct {
	RegisterType string        `json:"register_type"`
	SlaveID      uint8         `json:"slave_id"`
	Start        uint16        `json:"start"`
	End          uint16        `json:"end"`
	Count        int           `json:"count"`
	Interval     time.Duration `json:"interval"`
	Members      []string      `json:"members"`
}

// view renders the generation for diagnostics.
func (g *generation) view(device string) PlanView {
	pv := PlanView{
		Device:    device,
		BuiltAt:   g.builtAt,
		Registers: g.polled,
		Groups:    make([]GroupView, 0, len(g.groups)),
	}
	for _, group := range g.groups {
		gv := GroupView{
			RegisterType: string(group.RegisterType),
			SlaveID:      group.SlaveID,
			Start:        group.Start,
			End:          group.End(),
			Count:        group.Count,
			Interval:     group.ScanInterval,
			Members:      make([]string, 0, len(group.Registers)),
		}
		for _, spec := range group.Registers {
			gv.Members = append(gv.Members, spec.UniqueID)
		}
		pv.Groups = append(pv.Groups, gv)
	}
	return pv
}

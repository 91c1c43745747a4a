package template

import "fmt"

// DeviceContext carries the resolved dynamic configuration for one
// device instance. Conditions are evaluated against it.
type DeviceContext struct {
	Device        string
	Prefix        string
	SelectedModel string
	SlaveID       uint8

	// Values holds the merged dynamic configuration: template defaults,
	// then the selected model profile, then user overrides.
	Values map[string]any
}

// Lookup resolves a condition key. Dynamic values take priority over the
// built-in keys device, prefix, slave_id, and selected_model.
func (c *DeviceContext) Lookup(key string) (any, bool) {
	if v, ok := c.Values[key]; ok {
		return v, true
	}
	switch key {
	case "device":
		return c.Device, true
	case "prefix":
		return c.Prefix, true
	case "slave_id":
		return int(c.SlaveID), true
	case "selected_model":
		return c.SelectedModel, true
	}
	return nil, false
}

// ResolveDynamic merges the template's dynamic defaults, the selected
// model profile, and user overrides into one value set.
//
// Merge order (later wins):
//  1. Field defaults from dynamic_config
//  2. The selected model's profile from valid_models
//  3. User overrides, validated against declared options and ranges
//
// Overrides for keys the template never declares are carried through
// untouched so conditions can reference site-specific values.
func (t *Template) ResolveDynamic(selectedModel string, overrides map[string]any) (map[string]any, error) {
	out := make(map[string]any)

	for key, field := range t.Dynamic.Fields {
		if field.Default != nil {
			out[key] = field.Default
		}
	}

	if selectedModel != "" {
		profile, ok := t.Dynamic.ValidModels[selectedModel]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no model %q", ErrUnknownModel, t.Name, selectedModel)
		}
		for key, val := range profile {
			out[key] = val
		}
		out["selected_model"] = selectedModel
	}

	for key, val := range overrides {
		// selected_model arrives through its own parameter; valid_models
		// is template structure, not a value.
		if key == "selected_model" || key == "valid_models" {
			continue
		}
		if field, declared := t.Dynamic.Fields[key]; declared {
			if err := checkOverride(key, val, field); err != nil {
				return nil, err
			}
		}
		out[key] = val
	}

	return out, nil
}

// checkOverride validates one user value against its field declaration.
func checkOverride(key string, val any, field DynamicField) error {
	if len(field.Options) > 0 {
		for _, opt := range field.Options {
			if scalarEqual(opt, val) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s = %v is not one of the declared options", ErrBadOverride, key, val)
	}

	if field.Min != nil || field.Max != nil {
		n, ok := asInt(val)
		if !ok {
			return fmt.Errorf("%w: %s = %v is not an integer", ErrBadOverride, key, val)
		}
		if field.Min != nil && n < *field.Min {
			return fmt.Errorf("%w: %s = %d is below minimum %d", ErrBadOverride, key, n, *field.Min)
		}
		if field.Max != nil && n > *field.Max {
			return fmt.Errorf("%w: %s = %d is above maximum %d", ErrBadOverride, key, n, *field.Max)
		}
	}

	return nil
}

// scalarEqual compares YAML scalars across int and float representations.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

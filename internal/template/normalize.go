package template

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-modbus-core/internal/condition"
)

// templateYAML is the raw document shape. Legacy spellings are kept here
// and collapsed during normalisation.
type templateYAML struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	Version       int            `yaml:"version"`
	Description   string         `yaml:"description"`
	Manufacturer  string         `yaml:"manufacturer"`
	Model         string         `yaml:"model"`
	DefaultPrefix string         `yaml:"default_prefix"`
	DynamicConfig map[string]any `yaml:"dynamic_config"`

	Sensors       []registerYAML `yaml:"sensors"`
	BinarySensors []registerYAML `yaml:"binary_sensors"`
	Controls      []registerYAML `yaml:"controls"`

	// Registers is the flat legacy shape, treated as sensors.
	Registers []registerYAML `yaml:"registers"`
}

// registerYAML is one raw register definition.
type registerYAML struct {
	Name     string `yaml:"name"`
	UniqueID string `yaml:"unique_id"`
	Address  *int   `yaml:"address"`

	RegisterType string `yaml:"register_type"`
	InputType    string `yaml:"input_type"` // legacy alias for register_type

	DataType      string `yaml:"data_type"`
	Count         int    `yaml:"count"`
	DeviceAddress int    `yaml:"device_address"`

	ScanInterval *int `yaml:"scan_interval"`

	Scale      *float64 `yaml:"scale"`
	Multiplier *float64 `yaml:"multiplier"` // legacy alias for scale
	Offset     float64  `yaml:"offset"`
	Precision  *int     `yaml:"precision"`

	Unit string `yaml:"unit_of_measurement"`

	SwapBytes bool   `yaml:"swap_bytes"`
	SwapWords bool   `yaml:"swap_words"`
	Swap      string `yaml:"swap"` // legacy: word, byte, word_byte

	Encoding  string `yaml:"encoding"`
	MaxLength int    `yaml:"max_length"`

	Bitmask     any     `yaml:"bitmask"`
	BitPosition *int    `yaml:"bit_position"`
	BitRange    []int   `yaml:"bit_range"`
	BitShift    int     `yaml:"bit_shift"`
	BitRotate   int     `yaml:"bit_rotate"`
	ShiftBits   int     `yaml:"shift_bits"` // legacy: shifts right
	Map         mapYAML `yaml:"map"`
	Flags       mapYAML `yaml:"flags"`
	Options     mapYAML `yaml:"options"`

	Control  string       `yaml:"control"`
	MinValue *float64     `yaml:"min_value"`
	MaxValue *float64     `yaml:"max_value"`
	Step     *float64     `yaml:"step"`
	MinFrom  any          `yaml:"min_value_from_register"`
	MaxFrom  any          `yaml:"max_value_from_register"`
	Switch   *switchYAML  `yaml:"switch"`
	Press    any          `yaml:"press_value"`
	Depends  *dependsYAML `yaml:"depends_on"`

	Condition string `yaml:"condition"`
	Optional  bool   `yaml:"optional"`
}

// mapYAML accepts integer, hex, or string keys and stringifies them.
type mapYAML map[string]string

// UnmarshalYAML keeps the key's source text so hex spellings like 0x300
// survive into normalisation.
func (m *mapYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping, got %s", node.Tag)
	}
	out := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out[node.Content[i].Value] = node.Content[i+1].Value
	}
	*m = out
	return nil
}

// switchYAML uses explicit key names because bare on/off are YAML booleans.
type switchYAML struct {
	On  any `yaml:"on_value"`
	Off any `yaml:"off_value"`
}

type dependsYAML struct {
	RegisterUniqueID string `yaml:"register_unique_id"`
	RequiredValue    any    `yaml:"required_value"`
	Fallback         any    `yaml:"fallback"`
}

// parseTemplate decodes and normalises one template document.
func parseTemplate(data []byte) (*Template, error) {
	var raw templateYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if raw.Name == "" {
		return nil, fmt.Errorf("%w: template has no name", ErrInvalid)
	}

	tpl := &Template{
		Name:          raw.Name,
		Version:       raw.Version,
		Description:   raw.Description,
		Manufacturer:  raw.Manufacturer,
		Model:         raw.Model,
		DefaultPrefix: raw.DefaultPrefix,
	}
	if tpl.DefaultPrefix == "" {
		tpl.DefaultPrefix = "device"
	}

	dyn, err := parseDynamicConfig(raw.DynamicConfig)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", raw.Name, err)
	}
	tpl.Dynamic = dyn

	sections := []struct {
		kind Kind
		regs []registerYAML
	}{
		{KindSensor, raw.Sensors},
		{KindSensor, raw.Registers},
		{KindBinarySensor, raw.BinarySensors},
		{KindControl, raw.Controls},
	}
	for _, section := range sections {
		for i := range section.regs {
			spec, err := normalizeRegister(&section.regs[i], section.kind, raw.Name)
			if err != nil {
				return nil, err
			}
			tpl.Registers = append(tpl.Registers, spec)
		}
	}

	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}

	return tpl, nil
}

// normalizeRegister collapses one raw definition into canonical form.
func normalizeRegister(raw *registerYAML, kind Kind, tplName string) (*RegisterSpec, error) {
	where := func(field string) string {
		id := raw.UniqueID
		if id == "" {
			id = raw.Name
		}
		return fmt.Sprintf("template %s register %q: %s", tplName, id, field)
	}

	if raw.Name == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, where("name is required"))
	}
	if raw.UniqueID == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, where("unique_id is required"))
	}
	if raw.Address == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, where("address is required"))
	}
	if *raw.Address < 0 || *raw.Address > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, where("address out of range"))
	}

	spec := &RegisterSpec{
		Kind:        kind,
		Name:        raw.Name,
		UniqueID:    raw.UniqueID,
		Address:     uint16(*raw.Address),
		Scale:       1,
		Precision:   -1,
		BitPosition: -1,
		Step:        1,
		Control:     ControlNone,
		Condition:   strings.TrimSpace(raw.Condition),
		Optional:    raw.Optional,
		Unit:        raw.Unit,
		Template:    tplName,
	}

	// Register table: register_type wins over the legacy input_type.
	// Sensors default to the input table, controls to holding.
	table := raw.RegisterType
	if table == "" {
		table = raw.InputType
	}
	switch table {
	case "input":
		spec.RegisterType = RegisterInput
	case "holding":
		spec.RegisterType = RegisterHolding
	case "":
		if kind == KindControl {
			spec.RegisterType = RegisterHolding
		} else {
			spec.RegisterType = RegisterInput
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalid, where("register_type must be input or holding"))
	}

	if err := normalizeDataType(raw, spec, where); err != nil {
		return nil, err
	}

	if raw.DeviceAddress != 0 {
		if raw.DeviceAddress < 1 || raw.DeviceAddress > 247 {
			return nil, fmt.Errorf("%w: %s", ErrInvalid, where("device_address out of range"))
		}
		spec.SlaveID = uint8(raw.DeviceAddress)
	}

	if raw.ScanInterval != nil {
		if *raw.ScanInterval < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalid, where("scan_interval must not be negative"))
		}
		spec.ScanInterval = secondsDuration(*raw.ScanInterval)
	}

	// Scale: the legacy multiplier field means the same thing.
	switch {
	case raw.Scale != nil:
		spec.Scale = *raw.Scale
	case raw.Multiplier != nil:
		spec.Scale = *raw.Multiplier
	}
	if spec.Scale <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, where("scale must be greater than zero"))
	}
	spec.Offset = raw.Offset
	if raw.Precision != nil {
		if *raw.Precision < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalid, where("precision must not be negative"))
		}
		spec.Precision = *raw.Precision
	}

	if err := normalizeSwap(raw, spec, where); err != nil {
		return nil, err
	}
	if err := normalizeBitOps(raw, spec, where); err != nil {
		return nil, err
	}
	if err := normalizeSymbolic(raw, spec, where); err != nil {
		return nil, err
	}
	if err := normalizeControl(raw, spec, kind, where); err != nil {
		return nil, err
	}
	if err := normalizeDependency(raw, spec, where); err != nil {
		return nil, err
	}

	if spec.Condition != "" {
		if err := condition.Validate(spec.Condition); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, where("condition"), err)
		}
	}

	return spec, nil
}

// normalizeDataType resolves the data type, word width, and string fields.
func normalizeDataType(raw *registerYAML, spec *RegisterSpec, where func(string) string) error {
	dt := raw.DataType
	if dt == "" {
		dt = "uint16"
	}
	// Legacy aliases.
	switch dt {
	case "float":
		dt = "float32"
	case "boolean":
		dt = "bool"
	}

	switch DataType(dt) {
	case TypeUint16, TypeInt16, TypeUint32, TypeInt32, TypeUint64, TypeInt64,
		TypeFloat32, TypeFloat64, TypeBool:
		spec.DataType = DataType(dt)
		spec.Words = spec.DataType.Words()
		if raw.Count != 0 && raw.Count != spec.Words {
			return fmt.Errorf("%w: %s", ErrInvalid,
				where(fmt.Sprintf("count %d conflicts with %s width %d", raw.Count, dt, spec.Words)))
		}
	case TypeString:
		spec.DataType = TypeString
		if raw.Count < 1 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("string registers require count"))
		}
		spec.Words = raw.Count
		spec.Encoding = raw.Encoding
		if spec.Encoding == "" {
			spec.Encoding = "utf-8"
		}
		switch spec.Encoding {
		case "utf-8", "ascii", "latin-1":
		default:
			return fmt.Errorf("%w: %s", ErrInvalid, where("encoding must be utf-8, ascii, or latin-1"))
		}
		spec.MaxLength = raw.MaxLength
		if spec.MaxLength < 0 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("max_length must not be negative"))
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalid, where("unknown data_type "+dt))
	}

	// Binary sensors read a numeric register; bit operations or a
	// non-zero test produce the boolean.
	if spec.Kind == KindBinarySensor && spec.DataType == TypeString {
		return fmt.Errorf("%w: %s", ErrInvalid, where("binary sensors cannot use string data"))
	}

	return nil
}

// normalizeSwap folds the legacy swap field into the two flags.
func normalizeSwap(raw *registerYAML, spec *RegisterSpec, where func(string) string) error {
	spec.SwapBytes = raw.SwapBytes
	spec.SwapWords = raw.SwapWords
	switch raw.Swap {
	case "":
	case "word":
		spec.SwapWords = true
	case "byte":
		spec.SwapBytes = true
	case "word_byte":
		spec.SwapWords = true
		spec.SwapBytes = true
	default:
		return fmt.Errorf("%w: %s", ErrInvalid, where("swap must be word, byte, or word_byte"))
	}
	return nil
}

// normalizeBitOps validates bit operations against the register width.
func normalizeBitOps(raw *registerYAML, spec *RegisterSpec, where func(string) string) error {
	totalBits := spec.Words * 16
	if spec.DataType == TypeString || spec.DataType == TypeFloat32 || spec.DataType == TypeFloat64 {
		if raw.Bitmask != nil || raw.BitPosition != nil || len(raw.BitRange) > 0 ||
			raw.BitShift != 0 || raw.BitRotate != 0 || raw.ShiftBits != 0 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("bit operations require an integer data_type"))
		}
		return nil
	}

	if raw.Bitmask != nil {
		mask, err := coerceUint64(raw.Bitmask)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, where("bitmask"), err)
		}
		spec.Bitmask = mask
	}

	if raw.BitPosition != nil {
		if *raw.BitPosition < 0 || *raw.BitPosition >= totalBits {
			return fmt.Errorf("%w: %s", ErrInvalid, where("bit_position out of range"))
		}
		spec.BitPosition = *raw.BitPosition
	}

	if len(raw.BitRange) > 0 {
		if len(raw.BitRange) != 2 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("bit_range must be [low, high]"))
		}
		lo, hi := raw.BitRange[0], raw.BitRange[1]
		if lo < 0 || hi >= totalBits || lo > hi {
			return fmt.Errorf("%w: %s", ErrInvalid, where("bit_range out of range"))
		}
		spec.BitRange = &BitRange{Lo: lo, Hi: hi}
	}

	// bit_shift is signed left; the legacy shift_bits shifted right.
	spec.BitShift = raw.BitShift
	if raw.ShiftBits != 0 {
		if raw.BitShift != 0 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("bit_shift and shift_bits are mutually exclusive"))
		}
		spec.BitShift = -raw.ShiftBits
	}
	spec.BitRotate = raw.BitRotate

	return nil
}

// normalizeSymbolic parses map, flags, and options tables.
func normalizeSymbolic(raw *registerYAML, spec *RegisterSpec, where func(string) string) error {
	if len(raw.Map) > 0 {
		spec.ValueMap = make(map[uint64]string, len(raw.Map))
		for key, label := range raw.Map {
			v, err := parseUintText(key)
			if err != nil {
				return fmt.Errorf("%w: %s: key %q", ErrInvalid, where("map"), key)
			}
			spec.ValueMap[v] = label
		}
	}

	if len(raw.Flags) > 0 {
		totalBits := spec.Words * 16
		spec.Flags = make(map[uint]string, len(raw.Flags))
		for key, label := range raw.Flags {
			bit, err := parseUintText(key)
			if err != nil || bit >= uint64(totalBits) {
				return fmt.Errorf("%w: %s: bit %q", ErrInvalid, where("flags"), key)
			}
			spec.Flags[uint(bit)] = label
		}
	}

	if len(raw.Options) > 0 {
		spec.Options = make(map[uint64]string, len(raw.Options))
		spec.OptionValues = make(map[string]uint64, len(raw.Options))
		for key, label := range raw.Options {
			v, err := parseUintText(key)
			if err != nil {
				return fmt.Errorf("%w: %s: key %q", ErrInvalid, where("options"), key)
			}
			if _, dup := spec.OptionValues[label]; dup {
				return fmt.Errorf("%w: %s: duplicate label %q", ErrInvalid, where("options"), label)
			}
			spec.Options[v] = label
			spec.OptionValues[label] = v
		}
	}

	return nil
}

// normalizeControl validates the write surface of control definitions.
func normalizeControl(raw *registerYAML, spec *RegisterSpec, kind Kind, where func(string) string) error {
	ctrl := raw.Control
	if kind != KindControl {
		if ctrl != "" && ctrl != "none" {
			return fmt.Errorf("%w: %s", ErrInvalid, where("control is only valid in the controls section"))
		}
		return nil
	}

	switch ControlKind(ctrl) {
	case ControlNumber, ControlSelect, ControlSwitch, ControlButton:
		spec.Control = ControlKind(ctrl)
	case "", ControlNone:
		return fmt.Errorf("%w: %s", ErrInvalid, where("controls require a control kind"))
	default:
		return fmt.Errorf("%w: %s", ErrInvalid, where("control must be number, select, switch, or button"))
	}

	if spec.RegisterType != RegisterHolding {
		return fmt.Errorf("%w: %s", ErrInvalid, where("controls must target holding registers"))
	}

	switch spec.Control {
	case ControlNumber:
		if raw.MinValue != nil {
			spec.MinValue = *raw.MinValue
			spec.HasMin = true
		}
		if raw.MaxValue != nil {
			spec.MaxValue = *raw.MaxValue
			spec.HasMax = true
		}
		if spec.HasMin && spec.HasMax && spec.MinValue >= spec.MaxValue {
			return fmt.Errorf("%w: %s", ErrInvalid, where("min_value must be below max_value"))
		}
		if raw.Step != nil {
			if *raw.Step <= 0 {
				return fmt.Errorf("%w: %s", ErrInvalid, where("step must be greater than zero"))
			}
			spec.Step = *raw.Step
		}
		var err error
		if spec.MinFrom, err = parseBoundRef(raw.MinFrom); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, where("min_value_from_register"), err)
		}
		if spec.MaxFrom, err = parseBoundRef(raw.MaxFrom); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, where("max_value_from_register"), err)
		}

	case ControlSelect:
		if len(spec.Options) == 0 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("select controls require options"))
		}

	case ControlSwitch:
		on, off := uint64(1), uint64(0)
		if raw.Switch != nil {
			var err error
			if raw.Switch.On != nil {
				if on, err = coerceUint64(raw.Switch.On); err != nil {
					return fmt.Errorf("%w: %s: %v", ErrInvalid, where("switch.on_value"), err)
				}
			}
			if raw.Switch.Off != nil {
				if off, err = coerceUint64(raw.Switch.Off); err != nil {
					return fmt.Errorf("%w: %s: %v", ErrInvalid, where("switch.off_value"), err)
				}
			}
		}
		if on == off {
			return fmt.Errorf("%w: %s", ErrInvalid, where("switch on and off values must differ"))
		}
		if on > math.MaxUint16 || off > math.MaxUint16 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("switch values must fit one register"))
		}
		spec.SwitchOn = uint16(on)
		spec.SwitchOff = uint16(off)

	case ControlButton:
		press := uint64(1)
		if raw.Press != nil {
			var err error
			if press, err = coerceUint64(raw.Press); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, where("press_value"), err)
			}
		}
		if press > math.MaxUint16 {
			return fmt.Errorf("%w: %s", ErrInvalid, where("press_value must fit one register"))
		}
		spec.PressValue = uint16(press)
	}

	return nil
}

// normalizeDependency parses the depends_on gate.
func normalizeDependency(raw *registerYAML, spec *RegisterSpec, where func(string) string) error {
	if raw.Depends == nil {
		return nil
	}
	if raw.Depends.RegisterUniqueID == "" {
		return fmt.Errorf("%w: %s", ErrInvalid, where("depends_on.register_unique_id is required"))
	}
	if raw.Depends.RequiredValue == nil {
		return fmt.Errorf("%w: %s", ErrInvalid, where("depends_on.required_value is required"))
	}
	required, err := coerceUint64(raw.Depends.RequiredValue)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, where("depends_on.required_value"), err)
	}
	dep := &Dependency{
		UniqueID: raw.Depends.RegisterUniqueID,
		Required: required,
	}
	if raw.Depends.Fallback != nil {
		fb, err := coerceUint64(raw.Depends.Fallback)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, where("depends_on.fallback"), err)
		}
		dep.Fallback = &fb
	}
	spec.DependsOn = dep
	return nil
}

// validateTemplate runs cross-register checks.
func validateTemplate(tpl *Template) error {
	ids := make(map[string]*RegisterSpec, len(tpl.Registers))
	for _, spec := range tpl.Registers {
		if _, dup := ids[spec.UniqueID]; dup {
			return fmt.Errorf("%w: template %s: duplicate unique_id %q", ErrInvalid, tpl.Name, spec.UniqueID)
		}
		ids[spec.UniqueID] = spec
	}

	// Dependency references must exist within the template; chains must
	// terminate.
	for _, spec := range tpl.Registers {
		if spec.DependsOn == nil {
			continue
		}
		if _, ok := ids[spec.DependsOn.UniqueID]; !ok {
			return fmt.Errorf("%w: template %s: register %q depends on unknown unique_id %q",
				ErrInvalid, tpl.Name, spec.UniqueID, spec.DependsOn.UniqueID)
		}
		seen := map[string]bool{spec.UniqueID: true}
		cursor := spec.DependsOn
		for cursor != nil {
			if seen[cursor.UniqueID] {
				return fmt.Errorf("%w: template %s: circular depends_on through %q",
					ErrInvalid, tpl.Name, cursor.UniqueID)
			}
			seen[cursor.UniqueID] = true
			next, ok := ids[cursor.UniqueID]
			if !ok {
				break
			}
			cursor = next.DependsOn
		}
	}

	for _, spec := range tpl.Registers {
		for _, ref := range []*BoundRef{spec.MinFrom, spec.MaxFrom} {
			if ref == nil {
				continue
			}
			if _, ok := ids[ref.UniqueID]; !ok {
				return fmt.Errorf("%w: template %s: register %q references unknown unique_id %q",
					ErrInvalid, tpl.Name, spec.UniqueID, ref.UniqueID)
			}
		}
	}

	return nil
}

// parseDynamicConfig splits the dynamic_config mapping into fields and
// model profiles.
func parseDynamicConfig(raw map[string]any) (DynamicConfig, error) {
	out := DynamicConfig{}
	if len(raw) == 0 {
		return out, nil
	}

	out.Fields = make(map[string]DynamicField)
	for key, val := range raw {
		if key == "valid_models" {
			models, err := parseValidModels(val)
			if err != nil {
				return out, err
			}
			out.ValidModels = models
			continue
		}

		field := DynamicField{}
		if m, ok := val.(map[string]any); ok {
			field.Default = m["default"]
			if opts, ok := m["options"].([]any); ok {
				field.Options = opts
			}
			if v, ok := asInt(m["min"]); ok {
				field.Min = &v
			}
			if v, ok := asInt(m["max"]); ok {
				field.Max = &v
			}
		} else {
			// Bare scalar is a plain default.
			field.Default = val
		}
		out.Fields[key] = field
	}

	return out, nil
}

func parseValidModels(val any) (map[string]map[string]any, error) {
	raw, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: valid_models must be a mapping", ErrInvalid)
	}
	models := make(map[string]map[string]any, len(raw))
	for name, fields := range raw {
		m, ok := fields.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: valid_models.%s must be a mapping", ErrInvalid, name)
		}
		models[name] = m
	}
	return models, nil
}

// parseBoundRef accepts either a bare unique_id string or a mapping with
// register_unique_id and fallback.
func parseBoundRef(val any) (*BoundRef, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, fmt.Errorf("unique_id is empty")
		}
		return &BoundRef{UniqueID: v}, nil
	case map[string]any:
		id, _ := v["register_unique_id"].(string)
		if id == "" {
			return nil, fmt.Errorf("register_unique_id is required")
		}
		ref := &BoundRef{UniqueID: id}
		if fb, ok := v["fallback"]; ok {
			f, err := coerceFloat64(fb)
			if err != nil {
				return nil, fmt.Errorf("fallback: %v", err)
			}
			ref.Fallback = f
			ref.HasFallback = true
		}
		return ref, nil
	default:
		return nil, fmt.Errorf("expected string or mapping")
	}
}

// coerceUint64 converts YAML scalars (including 0x hex text) to uint64.
func coerceUint64(val any) (uint64, error) {
	switch v := val.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("value %v is not a whole number", v)
		}
		return uint64(v), nil
	case string:
		return parseUintText(v)
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
}

// coerceFloat64 converts YAML scalars to float64.
func coerceFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
}

// parseUintText parses decimal or 0x-prefixed text to uint64.
func parseUintText(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}

func asInt(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	}
	return 0, false
}

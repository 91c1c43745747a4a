package template

import (
	"sort"
	"strings"
	"time"
)

// PrefixToken is replaced with the device prefix in unique_ids, names, and
// register references when a template is instantiated.
const PrefixToken = "{PREFIX}"

// Kind classifies what a register definition represents.
type Kind string

// Register kinds.
const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindControl      Kind = "control"
)

// RegisterType selects the Modbus register table a definition reads from.
type RegisterType string

// Register tables. Input registers are read-only on the wire; holding
// registers are read-write.
const (
	RegisterInput   RegisterType = "input"
	RegisterHolding RegisterType = "holding"
)

// DataType is the decoded representation of one register span.
type DataType string

// Supported data types.
const (
	TypeUint16  DataType = "uint16"
	TypeInt16   DataType = "int16"
	TypeUint32  DataType = "uint32"
	TypeInt32   DataType = "int32"
	TypeUint64  DataType = "uint64"
	TypeInt64   DataType = "int64"
	TypeFloat32 DataType = "float32"
	TypeFloat64 DataType = "float64"
	TypeString  DataType = "string"
	TypeBool    DataType = "bool"
)

// ControlKind identifies the write surface of a control register.
type ControlKind string

// Control kinds. ControlNone marks read-only definitions.
const (
	ControlNone   ControlKind = "none"
	ControlNumber ControlKind = "number"
	ControlSelect ControlKind = "select"
	ControlSwitch ControlKind = "switch"
	ControlButton ControlKind = "button"
)

func secondsDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

// Words returns the register word count for fixed-width data types.
// String registers size via their explicit count; Words returns 0 for them.
func (d DataType) Words() int {
	switch d {
	case TypeUint16, TypeInt16, TypeBool:
		return 1
	case TypeUint32, TypeInt32, TypeFloat32:
		return 2
	case TypeUint64, TypeInt64, TypeFloat64:
		return 4
	default:
		return 0
	}
}

// Dependency gates a register's availability on another register's value.
//
// The referenced register's most recent raw (pre-transform) value must
// equal Required for the dependent register to be available. When the
// reference has never been read, Fallback substitutes for it; without a
// fallback the dependent register is unavailable until the reference
// resolves.
type Dependency struct {
	UniqueID string
	Required uint64
	Fallback *uint64
}

// BoundRef sources a numeric limit from another register at runtime.
type BoundRef struct {
	UniqueID    string
	Fallback    float64
	HasFallback bool
}

// BitRange extracts bits Lo through Hi inclusive, bit 0 being the least
// significant.
type BitRange struct {
	Lo, Hi int
}

// RegisterSpec is the canonical, normalised form of one register
// definition. All legacy template spellings collapse into this shape.
type RegisterSpec struct {
	Kind         Kind
	Name         string
	UniqueID     string
	Address      uint16
	RegisterType RegisterType
	DataType     DataType

	// Words is the register span width. Resolved from the data type, or
	// from the explicit count for strings.
	Words int

	// SlaveID overrides the device's unit identifier when non-zero.
	SlaveID uint8

	// ScanInterval zero inherits the engine default.
	ScanInterval time.Duration

	Scale  float64
	Offset float64

	// Precision rounds the transformed value to N decimal places.
	// Negative means no rounding.
	Precision int

	Unit string

	SwapBytes bool
	SwapWords bool

	// Encoding applies to string registers: utf-8, ascii, or latin-1.
	Encoding  string
	MaxLength int

	// Bit operations, applied to the assembled integer before transforms:
	// mask, position test, range extract, shift, rotate.
	Bitmask     uint64
	BitPosition int // -1 disables
	BitRange    *BitRange
	BitShift    int // positive shifts left, negative right
	BitRotate   int // positive rotates left, negative right

	// Symbolic interpretation, in priority order.
	ValueMap map[uint64]string
	Flags    map[uint]string

	// Options maps raw values to labels for select controls.
	// OptionValues is the reverse map used on write.
	Options      map[uint64]string
	OptionValues map[string]uint64

	Control   ControlKind
	MinValue  float64
	MaxValue  float64
	HasMin    bool
	HasMax    bool
	Step      float64
	MinFrom   *BoundRef
	MaxFrom   *BoundRef
	SwitchOn  uint16
	SwitchOff uint16
	// PressValue is written when a button control fires.
	PressValue uint16

	// Condition gates this register's existence; empty means always
	// present. Evaluated against the device's dynamic configuration.
	Condition string

	DependsOn *Dependency

	// Optional registers log read failures at debug instead of warn.
	Optional bool

	// Template records which template this spec came from.
	Template string
}

// Writable reports whether commands may target this register.
func (s *RegisterSpec) Writable() bool {
	return s.Kind == KindControl && s.Control != ControlNone
}

// Polled reports whether the scheduler reads this register. Buttons are
// write-only and have no state to read back.
func (s *RegisterSpec) Polled() bool {
	return s.Control != ControlButton
}

// substitutePrefix returns a copy of the spec with every PrefixToken
// occurrence replaced.
func (s *RegisterSpec) substitutePrefix(prefix string) *RegisterSpec {
	out := *s
	out.Name = strings.ReplaceAll(s.Name, PrefixToken, prefix)
	out.UniqueID = strings.ReplaceAll(s.UniqueID, PrefixToken, prefix)
	if s.DependsOn != nil {
		dep := *s.DependsOn
		dep.UniqueID = strings.ReplaceAll(dep.UniqueID, PrefixToken, prefix)
		out.DependsOn = &dep
	}
	if s.MinFrom != nil {
		ref := *s.MinFrom
		ref.UniqueID = strings.ReplaceAll(ref.UniqueID, PrefixToken, prefix)
		out.MinFrom = &ref
	}
	if s.MaxFrom != nil {
		ref := *s.MaxFrom
		ref.UniqueID = strings.ReplaceAll(ref.UniqueID, PrefixToken, prefix)
		out.MaxFrom = &ref
	}
	return &out
}

// DynamicField is one configurable template field.
type DynamicField struct {
	Default any
	Options []any
	Min     *int
	Max     *int
}

// DynamicConfig holds a template's configurable fields and model profiles.
type DynamicConfig struct {
	Fields      map[string]DynamicField
	ValidModels map[string]map[string]any
}

// Template is a fully parsed and validated device template.
type Template struct {
	Name          string
	Version       int
	Description   string
	Manufacturer  string
	Model         string
	DefaultPrefix string
	Dynamic       DynamicConfig

	// Registers holds every definition in document order, {PREFIX}
	// tokens intact.
	Registers []*RegisterSpec
}

// Instantiate returns the template's register specs with the given prefix
// substituted. Empty prefix uses the template's default. The returned
// specs are copies; callers may modify them freely.
func (t *Template) Instantiate(prefix string) []*RegisterSpec {
	if prefix == "" {
		prefix = t.DefaultPrefix
	}
	out := make([]*RegisterSpec, 0, len(t.Registers))
	for _, spec := range t.Registers {
		out = append(out, spec.substitutePrefix(prefix))
	}
	return out
}

// ModelNames returns the template's model profile names in sorted order.
func (t *Template) ModelNames() []string {
	if len(t.Dynamic.ValidModels) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.Dynamic.ValidModels))
	for name := range t.Dynamic.ValidModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

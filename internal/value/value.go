package value

import "strconv"

// Kind discriminates the typed payload of a Value.
type Kind int

// Value kinds. KindUnknown is a real state, not an error: it marks a
// reading that could not be determined.
const (
	KindUnknown Kind = iota
	KindNumber
	KindText
	KindBool
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is one decoded register reading.
//
// Raw carries the assembled pre-transform integer when the register is
// numeric; dependency gates compare against it. HasRaw is false for
// string registers and unknown readings.
type Value struct {
	Kind   Kind
	Number float64
	Text   string
	Bool   bool

	Raw    uint64
	HasRaw bool
}

// Unknown returns the unknown marker.
func Unknown() Value {
	return Value{Kind: KindUnknown}
}

// NewNumber wraps a numeric reading.
func NewNumber(n float64) Value {
	return Value{Kind: KindNumber, Number: n}
}

// NewText wraps a textual reading.
func NewText(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// NewBool wraps a boolean reading.
func NewBool(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// IsUnknown reports whether the reading could not be determined.
func (v Value) IsUnknown() bool {
	return v.Kind == KindUnknown
}

// String renders the payload for logs and plain-text transports.
// Numbers drop trailing zeros; unknown renders as "unknown".
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindText:
		return v.Text
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "unknown"
	}
}

// Payload returns the JSON-facing representation: float64, string,
// bool, or nil for unknown.
func (v Value) Payload() any {
	switch v.Kind {
	case KindNumber:
		return v.Number
	case KindText:
		return v.Text
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

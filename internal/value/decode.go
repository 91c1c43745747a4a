package value

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/nerrad567/gray-modbus-core/internal/template"
)

// Decode turns one register span's raw words into a typed value.
//
// An empty read result decodes to the unknown marker. A non-empty
// result of the wrong width is an error: the coordinator slices group
// reads exactly, so a mismatch means a defective plan.
func Decode(words []uint16, spec *template.RegisterSpec) (Value, error) {
	if len(words) == 0 {
		return Unknown(), nil
	}
	if len(words) != spec.Words {
		return Unknown(), fmt.Errorf("%w: %s got %d words, expected %d",
			ErrWordCount, spec.UniqueID, len(words), spec.Words)
	}

	words = applySwaps(words, spec)

	if spec.DataType == template.TypeString {
		return decodeString(words, spec), nil
	}

	raw := assemble(words)
	raw = applyBitOps(raw, spec)

	out := resolve(raw, spec)
	out.Raw = raw
	out.HasRaw = true
	return out, nil
}

// resolve interprets the post-bit-ops integer according to the
// register's type and symbolic configuration.
func resolve(raw uint64, spec *template.RegisterSpec) Value {
	// Boolean readings: any non-zero pattern is true. Bit operations
	// have already isolated the relevant bit when configured.
	if spec.Kind == template.KindBinarySensor || spec.DataType == template.TypeBool {
		return NewBool(raw != 0)
	}

	// A switch reads back as its configured on/off pattern; anything
	// else means the device is in a state the template does not name.
	if spec.Control == template.ControlSwitch {
		switch raw {
		case uint64(spec.SwitchOn):
			return NewBool(true)
		case uint64(spec.SwitchOff):
			return NewBool(false)
		default:
			return Unknown()
		}
	}

	if len(spec.ValueMap) > 0 {
		if label, ok := spec.ValueMap[raw]; ok {
			return NewText(label)
		}
		return Unknown()
	}

	if len(spec.Flags) > 0 {
		return NewText(flagLabels(raw, spec.Flags))
	}

	if len(spec.Options) > 0 {
		if label, ok := spec.Options[raw]; ok {
			return NewText(label)
		}
		if spec.Control == template.ControlSelect {
			return Unknown()
		}
		// Sensors pass unmapped option values through numerically.
	}

	return NewNumber(transform(interpret(raw, spec.DataType), spec))
}

// interpret reads the integer bits as the declared data type.
func interpret(raw uint64, dt template.DataType) float64 {
	switch dt {
	case template.TypeInt16:
		return float64(int16(uint16(raw)))
	case template.TypeInt32:
		return float64(int32(uint32(raw)))
	case template.TypeInt64:
		return float64(int64(raw))
	case template.TypeFloat32:
		return float64(math.Float32frombits(uint32(raw)))
	case template.TypeFloat64:
		return math.Float64frombits(raw)
	default:
		return float64(raw)
	}
}

// transform applies scale, offset, and precision in that order.
func transform(v float64, spec *template.RegisterSpec) float64 {
	v = v*spec.Scale + spec.Offset
	if spec.Precision >= 0 {
		shift := math.Pow(10, float64(spec.Precision))
		v = math.Round(v*shift) / shift
	}
	return v
}

// applySwaps normalises word and byte order. Both corrections are
// involutions, so encode reuses this unchanged.
func applySwaps(words []uint16, spec *template.RegisterSpec) []uint16 {
	out := make([]uint16, len(words))
	copy(out, words)
	if spec.SwapWords {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if spec.SwapBytes {
		for i := range out {
			out[i] = bits.ReverseBytes16(out[i])
		}
	}
	return out
}

// assemble packs words big-endian into one integer.
func assemble(words []uint16) uint64 {
	var raw uint64
	for _, w := range words {
		raw = raw<<16 | uint64(w)
	}
	return raw
}

// applyBitOps runs the configured bit operations in fixed order:
// mask, position test, range extract, shift, rotate.
func applyBitOps(raw uint64, spec *template.RegisterSpec) uint64 {
	if spec.Bitmask != 0 {
		raw &= spec.Bitmask
	}
	if spec.BitPosition >= 0 {
		raw = (raw >> uint(spec.BitPosition)) & 1
	}
	if spec.BitRange != nil {
		width := uint(spec.BitRange.Hi - spec.BitRange.Lo + 1)
		raw = (raw >> uint(spec.BitRange.Lo)) & (1<<width - 1)
	}
	switch {
	case spec.BitShift > 0:
		raw <<= uint(spec.BitShift)
	case spec.BitShift < 0:
		raw >>= uint(-spec.BitShift)
	}
	if spec.BitRotate != 0 {
		raw = rotate(raw, spec.BitRotate, spec.Words*16)
	}
	return raw
}

// rotate rotates within the register span's own bit width.
func rotate(raw uint64, by, width int) uint64 {
	switch width {
	case 16:
		return uint64(bits.RotateLeft16(uint16(raw), by))
	case 32:
		return uint64(bits.RotateLeft32(uint32(raw), by))
	default:
		return bits.RotateLeft64(raw, by)
	}
}

// flagLabels collects the labels of set bits in ascending bit order.
func flagLabels(raw uint64, flags map[uint]string) string {
	positions := make([]int, 0, len(flags))
	for bit := range flags {
		positions = append(positions, int(bit))
	}
	sort.Ints(positions)

	var labels []string
	for _, bit := range positions {
		if raw&(1<<uint(bit)) != 0 {
			labels = append(labels, flags[uint(bit)])
		}
	}
	return strings.Join(labels, ", ")
}

// decodeString converts word bytes to text, honouring the declared
// character encoding. Content ends at the first NUL; trailing spaces
// are padding.
func decodeString(words []uint16, spec *template.RegisterSpec) Value {
	buf := make([]byte, 0, len(words)*2)
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}

	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}

	var text string
	switch spec.Encoding {
	case "latin-1":
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(buf)
		if err == nil {
			text = string(decoded)
		} else {
			text = string(buf)
		}
	case "ascii":
		out := make([]byte, len(buf))
		for i, b := range buf {
			if b > 0x7F {
				b = '?'
			}
			out[i] = b
		}
		text = string(out)
	default:
		text = strings.ToValidUTF8(string(buf), "")
	}

	text = strings.TrimRight(text, " \t")
	if spec.MaxLength > 0 {
		runes := []rune(text)
		if len(runes) > spec.MaxLength {
			text = string(runes[:spec.MaxLength])
		}
	}
	return NewText(text)
}

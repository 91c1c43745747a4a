package value

import (
	"fmt"
	"math"

	"github.com/nerrad567/gray-modbus-core/internal/template"
)

// EncodeNumber turns a command target into register words. The numeric
// transform runs in reverse, (target - offset) / scale, then the result
// is packed per the data type with the register's swap corrections.
// Integer types round to the nearest register value and reject targets
// outside their range.
func EncodeNumber(target float64, spec *template.RegisterSpec) ([]uint16, error) {
	scaled := (target - spec.Offset) / spec.Scale

	var raw uint64
	switch spec.DataType {
	case template.TypeUint16:
		r := math.Round(scaled)
		if r < 0 || r > math.MaxUint16 {
			return nil, rangeErr(spec, target)
		}
		raw = uint64(r)
	case template.TypeInt16:
		r := math.Round(scaled)
		if r < math.MinInt16 || r > math.MaxInt16 {
			return nil, rangeErr(spec, target)
		}
		raw = uint64(uint16(int16(r)))
	case template.TypeUint32:
		r := math.Round(scaled)
		if r < 0 || r > math.MaxUint32 {
			return nil, rangeErr(spec, target)
		}
		raw = uint64(r)
	case template.TypeInt32:
		r := math.Round(scaled)
		if r < math.MinInt32 || r > math.MaxInt32 {
			return nil, rangeErr(spec, target)
		}
		raw = uint64(uint32(int32(r)))
	case template.TypeUint64:
		r := math.Round(scaled)
		if r < 0 || r >= math.MaxUint64 {
			return nil, rangeErr(spec, target)
		}
		raw = uint64(r)
	case template.TypeInt64:
		r := math.Round(scaled)
		if r < math.MinInt64 || r > math.MaxInt64 {
			return nil, rangeErr(spec, target)
		}
		raw = uint64(int64(r))
	case template.TypeFloat32:
		raw = uint64(math.Float32bits(float32(scaled)))
	case template.TypeFloat64:
		raw = math.Float64bits(scaled)
	case template.TypeBool:
		if scaled != 0 {
			raw = 1
		}
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotNumeric, spec.UniqueID, spec.DataType)
	}

	return packWords(raw, spec), nil
}

// EncodeRaw packs an exact register pattern, used for switch, select,
// and button writes where the wire value is configured rather than
// computed.
func EncodeRaw(raw uint64, spec *template.RegisterSpec) ([]uint16, error) {
	if spec.Words < 4 && raw >= 1<<(uint(spec.Words)*16) {
		return nil, fmt.Errorf("%w: %#x does not fit %d words", ErrOutOfRange, raw, spec.Words)
	}
	return packWords(raw, spec), nil
}

// packWords splits the integer big-endian and applies the register's
// swap corrections, mirroring Decode exactly.
func packWords(raw uint64, spec *template.RegisterSpec) []uint16 {
	words := make([]uint16, spec.Words)
	for i := spec.Words - 1; i >= 0; i-- {
		words[i] = uint16(raw)
		raw >>= 16
	}
	return applySwaps(words, spec)
}

func rangeErr(spec *template.RegisterSpec, target float64) error {
	return fmt.Errorf("%w: %s cannot represent %v as %s", ErrOutOfRange, spec.UniqueID, target, spec.DataType)
}

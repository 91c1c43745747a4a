// Package value decodes raw register words into typed values and
// encodes command targets back into words.
//
// Decoding runs a fixed pipeline: byte/word swap corrections, word
// assembly, bit operations (mask, position test, range extract, shift,
// rotate), numeric interpretation per data type, then scale, offset,
// and precision. Symbolic resolution follows with fixed priority:
// exact value map, then bit flags, then select options.
//
// A raw value missing from a value map, or a switch reading that is
// neither its on nor off pattern, yields the unknown marker rather
// than a stringified absence. Empty read results decode the same way.
//
// Encoding inverts the numeric transform ((target - offset) / scale)
// and the swap corrections, so decode(encode(x)) returns x for every
// numeric data type within its range.
//
// Everything here is pure: no I/O, no clocks, no shared state.
package value

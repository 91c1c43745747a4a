package value

import "errors"

var (
	// ErrWordCount indicates a read result whose width does not match
	// the register definition.
	ErrWordCount = errors.New("value: word count does not match register width")

	// ErrOutOfRange indicates a command target the register's data type
	// cannot represent.
	ErrOutOfRange = errors.New("value: target outside representable range")

	// ErrNotNumeric indicates an encode attempt against a non-numeric
	// register.
	ErrNotNumeric = errors.New("value: register is not numerically writable")
)

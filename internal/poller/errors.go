package poller

import "errors"

var (
	// ErrConfig marks a device setup or generation build rejected for a
	// configuration problem: duplicate names, bad conditions, circular
	// dependencies, unplannable register spans.
	ErrConfig = errors.New("poller: invalid configuration")

	// ErrUnknownDevice is returned for operations naming a device the
	// coordinator does not manage.
	ErrUnknownDevice = errors.New("poller: unknown device")

	// ErrUnknownEntity is returned for operations naming a unique_id
	// absent from every active generation.
	ErrUnknownEntity = errors.New("poller: unknown entity")

	// ErrNotWritable is returned when a command targets a read-only
	// register.
	ErrNotWritable = errors.New("poller: entity is not writable")

	// ErrUnavailable is returned when a command targets an entity whose
	// dependency gate is closed.
	ErrUnavailable = errors.New("poller: entity unavailable")

	// ErrBadValue is returned when a command value cannot be encoded for
	// its register: wrong type, outside min/max, not a declared option.
	ErrBadValue = errors.New("poller: value not accepted")
)

package template

import "errors"

// Domain errors for the template package.
var (
	// ErrNotFound is returned when no loaded template matches the
	// requested name.
	ErrNotFound = errors.New("template: not found")

	// ErrInvalid is returned when a template document fails validation.
	ErrInvalid = errors.New("template: invalid definition")

	// ErrUnknownModel is returned when a device selects a model the
	// template's valid_models section does not declare.
	ErrUnknownModel = errors.New("template: unknown model")

	// ErrBadOverride is returned when a dynamic configuration override
	// is outside the field's declared options or range.
	ErrBadOverride = errors.New("template: invalid dynamic override")
)

package planner

import "errors"

var (
	// ErrBadOptions indicates unusable batch or gap settings.
	ErrBadOptions = errors.New("planner: invalid options")

	// ErrSpanTooWide indicates a single register wider than one batch
	// can carry. This is a template defect, not a runtime condition.
	ErrSpanTooWide = errors.New("planner: register span exceeds batch width")
)

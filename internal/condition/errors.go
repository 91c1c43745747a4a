package condition

import "errors"

// ErrSyntax is the base error for malformed expressions. Validate wraps
// it with the specific problem.
var ErrSyntax = errors.New("condition: syntax error")

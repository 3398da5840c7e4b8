package audit

import "errors"

// ErrInvalidInput indicates invalid audit query input.
var ErrInvalidInput = errors.New("invalid audit input")

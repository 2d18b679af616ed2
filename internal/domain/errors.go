package domain

import (
	"errors"
	"fmt"
)

// ErrValidation marks input rejected before any write.
var ErrValidation = errors.New("validation failed")

// Invalidf wraps ErrValidation with a field-level message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

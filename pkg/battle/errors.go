package battle

import (
	"errors"
	"fmt"
)

// Rejection kinds. Every rejected call leaves the battle untouched and
// wraps exactly one of these, so callers can branch with errors.Is.
var (
	ErrOutOfBounds        = errors.New("out of bounds")
	ErrIllegalMove        = errors.New("illegal move")
	ErrOutOfRange         = errors.New("out of range")
	ErrIllegalAction      = errors.New("illegal action")
	ErrInvalidActionIndex = errors.New("invalid action index")
	ErrInvalidSetup       = errors.New("invalid setup")
)

// RejectionError describes why an intent or setup was refused.
type RejectionError struct {
	Kind   error
	Intent *Intent
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Intent != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Intent.Describe(), e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Kind }

func reject(kind error, in *Intent, format string, args ...any) error {
	return &RejectionError{Kind: kind, Intent: in, Reason: fmt.Sprintf(format, args...)}
}

// RejectionKind returns the sentinel wrapped by err, or nil if err is not a
// battle rejection.
func RejectionKind(err error) error {
	for _, k := range []error{ErrOutOfBounds, ErrIllegalMove, ErrOutOfRange, ErrIllegalAction, ErrInvalidActionIndex, ErrInvalidSetup} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

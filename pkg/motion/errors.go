package motion

import (
	"errors"
	"fmt"
)

// CallerError reports a request the controller refused. No device was
// touched; the OpMode may fix the request and continue.
type CallerError struct {
	Kind   Kind
	Field  string
	Reason string
	Err    error
}

func (e *CallerError) Error() string {
	msg := fmt.Sprintf("motion %s rejected", e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(": %s %s", e.Field, e.Reason)
	} else if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallerError) Unwrap() error {
	return e.Err
}

// IsCallerError returns true if err is or wraps a *CallerError.
func IsCallerError(err error) bool {
	var ce *CallerError
	return errors.As(err, &ce)
}

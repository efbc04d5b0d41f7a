package engine

import (
	"errors"
	"fmt"

	"github.com/robocore/robocore/pkg/hardware"
	"github.com/robocore/robocore/pkg/motion"
)

// ErrStopRequested is returned from linear suspension points once the
// operator has asked the OpMode to stop. It is not a fault: a routine that
// returns it (or wraps it) ends with OutcomeStopped.
var ErrStopRequested = errors.New("opmode stop requested")

// ErrorClass classifies an error for the safe-stop policy.
type ErrorClass string

const (
	// ErrorClassConfiguration is a named device that is missing, of the
	// wrong capability, or owned elsewhere. Fatal and never retried.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassCaller is an invalid request rejected before any device was
	// touched. The caller may absorb it and keep running.
	ErrorClassCaller ErrorClass = "caller"

	// ErrorClassRuntime is a fault inside user code or a device failure.
	// Fatal to the OpMode; the engine forces the safe stop.
	ErrorClassRuntime ErrorClass = "runtime"
)

// Error is a classified engine error.
// nolint:revive // named Error to read as engine.Error at call sites
type Error struct {
	// Class drives whether the error may be absorbed.
	Class ErrorClass `json:"class"`

	// Message is the human-readable summary.
	Message string `json:"message"`

	// Code is a stable identifier for programmatic handling.
	Code string `json:"code,omitempty"`

	// OpMode is the OpMode name, if applicable.
	OpMode string `json:"opmode,omitempty"`

	// Hook is the lifecycle hook that was running, if applicable.
	Hook string `json:"hook,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.OpMode != "" && e.Hook != "":
		msg += fmt.Sprintf(" (opmode=%s, hook=%s)", e.OpMode, e.Hook)
	case e.OpMode != "":
		msg += fmt.Sprintf(" (opmode=%s)", e.OpMode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{Class: ErrorClassConfiguration, Message: message, Err: err}
}

// NewCallerError creates a caller error.
func NewCallerError(message string, err error) *Error {
	return &Error{Class: ErrorClassCaller, Message: message, Err: err}
}

// NewRuntimeError creates a runtime fault.
func NewRuntimeError(message string, err error) *Error {
	return &Error{Class: ErrorClassRuntime, Message: message, Err: err}
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithOpMode sets the OpMode name.
func (e *Error) WithOpMode(name string) *Error {
	e.OpMode = name
	return e
}

// WithHook sets the hook name.
func (e *Error) WithHook(hook string) *Error {
	e.Hook = hook
	return e
}

// Classify returns the class of err. Errors from the hardware and motion
// packages map onto the taxonomy; anything unrecognised is a runtime fault.
func Classify(err error) ErrorClass {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e.Class
	case hardware.IsConfigurationError(err):
		return ErrorClassConfiguration
	case motion.IsCallerError(err):
		return ErrorClassCaller
	default:
		return ErrorClassRuntime
	}
}

// IsConfiguration reports whether err classifies as a configuration error.
func IsConfiguration(err error) bool {
	return err != nil && Classify(err) == ErrorClassConfiguration
}

// IsCaller reports whether err classifies as a caller error.
func IsCaller(err error) bool {
	return err != nil && Classify(err) == ErrorClassCaller
}

// IsRuntime reports whether err classifies as a runtime fault.
func IsRuntime(err error) bool {
	return err != nil && Classify(err) == ErrorClassRuntime
}

// Error codes.
const (
	ErrCodeOpModeNotFound  = "OPMODE_NOT_FOUND"
	ErrCodeDuplicateOpMode = "DUPLICATE_OPMODE"
	ErrCodeDeviceNotFound  = "DEVICE_NOT_FOUND"
	ErrCodeNoActiveOpMode  = "NO_ACTIVE_OPMODE"
	ErrCodeAlreadyStopped  = "ALREADY_STOPPED"
	ErrCodeHookFailed      = "HOOK_FAILED"
	ErrCodeHookPanic       = "HOOK_PANIC"
	ErrCodeStopTimeout     = "STOP_TIMEOUT"
	ErrCodeSafeStopFailed  = "SAFE_STOP_FAILED"
	ErrCodeInvalidOpMode   = "INVALID_OPMODE"
)

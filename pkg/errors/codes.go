package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique identifier for specific error conditions in zapretd.
type ErrorCode int

const (
	ErrCodeUnknown       ErrorCode = 1000
	ErrCodeConfigInvalid ErrorCode = 1001
	ErrCodeInvalidIntent ErrorCode = 1002

	// Admission
	ErrCodeNotInstalled ErrorCode = 2001
	ErrCodeBusy         ErrorCode = 2002

	// External processes
	ErrCodeLaunchFailed  ErrorCode = 3001
	ErrCodeCommandFailed ErrorCode = 3002
	ErrCodeTimeout       ErrorCode = 3003

	// Observation & system settings
	ErrCodeProbeUnavailable   ErrorCode = 4001
	ErrCodeProxyAdapterFailed ErrorCode = 4002
)

var codeNames = map[ErrorCode]string{
	ErrCodeUnknown:            "Unknown",
	ErrCodeConfigInvalid:      "ConfigInvalid",
	ErrCodeInvalidIntent:      "InvalidIntent",
	ErrCodeNotInstalled:       "NotInstalled",
	ErrCodeBusy:               "Busy",
	ErrCodeLaunchFailed:       "LaunchFailed",
	ErrCodeCommandFailed:      "CommandFailed",
	ErrCodeTimeout:            "Timeout",
	ErrCodeProbeUnavailable:   "ProbeUnavailable",
	ErrCodeProxyAdapterFailed: "ProxyAdapterFailed",
}

func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Sentinels for errors.Is. Matching is done on Code only.
var (
	ErrNotInstalled       = &ControlError{Code: ErrCodeNotInstalled}
	ErrBusy               = &ControlError{Code: ErrCodeBusy}
	ErrLaunchFailed       = &ControlError{Code: ErrCodeLaunchFailed}
	ErrCommandFailed      = &ControlError{Code: ErrCodeCommandFailed}
	ErrTimeout            = &ControlError{Code: ErrCodeTimeout}
	ErrProbeUnavailable   = &ControlError{Code: ErrCodeProbeUnavailable}
	ErrProxyAdapterFailed = &ControlError{Code: ErrCodeProxyAdapterFailed}
	ErrInvalidIntent      = &ControlError{Code: ErrCodeInvalidIntent}
)

// ControlError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type ControlError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *ControlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *ControlError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ControlError carrying the same code.
func (e *ControlError) Is(target error) bool {
	t, ok := target.(*ControlError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new ControlError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &ControlError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf returns the code of the outermost ControlError in err's chain,
// ErrCodeUnknown for foreign errors and 0 for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var ce *ControlError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeUnknown
}

// Short renders err for display in a status line: the message and cause without the code prefix.
func Short(err error) string {
	if err == nil {
		return ""
	}
	ce, ok := err.(*ControlError)
	if !ok {
		return err.Error()
	}
	if ce.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ce.Code, ce.Msg, ce.Err)
	}
	return fmt.Sprintf("%s: %s", ce.Code, ce.Msg)
}

// OneLine formats an aggregate of errors on a single line, for use as a
// go-multierror ErrorFormatFunc.
func OneLine(es []error) string {
	if len(es) == 1 {
		return Short(es[0])
	}
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = Short(e)
	}
	return fmt.Sprintf("%d errors: %s", len(es), strings.Join(parts, "; "))
}

// Personal.AI order the ending

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies the kind of an invocation failure.
type Code string

const (
	// DuplicateBinding indicates an output, prefix, option, parameter or
	// pipeline source was bound twice.
	DuplicateBinding Code = "duplicate-binding"
	// ConflictingPipelineSource indicates both a literal pipeline and
	// steps/libraries were supplied.
	ConflictingPipelineSource Code = "conflicting-pipeline-source"
	// InvalidConfiguration indicates mutually exclusive or unknown processor settings.
	InvalidConfiguration Code = "invalid-configuration"
	// UnsupportedProcessorVariant indicates schema awareness was requested
	// with a processor variant that cannot provide it.
	UnsupportedProcessorVariant Code = "unsupported-processor-variant"
	// UnboundPrefix indicates a prefixed name used a prefix with no namespace binding.
	UnboundPrefix Code = "unbound-prefix"
	// UnknownPort indicates a binding names a port the pipeline does not declare.
	UnknownPort Code = "unknown-port"
	// UnsupportedInput indicates a live streaming input such as "-".
	UnsupportedInput Code = "unsupported-input"
	// Engine wraps failures reported by the pipeline engine.
	Engine Code = "engine"
	// IO wraps failures reading or writing streams and URIs.
	IO Code = "io"
)

// Error describes an invocation failure with its code and optional port context.
type Error struct {
	Err     error
	Code    Code
	Message string
	Port    string
}

// New builds an Error with a code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf formats a message and builds an Error.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap builds an Error that wraps err.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// ForPort builds an Error attached to a port.
func ForPort(code Code, port, msg string) *Error {
	return &Error{Code: code, Message: msg, Port: port}
}

// Error formats the error with its code, message, port and cause.
func (e *Error) Error() string {
	if e == nil {
		return "error <nil>"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Port != "" {
		b.WriteString(fmt.Sprintf(" (port %q)", e.Port))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if e == nil || !errors.As(target, &t) || t == nil {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return "", false
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return "", false
	}
	return e.Code, true
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

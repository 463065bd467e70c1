package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Validation errors - invalid input data
	ErrorTypeValidation
	// Database errors - persistence layer unavailable or query failures
	ErrorTypeDatabase
	// NotFound errors - the requested entity does not exist
	ErrorTypeNotFound
	// External errors - a collaborator (git, cache server) failed
	ErrorTypeExternal
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, the operation failed
	SeverityHigh
	// SeverityCritical - the persistence layer or process state is unusable
	SeverityCritical
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Code       string
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode sets the machine-readable code reported in failures
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Failure converts the error into the structured payload carried by results
func (e *Error) Failure() *Failure {
	code := e.Code
	if code == "" {
		code = strings.ToLower(typeString(e.Type))
	}
	return &Failure{
		Code:     code,
		Category: typeString(e.Type),
		Detail:   e.Error(),
	}
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		severityString(e.Severity),
		typeString(e.Type),
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

// Failure is the structured failure payload of a whole operation
type Failure struct {
	Code     string `json:"code" yaml:"code"`
	Category string `json:"category" yaml:"category"`
	Detail   string `json:"detail" yaml:"detail"`
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeDatabase:
		return "DATABASE"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeExternal:
		return "EXTERNAL"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ValidationError creates a validation error
func ValidationError(message string) *Error {
	return New(ErrorTypeValidation, SeverityHigh, message)
}

// ValidationErrorf creates a validation error with formatting
func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// DatabaseError wraps a database error
func DatabaseError(err error, message string) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, message)
}

// DatabaseErrorf wraps a database error with formatting
func DatabaseErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeDatabase, SeverityCritical, fmt.Sprintf(format, args...))
}

// NotFoundErrorf creates a not-found error with formatting
func NotFoundErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeNotFound, SeverityLow, fmt.Sprintf(format, args...))
}

// ExternalError wraps a collaborator error
func ExternalError(err error, message string) *Error {
	return Wrap(err, ErrorTypeExternal, SeverityMedium, message)
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// FailureOf converts any error into a Failure. Errors that are not *Error
// are reported as internal failures under the given code.
func FailureOf(err error, code string) *Failure {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		f := e.Failure()
		if e.Code == "" && code != "" {
			f.Code = code
		}
		return f
	}
	return &Failure{Code: code, Category: typeString(ErrorTypeInternal), Detail: err.Error()}
}

// IsNotFound reports whether err is a not-found error
func IsNotFound(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type == ErrorTypeNotFound
	}
	return false
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

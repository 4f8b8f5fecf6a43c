// Package errors provides the structured error type used across viewkit, with codes,
// categories and component context.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode identifies a failure condition.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Backing store
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeScopeNotFound    ErrorCode = "SCOPE_NOT_FOUND"
	ErrCodeStorageRead      ErrorCode = "STORAGE_READ"
	ErrCodeAccessDenied     ErrorCode = "ACCESS_DENIED"
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeNetworkError     ErrorCode = "NETWORK_ERROR"

	// Decoding
	ErrCodeResourceDecode  ErrorCode = "RESOURCE_DECODE"
	ErrCodeUnsupportedKind ErrorCode = "UNSUPPORTED_KIND"

	// Pagination
	ErrCodeViewNotFound ErrorCode = "VIEW_NOT_FOUND"
	ErrCodeViewExists   ErrorCode = "VIEW_EXISTS"
	ErrCodeSourceRead   ErrorCode = "SOURCE_READ"

	// Lifecycle
	ErrCodeAlreadyStarted   ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized   ErrorCode = "NOT_INITIALIZED"
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"

	// Operations
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeCleanupFailed     ErrorCode = "CLEANUP_FAILED"
	ErrCodeCleanupSkipped    ErrorCode = "CLEANUP_SKIPPED"

	// Internal
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory groups error codes.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryStorage       ErrorCategory = "storage"
	CategoryDecode        ErrorCategory = "decode"
	CategoryPagination    ErrorCategory = "pagination"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:     CategoryConfiguration,
	ErrCodeConfigLoad:        CategoryConfiguration,
	ErrCodeConfigValidation:  CategoryConfiguration,
	ErrCodeResourceNotFound:  CategoryStorage,
	ErrCodeScopeNotFound:     CategoryStorage,
	ErrCodeStorageRead:       CategoryStorage,
	ErrCodeAccessDenied:      CategoryStorage,
	ErrCodeConnectionFailed:  CategoryStorage,
	ErrCodeNetworkError:      CategoryStorage,
	ErrCodeResourceDecode:    CategoryDecode,
	ErrCodeUnsupportedKind:   CategoryDecode,
	ErrCodeViewNotFound:      CategoryPagination,
	ErrCodeViewExists:        CategoryPagination,
	ErrCodeSourceRead:        CategoryPagination,
	ErrCodeAlreadyStarted:    CategoryState,
	ErrCodeNotInitialized:    CategoryState,
	ErrCodeComponentStopped:  CategoryState,
	ErrCodeInvalidState:      CategoryState,
	ErrCodeOperationCanceled: CategoryOperation,
	ErrCodeOperationFailed:   CategoryOperation,
	ErrCodeRetryExhausted:    CategoryOperation,
	ErrCodeCleanupFailed:     CategoryOperation,
	ErrCodeCleanupSkipped:    CategoryOperation,
}

// ViewkitError is a structured error carrying a code, the component and operation it came
// from, and an optional cause.
type ViewkitError struct {
	Code      ErrorCode
	Category  ErrorCategory
	Message   string
	Details   map[string]interface{}
	Cause     error
	Timestamp time.Time

	Component string
	Operation string

	Retryable bool
	Stack     string
}

// Error implements the error interface.
func (e *ViewkitError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ViewkitError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ViewkitError with the same code.
func (e *ViewkitError) Is(target error) bool {
	if t, ok := target.(*ViewkitError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an error with the defaults for code.
func NewError(code ErrorCode, message string) *ViewkitError {
	return &ViewkitError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Details:   make(map[string]interface{}),
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *ViewkitError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error with code and message around cause.
func Wrap(code ErrorCode, message string, cause error) *ViewkitError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory returns the category for code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault reports whether code describes a transient failure.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeNetworkError, ErrCodeStorageRead, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// WithDetail attaches a detail value.
func (e *ViewkitError) WithDetail(key string, value interface{}) *ViewkitError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component.
func (e *ViewkitError) WithComponent(component string) *ViewkitError {
	e.Component = component
	return e
}

// WithOperation sets the operation.
func (e *ViewkitError) WithOperation(operation string) *ViewkitError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *ViewkitError) WithCause(cause error) *ViewkitError {
	e.Cause = cause
	return e
}

// WithStack captures the caller's stack.
func (e *ViewkitError) WithStack() *ViewkitError {
	e.Stack = CaptureStack(1)
	return e
}

// CaptureStack returns up to ten frames, starting skip frames above the caller.
func CaptureStack(skip int) string {
	var pcs [10]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// CodeOf returns the code of the first ViewkitError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var ve *ViewkitError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a ViewkitError with code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsNotFound reports whether err means the resource or scope does not exist.
func IsNotFound(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeResourceNotFound || code == ErrCodeScopeNotFound
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var ve *ViewkitError
	if stderrors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

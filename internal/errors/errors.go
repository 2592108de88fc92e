// Package errors provides structured error types for polyroute.
// Every error carries a category, a code, a message and a retryable flag so
// that DDL, routing and the admin API can react to failures uniformly.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the part of the system that raised them.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryPlacement  ErrorCategory = "PLACEMENT"
	ErrCategoryRouting    ErrorCategory = "ROUTING"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryLifecycle  ErrorCategory = "LIFECYCLE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidPartitionSetup = "INVALID_PARTITION_SETUP"
	CodeUnsupportedColumnType = "UNSUPPORTED_COLUMN_TYPE"
	CodeUnsupportedStrategy   = "UNSUPPORTED_STRATEGY"
	CodeDuplicateName         = "DUPLICATE_NAME"
	CodeAlreadyPartitioned    = "ALREADY_PARTITIONED"
	CodeNotPartitioned        = "NOT_PARTITIONED"
	CodeInvalidArgument       = "INVALID_ARGUMENT"

	// Placement codes
	CodeLastFullPlacement = "LAST_FULL_PLACEMENT"
	CodeLastPlacement     = "LAST_PLACEMENT"
	CodeCoverageViolation = "COVERAGE_VIOLATION"
	CodePlacementNotFound = "PLACEMENT_NOT_FOUND"

	// Routing codes
	CodeNoMatchingPartition = "NO_MATCHING_PARTITION"
	CodeUnknownPartition    = "UNKNOWN_PARTITION"
	CodeUncoveredPartition  = "UNCOVERED_PARTITION"
	CodeInvalidValue        = "INVALID_VALUE"

	// Catalog codes
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeCatalogFailed = "CATALOG_FAILED"
	CodeBusy          = "BUSY"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Lifecycle codes
	CodeAlreadyInitialized = "ALREADY_INITIALIZED"
	CodeNotInitialized     = "NOT_INITIALIZED"
	CodeNotRunning         = "NOT_RUNNING"

	// Internal codes
	CodeNoPartitions = "NO_PARTITIONS"
	CodeUnexpected   = "UNEXPECTED"
)

// PolyrouteError is the structured error type used throughout the system.
type PolyrouteError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PolyrouteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PolyrouteError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PolyrouteError) Is(target error) bool {
	var t *PolyrouteError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PolyrouteError.
func New(category ErrorCategory, code, message string) *PolyrouteError {
	return &PolyrouteError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf is New with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *PolyrouteError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new PolyrouteError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PolyrouteError {
	return &PolyrouteError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PolyrouteError) WithDetails(details map[string]interface{}) *PolyrouteError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PolyrouteError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PolyrouteError.
func GetCategory(err error) ErrorCategory {
	var pe *PolyrouteError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PolyrouteError.
func GetCode(err error) string {
	var pe *PolyrouteError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether err carries the given category and code.
func HasCode(err error, category ErrorCategory, code string) bool {
	var pe *PolyrouteError
	if errors.As(err, &pe) {
		return pe.Category == category && pe.Code == code
	}
	return false
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeBusy:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *PolyrouteError {
	return New(ErrCategoryValidation, code, message)
}

func NewPlacementError(code, message string) *PolyrouteError {
	return New(ErrCategoryPlacement, code, message)
}

func NewRoutingError(code, message string) *PolyrouteError {
	return New(ErrCategoryRouting, code, message)
}

func NewCatalogError(code, message string, cause error) *PolyrouteError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewStorageError(code, message string, cause error) *PolyrouteError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewLifecycleError(code, message string) *PolyrouteError {
	return New(ErrCategoryLifecycle, code, message)
}

func NewInternalError(message string, cause error) *PolyrouteError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// NotFound builds a catalog NOT_FOUND error for the given entity.
func NotFound(entity string, id interface{}) *PolyrouteError {
	return New(ErrCategoryCatalog, CodeNotFound, fmt.Sprintf("%s %v not found", entity, id)).
		WithDetails(map[string]interface{}{"entity": entity, "id": id})
}

// IsNotFound reports whether err is a catalog NOT_FOUND error.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCategoryCatalog, CodeNotFound)
}

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestPolyrouteError_Error(t *testing.T) {
	err := New(ErrCategoryPlacement, CodeLastFullPlacement, "last placement with full partition coverage")
	expected := "[PLACEMENT:LAST_FULL_PLACEMENT] last placement with full partition coverage"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPolyrouteError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("database is locked")
	err := Wrap(ErrCategoryCatalog, CodeBusy, "add partition", cause)
	expected := "[CATALOG:BUSY] add partition: database is locked"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPolyrouteError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryCatalog, CodeCatalogFailed, "query failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestPolyrouteError_Is(t *testing.T) {
	err1 := New(ErrCategoryRouting, CodeNoMatchingPartition, "first")
	err2 := New(ErrCategoryRouting, CodeNoMatchingPartition, "second")
	err3 := New(ErrCategoryRouting, CodeUnknownPartition, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}

	wrapped := fmt.Errorf("route row 3: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryCatalog, CodeBusy, true},
		{ErrCategoryCatalog, CodeNotFound, false},
		{ErrCategoryRouting, CodeNoMatchingPartition, false},
		{ErrCategoryValidation, CodeInvalidPartitionSetup, false},
		{ErrCategoryLifecycle, CodeAlreadyInitialized, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryRouting, CodeInvalidValue, "not a number")
	if GetCategory(err) != ErrCategoryRouting {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryRouting)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("non-PolyrouteError should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategoryRouting, CodeInvalidValue, "not a number")
	if GetCode(err) != CodeInvalidValue {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidValue)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-PolyrouteError should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryValidation, CodeInvalidPartitionSetup, "bad setup")
	detailed := err.WithDetails(map[string]interface{}{"partitions": 1})

	if detailed.Details["partitions"] != 1 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("table", int64(7))
	if !IsNotFound(err) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if err.Error() != "[CATALOG:NOT_FOUND] table 7 not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if IsNotFound(New(ErrCategoryCatalog, CodeConflict, "dup")) {
		t.Error("conflict must not be reported as not found")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	v := NewValidationError(CodeDuplicateName, "duplicate partition name")
	if v.Category != ErrCategoryValidation || v.Code != CodeDuplicateName {
		t.Error("NewValidationError mismatch")
	}

	p := NewPlacementError(CodeLastFullPlacement, "refused")
	if p.Category != ErrCategoryPlacement {
		t.Error("NewPlacementError mismatch")
	}

	r := NewRoutingError(CodeNoMatchingPartition, "no partition")
	if r.Category != ErrCategoryRouting {
		t.Error("NewRoutingError mismatch")
	}

	c := NewCatalogError(CodeCatalogFailed, "insert", cause)
	if c.Category != ErrCategoryCatalog || !errors.Is(c, cause) {
		t.Error("NewCatalogError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	l := NewLifecycleError(CodeAlreadyInitialized, "twice")
	if l.Category != ErrCategoryLifecycle {
		t.Error("NewLifecycleError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}

package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpCreate,
			component: "storage",
			code:      ErrCodeStorageFailure,
			err:       fmt.Errorf("failed to connect"),
			want:      "create operation failed in storage component [STORAGE_FAILURE]: failed to connect",
		},
		{
			name:      "with component no code",
			op:        OpCreate,
			component: "storage",
			err:       fmt.Errorf("failed to connect"),
			want:      "create operation failed in storage component: failed to connect",
		},
		{
			name: "without component with code",
			op:   OpIndexUpsert,
			code: ErrCodeIndexFailure,
			err:  fmt.Errorf("index unavailable"),
			want: "index_upsert operation failed [INDEX_FAILURE]: index unavailable",
		},
		{
			name: "without component or code",
			op:   OpPublish,
			err:  fmt.Errorf("closed"),
			want: "publish operation failed: closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Error{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Code:      tt.code,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestE(t *testing.T) {
	cause := fmt.Errorf("no such row")
	err := E(Operation("sqlite.Get"), Component("storage/sqlite"), KindNotFound, cause, "load listing")

	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("E() returned %T, want *Error", err)
	}
	if e.Op != "sqlite.Get" || e.Component != "storage/sqlite" || e.Kind != KindNotFound {
		t.Errorf("E() = %+v, fields not populated", e)
	}
	if !errors.Is(err, cause) {
		t.Error("E() lost the wrapped cause")
	}
	if want := "sqlite.Get operation failed in storage/sqlite component: load listing: no such row"; err.Error() != want {
		t.Errorf("E().Error() = %q, want %q", err.Error(), want)
	}
}

func TestE_MessageOnly(t *testing.T) {
	err := E(OpCreate, KindInvalid, "title is required")
	if KindOf(err) != KindInvalid {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindInvalid)
	}
	if want := "create operation failed: title is required"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestKindOf_Nested(t *testing.T) {
	inner := E(Operation("sqlite.Create"), KindConflict, fmt.Errorf("unique"))
	outer := E(OpCreate, Component("listings"), inner)
	if got := KindOf(outer); got != KindConflict {
		t.Errorf("KindOf(outer) = %v, want %v", got, KindConflict)
	}
	if got := KindOf(fmt.Errorf("wrapped: %w", outer)); got != KindConflict {
		t.Errorf("KindOf(fmt wrapped) = %v, want %v", got, KindConflict)
	}
	if got := KindOf(fmt.Errorf("plain")); got != KindOther {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindOther)
	}
	if got := KindOf(nil); got != KindOther {
		t.Errorf("KindOf(nil) = %v, want %v", got, KindOther)
	}
}

func TestNewIndexError(t *testing.T) {
	cause := fmt.Errorf("index offline")
	e := NewIndexError(OpIndexUpsert, cause)

	if e.Code != ErrCodeIndexFailure {
		t.Errorf("NewIndexError() Code = %v, want %v", e.Code, ErrCodeIndexFailure)
	}
	if e.Component != "search" {
		t.Errorf("NewIndexError() Component = %v, want %v", e.Component, "search")
	}
	if e.Err != cause {
		t.Errorf("NewIndexError() Err = %v, want %v", e.Err, cause)
	}
	if !IsRetryable(e) {
		t.Error("NewIndexError() created non-retryable error")
	}
}

func TestNewValidationError(t *testing.T) {
	e := NewValidationError(OpUpdate, fmt.Errorf("bad price"))
	if IsRetryable(e) {
		t.Error("validation errors must not be retryable")
	}
	if KindOf(e) != KindInvalid {
		t.Errorf("KindOf() = %v, want %v", KindOf(e), KindInvalid)
	}
}

func TestWrapOpComponent(t *testing.T) {
	if WrapOpComponent(nil, "op", "comp") != nil {
		t.Fatal("WrapOpComponent(nil) must return nil")
	}

	err := WrapOpComponentKind(fmt.Errorf("boom"), "search.Upsert", "search", KindUnavailable)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Op != "search.Upsert" || e.Component != "search" || e.Kind != KindUnavailable {
		t.Errorf("unexpected fields: %+v", e)
	}
}

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Loader.Create", ErrAuthorization, "aggressor")
	want := "Loader.Create: aggressor: not authorized to instantiate role"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Scheduler.Run", ErrInvalidState, "")
	want := "Scheduler.Run: invalid scheduler state"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("RootedDir.Resolve", ErrPathEscape, "../etc/passwd")
	if !errors.Is(err, ErrPathEscape) {
		t.Error("errors.Is should match ErrPathEscape")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("load roles: %w", NewDomainError("Registry.Register", ErrDuplicateRole, "defender"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Registry.Register", de.Op)
	assert.Equal(t, "defender", de.Detail)
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("SQLiteRunStore.GetRun", ErrNotFound)
	assert.EqualError(t, err, "SQLiteRunStore.GetRun: not found")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrInvalidState, true},
		{fmt.Errorf("seed: %w", ErrUnknownRole), true},
		{NewDomainError("Registry.Register", ErrDuplicateRole, "x"), true},
		{ErrAuthorization, false},
		{ErrAuditWrite, false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsFatal(tt.err), "IsFatal(%v)", tt.err)
	}
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeUnknownRole, ErrorCodeOf(ErrUnknownRole))
	assert.Equal(t, CodeAuthorization, ErrorCodeOf(ErrAuthorization))
	assert.Equal(t, CodeStore, ErrorCodeOf(ErrStore))
	assert.Equal(t, CodeAuditTampered, ErrorCodeOf(ErrAuditTampered))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Loader.Create", ErrAuthorization, "aggressor")
	assert.Equal(t, CodeAuthorization, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("discovery: %w", ErrPathEscape)
	assert.Equal(t, CodePathEscape, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_Code(t *testing.T) {
	err := NewDomainError("FileAuditLogger.Log", ErrAuditWrite, "disk full")
	assert.Equal(t, CodeAuditWrite, err.Code())
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	seen := make(map[ErrorCode]error)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
		if prev, ok := seen[code]; ok {
			t.Errorf("code %s shared by %v and %v", code, prev, sentinel)
		}
		seen[code] = sentinel
	}
}

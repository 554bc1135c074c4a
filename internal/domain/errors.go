package domain

import (
	"errors"
	"fmt"
)

// Category sentinels shared across subsystems.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Sentinel errors for the host platform.
var (
	ErrUnknownRole   = fmt.Errorf("unknown role")
	ErrDuplicateRole = fmt.Errorf("role already registered")
	ErrAuthorization = fmt.Errorf("not authorized to instantiate role")
	ErrInvalidState  = fmt.Errorf("invalid scheduler state")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrAuditWrite    = fmt.Errorf("audit log write failed")
	ErrStore         = fmt.Errorf("run store operation failed")
	ErrManifest      = fmt.Errorf("invalid role manifest")
	ErrPathEscape    = fmt.Errorf("path escapes its root directory")
	ErrUnauthorized  = fmt.Errorf("feed client not authorized")
	ErrAuditTampered = fmt.Errorf("audit log chain broken")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Loader.Create")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsFatal reports whether err comes from a broken setup (scheduler state or
// role registry) that repeating the run cannot fix, as opposed to a failure of
// one run such as a store write or a cancelled context.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrUnknownRole) ||
		errors.Is(err, ErrDuplicateRole)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeUnknownRole      ErrorCode = "UNKNOWN_ROLE"
	CodeDuplicateRole    ErrorCode = "DUPLICATE_ROLE"
	CodeAuthorization    ErrorCode = "AUTHORIZATION"
	CodeInvalidState     ErrorCode = "INVALID_STATE"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeAuditWrite       ErrorCode = "AUDIT_WRITE"
	CodeStore            ErrorCode = "STORE"
	CodeManifest         ErrorCode = "MANIFEST"
	CodePathEscape       ErrorCode = "PATH_ESCAPE"
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeAuditTampered    ErrorCode = "AUDIT_TAMPERED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,

	ErrUnknownRole:   CodeUnknownRole,
	ErrDuplicateRole: CodeDuplicateRole,
	ErrAuthorization: CodeAuthorization,
	ErrInvalidState:  CodeInvalidState,
	ErrConfigLoad:    CodeConfigLoad,
	ErrAuditWrite:    CodeAuditWrite,
	ErrStore:         CodeStore,
	ErrManifest:      CodeManifest,
	ErrPathEscape:    CodePathEscape,
	ErrUnauthorized:  CodeUnauthorized,
	ErrAuditTampered: CodeAuditTampered,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Adapters match on these with
// errors.Is to pick the right wire representation.
var (
	ErrNotFound        = fmt.Errorf("command not found")
	ErrConflict        = fmt.Errorf("command id already tracked")
	ErrInvalidState    = fmt.Errorf("operation not valid in current state")
	ErrSpawnFailed     = fmt.Errorf("failed to spawn process")
	ErrWaitTimeout     = fmt.Errorf("wait timed out")
	ErrTooManyCommands = fmt.Errorf("too many concurrent commands")
	ErrCommandBlocked  = fmt.Errorf("command blocked by safety guard")
	ErrStdinClosed     = fmt.Errorf("stdin already closed")
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrToolNotFound    = fmt.Errorf("tool not found")

	// Gateway / RPC errors.
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Manager.Kill")
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

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeInvalidState      ErrorCode = "INVALID_STATE"
	CodeSpawnFailed       ErrorCode = "SPAWN_FAILED"
	CodeWaitTimeout       ErrorCode = "WAIT_TIMEOUT"
	CodeTooManyCommands   ErrorCode = "TOO_MANY_COMMANDS"
	CodeCommandBlocked    ErrorCode = "COMMAND_BLOCKED"
	CodeStdinClosed       ErrorCode = "STDIN_CLOSED"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrConflict:          CodeConflict,
	ErrInvalidState:      CodeInvalidState,
	ErrSpawnFailed:       CodeSpawnFailed,
	ErrWaitTimeout:       CodeWaitTimeout,
	ErrTooManyCommands:   CodeTooManyCommands,
	ErrCommandBlocked:    CodeCommandBlocked,
	ErrStdinClosed:       CodeStdinClosed,
	ErrInvalidInput:      CodeInvalidInput,
	ErrToolNotFound:      CodeToolNotFound,
	ErrAuthInvalid:       CodeAuthInvalid,
	ErrRateLimit:         CodeRateLimit,
	ErrRPCMethodNotFound: CodeRPCMethodNotFound,
	ErrRPCInvalidPayload: CodeRPCInvalidPayload,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	// Unwrap DomainError to check its inner sentinel.
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

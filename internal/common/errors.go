package common

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrInternal      = errors.New("internal error")
	ErrDatabase      = errors.New("database error")
	ErrValidation    = errors.New("validation failed")
)

// Job engine errors
var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStaleWrite        = errors.New("stale write")
	ErrAlreadyRunning    = errors.New("job already running")
	ErrNotRunning        = errors.New("job not running")
	ErrExecutorTimeout   = errors.New("stage executor timed out")
	ErrStoreUnavailable  = errors.New("job store unavailable")
	ErrNotReady          = errors.New("result not ready")
	ErrUpstream          = errors.New("upstream service error")
)

// Error codes carried by AppError.Code
const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeStaleWrite        = "STALE_WRITE"
	CodeAlreadyRunning    = "ALREADY_RUNNING"
	CodeNotRunning        = "NOT_RUNNING"
	CodeExecutorTimeout   = "EXECUTOR_TIMEOUT"
	CodeStageFailed       = "STAGE_FAILED"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeNotReady          = "NOT_READY"
	CodeNotFound          = "NOT_FOUND"
	CodeAlreadyExists     = "ALREADY_EXISTS"
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeConfig            = "CONFIG_ERROR"
	CodeUpstream          = "UPSTREAM_ERROR"
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func InvalidTransition(jobID, from, event string) error {
	return NewAppError(CodeInvalidTransition, fmt.Sprintf("job %s: event %q not allowed in state %s", jobID, event, from), ErrInvalidTransition)
}

func StaleWrite(jobID string, expected int64) error {
	return NewAppError(CodeStaleWrite, fmt.Sprintf("job %s: version %d is no longer current", jobID, expected), ErrStaleWrite)
}

func AlreadyRunning(jobID string) error {
	return NewAppError(CodeAlreadyRunning, fmt.Sprintf("job %s has a live worker", jobID), ErrAlreadyRunning)
}

func NotRunning(jobID string) error {
	return NewAppError(CodeNotRunning, fmt.Sprintf("job %s has no live worker", jobID), ErrNotRunning)
}

func NotReady(jobID, state string) error {
	return NewAppError(CodeNotReady, fmt.Sprintf("job %s is %s", jobID, state), ErrNotReady)
}

func NotFound(kind, id string) error {
	return NewAppError(CodeNotFound, fmt.Sprintf("%s %s not found", kind, id), ErrNotFound)
}

func StoreUnavailable(op string, cause error) error {
	return NewAppError(CodeStoreUnavailable, op, errors.Join(ErrStoreUnavailable, cause))
}

// IsRetryable reports whether the caller may simply re-read and retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleWrite) || errors.Is(err, ErrStoreUnavailable)
}

// ErrorCode returns the AppError code in err's chain, or "" if there is none.
func ErrorCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// ToStatus converts an application error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotRunning), errors.Is(err, ErrNotReady):
		code = codes.FailedPrecondition
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, ErrStaleWrite):
		code = codes.Aborted
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrUpstream):
		code = codes.Unavailable
	case errors.Is(err, ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, ErrExecutorTimeout):
		code = codes.DeadlineExceeded
	default:
		return InternalError(err.Error())
	}
	return status.Error(code, err.Error())
}

// CodeFromStatus recovers the AppError code a server put in front of a status message.
func CodeFromStatus(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	msg := st.Message()
	if i := strings.Index(msg, ":"); i > 0 {
		prefix := msg[:i]
		if strings.ToUpper(prefix) == prefix && !strings.Contains(prefix, " ") {
			return prefix
		}
	}
	return ""
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}

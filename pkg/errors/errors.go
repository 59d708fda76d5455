package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

type ErrorCode string

const (
	// System errors
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
	ErrDatabase      ErrorCode = "DATABASE_ERROR"
	ErrRedis         ErrorCode = "REDIS_ERROR"
	ErrConfiguration ErrorCode = "CONFIG_ERROR"
	ErrNotFound      ErrorCode = "NOT_FOUND"

	// Call flow errors
	ErrConfigGap ErrorCode = "CONFIG_GAP"
	ErrAMI       ErrorCode = "AMI_ERROR"

	// AGI errors
	ErrBootstrapTimeout ErrorCode = "AGI_BOOTSTRAP_TIMEOUT"
	ErrCommandTimeout   ErrorCode = "AGI_COMMAND_TIMEOUT"
	ErrSocketClosed     ErrorCode = "AGI_SOCKET_CLOSED"
	ErrCommandRejected  ErrorCode = "AGI_COMMAND_REJECTED"
	ErrChannelDead      ErrorCode = "AGI_CHANNEL_DEAD"
	ErrAGIInvalidCmd    ErrorCode = "AGI_INVALID_COMMAND"
)

type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
	Stack   string
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
		Stack:   getStack(),
	}
}

// Wrap attaches a code to err. An AppError keeps its own code and gains the
// message as a prefix.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: fmt.Sprintf("%s: %s", message, appErr.Message),
			Err:     appErr.Err,
			Context: appErr.Context,
			Stack:   appErr.Stack,
		}
	}

	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Context: make(map[string]interface{}),
		Stack:   getStack(),
	}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrDatabase, ErrRedis, ErrAMI:
		return true
	default:
		return false
	}
}

func getStack() string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])

	var builder strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			builder.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return builder.String()
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

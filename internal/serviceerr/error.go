package serviceerr

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrInvalidInput marks failures caused by the caller's input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrPersistence marks failures writing or reading durable state.
	ErrPersistence = errors.New("persistence failure")
)

// Error carries a dotted "<operation>.<reason>" code alongside the cause.
type Error struct {
	code    string
	err     error
	message string
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Code() string {
	return e.code
}

// New builds an Error for the operation and reason.
func New(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Invalid builds an Error that also matches ErrInvalidInput. The message is safe to show
// to the caller.
func Invalid(operation, reason, message string) error {
	return &Error{
		code:    fmt.Sprintf("%s.%s", operation, reason),
		err:     fmt.Errorf("%w: %s", ErrInvalidInput, message),
		message: message,
	}
}

// Message returns the caller-facing message carried by err, if any.
func Message(err error) string {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.message
	}
	return ""
}

// Persistence builds an Error that also matches ErrPersistence.
func Persistence(operation, reason string, cause error) error {
	return New(operation, reason, errors.Join(ErrPersistence, cause))
}

// Log writes the standard service failure entry.
func Log(logger *zap.Logger, component, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		return
	}
	base := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	logger.Error(component+" service error", append(base, fields...)...)
}

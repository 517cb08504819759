package billing

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrSubscriptionNotFound is returned when a customer has no active subscription
	ErrSubscriptionNotFound = errors.New("active subscription not found")
	// ErrChargeNotFound is returned when a charge id is unknown
	ErrChargeNotFound = errors.New("charge not found")
)

// ValidationError is a field-level problem with the caller's input. It is
// never forwarded to the mutation API.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError creates a ValidationError
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RemoteError is a failure reported by, or while reaching, a remote
// collaborator. Message carries the server-provided text when there is one.
type RemoteError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call could succeed. Server errors,
// throttling, timeouts and refused connections are retryable; client errors
// such as conflicts are not.
func (e *RemoteError) Retryable() bool {
	if e.Status >= 500 && e.Status < 600 {
		return true
	}
	if e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout {
		return true
	}
	if e.Err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(e.Err, syscall.ECONNREFUSED) || errors.Is(e.Err, syscall.ECONNRESET)
}

// IsRemoteError checks if an error is a remote error
func IsRemoteError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// IsRetryable reports whether err is a retryable remote error
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

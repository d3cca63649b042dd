package types

import (
	"errors"
	"fmt"
)

// ConnectivityError indicates a transient failure reaching a device or
// service. It is retried on the normal schedule, never in a tight loop.
type ConnectivityError struct {
	Message string
	Cause   error
}

func (e *ConnectivityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connectivity: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("connectivity: %s", e.Message)
}

func (e *ConnectivityError) Unwrap() error { return e.Cause }

// AuthError indicates rejected credentials. It is never retried silently;
// the lifecycle manager starts a reauth flow instead.
type AuthError struct {
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("auth: %s", e.Message)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// UnexpectedError wraps failures outside the known taxonomy. Treated like a
// connectivity error for retry purposes but flagged for diagnostics.
type UnexpectedError struct {
	Message string
	Cause   error
}

func (e *UnexpectedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("unexpected: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("unexpected: %s", e.Message)
}

func (e *UnexpectedError) Unwrap() error { return e.Cause }

// NewConnectivityError creates a ConnectivityError wrapping cause
func NewConnectivityError(message string, cause error) *ConnectivityError {
	return &ConnectivityError{Message: message, Cause: cause}
}

// NewAuthError creates an AuthError wrapping cause
func NewAuthError(message string, cause error) *AuthError {
	return &AuthError{Message: message, Cause: cause}
}

// NewUnexpectedError creates an UnexpectedError wrapping cause
func NewUnexpectedError(message string, cause error) *UnexpectedError {
	return &UnexpectedError{Message: message, Cause: cause}
}

// IsConnectivityError checks if the error is a connectivity error
func IsConnectivityError(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsAuthError checks if the error is an authentication error
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

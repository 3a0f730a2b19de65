// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for mobex.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalid indicates malformed framing or an unusable handle.
	ErrInvalid = errors.New("invalid")

	// ErrOverrun indicates bytes delivered after an object or tag completed.
	ErrOverrun = errors.New("overrun")

	// ErrMemoryCapacityExceeded indicates the destination buffer is too small.
	ErrMemoryCapacityExceeded = errors.New("memory capacity exceeded")

	// ErrParameterOutOfRange indicates a sentinel or out-of-domain argument.
	ErrParameterOutOfRange = errors.New("parameter out of range")

	// ErrUnknownConnectionIdentifier indicates no session matches the id.
	ErrUnknownConnectionIdentifier = errors.New("unknown connection identifier")

	// ErrCommandDisallowed indicates the session state forbids the operation.
	ErrCommandDisallowed = errors.New("command disallowed")

	// ErrAlreadyRegistered indicates a channel or PSM is already taken.
	ErrAlreadyRegistered = errors.New("service already registered")

	// ErrServiceNotFound indicates no service is registered for the id.
	ErrServiceNotFound = errors.New("service not found")

	// ErrBearerClosed indicates the bearer connection is gone.
	ErrBearerClosed = errors.New("bearer closed")

	// ErrBearerBusy indicates an outbound packet is still in flight.
	ErrBearerBusy = errors.New("bearer busy")

	// ErrUnsupportedBearer indicates the bearer kind is not configured.
	ErrUnsupportedBearer = errors.New("unsupported bearer")
)

// SessionError wraps an error with session context.
type SessionError struct {
	Op        string // Operation that failed
	Bearer    string // Bearer kind (stream, packet)
	SessionID uint16 // Session identifier
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Bearer != "" {
		return fmt.Sprintf("%s %s [%d]: %v", e.Bearer, e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s [%d]: %v", e.Op, e.SessionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// New creates a new SessionError.
func New(op, bearer string, sessionID uint16, err error) error {
	if err == nil {
		return nil
	}
	return &SessionError{
		Op:        op,
		Bearer:    bearer,
		SessionID: sessionID,
		Err:       err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

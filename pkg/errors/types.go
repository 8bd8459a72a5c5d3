// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the arbiter's structured error type, carrying
// the code/category split the dispatcher uses to decide between logging
// and dropping a message versus a fatal, state-dumping shutdown.
package errors

import (
	"fmt"
	"time"
)

// Code classifies an ArbiterError for programmatic handling.
type Code string

const (
	ErrCodeClientNotFound     Code = "CLIENT_NOT_FOUND"
	ErrCodeUnknownMessageKind Code = "UNKNOWN_MESSAGE_KIND"
	ErrCodeSeqRegression      Code = "SEQ_REGRESSION"
	ErrCodeOwnershipViolation Code = "OWNERSHIP_VIOLATION"
	ErrCodeTransportFailure   Code = "TRANSPORT_FAILURE"
	ErrCodeInvalidConstraint  Code = "INVALID_CONSTRAINT"
)

// Category groups codes by how the dispatcher must react.
type Category string

const (
	// CategoryProtocol covers malformed or unexpected messages: logged,
	// the triggering message is dropped, the dispatcher keeps running.
	CategoryProtocol Category = "PROTOCOL"
	// CategoryInvariant covers resource-table corruption: fatal.
	CategoryInvariant Category = "INVARIANT"
	// CategoryTransport covers send/receive failures: fatal.
	CategoryTransport Category = "TRANSPORT"
	// CategoryConstraint covers a client's malformed min/max cores: the
	// triggering INVADE is logged and dropped rather than applied.
	CategoryConstraint Category = "CONSTRAINT"
)

// Fatal reports whether errors of category cat require the dispatcher to
// dump scheduler state and exit, rather than log-and-continue.
func (cat Category) Fatal() bool {
	return cat == CategoryInvariant || cat == CategoryTransport
}

// ArbiterError is the structured error type returned by dispatcher
// handlers, the reconciler, and the transport layer.
type ArbiterError struct {
	Code      Code
	Category  Category
	Message   string
	PID       int32 // offending client, when known; 0 if not applicable
	Timestamp time.Time
	Cause     error
}

func (e *ArbiterError) Error() string {
	if e.PID != 0 {
		return fmt.Sprintf("[%s] %s (pid=%d)", e.Code, e.Message, e.PID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ArbiterError) Unwrap() error {
	return e.Cause
}

func (e *ArbiterError) Is(target error) bool {
	other, ok := target.(*ArbiterError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

var categoryByCode = map[Code]Category{
	ErrCodeClientNotFound:     CategoryProtocol,
	ErrCodeUnknownMessageKind: CategoryProtocol,
	ErrCodeSeqRegression:      CategoryProtocol,
	ErrCodeOwnershipViolation: CategoryInvariant,
	ErrCodeTransportFailure:   CategoryTransport,
	ErrCodeInvalidConstraint:  CategoryConstraint,
}

// New builds an ArbiterError, inferring its Category from code.
func New(code Code, message string) *ArbiterError {
	return &ArbiterError{
		Code:      code,
		Category:  categoryByCode[code],
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Newf is New with fmt.Sprintf-style formatting of message.
func Newf(code Code, format string, args ...any) *ArbiterError {
	return New(code, fmt.Sprintf(format, args...))
}

// WithPID sets the offending client pid on e and returns it.
func (e *ArbiterError) WithPID(pid int32) *ArbiterError {
	e.PID = pid
	return e
}

// WithCause sets the underlying cause on e and returns it.
func (e *ArbiterError) WithCause(cause error) *ArbiterError {
	e.Cause = cause
	return e
}

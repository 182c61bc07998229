// Package shared contains common domain types, errors and events used by
// every domain package. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Validation errors
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Infrastructure errors
	ErrStorage = errors.New("storage error")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "achievement", "scoring", "activity"
	Op      string // Operation that failed, e.g., "Normalize", "Grant"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Achievement domain errors
var (
	ErrCriteriaFormat = NewDomainError("achievement", "Normalize", ErrInvalidFormat, "criteria payload in no recognized format")
	ErrInvalidUserID  = NewDomainError("achievement", "Validate", ErrInvalidID, "user ID is required")
)

// Activity domain errors
var (
	// ErrActivityRead is the kind of every failed activity read. It matches
	// ErrStorage too.
	ErrActivityRead = NewDomainError("activity", "Read", ErrStorage, "failed to read activity records")
)

// Scoring domain errors
var (
	ErrInvalidWeights = NewDomainError("scoring", "Validate", ErrValueOutOfRange, "weights must be non-negative")
)

// IsInvalidFormat checks if the error is a format error.
func IsInvalidFormat(err error) bool {
	return errors.Is(err, ErrInvalidFormat)
}

// IsStorage checks if the error came from the persistence collaborator.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

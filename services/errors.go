package services

import (
	"errors"
	"fmt"
)

// ErrorType categorizes a DomainError so transport layers can map it to a
// status code without string matching.
type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
)

// DomainError is a typed error shared by the governance services. Sentinel
// instances below are matched with errors.Is; wrapped causes stay reachable
// through Unwrap.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same type, so
// errors.Is(err, ErrEnvelopeNotFound) holds for every not-found error
// wrapping that sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewDomainError creates a typed error wrapping an optional cause.
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{Type: errType, Message: message, Err: err}
}

var (
	// Not-found errors.
	ErrEnvelopeNotFound   = NewDomainError(ErrorTypeNotFound, "spending envelope not found", nil)
	ErrCommitNotFound     = NewDomainError(ErrorTypeNotFound, "pending commit not found", nil)
	ErrAssignmentNotFound = NewDomainError(ErrorTypeNotFound, "trust assignment not found", nil)

	// Validation errors.
	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	// Internal errors.
	ErrStorageFailure = NewDomainError(ErrorTypeInternal, "storage operation failed", nil)
)

// TypeOf extracts the ErrorType from an error chain, defaulting to
// ErrorTypeInternal when no DomainError is present.
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrorTypeInternal
}

// Package apperrors holds the recoverable error kinds surfaced by the sync engine.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrFetch         = errors.New("fetch failed")
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrSelfReference = errors.New("self reference")
	ErrAlreadyExists = errors.New("already exists")
	ErrSubscription  = errors.New("subscription failed")
)

// FetchError is a storage or network read failure. Retry on user action.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Op, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// Fetch wraps err as a FetchError for op. A nil err stays nil.
func Fetch(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FetchError{Op: op, Err: err}
}

// ValidationError rejects input before it reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a lookup with no result.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.Key) }
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SelfReferenceError is returned when a user tries to befriend themselves.
type SelfReferenceError struct {
	UserID string
}

func (e *SelfReferenceError) Error() string { return "cannot add yourself as a friend" }
func (e *SelfReferenceError) Is(target error) bool {
	return target == ErrSelfReference
}

// AlreadyExistsError is a non-fatal notice: the friendship is already in place.
type AlreadyExistsError struct {
	UserID   string
	FriendID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s is already a friend", e.FriendID)
}
func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// SubscriptionError reports that the live feed could not be re-established.
type SubscriptionError struct {
	Attempts int
	Err      error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("feed subscription failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *SubscriptionError) Unwrap() error { return e.Err }
func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument signals malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidRole signals an unknown embedding role token.
	ErrInvalidRole = errors.New("invalid embedding role")
	// ErrInvalidVectorSpace signals an unknown vector space name.
	ErrInvalidVectorSpace = errors.New("invalid vector space")
	// ErrCacheEntryNotFound signals a missing embedding cache entry.
	ErrCacheEntryNotFound = errors.New("embedding cache entry not found")
	// ErrNodeSearchUnavailable signals a node search request without a node query builder.
	ErrNodeSearchUnavailable = errors.New("node search unavailable")
)

// InvalidArgumentError wraps ErrInvalidArgument with the offending field.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidArgument.Error(), e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// NewInvalidArgument creates an invalid argument error.
func NewInvalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}

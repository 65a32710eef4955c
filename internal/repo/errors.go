package repo

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every failure returned by this package satisfies
// errors.Is against exactly one of these.
var (
	ErrNotFound   = errors.New("not_found")
	ErrConflict   = errors.New("conflict")
	ErrInvariant  = errors.New("invariant")
	ErrBackend    = errors.New("backend")
	ErrForbidden  = errors.New("forbidden")
)

// OpError is a typed operation error carrying a stable Op + Kind contract.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness violation for a specific logical field.
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing referenced resource.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// InvariantError reports a refusal to break a documented invariant
// (pin cap, status downgrade, reply to a missing parent, ...).
type InvariantError struct {
	Op  string
	Msg string
}

func (e InvariantError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrInvariant, e.Msg)
}

func (e InvariantError) Unwrap() error { return ErrInvariant }

// ForbiddenError reports a valid principal acting outside its authority
// (deleting another author's message, editing a conversation it does not
// participate in).
type ForbiddenError struct {
	Op  string
	Msg string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrForbidden, e.Msg)
}

func (e ForbiddenError) Unwrap() error { return ErrForbidden }

// IsConflict reports whether err represents a uniqueness conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvariant reports whether err represents a refused invariant-breaking write.
func IsInvariant(err error) bool { return errors.Is(err, ErrInvariant) }

// IsForbidden reports whether err represents an authorization failure.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

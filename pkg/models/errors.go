package models

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store and maintenance layers. Callers
// classify with errors.Is; the store never leaks raw driver errors.
var (
	// ErrNotFound is returned when a referenced entity is absent. Access
	// denials surface as ErrNotFound too, so a forbidden resource is
	// indistinguishable from a missing one.
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation is returned on enum/domain or uniqueness
	// breaches. Inspect with AsConstraintError for the specific kind.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrDimensionMismatch is returned when a query or stored vector's
	// length does not match the declared dimension for its model.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrMaintenanceInProgress is returned when a maintenance cycle is
	// triggered while one is already running.
	ErrMaintenanceInProgress = errors.New("maintenance cycle already running")

	// ErrPartialMaintenanceFailure is reported when one or more rollups
	// failed during a cycle while the others completed.
	ErrPartialMaintenanceFailure = errors.New("maintenance cycle partially failed")
)

// ConstraintKind classifies a constraint violation.
type ConstraintKind string

const (
	ConstraintDomain ConstraintKind = "domain" // invalid enum or range value
	ConstraintUnique ConstraintKind = "unique" // duplicate key
)

// ConstraintError carries the classification of a constraint violation.
// It unwraps to ErrConstraintViolation.
type ConstraintError struct {
	Kind   ConstraintKind
	Table  string
	Detail string
}

func (e *ConstraintError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("constraint violation (%s) on %s: %s", e.Kind, e.Table, e.Detail)
	}
	return fmt.Sprintf("constraint violation (%s): %s", e.Kind, e.Detail)
}

func (e *ConstraintError) Unwrap() error { return ErrConstraintViolation }

// AsConstraintError extracts a ConstraintError from an error chain.
func AsConstraintError(err error) (*ConstraintError, bool) {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

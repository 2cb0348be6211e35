// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is not in a state that permits the
// requested operation (cancel a finished run, retry a running one).
var ErrConflict = errors.New("conflict: operation not valid in current state")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrBusy indicates a resource limit prevents accepting new work right now.
var ErrBusy = errors.New("busy: concurrent run limit reached")

// Package repository defines error types that are reused across the user
// store and the session registries.  These sentinel values let the service
// layer tell a missing row apart from an infrastructure failure.
package repository

import "errors"

// ErrNotFound is returned when no identity matches the lookup.  The service
// layer translates it into its own NotFound/Unauthorized kinds.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing
// username or email.  Handlers translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

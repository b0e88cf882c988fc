// Package repository implements MySQL persistence for the portal core.
// The sentinel errors defined here let services and handlers distinguish
// failure scenarios without inspecting driver error strings.
package repository

import "errors"

// ErrNotFound is returned when a row does not exist. Services frequently
// remap it to a generic authentication denial to avoid enumeration.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when an insert collides with the unique email
// index.
var ErrEmailExists = errors.New("email already exists")

// ErrUsernameExists is returned when an insert collides with the unique
// username index.
var ErrUsernameExists = errors.New("username already exists")

// ErrCodeExists is returned when a generated voucher code collides with an
// existing one; callers regenerate and retry.
var ErrCodeExists = errors.New("voucher code already exists")

// ErrConflict is returned when an update cannot be performed because of
// conflicting state, such as redeeming an exhausted voucher. Handlers
// translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// Copyright 2025 Wisdom Hub Project
//
// Package store provides sentinel errors for entity store operations.

package store

import "errors"

// Sentinel errors for store operations
var (
	// ErrNotFound is returned when a requested entity is not in the store
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned on agent version rollback or tag name collision
	ErrConflict = errors.New("write conflict")

	// ErrBadCursor is returned when a continuation cursor cannot be decoded
	ErrBadCursor = errors.New("malformed continuation cursor")
)

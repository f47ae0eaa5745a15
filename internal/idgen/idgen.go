// Package idgen generates opaque unique ids for messages and connections.
//
// Called by: public/agent (the generator handed to message.Stamp for
// meta.id stamping).
package idgen

import "github.com/google/uuid"

// Generator produces globally unique opaque string ids.
type Generator interface {
	NewID() string
}

// UUID is the default Generator, backed by github.com/google/uuid.
type UUID struct{}

// NewID returns a new random UUID string.
func (UUID) NewID() string {
	return uuid.New().String()
}

// Default is the package-level Generator used when callers don't need to
// inject a fake for deterministic tests.
var Default Generator = UUID{}

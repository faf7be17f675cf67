// Package identity issues participant and room identifiers.
package identity

import "github.com/google/uuid"

// Allocator hands out identifiers that are unique for the process lifetime.
type Allocator interface {
	Allocate() string
}

// UUIDAllocator allocates random (version 4) UUIDs in canonical textual form.
type UUIDAllocator struct{}

func (UUIDAllocator) Allocate() string {
	return uuid.NewString()
}

// New returns the default allocator.
func New() Allocator {
	return UUIDAllocator{}
}

// IsCanonical reports whether s is an identifier in the form Allocate produces.
func IsCanonical(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

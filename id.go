package actionqueue

import "github.com/google/uuid"

// IDGenerator creates entry identifiers.
type IDGenerator interface {
	// New returns a new identifier.
	New() (uuid.UUID, error)
}

// UUIDv7Generator produces time-ordered UUID v7 identifiers.
type UUIDv7Generator struct{}

// New implements IDGenerator.
func (UUIDv7Generator) New() (uuid.UUID, error) {
	return uuid.NewV7()
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() (uuid.UUID, error)

// New implements IDGenerator.
func (fn IDGeneratorFunc) New() (uuid.UUID, error) {
	return fn()
}

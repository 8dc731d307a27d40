// Package uuid generates record IDs. Version 7 IDs sort by creation time, so
// listing queries ordered by ID follow insertion order.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements leadgen.IDGenerator.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

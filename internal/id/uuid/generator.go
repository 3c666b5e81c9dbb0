// Package uuid provides time-ordered ID generation for messages and runs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings, optionally prefixed.
type Generator struct {
	prefix string
}

// New creates a Generator. A non-empty prefix is joined with "-".
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a new UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}

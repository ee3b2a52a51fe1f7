// Package uuid provides run identifiers and deterministic vector point IDs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings for harvest runs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// PointID returns the vector index point ID for a SKU. It is a name-based
// UUIDv5 in the DNS namespace, so repeated upserts of one SKU overwrite the
// same point.
func PointID(sku string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(sku)).String()
}

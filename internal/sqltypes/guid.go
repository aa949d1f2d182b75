// Package sqltypes holds the value and row representations that flow through
// the plan tree: Dataverse entity identifiers, typed query values, and rows.
package sqltypes

import (
	"fmt"

	"github.com/google/uuid"
)

// Guid is a Dataverse 128-bit entity identifier. Every entity's primary key
// column ({logical_name}id) holds one of these.
type Guid struct {
	uuid.UUID
}

// NewGuid generates a new random Guid.
func NewGuid() Guid {
	return Guid{uuid.New()}
}

// ParseGuid parses a string into a Guid. Dataverse accepts both the
// braces-and-hyphens form ({xxxxxxxx-xxxx-...}) and the bare hyphenated form.
func ParseGuid(s string) (Guid, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Guid{}, fmt.Errorf("parsing guid %q: %w", s, err)
	}
	return Guid{id}, nil
}

// IsNil reports whether this is the zero Guid.
func (g Guid) IsNil() bool {
	return g.UUID == uuid.Nil
}

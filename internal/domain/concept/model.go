package concept

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Concept maps to the host's concept table: one entry of the controlled
// vocabulary, addressed by its stable UUID.
type Concept struct {
	ID          uuid.UUID `db:"id" json:"-"`
	UUID        string    `db:"uuid" json:"uuid"`
	Name        string    `db:"name" json:"name,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
	Retired     bool      `db:"retired" json:"retired,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
}

// Equal reports whether both concepts carry the same stable identifier.
func (c *Concept) Equal(other *Concept) bool {
	if c == nil || other == nil || c.UUID == "" {
		return false
	}
	return strings.EqualFold(c.UUID, other.UUID)
}

// Is reports whether the concept has the given stable identifier.
func (c *Concept) Is(conceptUUID string) bool {
	if c == nil || c.UUID == "" {
		return false
	}
	return strings.EqualFold(c.UUID, conceptUUID)
}

// DescriptionOr returns the description, or fallback when none is recorded.
func (c *Concept) DescriptionOr(fallback string) string {
	if c.Description == nil || *c.Description == "" {
		return fallback
	}
	return *c.Description
}

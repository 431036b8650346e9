package knowledge

import (
	"fmt"
	"time"
)

// EntityType classifies a canonical real-world referent.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityProject      EntityType = "project"
	EntityOrganization EntityType = "organization"
	EntityPlace        EntityType = "place"
	EntityConcept      EntityType = "concept"
	EntityTool         EntityType = "tool"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityProject, EntityOrganization, EntityPlace, EntityConcept, EntityTool:
		return true
	}
	return false
}

// Entity is a canonical real-world referent. Entities are resolved by
// canonical-name or alias match, never recreated; a miss creates a new row.
type Entity struct {
	ID            string     `json:"id"`
	CanonicalName string     `json:"canonical_name"`
	Type          EntityType `json:"type"`
	Aliases       []string   `json:"aliases,omitempty"`

	// Summary is an optional generated profile, produced by the entity
	// enrichment sub-pass for frequently mentioned entities.
	Summary string `json:"summary,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	FirstSeen    time.Time `json:"first_seen"`
	LastUpdated  time.Time `json:"last_updated"`
	MentionCount int       `json:"mention_count"`
}

// Validate checks the entity for storage-boundary integrity.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: entity id is empty", ErrInvalid)
	}
	if e.CanonicalName == "" {
		return fmt.Errorf("%w: entity canonical name is empty", ErrInvalid)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalid, e.Type)
	}
	return nil
}

// Mention is an entity reference observed in text, input to resolution.
type Mention struct {
	Name string
	Type EntityType
}

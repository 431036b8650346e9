// Package eventstream defines the fire-and-forget notification channel the
// engine uses to signal lifecycle events to interested components. The engine
// never depends on delivery guarantees of this channel for its own
// correctness.
package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeSessionConsolidated is emitted after a session's knowledge has
	// been consolidated into the graph.
	EventTypeSessionConsolidated = "engram.session.consolidated"
)

// SessionConsolidatedEvent is a transport-neutral payload for a completed
// consolidation.
type SessionConsolidatedEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	SessionID      string `json:"session_id"`
	FactsCreated   int    `json:"facts_created"`
	EntitiesLinked int    `json:"entities_linked"`
	ConflictsFound int    `json:"conflicts_found"`
}

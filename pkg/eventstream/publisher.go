package eventstream

import "context"

// Publisher publishes session events to an event stream backend.
type Publisher interface {
	PublishSessionConsolidated(ctx context.Context, event *SessionConsolidatedEvent) error
	Close() error
}

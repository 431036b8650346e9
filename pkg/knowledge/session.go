package knowledge

import "time"

// Session is one row of the session ledger. A nil ConsolidatedAt means the
// session is still pending consolidation; the ledger drives both the reactive
// (session switch) and scheduled consolidation triggers.
type Session struct {
	ID             string     `json:"id"`
	FirstSeen      time.Time  `json:"first_seen"`
	ConsolidatedAt *time.Time `json:"consolidated_at,omitempty"`
}

// Pending reports whether the session still awaits consolidation.
func (s *Session) Pending() bool {
	return s.ConsolidatedAt == nil
}

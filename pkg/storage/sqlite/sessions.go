package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

func scanSession(row rowScanner) (*knowledge.Session, error) {
	var s knowledge.Session
	var consolidatedAt sql.NullTime

	err := row.Scan(&s.ID, &s.FirstSeen, &consolidatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if consolidatedAt.Valid {
		t := consolidatedAt.Time
		s.ConsolidatedAt = &t
	}

	return &s, nil
}

// ObserveSession records a session in the ledger if absent. Returns true when
// this call was the first sighting.
func (s *Store) ObserveSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	if sessionID == "" {
		return false, fmt.Errorf("%w: empty session id", knowledge.ErrInvalid)
	}

	var isNew bool
	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT OR IGNORE INTO sessions(id, first_seen) VALUES (?, ?)`,
			sessionID, at,
		)
		if err != nil {
			return fmt.Errorf("observing session %s: %w", sessionID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		isNew = affected > 0

		return nil
	})

	return isNew, err
}

// GetSession fetches one ledger row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*knowledge.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, first_seen, consolidated_at FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

// PendingSessions lists unconsolidated sessions, oldest first.
func (s *Store) PendingSessions(ctx context.Context, limit int) ([]*knowledge.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, first_seen, consolidated_at FROM sessions
		 WHERE consolidated_at IS NULL ORDER BY first_seen ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*knowledge.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// MarkConsolidated transitions pending → consolidated. The guarded UPDATE and
// the writer queue together make concurrent consolidation of the same session
// impossible: only one caller observes true.
func (s *Store) MarkConsolidated(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	var won bool

	err := s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE sessions SET consolidated_at = ? WHERE id = ? AND consolidated_at IS NULL`,
			at, sessionID,
		)
		if err != nil {
			return fmt.Errorf("marking session %s consolidated: %w", sessionID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		won = affected > 0

		if !won {
			var one int
			if err := tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
			} else if err != nil {
				return err
			}
		}

		return nil
	})

	return won, err
}

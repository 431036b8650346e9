package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

const nodeCols = `id, kind, content, event_time, created_at, valid_from, valid_until,
	confidence, access_count, last_accessed, decay_rate, source_kind, source_role, session_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*knowledge.Node, error) {
	var n knowledge.Node
	var validUntil sql.NullTime

	err := row.Scan(
		&n.ID, &n.Kind, &n.Content, &n.EventTime, &n.CreatedAt, &n.ValidFrom, &validUntil,
		&n.Confidence, &n.AccessCount, &n.LastAccessed, &n.DecayRate,
		&n.Provenance.SourceKind, &n.Provenance.SourceRole, &n.Provenance.SessionID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning node: %w", err)
	}

	if validUntil.Valid {
		t := validUntil.Time
		n.ValidUntil = &t
	}

	return &n, nil
}

func collectNodes(rows *sql.Rows) ([]*knowledge.Node, error) {
	defer rows.Close()

	var nodes []*knowledge.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

// CreateNode persists a node and its full-text index entry atomically.
func (s *Store) CreateNode(ctx context.Context, node *knowledge.Node) error {
	if node == nil {
		return fmt.Errorf("%w: nil node", knowledge.ErrInvalid)
	}
	if err := node.Validate(); err != nil {
		return err
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		var validUntil any
		if node.ValidUntil != nil {
			validUntil = *node.ValidUntil
		}

		_, err := tx.Exec(`INSERT INTO nodes (`+nodeCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			node.ID, node.Kind, node.Content, node.EventTime, node.CreatedAt,
			node.ValidFrom, validUntil, node.Confidence, node.AccessCount,
			node.LastAccessed, node.DecayRate, node.Provenance.SourceKind,
			node.Provenance.SourceRole, node.Provenance.SessionID,
		)
		if err != nil {
			return fmt.Errorf("inserting node %s: %w", node.ID, err)
		}

		if _, err := tx.Exec(`INSERT INTO nodes_fts(id, content) VALUES (?, ?)`,
			node.ID, node.Content); err != nil {
			return fmt.Errorf("indexing node %s: %w", node.ID, err)
		}

		return nil
	})
}

// GetNode fetches a node by id, including soft-deleted rows so provenance
// chains can be explained end to end.
func (s *Store) GetNode(ctx context.Context, id string) (*knowledge.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeCols+` FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// SoftDelete deactivates a node by setting valid_until. The row survives for
// provenance and supersedes chains.
func (s *Store) SoftDelete(ctx context.Context, nodeID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE nodes SET valid_until = ? WHERE id = ? AND valid_until IS NULL`,
			time.Now().UTC(), nodeID,
		)
		if err != nil {
			return fmt.Errorf("soft-deleting node %s: %w", nodeID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// Distinguish "missing" from "already deleted": deleting an
			// inactive node is a no-op, not an error.
			var one int
			if err := tx.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, nodeID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("node %s: %w", nodeID, storage.ErrNotFound)
			} else if err != nil {
				return err
			}
		}

		return nil
	})
}

// RecordAccess bumps access counts and last_accessed for the given nodes.
func (s *Store) RecordAccess(ctx context.Context, nodeIDs []string, at time.Time) error {
	if len(nodeIDs) == 0 {
		return nil
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`UPDATE nodes SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range nodeIDs {
			if _, err := stmt.Exec(at, id); err != nil {
				return fmt.Errorf("recording access for %s: %w", id, err)
			}
		}

		return nil
	})
}

// BatchUpdateConfidence persists new confidence values in one transaction.
func (s *Store) BatchUpdateConfidence(ctx context.Context, confidences map[string]float64) error {
	if len(confidences) == 0 {
		return nil
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE nodes SET confidence = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for id, c := range confidences {
			if c < 0 || c > 1 {
				return fmt.Errorf("%w: confidence %f out of [0,1] for node %s", knowledge.ErrInvalid, c, id)
			}
			if _, err := stmt.Exec(c, id); err != nil {
				return fmt.Errorf("updating confidence for %s: %w", id, err)
			}
		}

		return nil
	})
}

// Protect pins a node against decay: decay_rate goes to zero and confidence
// to 1.0 in one write. Protection is data, not code; the decay pass never
// sees the node again because its listing predicate requires decay_rate > 0.
func (s *Store) Protect(ctx context.Context, nodeID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE nodes SET decay_rate = 0, confidence = 1.0 WHERE id = ? AND valid_until IS NULL`,
			nodeID,
		)
		if err != nil {
			return fmt.Errorf("protecting node %s: %w", nodeID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("node %s: %w", nodeID, storage.ErrNotFound)
		}

		return nil
	})
}

// EpisodesForSession returns the session's active episodic nodes in
// event-time order, paginated.
func (s *Store) EpisodesForSession(ctx context.Context, sessionID string, offset, limit int) ([]*knowledge.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeCols+` FROM nodes
		WHERE session_id = ? AND kind = ? AND valid_until IS NULL
		ORDER BY event_time ASC, created_at ASC LIMIT ? OFFSET ?`,
		sessionID, knowledge.KindEpisodic, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying session episodes: %w", err)
	}

	return collectNodes(rows)
}

// LatestEpisode returns the most recent episodic node of a session.
func (s *Store) LatestEpisode(ctx context.Context, sessionID string) (*knowledge.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeCols+` FROM nodes
		WHERE session_id = ? AND kind = ? AND valid_until IS NULL
		ORDER BY event_time DESC, created_at DESC LIMIT 1`,
		sessionID, knowledge.KindEpisodic)

	return scanNode(row)
}

// ListDecayable pages through active non-episodic nodes with decay_rate > 0.
// Protection (decay_rate = 0) is enforced here by the predicate, not by a
// special case in the decay pass.
func (s *Store) ListDecayable(ctx context.Context, offset, limit int) ([]*knowledge.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeCols+` FROM nodes
		WHERE valid_until IS NULL AND decay_rate > 0 AND kind != ?
		ORDER BY id LIMIT ? OFFSET ?`,
		knowledge.KindEpisodic, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying decayable nodes: %w", err)
	}

	return collectNodes(rows)
}

// ListLowConfidence returns active decayable nodes below the threshold,
// lowest confidence first.
func (s *Store) ListLowConfidence(ctx context.Context, threshold float64, limit int) ([]*knowledge.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeCols+` FROM nodes
		WHERE valid_until IS NULL AND decay_rate > 0 AND kind != ? AND confidence < ?
		ORDER BY confidence ASC LIMIT ?`,
		knowledge.KindEpisodic, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("querying low-confidence nodes: %w", err)
	}

	return collectNodes(rows)
}

// SearchFulltext runs an FTS5 query over active node content ranked by bm25.
func (s *Store) SearchFulltext(ctx context.Context, query string, f storage.Filters, limit int) ([]*knowledge.Node, error) {
	match := ftsMatchExpr(query)
	if match == "" {
		return nil, nil
	}

	var sb strings.Builder
	args := []any{match}

	sb.WriteString(`SELECT ` + prefixCols("n") + ` FROM nodes_fts f
		JOIN nodes n ON n.id = f.id WHERE nodes_fts MATCH ?`)

	if !f.IncludeDeleted {
		sb.WriteString(` AND n.valid_until IS NULL`)
	}
	if f.ExcludeSession != "" {
		sb.WriteString(` AND n.session_id != ?`)
		args = append(args, f.ExcludeSession)
	}
	if len(f.Kinds) > 0 {
		sb.WriteString(` AND n.kind IN (?` + strings.Repeat(",?", len(f.Kinds)-1) + `)`)
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}

	sb.WriteString(` ORDER BY bm25(nodes_fts) LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}

	return collectNodes(rows)
}

// SearchCandidateConflicts finds active facts of the same kind that overlap
// textually with new content. Conflict detection proper (negation, numeric
// disagreement) happens in the consolidation pipeline; this only narrows the
// candidate set.
func (s *Store) SearchCandidateConflicts(ctx context.Context, content string, kind knowledge.Kind, limit int) ([]*knowledge.Node, error) {
	return s.SearchFulltext(ctx, content, storage.Filters{Kinds: []knowledge.Kind{kind}}, limit)
}

// Stats aggregates counts across the store.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{NodesByKind: make(map[knowledge.Kind]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, count(*) FROM nodes WHERE valid_until IS NULL GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind knowledge.Kind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		stats.NodesByKind[kind] = count
		stats.ActiveNodes += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	queries := []struct {
		dst   *int
		query string
	}{
		{&stats.DeletedNodes, `SELECT count(*) FROM nodes WHERE valid_until IS NOT NULL`},
		{&stats.Edges, `SELECT count(*) FROM edges WHERE valid_until IS NULL`},
		{&stats.Entities, `SELECT count(*) FROM entities`},
		{&stats.PendingSessions, `SELECT count(*) FROM sessions WHERE consolidated_at IS NULL`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("aggregating stats: %w", err)
		}
	}

	return stats, nil
}

// prefixCols qualifies the node column list with a table alias.
func prefixCols(alias string) string {
	cols := strings.Split(nodeCols, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

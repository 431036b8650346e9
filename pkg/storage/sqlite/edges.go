package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

const edgeCols = `id, source_id, target_id, relation, predicate, weight, confidence,
	valid_from, valid_until, evidence, created_at`

func scanEdge(row rowScanner) (*knowledge.Edge, error) {
	var e knowledge.Edge
	var validUntil sql.NullTime
	var evidence string

	err := row.Scan(
		&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &e.Predicate, &e.Weight,
		&e.Confidence, &e.ValidFrom, &validUntil, &evidence, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning edge: %w", err)
	}

	if validUntil.Valid {
		t := validUntil.Time
		e.ValidUntil = &t
	}
	if err := json.Unmarshal([]byte(evidence), &e.Evidence); err != nil {
		return nil, fmt.Errorf("decoding edge evidence: %w", err)
	}

	return &e, nil
}

// CreateEdge persists an edge after verifying both endpoints exist. The
// existence check runs in the same writer transaction as the insert, so a
// concurrent delete cannot slip between them.
func (s *Store) CreateEdge(ctx context.Context, edge *knowledge.Edge) error {
	if edge == nil {
		return fmt.Errorf("%w: nil edge", knowledge.ErrInvalid)
	}
	if err := edge.Validate(); err != nil {
		return err
	}

	evidence, err := json.Marshal(edge.Evidence)
	if err != nil {
		return fmt.Errorf("encoding edge evidence: %w", err)
	}
	if edge.Evidence == nil {
		evidence = []byte("[]")
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{edge.SourceID, edge.TargetID} {
			var one int
			if err := tx.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one); errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("node %s: %w", id, storage.ErrMissingNode)
			} else if err != nil {
				return err
			}
		}

		var validUntil any
		if edge.ValidUntil != nil {
			validUntil = *edge.ValidUntil
		}

		if _, err := tx.Exec(`INSERT INTO edges (`+edgeCols+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			edge.ID, edge.SourceID, edge.TargetID, edge.Relation, edge.Predicate,
			edge.Weight, edge.Confidence, edge.ValidFrom, validUntil,
			string(evidence), edge.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting edge %s: %w", edge.ID, err)
		}

		return nil
	})
}

// Edges returns active edges touching a node. Direction is relative to the
// node: out means the node is the source.
func (s *Store) Edges(ctx context.Context, nodeID string, relation knowledge.Relation, dir storage.Direction) ([]*knowledge.Edge, error) {
	var where string
	args := []any{}

	switch dir {
	case storage.DirectionOut:
		where = `source_id = ?`
		args = append(args, nodeID)
	case storage.DirectionIn:
		where = `target_id = ?`
		args = append(args, nodeID)
	case storage.DirectionBoth:
		where = `(source_id = ? OR target_id = ?)`
		args = append(args, nodeID, nodeID)
	default:
		return nil, fmt.Errorf("%w: unknown direction %q", knowledge.ErrInvalid, dir)
	}

	query := `SELECT ` + edgeCols + ` FROM edges WHERE ` + where + ` AND valid_until IS NULL`
	if relation != "" {
		query += ` AND relation = ?`
		args = append(args, relation)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying edges for %s: %w", nodeID, err)
	}
	defer rows.Close()

	var edges []*knowledge.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}

	return edges, rows.Err()
}

// Traverse walks edges of one relation from the seeds breadth-first up to
// maxDepth, returning visited active nodes with seeds first. Within one hop
// neighbors keep edge creation order, which makes a temporal chain walk come
// back in time order.
func (s *Store) Traverse(ctx context.Context, seedIDs []string, relation knowledge.Relation, dir storage.Direction, maxDepth int) ([]*knowledge.Node, error) {
	if !relation.Valid() {
		return nil, fmt.Errorf("%w: unknown relation %q", knowledge.ErrInvalid, relation)
	}

	visited := make(map[string]bool, len(seedIDs))
	var order []string

	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		if visited[id] {
			continue
		}
		visited[id] = true
		order = append(order, id)
		frontier = append(frontier, id)
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string

		for _, id := range frontier {
			edges, err := s.Edges(ctx, id, relation, dir)
			if err != nil {
				return nil, err
			}

			for _, e := range edges {
				neighbor := e.TargetID
				if neighbor == id {
					neighbor = e.SourceID
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				order = append(order, neighbor)
				next = append(next, neighbor)
			}
		}

		frontier = next
	}

	nodes := make([]*knowledge.Node, 0, len(order))
	for _, id := range order {
		n, err := s.GetNode(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !n.Active() {
			continue
		}
		nodes = append(nodes, n)
	}

	return nodes, nil
}

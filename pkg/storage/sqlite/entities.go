package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

const entityCols = `id, canonical_name, type, summary, first_seen, last_updated, mention_count`

func scanEntity(row rowScanner) (*knowledge.Entity, error) {
	var e knowledge.Entity

	err := row.Scan(&e.ID, &e.CanonicalName, &e.Type, &e.Summary,
		&e.FirstSeen, &e.LastUpdated, &e.MentionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}

	return &e, nil
}

func (s *Store) loadAliases(ctx context.Context, e *knowledge.Entity) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias FROM entity_aliases WHERE entity_id = ? ORDER BY alias`, e.ID)
	if err != nil {
		return fmt.Errorf("loading aliases for %s: %w", e.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return err
		}
		e.Aliases = append(e.Aliases, alias)
	}

	return rows.Err()
}

// normalizeName canonicalizes a mention for matching. Matching is
// case-insensitive and whitespace-folded; the stored canonical name keeps the
// original casing of the first mention.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ResolveOrCreateEntity maps a mention to its canonical entity. The whole
// lookup-or-create runs as one unit on the writer queue, so two concurrent
// resolutions of the same new name cannot create two rows.
func (s *Store) ResolveOrCreateEntity(ctx context.Context, mention knowledge.Mention) (*knowledge.Entity, error) {
	name := strings.TrimSpace(mention.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty mention name", knowledge.ErrInvalid)
	}
	if mention.Type == "" {
		mention.Type = knowledge.EntityConcept
	}
	if !mention.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown entity type %q", knowledge.ErrInvalid, mention.Type)
	}

	var resolvedID string
	normalized := normalizeName(name)
	now := time.Now().UTC()

	err := s.write(ctx, func(tx *sql.Tx) error {
		var id string

		// Exact canonical-name match first, then alias match.
		err := tx.QueryRow(
			`SELECT id FROM entities WHERE lower(canonical_name) = ?`, normalized,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.QueryRow(
				`SELECT entity_id FROM entity_aliases WHERE alias = ?`, normalized,
			).Scan(&id)
		}

		switch {
		case err == nil:
			if _, err := tx.Exec(
				`UPDATE entities SET mention_count = mention_count + 1, last_updated = ? WHERE id = ?`,
				now, id,
			); err != nil {
				return fmt.Errorf("bumping mention count: %w", err)
			}
			// Merge the surface form as an alias so future variants hit.
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO entity_aliases(entity_id, alias) VALUES (?, ?)`,
				id, normalized,
			); err != nil {
				return fmt.Errorf("merging alias: %w", err)
			}

		case errors.Is(err, sql.ErrNoRows):
			id = uuid.NewString()
			if _, err := tx.Exec(`INSERT INTO entities (`+entityCols+`)
				VALUES (?, ?, ?, '', ?, ?, 1)`,
				id, name, mention.Type, now, now,
			); err != nil {
				return fmt.Errorf("creating entity %q: %w", name, err)
			}
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO entity_aliases(entity_id, alias) VALUES (?, ?)`,
				id, normalized,
			); err != nil {
				return fmt.Errorf("seeding alias: %w", err)
			}

		default:
			return fmt.Errorf("resolving entity %q: %w", name, err)
		}

		resolvedID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetEntity(ctx, resolvedID)
}

// AddEntityAlias registers an additional alias for an existing entity, used
// when configuration or enrichment knows variants ahead of mentions.
func (s *Store) AddEntityAlias(ctx context.Context, entityID, alias string) error {
	normalized := normalizeName(alias)
	if normalized == "" {
		return fmt.Errorf("%w: empty alias", knowledge.ErrInvalid)
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		var one int
		if err := tx.QueryRow(`SELECT 1 FROM entities WHERE id = ?`, entityID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entity %s: %w", entityID, storage.ErrNotFound)
		} else if err != nil {
			return err
		}

		_, err := tx.Exec(
			`INSERT OR IGNORE INTO entity_aliases(entity_id, alias) VALUES (?, ?)`,
			entityID, normalized,
		)
		return err
	})
}

// LinkNodeEntity associates a node with an entity. Idempotent.
func (s *Store) LinkNodeEntity(ctx context.Context, nodeID, entityID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		var one int
		if err := tx.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, nodeID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("node %s: %w", nodeID, storage.ErrMissingNode)
		} else if err != nil {
			return err
		}
		if err := tx.QueryRow(`SELECT 1 FROM entities WHERE id = ?`, entityID).Scan(&one); errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("entity %s: %w", entityID, storage.ErrNotFound)
		} else if err != nil {
			return err
		}

		_, err := tx.Exec(
			`INSERT OR IGNORE INTO node_entities(node_id, entity_id) VALUES (?, ?)`,
			nodeID, entityID,
		)
		return err
	})
}

// GetEntity fetches an entity with its aliases.
func (s *Store) GetEntity(ctx context.Context, id string) (*knowledge.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityCols+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err != nil {
		return nil, err
	}

	if err := s.loadAliases(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}

// SearchEntity looks up an entity by canonical name or alias.
func (s *Store) SearchEntity(ctx context.Context, nameOrAlias string) (*knowledge.Entity, error) {
	normalized := normalizeName(nameOrAlias)

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE lower(canonical_name) = ?`, normalized,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx,
			`SELECT entity_id FROM entity_aliases WHERE alias = ?`, normalized,
		).Scan(&id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("searching entity %q: %w", nameOrAlias, err)
	}

	return s.GetEntity(ctx, id)
}

// EntityNodes returns active nodes linked to an entity, newest first.
func (s *Store) EntityNodes(ctx context.Context, entityID string, limit int) ([]*knowledge.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+prefixCols("n")+` FROM node_entities ne
		JOIN nodes n ON n.id = ne.node_id
		WHERE ne.entity_id = ? AND n.valid_until IS NULL
		ORDER BY n.event_time DESC LIMIT ?`,
		entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying entity nodes: %w", err)
	}

	return collectNodes(rows)
}

// NodeEntities returns entities linked to a node.
func (s *Store) NodeEntities(ctx context.Context, nodeID string) ([]*knowledge.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT e.`+strings.ReplaceAll(entityCols, ", ", ", e.")+`
		FROM node_entities ne JOIN entities e ON e.id = ne.entity_id
		WHERE ne.node_id = ? ORDER BY e.mention_count DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("querying node entities: %w", err)
	}
	defer rows.Close()

	var entities []*knowledge.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range entities {
		if err := s.loadAliases(ctx, e); err != nil {
			return nil, err
		}
	}

	return entities, nil
}

// ListEntitiesByMentions returns entities with at least minMentions mentions,
// most mentioned first.
func (s *Store) ListEntitiesByMentions(ctx context.Context, minMentions, limit int) ([]*knowledge.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityCols+` FROM entities
		WHERE mention_count >= ? ORDER BY mention_count DESC LIMIT ?`,
		minMentions, limit)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var entities []*knowledge.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range entities {
		if err := s.loadAliases(ctx, e); err != nil {
			return nil, err
		}
	}

	return entities, nil
}

// UpdateEntitySummary stores a generated profile summary.
func (s *Store) UpdateEntitySummary(ctx context.Context, entityID, summary string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE entities SET summary = ?, last_updated = ? WHERE id = ?`,
			summary, time.Now().UTC(), entityID,
		)
		if err != nil {
			return fmt.Errorf("updating entity summary: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("entity %s: %w", entityID, storage.ErrNotFound)
		}

		return nil
	})
}

package memory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AddEntity returns the id of the entity with the given name and type,
// creating it if absent. Idempotent on (name, type).
func (s *Store) AddEntity(ctx context.Context, name string, entityType EntityType) (string, error) {
	if name == "" {
		return "", fmt.Errorf("entity name cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id FROM memory_entities WHERE name = ? AND type = ?`),
		name, string(entityType)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to look up entity: %w", err)
	}

	id = uuid.New().String()
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO memory_entities (id, name, type) VALUES (?, ?, ?)`),
		id, name, string(entityType)); err != nil {
		return "", fmt.Errorf("failed to create entity: %w", err)
	}
	return id, nil
}

// Link ties a memory to an entity. Repeating an existing link is a
// no-op.
func (s *Store) Link(ctx context.Context, memoryID, entityID, relationship string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT 1 FROM memory_entity_links WHERE memory_id = ? AND entity_id = ? AND relationship = ?`),
		memoryID, entityID, relationship).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check link: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO memory_entity_links (memory_id, entity_id, relationship) VALUES (?, ?, ?)`),
		memoryID, entityID, relationship); err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// ByEntity returns memories linked to any entity with the given name,
// restricted to the user's visible memories.
func (s *Store) ByEntity(ctx context.Context, name, userID string) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+memoryColumnsPrefixed+`
FROM memories m
JOIN memory_entity_links l ON l.memory_id = m.id
JOIN memory_entities e ON e.id = l.entity_id
WHERE e.name = ? AND (m.user_id = ? OR m.user_id IS NULL)
ORDER BY m.created_at DESC`),
		name, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query by entity: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// Entities lists every entity ordered by name.
func (s *Store) Entities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type FROM memory_entities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := make([]Entity, 0)
	for rows.Next() {
		var e Entity
		var entityType string
		if err := rows.Scan(&e.ID, &e.Name, &entityType); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.Type = EntityType(entityType)
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

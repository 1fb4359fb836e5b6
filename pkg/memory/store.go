package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marginalia-ai/marginalia/pkg/config"
	"github.com/marginalia-ai/marginalia/pkg/embedders"
	"github.com/marginalia-ai/marginalia/pkg/observability"

	// Database drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists tiered memories, the entity graph, and governance
// settings over database/sql. Supports sqlite (default), postgres, and
// mysql. Mutating operations are serialized; embeddings are computed
// inside the same critical section so content and vector never diverge.
type Store struct {
	db       *sql.DB
	dialect  string
	embedder embedders.Provider
	cfg      config.MemoryConfig

	mu sync.Mutex
}

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255),
    category VARCHAR(64) NOT NULL,
    content TEXT NOT NULL,
    tier VARCHAR(16) NOT NULL,
    confidence REAL NOT NULL,
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed TIMESTAMP NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    source VARCHAR(16) NOT NULL,
    embedding %EMBED%
);

CREATE INDEX IF NOT EXISTS idx_memories_user_id ON memories(user_id);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);

CREATE TABLE IF NOT EXISTS memory_entities (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    type VARCHAR(32) NOT NULL,
    CONSTRAINT uq_entity_name_type UNIQUE (name, type)
);

CREATE TABLE IF NOT EXISTS memory_entity_links (
    memory_id VARCHAR(64) NOT NULL,
    entity_id VARCHAR(64) NOT NULL,
    relationship VARCHAR(64) NOT NULL,
    PRIMARY KEY (memory_id, entity_id, relationship)
);

CREATE TABLE IF NOT EXISTS memory_settings (
    user_id VARCHAR(255) PRIMARY KEY,
    auto_save_enabled INTEGER NOT NULL DEFAULT 1,
    auto_save_categories TEXT,
    core_cap INTEGER NOT NULL DEFAULT 10,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS project_tasks (
    id VARCHAR(64) PRIMARY KEY,
    project_id VARCHAR(255) NOT NULL,
    task_type VARCHAR(32) NOT NULL,
    description TEXT NOT NULL,
    agent_name VARCHAR(32),
    depends_on TEXT,
    scope VARCHAR(32),
    status VARCHAR(32) NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_project_tasks_project ON project_tasks(project_id);
`

// NewStore wraps an open database handle.
func NewStore(db *sql.DB, dialect string, embedder embedders.Provider, cfg config.MemoryConfig) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: dialect, embedder: embedder, cfg: cfg}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// NewStoreFromConfig opens the configured database and wraps it.
func NewStoreFromConfig(cfg config.MemoryConfig, embedder embedders.Provider) (*Store, error) {
	driverName := cfg.Driver
	// go-sqlite3 registers as "sqlite3".
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewStore(db, cfg.Driver, embedder, cfg)
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	embedType := "BLOB"
	if s.dialect == "postgres" {
		embedType = "BYTEA"
	}
	schema := strings.ReplaceAll(createSchemaSQL, "%EMBED%", embedType)

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(stmt)); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for collaborating services.
func (s *Store) DB() *sql.DB { return s.db }

// CoreCap returns the effective core-tier cap for a user.
func (s *Store) CoreCap(ctx context.Context, userID string) int {
	settings, err := s.GetSettings(ctx, userID)
	if err != nil || settings.CoreCap <= 0 {
		return s.cfg.CoreCap
	}
	return settings.CoreCap
}

// Add stores a new memory and returns its id. Adding a core memory to a
// full core tier demotes the new memory to long_term. The embedding is
// computed before the row exists, so content and vector are written
// together.
func (s *Store) Add(ctx context.Context, content, category, userID string, source Source, tier Tier, confidence float64) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("memory content cannot be empty")
	}
	if err := validateTier(tier); err != nil {
		return "", err
	}
	confidence = clampConfidence(confidence)

	embedding, err := s.embedder.Embed(content)
	if err != nil {
		return "", fmt.Errorf("failed to embed memory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tier == TierCore {
		count, err := s.countTierLocked(ctx, userID, TierCore)
		if err != nil {
			return "", err
		}
		if count >= s.CoreCap(ctx, userID) {
			tier = TierLongTerm
		}
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.rebind(`
INSERT INTO memories (id, user_id, category, content, tier, confidence, access_count, last_accessed, created_at, updated_at, source, embedding)
VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?)`),
		id, nullable(userID), category, content, string(tier), confidence, now, now, string(source), encodeEmbedding(embedding))
	if err != nil {
		observability.MemoryOpsTotal.WithLabelValues("add", "error").Inc()
		return "", fmt.Errorf("failed to insert memory: %w", err)
	}

	observability.MemoryOpsTotal.WithLabelValues("add", "ok").Inc()
	return id, nil
}

// Update mutates the named fields. When userID is non-empty the update
// is ownership-checked. Content changes re-embed; writing identical
// content preserves the stored embedding byte-for-byte.
func (s *Store) Update(ctx context.Context, id string, fields UpdateFields, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getLocked(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}
	if userID != "" && current.UserID != "" && current.UserID != userID {
		return false, nil
	}

	content := current.Content
	if fields.Content != nil {
		content = *fields.Content
	}
	category := current.Category
	if fields.Category != nil {
		category = *fields.Category
	}
	tier := current.Tier
	if fields.Tier != nil {
		tier = *fields.Tier
		if err := validateTier(tier); err != nil {
			return false, err
		}
	}
	confidence := current.Confidence
	if fields.Confidence != nil {
		confidence = clampConfidence(*fields.Confidence)
	}

	embedding := current.Embedding
	if content != current.Content {
		embedding, err = s.embedder.Embed(content)
		if err != nil {
			return false, fmt.Errorf("failed to re-embed memory: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
UPDATE memories SET category = ?, content = ?, tier = ?, confidence = ?, updated_at = ?, embedding = ?
WHERE id = ?`),
		category, content, string(tier), confidence, time.Now().UTC(), encodeEmbedding(embedding), id)
	if err != nil {
		observability.MemoryOpsTotal.WithLabelValues("update", "error").Inc()
		return false, fmt.Errorf("failed to update memory: %w", err)
	}

	observability.MemoryOpsTotal.WithLabelValues("update", "ok").Inc()
	return true, nil
}

// Delete removes a memory after cascading its entity links.
func (s *Store) Delete(ctx context.Context, id string, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, id, userID)
}

func (s *Store) deleteLocked(ctx context.Context, id string, userID string) (bool, error) {
	current, err := s.getLocked(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, nil
	}
	if userID != "" && current.UserID != "" && current.UserID != userID {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM memory_entity_links WHERE memory_id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to remove entity links: %w", err)
	}
	result, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM memories WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}

	affected, _ := result.RowsAffected()
	observability.MemoryOpsTotal.WithLabelValues("delete", "ok").Inc()
	return affected > 0, nil
}

// Get fetches one memory, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	return s.getLocked(ctx, id)
}

const memoryColumns = `id, user_id, category, content, tier, confidence, access_count, last_accessed, created_at, updated_at, source, embedding`

const memoryColumnsPrefixed = `m.id, m.user_id, m.category, m.content, m.tier, m.confidence, m.access_count, m.last_accessed, m.created_at, m.updated_at, m.source, m.embedding`

func (s *Store) getLocked(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`), id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	return m, nil
}

// List returns memories matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		query += ` AND (user_id = ? OR user_id IS NULL)`
		args = append(args, filter.UserID)
	}
	if filter.Tier != "" {
		query += ` AND tier = ?`
		args = append(args, string(filter.Tier))
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// GetByTier returns a user's memories in one tier.
func (s *Store) GetByTier(ctx context.Context, userID string, tier Tier) ([]Memory, error) {
	return s.List(ctx, ListFilter{UserID: userID, Tier: tier})
}

// CountTier counts a user's memories in one tier.
func (s *Store) CountTier(ctx context.Context, userID string, tier Tier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countTierLocked(ctx, userID, tier)
}

func (s *Store) countTierLocked(ctx context.Context, userID string, tier Tier) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM memories WHERE (user_id = ? OR user_id IS NULL) AND tier = ?`),
		userID, string(tier)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tier: %w", err)
	}
	return count, nil
}

// RecordAccess bumps access counters for a batch in one transaction:
// the whole batch is applied or none of it.
func (s *Store) RecordAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`),
			now, id); err != nil {
			return fmt.Errorf("failed to record access for %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit access batch: %w", err)
	}
	return nil
}

// SetTier moves a memory to the given tier. Moving into core goes
// through the same cap check as promotion.
func (s *Store) SetTier(ctx context.Context, id string, tier Tier) error {
	if err := validateTier(tier); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if tier == TierCore {
		current, err := s.getLocked(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("memory %s not found", id)
		}
		if current.Tier != TierCore {
			count, err := s.countTierLocked(ctx, current.UserID, TierCore)
			if err != nil {
				return err
			}
			if count >= s.CoreCap(ctx, current.UserID) {
				return fmt.Errorf("core tier is full (%d memories)", count)
			}
		}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE memories SET tier = ?, updated_at = ? WHERE id = ?`),
		string(tier), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	return nil
}

// PromoteToCore raises a memory to the core tier, enforcing the cap.
func (s *Store) PromoteToCore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("memory %s not found", id)
	}
	count, err := s.countTierLocked(ctx, current.UserID, TierCore)
	if err != nil {
		return err
	}
	if count >= s.CoreCap(ctx, current.UserID) {
		return fmt.Errorf("core tier is full (%d memories)", count)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`UPDATE memories SET tier = ?, updated_at = ? WHERE id = ?`),
		string(TierCore), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to promote memory: %w", err)
	}
	return nil
}

// DemoteFromCore lowers a core memory to long_term.
func (s *Store) DemoteFromCore(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE memories SET tier = ?, updated_at = ? WHERE id = ? AND tier = ?`),
		string(TierLongTerm), time.Now().UTC(), id, string(TierCore))
	if err != nil {
		return fmt.Errorf("failed to demote memory: %w", err)
	}
	return nil
}

// Stats summarizes a user's memory footprint.
func (s *Store) Stats(ctx context.Context, userID string) (*Stats, error) {
	stats := &Stats{ByTier: make(map[Tier]int)}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT tier, COUNT(*), AVG(confidence) FROM memories WHERE (user_id = ? OR user_id IS NULL) GROUP BY tier`),
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to gather stats: %w", err)
	}
	defer rows.Close()

	total := 0
	weighted := 0.0
	for rows.Next() {
		var tier string
		var count int
		var avg sql.NullFloat64
		if err := rows.Scan(&tier, &count, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.ByTier[Tier(tier)] = count
		total += count
		if avg.Valid {
			weighted += avg.Float64 * float64(count)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if total > 0 {
		stats.AvgConfidence = weighted / float64(total)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entities`).Scan(&stats.Entities); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}
	return stats, nil
}

// Consolidate atomically creates one merged memory and deletes its
// sources. Called with pre-validated source ids; the whole group
// succeeds or nothing changes.
func (s *Store) Consolidate(ctx context.Context, mergedContent, category, userID string, sourceIDs []string) (string, error) {
	if len(sourceIDs) == 0 {
		return "", fmt.Errorf("consolidation requires source ids")
	}

	embedding, err := s.embedder.Embed(mergedContent)
	if err != nil {
		return "", fmt.Errorf("failed to embed merged memory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO memories (id, user_id, category, content, tier, confidence, access_count, last_accessed, created_at, updated_at, source, embedding)
VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?)`),
		id, nullable(userID), category, mergedContent, string(TierLongTerm), 0.8, now, now, string(SourceAuto), encodeEmbedding(embedding)); err != nil {
		return "", fmt.Errorf("failed to insert merged memory: %w", err)
	}

	for _, sourceID := range sourceIDs {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM memory_entity_links WHERE memory_id = ?`), sourceID); err != nil {
			return "", fmt.Errorf("failed to unlink source %s: %w", sourceID, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM memories WHERE id = ?`), sourceID); err != nil {
			return "", fmt.Errorf("failed to delete source %s: %w", sourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit consolidation: %w", err)
	}
	observability.MemoryOpsTotal.WithLabelValues("consolidate", "ok").Inc()
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// encodeEmbedding packs float32s little-endian for blob storage.
// Byte-for-byte stable so no-op updates preserve equality.
func encodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var userID sql.NullString
	var lastAccessed sql.NullTime
	var tier, source string
	var embedding []byte

	err := row.Scan(&m.ID, &userID, &m.Category, &m.Content, &tier, &m.Confidence,
		&m.AccessCount, &lastAccessed, &m.CreatedAt, &m.UpdatedAt, &source, &embedding)
	if err != nil {
		return nil, err
	}

	m.UserID = userID.String
	if lastAccessed.Valid {
		m.LastAccessed = lastAccessed.Time
	}
	m.Tier = Tier(tier)
	m.Source = Source(source)
	m.Embedding = decodeEmbedding(embedding)
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]Memory, error) {
	memories := make([]Memory, 0)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return memories, nil
}

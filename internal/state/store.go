package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tessera/internal/config"
)

// ErrNotFound is returned when an item or status record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-set transition loses to a
// concurrent writer: the record's current status no longer matches the
// expected prior status.
var ErrConflict = errors.New("status transition conflict")

// Store manages durable pipeline state backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the state database and verifies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "state.db"))
}

// OpenPath opens the state database at an explicit location. Pragmas ride
// the DSN so every connection in the database/sql pool gets them; applying
// them with Exec would configure only one pooled connection and leave the
// rest claiming with busy_timeout 0.
func OpenPath(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// UpsertItem inserts a new item or refreshes an existing one. When the
// content hash changes, every standing stage record for the item is reset to
// pending so all downstream stages reprocess it (cascading invalidation).
// Returns true when the item's content changed.
func (s *Store) UpsertItem(ctx context.Context, item Item) (bool, error) {
	if item.ItemID == "" {
		return false, errors.New("item id is required")
	}
	if item.ContentHash == "" {
		return false, errors.New("content hash is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingHash sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT content_hash FROM items WHERE item_id = ?`, item.ItemID).Scan(&existingHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		totalChunks := item.TotalChunks
		if totalChunks <= 0 {
			totalChunks = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items (item_id, parent_id, chunk_index, total_chunks, content_hash, source, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ItemID, nullableString(item.ParentID), item.ChunkIndex, totalChunks,
			item.ContentHash, nullableString(item.Source), timestamp, timestamp,
		); err != nil {
			return false, fmt.Errorf("insert item: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit upsert: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("read existing item: %w", err)
	}

	changed := existingHash.String != item.ContentHash
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET parent_id = ?, chunk_index = ?, total_chunks = ?, content_hash = ?, source = ?, updated_at = ?
         WHERE item_id = ?`,
		nullableString(item.ParentID), item.ChunkIndex, max(item.TotalChunks, 1),
		item.ContentHash, nullableString(item.Source), timestamp, item.ItemID,
	); err != nil {
		return false, fmt.Errorf("update item: %w", err)
	}

	if changed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stage_status SET status = ?, retry_count = 0, last_error = NULL, last_transition_at = ?
             WHERE item_id = ?`,
			StatusPending, timestamp, item.ItemID,
		); err != nil {
			return false, fmt.Errorf("invalidate stage records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return changed, nil
}

// GetItem fetches an item by identifier.
func (s *Store) GetItem(ctx context.Context, itemID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, parent_id, chunk_index, total_chunks, content_hash, source, created_at, updated_at
         FROM items WHERE item_id = ?`, itemID)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItemIDs returns every known item identifier in lexical order.
func (s *Store) ListItemIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM items ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list item ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Health aggregates item and stage-record counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	health := HealthSummary{}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM items`).Scan(&health.Items); err != nil {
		return health, fmt.Errorf("count items: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM stage_status GROUP BY status`)
	if err != nil {
		return health, fmt.Errorf("stage status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return health, err
		}
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusComplete:
			health.Complete += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, rows.Err()
}

// StageStats returns per-status record counts for one stage.
func (s *Store) StageStats(ctx context.Context, stage string) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM stage_status WHERE stage = ? GROUP BY status`, stage)
	if err != nil {
		return nil, fmt.Errorf("stage stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		itemID      string
		parentID    sql.NullString
		chunkIndex  int
		totalChunks int
		contentHash string
		source      sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(&itemID, &parentID, &chunkIndex, &totalChunks, &contentHash, &source, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	item := &Item{
		ItemID:      itemID,
		ParentID:    parentID.String,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		ContentHash: contentHash,
		Source:      source.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetStatus fetches the status record for one (item, stage) key.
func (s *Store) GetStatus(ctx context.Context, itemID, stage string) (*StageStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, stage, status, content_hash_at_last_success, retry_count, last_transition_at, last_error
         FROM stage_status WHERE item_id = ? AND stage = ?`, itemID, stage)
	record, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: status %s/%s", ErrNotFound, itemID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	return record, nil
}

// Claim moves an item's stage record into processing. The record is created
// lazily as pending on first touch, then advanced with a compare-and-set
// guarded on {pending, failed}; a false return means a concurrent worker
// already owns the record or the stage already completed.
func (s *Store) Claim(ctx context.Context, itemID, stage string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stage_status (item_id, stage, status, retry_count, last_transition_at)
         VALUES (?, ?, ?, 0, ?)`,
		itemID, stage, StatusPending, now,
	); err != nil {
		return false, fmt.Errorf("ensure status record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_status SET status = ?, last_transition_at = ?, last_error = NULL
         WHERE item_id = ? AND stage = ? AND status IN (?, ?)`,
		StatusProcessing, now, itemID, stage, StatusPending, StatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("claim status record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkComplete advances a processing record to complete, recording the
// content hash the stage succeeded against. ErrConflict means the record was
// not in processing.
func (s *Store) MarkComplete(ctx context.Context, itemID, stage, contentHash string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_status
         SET status = ?, content_hash_at_last_success = ?, last_transition_at = ?, last_error = NULL
         WHERE item_id = ? AND stage = ? AND status = ?`,
		StatusComplete, contentHash, now, itemID, stage, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark complete rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: %s/%s not processing", ErrConflict, itemID, stage)
	}
	return nil
}

// MarkFailed moves a processing record to failed, incrementing the retry
// count and recording the error. When permanent is true the retry count is
// pinned to the ceiling so the item is excluded without further attempts.
func (s *Store) MarkFailed(ctx context.Context, itemID, stage, lastError string, permanent bool, retryCeiling int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if permanent {
		res, err = s.db.ExecContext(ctx,
			`UPDATE stage_status
             SET status = ?, retry_count = MAX(retry_count + 1, ?), last_transition_at = ?, last_error = ?
             WHERE item_id = ? AND stage = ? AND status = ?`,
			StatusFailed, retryCeiling, now, lastError, itemID, stage, StatusProcessing,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE stage_status
             SET status = ?, retry_count = retry_count + 1, last_transition_at = ?, last_error = ?
             WHERE item_id = ? AND stage = ? AND status = ?`,
			StatusFailed, now, lastError, itemID, stage, StatusProcessing,
		)
	}
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failed rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("%w: %s/%s not processing", ErrConflict, itemID, stage)
	}
	return nil
}

// ReleaseProcessing returns a processing record to pending without touching
// its retry count. Used when a run is cancelled mid-flight so the next
// invocation picks the item up again.
func (s *Store) ReleaseProcessing(ctx context.Context, itemID, stage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE stage_status SET status = ?, last_transition_at = ?
         WHERE item_id = ? AND stage = ? AND status = ?`,
		StatusPending, now, itemID, stage, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("release processing record: %w", err)
	}
	return nil
}

// ResetStuckProcessing returns every processing record to pending without
// touching retry counts. A hard-killed run leaves its claims behind, and
// nothing else reclaims them: the eligibility filter ignores processing and
// retry only resets failed. The orchestrator calls this at run start, which
// is safe under the CLI's single-writer data dir lock.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE stage_status SET status = ?, last_transition_at = ?
         WHERE status = ?`,
		StatusPending, now, StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck processing: %w", err)
	}
	return res.RowsAffected()
}

// ListEligible implements the delta filter: within the manifest, items whose
// upstream stage is complete (or that have no upstream) and whose own record
// is absent, pending with a content hash differing from the last success, or
// failed below the retry ceiling. Results are ordered by item id for
// reproducible runs.
func (s *Store) ListEligible(ctx context.Context, stage, upstream string, manifest []string, retryCeiling int) ([]string, error) {
	if len(manifest) == 0 {
		return nil, nil
	}

	query := `SELECT i.item_id
        FROM items i
        LEFT JOIN stage_status own ON own.item_id = i.item_id AND own.stage = ?
        LEFT JOIN stage_status up ON up.item_id = i.item_id AND up.stage = ?
        WHERE i.item_id IN (` + makePlaceholders(len(manifest)) + `)
          AND (? = '' OR up.status = ?)
          AND (
            own.item_id IS NULL
            OR (own.status = ? AND (own.content_hash_at_last_success IS NULL OR own.content_hash_at_last_success != i.content_hash))
            OR (own.status = ? AND own.retry_count < ?)
          )
        ORDER BY i.item_id`

	args := make([]any, 0, len(manifest)+7)
	args = append(args, stage, upstream)
	for _, id := range manifest {
		args = append(args, id)
	}
	args = append(args, upstream, StatusComplete, StatusPending, StatusFailed, retryCeiling)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
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

// ListExcluded returns manifest items permanently dropped from a stage: failed
// records at or above the retry ceiling, with their last errors.
func (s *Store) ListExcluded(ctx context.Context, stage string, manifest []string, retryCeiling int) ([]Exclusion, error) {
	if len(manifest) == 0 {
		return nil, nil
	}

	query := `SELECT item_id, last_error FROM stage_status
        WHERE stage = ? AND status = ? AND retry_count >= ?
          AND item_id IN (` + makePlaceholders(len(manifest)) + `)
        ORDER BY item_id`

	args := make([]any, 0, len(manifest)+3)
	args = append(args, stage, StatusFailed, retryCeiling)
	for _, id := range manifest {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list excluded: %w", err)
	}
	defer rows.Close()

	var exclusions []Exclusion
	for rows.Next() {
		var itemID string
		var lastError sql.NullString
		if err := rows.Scan(&itemID, &lastError); err != nil {
			return nil, err
		}
		exclusions = append(exclusions, Exclusion{ItemID: itemID, Stage: stage, LastError: lastError.String})
	}
	return exclusions, rows.Err()
}

// RetryFailed moves failed records back to pending and clears their retry
// counts, re-admitting permanently excluded items. With no ids every failed
// record is reset; otherwise only records for the given items.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(ids) == 0 {
		res, err := s.db.ExecContext(ctx,
			`UPDATE stage_status
             SET status = ?, retry_count = 0, last_error = NULL, last_transition_at = ?
             WHERE status = ?`,
			StatusPending, now, StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed records: %w", err)
		}
		return res.RowsAffected()
	}

	query := `UPDATE stage_status
        SET status = ?, retry_count = 0, last_error = NULL, last_transition_at = ?
        WHERE status = ? AND item_id IN (` + makePlaceholders(len(ids)) + `)`
	args := make([]any, 0, len(ids)+3)
	args = append(args, StatusPending, now, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected records: %w", err)
	}
	return res.RowsAffected()
}

func scanStatus(scanner interface{ Scan(dest ...any) error }) (*StageStatus, error) {
	var (
		itemID        string
		stage         string
		statusStr     string
		lastHash      sql.NullString
		retryCount    int
		transitionRaw string
		lastError     sql.NullString
	)
	if err := scanner.Scan(&itemID, &stage, &statusStr, &lastHash, &retryCount, &transitionRaw, &lastError); err != nil {
		return nil, err
	}

	record := &StageStatus{
		ItemID:                   itemID,
		Stage:                    stage,
		Status:                   Status(statusStr),
		ContentHashAtLastSuccess: lastHash.String,
		RetryCount:               retryCount,
		LastError:                lastError.String,
	}
	if transition, err := parseTimeString(transitionRaw); err == nil {
		record.LastTransitionAt = transition
	}
	return record, nil
}

package state

import (
	"context"
	"fmt"
)

// ReplaceLinks overwrites an item's neighbor list wholesale. Link lists are
// regenerated per linking run, never merged with prior results.
func (s *Store) ReplaceLinks(ctx context.Context, itemID string, links []NeighborLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin links tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM neighbor_links WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	for rank, link := range links {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO neighbor_links (item_id, rank, neighbor_id, score) VALUES (?, ?, ?, ?)`,
			itemID, rank, link.NeighborID, link.Score,
		); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit links: %w", err)
	}
	return nil
}

// GetLinks returns an item's neighbor list in rank order. A missing list is
// an empty slice, not an error.
func (s *Store) GetLinks(ctx context.Context, itemID string) ([]NeighborLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT neighbor_id, score FROM neighbor_links WHERE item_id = ? ORDER BY rank`, itemID)
	if err != nil {
		return nil, fmt.Errorf("get links: %w", err)
	}
	defer rows.Close()

	var links []NeighborLink
	for rows.Next() {
		var link NeighborLink
		if err := rows.Scan(&link.NeighborID, &link.Score); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

package state

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// PutEmbedding stores an item's embedding, replacing any prior vector.
func (s *Store) PutEmbedding(ctx context.Context, itemID string, vector []float32) error {
	if len(vector) == 0 {
		return errors.New("embedding vector is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings (item_id, vector, dims, updated_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (item_id) DO UPDATE SET vector = excluded.vector, dims = excluded.dims, updated_at = excluded.updated_at`,
		itemID, embeddingToBytes(vector), len(vector), now,
	)
	if err != nil {
		return fmt.Errorf("put embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored embedding for one item.
func (s *Store) GetEmbedding(ctx context.Context, itemID string) ([]float32, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE item_id = ?`, itemID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: embedding %s", ErrNotFound, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	return bytesToEmbedding(data), nil
}

// AllEmbeddings returns every stored (item, vector) pair ordered by item id.
// The neighbor linker scores eligible items against this full corpus so a
// changed item can discover unchanged neighbors.
func (s *Store) AllEmbeddings(ctx context.Context) ([]ItemVector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, vector FROM embeddings ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()

	var result []ItemVector
	for rows.Next() {
		var itemID string
		var data []byte
		if err := rows.Scan(&itemID, &data); err != nil {
			return nil, err
		}
		result = append(result, ItemVector{ItemID: itemID, Vector: bytesToEmbedding(data)})
	}
	return result, rows.Err()
}

// Vectors are stored as little-endian float32, four bytes per component.

func embeddingToBytes(vector []float32) []byte {
	data := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}

func bytesToEmbedding(data []byte) []float32 {
	n := len(data) / 4
	result := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		result[i] = math.Float32frombits(bits)
	}
	return result
}

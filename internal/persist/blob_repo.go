package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/l1jgo/worldcore/internal/resource"
)

// Blob is one stored resource payload.
type Blob struct {
	Data      []byte
	UpdatedAt time.Time
}

// BlobStore is the storage BlobLoader reads from. BlobRepo implements it
// on PostgreSQL.
type BlobStore interface {
	Get(ctx context.Context, key resource.Key) (Blob, error)
	UpdatedAt(ctx context.Context, key resource.Key) (time.Time, error)
}

// BlobRepo stores resource payloads in the resource_blobs table.
type BlobRepo struct {
	db *DB
}

func NewBlobRepo(db *DB) *BlobRepo {
	return &BlobRepo{db: db}
}

// Get returns the payload stored under key. A missing row wraps
// resource.ErrNotFound.
func (r *BlobRepo) Get(ctx context.Context, key resource.Key) (Blob, error) {
	var b Blob
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data, updated_at FROM resource_blobs WHERE type = $1 AND id = $2`,
		key.Type, key.ID,
	).Scan(&b.Data, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Blob{}, fmt.Errorf("blob %s: %w", key, resource.ErrNotFound)
	}
	if err != nil {
		return Blob{}, fmt.Errorf("blob %s: %w", key, err)
	}
	return b, nil
}

// UpdatedAt returns the last write time of key without fetching the data.
func (r *BlobRepo) UpdatedAt(ctx context.Context, key resource.Key) (time.Time, error) {
	var t time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT updated_at FROM resource_blobs WHERE type = $1 AND id = $2`,
		key.Type, key.ID,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("blob %s: %w", key, resource.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("blob %s: %w", key, err)
	}
	return t, nil
}

// Put inserts or replaces the payload stored under key.
func (r *BlobRepo) Put(ctx context.Context, key resource.Key, data []byte) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO resource_blobs (type, id, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (type, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		key.Type, key.ID, data,
	)
	if err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

// PutBatch writes several payloads in one transaction.
func (r *BlobRepo) PutBatch(ctx context.Context, blobs map[resource.Key][]byte) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("blob batch begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for key, data := range blobs {
		batch.Queue(
			`INSERT INTO resource_blobs (type, id, data, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (type, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			key.Type, key.ID, data,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("blob batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *BlobRepo) Delete(ctx context.Context, key resource.Key) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM resource_blobs WHERE type = $1 AND id = $2`,
		key.Type, key.ID,
	)
	return err
}

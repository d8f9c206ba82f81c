package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrNoSnapshot reports that no snapshot exists for the requested scene.
var ErrNoSnapshot = errors.New("no snapshot")

// SnapshotRepo stores whole-registry encodings as opaque blobs keyed by
// scene name. Saves append; loads return the latest.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save appends a snapshot for the scene.
func (r *SnapshotRepo) Save(ctx context.Context, scene string, data []byte) error {
	if _, err := r.db.Pool.Exec(ctx,
		`INSERT INTO registry_snapshot (scene, data) VALUES ($1, $2)`,
		scene, data,
	); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadLatest returns the most recent snapshot for the scene, ErrNoSnapshot
// if none exists.
func (r *SnapshotRepo) LoadLatest(ctx context.Context, scene string) ([]byte, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT data FROM registry_snapshot WHERE scene = $1 ORDER BY id DESC LIMIT 1`,
		scene,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

// Prune keeps the most recent keep snapshots for the scene and deletes the
// rest.
func (r *SnapshotRepo) Prune(ctx context.Context, scene string, keep int) error {
	if _, err := r.db.Pool.Exec(ctx,
		`DELETE FROM registry_snapshot
		 WHERE scene = $1 AND id NOT IN (
		     SELECT id FROM registry_snapshot WHERE scene = $1
		     ORDER BY id DESC LIMIT $2
		 )`,
		scene, keep,
	); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

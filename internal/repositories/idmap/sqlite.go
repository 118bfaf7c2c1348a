package idmap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mkarpova/fieldsync/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Put(ctx context.Context, localID, remoteID string) error {
	query := `INSERT INTO id_mapping (local_id, remote_id) VALUES (?, ?)
		ON CONFLICT(local_id) DO UPDATE SET remote_id = excluded.remote_id`
	_, err := r.db.ExecContext(ctx, query, localID, remoteID)
	if err != nil {
		return fmt.Errorf("failed to upsert id mapping: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoteFor(ctx context.Context, localID string) (string, error) {
	var remoteID string
	err := r.db.QueryRowContext(ctx, `SELECT remote_id FROM id_mapping WHERE local_id = ?`, localID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get mapping[%s]: %w", localID, err)
	}
	return remoteID, nil
}

func (r *SQLiteRepository) LocalFor(ctx context.Context, remoteID string) (string, error) {
	var localID string
	err := r.db.QueryRowContext(ctx, `SELECT local_id FROM id_mapping WHERE remote_id = ?`, remoteID).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get reverse mapping[%s]: %w", remoteID, err)
	}
	return localID, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, localID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM id_mapping WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping[%s]: %w", localID, err)
	}
	return nil
}

package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkarpova/fieldsync/internal/dbx"
	"github.com/mkarpova/fieldsync/internal/faults"
	"github.com/mkarpova/fieldsync/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `local_id, remote_id, previous_local_id, category, item_id, status, binary, caption, drawing, local_update, deleted, attempts, updated_at`

func (r *SQLiteRepository) Insert(ctx context.Context, a *models.AttachmentRecord) error {
	query := `INSERT INTO attachments (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		a.LocalID, nullable(a.RemoteID), a.PreviousLocalID,
		a.Key.Category, a.Key.ItemID, string(a.Status),
		a.Binary, a.Caption, a.Drawing,
		a.LocalUpdate, a.Deleted, a.Attempts, a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, a *models.AttachmentRecord) error {
	query := `UPDATE attachments SET
			remote_id = ?, previous_local_id = ?, category = ?, item_id = ?,
			status = ?, binary = ?, caption = ?, drawing = ?,
			local_update = ?, deleted = ?, attempts = ?, updated_at = ?
		WHERE local_id = ?`
	res, err := r.db.ExecContext(ctx, query,
		nullable(a.RemoteID), a.PreviousLocalID, a.Key.Category, a.Key.ItemID,
		string(a.Status), a.Binary, a.Caption, a.Drawing,
		a.LocalUpdate, a.Deleted, a.Attempts, time.Now().UTC(),
		a.LocalID)
	if err != nil {
		return fmt.Errorf("failed to update attachment: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("attachment %s: %w", a.LocalID, faults.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) GetByLocalID(ctx context.Context, localID string) (*models.AttachmentRecord, error) {
	query := `SELECT ` + columns + ` FROM attachments WHERE local_id = ? OR previous_local_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, localID, localID), localID)
}

func (r *SQLiteRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.AttachmentRecord, error) {
	query := `SELECT ` + columns + ` FROM attachments WHERE remote_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, remoteID), remoteID)
}

func (r *SQLiteRepository) ListByKey(ctx context.Context, key models.QuestionKey) ([]*models.AttachmentRecord, error) {
	query := `SELECT ` + columns + ` FROM attachments WHERE category = ? AND item_id = ? AND deleted = 0 ORDER BY updated_at, local_id`
	rows, err := r.db.QueryContext(ctx, query, key.Category, key.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	return r.scanAll(rows)
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, status models.AttachmentStatus) ([]*models.AttachmentRecord, error) {
	query := `SELECT ` + columns + ` FROM attachments WHERE status = ? ORDER BY updated_at, local_id`
	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	return r.scanAll(rows)
}

func (r *SQLiteRepository) Delete(ctx context.Context, localID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("attachment %s: %w", localID, faults.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) scanOne(row *sql.Row, id string) (*models.AttachmentRecord, error) {
	a := &models.AttachmentRecord{}
	var remoteID sql.NullString
	var status string
	err := row.Scan(&a.LocalID, &remoteID, &a.PreviousLocalID,
		&a.Key.Category, &a.Key.ItemID, &status,
		&a.Binary, &a.Caption, &a.Drawing,
		&a.LocalUpdate, &a.Deleted, &a.Attempts, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s: %w", id, faults.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	a.RemoteID = remoteID.String
	a.Status = models.AttachmentStatus(status)
	return a, nil
}

func (r *SQLiteRepository) scanAll(rows *sql.Rows) ([]*models.AttachmentRecord, error) {
	defer rows.Close()

	var result []*models.AttachmentRecord
	for rows.Next() {
		a := &models.AttachmentRecord{}
		var remoteID sql.NullString
		var status string
		if err := rows.Scan(&a.LocalID, &remoteID, &a.PreviousLocalID,
			&a.Key.Category, &a.Key.ItemID, &status,
			&a.Binary, &a.Caption, &a.Drawing,
			&a.LocalUpdate, &a.Deleted, &a.Attempts, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.RemoteID = remoteID.String
		a.Status = models.AttachmentStatus(status)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

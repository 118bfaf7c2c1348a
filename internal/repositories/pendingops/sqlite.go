package pendingops

import (
	"context"
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

func (r *SQLiteRepository) Enqueue(ctx context.Context, op *models.PendingOp) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO pending_operations (kind, category, item_id, local_id, depends_on, payload, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		string(op.Kind), op.Key.Category, op.Key.ItemID,
		op.LocalID, op.DependsOn, op.Payload, op.Attempts, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get operation seq: %w", err)
	}
	op.Seq = seq
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.PendingOp, error) {
	return r.query(ctx, `SELECT seq, kind, category, item_id, local_id, depends_on, payload, attempts, created_at
		FROM pending_operations ORDER BY seq`)
}

func (r *SQLiteRepository) ListByLocalID(ctx context.Context, localID string) ([]*models.PendingOp, error) {
	return r.query(ctx, `SELECT seq, kind, category, item_id, local_id, depends_on, payload, attempts, created_at
		FROM pending_operations WHERE local_id = ? ORDER BY seq`, localID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, seq int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("operation %d: %w", seq, faults.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByLocalID(ctx context.Context, localID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE local_id = ?`, localID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel operations: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ra, nil
}

func (r *SQLiteRepository) SetAttempts(ctx context.Context, seq int64, attempts int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE pending_operations SET attempts = ? WHERE seq = ?`, attempts, seq)
	if err != nil {
		return fmt.Errorf("failed to update attempts: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]*models.PendingOp, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingOp
	for rows.Next() {
		op := &models.PendingOp{}
		var kind string
		if err := rows.Scan(&op.Seq, &kind, &op.Key.Category, &op.Key.ItemID,
			&op.LocalID, &op.DependsOn, &op.Payload, &op.Attempts, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Kind = models.OpKind(kind)
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

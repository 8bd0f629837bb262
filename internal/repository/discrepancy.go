package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

type DiscrepancyRepository struct {
	db *sql.DB
}

func NewDiscrepancyRepository(db *sql.DB) *DiscrepancyRepository {
	return &DiscrepancyRepository{db: db}
}

func (r *DiscrepancyRepository) Insert(ctx context.Context, d domain.Discrepancy) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO discrepancies (id, intent_id, order_code, kind, amount, detail, resolved, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, false, $7)`,
		d.ID, d.IntentID, d.OrderCode, d.Kind, d.Amount, d.Detail, d.CreatedAt,
	)
	return err
}

// ListOpen returns unresolved discrepancies, oldest first, for the
// manual-reconciliation queue.
func (r *DiscrepancyRepository) ListOpen(ctx context.Context) ([]domain.Discrepancy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, COALESCE(intent_id, ''), order_code, kind, amount, detail, resolved, created_at
		FROM discrepancies WHERE resolved = false ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Discrepancy
	for rows.Next() {
		var d domain.Discrepancy
		if err := rows.Scan(&d.ID, &d.IntentID, &d.OrderCode, &d.Kind, &d.Amount, &d.Detail, &d.Resolved, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Resolve marks a discrepancy as handled by staff.
func (r *DiscrepancyRepository) Resolve(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE discrepancies SET resolved = true WHERE id = $1 AND resolved = false`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM discrepancies WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

type FeeRecordRepository struct {
	db *sql.DB
}

func NewFeeRecordRepository(db *sql.DB) *FeeRecordRepository {
	return &FeeRecordRepository{db: db}
}

const feeRecordColumns = `id, student_id, payer_id, title, total_amount, paid_amount, due_date, status, created_at, updated_at`

func scanFeeRecord(row interface{ Scan(...any) error }) (domain.FeeRecord, error) {
	var rec domain.FeeRecord
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(
		&rec.ID,
		&rec.StudentID,
		&rec.PayerID,
		&rec.Title,
		&rec.TotalAmount,
		&rec.PaidAmount,
		&rec.DueDate,
		&rec.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return rec, err
	}
	if createdAt.Valid {
		rec.CreatedAt = &createdAt.Time
	}
	if updatedAt.Valid {
		rec.UpdatedAt = &updatedAt.Time
	}
	return rec, nil
}

// GetByIDs loads the given fee records. Every id must resolve; a missing
// one yields domain.ErrNotFound so callers can reject bad selections.
func (r *FeeRecordRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.FeeRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `SELECT ` + feeRecordColumns + ` FROM fee_records WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeeRecord
	for rows.Next() {
		rec, err := scanFeeRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) != len(ids) {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

// ListOutstandingByPayer returns the payer's fee records that still carry
// a balance, earliest due first.
func (r *FeeRecordRepository) ListOutstandingByPayer(ctx context.Context, payerID int64) ([]domain.FeeRecord, error) {
	query := `SELECT ` + feeRecordColumns + ` FROM fee_records
		WHERE payer_id = $1
		  AND status NOT IN ($2, $3)
		  AND paid_amount < total_amount
		ORDER BY due_date ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, payerID, domain.FeeStatusCompleted, domain.FeeStatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FeeRecord
	for rows.Next() {
		rec, err := scanFeeRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FirstReserved returns the id of the first given fee record that is
// already referenced by a non-terminal payment intent other than
// excludeIntentID, or "" when the whole selection is free. Keeping one
// live intent per fee record prevents the same balance from being
// counted twice.
func (r *FeeRecordRepository) FirstReserved(ctx context.Context, ids []string, excludeIntentID string) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}

	placeholders := make([]string, len(ids))
	args := []any{
		string(domain.IntentStatusPending),
		string(domain.IntentStatusPartiallyPaid),
		excludeIntentID,
	}
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, id)
	}

	query := `SELECT pif.fee_record_id
		FROM payment_intent_fees pif
		JOIN payment_intents pi ON pi.id = pif.intent_id
		WHERE pi.status IN ($1, $2)
		  AND pi.id <> $3
		  AND pif.fee_record_id IN (` + strings.Join(placeholders, ", ") + `)
		LIMIT 1`

	var feeRecordID string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&feeRecordID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return feeRecordID, nil
}

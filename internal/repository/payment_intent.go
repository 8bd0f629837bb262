package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

type PaymentIntentRepository struct {
	db *sql.DB
}

func NewPaymentIntentRepository(db *sql.DB) *PaymentIntentRepository {
	return &PaymentIntentRepository{db: db}
}

const intentColumns = `id, order_code, payer_id, total_amount, confirmed_amount, unapplied_credit, status, qr_code_url, transfer_content, bank_account, transaction_code, created_at, expires_at`

func scanIntent(row interface{ Scan(...any) error }) (*domain.PaymentIntent, error) {
	var in domain.PaymentIntent
	var txnCode sql.NullString
	err := row.Scan(
		&in.ID,
		&in.OrderCode,
		&in.PayerID,
		&in.TotalAmount,
		&in.ConfirmedAmount,
		&in.UnappliedCredit,
		&in.Status,
		&in.QRCodeURL,
		&in.TransferContent,
		&in.BankAccount,
		&txnCode,
		&in.CreatedAt,
		&in.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if txnCode.Valid {
		in.TransactionCode = &txnCode.String
	}
	return &in, nil
}

// Create persists a fresh pending intent together with its fee selection.
func (r *PaymentIntentRepository) Create(ctx context.Context, in *domain.PaymentIntent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO payment_intents
		(id, order_code, payer_id, total_amount, confirmed_amount, unapplied_credit, status, qr_code_url, transfer_content, bank_account, created_at, expires_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $7, $8, $9, $10)`,
		in.ID, in.OrderCode, in.PayerID, in.TotalAmount, in.Status,
		in.QRCodeURL, in.TransferContent, in.BankAccount, in.CreatedAt, in.ExpiresAt,
	)
	if err != nil {
		return err
	}

	for _, feeID := range in.FeeRecordIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payment_intent_fees (intent_id, fee_record_id) VALUES ($1, $2)`,
			in.ID, feeID,
		); err != nil {
			return err
		}
	}

	// open the audit trail with the creation row
	if _, err := tx.ExecContext(ctx, `INSERT INTO intent_transitions (intent_id, from_status, to_status, actor, amount, transaction_code, created_at)
		VALUES ($1, '', $2, $3, $4, '', $5)`,
		in.ID, in.Status, domain.ActorPayer, in.TotalAmount, in.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *PaymentIntentRepository) GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	in, err := scanIntent(row)
	if err != nil {
		return nil, err
	}
	return r.attachFeeIDs(ctx, in)
}

func (r *PaymentIntentRepository) GetByOrderCode(ctx context.Context, orderCode int64) (*domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE order_code = $1`, orderCode)
	in, err := scanIntent(row)
	if err != nil {
		return nil, err
	}
	return r.attachFeeIDs(ctx, in)
}

func (r *PaymentIntentRepository) attachFeeIDs(ctx context.Context, in *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT fee_record_id FROM payment_intent_fees WHERE intent_id = $1 ORDER BY fee_record_id`, in.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var feeID string
		if err := rows.Scan(&feeID); err != nil {
			return nil, err
		}
		in.FeeRecordIDs = append(in.FeeRecordIDs, feeID)
	}
	return in, rows.Err()
}

// UpdateSelection swaps the fee selection and amount of a still-pending
// intent. The status guard lives in the UPDATE itself so a concurrent
// confirmation cannot slip between check and write.
func (r *PaymentIntentRepository) UpdateSelection(ctx context.Context, intentID string, feeRecordIDs []string, totalAmount int64, qrCodeURL, transferContent string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE payment_intents
		SET total_amount = $1, qr_code_url = $2, transfer_content = $3
		WHERE id = $4 AND status = $5`,
		totalAmount, qrCodeURL, transferContent, intentID, domain.IntentStatusPending,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1)`, intentID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrIntentNotPending
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM payment_intent_fees WHERE intent_id = $1`, intentID,
	); err != nil {
		return err
	}
	for _, feeID := range feeRecordIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payment_intent_fees (intent_id, fee_record_id) VALUES ($1, $2)`,
			intentID, feeID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListExpired returns non-terminal intents whose deadline has passed.
// The sweep is the durable expiry path; in-process timers only lower
// latency.
func (r *PaymentIntentRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM payment_intents
		WHERE status IN ($1, $2) AND expires_at < $3
		ORDER BY expires_at ASC
		LIMIT $4`,
		domain.IntentStatusPending, domain.IntentStatusPartiallyPaid, now, limit,
	)
	if err != nil {
		return nil, err
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

// Allocations returns the committed allocation rows of an intent.
func (r *PaymentIntentRepository) Allocations(ctx context.Context, intentID string) ([]domain.Allocation, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, intent_id, fee_record_id, amount_applied, applied_at
		FROM allocations WHERE intent_id = $1 ORDER BY applied_at ASC, id ASC`, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Allocation
	for rows.Next() {
		var a domain.Allocation
		if err := rows.Scan(&a.ID, &a.IntentID, &a.FeeRecordID, &a.AmountApplied, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Transitions returns the audit trail of an intent, oldest first.
func (r *PaymentIntentRepository) Transitions(ctx context.Context, intentID string) ([]domain.Transition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT intent_id, from_status, to_status, actor, amount, transaction_code, created_at
		FROM intent_transitions WHERE intent_id = $1 ORDER BY created_at ASC, id ASC`, intentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var t domain.Transition
		if err := rows.Scan(&t.IntentID, &t.From, &t.To, &t.Actor, &t.Amount, &t.TransactionCode, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

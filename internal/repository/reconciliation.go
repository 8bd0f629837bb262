package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

// ReconciliationRepository owns the transactional core of the engine:
// dedup markers, CAS-guarded status moves and allocation writes all
// commit, or none of them do.
type ReconciliationRepository struct {
	db *sql.DB
}

func NewReconciliationRepository(db *sql.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

// GetProcessedResult returns the stored outcome of an already-processed
// (orderCode, transactionCode) pair, or domain.ErrNotFound.
func (r *ReconciliationRepository) GetProcessedResult(ctx context.Context, orderCode int64, transactionCode string) (*domain.WebhookResult, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT result FROM webhook_events WHERE order_code = $1 AND transaction_code = $2`,
		orderCode, transactionCode,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var res domain.WebhookResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordAcknowledged stores the outcome of a callback that was
// acknowledged without moving the intent, so replays of the same
// (orderCode, transactionCode) pair hit the dedup path instead of
// re-escalating. Losing the insert to an existing marker returns
// ErrDuplicateEvent.
func (r *ReconciliationRepository) RecordAcknowledged(ctx context.Context, result *domain.WebhookResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO webhook_events (order_code, transaction_code, result, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_code, transaction_code) DO NOTHING`,
		result.OrderCode, result.TransactionCode, raw, time.Now(),
	)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return domain.ErrDuplicateEvent
	}
	return nil
}

// ExecuteTransition commits one TransitionPlan atomically.
//
// Guards, in order:
//   - the dedup marker insert loses on conflict -> ErrDuplicateEvent
//   - the intent status CAS loses -> ErrStateConflict
//   - a fee record's paid amount moved -> ErrStaleBalance
//
// Any guard failure rolls the whole transaction back; the caller decides
// whether to re-read and retry or to escalate.
func (r *ReconciliationRepository) ExecuteTransition(ctx context.Context, plan domain.TransitionPlan) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()

	if plan.TransactionCode != "" {
		raw, err := json.Marshal(plan.Result)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO webhook_events (order_code, transaction_code, result, received_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (order_code, transaction_code) DO NOTHING`,
			plan.OrderCode, plan.TransactionCode, raw, now,
		)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return domain.ErrDuplicateEvent
		}
	}

	var setTxn any
	if plan.TransactionCode != "" {
		setTxn = plan.TransactionCode
	}
	res, err := tx.ExecContext(ctx, `UPDATE payment_intents
		SET status = $1,
		    confirmed_amount = confirmed_amount + $2,
		    unapplied_credit = unapplied_credit + $3,
		    transaction_code = COALESCE($4, transaction_code)
		WHERE id = $5 AND status = $6`,
		plan.To, plan.ConfirmedDelta, plan.CreditDelta, setTxn, plan.IntentID, plan.From,
	)
	if err != nil {
		return err
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if moved == 0 {
		return domain.ErrStateConflict
	}

	for _, step := range plan.Steps {
		res, err := tx.ExecContext(ctx, `UPDATE fee_records
			SET paid_amount = $1, status = $2, updated_at = $3
			WHERE id = $4 AND paid_amount = $5`,
			step.NewPaid, step.NewStatus, now, step.FeeRecordID, step.ExpectedPaid,
		)
		if err != nil {
			return err
		}
		updated, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if updated == 0 {
			return domain.ErrStaleBalance
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO allocations (id, intent_id, fee_record_id, amount_applied, applied_at)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), plan.IntentID, step.FeeRecordID, step.Amount, now,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO intent_transitions (intent_id, from_status, to_status, actor, amount, transaction_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		plan.IntentID, plan.From, plan.To, plan.Actor, plan.ConfirmedDelta, plan.TransactionCode, now,
	); err != nil {
		return err
	}

	return tx.Commit()
}

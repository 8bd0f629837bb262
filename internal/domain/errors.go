package domain

import "errors"

var (
	// ErrNotFound covers unknown intents, order codes and fee records.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict means a transition was attempted from a status the
	// intent no longer holds; the writer lost a compare-and-swap race.
	ErrStateConflict = errors.New("state conflict")

	// ErrDuplicateEvent means the (orderCode, transactionCode) pair was
	// already processed. Callers treat it as an idempotent no-op.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrStaleBalance means a fee record's paid amount moved between the
	// allocation plan and its commit; the whole transaction rolled back.
	ErrStaleBalance = errors.New("stale fee balance")

	// ErrNoOutstandingBalance means the selected fee records sum to zero.
	ErrNoOutstandingBalance = errors.New("no outstanding balance")

	// ErrFeeRecordReserved means a selected fee record is already covered
	// by another non-terminal intent.
	ErrFeeRecordReserved = errors.New("fee record reserved by another intent")

	// ErrIntentNotPending guards selection updates: only pending intents
	// may change their fee set.
	ErrIntentNotPending = errors.New("intent is not pending")

	// ErrGateway wraps bank gateway failures after the retry budget is spent.
	ErrGateway = errors.New("gateway error")
)

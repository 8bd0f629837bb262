package domain

import "time"

// CallbackStatus is the gateway-reported outcome of a transfer attempt,
// validated at the boundary before it touches the state machine.
type CallbackStatus string

const (
	CallbackSuccess CallbackStatus = "success"
	CallbackFailed  CallbackStatus = "failed"
)

func (s CallbackStatus) Valid() bool {
	return s == CallbackSuccess || s == CallbackFailed
}

// GatewayCallback is one asynchronous confirmation from the bank gateway.
// (OrderCode, TransactionCode) is the dedup key: the gateway may deliver
// the same callback any number of times.
type GatewayCallback struct {
	OrderCode       int64
	TransactionCode string
	Amount          int64
	Status          CallbackStatus
}

// WebhookResult is the computed outcome of processing one callback. It is
// persisted next to the dedup marker so replays return the original
// result without re-running allocation.
type WebhookResult struct {
	OrderCode       int64        `json:"order_code"`
	TransactionCode string       `json:"transaction_code"`
	IntentID        string       `json:"intent_id"`
	IntentStatus    IntentStatus `json:"intent_status"`
	AppliedAmount   int64        `json:"applied_amount"`
	UnappliedCredit int64        `json:"unapplied_credit"`
	Duplicate       bool         `json:"-"`
}

// Outcome is the single terminal notification pushed to subscribers of
// an order code.
type OutcomeType string

const (
	OutcomeSuccess OutcomeType = "success"
	OutcomeFailed  OutcomeType = "failed"
	OutcomeExpired OutcomeType = "expired"
)

type Outcome struct {
	Type    OutcomeType    `json:"type"`
	Payload map[string]any `json:"payload"`
}

type DiscrepancyKind string

const (
	DiscrepancyOverpayment       DiscrepancyKind = "overpayment"
	DiscrepancyTerminalWebhook   DiscrepancyKind = "terminal_webhook"
	DiscrepancyAllocationFailure DiscrepancyKind = "allocation_failure"
	DiscrepancyUnknownOrder      DiscrepancyKind = "unknown_order"
)

// Discrepancy is one row in the manual-reconciliation queue: money or
// callbacks the engine refused to guess about.
type Discrepancy struct {
	ID        string
	IntentID  string
	OrderCode int64
	Kind      DiscrepancyKind
	Amount    int64
	Detail    string
	Resolved  bool
	CreatedAt time.Time
}

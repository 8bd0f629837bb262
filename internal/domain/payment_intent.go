package domain

import "time"

type IntentStatus string

const (
	IntentStatusPending       IntentStatus = "pending"
	IntentStatusPartiallyPaid IntentStatus = "partially_paid"
	IntentStatusCompleted     IntentStatus = "completed"
	IntentStatusFailed        IntentStatus = "failed"
	IntentStatusExpired       IntentStatus = "expired"
	IntentStatusCancelled     IntentStatus = "cancelled"
)

// Terminal statuses are frozen: no event may move an intent out of them.
func (s IntentStatus) Terminal() bool {
	switch s {
	case IntentStatusCompleted, IntentStatusFailed, IntentStatusExpired, IntentStatusCancelled:
		return true
	}
	return false
}

func (s IntentStatus) Valid() bool {
	switch s {
	case IntentStatusPending, IntentStatusPartiallyPaid, IntentStatusCompleted,
		IntentStatusFailed, IntentStatusExpired, IntentStatusCancelled:
		return true
	}
	return false
}

// Actor identifies which concurrent writer drove a transition.
type Actor string

const (
	ActorPayer   Actor = "payer"
	ActorWebhook Actor = "webhook"
	ActorTimer   Actor = "timer"
	ActorStaff   Actor = "staff"
)

// PaymentIntent is one requested bank transfer covering a set of fee
// records. Intents are append-only from the caller's point of view:
// they are never deleted and once terminal they never change.
type PaymentIntent struct {
	ID        string
	OrderCode int64
	PayerID   int64

	FeeRecordIDs []string

	TotalAmount     int64
	ConfirmedAmount int64
	// UnappliedCredit holds the part of a confirmed amount that exceeded
	// the selected records' remainders. It is never silently dropped;
	// an overpayment discrepancy row points staff at it.
	UnappliedCredit int64

	Status IntentStatus

	QRCodeURL       string
	TransferContent string
	BankAccount     string

	TransactionCode *string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Allocation records the portion of a confirmed amount applied to one
// fee record. Written atomically with the status transition.
type Allocation struct {
	ID            string
	IntentID      string
	FeeRecordID   string
	AmountApplied int64
	AppliedAt     time.Time
}

// Transition is one audit row per committed state change.
type Transition struct {
	IntentID        string
	From            IntentStatus
	To              IntentStatus
	Actor           Actor
	Amount          int64
	TransactionCode string
	CreatedAt       time.Time
}

// AllocationStep is one planned fee-record update. ExpectedPaid carries
// the balance the plan was computed against; the executor refuses to
// commit if the persisted balance moved in the meantime.
type AllocationStep struct {
	FeeRecordID  string
	Amount       int64
	ExpectedPaid int64
	NewPaid      int64
	NewStatus    FeeStatus
}

// TransitionPlan is the full unit of work for one state change:
// dedup marker, CAS-guarded status move, fee-record updates and the
// audit row. It commits atomically or not at all.
type TransitionPlan struct {
	IntentID  string
	OrderCode int64

	// TransactionCode is empty for timer and staff transitions; when set
	// it doubles as the idempotency key together with OrderCode.
	TransactionCode string

	From  IntentStatus
	To    IntentStatus
	Actor Actor

	ConfirmedDelta int64
	CreditDelta    int64

	Steps []AllocationStep

	Result *WebhookResult
}

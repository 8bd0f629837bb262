package domain

import "time"

type FeeStatus string

const (
	FeeStatusPending       FeeStatus = "pending"
	FeeStatusPartiallyPaid FeeStatus = "partially_paid"
	FeeStatusCompleted     FeeStatus = "completed"
	FeeStatusOverdue       FeeStatus = "overdue"
	FeeStatusCancelled     FeeStatus = "cancelled"
)

// FeeRecord is one student's obligation for one class/period.
// PaidAmount is only mutated through a committed allocation.
type FeeRecord struct {
	ID        string
	StudentID string
	PayerID   int64
	Title     string

	// Amounts are in the smallest currency unit.
	TotalAmount int64
	PaidAmount  int64

	DueDate time.Time
	Status  FeeStatus

	CreatedAt *time.Time
	UpdatedAt *time.Time
}

func (f *FeeRecord) Remaining() int64 {
	if r := f.TotalAmount - f.PaidAmount; r > 0 {
		return r
	}
	return 0
}

// Payable reports whether the record can still be included in a payment intent.
func (f *FeeRecord) Payable() bool {
	return f.Status != FeeStatusCompleted && f.Status != FeeStatusCancelled
}

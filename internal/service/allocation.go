package service

import (
	"sort"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

// planAllocation splits a confirmed amount across fee records with a
// waterfall policy: earliest due date first, id as the tie breaker, each
// record filled to its remainder before the next one sees any money.
// The returned leftover is whatever could not be applied (overpayment);
// the caller records it as unapplied credit, never discards it.
//
// The plan carries each record's observed paid amount so the executor
// can refuse to commit against a balance that moved concurrently.
func planAllocation(records []domain.FeeRecord, amount int64) ([]domain.AllocationStep, int64) {
	ordered := make([]domain.FeeRecord, len(records))
	copy(ordered, records)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].DueDate.Equal(ordered[j].DueDate) {
			return ordered[i].DueDate.Before(ordered[j].DueDate)
		}
		return ordered[i].ID < ordered[j].ID
	})

	left := amount
	var steps []domain.AllocationStep
	for _, rec := range ordered {
		if left <= 0 {
			break
		}
		remaining := rec.Remaining()
		if remaining <= 0 {
			continue
		}

		apply := remaining
		if left < apply {
			apply = left
		}

		newPaid := rec.PaidAmount + apply
		newStatus := domain.FeeStatusPartiallyPaid
		if newPaid >= rec.TotalAmount {
			newStatus = domain.FeeStatusCompleted
		}

		steps = append(steps, domain.AllocationStep{
			FeeRecordID:  rec.ID,
			Amount:       apply,
			ExpectedPaid: rec.PaidAmount,
			NewPaid:      newPaid,
			NewStatus:    newStatus,
		})
		left -= apply
	}

	return steps, left
}

// outstandingTotal sums the remainders of the given records.
func outstandingTotal(records []domain.FeeRecord) int64 {
	var sum int64
	for i := range records {
		sum += records[i].Remaining()
	}
	return sum
}

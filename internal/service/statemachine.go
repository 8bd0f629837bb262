package service

import (
	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

// eventKind is the closed set of things that can happen to an intent.
type eventKind int

const (
	eventConfirm eventKind = iota
	eventFail
	eventExpire
	eventCancel
)

func (e eventKind) actor() domain.Actor {
	switch e {
	case eventExpire:
		return domain.ActorTimer
	case eventCancel:
		return domain.ActorStaff
	default:
		return domain.ActorWebhook
	}
}

// nextStatus arbitrates the transition table. cumulative is the total
// confirmed amount including the event being processed; total is the
// intent's amount due. A terminal current status always refuses.
//
//	pending|partially_paid --confirm(cumulative>=total)--> completed
//	pending|partially_paid --confirm(cumulative<total)---> partially_paid
//	pending                --fail------------------------> failed
//	pending|partially_paid --expire----------------------> expired
//	pending|partially_paid --cancel----------------------> cancelled
func nextStatus(current domain.IntentStatus, ev eventKind, cumulative, total int64) (domain.IntentStatus, error) {
	if current.Terminal() {
		return "", domain.ErrStateConflict
	}
	if current != domain.IntentStatusPending && current != domain.IntentStatusPartiallyPaid {
		return "", domain.ErrStateConflict
	}

	switch ev {
	case eventConfirm:
		if cumulative >= total {
			return domain.IntentStatusCompleted, nil
		}
		return domain.IntentStatusPartiallyPaid, nil
	case eventFail:
		// A failure callback only makes sense before any money arrived.
		if current != domain.IntentStatusPending {
			return "", domain.ErrStateConflict
		}
		return domain.IntentStatusFailed, nil
	case eventExpire:
		return domain.IntentStatusExpired, nil
	case eventCancel:
		return domain.IntentStatusCancelled, nil
	}
	return "", domain.ErrStateConflict
}

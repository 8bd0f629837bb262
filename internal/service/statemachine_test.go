package service

import (
	"errors"
	"testing"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

func TestNextStatus(t *testing.T) {
	cases := []struct {
		name       string
		current    domain.IntentStatus
		ev         eventKind
		cumulative int64
		total      int64
		want       domain.IntentStatus
		wantErr    bool
	}{
		{"confirm full from pending", domain.IntentStatusPending, eventConfirm, 300, 300, domain.IntentStatusCompleted, false},
		{"confirm over from pending", domain.IntentStatusPending, eventConfirm, 400, 300, domain.IntentStatusCompleted, false},
		{"confirm partial from pending", domain.IntentStatusPending, eventConfirm, 150, 300, domain.IntentStatusPartiallyPaid, false},
		{"confirm completes from partial", domain.IntentStatusPartiallyPaid, eventConfirm, 300, 300, domain.IntentStatusCompleted, false},
		{"confirm stays partial", domain.IntentStatusPartiallyPaid, eventConfirm, 200, 300, domain.IntentStatusPartiallyPaid, false},
		{"fail from pending", domain.IntentStatusPending, eventFail, 0, 300, domain.IntentStatusFailed, false},
		{"fail after money refused", domain.IntentStatusPartiallyPaid, eventFail, 150, 300, "", true},
		{"expire from pending", domain.IntentStatusPending, eventExpire, 0, 0, domain.IntentStatusExpired, false},
		{"expire from partial", domain.IntentStatusPartiallyPaid, eventExpire, 0, 0, domain.IntentStatusExpired, false},
		{"cancel from pending", domain.IntentStatusPending, eventCancel, 0, 0, domain.IntentStatusCancelled, false},
		{"cancel from partial", domain.IntentStatusPartiallyPaid, eventCancel, 0, 0, domain.IntentStatusCancelled, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := nextStatus(tc.current, tc.ev, tc.cumulative, tc.total)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrStateConflict) {
					t.Fatalf("expected state conflict, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestNextStatus_TerminalStatesRefuseEverything(t *testing.T) {
	terminals := []domain.IntentStatus{
		domain.IntentStatusCompleted,
		domain.IntentStatusFailed,
		domain.IntentStatusExpired,
		domain.IntentStatusCancelled,
	}
	events := []eventKind{eventConfirm, eventFail, eventExpire, eventCancel}

	for _, st := range terminals {
		for _, ev := range events {
			if _, err := nextStatus(st, ev, 300, 300); !errors.Is(err, domain.ErrStateConflict) {
				t.Fatalf("%s must refuse event %d, got %v", st, ev, err)
			}
		}
	}
}

func TestEventActor(t *testing.T) {
	if got := eventConfirm.actor(); got != domain.ActorWebhook {
		t.Fatalf("confirm actor = %s", got)
	}
	if got := eventExpire.actor(); got != domain.ActorTimer {
		t.Fatalf("expire actor = %s", got)
	}
	if got := eventCancel.actor(); got != domain.ActorStaff {
		t.Fatalf("cancel actor = %s", got)
	}
}

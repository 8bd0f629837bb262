package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

type fakeDiscrepancyStore struct {
	rows     []domain.Discrepancy
	resolved []string
	listErr  error
}

func (s *fakeDiscrepancyStore) ListOpen(ctx context.Context) ([]domain.Discrepancy, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.rows, nil
}

func (s *fakeDiscrepancyStore) Resolve(ctx context.Context, id string) error {
	s.resolved = append(s.resolved, id)
	return nil
}

type reportEvent struct {
	userID   int64
	reportID string
	url      string
	fileName string
	message  string
	failed   bool
}

type chanReportNotifier struct {
	events chan reportEvent
}

func (n *chanReportNotifier) NotifyReportReady(userID int64, reportID, url, fileName string) {
	n.events <- reportEvent{userID: userID, reportID: reportID, url: url, fileName: fileName}
}

func (n *chanReportNotifier) NotifyReportFailed(userID int64, reportID, message string) {
	n.events <- reportEvent{userID: userID, reportID: reportID, message: message, failed: true}
}

func TestStartExport(t *testing.T) {
	store := &fakeDiscrepancyStore{rows: []domain.Discrepancy{
		{ID: "d-1", OrderCode: 5001, Kind: domain.DiscrepancyOverpayment, Amount: 100, Detail: "credit 100", CreatedAt: testNow},
		{ID: "d-2", OrderCode: 5002, Kind: domain.DiscrepancyUnknownOrder, Amount: 250, Detail: "no such order", CreatedAt: testNow},
	}}
	storage := newFakeQRStorage()
	notifier := &chanReportNotifier{events: make(chan reportEvent, 1)}
	svc := NewDiscrepancyService(store, storage, notifier)

	reportID, err := svc.StartExport(context.Background(), 42)
	if err != nil {
		t.Fatalf("start export: %v", err)
	}
	if reportID == "" {
		t.Fatal("empty report id")
	}

	ev := <-notifier.events
	if ev.failed {
		t.Fatalf("export failed: %s", ev.message)
	}
	if ev.userID != 42 || ev.reportID != reportID {
		t.Fatalf("notification routed wrong: %+v", ev)
	}
	if !strings.HasSuffix(ev.fileName, ".xlsx") {
		t.Fatalf("expected xlsx file, got %q", ev.fileName)
	}
	if !strings.HasPrefix(ev.url, "/files/") {
		t.Fatalf("expected storage url, got %q", ev.url)
	}

	storage.mu.Lock()
	data, ok := storage.saved[ev.fileName]
	storage.mu.Unlock()
	if !ok || len(data) == 0 {
		t.Fatal("rendered workbook was not stored")
	}
}

func TestStartExport_StorageFailureNotifies(t *testing.T) {
	store := &fakeDiscrepancyStore{rows: []domain.Discrepancy{{ID: "d-1", Kind: domain.DiscrepancyOverpayment, CreatedAt: testNow}}}
	storage := newFakeQRStorage()
	storage.fail = true
	notifier := &chanReportNotifier{events: make(chan reportEvent, 1)}
	svc := NewDiscrepancyService(store, storage, notifier)

	if _, err := svc.StartExport(context.Background(), 42); err != nil {
		t.Fatalf("start export: %v", err)
	}

	ev := <-notifier.events
	if !ev.failed {
		t.Fatal("expected a failure notification")
	}
}

func TestStartExport_ListError(t *testing.T) {
	store := &fakeDiscrepancyStore{listErr: errors.New("db down")}
	svc := NewDiscrepancyService(store, newFakeQRStorage(), nil)

	if _, err := svc.StartExport(context.Background(), 42); err == nil {
		t.Fatal("expected error when the queue cannot be read")
	}
}

func TestResolvePassThrough(t *testing.T) {
	store := &fakeDiscrepancyStore{}
	svc := NewDiscrepancyService(store, newFakeQRStorage(), nil)

	if err := svc.Resolve(context.Background(), "d-9"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(store.resolved) != 1 || store.resolved[0] != "d-9" {
		t.Fatalf("resolve not forwarded: %v", store.resolved)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvthai0611/doan-build-sub011/internal/clients"
	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	failures int
	lastReq  clients.CreateQRRequest
}

func (g *fakeGateway) CreatePaymentQR(ctx context.Context, req clients.CreateQRRequest) (*clients.CreateQRResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastReq = req
	if g.failures > 0 {
		g.failures--
		return nil, errors.New("gateway unavailable")
	}
	return &clients.CreateQRResponse{
		QRCodeURL:       fmt.Sprintf("https://gw.example/qr/%d", req.OrderCode),
		QRImage:         []byte("png-bytes"),
		TransferContent: fmt.Sprintf("HP %d", req.OrderCode),
		BankAccount:     "0123456789",
	}, nil
}

type fakeQRStorage struct {
	mu    sync.Mutex
	saved map[string][]byte
	fail  bool
}

func newFakeQRStorage() *fakeQRStorage {
	return &fakeQRStorage{saved: make(map[string][]byte)}
}

func (s *fakeQRStorage) Save(ctx context.Context, fileName string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return "", errors.New("disk full")
	}
	s.saved[fileName] = data
	return fileName, nil
}

func (s *fakeQRStorage) GetURL(fileName string) string {
	return "/files/" + fileName
}

type armRecorder struct {
	mu    sync.Mutex
	armed map[string]time.Time
}

func (a *armRecorder) Arm(intentID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.armed == nil {
		a.armed = make(map[string]time.Time)
	}
	a.armed[intentID] = at
}

func newTestIntentService(env *memEnv) (*IntentService, *fakeGateway, *fakeQRStorage, *armRecorder) {
	gw := &fakeGateway{}
	storage := newFakeQRStorage()
	armer := &armRecorder{}
	svc := NewIntentService(env, env, gw, storage, armer, nil, 15*time.Minute)
	svc.now = func() time.Time { return testNow }
	return svc, gw, storage, armer
}

func seedFees() *memEnv {
	env := newMemEnv()
	env.fees["fee-a"] = &domain.FeeRecord{
		ID: "fee-a", StudentID: "st-1", PayerID: 7, Title: "Math 03/2026",
		TotalAmount: 100, DueDate: testNow.AddDate(0, 0, -10), Status: domain.FeeStatusPending,
	}
	env.fees["fee-b"] = &domain.FeeRecord{
		ID: "fee-b", StudentID: "st-1", PayerID: 7, Title: "Physics 03/2026",
		TotalAmount: 200, PaidAmount: 50, DueDate: testNow.AddDate(0, 1, 0), Status: domain.FeeStatusPartiallyPaid,
	}
	return env
}

func TestOutstandingFees(t *testing.T) {
	env := seedFees()
	env.fees["fee-c"] = &domain.FeeRecord{
		ID: "fee-c", StudentID: "st-1", PayerID: 7, Title: "Chemistry 02/2026",
		TotalAmount: 80, PaidAmount: 80, Status: domain.FeeStatusCompleted,
	}
	env.fees["fee-d"] = &domain.FeeRecord{
		ID: "fee-d", StudentID: "st-9", PayerID: 8, Title: "Math 03/2026",
		TotalAmount: 120, Status: domain.FeeStatusPending,
	}
	svc, _, _, _ := newTestIntentService(env)

	records, err := svc.OutstandingFees(context.Background(), 7)
	if err != nil {
		t.Fatalf("outstanding fees: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "fee-a" || records[1].ID != "fee-b" {
		t.Fatalf("unexpected records %s, %s", records[0].ID, records[1].ID)
	}
}

func TestCreateIntent(t *testing.T) {
	env := seedFees()
	svc, gw, storage, armer := newTestIntentService(env)

	intent, err := svc.Create(context.Background(), []string{"fee-a", "fee-b"}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if intent.Status != domain.IntentStatusPending {
		t.Fatalf("expected pending, got %s", intent.Status)
	}
	// 100 outstanding on fee-a, 150 remaining on fee-b
	if intent.TotalAmount != 250 {
		t.Fatalf("expected 250 due, got %d", intent.TotalAmount)
	}
	if intent.OrderCode <= 0 {
		t.Fatalf("order code must be positive, got %d", intent.OrderCode)
	}
	if !intent.ExpiresAt.Equal(testNow.Add(15 * time.Minute)) {
		t.Fatalf("unexpected deadline %s", intent.ExpiresAt)
	}
	if gw.lastReq.Amount != 250 {
		t.Fatalf("gateway was asked for %d", gw.lastReq.Amount)
	}
	if !strings.HasPrefix(intent.QRCodeURL, "/files/") {
		t.Fatalf("expected stored QR url, got %q", intent.QRCodeURL)
	}
	if len(storage.saved) != 1 {
		t.Fatalf("expected one stored QR image, got %d", len(storage.saved))
	}
	if intent.TransferContent == "" || intent.BankAccount == "" {
		t.Fatalf("transfer details missing: %+v", intent)
	}

	if _, err := env.GetByID(context.Background(), intent.ID); err != nil {
		t.Fatalf("intent not persisted: %v", err)
	}

	armer.mu.Lock()
	at, ok := armer.armed[intent.ID]
	armer.mu.Unlock()
	if !ok || !at.Equal(intent.ExpiresAt) {
		t.Fatalf("expiry timer not armed for the deadline")
	}
}

func TestCreateIntent_SelectionValidation(t *testing.T) {
	env := seedFees()
	svc, _, _, _ := newTestIntentService(env)
	ctx := context.Background()

	if _, err := svc.Create(ctx, nil, 7); !errors.Is(err, domain.ErrNoOutstandingBalance) {
		t.Fatalf("empty selection: got %v", err)
	}

	if _, err := svc.Create(ctx, []string{"fee-a", "fee-a"}, 7); !errors.Is(err, domain.ErrFeeRecordReserved) {
		t.Fatalf("duplicate selection: got %v", err)
	}

	if _, err := svc.Create(ctx, []string{"fee-a", "missing"}, 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown record: got %v", err)
	}

	// records belong to payer 7
	if _, err := svc.Create(ctx, []string{"fee-a"}, 8); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign record: got %v", err)
	}
}

func TestCreateIntent_ReservedRecord(t *testing.T) {
	env := seedFees()
	env.reservedFirst = "fee-a"
	svc, _, _, _ := newTestIntentService(env)

	if _, err := svc.Create(context.Background(), []string{"fee-a"}, 7); !errors.Is(err, domain.ErrFeeRecordReserved) {
		t.Fatalf("expected reservation conflict, got %v", err)
	}
}

func TestCreateIntent_NoOutstandingBalance(t *testing.T) {
	env := seedFees()
	env.fees["fee-paid"] = &domain.FeeRecord{
		ID: "fee-paid", PayerID: 7, TotalAmount: 100, PaidAmount: 100,
		DueDate: testNow, Status: domain.FeeStatusPending,
	}
	svc, _, _, _ := newTestIntentService(env)

	if _, err := svc.Create(context.Background(), []string{"fee-paid"}, 7); !errors.Is(err, domain.ErrNoOutstandingBalance) {
		t.Fatalf("expected no outstanding balance, got %v", err)
	}
}

func TestCreateIntent_GatewayRetriesOnce(t *testing.T) {
	env := seedFees()
	svc, gw, _, _ := newTestIntentService(env)
	gw.failures = 1

	if _, err := svc.Create(context.Background(), []string{"fee-a"}, 7); err != nil {
		t.Fatalf("single gateway failure must be retried: %v", err)
	}
	if gw.calls != 2 {
		t.Fatalf("expected 2 gateway calls, got %d", gw.calls)
	}
}

func TestCreateIntent_GatewayDown(t *testing.T) {
	env := seedFees()
	svc, gw, _, _ := newTestIntentService(env)
	gw.failures = 2

	if _, err := svc.Create(context.Background(), []string{"fee-a"}, 7); !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if len(env.intents) != 0 {
		t.Fatal("no intent may be persisted when the gateway is down")
	}
}

func TestCreateIntent_StorageFailureDegrades(t *testing.T) {
	env := seedFees()
	svc, _, storage, _ := newTestIntentService(env)
	storage.fail = true

	intent, err := svc.Create(context.Background(), []string{"fee-a"}, 7)
	if err != nil {
		t.Fatalf("storage failure must not block creation: %v", err)
	}
	if !strings.HasPrefix(intent.QRCodeURL, "https://gw.example/qr/") {
		t.Fatalf("expected gateway-hosted QR fallback, got %q", intent.QRCodeURL)
	}
}

func TestUpdateSelection(t *testing.T) {
	env := seedFees()
	svc, _, _, _ := newTestIntentService(env)
	ctx := context.Background()

	intent, err := svc.Create(ctx, []string{"fee-a", "fee-b"}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.UpdateSelection(ctx, intent.ID, []string{"fee-a"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TotalAmount != 100 {
		t.Fatalf("expected recomputed total 100, got %d", updated.TotalAmount)
	}
	if len(updated.FeeRecordIDs) != 1 || updated.FeeRecordIDs[0] != "fee-a" {
		t.Fatalf("selection not replaced: %v", updated.FeeRecordIDs)
	}
}

func TestUpdateSelection_NotPending(t *testing.T) {
	env := seedFees()
	svc, _, _, _ := newTestIntentService(env)
	ctx := context.Background()

	intent, err := svc.Create(ctx, []string{"fee-a"}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env.mu.Lock()
	env.intents[intent.ID].Status = domain.IntentStatusCompleted
	env.mu.Unlock()

	if _, err := svc.UpdateSelection(ctx, intent.ID, []string{"fee-b"}); !errors.Is(err, domain.ErrIntentNotPending) {
		t.Fatalf("expected not-pending conflict, got %v", err)
	}
}

func TestDetail(t *testing.T) {
	env := seedFees()
	svc, _, _, _ := newTestIntentService(env)
	ctx := context.Background()

	intent, err := svc.Create(ctx, []string{"fee-a"}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.mu.Lock()
	env.allocations = append(env.allocations, domain.Allocation{
		ID: "alloc-1", IntentID: intent.ID, FeeRecordID: "fee-a", AmountApplied: 100, AppliedAt: testNow,
	})
	env.mu.Unlock()

	detail, err := svc.Detail(ctx, intent.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Intent.ID != intent.ID {
		t.Fatalf("wrong intent in detail: %s", detail.Intent.ID)
	}
	if len(detail.Allocations) != 1 || detail.Allocations[0].AmountApplied != 100 {
		t.Fatalf("allocations missing from detail: %+v", detail.Allocations)
	}
	// the audit trail opens with the creation row
	if len(detail.Transitions) != 1 {
		t.Fatalf("expected the creation transition, got %+v", detail.Transitions)
	}
	if tr := detail.Transitions[0]; tr.To != domain.IntentStatusPending || tr.Actor != domain.ActorPayer {
		t.Fatalf("unexpected creation transition: %+v", tr)
	}

	if _, err := svc.Detail(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nvthai0611/doan-build-sub011/internal/clients"
	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

// FeeLedger is the boundary to the fee balances this engine allocates
// against.
type FeeLedger interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.FeeRecord, error)
	ListOutstandingByPayer(ctx context.Context, payerID int64) ([]domain.FeeRecord, error)
	FirstReserved(ctx context.Context, ids []string, excludeIntentID string) (string, error)
}

type IntentStore interface {
	Create(ctx context.Context, in *domain.PaymentIntent) error
	GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error)
	GetByOrderCode(ctx context.Context, orderCode int64) (*domain.PaymentIntent, error)
	UpdateSelection(ctx context.Context, intentID string, feeRecordIDs []string, totalAmount int64, qrCodeURL, transferContent string) error
	Allocations(ctx context.Context, intentID string) ([]domain.Allocation, error)
	Transitions(ctx context.Context, intentID string) ([]domain.Transition, error)
}

// QRGateway is the bank/QR provider boundary.
type QRGateway interface {
	CreatePaymentQR(ctx context.Context, req clients.CreateQRRequest) (*clients.CreateQRResponse, error)
}

// QRStorage persists the QR image and yields a public URL.
type QRStorage interface {
	Save(ctx context.Context, fileName string, data []byte) (string, error)
	GetURL(fileName string) string
}

// ExpiryArmer lets intent creation arm the low-latency expiry timer.
type ExpiryArmer interface {
	Arm(intentID string, at time.Time)
}

type IntentDetail struct {
	Intent      *domain.PaymentIntent
	Allocations []domain.Allocation
	Transitions []domain.Transition
}

type IntentService struct {
	ledger  FeeLedger
	intents IntentStore
	gateway QRGateway
	storage QRStorage
	expiry  ExpiryArmer
	cache   *clients.RedisClient

	expiresIn time.Duration
	now       func() time.Time
}

func NewIntentService(ledger FeeLedger, intents IntentStore, gateway QRGateway, storage QRStorage, expiry ExpiryArmer, cache *clients.RedisClient, expiresIn time.Duration) *IntentService {
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}
	return &IntentService{
		ledger:    ledger,
		intents:   intents,
		gateway:   gateway,
		storage:   storage,
		expiry:    expiry,
		cache:     cache,
		expiresIn: expiresIn,
		now:       time.Now,
	}
}

// OutstandingFees lists the payer's fee records that still carry an
// unpaid balance, the set a new intent can be built from.
func (s *IntentService) OutstandingFees(ctx context.Context, payerID int64) ([]domain.FeeRecord, error) {
	return s.ledger.ListOutstandingByPayer(ctx, payerID)
}

// Create builds a pending intent over the selected fee records, asks the
// bank gateway for a QR transfer reference and arms the expiry deadline.
func (s *IntentService) Create(ctx context.Context, feeRecordIDs []string, payerID int64) (*domain.PaymentIntent, error) {
	records, total, err := s.validateSelection(ctx, feeRecordIDs, payerID, "")
	if err != nil {
		return nil, err
	}

	now := s.now()
	intent := &domain.PaymentIntent{
		ID:           uuid.NewString(),
		OrderCode:    generateOrderCode(),
		PayerID:      payerID,
		FeeRecordIDs: feeRecordIDs,
		TotalAmount:  total,
		Status:       domain.IntentStatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.expiresIn),
	}

	qr, err := s.requestQR(ctx, intent.OrderCode, total, records)
	if err != nil {
		return nil, err
	}
	intent.TransferContent = qr.TransferContent
	intent.BankAccount = qr.BankAccount
	intent.QRCodeURL = s.storeQRImage(ctx, intent.OrderCode, qr)

	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, err
	}

	if s.expiry != nil {
		s.expiry.Arm(intent.ID, intent.ExpiresAt)
	}

	return intent, nil
}

// UpdateSelection replaces the fee set of a still-pending intent and
// recomputes the amount due. A fresh QR is requested because the amount
// embedded in the transfer reference changed.
func (s *IntentService) UpdateSelection(ctx context.Context, intentID string, feeRecordIDs []string) (*domain.PaymentIntent, error) {
	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.IntentStatusPending {
		return nil, domain.ErrIntentNotPending
	}

	records, total, err := s.validateSelection(ctx, feeRecordIDs, intent.PayerID, intentID)
	if err != nil {
		return nil, err
	}

	qr, err := s.requestQR(ctx, intent.OrderCode, total, records)
	if err != nil {
		return nil, err
	}
	qrURL := s.storeQRImage(ctx, intent.OrderCode, qr)

	if err := s.intents.UpdateSelection(ctx, intentID, feeRecordIDs, total, qrURL, qr.TransferContent); err != nil {
		return nil, err
	}

	return s.intents.GetByID(ctx, intentID)
}

// Detail returns the intent with its committed allocations. Terminal
// intents never change again, so their detail is cached.
func (s *IntentService) Detail(ctx context.Context, intentID string) (*IntentDetail, error) {
	cacheKey := "intent_detail:" + intentID
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, cacheKey); err == nil && raw != "" {
			var detail IntentDetail
			if err := json.Unmarshal([]byte(raw), &detail); err == nil {
				return &detail, nil
			}
		}
	}

	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	allocs, err := s.intents.Allocations(ctx, intentID)
	if err != nil {
		return nil, err
	}
	transitions, err := s.intents.Transitions(ctx, intentID)
	if err != nil {
		return nil, err
	}
	detail := &IntentDetail{Intent: intent, Allocations: allocs, Transitions: transitions}

	if s.cache != nil && intent.Status.Terminal() {
		if raw, err := json.Marshal(detail); err == nil {
			_ = s.cache.Set(ctx, cacheKey, string(raw), 24*time.Hour)
		}
	}
	return detail, nil
}

func (s *IntentService) validateSelection(ctx context.Context, feeRecordIDs []string, payerID int64, excludeIntentID string) ([]domain.FeeRecord, int64, error) {
	if len(feeRecordIDs) == 0 {
		return nil, 0, fmt.Errorf("%w: empty fee selection", domain.ErrNoOutstandingBalance)
	}
	seen := make(map[string]bool, len(feeRecordIDs))
	for _, id := range feeRecordIDs {
		if seen[id] {
			return nil, 0, fmt.Errorf("fee record %s selected twice: %w", id, domain.ErrFeeRecordReserved)
		}
		seen[id] = true
	}

	records, err := s.ledger.GetByIDs(ctx, feeRecordIDs)
	if err != nil {
		return nil, 0, err
	}

	for i := range records {
		rec := &records[i]
		if rec.PayerID != payerID {
			return nil, 0, fmt.Errorf("fee record %s: %w", rec.ID, domain.ErrNotFound)
		}
		if !rec.Payable() {
			return nil, 0, fmt.Errorf("fee record %s is %s: %w", rec.ID, rec.Status, domain.ErrNoOutstandingBalance)
		}
	}

	reserved, err := s.ledger.FirstReserved(ctx, feeRecordIDs, excludeIntentID)
	if err != nil {
		return nil, 0, err
	}
	if reserved != "" {
		return nil, 0, fmt.Errorf("fee record %s: %w", reserved, domain.ErrFeeRecordReserved)
	}

	total := outstandingTotal(records)
	if total == 0 {
		return nil, 0, domain.ErrNoOutstandingBalance
	}
	return records, total, nil
}

// requestQR calls the bank gateway, retrying once before surfacing the
// failure as a gateway error.
func (s *IntentService) requestQR(ctx context.Context, orderCode, amount int64, records []domain.FeeRecord) (*clients.CreateQRResponse, error) {
	req := clients.CreateQRRequest{
		OrderCode:   orderCode,
		Amount:      amount,
		Description: transferDescription(orderCode, records),
	}

	qr, err := s.gateway.CreatePaymentQR(ctx, req)
	if err != nil {
		log.Printf("[INTENT] qr request for order %d failed, retrying once: %v", orderCode, err)
		qr, err = s.gateway.CreatePaymentQR(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGateway, err)
	}
	return qr, nil
}

// storeQRImage uploads the QR PNG and returns its URL. Storage failures
// degrade to the gateway-hosted QR data string; the transfer itself is
// unaffected.
func (s *IntentService) storeQRImage(ctx context.Context, orderCode int64, qr *clients.CreateQRResponse) string {
	if s.storage == nil || len(qr.QRImage) == 0 {
		return qr.QRCodeURL
	}
	name, err := s.storage.Save(ctx, fmt.Sprintf("qr_%d.png", orderCode), qr.QRImage)
	if err != nil {
		log.Printf("[INTENT] qr image store failed for order %d: %v", orderCode, err)
		return qr.QRCodeURL
	}
	return s.storage.GetURL(name)
}

func transferDescription(orderCode int64, records []domain.FeeRecord) string {
	if len(records) == 1 {
		return fmt.Sprintf("HP %d %s", orderCode, records[0].Title)
	}
	return fmt.Sprintf("HP %d %d khoan", orderCode, len(records))
}

// generateOrderCode produces a positive code the bank statement can carry:
// millisecond timestamp plus random low digits keeps codes unique and
// roughly sortable.
func generateOrderCode() int64 {
	var b [2]byte
	_, _ = rand.Read(b[:])
	suffix := int64(binary.BigEndian.Uint16(b[:])) % 1000
	return time.Now().UnixMilli()*1000 + suffix
}

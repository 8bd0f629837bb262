package clients

import (
	"context"
	"log"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

// ReceiptLogClient stands in for the notification/e-mail service that
// sends payment receipts. Dispatch is fire-and-forget after a completed
// intent; a real transport can replace this without touching the engine.
type ReceiptLogClient struct{}

func NewReceiptLogClient() *ReceiptLogClient {
	return &ReceiptLogClient{}
}

func (c *ReceiptLogClient) SendReceipt(ctx context.Context, intent *domain.PaymentIntent) error {
	log.Printf("[RECEIPT] order %d completed, confirmed %d over %d fee records",
		intent.OrderCode, intent.ConfirmedAmount, len(intent.FeeRecordIDs))
	return nil
}

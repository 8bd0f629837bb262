package rest

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

// GatewayCallback ingests the bank gateway's asynchronous confirmation.
// Once the payload parses, the answer is always HTTP 200: duplicates,
// terminal-state conflicts and even processing failures are acknowledged
// so the gateway stops retrying, while genuine discrepancies land in the
// manual-reconciliation queue instead.
func (h *Handler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateWebhookRequest(r)
	if err != nil {
		if verr, ok := err.(*ValidationError); ok {
			ErrorBadRequest(w, verr.Error())
			return
		}
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	cb := domain.GatewayCallback{
		OrderCode:       req.OrderCode,
		TransactionCode: req.TransactionCode,
		Amount:          req.Amount,
		Status:          req.Status,
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.webhookTimeout)
	defer cancel()

	result, err := h.reconciler.HandleCallback(ctx, cb)
	switch {
	case err == nil:
		if result.Duplicate {
			Success(w, "callback already processed", webhookAck(result))
			return
		}
		Success(w, "callback processed", webhookAck(result))

	case errors.Is(err, context.DeadlineExceeded):
		// The processing window ran out; hand the callback to the async
		// retry path and acknowledge so the gateway does not storm us.
		log.Printf("[WEBHOOK] order %d processing timed out, queued for retry", cb.OrderCode)
		h.reconciler.EnqueueRetry(cb)
		Success(w, "callback accepted", nil)

	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrStaleBalance):
		// Unknown order code or an exhausted allocation retry budget: the
		// service already flagged a discrepancy, acknowledge and stop.
		Success(w, "callback acknowledged", nil)

	default:
		log.Printf("[WEBHOOK] order %d processing failed: %v", cb.OrderCode, err)
		h.reconciler.EnqueueRetry(cb)
		Success(w, "callback accepted", nil)
	}
}

func webhookAck(result *domain.WebhookResult) map[string]interface{} {
	return map[string]interface{}{
		"order_code":       result.OrderCode,
		"transaction_code": result.TransactionCode,
		"status":           string(result.IntentStatus),
		"applied_amount":   result.AppliedAmount,
		"unapplied_credit": result.UnappliedCredit,
	}
}

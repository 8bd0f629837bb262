package rest

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
	"github.com/nvthai0611/doan-build-sub011/internal/transport/auth"
)

type intentResponse struct {
	ID              string `json:"id"`
	OrderCode       int64  `json:"order_code"`
	Status          string `json:"status"`
	TotalAmount     int64  `json:"total_amount"`
	ConfirmedAmount int64  `json:"confirmed_amount"`
	UnappliedCredit int64  `json:"unapplied_credit,omitempty"`
	QRCodeURL       string `json:"qr_code_url"`
	TransferContent string `json:"content"`
	BankAccount     string `json:"bank_account"`
	ExpiresAt       string `json:"expires_at"`
}

func toIntentResponse(in *domain.PaymentIntent) intentResponse {
	return intentResponse{
		ID:              in.ID,
		OrderCode:       in.OrderCode,
		Status:          string(in.Status),
		TotalAmount:     in.TotalAmount,
		ConfirmedAmount: in.ConfirmedAmount,
		UnappliedCredit: in.UnappliedCredit,
		QRCodeURL:       in.QRCodeURL,
		TransferContent: in.TransferContent,
		BankAccount:     in.BankAccount,
		ExpiresAt:       in.ExpiresAt.Format(time.RFC3339),
	}
}

type allocationResponse struct {
	FeeRecordID   string `json:"fee_record_id"`
	AmountApplied int64  `json:"amount_applied"`
	AppliedAt     string `json:"applied_at"`
}

type transitionResponse struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Actor           string `json:"actor"`
	Amount          int64  `json:"amount,omitempty"`
	TransactionCode string `json:"transaction_code,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type feeRecordResponse struct {
	ID          string `json:"id"`
	StudentID   string `json:"student_id"`
	Title       string `json:"title"`
	TotalAmount int64  `json:"total_amount"`
	PaidAmount  int64  `json:"paid_amount"`
	Remaining   int64  `json:"remaining"`
	DueDate     string `json:"due_date"`
	Status      string `json:"status"`
}

func (h *Handler) listOutstandingFees(w http.ResponseWriter, r *http.Request) {
	payerID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	records, err := h.intents.OutstandingFees(r.Context(), payerID)
	if err != nil {
		log.Printf("list outstanding fees: %v", err)
		ErrorInternal(w, "failed to list fee records")
		return
	}

	out := make([]feeRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, feeRecordResponse{
			ID:          rec.ID,
			StudentID:   rec.StudentID,
			Title:       rec.Title,
			TotalAmount: rec.TotalAmount,
			PaidAmount:  rec.PaidAmount,
			Remaining:   rec.Remaining(),
			DueDate:     rec.DueDate.Format(time.RFC3339),
			Status:      string(rec.Status),
		})
	}
	Success(w, "fee records", out)
}

func (h *Handler) createIntent(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateCreateIntentRequest(r)
	if err != nil {
		if verr, ok := err.(*ValidationError); ok {
			ErrorBadRequest(w, verr.Error())
			return
		}
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	payerID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	intent, err := h.intents.Create(r.Context(), req.FeeRecordIDs, payerID)
	if err != nil {
		h.writeIntentError(w, err, "failed to create payment intent")
		return
	}

	SuccessCreated(w, "payment intent created", toIntentResponse(intent))
}

func (h *Handler) updateIntent(w http.ResponseWriter, r *http.Request) {
	req, err := ValidateCreateIntentRequest(r)
	if err != nil {
		if verr, ok := err.(*ValidationError); ok {
			ErrorBadRequest(w, verr.Error())
			return
		}
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	intentID := chi.URLParam(r, "intent_id")
	intent, err := h.intents.UpdateSelection(r.Context(), intentID, req.FeeRecordIDs)
	if err != nil {
		h.writeIntentError(w, err, "failed to update payment intent")
		return
	}

	Success(w, "payment intent updated", toIntentResponse(intent))
}

func (h *Handler) getIntentDetail(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intent_id")

	detail, err := h.intents.Detail(r.Context(), intentID)
	if err != nil {
		h.writeIntentError(w, err, "failed to load payment intent")
		return
	}

	allocs := make([]allocationResponse, 0, len(detail.Allocations))
	for _, a := range detail.Allocations {
		allocs = append(allocs, allocationResponse{
			FeeRecordID:   a.FeeRecordID,
			AmountApplied: a.AmountApplied,
			AppliedAt:     a.AppliedAt.Format(time.RFC3339),
		})
	}

	transitions := make([]transitionResponse, 0, len(detail.Transitions))
	for _, tr := range detail.Transitions {
		transitions = append(transitions, transitionResponse{
			From:            string(tr.From),
			To:              string(tr.To),
			Actor:           string(tr.Actor),
			Amount:          tr.Amount,
			TransactionCode: tr.TransactionCode,
			CreatedAt:       tr.CreatedAt.Format(time.RFC3339),
		})
	}

	Success(w, "payment intent detail", map[string]interface{}{
		"intent":      toIntentResponse(detail.Intent),
		"allocations": allocs,
		"transitions": transitions,
	})
}

// cancelIntent is the staff override. Cancelling an intent that already
// reached a terminal state reports the current state as an idempotent
// success rather than a conflict.
func (h *Handler) cancelIntent(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intent_id")

	intent, err := h.reconciler.Cancel(r.Context(), intentID)
	if err != nil {
		h.writeIntentError(w, err, "failed to cancel payment intent")
		return
	}

	if intent.Status == domain.IntentStatusCancelled {
		Success(w, "payment intent cancelled", toIntentResponse(intent))
		return
	}
	Success(w, "payment intent already processed", toIntentResponse(intent))
}

func (h *Handler) writeIntentError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		ErrorNotFound(w, "payment intent or fee record not found")
	case errors.Is(err, domain.ErrNoOutstandingBalance):
		ErrorBadRequest(w, err.Error())
	case errors.Is(err, domain.ErrFeeRecordReserved):
		ErrorConflict(w, err.Error())
	case errors.Is(err, domain.ErrIntentNotPending):
		ErrorConflict(w, "payment intent is no longer pending")
	case errors.Is(err, domain.ErrGateway):
		ErrorBadGateway(w, "payment gateway is unavailable")
	default:
		log.Printf("[HTTP] %s: %v", fallback, err)
		ErrorInternal(w, fallback)
	}
}

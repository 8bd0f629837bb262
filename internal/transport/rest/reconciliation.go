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

type discrepancyResponse struct {
	ID        string `json:"id"`
	IntentID  string `json:"intent_id,omitempty"`
	OrderCode int64  `json:"order_code"`
	Kind      string `json:"kind"`
	Amount    int64  `json:"amount"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) listDiscrepancies(w http.ResponseWriter, r *http.Request) {
	rows, err := h.discrepancies.ListOpen(r.Context())
	if err != nil {
		log.Printf("[HTTP] list discrepancies error: %v", err)
		ErrorInternal(w, "failed to list discrepancies")
		return
	}

	out := make([]discrepancyResponse, 0, len(rows))
	for _, d := range rows {
		out = append(out, discrepancyResponse{
			ID:        d.ID,
			IntentID:  d.IntentID,
			OrderCode: d.OrderCode,
			Kind:      string(d.Kind),
			Amount:    d.Amount,
			Detail:    d.Detail,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
		})
	}

	Success(w, "open discrepancies", out)
}

func (h *Handler) exportDiscrepancies(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	reportID, err := h.discrepancies.StartExport(r.Context(), userID)
	if err != nil {
		log.Printf("[HTTP] start discrepancy export error: %v", err)
		ErrorInternal(w, "failed to start export")
		return
	}

	SuccessAccepted(w, "export queued", map[string]interface{}{"report_id": reportID})
}

func (h *Handler) resolveDiscrepancy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "discrepancy_id")

	if err := h.discrepancies.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			ErrorNotFound(w, "discrepancy not found")
			return
		}
		log.Printf("[HTTP] resolve discrepancy error: %v", err)
		ErrorInternal(w, "failed to resolve discrepancy")
		return
	}

	Success(w, "discrepancy resolved", nil)
}

package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
	"github.com/nvthai0611/doan-build-sub011/internal/service"
)

type IntentService interface {
	Create(ctx context.Context, feeRecordIDs []string, payerID int64) (*domain.PaymentIntent, error)
	OutstandingFees(ctx context.Context, payerID int64) ([]domain.FeeRecord, error)
	UpdateSelection(ctx context.Context, intentID string, feeRecordIDs []string) (*domain.PaymentIntent, error)
	Detail(ctx context.Context, intentID string) (*service.IntentDetail, error)
}

type ReconcileService interface {
	HandleCallback(ctx context.Context, cb domain.GatewayCallback) (*domain.WebhookResult, error)
	EnqueueRetry(cb domain.GatewayCallback)
	Cancel(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
}

type DiscrepancyService interface {
	ListOpen(ctx context.Context) ([]domain.Discrepancy, error)
	Resolve(ctx context.Context, id string) error
	StartExport(ctx context.Context, userID int64) (string, error)
}

type Handler struct {
	intents       IntentService
	reconciler    ReconcileService
	discrepancies DiscrepancyService

	webhookTimeout time.Duration
}

func NewHandler(intents IntentService, reconciler ReconcileService, discrepancies DiscrepancyService, webhookTimeout time.Duration) *Handler {
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	return &Handler{
		intents:        intents,
		reconciler:     reconciler,
		discrepancies:  discrepancies,
		webhookTimeout: webhookTimeout,
	}
}

// InitRouterWithAuth builds the authenticated API surface. The webhook
// endpoint is not here: the gateway does not carry our tokens, so main
// mounts it on the public router.
func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler, requireStaff func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}

	r.Route("/payments", func(r chi.Router) {
		r.Get("/fee-records", h.listOutstandingFees)
		r.Post("/", h.createIntent)
		r.Put("/{intent_id}", h.updateIntent)
		r.Get("/{intent_id}", h.getIntentDetail)
		if requireStaff != nil {
			r.With(requireStaff).Post("/{intent_id}/cancel", h.cancelIntent)
		} else {
			r.Post("/{intent_id}/cancel", h.cancelIntent)
		}
	})

	r.Route("/reconciliation", func(r chi.Router) {
		if requireStaff != nil {
			r.Use(requireStaff)
		}
		r.Get("/discrepancies", h.listDiscrepancies)
		r.Post("/discrepancies/export", h.exportDiscrepancies)
		r.Post("/discrepancies/{discrepancy_id}/resolve", h.resolveDiscrepancy)
	})

	return r
}

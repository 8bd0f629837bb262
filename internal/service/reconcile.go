package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nvthai0611/doan-build-sub011/internal/clients"
	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

// TransitionStore is the transactional boundary: one plan, one commit.
type TransitionStore interface {
	GetProcessedResult(ctx context.Context, orderCode int64, transactionCode string) (*domain.WebhookResult, error)
	RecordAcknowledged(ctx context.Context, result *domain.WebhookResult) error
	ExecuteTransition(ctx context.Context, plan domain.TransitionPlan) error
}

type DiscrepancySink interface {
	Insert(ctx context.Context, d domain.Discrepancy) error
}

// Notifier pushes the single terminal outcome to whoever subscribed to
// the order code.
type Notifier interface {
	NotifyPaymentOutcome(orderCode int64, outcome domain.Outcome)
}

// ReceiptDispatcher is fire-and-forget after a completed intent.
type ReceiptDispatcher interface {
	SendReceipt(ctx context.Context, intent *domain.PaymentIntent) error
}

const webhookResultTTL = 24 * time.Hour

// Reconciler arbitrates the concurrent writers of a payment intent:
// gateway webhooks, the expiry timer/sweep and staff cancellation. All
// of them funnel through the same CAS-guarded transition plans.
type Reconciler struct {
	intents  IntentStore
	store    TransitionStore
	ledger   FeeLedger
	flags    DiscrepancySink
	notifier Notifier
	receipts ReceiptDispatcher
	cache    *clients.RedisClient

	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
}

func NewReconciler(intents IntentStore, store TransitionStore, ledger FeeLedger, flags DiscrepancySink, notifier Notifier, receipts ReceiptDispatcher, cache *clients.RedisClient) *Reconciler {
	return &Reconciler{
		intents:     intents,
		store:       store,
		ledger:      ledger,
		flags:       flags,
		notifier:    notifier,
		receipts:    receipts,
		cache:       cache,
		maxAttempts: 3,
		retryBase:   2 * time.Second,
		now:         time.Now,
	}
}

// HandleCallback processes one gateway confirmation. Replays of an
// already-processed (orderCode, transactionCode) pair return the stored
// result with Duplicate set and run no side effects.
func (r *Reconciler) HandleCallback(ctx context.Context, cb domain.GatewayCallback) (*domain.WebhookResult, error) {
	if prior := r.cachedResult(ctx, cb); prior != nil {
		return prior, nil
	}

	prior, err := r.store.GetProcessedResult(ctx, cb.OrderCode, cb.TransactionCode)
	if err == nil {
		prior.Duplicate = true
		r.cacheResult(ctx, prior)
		return prior, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	intent, err := r.intents.GetByOrderCode(ctx, cb.OrderCode)
	if errors.Is(err, domain.ErrNotFound) {
		r.flag(domain.Discrepancy{
			OrderCode: cb.OrderCode,
			Kind:      domain.DiscrepancyUnknownOrder,
			Amount:    cb.Amount,
			Detail:    fmt.Sprintf("callback %s references no known intent", cb.TransactionCode),
		})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if intent.Status.Terminal() {
			// A new transaction code arrived after the intent froze. Money may
			// have really moved; staff must look at it. The callback is still
			// acknowledged so the gateway stops retrying.
			return r.acknowledge(ctx, cb, intent, domain.Discrepancy{
				IntentID:  intent.ID,
				OrderCode: cb.OrderCode,
				Kind:      domain.DiscrepancyTerminalWebhook,
				Amount:    cb.Amount,
				Detail:    fmt.Sprintf("callback %s on %s intent", cb.TransactionCode, intent.Status),
			})
		}

		result, plan, err := r.planCallback(ctx, intent, cb)
		if errors.Is(err, domain.ErrStateConflict) {
			// The table refused the event outright (e.g. a failure callback
			// after money arrived). Flag it instead of guessing; the ack with
			// the current state makes the gateway stop retrying.
			return r.acknowledge(ctx, cb, intent, domain.Discrepancy{
				IntentID:  intent.ID,
				OrderCode: cb.OrderCode,
				Kind:      domain.DiscrepancyTerminalWebhook,
				Amount:    cb.Amount,
				Detail:    fmt.Sprintf("callback %s (%s) not allowed from %s", cb.TransactionCode, cb.Status, intent.Status),
			})
		}
		if err != nil {
			return nil, err
		}

		switch execErr := r.store.ExecuteTransition(ctx, *plan); {
		case execErr == nil:
			r.afterCommit(ctx, intent, plan, result)
			return result, nil

		case errors.Is(execErr, domain.ErrDuplicateEvent):
			stored, err := r.store.GetProcessedResult(ctx, cb.OrderCode, cb.TransactionCode)
			if err != nil {
				return nil, err
			}
			stored.Duplicate = true
			return stored, nil

		case errors.Is(execErr, domain.ErrStateConflict), errors.Is(execErr, domain.ErrStaleBalance):
			// Lost a race against another writer or a concurrent balance
			// change; re-read and recompute, never commit against stale data.
			intent, err = r.intents.GetByOrderCode(ctx, cb.OrderCode)
			if err != nil {
				return nil, err
			}

		default:
			return nil, execErr
		}
	}

	r.flag(domain.Discrepancy{
		IntentID:  intent.ID,
		OrderCode: cb.OrderCode,
		Kind:      domain.DiscrepancyAllocationFailure,
		Amount:    cb.Amount,
		Detail:    fmt.Sprintf("callback %s gave up after %d attempts", cb.TransactionCode, r.maxAttempts),
	})
	return nil, domain.ErrStaleBalance
}

// acknowledge handles a callback the engine refuses to act on. The
// first delivery of the pair records a dedup marker, files the given
// discrepancy and returns an ack carrying the current intent state.
// Replays find the marker and return the stored result with Duplicate
// set, filing nothing.
func (r *Reconciler) acknowledge(ctx context.Context, cb domain.GatewayCallback, intent *domain.PaymentIntent, d domain.Discrepancy) (*domain.WebhookResult, error) {
	result := &domain.WebhookResult{
		OrderCode:       cb.OrderCode,
		TransactionCode: cb.TransactionCode,
		IntentID:        intent.ID,
		IntentStatus:    intent.Status,
	}

	switch err := r.store.RecordAcknowledged(ctx, result); {
	case err == nil:
	case errors.Is(err, domain.ErrDuplicateEvent):
		stored, err := r.store.GetProcessedResult(ctx, cb.OrderCode, cb.TransactionCode)
		if err != nil {
			return nil, err
		}
		stored.Duplicate = true
		r.cacheResult(ctx, stored)
		return stored, nil
	default:
		// The marker is a dedup optimization; the ack itself must still go
		// out or the gateway keeps retrying.
		log.Printf("[reconcile] record acknowledged callback %d/%s: %v", cb.OrderCode, cb.TransactionCode, err)
	}

	r.flag(d)
	r.cacheResult(ctx, result)
	return result, nil
}

// planCallback turns a callback plus the current intent snapshot into a
// transition plan. Allocation is planned here against fresh balances;
// the executor re-checks them at commit time.
func (r *Reconciler) planCallback(ctx context.Context, intent *domain.PaymentIntent, cb domain.GatewayCallback) (*domain.WebhookResult, *domain.TransitionPlan, error) {
	ev := eventConfirm
	if cb.Status == domain.CallbackFailed {
		ev = eventFail
	}

	to, err := nextStatus(intent.Status, ev, intent.ConfirmedAmount+cb.Amount, intent.TotalAmount)
	if err != nil {
		return nil, nil, err
	}

	var (
		steps  []domain.AllocationStep
		delta  int64
		credit int64
	)
	if ev == eventConfirm {
		records, err := r.ledger.GetByIDs(ctx, intent.FeeRecordIDs)
		if err != nil {
			return nil, nil, err
		}
		steps, credit = planAllocation(records, cb.Amount)
		delta = cb.Amount
	}

	result := &domain.WebhookResult{
		OrderCode:       cb.OrderCode,
		TransactionCode: cb.TransactionCode,
		IntentID:        intent.ID,
		IntentStatus:    to,
		AppliedAmount:   delta - credit,
		UnappliedCredit: credit,
	}
	plan := &domain.TransitionPlan{
		IntentID:        intent.ID,
		OrderCode:       cb.OrderCode,
		TransactionCode: cb.TransactionCode,
		From:            intent.Status,
		To:              to,
		Actor:           ev.actor(),
		ConfirmedDelta:  delta,
		CreditDelta:     credit,
		Steps:           steps,
		Result:          result,
	}
	return result, plan, nil
}

// afterCommit runs the side effects that must happen exactly once, keyed
// off the committed transition rather than the raw callback.
func (r *Reconciler) afterCommit(ctx context.Context, intent *domain.PaymentIntent, plan *domain.TransitionPlan, result *domain.WebhookResult) {
	r.cacheResult(ctx, result)

	if plan.CreditDelta > 0 {
		log.Printf("[RECONCILE] order %d overpaid by %d, flagged for manual credit handling", plan.OrderCode, plan.CreditDelta)
		r.flag(domain.Discrepancy{
			IntentID:  plan.IntentID,
			OrderCode: plan.OrderCode,
			Kind:      domain.DiscrepancyOverpayment,
			Amount:    plan.CreditDelta,
			Detail:    fmt.Sprintf("confirmed amount exceeded total due by %d", plan.CreditDelta),
		})
	}

	if plan.To.Terminal() && r.notifier != nil {
		r.notifier.NotifyPaymentOutcome(plan.OrderCode, outcomeFor(plan.To, result))
	}

	if plan.To == domain.IntentStatusCompleted && r.receipts != nil {
		receiptIntent := *intent
		receiptIntent.Status = plan.To
		receiptIntent.ConfirmedAmount += plan.ConfirmedDelta
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.receipts.SendReceipt(ctx, &receiptIntent); err != nil {
				log.Printf("[RECONCILE] receipt dispatch for order %d failed: %v", receiptIntent.OrderCode, err)
			}
		}()
	}
}

// Expire forces a non-terminal intent to expired. Losing the race to a
// concurrent confirmation is the expected benign outcome.
func (r *Reconciler) Expire(ctx context.Context, intentID string) error {
	intent, err := r.intents.GetByID(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status.Terminal() {
		return nil
	}
	if r.now().Before(intent.ExpiresAt) {
		return nil
	}

	to, err := nextStatus(intent.Status, eventExpire, 0, 0)
	if err != nil {
		return nil
	}

	err = r.store.ExecuteTransition(ctx, domain.TransitionPlan{
		IntentID:  intent.ID,
		OrderCode: intent.OrderCode,
		From:      intent.Status,
		To:        to,
		Actor:     domain.ActorTimer,
	})
	if errors.Is(err, domain.ErrStateConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("[RECONCILE] order %d expired (deadline %s)", intent.OrderCode, intent.ExpiresAt.Format(time.RFC3339))
	if r.notifier != nil {
		r.notifier.NotifyPaymentOutcome(intent.OrderCode, domain.Outcome{
			Type: domain.OutcomeExpired,
			Payload: map[string]any{
				"intent_id": intent.ID,
				"status":    string(domain.IntentStatusExpired),
			},
		})
	}
	return nil
}

// Cancel is the staff override. Cancelling an already-terminal intent is
// reported as an idempotent success with the current state, not an error.
func (r *Reconciler) Cancel(ctx context.Context, intentID string) (*domain.PaymentIntent, error) {
	intent, err := r.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() {
		return intent, nil
	}

	to, err := nextStatus(intent.Status, eventCancel, 0, 0)
	if err != nil {
		return intent, nil
	}

	err = r.store.ExecuteTransition(ctx, domain.TransitionPlan{
		IntentID:  intent.ID,
		OrderCode: intent.OrderCode,
		From:      intent.Status,
		To:        to,
		Actor:     domain.ActorStaff,
	})
	if errors.Is(err, domain.ErrStateConflict) {
		return r.intents.GetByID(ctx, intentID)
	}
	if err != nil {
		return nil, err
	}

	if r.notifier != nil {
		r.notifier.NotifyPaymentOutcome(intent.OrderCode, domain.Outcome{
			Type: domain.OutcomeFailed,
			Payload: map[string]any{
				"intent_id": intent.ID,
				"status":    string(domain.IntentStatusCancelled),
			},
		})
	}
	return r.intents.GetByID(ctx, intentID)
}

// EnqueueRetry re-drives a callback whose synchronous processing window
// ran out. The gateway already got its 200; this path owns the callback
// until it commits or staff take over.
func (r *Reconciler) EnqueueRetry(cb domain.GatewayCallback) {
	go func() {
		delay := r.retryBase
		for attempt := 1; attempt <= r.maxAttempts; attempt++ {
			time.Sleep(delay)
			delay *= 2

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, err := r.HandleCallback(ctx, cb)
			cancel()
			if err == nil || errors.Is(err, domain.ErrNotFound) {
				return
			}
			log.Printf("[RECONCILE] async retry %d for order %d failed: %v", attempt, cb.OrderCode, err)
		}

		r.flag(domain.Discrepancy{
			OrderCode: cb.OrderCode,
			Kind:      domain.DiscrepancyAllocationFailure,
			Amount:    cb.Amount,
			Detail:    fmt.Sprintf("async retries exhausted for callback %s", cb.TransactionCode),
		})
	}()
}

func outcomeFor(status domain.IntentStatus, result *domain.WebhookResult) domain.Outcome {
	payload := map[string]any{
		"intent_id":        result.IntentID,
		"status":           string(status),
		"applied_amount":   result.AppliedAmount,
		"unapplied_credit": result.UnappliedCredit,
	}
	switch status {
	case domain.IntentStatusCompleted:
		return domain.Outcome{Type: domain.OutcomeSuccess, Payload: payload}
	case domain.IntentStatusExpired:
		return domain.Outcome{Type: domain.OutcomeExpired, Payload: payload}
	default:
		return domain.Outcome{Type: domain.OutcomeFailed, Payload: payload}
	}
}

func (r *Reconciler) flag(d domain.Discrepancy) {
	if r.flags == nil {
		return
	}
	d.CreatedAt = r.now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.flags.Insert(ctx, d); err != nil {
		log.Printf("[RECONCILE] failed to record %s discrepancy for order %d: %v", d.Kind, d.OrderCode, err)
	}
}

func webhookCacheKey(orderCode int64, transactionCode string) string {
	return fmt.Sprintf("webhook_result:%d:%s", orderCode, transactionCode)
}

func (r *Reconciler) cachedResult(ctx context.Context, cb domain.GatewayCallback) *domain.WebhookResult {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, webhookCacheKey(cb.OrderCode, cb.TransactionCode))
	if err != nil || raw == "" {
		return nil
	}
	var res domain.WebhookResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil
	}
	res.Duplicate = true
	return &res
}

func (r *Reconciler) cacheResult(ctx context.Context, res *domain.WebhookResult) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, webhookCacheKey(res.OrderCode, res.TransactionCode), string(raw), webhookResultTTL)
}

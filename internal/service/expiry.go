package service

import (
	"context"
	"log"
	"sync"
	"time"
)

// ExpiredLister exposes the durable side of expiry: intents whose
// deadline passed while no timer was around to see it.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Expirer is implemented by the Reconciler.
type Expirer interface {
	Expire(ctx context.Context, intentID string) error
}

const sweepBatchSize = 100

// ExpiryScheduler forces intents to expired when no confirmation
// arrives in time. In-process timers give low latency but die with the
// process; the periodic sweep over persisted expires_at values is the
// mechanism that actually guarantees expiry.
type ExpiryScheduler struct {
	expirer  Expirer
	store    ExpiredLister
	interval time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	now    func() time.Time
}

func NewExpiryScheduler(expirer Expirer, store ExpiredLister, interval time.Duration) *ExpiryScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryScheduler{
		expirer:  expirer,
		store:    store,
		interval: interval,
		timers:   make(map[string]*time.Timer),
		now:      time.Now,
	}
}

// Arm schedules a one-shot timer for the intent's deadline. Re-arming an
// intent replaces its previous timer.
func (s *ExpiryScheduler) Arm(intentID string, at time.Time) {
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[intentID]; ok {
		old.Stop()
	}
	s.timers[intentID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, intentID)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.expirer.Expire(ctx, intentID); err != nil {
			// The sweep will pick it up again.
			log.Printf("[EXPIRY] timer expire of intent %s failed: %v", intentID, err)
		}
	})
}

// Run drives the periodic sweep until ctx is cancelled. One pass also
// runs immediately so a restarted process catches up on deadlines that
// passed while it was down.
func (s *ExpiryScheduler) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopTimers()
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpiryScheduler) sweep(ctx context.Context) {
	ids, err := s.store.ListExpired(ctx, s.now(), sweepBatchSize)
	if err != nil {
		log.Printf("[EXPIRY] sweep query failed: %v", err)
		return
	}
	for _, id := range ids {
		if err := s.expirer.Expire(ctx, id); err != nil {
			log.Printf("[EXPIRY] sweep expire of intent %s failed: %v", id, err)
		}
	}
}

func (s *ExpiryScheduler) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

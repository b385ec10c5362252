package raffle

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/services/vrf"
	"github.com/R3E-Network/raffle_service/internal/app/system"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// FulfillmentPoller drives fulfillment for providers that answer status
// polls instead of pushing a callback. It also retries fulfillment after a
// payout failure, since the round stays calculating and the random word
// remains available from the provider. There is no give-up deadline: a round
// waits as long as it takes for the provider to answer.
type FulfillmentPoller struct {
	service  *Service
	checker  vrf.StatusChecker
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*FulfillmentPoller)(nil)

// NewFulfillmentPoller constructs a poller over the given status checker.
func NewFulfillmentPoller(service *Service, checker vrf.StatusChecker, log *logger.Logger) *FulfillmentPoller {
	if log == nil {
		log = logger.NewDefault("raffle-fulfiller")
	}
	return &FulfillmentPoller{
		service:     service,
		checker:     checker,
		interval:    5 * time.Second,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

// WithInterval overrides the poll interval.
func (p *FulfillmentPoller) WithInterval(interval time.Duration) {
	if interval > 0 {
		p.mu.Lock()
		p.interval = interval
		p.mu.Unlock()
	}
}

func (p *FulfillmentPoller) Name() string { return "raffle-fulfiller" }

func (p *FulfillmentPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("fulfillment poller started")
	return nil
}

func (p *FulfillmentPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *FulfillmentPoller) tick(ctx context.Context) {
	round, err := p.service.CurrentRound(ctx)
	if err != nil {
		p.log.WithError(err).Warn("current round lookup failed")
		return
	}
	if round.State != domain.RoundStateCalculating || round.RequestID == "" {
		return
	}
	if !p.shouldAttempt(round.RequestID, time.Now()) {
		return
	}

	done, word, retryAfter, err := p.checker.CheckRequest(ctx, round.RequestID)
	if err != nil {
		p.log.WithError(err).Warnf("status check for request %s failed", round.RequestID)
		p.scheduleNext(round.RequestID, retryAfter)
		return
	}
	if !done {
		p.scheduleNext(round.RequestID, retryAfter)
		return
	}

	if _, err := p.service.Fulfill(ctx, round.RequestID, word); err != nil {
		if errors.Is(err, ErrPayoutFailed) {
			// Leave the schedule clear so the next tick retries promptly.
			p.log.WithError(err).Warnf("fulfillment of request %s deferred", round.RequestID)
			p.clearSchedule(round.RequestID)
			return
		}
		p.log.WithError(err).Warnf("fulfillment of request %s failed", round.RequestID)
		p.scheduleNext(round.RequestID, retryAfter)
		return
	}

	p.log.Infof("request %s fulfilled", round.RequestID)
	p.clearSchedule(round.RequestID)
}

func (p *FulfillmentPoller) shouldAttempt(id string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (p *FulfillmentPoller) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = p.interval
	}
	p.mu.Lock()
	p.nextAttempt[id] = time.Now().Add(after)
	p.mu.Unlock()
}

func (p *FulfillmentPoller) clearSchedule(id string) {
	p.mu.Lock()
	delete(p.nextAttempt, id)
	p.mu.Unlock()
}

package raffle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/system"
	"github.com/R3E-Network/raffle_service/pkg/logger"
	"github.com/robfig/cron/v3"
)

// UpkeepPoller periodically evaluates the upkeep conditions and requests a
// draw when the round is ready. It replaces an external keeper network: the
// poller is merely a caller, all safety checks live in the service.
type UpkeepPoller struct {
	service  *Service
	interval time.Duration
	schedule cron.Schedule
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*UpkeepPoller)(nil)

// NewUpkeepPoller constructs a poller that checks on a fixed interval.
func NewUpkeepPoller(service *Service, interval time.Duration, log *logger.Logger) *UpkeepPoller {
	if log == nil {
		log = logger.NewDefault("raffle-upkeep")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &UpkeepPoller{
		service:  service,
		interval: interval,
		log:      log,
	}
}

// WithCronSpec switches the poller to a cron cadence. The spec uses the
// standard five-field format; an invalid spec is rejected and the fixed
// interval stays in effect.
func (p *UpkeepPoller) WithCronSpec(spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.schedule = schedule
	p.mu.Unlock()
	return nil
}

func (p *UpkeepPoller) Name() string { return "raffle-upkeep" }

func (p *UpkeepPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	schedule := p.schedule

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			timer := time.NewTimer(p.nextWait(schedule))
			select {
			case <-runCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("upkeep poller started")
	return nil
}

func (p *UpkeepPoller) Stop(ctx context.Context) error {
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

func (p *UpkeepPoller) nextWait(schedule cron.Schedule) time.Duration {
	if schedule == nil {
		return p.interval
	}
	wait := time.Until(schedule.Next(time.Now()))
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}

func (p *UpkeepPoller) tick(ctx context.Context) {
	upkeep, err := p.service.Evaluate(ctx)
	if err != nil {
		p.log.WithError(err).Warn("upkeep evaluation failed")
		return
	}
	if !upkeep.Ready() {
		p.log.WithField("pot", upkeep.Pot).
			WithField("players", upkeep.PlayerCount).
			WithField("state", upkeep.State).
			WithField("interval_elapsed", upkeep.IntervalElapsed).
			Debug("upkeep not ready")
		return
	}

	round, err := p.service.RequestDraw(ctx)
	if err != nil {
		// A concurrent caller may have won the race; that is not a failure.
		var upkeepErr *UpkeepError
		if errors.As(err, &upkeepErr) {
			p.log.Debug("draw already handled by a concurrent caller")
			return
		}
		p.log.WithError(err).Warn("draw request failed")
		return
	}
	p.log.WithField("round", round.Number).Info("upkeep performed")
}

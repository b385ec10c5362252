// Package raffle implements the raffle lifecycle: entry gating, upkeep
// evaluation, and the request/fulfill winner resolution protocol.
package raffle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/events"
	"github.com/R3E-Network/raffle_service/internal/app/metrics"
	"github.com/R3E-Network/raffle_service/internal/app/services/vrf"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Errors
var (
	ErrInsufficientPayment = errors.New("payment below entrance fee")
	ErrRoundNotOpen        = errors.New("round is not open")
	ErrUpkeepNotReady      = errors.New("upkeep not ready")
	ErrRoundNotCalculating = errors.New("round is not calculating")
	ErrUnknownRequest      = errors.New("unknown randomness request")
	// ErrNoPlayers signals a broken invariant: a calculating round must have
	// a non-empty roster. It is fatal, not recoverable.
	ErrNoPlayers = errors.New("calculating round has no players")
	// ErrPayoutFailed wraps a payout transfer failure. The round stays
	// calculating and the fulfillment can be retried.
	ErrPayoutFailed = errors.New("payout transfer failed")
)

// UpkeepError reports a draw request that found the upkeep conditions
// unmet, with the diagnostic snapshot the caller needs to decide whether to
// retry.
type UpkeepError struct {
	Upkeep domain.Upkeep
}

func (e *UpkeepError) Error() string {
	return fmt.Sprintf("upkeep not ready: pot=%d players=%d state=%s interval_elapsed=%t",
		e.Upkeep.Pot, e.Upkeep.PlayerCount, e.Upkeep.State, e.Upkeep.IntervalElapsed)
}

func (e *UpkeepError) Unwrap() error { return ErrUpkeepNotReady }

// Config holds the immutable raffle parameters.
type Config struct {
	EntranceFee   int64             // Minimum payment per entry
	RoundInterval time.Duration     // Minimum round age before a draw
	Request       vrf.RequestParams // Provider parameters; NumWords is forced to 1
}

// Service owns the single live round. Mutating operations (Enter,
// RequestDraw, Fulfill) are serialized by an internal mutex so the round
// state itself remains the only gate callers observe; Evaluate and the read
// accessors take no lock and are safe to call concurrently.
type Service struct {
	store    storage.RaffleStore
	provider vrf.Provider
	events   events.Publisher
	cfg      Config
	log      *logger.Logger
	now      func() time.Time

	mu sync.Mutex
}

// New constructs a raffle service.
func New(store storage.RaffleStore, provider vrf.Provider, cfg Config, log *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("randomness provider is required")
	}
	if cfg.EntranceFee <= 0 {
		return nil, fmt.Errorf("entrance fee must be positive")
	}
	if cfg.RoundInterval <= 0 {
		return nil, fmt.Errorf("round interval must be positive")
	}
	if log == nil {
		log = logger.NewDefault("raffle")
	}
	cfg.Request.NumWords = 1
	return &Service{
		store:    store,
		provider: provider,
		events:   events.NopPublisher{},
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// WithPublisher sets the notification publisher.
func (s *Service) WithPublisher(p events.Publisher) {
	if p != nil {
		s.events = p
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// EnsureRound opens round 1 if no round exists yet. Subsequent rounds are
// opened automatically as part of fulfillment.
func (s *Service) EnsureRound(ctx context.Context) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetCurrentRound(ctx)
	if err == nil {
		return round, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.Round{}, fmt.Errorf("get current round: %w", err)
	}

	created, err := s.store.CreateRound(ctx, domain.Round{
		Number:   1,
		State:    domain.RoundStateOpen,
		OpenedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Round{}, fmt.Errorf("create round: %w", err)
	}

	s.log.WithField("round", created.Number).Info("raffle round opened")
	return created, nil
}

// Enter records one ticket for the player. On failure no state changes.
func (s *Service) Enter(ctx context.Context, player string, payment int64) (domain.Entry, error) {
	player = strings.TrimSpace(player)
	if player == "" {
		return domain.Entry{}, fmt.Errorf("player is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetCurrentRound(ctx)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("get current round: %w", err)
	}
	if payment < s.cfg.EntranceFee {
		return domain.Entry{}, fmt.Errorf("%w: got %d, need %d", ErrInsufficientPayment, payment, s.cfg.EntranceFee)
	}
	if round.State != domain.RoundStateOpen {
		return domain.Entry{}, fmt.Errorf("%w: state is %s", ErrRoundNotOpen, round.State)
	}

	entry, round, err := s.store.AppendEntry(ctx, domain.Entry{
		RoundID: round.ID,
		Player:  player,
		Amount:  payment,
	})
	if err != nil {
		return domain.Entry{}, fmt.Errorf("append entry: %w", err)
	}

	s.log.WithField("player", player).
		WithField("round", round.Number).
		WithField("pot", round.Pot).
		Info("raffle entry accepted")
	metrics.RecordEntry(payment)
	metrics.SetPot(round.Pot)
	s.events.Publish(events.Event{Type: events.TypeEntryAccepted, Data: map[string]any{
		"player": player,
		"round":  round.Number,
		"pot":    round.Pot,
	}})

	return entry, nil
}

// Evaluate returns the upkeep readiness snapshot for the current round. It
// is read-only and may be polled at any cadence.
func (s *Service) Evaluate(ctx context.Context) (domain.Upkeep, error) {
	round, err := s.store.GetCurrentRound(ctx)
	if err != nil {
		return domain.Upkeep{}, fmt.Errorf("get current round: %w", err)
	}
	return s.upkeepFor(round), nil
}

func (s *Service) upkeepFor(round domain.Round) domain.Upkeep {
	now := s.now().UTC()
	return domain.Upkeep{
		IntervalElapsed: now.Sub(round.OpenedAt) > s.cfg.RoundInterval,
		IsOpen:          round.State == domain.RoundStateOpen,
		HasFunds:        round.Pot > 0,
		HasPlayers:      round.EntryCount > 0,
		Pot:             round.Pot,
		PlayerCount:     int(round.EntryCount),
		State:           round.State,
		CheckedAt:       now,
	}
}

// RequestDraw closes the entry window and issues exactly one randomness
// request for the current round. It re-validates readiness internally, so a
// caller racing a concurrent draw gets an UpkeepError rather than a second
// outstanding request. The call returns as soon as the provider accepts the
// request; the random word arrives later through Fulfill.
func (s *Service) RequestDraw(ctx context.Context) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetCurrentRound(ctx)
	if err != nil {
		return domain.Round{}, fmt.Errorf("get current round: %w", err)
	}
	if upkeep := s.upkeepFor(round); !upkeep.Ready() {
		return domain.Round{}, &UpkeepError{Upkeep: upkeep}
	}

	// Close the entry window before the provider call so no entry can race
	// the in-flight request.
	round.State = domain.RoundStateCalculating
	round, err = s.store.UpdateRound(ctx, round)
	if err != nil {
		return domain.Round{}, fmt.Errorf("close round: %w", err)
	}

	requestID, err := s.provider.RequestRandomWords(ctx, s.cfg.Request)
	if err != nil {
		// The provider rejected the request; reopen the round so the
		// operation has no lasting effect.
		round.State = domain.RoundStateOpen
		round.RequestID = ""
		if _, reopenErr := s.store.UpdateRound(ctx, round); reopenErr != nil {
			s.log.WithError(reopenErr).WithField("round", round.Number).Error("reopen round after provider failure")
		}
		return domain.Round{}, fmt.Errorf("request random words: %w", err)
	}

	round.RequestID = requestID
	round, err = s.store.UpdateRound(ctx, round)
	if err != nil {
		return domain.Round{}, fmt.Errorf("record request id: %w", err)
	}

	s.log.WithField("round", round.Number).
		WithField("request_id", requestID).
		WithField("pot", round.Pot).
		Info("draw requested")
	metrics.RecordDrawRequested()
	s.events.Publish(events.Event{Type: events.TypeDrawRequested, Data: map[string]any{
		"round":      round.Number,
		"request_id": requestID,
	}})

	return round, nil
}

// Fulfill consumes the provider's asynchronous fulfillment: it selects the
// winner as randomWord mod roster length, pays the full pot, and opens the
// next round, all as one atomic transition. It is the only path by which
// the round returns to open. On payout failure the transition rolls back
// and the round stays calculating so Fulfill can be retried with the same
// request ID.
func (s *Service) Fulfill(ctx context.Context, requestID string, randomWord uint64) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.store.GetCurrentRound(ctx)
	if err != nil {
		return domain.Round{}, fmt.Errorf("get current round: %w", err)
	}
	if round.State != domain.RoundStateCalculating {
		return domain.Round{}, fmt.Errorf("%w: state is %s", ErrRoundNotCalculating, round.State)
	}
	if requestID == "" || requestID != round.RequestID {
		return domain.Round{}, fmt.Errorf("%w: %q", ErrUnknownRequest, requestID)
	}

	roster, err := s.store.ListEntries(ctx, round.ID)
	if err != nil {
		return domain.Round{}, fmt.Errorf("list entries: %w", err)
	}
	if len(roster) == 0 {
		s.log.WithField("round", round.Number).Error("invariant violation: calculating round with empty roster")
		return domain.Round{}, fmt.Errorf("round %d: %w", round.Number, ErrNoPlayers)
	}

	winnerIndex := int(randomWord % uint64(len(roster)))
	winner := roster[winnerIndex].Player

	resolved, next, err := s.store.ResolveRound(ctx, round.ID, winnerIndex, winner, randomWord, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrInsufficientEscrow) {
			s.log.WithError(err).WithField("round", round.Number).Warn("payout failed; round remains calculating")
			return domain.Round{}, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
		}
		return domain.Round{}, fmt.Errorf("resolve round: %w", err)
	}

	s.log.WithField("round", resolved.Number).
		WithField("winner", winner).
		WithField("payout", resolved.Pot).
		WithField("next_round", next.Number).
		Info("winner selected and paid")
	metrics.RecordRoundResolved(resolved.Pot)
	metrics.SetPot(0)
	s.events.Publish(events.Event{Type: events.TypeWinnerSelected, Data: map[string]any{
		"round":  resolved.Number,
		"winner": winner,
		"payout": resolved.Pot,
	}})

	return resolved, nil
}

// Read accessors -------------------------------------------------------------

// EntranceFee returns the configured minimum entry payment.
func (s *Service) EntranceFee() int64 { return s.cfg.EntranceFee }

// RoundInterval returns the configured minimum round duration.
func (s *Service) RoundInterval() time.Duration { return s.cfg.RoundInterval }

// CurrentRound returns the live round.
func (s *Service) CurrentRound(ctx context.Context) (domain.Round, error) {
	return s.store.GetCurrentRound(ctx)
}

// Players returns the current roster in entry order, one element per ticket.
func (s *Service) Players(ctx context.Context) ([]string, error) {
	round, err := s.store.GetCurrentRound(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, round.ID)
	if err != nil {
		return nil, err
	}
	players := make([]string, len(entries))
	for i, entry := range entries {
		players[i] = entry.Player
	}
	return players, nil
}

// PlayerAt returns the roster entry at the given index.
func (s *Service) PlayerAt(ctx context.Context, index int) (string, error) {
	players, err := s.Players(ctx)
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(players) {
		return "", fmt.Errorf("player index %d out of range [0,%d): %w", index, len(players), storage.ErrNotFound)
	}
	return players[index], nil
}

// LastWinner returns the most recently paid winner, or an empty string
// before the first resolution. The value is informational and persists
// across rounds.
func (s *Service) LastWinner(ctx context.Context) (string, error) {
	round, err := s.store.GetCurrentRound(ctx)
	if err != nil {
		return "", err
	}
	if round.Number <= 1 {
		return "", nil
	}
	previous, err := s.store.GetRoundByNumber(ctx, round.Number-1)
	if err != nil {
		return "", err
	}
	return previous.Winner, nil
}

// Rounds lists round history, newest first.
func (s *Service) Rounds(ctx context.Context, limit int) ([]domain.Round, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListRounds(ctx, limit)
}

// RoundByNumber returns a specific round.
func (s *Service) RoundByNumber(ctx context.Context, number int64) (domain.Round, error) {
	return s.store.GetRoundByNumber(ctx, number)
}

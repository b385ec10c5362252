package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	rounds       map[string]raffle.Round
	roundsByNum  map[int64]string
	entries      map[string][]raffle.Entry
	accounts     map[string]ledger.Account // keyed by owner
	transfers    []ledger.Transfer
	currentRound string
}

var _ storage.RaffleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:      1,
		rounds:      make(map[string]raffle.Round),
		roundsByNum: make(map[int64]string),
		entries:     make(map[string][]raffle.Entry),
		accounts:    make(map[string]ledger.Account),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// RaffleStore implementation -------------------------------------------------

func (s *Store) CreateRound(_ context.Context, round raffle.Round) (raffle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round.Live() && s.currentRound != "" {
		return raffle.Round{}, fmt.Errorf("round %s is still live", s.currentRound)
	}
	if round.ID == "" {
		round.ID = s.nextIDLocked()
	} else if _, exists := s.rounds[round.ID]; exists {
		return raffle.Round{}, fmt.Errorf("round %s already exists", round.ID)
	}
	if _, exists := s.roundsByNum[round.Number]; exists {
		return raffle.Round{}, fmt.Errorf("round number %d already exists", round.Number)
	}

	now := time.Now().UTC()
	round.CreatedAt = now
	round.UpdatedAt = now

	s.rounds[round.ID] = round
	s.roundsByNum[round.Number] = round.ID
	if round.Live() {
		s.currentRound = round.ID
	}
	return round, nil
}

func (s *Store) UpdateRound(_ context.Context, round raffle.Round) (raffle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateRoundLocked(round)
}

func (s *Store) updateRoundLocked(round raffle.Round) (raffle.Round, error) {
	original, ok := s.rounds[round.ID]
	if !ok {
		return raffle.Round{}, fmt.Errorf("round %s: %w", round.ID, storage.ErrNotFound)
	}

	round.Number = original.Number
	round.CreatedAt = original.CreatedAt
	round.UpdatedAt = time.Now().UTC()

	s.rounds[round.ID] = round
	if !round.Live() && s.currentRound == round.ID {
		s.currentRound = ""
	}
	return round, nil
}

func (s *Store) GetRound(_ context.Context, id string) (raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, ok := s.rounds[id]
	if !ok {
		return raffle.Round{}, fmt.Errorf("round %s: %w", id, storage.ErrNotFound)
	}
	return round, nil
}

func (s *Store) GetRoundByNumber(_ context.Context, number int64) (raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.roundsByNum[number]
	if !ok {
		return raffle.Round{}, fmt.Errorf("round number %d: %w", number, storage.ErrNotFound)
	}
	return s.rounds[id], nil
}

func (s *Store) GetCurrentRound(_ context.Context) (raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentRound == "" {
		return raffle.Round{}, fmt.Errorf("live round: %w", storage.ErrNotFound)
	}
	return s.rounds[s.currentRound], nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest int64
	for number := range s.roundsByNum {
		if number > highest {
			highest = number
		}
	}

	result := make([]raffle.Round, 0, len(s.rounds))
	for number := highest; number >= 1; number-- {
		id, ok := s.roundsByNum[number]
		if !ok {
			continue
		}
		result = append(result, s.rounds[id])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) AppendEntry(_ context.Context, entry raffle.Entry) (raffle.Entry, raffle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[entry.RoundID]
	if !ok {
		return raffle.Entry{}, raffle.Round{}, fmt.Errorf("round %s: %w", entry.RoundID, storage.ErrNotFound)
	}

	entry.ID = s.nextIDLocked()
	entry.Position = len(s.entries[round.ID])
	entry.CreatedAt = time.Now().UTC()

	s.entries[round.ID] = append(s.entries[round.ID], entry)

	round.Pot += entry.Amount
	round.EntryCount++
	round.UpdatedAt = entry.CreatedAt
	s.rounds[round.ID] = round

	s.creditLocked(ledger.EscrowOwner, entry.Amount)
	s.recordTransferLocked("", ledger.EscrowOwner, entry.Amount, ledger.TransferKindEntry, entry.ID)

	return entry, round, nil
}

func (s *Store) ListEntries(_ context.Context, roundID string) ([]raffle.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.rounds[roundID]; !ok {
		return nil, fmt.Errorf("round %s: %w", roundID, storage.ErrNotFound)
	}
	list := s.entries[roundID]
	result := make([]raffle.Entry, len(list))
	copy(result, list)
	return result, nil
}

func (s *Store) ResolveRound(_ context.Context, roundID string, winnerIndex int, winner string, randomWord uint64, resolvedAt time.Time) (raffle.Round, raffle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, ok := s.rounds[roundID]
	if !ok {
		return raffle.Round{}, raffle.Round{}, fmt.Errorf("round %s: %w", roundID, storage.ErrNotFound)
	}
	if round.State != raffle.RoundStateCalculating {
		return raffle.Round{}, raffle.Round{}, fmt.Errorf("round %s is %s, not calculating", roundID, round.State)
	}

	// Validate everything before the first mutation so a failure leaves the
	// round calculating with no partial state.
	escrow := s.accounts[ledger.EscrowOwner]
	if escrow.Balance < round.Pot {
		return raffle.Round{}, raffle.Round{}, fmt.Errorf("resolve round %s: %w", roundID, storage.ErrInsufficientEscrow)
	}

	at := resolvedAt.UTC()
	round.State = raffle.RoundStateResolved
	round.Winner = winner
	round.WinnerIndex = winnerIndex
	round.RandomWord = randomWord
	round.ResolvedAt = at
	round.UpdatedAt = at
	s.rounds[round.ID] = round
	s.currentRound = ""

	s.debitLocked(ledger.EscrowOwner, round.Pot)
	s.creditLocked(winner, round.Pot)
	s.recordTransferLocked(ledger.EscrowOwner, winner, round.Pot, ledger.TransferKindPayout, round.ID)

	next := raffle.Round{
		ID:       s.nextIDLocked(),
		Number:   round.Number + 1,
		State:    raffle.RoundStateOpen,
		OpenedAt: at,
	}
	next.CreatedAt = at
	next.UpdatedAt = at
	s.rounds[next.ID] = next
	s.roundsByNum[next.Number] = next.ID
	s.currentRound = next.ID

	return round, next, nil
}

// LedgerStore implementation -------------------------------------------------

func (s *Store) GetLedgerAccount(_ context.Context, owner string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[owner]
	if !ok {
		return ledger.Account{}, fmt.Errorf("ledger account %s: %w", owner, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) ListLedgerAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	return result, nil
}

func (s *Store) ListTransfers(_ context.Context, owner string, limit int) ([]ledger.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Transfer, 0, len(s.transfers))
	for i := len(s.transfers) - 1; i >= 0; i-- {
		tr := s.transfers[i]
		if owner != "" && tr.From != owner && tr.To != owner {
			continue
		}
		result = append(result, tr)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) Deposit(_ context.Context, owner string, amount int64, reference string) (ledger.Account, ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.creditLocked(owner, amount)
	tr := s.recordTransferLocked("", owner, amount, ledger.TransferKindDeposit, reference)
	return acct, tr, nil
}

func (s *Store) WithdrawFunds(_ context.Context, owner string, amount int64, reference string) (ledger.Account, ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[owner]
	if !ok {
		return ledger.Account{}, ledger.Transfer{}, fmt.Errorf("ledger account %s: %w", owner, storage.ErrNotFound)
	}
	if acct.Balance < amount {
		return ledger.Account{}, ledger.Transfer{}, fmt.Errorf("withdraw %d from %s: %w", amount, owner, storage.ErrInsufficientBalance)
	}

	acct = s.debitLocked(owner, amount)
	tr := s.recordTransferLocked(owner, "", amount, ledger.TransferKindWithdrawal, reference)
	return acct, tr, nil
}

// helpers --------------------------------------------------------------------

func (s *Store) creditLocked(owner string, amount int64) ledger.Account {
	now := time.Now().UTC()
	acct, ok := s.accounts[owner]
	if !ok {
		acct = ledger.Account{ID: s.nextIDLocked(), Owner: owner, CreatedAt: now}
	}
	acct.Balance += amount
	acct.UpdatedAt = now
	s.accounts[owner] = acct
	return acct
}

func (s *Store) debitLocked(owner string, amount int64) ledger.Account {
	acct := s.accounts[owner]
	acct.Balance -= amount
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[owner] = acct
	return acct
}

func (s *Store) recordTransferLocked(from, to string, amount int64, kind ledger.TransferKind, reference string) ledger.Transfer {
	tr := ledger.Transfer{
		ID:        s.nextIDLocked(),
		From:      from,
		To:        to,
		Amount:    amount,
		Kind:      kind,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	s.transfers = append(s.transfers, tr)
	return tr
}

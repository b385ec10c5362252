// Package ledger exposes the custody accounts behind the raffle: the escrow
// account that holds live pots and the per-player accounts payouts land in.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// ErrInvalidAmount is returned for non-positive deposit or withdrawal amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

const defaultTransferLimit = 50

// Service wraps the ledger store with validation and logging.
type Service struct {
	store storage.LedgerStore
	log   *logger.Logger
}

// New constructs a ledger service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, log: log}
}

// Account returns the account for the given owner.
func (s *Service) Account(ctx context.Context, owner string) (domain.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Account{}, fmt.Errorf("owner is required")
	}
	return s.store.GetLedgerAccount(ctx, owner)
}

// Escrow returns the escrow account holding live round pots.
func (s *Service) Escrow(ctx context.Context) (domain.Account, error) {
	account, err := s.store.GetLedgerAccount(ctx, domain.EscrowOwner)
	if errors.Is(err, storage.ErrNotFound) {
		// No entries yet; report an empty escrow rather than an error.
		return domain.Account{Owner: domain.EscrowOwner}, nil
	}
	return account, err
}

// Accounts lists all ledger accounts.
func (s *Service) Accounts(ctx context.Context) ([]domain.Account, error) {
	return s.store.ListLedgerAccounts(ctx)
}

// Transfers lists transfers touching the owner, newest first. An empty owner
// lists all transfers.
func (s *Service) Transfers(ctx context.Context, owner string, limit int) ([]domain.Transfer, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultTransferLimit
	}
	return s.store.ListTransfers(ctx, strings.TrimSpace(owner), limit)
}

// Deposit credits the owner's account, creating it if absent.
func (s *Service) Deposit(ctx context.Context, owner string, amount int64, reference string) (domain.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Account{}, fmt.Errorf("owner is required")
	}
	if amount <= 0 {
		return domain.Account{}, ErrInvalidAmount
	}

	account, transfer, err := s.store.Deposit(ctx, owner, amount, strings.TrimSpace(reference))
	if err != nil {
		return domain.Account{}, fmt.Errorf("deposit: %w", err)
	}

	s.log.WithField("owner", owner).
		WithField("amount", amount).
		WithField("transfer_id", transfer.ID).
		Info("ledger deposit")
	return account, nil
}

// Withdraw debits the owner's account for external settlement.
func (s *Service) Withdraw(ctx context.Context, owner string, amount int64, reference string) (domain.Account, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return domain.Account{}, fmt.Errorf("owner is required")
	}
	if amount <= 0 {
		return domain.Account{}, ErrInvalidAmount
	}

	account, transfer, err := s.store.WithdrawFunds(ctx, owner, amount, strings.TrimSpace(reference))
	if err != nil {
		return domain.Account{}, fmt.Errorf("withdraw: %w", err)
	}

	s.log.WithField("owner", owner).
		WithField("amount", amount).
		WithField("transfer_id", transfer.ID).
		Info("ledger withdrawal")
	return account, nil
}

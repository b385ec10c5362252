package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientEscrow is returned by ResolveRound when the escrow account
// cannot cover the pot. The resolution must leave no partial state behind.
var ErrInsufficientEscrow = errors.New("escrow balance below pot")

// ErrInsufficientBalance is returned when a ledger debit exceeds the
// account balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// RaffleStore persists rounds and entries. Mutating operations are atomic:
// either every listed effect is applied or none is.
type RaffleStore interface {
	CreateRound(ctx context.Context, round raffle.Round) (raffle.Round, error)
	UpdateRound(ctx context.Context, round raffle.Round) (raffle.Round, error)
	GetRound(ctx context.Context, id string) (raffle.Round, error)
	GetRoundByNumber(ctx context.Context, number int64) (raffle.Round, error)
	// GetCurrentRound returns the single live (open or calculating) round.
	GetCurrentRound(ctx context.Context) (raffle.Round, error)
	// ListRounds returns rounds in descending round-number order.
	ListRounds(ctx context.Context, limit int) ([]raffle.Round, error)

	// AppendEntry appends the entry to the round roster, adds its amount to
	// the round pot, and credits the escrow account, as one atomic step.
	AppendEntry(ctx context.Context, entry raffle.Entry) (raffle.Entry, raffle.Round, error)
	// ListEntries returns a round's entries in roster (insertion) order.
	ListEntries(ctx context.Context, roundID string) ([]raffle.Entry, error)

	// ResolveRound atomically records the winner on the calculating round,
	// marks it resolved, pays the full pot from escrow to the winner's
	// ledger account, and opens the successor round. On any failure
	// (including ErrInsufficientEscrow) no effect is applied and the round
	// remains calculating so the resolution can be retried.
	ResolveRound(ctx context.Context, roundID string, winnerIndex int, winner string, randomWord uint64, resolvedAt time.Time) (resolved raffle.Round, next raffle.Round, err error)
}

// LedgerStore persists ledger accounts and transfer records.
type LedgerStore interface {
	GetLedgerAccount(ctx context.Context, owner string) (ledger.Account, error)
	ListLedgerAccounts(ctx context.Context) ([]ledger.Account, error)
	// ListTransfers returns transfers touching the owner, newest first.
	// An empty owner lists all transfers.
	ListTransfers(ctx context.Context, owner string, limit int) ([]ledger.Transfer, error)

	// Deposit credits the owner's account, creating it if absent.
	Deposit(ctx context.Context, owner string, amount int64, reference string) (ledger.Account, ledger.Transfer, error)
	// WithdrawFunds debits the owner's account for external settlement.
	WithdrawFunds(ctx context.Context, owner string, amount int64, reference string) (ledger.Account, ledger.Transfer, error)
}

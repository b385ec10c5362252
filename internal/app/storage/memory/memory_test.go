package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
)

func openRound(t *testing.T, store *Store) raffle.Round {
	t.Helper()
	round, err := store.CreateRound(context.Background(), raffle.Round{
		Number:   1,
		State:    raffle.RoundStateOpen,
		OpenedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateRound: %v", err)
	}
	return round
}

func TestCreateRoundRejectsSecondLiveRound(t *testing.T) {
	store := New()
	openRound(t, store)

	_, err := store.CreateRound(context.Background(), raffle.Round{Number: 2, State: raffle.RoundStateOpen})
	if err == nil {
		t.Fatalf("expected second live round to be rejected")
	}
}

func TestAppendEntryCreditsEscrow(t *testing.T) {
	store := New()
	round := openRound(t, store)
	ctx := context.Background()

	entry, updated, err := store.AppendEntry(ctx, raffle.Entry{RoundID: round.ID, Player: "alice", Amount: 100})
	if err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if entry.Position != 0 {
		t.Fatalf("first entry position = %d", entry.Position)
	}
	if updated.Pot != 100 || updated.EntryCount != 1 {
		t.Fatalf("round not updated: %+v", updated)
	}

	escrow, err := store.GetLedgerAccount(ctx, ledger.EscrowOwner)
	if err != nil {
		t.Fatalf("escrow account: %v", err)
	}
	if escrow.Balance != 100 {
		t.Fatalf("escrow balance = %d", escrow.Balance)
	}

	transfers, err := store.ListTransfers(ctx, ledger.EscrowOwner, 0)
	if err != nil {
		t.Fatalf("ListTransfers: %v", err)
	}
	if len(transfers) != 1 || transfers[0].Kind != ledger.TransferKindEntry {
		t.Fatalf("unexpected transfers: %+v", transfers)
	}
}

func TestResolveRoundIsAtomicOnEscrowShortfall(t *testing.T) {
	store := New()
	round := openRound(t, store)
	ctx := context.Background()

	if _, _, err := store.AppendEntry(ctx, raffle.Entry{RoundID: round.ID, Player: "alice", Amount: 100}); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	round, err := store.GetRound(ctx, round.ID)
	if err != nil {
		t.Fatalf("GetRound: %v", err)
	}
	round.State = raffle.RoundStateCalculating
	round.RequestID = "req-1"
	if _, err := store.UpdateRound(ctx, round); err != nil {
		t.Fatalf("UpdateRound: %v", err)
	}
	if _, _, err := store.WithdrawFunds(ctx, ledger.EscrowOwner, 100, "drain"); err != nil {
		t.Fatalf("WithdrawFunds: %v", err)
	}

	_, _, err = store.ResolveRound(ctx, round.ID, 0, "alice", 7, time.Now())
	if !errors.Is(err, storage.ErrInsufficientEscrow) {
		t.Fatalf("expected ErrInsufficientEscrow, got %v", err)
	}

	// Nothing changed: the round is still the live calculating round, no
	// winner account exists, and no payout transfer was recorded.
	current, err := store.GetCurrentRound(ctx)
	if err != nil {
		t.Fatalf("GetCurrentRound: %v", err)
	}
	if current.ID != round.ID || current.State != raffle.RoundStateCalculating || current.Winner != "" {
		t.Fatalf("partial state after failed resolve: %+v", current)
	}
	if _, err := store.GetLedgerAccount(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("winner account created by failed resolve: %v", err)
	}
	if _, err := store.GetRoundByNumber(ctx, 2); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("successor round created by failed resolve: %v", err)
	}
}

func TestResolveRoundOpensSuccessor(t *testing.T) {
	store := New()
	round := openRound(t, store)
	ctx := context.Background()

	if _, _, err := store.AppendEntry(ctx, raffle.Entry{RoundID: round.ID, Player: "alice", Amount: 100}); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	round, _ = store.GetRound(ctx, round.ID)
	round.State = raffle.RoundStateCalculating
	if _, err := store.UpdateRound(ctx, round); err != nil {
		t.Fatalf("UpdateRound: %v", err)
	}

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	resolved, next, err := store.ResolveRound(ctx, round.ID, 0, "alice", 7, at)
	if err != nil {
		t.Fatalf("ResolveRound: %v", err)
	}
	if resolved.State != raffle.RoundStateResolved || resolved.ResolvedAt != at {
		t.Fatalf("unexpected resolved round: %+v", resolved)
	}
	if next.Number != 2 || next.State != raffle.RoundStateOpen || next.OpenedAt != at {
		t.Fatalf("unexpected successor: %+v", next)
	}

	current, _ := store.GetCurrentRound(ctx)
	if current.ID != next.ID {
		t.Fatalf("current round is %s, want successor %s", current.ID, next.ID)
	}
	entries, err := store.ListEntries(ctx, next.ID)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("successor roster not empty: %+v", entries)
	}

	winner, _ := store.GetLedgerAccount(ctx, "alice")
	escrow, _ := store.GetLedgerAccount(ctx, ledger.EscrowOwner)
	if winner.Balance != 100 || escrow.Balance != 0 {
		t.Fatalf("payout balances: winner=%d escrow=%d", winner.Balance, escrow.Balance)
	}
}

func TestListRoundsNewestFirst(t *testing.T) {
	store := New()
	round := openRound(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := store.AppendEntry(ctx, raffle.Entry{RoundID: round.ID, Player: "alice", Amount: 100}); err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
		round, _ = store.GetRound(ctx, round.ID)
		round.State = raffle.RoundStateCalculating
		if _, err := store.UpdateRound(ctx, round); err != nil {
			t.Fatalf("UpdateRound: %v", err)
		}
		_, next, err := store.ResolveRound(ctx, round.ID, 0, "alice", uint64(i), time.Now())
		if err != nil {
			t.Fatalf("ResolveRound: %v", err)
		}
		round = next
	}

	rounds, err := store.ListRounds(ctx, 2)
	if err != nil {
		t.Fatalf("ListRounds: %v", err)
	}
	if len(rounds) != 2 || rounds[0].Number != 4 || rounds[1].Number != 3 {
		t.Fatalf("unexpected order: %+v", rounds)
	}
}

func TestWithdrawFundsValidation(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, _, err := store.WithdrawFunds(ctx, "ghost", 10, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, _, err := store.Deposit(ctx, "alice", 50, "topup"); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, _, err := store.WithdrawFunds(ctx, "alice", 100, ""); !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	account, _, err := store.WithdrawFunds(ctx, "alice", 30, "")
	if err != nil {
		t.Fatalf("WithdrawFunds: %v", err)
	}
	if account.Balance != 20 {
		t.Fatalf("balance = %d", account.Balance)
	}
}

package ledger

import (
	"context"
	"errors"
	"testing"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/internal/app/storage/memory"
)

func TestDepositAndWithdraw(t *testing.T) {
	service := New(memory.New(), nil)
	ctx := context.Background()

	account, err := service.Deposit(ctx, "alice", 500, "topup")
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if account.Balance != 500 {
		t.Fatalf("balance = %d", account.Balance)
	}

	account, err = service.Withdraw(ctx, "alice", 200, "settle")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if account.Balance != 300 {
		t.Fatalf("balance = %d", account.Balance)
	}

	transfers, err := service.Transfers(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Transfers: %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(transfers))
	}
	if transfers[0].Kind != domain.TransferKindWithdrawal || transfers[1].Kind != domain.TransferKindDeposit {
		t.Fatalf("unexpected transfer order: %+v", transfers)
	}
}

func TestDepositValidation(t *testing.T) {
	service := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := service.Deposit(ctx, "  ", 100, ""); err == nil {
		t.Fatalf("expected owner validation error")
	}
	if _, err := service.Deposit(ctx, "alice", 0, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := service.Withdraw(ctx, "alice", -5, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestEscrowDefaultsToEmptyAccount(t *testing.T) {
	service := New(memory.New(), nil)

	account, err := service.Escrow(context.Background())
	if err != nil {
		t.Fatalf("Escrow: %v", err)
	}
	if account.Owner != domain.EscrowOwner || account.Balance != 0 {
		t.Fatalf("unexpected escrow account: %+v", account)
	}
}

func TestAccountNotFound(t *testing.T) {
	service := New(memory.New(), nil)

	if _, err := service.Account(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package raffle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/services/vrf"
	"github.com/R3E-Network/raffle_service/internal/app/storage/memory"
)

// scriptedChecker reports pending for a number of polls, then delivers word.
type scriptedChecker struct {
	pending atomic.Int64
	word    uint64
}

func (c *scriptedChecker) CheckRequest(_ context.Context, requestID string) (bool, uint64, time.Duration, error) {
	if c.pending.Add(-1) >= 0 {
		return false, 0, time.Millisecond, nil
	}
	return true, c.word, 0, nil
}

func TestFulfillmentPollerResolvesRound(t *testing.T) {
	store := memory.New()
	provider := vrf.ProviderFunc(func(context.Context, vrf.RequestParams) (string, error) {
		return "req-1", nil
	})

	service, err := New(store, provider, Config{EntranceFee: testFee, RoundInterval: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if _, err := service.EnsureRound(ctx); err != nil {
		t.Fatalf("EnsureRound: %v", err)
	}
	for _, player := range []string{"alice", "bob"} {
		if _, err := service.Enter(ctx, player, testFee); err != nil {
			t.Fatalf("Enter(%s): %v", player, err)
		}
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := service.RequestDraw(ctx); err != nil {
		t.Fatalf("RequestDraw: %v", err)
	}

	checker := &scriptedChecker{word: 3}
	checker.pending.Store(2)

	poller := NewFulfillmentPoller(service, checker, nil)
	poller.WithInterval(5 * time.Millisecond)
	if err := poller.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer poller.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		round, err := service.CurrentRound(ctx)
		if err != nil {
			t.Fatalf("CurrentRound: %v", err)
		}
		if round.Number == 2 && round.State == domain.RoundStateOpen {
			// 3 mod 2 selects index 1.
			previous, err := service.RoundByNumber(ctx, 1)
			if err != nil {
				t.Fatalf("RoundByNumber: %v", err)
			}
			if previous.Winner != "bob" || previous.RandomWord != 3 {
				t.Fatalf("unexpected resolution: %+v", previous)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("poller never fulfilled the request")
}

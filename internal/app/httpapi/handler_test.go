package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	app "github.com/R3E-Network/raffle_service/internal/app"
	"github.com/R3E-Network/raffle_service/internal/config"
)

func newTestServer(t *testing.T, limiter *rate.Limiter) (*httptest.Server, *app.Application) {
	t.Helper()

	cfg := config.Default()
	cfg.RoundInterval = config.Duration(time.Millisecond)
	// Keep the in-process provider from racing the test's own fulfillment.
	cfg.Provider.LocalDelay = config.Duration(time.Hour)

	application, err := app.New(app.Stores{}, cfg, nil)
	require.NoError(t, err)
	_, err = application.Raffle.EnsureRound(context.Background())
	require.NoError(t, err)

	server := httptest.NewServer(NewHandler(application, limiter))
	t.Cleanup(server.Close)
	return server, application
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestEntryEndpoints(t *testing.T) {
	server, _ := newTestServer(t, nil)

	resp := postJSON(t, server.URL+"/entries", map[string]any{"player": "alice", "payment": 50})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/entries", map[string]any{"player": "alice", "payment": 100})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var entry struct {
		Player   string `json:"player"`
		Position int    `json:"position"`
	}
	decodeBody(t, resp, &entry)
	require.Equal(t, "alice", entry.Player)
	require.Equal(t, 0, entry.Position)

	resp, err := http.Get(server.URL + "/round")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var round struct {
		Number int64  `json:"number"`
		State  string `json:"state"`
		Pot    int64  `json:"pot"`
	}
	decodeBody(t, resp, &round)
	require.Equal(t, int64(1), round.Number)
	require.Equal(t, "open", round.State)
	require.Equal(t, int64(100), round.Pot)

	resp, err = http.Get(server.URL + "/round/players")
	require.NoError(t, err)
	var roster struct {
		Players []string `json:"players"`
		Count   int      `json:"count"`
	}
	decodeBody(t, resp, &roster)
	require.Equal(t, []string{"alice"}, roster.Players)
	require.Equal(t, 1, roster.Count)

	resp, err = http.Get(server.URL + "/round/players/0")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/round/players/9")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestDrawAndFulfillEndpoints(t *testing.T) {
	server, _ := newTestServer(t, nil)

	for _, player := range []string{"alice", "bob"} {
		resp := postJSON(t, server.URL+"/entries", map[string]any{"player": player, "payment": 100})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
	time.Sleep(5 * time.Millisecond)

	resp, err := http.Get(server.URL + "/upkeep")
	require.NoError(t, err)
	var upkeep struct {
		IntervalElapsed bool `json:"interval_elapsed"`
		IsOpen          bool `json:"is_open"`
		HasFunds        bool `json:"has_funds"`
		HasPlayers      bool `json:"has_players"`
	}
	decodeBody(t, resp, &upkeep)
	require.True(t, upkeep.IntervalElapsed && upkeep.IsOpen && upkeep.HasFunds && upkeep.HasPlayers)

	resp = postJSON(t, server.URL+"/draws", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var drawn struct {
		State     string `json:"state"`
		RequestID string `json:"request_id"`
	}
	decodeBody(t, resp, &drawn)
	require.Equal(t, "calculating", drawn.State)
	require.NotEmpty(t, drawn.RequestID)

	// Entries and further draws are rejected while calculating.
	resp = postJSON(t, server.URL+"/entries", map[string]any{"player": "carol", "payment": 100})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/draws", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var diagnostics struct {
		Pot     int64  `json:"pot"`
		Players int    `json:"players"`
		State   string `json:"state"`
	}
	decodeBody(t, resp, &diagnostics)
	require.Equal(t, int64(200), diagnostics.Pot)
	require.Equal(t, 2, diagnostics.Players)
	require.Equal(t, "calculating", diagnostics.State)

	resp = postJSON(t, server.URL+"/fulfillments", map[string]any{"request_id": "bogus", "random_word": 7})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/fulfillments", map[string]any{"request_id": drawn.RequestID, "random_word": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved struct {
		State  string `json:"state"`
		Winner string `json:"winner"`
	}
	decodeBody(t, resp, &resolved)
	require.Equal(t, "resolved", resolved.State)
	// 7 mod 2 selects index 1.
	require.Equal(t, "bob", resolved.Winner)

	resp, err = http.Get(server.URL + "/winner")
	require.NoError(t, err)
	var winner struct {
		Winner string `json:"winner"`
	}
	decodeBody(t, resp, &winner)
	require.Equal(t, "bob", winner.Winner)

	resp, err = http.Get(server.URL + "/rounds/1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/rounds/99")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestLedgerEndpoints(t *testing.T) {
	server, _ := newTestServer(t, nil)

	resp := postJSON(t, server.URL+"/ledger/alice/deposits", map[string]any{"amount": 500, "reference": "topup"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var account struct {
		Owner   string `json:"owner"`
		Balance int64  `json:"balance"`
	}
	decodeBody(t, resp, &account)
	require.Equal(t, "alice", account.Owner)
	require.Equal(t, int64(500), account.Balance)

	resp = postJSON(t, server.URL+"/ledger/alice/withdrawals", map[string]any{"amount": 900})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/ledger/alice/transfers")
	require.NoError(t, err)
	var transfers []struct {
		Kind string `json:"kind"`
	}
	decodeBody(t, resp, &transfers)
	require.Len(t, transfers, 1)
	require.Equal(t, "deposit", transfers[0].Kind)

	resp, err = http.Get(server.URL + "/ledger/ghost")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestEntryRateLimit(t *testing.T) {
	server, _ := newTestServer(t, rate.NewLimiter(rate.Limit(0.001), 1))

	resp := postJSON(t, server.URL+"/entries", map[string]any{"player": "alice", "payment": 100})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/entries", map[string]any{"player": "bob", "payment": 100})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()

	// Reads are not limited.
	getResp, err := http.Get(server.URL + "/round")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	getResp.Body.Close()
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t, nil)
	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestUnknownIndexIsBadRequest(t *testing.T) {
	server, _ := newTestServer(t, nil)
	resp, err := http.Get(server.URL + "/round/players/notanumber")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

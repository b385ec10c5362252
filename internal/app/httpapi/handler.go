// Package httpapi exposes the raffle over REST plus a websocket notification
// feed.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	app "github.com/R3E-Network/raffle_service/internal/app"
	rafflesvc "github.com/R3E-Network/raffle_service/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the raffle REST API. Entry submission
// is rate limited with the given limiter; pass nil to disable limiting.
func NewHandler(application *app.Application, limiter *rate.Limiter) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.Handle("/entries", rateLimited(limiter, http.HandlerFunc(h.createEntry))).Methods(http.MethodPost)
	r.HandleFunc("/round", h.currentRound).Methods(http.MethodGet)
	r.HandleFunc("/round/players", h.players).Methods(http.MethodGet)
	r.HandleFunc("/round/players/{index}", h.playerAt).Methods(http.MethodGet)
	r.HandleFunc("/rounds", h.listRounds).Methods(http.MethodGet)
	r.HandleFunc("/rounds/{number}", h.roundByNumber).Methods(http.MethodGet)
	r.HandleFunc("/winner", h.lastWinner).Methods(http.MethodGet)
	r.HandleFunc("/upkeep", h.upkeep).Methods(http.MethodGet)
	r.HandleFunc("/draws", h.requestDraw).Methods(http.MethodPost)
	r.HandleFunc("/fulfillments", h.fulfill).Methods(http.MethodPost)

	r.HandleFunc("/ledger", h.ledgerAccounts).Methods(http.MethodGet)
	r.HandleFunc("/ledger/{owner}", h.ledgerAccount).Methods(http.MethodGet)
	r.HandleFunc("/ledger/{owner}/transfers", h.ledgerTransfers).Methods(http.MethodGet)
	r.HandleFunc("/ledger/{owner}/deposits", h.ledgerDeposit).Methods(http.MethodPost)
	r.HandleFunc("/ledger/{owner}/withdrawals", h.ledgerWithdraw).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if application.Events != nil {
		r.HandleFunc("/ws", application.Events.ServeWS).Methods(http.MethodGet)
	}

	return r
}

func rateLimited(limiter *rate.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("entry rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Player  string `json:"player"`
		Payment int64  `json:"payment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Raffle.Enter(r.Context(), payload.Player, payload.Payment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) currentRound(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Raffle.CurrentRound(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) players(w http.ResponseWriter, r *http.Request) {
	players, err := h.app.Raffle.Players(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players, "count": len(players)})
}

func (h *handler) playerAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("index must be an integer"))
		return
	}
	player, err := h.app.Raffle.PlayerAt(r.Context(), index)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "player": player})
}

func (h *handler) listRounds(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rounds, err := h.app.Raffle.Rounds(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (h *handler) roundByNumber(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseInt(mux.Vars(r)["number"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("round number must be an integer"))
		return
	}
	round, err := h.app.Raffle.RoundByNumber(r.Context(), number)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) lastWinner(w http.ResponseWriter, r *http.Request) {
	winner, err := h.app.Raffle.LastWinner(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"winner": winner})
}

func (h *handler) upkeep(w http.ResponseWriter, r *http.Request) {
	upkeep, err := h.app.Raffle.Evaluate(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, upkeep)
}

func (h *handler) requestDraw(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Raffle.RequestDraw(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, round)
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequestID  string `json:"request_id"`
		RandomWord uint64 `json:"random_word"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	round, err := h.app.Raffle.Fulfill(r.Context(), payload.RequestID, payload.RandomWord)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (h *handler) ledgerAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.app.Ledger.Accounts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *handler) ledgerAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.app.Ledger.Account(r.Context(), mux.Vars(r)["owner"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *handler) ledgerTransfers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transfers, err := h.app.Ledger.Transfers(r.Context(), mux.Vars(r)["owner"], limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (h *handler) ledgerDeposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := h.app.Ledger.Deposit(r.Context(), mux.Vars(r)["owner"], payload.Amount, payload.Reference)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *handler) ledgerWithdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := h.app.Ledger.Withdraw(r.Context(), mux.Vars(r)["owner"], payload.Amount, payload.Reference)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var upkeepErr *rafflesvc.UpkeepError
	if errors.As(err, &upkeepErr) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            err.Error(),
			"pot":              upkeepErr.Upkeep.Pot,
			"players":          upkeepErr.Upkeep.PlayerCount,
			"state":            upkeepErr.Upkeep.State,
			"interval_elapsed": upkeepErr.Upkeep.IntervalElapsed,
		})
		return
	}

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, rafflesvc.ErrInsufficientPayment):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, rafflesvc.ErrRoundNotOpen),
		errors.Is(err, rafflesvc.ErrRoundNotCalculating),
		errors.Is(err, rafflesvc.ErrUnknownRequest):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, rafflesvc.ErrPayoutFailed):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, rafflesvc.ErrNoPlayers):
		writeError(w, http.StatusInternalServerError, err)
	case errors.Is(err, storage.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Package raffle defines the domain model for the recurring raffle.
package raffle

import "time"

// RoundState represents the lifecycle state of a raffle round.
type RoundState string

const (
	// RoundStateOpen accepts entries and may trigger a draw.
	RoundStateOpen RoundState = "open"
	// RoundStateCalculating rejects entries while exactly one randomness
	// request is outstanding.
	RoundStateCalculating RoundState = "calculating"
	// RoundStateResolved is terminal; the winner has been paid.
	RoundStateResolved RoundState = "resolved"
)

// Round represents one entry -> selection -> payout cycle. At most one round
// is live (open or calculating) at any time; resolved rounds are kept as
// history.
type Round struct {
	ID          string     `json:"id"`
	Number      int64      `json:"number"`       // Sequential round number, starting at 1
	State       RoundState `json:"state"`        // Current lifecycle state
	Pot         int64      `json:"pot"`          // Sum of accepted entry payments
	EntryCount  int64      `json:"entry_count"`  // Tickets sold this round
	RequestID   string     `json:"request_id"`   // Outstanding randomness request while calculating
	Winner      string     `json:"winner"`       // Selected winner once resolved
	WinnerIndex int        `json:"winner_index"` // Roster index the random word selected
	RandomWord  uint64     `json:"random_word"`  // Provider word used for selection
	OpenedAt    time.Time  `json:"opened_at"`    // Close time of the previous round, or creation for round 1
	ResolvedAt  time.Time  `json:"resolved_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Live reports whether the round is still accepting entries or awaiting
// randomness.
func (r Round) Live() bool {
	return r.State == RoundStateOpen || r.State == RoundStateCalculating
}

// Entry represents one accepted (player, payment) pair. A player may hold
// any number of entries in a round; insertion order is the canonical roster
// order used for index-based winner selection.
type Entry struct {
	ID        string    `json:"id"`
	RoundID   string    `json:"round_id"`
	Player    string    `json:"player"`
	Amount    int64     `json:"amount"`
	Position  int       `json:"position"` // Zero-based roster index
	CreatedAt time.Time `json:"created_at"`
}

// Upkeep is the readiness snapshot for closing the current round. Each
// condition is independently inspectable; the round may be drawn only when
// all four hold.
type Upkeep struct {
	IntervalElapsed bool       `json:"interval_elapsed"`
	IsOpen          bool       `json:"is_open"`
	HasFunds        bool       `json:"has_funds"`
	HasPlayers      bool       `json:"has_players"`
	Pot             int64      `json:"pot"`
	PlayerCount     int        `json:"player_count"`
	State           RoundState `json:"state"`
	CheckedAt       time.Time  `json:"checked_at"`
}

// Ready reports whether every condition holds.
func (u Upkeep) Ready() bool {
	return u.IntervalElapsed && u.IsOpen && u.HasFunds && u.HasPlayers
}

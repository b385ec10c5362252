// Package ledger defines the internal ledger holding raffle funds.
package ledger

import "time"

// EscrowOwner is the reserved owner of the account that holds the live pot.
const EscrowOwner = "raffle-escrow"

// TransferKind classifies ledger movements.
type TransferKind string

const (
	TransferKindEntry      TransferKind = "entry"      // Entry payment into escrow
	TransferKindPayout     TransferKind = "payout"     // Full pot to the winner
	TransferKindDeposit    TransferKind = "deposit"    // External top-up
	TransferKindWithdrawal TransferKind = "withdrawal" // External settlement out
)

// Account tracks a balance for an owner identifier.
type Account struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transfer is an immutable record of a ledger movement. From or To is empty
// for movements that cross the ledger boundary (entry payments in,
// withdrawals out).
type Transfer struct {
	ID        string       `json:"id"`
	From      string       `json:"from"` // Owner identifier, not account ID
	To        string       `json:"to"`
	Amount    int64        `json:"amount"`
	Kind      TransferKind `json:"kind"`
	Reference string       `json:"reference"` // Round or entry correlation
	CreatedAt time.Time    `json:"created_at"`
}

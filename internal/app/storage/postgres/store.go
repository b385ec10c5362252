// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	ledgerdom "github.com/R3E-Network/raffle_service/internal/app/domain/ledger"
	raffledom "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/google/uuid"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.RaffleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// translate maps driver-level not-found onto the storage sentinel.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- RaffleStore ------------------------------------------------------------

const roundColumns = `id, number, state, pot, entry_count, request_id, winner, winner_index, random_word, opened_at, resolved_at, created_at, updated_at`

func (s *Store) CreateRound(ctx context.Context, round raffledom.Round) (raffledom.Round, error) {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	round.CreatedAt = now
	round.UpdatedAt = now
	if round.OpenedAt.IsZero() {
		round.OpenedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, round.ID, round.Number, round.State, round.Pot, round.EntryCount,
		round.RequestID, round.Winner, round.WinnerIndex, strconv.FormatUint(round.RandomWord, 10),
		round.OpenedAt, nullTime(round.ResolvedAt), round.CreatedAt, round.UpdatedAt)
	if err != nil {
		return raffledom.Round{}, err
	}
	return round, nil
}

func (s *Store) UpdateRound(ctx context.Context, round raffledom.Round) (raffledom.Round, error) {
	round.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE raffle_rounds
		SET state = $2, pot = $3, entry_count = $4, request_id = $5, winner = $6,
		    winner_index = $7, random_word = $8, opened_at = $9, resolved_at = $10, updated_at = $11
		WHERE id = $1
	`, round.ID, round.State, round.Pot, round.EntryCount, round.RequestID, round.Winner,
		round.WinnerIndex, strconv.FormatUint(round.RandomWord, 10),
		round.OpenedAt, nullTime(round.ResolvedAt), round.UpdatedAt)
	if err != nil {
		return raffledom.Round{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return raffledom.Round{}, storage.ErrNotFound
	}
	return round, nil
}

func (s *Store) GetRound(ctx context.Context, id string) (raffledom.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+`
		FROM raffle_rounds
		WHERE id = $1
	`, id)
	return scanRound(row)
}

func (s *Store) GetRoundByNumber(ctx context.Context, number int64) (raffledom.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+`
		FROM raffle_rounds
		WHERE number = $1
	`, number)
	return scanRound(row)
}

func (s *Store) GetCurrentRound(ctx context.Context) (raffledom.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+roundColumns+`
		FROM raffle_rounds
		WHERE state IN ('open', 'calculating')
		ORDER BY number DESC
		LIMIT 1
	`)
	return scanRound(row)
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]raffledom.Round, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roundColumns+`
		FROM raffle_rounds
		ORDER BY number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []raffledom.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, round)
	}
	return result, rows.Err()
}

func (s *Store) AppendEntry(ctx context.Context, entry raffledom.Entry) (raffledom.Entry, raffledom.Round, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return raffledom.Entry{}, raffledom.Round{}, err
	}
	defer tx.Rollback()

	round, err := scanRound(tx.QueryRowContext(ctx, `
		SELECT `+roundColumns+`
		FROM raffle_rounds
		WHERE id = $1
		FOR UPDATE
	`, entry.RoundID))
	if err != nil {
		return raffledom.Entry{}, raffledom.Round{}, err
	}
	if round.State != raffledom.RoundStateOpen {
		return raffledom.Entry{}, raffledom.Round{}, fmt.Errorf("round %d is %s", round.Number, round.State)
	}

	entry.ID = uuid.NewString()
	entry.Position = int(round.EntryCount)
	entry.CreatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO raffle_entries (id, round_id, player, amount, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.RoundID, entry.Player, entry.Amount, entry.Position, entry.CreatedAt); err != nil {
		return raffledom.Entry{}, raffledom.Round{}, err
	}

	round.Pot += entry.Amount
	round.EntryCount++
	round.UpdatedAt = entry.CreatedAt
	if _, err := tx.ExecContext(ctx, `
		UPDATE raffle_rounds
		SET pot = $2, entry_count = $3, updated_at = $4
		WHERE id = $1
	`, round.ID, round.Pot, round.EntryCount, round.UpdatedAt); err != nil {
		return raffledom.Entry{}, raffledom.Round{}, err
	}

	if err := creditTx(ctx, tx, ledgerdom.EscrowOwner, entry.Amount); err != nil {
		return raffledom.Entry{}, raffledom.Round{}, err
	}
	if err := insertTransferTx(ctx, tx, ledgerdom.Transfer{
		To:        ledgerdom.EscrowOwner,
		Amount:    entry.Amount,
		Kind:      ledgerdom.TransferKindEntry,
		Reference: entry.ID,
	}); err != nil {
		return raffledom.Entry{}, raffledom.Round{}, err
	}

	if err := tx.Commit(); err != nil {
		return raffledom.Entry{}, raffledom.Round{}, err
	}
	return entry, round, nil
}

func (s *Store) ListEntries(ctx context.Context, roundID string) ([]raffledom.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, player, amount, position, created_at
		FROM raffle_entries
		WHERE round_id = $1
		ORDER BY position
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []raffledom.Entry
	for rows.Next() {
		var entry raffledom.Entry
		if err := rows.Scan(&entry.ID, &entry.RoundID, &entry.Player, &entry.Amount, &entry.Position, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) ResolveRound(ctx context.Context, roundID string, winnerIndex int, winner string, randomWord uint64, resolvedAt time.Time) (raffledom.Round, raffledom.Round, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}
	defer tx.Rollback()

	round, err := scanRound(tx.QueryRowContext(ctx, `
		SELECT `+roundColumns+`
		FROM raffle_rounds
		WHERE id = $1
		FOR UPDATE
	`, roundID))
	if err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}
	if round.State != raffledom.RoundStateCalculating {
		return raffledom.Round{}, raffledom.Round{}, fmt.Errorf("round %d is %s", round.Number, round.State)
	}

	var escrow int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM ledger_accounts WHERE owner = $1 FOR UPDATE
	`, ledgerdom.EscrowOwner).Scan(&escrow)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return raffledom.Round{}, raffledom.Round{}, err
	}
	if escrow < round.Pot {
		return raffledom.Round{}, raffledom.Round{}, fmt.Errorf("%w: have %d, need %d", storage.ErrInsufficientEscrow, escrow, round.Pot)
	}

	resolvedAt = resolvedAt.UTC()
	round.State = raffledom.RoundStateResolved
	round.Winner = winner
	round.WinnerIndex = winnerIndex
	round.RandomWord = randomWord
	round.ResolvedAt = resolvedAt
	round.UpdatedAt = resolvedAt
	if _, err := tx.ExecContext(ctx, `
		UPDATE raffle_rounds
		SET state = $2, winner = $3, winner_index = $4, random_word = $5, resolved_at = $6, updated_at = $7
		WHERE id = $1
	`, round.ID, round.State, round.Winner, round.WinnerIndex,
		strconv.FormatUint(round.RandomWord, 10), round.ResolvedAt, round.UpdatedAt); err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET balance = balance - $2, updated_at = $3
		WHERE owner = $1
	`, ledgerdom.EscrowOwner, round.Pot, resolvedAt); err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}
	if err := creditTx(ctx, tx, winner, round.Pot); err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}
	if err := insertTransferTx(ctx, tx, ledgerdom.Transfer{
		From:      ledgerdom.EscrowOwner,
		To:        winner,
		Amount:    round.Pot,
		Kind:      ledgerdom.TransferKindPayout,
		Reference: round.ID,
	}); err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}

	next := raffledom.Round{
		ID:        uuid.NewString(),
		Number:    round.Number + 1,
		State:     raffledom.RoundStateOpen,
		OpenedAt:  resolvedAt,
		CreatedAt: resolvedAt,
		UpdatedAt: resolvedAt,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO raffle_rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, next.ID, next.Number, next.State, next.Pot, next.EntryCount,
		next.RequestID, next.Winner, next.WinnerIndex, "0",
		next.OpenedAt, nullTime(next.ResolvedAt), next.CreatedAt, next.UpdatedAt); err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}

	if err := tx.Commit(); err != nil {
		return raffledom.Round{}, raffledom.Round{}, err
	}
	return round, next, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetLedgerAccount(ctx context.Context, owner string) (ledgerdom.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, balance, created_at, updated_at
		FROM ledger_accounts
		WHERE owner = $1
	`, owner)

	var account ledgerdom.Account
	if err := row.Scan(&account.ID, &account.Owner, &account.Balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return ledgerdom.Account{}, translate(err)
	}
	return account, nil
}

func (s *Store) ListLedgerAccounts(ctx context.Context) ([]ledgerdom.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, balance, created_at, updated_at
		FROM ledger_accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledgerdom.Account
	for rows.Next() {
		var account ledgerdom.Account
		if err := rows.Scan(&account.ID, &account.Owner, &account.Balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, account)
	}
	return result, rows.Err()
}

func (s *Store) ListTransfers(ctx context.Context, owner string, limit int) ([]ledgerdom.Transfer, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, from_owner, to_owner, amount, kind, reference, created_at
		FROM ledger_transfers
	`
	args := []any{limit}
	if owner != "" {
		query += ` WHERE from_owner = $2 OR to_owner = $2`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ledgerdom.Transfer
	for rows.Next() {
		var transfer ledgerdom.Transfer
		if err := rows.Scan(&transfer.ID, &transfer.From, &transfer.To, &transfer.Amount, &transfer.Kind, &transfer.Reference, &transfer.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, transfer)
	}
	return result, rows.Err()
}

func (s *Store) Deposit(ctx context.Context, owner string, amount int64, reference string) (ledgerdom.Account, ledgerdom.Transfer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}
	defer tx.Rollback()

	if err := creditTx(ctx, tx, owner, amount); err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}

	transfer := ledgerdom.Transfer{
		To:        owner,
		Amount:    amount,
		Kind:      ledgerdom.TransferKindDeposit,
		Reference: reference,
	}
	if err := insertTransferTx(ctx, tx, transfer); err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}

	account, err := scanAccountTx(ctx, tx, owner)
	if err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}
	return account, transfer, nil
}

func (s *Store) WithdrawFunds(ctx context.Context, owner string, amount int64, reference string) (ledgerdom.Account, ledgerdom.Transfer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM ledger_accounts WHERE owner = $1 FOR UPDATE
	`, owner).Scan(&balance)
	if err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, translate(err)
	}
	if balance < amount {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, fmt.Errorf("%w: have %d, need %d", storage.ErrInsufficientBalance, balance, amount)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE ledger_accounts
		SET balance = balance - $2, updated_at = $3
		WHERE owner = $1
	`, owner, amount, time.Now().UTC()); err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}

	transfer := ledgerdom.Transfer{
		From:      owner,
		Amount:    amount,
		Kind:      ledgerdom.TransferKindWithdrawal,
		Reference: reference,
	}
	if err := insertTransferTx(ctx, tx, transfer); err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}

	account, err := scanAccountTx(ctx, tx, owner)
	if err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledgerdom.Account{}, ledgerdom.Transfer{}, err
	}
	return account, transfer, nil
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (raffledom.Round, error) {
	var (
		round      raffledom.Round
		randomWord string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&round.ID, &round.Number, &round.State, &round.Pot, &round.EntryCount,
		&round.RequestID, &round.Winner, &round.WinnerIndex, &randomWord,
		&round.OpenedAt, &resolvedAt, &round.CreatedAt, &round.UpdatedAt); err != nil {
		return raffledom.Round{}, translate(err)
	}
	if randomWord != "" {
		word, err := strconv.ParseUint(randomWord, 10, 64)
		if err != nil {
			return raffledom.Round{}, fmt.Errorf("parse random word: %w", err)
		}
		round.RandomWord = word
	}
	if resolvedAt.Valid {
		round.ResolvedAt = resolvedAt.Time
	}
	return round, nil
}

func scanAccountTx(ctx context.Context, tx *sql.Tx, owner string) (ledgerdom.Account, error) {
	var account ledgerdom.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner, balance, created_at, updated_at
		FROM ledger_accounts
		WHERE owner = $1
	`, owner).Scan(&account.ID, &account.Owner, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return ledgerdom.Account{}, translate(err)
	}
	return account, nil
}

func creditTx(ctx context.Context, tx *sql.Tx, owner string, amount int64) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_accounts (id, owner, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (owner) DO UPDATE
		SET balance = ledger_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
	`, uuid.NewString(), owner, amount, now)
	return err
}

func insertTransferTx(ctx context.Context, tx *sql.Tx, transfer ledgerdom.Transfer) error {
	if transfer.ID == "" {
		transfer.ID = uuid.NewString()
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_transfers (id, from_owner, to_owner, amount, kind, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, transfer.ID, transfer.From, transfer.To, transfer.Amount, transfer.Kind, transfer.Reference, transfer.CreatedAt)
	return err
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

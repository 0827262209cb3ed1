package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpredict/engine/internal/domain"
)

// Ledger implements domain.TokenLedger on a balances table. Transfers run in
// a serializable-enough single UPDATE pair inside one transaction; the
// balance CHECK constraint backstops overdrafts under concurrency.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

var _ domain.TokenLedger = (*Ledger)(nil)

// Mint credits an account without a source. Used for seeding and deposits
// bridged in from outside the engine.
func (l *Ledger) Mint(ctx context.Context, account string, amount uint64) error {
	const query = `
		INSERT INTO ledger_balances (account, balance)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET balance = ledger_balances.balance + EXCLUDED.balance`
	if _, err := l.pool.Exec(ctx, query, account, int64(amount)); err != nil {
		return fmt.Errorf("postgres: mint %d to %s: %w", amount, account, err)
	}
	return nil
}

// Transfer atomically moves amount from one account to another.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	const debit = `
		UPDATE ledger_balances SET balance = balance - $2
		WHERE account = $1 AND balance >= $2`
	tag, err := tx.Exec(ctx, debit, from, int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: account %s cannot cover %d: %w", from, amount, domain.ErrInsufficientFunds)
	}

	const credit = `
		INSERT INTO ledger_balances (account, balance)
		VALUES ($1, $2)
		ON CONFLICT (account) DO UPDATE SET balance = ledger_balances.balance + EXCLUDED.balance`
	if _, err := tx.Exec(ctx, credit, to, int64(amount)); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", to, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transfer: %w", err)
	}
	return nil
}

// Balance returns an account's balance; unknown accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, account string) (uint64, error) {
	var balance int64
	err := l.pool.QueryRow(ctx,
		`SELECT balance FROM ledger_balances WHERE account = $1`, account).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance of %s: %w", account, err)
	}
	return uint64(balance), nil
}

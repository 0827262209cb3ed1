package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpredict/engine/internal/domain"
)

// EngineConfigStore implements domain.EngineConfigStore using PostgreSQL.
// The config row is a singleton; locked users live in their own table and
// are folded into the returned config.
type EngineConfigStore struct {
	pool *pgxpool.Pool
}

// NewEngineConfigStore creates a new EngineConfigStore backed by the given
// connection pool.
func NewEngineConfigStore(pool *pgxpool.Pool) *EngineConfigStore {
	return &EngineConfigStore{pool: pool}
}

// Get loads the singleton engine config with its locked-user set.
func (s *EngineConfigStore) Get(ctx context.Context) (domain.EngineConfig, error) {
	const query = `
		SELECT owner_account, base_token, service_fee_account, charity_fee_account, remainder_account
		FROM engine_config WHERE id = 1`
	var cfg domain.EngineConfig
	err := s.pool.QueryRow(ctx, query).Scan(
		&cfg.Owner, &cfg.BaseToken, &cfg.ServiceFeeAccount, &cfg.CharityFeeAccount, &cfg.RemainderAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EngineConfig{}, domain.ErrNotFound
		}
		return domain.EngineConfig{}, fmt.Errorf("postgres: get engine config: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT voter FROM locked_users`)
	if err != nil {
		return domain.EngineConfig{}, fmt.Errorf("postgres: list locked users: %w", err)
	}
	defer rows.Close()

	cfg.LockedUsers = make(map[string]bool)
	for rows.Next() {
		var voter string
		if err := rows.Scan(&voter); err != nil {
			return domain.EngineConfig{}, fmt.Errorf("postgres: scan locked user: %w", err)
		}
		cfg.LockedUsers[voter] = true
	}
	if err := rows.Err(); err != nil {
		return domain.EngineConfig{}, fmt.Errorf("postgres: locked users rows: %w", err)
	}
	return cfg, nil
}

// Put stores the singleton engine config and replaces the locked-user set in
// one transaction.
func (s *EngineConfigStore) Put(ctx context.Context, cfg domain.EngineConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin put engine config: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO engine_config (id, owner_account, base_token, service_fee_account, charity_fee_account, remainder_account)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner_account       = EXCLUDED.owner_account,
			base_token          = EXCLUDED.base_token,
			service_fee_account = EXCLUDED.service_fee_account,
			charity_fee_account = EXCLUDED.charity_fee_account,
			remainder_account   = EXCLUDED.remainder_account,
			updated_at          = NOW()`
	if _, err := tx.Exec(ctx, upsert,
		cfg.Owner, cfg.BaseToken, cfg.ServiceFeeAccount, cfg.CharityFeeAccount, cfg.RemainderAccount); err != nil {
		return fmt.Errorf("postgres: upsert engine config: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM locked_users`); err != nil {
		return fmt.Errorf("postgres: clear locked users: %w", err)
	}
	for voter := range cfg.LockedUsers {
		if _, err := tx.Exec(ctx, `INSERT INTO locked_users (voter) VALUES ($1)`, voter); err != nil {
			return fmt.Errorf("postgres: insert locked user %s: %w", voter, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit put engine config: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpredict/engine/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL. A
// voter's history is stored as ordered rows and replaced wholesale on Put;
// histories are capped at MaxCheckpoints entries so the rewrite stays small.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given
// connection pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get loads a voter's checkpoint history in slot order.
func (s *CheckpointStore) Get(ctx context.Context, voter string) (domain.VoterCheckpoints, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT slot, balance FROM voter_checkpoints WHERE voter = $1 ORDER BY ordinal`, voter)
	if err != nil {
		return domain.VoterCheckpoints{}, fmt.Errorf("postgres: get checkpoints for %s: %w", voter, err)
	}
	defer rows.Close()

	vc := domain.VoterCheckpoints{Voter: voter}
	for rows.Next() {
		var slot, balance int64
		if err := rows.Scan(&slot, &balance); err != nil {
			return domain.VoterCheckpoints{}, fmt.Errorf("postgres: scan checkpoint: %w", err)
		}
		vc.Checkpoints = append(vc.Checkpoints, domain.Checkpoint{
			Slot:    uint64(slot),
			Balance: uint64(balance),
		})
	}
	if err := rows.Err(); err != nil {
		return domain.VoterCheckpoints{}, fmt.Errorf("postgres: checkpoints rows for %s: %w", voter, err)
	}
	if len(vc.Checkpoints) == 0 {
		return domain.VoterCheckpoints{}, fmt.Errorf("postgres: checkpoints for %s: %w", voter, domain.ErrNotFound)
	}
	return vc, nil
}

// Put replaces a voter's checkpoint history in one transaction.
func (s *CheckpointStore) Put(ctx context.Context, vc domain.VoterCheckpoints) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin put checkpoints for %s: %w", vc.Voter, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM voter_checkpoints WHERE voter = $1`, vc.Voter); err != nil {
		return fmt.Errorf("postgres: clear checkpoints for %s: %w", vc.Voter, err)
	}

	const insert = `
		INSERT INTO voter_checkpoints (voter, ordinal, slot, balance)
		VALUES ($1, $2, $3, $4)`
	for i, cp := range vc.Checkpoints {
		if _, err := tx.Exec(ctx, insert, vc.Voter, i, int64(cp.Slot), int64(cp.Balance)); err != nil {
			return fmt.Errorf("postgres: insert checkpoint %d for %s: %w", i, vc.Voter, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit put checkpoints for %s: %w", vc.Voter, err)
	}
	return nil
}

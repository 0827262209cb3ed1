package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bitpredict/engine/internal/domain"
)

// NFTStore implements domain.NFTStore using PostgreSQL.
type NFTStore struct {
	pool *pgxpool.Pool
}

// NewNFTStore creates a new NFTStore backed by the given connection pool.
func NewNFTStore(pool *pgxpool.Pool) *NFTStore {
	return &NFTStore{pool: pool}
}

// Put inserts or updates an attested NFT record.
func (s *NFTStore) Put(ctx context.Context, r domain.NFTRecord) error {
	const query = `
		INSERT INTO nft_records (nft_mint, voter, collection, verified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (nft_mint) DO UPDATE SET
			voter      = EXCLUDED.voter,
			collection = EXCLUDED.collection,
			verified   = EXCLUDED.verified`
	_, err := s.pool.Exec(ctx, query, r.NFTMint, r.Voter, r.Collection, r.Verified)
	if err != nil {
		return fmt.Errorf("postgres: put nft %s: %w", r.NFTMint, err)
	}
	return nil
}

// Remove deletes an NFT record by mint.
func (s *NFTStore) Remove(ctx context.Context, nftMint string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM nft_records WHERE nft_mint = $1`, nftMint)
	if err != nil {
		return fmt.Errorf("postgres: remove nft %s: %w", nftMint, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: nft %s: %w", nftMint, domain.ErrNotFound)
	}
	return nil
}

// CountVerified counts a voter's verified NFTs in a collection, stopping at
// max when max is positive.
func (s *NFTStore) CountVerified(ctx context.Context, voter, collection string, max int) (int, error) {
	query := `
		SELECT COUNT(*) FROM nft_records
		WHERE voter = $1 AND collection = $2 AND verified`
	args := []any{voter, collection}
	if max > 0 {
		query = `
			SELECT COUNT(*) FROM (
				SELECT 1 FROM nft_records
				WHERE voter = $1 AND collection = $2 AND verified
				LIMIT $3
			) capped`
		args = append(args, max)
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count verified nfts for %s: %w", voter, err)
	}
	return n, nil
}

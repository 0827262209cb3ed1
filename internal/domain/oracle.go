package domain

import (
	"context"
	"time"
)

// TokenLedger is the transfer oracle. Transfers must be atomic with the
// surrounding operation; the host rolls both back together on failure.
type TokenLedger interface {
	// Transfer moves amount from one account to another. It returns
	// ErrInsufficientFunds when the source balance does not cover amount.
	Transfer(ctx context.Context, from, to string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
}

// Attestor is the NFT attestation oracle: it answers how many verified
// members of a collection an owner holds, inspecting at most max tokens.
type Attestor interface {
	VerifiedCount(ctx context.Context, owner, collection string, max int) (int, error)
}

// Authenticator is the authentication oracle.
type Authenticator interface {
	// Verify reports whether signature over message was produced by the
	// key behind the given principal address.
	Verify(principal string, message, signature []byte) (bool, error)
}

// Clock supplies wall time plus a monotonic slot used for checkpoint
// snapshots.
type Clock interface {
	Now() (time.Time, uint64)
}

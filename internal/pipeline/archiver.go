package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitpredict/engine/internal/domain"
)

// Archiver periodically moves settled markets from the database to object
// storage cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retainFor    time.Duration
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver. retainFor is how long a resolved
// market stays in the database before it is swept to cold storage.
func NewArchiver(blobArchiver domain.Archiver, retainFor time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver: blobArchiver,
		retainFor:    retainFor,
		logger:       logger,
	}
}

// Run executes a single archive pass over markets resolved before the
// retention cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retainFor)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retain_for", a.retainFor),
	)

	archived, err := a.blobArchiver.ArchiveSettledMarkets(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archiving markets before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete", slog.Int64("markets_archived", archived))
	return nil
}

// RunLoop runs archive passes on a fixed interval until the context is
// cancelled. Individual pass failures are logged and do not stop the loop.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

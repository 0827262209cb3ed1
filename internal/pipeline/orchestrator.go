package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/service"
)

// Orchestrator manages the background goroutines: cold-storage archival and
// the event pump. Either sub-system may be nil to disable it.
type Orchestrator struct {
	archiver        *Archiver
	pump            *EventPump
	archiveInterval time.Duration
	pumpInterval    time.Duration
	logger          *slog.Logger
}

// NewOrchestrator creates a new Orchestrator coordinating the background
// sub-systems.
func NewOrchestrator(
	archiver *Archiver,
	pump *EventPump,
	archiveInterval time.Duration,
	pumpInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		archiver:        archiver,
		pump:            pump,
		archiveInterval: archiveInterval,
		pumpInterval:    pumpInterval,
		logger:          logger,
	}
}

// Run starts the sub-systems as concurrent goroutines using an errgroup.
// Each goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("archive_interval", o.archiveInterval),
		slog.Duration("pump_interval", o.pumpInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver loop")
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if o.pump != nil {
		g.Go(func() error {
			o.logger.Info("starting event pump")
			err := o.pump.Run(ctx, o.pumpInterval, map[string]string{
				service.StreamMarketEvents:     domain.ChannelMarketEvents,
				service.StreamGovernanceEvents: domain.ChannelGovernanceEvents,
			})
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("event pump: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

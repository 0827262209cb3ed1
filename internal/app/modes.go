package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/pipeline"
)

// pumpInterval is how often the event pump polls the durable streams.
const pumpInterval = 2 * time.Second

// ServeMode seeds the singleton configs on first start and runs the
// background pipeline (settlement archiver and event pump) until the context
// is cancelled. Dev mode runs the same loops against in-memory backends.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if err := a.bootstrap(ctx, deps); err != nil {
		return err
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetainFor.Duration, a.logger)
	}
	pump := pipeline.NewEventPump(deps.SignalBus, deps.EventSigner, a.logger)

	orch := pipeline.NewOrchestrator(
		archiver,
		pump,
		a.cfg.Archive.Interval.Duration,
		pumpInterval,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	return g.Wait()
}

// MigrateMode applies the embedded schema migrations and exits.
func (a *App) MigrateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "running migrations")
	if deps.Postgres == nil {
		return fmt.Errorf("app: migrate mode requires postgres")
	}
	if err := deps.Postgres.RunMigrations(ctx); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.logger.InfoContext(ctx, "migrations complete")
	return nil
}

// bootstrap seeds the persisted singleton engine and governance configs from
// the file config on first start. Existing persisted configs win; admin
// setters are the only way to change them afterwards.
func (a *App) bootstrap(ctx context.Context, deps *Dependencies) error {
	_, err := deps.EngineCfgStore.Get(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		seed := domain.EngineConfig{
			Owner:             a.cfg.Engine.Owner,
			BaseToken:         a.cfg.Engine.BaseToken,
			ServiceFeeAccount: a.cfg.Engine.ServiceFeeAccount,
			CharityFeeAccount: a.cfg.Engine.CharityFeeAccount,
			RemainderAccount:  a.cfg.Engine.RemainderAccount,
		}
		if err := deps.EngineCfgStore.Put(ctx, seed); err != nil {
			return fmt.Errorf("app: seed engine config: %w", err)
		}
		a.logger.InfoContext(ctx, "seeded engine config",
			slog.String("owner", seed.Owner),
		)
	case err != nil:
		return fmt.Errorf("app: load engine config: %w", err)
	}

	_, err = deps.QuestStore.GetConfig(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		seed := domain.GovernanceConfig{
			Authority:      a.cfg.Governance.Authority,
			BaseToken:      a.cfg.Governance.BaseToken,
			NFTCollection:  a.cfg.Governance.NFTCollection,
			Treasury:       a.cfg.Governance.Treasury,
			MinTotalVote:   a.cfg.Governance.MinTotalVote,
			MaxTotalVote:   a.cfg.Governance.MaxTotalVote,
			MinRequiredNFT: a.cfg.Governance.MinRequiredNFT,
			MaxVotableNFT:  a.cfg.Governance.MaxVotableNFT,
			Duration:       a.cfg.Governance.VoteWindow.Duration,
			RewardPerVote:  a.cfg.Governance.RewardPerVote,
		}
		if err := deps.QuestStore.PutConfig(ctx, seed); err != nil {
			return fmt.Errorf("app: seed governance config: %w", err)
		}
		a.logger.InfoContext(ctx, "seeded governance config",
			slog.String("authority", seed.Authority),
		)
	case err != nil:
		return fmt.Errorf("app: load governance config: %w", err)
	}

	return nil
}

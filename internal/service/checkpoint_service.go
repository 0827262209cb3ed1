package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/governance"
)

// CheckpointService maintains per-voter voting-power checkpoints. Refresh is
// the only write path into a checkpoint history.
type CheckpointService struct {
	quests domain.QuestStore
	cps    domain.CheckpointStore
	locks  domain.LockManager
	engine *governance.Engine
	auth   domain.Authenticator
	pub    *Publisher
	logger *slog.Logger
}

// NewCheckpointService creates a CheckpointService with all required
// dependencies.
func NewCheckpointService(
	quests domain.QuestStore,
	cps domain.CheckpointStore,
	locks domain.LockManager,
	engine *governance.Engine,
	auth domain.Authenticator,
	pub *Publisher,
	logger *slog.Logger,
) *CheckpointService {
	return &CheckpointService{
		quests: quests,
		cps:    cps,
		locks:  locks,
		engine: engine,
		auth:   auth,
		pub:    pub,
		logger: logger,
	}
}

// Refresh re-counts the calling voter's verified collection NFTs and records
// a checkpoint at the current slot.
func (s *CheckpointService) Refresh(ctx context.Context, caller Caller) (uint64, uint64, error) {
	if err := authenticate(s.auth, caller); err != nil {
		return 0, 0, err
	}
	voter := caller.Principal

	unlock, err := s.locks.Acquire(ctx, "checkpoints:"+voter, opLockTTL)
	if err != nil {
		return 0, 0, fmt.Errorf("checkpoint_service: lock checkpoints for %s: %w", voter, err)
	}
	defer unlock()

	cfg, err := s.quests.GetConfig(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("checkpoint_service: get config: %w", err)
	}
	vc, err := s.cps.Get(ctx, voter)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, 0, fmt.Errorf("checkpoint_service: get checkpoints for %s: %w", voter, err)
	}

	slot, balance, err := s.engine.RefreshCheckpoint(ctx, &cfg, &vc, voter)
	if err != nil {
		return 0, 0, err
	}

	if err := s.cps.Put(ctx, vc); err != nil {
		return 0, 0, fmt.Errorf("checkpoint_service: put checkpoints for %s: %w", voter, err)
	}

	s.pub.Emit(ctx, domain.ChannelGovernanceEvents, StreamGovernanceEvents, EventCheckpointUpdated, domain.CheckpointUpdatedEvent{
		Voter:   voter,
		Slot:    slot,
		Balance: balance,
	})
	s.logger.DebugContext(ctx, "checkpoint_service: checkpoint refreshed",
		slog.String("voter", voter),
		slog.Uint64("slot", slot),
		slog.Uint64("balance", balance),
	)
	return slot, balance, nil
}

// GetPastVotes returns the voter's checkpointed balance at or before the
// target slot.
func (s *CheckpointService) GetPastVotes(ctx context.Context, voter string, targetSlot uint64) (uint64, error) {
	vc, err := s.cps.Get(ctx, voter)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("checkpoint_service: get checkpoints for %s: %w", voter, err)
	}
	return vc.GetPastVotes(targetSlot), nil
}

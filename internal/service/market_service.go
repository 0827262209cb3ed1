package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/market"
)

// Per-object lock TTL. Operations are short; the TTL only bounds leakage
// when an instance dies while holding a lock.
const opLockTTL = 10 * time.Second

// Bet throttle: at most betRateLimit bets per voter per betRateWindow.
const (
	betRateLimit  = 10
	betRateWindow = time.Second
)

func marketLockKey(marketKey uint64) string {
	return fmt.Sprintf("market:%d", marketKey)
}

// MarketService orchestrates market operations: it authenticates the caller,
// serializes same-market operations through the lock manager, loads state,
// runs the engine, persists every mutated object, and emits events. Cache
// and event failures are non-fatal; store failures abort the operation.
type MarketService struct {
	markets domain.MarketStore
	bets    domain.BetStore
	config  domain.EngineConfigStore
	cache   domain.MarketCache
	locks   domain.LockManager
	limiter domain.RateLimiter
	engine  *market.Engine
	ledger  domain.TokenLedger
	auth    domain.Authenticator
	pub     *Publisher
	logger  *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
// The ledger must be the same one the engine transfers through; the service
// uses it to reverse committed movements when a later persist step fails.
func NewMarketService(
	markets domain.MarketStore,
	bets domain.BetStore,
	config domain.EngineConfigStore,
	cache domain.MarketCache,
	locks domain.LockManager,
	limiter domain.RateLimiter,
	engine *market.Engine,
	ledger domain.TokenLedger,
	auth domain.Authenticator,
	pub *Publisher,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		bets:    bets,
		config:  config,
		cache:   cache,
		locks:   locks,
		limiter: limiter,
		engine:  engine,
		ledger:  ledger,
		auth:    auth,
		pub:     pub,
		logger:  logger,
	}
}

// reverseTransfer undoes a committed ledger movement after a store write
// failed, keeping account balances in step with the market state that never
// landed. A reversal that itself fails is logged at error level for manual
// reconciliation.
func (s *MarketService) reverseTransfer(ctx context.Context, marketKey uint64, from, to string, amount uint64) {
	if amount == 0 {
		return
	}
	if err := s.ledger.Transfer(ctx, from, to, amount); err != nil {
		s.logger.ErrorContext(ctx, "market_service: compensation transfer failed, accounts need manual reconciliation",
			slog.Uint64("market_key", marketKey),
			slog.String("from", from),
			slog.String("to", to),
			slog.Uint64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}

// Publish creates a new market in Approved with its immutable answer set.
// The caller must be the creator named in the params.
func (s *MarketService) Publish(ctx context.Context, caller Caller, p market.PublishParams) (domain.Market, error) {
	if err := authenticate(s.auth, caller); err != nil {
		return domain.Market{}, err
	}
	if err := requirePrincipal(caller, p.Creator); err != nil {
		return domain.Market{}, err
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(p.MarketKey), opLockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: lock market %d: %w", p.MarketKey, err)
	}
	defer unlock()

	if _, err := s.markets.Get(ctx, p.MarketKey); err == nil {
		return domain.Market{}, fmt.Errorf("market_service: market %d: %w", p.MarketKey, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, fmt.Errorf("market_service: get market %d: %w", p.MarketKey, err)
	}

	m, as, err := s.engine.Publish(p)
	if err != nil {
		return domain.Market{}, err
	}
	if err := s.markets.Create(ctx, m, as); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market %d: %w", p.MarketKey, err)
	}

	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Uint64("market_key", m.MarketKey),
			slog.String("error", cacheErr.Error()),
		)
	}

	s.pub.Emit(ctx, domain.ChannelMarketEvents, StreamMarketEvents, EventMarketPublished, domain.MarketPublishedEvent{
		MarketKey:     m.MarketKey,
		Creator:       m.Creator,
		BettingToken:  m.BettingToken,
		Title:         m.Title,
		CreateFee:     m.CreatorFee,
		CreatorFeeBps: m.CreatorFeeBps,
		ServiceFeeBps: m.ServiceFeeBps,
		CharityFeeBps: m.CharityFeeBps,
		AnswerKeys:    p.AnswerKeys,
	})

	s.logger.InfoContext(ctx, "market_service: market published",
		slog.Uint64("market_key", m.MarketKey),
		slog.String("creator", m.Creator),
	)
	return m, nil
}

// PlaceBet stakes tokens on one answer for the calling voter. Repeat bets on
// the same answer accumulate into a single record.
func (s *MarketService) PlaceBet(ctx context.Context, caller Caller, marketKey, answerKey, amount uint64) (domain.Bet, error) {
	if err := authenticate(s.auth, caller); err != nil {
		return domain.Bet{}, err
	}
	voter := caller.Principal

	allowed, err := s.limiter.Allow(ctx, "bets:"+voter, betRateLimit, betRateWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "market_service: rate limiter unavailable",
			slog.String("voter", voter),
			slog.String("error", err.Error()),
		)
		// Fail open: a broken limiter must not halt betting.
	} else if !allowed {
		return domain.Bet{}, fmt.Errorf("market_service: bet rate exceeded for %s: %w", voter, domain.ErrValidation)
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketKey), opLockTTL)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("market_service: lock market %d: %w", marketKey, err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("market_service: get engine config: %w", err)
	}
	m, as, err := s.loadMarket(ctx, marketKey)
	if err != nil {
		return domain.Bet{}, err
	}
	bet, err := s.bets.Get(ctx, voter, marketKey, answerKey)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Bet{}, fmt.Errorf("market_service: get bet: %w", err)
	}

	if err := s.engine.PlaceBet(ctx, &cfg, &m, &as, &bet, voter, answerKey, amount); err != nil {
		return domain.Bet{}, err
	}

	// The stake already moved into the pool; a failed write below must send
	// it back or the voter loses tokens against a bet that never landed.
	pool := market.PoolAccount(marketKey)
	if err := s.bets.Upsert(ctx, bet); err != nil {
		s.reverseTransfer(ctx, marketKey, pool, voter, amount)
		return domain.Bet{}, fmt.Errorf("market_service: upsert bet: %w", err)
	}
	if err := s.markets.UpdateAnswers(ctx, as); err != nil {
		s.reverseTransfer(ctx, marketKey, pool, voter, amount)
		return domain.Bet{}, fmt.Errorf("market_service: update answers: %w", err)
	}
	if err := s.markets.Update(ctx, m); err != nil {
		s.reverseTransfer(ctx, marketKey, pool, voter, amount)
		return domain.Bet{}, fmt.Errorf("market_service: update market %d: %w", marketKey, err)
	}

	s.invalidate(ctx, marketKey)
	s.pub.Emit(ctx, domain.ChannelMarketEvents, StreamMarketEvents, EventBetPlaced, domain.BetPlacedEvent{
		Voter:     voter,
		MarketKey: marketKey,
		AnswerKey: answerKey,
		Amount:    amount,
	})
	return bet, nil
}

// Finish stops bet placement on a market. Owner only.
func (s *MarketService) Finish(ctx context.Context, caller Caller, marketKey uint64) error {
	m, err := s.adminMarketOp(ctx, caller, marketKey, func(cfg *domain.EngineConfig, m *domain.Market, as *domain.AnswerSet) (func(context.Context), error) {
		return nil, s.engine.Finish(m)
	})
	if err != nil {
		return err
	}
	s.pub.Emit(ctx, domain.ChannelMarketEvents, StreamMarketEvents, EventMarketFinished, domain.MarketFinishedEvent{
		MarketKey: m.MarketKey,
	})
	return nil
}

// ResolveSuccess resolves a finished market with its correct answer,
// distributing the fee shares out of the pool. Owner only.
func (s *MarketService) ResolveSuccess(ctx context.Context, caller Caller, marketKey, correctAnswerKey uint64) (market.FeeSplit, error) {
	var fees market.FeeSplit
	m, err := s.adminMarketOp(ctx, caller, marketKey, func(cfg *domain.EngineConfig, m *domain.Market, as *domain.AnswerSet) (func(context.Context), error) {
		var opErr error
		fees, opErr = s.engine.ResolveSuccess(ctx, cfg, m, as, correctAnswerKey)
		if opErr != nil {
			return nil, opErr
		}
		pool := market.PoolAccount(marketKey)
		creator := m.Creator
		serviceAcct := cfg.ServiceFeeAccount
		charityAcct := cfg.CharityFeeAccount
		return func(uctx context.Context) {
			s.reverseTransfer(uctx, marketKey, creator, pool, fees.TotalCreatorFee)
			s.reverseTransfer(uctx, marketKey, serviceAcct, pool, fees.ServiceFee)
			s.reverseTransfer(uctx, marketKey, charityAcct, pool, fees.CharityFee)
		}, nil
	})
	if err != nil {
		return market.FeeSplit{}, err
	}

	s.pub.Emit(ctx, domain.ChannelMarketEvents, StreamMarketEvents, EventMarketSuccess, domain.MarketSuccessEvent{
		MarketKey:    m.MarketKey,
		AnswerKey:    m.CorrectAnswerKey,
		CreatorFee:   fees.TotalCreatorFee,
		ServiceFee:   fees.ServiceFee,
		CharityFee:   fees.CharityFee,
		RemainTokens: m.RemainTokens,
	})
	s.logger.InfoContext(ctx, "market_service: market resolved success",
		slog.Uint64("market_key", m.MarketKey),
		slog.Uint64("correct_answer", m.CorrectAnswerKey),
		slog.Uint64("reward_base", fees.RewardBase),
	)
	return fees, nil
}

// ResolveAdjourn cancels a market; every stake becomes refundable. Owner
// only.
func (s *MarketService) ResolveAdjourn(ctx context.Context, caller Caller, marketKey uint64) error {
	m, err := s.adminMarketOp(ctx, caller, marketKey, func(cfg *domain.EngineConfig, m *domain.Market, as *domain.AnswerSet) (func(context.Context), error) {
		return nil, s.engine.ResolveAdjourn(m)
	})
	if err != nil {
		return err
	}
	s.pub.Emit(ctx, domain.ChannelMarketEvents, StreamMarketEvents, EventMarketAdjourned, domain.MarketAdjournedEvent{
		MarketKey: m.MarketKey,
	})
	return nil
}

// Claim settles the calling voter's bet on a resolved market: the pro-rata
// reward on Success, the full stake back on Adjourn, zero for a losing bet.
// The bet record is closed either way.
func (s *MarketService) Claim(ctx context.Context, caller Caller, marketKey, answerKey uint64) (uint64, error) {
	if err := authenticate(s.auth, caller); err != nil {
		return 0, err
	}
	voter := caller.Principal

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketKey), opLockTTL)
	if err != nil {
		return 0, fmt.Errorf("market_service: lock market %d: %w", marketKey, err)
	}
	defer unlock()

	m, as, err := s.loadMarket(ctx, marketKey)
	if err != nil {
		return 0, err
	}
	bet, err := s.bets.Get(ctx, voter, marketKey, answerKey)
	if err != nil {
		return 0, fmt.Errorf("market_service: get bet: %w", err)
	}

	payout, err := s.engine.Claim(ctx, &m, &as, &bet)
	if err != nil {
		return 0, err
	}

	// The payout already left the pool; send it back if the bet cannot be
	// closed, otherwise the voter could claim the same bet again.
	pool := market.PoolAccount(marketKey)
	if err := s.bets.Close(ctx, voter, marketKey, answerKey); err != nil {
		s.reverseTransfer(ctx, marketKey, voter, pool, payout)
		return 0, fmt.Errorf("market_service: close bet: %w", err)
	}
	if err := s.markets.Update(ctx, m); err != nil {
		s.reverseTransfer(ctx, marketKey, voter, pool, payout)
		return 0, fmt.Errorf("market_service: update market %d: %w", marketKey, err)
	}

	s.invalidate(ctx, marketKey)
	s.pub.Emit(ctx, domain.ChannelMarketEvents, StreamMarketEvents, EventTokenReceived, domain.TokenReceivedEvent{
		Receiver:       voter,
		MarketKey:      marketKey,
		AnswerKey:      answerKey,
		ReceivedTokens: payout,
	})
	return payout, nil
}

// RetrieveRemainder sweeps the unclaimed pool of a resolved market to the
// configured remainder account once the claim validity window has elapsed.
// Owner only.
func (s *MarketService) RetrieveRemainder(ctx context.Context, caller Caller, marketKey uint64) (uint64, error) {
	var amount uint64
	m, err := s.adminMarketOp(ctx, caller, marketKey, func(cfg *domain.EngineConfig, m *domain.Market, as *domain.AnswerSet) (func(context.Context), error) {
		var opErr error
		amount, opErr = s.engine.RetrieveRemainder(ctx, cfg, m)
		if opErr != nil {
			return nil, opErr
		}
		remainderAcct := cfg.RemainderAccount
		return func(uctx context.Context) {
			s.reverseTransfer(uctx, marketKey, remainderAcct, market.PoolAccount(marketKey), amount)
		}, nil
	})
	if err != nil {
		return 0, err
	}
	s.pub.Emit(ctx, domain.ChannelMarketEvents, StreamMarketEvents, EventRemainderRetrieved, domain.RemainderRetrievedEvent{
		MarketKey: m.MarketKey,
		Amount:    amount,
	})
	return amount, nil
}

// GetMarket retrieves a market by key, cache first.
func (s *MarketService) GetMarket(ctx context.Context, marketKey uint64) (domain.Market, error) {
	m, err := s.cache.Get(ctx, marketKey)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.Get(ctx, marketKey)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %d: %w", marketKey, err)
	}

	// Back-fill cache; log but do not fail on cache write errors.
	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Uint64("market_key", marketKey),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// GetAnswers returns a market's answer set with per-answer staked totals.
func (s *MarketService) GetAnswers(ctx context.Context, marketKey uint64) (domain.AnswerSet, error) {
	as, err := s.markets.GetAnswers(ctx, marketKey)
	if err != nil {
		return domain.AnswerSet{}, fmt.Errorf("market_service: get answers %d: %w", marketKey, err)
	}
	return as, nil
}

// ListByStatus returns markets in the given status from the persistent
// store.
func (s *MarketService) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by status %s: %w", status, err)
	}
	return markets, nil
}

// LockUser bans a voter from betting. Owner only.
func (s *MarketService) LockUser(ctx context.Context, caller Caller, voter string) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.EngineConfig) error {
		if err := cfg.LockUser(voter); err != nil {
			return fmt.Errorf("market_service: lock user %s: %w", voter, err)
		}
		return nil
	})
}

// UnlockUser lifts a voter's betting ban. Owner only.
func (s *MarketService) UnlockUser(ctx context.Context, caller Caller, voter string) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.EngineConfig) error {
		if err := cfg.UnlockUser(voter); err != nil {
			return fmt.Errorf("market_service: unlock user %s: %w", voter, err)
		}
		return nil
	})
}

// SetAccount repoints one of the payout destination accounts. kind is one of
// "service", "charity", or "remainder". Owner only.
func (s *MarketService) SetAccount(ctx context.Context, caller Caller, kind, account string) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.EngineConfig) error {
		if account == "" {
			return fmt.Errorf("market_service: set %s account: empty account: %w", kind, domain.ErrValidation)
		}
		switch kind {
		case "service":
			cfg.ServiceFeeAccount = account
		case "charity":
			cfg.CharityFeeAccount = account
		case "remainder":
			cfg.RemainderAccount = account
		default:
			return fmt.Errorf("market_service: set account: unknown kind %q: %w", kind, domain.ErrValidation)
		}
		return nil
	})
}

// SetBaseToken changes the betting token for markets published afterwards.
// Owner only.
func (s *MarketService) SetBaseToken(ctx context.Context, caller Caller, token string) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.EngineConfig) error {
		if token == "" {
			return fmt.Errorf("market_service: set base token: empty token: %w", domain.ErrValidation)
		}
		cfg.BaseToken = token
		return nil
	})
}

// UpdateOwner hands engine ownership to a new principal. Owner only; takes
// effect for the next operation.
func (s *MarketService) UpdateOwner(ctx context.Context, caller Caller, newOwner string) error {
	return s.updateConfig(ctx, caller, func(cfg *domain.EngineConfig) error {
		if newOwner == "" {
			return fmt.Errorf("market_service: update owner: empty owner: %w", domain.ErrValidation)
		}
		cfg.Owner = newOwner
		return nil
	})
}

// loadMarket fetches the market and its answer set from the store.
func (s *MarketService) loadMarket(ctx context.Context, marketKey uint64) (domain.Market, domain.AnswerSet, error) {
	m, err := s.markets.Get(ctx, marketKey)
	if err != nil {
		return domain.Market{}, domain.AnswerSet{}, fmt.Errorf("market_service: get market %d: %w", marketKey, err)
	}
	as, err := s.markets.GetAnswers(ctx, marketKey)
	if err != nil {
		return domain.Market{}, domain.AnswerSet{}, fmt.Errorf("market_service: get answers %d: %w", marketKey, err)
	}
	return m, as, nil
}

// adminMarketOp runs an owner-gated engine mutation under the market lock
// and persists the updated market. An op that moved ledger funds returns an
// undo that reverses the movement; it runs when the market row fails to
// persist.
func (s *MarketService) adminMarketOp(ctx context.Context, caller Caller, marketKey uint64, op func(*domain.EngineConfig, *domain.Market, *domain.AnswerSet) (func(context.Context), error)) (domain.Market, error) {
	if err := authenticate(s.auth, caller); err != nil {
		return domain.Market{}, err
	}
	cfg, err := s.config.Get(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get engine config: %w", err)
	}
	if err := requirePrincipal(caller, cfg.Owner); err != nil {
		return domain.Market{}, err
	}

	unlock, err := s.locks.Acquire(ctx, marketLockKey(marketKey), opLockTTL)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: lock market %d: %w", marketKey, err)
	}
	defer unlock()

	m, as, err := s.loadMarket(ctx, marketKey)
	if err != nil {
		return domain.Market{}, err
	}
	undo, err := op(&cfg, &m, &as)
	if err != nil {
		return domain.Market{}, err
	}

	if err := s.markets.Update(ctx, m); err != nil {
		if undo != nil {
			undo(ctx)
		}
		return domain.Market{}, fmt.Errorf("market_service: update market %d: %w", marketKey, err)
	}
	s.invalidate(ctx, marketKey)
	return m, nil
}

// updateConfig applies an owner-gated mutation to the singleton engine
// config under the config lock.
func (s *MarketService) updateConfig(ctx context.Context, caller Caller, op func(*domain.EngineConfig) error) error {
	if err := authenticate(s.auth, caller); err != nil {
		return err
	}

	unlock, err := s.locks.Acquire(ctx, "engine-config", opLockTTL)
	if err != nil {
		return fmt.Errorf("market_service: lock engine config: %w", err)
	}
	defer unlock()

	cfg, err := s.config.Get(ctx)
	if err != nil {
		return fmt.Errorf("market_service: get engine config: %w", err)
	}
	if err := requirePrincipal(caller, cfg.Owner); err != nil {
		return err
	}
	if err := op(&cfg); err != nil {
		return err
	}
	if err := s.config.Put(ctx, cfg); err != nil {
		return fmt.Errorf("market_service: put engine config: %w", err)
	}
	return nil
}

func (s *MarketService) invalidate(ctx context.Context, marketKey uint64) {
	if err := s.cache.Invalidate(ctx, marketKey); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.Uint64("market_key", marketKey),
			slog.String("error", err.Error()),
		)
		// Non-fatal: the cache will eventually expire on its own.
	}
}

package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"github.com/bitpredict/engine/internal/domain"
)

// Claim validity windows, measured from the resolution timestamp. Once the
// window for a market's terminal status has elapsed, the owner may sweep the
// remaining pool and late claimants should check RetrieveAvailable first.
const (
	SuccessValidityWindow = 90 * 24 * time.Hour
	AdjournValidityWindow = 30 * 24 * time.Hour
)

// PoolAccount returns the ledger account holding a market's staked tokens.
func PoolAccount(marketKey uint64) string {
	return fmt.Sprintf("pool:market:%d", marketKey)
}

// Engine executes market operations against loaded state objects. It mutates
// the passed-in objects and invokes the transfer oracle; persisting the
// mutations is the caller's responsibility, and the host guarantees that a
// failed operation discards every mutation together.
type Engine struct {
	ledger domain.TokenLedger
	clock  domain.Clock
}

// NewEngine creates an Engine backed by the given transfer oracle and clock.
func NewEngine(ledger domain.TokenLedger, clock domain.Clock) *Engine {
	return &Engine{ledger: ledger, clock: clock}
}

// PublishParams carries the inputs for publishing a new market.
type PublishParams struct {
	MarketKey     uint64
	Creator       string
	Title         string
	BettingToken  string
	CreateFee     uint64
	CreatorFeeBps uint64
	ServiceFeeBps uint64
	CharityFeeBps uint64
	AnswerKeys    []uint64
}

// Publish creates a market directly in Approved with its immutable answer
// set. Answer keys must be non-empty, at most MaxAnswers, and free of
// duplicates; the three fee percentages must not sum past 100%.
func (e *Engine) Publish(p PublishParams) (domain.Market, domain.AnswerSet, error) {
	if strings.TrimSpace(p.Title) == "" || len(p.Title) > domain.MaxTitleLen {
		return domain.Market{}, domain.AnswerSet{}, fmt.Errorf("market: title length %d: %w", len(p.Title), domain.ErrValidation)
	}
	if len(p.AnswerKeys) == 0 {
		return domain.Market{}, domain.AnswerSet{}, fmt.Errorf("market: no answers provided: %w", domain.ErrValidation)
	}
	if len(p.AnswerKeys) > domain.MaxAnswers {
		return domain.Market{}, domain.AnswerSet{}, fmt.Errorf("market: %d answers exceeds max %d: %w", len(p.AnswerKeys), domain.MaxAnswers, domain.ErrValidation)
	}
	uniq := append([]uint64(nil), p.AnswerKeys...)
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	for i := 1; i < len(uniq); i++ {
		if uniq[i] == uniq[i-1] {
			return domain.Market{}, domain.AnswerSet{}, fmt.Errorf("market: duplicate answer key %d: %w", uniq[i], domain.ErrValidation)
		}
	}
	if p.CreatorFeeBps+p.ServiceFeeBps+p.CharityFeeBps > BasisPoints {
		return domain.Market{}, domain.AnswerSet{}, fmt.Errorf("market: fee percentages exceed %d bps: %w", BasisPoints, domain.ErrValidation)
	}

	now, _ := e.clock.Now()

	m := domain.Market{
		MarketKey:     p.MarketKey,
		Creator:       p.Creator,
		BettingToken:  p.BettingToken,
		Title:         p.Title,
		Status:        domain.MarketStatusApproved,
		CreatorFee:    p.CreateFee,
		CreatorFeeBps: p.CreatorFeeBps,
		ServiceFeeBps: p.ServiceFeeBps,
		CharityFeeBps: p.CharityFeeBps,
		ApproveTime:   now,
	}

	as := domain.AnswerSet{MarketKey: p.MarketKey, Answers: make([]domain.Answer, 0, len(p.AnswerKeys))}
	for _, k := range p.AnswerKeys {
		as.Answers = append(as.Answers, domain.Answer{AnswerKey: k})
	}
	return m, as, nil
}

// PlaceBet stakes amount on one answer. The bet record accumulates on
// repeats to the same (voter, market, answer); the transfer into the pool
// happens through the ledger oracle.
func (e *Engine) PlaceBet(ctx context.Context, cfg *domain.EngineConfig, m *domain.Market, as *domain.AnswerSet, bet *domain.Bet, voter string, answerKey, amount uint64) error {
	if m.Status != domain.MarketStatusApproved {
		return fmt.Errorf("market %d: bet in status %s: %w", m.MarketKey, m.Status, domain.ErrPhaseViolation)
	}
	if amount == 0 {
		return fmt.Errorf("market %d: zero bet amount: %w", m.MarketKey, domain.ErrValidation)
	}
	if cfg.IsLocked(voter) {
		return fmt.Errorf("market %d: voter %s: %w", m.MarketKey, voter, domain.ErrUserLocked)
	}
	if !as.Contains(answerKey) {
		return fmt.Errorf("market %d: answer %d: %w", m.MarketKey, answerKey, domain.ErrNotFound)
	}

	if err := e.ledger.Transfer(ctx, voter, PoolAccount(m.MarketKey), amount); err != nil {
		return fmt.Errorf("market %d: stake transfer: %w", m.MarketKey, err)
	}

	as.Add(answerKey, amount)

	now, _ := e.clock.Now()
	if !bet.Exists {
		bet.Voter = voter
		bet.MarketKey = m.MarketKey
		bet.AnswerKey = answerKey
		bet.CreateTime = now
		bet.Exists = true
	}
	bet.Tokens += amount

	m.TotalTokens += amount
	m.RemainTokens += amount
	return nil
}

// Finish stops bet placement ahead of resolution.
func (e *Engine) Finish(m *domain.Market) error {
	if m.Status != domain.MarketStatusApproved {
		return fmt.Errorf("market %d: finish in status %s: %w", m.MarketKey, m.Status, domain.ErrPhaseViolation)
	}
	now, _ := e.clock.Now()
	m.Status = domain.MarketStatusFinished
	m.FinishTime = now
	return nil
}

// ResolveSuccess resolves a Finished market to Success with the given
// correct answer, extracts the fee shares from the pool, and leaves the
// reward base as the remaining pool for winner claims.
func (e *Engine) ResolveSuccess(ctx context.Context, cfg *domain.EngineConfig, m *domain.Market, as *domain.AnswerSet, correctAnswerKey uint64) (FeeSplit, error) {
	if m.Status != domain.MarketStatusFinished {
		return FeeSplit{}, fmt.Errorf("market %d: resolve success in status %s: %w", m.MarketKey, m.Status, domain.ErrPhaseViolation)
	}
	if !as.Contains(correctAnswerKey) {
		return FeeSplit{}, fmt.Errorf("market %d: correct answer %d: %w", m.MarketKey, correctAnswerKey, domain.ErrNotFound)
	}

	fees, err := SplitFees(m.RemainTokens, m.CreatorFee, m.CreatorFeeBps, m.ServiceFeeBps, m.CharityFeeBps)
	if err != nil {
		return FeeSplit{}, fmt.Errorf("market %d: fee split: %w", m.MarketKey, err)
	}

	now, _ := e.clock.Now()
	m.Status = domain.MarketStatusSuccess
	m.CorrectAnswerKey = correctAnswerKey
	m.SuccessTime = now
	m.CreatorFee = fees.TotalCreatorFee
	m.RewardBaseTokens = fees.RewardBase
	m.RemainTokens = fees.RewardBase

	pool := PoolAccount(m.MarketKey)
	if err := e.ledger.Transfer(ctx, pool, m.Creator, fees.TotalCreatorFee); err != nil {
		return FeeSplit{}, fmt.Errorf("market %d: creator fee transfer: %w", m.MarketKey, err)
	}
	if err := e.ledger.Transfer(ctx, pool, cfg.ServiceFeeAccount, fees.ServiceFee); err != nil {
		return FeeSplit{}, fmt.Errorf("market %d: service fee transfer: %w", m.MarketKey, err)
	}
	if err := e.ledger.Transfer(ctx, pool, cfg.CharityFeeAccount, fees.CharityFee); err != nil {
		return FeeSplit{}, fmt.Errorf("market %d: charity fee transfer: %w", m.MarketKey, err)
	}
	return fees, nil
}

// ResolveAdjourn cancels a market without a winner. No fees are extracted;
// every staked bet becomes refundable in full. Adjourning is allowed both
// before and after betting has been stopped.
func (e *Engine) ResolveAdjourn(m *domain.Market) error {
	if m.Status != domain.MarketStatusApproved && m.Status != domain.MarketStatusFinished {
		return fmt.Errorf("market %d: adjourn in status %s: %w", m.MarketKey, m.Status, domain.ErrPhaseViolation)
	}
	now, _ := e.clock.Now()
	m.Status = domain.MarketStatusAdjourn
	m.AdjournTime = now
	return nil
}

// Claim settles one bet of a resolved market. On Success the winning bet
// receives its pro-rata share of the reward base; a losing bet pays zero.
// On Adjourn the full original stake is refunded. A zero payout skips the
// transfer but still closes the bet record.
func (e *Engine) Claim(ctx context.Context, m *domain.Market, as *domain.AnswerSet, bet *domain.Bet) (uint64, error) {
	if m.Status != domain.MarketStatusSuccess && m.Status != domain.MarketStatusAdjourn {
		return 0, fmt.Errorf("market %d: claim in status %s: %w", m.MarketKey, m.Status, domain.ErrPhaseViolation)
	}

	percentage := new(uint256.Int)
	switch {
	case m.Status == domain.MarketStatusSuccess && bet.AnswerKey == m.CorrectAnswerKey:
		p, err := ClaimPercentage(m.RewardBaseTokens, as.Total(m.CorrectAnswerKey))
		if err != nil {
			return 0, fmt.Errorf("market %d: claim percentage: %w", m.MarketKey, err)
		}
		percentage = p
	case m.Status == domain.MarketStatusAdjourn:
		if !as.Contains(bet.AnswerKey) {
			return 0, fmt.Errorf("market %d: answer %d: %w", m.MarketKey, bet.AnswerKey, domain.ErrNotFound)
		}
		percentage.SetUint64(BasisPoints)
	}

	payout, err := PayoutAtPercentage(bet.Tokens, percentage)
	if err != nil {
		return 0, fmt.Errorf("market %d: claim payout: %w", m.MarketKey, err)
	}
	if payout > m.RemainTokens {
		return 0, fmt.Errorf("market %d: payout %d exceeds remaining pool %d: %w", m.MarketKey, payout, m.RemainTokens, domain.ErrInsufficientFunds)
	}

	m.RemainTokens -= payout

	if payout > 0 {
		if err := e.ledger.Transfer(ctx, PoolAccount(m.MarketKey), bet.Voter, payout); err != nil {
			return 0, fmt.Errorf("market %d: claim transfer: %w", m.MarketKey, err)
		}
	}
	return payout, nil
}

// RetrieveAvailable reports whether the claim validity window of a resolved
// market has elapsed, i.e. whether the leftover pool may be swept. Callers
// should consult this before attempting late claims.
func (e *Engine) RetrieveAvailable(m *domain.Market) (bool, error) {
	if m.Status != domain.MarketStatusSuccess && m.Status != domain.MarketStatusAdjourn {
		return false, fmt.Errorf("market %d: retrieve check in status %s: %w", m.MarketKey, m.Status, domain.ErrPhaseViolation)
	}
	now, _ := e.clock.Now()
	if m.Status == domain.MarketStatusSuccess {
		return now.Sub(m.SuccessTime) > SuccessValidityWindow, nil
	}
	return now.Sub(m.AdjournTime) > AdjournValidityWindow, nil
}

// RetrieveRemainder sweeps the unclaimed remaining pool to the configured
// remainder account once the validity window has elapsed.
func (e *Engine) RetrieveRemainder(ctx context.Context, cfg *domain.EngineConfig, m *domain.Market) (uint64, error) {
	ok, err := e.RetrieveAvailable(m)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("market %d: validity window still open: %w", m.MarketKey, domain.ErrPhaseViolation)
	}

	amount := m.RemainTokens
	if amount == 0 {
		return 0, nil
	}
	if err := e.ledger.Transfer(ctx, PoolAccount(m.MarketKey), cfg.RemainderAccount, amount); err != nil {
		return 0, fmt.Errorf("market %d: remainder transfer: %w", m.MarketKey, err)
	}
	m.RemainTokens = 0
	return amount, nil
}

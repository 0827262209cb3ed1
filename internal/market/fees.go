// Package market implements the prediction-market resolution and settlement
// engine: the market lifecycle state machine, the fee-split arithmetic, and
// the pro-rata claim payout computation.
package market

import (
	"github.com/holiman/uint256"

	"github.com/bitpredict/engine/internal/domain"
)

// BasisPoints is the fixed-point fraction base: 10000 bps = 100%.
const BasisPoints = 10_000

// FeeSplit is the result of resolving a market to Success: the pool is
// partitioned exactly into three fee shares plus the reward base.
type FeeSplit struct {
	// TotalCreatorFee includes the market's pre-existing create fee.
	TotalCreatorFee      uint64
	AdditionalCreatorFee uint64
	ServiceFee           uint64
	CharityFee           uint64
	RewardBase           uint64
}

func mulDivBps(amount, bps uint64) (uint64, error) {
	// amount*bps fits 128 bits; the wide type cannot overflow here. The
	// check guards the narrowing back to 64 bits.
	v := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(bps))
	v.Div(v, uint256.NewInt(BasisPoints))
	if !v.IsUint64() {
		return 0, domain.ErrOverflow
	}
	return v.Uint64(), nil
}

// CalculateFee computes amount*feeBps/10000 with a wide intermediate,
// truncating toward zero.
func CalculateFee(amount, feeBps uint64) (uint64, error) {
	return mulDivBps(amount, feeBps)
}

// SplitFees partitions remainTokens into creator/service/charity fees and
// the reward base. The invariant additionalCreator+service+charity+rewardBase
// == remainTokens holds exactly; the creator share additionally accumulates
// the pre-existing createFee.
func SplitFees(remainTokens, existingCreatorFee, creatorBps, serviceBps, charityBps uint64) (FeeSplit, error) {
	creator, err := mulDivBps(remainTokens, creatorBps)
	if err != nil {
		return FeeSplit{}, err
	}
	service, err := mulDivBps(remainTokens, serviceBps)
	if err != nil {
		return FeeSplit{}, err
	}
	charity, err := mulDivBps(remainTokens, charityBps)
	if err != nil {
		return FeeSplit{}, err
	}

	total := new(uint256.Int).AddUint64(new(uint256.Int).AddUint64(uint256.NewInt(creator), service), charity)
	if total.GtUint64(remainTokens) {
		return FeeSplit{}, domain.ErrOverflow
	}
	rewardBase := remainTokens - total.Uint64()

	totalCreator := new(uint256.Int).AddUint64(uint256.NewInt(existingCreatorFee), creator)
	if !totalCreator.IsUint64() {
		return FeeSplit{}, domain.ErrOverflow
	}

	return FeeSplit{
		TotalCreatorFee:      totalCreator.Uint64(),
		AdditionalCreatorFee: creator,
		ServiceFee:           service,
		CharityFee:           charity,
		RewardBase:           rewardBase,
	}, nil
}

// ClaimPercentage returns the scaled payout percentage for a winning claim:
// rewardBase*10000/answerTotal. Kept as a separate step from Payout so small
// bets against large pools do not lose precision to a single division.
func ClaimPercentage(rewardBase, answerTotal uint64) (*uint256.Int, error) {
	if answerTotal == 0 {
		return nil, domain.ErrOverflow
	}
	p := new(uint256.Int).Mul(uint256.NewInt(rewardBase), uint256.NewInt(BasisPoints))
	p.Div(p, uint256.NewInt(answerTotal))
	return p, nil
}

// PayoutAtPercentage applies a scaled percentage to a bet amount:
// betTokens*percentage/10000.
func PayoutAtPercentage(betTokens uint64, percentage *uint256.Int) (uint64, error) {
	v := new(uint256.Int).Mul(uint256.NewInt(betTokens), percentage)
	v.Div(v, uint256.NewInt(BasisPoints))
	if !v.IsUint64() {
		return 0, domain.ErrOverflow
	}
	return v.Uint64(), nil
}

// Package feeengine implements the protocol's dynamic fee system: a
// time-decaying base rate driven up by redemption activity, a utilization
// premium on borrowing, and a recent-redemption-volume premium on
// redemptions. The base-rate decay is entirely integer arithmetic (no
// floating-point power function), for deterministic consensus execution
// across validators — see DESIGN.md.
package feeengine

import (
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/config"
)

// RedemptionRecord is one bucketed redemption event used for the recent-
// redemption premium and history pruning.
type RedemptionRecord struct {
	Block  uint64
	Amount amounts.Cents
}

// Engine computes borrowing and redemption fees against a ProtocolState's
// base rate accumulator.
type Engine struct {
	params *config.ProtocolParams

	// history is pruned to twice the lookback window, newest last, bounded
	// at maxHistory entries (matching MAX_REDEMPTION_HISTORY in the
	// original source).
	history []RedemptionRecord
}

const maxHistory = 1000

// New returns a fee engine bound to the given (shared) protocol params.
func New(params *config.ProtocolParams) *Engine {
	return &Engine{params: params}
}

// Restore returns a fee engine seeded with a previously persisted
// redemption history, so the recent-redemption premium survives a
// restart instead of resetting to zero.
func Restore(params *config.ProtocolParams, history []RedemptionRecord) *Engine {
	return &Engine{params: params, history: append([]RedemptionRecord(nil), history...)}
}

// History returns a copy of the engine's bounded redemption history, for
// persistence.
func (e *Engine) History() []RedemptionRecord {
	return append([]RedemptionRecord(nil), e.history...)
}

// DecayedBaseRate applies an integer halving for every full half-life
// elapsed, plus a linear-interpolation correction for the partial
// remainder.
func DecayedBaseRate(baseRateBps, elapsedBlocks, halfLifeBlocks uint64) uint64 {
	if halfLifeBlocks == 0 || baseRateBps == 0 {
		return baseRateBps
	}
	periods := elapsedBlocks / halfLifeBlocks
	if periods > 63 {
		return 0
	}
	shifted := baseRateBps >> periods
	if shifted == 0 {
		return 0
	}
	remainder := elapsedBlocks % halfLifeBlocks
	// Linearly approximate the next halving across the partial interval:
	// shifted is reduced by up to half of itself, proportional to how far
	// into the next half-life period we are.
	correction, err := amounts.MulDiv(shifted, remainder, halfLifeBlocks)
	if err != nil {
		return shifted
	}
	correction /= 2
	if correction >= shifted {
		return 0
	}
	return shifted - correction
}

// UtilizationPremium returns the additional bps charged on borrowing once
// system debt exceeds UtilizationPremiumThresholdBps of the debt ceiling,
// scaling linearly up to MaxUtilizationPremiumBps at 100% utilization.
func (e *Engine) UtilizationPremium(systemDebtCents, debtCeilingCents uint64) uint64 {
	if debtCeilingCents == 0 {
		return 0
	}
	utilBps, err := amounts.MulDiv(systemDebtCents, uint64(amounts.BpsPrecision), debtCeilingCents)
	if err != nil {
		return e.params.MaxUtilizationPremiumBps
	}
	threshold := e.params.UtilizationPremiumThresholdBps
	if utilBps <= threshold {
		return 0
	}
	span := uint64(amounts.BpsPrecision) - threshold
	if span == 0 {
		return e.params.MaxUtilizationPremiumBps
	}
	excess := utilBps - threshold
	premium, err := amounts.MulDiv(excess, e.params.MaxUtilizationPremiumBps, span)
	if err != nil || premium > e.params.MaxUtilizationPremiumBps {
		return e.params.MaxUtilizationPremiumBps
	}
	return premium
}

// RecentRedemptionPremium sums the redemption volume within the lookback
// window ending at currentBlock, scaled against the debt ceiling, capped
// at MaxRecentRedemptionPremiumBps.
func (e *Engine) RecentRedemptionPremium(currentBlock, debtCeilingCents uint64) uint64 {
	if debtCeilingCents == 0 {
		return 0
	}
	lookback := e.params.RedemptionLookbackBlocks
	var sum uint64
	for _, rec := range e.history {
		if currentBlock >= rec.Block && currentBlock-rec.Block <= lookback {
			sum += uint64(rec.Amount)
		}
	}
	premium, err := amounts.MulDiv(sum, uint64(amounts.BpsPrecision), debtCeilingCents)
	if err != nil || premium > e.params.MaxRecentRedemptionPremiumBps {
		return e.params.MaxRecentRedemptionPremiumBps
	}
	return premium
}

// BorrowingFeeBps computes the MintDebt fee: decayed base rate plus a
// utilization premium, clamped to [MinBorrowingFeeBps, MaxBorrowingFeeBps].
func (e *Engine) BorrowingFeeBps(state *config.ProtocolState, currentBlock uint64) uint64 {
	decayed := DecayedBaseRate(state.BaseRateBps, currentBlock-state.LastRedemptionBlock, e.params.BaseRateHalfLifeBlocks)
	premium := e.UtilizationPremium(state.TotalSystemDebtCents, state.DebtCeilingCents)
	fee := e.params.MinBorrowingFeeBps + decayed + premium
	if fee > e.params.MaxBorrowingFeeBps {
		fee = e.params.MaxBorrowingFeeBps
	}
	return fee
}

// RedemptionFeeBps computes the Redeem fee: decayed base + recent-
// redemption premium, clamped to [MinRedemptionFeeBps, MaxRedemptionFeeBps].
func (e *Engine) RedemptionFeeBps(state *config.ProtocolState, currentBlock uint64) uint64 {
	decayed := DecayedBaseRate(state.BaseRateBps, currentBlock-state.LastRedemptionBlock, e.params.BaseRateHalfLifeBlocks)
	premium := e.RecentRedemptionPremium(currentBlock, state.DebtCeilingCents)
	fee := e.params.MinRedemptionFeeBps + decayed + premium
	if fee > e.params.MaxRedemptionFeeBps {
		fee = e.params.MaxRedemptionFeeBps
	}
	return fee
}

// RecordRedemption bumps the base rate in proportion to the redeemed
// amount relative to total system debt, and records the redemption for the
// recent-redemption premium lookback. Mints never call an equivalent of
// this; only redemptions bump the base rate.
func (e *Engine) RecordRedemption(state *config.ProtocolState, currentBlock uint64, amount amounts.Cents) {
	if state.TotalSystemDebtCents > 0 {
		ratio, err := amounts.MulDiv(uint64(amount), e.params.BaseRateRedemptionConstant, state.TotalSystemDebtCents)
		if err == nil {
			state.BaseRateBps += ratio
		}
	}
	state.LastRedemptionBlock = currentBlock
	e.history = append(e.history, RedemptionRecord{Block: currentBlock, Amount: amount})
	e.pruneHistory(currentBlock)
}

// pruneHistory drops redemption records older than twice the lookback
// window, and caps the slice at maxHistory entries.
func (e *Engine) pruneHistory(currentBlock uint64) {
	cutoff := 2 * e.params.RedemptionLookbackBlocks
	kept := e.history[:0]
	for _, rec := range e.history {
		if currentBlock-rec.Block <= cutoff {
			kept = append(kept, rec)
		}
	}
	e.history = kept
	if len(e.history) > maxHistory {
		e.history = append([]RedemptionRecord(nil), e.history[len(e.history)-maxHistory:]...)
	}
}

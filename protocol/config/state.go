package config

import "zkusdcore/protocol/amounts"

// ProtocolState is the dynamic half of the protocol config entity: the
// counters and flags every operation reads and updates, as opposed to the
// fixed ProtocolParams loaded once at startup.
type ProtocolState struct {
	TotalSystemDebtCents      uint64
	TotalSystemCollateralSats uint64
	DebtCeilingCents          uint64

	// BaseRateBps is the fee engine's time-decaying accumulator, in bps:
	// protocol/feeengine adds its decayed value directly to the fee bps.
	BaseRateBps uint64

	LastRedemptionBlock uint64

	RecoveryMode bool
	Paused       bool

	// BadDebtCents accumulates uncovered residual debt written off after a
	// direct liquidation whose collateral could not cover debt + bonus.
	// See DESIGN.md Open Question #4: redistribution is not implemented.
	BadDebtCents uint64

	CurrentPriceCentsPerBTC uint64
	CurrentPriceTimestamp   uint64
}

// NewProtocolState seeds a fresh dynamic state from the static params.
func NewProtocolState(params ProtocolParams) ProtocolState {
	return ProtocolState{DebtCeilingCents: params.InitialDebtCeilingCents}
}

// Clone returns a value copy; ProtocolState has no pointer fields so a
// plain struct copy is always a deep copy.
func (s ProtocolState) Clone() ProtocolState { return s }

// TCR computes the Total Collateralization Ratio of the whole system at the
// current price. Zero system debt is treated as +infinity, matching the
// per-CDP ratio convention.
func (s *ProtocolState) TCR() (amounts.Bps, error) {
	return amounts.Ratio(amounts.Sats(s.TotalSystemCollateralSats), s.CurrentPriceCentsPerBTC, amounts.Cents(s.TotalSystemDebtCents))
}

// ShouldEnterRecoveryMode reports whether TCR has fallen below the critical
// collateralization ratio.
func (s *ProtocolState) ShouldEnterRecoveryMode(ccrBps uint64) (bool, error) {
	tcr, err := s.TCR()
	if err != nil {
		return false, err
	}
	if tcr == amounts.MaxRatio {
		return false, nil
	}
	return uint64(tcr) < ccrBps, nil
}

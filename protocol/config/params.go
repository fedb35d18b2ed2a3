// Package config loads and validates the protocol-wide parameter surface
// described in the configuration surface table: MCR/CCR thresholds, fee
// bounds, debt limits, the base-rate half-life, and oracle tolerances.
package config

import (
	"encoding/hex"
	"fmt"

	"zkusdcore/protocol/amounts"
)

// ProtocolParams is the immutable-ish parameter surface read from TOML at
// startup. None of these fields change during normal operation; changing
// them is an out-of-band governance action, not a state-machine operation.
type ProtocolParams struct {
	MinCollateralRatioBps     uint64 `toml:"MinCollateralRatioBps"`
	CriticalCollateralRatioBps uint64 `toml:"CriticalCollateralRatioBps"`

	MinBorrowingFeeBps uint64 `toml:"MinBorrowingFeeBps"`
	MaxBorrowingFeeBps uint64 `toml:"MaxBorrowingFeeBps"`

	MinRedemptionFeeBps uint64 `toml:"MinRedemptionFeeBps"`
	MaxRedemptionFeeBps uint64 `toml:"MaxRedemptionFeeBps"`

	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps"`

	MinDebtCents        uint64 `toml:"MinDebtCents"`
	MaxDebtPerCDPCents   uint64 `toml:"MaxDebtPerCDPCents"`

	// InitialDebtCeilingCents seeds the dynamic debt ceiling at genesis.
	// The ceiling itself is runtime state (ProtocolState.DebtCeilingCents),
	// not an immutable parameter: a future governance surface could raise
	// it, but this core has no operation that mutates it directly.
	InitialDebtCeilingCents uint64 `toml:"InitialDebtCeilingCents"`

	BaseRateHalfLifeBlocks uint64 `toml:"BaseRateHalfLifeBlocks"`
	RedemptionLookbackBlocks uint64 `toml:"RedemptionLookbackBlocks"`
	BaseRateRedemptionConstant uint64 `toml:"BaseRateRedemptionConstant"`

	UtilizationPremiumThresholdBps uint64 `toml:"UtilizationPremiumThresholdBps"`
	MaxUtilizationPremiumBps       uint64 `toml:"MaxUtilizationPremiumBps"`
	MaxRecentRedemptionPremiumBps  uint64 `toml:"MaxRecentRedemptionPremiumBps"`

	MinOracleSources       uint64 `toml:"MinOracleSources"`
	MaxPriceStalenessSecs  uint64 `toml:"MaxPriceStalenessSecs"`
	MaxPriceDeviationBps   uint64 `toml:"MaxPriceDeviationBps"`

	// AuthorizedOracles lists the hex-encoded compressed public keys
	// permitted to submit UpdatePrice operations. Governance onboarding/
	// removal of oracles is out of scope; this list is fixed at load time.
	AuthorizedOracles []string `toml:"AuthorizedOracles"`
}

// IsAuthorizedOracle reports whether pubKeyBytes (compressed encoding)
// appears in AuthorizedOracles.
func (p *ProtocolParams) IsAuthorizedOracle(pubKeyBytes []byte) bool {
	encoded := hex.EncodeToString(pubKeyBytes)
	for _, candidate := range p.AuthorizedOracles {
		if candidate == encoded {
			return true
		}
	}
	return false
}

// EnsureDefaults fills in protocol-reasonable defaults for any zero-valued
// field, mirroring native/lending's Config.EnsureDefaults convention.
func (p *ProtocolParams) EnsureDefaults() {
	if p.MinCollateralRatioBps == 0 {
		p.MinCollateralRatioBps = 11000 // 110%
	}
	if p.CriticalCollateralRatioBps == 0 {
		p.CriticalCollateralRatioBps = 15000 // 150%
	}
	if p.MinBorrowingFeeBps == 0 {
		p.MinBorrowingFeeBps = 50
	}
	if p.MaxBorrowingFeeBps == 0 {
		p.MaxBorrowingFeeBps = 500
	}
	if p.MinRedemptionFeeBps == 0 {
		p.MinRedemptionFeeBps = 50
	}
	if p.MaxRedemptionFeeBps == 0 {
		p.MaxRedemptionFeeBps = 500
	}
	if p.LiquidationBonusBps == 0 {
		p.LiquidationBonusBps = 1000 // 10%
	}
	if p.MaxDebtPerCDPCents == 0 {
		p.MaxDebtPerCDPCents = 1_000_000_000_00 // $1B notional ceiling per CDP
	}
	if p.InitialDebtCeilingCents == 0 {
		p.InitialDebtCeilingCents = 1_000_000_000_000_00 // $1T system ceiling
	}
	if p.BaseRateHalfLifeBlocks == 0 {
		p.BaseRateHalfLifeBlocks = 2880
	}
	if p.RedemptionLookbackBlocks == 0 {
		p.RedemptionLookbackBlocks = 5760
	}
	if p.BaseRateRedemptionConstant == 0 {
		p.BaseRateRedemptionConstant = 5000 // redemption_ratio/2, expressed as a bps-of-bps constant
	}
	if p.UtilizationPremiumThresholdBps == 0 {
		p.UtilizationPremiumThresholdBps = 8000 // 80%
	}
	if p.MaxUtilizationPremiumBps == 0 {
		p.MaxUtilizationPremiumBps = 200
	}
	if p.MaxRecentRedemptionPremiumBps == 0 {
		p.MaxRecentRedemptionPremiumBps = 200
	}
	if p.MinOracleSources == 0 {
		p.MinOracleSources = 3
	}
	if p.MaxPriceStalenessSecs == 0 {
		p.MaxPriceStalenessSecs = 3600
	}
	if p.MaxPriceDeviationBps == 0 {
		p.MaxPriceDeviationBps = 200
	}
}

// Validate rejects parameter combinations that can never be satisfied.
func (p *ProtocolParams) Validate() error {
	if p.CriticalCollateralRatioBps <= p.MinCollateralRatioBps {
		return fmt.Errorf("config: CriticalCollateralRatioBps must exceed MinCollateralRatioBps")
	}
	if p.MaxBorrowingFeeBps < p.MinBorrowingFeeBps {
		return fmt.Errorf("config: MaxBorrowingFeeBps must be >= MinBorrowingFeeBps")
	}
	if p.MaxRedemptionFeeBps < p.MinRedemptionFeeBps {
		return fmt.Errorf("config: MaxRedemptionFeeBps must be >= MinRedemptionFeeBps")
	}
	if p.MinDebtCents > p.MaxDebtPerCDPCents {
		return fmt.Errorf("config: MinDebtCents must be <= MaxDebtPerCDPCents")
	}
	if p.BaseRateHalfLifeBlocks == 0 {
		return fmt.Errorf("config: BaseRateHalfLifeBlocks must be positive")
	}
	if p.MinOracleSources == 0 {
		return fmt.Errorf("config: MinOracleSources must be positive")
	}
	return nil
}

// Clone returns a deep copy: AuthorizedOracles is copied into a new slice,
// and every other field is a plain scalar.
func (p ProtocolParams) Clone() ProtocolParams {
	p.AuthorizedOracles = append([]string(nil), p.AuthorizedOracles...)
	return p
}

// EffectiveMCR returns CCR when recoveryMode is true, else MCR, per the
// "effective MCR" derivation in the data model.
func (p *ProtocolParams) EffectiveMCR(recoveryMode bool) amounts.Bps {
	if recoveryMode {
		return amounts.Bps(p.CriticalCollateralRatioBps)
	}
	return amounts.Bps(p.MinCollateralRatioBps)
}

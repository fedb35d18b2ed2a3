// Package circuits defines the public/private input schemas and
// constraint lists for each state-transition operation's proof. Each
// circuit gets its own concrete PublicInputs/PrivateInputs/Output trio
// (execute, circuit_id, constraint_count) rather than a single generic
// interface, since Go has no associated-type mechanism to express one
// Circuit abstraction with a distinct input/output shape per case.
package circuits

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/merkle"
)

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func transitionHash(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// --- Deposit ---------------------------------------------------------------

type DepositPublicInputs struct {
	StateRootBefore [32]byte
	StateRootAfter  [32]byte
	CDPID           [32]byte
	BlockHeight     uint64
}

type DepositPrivateInputs struct {
	CollateralBefore, CollateralAfter amounts.Sats
	DebtBefore, DebtAfter             amounts.Cents
	MembershipProof                   merkle.Proof
}

type DepositOutput struct {
	NewCollateral   amounts.Sats
	TransitionHash  [32]byte
}

// DepositCircuit asserts: collateral increases, debt is unchanged, and the
// before-state is authenticated by the supplied Merkle proof.
type DepositCircuit struct{}

func (DepositCircuit) CircuitID() string  { return "deposit_v1" }
func (DepositCircuit) ConstraintCount() int { return 4 }

func (DepositCircuit) Execute(pub DepositPublicInputs, priv DepositPrivateInputs, root [32]byte) (DepositOutput, error) {
	if priv.CollateralAfter <= priv.CollateralBefore {
		return DepositOutput{}, fmt.Errorf("deposit circuit: collateral must increase")
	}
	if priv.DebtAfter != priv.DebtBefore {
		return DepositOutput{}, fmt.Errorf("deposit circuit: debt must not change")
	}
	if !merkle.Verify(root, priv.MembershipProof) {
		return DepositOutput{}, fmt.Errorf("deposit circuit: %w", cdperrors.ErrInvalidSignature)
	}
	hash := transitionHash(pub.StateRootBefore[:], pub.CDPID[:], u64(uint64(priv.CollateralAfter-priv.CollateralBefore)), u64(pub.BlockHeight))
	return DepositOutput{NewCollateral: priv.CollateralAfter, TransitionHash: hash}, nil
}

// --- Withdraw ----------------------------------------------------------------

type WithdrawPublicInputs struct {
	StateRootBefore [32]byte
	StateRootAfter  [32]byte
	CDPID           [32]byte
	BlockHeight     uint64
}

type WithdrawPrivateInputs struct {
	CollateralBefore, CollateralAfter amounts.Sats
	DebtBefore, DebtAfter             amounts.Cents
	PriceCentsPerBTC                  uint64
	EffectiveMCRBps                   amounts.Bps
	MembershipProof                   merkle.Proof
}

type WithdrawOutput struct {
	NewCollateral  amounts.Sats
	NewRatio       amounts.Bps
	TransitionHash [32]byte
}

// WithdrawCircuit asserts: collateral decreases, debt is unchanged, and if
// debt remains the post-withdraw ratio meets the effective MCR.
type WithdrawCircuit struct{}

func (WithdrawCircuit) CircuitID() string  { return "withdraw_v1" }
func (WithdrawCircuit) ConstraintCount() int { return 4 }

func (WithdrawCircuit) Execute(pub WithdrawPublicInputs, priv WithdrawPrivateInputs, root [32]byte) (WithdrawOutput, error) {
	if priv.CollateralAfter >= priv.CollateralBefore {
		return WithdrawOutput{}, fmt.Errorf("withdraw circuit: collateral must decrease")
	}
	if priv.DebtAfter != priv.DebtBefore {
		return WithdrawOutput{}, fmt.Errorf("withdraw circuit: debt must not change")
	}
	if !merkle.Verify(root, priv.MembershipProof) {
		return WithdrawOutput{}, fmt.Errorf("withdraw circuit: %w", cdperrors.ErrInvalidSignature)
	}
	ratio, err := amounts.Ratio(priv.CollateralAfter, priv.PriceCentsPerBTC, priv.DebtAfter)
	if err != nil {
		return WithdrawOutput{}, err
	}
	if priv.DebtAfter > 0 && ratio < priv.EffectiveMCRBps {
		return WithdrawOutput{}, fmt.Errorf("withdraw circuit: %w", cdperrors.ErrCollateralizationRatioTooLow)
	}
	hash := transitionHash(pub.StateRootBefore[:], pub.CDPID[:], u64(uint64(priv.CollateralBefore-priv.CollateralAfter)), u64(pub.BlockHeight))
	return WithdrawOutput{NewCollateral: priv.CollateralAfter, NewRatio: ratio, TransitionHash: hash}, nil
}

// --- Mint ----------------------------------------------------------------

type MintPublicInputs struct {
	StateRootBefore [32]byte
	StateRootAfter  [32]byte
	CDPID           [32]byte
	BlockHeight     uint64
}

type MintPrivateInputs struct {
	CollateralBefore, CollateralAfter amounts.Sats
	DebtBefore, DebtAfter             amounts.Cents
	PriceCentsPerBTC                  uint64
	EffectiveMCRBps                   amounts.Bps
	MembershipProof                   merkle.Proof
}

type MintOutput struct {
	NewDebt        amounts.Cents
	NewRatio       amounts.Bps
	TransitionHash [32]byte
}

// MintCircuit asserts: debt increases, collateral unchanged, and the
// post-mint ratio meets the effective MCR.
type MintCircuit struct{}

func (MintCircuit) CircuitID() string  { return "mint_v1" }
func (MintCircuit) ConstraintCount() int { return 4 }

func (MintCircuit) Execute(pub MintPublicInputs, priv MintPrivateInputs, root [32]byte) (MintOutput, error) {
	if priv.DebtAfter <= priv.DebtBefore {
		return MintOutput{}, fmt.Errorf("mint circuit: debt must increase")
	}
	if priv.CollateralAfter != priv.CollateralBefore {
		return MintOutput{}, fmt.Errorf("mint circuit: collateral must not change")
	}
	if !merkle.Verify(root, priv.MembershipProof) {
		return MintOutput{}, fmt.Errorf("mint circuit: %w", cdperrors.ErrInvalidSignature)
	}
	ratio, err := amounts.Ratio(priv.CollateralAfter, priv.PriceCentsPerBTC, priv.DebtAfter)
	if err != nil {
		return MintOutput{}, err
	}
	if ratio < priv.EffectiveMCRBps {
		return MintOutput{}, fmt.Errorf("mint circuit: %w", cdperrors.ErrCollateralizationRatioTooLow)
	}
	hash := transitionHash(pub.StateRootBefore[:], pub.CDPID[:], u64(uint64(priv.DebtAfter-priv.DebtBefore)), u64(pub.BlockHeight))
	return MintOutput{NewDebt: priv.DebtAfter, NewRatio: ratio, TransitionHash: hash}, nil
}

// --- Repay ----------------------------------------------------------------

type RepayPublicInputs struct {
	StateRootBefore [32]byte
	StateRootAfter  [32]byte
	CDPID           [32]byte
	BlockHeight     uint64
}

type RepayPrivateInputs struct {
	CollateralBefore, CollateralAfter amounts.Sats
	DebtBefore, DebtAfter             amounts.Cents
	MembershipProof                   merkle.Proof
}

type RepayOutput struct {
	NewDebt        amounts.Cents
	TransitionHash [32]byte
}

// RepayCircuit asserts: debt decreases, collateral unchanged.
type RepayCircuit struct{}

func (RepayCircuit) CircuitID() string  { return "repay_v1" }
func (RepayCircuit) ConstraintCount() int { return 3 }

func (RepayCircuit) Execute(pub RepayPublicInputs, priv RepayPrivateInputs, root [32]byte) (RepayOutput, error) {
	if priv.DebtAfter >= priv.DebtBefore {
		return RepayOutput{}, fmt.Errorf("repay circuit: debt must decrease")
	}
	if priv.CollateralAfter != priv.CollateralBefore {
		return RepayOutput{}, fmt.Errorf("repay circuit: collateral must not change")
	}
	if !merkle.Verify(root, priv.MembershipProof) {
		return RepayOutput{}, fmt.Errorf("repay circuit: %w", cdperrors.ErrInvalidSignature)
	}
	hash := transitionHash(pub.StateRootBefore[:], pub.CDPID[:], u64(uint64(priv.DebtBefore-priv.DebtAfter)), u64(pub.BlockHeight))
	return RepayOutput{NewDebt: priv.DebtAfter, TransitionHash: hash}, nil
}

// --- Liquidation -------------------------------------------------------------

type LiquidationPublicInputs struct {
	StateRootBefore  [32]byte
	StateRootAfter   [32]byte
	CDPID            [32]byte
	BTCPriceCents    uint64
	MCRBps           amounts.Bps
	DebtCovered      amounts.Cents
	CollateralSeized amounts.Sats
	BlockHeight      uint64
}

type LiquidationPrivateInputs struct {
	CollateralBefore amounts.Sats
	DebtBefore       amounts.Cents
	LiquidationBonusBps uint64
	MembershipProof  merkle.Proof
}

type LiquidationOutput struct {
	TransitionHash [32]byte
}

// LiquidationCircuit asserts: the CDP was below MCR before liquidation, and
// the seized collateral does not exceed what the debt+bonus could entitle
// the liquidator to (with a small margin for rounding), capped by the
// collateral actually available.
type LiquidationCircuit struct{}

func (LiquidationCircuit) CircuitID() string  { return "liquidation_v1" }
func (LiquidationCircuit) ConstraintCount() int { return 4 }

// smallMarginBps tolerates rounding slop between the circuit's recomputed
// entitlement and the seized amount reported in public inputs.
const smallMarginBps = 10 // 0.10%

func (LiquidationCircuit) Execute(pub LiquidationPublicInputs, priv LiquidationPrivateInputs, root [32]byte) (LiquidationOutput, error) {
	ratioBefore, err := amounts.Ratio(priv.CollateralBefore, pub.BTCPriceCents, priv.DebtBefore)
	if err != nil {
		return LiquidationOutput{}, err
	}
	if ratioBefore >= pub.MCRBps {
		return LiquidationOutput{}, fmt.Errorf("liquidation circuit: %w", cdperrors.ErrCDPHealthy)
	}
	if !merkle.Verify(root, priv.MembershipProof) {
		return LiquidationOutput{}, fmt.Errorf("liquidation circuit: %w", cdperrors.ErrInvalidSignature)
	}
	entitlementNum := uint64(pub.DebtCovered) * (10000 + priv.LiquidationBonusBps)
	entitlement, err := amounts.MulDiv(entitlementNum, amounts.SatsPerBTC, pub.BTCPriceCents*10000)
	if err != nil {
		return LiquidationOutput{}, err
	}
	marginBps := uint64(smallMarginBps)
	ceiling := entitlement + entitlement*marginBps/10000
	if uint64(pub.CollateralSeized) > ceiling {
		return LiquidationOutput{}, fmt.Errorf("liquidation circuit: seized collateral exceeds entitlement")
	}
	if uint64(pub.CollateralSeized) > uint64(priv.CollateralBefore) {
		return LiquidationOutput{}, fmt.Errorf("liquidation circuit: seized collateral exceeds CDP balance")
	}
	hash := transitionHash(pub.StateRootBefore[:], pub.CDPID[:], u64(uint64(pub.DebtCovered)), u64(pub.BlockHeight))
	return LiquidationOutput{TransitionHash: hash}, nil
}

// --- Price Attestation ---------------------------------------------------------

type PriceAttestationPublicInputs struct {
	PriceCentsPerBTC uint64
	Timestamp        uint64
	SourceCount      uint8
	DeviationBps     uint16
}

type PriceAttestationPrivateInputs struct {
	SourcePrices     []uint64
	SourceTimestamps []uint64
	MinSources       uint64
	MaxStalenessSecs uint64
	MaxDeviationBps  uint64
	NowSecs          uint64
}

type PriceAttestationOutput struct {
	TransitionHash [32]byte
}

// PriceAttestationCircuit asserts: the attested price is within
// MaxDeviationBps of the median of at least MinSources timestamped source
// prices, and every source timestamp is within MaxStalenessSecs of now.
type PriceAttestationCircuit struct{}

func (PriceAttestationCircuit) CircuitID() string  { return "price_attestation_v1" }
func (PriceAttestationCircuit) ConstraintCount() int { return 3 }

func (PriceAttestationCircuit) Execute(pub PriceAttestationPublicInputs, priv PriceAttestationPrivateInputs) (PriceAttestationOutput, error) {
	if uint64(len(priv.SourcePrices)) < priv.MinSources {
		return PriceAttestationOutput{}, fmt.Errorf("price attestation circuit: %w", cdperrors.ErrInsufficientOracleSources)
	}
	for _, ts := range priv.SourceTimestamps {
		var age uint64
		if priv.NowSecs > ts {
			age = priv.NowSecs - ts
		}
		if age > priv.MaxStalenessSecs {
			return PriceAttestationOutput{}, fmt.Errorf("price attestation circuit: %w", cdperrors.ErrPriceStale)
		}
	}
	median := medianUint64(priv.SourcePrices)
	var deviation uint64
	if pub.PriceCentsPerBTC > median {
		deviation = pub.PriceCentsPerBTC - median
	} else {
		deviation = median - pub.PriceCentsPerBTC
	}
	deviationBps, err := amounts.MulDiv(deviation, uint64(amounts.BpsPrecision), median)
	if err != nil {
		return PriceAttestationOutput{}, err
	}
	if deviationBps > priv.MaxDeviationBps {
		return PriceAttestationOutput{}, fmt.Errorf("price attestation circuit: %w", cdperrors.ErrPriceDeviationExcessive)
	}
	hash := transitionHash(u64(pub.PriceCentsPerBTC), u64(pub.Timestamp), []byte{pub.SourceCount})
	return PriceAttestationOutput{TransitionHash: hash}, nil
}

func medianUint64(values []uint64) uint64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Package liquidation implements the eligibility check, mode selection,
// and collateral seizure for an undercollateralized CDP. The
// collateral-routing math (bps share to the liquidator, remainder
// rounding) is grounded on native/lending/engine.go's Liquidate method,
// generalized from the lending module's multi-way (liquidator/developer/
// protocol) split down to this protocol's single liquidator-bonus split.
package liquidation

import (
	"fmt"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/config"
	"zkusdcore/protocol/ledger"
	"zkusdcore/protocol/stabilitypool"
	"zkusdcore/protocol/vault"
)

// Mode identifies which liquidation path was taken.
type Mode uint8

const (
	ModePoolAbsorb Mode = iota
	ModeDirect
)

func (m Mode) String() string {
	if m == ModePoolAbsorb {
		return "pool_absorb"
	}
	return "direct"
}

// Result carries everything the CDPLiquidated event needs.
type Result struct {
	Mode             Mode
	DebtCovered      amounts.Cents
	CollateralSeized amounts.Sats
	LiquidatorBonus  amounts.Sats
	RatioAtLiquidation amounts.Bps
	BadDebt          amounts.Cents
}

// Liquidate checks eligibility, picks a mode, and mutates c, v, led, pool,
// and state in place. liquidator is the caller's compressed public key
// bytes, used as its ledger key (direct-mode burn) and vault payout key;
// formerOwner is the vault payout key credited with any residual collateral.
func Liquidate(
	c *cdp.CDP,
	v *vault.Vault,
	led *ledger.Ledger,
	pool *stabilitypool.Pool,
	state *config.ProtocolState,
	params *config.ProtocolParams,
	liquidator []byte,
	formerOwner []byte,
) (Result, error) {
	if c.Status.Terminal() {
		return Result{}, cdperrors.ErrCDPAlreadyTerminal
	}
	ratio, err := c.Ratio(state.CurrentPriceCentsPerBTC)
	if err != nil {
		return Result{}, err
	}
	effectiveMCR := params.EffectiveMCR(state.RecoveryMode)
	if ratio >= effectiveMCR {
		return Result{}, cdperrors.ErrCDPHealthy
	}

	debt := c.DebtCents
	collateral := c.CollateralSats

	bonusSats, err := amounts.MulDiv(uint64(collateral), params.LiquidationBonusBps, uint64(amounts.BpsPrecision))
	if err != nil {
		return Result{}, fmt.Errorf("cdp: liquidation bonus calc: %w", err)
	}
	if amounts.Sats(bonusSats) > collateral {
		bonusSats = uint64(collateral)
	}

	result := Result{RatioAtLiquidation: ratio, DebtCovered: debt}

	if uint64(pool.TotalDeposits()) >= uint64(debt) {
		// Pool absorb: pool takes the debt, collateral minus the
		// liquidator bonus goes to the pool; liquidator is paid the bonus
		// for triggering the liquidation.
		result.Mode = ModePoolAbsorb
		poolCollateral := uint64(collateral) - bonusSats
		if err := pool.Absorb(debt, amounts.Sats(poolCollateral)); err != nil {
			return Result{}, err
		}
		v.Clear(c.ID)
		v.CreditPayout(liquidator, amounts.Sats(bonusSats))
		result.CollateralSeized = collateral
		result.LiquidatorBonus = amounts.Sats(bonusSats)
		state.TotalSystemCollateralSats -= uint64(collateral)
		state.TotalSystemDebtCents -= uint64(debt)
	} else {
		// Direct: liquidator burns tokens equal to the debt and receives
		// collateral worth the debt's value plus the bonus percentage,
		// capped by what's available. The entitlement is computed from
		// the debt's sats value, not by adding a collateral-denominated
		// bonus to a cents-denominated debt — same formula as
		// LiquidationCircuit.Execute's entitlementNum.
		if err := led.Burn(liquidator, debt); err != nil {
			return Result{}, err
		}
		entitlementNum := uint64(debt) * (uint64(amounts.BpsPrecision) + params.LiquidationBonusBps)
		owed, err := amounts.MulDiv(entitlementNum, amounts.SatsPerBTC, state.CurrentPriceCentsPerBTC*uint64(amounts.BpsPrecision))
		if err != nil {
			return Result{}, err
		}
		seize := owed
		if seize > uint64(collateral) {
			seize = uint64(collateral)
		}
		residual := uint64(collateral) - seize

		v.Clear(c.ID)
		v.CreditPayout(liquidator, amounts.Sats(seize))
		result.Mode = ModeDirect
		result.CollateralSeized = amounts.Sats(seize)
		result.LiquidatorBonus = amounts.Sats(bonusSats)
		state.TotalSystemCollateralSats -= uint64(collateral)
		state.TotalSystemDebtCents -= uint64(debt)

		if residual > 0 {
			// Residual collateral (seize satisfied the full entitlement,
			// with sats left over) is returned to the former owner.
			v.CreditPayout(formerOwner, amounts.Sats(residual))
		} else if seize < owed {
			// Collateral insufficient to cover the full entitlement: the
			// uncovered debt becomes protocol bad debt (Open Question #4).
			coveredValue, _ := amounts.MulDiv(seize, state.CurrentPriceCentsPerBTC, amounts.SatsPerBTC)
			if amounts.Cents(coveredValue) < debt {
				bad := debt - amounts.Cents(coveredValue)
				result.BadDebt = bad
				state.BadDebtCents += uint64(bad)
			}
		}
	}

	c.CollateralSats = 0
	c.DebtCents = 0
	c.Status = cdp.StatusLiquidated
	return result, nil
}

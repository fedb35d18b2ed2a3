// Package redemption implements the redemption engine: converting tokens
// back to collateral at face value, minus a fee, by draining the debt of
// the riskiest CDPs first.
package redemption

import (
	"sort"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/config"
	"zkusdcore/protocol/feeengine"
	"zkusdcore/protocol/ledger"
	"zkusdcore/protocol/vault"
)

// CDPUpdate records one CDP's debt/collateral delta during a redemption,
// for event emission.
type CDPUpdate struct {
	ID               cdp.ID
	DebtReduced      amounts.Cents
	CollateralTaken  amounts.Sats
}

// Result carries everything the Redeemed event needs.
type Result struct {
	Requested        amounts.Cents
	FeeBps           uint64
	FeePaid          amounts.Cents
	Burned           amounts.Cents
	CollateralPaid   amounts.Sats
	Updates          []CDPUpdate
}

// Redeem executes a redemption of amount cents by the caller, against the
// supplied CDPs (any order; the engine sorts ascending by ratio, ties
// broken by CDPId). cdps must contain only Active/AtRisk CDPs; terminal
// CDPs are skipped defensively but should not be passed in.
func Redeem(
	cdps []*cdp.CDP,
	v *vault.Vault,
	led *ledger.Ledger,
	fees *feeengine.Engine,
	state *config.ProtocolState,
	currentBlock uint64,
	redeemer []byte,
	amount amounts.Cents,
	maxFeeBps uint64,
) (Result, error) {
	feeBps := fees.RedemptionFeeBps(state, currentBlock)
	if feeBps > maxFeeBps {
		return Result{}, cdperrors.ErrFeeExceedsSlippage
	}

	fee, err := amounts.MulDiv(uint64(amount), feeBps, uint64(amounts.BpsPrecision))
	if err != nil {
		return Result{}, err
	}
	netAmount := uint64(amount) - fee

	ordered := append([]*cdp.CDP(nil), cdps...)
	sort.Slice(ordered, func(i, j int) bool {
		ri, _ := ordered[i].Ratio(state.CurrentPriceCentsPerBTC)
		rj, _ := ordered[j].Ratio(state.CurrentPriceCentsPerBTC)
		if ri != rj {
			return ri < rj
		}
		return lessID(ordered[i].ID, ordered[j].ID)
	})

	remaining := netAmount
	var updates []CDPUpdate
	var totalCollateral uint64

	for _, c := range ordered {
		if remaining == 0 {
			break
		}
		if c.Status.Terminal() || c.DebtCents == 0 {
			continue
		}
		r := remaining
		if uint64(c.DebtCents) < r {
			r = uint64(c.DebtCents)
		}
		collateralTaken, err := amounts.MulDiv(r, amounts.SatsPerBTC, state.CurrentPriceCentsPerBTC)
		if err != nil {
			return Result{}, err
		}
		if amounts.Sats(collateralTaken) > c.CollateralSats {
			collateralTaken = uint64(c.CollateralSats)
		}

		c.DebtCents -= amounts.Cents(r)
		c.CollateralSats -= amounts.Sats(collateralTaken)
		v.Withdraw(c.ID, amounts.Sats(collateralTaken))

		state.TotalSystemDebtCents -= r
		state.TotalSystemCollateralSats -= collateralTaken

		updates = append(updates, CDPUpdate{ID: c.ID, DebtReduced: amounts.Cents(r), CollateralTaken: amounts.Sats(collateralTaken)})
		totalCollateral += collateralTaken
		remaining -= r
	}

	// Burned = requested - remaining_net: whatever of the post-fee amount
	// was not absorbed by CDP debt is refunded, not burned; the fee itself
	// is always burned since it is never available for the redeemer to
	// reclaim as collateral.
	burned := amounts.Cents(uint64(amount) - remaining)
	if err := led.Burn(redeemer, burned); err != nil {
		return Result{}, err
	}
	v.CreditPayout(redeemer, amounts.Sats(totalCollateral))

	fees.RecordRedemption(state, currentBlock, burned)

	return Result{
		Requested:      amount,
		FeeBps:         feeBps,
		FeePaid:        amounts.Cents(fee),
		Burned:         burned,
		CollateralPaid: amounts.Sats(totalCollateral),
		Updates:        updates,
	}, nil
}

func lessID(a, b cdp.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

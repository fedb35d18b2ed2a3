package redemption

import (
	"errors"
	"testing"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/config"
	"zkusdcore/protocol/feeengine"
	"zkusdcore/protocol/ledger"
	"zkusdcore/protocol/vault"
)

func testParams() *config.ProtocolParams {
	p := &config.ProtocolParams{}
	p.EnsureDefaults()
	return p
}

func TestRedeem_DrainsRiskiestCDPFirst(t *testing.T) {
	state := &config.ProtocolState{CurrentPriceCentsPerBTC: 50_000_00}
	v := vault.New()
	led := ledger.New()
	fees := feeengine.New(testParams())

	redeemer := []byte("redeemer")
	led.Mint(redeemer, 1_000_00)

	// riskier has a lower ratio (less collateral per dollar of debt) than safer.
	riskier := &cdp.CDP{ID: cdp.ID{1}, CollateralSats: 240_000, DebtCents: 100_00, Status: cdp.StatusActive}
	safer := &cdp.CDP{ID: cdp.ID{2}, CollateralSats: 1_000_000, DebtCents: 100_00, Status: cdp.StatusActive}
	v.Deposit(riskier.ID, riskier.CollateralSats)
	v.Deposit(safer.ID, safer.CollateralSats)

	result, err := Redeem([]*cdp.CDP{safer, riskier}, v, led, fees, state, 100, redeemer, 50_00, 10_000)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if len(result.Updates) != 1 || result.Updates[0].ID != riskier.ID {
		t.Fatalf("expected only the riskier CDP to be drained, got %+v", result.Updates)
	}
	if safer.DebtCents != 100_00 {
		t.Fatalf("safer CDP should be untouched: debt = %d", safer.DebtCents)
	}
}

func TestRedeem_RejectsWhenFeeExceedsSlippageGuard(t *testing.T) {
	state := &config.ProtocolState{CurrentPriceCentsPerBTC: 50_000_00}
	v := vault.New()
	led := ledger.New()
	fees := feeengine.New(testParams())
	redeemer := []byte("redeemer")

	c := &cdp.CDP{ID: cdp.ID{1}, CollateralSats: 1_000_000, DebtCents: 100_00, Status: cdp.StatusActive}
	v.Deposit(c.ID, c.CollateralSats)

	_, err := Redeem([]*cdp.CDP{c}, v, led, fees, state, 100, redeemer, 50_00, 0)
	if !errors.Is(err, cdperrors.ErrFeeExceedsSlippage) {
		t.Fatalf("Redeem: got %v, want ErrFeeExceedsSlippage", err)
	}
}

func TestRedeem_BurnsFromRedeemerAndCreditsCollateral(t *testing.T) {
	state := &config.ProtocolState{CurrentPriceCentsPerBTC: 50_000_00, TotalSystemDebtCents: 100_00, TotalSystemCollateralSats: 1_000_000}
	v := vault.New()
	led := ledger.New()
	fees := feeengine.New(testParams())
	redeemer := []byte("redeemer")
	led.Mint(redeemer, 1_000_00)

	c := &cdp.CDP{ID: cdp.ID{1}, CollateralSats: 1_000_000, DebtCents: 100_00, Status: cdp.StatusActive}
	v.Deposit(c.ID, c.CollateralSats)

	before := led.Balance(redeemer)
	result, err := Redeem([]*cdp.CDP{c}, v, led, fees, state, 100, redeemer, 50_00, 10_000)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	after := led.Balance(redeemer)
	if before-after != result.Burned {
		t.Fatalf("ledger burned %d, result reports %d burned", before-after, result.Burned)
	}
	if result.CollateralPaid == 0 {
		t.Fatalf("redeemer should be credited collateral")
	}
	if v.PayoutBalance(redeemer) != result.CollateralPaid {
		t.Fatalf("vault payout balance %d does not match result.CollateralPaid %d", v.PayoutBalance(redeemer), result.CollateralPaid)
	}
}

func TestRedeem_SkipsTerminalAndZeroDebtCDPs(t *testing.T) {
	state := &config.ProtocolState{CurrentPriceCentsPerBTC: 50_000_00}
	v := vault.New()
	led := ledger.New()
	fees := feeengine.New(testParams())
	redeemer := []byte("redeemer")
	led.Mint(redeemer, 1_000_00)

	closed := &cdp.CDP{ID: cdp.ID{1}, CollateralSats: 1_000_000, DebtCents: 0, Status: cdp.StatusClosed}
	zeroDebt := &cdp.CDP{ID: cdp.ID{2}, CollateralSats: 1_000_000, DebtCents: 0, Status: cdp.StatusActive}
	active := &cdp.CDP{ID: cdp.ID{3}, CollateralSats: 1_000_000, DebtCents: 100_00, Status: cdp.StatusActive}
	v.Deposit(active.ID, active.CollateralSats)

	result, err := Redeem([]*cdp.CDP{closed, zeroDebt, active}, v, led, fees, state, 100, redeemer, 50_00, 10_000)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if len(result.Updates) != 1 || result.Updates[0].ID != active.ID {
		t.Fatalf("expected only the active, indebted CDP to be touched, got %+v", result.Updates)
	}
}

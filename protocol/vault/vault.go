// Package vault tracks collateral per CDP independently of the CDP entity
// itself, so collateral movements can be audited without touching CDP
// mutation logic — the vault and the CDP are kept in agreement by the
// state machine, never by a shared pointer.
package vault

import (
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
)

// Vault is the collateral-accounting side of the data model.
type Vault struct {
	collateral      map[cdp.ID]amounts.Sats
	totalCollateral amounts.Sats

	// payouts holds sats credited to an owner but not tied to any CDP —
	// collateral returned on WithdrawCollateral/CloseCDP/Liquidate
	// residual/Redeem. Constructing the actual Bitcoin transaction that
	// delivers these sats is out of scope; the protocol core stops at
	// crediting the owner's payout balance.
	payouts map[string]amounts.Sats
}

// New returns an empty vault.
func New() *Vault {
	return &Vault{
		collateral: make(map[cdp.ID]amounts.Sats),
		payouts:    make(map[string]amounts.Sats),
	}
}

// CreditPayout adds amount to owner's externally-claimable sats balance.
func (v *Vault) CreditPayout(owner []byte, amount amounts.Sats) {
	if amount == 0 {
		return
	}
	v.payouts[string(owner)] += amount
}

// PayoutBalance returns owner's current externally-claimable sats balance.
func (v *Vault) PayoutBalance(owner []byte) amounts.Sats {
	return v.payouts[string(owner)]
}

// Collateral returns the sats currently recorded for id.
func (v *Vault) Collateral(id cdp.ID) amounts.Sats { return v.collateral[id] }

// TotalCollateral returns the system-wide collateral accumulator.
func (v *Vault) TotalCollateral() amounts.Sats { return v.totalCollateral }

// Deposit increases id's recorded collateral and the system total.
func (v *Vault) Deposit(id cdp.ID, amount amounts.Sats) {
	v.collateral[id] += amount
	v.totalCollateral += amount
}

// Withdraw decreases id's recorded collateral and the system total. Callers
// must ensure amount does not exceed the recorded balance; the vault itself
// performs no MCR-style validation, that belongs to the state machine.
func (v *Vault) Withdraw(id cdp.ID, amount amounts.Sats) {
	v.collateral[id] -= amount
	v.totalCollateral -= amount
}

// Clear zeroes out id's recorded collateral (used on Close/Liquidate) and
// returns the amount that was cleared.
func (v *Vault) Clear(id cdp.ID) amounts.Sats {
	amount := v.collateral[id]
	delete(v.collateral, id)
	v.totalCollateral -= amount
	return amount
}

// Payouts returns a copy of every owner's externally-claimable sats
// balance, for persistence.
func (v *Vault) Payouts() map[string]amounts.Sats {
	out := make(map[string]amounts.Sats, len(v.payouts))
	for k, val := range v.payouts {
		out[k] = val
	}
	return out
}

// Restore rebuilds a Vault from persisted per-CDP collateral and owner
// payout balances.
func Restore(collateral map[cdp.ID]amounts.Sats, payouts map[string]amounts.Sats) *Vault {
	v := &Vault{
		collateral: make(map[cdp.ID]amounts.Sats, len(collateral)),
		payouts:    make(map[string]amounts.Sats, len(payouts)),
	}
	for id, amount := range collateral {
		v.collateral[id] = amount
		v.totalCollateral += amount
	}
	for owner, amount := range payouts {
		v.payouts[owner] = amount
	}
	return v
}

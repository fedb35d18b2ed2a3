// Package ledger implements the fungible stablecoin token ledger: a mapping
// from public key to a cents balance plus a running total-supply
// accumulator. Mint and Burn change total supply; Transfer moves a balance
// between holders directly, leaving total supply unchanged. Operations such
// as Redeem and StabilityDeposit are built on Mint/Burn.
package ledger

import (
	"fmt"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/amounts"
)

// Ledger tracks balances in memory; the state machine persists it through
// the storage abstraction at block boundaries.
type Ledger struct {
	balances    map[string]amounts.Cents
	totalSupply amounts.Cents
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[string]amounts.Cents)}
}

// Balances returns a copy of every holder's balance, for persistence.
func (l *Ledger) Balances() map[string]amounts.Cents {
	out := make(map[string]amounts.Cents, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// Restore rebuilds a Ledger from a persisted balance map, recomputing total
// supply as their sum.
func Restore(balances map[string]amounts.Cents) *Ledger {
	l := &Ledger{balances: make(map[string]amounts.Cents, len(balances))}
	for holder, amount := range balances {
		l.balances[holder] = amount
		l.totalSupply += amount
	}
	return l
}

// Balance returns the holder's current balance.
func (l *Ledger) Balance(holder []byte) amounts.Cents {
	return l.balances[string(holder)]
}

// TotalSupply returns the running total-supply accumulator.
func (l *Ledger) TotalSupply() amounts.Cents { return l.totalSupply }

// Mint credits holder with amount and increases total supply by the same.
func (l *Ledger) Mint(holder []byte, amount amounts.Cents) {
	if amount == 0 {
		return
	}
	l.balances[string(holder)] += amount
	l.totalSupply += amount
}

// Burn debits holder by amount and decreases total supply by the same. It
// fails if the holder's balance is insufficient.
func (l *Ledger) Burn(holder []byte, amount amounts.Cents) error {
	if amount == 0 {
		return nil
	}
	key := string(holder)
	bal := l.balances[key]
	if bal < amount {
		return fmt.Errorf("%w: have %d, need %d", cdperrors.ErrInsufficientBalance, bal, amount)
	}
	l.balances[key] = bal - amount
	l.totalSupply -= amount
	return nil
}

// Transfer moves amount from sender to recipient atomically.
func (l *Ledger) Transfer(sender, recipient []byte, amount amounts.Cents) error {
	senderKey := string(sender)
	bal := l.balances[senderKey]
	if bal < amount {
		return fmt.Errorf("%w: have %d, need %d", cdperrors.ErrInsufficientBalance, bal, amount)
	}
	l.balances[senderKey] = bal - amount
	l.balances[string(recipient)] += amount
	return nil
}

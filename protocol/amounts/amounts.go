// Package amounts defines the fixed-point scalar types shared across the
// protocol core: collateral in satoshis, debt/balances in cents, and
// ratios/fees in basis points. All conversions route through mulDiv so no
// arithmetic silently overflows a 64-bit intermediate.
package amounts

import (
	"errors"
	"math/big"
)

// Sats counts satoshis (1 BTC = 1e8 sats).
type Sats uint64

// Cents counts US-cent-denominated stablecoin units (1 USD = 100 cents).
type Cents uint64

// Bps counts basis points; BpsPrecision (10000) represents 100.00%.
type Bps uint64

const (
	// SatsPerBTC is the number of satoshis in one whole bitcoin.
	SatsPerBTC = 100_000_000

	// BpsPrecision is the basis-point denominator representing 100%.
	BpsPrecision Bps = 10000
)

// ErrOverflow is returned when a fixed-point computation would not fit in
// the result's 64-bit representation.
var ErrOverflow = errors.New("amounts: overflow")

// ErrDivisionByZero is returned by MulDiv when the divisor is zero.
var ErrDivisionByZero = errors.New("amounts: division by zero")

// MulDiv computes floor(a*b/c) using a big.Int intermediate so the
// multiplication cannot overflow 64 bits before the division is applied.
// Division rounds toward zero, matching the spec's integer-ratio discipline.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Quo(prod, new(big.Int).SetUint64(c))
	if !prod.IsUint64() {
		return 0, ErrOverflow
	}
	return prod.Uint64(), nil
}

// MulDivRoundUp computes ceil(a*b/c) using the same 128-bit-intermediate
// discipline as MulDiv. Used where under-crediting the caller would be the
// unsafe rounding direction (e.g. collateral owed to a liquidator).
func MulDivRoundUp(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	denom := new(big.Int).SetUint64(c)
	quo, rem := new(big.Int).QuoRem(num, denom, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	return quo.Uint64(), nil
}

// Ratio returns collateral*price / (debtCents * SatsPerBTC), scaled by
// BpsPrecision (so 20000 == 200.00%). Debt of zero is treated as +infinity
// and reported as MaxRatio.
func Ratio(collateral Sats, priceCentsPerBTC uint64, debt Cents) (Bps, error) {
	if debt == 0 {
		return MaxRatio, nil
	}
	num, err := MulDiv(uint64(collateral), priceCentsPerBTC, SatsPerBTC)
	if err != nil {
		return 0, err
	}
	ratio, err := MulDiv(num, uint64(BpsPrecision), uint64(debt))
	if err != nil {
		return 0, err
	}
	return Bps(ratio), nil
}

// MaxRatio is the sentinel ratio reported for debt-free CDPs; it must
// compare greater than any finite MCR/CCR threshold used by the protocol.
const MaxRatio Bps = ^Bps(0)

// CentsToSats converts a cents amount to satoshis at the given price
// (cents per whole BTC), rounding toward zero.
func CentsToSats(c Cents, priceCentsPerBTC uint64) (Sats, error) {
	v, err := MulDiv(uint64(c), SatsPerBTC, priceCentsPerBTC)
	if err != nil {
		return 0, err
	}
	return Sats(v), nil
}

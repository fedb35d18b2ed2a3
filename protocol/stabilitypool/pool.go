// Package stabilitypool implements the product/sum accounting that lets the
// protocol track every depositor's current share and pending collateral
// gain in O(1), regardless of how many liquidations have been absorbed
// since they deposited. This is the Liquity-style "compounded deposit"
// algorithm; no repo in the reference corpus implements a stability pool,
// so this package is built directly from that published algorithm, using
// the well-known scale/epoch bookkeeping needed to keep the running
// product from underflowing precision.
package stabilitypool

import (
	"fmt"
	"math/big"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/amounts"
)

var (
	// scale is the fixed-point precision both P and S are carried at.
	scale = big.NewInt(1_000_000_000_000_000_000) // 1e18

	// scaleFactor is the multiplier applied to P (and the trigger for a new
	// scale epoch) when P would otherwise underflow below the precision
	// floor.
	scaleFactor = big.NewInt(1_000_000_000) // 1e9

	// precisionFloor is the threshold below which P is considered at risk
	// of losing all precision on the next absorption.
	precisionFloor = big.NewInt(1_000_000_000) // 1e9
)

// Snapshot captures the pool's product/sum state at the moment a depositor
// joined, so their share can be recomputed later without touching every
// depositor on every absorption.
type Snapshot struct {
	P     *big.Int
	S     *big.Int
	Epoch uint64
	Scale uint64
}

// Deposit is one depositor's position in the pool.
type Deposit struct {
	Owner   []byte
	Initial amounts.Cents
	At      Snapshot
}

// Pool is the stability pool's global state.
type Pool struct {
	p     *big.Int
	epoch uint64
	scale uint64

	// epochToScaleSum[epoch][scale] holds the running S value as of the
	// most recent update at that (epoch, scale) pair. Once the pool moves
	// past a given (epoch, scale), its entry is never written again and
	// so acts as a frozen snapshot for deposits still referencing it.
	epochToScaleSum map[uint64]map[uint64]*big.Int

	totalDeposits        amounts.Cents
	totalCollateralGains amounts.Sats

	deposits map[string]*Deposit
}

// New returns an empty stability pool with P=1.0 (scaled) and S=0 at
// epoch 0, scale 0.
func New() *Pool {
	pool := &Pool{
		p:               new(big.Int).Set(scale),
		epochToScaleSum: map[uint64]map[uint64]*big.Int{0: {0: big.NewInt(0)}},
		deposits:        make(map[string]*Deposit),
	}
	return pool
}

func (pool *Pool) currentS() *big.Int {
	return pool.epochToScaleSum[pool.epoch][pool.scale]
}

func (pool *Pool) setCurrentS(v *big.Int) {
	row, ok := pool.epochToScaleSum[pool.epoch]
	if !ok {
		row = make(map[uint64]*big.Int)
		pool.epochToScaleSum[pool.epoch] = row
	}
	row[pool.scale] = v
}

// TotalDeposits returns the pool-wide deposited cents.
func (pool *Pool) TotalDeposits() amounts.Cents { return pool.totalDeposits }

// TotalCollateralGains returns the collateral gains not yet claimed.
func (pool *Pool) TotalCollateralGains() amounts.Sats { return pool.totalCollateralGains }

// Deposit records a new deposit, or tops up an existing one (folding in any
// value/gain accrued since the owner's last snapshot before re-snapshotting
// at the current product/sum state).
func (pool *Pool) Deposit(owner []byte, amount amounts.Cents) {
	key := string(owner)
	existing := pool.deposits[key]
	combined := amount
	if existing != nil {
		combined += pool.CurrentValue(existing)
		// Any pending gain stays pending (claimed separately via ClaimGains);
		// only the principal is folded into the new snapshot.
	}
	pool.deposits[key] = &Deposit{
		Owner:   append([]byte(nil), owner...),
		Initial: combined,
		At: Snapshot{
			P:     new(big.Int).Set(pool.p),
			S:     new(big.Int).Set(pool.currentS()),
			Epoch: pool.epoch,
			Scale: pool.scale,
		},
	}
	pool.totalDeposits += amount
}

// CurrentValue returns a depositor's current compounded deposit value,
// correcting for every absorption since their snapshot.
func (pool *Pool) CurrentValue(d *Deposit) amounts.Cents {
	if d == nil || d.Initial == 0 {
		return 0
	}
	if d.At.Epoch < pool.epoch {
		// The pool was fully drained at least once since this deposit was
		// made; the depositor's principal was entirely absorbed.
		return 0
	}
	scaleDiff := pool.scale - d.At.Scale
	switch {
	case scaleDiff == 0:
		v := new(big.Int).Mul(new(big.Int).SetUint64(uint64(d.Initial)), pool.p)
		v.Quo(v, d.At.P)
		if !v.IsUint64() {
			return 0
		}
		return amounts.Cents(v.Uint64())
	case scaleDiff == 1:
		v := new(big.Int).Mul(new(big.Int).SetUint64(uint64(d.Initial)), pool.p)
		v.Quo(v, d.At.P)
		v.Quo(v, scaleFactor)
		if !v.IsUint64() {
			return 0
		}
		return amounts.Cents(v.Uint64())
	default:
		// More than one scale jump since the snapshot: the deposit's value
		// has decayed below the representable precision floor.
		return 0
	}
}

// PendingCollateralGain returns the sats owed to the depositor that have
// not yet been claimed.
func (pool *Pool) PendingCollateralGain(d *Deposit) amounts.Sats {
	if d == nil || d.Initial == 0 {
		return 0
	}
	var sNow *big.Int
	if d.At.Epoch < pool.epoch {
		row := pool.epochToScaleSum[d.At.Epoch]
		if row == nil {
			return 0
		}
		sNow = row[d.At.Scale]
		if sNow == nil {
			return 0
		}
	} else {
		sNow = pool.currentS()
	}
	delta := new(big.Int).Sub(sNow, d.At.S)
	if delta.Sign() <= 0 {
		return 0
	}
	gain := new(big.Int).Mul(new(big.Int).SetUint64(uint64(d.Initial)), delta)
	gain.Quo(gain, d.At.P)
	gain.Quo(gain, scale)
	if !gain.IsUint64() {
		return 0
	}
	return amounts.Sats(gain.Uint64())
}

// Withdraw removes up to amount cents from the owner's current (compounded)
// value, re-snapshotting the remainder. It does not touch pending
// collateral gains, which must be claimed separately.
func (pool *Pool) Withdraw(owner []byte, amount amounts.Cents) (amounts.Cents, error) {
	key := string(owner)
	d := pool.deposits[key]
	if d == nil {
		return 0, fmt.Errorf("%w: no stability deposit", cdperrors.ErrInsufficientBalance)
	}
	current := pool.CurrentValue(d)
	if amount > current {
		amount = current
	}
	remaining := current - amount
	pool.totalDeposits -= (current - remaining) // exact accounted decrease
	if remaining == 0 {
		delete(pool.deposits, key)
	} else {
		pool.deposits[key] = &Deposit{
			Owner:   d.Owner,
			Initial: remaining,
			At: Snapshot{
				P:     new(big.Int).Set(pool.p),
				S:     new(big.Int).Set(pool.currentS()),
				Epoch: pool.epoch,
				Scale: pool.scale,
			},
		}
	}
	return amount, nil
}

// ClaimGains pays out the owner's full pending collateral gain and
// re-snapshots their deposit at the current value/zeroed gain.
func (pool *Pool) ClaimGains(owner []byte) (amounts.Sats, error) {
	key := string(owner)
	d := pool.deposits[key]
	if d == nil {
		return 0, fmt.Errorf("%w: no stability deposit", cdperrors.ErrInsufficientBalance)
	}
	gain := pool.PendingCollateralGain(d)
	current := pool.CurrentValue(d)
	pool.totalCollateralGains -= gain
	if current == 0 {
		delete(pool.deposits, key)
	} else {
		pool.deposits[key] = &Deposit{
			Owner:   d.Owner,
			Initial: current,
			At: Snapshot{
				P:     new(big.Int).Set(pool.p),
				S:     new(big.Int).Set(pool.currentS()),
				Epoch: pool.epoch,
				Scale: pool.scale,
			},
		}
	}
	return gain, nil
}

// Absorb applies a liquidation's offset debt and collateral gain against
// the pool, updating P, S, and the epoch/scale counters.
func (pool *Pool) Absorb(debtAbsorbed amounts.Cents, collGained amounts.Sats) error {
	if debtAbsorbed == 0 {
		return nil
	}
	d := uint64(pool.totalDeposits)
	if d == 0 {
		return fmt.Errorf("cdp: stability pool absorb with zero total deposits")
	}
	pool.totalCollateralGains += collGained

	if uint64(debtAbsorbed) >= d {
		// Full drain: credit the final marginal S for the depositors
		// present at this instant, then roll to a fresh epoch.
		marginalS := new(big.Int).Mul(new(big.Int).SetUint64(uint64(collGained)), scale)
		marginalS.Mul(marginalS, pool.p)
		marginalS.Quo(marginalS, new(big.Int).SetUint64(d))
		finalS := new(big.Int).Add(pool.currentS(), marginalS)
		pool.setCurrentS(finalS)

		pool.epoch++
		pool.scale = 0
		pool.p = new(big.Int).Set(scale)
		pool.epochToScaleSum[pool.epoch] = map[uint64]*big.Int{0: big.NewInt(0)}
		pool.totalDeposits = 0
		return nil
	}

	remaining := d - uint64(debtAbsorbed)
	newP := new(big.Int).Mul(pool.p, new(big.Int).SetUint64(remaining))
	newP.Quo(newP, new(big.Int).SetUint64(d))

	marginalS := new(big.Int).Mul(new(big.Int).SetUint64(uint64(collGained)), scale)
	marginalS.Mul(marginalS, pool.p)
	marginalS.Quo(marginalS, new(big.Int).SetUint64(d))
	newS := new(big.Int).Add(pool.currentS(), marginalS)
	pool.setCurrentS(newS)

	pool.totalDeposits -= debtAbsorbed

	if newP.Cmp(precisionFloor) < 0 {
		pool.scale++
		newP.Mul(newP, scaleFactor)
		pool.setCurrentS(newS) // carry the running sum forward into the new scale row
	}
	pool.p = newP
	return nil
}

// Get returns the raw deposit record for owner, or nil.
func (pool *Pool) Get(owner []byte) *Deposit { return pool.deposits[string(owner)] }

// ScaleSumRow is one frozen (or live) epochToScaleSum entry, exported for
// persistence.
type ScaleSumRow struct {
	Epoch uint64
	Scale uint64
	S     *big.Int
}

// ExportRows returns every epochToScaleSum row for persistence. Frozen rows
// (epoch/scale pairs the pool has moved past) must be restored verbatim so
// that depositors whose snapshot references them can still compute their
// pending gain after a restart.
func (pool *Pool) ExportRows() []ScaleSumRow {
	var rows []ScaleSumRow
	for epoch, row := range pool.epochToScaleSum {
		for scale, s := range row {
			rows = append(rows, ScaleSumRow{Epoch: epoch, Scale: scale, S: new(big.Int).Set(s)})
		}
	}
	return rows
}

// Globals returns the pool's scalar global state (P, epoch, scale, totals)
// for persistence.
func (pool *Pool) Globals() (p *big.Int, epoch, scale uint64, totalDeposits amounts.Cents, totalCollateralGains amounts.Sats) {
	return new(big.Int).Set(pool.p), pool.epoch, pool.scale, pool.totalDeposits, pool.totalCollateralGains
}

// Deposits returns every depositor record for persistence.
func (pool *Pool) Deposits() []*Deposit {
	out := make([]*Deposit, 0, len(pool.deposits))
	for _, d := range pool.deposits {
		out = append(out, d)
	}
	return out
}

// Restore rebuilds a Pool from persisted globals, scale-sum rows, and
// deposits. It is the inverse of Globals/ExportRows/Deposits.
func Restore(p *big.Int, epoch, scale uint64, totalDeposits amounts.Cents, totalCollateralGains amounts.Sats, rows []ScaleSumRow, deposits []*Deposit) *Pool {
	pool := &Pool{
		p:                    new(big.Int).Set(p),
		epoch:                epoch,
		scale:                scale,
		totalDeposits:        totalDeposits,
		totalCollateralGains: totalCollateralGains,
		epochToScaleSum:      make(map[uint64]map[uint64]*big.Int),
		deposits:             make(map[string]*Deposit),
	}
	for _, row := range rows {
		r, ok := pool.epochToScaleSum[row.Epoch]
		if !ok {
			r = make(map[uint64]*big.Int)
			pool.epochToScaleSum[row.Epoch] = r
		}
		r[row.Scale] = new(big.Int).Set(row.S)
	}
	if _, ok := pool.epochToScaleSum[0]; !ok {
		pool.epochToScaleSum[0] = map[uint64]*big.Int{0: big.NewInt(0)}
	}
	for _, d := range deposits {
		pool.deposits[string(d.Owner)] = d
	}
	return pool
}

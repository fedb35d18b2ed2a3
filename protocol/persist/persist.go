// Package persist layers typed accessors over the storage abstraction
// (storage.Store), the way core/state/manager.go's KVPut/KVGet/KVGetList
// layer typed access over a trie: every entity the state machine mutates
// gets its own get/put pair and a canonical wire encoding, addressed with
// a fixed set of key prefixes (cdp:, bal:, cfg:state, prc:latest,
// prc:<timestamp>, sp:main, sp:dep:<owner>, tx:<hash>, vault:payout:<owner>,
// nonce:<signer>, fee:history).
//
// Values are encoded with github.com/ethereum/go-ethereum/rlp, matching
// the KV encoding used elsewhere in this module. Entities that embed an
// elliptic-curve public key (CDP.Owner) are flattened to their compressed
// byte encoding first — RLP has no special-case support for interface-typed
// fields like elliptic.Curve, so the wire record stores plain bytes and the
// runtime type is rehydrated via crypto.PublicKeyFromBytes.
package persist

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"zkusdcore/crypto"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/config"
	"zkusdcore/protocol/feeengine"
	"zkusdcore/protocol/stabilitypool"
	"zkusdcore/storage"
)

var (
	prefixCDP      = []byte("cdp:")
	prefixBalance  = []byte("bal:")
	keyConfigState = []byte("cfg:state")
	keyPriceLatest = []byte("prc:latest")
	prefixPrice    = []byte("prc:")
	keyPoolMain    = []byte("sp:main")
	prefixPoolDep  = []byte("sp:dep:")
	prefixTx       = []byte("tx:")
	// prefixPayout persists vault.Vault's owner-keyed payout balances
	// (collateral credited but not yet claimed) so a restart does not
	// strand them.
	prefixPayout = []byte("vault:payout:")
	// prefixNonce persists the replay-protection nonce table so it survives
	// a restart, the same way every other dynamic entity does.
	prefixNonce = []byte("nonce:")
	// keyFeeHistory persists the fee engine's bounded redemption history.
	keyFeeHistory = []byte("fee:history")
)

// Accessor layers the typed CDP-protocol entity accessors over a Store.
type Accessor struct {
	store storage.Store
}

// New returns an accessor over store.
func New(store storage.Store) *Accessor {
	return &Accessor{store: store}
}

// --- CDP ---------------------------------------------------------------

type cdpRecord struct {
	ID               [32]byte
	Owner            []byte
	Status           uint8
	CollateralSats   uint64
	DebtCents        uint64
	CreatedBlock     uint64
	LastUpdatedBlock uint64
}

func cdpKey(id cdp.ID) []byte { return append(append([]byte(nil), prefixCDP...), id[:]...) }

// PutCDP persists a CDP record.
func (a *Accessor) PutCDP(c *cdp.CDP) error {
	rec := cdpRecord{
		ID:               c.ID,
		Owner:            c.Owner.Bytes(),
		Status:           uint8(c.Status),
		CollateralSats:   uint64(c.CollateralSats),
		DebtCents:        uint64(c.DebtCents),
		CreatedBlock:     c.CreatedBlock,
		LastUpdatedBlock: c.LastUpdatedBlock,
	}
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return fmt.Errorf("persist: encode cdp: %w", err)
	}
	return a.store.Set(cdpKey(c.ID), encoded)
}

// GetCDP loads a CDP record, returning (nil, false, nil) if absent.
func (a *Accessor) GetCDP(id cdp.ID) (*cdp.CDP, bool, error) {
	data, ok, err := a.store.Get(cdpKey(id))
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec cdpRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, false, fmt.Errorf("persist: decode cdp: %w", err)
	}
	owner, err := crypto.PublicKeyFromBytes(rec.Owner)
	if err != nil {
		return nil, false, fmt.Errorf("persist: decode cdp owner: %w", err)
	}
	return &cdp.CDP{
		ID:               rec.ID,
		Owner:            *owner,
		Status:           cdp.Status(rec.Status),
		CollateralSats:   amounts.Sats(rec.CollateralSats),
		DebtCents:        amounts.Cents(rec.DebtCents),
		CreatedBlock:     rec.CreatedBlock,
		LastUpdatedBlock: rec.LastUpdatedBlock,
	}, true, nil
}

// ListCDPs returns every persisted CDP, in no particular order.
func (a *Accessor) ListCDPs() ([]*cdp.CDP, error) {
	raw, err := a.store.ListPrefix(prefixCDP)
	if err != nil {
		return nil, err
	}
	out := make([]*cdp.CDP, 0, len(raw))
	for k := range raw {
		var id cdp.ID
		copy(id[:], []byte(k)[len(prefixCDP):])
		c, ok, err := a.GetCDP(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- Balances ------------------------------------------------------------

func balanceKey(holder []byte) []byte { return append(append([]byte(nil), prefixBalance...), holder...) }

// PutBalance persists holder's cents balance.
func (a *Accessor) PutBalance(holder []byte, amount amounts.Cents) error {
	encoded, err := rlp.EncodeToBytes(uint64(amount))
	if err != nil {
		return err
	}
	return a.store.Set(balanceKey(holder), encoded)
}

// GetBalance loads holder's persisted cents balance.
func (a *Accessor) GetBalance(holder []byte) (amounts.Cents, bool, error) {
	data, ok, err := a.store.Get(balanceKey(holder))
	if err != nil || !ok {
		return 0, ok, err
	}
	var v uint64
	if err := rlp.DecodeBytes(data, &v); err != nil {
		return 0, false, err
	}
	return amounts.Cents(v), true, nil
}

// ListBalances returns every persisted (holder, balance) pair.
func (a *Accessor) ListBalances() (map[string]amounts.Cents, error) {
	raw, err := a.store.ListPrefix(prefixBalance)
	if err != nil {
		return nil, err
	}
	out := make(map[string]amounts.Cents, len(raw))
	for k, v := range raw {
		var amount uint64
		if err := rlp.DecodeBytes(v, &amount); err != nil {
			return nil, err
		}
		holder := k[len(prefixBalance):]
		out[holder] = amounts.Cents(amount)
	}
	return out, nil
}

// --- Protocol state --------------------------------------------------------

type protocolStateRecord struct {
	TotalSystemDebtCents      uint64
	TotalSystemCollateralSats uint64
	DebtCeilingCents          uint64
	BaseRateBps               uint64
	LastRedemptionBlock       uint64
	RecoveryMode              bool
	Paused                    bool
	BadDebtCents              uint64
	CurrentPriceCentsPerBTC   uint64
	CurrentPriceTimestamp     uint64
}

// PutProtocolState persists the dynamic protocol config snapshot.
func (a *Accessor) PutProtocolState(s config.ProtocolState) error {
	rec := protocolStateRecord{
		TotalSystemDebtCents:      s.TotalSystemDebtCents,
		TotalSystemCollateralSats: s.TotalSystemCollateralSats,
		DebtCeilingCents:          s.DebtCeilingCents,
		BaseRateBps:               s.BaseRateBps,
		LastRedemptionBlock:       s.LastRedemptionBlock,
		RecoveryMode:              s.RecoveryMode,
		Paused:                    s.Paused,
		BadDebtCents:              s.BadDebtCents,
		CurrentPriceCentsPerBTC:   s.CurrentPriceCentsPerBTC,
		CurrentPriceTimestamp:     s.CurrentPriceTimestamp,
	}
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return err
	}
	return a.store.Set(keyConfigState, encoded)
}

// GetProtocolState loads the dynamic protocol config snapshot.
func (a *Accessor) GetProtocolState() (config.ProtocolState, bool, error) {
	data, ok, err := a.store.Get(keyConfigState)
	if err != nil || !ok {
		return config.ProtocolState{}, ok, err
	}
	var rec protocolStateRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return config.ProtocolState{}, false, err
	}
	return config.ProtocolState{
		TotalSystemDebtCents:      rec.TotalSystemDebtCents,
		TotalSystemCollateralSats: rec.TotalSystemCollateralSats,
		DebtCeilingCents:          rec.DebtCeilingCents,
		BaseRateBps:               rec.BaseRateBps,
		LastRedemptionBlock:       rec.LastRedemptionBlock,
		RecoveryMode:              rec.RecoveryMode,
		Paused:                    rec.Paused,
		BadDebtCents:              rec.BadDebtCents,
		CurrentPriceCentsPerBTC:   rec.CurrentPriceCentsPerBTC,
		CurrentPriceTimestamp:     rec.CurrentPriceTimestamp,
	}, true, nil
}

// --- Price -----------------------------------------------------------------

type priceRecord struct {
	PriceCentsPerBTC uint64
	Timestamp        uint64
}

// PutLatestPrice persists the current price and records it into the
// timestamp-keyed history.
func (a *Accessor) PutLatestPrice(priceCentsPerBTC, timestamp uint64) error {
	encoded, err := rlp.EncodeToBytes(priceRecord{PriceCentsPerBTC: priceCentsPerBTC, Timestamp: timestamp})
	if err != nil {
		return err
	}
	if err := a.store.Set(keyPriceLatest, encoded); err != nil {
		return err
	}
	histEncoded, err := rlp.EncodeToBytes(priceCentsPerBTC)
	if err != nil {
		return err
	}
	return a.store.Set(priceHistoryKey(timestamp), histEncoded)
}

func priceHistoryKey(timestamp uint64) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], timestamp)
	return append(append([]byte(nil), prefixPrice...), ts[:]...)
}

// GetLatestPrice loads the current price and its timestamp.
func (a *Accessor) GetLatestPrice() (priceCentsPerBTC, timestamp uint64, ok bool, err error) {
	data, found, err := a.store.Get(keyPriceLatest)
	if err != nil || !found {
		return 0, 0, found, err
	}
	var rec priceRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return 0, 0, false, err
	}
	return rec.PriceCentsPerBTC, rec.Timestamp, true, nil
}

// --- Stability pool ----------------------------------------------------

type scaleSumRowRecord struct {
	Epoch uint64
	Scale uint64
	S     []byte
}

type poolGlobalsRecord struct {
	P                    []byte
	Epoch                uint64
	Scale                uint64
	TotalDeposits        uint64
	TotalCollateralGains uint64
	Rows                 []scaleSumRowRecord
}

type depositRecord struct {
	Owner   []byte
	Initial uint64
	P       []byte
	S       []byte
	Epoch   uint64
	Scale   uint64
}

// PutStabilityPool persists the pool's globals, every epoch/scale row, and
// every depositor record.
func (a *Accessor) PutStabilityPool(pool *stabilitypool.Pool) error {
	p, epoch, scale, totalDeposits, totalCollateralGains := pool.Globals()
	rows := pool.ExportRows()
	rowRecs := make([]scaleSumRowRecord, len(rows))
	for i, r := range rows {
		rowRecs[i] = scaleSumRowRecord{Epoch: r.Epoch, Scale: r.Scale, S: r.S.Bytes()}
	}
	globals := poolGlobalsRecord{
		P:                    p.Bytes(),
		Epoch:                epoch,
		Scale:                scale,
		TotalDeposits:        uint64(totalDeposits),
		TotalCollateralGains: uint64(totalCollateralGains),
		Rows:                 rowRecs,
	}
	encoded, err := rlp.EncodeToBytes(globals)
	if err != nil {
		return err
	}
	if err := a.store.Set(keyPoolMain, encoded); err != nil {
		return err
	}
	for _, d := range pool.Deposits() {
		rec := depositRecord{
			Owner:   d.Owner,
			Initial: uint64(d.Initial),
			P:       d.At.P.Bytes(),
			S:       d.At.S.Bytes(),
			Epoch:   d.At.Epoch,
			Scale:   d.At.Scale,
		}
		encoded, err := rlp.EncodeToBytes(rec)
		if err != nil {
			return err
		}
		if err := a.store.Set(append(append([]byte(nil), prefixPoolDep...), d.Owner...), encoded); err != nil {
			return err
		}
	}
	return nil
}

// GetStabilityPool reconstructs the stability pool from its persisted
// globals, rows, and depositor records, or (nil, false, nil) if absent.
func (a *Accessor) GetStabilityPool() (*stabilitypool.Pool, bool, error) {
	data, ok, err := a.store.Get(keyPoolMain)
	if err != nil || !ok {
		return nil, ok, err
	}
	var globals poolGlobalsRecord
	if err := rlp.DecodeBytes(data, &globals); err != nil {
		return nil, false, err
	}
	rows := make([]stabilitypool.ScaleSumRow, len(globals.Rows))
	for i, r := range globals.Rows {
		rows[i] = stabilitypool.ScaleSumRow{Epoch: r.Epoch, Scale: r.Scale, S: new(big.Int).SetBytes(r.S)}
	}
	rawDeposits, err := a.store.ListPrefix(prefixPoolDep)
	if err != nil {
		return nil, false, err
	}
	deposits := make([]*stabilitypool.Deposit, 0, len(rawDeposits))
	for _, v := range rawDeposits {
		var rec depositRecord
		if err := rlp.DecodeBytes(v, &rec); err != nil {
			return nil, false, err
		}
		deposits = append(deposits, &stabilitypool.Deposit{
			Owner:   rec.Owner,
			Initial: amounts.Cents(rec.Initial),
			At: stabilitypool.Snapshot{
				P:     new(big.Int).SetBytes(rec.P),
				S:     new(big.Int).SetBytes(rec.S),
				Epoch: rec.Epoch,
				Scale: rec.Scale,
			},
		})
	}
	pool := stabilitypool.Restore(
		new(big.Int).SetBytes(globals.P),
		globals.Epoch, globals.Scale,
		amounts.Cents(globals.TotalDeposits), amounts.Sats(globals.TotalCollateralGains),
		rows, deposits,
	)
	return pool, true, nil
}

// --- Transaction/event record ----------------------------------------------

// PutTxRecord persists an opaque, already-encoded record under tx:<hash>,
// used to journal the operation hash alongside its outcome for later
// audit/replay inspection.
func (a *Accessor) PutTxRecord(hash [32]byte, encoded []byte) error {
	return a.store.Set(append(append([]byte(nil), prefixTx...), hash[:]...), encoded)
}

// --- Vault payouts -----------------------------------------------------

// PutPayout persists owner's externally-claimable sats balance.
func (a *Accessor) PutPayout(owner []byte, amount amounts.Sats) error {
	encoded, err := rlp.EncodeToBytes(uint64(amount))
	if err != nil {
		return err
	}
	return a.store.Set(append(append([]byte(nil), prefixPayout...), owner...), encoded)
}

// ListPayouts returns every persisted (owner, payout balance) pair.
func (a *Accessor) ListPayouts() (map[string]amounts.Sats, error) {
	raw, err := a.store.ListPrefix(prefixPayout)
	if err != nil {
		return nil, err
	}
	out := make(map[string]amounts.Sats, len(raw))
	for k, v := range raw {
		var amount uint64
		if err := rlp.DecodeBytes(v, &amount); err != nil {
			return nil, err
		}
		out[k[len(prefixPayout):]] = amounts.Sats(amount)
	}
	return out, nil
}

// --- Nonces -----------------------------------------------------------------

func nonceKey(signer []byte) []byte { return append(append([]byte(nil), prefixNonce...), signer...) }

// PutNonce persists signer's highest-accepted nonce.
func (a *Accessor) PutNonce(signer []byte, nonce uint64) error {
	encoded, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return err
	}
	return a.store.Set(nonceKey(signer), encoded)
}

// ListNonces returns every persisted (signer, last-accepted-nonce) pair.
func (a *Accessor) ListNonces() (map[string]uint64, error) {
	raw, err := a.store.ListPrefix(prefixNonce)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(raw))
	for k, v := range raw {
		var n uint64
		if err := rlp.DecodeBytes(v, &n); err != nil {
			return nil, err
		}
		out[k[len(prefixNonce):]] = n
	}
	return out, nil
}

// --- Fee engine redemption history ------------------------------------

type redemptionRecordEntry struct {
	Block  uint64
	Amount uint64
}

// PutFeeHistory persists the fee engine's bounded redemption history so
// the recent-redemption premium survives a restart.
func (a *Accessor) PutFeeHistory(history []feeengine.RedemptionRecord) error {
	recs := make([]redemptionRecordEntry, len(history))
	for i, r := range history {
		recs[i] = redemptionRecordEntry{Block: r.Block, Amount: uint64(r.Amount)}
	}
	encoded, err := rlp.EncodeToBytes(recs)
	if err != nil {
		return err
	}
	return a.store.Set(keyFeeHistory, encoded)
}

// GetFeeHistory returns the persisted redemption history, or (nil, false,
// nil) if none has been written yet.
func (a *Accessor) GetFeeHistory() ([]feeengine.RedemptionRecord, bool, error) {
	data, ok, err := a.store.Get(keyFeeHistory)
	if err != nil || !ok {
		return nil, ok, err
	}
	var recs []redemptionRecordEntry
	if err := rlp.DecodeBytes(data, &recs); err != nil {
		return nil, false, err
	}
	out := make([]feeengine.RedemptionRecord, len(recs))
	for i, r := range recs {
		out[i] = feeengine.RedemptionRecord{Block: r.Block, Amount: amounts.Cents(r.Amount)}
	}
	return out, true, nil
}

// Flush commits any buffered writes to durable storage.
func (a *Accessor) Flush() error { return a.store.Flush() }

// Package ops defines the closed tagged union of signed protocol
// operations and their canonical byte encoding for signing and hashing.
// New operation kinds are added as a Kind constant plus a Payload
// implementation. Go does not check type switches for exhaustiveness, so a
// dispatch site that misses a kind reaches its default branch.
package ops

import (
	"encoding/binary"
	"fmt"

	"zkusdcore/crypto"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
)

// Kind tags which payload an Operation carries.
type Kind uint8

const (
	KindOpenCDP Kind = iota
	KindDepositCollateral
	KindWithdrawCollateral
	KindMintDebt
	KindRepayDebt
	KindCloseCDP
	KindLiquidateCDP
	KindTransfer
	KindStabilityDeposit
	KindStabilityWithdraw
	KindClaimGains
	KindRedeem
	KindUpdatePrice
)

func (k Kind) String() string {
	switch k {
	case KindOpenCDP:
		return "OpenCDP"
	case KindDepositCollateral:
		return "DepositCollateral"
	case KindWithdrawCollateral:
		return "WithdrawCollateral"
	case KindMintDebt:
		return "MintDebt"
	case KindRepayDebt:
		return "RepayDebt"
	case KindCloseCDP:
		return "CloseCDP"
	case KindLiquidateCDP:
		return "LiquidateCDP"
	case KindTransfer:
		return "Transfer"
	case KindStabilityDeposit:
		return "StabilityDeposit"
	case KindStabilityWithdraw:
		return "StabilityWithdraw"
	case KindClaimGains:
		return "ClaimGains"
	case KindRedeem:
		return "Redeem"
	case KindUpdatePrice:
		return "UpdatePrice"
	default:
		return "Unknown"
	}
}

// Payload is implemented by each concrete operation body. Encode returns
// the canonical, deterministic byte encoding of the payload alone (the
// envelope adds signer/nonce/signature framing around it).
type Payload interface {
	Kind() Kind
	Encode() []byte
}

// Operation is the signed envelope around a Payload: a signer public key,
// a strictly-increasing nonce, an optional slippage guard (MintDebt and
// Redeem only), and a signature over the canonical encoding of everything
// except the signature itself.
type Operation struct {
	Signer    crypto.PublicKey
	Nonce     uint64
	MaxFeeBps uint64 // only meaningful for MintDebt/Redeem; 0 elsewhere
	Payload   Payload
	Signature []byte
}

// HasSlippageGuard reports whether kind k carries a max_fee_bps field.
func (k Kind) HasSlippageGuard() bool {
	return k == KindMintDebt || k == KindRedeem
}

// EncodeUnsigned returns the canonical bytes that must be signed: a
// one-byte version tag, signer pubkey, nonce (big-endian u64), max fee bps
// (big-endian u64), the kind tag, then the payload's own encoding.
func (op *Operation) EncodeUnsigned() []byte {
	const version = 1
	buf := make([]byte, 0, 128)
	buf = append(buf, version)
	buf = appendLenPrefixed(buf, op.Signer.Bytes())
	buf = appendUint64(buf, op.Nonce)
	buf = appendUint64(buf, op.MaxFeeBps)
	buf = append(buf, byte(op.Payload.Kind()))
	buf = appendLenPrefixed(buf, op.Payload.Encode())
	return buf
}

// Sign signs the canonical unsigned encoding with the given key and stores
// the signature on the Operation.
func (op *Operation) Sign(key *crypto.PrivateKey) error {
	hash := crypto.Keccak256(op.EncodeUnsigned())
	sig, err := key.Sign(hash)
	if err != nil {
		return err
	}
	op.Signature = sig
	return nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixed(buf, b []byte) []byte {
	buf = appendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}

// --- Payload bodies -------------------------------------------------------

type OpenCDP struct {
	InitialCollateral amounts.Sats
	InitialDebt       amounts.Cents
}

func (OpenCDP) Kind() Kind { return KindOpenCDP }
func (p OpenCDP) Encode() []byte {
	buf := appendUint64(nil, uint64(p.InitialCollateral))
	return appendUint64(buf, uint64(p.InitialDebt))
}

type DepositCollateral struct {
	CDP    cdp.ID
	Amount amounts.Sats
}

func (DepositCollateral) Kind() Kind { return KindDepositCollateral }
func (p DepositCollateral) Encode() []byte {
	buf := append([]byte(nil), p.CDP[:]...)
	return appendUint64(buf, uint64(p.Amount))
}

type WithdrawCollateral struct {
	CDP    cdp.ID
	Amount amounts.Sats
}

func (WithdrawCollateral) Kind() Kind { return KindWithdrawCollateral }
func (p WithdrawCollateral) Encode() []byte {
	buf := append([]byte(nil), p.CDP[:]...)
	return appendUint64(buf, uint64(p.Amount))
}

type MintDebt struct {
	CDP    cdp.ID
	Amount amounts.Cents
}

func (MintDebt) Kind() Kind { return KindMintDebt }
func (p MintDebt) Encode() []byte {
	buf := append([]byte(nil), p.CDP[:]...)
	return appendUint64(buf, uint64(p.Amount))
}

type RepayDebt struct {
	CDP    cdp.ID
	Amount amounts.Cents
}

func (RepayDebt) Kind() Kind { return KindRepayDebt }
func (p RepayDebt) Encode() []byte {
	buf := append([]byte(nil), p.CDP[:]...)
	return appendUint64(buf, uint64(p.Amount))
}

type CloseCDP struct {
	CDP cdp.ID
}

func (CloseCDP) Kind() Kind        { return KindCloseCDP }
func (p CloseCDP) Encode() []byte { return append([]byte(nil), p.CDP[:]...) }

type LiquidateCDP struct {
	CDP cdp.ID
}

func (LiquidateCDP) Kind() Kind        { return KindLiquidateCDP }
func (p LiquidateCDP) Encode() []byte { return append([]byte(nil), p.CDP[:]...) }

type Transfer struct {
	Recipient []byte // recipient's compressed public key bytes
	Amount    amounts.Cents
}

func (Transfer) Kind() Kind { return KindTransfer }
func (p Transfer) Encode() []byte {
	buf := appendLenPrefixed(nil, p.Recipient)
	return appendUint64(buf, uint64(p.Amount))
}

type StabilityDeposit struct {
	Amount amounts.Cents
}

func (StabilityDeposit) Kind() Kind        { return KindStabilityDeposit }
func (p StabilityDeposit) Encode() []byte { return appendUint64(nil, uint64(p.Amount)) }

type StabilityWithdraw struct {
	Amount amounts.Cents
}

func (StabilityWithdraw) Kind() Kind        { return KindStabilityWithdraw }
func (p StabilityWithdraw) Encode() []byte { return appendUint64(nil, uint64(p.Amount)) }

type ClaimGains struct{}

func (ClaimGains) Kind() Kind        { return KindClaimGains }
func (ClaimGains) Encode() []byte { return nil }

type Redeem struct {
	Amount amounts.Cents
}

func (Redeem) Kind() Kind        { return KindRedeem }
func (p Redeem) Encode() []byte { return appendUint64(nil, uint64(p.Amount)) }

type UpdatePrice struct {
	PriceCentsPerBTC uint64
	Timestamp        uint64
}

func (UpdatePrice) Kind() Kind { return KindUpdatePrice }
func (p UpdatePrice) Encode() []byte {
	buf := appendUint64(nil, p.PriceCentsPerBTC)
	return appendUint64(buf, p.Timestamp)
}

// ErrUnknownKind is returned by statemachine.Machine.Execute when an
// operation's Payload matches none of the known payload types.
var ErrUnknownKind = fmt.Errorf("ops: unknown operation kind")

// Package cdp defines the Collateralized Debt Position entity: its
// identity, lifecycle, and the invariants the state machine enforces on it.
package cdp

import (
	"encoding/binary"

	"zkusdcore/crypto"
	"zkusdcore/protocol/amounts"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status is the CDP lifecycle state.
type Status uint8

const (
	StatusActive Status = iota
	StatusAtRisk
	StatusLiquidatable
	StatusClosed
	StatusLiquidated
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusAtRisk:
		return "at_risk"
	case StatusLiquidatable:
		return "liquidatable"
	case StatusClosed:
		return "closed"
	case StatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status permits no further mutation.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusLiquidated
}

// ID is a 32-byte content hash of (owner public key, creation nonce),
// collision-resistant and independent of any particular owner's other CDPs.
type ID [32]byte

// NewID derives a CDPId from the owner's compressed public key bytes and the
// nonce of the OpenCDP operation that created it.
func NewID(ownerPubKey []byte, creationNonce uint64) ID {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], creationNonce)
	sum := ethcrypto.Keccak256(ownerPubKey, nonceBytes[:])
	var id ID
	copy(id[:], sum)
	return id
}

// CDP is a single collateralized debt position.
type CDP struct {
	ID     ID
	Owner  crypto.PublicKey
	Status Status

	CollateralSats amounts.Sats
	DebtCents      amounts.Cents

	CreatedBlock     uint64
	LastUpdatedBlock uint64
}

// Ratio computes the collateralization ratio at the given price, treating
// zero debt as +infinity.
func (c *CDP) Ratio(priceCentsPerBTC uint64) (amounts.Bps, error) {
	return amounts.Ratio(c.CollateralSats, priceCentsPerBTC, c.DebtCents)
}

// Clone returns a value copy safe to mutate independently of the original.
func (c *CDP) Clone() *CDP {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

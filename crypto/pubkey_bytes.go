package crypto

import "github.com/ethereum/go-ethereum/crypto"

// Bytes returns the compressed SEC1 encoding of the public key, used by the
// CDP protocol for content-addressing CDPIds and for canonical operation
// signing (callers need a deterministic byte form of the signer's key).
func (k *PublicKey) Bytes() []byte {
	return crypto.CompressPubkey(k.PublicKey)
}

// PublicKeyFromBytes reconstructs a PublicKey from its compressed secp256k1
// encoding, the inverse of (*PublicKey).Bytes. Used to rehydrate a signer or
// CDP owner from a persisted record.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	pub, err := crypto.DecompressPubkey(b)
	if err != nil {
		return nil, err
	}
	return &PublicKey{pub}, nil
}

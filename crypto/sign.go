package crypto

import "github.com/ethereum/go-ethereum/crypto"

// Keccak256 hashes data the same way the rest of the codebase content-
// addresses entities (CDPIds, transaction hashes).
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// Sign produces a recoverable ECDSA signature over hash.
func (k *PrivateKey) Sign(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, k.PrivateKey)
}

// Verify reports whether sig (a 65-byte recoverable signature, or a plain
// 64-byte r||s signature) was produced by the private key behind pub over
// hash.
func Verify(pub *PublicKey, hash, sig []byte) bool {
	if len(sig) == 65 {
		sig = sig[:64]
	}
	return crypto.VerifySignature(crypto.CompressPubkey(pub.PublicKey), hash, sig)
}

// Package proof implements a backend-agnostic prover/verifier abstraction:
// typed proof inputs in, an opaque Proof out, with a content-addressed
// cache keyed by the public-input hash. The only backend implemented here
// is Native, which re-executes the circuit directly (no cryptographic
// proof) for tests and for hosts that have not wired a real zkVM backend.
package proof

import (
	"crypto/sha256"
	"fmt"
	"sync"
)

// Type tags which circuit a Proof attests to.
type Type string

const (
	TypeDeposit           Type = "deposit"
	TypeWithdraw          Type = "withdraw"
	TypeMint              Type = "mint"
	TypeRepay             Type = "repay"
	TypeLiquidation       Type = "liquidation"
	TypePriceAttestation  Type = "price_attestation"
)

// Proof is the backend-agnostic proof envelope.
type Proof struct {
	ProofType       Type
	CircuitID       string
	Bytes           []byte
	PublicInputHash [32]byte
	Backend         string
	// Metadata carries backend-specific generation info (prover version,
	// timing, constraint count) for observability; it is never consumed by
	// Verify.
	Metadata map[string]string
}

// ErrProve is returned when proof generation fails.
type ErrProve struct{ Reason string }

func (e *ErrProve) Error() string { return fmt.Sprintf("proof: %s", e.Reason) }

// Backend is implemented by each pluggable prover/verifier. publicInputs
// and privateInputs are the circuit-specific inputs; the backend
// is responsible for knowing how to marshal/execute whatever concrete type
// it receives for a given circuitID.
type Backend interface {
	Name() string
	Prove(circuitID string, publicInputs, privateInputs any) (Proof, error)
	Verify(p Proof, publicInputs any) (bool, error)
}

// Pipeline wires a Backend to a content-addressed proof cache.
type Pipeline struct {
	backend Backend
	cache   sync.Map // [32]byte -> Proof
}

// NewPipeline returns a pipeline backed by the given backend.
func NewPipeline(backend Backend) *Pipeline {
	return &Pipeline{backend: backend}
}

// HashPublicInputs content-addresses an encoded public-input byte string.
func HashPublicInputs(encoded []byte) [32]byte {
	return sha256.Sum256(encoded)
}

// Prove returns a cached proof for publicInputHash if one exists, otherwise
// generates one via the backend and caches it.
func (p *Pipeline) Prove(circuitID string, publicInputHash [32]byte, publicInputs, privateInputs any) (Proof, error) {
	if cached, ok := p.cache.Load(publicInputHash); ok {
		return cached.(Proof), nil
	}
	proof, err := p.backend.Prove(circuitID, publicInputs, privateInputs)
	if err != nil {
		return Proof{}, err
	}
	proof.PublicInputHash = publicInputHash
	proof.Backend = p.backend.Name()
	p.cache.Store(publicInputHash, proof)
	return proof, nil
}

// Verify delegates to the backend.
func (p *Pipeline) Verify(proof Proof, publicInputs any) (bool, error) {
	return p.backend.Verify(proof, publicInputs)
}

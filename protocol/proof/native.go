package proof

import (
	"fmt"

	"zkusdcore/protocol/circuits"
)

// NativeBackend re-executes the matching circuit as plain Go code instead
// of producing a cryptographic proof. It is the only backend this module
// ships; a host wiring a real zkVM registers its own Backend implementing
// the same interface.
type NativeBackend struct{}

func (NativeBackend) Name() string { return "native" }

// The *Args types bundle a circuit's public inputs, private inputs, and
// (where applicable) state root into one value. NativeBackend.Prove takes
// the bundle as its publicInputs argument and ignores privateInputs — the
// Backend interface's three-argument shape exists for backends where
// public/private really are handled separately (e.g. a real zkVM backend
// that must not let private witnesses leak into its public-input log).
type DepositArgs struct {
	Public  circuits.DepositPublicInputs
	Private circuits.DepositPrivateInputs
	Root    [32]byte
}

type WithdrawArgs struct {
	Public  circuits.WithdrawPublicInputs
	Private circuits.WithdrawPrivateInputs
	Root    [32]byte
}

type MintArgs struct {
	Public  circuits.MintPublicInputs
	Private circuits.MintPrivateInputs
	Root    [32]byte
}

type RepayArgs struct {
	Public  circuits.RepayPublicInputs
	Private circuits.RepayPrivateInputs
	Root    [32]byte
}

type LiquidationArgs struct {
	Public  circuits.LiquidationPublicInputs
	Private circuits.LiquidationPrivateInputs
	Root    [32]byte
}

type PriceAttestationArgs struct {
	Public  circuits.PriceAttestationPublicInputs
	Private circuits.PriceAttestationPrivateInputs
}

func (NativeBackend) Prove(circuitID string, publicInputs, privateInputs any) (Proof, error) {
	switch circuitID {
	case circuits.DepositCircuit{}.CircuitID():
		args, ok := publicInputs.(DepositArgs)
		if !ok {
			return Proof{}, &ErrProve{Reason: "deposit: bad args"}
		}
		out, err := circuits.DepositCircuit{}.Execute(args.Public, args.Private, args.Root)
		if err != nil {
			return Proof{}, &ErrProve{Reason: err.Error()}
		}
		return Proof{ProofType: TypeDeposit, CircuitID: circuitID, Bytes: out.TransitionHash[:]}, nil
	case circuits.WithdrawCircuit{}.CircuitID():
		args, ok := publicInputs.(WithdrawArgs)
		if !ok {
			return Proof{}, &ErrProve{Reason: "withdraw: bad args"}
		}
		out, err := circuits.WithdrawCircuit{}.Execute(args.Public, args.Private, args.Root)
		if err != nil {
			return Proof{}, &ErrProve{Reason: err.Error()}
		}
		return Proof{ProofType: TypeWithdraw, CircuitID: circuitID, Bytes: out.TransitionHash[:]}, nil
	case circuits.MintCircuit{}.CircuitID():
		args, ok := publicInputs.(MintArgs)
		if !ok {
			return Proof{}, &ErrProve{Reason: "mint: bad args"}
		}
		out, err := circuits.MintCircuit{}.Execute(args.Public, args.Private, args.Root)
		if err != nil {
			return Proof{}, &ErrProve{Reason: err.Error()}
		}
		return Proof{ProofType: TypeMint, CircuitID: circuitID, Bytes: out.TransitionHash[:]}, nil
	case circuits.RepayCircuit{}.CircuitID():
		args, ok := publicInputs.(RepayArgs)
		if !ok {
			return Proof{}, &ErrProve{Reason: "repay: bad args"}
		}
		out, err := circuits.RepayCircuit{}.Execute(args.Public, args.Private, args.Root)
		if err != nil {
			return Proof{}, &ErrProve{Reason: err.Error()}
		}
		return Proof{ProofType: TypeRepay, CircuitID: circuitID, Bytes: out.TransitionHash[:]}, nil
	case circuits.LiquidationCircuit{}.CircuitID():
		args, ok := publicInputs.(LiquidationArgs)
		if !ok {
			return Proof{}, &ErrProve{Reason: "liquidation: bad args"}
		}
		out, err := circuits.LiquidationCircuit{}.Execute(args.Public, args.Private, args.Root)
		if err != nil {
			return Proof{}, &ErrProve{Reason: err.Error()}
		}
		return Proof{ProofType: TypeLiquidation, CircuitID: circuitID, Bytes: out.TransitionHash[:]}, nil
	case circuits.PriceAttestationCircuit{}.CircuitID():
		args, ok := publicInputs.(PriceAttestationArgs)
		if !ok {
			return Proof{}, &ErrProve{Reason: "price_attestation: bad args"}
		}
		out, err := circuits.PriceAttestationCircuit{}.Execute(args.Public, args.Private)
		if err != nil {
			return Proof{}, &ErrProve{Reason: err.Error()}
		}
		return Proof{ProofType: TypePriceAttestation, CircuitID: circuitID, Bytes: out.TransitionHash[:]}, nil
	default:
		return Proof{}, &ErrProve{Reason: fmt.Sprintf("unknown circuit %q", circuitID)}
	}
}

// Verify re-derives the expected transition hash by re-executing the
// circuit and compares it against the proof bytes — the Native backend's
// "verification" is simply re-running the deterministic computation.
func (b NativeBackend) Verify(p Proof, publicInputs any) (bool, error) {
	recomputed, err := b.Prove(p.CircuitID, publicInputs, nil)
	if err != nil {
		return false, err
	}
	if len(recomputed.Bytes) != len(p.Bytes) {
		return false, nil
	}
	for i := range recomputed.Bytes {
		if recomputed.Bytes[i] != p.Bytes[i] {
			return false, nil
		}
	}
	return true, nil
}

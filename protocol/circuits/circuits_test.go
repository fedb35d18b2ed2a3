package circuits

import (
	"errors"
	"testing"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/merkle"
)

func membershipProof(t *testing.T, id [32]byte) ([32]byte, merkle.Proof) {
	t.Helper()
	tree := merkle.Build([]merkle.Leaf{{Key: id[:], Value: []byte("leaf")}})
	proof, ok := tree.Prove(0)
	if !ok {
		t.Fatalf("Prove(0) returned ok=false")
	}
	return tree.Root(), proof
}

func TestDepositCircuit_RejectsNonIncreasingCollateral(t *testing.T) {
	id := [32]byte{1}
	root, proof := membershipProof(t, id)
	pub := DepositPublicInputs{CDPID: id, BlockHeight: 10}
	priv := DepositPrivateInputs{CollateralBefore: 1000, CollateralAfter: 1000, MembershipProof: proof}

	if _, err := (DepositCircuit{}).Execute(pub, priv, root); err == nil {
		t.Fatalf("DepositCircuit should reject non-increasing collateral")
	}
}

func TestDepositCircuit_AcceptsValidTransition(t *testing.T) {
	id := [32]byte{2}
	root, proof := membershipProof(t, id)
	pub := DepositPublicInputs{CDPID: id, BlockHeight: 10}
	priv := DepositPrivateInputs{CollateralBefore: 1000, CollateralAfter: 1500, DebtBefore: 50, DebtAfter: 50, MembershipProof: proof}

	out, err := (DepositCircuit{}).Execute(pub, priv, root)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.NewCollateral != 1500 {
		t.Fatalf("NewCollateral = %d, want 1500", out.NewCollateral)
	}
}

func TestDepositCircuit_RejectsDebtChange(t *testing.T) {
	id := [32]byte{3}
	root, proof := membershipProof(t, id)
	pub := DepositPublicInputs{CDPID: id}
	priv := DepositPrivateInputs{CollateralBefore: 1000, CollateralAfter: 1500, DebtBefore: 50, DebtAfter: 60, MembershipProof: proof}

	if _, err := (DepositCircuit{}).Execute(pub, priv, root); err == nil {
		t.Fatalf("DepositCircuit should reject a debt change")
	}
}

func TestDepositCircuit_RejectsBadMembershipProof(t *testing.T) {
	id := [32]byte{4}
	_, proof := membershipProof(t, id)
	var wrongRoot [32]byte
	pub := DepositPublicInputs{CDPID: id}
	priv := DepositPrivateInputs{CollateralBefore: 1000, CollateralAfter: 1500, MembershipProof: proof}

	_, err := (DepositCircuit{}).Execute(pub, priv, wrongRoot)
	if !errors.Is(err, cdperrors.ErrInvalidSignature) {
		t.Fatalf("DepositCircuit with a bad membership proof: got %v, want ErrInvalidSignature", err)
	}
}

func TestWithdrawCircuit_RejectsUndercollateralizingWithdrawal(t *testing.T) {
	id := [32]byte{5}
	root, proof := membershipProof(t, id)
	pub := WithdrawPublicInputs{CDPID: id}
	// $50 remaining collateral against $100 debt is 50%, below any sane MCR.
	priv := WithdrawPrivateInputs{
		CollateralBefore: 1_000_000, CollateralAfter: 100_000,
		DebtBefore: 100_00, DebtAfter: 100_00,
		PriceCentsPerBTC: 50_000_00, EffectiveMCRBps: 11000,
		MembershipProof: proof,
	}
	_, err := (WithdrawCircuit{}).Execute(pub, priv, root)
	if !errors.Is(err, cdperrors.ErrCollateralizationRatioTooLow) {
		t.Fatalf("WithdrawCircuit: got %v, want ErrCollateralizationRatioTooLow", err)
	}
}

func TestWithdrawCircuit_AcceptsHealthyWithdrawal(t *testing.T) {
	id := [32]byte{6}
	root, proof := membershipProof(t, id)
	pub := WithdrawPublicInputs{CDPID: id}
	// $400 remaining collateral against $100 debt is 400%.
	priv := WithdrawPrivateInputs{
		CollateralBefore: 1_000_000, CollateralAfter: 800_000,
		DebtBefore: 100_00, DebtAfter: 100_00,
		PriceCentsPerBTC: 50_000_00, EffectiveMCRBps: 11000,
		MembershipProof: proof,
	}
	out, err := (WithdrawCircuit{}).Execute(pub, priv, root)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.NewRatio != 40_000 {
		t.Fatalf("NewRatio = %d bps, want 40000 (400%%)", out.NewRatio)
	}
}

func TestMintCircuit_RejectsRatioBelowEffectiveMCR(t *testing.T) {
	id := [32]byte{7}
	root, proof := membershipProof(t, id)
	pub := MintPublicInputs{CDPID: id}
	// $100 collateral against $100 debt is 100%, below a 110% MCR.
	priv := MintPrivateInputs{
		CollateralBefore: 200_000, CollateralAfter: 200_000,
		DebtBefore: 0, DebtAfter: 100_00,
		PriceCentsPerBTC: 50_000_00, EffectiveMCRBps: 11000,
		MembershipProof: proof,
	}
	_, err := (MintCircuit{}).Execute(pub, priv, root)
	if !errors.Is(err, cdperrors.ErrCollateralizationRatioTooLow) {
		t.Fatalf("MintCircuit: got %v, want ErrCollateralizationRatioTooLow", err)
	}
}

func TestRepayCircuit_RejectsNonDecreasingDebt(t *testing.T) {
	id := [32]byte{8}
	root, proof := membershipProof(t, id)
	pub := RepayPublicInputs{CDPID: id}
	priv := RepayPrivateInputs{DebtBefore: 100, DebtAfter: 100, MembershipProof: proof}

	if _, err := (RepayCircuit{}).Execute(pub, priv, root); err == nil {
		t.Fatalf("RepayCircuit should reject non-decreasing debt")
	}
}

func TestLiquidationCircuit_RejectsHealthyCDP(t *testing.T) {
	id := [32]byte{9}
	root, proof := membershipProof(t, id)
	pub := LiquidationPublicInputs{CDPID: id, BTCPriceCents: 50_000_00, MCRBps: 11000}
	// $500 collateral against $100 debt is 500%, nowhere near liquidatable.
	priv := LiquidationPrivateInputs{CollateralBefore: 1_000_000, DebtBefore: 100_00, MembershipProof: proof}

	_, err := (LiquidationCircuit{}).Execute(pub, priv, root)
	if !errors.Is(err, cdperrors.ErrCDPHealthy) {
		t.Fatalf("LiquidationCircuit: got %v, want ErrCDPHealthy", err)
	}
}

func TestPriceAttestationCircuit_RejectsInsufficientSources(t *testing.T) {
	pub := PriceAttestationPublicInputs{PriceCentsPerBTC: 50_000_00}
	priv := PriceAttestationPrivateInputs{
		SourcePrices: []uint64{50_000_00, 50_001_00},
		MinSources:   3,
	}
	_, err := (PriceAttestationCircuit{}).Execute(pub, priv)
	if !errors.Is(err, cdperrors.ErrInsufficientOracleSources) {
		t.Fatalf("got %v, want ErrInsufficientOracleSources", err)
	}
}

func TestPriceAttestationCircuit_RejectsExcessiveDeviation(t *testing.T) {
	pub := PriceAttestationPublicInputs{PriceCentsPerBTC: 60_000_00}
	priv := PriceAttestationPrivateInputs{
		SourcePrices:     []uint64{50_000_00, 50_000_00, 50_000_00},
		SourceTimestamps: []uint64{100, 100, 100},
		MinSources:       3, MaxStalenessSecs: 3600, MaxDeviationBps: 200, NowSecs: 100,
	}
	_, err := (PriceAttestationCircuit{}).Execute(pub, priv)
	if !errors.Is(err, cdperrors.ErrPriceDeviationExcessive) {
		t.Fatalf("got %v, want ErrPriceDeviationExcessive", err)
	}
}

func TestPriceAttestationCircuit_AcceptsConsistentPrices(t *testing.T) {
	pub := PriceAttestationPublicInputs{PriceCentsPerBTC: 50_000_00}
	priv := PriceAttestationPrivateInputs{
		SourcePrices:     []uint64{49_950_00, 50_000_00, 50_050_00},
		SourceTimestamps: []uint64{100, 100, 100},
		MinSources:       3, MaxStalenessSecs: 3600, MaxDeviationBps: 200, NowSecs: 100,
	}
	if _, err := (PriceAttestationCircuit{}).Execute(pub, priv); err != nil {
		t.Fatalf("Execute rejected consistent source prices: %v", err)
	}
}

func TestPriceAttestationCircuit_RejectsStaleSource(t *testing.T) {
	pub := PriceAttestationPublicInputs{PriceCentsPerBTC: 50_000_00}
	priv := PriceAttestationPrivateInputs{
		SourcePrices:     []uint64{50_000_00, 50_000_00, 50_000_00},
		SourceTimestamps: []uint64{100, 100, 100},
		MinSources:       3, MaxStalenessSecs: 60, MaxDeviationBps: 200, NowSecs: 1000,
	}
	_, err := (PriceAttestationCircuit{}).Execute(pub, priv)
	if !errors.Is(err, cdperrors.ErrPriceStale) {
		t.Fatalf("got %v, want ErrPriceStale", err)
	}
}

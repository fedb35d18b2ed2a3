package config

import (
	"testing"

	"zkusdcore/protocol/amounts"
)

func TestEnsureDefaultsFillsZeroFields(t *testing.T) {
	p := &ProtocolParams{}
	p.EnsureDefaults()

	if p.MinCollateralRatioBps != 11000 {
		t.Fatalf("MinCollateralRatioBps = %d, want 11000", p.MinCollateralRatioBps)
	}
	if p.CriticalCollateralRatioBps != 15000 {
		t.Fatalf("CriticalCollateralRatioBps = %d, want 15000", p.CriticalCollateralRatioBps)
	}
	if p.BaseRateHalfLifeBlocks != 2880 {
		t.Fatalf("BaseRateHalfLifeBlocks = %d, want 2880", p.BaseRateHalfLifeBlocks)
	}
	if p.MinOracleSources != 3 {
		t.Fatalf("MinOracleSources = %d, want 3", p.MinOracleSources)
	}
}

func TestEnsureDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	p := &ProtocolParams{MinCollateralRatioBps: 12000}
	p.EnsureDefaults()
	if p.MinCollateralRatioBps != 12000 {
		t.Fatalf("EnsureDefaults overrode an explicitly set field: got %d, want 12000", p.MinCollateralRatioBps)
	}
}

func TestValidateRejectsCCRBelowMCR(t *testing.T) {
	p := &ProtocolParams{}
	p.EnsureDefaults()
	p.CriticalCollateralRatioBps = p.MinCollateralRatioBps

	if err := p.Validate(); err == nil {
		t.Fatalf("Validate should reject CCR <= MCR")
	}
}

func TestValidateRejectsInvertedFeeBounds(t *testing.T) {
	p := &ProtocolParams{}
	p.EnsureDefaults()
	p.MaxBorrowingFeeBps = p.MinBorrowingFeeBps - 1

	if err := p.Validate(); err == nil {
		t.Fatalf("Validate should reject MaxBorrowingFeeBps < MinBorrowingFeeBps")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	p := &ProtocolParams{}
	p.EnsureDefaults()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate rejected the default parameter set: %v", err)
	}
}

func TestIsAuthorizedOracleMatchesHexEncodedKey(t *testing.T) {
	p := &ProtocolParams{AuthorizedOracles: []string{"aabbcc"}}
	if !p.IsAuthorizedOracle([]byte{0xaa, 0xbb, 0xcc}) {
		t.Fatalf("IsAuthorizedOracle should match a hex-encoded authorized key")
	}
	if p.IsAuthorizedOracle([]byte{0xde, 0xad}) {
		t.Fatalf("IsAuthorizedOracle should reject an unlisted key")
	}
}

func TestEffectiveMCRSwitchesOnRecoveryMode(t *testing.T) {
	p := &ProtocolParams{}
	p.EnsureDefaults()

	if got := p.EffectiveMCR(false); uint64(got) != p.MinCollateralRatioBps {
		t.Fatalf("EffectiveMCR(false) = %d, want MCR %d", got, p.MinCollateralRatioBps)
	}
	if got := p.EffectiveMCR(true); uint64(got) != p.CriticalCollateralRatioBps {
		t.Fatalf("EffectiveMCR(true) = %d, want CCR %d", got, p.CriticalCollateralRatioBps)
	}
}

func TestTCRTreatsZeroDebtAsMaxRatio(t *testing.T) {
	s := &ProtocolState{CurrentPriceCentsPerBTC: 50_000_00}
	tcr, err := s.TCR()
	if err != nil {
		t.Fatalf("TCR: %v", err)
	}
	if tcr != amounts.MaxRatio {
		t.Fatalf("TCR with zero debt = %d, want MaxRatio", tcr)
	}
	enter, err := s.ShouldEnterRecoveryMode(15000)
	if err != nil {
		t.Fatalf("ShouldEnterRecoveryMode: %v", err)
	}
	if enter {
		t.Fatalf("a debt-free system should never enter recovery mode (TCR=%d)", tcr)
	}
}

func TestShouldEnterRecoveryModeBelowCCR(t *testing.T) {
	// $80 collateral backing $100 debt is 80%, below a 150% CCR.
	s := &ProtocolState{CurrentPriceCentsPerBTC: 50_000_00, TotalSystemCollateralSats: 160_000, TotalSystemDebtCents: 100_00}
	enter, err := s.ShouldEnterRecoveryMode(15000)
	if err != nil {
		t.Fatalf("ShouldEnterRecoveryMode: %v", err)
	}
	if !enter {
		t.Fatalf("80%% TCR should trigger recovery mode against a 150%% CCR")
	}
}

func TestShouldEnterRecoveryModeAboveCCR(t *testing.T) {
	// $300 collateral backing $100 debt is 300%, comfortably above a 150% CCR.
	s := &ProtocolState{CurrentPriceCentsPerBTC: 50_000_00, TotalSystemCollateralSats: 600_000, TotalSystemDebtCents: 100_00}
	enter, err := s.ShouldEnterRecoveryMode(15000)
	if err != nil {
		t.Fatalf("ShouldEnterRecoveryMode: %v", err)
	}
	if enter {
		t.Fatalf("300%% TCR should not trigger recovery mode")
	}
}

func TestNewProtocolStateSeedsDebtCeiling(t *testing.T) {
	params := ProtocolParams{InitialDebtCeilingCents: 500_000_00}
	state := NewProtocolState(params)
	if state.DebtCeilingCents != 500_000_00 {
		t.Fatalf("DebtCeilingCents = %d, want 50000000", state.DebtCeilingCents)
	}
}

package persist

import (
	"testing"

	"zkusdcore/crypto"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/config"
	"zkusdcore/protocol/feeengine"
	"zkusdcore/storage"
)

func newTestAccessor(t *testing.T) *Accessor {
	t.Helper()
	return New(storage.NewMemStore())
}

func testPublicKey(t *testing.T) *crypto.PublicKey {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	return priv.PubKey()
}

func TestCDPRoundTrip(t *testing.T) {
	a := newTestAccessor(t)
	owner := testPublicKey(t)
	c := &cdp.CDP{
		ID:             cdp.NewID(owner.Bytes(), 1),
		Owner:          *owner,
		Status:         cdp.StatusActive,
		CollateralSats: 1_000_000,
		DebtCents:      200_00,
	}
	if err := a.PutCDP(c); err != nil {
		t.Fatalf("PutCDP: %v", err)
	}
	got, ok, err := a.GetCDP(c.ID)
	if err != nil || !ok {
		t.Fatalf("GetCDP: ok=%v err=%v", ok, err)
	}
	if got.CollateralSats != c.CollateralSats || got.DebtCents != c.DebtCents {
		t.Fatalf("round-tripped CDP mismatch: %+v vs %+v", got, c)
	}
	if string(got.Owner.Bytes()) != string(c.Owner.Bytes()) {
		t.Fatalf("round-tripped owner mismatch")
	}

	all, err := a.ListCDPs()
	if err != nil {
		t.Fatalf("ListCDPs: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListCDPs returned %d entries, want 1", len(all))
	}
}

func TestBalanceRoundTrip(t *testing.T) {
	a := newTestAccessor(t)
	holder := []byte("holder-one")
	if err := a.PutBalance(holder, 500_00); err != nil {
		t.Fatalf("PutBalance: %v", err)
	}
	got, ok, err := a.GetBalance(holder)
	if err != nil || !ok || got != 500_00 {
		t.Fatalf("GetBalance = %d, ok=%v, err=%v", got, ok, err)
	}

	balances, err := a.ListBalances()
	if err != nil {
		t.Fatalf("ListBalances: %v", err)
	}
	if balances[string(holder)] != 500_00 {
		t.Fatalf("ListBalances missing holder entry")
	}
}

func TestProtocolStateRoundTrip(t *testing.T) {
	a := newTestAccessor(t)
	if _, ok, err := a.GetProtocolState(); err != nil || ok {
		t.Fatalf("GetProtocolState on empty store: ok=%v err=%v, want ok=false", ok, err)
	}

	state := config.ProtocolState{
		TotalSystemDebtCents:      1_000_00,
		TotalSystemCollateralSats: 5_000_000,
		DebtCeilingCents:          10_000_000_00,
		BaseRateBps:               42,
		RecoveryMode:              true,
		CurrentPriceCentsPerBTC:   50_000_00,
	}
	if err := a.PutProtocolState(state); err != nil {
		t.Fatalf("PutProtocolState: %v", err)
	}
	got, ok, err := a.GetProtocolState()
	if err != nil || !ok {
		t.Fatalf("GetProtocolState: ok=%v err=%v", ok, err)
	}
	if got != state {
		t.Fatalf("round-tripped state mismatch: %+v vs %+v", got, state)
	}
}

func TestFeeHistoryRoundTrip(t *testing.T) {
	a := newTestAccessor(t)
	if _, ok, err := a.GetFeeHistory(); err != nil || ok {
		t.Fatalf("GetFeeHistory on empty store: ok=%v err=%v, want ok=false", ok, err)
	}

	history := []feeengine.RedemptionRecord{
		{Block: 10, Amount: 100_00},
		{Block: 20, Amount: 250_00},
	}
	if err := a.PutFeeHistory(history); err != nil {
		t.Fatalf("PutFeeHistory: %v", err)
	}
	got, ok, err := a.GetFeeHistory()
	if err != nil || !ok {
		t.Fatalf("GetFeeHistory: ok=%v err=%v", ok, err)
	}
	if len(got) != len(history) {
		t.Fatalf("history length = %d, want %d", len(got), len(history))
	}
	for i, rec := range history {
		if got[i] != rec {
			t.Fatalf("history[%d] = %+v, want %+v", i, got[i], rec)
		}
	}
}

func TestPayoutAndNonceRoundTrip(t *testing.T) {
	a := newTestAccessor(t)
	owner := []byte("owner-one")
	if err := a.PutPayout(owner, 750_000); err != nil {
		t.Fatalf("PutPayout: %v", err)
	}
	payouts, err := a.ListPayouts()
	if err != nil {
		t.Fatalf("ListPayouts: %v", err)
	}
	if payouts[string(owner)] != amounts.Sats(750_000) {
		t.Fatalf("ListPayouts missing owner entry")
	}

	if err := a.PutNonce(owner, 7); err != nil {
		t.Fatalf("PutNonce: %v", err)
	}
	nonces, err := a.ListNonces()
	if err != nil {
		t.Fatalf("ListNonces: %v", err)
	}
	if nonces[string(owner)] != 7 {
		t.Fatalf("ListNonces missing owner entry")
	}
}

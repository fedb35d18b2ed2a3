package statemachine

import (
	"encoding/hex"
	"errors"
	"testing"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/crypto"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/config"
	protoerrs "zkusdcore/protocol/errs"
	"zkusdcore/protocol/ops"
	"zkusdcore/storage"
)

func testParams(t *testing.T, oracle *crypto.PrivateKey) config.ProtocolParams {
	t.Helper()
	var params config.ProtocolParams
	params.EnsureDefaults()
	params.MinDebtCents = 100
	if oracle != nil {
		params.AuthorizedOracles = []string{hex.EncodeToString(oracle.PubKey().Bytes())}
	}
	return params
}

func newTestMachine(t *testing.T, params config.ProtocolParams) *Machine {
	t.Helper()
	store := storage.NewMemStore()
	m, err := New(store, params, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.BeginBlock(1, 1000)
	return m
}

func signedOp(t *testing.T, key *crypto.PrivateKey, nonce uint64, payload ops.Payload) *ops.Operation {
	t.Helper()
	op := &ops.Operation{Signer: *key.PubKey(), Nonce: nonce, Payload: payload}
	if err := op.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return op
}

func openHealthyCDP(t *testing.T, m *Machine, key *crypto.PrivateKey, nonce uint64, collateral amounts.Sats, debt amounts.Cents) cdp.ID {
	t.Helper()
	op := signedOp(t, key, nonce, ops.OpenCDP{InitialCollateral: collateral, InitialDebt: debt})
	result, err := m.Execute(op)
	if err != nil {
		t.Fatalf("OpenCDP: %v", err)
	}
	if len(result.Events) == 0 {
		t.Fatalf("OpenCDP: expected at least one event")
	}
	return cdp.NewID(key.PubKey().Bytes(), nonce)
}

func TestExecute_RejectsBadSignature(t *testing.T) {
	params := testParams(t, nil)
	m := newTestMachine(t, params)

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	other, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}

	op := signedOp(t, key, 1, ops.OpenCDP{InitialCollateral: 1_000_000, InitialDebt: 1_000})
	op.Signer = *other.PubKey() // swap in a signer the signature doesn't match

	if _, err := m.Execute(op); !errors.Is(err, cdperrors.ErrInvalidSignature) {
		t.Fatalf("Execute: got %v, want ErrInvalidSignature", err)
	}
}

func TestExecute_RejectsNonceReplay(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	key, _ := crypto.GeneratePrivateKey()
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	openHealthyCDP(t, m, key, 1, 1_000_000, 10_00)

	replay := signedOp(t, key, 1, ops.OpenCDP{InitialCollateral: 1_000_000, InitialDebt: 10_00})
	if _, err := m.Execute(replay); !errors.Is(err, cdperrors.ErrNonceReplay) {
		t.Fatalf("Execute: got %v, want ErrNonceReplay", err)
	}
}

func TestExecute_PausedRejectsEverythingButUpdatePrice(t *testing.T) {
	oracle, _ := crypto.GeneratePrivateKey()
	params := testParams(t, oracle)
	m := newTestMachine(t, params)
	m.state.Paused = true

	key, _ := crypto.GeneratePrivateKey()
	op := signedOp(t, key, 1, ops.OpenCDP{InitialCollateral: 1_000_000, InitialDebt: 10_00})
	if _, err := m.Execute(op); !errors.Is(err, cdperrors.ErrProtocolPaused) {
		t.Fatalf("Execute: got %v, want ErrProtocolPaused", err)
	}

	priceOp := signedOp(t, oracle, 1, ops.UpdatePrice{PriceCentsPerBTC: 50_000_00, Timestamp: 999})
	if _, err := m.Execute(priceOp); err != nil {
		t.Fatalf("Execute(UpdatePrice while paused): %v", err)
	}
	if m.state.CurrentPriceCentsPerBTC != 50_000_00 {
		t.Fatalf("price not updated while paused")
	}
}

func TestOpenCDP_RejectsRatioTooLow(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00 // $50,000/BTC

	key, _ := crypto.GeneratePrivateKey()
	// 0.001 BTC collateral ($50) backing $48 debt is ~104%, under the 110% MCR.
	op := signedOp(t, key, 1, ops.OpenCDP{InitialCollateral: 100_000, InitialDebt: 48_00})

	_, err := m.Execute(op)
	var ratioErr *protoerrs.RatioError
	if !errors.As(err, &ratioErr) {
		t.Fatalf("Execute: got %v, want *errs.RatioError", err)
	}
	if !errors.Is(err, cdperrors.ErrCollateralizationRatioTooLow) {
		t.Fatalf("Execute: RatioError does not unwrap to ErrCollateralizationRatioTooLow")
	}
}

func TestOpenCDP_RejectsDebtBelowMinimum(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil)) // MinDebtCents = 100
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	op := signedOp(t, key, 1, ops.OpenCDP{InitialCollateral: 1_000_000, InitialDebt: 50})

	_, err := m.Execute(op)
	if !errors.Is(err, cdperrors.ErrDebtBelowMinimum) {
		t.Fatalf("Execute: got %v, want ErrDebtBelowMinimum", err)
	}
}

func TestOpenCDP_AllowsZeroDebtEvenWithNonzeroMinimum(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil)) // MinDebtCents = 100, but a deposit-only CDP requests zero debt
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	id := openHealthyCDP(t, m, key, 1, 1_000_000, 0)

	c, ok := m.cdps[id]
	if !ok {
		t.Fatalf("CDP %x not found after OpenCDP", id)
	}
	if c.DebtCents != 0 {
		t.Fatalf("DebtCents = %d, want 0", c.DebtCents)
	}
}

func TestOpenCDP_Success(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	// 0.01 BTC ($500) backing $200 debt: 250% ratio, comfortably above 110% MCR.
	id := openHealthyCDP(t, m, key, 1, 1_000_000, 200_00)

	c, ok := m.cdps[id]
	if !ok {
		t.Fatalf("CDP %x not found after OpenCDP", id)
	}
	if c.CollateralSats != 1_000_000 || c.DebtCents != 200_00 {
		t.Fatalf("CDP fields wrong: %+v", c)
	}
	if got := m.ledger.Balance(key.PubKey().Bytes()); got != 200_00 {
		t.Fatalf("ledger balance = %d, want 20000", got)
	}
	if got := m.vault.Collateral(id); got != 1_000_000 {
		t.Fatalf("vault collateral = %d, want 1000000", got)
	}
	if m.state.TotalSystemDebtCents != 200_00 {
		t.Fatalf("TotalSystemDebtCents = %d, want 20000", m.state.TotalSystemDebtCents)
	}
}

func TestDepositMintRepayWithdrawCloseLifecycle(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	id := openHealthyCDP(t, m, key, 1, 1_000_000, 200_00)

	if _, err := m.Execute(signedOp(t, key, 2, ops.DepositCollateral{CDP: id, Amount: 500_000})); err != nil {
		t.Fatalf("DepositCollateral: %v", err)
	}
	if got := m.cdps[id].CollateralSats; got != 1_500_000 {
		t.Fatalf("collateral after deposit = %d, want 1500000", got)
	}

	// Repay the full debt minted at open (no fee was charged on OpenCDP, so
	// the ledger balance and outstanding debt match exactly).
	if _, err := m.Execute(signedOp(t, key, 3, ops.RepayDebt{CDP: id, Amount: 200_00})); err != nil {
		t.Fatalf("RepayDebt: %v", err)
	}
	if got := m.cdps[id].DebtCents; got != 0 {
		t.Fatalf("debt after repay = %d, want 0", got)
	}

	if _, err := m.Execute(signedOp(t, key, 4, ops.WithdrawCollateral{CDP: id, Amount: 100_000})); err != nil {
		t.Fatalf("WithdrawCollateral: %v", err)
	}
	if got := m.vault.PayoutBalance(key.PubKey().Bytes()); got != 100_000 {
		t.Fatalf("payout balance = %d, want 100000", got)
	}

	if _, err := m.Execute(signedOp(t, key, 5, ops.CloseCDP{CDP: id})); err != nil {
		t.Fatalf("CloseCDP: %v", err)
	}
	if m.cdps[id].Status != cdp.StatusClosed {
		t.Fatalf("status after close = %v, want closed", m.cdps[id].Status)
	}
	if m.cdps[id].CollateralSats != 0 || m.cdps[id].DebtCents != 0 {
		t.Fatalf("closed CDP should be zeroed: %+v", m.cdps[id])
	}
}

func TestHandleMint_ChargesBorrowingFeeAndRespectsSlippageGuard(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	id := openHealthyCDP(t, m, key, 1, 1_000_000, 200_00)

	// A zero slippage guard can never clear a positive minimum borrowing fee.
	tooStrict := signedOp(t, key, 2, ops.MintDebt{CDP: id, Amount: 50_00})
	tooStrict.MaxFeeBps = 0
	if _, err := m.Execute(tooStrict); !errors.Is(err, cdperrors.ErrFeeExceedsSlippage) {
		t.Fatalf("Execute: got %v, want ErrFeeExceedsSlippage", err)
	}

	// Generous slippage guard so the borrowing fee always clears; it is set
	// before signing because MaxFeeBps is part of the signed encoding.
	mintOp := signedOpWithMaxFee(t, key, 3, 10_000, ops.MintDebt{CDP: id, Amount: 50_00})
	if _, err := m.Execute(mintOp); err != nil {
		t.Fatalf("MintDebt: %v", err)
	}
	if got := m.cdps[id].DebtCents; got != 250_00 {
		t.Fatalf("debt after mint = %d, want 25000 (fee is charged against the minted amount, not added on top)", got)
	}
	// The minimum borrowing fee (50bps) is deducted from what the minter
	// actually receives, so their ledger balance is short of the gross mint.
	if got := m.ledger.Balance(key.PubKey().Bytes()); got >= 250_00 || got <= 200_00 {
		t.Fatalf("ledger balance = %d, want strictly between 20000 and 25000", got)
	}
}

func TestHandleWithdraw_RejectsUndercollateralizingWithdrawal(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	id := openHealthyCDP(t, m, key, 1, 1_000_000, 200_00)

	// Withdrawing nearly all collateral would crater the ratio far below MCR.
	op := signedOp(t, key, 2, ops.WithdrawCollateral{CDP: id, Amount: 950_000})
	_, err := m.Execute(op)
	if !errors.Is(err, cdperrors.ErrWithdrawalWouldUndercollateralize) {
		t.Fatalf("Execute: got %v, want ErrWithdrawalWouldUndercollateralize", err)
	}
}

func TestExecute_RollsBackEventsOnHandlerError(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	id := openHealthyCDP(t, m, key, 1, 1_000_000, 200_00)
	eventsAfterOpen := len(m.blockEvents)

	// RepayDebt for more than the outstanding debt fails inside the handler
	// after requireCDP/requireOwner already passed.
	badRepay := signedOp(t, key, 2, ops.RepayDebt{CDP: id, Amount: 1_000_00})
	if _, err := m.Execute(badRepay); err == nil {
		t.Fatalf("Execute: expected repay-exceeds-debt error")
	}

	if len(m.blockEvents) != eventsAfterOpen {
		t.Fatalf("blockEvents = %d entries after failed op, want %d (rolled back)", len(m.blockEvents), eventsAfterOpen)
	}
	// The nonce must not have advanced for the rejected operation either.
	if m.nonces[string(key.PubKey().Bytes())] != 1 {
		t.Fatalf("nonce advanced past the last accepted operation despite rejection")
	}
}

func TestRefreshRecoveryMode_EntersAndExitsOnTCR(t *testing.T) {
	params := testParams(t, nil)
	m := newTestMachine(t, params)
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	// 120% ratio: above 110% MCR (so OpenCDP succeeds) but below the 150%
	// CCR default, so the system should immediately enter recovery mode.
	collateral := amounts.Sats(1_200_000) // $600 at $50k/BTC
	debt := amounts.Cents(500_00)         // $500 debt -> 120%
	openHealthyCDPRatio(t, m, key, 1, collateral, debt)

	if !m.state.RecoveryMode {
		t.Fatalf("expected recovery mode active at 120%% TCR with a 150%% CCR")
	}

	// Bring in a second well-collateralized CDP that pulls the system-wide
	// TCR comfortably back above the CCR.
	key2, _ := crypto.GeneratePrivateKey()
	openHealthyCDPRatio(t, m, key2, 1, 10_000_000, 100_00)

	if m.state.RecoveryMode {
		t.Fatalf("expected recovery mode to clear once system TCR recovers above CCR")
	}
}

// openHealthyCDPRatio is like openHealthyCDP but does not check that the
// result carries events; callers here sit close to (or below) the
// recovery-mode threshold.
func openHealthyCDPRatio(t *testing.T, m *Machine, key *crypto.PrivateKey, nonce uint64, collateral amounts.Sats, debt amounts.Cents) cdp.ID {
	t.Helper()
	op := signedOp(t, key, nonce, ops.OpenCDP{InitialCollateral: collateral, InitialDebt: debt})
	if _, err := m.Execute(op); err != nil {
		t.Fatalf("OpenCDP: %v", err)
	}
	return cdp.NewID(key.PubKey().Bytes(), nonce)
}

func TestHandleUpdatePrice_RejectsUnauthorizedSigner(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	key, _ := crypto.GeneratePrivateKey()
	op := signedOp(t, key, 1, ops.UpdatePrice{PriceCentsPerBTC: 50_000_00, Timestamp: 1000})
	if _, err := m.Execute(op); !errors.Is(err, cdperrors.ErrUnauthorized) {
		t.Fatalf("Execute: got %v, want ErrUnauthorized", err)
	}
}

func TestHandleUpdatePrice_RejectsStalePrice(t *testing.T) {
	oracle, _ := crypto.GeneratePrivateKey()
	m := newTestMachine(t, testParams(t, oracle))
	m.blockTimestamp = 100_000

	op := signedOp(t, oracle, 1, ops.UpdatePrice{PriceCentsPerBTC: 50_000_00, Timestamp: 1})
	if _, err := m.Execute(op); !errors.Is(err, cdperrors.ErrPriceStale) {
		t.Fatalf("Execute: got %v, want ErrPriceStale", err)
	}
}

func TestHandleTransfer_MovesLedgerBalance(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	sender, _ := crypto.GeneratePrivateKey()
	recipient, _ := crypto.GeneratePrivateKey()
	openHealthyCDP(t, m, sender, 1, 1_000_000, 200_00)

	op := signedOp(t, sender, 2, ops.Transfer{Recipient: recipient.PubKey().Bytes(), Amount: 50_00})
	if _, err := m.Execute(op); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := m.ledger.Balance(sender.PubKey().Bytes()); got != 150_00 {
		t.Fatalf("sender balance = %d, want 15000", got)
	}
	if got := m.ledger.Balance(recipient.PubKey().Bytes()); got != 50_00 {
		t.Fatalf("recipient balance = %d, want 5000", got)
	}
}

func TestHandleStabilityDepositWithdrawClaimGains(t *testing.T) {
	m := newTestMachine(t, testParams(t, nil))
	m.state.CurrentPriceCentsPerBTC = 50_000_00

	key, _ := crypto.GeneratePrivateKey()
	openHealthyCDP(t, m, key, 1, 1_000_000, 200_00)

	if _, err := m.Execute(signedOp(t, key, 2, ops.StabilityDeposit{Amount: 100_00})); err != nil {
		t.Fatalf("StabilityDeposit: %v", err)
	}
	if got := m.pool.TotalDeposits(); got != 100_00 {
		t.Fatalf("pool total deposits = %d, want 10000", got)
	}
	if got := m.ledger.Balance(key.PubKey().Bytes()); got != 100_00 {
		t.Fatalf("ledger balance after stability deposit = %d, want 10000", got)
	}

	if _, err := m.Execute(signedOp(t, key, 3, ops.StabilityWithdraw{Amount: 40_00})); err != nil {
		t.Fatalf("StabilityWithdraw: %v", err)
	}
	if got := m.ledger.Balance(key.PubKey().Bytes()); got != 140_00 {
		t.Fatalf("ledger balance after stability withdraw = %d, want 14000", got)
	}

	if _, err := m.Execute(signedOp(t, key, 4, ops.ClaimGains{})); err != nil {
		t.Fatalf("ClaimGains: %v", err)
	}
}

func TestEndBlock_PersistsFeeHistoryAcrossRestart(t *testing.T) {
	store := storage.NewMemStore()
	params := testParams(t, nil)
	m, err := New(store, params, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.BeginBlock(1, 1000)
	m.state.CurrentPriceCentsPerBTC = 50_000_00
	m.state.TotalSystemDebtCents = 1_000_00

	m.fees.RecordRedemption(&m.state, 1, 500_00)
	if _, err := m.EndBlock(); err != nil {
		t.Fatalf("EndBlock: %v", err)
	}

	reopened, err := New(store, params, nil, nil)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	if len(reopened.fees.History()) != 1 {
		t.Fatalf("restored fee history length = %d, want 1", len(reopened.fees.History()))
	}
	if reopened.state.BaseRateBps != m.state.BaseRateBps {
		t.Fatalf("restored base rate = %d, want %d", reopened.state.BaseRateBps, m.state.BaseRateBps)
	}
}

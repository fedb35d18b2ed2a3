// Package statemachine implements the protocol's orchestrator: verify
// signature and nonce, dispatch to the matching per-operation handler,
// refresh recovery mode, and journal events. It is the one place
// every other package (cdp, ledger, vault, stabilitypool, feeengine,
// liquidation, redemption, ops, circuits, proof, persist, storage) is wired
// together, mirroring the role core/state_transition.go plays for the
// teacher's own transaction processing pipeline — including its
// staged-event-buffer rollback (sp.events = sp.events[:start]), adapted
// here to a per-Execute-call buffer on a Machine value rather than a
// process-wide singleton.
package statemachine

import (
	"fmt"
	"log/slog"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/core/events"
	"zkusdcore/crypto"
	"zkusdcore/observability/logging"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/config"
	ev "zkusdcore/protocol/events"
	"zkusdcore/protocol/feeengine"
	"zkusdcore/protocol/ledger"
	"zkusdcore/protocol/merkle"
	"zkusdcore/protocol/metrics"
	"zkusdcore/protocol/ops"
	"zkusdcore/protocol/persist"
	"zkusdcore/protocol/proof"
	"zkusdcore/protocol/stabilitypool"
	"zkusdcore/protocol/vault"
	"zkusdcore/storage"
)

// OperationResult is returned by Execute on success.
type OperationResult struct {
	Events []events.Event
	Proof  *proof.Proof
}

// Machine is the CDP protocol's in-memory runtime state plus the storage
// accessor it persists through at block boundaries. It is a value a host
// constructs once per chain/test, not a package-level singleton.
type Machine struct {
	store *persist.Accessor

	params config.ProtocolParams
	state  config.ProtocolState

	cdps   map[cdp.ID]*cdp.CDP
	ledger *ledger.Ledger
	vault  *vault.Vault
	pool   *stabilitypool.Pool
	fees   *feeengine.Engine
	nonces map[string]uint64

	proofs  *proof.Pipeline
	logger  *slog.Logger
	metrics *metrics.Registry

	blockHeight    uint64
	blockTimestamp uint64
	sequence       uint64
	blockEvents    []events.Event
}

// New constructs a Machine over store, loading any persisted state, or
// initializing fresh state seeded from params if store is empty. proofs
// may be nil to skip proof generation entirely; logger may be nil, in
// which case New provisions its own structured JSON logger.
func New(store storage.Store, params config.ProtocolParams, proofs *proof.Pipeline, logger *slog.Logger) (*Machine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("statemachine: invalid params: %w", err)
	}
	if logger == nil {
		logger = logging.Setup("cdp-protocol", "")
	}
	accessor := persist.New(store)

	m := &Machine{
		store:   accessor,
		params:  params,
		proofs:  proofs,
		logger:  logger,
		metrics: metrics.Protocol(),
	}

	loadedState, ok, err := accessor.GetProtocolState()
	if err != nil {
		return nil, err
	}
	if ok {
		m.state = loadedState
	} else {
		m.state = config.NewProtocolState(params)
	}

	cdps, err := accessor.ListCDPs()
	if err != nil {
		return nil, err
	}
	m.cdps = make(map[cdp.ID]*cdp.CDP, len(cdps))
	collateral := make(map[cdp.ID]amounts.Sats, len(cdps))
	for _, c := range cdps {
		m.cdps[c.ID] = c
		collateral[c.ID] = c.CollateralSats
	}

	payouts, err := accessor.ListPayouts()
	if err != nil {
		return nil, err
	}
	m.vault = vault.Restore(collateral, payouts)

	balances, err := accessor.ListBalances()
	if err != nil {
		return nil, err
	}
	m.ledger = ledger.Restore(balances)

	pool, ok, err := accessor.GetStabilityPool()
	if err != nil {
		return nil, err
	}
	if ok {
		m.pool = pool
	} else {
		m.pool = stabilitypool.New()
	}

	m.nonces, err = accessor.ListNonces()
	if err != nil {
		return nil, err
	}
	if m.nonces == nil {
		m.nonces = make(map[string]uint64)
	}

	feeHistory, ok, err := accessor.GetFeeHistory()
	if err != nil {
		return nil, err
	}
	if ok {
		m.fees = feeengine.Restore(&params, feeHistory)
	} else {
		m.fees = feeengine.New(&params)
	}

	return m, nil
}

// BeginBlock sets the clock for every operation executed until the next
// BeginBlock call.
func (m *Machine) BeginBlock(height, timestamp uint64) {
	m.blockHeight = height
	m.blockTimestamp = timestamp
	m.sequence = 0
	m.blockEvents = nil
}

// EndBlock persists dirty state and returns the block's accumulated
// events. Storage flush is the one suspension point in the core.
func (m *Machine) EndBlock() ([]events.Event, error) {
	if err := m.persistAll(); err != nil {
		return nil, err
	}
	if err := m.store.Flush(); err != nil {
		return nil, err
	}
	out := m.blockEvents
	m.blockEvents = nil
	return out, nil
}

func (m *Machine) persistAll() error {
	for _, c := range m.cdps {
		if err := m.store.PutCDP(c); err != nil {
			return err
		}
	}
	for holder, balance := range m.ledger.Balances() {
		if err := m.store.PutBalance([]byte(holder), balance); err != nil {
			return err
		}
	}
	for owner, amount := range m.vault.Payouts() {
		if err := m.store.PutPayout([]byte(owner), amount); err != nil {
			return err
		}
	}
	if err := m.store.PutStabilityPool(m.pool); err != nil {
		return err
	}
	if err := m.store.PutProtocolState(m.state); err != nil {
		return err
	}
	if err := m.store.PutFeeHistory(m.fees.History()); err != nil {
		return err
	}
	for signer, nonce := range m.nonces {
		if err := m.store.PutNonce([]byte(signer), nonce); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) emit(e events.Event) {
	m.blockEvents = append(m.blockEvents, e)
	m.sequence++
}

func (m *Machine) envelope() ev.Envelope {
	return ev.Envelope{BlockHeight: m.blockHeight, Timestamp: m.blockTimestamp, Sequence: m.sequence}
}

// Execute runs the full verify -> dispatch -> recovery-mode-refresh
// pipeline for a single signed operation.
func (m *Machine) Execute(op *ops.Operation) (OperationResult, error) {
	start := len(m.blockEvents)

	unsigned := op.EncodeUnsigned()
	hash := crypto.Keccak256(unsigned)
	signerBytes := op.Signer.Bytes()
	if !crypto.Verify(&op.Signer, hash, op.Signature) {
		return OperationResult{}, cdperrors.ErrInvalidSignature
	}

	last := m.nonces[string(signerBytes)]
	if op.Nonce <= last {
		return OperationResult{}, cdperrors.ErrNonceReplay
	}

	if m.state.Paused && op.Payload.Kind() != ops.KindUpdatePrice {
		return OperationResult{}, cdperrors.ErrProtocolPaused
	}

	var (
		result OperationResult
		err    error
	)
	switch payload := op.Payload.(type) {
	case ops.OpenCDP:
		result, err = m.handleOpenCDP(op, payload)
	case ops.DepositCollateral:
		result, err = m.handleDeposit(op, payload)
	case ops.WithdrawCollateral:
		result, err = m.handleWithdraw(op, payload)
	case ops.MintDebt:
		result, err = m.handleMint(op, payload)
	case ops.RepayDebt:
		result, err = m.handleRepay(op, payload)
	case ops.CloseCDP:
		result, err = m.handleClose(op, payload)
	case ops.LiquidateCDP:
		result, err = m.handleLiquidate(op, payload)
	case ops.Transfer:
		result, err = m.handleTransfer(op, payload)
	case ops.StabilityDeposit:
		result, err = m.handleStabilityDeposit(op, payload)
	case ops.StabilityWithdraw:
		result, err = m.handleStabilityWithdraw(op, payload)
	case ops.ClaimGains:
		result, err = m.handleClaimGains(op, payload)
	case ops.Redeem:
		result, err = m.handleRedeem(op, payload)
	case ops.UpdatePrice:
		result, err = m.handleUpdatePrice(op, payload)
	default:
		err = ops.ErrUnknownKind
	}

	if err != nil {
		m.blockEvents = m.blockEvents[:start]
		m.sequence = uint64(start)
		m.logger.Warn("operation rejected", "kind", op.Payload.Kind().String(), "signer", fmt.Sprintf("%x", signerBytes), "error", err)
		return OperationResult{}, err
	}

	m.nonces[string(signerBytes)] = op.Nonce
	m.refreshRecoveryMode()
	m.logger.Info("operation accepted", "kind", op.Payload.Kind().String(), "nonce", op.Nonce, "block", m.blockHeight)
	return result, nil
}

// refreshRecoveryMode recomputes TCR and flips recovery_mode, emitting
// RecoveryModeEntered/Exited on transition.
func (m *Machine) refreshRecoveryMode() {
	tcr, err := m.state.TCR()
	if err != nil {
		return
	}
	m.metrics.SetTCR(uint64(tcr))
	m.metrics.SetBaseRate(m.state.BaseRateBps)
	if m.state.DebtCeilingCents > 0 {
		utilizationBps := m.state.TotalSystemDebtCents * 10_000 / m.state.DebtCeilingCents
		m.metrics.SetDebtCeilingUtilization(utilizationBps)
	}

	should := tcr != amounts.MaxRatio && uint64(tcr) < m.params.CriticalCollateralRatioBps
	if should == m.state.RecoveryMode {
		return
	}
	m.state.RecoveryMode = should
	m.metrics.SetRecoveryModeActive(should)
	if should {
		m.emit(ev.RecoveryModeEntered{Envelope: m.envelope(), TCR: tcr})
	} else {
		m.emit(ev.RecoveryModeExited{Envelope: m.envelope(), TCR: tcr})
	}
}

// stateTree builds a Merkle tree over every current CDP record, for the
// circuit layer's before/after state-root constraint.
func (m *Machine) stateTree() *merkle.Tree {
	leaves := make([]merkle.Leaf, 0, len(m.cdps))
	for id, c := range m.cdps {
		leaves = append(leaves, merkle.Leaf{Key: append([]byte(nil), id[:]...), Value: cdpLeafValue(c)})
	}
	return merkle.Build(leaves)
}

func cdpLeafValue(c *cdp.CDP) []byte {
	buf := make([]byte, 0, 32)
	buf = appendU64(buf, uint64(c.CollateralSats))
	buf = appendU64(buf, uint64(c.DebtCents))
	buf = append(buf, byte(c.Status))
	return buf
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	return append(buf, tmp[:]...)
}

// membershipProof finds id's leaf index in tree and returns its inclusion
// proof, or a zero Proof if id is not present (e.g. OpenCDP's new record,
// which has no before-state membership to prove).
func membershipProof(tree *merkle.Tree, id cdp.ID) merkle.Proof {
	leaves := tree.Leaves()
	for i, l := range leaves {
		if len(l.Key) == len(id) && string(l.Key) == string(id[:]) {
			p, ok := tree.Prove(i)
			if ok {
				return p
			}
		}
	}
	return merkle.Proof{}
}

package statemachine

import (
	"fmt"

	cdperrors "zkusdcore/core/errors"
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/circuits"
	"zkusdcore/protocol/errs"
	ev "zkusdcore/protocol/events"
	"zkusdcore/protocol/liquidation"
	"zkusdcore/protocol/merkle"
	"zkusdcore/protocol/ops"
	"zkusdcore/protocol/proof"
	"zkusdcore/protocol/redemption"
)

// requireCDP looks up id and rejects terminal or missing CDPs.
func (m *Machine) requireCDP(id cdp.ID) (*cdp.CDP, error) {
	c, ok := m.cdps[id]
	if !ok {
		return nil, cdperrors.ErrCDPNotFound
	}
	if c.Status.Terminal() {
		return nil, cdperrors.ErrCDPAlreadyTerminal
	}
	return c, nil
}

func (m *Machine) requireOwner(c *cdp.CDP, signer []byte) error {
	if string(c.Owner.Bytes()) != string(signer) {
		return cdperrors.ErrUnauthorized
	}
	return nil
}

func (m *Machine) handleOpenCDP(op *ops.Operation, p ops.OpenCDP) (OperationResult, error) {
	if p.InitialDebt > 0 && p.InitialDebt < amounts.Cents(m.params.MinDebtCents) {
		return OperationResult{}, cdperrors.ErrDebtBelowMinimum
	}
	if p.InitialDebt > amounts.Cents(m.params.MaxDebtPerCDPCents) {
		return OperationResult{}, cdperrors.ErrDebtAboveMaximum
	}
	if m.state.TotalSystemDebtCents+uint64(p.InitialDebt) > m.state.DebtCeilingCents {
		return OperationResult{}, cdperrors.ErrDebtCeilingReached
	}

	signerBytes := op.Signer.Bytes()
	id := cdp.NewID(signerBytes, op.Nonce)
	if _, exists := m.cdps[id]; exists {
		return OperationResult{}, fmt.Errorf("cdp: id collision")
	}

	ratio, err := amounts.Ratio(p.InitialCollateral, m.state.CurrentPriceCentsPerBTC, p.InitialDebt)
	if err != nil {
		return OperationResult{}, err
	}
	if required := m.params.EffectiveMCR(m.state.RecoveryMode); ratio < required {
		return OperationResult{}, errs.NewRatioTooLow(uint64(ratio), uint64(required))
	}

	c := &cdp.CDP{
		ID:               id,
		Owner:            op.Signer,
		Status:           cdp.StatusActive,
		CollateralSats:   p.InitialCollateral,
		DebtCents:        p.InitialDebt,
		CreatedBlock:     m.blockHeight,
		LastUpdatedBlock: m.blockHeight,
	}
	m.cdps[id] = c
	m.vault.Deposit(id, p.InitialCollateral)
	m.ledger.Mint(signerBytes, p.InitialDebt)
	m.state.TotalSystemCollateralSats += uint64(p.InitialCollateral)
	m.state.TotalSystemDebtCents += uint64(p.InitialDebt)

	m.emit(ev.CDPOpened{Envelope: m.envelope(), CDPID: id, Owner: signerBytes, Collateral: p.InitialCollateral, Debt: p.InitialDebt})

	// OpenCDP has no matching circuit: every defined circuit asserts a
	// transition against a pre-existing CDP's membership proof, which a
	// brand-new CDPId cannot supply. See DESIGN.md's Circuit Contracts
	// entry.
	return OperationResult{Events: m.blockEvents}, nil
}

func (m *Machine) handleDeposit(op *ops.Operation, p ops.DepositCollateral) (OperationResult, error) {
	c, err := m.requireCDP(p.CDP)
	if err != nil {
		return OperationResult{}, err
	}
	if err := m.requireOwner(c, op.Signer.Bytes()); err != nil {
		return OperationResult{}, err
	}
	before := c.CollateralSats

	tree := m.stateTree()
	membership := membershipProof(tree, c.ID)

	c.CollateralSats += p.Amount
	c.LastUpdatedBlock = m.blockHeight
	m.vault.Deposit(c.ID, p.Amount)
	m.state.TotalSystemCollateralSats += uint64(p.Amount)

	m.emit(ev.CollateralDeposited{Envelope: m.envelope(), CDPID: c.ID, Amount: p.Amount})

	prf := m.proveDeposit(tree.Root(), m.stateTree().Root(), c.ID, membership, before, c.CollateralSats, c.DebtCents)
	return OperationResult{Events: m.blockEvents, Proof: prf}, nil
}

func (m *Machine) handleWithdraw(op *ops.Operation, p ops.WithdrawCollateral) (OperationResult, error) {
	c, err := m.requireCDP(p.CDP)
	if err != nil {
		return OperationResult{}, err
	}
	if err := m.requireOwner(c, op.Signer.Bytes()); err != nil {
		return OperationResult{}, err
	}
	if p.Amount > c.CollateralSats {
		return OperationResult{}, cdperrors.ErrInsufficientCollateral
	}
	before := c.CollateralSats
	after := before - p.Amount

	if c.DebtCents > 0 {
		ratio, err := amounts.Ratio(after, m.state.CurrentPriceCentsPerBTC, c.DebtCents)
		if err != nil {
			return OperationResult{}, err
		}
		if ratio < m.params.EffectiveMCR(m.state.RecoveryMode) {
			return OperationResult{}, cdperrors.ErrWithdrawalWouldUndercollateralize
		}
	}

	tree := m.stateTree()
	membership := membershipProof(tree, c.ID)

	c.CollateralSats = after
	c.LastUpdatedBlock = m.blockHeight
	m.vault.Withdraw(c.ID, p.Amount)
	m.vault.CreditPayout(op.Signer.Bytes(), p.Amount)
	m.state.TotalSystemCollateralSats -= uint64(p.Amount)

	m.emit(ev.CollateralWithdrawn{Envelope: m.envelope(), CDPID: c.ID, Amount: p.Amount})

	prf := m.proveWithdraw(tree.Root(), m.stateTree().Root(), c.ID, membership, before, after, c.DebtCents)
	return OperationResult{Events: m.blockEvents, Proof: prf}, nil
}

func (m *Machine) handleMint(op *ops.Operation, p ops.MintDebt) (OperationResult, error) {
	c, err := m.requireCDP(p.CDP)
	if err != nil {
		return OperationResult{}, err
	}
	if err := m.requireOwner(c, op.Signer.Bytes()); err != nil {
		return OperationResult{}, err
	}
	if m.state.TotalSystemDebtCents+uint64(p.Amount) > m.state.DebtCeilingCents {
		return OperationResult{}, cdperrors.ErrDebtCeilingReached
	}
	before := c.DebtCents
	after := before + p.Amount
	if after > amounts.Cents(m.params.MaxDebtPerCDPCents) {
		return OperationResult{}, cdperrors.ErrDebtAboveMaximum
	}

	feeBps := m.fees.BorrowingFeeBps(&m.state, m.blockHeight)
	if feeBps > op.MaxFeeBps {
		return OperationResult{}, cdperrors.ErrFeeExceedsSlippage
	}
	fee, err := amounts.MulDivRoundUp(uint64(p.Amount), feeBps, uint64(amounts.BpsPrecision))
	if err != nil {
		return OperationResult{}, err
	}

	ratio, err := amounts.Ratio(c.CollateralSats, m.state.CurrentPriceCentsPerBTC, after)
	if err != nil {
		return OperationResult{}, err
	}
	if required := m.params.EffectiveMCR(m.state.RecoveryMode); ratio < required {
		return OperationResult{}, errs.NewRatioTooLow(uint64(ratio), uint64(required))
	}

	tree := m.stateTree()
	membership := membershipProof(tree, c.ID)

	c.DebtCents = after
	c.LastUpdatedBlock = m.blockHeight
	signerBytes := op.Signer.Bytes()
	m.ledger.Mint(signerBytes, p.Amount-amounts.Cents(fee))
	m.state.TotalSystemDebtCents += uint64(p.Amount)

	m.emit(ev.DebtMinted{Envelope: m.envelope(), CDPID: c.ID, Amount: p.Amount, FeeBps: feeBps, FeePaid: amounts.Cents(fee)})

	prf := m.proveMint(tree.Root(), m.stateTree().Root(), c.ID, membership, c.CollateralSats, before, after)
	return OperationResult{Events: m.blockEvents, Proof: prf}, nil
}

func (m *Machine) handleRepay(op *ops.Operation, p ops.RepayDebt) (OperationResult, error) {
	c, err := m.requireCDP(p.CDP)
	if err != nil {
		return OperationResult{}, err
	}
	if err := m.requireOwner(c, op.Signer.Bytes()); err != nil {
		return OperationResult{}, err
	}
	if p.Amount > c.DebtCents {
		return OperationResult{}, fmt.Errorf("cdp: repay exceeds outstanding debt")
	}
	signerBytes := op.Signer.Bytes()
	if err := m.ledger.Burn(signerBytes, p.Amount); err != nil {
		return OperationResult{}, err
	}

	tree := m.stateTree()
	membership := membershipProof(tree, c.ID)

	before := c.DebtCents
	c.DebtCents -= p.Amount
	c.LastUpdatedBlock = m.blockHeight
	m.state.TotalSystemDebtCents -= uint64(p.Amount)

	m.emit(ev.DebtRepaid{Envelope: m.envelope(), CDPID: c.ID, Amount: p.Amount})

	prf := m.proveRepay(tree.Root(), m.stateTree().Root(), c.ID, membership, c.CollateralSats, before, c.DebtCents)
	return OperationResult{Events: m.blockEvents, Proof: prf}, nil
}

func (m *Machine) handleClose(op *ops.Operation, p ops.CloseCDP) (OperationResult, error) {
	c, err := m.requireCDP(p.CDP)
	if err != nil {
		return OperationResult{}, err
	}
	if err := m.requireOwner(c, op.Signer.Bytes()); err != nil {
		return OperationResult{}, err
	}
	signerBytes := op.Signer.Bytes()
	if c.DebtCents > 0 {
		if err := m.ledger.Burn(signerBytes, c.DebtCents); err != nil {
			return OperationResult{}, err
		}
	}
	collateral := m.vault.Clear(c.ID)
	m.vault.CreditPayout(signerBytes, collateral)
	m.state.TotalSystemCollateralSats -= uint64(c.CollateralSats)
	m.state.TotalSystemDebtCents -= uint64(c.DebtCents)

	c.CollateralSats = 0
	c.DebtCents = 0
	c.Status = cdp.StatusClosed
	c.LastUpdatedBlock = m.blockHeight

	m.emit(ev.CDPClosed{Envelope: m.envelope(), CDPID: c.ID})
	return OperationResult{Events: m.blockEvents}, nil
}

func (m *Machine) handleLiquidate(op *ops.Operation, p ops.LiquidateCDP) (OperationResult, error) {
	c, ok := m.cdps[p.CDP]
	if !ok {
		return OperationResult{}, cdperrors.ErrCDPNotFound
	}
	before := c.CollateralSats
	debtBefore := c.DebtCents
	tree := m.stateTree()
	membership := membershipProof(tree, c.ID)

	liquidator := op.Signer.Bytes()
	result, err := liquidation.Liquidate(c, m.vault, m.ledger, m.pool, &m.state, &m.params, liquidator, c.Owner.Bytes())
	if err != nil {
		return OperationResult{}, err
	}
	c.LastUpdatedBlock = m.blockHeight

	m.emit(ev.CDPLiquidated{
		Envelope:           m.envelope(),
		CDPID:              c.ID,
		Mode:               result.Mode,
		DebtCovered:        result.DebtCovered,
		CollateralSeized:   result.CollateralSeized,
		LiquidatorBonus:    result.LiquidatorBonus,
		RatioAtLiquidation: result.RatioAtLiquidation,
		BadDebt:            result.BadDebt,
	})

	m.metrics.RecordLiquidation(result.Mode.String())

	prf := m.proveLiquidation(tree, c.ID, membership, before, debtBefore, result)
	return OperationResult{Events: m.blockEvents, Proof: prf}, nil
}

func (m *Machine) handleTransfer(op *ops.Operation, p ops.Transfer) (OperationResult, error) {
	signerBytes := op.Signer.Bytes()
	if err := m.ledger.Transfer(signerBytes, p.Recipient, p.Amount); err != nil {
		return OperationResult{}, err
	}
	m.emit(ev.Transferred{Envelope: m.envelope(), Sender: signerBytes, Recipient: p.Recipient, Amount: p.Amount})
	return OperationResult{Events: m.blockEvents}, nil
}

func (m *Machine) handleStabilityDeposit(op *ops.Operation, p ops.StabilityDeposit) (OperationResult, error) {
	signerBytes := op.Signer.Bytes()
	if err := m.ledger.Burn(signerBytes, p.Amount); err != nil {
		return OperationResult{}, err
	}
	m.pool.Deposit(signerBytes, p.Amount)
	m.emit(ev.StabilityDeposited{Envelope: m.envelope(), Owner: signerBytes, Amount: p.Amount})
	return OperationResult{Events: m.blockEvents}, nil
}

func (m *Machine) handleStabilityWithdraw(op *ops.Operation, p ops.StabilityWithdraw) (OperationResult, error) {
	signerBytes := op.Signer.Bytes()
	withdrawn, err := m.pool.Withdraw(signerBytes, p.Amount)
	if err != nil {
		return OperationResult{}, err
	}
	m.ledger.Mint(signerBytes, withdrawn)
	m.emit(ev.StabilityWithdrawn{Envelope: m.envelope(), Owner: signerBytes, Amount: withdrawn})
	return OperationResult{Events: m.blockEvents}, nil
}

func (m *Machine) handleClaimGains(op *ops.Operation, p ops.ClaimGains) (OperationResult, error) {
	signerBytes := op.Signer.Bytes()
	gain, err := m.pool.ClaimGains(signerBytes)
	if err != nil {
		return OperationResult{}, err
	}
	m.vault.CreditPayout(signerBytes, gain)
	m.emit(ev.GainsClaimed{Envelope: m.envelope(), Owner: signerBytes, Sats: gain})
	return OperationResult{Events: m.blockEvents}, nil
}

func (m *Machine) handleRedeem(op *ops.Operation, p ops.Redeem) (OperationResult, error) {
	candidates := make([]*cdp.CDP, 0, len(m.cdps))
	for _, c := range m.cdps {
		if !c.Status.Terminal() && c.DebtCents > 0 {
			candidates = append(candidates, c)
		}
	}
	signerBytes := op.Signer.Bytes()
	result, err := redemption.Redeem(candidates, m.vault, m.ledger, m.fees, &m.state, m.blockHeight, signerBytes, p.Amount, op.MaxFeeBps)
	if err != nil {
		return OperationResult{}, err
	}
	for _, u := range result.Updates {
		if c, ok := m.cdps[u.ID]; ok {
			c.LastUpdatedBlock = m.blockHeight
		}
	}
	m.emit(ev.Redeemed{
		Envelope:       m.envelope(),
		Redeemer:       signerBytes,
		Requested:      result.Requested,
		Burned:         result.Burned,
		FeeBps:         result.FeeBps,
		FeePaid:        result.FeePaid,
		CollateralPaid: result.CollateralPaid,
		CDPsAffected:   uint32(len(result.Updates)),
	})
	m.metrics.RecordRedemption()
	return OperationResult{Events: m.blockEvents}, nil
}

func (m *Machine) handleUpdatePrice(op *ops.Operation, p ops.UpdatePrice) (OperationResult, error) {
	if !m.params.IsAuthorizedOracle(op.Signer.Bytes()) {
		return OperationResult{}, cdperrors.ErrUnauthorized
	}
	if p.Timestamp+m.params.MaxPriceStalenessSecs < m.blockTimestamp {
		return OperationResult{}, cdperrors.ErrPriceStale
	}
	m.state.CurrentPriceCentsPerBTC = p.PriceCentsPerBTC
	m.state.CurrentPriceTimestamp = p.Timestamp
	m.emit(ev.PriceUpdated{Envelope: m.envelope(), PriceCentsPerBTC: p.PriceCentsPerBTC})
	return OperationResult{Events: m.blockEvents}, nil
}

// --- proof generation helpers -----------------------------------------------
//
// NativeBackend.Prove (protocol/proof/native.go) takes the circuit's whole
// *Args bundle (public inputs + private inputs + state root) as its single
// publicInputs parameter and ignores the privateInputs parameter entirely —
// a real zkVM backend would split them, but the Pipeline's signature has to
// accommodate both shapes, so every call site here bundles its own Args
// value and passes nil for privateInputs.

func (m *Machine) proveDeposit(rootBefore, rootAfter [32]byte, id cdp.ID, membership merkle.Proof, collateralBefore, collateralAfter amounts.Sats, debt amounts.Cents) *proof.Proof {
	if m.proofs == nil {
		return nil
	}
	args := proof.DepositArgs{
		Public: circuits.DepositPublicInputs{
			StateRootBefore: rootBefore,
			StateRootAfter:  rootAfter,
			CDPID:           id,
			BlockHeight:     m.blockHeight,
		},
		Private: circuits.DepositPrivateInputs{
			CollateralBefore: collateralBefore, CollateralAfter: collateralAfter,
			DebtBefore: debt, DebtAfter: debt,
			MembershipProof: membership,
		},
		Root: rootBefore,
	}
	return m.prove(circuits.DepositCircuit{}.CircuitID(), proof.TypeDeposit, id, args)
}

func (m *Machine) proveWithdraw(rootBefore, rootAfter [32]byte, id cdp.ID, membership merkle.Proof, collateralBefore, collateralAfter amounts.Sats, debt amounts.Cents) *proof.Proof {
	if m.proofs == nil {
		return nil
	}
	args := proof.WithdrawArgs{
		Public: circuits.WithdrawPublicInputs{
			StateRootBefore: rootBefore,
			StateRootAfter:  rootAfter,
			CDPID:           id,
			BlockHeight:     m.blockHeight,
		},
		Private: circuits.WithdrawPrivateInputs{
			CollateralBefore: collateralBefore, CollateralAfter: collateralAfter,
			DebtBefore: debt, DebtAfter: debt,
			PriceCentsPerBTC: m.state.CurrentPriceCentsPerBTC,
			EffectiveMCRBps:  m.params.EffectiveMCR(m.state.RecoveryMode),
			MembershipProof:  membership,
		},
		Root: rootBefore,
	}
	return m.prove(circuits.WithdrawCircuit{}.CircuitID(), proof.TypeWithdraw, id, args)
}

func (m *Machine) proveMint(rootBefore, rootAfter [32]byte, id cdp.ID, membership merkle.Proof, collateral amounts.Sats, debtBefore, debtAfter amounts.Cents) *proof.Proof {
	if m.proofs == nil {
		return nil
	}
	args := proof.MintArgs{
		Public: circuits.MintPublicInputs{
			StateRootBefore: rootBefore,
			StateRootAfter:  rootAfter,
			CDPID:           id,
			BlockHeight:     m.blockHeight,
		},
		Private: circuits.MintPrivateInputs{
			CollateralBefore: collateral, CollateralAfter: collateral,
			DebtBefore: debtBefore, DebtAfter: debtAfter,
			PriceCentsPerBTC: m.state.CurrentPriceCentsPerBTC,
			EffectiveMCRBps:  m.params.EffectiveMCR(m.state.RecoveryMode),
			MembershipProof:  membership,
		},
		Root: rootBefore,
	}
	return m.prove(circuits.MintCircuit{}.CircuitID(), proof.TypeMint, id, args)
}

func (m *Machine) proveRepay(rootBefore, rootAfter [32]byte, id cdp.ID, membership merkle.Proof, collateral amounts.Sats, debtBefore, debtAfter amounts.Cents) *proof.Proof {
	if m.proofs == nil {
		return nil
	}
	args := proof.RepayArgs{
		Public: circuits.RepayPublicInputs{
			StateRootBefore: rootBefore,
			StateRootAfter:  rootAfter,
			CDPID:           id,
			BlockHeight:     m.blockHeight,
		},
		Private: circuits.RepayPrivateInputs{
			CollateralBefore: collateral, CollateralAfter: collateral,
			DebtBefore: debtBefore, DebtAfter: debtAfter,
			MembershipProof: membership,
		},
		Root: rootBefore,
	}
	return m.prove(circuits.RepayCircuit{}.CircuitID(), proof.TypeRepay, id, args)
}

func (m *Machine) proveLiquidation(beforeTree *merkle.Tree, id cdp.ID, membership merkle.Proof, collateralBefore amounts.Sats, debtBefore amounts.Cents, result liquidation.Result) *proof.Proof {
	if m.proofs == nil {
		return nil
	}
	args := proof.LiquidationArgs{
		Public: circuits.LiquidationPublicInputs{
			StateRootBefore:  beforeTree.Root(),
			StateRootAfter:   m.stateTree().Root(),
			CDPID:            id,
			BTCPriceCents:    m.state.CurrentPriceCentsPerBTC,
			MCRBps:           m.params.EffectiveMCR(m.state.RecoveryMode),
			DebtCovered:      result.DebtCovered,
			CollateralSeized: result.CollateralSeized,
			BlockHeight:      m.blockHeight,
		},
		Private: circuits.LiquidationPrivateInputs{
			CollateralBefore:    collateralBefore,
			DebtBefore:          debtBefore,
			LiquidationBonusBps: m.params.LiquidationBonusBps,
			MembershipProof:     membership,
		},
		Root: beforeTree.Root(),
	}
	return m.prove(circuits.LiquidationCircuit{}.CircuitID(), proof.TypeLiquidation, id, args)
}

// prove runs the pipeline for circuitID over args (one of the bundled
// *Args types in protocol/proof/native.go), tagging the result with
// proofType. A failed proof is logged and swallowed rather than rejecting
// the already-committed operation: proof generation is an attestation
// produced alongside the state transition, not a precondition for it.
func (m *Machine) prove(circuitID string, proofType proof.Type, id cdp.ID, args any) *proof.Proof {
	hash := proof.HashPublicInputs([]byte(fmt.Sprintf("%s:%x:%d:%d", circuitID, id, m.blockHeight, m.sequence)))
	p, err := m.proofs.Prove(circuitID, hash, args, nil)
	if err != nil {
		m.logger.Warn("proof generation failed", "circuit", circuitID, "cdp", fmt.Sprintf("%x", id), "error", err)
		return nil
	}
	p.ProofType = proofType
	return &p
}

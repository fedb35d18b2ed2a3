// Package events defines the concrete event types the state machine emits,
// implementing the shared zkusdcore/core/events.Event contract (EventType
// string tag) so a host can subscribe through the same Emitter interface
// the rest of the codebase uses, without the core depending on any
// particular sink.
package events

import (
	"zkusdcore/protocol/amounts"
	"zkusdcore/protocol/cdp"
	"zkusdcore/protocol/liquidation"
)

// Envelope fields every event carries: every committed operation emits one
// or more typed events, each containing operation-specific fields plus
// (block_height, timestamp, sequence).
type Envelope struct {
	BlockHeight uint64
	Timestamp   uint64
	Sequence    uint64
}

type CDPOpened struct {
	Envelope
	CDPID      cdp.ID
	Owner      []byte
	Collateral amounts.Sats
	Debt       amounts.Cents
}

func (CDPOpened) EventType() string { return "CDPOpened" }

type CollateralDeposited struct {
	Envelope
	CDPID  cdp.ID
	Amount amounts.Sats
}

func (CollateralDeposited) EventType() string { return "CollateralDeposited" }

type CollateralWithdrawn struct {
	Envelope
	CDPID  cdp.ID
	Amount amounts.Sats
}

func (CollateralWithdrawn) EventType() string { return "CollateralWithdrawn" }

type DebtMinted struct {
	Envelope
	CDPID  cdp.ID
	Amount amounts.Cents
	FeeBps uint64
	FeePaid amounts.Cents
}

func (DebtMinted) EventType() string { return "DebtMinted" }

type DebtRepaid struct {
	Envelope
	CDPID  cdp.ID
	Amount amounts.Cents
}

func (DebtRepaid) EventType() string { return "DebtRepaid" }

type CDPClosed struct {
	Envelope
	CDPID cdp.ID
}

func (CDPClosed) EventType() string { return "CDPClosed" }

type CDPLiquidated struct {
	Envelope
	CDPID              cdp.ID
	Mode               liquidation.Mode
	DebtCovered        amounts.Cents
	CollateralSeized   amounts.Sats
	LiquidatorBonus    amounts.Sats
	RatioAtLiquidation amounts.Bps
	BadDebt            amounts.Cents
}

func (CDPLiquidated) EventType() string { return "CDPLiquidated" }

type Transferred struct {
	Envelope
	Sender    []byte
	Recipient []byte
	Amount    amounts.Cents
}

func (Transferred) EventType() string { return "Transferred" }

type StabilityDeposited struct {
	Envelope
	Owner  []byte
	Amount amounts.Cents
}

func (StabilityDeposited) EventType() string { return "StabilityDeposited" }

type StabilityWithdrawn struct {
	Envelope
	Owner  []byte
	Amount amounts.Cents
}

func (StabilityWithdrawn) EventType() string { return "StabilityWithdrawn" }

type GainsClaimed struct {
	Envelope
	Owner []byte
	Sats  amounts.Sats
}

func (GainsClaimed) EventType() string { return "GainsClaimed" }

type Redeemed struct {
	Envelope
	Redeemer       []byte
	Requested      amounts.Cents
	Burned         amounts.Cents
	FeeBps         uint64
	FeePaid        amounts.Cents
	CollateralPaid amounts.Sats
	CDPsAffected   uint32
}

func (Redeemed) EventType() string { return "Redeemed" }

type PriceUpdated struct {
	Envelope
	PriceCentsPerBTC uint64
}

func (PriceUpdated) EventType() string { return "PriceUpdated" }

type RecoveryModeEntered struct {
	Envelope
	TCR amounts.Bps
}

func (RecoveryModeEntered) EventType() string { return "RecoveryModeEntered" }

type RecoveryModeExited struct {
	Envelope
	TCR amounts.Bps
}

func (RecoveryModeExited) EventType() string { return "RecoveryModeExited" }

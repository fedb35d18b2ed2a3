package errors

import stderrors "errors"

// Sentinel errors for the CDP protocol state machine, grouped by surface.
// Kinds that carry structured detail (e.g. the ratio that tripped a
// threshold) are defined in protocol/errs instead (RatioError), wrapping one
// of these sentinels so callers can still errors.Is against the kind.
var (
	// Authorization
	ErrInvalidSignature = stderrors.New("cdp: invalid signature")
	ErrNonceReplay      = stderrors.New("cdp: nonce replay")
	ErrUnauthorized     = stderrors.New("cdp: unauthorized")
	ErrProtocolPaused   = stderrors.New("cdp: protocol paused")

	// Entity
	ErrCDPNotFound        = stderrors.New("cdp: not found")
	ErrCDPAlreadyTerminal = stderrors.New("cdp: already closed or liquidated")
	ErrInsufficientBalance   = stderrors.New("cdp: insufficient balance")
	ErrInsufficientCollateral = stderrors.New("cdp: insufficient collateral")

	// Invariant
	ErrCollateralizationRatioTooLow    = stderrors.New("cdp: collateralization ratio too low")
	ErrWithdrawalWouldUndercollateralize = stderrors.New("cdp: withdrawal would undercollateralize")
	ErrDebtBelowMinimum  = stderrors.New("cdp: debt below minimum")
	ErrDebtAboveMaximum  = stderrors.New("cdp: debt above maximum")
	ErrDebtCeilingReached = stderrors.New("cdp: debt ceiling reached")

	// Pricing
	ErrPriceStale                 = stderrors.New("cdp: price stale")
	ErrInsufficientOracleSources  = stderrors.New("cdp: insufficient oracle sources")
	ErrPriceDeviationExcessive    = stderrors.New("cdp: price deviation excessive")

	// Liquidation
	ErrCDPHealthy         = stderrors.New("cdp: not liquidatable")
	ErrFeeExceedsSlippage = stderrors.New("cdp: fee exceeds slippage")

	// Arithmetic
	ErrOverflowInFixedPoint = stderrors.New("cdp: overflow in fixed point arithmetic")
	ErrDivisionByZero       = stderrors.New("cdp: division by zero")

	// Post-commit invariant failures. No code path checks these invariants;
	// the two values are declared here and not returned or raised anywhere.
	ErrSupplyDebtMismatch  = stderrors.New("cdp: total supply does not match debt accounting")
	ErrNegativeAccumulator = stderrors.New("cdp: accumulator went negative")
)

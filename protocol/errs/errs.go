// Package errs carries structured detail on top of the sentinel error kinds
// declared in zkusdcore/core/errors, for the handful of kinds that need
// extra context beyond a plain sentinel (e.g. the ratio that tripped a
// threshold).
package errs

import (
	"errors"
	"fmt"

	cdperrors "zkusdcore/core/errors"
)

// RatioError reports a collateralization-ratio invariant failure together
// with the ratio observed and the threshold it needed to meet.
type RatioError struct {
	Current Bps
	Minimum Bps
}

// Bps mirrors amounts.Bps without importing it, to keep this package
// dependency-free of the domain types it annotates errors for.
type Bps = uint64

func (e *RatioError) Error() string {
	return fmt.Sprintf("cdp: ratio %d below required %d", e.Current, e.Minimum)
}

func (e *RatioError) Unwrap() error { return cdperrors.ErrCollateralizationRatioTooLow }

// NewRatioTooLow builds a RatioError for CollateralizationRatioTooLow.
func NewRatioTooLow(current, minimum Bps) error {
	return &RatioError{Current: current, Minimum: minimum}
}

// Is reports whether err is (or wraps) the named protocol error kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

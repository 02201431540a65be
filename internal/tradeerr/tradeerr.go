// Package tradeerr collects the sentinel errors shared across the trading
// loop and classifies them as fatal or recoverable per the error-handling
// design: programmer-error invariant violations and data-integrity failures
// are fatal; venue/sync transients are recoverable.
package tradeerr

import (
	"errors"
	"fmt"
)

// Programmer-error invariant violations. Fatal.
var (
	ErrUpdatedTradesNotRunning = errors.New("updated trades not running")
	ErrTradeAlreadyRegistered  = errors.New("trade already registered")
	ErrInvalidTrigger          = errors.New("invalid trigger: empty price window intersection")
	ErrTimeSequenceViolation   = errors.New("time sequence violation")
)

// Data-integrity failures: venue truth disagrees with local belief beyond
// what reconciliation can bridge. Fatal.
var (
	ErrClosedTradeNotConfirmed = errors.New("closed trade not confirmed by venue")
	ErrUnexpectedClosedTrade   = errors.New("unexpected closed trade returned by venue")
)

// MarketStore preconditions. Fatal at engine start, recoverable if transient later.
var (
	ErrDbIsEmpty               = errors.New("market store has no price history")
	ErrPriceHistoryUnavailable = errors.New("price history unavailable for requested window")
)

// Sync staleness. Recoverable; restarts the sync task.
var (
	ErrMaxPriceTickIntervalExceeded = errors.New("max price tick interval exceeded")
)

// Shutdown races. Fatal; aborts the handle.
var (
	ErrSendShutdownSignalFailed = errors.New("send shutdown signal failed")
	ErrShutdownTimeout          = errors.New("shutdown timed out")
)

// Operation-level failures surfaced as ordinary results, not subsystem
// termination.
var (
	ErrBalanceTooLow                     = errors.New("balance too low")
	ErrBalanceTooHigh                    = errors.New("balance too high")
	ErrMaxRunningTradesReached           = errors.New("maximum running trades reached")
	ErrTradeNotRunning                   = errors.New("trade not running")
	ErrManagerNotReady                   = errors.New("trade executor not ready")
	ErrStoplossModeTrailingBelowStepSize = errors.New("trailing stoploss step below configured floor")
	ErrInsufficientBalance               = errors.New("insufficient balance")
	ErrResultingLeverageOutOfRange       = errors.New("resulting leverage out of range")
	ErrResultingMarginTooLow             = errors.New("resulting margin too low")
)

// LaggedError reports that a broadcast subscriber fell behind and skipped n
// updates; the subscriber must resync from a snapshot method.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged, skipped %d updates", e.Skipped)
}

// Kind classifies an error for subsystem-level disposition.
type Kind int

const (
	KindRecoverable Kind = iota
	KindFatal
)

func (k Kind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "recoverable"
}

// ClassOf returns the disposition of err per the error-handling design.
// Unknown errors (e.g. plain venue API errors not wrapped in a sentinel) are
// treated as recoverable, matching "Venue API error ... recoverable in
// sync/refresh loops".
func ClassOf(err error) Kind {
	if err == nil {
		return KindRecoverable
	}
	fatalSentinels := []error{
		ErrUpdatedTradesNotRunning,
		ErrTradeAlreadyRegistered,
		ErrInvalidTrigger,
		ErrTimeSequenceViolation,
		ErrClosedTradeNotConfirmed,
		ErrUnexpectedClosedTrade,
		ErrSendShutdownSignalFailed,
		ErrShutdownTimeout,
	}
	for _, s := range fatalSentinels {
		if errors.Is(err, s) {
			return KindFatal
		}
	}
	var lagged *LaggedError
	if errors.As(err, &lagged) {
		return KindRecoverable
	}
	return KindRecoverable
}

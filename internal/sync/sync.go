// Package sync implements the SyncEngine: the subsystem that keeps a
// MarketStore's price ticks and funding settlements current against a venue,
// either by one-shot REST backfill, a polled live feed standing in for the
// venue's WebSocket push (spec.md §4.6 treats the wire transport as an
// external collaborator), or both.
package sync

import (
	"context"
	"time"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/venue"
)

// PriceSource is the slice of VenueClient the sync engine consumes. Declared
// narrow (rather than depending on venue.VenueClient directly) so tests can
// supply a minimal fake and so venue.Paper's "price history not supported"
// stub doesn't block exercising Backfill/Full modes in isolation.
type PriceSource interface {
	Ticker(ctx context.Context) (venue.Ticker, error)
	PriceHistory(ctx context.Context, from, to *time.Time, limit *int) ([]venue.PricePoint, error)
	Settlements(ctx context.Context, from, to *time.Time) ([]trade.FundingSettlement, error)
}

// StoreWriter is the write half of MarketStore. Per spec.md §5 "Shared
// resources", writes are owned exclusively by the sync subsystem; every
// other consumer only ever sees store.MarketStore, which has no tick or
// settlement ingestion methods.
type StoreWriter interface {
	IngestTick(t time.Time, price numeric.Price)
	IngestSettlements(settlements []trade.FundingSettlement)
}

// ModeKind selects how the engine sources price data.
type ModeKind int

const (
	ModeBackfill ModeKind = iota
	ModeLiveNoLookback
	ModeLiveWithLookback
	ModeFull
)

func (k ModeKind) String() string {
	switch k {
	case ModeBackfill:
		return "backfill"
	case ModeLiveNoLookback:
		return "live_no_lookback"
	case ModeLiveWithLookback:
		return "live_with_lookback"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// Mode is the sync strategy, grounded on the original SyncMode enum
// (Backfill, Live(Option<LookbackPeriod>), Full): a one-shot REST pagination
// mode, a WebSocket-only live mode, a live mode preceded by a bounded REST
// backfill, and a full-history backfill followed by a live feed.
type Mode struct {
	Kind     ModeKind
	Lookback time.Duration
}

func Backfill() Mode                            { return Mode{Kind: ModeBackfill} }
func LiveNoLookback() Mode                       { return Mode{Kind: ModeLiveNoLookback} }
func LiveWithLookback(lookback time.Duration) Mode { return Mode{Kind: ModeLiveWithLookback, Lookback: lookback} }
func Full() Mode                                { return Mode{Kind: ModeFull} }

// LiveFeedActive reports whether this mode maintains an ongoing live feed
// after its initial backfill (Backfill alone does not).
func (m Mode) LiveFeedActive() bool { return m.Kind != ModeBackfill }

// NotSyncedSubstate narrows the NotSynced status while the engine is not yet
// caught up.
type NotSyncedSubstate int

const (
	SubstateStarting NotSyncedSubstate = iota
	SubstateBackfilling
	SubstateWaitingForFirstTick
	SubstateResyncing
	SubstateFailed
	SubstateRestarting
)

func (s NotSyncedSubstate) String() string {
	switch s {
	case SubstateStarting:
		return "starting"
	case SubstateBackfilling:
		return "backfilling"
	case SubstateWaitingForFirstTick:
		return "waiting_for_first_tick"
	case SubstateResyncing:
		return "resyncing"
	case SubstateFailed:
		return "failed"
	case SubstateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

// StatusKind is the top-level status snapshot per spec.md §4.6:
// NotSynced(substate) | Synced | Terminated | ShutdownInitiated | Shutdown.
type StatusKind int

const (
	StatusNotSynced StatusKind = iota
	StatusSynced
	StatusTerminated
	StatusShutdownInitiated
	StatusShutdown
)

func (k StatusKind) String() string {
	switch k {
	case StatusNotSynced:
		return "not_synced"
	case StatusSynced:
		return "synced"
	case StatusTerminated:
		return "terminated"
	case StatusShutdownInitiated:
		return "shutdown_initiated"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Status is the full status snapshot. Substate and Reason are only
// meaningful when Kind is StatusNotSynced or StatusTerminated respectively.
type Status struct {
	Kind     StatusKind
	Substate NotSyncedSubstate
	Reason   string
}

func notSynced(sub NotSyncedSubstate) Status { return Status{Kind: StatusNotSynced, Substate: sub} }

func failed(reason string) Status {
	return Status{Kind: StatusNotSynced, Substate: SubstateFailed, Reason: reason}
}

// UpdateKind discriminates the broadcast Update variants.
type UpdateKind int

const (
	UpdateStatus UpdateKind = iota
	UpdatePriceTick
	UpdatePriceHistoryState
	UpdateFundingSettlementsState
)

// PriceTick is a single observed price, timestamped at observation.
type PriceTick struct {
	Time  time.Time
	Price numeric.Price
}

// PriceHistoryState reports REST backfill/resync progress.
type PriceHistoryState struct {
	Fetched int
	Done    bool
}

// FundingSettlementsState reports funding-settlement resync progress.
type FundingSettlementsState struct {
	Fetched int
}

// Update is one broadcast event. Exactly one of the payload fields is set,
// matching Kind.
type Update struct {
	Kind             UpdateKind
	Status           Status
	Tick             PriceTick
	HistoryState     PriceHistoryState
	SettlementsState FundingSettlementsState
}

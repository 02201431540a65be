package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/flemosr/tradeloop/internal/store"
)

// NamedOperator pairs an Operator with the name its trading state is
// tagged with in ParallelBacktestEngine's broadcast.
type NamedOperator struct {
	Name     string
	Operator Operator
}

// ParallelBacktestEngine runs N operators over the same MarketStore
// (spec.md §4.5 "Parallel backtest engine"). Each operator gets its own
// BacktestEngine, Simulated executor and (if it declares one)
// Consolidator — a ConsolidatedOperator's declared resolutions can differ
// across operators, so each BacktestEngine builds its own rather than
// forcing a single shared resolution map. The "single source of market
// data" the spec calls for is the shared MarketStore itself (the backtest
// engines call only its read methods, never RegisterTrade or
// RemoveRunningTrades), which every operator's BacktestEngine reads from
// independently — N goroutines pulling from one unchanging data source
// rather than hand-coordinated buffer state, in keeping with errgroup's
// fan-out idiom (golang.org/x/sync/errgroup; internal/session's bounded
// stoploss-update dispatch uses the same module's semaphore).
type ParallelBacktestEngine struct {
	ms   store.MarketStore
	cfg  BacktestConfig
	ops  []NamedOperator

	statusCh chan BacktestStatus
}

// NewParallelBacktestEngine validates operator names (non-empty, unique)
// and returns an engine ready to Run.
func NewParallelBacktestEngine(ms store.MarketStore, cfg BacktestConfig, ops []NamedOperator) (*ParallelBacktestEngine, error) {
	seen := make(map[string]bool, len(ops))
	for _, o := range ops {
		if o.Name == "" {
			return nil, fmt.Errorf("parallel backtest: operator name must not be empty")
		}
		if seen[o.Name] {
			return nil, fmt.Errorf("parallel backtest: duplicate operator name %q", o.Name)
		}
		seen[o.Name] = true
	}
	return &ParallelBacktestEngine{ms: ms, cfg: cfg, ops: ops, statusCh: make(chan BacktestStatus, 16*len(ops))}, nil
}

// Status returns the merged, name-tagged status stream across every
// operator. Closed once every operator's run has reported.
func (e *ParallelBacktestEngine) Status() <-chan BacktestStatus { return e.statusCh }

// Run drives every operator concurrently to completion, returning the
// first error encountered (errgroup.WithContext cancels the remaining
// operators' contexts on first failure, per spec.md's "duplicate or empty
// names are rejected at configuration" — everything else fails together).
func (e *ParallelBacktestEngine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range e.ops {
		name := o.Name
		op := o.Operator
		g.Go(func() error {
			be := NewBacktestEngine(e.ms, e.cfg, op)
			done := make(chan error, 1)
			go func() { done <- be.Run(gctx) }()
			for status := range be.Status() {
				status.State.Operator = name
				e.statusCh <- status
			}
			return <-done
		})
	}
	err := g.Wait()
	close(e.statusCh)
	return err
}

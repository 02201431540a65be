package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/session"
	"github.com/flemosr/tradeloop/internal/store"
	"github.com/flemosr/tradeloop/internal/trade"
	"github.com/flemosr/tradeloop/internal/tradeerr"
	"github.com/flemosr/tradeloop/internal/venue"
)

// LiveStatus is the Live executor's status machine (spec.md §4.4.2):
//
//	Starting -> WaitingForSync -> Ready -> Failed(recoverable) -> Starting
//	Ready -> ShutdownInitiated -> Shutdown
//	any -> Terminated (fatal, no recovery)
type LiveStatus int

const (
	StatusStarting LiveStatus = iota
	StatusWaitingForSync
	StatusReady
	StatusFailed
	StatusShutdownInitiated
	StatusShutdown
	StatusTerminated
)

func (s LiveStatus) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusWaitingForSync:
		return "waiting_for_sync"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusShutdownInitiated:
		return "shutdown_initiated"
	case StatusShutdown:
		return "shutdown"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Live is the venue-backed TradeExecutor. It wraps a session.LiveSession and
// refuses every write operation unless its status is Ready; a venue call
// failure downgrades status to Failed without crashing the process, so the
// owning refresh loop can retry construction.
type Live struct {
	mu sync.Mutex

	status     LiveStatus
	failReason string

	sess *session.LiveSession

	ms               store.MarketStore
	vc               venue.VenueClient
	tslStepFloor     numeric.PercentageCapped
	recoverOnStartup bool
	maxRunningQty    int
}

// NewLive returns a Live executor in the Starting status. Call Start before
// any write operation.
func NewLive(ms store.MarketStore, vc venue.VenueClient, tslStepFloor numeric.PercentageCapped, recoverOnStartup bool, maxRunningQty int) *Live {
	return &Live{
		status:           StatusStarting,
		ms:               ms,
		vc:               vc,
		tslStepFloor:     tslStepFloor,
		recoverOnStartup: recoverOnStartup,
		maxRunningQty:    maxRunningQty,
	}
}

// Status returns the current status and, if Failed, the recorded reason.
func (l *Live) Status() (LiveStatus, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status, l.failReason
}

func (l *Live) setStatus(s LiveStatus, reason string) {
	l.mu.Lock()
	l.status = s
	l.failReason = reason
	l.mu.Unlock()
}

// Start builds (or rebuilds, after a prior Failed status) the underlying
// LiveSession. It is the only path out of Starting/Failed into Ready.
func (l *Live) Start(ctx context.Context) error {
	l.setStatus(StatusWaitingForSync, "")

	l.mu.Lock()
	prev := l.sess
	l.mu.Unlock()

	sess, err := session.NewLiveSession(ctx, l.recoverOnStartup, l.tslStepFloor, l.ms, l.vc, prev)
	if err != nil {
		l.setStatus(StatusFailed, fmt.Sprintf("session construction: %v", err))
		return err
	}

	l.mu.Lock()
	l.sess = sess
	l.status = StatusReady
	l.failReason = ""
	l.mu.Unlock()
	return nil
}

// ShutdownInitiated transitions Ready -> ShutdownInitiated, refusing new
// writes while a graceful drain completes.
func (l *Live) ShutdownInitiated() {
	l.setStatus(StatusShutdownInitiated, "")
}

// Shutdown transitions ShutdownInitiated -> Shutdown, the terminal
// non-fatal state.
func (l *Live) Shutdown() {
	l.setStatus(StatusShutdown, "")
}

// Terminate marks the executor Terminated: a fatal condition Start cannot
// recover from (the owning process should exit).
func (l *Live) Terminate(reason string) {
	l.setStatus(StatusTerminated, reason)
}

// Reevaluate renews the session if it has expired, then runs incremental
// drift reconciliation. Call this periodically from the refresh task
// (spec.md §4.4.2 "refresh task").
func (l *Live) Reevaluate(ctx context.Context, now time.Time) ([]*trade.Trade, error) {
	l.mu.Lock()
	status := l.status
	sess := l.sess
	l.mu.Unlock()
	if status != StatusReady {
		return nil, tradeerr.ErrManagerNotReady
	}

	if sess.IsExpired(now) {
		if err := l.Start(ctx); err != nil {
			return nil, err
		}
		l.mu.Lock()
		sess = l.sess
		l.mu.Unlock()
	}

	closed, err := sess.Reevaluate(ctx, l.ms, l.vc)
	if err != nil {
		l.setStatus(StatusFailed, fmt.Sprintf("reevaluate: %v", err))
		return nil, err
	}
	return closed, nil
}

// acquireReady returns the current session under lock, or
// ErrManagerNotReady if status isn't Ready.
func (l *Live) acquireReady() (*session.LiveSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusReady {
		return nil, tradeerr.ErrManagerNotReady
	}
	return l.sess, nil
}

func (l *Live) fail(reason string) {
	l.setStatus(StatusFailed, reason)
}

func (l *Live) openRunning(ctx context.Context, side trade.Side, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error) {
	sess, err := l.acquireReady()
	if err != nil {
		return nil, err
	}

	ticker, err := l.vc.Ticker(ctx)
	if err != nil {
		l.fail(fmt.Sprintf("ticker: %v", err))
		return nil, fmt.Errorf("open: %w", err)
	}

	quantity, err := resolveQuantity(sess.Balance(), ticker.LastPrice, balancePct)
	if err != nil {
		return nil, mapQuantityError(err)
	}
	if sess.Running().Len() >= l.maxRunningQty {
		return nil, fmt.Errorf("open: %w", tradeerr.ErrMaxRunningTradesReached)
	}

	stoploss, takeprofit, tsl, err := resolveRiskParams(side, ticker.LastPrice, risk, l.tslStepFloor)
	if err != nil {
		return nil, err
	}

	tr, err := l.vc.CreateNewTrade(ctx, side, quantity, leverage, venue.ExecutionParams{Stoploss: &stoploss, Takeprofit: &takeprofit}, "")
	if err != nil {
		l.fail(fmt.Sprintf("create_new_trade: %v", err))
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := sess.RegisterRunningTrade(tr, tsl, true); err != nil {
		return nil, err
	}
	return tr, nil
}

func (l *Live) OpenLong(ctx context.Context, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error) {
	return l.openRunning(ctx, trade.Long, risk, balancePct, leverage)
}

func (l *Live) OpenShort(ctx context.Context, risk RiskParams, balancePct numeric.PercentageCapped, leverage numeric.Leverage) (*trade.Trade, error) {
	return l.openRunning(ctx, trade.Short, risk, balancePct, leverage)
}

func (l *Live) CloseTrade(ctx context.Context, id string) (*trade.Trade, error) {
	sess, err := l.acquireReady()
	if err != nil {
		return nil, err
	}
	if _, _, ok := sess.Running().Get(id); !ok {
		return nil, fmt.Errorf("close_trade: %w", tradeerr.ErrTradeNotRunning)
	}
	closed, err := l.vc.CloseTrade(ctx, id)
	if err != nil {
		l.fail(fmt.Sprintf("close_trade: %v", err))
		return nil, fmt.Errorf("close_trade: %w", err)
	}
	if err := sess.CloseTrades([]*trade.Trade{closed}); err != nil {
		return nil, err
	}
	return closed, nil
}

func (l *Live) closeMatching(ctx context.Context, pred func(*trade.Trade) bool) ([]*trade.Trade, error) {
	sess, err := l.acquireReady()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, tr := range sess.Running().TradesDesc() {
		if pred(tr) {
			ids = append(ids, tr.ID)
		}
	}
	var closedAll []*trade.Trade
	for _, id := range ids {
		closed, err := l.vc.CloseTrade(ctx, id)
		if err != nil {
			l.fail(fmt.Sprintf("close_trade: %v", err))
			return closedAll, fmt.Errorf("close: %w", err)
		}
		closedAll = append(closedAll, closed)
	}
	if len(closedAll) > 0 {
		if err := sess.CloseTrades(closedAll); err != nil {
			return nil, err
		}
	}
	return closedAll, nil
}

func (l *Live) CloseLongs(ctx context.Context) ([]*trade.Trade, error) {
	return l.closeMatching(ctx, func(tr *trade.Trade) bool { return tr.Side == trade.Long })
}

func (l *Live) CloseShorts(ctx context.Context) ([]*trade.Trade, error) {
	return l.closeMatching(ctx, func(tr *trade.Trade) bool { return tr.Side == trade.Short })
}

func (l *Live) CloseAll(ctx context.Context) ([]*trade.Trade, error) {
	sess, err := l.acquireReady()
	if err != nil {
		return nil, err
	}
	closedAll, err := l.vc.CloseAllTrades(ctx)
	if err != nil {
		l.fail(fmt.Sprintf("close_all_trades: %v", err))
		return nil, fmt.Errorf("close_all: %w", err)
	}
	if len(closedAll) > 0 {
		if err := sess.CloseTrades(closedAll); err != nil {
			return nil, err
		}
	}
	return closedAll, nil
}

func (l *Live) AddMargin(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error) {
	sess, err := l.acquireReady()
	if err != nil {
		return nil, err
	}
	if _, _, ok := sess.Running().Get(id); !ok {
		return nil, fmt.Errorf("add_margin: %w", tradeerr.ErrTradeNotRunning)
	}
	updated, err := l.vc.AddMargin(ctx, id, amountSats)
	if err != nil {
		l.fail(fmt.Sprintf("add_margin: %v", err))
		return nil, fmt.Errorf("add_margin: %w", err)
	}
	if err := sess.UpdateRunningTrades(map[string]*trade.Trade{id: updated}); err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *Live) CashIn(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error) {
	sess, err := l.acquireReady()
	if err != nil {
		return nil, err
	}
	if _, _, ok := sess.Running().Get(id); !ok {
		return nil, fmt.Errorf("cash_in: %w", tradeerr.ErrTradeNotRunning)
	}
	updated, err := l.vc.CashIn(ctx, id, amountSats)
	if err != nil {
		l.fail(fmt.Sprintf("cash_in: %v", err))
		return nil, fmt.Errorf("cash_in: %w", err)
	}
	if err := sess.UpdateRunningTrades(map[string]*trade.Trade{id: updated}); err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *Live) TradingState(ctx context.Context) (trade.TradingState, error) {
	sess, err := l.acquireReady()
	if err != nil {
		return trade.TradingState{}, err
	}
	return sess.TradingState(sess.ExpiresAt().Format(time.RFC3339)), nil
}

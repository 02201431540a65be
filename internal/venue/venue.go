// Package venue declares the VenueClient capability set the core trading
// loop consumes, deliberately abstract: the concrete REST/WebSocket wire
// binding is an external collaborator out of scope for this module (see
// spec.md §1, §6). Package venue also ships Paper, a minimal in-memory
// stand-in used for local development and the example backtest/live wiring
// in cmd/engine.
package venue

import (
	"context"
	"time"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
)

// User is the account summary returned by GetUser.
type User struct {
	BalanceSats uint64
}

// Ticker is the latest market price observation.
type Ticker struct {
	LastPrice numeric.Price
}

// PricePoint is a single time-stamped price history entry.
type PricePoint struct {
	Time  time.Time
	Value numeric.Price
}

// ExecutionParams describes how a new trade should be opened: optional
// stoploss/takeprofit prices set at creation time.
type ExecutionParams struct {
	Stoploss   *numeric.Price
	Takeprofit *numeric.Price
}

// VenueClient is the capability set the core trading loop consumes. Wire
// format, authentication and rate-limiting are entirely SDK-owned and out of
// scope here.
type VenueClient interface {
	GetUser(ctx context.Context) (User, error)
	GetTradesRunning(ctx context.Context) ([]*trade.Trade, error)
	GetTradesClosed(ctx context.Context, limit int) ([]*trade.Trade, error)
	GetTrade(ctx context.Context, id string) (*trade.Trade, error)
	CreateNewTrade(ctx context.Context, side trade.Side, size numeric.Quantity, leverage numeric.Leverage, execution ExecutionParams, clientID string) (*trade.Trade, error)
	UpdateTradeStoploss(ctx context.Context, id string, price numeric.Price) (*trade.Trade, error)
	UpdateTradeTakeprofit(ctx context.Context, id string, price numeric.Price) (*trade.Trade, error)
	CloseTrade(ctx context.Context, id string) (*trade.Trade, error)
	CancelTrade(ctx context.Context, id string) (*trade.Trade, error)
	CancelAllTrades(ctx context.Context) ([]*trade.Trade, error)
	CloseAllTrades(ctx context.Context) ([]*trade.Trade, error)
	AddMargin(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error)
	CashIn(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error)
	Ticker(ctx context.Context) (Ticker, error)
	PriceHistory(ctx context.Context, from, to *time.Time, limit *int) ([]PricePoint, error)
	Settlements(ctx context.Context, from, to *time.Time) ([]trade.FundingSettlement, error)
}

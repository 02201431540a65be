package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemosr/tradeloop/internal/numeric"
	"github.com/flemosr/tradeloop/internal/trade"
)

// Paper is a minimal in-memory VenueClient: it never touches a real
// exchange. It tracks a single mutable last price and a single balance, and
// opens/closes trades against that price directly. It exists for local
// development and the example cmd/engine wiring, mirroring the teacher's
// PaperBroker pattern (mutex-guarded bootstrap price, explicit
// "not supported" stubs for capabilities a paper venue cannot honor).
type Paper struct {
	mu      sync.Mutex
	price   float64
	balance uint64
	running map[string]*trade.Trade
	closed  []*trade.Trade
}

// NewPaper returns a Paper venue seeded with startingBalanceSats.
func NewPaper(startingBalanceSats uint64) *Paper {
	return &Paper{
		balance: startingBalanceSats,
		running: make(map[string]*trade.Trade),
	}
}

// SetPrice updates the bootstrap/current price used for new trades and
// liquidation/SL/TP checks. Call this as new ticks/candles arrive.
func (p *Paper) SetPrice(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price = v
}

func (p *Paper) currentPrice() numeric.Price {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.price <= 0 {
		p.price = 100_000 // default bootstrap price if none seen yet
	}
	return numeric.RoundPrice(p.price)
}

func (p *Paper) GetUser(ctx context.Context) (User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return User{BalanceSats: p.balance}, nil
}

func (p *Paper) GetTradesRunning(ctx context.Context) ([]*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*trade.Trade, 0, len(p.running))
	for _, tr := range p.running {
		out = append(out, tr)
	}
	return out, nil
}

func (p *Paper) GetTradesClosed(ctx context.Context, limit int) ([]*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit > len(p.closed) {
		limit = len(p.closed)
	}
	return p.closed[len(p.closed)-limit:], nil
}

func (p *Paper) GetTrade(ctx context.Context, id string) (*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tr, ok := p.running[id]; ok {
		return tr, nil
	}
	for _, tr := range p.closed {
		if tr.ID == id {
			return tr, nil
		}
	}
	return nil, errors.New("paper: trade not found")
}

func (p *Paper) CreateNewTrade(ctx context.Context, side trade.Side, size numeric.Quantity, leverage numeric.Leverage, execution ExecutionParams, clientID string) (*trade.Trade, error) {
	price := p.currentPrice()
	margin := numeric.TruncatedMargin(size.Float64() * numeric.SatsPerBTC / price.Float64() / leverage.Float64())

	p.mu.Lock()
	defer p.mu.Unlock()

	id := clientID
	if id == "" {
		id = uuid.New().String()
	}
	tr := &trade.Trade{
		ID: id, Side: side, CreatedAt: time.Now().UTC(), Status: trade.StatusRunning,
		Quantity: size, Margin: margin, Leverage: leverage, EntryPrice: price, PLBasisPrice: price,
		Liquidation: trade.EstimateLiquidationPrice(side, price, leverage, trade.DefaultMaintenanceRatio),
		Stoploss:    execution.Stoploss,
		Takeprofit:  execution.Takeprofit,
	}
	p.running[id] = tr
	return tr, nil
}

func (p *Paper) UpdateTradeStoploss(ctx context.Context, id string, price numeric.Price) (*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.running[id]
	if !ok {
		return nil, errors.New("paper: trade not running")
	}
	tr.Stoploss = &price
	return tr, nil
}

func (p *Paper) UpdateTradeTakeprofit(ctx context.Context, id string, price numeric.Price) (*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.running[id]
	if !ok {
		return nil, errors.New("paper: trade not running")
	}
	tr.Takeprofit = &price
	return tr, nil
}

func (p *Paper) closeLocked(id string) (*trade.Trade, error) {
	tr, ok := p.running[id]
	if !ok {
		return nil, errors.New("paper: trade not running")
	}
	price := p.price
	if price <= 0 {
		price = tr.EntryPrice.Float64()
	}
	exit := numeric.RoundPrice(price)
	pl := tr.EstPLAt(exit)
	now := time.Now().UTC()
	tr.Status = trade.StatusClosed
	tr.ClosedAt = &now
	tr.ExitPrice = &exit
	tr.PL = pl
	delete(p.running, id)
	p.closed = append(p.closed, tr)
	return tr, nil
}

func (p *Paper) CloseTrade(ctx context.Context, id string) (*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked(id)
}

func (p *Paper) CancelTrade(ctx context.Context, id string) (*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.running[id]
	if !ok {
		return nil, errors.New("paper: trade not running")
	}
	tr.Status = trade.StatusCanceled
	delete(p.running, id)
	return tr, nil
}

func (p *Paper) CancelAllTrades(ctx context.Context) ([]*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*trade.Trade
	for id, tr := range p.running {
		tr.Status = trade.StatusCanceled
		out = append(out, tr)
		delete(p.running, id)
	}
	return out, nil
}

func (p *Paper) CloseAllTrades(ctx context.Context) ([]*trade.Trade, error) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var out []*trade.Trade
	for _, id := range ids {
		p.mu.Lock()
		tr, err := p.closeLocked(id)
		p.mu.Unlock()
		if err != nil {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (p *Paper) AddMargin(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.running[id]
	if !ok {
		return nil, errors.New("paper: trade not running")
	}
	newMargin := tr.Margin.Uint64() + amountSats
	tr.Margin, _ = numeric.NewMargin(newMargin)
	return tr, nil
}

// CashIn extracts amountSats from a running trade, first from unrealized PL
// by shifting PLBasisPrice towards the market price, and only then from
// margin (mirrors executor.Simulated.CashIn's algorithm).
func (p *Paper) CashIn(ctx context.Context, id string, amountSats uint64) (*trade.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tr, ok := p.running[id]
	if !ok {
		return nil, errors.New("paper: trade not running")
	}
	market := numeric.RoundPrice(p.price)

	currentPL := tr.EstPLAt(market)
	var (
		newBasis numeric.Price
		remaining uint64
	)
	switch {
	case currentPL <= 0:
		newBasis, remaining = tr.PLBasisPrice, amountSats
	case amountSats >= uint64(currentPL):
		newBasis, remaining = market, amountSats-uint64(currentPL)
	default:
		shifted, err := trade.PriceFromPL(tr.Side, tr.Quantity, tr.PLBasisPrice, int64(amountSats))
		if err != nil {
			return nil, fmt.Errorf("paper: cash-in: %w", err)
		}
		newBasis, remaining = shifted, 0
	}

	newMargin := tr.Margin
	if remaining > 0 {
		if remaining >= tr.Margin.Uint64() {
			return nil, errors.New("paper: cash-in exceeds margin")
		}
		m, err := numeric.NewMargin(tr.Margin.Uint64() - remaining)
		if err != nil {
			return nil, fmt.Errorf("paper: cash-in: %w", err)
		}
		newMargin = m
	}

	newLeverage, err := numeric.NewLeverage(tr.Quantity.Float64() * numeric.SatsPerBTC / (newMargin.Float64() * newBasis.Float64()))
	if err != nil {
		return nil, fmt.Errorf("paper: cash-in: %w", err)
	}

	tr.PLBasisPrice = newBasis
	tr.Margin = newMargin
	tr.Leverage = newLeverage
	tr.Liquidation = trade.EstimateLiquidationPrice(tr.Side, newBasis, newLeverage, trade.DefaultMaintenanceRatio)
	return tr, nil
}

func (p *Paper) Ticker(ctx context.Context) (Ticker, error) {
	return Ticker{LastPrice: p.currentPrice()}, nil
}

func (p *Paper) PriceHistory(ctx context.Context, from, to *time.Time, limit *int) ([]PricePoint, error) {
	return nil, errors.New("paper: price history not supported, use a MarketStore")
}

func (p *Paper) Settlements(ctx context.Context, from, to *time.Time) ([]trade.FundingSettlement, error) {
	return nil, nil
}

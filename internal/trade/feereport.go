package trade

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TradingState is the pure snapshot a TradingSession exposes: two calls with
// no intervening mutation produce equal snapshots. It is the counterpart to
// the original system's TUI view model, minus any rendering concern.
type TradingState struct {
	BalanceSats   uint64
	Running       []*Trade
	Closed        []*Trade
	RealizedPL    int64
	ClosedFeesSat uint64
	FundingFees   int64
	ExpiresAt     string // RFC3339, empty for simulated sessions with no expiry
}

// FormatStatement renders a TradingState as a human-readable fee/PnL
// statement. decimal.Decimal is used here (rather than in the core
// arithmetic) because formatting wants exact base-10 strings — e.g. "0.01%"
// must never render as "0.009999999999" — while the core still computes in
// float64 to match the venue's own f64-based wire format bit for bit.
func FormatStatement(state TradingState) string {
	var b strings.Builder

	balanceBTC := decimal.New(int64(state.BalanceSats), 0).Div(decimal.New(1, 8))
	fmt.Fprintf(&b, "balance: %s sats (%s BTC)\n", commaUint(state.BalanceSats), balanceBTC.StringFixed(8))

	realized := decimal.New(state.RealizedPL, 0).Div(decimal.New(1, 8))
	fmt.Fprintf(&b, "realized pl: %s sats (%s BTC)\n", commaInt(state.RealizedPL), realized.StringFixed(8))

	funding := decimal.New(state.FundingFees, 0).Div(decimal.New(1, 8))
	fmt.Fprintf(&b, "funding fees: %s sats (%s BTC)\n", commaInt(state.FundingFees), funding.StringFixed(8))

	fmt.Fprintf(&b, "closed fees: %s sats\n", commaUint(state.ClosedFeesSat))
	fmt.Fprintf(&b, "running trades: %d\n", len(state.Running))
	fmt.Fprintf(&b, "closed trades: %d\n", len(state.Closed))
	if state.ExpiresAt != "" {
		fmt.Fprintf(&b, "expires at: %s\n", state.ExpiresAt)
	}

	for _, tr := range state.Running {
		fmt.Fprintf(&b, "  running %s %s qty=%s entry=%s liq=%s\n",
			tr.ID, tr.Side, tr.Quantity, tr.EntryPrice, tr.Liquidation)
	}
	return b.String()
}

func commaUint(v uint64) string {
	return commaInt(int64(v))
}

func commaInt(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

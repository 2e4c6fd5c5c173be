package validation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/series"
	"github.com/atlas-desktop/decision-engine/internal/validation"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

func candlesFromCloses(closes []float64, volume float64) []types.OHLCV {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.OHLCV, len(closes))
	for i, c := range closes {
		out[i] = types.OHLCV{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromFloat(volume),
		}
	}
	return out
}

// tradableCloses produces a gently rising series whose hourly volatility
// annualizes inside the accepted band.
func tradableCloses(n int, start float64) []float64 {
	out := make([]float64, n)
	price := start
	for i := 0; i < n; i++ {
		out[i] = price
		if i%2 == 0 {
			price += 2
		} else {
			price += 0.5
		}
	}
	return out
}

func goodContext() *types.MarketContext {
	return &types.MarketContext{
		Symbol:    "BTC-USD",
		AssetType: types.AssetCrypto,
		History: map[types.Timeframe][]types.OHLCV{
			types.Timeframe1h: candlesFromCloses(tradableCloses(60, 300), 2000),
		},
	}
}

func goodSignal(strength float64) *types.TradingSignal {
	return &types.TradingSignal{
		Symbol:       "BTC-USD",
		Direction:    types.DirectionLong,
		Strength:     strength,
		StrategyID:   "trend-1",
		StrategyType: types.StrategyTrendFollowing,
		EntryPrice:   decimal.NewFromInt(370),
		StopLoss:     decimal.NewFromFloat(362.6),
		GeneratedAt:  time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC),
	}
}

func emptyPortfolio() *types.Portfolio {
	return &types.Portfolio{TotalValue: decimal.NewFromInt(100000)}
}

func TestValidatePasses(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)
	result := v.Validate(goodSignal(0.8), goodContext(), emptyPortfolio())

	if !result.Passed {
		t.Fatalf("expected pass, violations: %+v", result.Violations)
	}
	if result.Score < 0.9 {
		t.Errorf("score = %v, want > 0.9 for a clean signal", result.Score)
	}
}

func TestValidateWeakSignalRejected(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)
	result := v.Validate(goodSignal(0.5), goodContext(), emptyPortfolio())

	if result.Passed {
		t.Fatal("strength below minimum must reject")
	}
	if !result.Violated(validation.RuleSignalStrength) {
		t.Error("expected a signal_strength violation")
	}
	if result.Score >= 0.8 {
		t.Errorf("score = %v, a failed hard gate must depress the composite", result.Score)
	}
}

func TestValidateVolatilitySpikeBlocksLatencySensitive(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)
	ctx := goodContext()
	ctx.VolatilitySpike = true

	signal := goodSignal(0.9)
	signal.StrategyType = types.StrategyScalping
	result := v.Validate(signal, ctx, emptyPortfolio())
	if result.Passed || !result.Violated(validation.RuleMarketCondition) {
		t.Fatal("scalping during a volatility spike must reject")
	}

	// A trend follower rides through the same spike.
	signal.StrategyType = types.StrategyTrendFollowing
	result = v.Validate(signal, ctx, emptyPortfolio())
	if result.Violated(validation.RuleMarketCondition) {
		t.Error("trend following is not latency sensitive, spike should not block it")
	}
}

func TestValidateMarketClosed(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)
	ctx := goodContext()
	ctx.AssetType = types.AssetEquity
	ctx.MarketOpen = false

	result := v.Validate(goodSignal(0.9), ctx, emptyPortfolio())
	if result.Passed || !result.Violated(validation.RuleMarketCondition) {
		t.Fatal("closed equity market must reject")
	}
}

func TestValidatePendingNews(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)
	ctx := goodContext()
	ctx.PendingNews = true

	result := v.Validate(goodSignal(0.9), ctx, emptyPortfolio())
	if result.Passed || !result.Violated(validation.RuleMarketCondition) {
		t.Fatal("pending high-impact news must reject")
	}
}

func TestValidatePositionLimits(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)

	full := emptyPortfolio()
	for i := 0; i < 10; i++ {
		full.Positions = append(full.Positions, types.Position{Symbol: "X", Weight: 0.05})
	}
	result := v.Validate(goodSignal(0.9), goodContext(), full)
	if result.Passed || !result.Violated(validation.RulePositionLimits) {
		t.Fatal("a full book must reject")
	}

	exposed := emptyPortfolio()
	exposed.Positions = []types.Position{{Symbol: "ETH-USD", Weight: 0.85}}
	result = v.Validate(goodSignal(0.9), goodContext(), exposed)
	if result.Passed || !result.Violated(validation.RulePositionLimits) {
		t.Fatal("gross exposure at the ceiling must reject")
	}
}

func TestValidateTimingIsSoft(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)
	ctx := goodContext()
	signal := goodSignal(0.9)
	ctx.LastSignalAt = signal.GeneratedAt.Add(-10 * time.Minute)

	result := v.Validate(signal, ctx, emptyPortfolio())
	if !result.Violated(validation.RuleTiming) {
		t.Fatal("10 minutes since last signal violates the 30 minute spacing")
	}
	if !result.Passed {
		t.Error("timing is a soft gate, a strong signal should still pass")
	}
}

func TestValidateCorrelationIsSoft(t *testing.T) {
	provider := series.NewMemoryProvider()
	closes := tradableCloses(130, 300)
	provider.Set("BTC-USD", types.Timeframe1h, candlesFromCloses(closes, 2000))
	provider.Set("ETH-USD", types.Timeframe1h, candlesFromCloses(closes, 2000))

	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), provider)
	portfolio := emptyPortfolio()
	portfolio.Positions = []types.Position{{Symbol: "ETH-USD", Weight: 0.05}}

	result := v.Validate(goodSignal(0.9), goodContext(), portfolio)
	if !result.Violated(validation.RuleCorrelation) {
		t.Fatal("identical series should trip the correlation check")
	}
	if !result.Passed {
		t.Error("correlation is a soft gate, the signal should still pass")
	}
}

func TestValidateIlliquidMarket(t *testing.T) {
	v := validation.NewValidator(zap.NewNop(), validation.DefaultConfig(), nil)
	ctx := goodContext()
	ctx.History[types.Timeframe1h] = candlesFromCloses(tradableCloses(60, 300), 10)

	result := v.Validate(goodSignal(0.9), ctx, emptyPortfolio())
	if !result.Violated(validation.RuleLiquidity) {
		t.Fatal("thin volume should trip the liquidity check")
	}
}

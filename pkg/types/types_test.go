package types_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/decision-engine/pkg/types"
)

func TestClamp01(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{-1, 0},
		{2, 1},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		if got := types.Clamp01(c.in); got != c.want {
			t.Errorf("Clamp01(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := types.Clamp(5, 0, 1); got != 1 {
		t.Errorf("Clamp(5,0,1) = %v, want 1", got)
	}
	if got := types.Clamp(math.NaN(), 0.1, 1); got != 0.1 {
		t.Errorf("Clamp(NaN) = %v, want lower bound", got)
	}
}

func TestDirectionOpposite(t *testing.T) {
	if types.DirectionLong.Opposite() != types.DirectionShort {
		t.Error("long opposite should be short")
	}
}

func TestAssetTradingHours(t *testing.T) {
	if !types.AssetCrypto.TradesAroundTheClock() {
		t.Error("crypto trades around the clock")
	}
	if types.AssetEquity.TradesAroundTheClock() {
		t.Error("equity does not trade around the clock")
	}
}

func TestLatencySensitive(t *testing.T) {
	if !types.StrategyScalping.LatencySensitive() || !types.StrategyMomentum.LatencySensitive() {
		t.Error("scalping and momentum are latency sensitive")
	}
	if types.StrategyTrendFollowing.LatencySensitive() {
		t.Error("trend following is not latency sensitive")
	}
}

func TestHasStopLoss(t *testing.T) {
	s := &types.TradingSignal{EntryPrice: decimal.NewFromInt(100)}
	if s.HasStopLoss() {
		t.Error("zero stop loss should report absent")
	}
	s.StopLoss = decimal.NewFromInt(98)
	if !s.HasStopLoss() {
		t.Error("non-zero stop loss should report present")
	}
}

func TestGrossExposure(t *testing.T) {
	p := &types.Portfolio{
		TotalValue: decimal.NewFromInt(100000),
		Positions: []types.Position{
			{Symbol: "BTC-USD", Weight: 0.3},
			{Symbol: "ETH-USD", Weight: -0.2},
		},
	}
	if got := p.GrossExposure(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("GrossExposure = %v, want 0.5", got)
	}
	if !p.HoldsSymbol("BTC-USD") || p.HoldsSymbol("SOL-USD") {
		t.Error("HoldsSymbol mismatch")
	}
}

func TestMarketContextCandles(t *testing.T) {
	mc := &types.MarketContext{}
	if mc.Candles(types.Timeframe1h) != nil {
		t.Error("nil history should return nil candles")
	}
}

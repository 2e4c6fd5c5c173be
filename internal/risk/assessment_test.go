package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/risk"
	"github.com/atlas-desktop/decision-engine/internal/series"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

func candlesFromCloses(closes []float64, volume float64) []types.OHLCV {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.OHLCV, len(closes))
	for i, c := range closes {
		out[i] = types.OHLCV{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 0.5),
			Low:       decimal.NewFromFloat(c - 0.5),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromFloat(volume),
		}
	}
	return out
}

func flatCloses(n int, price float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func varyingCloses(n int, start float64) []float64 {
	out := make([]float64, n)
	price := start
	for i := 0; i < n; i++ {
		out[i] = price
		if i%2 == 0 {
			price *= 1.004
		} else {
			price *= 0.999
		}
	}
	return out
}

func baseSignal() *types.TradingSignal {
	return &types.TradingSignal{
		Symbol:       "BTC-USD",
		Direction:    types.DirectionLong,
		Strength:     0.8,
		StrategyID:   "trend-1",
		StrategyType: types.StrategyTrendFollowing,
		EntryPrice:   decimal.NewFromInt(100),
		StopLoss:     decimal.NewFromInt(98),
	}
}

func TestAssessEmptyInputsIsLowRisk(t *testing.T) {
	a := risk.NewAssessor(zap.NewNop(), risk.DefaultAssessorConfig(), nil)
	result := a.Assess(risk.Input{
		Signal:    baseSignal(),
		Context:   &types.MarketContext{Symbol: "BTC-USD"},
		Portfolio: &types.Portfolio{TotalValue: decimal.NewFromInt(100000)},
	})

	if result.Level != risk.LevelLow {
		t.Fatalf("Level = %s, want LOW (all factors neutral or minimal)", result.Level)
	}
	if result.SizeMultiplier != 1.0 {
		t.Errorf("SizeMultiplier = %v, want 1.0", result.SizeMultiplier)
	}
	if len(result.Factors) != 6 {
		t.Fatalf("factors = %d, want 6", len(result.Factors))
	}
}

func TestConcentrationUsesProposedValue(t *testing.T) {
	a := risk.NewAssessor(zap.NewNop(), risk.DefaultAssessorConfig(), nil)
	portfolio := &types.Portfolio{TotalValue: decimal.NewFromInt(100000)}

	result := a.Assess(risk.Input{
		Signal:        baseSignal(),
		Context:       &types.MarketContext{},
		Portfolio:     portfolio,
		ProposedValue: decimal.NewFromInt(15000),
	})
	// 15k into a 100k book lands at ~13% resulting weight.
	if got := result.Factor(risk.FactorConcentration).Score; got != 0.7 {
		t.Errorf("concentration score = %v, want 0.7", got)
	}

	result = a.Assess(risk.Input{
		Signal:        baseSignal(),
		Context:       &types.MarketContext{},
		Portfolio:     portfolio,
		ProposedValue: decimal.NewFromInt(2000),
	})
	if got := result.Factor(risk.FactorConcentration).Score; got != 0.2 {
		t.Errorf("small concentration score = %v, want 0.2", got)
	}
}

func TestSentimentTracksNewsImpact(t *testing.T) {
	a := risk.NewAssessor(zap.NewNop(), risk.DefaultAssessorConfig(), nil)
	result := a.Assess(risk.Input{
		Signal:    baseSignal(),
		Context:   &types.MarketContext{PendingNews: true, NewsImpact: 0.5},
		Portfolio: &types.Portfolio{TotalValue: decimal.NewFromInt(100000)},
	})

	if got := result.Factor(risk.FactorSentiment).Score; got != 0.5 {
		t.Errorf("sentiment score = %v, want 0.5", got)
	}
}

func TestRegimeMismatchPenalized(t *testing.T) {
	a := risk.NewAssessor(zap.NewNop(), risk.DefaultAssessorConfig(), nil)
	in := risk.Input{
		Signal:    baseSignal(), // trend following
		Context:   &types.MarketContext{},
		Portfolio: &types.Portfolio{TotalValue: decimal.NewFromInt(100000)},
		Regime:    &regime.Analysis{Overall: regime.HighVolRanging, Confidence: 1},
	}
	result := a.Assess(in)
	if got := result.Factor(risk.FactorRegime).Score; got != 0.8 {
		t.Errorf("regime score = %v, want 0.8 for full-confidence mismatch", got)
	}

	in.Regime = &regime.Analysis{Overall: regime.BullTrending, Confidence: 1}
	result = a.Assess(in)
	if got := result.Factor(risk.FactorRegime).Score; got >= 0.4 {
		t.Errorf("regime score = %v, want below neutral for a fitting regime", got)
	}
}

func TestAssessHighRiskShrinksSize(t *testing.T) {
	provider := series.NewMemoryProvider()
	provider.Set("BTC-USD", types.Timeframe1h, candlesFromCloses(varyingCloses(30, 100), 1000))

	a := risk.NewAssessor(zap.NewNop(), risk.DefaultAssessorConfig(), provider)
	result := a.Assess(risk.Input{
		Signal: baseSignal(),
		Context: &types.MarketContext{
			Symbol:      "BTC-USD",
			PendingNews: true,
			NewsImpact:  1,
			History: map[types.Timeframe][]types.OHLCV{
				// Flat tape with zero traded volume.
				types.Timeframe1h: candlesFromCloses(flatCloses(30, 100), 0),
			},
		},
		Portfolio: &types.Portfolio{
			TotalValue: decimal.NewFromInt(100000),
			Positions:  []types.Position{{Symbol: "BTC-USD", Weight: 0.2}},
		},
		Regime:        &regime.Analysis{Overall: regime.HighVolRanging, Confidence: 1},
		ProposedValue: decimal.NewFromInt(30000),
	})

	if result.Level != risk.LevelHigh {
		t.Fatalf("Level = %s (score %v), want HIGH", result.Level, result.OverallScore)
	}
	if result.SizeMultiplier != 0.5 {
		t.Errorf("SizeMultiplier = %v, want 0.5", result.SizeMultiplier)
	}
}

func TestAssessorConfigValidate(t *testing.T) {
	cfg := risk.DefaultAssessorConfig()
	cfg.MultiplierMedium = 1.2 // above MultiplierLow
	if err := cfg.Validate(); err == nil {
		t.Error("non-monotone multipliers must fail validation")
	}

	cfg = risk.DefaultAssessorConfig()
	cfg.Weights = risk.FactorWeights{}
	if err := cfg.Validate(); err == nil {
		t.Error("zero weights must fail validation")
	}
}

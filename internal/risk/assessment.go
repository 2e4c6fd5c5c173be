// Package risk provides the per-trade market risk assessment and the
// portfolio-level risk monitor. Risk limits are represented as data, never
// as errors: callers decide whether to block, warn or scale.
package risk

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Level is a discrete overall risk classification.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelVeryHigh Level = "VERY_HIGH"
)

// Factor names used in assessments.
const (
	FactorVolatility    = "volatility"
	FactorLiquidity     = "liquidity"
	FactorCorrelation   = "correlation"
	FactorConcentration = "concentration"
	FactorRegime        = "regime"
	FactorSentiment     = "sentiment"
)

// Factor is one scored risk dimension.
type Factor struct {
	Name    string         `json:"name"`
	Score   float64        `json:"score"` // 0-1, higher is riskier
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Assessment aggregates the six factors into an overall score, a discrete
// level and a position-size adjustment multiplier.
type Assessment struct {
	Factors        []Factor `json:"factors"`
	OverallScore   float64  `json:"overallScore"`
	Level          Level    `json:"level"`
	SizeMultiplier float64  `json:"sizeMultiplier"`
}

// Factor returns the named factor, nil when absent.
func (a *Assessment) Factor(name string) *Factor {
	for i := range a.Factors {
		if a.Factors[i].Name == name {
			return &a.Factors[i]
		}
	}
	return nil
}

// FactorWeights holds the per-factor aggregation weights. Equal weighting is
// the default; the split is configurable but not assumed.
type FactorWeights struct {
	Volatility    float64 `mapstructure:"volatility"`
	Liquidity     float64 `mapstructure:"liquidity"`
	Correlation   float64 `mapstructure:"correlation"`
	Concentration float64 `mapstructure:"concentration"`
	Regime        float64 `mapstructure:"regime"`
	Sentiment     float64 `mapstructure:"sentiment"`
}

// AssessorConfig configures the market risk assessment.
type AssessorConfig struct {
	Weights FactorWeights `mapstructure:"weights"`
	// VolatilityWindow is the return window for each realized-vol sample;
	// VolatilityHistory is how many samples form the percentile baseline.
	VolatilityWindow  int `mapstructure:"volatility_window"`
	VolatilityHistory int `mapstructure:"volatility_history"`
	// MinNotionalVolume is the liquidity floor shared with validation.
	MinNotionalVolume float64 `mapstructure:"min_notional_volume"`
	// CorrelationLookback is how many hourly returns feed correlations.
	CorrelationLookback int `mapstructure:"correlation_lookback"`
	// Size multipliers per level; must decrease monotonically.
	MultiplierLow      float64 `mapstructure:"multiplier_low"`
	MultiplierMedium   float64 `mapstructure:"multiplier_medium"`
	MultiplierHigh     float64 `mapstructure:"multiplier_high"`
	MultiplierVeryHigh float64 `mapstructure:"multiplier_very_high"`
}

// DefaultAssessorConfig returns the documented defaults: equal factor
// weights and multipliers 1.0 down to 0.25.
func DefaultAssessorConfig() AssessorConfig {
	return AssessorConfig{
		Weights: FactorWeights{
			Volatility: 1, Liquidity: 1, Correlation: 1,
			Concentration: 1, Regime: 1, Sentiment: 1,
		},
		VolatilityWindow:    24,
		VolatilityHistory:   240,
		MinNotionalVolume:   250_000,
		CorrelationLookback: 120,
		MultiplierLow:       1.0,
		MultiplierMedium:    0.75,
		MultiplierHigh:      0.5,
		MultiplierVeryHigh:  0.25,
	}
}

// Validate rejects non-monotone multipliers and non-positive weights.
func (c AssessorConfig) Validate() error {
	if c.MultiplierLow < c.MultiplierMedium || c.MultiplierMedium < c.MultiplierHigh ||
		c.MultiplierHigh < c.MultiplierVeryHigh {
		return fmt.Errorf("risk: size multipliers must decrease with risk level")
	}
	total := c.Weights.Volatility + c.Weights.Liquidity + c.Weights.Correlation +
		c.Weights.Concentration + c.Weights.Regime + c.Weights.Sentiment
	if total <= 0 {
		return fmt.Errorf("risk: factor weights must sum to a positive value")
	}
	return nil
}

// Assessor scores candidate trades. Pure function of its inputs.
type Assessor struct {
	logger *zap.Logger
	config AssessorConfig
	series types.SeriesProvider
}

// NewAssessor creates an assessor.
func NewAssessor(logger *zap.Logger, config AssessorConfig, series types.SeriesProvider) *Assessor {
	return &Assessor{
		logger: logger.Named("risk"),
		config: config,
		series: series,
	}
}

// Input carries everything the assessment needs beyond the signal itself.
// ProposedValue is the preliminary notional from fixed-risk sizing, used by
// the concentration factor.
type Input struct {
	Signal        *types.TradingSignal
	Context       *types.MarketContext
	Portfolio     *types.Portfolio
	Regime        *regime.Analysis
	ProposedValue decimal.Decimal
}

// Assess computes the six risk factors and their weighted aggregate.
// A factor with insufficient data yields a neutral score rather than
// failing the whole assessment.
func (a *Assessor) Assess(in Input) *Assessment {
	factors := []Factor{
		a.volatilityRisk(in.Context),
		a.liquidityRisk(in.Context),
		a.correlationRisk(in.Signal, in.Portfolio),
		a.concentrationRisk(in.Portfolio, in.ProposedValue),
		a.regimeRisk(in.Signal, in.Regime),
		a.sentimentRisk(in.Context),
	}

	weights := []float64{
		a.config.Weights.Volatility,
		a.config.Weights.Liquidity,
		a.config.Weights.Correlation,
		a.config.Weights.Concentration,
		a.config.Weights.Regime,
		a.config.Weights.Sentiment,
	}

	totalWeight := 0.0
	weightedScore := 0.0
	for i := range factors {
		factors[i].Score = types.Clamp01(factors[i].Score)
		totalWeight += weights[i]
		weightedScore += weights[i] * factors[i].Score
	}

	overall := 0.0
	if totalWeight > 0 {
		overall = types.Clamp01(weightedScore / totalWeight)
	}

	level := a.classify(overall)
	return &Assessment{
		Factors:        factors,
		OverallScore:   overall,
		Level:          level,
		SizeMultiplier: a.multiplier(level),
	}
}

// classify maps the overall score to a discrete level.
func (a *Assessor) classify(score float64) Level {
	switch {
	case score < 0.3:
		return LevelLow
	case score < 0.6:
		return LevelMedium
	case score < 0.8:
		return LevelHigh
	}
	return LevelVeryHigh
}

// multiplier returns the position-size adjustment for a level.
func (a *Assessor) multiplier(level Level) float64 {
	switch level {
	case LevelLow:
		return a.config.MultiplierLow
	case LevelMedium:
		return a.config.MultiplierMedium
	case LevelHigh:
		return a.config.MultiplierHigh
	}
	return a.config.MultiplierVeryHigh
}

// volatilityRisk ranks current realized volatility against its own trailing
// distribution: above the 90th percentile scores 0.9, 75th-90th 0.7, below
// the 25th 0.2, otherwise 0.4.
func (a *Assessor) volatilityRisk(ctx *types.MarketContext) Factor {
	f := Factor{Name: FactorVolatility, Score: 0.4, Message: "insufficient history, neutral volatility risk"}

	returns := stats.Returns(stats.Closes(ctx.Candles(types.Timeframe1h)))
	window := a.config.VolatilityWindow
	rolling := stats.RollingVolatility(returns, window)
	if len(rolling) < 4 {
		return f
	}
	if len(rolling) > a.config.VolatilityHistory {
		rolling = rolling[len(rolling)-a.config.VolatilityHistory:]
	}

	current := rolling[len(rolling)-1]
	rank := stats.PercentileRank(rolling[:len(rolling)-1], current)

	switch {
	case rank > 0.90:
		f.Score = 0.9
	case rank > 0.75:
		f.Score = 0.7
	case rank < 0.25:
		f.Score = 0.2
	default:
		f.Score = 0.4
	}
	f.Message = fmt.Sprintf("volatility at %.0fth percentile of trailing window", rank*100)
	f.Data = map[string]any{"percentile": rank, "volatility": current}
	return f
}

// liquidityRisk scores inversely with recent traded notional against the
// configured floor.
func (a *Assessor) liquidityRisk(ctx *types.MarketContext) Factor {
	f := Factor{Name: FactorLiquidity, Score: 0.4, Message: "insufficient history, neutral liquidity risk"}

	candles := ctx.Candles(types.Timeframe1h)
	if len(candles) == 0 {
		return f
	}
	closes := stats.Closes(candles)
	notional := stats.Mean(stats.Volumes(candles)) * closes[len(closes)-1]
	if notional <= 0 {
		f.Score = 0.95
		f.Message = "no traded volume observed"
		return f
	}

	f.Score = types.Clamp(a.config.MinNotionalVolume/notional, 0.05, 0.95)
	f.Message = fmt.Sprintf("notional volume %.0f against floor %.0f", notional, a.config.MinNotionalVolume)
	f.Data = map[string]any{"notional": notional}
	return f
}

// correlationRisk computes the weight-weighted average correlation of the
// candidate against existing positions. Thresholds at 0.8/0.6/0.4 map to
// scores 0.9/0.7/0.5, anything lower 0.2; an empty book scores 0.1.
func (a *Assessor) correlationRisk(signal *types.TradingSignal, portfolio *types.Portfolio) Factor {
	f := Factor{Name: FactorCorrelation, Score: 0.1, Message: "no existing positions"}
	if portfolio == nil || len(portfolio.Positions) == 0 {
		return f
	}
	if a.series == nil {
		f.Score = 0.4
		f.Message = "no series provider, neutral correlation risk"
		return f
	}

	candidate := a.series.Returns(signal.Symbol, types.Timeframe1h, a.config.CorrelationLookback)
	if len(candidate) < 3 {
		f.Score = 0.4
		f.Message = "insufficient history, neutral correlation risk"
		return f
	}

	var weightedCorr, totalWeight float64
	for i := range portfolio.Positions {
		pos := &portfolio.Positions[i]
		if pos.Symbol == signal.Symbol {
			weightedCorr += pos.Weight // same symbol is perfectly correlated
			totalWeight += pos.Weight
			continue
		}
		other := a.series.Returns(pos.Symbol, types.Timeframe1h, a.config.CorrelationLookback)
		corr := math.Abs(stats.Correlation(candidate, other))
		weightedCorr += corr * pos.Weight
		totalWeight += pos.Weight
	}
	if totalWeight == 0 {
		return f
	}

	avg := weightedCorr / totalWeight
	switch {
	case avg > 0.8:
		f.Score = 0.9
	case avg > 0.6:
		f.Score = 0.7
	case avg > 0.4:
		f.Score = 0.5
	default:
		f.Score = 0.2
	}
	f.Message = fmt.Sprintf("average correlation %.2f with existing positions", avg)
	f.Data = map[string]any{"correlation": avg}
	return f
}

// concentrationRisk scores the weight the candidate would take in the
// portfolio if filled at the proposed value.
func (a *Assessor) concentrationRisk(portfolio *types.Portfolio, proposed decimal.Decimal) Factor {
	f := Factor{Name: FactorConcentration, Score: 0.2, Message: "no proposed value, minimal concentration"}
	if portfolio == nil || portfolio.TotalValue.IsZero() || proposed.IsZero() {
		return f
	}

	total, _ := portfolio.TotalValue.Float64()
	value, _ := proposed.Float64()
	weight := value / (total + value)

	switch {
	case weight > 0.20:
		f.Score = 0.9
	case weight > 0.10:
		f.Score = 0.7
	case weight > 0.05:
		f.Score = 0.4
	default:
		f.Score = 0.2
	}
	f.Message = fmt.Sprintf("candidate would be %.1f%% of portfolio if filled", weight*100)
	f.Data = map[string]any{"resultingWeight": weight}
	return f
}

// regimeRisk penalizes strategy types mismatched with the detected regime,
// e.g. a trend-following signal during high-volatility ranging.
func (a *Assessor) regimeRisk(signal *types.TradingSignal, analysis *regime.Analysis) Factor {
	f := Factor{Name: FactorRegime, Score: 0.4, Message: "regime unknown, neutral regime risk"}
	if analysis == nil || analysis.Overall == regime.Unknown {
		return f
	}

	fitness := regime.Compatibility(signal.StrategyType, analysis.Overall)
	// Low confidence pulls the penalty toward neutral.
	penalty := 1 - fitness
	f.Score = types.Clamp01(0.4 + (penalty-0.4)*analysis.Confidence)
	f.Message = fmt.Sprintf("%s strategy in %s regime (fitness %.2f)",
		signal.StrategyType, analysis.Overall, fitness)
	f.Data = map[string]any{"regime": string(analysis.Overall), "fitness": fitness}
	return f
}

// sentimentRisk scales with the proximity/impact of pending news.
func (a *Assessor) sentimentRisk(ctx *types.MarketContext) Factor {
	f := Factor{Name: FactorSentiment, Score: 0.1, Message: "no pending news"}
	if !ctx.PendingNews && ctx.NewsImpact == 0 {
		return f
	}
	f.Score = types.Clamp01(0.1 + 0.8*ctx.NewsImpact)
	f.Message = fmt.Sprintf("news impact proximity %.2f", ctx.NewsImpact)
	return f
}

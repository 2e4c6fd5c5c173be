// Package validation applies the admissibility rules a candidate signal must
// pass before it is risk-assessed and sized. All checks run; failures are
// collected rather than short-circuiting, and only hard gates reject
// unconditionally.
package validation

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Rule names reported in violations.
const (
	RuleSignalStrength  = "signal_strength"
	RuleMarketCondition = "market_condition"
	RuleCorrelation     = "correlation"
	RuleVolatility      = "volatility"
	RuleLiquidity       = "liquidity"
	RuleTiming          = "timing"
	RulePositionLimits  = "position_limits"
)

// Config configures the validator.
type Config struct {
	MinSignalStrength float64 `mapstructure:"min_signal_strength"`
	MaxCorrelation    float64 `mapstructure:"max_correlation"`
	MinVolatility     float64 `mapstructure:"min_volatility"` // annualized
	MaxVolatility     float64 `mapstructure:"max_volatility"` // annualized
	// MinNotionalVolume is the liquidity floor: average candle volume times
	// price on the hourly timeframe.
	MinNotionalVolume float64 `mapstructure:"min_notional_volume"`
	// MinSignalSpacingMinutes is the minimum spacing between signals for the
	// same symbol.
	MinSignalSpacingMinutes int     `mapstructure:"min_signal_spacing_minutes"`
	MaxOpenPositions        int     `mapstructure:"max_open_positions"`
	MaxGrossExposure        float64 `mapstructure:"max_gross_exposure"`
	// CorrelationLookback is how many hourly returns feed the correlation
	// estimate.
	CorrelationLookback int `mapstructure:"correlation_lookback"`
	// VolatilityWindow is the return window for realized volatility.
	VolatilityWindow int `mapstructure:"volatility_window"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinSignalStrength:       0.6,
		MaxCorrelation:          0.7,
		MinVolatility:           0.05,
		MaxVolatility:           1.50,
		MinNotionalVolume:       250_000,
		MinSignalSpacingMinutes: 30,
		MaxOpenPositions:        10,
		MaxGrossExposure:        0.8,
		CorrelationLookback:     120,
		VolatilityWindow:        24,
	}
}

// Violation is one failed rule.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Result is the validation verdict: the collected violations plus a weighted
// composite score. Passed is false when any hard gate failed. Created fresh
// per evaluation and discarded after the decision.
type Result struct {
	Passed     bool        `json:"passed"`
	Score      float64     `json:"score"` // weighted composite in [0, 1]
	Violations []Violation `json:"violations"`
}

// Violated reports whether a specific rule failed.
func (r *Result) Violated(rule string) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Validator runs the admissibility battery. Pure function of its inputs;
// safe for concurrent use across symbols.
type Validator struct {
	logger *zap.Logger
	config Config
	series types.SeriesProvider
}

// NewValidator creates a validator. The series provider feeds the
// correlation check; it may be nil, in which case correlation passes
// neutrally.
func NewValidator(logger *zap.Logger, config Config, series types.SeriesProvider) *Validator {
	return &Validator{
		logger: logger.Named("validation"),
		config: config,
		series: series,
	}
}

// check is one rule outcome. Hard failures reject unconditionally; soft
// failures only reduce the composite score.
type check struct {
	rule    string
	passed  bool
	hard    bool
	weight  float64
	score   float64 // contribution when combined, in [0, 1]
	message string
}

// Validate runs all seven checks and combines them into a single verdict.
// No check's failure short-circuits the others.
func (v *Validator) Validate(signal *types.TradingSignal, ctx *types.MarketContext, portfolio *types.Portfolio) *Result {
	checks := []check{
		v.checkStrength(signal),
		v.checkMarketCondition(signal, ctx),
		v.checkCorrelation(signal, portfolio),
		v.checkVolatility(ctx),
		v.checkLiquidity(ctx),
		v.checkTiming(signal, ctx),
		v.checkPositionLimits(portfolio),
	}

	result := &Result{Passed: true}
	totalWeight := 0.0
	weightedScore := 0.0

	for _, c := range checks {
		totalWeight += c.weight
		weightedScore += c.weight * types.Clamp01(c.score)

		if !c.passed {
			result.Violations = append(result.Violations, Violation{Rule: c.rule, Message: c.message})
			if c.hard {
				result.Passed = false
			}
		}
	}

	if totalWeight > 0 {
		result.Score = types.Clamp01(weightedScore / totalWeight)
	}

	// A signal that fails only soft gates still needs a workable score.
	if result.Passed && result.Score < v.config.MinSignalStrength/2 {
		result.Passed = false
	}

	if len(result.Violations) > 0 {
		v.logger.Debug("signal validation violations",
			zap.String("symbol", signal.Symbol),
			zap.Int("violations", len(result.Violations)),
			zap.Float64("score", result.Score))
	}
	return result
}

// checkStrength enforces the minimum signal strength. Hard gate.
func (v *Validator) checkStrength(signal *types.TradingSignal) check {
	c := check{rule: RuleSignalStrength, hard: true, weight: 0.25, passed: true}
	c.score = types.Clamp01(signal.Strength)
	if signal.Strength < v.config.MinSignalStrength {
		c.passed = false
		c.score = 0
		c.message = fmt.Sprintf("signal strength %.2f below minimum %.2f",
			signal.Strength, v.config.MinSignalStrength)
	}
	return c
}

// checkMarketCondition rejects latency-sensitive strategies during a
// volatility spike, non-24/7 assets outside market hours, and anything with
// a pending high-impact news flag. Hard gate.
func (v *Validator) checkMarketCondition(signal *types.TradingSignal, ctx *types.MarketContext) check {
	c := check{rule: RuleMarketCondition, hard: true, weight: 0.2, passed: true, score: 1}

	switch {
	case ctx.VolatilitySpike && signal.StrategyType.LatencySensitive():
		c.passed = false
		c.score = 0
		c.message = fmt.Sprintf("volatility spike active: %s strategies suspended", signal.StrategyType)
	case !ctx.AssetType.TradesAroundTheClock() && !ctx.MarketOpen:
		c.passed = false
		c.score = 0
		c.message = "market closed for " + string(ctx.AssetType) + " asset"
	case ctx.PendingNews:
		c.passed = false
		c.score = 0
		c.message = "pending high-impact news"
	}
	return c
}

// checkCorrelation rejects signals too correlated with existing positions.
// Soft gate: high correlation reduces score and records a violation but
// does not unconditionally reject.
func (v *Validator) checkCorrelation(signal *types.TradingSignal, portfolio *types.Portfolio) check {
	c := check{rule: RuleCorrelation, weight: 0.15, passed: true}

	maxCorr := v.maxPositionCorrelation(signal.Symbol, portfolio)
	c.score = types.Clamp01(1 - maxCorr)
	if maxCorr > v.config.MaxCorrelation {
		c.passed = false
		c.message = fmt.Sprintf("correlation %.2f with existing positions exceeds %.2f",
			maxCorr, v.config.MaxCorrelation)
	}
	return c
}

// maxPositionCorrelation returns the highest absolute correlation between
// the candidate symbol and any open position. Without a series provider or
// positions the check is neutral.
func (v *Validator) maxPositionCorrelation(symbol string, portfolio *types.Portfolio) float64 {
	if v.series == nil || portfolio == nil || len(portfolio.Positions) == 0 {
		return 0
	}
	candidate := v.series.Returns(symbol, types.Timeframe1h, v.config.CorrelationLookback)
	if len(candidate) < 3 {
		return 0
	}

	maxCorr := 0.0
	for i := range portfolio.Positions {
		pos := &portfolio.Positions[i]
		if pos.Symbol == symbol {
			continue
		}
		other := v.series.Returns(pos.Symbol, types.Timeframe1h, v.config.CorrelationLookback)
		if corr := math.Abs(stats.Correlation(candidate, other)); corr > maxCorr {
			maxCorr = corr
		}
	}
	return maxCorr
}

// checkVolatility requires current realized volatility inside the accepted
// band. Soft gate; insufficient history is neutral.
func (v *Validator) checkVolatility(ctx *types.MarketContext) check {
	c := check{rule: RuleVolatility, weight: 0.1, passed: true, score: 0.6}

	returns := stats.Returns(stats.Closes(ctx.Candles(types.Timeframe1h)))
	if len(returns) < v.config.VolatilityWindow {
		return c // neutral on insufficient data
	}

	// Hourly stdev annualized over 24*365 hours.
	vol := stats.StdDev(returns[len(returns)-v.config.VolatilityWindow:]) * math.Sqrt(24*365)
	switch {
	case vol > v.config.MaxVolatility:
		c.passed = false
		c.score = 0.2
		c.message = fmt.Sprintf("volatility %.2f above acceptable %.2f", vol, v.config.MaxVolatility)
	case vol < v.config.MinVolatility:
		c.passed = false
		c.score = 0.3
		c.message = fmt.Sprintf("volatility %.2f below tradable minimum %.2f", vol, v.config.MinVolatility)
	default:
		c.score = 1
	}
	return c
}

// checkLiquidity requires average traded notional above the floor. Soft gate.
func (v *Validator) checkLiquidity(ctx *types.MarketContext) check {
	c := check{rule: RuleLiquidity, weight: 0.1, passed: true, score: 0.5}

	candles := ctx.Candles(types.Timeframe1h)
	if len(candles) == 0 {
		return c // neutral on insufficient data
	}

	closes := stats.Closes(candles)
	volumes := stats.Volumes(candles)
	notional := stats.Mean(volumes) * closes[len(closes)-1]

	if notional < v.config.MinNotionalVolume {
		c.passed = false
		c.score = types.Clamp01(notional / v.config.MinNotionalVolume)
		c.message = fmt.Sprintf("notional volume %.0f below floor %.0f",
			notional, v.config.MinNotionalVolume)
	} else {
		c.score = 1
	}
	return c
}

// checkTiming enforces minimum spacing between signals for a symbol. Soft gate.
func (v *Validator) checkTiming(signal *types.TradingSignal, ctx *types.MarketContext) check {
	c := check{rule: RuleTiming, weight: 0.1, passed: true, score: 1}

	if ctx.LastSignalAt.IsZero() || v.config.MinSignalSpacingMinutes <= 0 {
		return c
	}
	elapsed := signal.GeneratedAt.Sub(ctx.LastSignalAt)
	minSpacing := float64(v.config.MinSignalSpacingMinutes)
	if elapsed.Minutes() < minSpacing {
		c.passed = false
		c.score = types.Clamp01(elapsed.Minutes() / minSpacing)
		c.message = fmt.Sprintf("only %.0f minutes since last signal, minimum %d",
			elapsed.Minutes(), v.config.MinSignalSpacingMinutes)
	}
	return c
}

// checkPositionLimits enforces the open-position count and gross exposure
// ceilings. Hard gate: a full book cannot take another trade.
func (v *Validator) checkPositionLimits(portfolio *types.Portfolio) check {
	c := check{rule: RulePositionLimits, hard: true, weight: 0.1, passed: true, score: 1}

	if portfolio == nil {
		return c
	}
	if v.config.MaxOpenPositions > 0 && len(portfolio.Positions) >= v.config.MaxOpenPositions {
		c.passed = false
		c.score = 0
		c.message = fmt.Sprintf("open positions %d at limit %d",
			len(portfolio.Positions), v.config.MaxOpenPositions)
		return c
	}
	if exp := portfolio.GrossExposure(); v.config.MaxGrossExposure > 0 && exp >= v.config.MaxGrossExposure {
		c.passed = false
		c.score = 0
		c.message = fmt.Sprintf("gross exposure %.2f at limit %.2f", exp, v.config.MaxGrossExposure)
	}
	return c
}

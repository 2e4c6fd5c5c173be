// Package sizing converts approved signals into concrete position sizes.
// Three models are supported: fixed fractional risk, Kelly criterion with an
// observable fixed-risk fallback, and volatility-adjusted fixed risk. Every
// model funnels through the shared portfolio-limit adjustment step.
package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Method selects the sizing model.
type Method string

const (
	MethodFixedRisk   Method = "fixed_risk"
	MethodKelly       Method = "kelly_criterion"
	MethodVolAdjusted Method = "volatility_adjusted"
)

// Config configures the calculator.
type Config struct {
	// MaxRiskPerTrade is the fraction of portfolio value risked per trade.
	MaxRiskPerTrade float64 `mapstructure:"max_risk_per_trade"`
	// DefaultStopPct is the stop distance assumed when a signal carries no
	// stop-loss, as a fraction of entry price.
	DefaultStopPct float64 `mapstructure:"default_stop_pct"`
	// KellyClamp caps the Kelly fraction; MinTradesForKelly gates the model.
	KellyClamp        float64 `mapstructure:"kelly_clamp"`
	MinTradesForKelly int     `mapstructure:"min_trades_for_kelly"`
	// BaselineVolatility anchors volatility-adjusted scaling (annualized).
	BaselineVolatility float64 `mapstructure:"baseline_volatility"`
	VolatilityWindow   int     `mapstructure:"volatility_window"`
	// Portfolio-level hard limits applied by the shared adjustment step.
	MaxPositionWeight float64 `mapstructure:"max_position_weight"`
	MaxAggregateRisk  float64 `mapstructure:"max_aggregate_risk"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTrade:    0.02,
		DefaultStopPct:     0.02,
		KellyClamp:         0.25,
		MinTradesForKelly:  30,
		BaselineVolatility: 0.30,
		VolatilityWindow:   24,
		MaxPositionWeight:  0.10,
		MaxAggregateRisk:   0.06,
	}
}

// Validate rejects misconfiguration at construction time.
func (c Config) Validate() error {
	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade >= 1 {
		return fmt.Errorf("sizing: max risk per trade must be in (0, 1), got %v", c.MaxRiskPerTrade)
	}
	if c.KellyClamp <= 0 || c.KellyClamp > 1 {
		return fmt.Errorf("sizing: kelly clamp must be in (0, 1], got %v", c.KellyClamp)
	}
	if c.DefaultStopPct <= 0 {
		return fmt.Errorf("sizing: default stop pct must be positive, got %v", c.DefaultStopPct)
	}
	return nil
}

// Request carries the sizing inputs for one approved signal.
type Request struct {
	Signal    *types.TradingSignal
	Context   *types.MarketContext
	Portfolio *types.Portfolio
	Method    Method
	// History is the originating strategy's closed trades, for Kelly stats.
	History []types.TradeRecord
	// SizeMultiplier comes from the risk assessment; 0 means no adjustment.
	SizeMultiplier float64
	// CurrentAggregateRisk is the portfolio's already-committed risk
	// fraction, used by the aggregate-risk cap.
	CurrentAggregateRisk float64
}

// PositionSize is the computed size. Pure value object, recomputed per call.
type PositionSize struct {
	Quantity      decimal.Decimal `json:"quantity"`
	Value         decimal.Decimal `json:"value"` // notional at entry
	RiskAmount    decimal.Decimal `json:"riskAmount"`
	RiskPct       float64         `json:"riskPct"`
	Method        Method          `json:"method"` // model actually used
	KellyFraction float64         `json:"kellyFraction,omitempty"`
	// Fallback marks an explicit model fallback (e.g. Kelly with too few
	// trades resolves to fixed risk); never taken silently.
	Fallback       bool     `json:"fallback,omitempty"`
	FallbackReason string   `json:"fallbackReason,omitempty"`
	Adjustments    []string `json:"adjustments,omitempty"` // applied constraints, in order
}

// Calculator computes position sizes. Stateless per call; safe for
// concurrent use across symbols.
type Calculator struct {
	logger *zap.Logger
	config Config
}

// NewCalculator creates a calculator after validating the configuration.
func NewCalculator(logger *zap.Logger, config Config) (*Calculator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		logger: logger.Named("sizing"),
		config: config,
	}, nil
}

// Size computes the position size with the requested method. Unknown
// methods are a configuration defect and return an error; every runtime
// shortfall (no stop, thin history) resolves to a tagged fallback instead.
func (c *Calculator) Size(req *Request) (*PositionSize, error) {
	var result *PositionSize
	switch req.Method {
	case MethodFixedRisk, "":
		result = c.fixedRisk(req)
	case MethodKelly:
		result = c.kelly(req)
	case MethodVolAdjusted:
		result = c.volatilityAdjusted(req)
	default:
		return nil, fmt.Errorf("sizing: unknown method %q", req.Method)
	}

	c.applyPortfolioLimits(req, result)
	return result, nil
}

// fixedRisk risks a fixed fraction of portfolio value against the stop
// distance: quantity = risk_amount / stop_distance. A zero stop distance
// yields zero quantity rather than a division failure.
func (c *Calculator) fixedRisk(req *Request) *PositionSize {
	result := &PositionSize{Method: MethodFixedRisk}

	total, _ := req.Portfolio.TotalValue.Float64()
	entry, _ := req.Signal.EntryPrice.Float64()
	if total <= 0 || entry <= 0 {
		return result
	}

	stopDistance := c.stopDistance(req.Signal, result)
	riskAmount := total * c.config.MaxRiskPerTrade
	if stopDistance <= 0 {
		result.Adjustments = append(result.Adjustments, "zero_stop_distance")
		return result
	}

	quantity := riskAmount / stopDistance
	result.Quantity = decimal.NewFromFloat(quantity)
	result.Value = decimal.NewFromFloat(quantity * entry)
	result.RiskAmount = decimal.NewFromFloat(riskAmount)
	result.RiskPct = c.config.MaxRiskPerTrade
	return result
}

// kelly sizes by the Kelly criterion from the strategy's trade history,
// clamped to [0, KellyClamp]. With fewer than MinTradesForKelly trades it
// falls back to fixed risk, tagged so the fallback stays observable.
func (c *Calculator) kelly(req *Request) *PositionSize {
	if len(req.History) < c.config.MinTradesForKelly {
		result := c.fixedRisk(req)
		result.Fallback = true
		result.FallbackReason = fmt.Sprintf("kelly requires %d trades, have %d",
			c.config.MinTradesForKelly, len(req.History))
		c.logger.Debug("kelly fallback to fixed risk",
			zap.String("strategy", req.Signal.StrategyID),
			zap.Int("trades", len(req.History)))
		return result
	}

	result := &PositionSize{Method: MethodKelly}
	total, _ := req.Portfolio.TotalValue.Float64()
	entry, _ := req.Signal.EntryPrice.Float64()
	if total <= 0 || entry <= 0 {
		return result
	}

	fraction := kellyFraction(req.History)
	fraction = types.Clamp(fraction, 0, c.config.KellyClamp)
	result.KellyFraction = fraction

	value := total * fraction
	result.Quantity = decimal.NewFromFloat(value / entry)
	result.Value = decimal.NewFromFloat(value)

	// Risk on a Kelly position is bounded by the stop distance.
	stopDistance := c.stopDistance(req.Signal, result)
	riskAmount := value / entry * stopDistance
	result.RiskAmount = decimal.NewFromFloat(riskAmount)
	if total > 0 {
		result.RiskPct = riskAmount / total
	}
	return result
}

// volatilityAdjusted scales the fixed-risk quantity inversely with realized
// volatility relative to the configured baseline.
func (c *Calculator) volatilityAdjusted(req *Request) *PositionSize {
	result := c.fixedRisk(req)
	result.Method = MethodVolAdjusted

	returns := stats.Returns(stats.Closes(req.Context.Candles(types.Timeframe1h)))
	if len(returns) < c.config.VolatilityWindow {
		result.Fallback = true
		result.FallbackReason = "insufficient history for volatility scaling"
		return result
	}

	vol := stats.StdDev(returns[len(returns)-c.config.VolatilityWindow:]) * math.Sqrt(24*365)
	if vol <= 0 {
		return result
	}

	scale := types.Clamp(c.config.BaselineVolatility/vol, 0.1, 2.0)
	result.Adjustments = append(result.Adjustments, fmt.Sprintf("volatility_scale:%.2f", scale))
	c.rescale(result, scale)
	return result
}

// applyPortfolioLimits is the shared adjustment funnel: the risk
// assessment's size multiplier, the single-position weight cap and the
// aggregate risk cap, in that order. Quantity never goes negative.
func (c *Calculator) applyPortfolioLimits(req *Request, result *PositionSize) {
	if result.Quantity.IsZero() {
		return
	}
	total, _ := req.Portfolio.TotalValue.Float64()
	entry, _ := req.Signal.EntryPrice.Float64()

	if req.SizeMultiplier > 0 && req.SizeMultiplier < 1 {
		result.Adjustments = append(result.Adjustments,
			fmt.Sprintf("risk_multiplier:%.2f", req.SizeMultiplier))
		c.rescale(result, req.SizeMultiplier)
	}

	if total > 0 && entry > 0 && c.config.MaxPositionWeight > 0 {
		value, _ := result.Value.Float64()
		maxValue := total * c.config.MaxPositionWeight
		if value > maxValue {
			result.Adjustments = append(result.Adjustments, "max_position_weight")
			c.rescale(result, maxValue/value)
		}
	}

	if c.config.MaxAggregateRisk > 0 {
		available := c.config.MaxAggregateRisk - req.CurrentAggregateRisk
		if available <= 0 {
			result.Adjustments = append(result.Adjustments, "aggregate_risk_exhausted")
			c.rescale(result, 0)
			return
		}
		if result.RiskPct > available {
			result.Adjustments = append(result.Adjustments, "max_aggregate_risk")
			c.rescale(result, available/result.RiskPct)
		}
	}
}

// rescale multiplies every size field by factor, keeping them consistent.
func (c *Calculator) rescale(result *PositionSize, factor float64) {
	result.Scale(factor)
}

// Scale multiplies quantity, value and risk by factor, keeping the fields
// consistent. Negative factors clamp to zero so quantity never goes negative.
func (p *PositionSize) Scale(factor float64) {
	if factor < 0 {
		factor = 0
	}
	f := decimal.NewFromFloat(factor)
	p.Quantity = p.Quantity.Mul(f)
	p.Value = p.Value.Mul(f)
	p.RiskAmount = p.RiskAmount.Mul(f)
	p.RiskPct *= factor
}

// stopDistance returns |entry - stop|, falling back to the default
// percentage stop when the signal carries none. The fallback is recorded.
func (c *Calculator) stopDistance(signal *types.TradingSignal, result *PositionSize) float64 {
	entry, _ := signal.EntryPrice.Float64()
	if !signal.HasStopLoss() {
		result.Adjustments = append(result.Adjustments, "default_stop_pct")
		return entry * c.config.DefaultStopPct
	}
	stop, _ := signal.StopLoss.Float64()
	return math.Abs(entry - stop)
}

// kellyFraction computes f* = (b*p - q) / b from trade history, where
// p is the win rate and b the payoff ratio. Degenerate statistics return 0.
func kellyFraction(history []types.TradeRecord) float64 {
	wins, losses := 0, 0
	var sumWin, sumLoss float64
	for i := range history {
		if history[i].IsWin {
			wins++
			sumWin += history[i].ReturnPct
		} else {
			losses++
			sumLoss += math.Abs(history[i].ReturnPct)
		}
	}
	total := wins + losses
	if total == 0 || wins == 0 || losses == 0 {
		return 0
	}

	p := float64(wins) / float64(total)
	avgWin := sumWin / float64(wins)
	avgLoss := sumLoss / float64(losses)
	if avgLoss <= 0 || avgWin <= 0 {
		return 0
	}

	b := avgWin / avgLoss
	kelly := (b*p - (1 - p)) / b
	if kelly < 0 {
		return 0
	}
	return kelly
}

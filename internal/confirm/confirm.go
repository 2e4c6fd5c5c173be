// Package confirm checks whether a candidate signal's direction agrees with
// trend direction across configured timeframes. Longer timeframes carry more
// weight; timeframes without enough history contribute neutrally.
package confirm

import (
	"sort"

	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Config configures the confirmation check.
type Config struct {
	Timeframes []types.Timeframe `mapstructure:"timeframes"`
	// Weights maps timeframe to its weight in the overall score. Missing
	// entries default to a duration-proportional weight.
	Weights    map[types.Timeframe]float64 `mapstructure:"weights"`
	ShortMA    int                         `mapstructure:"short_ma"`
	LongMA     int                         `mapstructure:"long_ma"`
	MinPeriods int                         `mapstructure:"min_periods"` // below this a timeframe is neutral
	// MinScore is the confirmation threshold.
	MinScore float64 `mapstructure:"min_score"`
}

// DefaultConfig returns the documented defaults: hourly through daily
// timeframes, 20/50 moving averages, confirmation at 0.67.
func DefaultConfig() Config {
	return Config{
		Timeframes: []types.Timeframe{types.Timeframe1h, types.Timeframe4h, types.Timeframe1d},
		ShortMA:    20,
		LongMA:     50,
		MinPeriods: 20,
		MinScore:   0.67,
	}
}

// TimeframeTrend is the per-timeframe contribution to the confirmation.
type TimeframeTrend struct {
	Timeframe    types.Timeframe `json:"timeframe"`
	Trend        float64         `json:"trend"` // -1, -0.5, 0, +0.5, +1
	Weight       float64         `json:"weight"`
	Agreement    float64         `json:"agreement"` // contribution in [0, 1]
	Insufficient bool            `json:"insufficient"`
}

// Result is the confirmation outcome for one signal.
type Result struct {
	Score      float64          `json:"score"` // weighted agreement in [0, 1]
	Confirmed  bool             `json:"confirmed"`
	Timeframes []TimeframeTrend `json:"timeframes"`
}

// Confirmer derives trend agreement across timeframes. Stateless per call.
type Confirmer struct {
	logger *zap.Logger
	config Config
}

// NewConfirmer creates a confirmer.
func NewConfirmer(logger *zap.Logger, config Config) *Confirmer {
	return &Confirmer{
		logger: logger.Named("confirm"),
		config: config,
	}
}

// Confirm scores how strongly the configured timeframes agree with the
// candidate direction. A timeframe with fewer than MinPeriods candles
// contributes zero agreement rather than erroring.
func (c *Confirmer) Confirm(ctx *types.MarketContext, direction types.Direction) *Result {
	result := &Result{Timeframes: make([]TimeframeTrend, 0, len(c.config.Timeframes))}

	totalWeight := 0.0
	weightedAgreement := 0.0

	for _, tf := range c.sortedTimeframes() {
		weight := c.weightFor(tf)
		tt := TimeframeTrend{Timeframe: tf, Weight: weight}

		candles := ctx.Candles(tf)
		if len(candles) < c.config.MinPeriods {
			tt.Insufficient = true
		} else {
			tt.Trend = c.trendDirection(stats.Closes(candles))
			tt.Agreement = types.Clamp01(tt.Trend * float64(direction))
		}

		totalWeight += weight
		weightedAgreement += weight * tt.Agreement
		result.Timeframes = append(result.Timeframes, tt)
	}

	if totalWeight > 0 {
		result.Score = types.Clamp01(weightedAgreement / totalWeight)
	}
	result.Confirmed = result.Score >= c.config.MinScore
	return result
}

// trendDirection derives trend in {-1, -0.5, 0, +0.5, +1} from short/long
// moving-average relationships: price above both MAs with both rising is
// strong agreement; price above only the short MA is moderate.
func (c *Confirmer) trendDirection(closes []float64) float64 {
	price := closes[len(closes)-1]

	shortMA := stats.SMA(closes, c.config.ShortMA)
	longMA := stats.SMA(closes, c.config.LongMA)

	// An undersized previous window reads as flat, never as rising.
	prev := closes[:len(closes)-1]
	prevShort := stats.SMA(prev, c.config.ShortMA)
	prevLong := stats.SMA(prev, c.config.LongMA)
	shortRising := prevShort > 0 && shortMA > prevShort
	longRising := prevLong > 0 && longMA > prevLong

	// With history shorter than the long MA, fall back to the short MA only.
	if longMA == 0 {
		switch {
		case price > shortMA && shortRising:
			return 0.5
		case price < shortMA && !shortRising:
			return -0.5
		}
		return 0
	}

	switch {
	case price > shortMA && price > longMA && shortRising && longRising:
		return 1
	case price < shortMA && price < longMA && !shortRising && !longRising:
		return -1
	case price > shortMA:
		return 0.5
	case price < shortMA:
		return -0.5
	}
	return 0
}

// weightFor returns the configured weight for a timeframe, defaulting to a
// duration-proportional weight so longer timeframes count more.
func (c *Confirmer) weightFor(tf types.Timeframe) float64 {
	if w, ok := c.config.Weights[tf]; ok && w > 0 {
		return w
	}
	total := 0
	for _, other := range c.config.Timeframes {
		total += other.Minutes()
	}
	if total == 0 {
		return 1
	}
	return float64(tf.Minutes()) / float64(total)
}

// sortedTimeframes returns the configured timeframes shortest first so the
// result order is deterministic.
func (c *Confirmer) sortedTimeframes() []types.Timeframe {
	tfs := make([]types.Timeframe, len(c.config.Timeframes))
	copy(tfs, c.config.Timeframes)
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Minutes() < tfs[j].Minutes() })
	return tfs
}

// Package regime classifies recent price action into market regimes.
// Classification runs independently over short, medium and long lookback
// windows and synthesizes an overall label from cross-window agreement.
package regime

import (
	"math"

	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Label is a market regime classification.
type Label string

const (
	BullTrending    Label = "bull_trending"
	BearTrending    Label = "bear_trending"
	HighVolRanging  Label = "high_volatility_ranging"
	LowVolRanging   Label = "low_volatility_ranging"
	Transitional    Label = "transitional"
	Unknown         Label = "unknown"
)

// WindowRegime is the classification for a single lookback window.
type WindowRegime struct {
	Window       int     `json:"window"` // lookback in periods
	Label        Label   `json:"label"`
	Confidence   float64 `json:"confidence"`
	Trend        float64 `json:"trend"`      // normalized, [-1, 1]
	Volatility   float64 `json:"volatility"` // annualized
	Insufficient bool    `json:"insufficient"`
}

// Analysis is the full regime detection result.
type Analysis struct {
	Overall          Label          `json:"overall"`
	Confidence       float64        `json:"confidence"`
	Windows          []WindowRegime `json:"windows"`
	InsufficientData bool           `json:"insufficientData"`
}

// Config configures the detector. Windows are period counts on the daily
// timeframe; weights favor longer windows during synthesis.
type Config struct {
	ShortWindow  int     `mapstructure:"short_window"`
	MediumWindow int     `mapstructure:"medium_window"`
	LongWindow   int     `mapstructure:"long_window"`
	ShortWeight  float64 `mapstructure:"short_weight"`
	MediumWeight float64 `mapstructure:"medium_weight"`
	LongWeight   float64 `mapstructure:"long_weight"`

	TrendThreshold   float64 `mapstructure:"trend_threshold"`    // |trend| above => trending
	HighVolThreshold float64 `mapstructure:"high_vol_threshold"` // annualized vol above => high vol
	LowVolThreshold  float64 `mapstructure:"low_vol_threshold"`  // annualized vol below => low vol
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ShortWindow:      20,
		MediumWindow:     60,
		LongWindow:       252,
		ShortWeight:      0.25,
		MediumWeight:     0.35,
		LongWeight:       0.40,
		TrendThreshold:   0.3,
		HighVolThreshold: 0.40,
		LowVolThreshold:  0.15,
	}
}

// Detector classifies market regimes. Stateless per call; safe for
// concurrent use across symbols.
type Detector struct {
	logger *zap.Logger
	config Config
}

// NewDetector creates a detector.
func NewDetector(logger *zap.Logger, config Config) *Detector {
	return &Detector{
		logger: logger.Named("regime"),
		config: config,
	}
}

// Detect classifies the context's daily history. Windows without enough
// history contribute an unknown label instead of failing the analysis.
func (d *Detector) Detect(ctx *types.MarketContext) *Analysis {
	closes := stats.Closes(ctx.Candles(types.Timeframe1d))

	windows := []struct {
		periods int
		weight  float64
	}{
		{d.config.ShortWindow, d.config.ShortWeight},
		{d.config.MediumWindow, d.config.MediumWeight},
		{d.config.LongWindow, d.config.LongWeight},
	}

	analysis := &Analysis{Windows: make([]WindowRegime, 0, len(windows))}

	votes := make(map[Label]float64)
	confSums := make(map[Label]float64)
	confCounts := make(map[Label]int)
	knownWeight := 0.0

	for _, w := range windows {
		wr := d.classifyWindow(closes, w.periods)
		analysis.Windows = append(analysis.Windows, wr)

		if wr.Insufficient {
			continue
		}
		knownWeight += w.weight
		votes[wr.Label] += w.weight
		confSums[wr.Label] += wr.Confidence
		confCounts[wr.Label]++
	}

	if knownWeight == 0 {
		analysis.Overall = Unknown
		analysis.InsufficientData = true
		d.logger.Debug("regime detection skipped: insufficient history",
			zap.String("symbol", ctx.Symbol),
			zap.Int("closes", len(closes)))
		return analysis
	}

	best := Unknown
	bestWeight := 0.0
	for label, weight := range votes {
		if weight > bestWeight {
			best = label
			bestWeight = weight
		}
	}

	// Confidence combines the weight share of the winning label with the
	// mean per-window confidence of the windows that voted for it.
	agreement := bestWeight / knownWeight
	meanConf := confSums[best] / float64(confCounts[best])

	analysis.Overall = best
	analysis.Confidence = types.Clamp01(agreement * meanConf)
	return analysis
}

// classifyWindow classifies a single lookback window from trend strength,
// annualized volatility and the moving-average slope.
func (d *Detector) classifyWindow(closes []float64, periods int) WindowRegime {
	wr := WindowRegime{Window: periods, Label: Unknown}

	if len(closes) < periods+1 {
		wr.Insufficient = true
		return wr
	}

	window := closes[len(closes)-periods-1:]
	returns := stats.Returns(window)

	vol := stats.StdDev(returns)
	wr.Volatility = vol * math.Sqrt(252)
	wr.Trend = trendStrength(returns, vol)

	price := window[len(window)-1]
	ma := stats.SMA(window, periods)
	maPrev := stats.SMA(window[:len(window)-1], periods)
	maRising := ma > maPrev
	maFalling := ma < maPrev

	switch {
	case wr.Trend >= d.config.TrendThreshold && price > ma && maRising:
		wr.Label = BullTrending
		wr.Confidence = trendConfidence(wr.Trend, d.config.TrendThreshold)
	case wr.Trend <= -d.config.TrendThreshold && price < ma && maFalling:
		wr.Label = BearTrending
		wr.Confidence = trendConfidence(-wr.Trend, d.config.TrendThreshold)
	case wr.Volatility >= d.config.HighVolThreshold:
		wr.Label = HighVolRanging
		wr.Confidence = types.Clamp(0.5+wr.Volatility-d.config.HighVolThreshold, 0.5, 0.95)
	case wr.Volatility <= d.config.LowVolThreshold:
		wr.Label = LowVolRanging
		wr.Confidence = types.Clamp(0.5+(d.config.LowVolThreshold-wr.Volatility)/d.config.LowVolThreshold, 0.5, 0.95)
	default:
		wr.Label = Transitional
		wr.Confidence = 0.4
	}

	return wr
}

// trendStrength normalizes the sum of returns by volatility, clamped to
// [-1, 1]. A flat-volatility monotone series saturates at +/-1.
func trendStrength(returns []float64, vol float64) float64 {
	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	if vol == 0 {
		switch {
		case sum > 0:
			return 1
		case sum < 0:
			return -1
		}
		return 0
	}
	t := sum / (vol * math.Sqrt(float64(len(returns))))
	return types.Clamp(t, -1, 1)
}

// trendConfidence maps trend margin above the threshold into [0.5, 0.95].
func trendConfidence(trend, threshold float64) float64 {
	margin := (trend - threshold) / (1 - threshold)
	return types.Clamp(0.5+0.45*margin, 0.5, 0.95)
}

// Compatibility scores how well a strategy type fits a regime, in [0, 1].
// Shared by the risk assessor (regime-mismatch penalty) and the strategy
// selector (condition fitness).
func Compatibility(st types.StrategyType, label Label) float64 {
	switch label {
	case BullTrending, BearTrending:
		switch st {
		case types.StrategyTrendFollowing, types.StrategyMomentum:
			return 0.9
		case types.StrategyBreakout:
			return 0.7
		case types.StrategyMeanReversion:
			return 0.3
		case types.StrategyScalping:
			return 0.5
		}
	case HighVolRanging:
		switch st {
		case types.StrategyMeanReversion:
			return 0.7
		case types.StrategyScalping:
			return 0.6
		case types.StrategyBreakout:
			return 0.4
		case types.StrategyTrendFollowing, types.StrategyMomentum:
			return 0.2
		}
	case LowVolRanging:
		switch st {
		case types.StrategyMeanReversion:
			return 0.9
		case types.StrategyScalping:
			return 0.7
		case types.StrategyBreakout:
			return 0.5
		case types.StrategyTrendFollowing, types.StrategyMomentum:
			return 0.4
		}
	case Transitional:
		return 0.5
	}
	// Unknown regime: neutral.
	return 0.5
}

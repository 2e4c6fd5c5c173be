// Package stats provides the small set of rolling statistics the engine
// components share: moments, correlation, quantiles, moving averages and ATR.
// Everything operates on already-materialized float slices; no allocation
// beyond the returned slice.
package stats

import (
	"math"
	"sort"

	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation, 0 with fewer than 2 points.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := Mean(xs)
	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs) - 1)
	return math.Sqrt(variance)
}

// Correlation returns the Pearson correlation of the overlapping tail of the
// two series, 0 when fewer than 3 points overlap or either side is flat.
func Correlation(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 3 {
		return 0
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	meanA, meanB := Mean(a), Mean(b)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

// PercentileRank returns the fraction of xs strictly below v, in [0, 1].
func PercentileRank(xs []float64, v float64) float64 {
	if len(xs) == 0 {
		return 0.5
	}
	below := 0
	for _, x := range xs {
		if x < v {
			below++
		}
	}
	return float64(below) / float64(len(xs))
}

// Quantile returns the empirical q-quantile (0 <= q <= 1) by linear
// interpolation, 0 for an empty slice.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// SMA returns the simple moving average of the last period values,
// 0 when the series is shorter than period.
func SMA(xs []float64, period int) float64 {
	if period <= 0 || len(xs) < period {
		return 0
	}
	return Mean(xs[len(xs)-period:])
}

// Closes extracts close prices from candles as floats, oldest first.
func Closes(candles []types.OHLCV) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i], _ = candles[i].Close.Float64()
	}
	return out
}

// Volumes extracts traded volumes from candles as floats, oldest first.
func Volumes(candles []types.OHLCV) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i], _ = candles[i].Volume.Float64()
	}
	return out
}

// Returns converts a close series into simple period returns.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-1]-1)
	}
	return out
}

// ATR returns the Average True Range over period: the rolling mean of
// max(high-low, |high-prevClose|, |low-prevClose|). Returns 0 when fewer
// than period+1 candles are available.
func ATR(candles []types.OHLCV, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	start := len(candles) - period
	sum := 0.0
	for i := start; i < len(candles); i++ {
		high, _ := candles[i].High.Float64()
		low, _ := candles[i].Low.Float64()
		prevClose, _ := candles[i-1].Close.Float64()

		tr := high - low
		if d := math.Abs(high - prevClose); d > tr {
			tr = d
		}
		if d := math.Abs(low - prevClose); d > tr {
			tr = d
		}
		sum += tr
	}
	return sum / float64(period)
}

// RollingVolatility returns the series of standard deviations of returns
// over a sliding window, oldest first. Used for volatility percentile ranks.
func RollingVolatility(returns []float64, window int) []float64 {
	if window <= 1 || len(returns) < window {
		return nil
	}
	out := make([]float64, 0, len(returns)-window+1)
	for i := window; i <= len(returns); i++ {
		out = append(out, StdDev(returns[i-window:i]))
	}
	return out
}

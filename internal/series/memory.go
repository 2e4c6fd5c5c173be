// Package series provides an in-memory SeriesProvider backed by candle
// slices handed over by the market-data collaborator. The engine itself
// never fetches data; this is the default accessor callers populate before
// an evaluation cycle.
package series

import (
	"sync"

	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// MemoryProvider holds immutable candle snapshots per symbol/timeframe.
// Set replaces a whole series atomically, so concurrent readers always
// observe a consistent snapshot.
type MemoryProvider struct {
	mu     sync.RWMutex
	series map[string]map[types.Timeframe][]types.OHLCV
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		series: make(map[string]map[types.Timeframe][]types.OHLCV),
	}
}

// Set stores candles for a symbol/timeframe, replacing any previous series.
// The provider takes ownership of the slice; callers must not mutate it.
func (p *MemoryProvider) Set(symbol string, tf types.Timeframe, candles []types.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()

	byTF, ok := p.series[symbol]
	if !ok {
		byTF = make(map[types.Timeframe][]types.OHLCV)
		p.series[symbol] = byTF
	}
	byTF[tf] = candles
}

// Candles returns up to limit most-recent candles, oldest first.
func (p *MemoryProvider) Candles(symbol string, tf types.Timeframe, limit int) []types.OHLCV {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byTF, ok := p.series[symbol]
	if !ok {
		return nil
	}
	candles := byTF[tf]
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles
}

// Returns returns up to limit most-recent simple returns, oldest first.
func (p *MemoryProvider) Returns(symbol string, tf types.Timeframe, limit int) []float64 {
	// One extra candle is needed to produce limit returns.
	fetch := 0
	if limit > 0 {
		fetch = limit + 1
	}
	candles := p.Candles(symbol, tf, fetch)
	if len(candles) < 2 {
		return nil
	}
	return stats.Returns(stats.Closes(candles))
}

var _ types.SeriesProvider = (*MemoryProvider)(nil)

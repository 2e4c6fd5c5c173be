// Package types provides shared type definitions for the decision engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents trade direction: +1 long, -1 short.
type Direction int

const (
	DirectionLong  Direction = 1
	DirectionShort Direction = -1
)

// Opposite returns the reversed direction.
func (d Direction) Opposite() Direction {
	return -d
}

// AssetType classifies the traded instrument.
type AssetType string

const (
	AssetCrypto AssetType = "crypto"
	AssetEquity AssetType = "equity"
	AssetForex  AssetType = "forex"
)

// TradesAroundTheClock reports whether the asset trades 24/7.
func (a AssetType) TradesAroundTheClock() bool {
	return a == AssetCrypto
}

// StrategyType classifies the strategy that produced a signal.
type StrategyType string

const (
	StrategyTrendFollowing StrategyType = "trend_following"
	StrategyMeanReversion  StrategyType = "mean_reversion"
	StrategyBreakout       StrategyType = "breakout"
	StrategyMomentum       StrategyType = "momentum"
	StrategyScalping       StrategyType = "scalping"
)

// LatencySensitive reports whether the strategy type depends on fast fills.
// Latency-sensitive strategies are blocked during volatility spikes.
func (s StrategyType) LatencySensitive() bool {
	return s == StrategyScalping || s == StrategyMomentum
}

// Timeframe represents candle timeframes.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Minutes returns the timeframe length in minutes. Unknown timeframes
// return 0 and sort first when weighting by duration.
func (tf Timeframe) Minutes() int {
	switch tf {
	case Timeframe1m:
		return 1
	case Timeframe5m:
		return 5
	case Timeframe15m:
		return 15
	case Timeframe1h:
		return 60
	case Timeframe4h:
		return 240
	case Timeframe1d:
		return 1440
	}
	return 0
}

// OHLCV represents a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// TradingSignal is a candidate trade produced by an upstream strategy.
// The engine consumes it read-only.
type TradingSignal struct {
	Symbol       string          `json:"symbol"`
	Direction    Direction       `json:"direction"`
	Strength     float64         `json:"strength"` // 0-1
	StrategyID   string          `json:"strategyId"`
	StrategyType StrategyType    `json:"strategyType"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	StopLoss     decimal.Decimal `json:"stopLoss,omitempty"` // zero when not supplied
	GeneratedAt  time.Time       `json:"generatedAt"`
}

// HasStopLoss reports whether the upstream strategy proposed a stop.
func (s *TradingSignal) HasStopLoss() bool {
	return !s.StopLoss.IsZero()
}

// MarketContext is an immutable snapshot of market state for one symbol.
// The engine never mutates it; per-timeframe history must already be
// materialized by the market-data collaborator.
type MarketContext struct {
	Symbol          string                `json:"symbol"`
	AssetType       AssetType             `json:"assetType"`
	History         map[Timeframe][]OHLCV `json:"-"`
	VolatilitySpike bool                  `json:"volatilitySpike"`
	MarketOpen      bool                  `json:"marketOpen"`
	PendingNews     bool                  `json:"pendingNews"`
	NewsImpact      float64               `json:"newsImpact"` // 0-1 proximity of pending news
	LastSignalAt    time.Time             `json:"lastSignalAt,omitempty"`
}

// Candles returns the history for a timeframe, nil when absent.
func (mc *MarketContext) Candles(tf Timeframe) []OHLCV {
	if mc.History == nil {
		return nil
	}
	return mc.History[tf]
}

// Position is a single open position inside a portfolio snapshot.
type Position struct {
	Symbol     string          `json:"symbol"`
	Weight     float64         `json:"weight"` // fraction of portfolio value
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Sector     string          `json:"sector"`
}

// Portfolio is a read-only snapshot owned by the bookkeeping collaborator.
// The engine proposes sizes and vetoes; it never mutates positions.
type Portfolio struct {
	TotalValue decimal.Decimal `json:"totalValue"`
	Positions  []Position      `json:"positions"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// HoldsSymbol reports whether the portfolio has an open position in symbol.
func (p *Portfolio) HoldsSymbol(symbol string) bool {
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			return true
		}
	}
	return false
}

// GrossExposure returns the sum of absolute position weights.
func (p *Portfolio) GrossExposure() float64 {
	total := 0.0
	for i := range p.Positions {
		w := p.Positions[i].Weight
		if w < 0 {
			w = -w
		}
		total += w
	}
	return total
}

// TradeRecord is one closed trade from the strategy registry, used for
// Kelly statistics and regime-conditioned strategy scoring.
type TradeRecord struct {
	StrategyID string    `json:"strategyId"`
	Symbol     string    `json:"symbol"`
	ReturnPct  float64   `json:"returnPct"` // signed, as a fraction
	IsWin      bool      `json:"isWin"`
	Regime     string    `json:"regime,omitempty"` // regime label at entry
	ClosedAt   time.Time `json:"closedAt"`
}

// SeriesProvider is the injected read-only time-series accessor. It decouples
// correlation and VaR calculations from wherever history is actually stored.
// Implementations must not block; series are expected to be memory-resident.
type SeriesProvider interface {
	// Candles returns up to limit most-recent candles for symbol/timeframe,
	// oldest first. Returns nil when the symbol is unknown.
	Candles(symbol string, tf Timeframe, limit int) []OHLCV

	// Returns returns up to limit most-recent simple returns for symbol on
	// the given timeframe, oldest first.
	Returns(symbol string, tf Timeframe, limit int) []float64
}

// Clamp01 clamps v to [0, 1]. Scores and fractions pass through this before
// being combined so NaN or out-of-range values never propagate.
func Clamp01(v float64) float64 {
	if v != v { // NaN
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp clamps v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v != v {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

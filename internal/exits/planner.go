// Package exits builds and maintains exit plans: an initial stop, laddered
// take-profit levels expressed in R multiples, and a trailing stop that
// ratchets only in the favorable direction.
package exits

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// StopSource records where the initial stop came from.
type StopSource string

const (
	StopFromSignal StopSource = "signal"
	StopFromATR    StopSource = "atr"
	StopFromFloor  StopSource = "floor"
)

// Config configures the planner.
type Config struct {
	ATRPeriod     int     `mapstructure:"atr_period"`
	ATRMultiplier float64 `mapstructure:"atr_multiplier"`
	// MinStopPct floors the stop distance as a fraction of entry price so a
	// quiet tape cannot produce a degenerate stop.
	MinStopPct float64 `mapstructure:"min_stop_pct"`
	// TakeProfits are R multiples paired with cumulative position fractions
	// released once each level trades.
	TakeProfits []TakeProfitSpec `mapstructure:"take_profits"`
	// TrailActivationR is the profit in R at which the trailing stop arms;
	// TrailDistanceR is how far behind the best price it trails.
	TrailActivationR float64 `mapstructure:"trail_activation_r"`
	TrailDistanceR   float64 `mapstructure:"trail_distance_r"`
}

// TakeProfitSpec is one ladder rung.
type TakeProfitSpec struct {
	RMultiple  float64 `mapstructure:"r_multiple"`
	ReleasePct float64 `mapstructure:"release_pct"` // cumulative fraction released
}

// DefaultConfig returns the documented ladder: partial exits at 0.5R, 1R and
// 2R releasing 25%, 50% and 75% of the position, trailing from 1R.
func DefaultConfig() Config {
	return Config{
		ATRPeriod:     14,
		ATRMultiplier: 2.0,
		MinStopPct:    0.005,
		TakeProfits: []TakeProfitSpec{
			{RMultiple: 0.5, ReleasePct: 0.25},
			{RMultiple: 1.0, ReleasePct: 0.50},
			{RMultiple: 2.0, ReleasePct: 0.75},
		},
		TrailActivationR: 1.0,
		TrailDistanceR:   1.0,
	}
}

// Validate rejects ladders that are not strictly increasing in both R and
// released fraction.
func (c Config) Validate() error {
	if c.ATRPeriod <= 0 {
		return fmt.Errorf("exits: atr period must be positive, got %d", c.ATRPeriod)
	}
	prevR, prevPct := 0.0, 0.0
	for i, tp := range c.TakeProfits {
		if tp.RMultiple <= prevR {
			return fmt.Errorf("exits: take profit %d not increasing in R", i)
		}
		if tp.ReleasePct <= prevPct || tp.ReleasePct > 1 {
			return fmt.Errorf("exits: take profit %d release fraction invalid", i)
		}
		prevR, prevPct = tp.RMultiple, tp.ReleasePct
	}
	return nil
}

// TakeProfit is one planned partial exit. ExecutionPrice is recorded when
// the level fills: the close when it cleared the level, otherwise the level
// price itself, so a long never books a fill below its target.
type TakeProfit struct {
	Price          decimal.Decimal `json:"price"`
	RMultiple      float64         `json:"rMultiple"`
	ReleasePct     float64         `json:"releasePct"`
	Executed       bool            `json:"executed"`
	ExecutionPrice decimal.Decimal `json:"executionPrice"`
}

// Plan is a live exit plan for one position. Mutated only through Advance.
type Plan struct {
	Symbol    string          `json:"symbol"`
	Direction types.Direction `json:"direction"`
	Entry     decimal.Decimal `json:"entry"`

	// Size is the opened quantity; Remaining is what the ladder and stop have
	// not yet released. The plan is terminal once Remaining reaches zero.
	Size      decimal.Decimal `json:"size"`
	Remaining decimal.Decimal `json:"remaining"`

	InitialStop decimal.Decimal `json:"initialStop"`
	StopSource  StopSource      `json:"stopSource"`
	// Stop is the effective stop: the initial stop until the trail arms,
	// then the ratcheted trailing stop.
	Stop    decimal.Decimal `json:"stop"`
	StopHit bool            `json:"stopHit"`

	TakeProfits []TakeProfit `json:"takeProfits"`

	TrailArmed bool            `json:"trailArmed"`
	BestPrice  decimal.Decimal `json:"bestPrice"` // most favorable price seen

	// RiskPerUnit is R: the distance between entry and initial stop.
	RiskPerUnit decimal.Decimal `json:"riskPerUnit"`
}

// ReleasedFraction returns the cumulative fraction released by executed
// take-profit levels.
func (p *Plan) ReleasedFraction() float64 {
	released := 0.0
	for i := range p.TakeProfits {
		if p.TakeProfits[i].Executed {
			released = p.TakeProfits[i].ReleasePct
		}
	}
	return released
}

// Exhausted reports whether the plan is terminal: the stop has fired or the
// ladder has released the whole position.
func (p *Plan) Exhausted() bool {
	return p.StopHit || (!p.Size.IsZero() && p.Remaining.IsZero())
}

// Update is the result of advancing a plan against a new bar.
type Update struct {
	StopHit       bool            `json:"stopHit"`
	ExecutedTPs   []int           `json:"executedTps,omitempty"` // indexes newly filled
	TrailArmed    bool            `json:"trailArmed"`            // armed on this update
	StopMoved     bool            `json:"stopMoved"`
	Stop          decimal.Decimal `json:"stop"`
	ReleasedTotal float64         `json:"releasedTotal"`
	Remaining     decimal.Decimal `json:"remaining"`
}

// Planner builds and advances exit plans.
type Planner struct {
	logger *zap.Logger
	config Config
}

// NewPlanner creates a planner after validating the ladder.
func NewPlanner(logger *zap.Logger, config Config) (*Planner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Planner{
		logger: logger.Named("exits"),
		config: config,
	}, nil
}

// Build constructs a plan for a signal and its opened size. The stop comes
// from the signal when supplied, otherwise from ATR; either way the distance
// is floored at MinStopPct of entry and the source is recorded.
func (p *Planner) Build(signal *types.TradingSignal, ctx *types.MarketContext, size decimal.Decimal) *Plan {
	entry, _ := signal.EntryPrice.Float64()
	dir := float64(signal.Direction)

	distance, source := p.stopDistance(signal, ctx)
	if floor := entry * p.config.MinStopPct; distance < floor {
		distance = floor
		source = StopFromFloor
	}

	plan := &Plan{
		Symbol:      signal.Symbol,
		Direction:   signal.Direction,
		Entry:       signal.EntryPrice,
		Size:        size,
		Remaining:   size,
		StopSource:  source,
		RiskPerUnit: decimal.NewFromFloat(distance),
		BestPrice:   signal.EntryPrice,
	}
	plan.InitialStop = decimal.NewFromFloat(entry - dir*distance)
	plan.Stop = plan.InitialStop

	plan.TakeProfits = make([]TakeProfit, 0, len(p.config.TakeProfits))
	for _, spec := range p.config.TakeProfits {
		plan.TakeProfits = append(plan.TakeProfits, TakeProfit{
			Price:      decimal.NewFromFloat(entry + dir*distance*spec.RMultiple),
			RMultiple:  spec.RMultiple,
			ReleasePct: spec.ReleasePct,
		})
	}

	p.logger.Debug("exit plan built",
		zap.String("symbol", signal.Symbol),
		zap.String("stop_source", string(source)),
		zap.Float64("risk_per_unit", distance))
	return plan
}

// stopDistance picks the stop distance before flooring: the signal's own
// stop when present, else ATR times the multiplier on hourly candles.
func (p *Planner) stopDistance(signal *types.TradingSignal, ctx *types.MarketContext) (float64, StopSource) {
	entry, _ := signal.EntryPrice.Float64()

	if signal.HasStopLoss() {
		stop, _ := signal.StopLoss.Float64()
		d := entry - stop
		if d < 0 {
			d = -d
		}
		return d, StopFromSignal
	}

	atr := stats.ATR(ctx.Candles(types.Timeframe1h), p.config.ATRPeriod)
	if atr > 0 {
		return atr * p.config.ATRMultiplier, StopFromATR
	}
	return 0, StopFromFloor // no usable history, floor takes over
}

// Advance moves a plan against the latest bar's close and high. The high
// feeds best-price tracking and fills for longs and stop detection for
// shorts, so an intra-bar touch is not lost between closes. Idempotent for a
// repeated bar: executed levels stay executed and the stop only ratchets in
// the favorable direction.
func (p *Planner) Advance(plan *Plan, price, high decimal.Decimal) Update {
	update := Update{Stop: plan.Stop}
	dir := float64(plan.Direction)
	px, _ := price.Float64()
	hi, _ := high.Float64()
	if hi < px {
		hi = px // a bar's high is never below its close
	}
	entry, _ := plan.Entry.Float64()
	risk, _ := plan.RiskPerUnit.Float64()

	// The favorable extreme: the high for longs, the close for shorts.
	fav := px
	if dir > 0 {
		fav = hi
	}

	// Track the most favorable price seen.
	best, _ := plan.BestPrice.Float64()
	if dir*(fav-best) > 0 {
		plan.BestPrice = decimal.NewFromFloat(fav)
		best = fav
	}

	// Fill take-profit levels the bar has crossed. A level only touched by
	// the extreme fills at its own price; a close beyond it fills at the
	// close. Either way a long's fill is never below its target.
	for i := range plan.TakeProfits {
		tp := &plan.TakeProfits[i]
		if tp.Executed {
			continue
		}
		tpPrice, _ := tp.Price.Float64()
		if dir*(fav-tpPrice) >= 0 {
			tp.Executed = true
			if dir*(px-tpPrice) >= 0 {
				tp.ExecutionPrice = price
			} else {
				tp.ExecutionPrice = tp.Price
			}
			update.ExecutedTPs = append(update.ExecutedTPs, i)
		}
	}
	update.ReleasedTotal = plan.ReleasedFraction()

	// Arm the trail once profit reaches the activation threshold.
	if !plan.TrailArmed && risk > 0 {
		if dir*(best-entry) >= p.config.TrailActivationR*risk {
			plan.TrailArmed = true
			update.TrailArmed = true
		}
	}

	// Ratchet the trailing stop behind the best price; it never retreats.
	if plan.TrailArmed && risk > 0 {
		candidate := best - dir*p.config.TrailDistanceR*risk
		current, _ := plan.Stop.Float64()
		if dir*(candidate-current) > 0 {
			plan.Stop = decimal.NewFromFloat(candidate)
			update.StopMoved = true
		}
	}
	update.Stop = plan.Stop

	// The adverse extreme: the close for longs, the high for shorts.
	adverse := px
	if dir < 0 {
		adverse = hi
	}
	stop, _ := plan.Stop.Float64()
	if dir*(adverse-stop) <= 0 {
		plan.StopHit = true
	}
	update.StopHit = plan.StopHit

	if plan.StopHit {
		plan.Remaining = decimal.Decimal{}
	} else {
		plan.Remaining = plan.Size.Mul(decimal.NewFromFloat(1 - update.ReleasedTotal))
	}
	update.Remaining = plan.Remaining
	return update
}

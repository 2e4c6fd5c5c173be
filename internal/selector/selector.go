// Package selector ranks registered strategies for the detected regime and
// portfolio state, returning a primary pick plus alternates that pass a
// correlation-based diversification constraint.
package selector

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Profile describes one registered strategy.
type Profile struct {
	ID   string             `json:"id"`
	Type types.StrategyType `json:"type"`
	// CapacityWeight is the largest portfolio weight the strategy can absorb
	// before capacity is exhausted.
	CapacityWeight float64 `json:"capacityWeight"`
}

// Registry holds strategy profiles and their closed-trade history. Safe for
// concurrent use.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	profiles  map[string]Profile
	history   map[string][]types.TradeRecord
	maxTrades int
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:    logger.Named("registry"),
		profiles:  make(map[string]Profile),
		history:   make(map[string][]types.TradeRecord),
		maxTrades: 1000,
	}
}

// Register adds or replaces a strategy profile.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
}

// RecordTrade appends a closed trade to its strategy's history, keeping the
// most recent maxTrades records.
func (r *Registry) RecordTrade(t types.TradeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trades := append(r.history[t.StrategyID], t)
	if len(trades) > r.maxTrades {
		trades = trades[len(trades)-r.maxTrades:]
	}
	r.history[t.StrategyID] = trades
}

// History returns a copy of a strategy's trade records.
func (r *Registry) History(id string) []types.TradeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trades := r.history[id]
	out := make([]types.TradeRecord, len(trades))
	copy(out, trades)
	return out
}

// List returns all registered profiles sorted by ID.
func (r *Registry) List() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Config configures the selector.
type Config struct {
	// Scoring weights; they are normalized before use.
	RegimePerformanceWeight float64 `mapstructure:"regime_performance_weight"`
	ConditionFitnessWeight  float64 `mapstructure:"condition_fitness_weight"`
	DiversificationWeight   float64 `mapstructure:"diversification_weight"`
	RiskWeight              float64 `mapstructure:"risk_weight"`
	CapacityWeight          float64 `mapstructure:"capacity_weight"`

	// MaxCorrelation excludes a candidate whose trade-return correlation
	// with an already-selected strategy exceeds it.
	MaxCorrelation float64 `mapstructure:"max_correlation"`
	// MinRegimeTrades is the history floor below which regime performance
	// scores neutrally.
	MinRegimeTrades int `mapstructure:"min_regime_trades"`
	// MaxAlternates bounds the alternates list.
	MaxAlternates int `mapstructure:"max_alternates"`
	// ReturnVolScale normalizes trade-return volatility into a risk score.
	ReturnVolScale float64 `mapstructure:"return_vol_scale"`
}

// DefaultConfig returns the documented weights.
func DefaultConfig() Config {
	return Config{
		RegimePerformanceWeight: 0.30,
		ConditionFitnessWeight:  0.25,
		DiversificationWeight:   0.20,
		RiskWeight:              0.15,
		CapacityWeight:          0.10,
		MaxCorrelation:          0.7,
		MinRegimeTrades:         10,
		MaxAlternates:           2,
		ReturnVolScale:          0.05,
	}
}

// Scored is one strategy's scoring breakdown.
type Scored struct {
	StrategyID string             `json:"strategyId"`
	Type       types.StrategyType `json:"type"`
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
	// InsufficientHistory marks a neutral regime-performance score taken
	// because the strategy has too few trades in the current regime.
	InsufficientHistory bool `json:"insufficientHistory,omitempty"`
}

// Selection is the selector output: a primary strategy and up to
// MaxAlternates alternates, all passing the diversification constraint.
type Selection struct {
	Primary     *Scored      `json:"primary"`
	Alternates  []Scored     `json:"alternates,omitempty"`
	Excluded    []string     `json:"excluded,omitempty"` // dropped by correlation
	Regime      regime.Label `json:"regime"`
	EvaluatedAt time.Time    `json:"evaluatedAt"`
}

// Input carries the portfolio-side state for scoring.
type Input struct {
	Portfolio *types.Portfolio
	Regime    *regime.Analysis
	// ActiveWeights maps strategy ID to its current portfolio weight, for
	// the capacity check.
	ActiveWeights map[string]float64
}

// Selector scores strategies against regime and portfolio state. Reads are
// against registry snapshots, never live maps.
type Selector struct {
	logger   *zap.Logger
	config   Config
	registry *Registry
}

// NewSelector creates a selector.
func NewSelector(logger *zap.Logger, config Config, registry *Registry) *Selector {
	return &Selector{
		logger:   logger.Named("selector"),
		config:   config,
		registry: registry,
	}
}

// Select ranks all registered strategies and applies the diversification
// constraint greedily from the top of the ranking.
func (s *Selector) Select(in *Input) *Selection {
	result := &Selection{EvaluatedAt: time.Now().UTC(), Regime: regime.Unknown}
	if in.Regime != nil {
		result.Regime = in.Regime.Overall
	}

	profiles := s.registry.List()
	scored := make([]Scored, 0, len(profiles))
	for _, p := range profiles {
		scored = append(scored, s.score(p, in, result.Regime))
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	var selected []string
	for i := range scored {
		if s.tooCorrelated(scored[i].StrategyID, selected) {
			result.Excluded = append(result.Excluded, scored[i].StrategyID)
			continue
		}
		if result.Primary == nil {
			result.Primary = &scored[i]
		} else if len(result.Alternates) < s.config.MaxAlternates {
			result.Alternates = append(result.Alternates, scored[i])
		} else {
			break
		}
		selected = append(selected, scored[i].StrategyID)
	}

	if result.Primary != nil {
		s.logger.Debug("strategy selected",
			zap.String("primary", result.Primary.StrategyID),
			zap.Float64("score", result.Primary.Score),
			zap.String("regime", string(result.Regime)))
	}
	return result
}

// score computes the weighted composite for one strategy.
func (s *Selector) score(p Profile, in *Input, label regime.Label) Scored {
	out := Scored{StrategyID: p.ID, Type: p.Type, Components: make(map[string]float64, 5)}
	history := s.registry.History(p.ID)

	regimePerf, insufficient := s.regimePerformance(history, label)
	out.InsufficientHistory = insufficient
	fitness := s.conditionFitness(p.Type, in.Regime, label)
	diversification := s.diversification(p.ID, in)
	risk := s.riskScore(history)
	capacity := s.capacityScore(p, in)

	out.Components["regime_performance"] = regimePerf
	out.Components["condition_fitness"] = fitness
	out.Components["diversification"] = diversification
	out.Components["risk"] = risk
	out.Components["capacity"] = capacity

	totalWeight := s.config.RegimePerformanceWeight + s.config.ConditionFitnessWeight +
		s.config.DiversificationWeight + s.config.RiskWeight + s.config.CapacityWeight
	if totalWeight <= 0 {
		return out
	}

	out.Score = types.Clamp01((regimePerf*s.config.RegimePerformanceWeight +
		fitness*s.config.ConditionFitnessWeight +
		diversification*s.config.DiversificationWeight +
		risk*s.config.RiskWeight +
		capacity*s.config.CapacityWeight) / totalWeight)
	return out
}

// regimePerformance scores win rate and average return over trades closed in
// the current regime. Too few regime trades is neutral, and flagged.
func (s *Selector) regimePerformance(history []types.TradeRecord, label regime.Label) (float64, bool) {
	var inRegime []types.TradeRecord
	for i := range history {
		if history[i].Regime == string(label) {
			inRegime = append(inRegime, history[i])
		}
	}
	if len(inRegime) < s.config.MinRegimeTrades {
		return 0.4, true
	}

	wins := 0
	var sumReturn float64
	for i := range inRegime {
		if inRegime[i].IsWin {
			wins++
		}
		sumReturn += inRegime[i].ReturnPct
	}
	winRate := float64(wins) / float64(len(inRegime))
	avgReturn := sumReturn / float64(len(inRegime))

	// Win rate anchors the score; average return shifts it up to ±0.3.
	return types.Clamp01(winRate + types.Clamp(avgReturn*10, -0.3, 0.3)), false
}

// conditionFitness is the regime compatibility of the strategy type, pulled
// toward neutral when regime confidence is low.
func (s *Selector) conditionFitness(st types.StrategyType, analysis *regime.Analysis, label regime.Label) float64 {
	compat := regime.Compatibility(st, label)
	confidence := 0.0
	if analysis != nil {
		confidence = types.Clamp01(analysis.Confidence)
	}
	return types.Clamp01(0.5 + (compat-0.5)*confidence)
}

// diversification scores the marginal benefit of adding the strategy next to
// the ones already carrying exposure: one minus the highest absolute
// correlation of trade returns. No active strategies is neutral.
func (s *Selector) diversification(id string, in *Input) float64 {
	if len(in.ActiveWeights) == 0 {
		return 0.5
	}
	candidate := tradeReturns(s.registry.History(id))
	maxCorr := 0.0
	for otherID := range in.ActiveWeights {
		if otherID == id {
			continue
		}
		corr := stats.Correlation(candidate, tradeReturns(s.registry.History(otherID)))
		if corr < 0 {
			corr = -corr
		}
		if corr > maxCorr {
			maxCorr = corr
		}
	}
	return types.Clamp01(1 - maxCorr)
}

// riskScore rewards low trade-return volatility. Thin history is neutral.
func (s *Selector) riskScore(history []types.TradeRecord) float64 {
	returns := tradeReturns(history)
	if len(returns) < s.config.MinRegimeTrades {
		return 0.5
	}
	vol := stats.StdDev(returns)
	if s.config.ReturnVolScale <= 0 {
		return 0.5
	}
	return types.Clamp01(1 - vol/s.config.ReturnVolScale)
}

// capacityScore is the strategy's remaining weight headroom.
func (s *Selector) capacityScore(p Profile, in *Input) float64 {
	if p.CapacityWeight <= 0 {
		return 0.5
	}
	used := in.ActiveWeights[p.ID]
	return types.Clamp01(1 - used/p.CapacityWeight)
}

// tooCorrelated applies the diversification constraint against the
// strategies already picked in this selection pass.
func (s *Selector) tooCorrelated(id string, selected []string) bool {
	if len(selected) == 0 {
		return false
	}
	candidate := tradeReturns(s.registry.History(id))
	for _, otherID := range selected {
		corr := stats.Correlation(candidate, tradeReturns(s.registry.History(otherID)))
		if corr < 0 {
			corr = -corr
		}
		if corr > s.config.MaxCorrelation {
			return true
		}
	}
	return false
}

// tradeReturns extracts the signed return sequence from trade history.
func tradeReturns(history []types.TradeRecord) []float64 {
	out := make([]float64, len(history))
	for i := range history {
		out[i] = history[i].ReturnPct
	}
	return out
}

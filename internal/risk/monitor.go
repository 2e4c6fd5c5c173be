package risk

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/stats"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Severity classifies how far past its limit a check landed.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Monitor rule names.
const (
	RulePortfolioVaR          = "portfolio_var"
	RulePositionConcentration = "position_concentration"
	RuleSectorConcentration   = "sector_concentration"
	RuleCorrelationCluster    = "correlation_cluster"
)

// Violation is a breached portfolio limit. Violations are data, not errors:
// the bookkeeping collaborator applies policy (halt, shrink, warn).
type Violation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Value    float64  `json:"value"`
	Limit    float64  `json:"limit"`
}

// Warning is an advisory finding that does not breach a hard limit.
type Warning struct {
	Rule    string  `json:"rule"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
}

// VaRMethod selects the estimator for portfolio Value at Risk.
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
	// VaRInsufficientData tags results where history was too short for the
	// configured estimator and a conservative neutral was used instead.
	VaRInsufficientData VaRMethod = "insufficient_data"
)

// MonitoringResult is the outcome of one monitor pass. All violations
// surface; first-violation-wins is deliberately not implemented.
type MonitoringResult struct {
	Violations   []Violation `json:"violations"`
	Warnings     []Warning   `json:"warnings"`
	VaR          float64     `json:"var"` // daily, at the configured confidence
	VaRMethod    VaRMethod   `json:"varMethod"`
	OverallScore float64     `json:"overallScore"`
	Level        Level       `json:"level"`
	CheckedAt    time.Time   `json:"checkedAt"`
}

// Violated reports whether a specific rule was breached.
func (r *MonitoringResult) Violated(rule string) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// MonitorConfig configures the portfolio risk monitor.
type MonitorConfig struct {
	MaxVaR            float64   `mapstructure:"max_var"`             // daily VaR ceiling, default 5%
	VaRConfidence     float64   `mapstructure:"var_confidence"`      // default 0.95
	VaRMethod         VaRMethod `mapstructure:"var_method"`          // historical (default) or parametric
	VaRWindow         int       `mapstructure:"var_window"`          // daily returns in the estimate
	MaxSinglePosition float64   `mapstructure:"max_single_position"` // weight ceiling, default 10%
	MaxSectorExposure float64   `mapstructure:"max_sector_exposure"` // aggregate ceiling, default 30%
	// ClusterCorrelation links positions into a cluster; a cluster above
	// MaxClusterWeight combined weight raises a warning.
	ClusterCorrelation float64 `mapstructure:"cluster_correlation"`
	MaxClusterWeight   float64 `mapstructure:"max_cluster_weight"`
}

// DefaultMonitorConfig returns the documented defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MaxVaR:             0.05,
		VaRConfidence:      0.95,
		VaRMethod:          VaRHistorical,
		VaRWindow:          180,
		MaxSinglePosition:  0.10,
		MaxSectorExposure:  0.30,
		ClusterCorrelation: 0.7,
		MaxClusterWeight:   0.50,
	}
}

// Validate rejects malformed limits.
func (c MonitorConfig) Validate() error {
	if c.VaRConfidence <= 0 || c.VaRConfidence >= 1 {
		return fmt.Errorf("risk: var confidence must be in (0, 1), got %v", c.VaRConfidence)
	}
	if c.VaRMethod != VaRHistorical && c.VaRMethod != VaRParametric {
		return fmt.Errorf("risk: unknown var method %q", c.VaRMethod)
	}
	return nil
}

// Monitor evaluates the live portfolio on its own cadence, independent of
// any single signal. Pure function of the portfolio snapshot.
type Monitor struct {
	logger *zap.Logger
	config MonitorConfig
	series types.SeriesProvider
}

// NewMonitor creates a monitor.
func NewMonitor(logger *zap.Logger, config MonitorConfig, series types.SeriesProvider) *Monitor {
	return &Monitor{
		logger: logger.Named("monitor"),
		config: config,
		series: series,
	}
}

// Check runs every limit check independently and surfaces all findings.
// An empty portfolio yields zero violations.
func (m *Monitor) Check(portfolio *types.Portfolio) *MonitoringResult {
	result := &MonitoringResult{CheckedAt: time.Now(), VaRMethod: m.config.VaRMethod}

	if portfolio == nil || len(portfolio.Positions) == 0 {
		result.Level = LevelLow
		return result
	}

	scores := []float64{
		m.checkVaR(portfolio, result),
		m.checkPositionConcentration(portfolio, result),
		m.checkSectorConcentration(portfolio, result),
		m.checkCorrelationClusters(portfolio, result),
	}

	result.OverallScore = types.Clamp01(stats.Mean(scores))
	switch {
	case result.OverallScore < 0.3:
		result.Level = LevelLow
	case result.OverallScore < 0.6:
		result.Level = LevelMedium
	case result.OverallScore < 0.8:
		result.Level = LevelHigh
	default:
		result.Level = LevelVeryHigh
	}

	if len(result.Violations) > 0 {
		m.logger.Warn("portfolio risk violations",
			zap.Int("violations", len(result.Violations)),
			zap.Float64("var", result.VaR),
			zap.String("level", string(result.Level)))
	}
	return result
}

// checkVaR estimates daily portfolio VaR and compares it to the ceiling.
// With too little history it keeps a conservative neutral score and tags
// the result instead of raising.
func (m *Monitor) checkVaR(portfolio *types.Portfolio, result *MonitoringResult) float64 {
	returns := m.portfolioReturns(portfolio)
	if len(returns) < 30 {
		result.VaRMethod = VaRInsufficientData
		return 0.4
	}

	var estimate float64
	switch m.config.VaRMethod {
	case VaRParametric:
		estimate = stats.StdDev(returns) * zScore(m.config.VaRConfidence)
	default:
		q := stats.Quantile(returns, 1-m.config.VaRConfidence)
		estimate = math.Max(0, -q)
	}
	result.VaR = estimate

	if estimate > m.config.MaxVaR {
		result.Violations = append(result.Violations, Violation{
			Rule:     RulePortfolioVaR,
			Severity: severityFor(estimate, m.config.MaxVaR),
			Message: fmt.Sprintf("daily VaR %.2f%% exceeds ceiling %.2f%%",
				estimate*100, m.config.MaxVaR*100),
			Value: estimate,
			Limit: m.config.MaxVaR,
		})
	}
	return limitScore(estimate, m.config.MaxVaR)
}

// checkPositionConcentration flags every position whose weight exceeds the
// single-position ceiling.
func (m *Monitor) checkPositionConcentration(portfolio *types.Portfolio, result *MonitoringResult) float64 {
	worst := 0.0
	for i := range portfolio.Positions {
		pos := &portfolio.Positions[i]
		w := math.Abs(pos.Weight)
		if w > worst {
			worst = w
		}
		if w > m.config.MaxSinglePosition {
			result.Violations = append(result.Violations, Violation{
				Rule:     RulePositionConcentration,
				Severity: severityFor(w, m.config.MaxSinglePosition),
				Message: fmt.Sprintf("%s weight %.1f%% exceeds single-position limit %.1f%%",
					pos.Symbol, w*100, m.config.MaxSinglePosition*100),
				Value: w,
				Limit: m.config.MaxSinglePosition,
			})
		}
	}
	return limitScore(worst, m.config.MaxSinglePosition)
}

// checkSectorConcentration flags sectors whose aggregate weight exceeds the
// sector ceiling.
func (m *Monitor) checkSectorConcentration(portfolio *types.Portfolio, result *MonitoringResult) float64 {
	sectors := make(map[string]float64)
	for i := range portfolio.Positions {
		pos := &portfolio.Positions[i]
		sector := pos.Sector
		if sector == "" {
			sector = "unclassified"
		}
		sectors[sector] += math.Abs(pos.Weight)
	}

	worst := 0.0
	for sector, weight := range sectors {
		if weight > worst {
			worst = weight
		}
		if weight > m.config.MaxSectorExposure {
			result.Violations = append(result.Violations, Violation{
				Rule:     RuleSectorConcentration,
				Severity: severityFor(weight, m.config.MaxSectorExposure),
				Message: fmt.Sprintf("sector %s exposure %.1f%% exceeds limit %.1f%%",
					sector, weight*100, m.config.MaxSectorExposure*100),
				Value: weight,
				Limit: m.config.MaxSectorExposure,
			})
		}
	}
	return limitScore(worst, m.config.MaxSectorExposure)
}

// checkCorrelationClusters groups highly-correlated positions and warns when
// a cluster's combined weight passes the ceiling. A warning, not a hard
// violation.
func (m *Monitor) checkCorrelationClusters(portfolio *types.Portfolio, result *MonitoringResult) float64 {
	n := len(portfolio.Positions)
	if n < 2 || m.series == nil {
		return 0.1
	}

	returns := make([][]float64, n)
	for i := range portfolio.Positions {
		returns[i] = m.series.Returns(portfolio.Positions[i].Symbol, types.Timeframe1d, m.config.VaRWindow)
	}

	// Union-find over pairs above the correlation threshold.
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(stats.Correlation(returns[i], returns[j])) > m.config.ClusterCorrelation {
				parent[find(i)] = find(j)
			}
		}
	}

	clusterWeight := make(map[int]float64)
	clusterSymbols := make(map[int][]string)
	for i := range portfolio.Positions {
		root := find(i)
		clusterWeight[root] += math.Abs(portfolio.Positions[i].Weight)
		clusterSymbols[root] = append(clusterSymbols[root], portfolio.Positions[i].Symbol)
	}

	worst := 0.0
	for root, weight := range clusterWeight {
		if len(clusterSymbols[root]) < 2 {
			continue
		}
		if weight > worst {
			worst = weight
		}
		if weight > m.config.MaxClusterWeight {
			result.Warnings = append(result.Warnings, Warning{
				Rule: RuleCorrelationCluster,
				Message: fmt.Sprintf("correlated cluster %v holds %.1f%% combined weight (limit %.1f%%)",
					clusterSymbols[root], weight*100, m.config.MaxClusterWeight*100),
				Value: weight,
				Limit: m.config.MaxClusterWeight,
			})
		}
	}
	return limitScore(worst, m.config.MaxClusterWeight)
}

// portfolioReturns builds the weighted daily return series of the current
// holdings for VaR estimation.
func (m *Monitor) portfolioReturns(portfolio *types.Portfolio) []float64 {
	if m.series == nil {
		return nil
	}

	var combined []float64
	for i := range portfolio.Positions {
		pos := &portfolio.Positions[i]
		returns := m.series.Returns(pos.Symbol, types.Timeframe1d, m.config.VaRWindow)
		if len(returns) == 0 {
			continue
		}
		if combined == nil {
			combined = make([]float64, len(returns))
		}
		// Align on the shortest tail.
		if len(returns) < len(combined) {
			combined = combined[len(combined)-len(returns):]
		}
		offset := len(returns) - len(combined)
		for j := range combined {
			combined[j] += pos.Weight * returns[offset+j]
		}
	}
	return combined
}

// limitScore maps value-vs-limit into a risk score: climbing toward the
// limit approaches 0.6, exceedance pushes toward 0.95.
func limitScore(value, limit float64) float64 {
	if limit <= 0 {
		return 0.4
	}
	ratio := value / limit
	if ratio <= 1 {
		return types.Clamp01(0.6 * ratio)
	}
	return types.Clamp(0.6+0.35*(ratio-1), 0.6, 0.95)
}

// severityFor classifies exceedance by how far past the limit value landed.
func severityFor(value, limit float64) Severity {
	if limit <= 0 {
		return SeverityLow
	}
	ratio := value / limit
	switch {
	case ratio >= 2.0:
		return SeverityHigh
	case ratio >= 1.3:
		return SeverityMedium
	}
	return SeverityLow
}

// zScore returns the one-sided z-score for common confidence levels.
func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.326
	case confidence >= 0.95:
		return 1.645
	case confidence >= 0.90:
		return 1.282
	}
	return 1.0
}

// Package engine wires the evaluation pipeline: validation, timeframe
// confirmation, regime detection, risk assessment, sizing and exit planning,
// producing one trade decision per candidate signal.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/confirm"
	"github.com/atlas-desktop/decision-engine/internal/exits"
	"github.com/atlas-desktop/decision-engine/internal/metrics"
	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/risk"
	"github.com/atlas-desktop/decision-engine/internal/selector"
	"github.com/atlas-desktop/decision-engine/internal/sizing"
	"github.com/atlas-desktop/decision-engine/internal/validation"
	"github.com/atlas-desktop/decision-engine/internal/workers"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

// Rejection stages reported on declined decisions.
const (
	StageValidation   = "validation"
	StageConfirmation = "confirmation"
	StageSizing       = "sizing"
	StageMonitor      = "monitor"
)

// Config configures pipeline behavior that does not belong to a single
// component.
type Config struct {
	// SizingMethod selects the position-sizing model.
	SizingMethod sizing.Method `mapstructure:"sizing_method"`
	// MediumViolationScale shrinks an approved size when the portfolio
	// monitor reports medium-severity violations.
	MediumViolationScale float64 `mapstructure:"medium_violation_scale"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		SizingMethod:         sizing.MethodFixedRisk,
		MediumViolationScale: 0.5,
	}
}

// Decision is the pipeline verdict for one signal. Value object: it holds
// no references back into engine state.
type Decision struct {
	ID       uuid.UUID `json:"id"`
	Symbol   string    `json:"symbol"`
	Approved bool      `json:"approved"`
	Stage    string    `json:"stage,omitempty"` // rejection stage
	Reason   string    `json:"reason,omitempty"`

	Validation   *validation.Result   `json:"validation"`
	Confirmation *confirm.Result      `json:"confirmation,omitempty"`
	Regime       *regime.Analysis     `json:"regime,omitempty"`
	Assessment   *risk.Assessment     `json:"assessment,omitempty"`
	Size         *sizing.PositionSize `json:"size,omitempty"`
	ExitPlan     *exits.Plan          `json:"exitPlan,omitempty"`

	EvaluatedAt time.Time     `json:"evaluatedAt"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Request is one unit of evaluation work.
type Request struct {
	Signal    *types.TradingSignal
	Context   *types.MarketContext
	Portfolio *types.Portfolio
	// CurrentAggregateRisk is the risk fraction already committed across
	// open positions.
	CurrentAggregateRisk float64
}

// Engine runs the decision pipeline. Stateless per evaluation; safe for
// concurrent use across symbols.
type Engine struct {
	logger  *zap.Logger
	config  Config
	metrics *metrics.Metrics

	validator  *validation.Validator
	confirmer  *confirm.Confirmer
	detector   *regime.Detector
	assessor   *risk.Assessor
	calculator *sizing.Calculator
	planner    *exits.Planner
	registry   *selector.Registry
	pool       *workers.Pool
}

// Components bundles the constructed collaborators.
type Components struct {
	Validator  *validation.Validator
	Confirmer  *confirm.Confirmer
	Detector   *regime.Detector
	Assessor   *risk.Assessor
	Calculator *sizing.Calculator
	Planner    *exits.Planner
	Registry   *selector.Registry
	Pool       *workers.Pool
	Metrics    *metrics.Metrics
}

// New assembles an engine from its components. Pool and Metrics may be nil;
// evaluation then runs serially and unobserved.
func New(logger *zap.Logger, config Config, c Components) *Engine {
	return &Engine{
		logger:     logger.Named("engine"),
		config:     config,
		metrics:    c.Metrics,
		validator:  c.Validator,
		confirmer:  c.Confirmer,
		detector:   c.Detector,
		assessor:   c.Assessor,
		calculator: c.Calculator,
		planner:    c.Planner,
		registry:   c.Registry,
		pool:       c.Pool,
	}
}

// Evaluate runs the full pipeline for one signal. A hard validation failure
// rejects before any sizing work happens.
func (e *Engine) Evaluate(req *Request) *Decision {
	start := time.Now()
	e.metrics.IncEvaluation()

	decision := &Decision{
		ID:          uuid.New(),
		Symbol:      req.Signal.Symbol,
		EvaluatedAt: start.UTC(),
	}
	defer func() {
		decision.Elapsed = time.Since(start)
		e.metrics.ObserveEvaluation(decision.Elapsed.Seconds())
	}()

	decision.Validation = e.validator.Validate(req.Signal, req.Context, req.Portfolio)
	if !decision.Validation.Passed {
		return e.reject(decision, StageValidation, rejectionReason(decision.Validation))
	}

	decision.Confirmation = e.confirmer.Confirm(req.Context, req.Signal.Direction)
	if !decision.Confirmation.Confirmed {
		return e.reject(decision, StageConfirmation, "timeframe agreement below threshold")
	}

	decision.Regime = e.detector.Detect(req.Context)

	// Preliminary fixed-risk notional feeds the concentration factor.
	preliminary, err := e.calculator.Size(&sizing.Request{
		Signal:    req.Signal,
		Context:   req.Context,
		Portfolio: req.Portfolio,
		Method:    sizing.MethodFixedRisk,
	})
	if err != nil {
		return e.reject(decision, StageSizing, err.Error())
	}

	decision.Assessment = e.assessor.Assess(risk.Input{
		Signal:        req.Signal,
		Context:       req.Context,
		Portfolio:     req.Portfolio,
		Regime:        decision.Regime,
		ProposedValue: preliminary.Value,
	})

	decision.Size, err = e.calculator.Size(&sizing.Request{
		Signal:               req.Signal,
		Context:              req.Context,
		Portfolio:            req.Portfolio,
		Method:               e.config.SizingMethod,
		History:              e.strategyHistory(req.Signal.StrategyID),
		SizeMultiplier:       decision.Assessment.SizeMultiplier,
		CurrentAggregateRisk: req.CurrentAggregateRisk,
	})
	if err != nil {
		return e.reject(decision, StageSizing, err.Error())
	}
	if decision.Size.Fallback {
		e.metrics.IncSizingFallback()
	}
	if decision.Size.Quantity.IsZero() {
		return e.reject(decision, StageSizing, "size constraints left no tradable quantity")
	}

	decision.ExitPlan = e.planner.Build(req.Signal, req.Context, decision.Size.Quantity)
	decision.Approved = true
	e.metrics.IncApproved()

	e.logger.Debug("signal approved",
		zap.String("symbol", req.Signal.Symbol),
		zap.String("decision_id", decision.ID.String()),
		zap.String("size", decision.Size.Quantity.String()),
		zap.String("regime", string(decision.Regime.Overall)))
	return decision
}

// EvaluateBatch evaluates independent signals in parallel on the worker
// pool, preserving request order in the result slice. Without a running
// pool the batch degrades to serial evaluation.
func (e *Engine) EvaluateBatch(reqs []*Request) []*Decision {
	decisions := make([]*Decision, len(reqs))

	if e.pool == nil || !e.pool.IsRunning() {
		for i, req := range reqs {
			decisions[i] = e.Evaluate(req)
		}
		return decisions
	}

	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		if err := e.pool.SubmitFunc(func() error {
			defer wg.Done()
			decisions[i] = e.Evaluate(req)
			return nil
		}); err != nil {
			// Queue full: evaluate inline rather than dropping the signal.
			decisions[i] = e.Evaluate(req)
			wg.Done()
		}
	}
	wg.Wait()
	return decisions
}

// ApplyMonitor folds a portfolio monitoring result into an approved
// decision: high-severity violations veto it, medium-severity violations
// shrink the size. Rejected decisions pass through untouched.
func (e *Engine) ApplyMonitor(decision *Decision, result *risk.MonitoringResult) {
	if decision == nil || result == nil || !decision.Approved {
		return
	}
	for i := range result.Violations {
		e.metrics.IncViolation(string(result.Violations[i].Severity))
	}

	var mediums int
	for i := range result.Violations {
		switch result.Violations[i].Severity {
		case risk.SeverityHigh:
			decision.Approved = false
			decision.Stage = StageMonitor
			decision.Reason = result.Violations[i].Message
			e.metrics.IncRejection(StageMonitor)
			return
		case risk.SeverityMedium:
			mediums++
		}
	}

	if mediums > 0 && decision.Size != nil && e.config.MediumViolationScale > 0 &&
		e.config.MediumViolationScale < 1 {
		decision.Size.Adjustments = append(decision.Size.Adjustments, "monitor_violation_scale")
		decision.Size.Scale(e.config.MediumViolationScale)
		e.logger.Debug("size reduced by monitor violations",
			zap.String("decision_id", decision.ID.String()),
			zap.Int("medium_violations", mediums))
	}
}

func (e *Engine) reject(decision *Decision, stage, reason string) *Decision {
	decision.Approved = false
	decision.Stage = stage
	decision.Reason = reason
	e.metrics.IncRejection(stage)
	e.logger.Debug("signal rejected",
		zap.String("symbol", decision.Symbol),
		zap.String("stage", stage),
		zap.String("reason", reason))
	return decision
}

// strategyHistory pulls the originating strategy's closed trades for Kelly
// statistics. No registry means no history.
func (e *Engine) strategyHistory(strategyID string) []types.TradeRecord {
	if e.registry == nil {
		return nil
	}
	return e.registry.History(strategyID)
}

// rejectionReason summarizes the first violation for the decision record.
func rejectionReason(result *validation.Result) string {
	if len(result.Violations) > 0 {
		return result.Violations[0].Message
	}
	return "validation score below threshold"
}

package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/decision-engine/internal/confirm"
	"github.com/atlas-desktop/decision-engine/internal/engine"
	"github.com/atlas-desktop/decision-engine/internal/exits"
	"github.com/atlas-desktop/decision-engine/internal/regime"
	"github.com/atlas-desktop/decision-engine/internal/risk"
	"github.com/atlas-desktop/decision-engine/internal/selector"
	"github.com/atlas-desktop/decision-engine/internal/sizing"
	"github.com/atlas-desktop/decision-engine/internal/validation"
	"github.com/atlas-desktop/decision-engine/internal/workers"
	"github.com/atlas-desktop/decision-engine/pkg/types"
)

func newEngine(t *testing.T, pool *workers.Pool) *engine.Engine {
	t.Helper()
	logger := zap.NewNop()

	calculator, err := sizing.NewCalculator(logger, sizing.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	planner, err := exits.NewPlanner(logger, exits.DefaultConfig())
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}

	return engine.New(logger, engine.DefaultConfig(), engine.Components{
		Validator:  validation.NewValidator(logger, validation.DefaultConfig(), nil),
		Confirmer:  confirm.NewConfirmer(logger, confirm.DefaultConfig()),
		Detector:   regime.NewDetector(logger, regime.DefaultConfig()),
		Assessor:   risk.NewAssessor(logger, risk.DefaultAssessorConfig(), nil),
		Calculator: calculator,
		Planner:    planner,
		Registry:   selector.NewRegistry(logger),
		Pool:       pool,
	})
}

func candles(closes []float64, step time.Duration) []types.OHLCV {
	ts := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.OHLCV, len(closes))
	for i, c := range closes {
		out[i] = types.OHLCV{
			Timestamp: ts.Add(time.Duration(i) * step),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromInt(2000),
		}
	}
	return out
}

// trendingCloses rises steadily with volatility inside the tradable band.
func trendingCloses(n int, start, drift float64) []float64 {
	out := make([]float64, n)
	price := start
	for i := 0; i < n; i++ {
		out[i] = price
		if i%2 == 0 {
			price += 2 * drift
		} else {
			price += 0.5 * drift
		}
	}
	return out
}

func trendingContext(direction types.Direction) *types.MarketContext {
	drift := float64(direction)
	return &types.MarketContext{
		Symbol:    "BTC-USD",
		AssetType: types.AssetCrypto,
		History: map[types.Timeframe][]types.OHLCV{
			types.Timeframe1h: candles(trendingCloses(60, 300, drift), time.Hour),
			types.Timeframe4h: candles(trendingCloses(60, 300, drift), 4*time.Hour),
			types.Timeframe1d: candles(trendingCloses(60, 300, drift), 24*time.Hour),
		},
	}
}

func longRequest(strength float64) *engine.Request {
	return &engine.Request{
		Signal: &types.TradingSignal{
			Symbol:       "BTC-USD",
			Direction:    types.DirectionLong,
			Strength:     strength,
			StrategyID:   "trend-1",
			StrategyType: types.StrategyTrendFollowing,
			EntryPrice:   decimal.NewFromInt(370),
			StopLoss:     decimal.NewFromFloat(362.6),
			GeneratedAt:  time.Date(2025, 4, 4, 12, 0, 0, 0, time.UTC),
		},
		Context:   trendingContext(types.DirectionLong),
		Portfolio: &types.Portfolio{TotalValue: decimal.NewFromInt(100000)},
	}
}

func TestEvaluateApprovesCleanSignal(t *testing.T) {
	e := newEngine(t, nil)
	decision := e.Evaluate(longRequest(0.8))

	if !decision.Approved {
		t.Fatalf("expected approval, stage=%s reason=%s", decision.Stage, decision.Reason)
	}
	if decision.Stage != "" {
		t.Errorf("Stage = %q, want empty on approval", decision.Stage)
	}
	if decision.Size == nil || decision.Size.Quantity.IsZero() {
		t.Fatal("approved decision must carry a nonzero size")
	}
	if decision.ExitPlan == nil {
		t.Fatal("approved decision must carry an exit plan")
	}
	if decision.Regime == nil {
		t.Error("regime analysis missing from the decision record")
	}
	if decision.Assessment == nil || decision.Assessment.SizeMultiplier <= 0 {
		t.Error("risk assessment missing or multiplier not positive")
	}
	if decision.Elapsed <= 0 {
		t.Error("Elapsed must be recorded")
	}
}

func TestEvaluateHardValidationShortCircuits(t *testing.T) {
	e := newEngine(t, nil)
	decision := e.Evaluate(longRequest(0.3))

	if decision.Approved {
		t.Fatal("weak signal must be rejected")
	}
	if decision.Stage != engine.StageValidation {
		t.Errorf("Stage = %s, want validation", decision.Stage)
	}
	if decision.Reason == "" {
		t.Error("rejection must carry a reason")
	}
	// Nothing downstream of validation may run.
	if decision.Confirmation != nil {
		t.Error("confirmation ran despite a hard validation failure")
	}
	if decision.Size != nil || decision.ExitPlan != nil {
		t.Error("sizing ran despite a hard validation failure")
	}
}

func TestEvaluateRejectsUnconfirmedDirection(t *testing.T) {
	e := newEngine(t, nil)
	req := longRequest(0.8)
	// A long signal against falling tape on every timeframe.
	req.Context = trendingContext(types.DirectionShort)

	decision := e.Evaluate(req)
	if decision.Approved {
		t.Fatal("long against a downtrend must be rejected")
	}
	if decision.Stage != engine.StageConfirmation {
		t.Errorf("Stage = %s, want confirmation", decision.Stage)
	}
	if decision.Confirmation == nil || decision.Confirmation.Confirmed {
		t.Error("confirmation result must be recorded as not confirmed")
	}
}

func TestEvaluateBatchSerial(t *testing.T) {
	e := newEngine(t, nil)
	reqs := []*engine.Request{longRequest(0.8), longRequest(0.3), longRequest(0.9)}

	decisions := e.EvaluateBatch(reqs)
	if len(decisions) != 3 {
		t.Fatalf("decisions = %d, want 3", len(decisions))
	}
	if !decisions[0].Approved || decisions[1].Approved || !decisions[2].Approved {
		t.Errorf("approvals = [%v %v %v], want [true false true]",
			decisions[0].Approved, decisions[1].Approved, decisions[2].Approved)
	}
}

func TestEvaluateBatchPooled(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), &workers.PoolConfig{
		Name:            "eval",
		NumWorkers:      2,
		QueueSize:       16,
		TaskTimeout:     time.Second,
		ShutdownTimeout: time.Second,
	})
	pool.Start()
	defer pool.Stop()

	e := newEngine(t, pool)
	reqs := make([]*engine.Request, 6)
	for i := range reqs {
		reqs[i] = longRequest(0.8)
	}
	reqs[3].Signal.Strength = 0.3

	decisions := e.EvaluateBatch(reqs)
	for i, d := range decisions {
		if d == nil {
			t.Fatalf("decision %d missing: order must be preserved", i)
		}
		if d.Symbol != reqs[i].Signal.Symbol {
			t.Errorf("decision %d symbol = %s, want %s", i, d.Symbol, reqs[i].Signal.Symbol)
		}
	}
	if decisions[3].Approved {
		t.Error("the weak request must be rejected regardless of scheduling")
	}
}

func TestApplyMonitorHighSeverityVetoes(t *testing.T) {
	e := newEngine(t, nil)
	decision := e.Evaluate(longRequest(0.8))
	if !decision.Approved {
		t.Fatalf("precondition: approval, got stage=%s", decision.Stage)
	}

	e.ApplyMonitor(decision, &risk.MonitoringResult{
		Violations: []risk.Violation{
			{Rule: risk.RulePortfolioVaR, Severity: risk.SeverityHigh, Message: "var above ceiling"},
		},
	})

	if decision.Approved {
		t.Fatal("a high-severity violation must veto the decision")
	}
	if decision.Stage != engine.StageMonitor {
		t.Errorf("Stage = %s, want monitor", decision.Stage)
	}
	if decision.Reason != "var above ceiling" {
		t.Errorf("Reason = %q, want the violation message", decision.Reason)
	}
}

func TestApplyMonitorMediumSeverityScalesSize(t *testing.T) {
	e := newEngine(t, nil)
	decision := e.Evaluate(longRequest(0.8))
	if !decision.Approved {
		t.Fatalf("precondition: approval, got stage=%s", decision.Stage)
	}
	before, _ := decision.Size.Quantity.Float64()

	e.ApplyMonitor(decision, &risk.MonitoringResult{
		Violations: []risk.Violation{
			{Rule: risk.RuleSectorConcentration, Severity: risk.SeverityMedium, Message: "sector heavy"},
		},
	})

	if !decision.Approved {
		t.Fatal("medium-severity violations shrink, they do not veto")
	}
	after, _ := decision.Size.Quantity.Float64()
	if after >= before {
		t.Errorf("quantity %v not reduced from %v", after, before)
	}
	found := false
	for _, a := range decision.Size.Adjustments {
		if a == "monitor_violation_scale" {
			found = true
		}
	}
	if !found {
		t.Error("the scale-down must be recorded as an adjustment")
	}
}

func TestApplyMonitorSkipsRejected(t *testing.T) {
	e := newEngine(t, nil)
	decision := e.Evaluate(longRequest(0.3))

	e.ApplyMonitor(decision, &risk.MonitoringResult{
		Violations: []risk.Violation{
			{Rule: risk.RulePortfolioVaR, Severity: risk.SeverityHigh, Message: "var above ceiling"},
		},
	})

	if decision.Stage != engine.StageValidation {
		t.Errorf("Stage = %s, a rejected decision must pass through untouched", decision.Stage)
	}
}

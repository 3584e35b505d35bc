package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"publish-engine/internal/domain"
	"publish-engine/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Check names, in evaluation order.
const (
	CheckEarlyWarning       = "early_warning"
	CheckPerformanceReality = "performance_reality"
	CheckScalingMode        = "scaling_mode"
	CheckClientPolicy       = "client_policy"
	CheckFatigue            = "fatigue"
	CheckCompliance         = "compliance"
	CheckTruthLayer         = "truth_layer"
)

const (
	minConfidenceScore = 30
	maxCapacityPercent = 95
	mediumRiskFloor    = 50
	mediumRiskCeiling  = 70
)

// bannedPhrases fails the compliance check on a case-insensitive substring match.
var bannedPhrases = []string{
	"guaranteed results",
	"100% success",
	"get rich quick",
	"free money",
	"click here now",
	"act now",
	"limited time only",
}

// superlativePatterns only annotate the result; they never block admission.
var superlativePatterns = []string{
	"best in class",
	"#1 rated",
	"industry leading",
	"world's first",
}

// Engine evaluates the full admission rule set against a job. Evaluation is
// pure given the job and signals: all checks always run (no short-circuit) so
// callers see the complete diagnostic picture, and nothing is fetched or
// persisted here.
type Engine struct {
	registry *domain.CapabilityRegistry
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine creates a preflight engine backed by the capability registry.
func NewEngine(registry *domain.CapabilityRegistry, logger *slog.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.With("component", "preflight-engine"),
		tracer:   otel.Tracer("publish-engine-preflight"),
		now:      time.Now,
	}
}

// Evaluate runs every admission check against the job and aggregates the
// outcome. OverallPassed is true iff checks 1-6 all pass; the truth-layer
// check never blocks, it only appends warnings.
func (e *Engine) Evaluate(ctx context.Context, job *domain.Job, signals domain.Signals) *domain.PreflightResult {
	_, span := e.tracer.Start(ctx, "preflight.Evaluate",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.channel", string(job.Channel)),
		))
	defer span.End()

	result := &domain.PreflightResult{
		ID:              uuid.NewString(),
		JobID:           job.ID,
		ConfidenceScore: signals.ConfidenceScore,
		ComputedAt:      e.now(),
	}

	checks := []domain.CheckResult{
		e.checkEarlyWarning(signals),
		e.checkPerformanceReality(signals),
		e.checkScalingMode(signals),
		e.checkClientPolicy(job, signals),
		e.checkFatigue(job, signals),
		e.checkCompliance(job),
	}

	truth, warnings := e.checkTruthLayer(job)
	checks = append(checks, truth)

	result.Checks = checks
	result.Warnings = warnings

	result.OverallPassed = true
	for _, c := range checks[:6] {
		if !c.Passed {
			result.OverallPassed = false
			metrics.PreflightCheckFailuresTotal.WithLabelValues(c.Name).Inc()
		}
	}

	result.RiskLevel = riskLevel(result.OverallPassed, signals.ConfidenceScore)

	outcome := "passed"
	if !result.OverallPassed {
		outcome = "failed"
	}
	metrics.PreflightEvaluationsTotal.WithLabelValues(outcome, string(result.RiskLevel)).Inc()
	span.SetAttributes(
		attribute.Bool("preflight.passed", result.OverallPassed),
		attribute.String("preflight.risk", string(result.RiskLevel)),
	)

	e.logger.Info("preflight evaluated",
		"job_id", job.ID,
		"passed", result.OverallPassed,
		"risk", result.RiskLevel,
		"confidence", signals.ConfidenceScore,
	)
	return result
}

func riskLevel(passed bool, confidence int) domain.RiskLevel {
	switch {
	case !passed || confidence < mediumRiskFloor:
		return domain.RiskHigh
	case confidence <= mediumRiskCeiling:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func (e *Engine) checkEarlyWarning(signals domain.Signals) domain.CheckResult {
	if signals.HasCriticalWarning() {
		return domain.CheckResult{
			Name:   CheckEarlyWarning,
			Reason: "active critical warning flagged for client/workspace",
		}
	}
	return domain.CheckResult{Name: CheckEarlyWarning, Passed: true, Reason: "no critical warnings active"}
}

func (e *Engine) checkPerformanceReality(signals domain.Signals) domain.CheckResult {
	if signals.ConfidenceScore < minConfidenceScore {
		return domain.CheckResult{
			Name:   CheckPerformanceReality,
			Reason: fmt.Sprintf("confidence score %d below minimum %d", signals.ConfidenceScore, minConfidenceScore),
		}
	}
	return domain.CheckResult{
		Name:   CheckPerformanceReality,
		Passed: true,
		Reason: fmt.Sprintf("confidence score %d acceptable", signals.ConfidenceScore),
	}
}

func (e *Engine) checkScalingMode(signals domain.Signals) domain.CheckResult {
	if signals.ScalingFrozen {
		return domain.CheckResult{Name: CheckScalingMode, Reason: "scaling is frozen"}
	}
	if signals.CapacityUtilization >= maxCapacityPercent {
		return domain.CheckResult{
			Name:   CheckScalingMode,
			Reason: fmt.Sprintf("capacity utilization %d%% at or above %d%%", signals.CapacityUtilization, maxCapacityPercent),
		}
	}
	return domain.CheckResult{Name: CheckScalingMode, Passed: true, Reason: "capacity headroom available"}
}

func (e *Engine) checkClientPolicy(job *domain.Job, signals domain.Signals) domain.CheckResult {
	if signals.ChannelBlocked(job.Channel) {
		return domain.CheckResult{
			Name:   CheckClientPolicy,
			Reason: fmt.Sprintf("channel %s blocked by client policy", job.Channel),
		}
	}
	return domain.CheckResult{Name: CheckClientPolicy, Passed: true, Reason: "channel permitted by client policy"}
}

func (e *Engine) checkFatigue(job *domain.Job, signals domain.Signals) domain.CheckResult {
	capability, err := e.registry.Lookup(job.Channel)
	if err != nil {
		return domain.CheckResult{Name: CheckFatigue, Reason: err.Error()}
	}
	count := signals.RecentExecutionCounts[job.Channel]
	if count >= capability.FatigueLimitPer24h {
		return domain.CheckResult{
			Name: CheckFatigue,
			Reason: fmt.Sprintf("%d successful publishes in trailing 24h meets limit %d for %s",
				count, capability.FatigueLimitPer24h, job.Channel),
		}
	}
	return domain.CheckResult{
		Name:   CheckFatigue,
		Passed: true,
		Reason: fmt.Sprintf("%d of %d publishes used in trailing 24h", count, capability.FatigueLimitPer24h),
	}
}

func (e *Engine) checkCompliance(job *domain.Job) domain.CheckResult {
	content := strings.ToLower(job.Content)
	for _, phrase := range bannedPhrases {
		if strings.Contains(content, phrase) {
			return domain.CheckResult{
				Name:   CheckCompliance,
				Reason: fmt.Sprintf("content contains banned phrase %q", phrase),
			}
		}
	}
	return domain.CheckResult{Name: CheckCompliance, Passed: true, Reason: "no banned phrases found"}
}

// checkTruthLayer never fails the job; it passes unconditionally and reports
// unverifiable superlatives as warning annotations.
func (e *Engine) checkTruthLayer(job *domain.Job) (domain.CheckResult, []string) {
	content := strings.ToLower(job.Content)
	var warnings []string
	for _, pattern := range superlativePatterns {
		if strings.Contains(content, pattern) {
			warnings = append(warnings, fmt.Sprintf("unverifiable superlative %q", pattern))
		}
	}
	if len(warnings) > 0 {
		return domain.CheckResult{
			Name:   CheckTruthLayer,
			Passed: true,
			Reason: fmt.Sprintf("%d unverifiable superlative(s) flagged", len(warnings)),
		}, warnings
	}
	return domain.CheckResult{Name: CheckTruthLayer, Passed: true, Reason: "no unverifiable superlatives found"}, nil
}

package domain

import (
	"context"
	"time"
)

// WarningSeverity tags entries in the early-warning feed.
type WarningSeverity string

const (
	SeverityInfo     WarningSeverity = "info"
	SeverityWarning  WarningSeverity = "warning"
	SeverityCritical WarningSeverity = "critical"
)

// ActiveWarning is one entry from the upstream early-warning feed.
type ActiveWarning struct {
	Severity WarningSeverity `json:"severity"`
	Message  string          `json:"message"`
}

// Signals carries the externally supplied admission-control inputs. The
// preflight engine only consumes these values; it never fetches them itself,
// which keeps evaluation deterministic.
type Signals struct {
	ActiveWarnings        []ActiveWarning `json:"active_warnings,omitempty"`
	ConfidenceScore       int             `json:"confidence_score"`
	ScalingFrozen         bool            `json:"scaling_frozen"`
	CapacityUtilization   int             `json:"capacity_utilization"`
	BlockedChannels       []Channel       `json:"blocked_channels,omitempty"`
	RecentExecutionCounts map[Channel]int `json:"recent_execution_counts,omitempty"`
}

// ChannelBlocked reports whether the client policy blocks the given channel.
func (s Signals) ChannelBlocked(ch Channel) bool {
	for _, blocked := range s.BlockedChannels {
		if blocked == ch {
			return true
		}
	}
	return false
}

// HasCriticalWarning reports whether any active warning is critical.
func (s Signals) HasCriticalWarning() bool {
	for _, w := range s.ActiveWarnings {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ConservativeSignals returns the fail-safe signal values used when the
// upstream signal services are unreachable: every check that depends on a
// missing signal must deny rather than guess.
func ConservativeSignals() Signals {
	return Signals{
		ActiveWarnings: []ActiveWarning{
			{Severity: SeverityCritical, Message: "signal provider unavailable"},
		},
		ConfidenceScore:     0,
		ScalingFrozen:       true,
		CapacityUtilization: 100,
	}
}

// RiskLevel classifies a preflight outcome.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CheckResult is the outcome of one admission check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// PreflightResult is the outcome of evaluating the full admission rule set
// against a job at a point in time. Results are never mutated; re-evaluating
// a job supersedes the previous result with a new row.
type PreflightResult struct {
	ID              string        `json:"id"`
	JobID           string        `json:"job_id"`
	Checks          []CheckResult `json:"checks"`
	OverallPassed   bool          `json:"overall_passed"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	ConfidenceScore int           `json:"confidence_score"`
	Warnings        []string      `json:"warnings,omitempty"`
	ComputedAt      time.Time     `json:"computed_at"`
}

// PreflightRepository persists preflight results.
type PreflightRepository interface {
	Save(ctx context.Context, result *PreflightResult) error
	ListByJob(ctx context.Context, jobID string) ([]*PreflightResult, error)
}

// SignalProvider fetches the current admission-control inputs for a
// client/workspace from the upstream collaborators.
type SignalProvider interface {
	Fetch(ctx context.Context, clientID, workspaceID string) (Signals, error)
}

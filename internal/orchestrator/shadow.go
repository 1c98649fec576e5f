package orchestrator

import (
	"context"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/rahul/priorities/internal/plan"
)

// ShadowSummary is what survives of a non-primary result. The shadow plan
// itself is never persisted.
type ShadowSummary struct {
	SessionID     string `json:"session_id"`
	PrimaryEngine string `json:"primary_engine"`
	ShadowEngine  string `json:"shadow_engine"`
	Status        string `json:"status"`
	Ordered       int    `json:"ordered_count"`
	Excluded      int    `json:"excluded_count"`
	Dependencies  int    `json:"dependency_count"`
	StatusNote    string `json:"status_note"`
	SameOrder     bool   `json:"same_order"`
	OrderDiff     string `json:"order_diff,omitempty"`
}

// Summarize compares the shadow result against the primary one.
func Summarize(sessionID string, primary, shadow plan.EngineRunResult) ShadowSummary {
	s := ShadowSummary{
		SessionID:     sessionID,
		PrimaryEngine: primary.Engine,
		ShadowEngine:  shadow.Engine,
		Status:        string(shadow.Status),
		StatusNote:    shadow.Metadata.StatusNote,
	}
	if shadow.Plan != nil {
		s.Ordered = len(shadow.Plan.OrderedTaskIDs)
		s.Excluded = len(shadow.Plan.RemovedTasks)
		s.Dependencies = len(shadow.Plan.Dependencies)
	}
	if primary.Plan != nil && shadow.Plan != nil {
		s.OrderDiff = OrderDiff(primary.Engine, primary.Plan.OrderedTaskIDs, shadow.Engine, shadow.Plan.OrderedTaskIDs)
		s.SameOrder = s.OrderDiff == ""
	}
	return s
}

// OrderDiff renders a unified diff between two orderings, one id per line.
// It returns "" when the orderings are identical.
func OrderDiff(fromName string, from []string, toName string, to []string) string {
	diff := difflib.UnifiedDiff{
		A:        lines(from),
		B:        lines(to),
		FromFile: fromName,
		ToFile:   toName,
		Context:  1,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return text
}

func lines(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id + "\n"
	}
	return out
}

func (o *Orchestrator) recordShadow(ctx context.Context, sessionID string, primary, shadow plan.EngineRunResult) {
	summary := Summarize(sessionID, primary, shadow)
	o.Logger.LogShadow(sessionID, shadow.Engine, map[string]any{
		"status":           summary.Status,
		"ordered_count":    summary.Ordered,
		"excluded_count":   summary.Excluded,
		"dependency_count": summary.Dependencies,
		"status_note":      summary.StatusNote,
		"same_order":       summary.SameOrder,
	})
	if o.Audit != nil {
		logAuditFailure("shadow_run", o.Audit.LogEvent(ctx, auditActor, "shadow_run", summary))
	}
}

func (o *Orchestrator) recordPerformance(ctx context.Context, sessionID string, started, completed time.Time, primary plan.EngineRunResult, sel Selection) {
	evaluated := false
	if loop := loopMetadata(sel); loop != nil {
		evaluated = loop.EvaluationTrigger
	}
	record := map[string]any{
		"session_id":           sessionID,
		"duration_ms":          completed.Sub(started).Milliseconds(),
		"primary_engine":       primary.Engine,
		"status":               string(terminalStatus(primary)),
		"fell_back":            sel.FellBack,
		"evaluation_triggered": evaluated,
	}
	o.Logger.LogPerformance(sessionID, record)
	if o.Audit != nil {
		logAuditFailure("run_performance", o.Audit.LogEvent(ctx, auditActor, "run_performance", record))
	}
}

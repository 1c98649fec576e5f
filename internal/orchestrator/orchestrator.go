// Package orchestrator runs the planning engines for one session, picks the
// primary result, and persists the session exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rahul/priorities/internal/agent"
	"github.com/rahul/priorities/internal/contextbuilder"
	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/parser"
	"github.com/rahul/priorities/internal/plan"
	"github.com/rahul/priorities/internal/store"
)

type ContextBuilder interface {
	Build(ctx context.Context, req contextbuilder.Request) (*contextbuilder.RuntimeContext, error)
}

type SessionWriter interface {
	SaveSession(ctx context.Context, rec store.SessionRecord) error
}

type AuditSink interface {
	LogEvent(ctx context.Context, actor string, eventType string, payload any) error
}

// Request describes one orchestration run.
type Request struct {
	SessionID           string
	UserID              string
	OutcomeID           string
	ActiveReflectionIDs []string
	ExcludedDocumentIDs []string
	DependencyOverrides []plan.TaskDependency
}

// Result is what the caller sees after a run.
type Result struct {
	Session  store.SessionRecord
	Primary  plan.EngineRunResult
	Shadow   *plan.EngineRunResult
	FellBack bool
}

type Orchestrator struct {
	Builder  ContextBuilder
	Legacy   agent.Engine
	Hybrid   agent.Engine
	Sessions SessionWriter
	Audit    AuditSink
	Hub      *observability.Hub
	Logger   *observability.Logger

	HybridEnabled bool

	now func() time.Time
}

func New(builder ContextBuilder, legacy, hybrid agent.Engine, sessions SessionWriter, audit AuditSink, hub *observability.Hub, logger *observability.Logger) *Orchestrator {
	return &Orchestrator{
		Builder:  builder,
		Legacy:   legacy,
		Hybrid:   hybrid,
		Sessions: sessions,
		Audit:    audit,
		Hub:      hub,
		Logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const auditActor = "orchestrator"

// Run executes one orchestration. It always attempts to persist a terminal
// session. The returned error is a context_build or persistence failure;
// engine failures are reported through Result.Primary instead.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	started := o.clock()
	o.Hub.Publish(observability.ProgressEvent{SessionID: req.SessionID, Stage: observability.StageQueued})

	rc, err := o.Builder.Build(ctx, contextbuilder.Request{
		SessionID:           req.SessionID,
		UserID:              req.UserID,
		OutcomeID:           req.OutcomeID,
		ActiveReflectionIDs: req.ActiveReflectionIDs,
		ExcludedDocumentIDs: req.ExcludedDocumentIDs,
	})
	if err != nil {
		return o.contextFailure(ctx, req, started, err)
	}

	in := agent.Input{
		SessionID: req.SessionID,
		Context:   rc,
		Overrides: req.DependencyOverrides,
		Progress:  o.forwardProgress,
	}

	var sel Selection
	var legacy plan.EngineRunResult
	hybridRan := o.HybridEnabled && o.Hybrid != nil
	if hybridRan {
		var hybrid plan.EngineRunResult
		hybrid, legacy = o.runBoth(ctx, in)
		sel = Select(hybrid, legacy)
	} else {
		legacy = o.Legacy.Run(ctx, in)
		sel = LegacyOnly(legacy)
	}

	primary := sel.Primary
	if primary.Succeeded() {
		merged := *primary.Plan
		merged.Dependencies = plan.MergeDependencies(merged.Dependencies, req.DependencyOverrides)
		plan.EnsureConsistency(&merged)
		primary.Plan = &merged
	} else {
		primary.Plan = nil
	}

	completedAt := o.clock()
	rec := store.SessionRecord{
		ID:                  req.SessionID,
		UserID:              req.UserID,
		OutcomeID:           req.OutcomeID,
		Status:              terminalStatus(primary),
		Plan:                primary.Plan,
		BaselineDocumentIDs: rc.DocumentIDs(),
		Metadata:            sessionMetadata(primary),
		Loop:                loopMetadata(sel),
		Trace:               sessionTrace(primary, legacy, completedAt),
		CreatedAt:           started,
		CompletedAt:         completedAt,
	}
	if primary.Plan != nil {
		rec.ExcludedTasks = primary.Plan.RemovedTasks
	}

	result := &Result{Session: rec, Primary: primary, Shadow: sel.Shadow, FellBack: sel.FellBack}

	if err := o.Sessions.SaveSession(ctx, rec); err != nil {
		o.Logger.LogPersist(req.SessionID, string(rec.Status), err)
		o.publishTerminal(req.SessionID, plan.StatusFailed, "The plan could not be saved.")
		return result, plan.Wrap(plan.KindPersistence, "save session", err)
	}
	o.Logger.LogPersist(req.SessionID, string(rec.Status), nil)

	if hybridRan && sel.Shadow != nil {
		o.recordShadow(ctx, req.SessionID, primary, *sel.Shadow)
	}
	o.recordPerformance(ctx, req.SessionID, started, completedAt, primary, sel)
	o.publishTerminal(req.SessionID, rec.Status, rec.Metadata.StatusNote)
	return result, nil
}

// runBoth runs the engines concurrently and waits for both.
func (o *Orchestrator) runBoth(ctx context.Context, in agent.Input) (hybrid, legacy plan.EngineRunResult) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hybrid = o.Hybrid.Run(ctx, in)
	}()
	go func() {
		defer wg.Done()
		legacy = o.Legacy.Run(ctx, in)
	}()
	wg.Wait()
	return hybrid, legacy
}

func (o *Orchestrator) contextFailure(ctx context.Context, req Request, started time.Time, cause error) (*Result, error) {
	note := "The planning context could not be assembled."
	if errors.Is(cause, plan.ErrOutcomeNotFound) {
		note = "The outcome for this plan no longer exists."
	} else if errors.Is(cause, contextbuilder.ErrNoCandidateTasks) {
		note = "There are no tasks to prioritize yet."
	}
	completedAt := o.clock()
	rec := store.SessionRecord{
		ID:          req.SessionID,
		UserID:      req.UserID,
		OutcomeID:   req.OutcomeID,
		Status:      plan.StatusFailed,
		Metadata:    plan.ZeroMetadata(note),
		Trace:       []plan.ReasoningStep{minimalStep(note, plan.StepFailed, completedAt)},
		CreatedAt:   started,
		CompletedAt: completedAt,
	}
	result := &Result{Session: rec, Primary: plan.EngineRunResult{Status: plan.StatusFailed, Metadata: rec.Metadata, Narrative: note}}

	if err := o.Sessions.SaveSession(ctx, rec); err != nil {
		o.Logger.LogPersist(req.SessionID, string(rec.Status), err)
		o.publishTerminal(req.SessionID, plan.StatusFailed, note)
		return result, errors.Join(cause, plan.Wrap(plan.KindPersistence, "save failed session", err))
	}
	o.Logger.LogPersist(req.SessionID, string(rec.Status), nil)
	o.publishTerminal(req.SessionID, plan.StatusFailed, note)
	return result, cause
}

// forwardProgress relays engine progress to the hub. Terminal events are
// withheld; the orchestrator publishes the session's own terminal event once
// the result is persisted.
func (o *Orchestrator) forwardProgress(evt observability.ProgressEvent) {
	if evt.Stage.Terminal() {
		return
	}
	o.Hub.Publish(evt)
}

func (o *Orchestrator) publishTerminal(sessionID string, status plan.RunStatus, note string) {
	stage := observability.StageCompleted
	percent := 100
	if status != plan.StatusCompleted {
		stage = observability.StageFailed
		percent = 0
	}
	o.Hub.Publish(observability.ProgressEvent{SessionID: sessionID, Stage: stage, Percent: percent, Message: note})
}

func (o *Orchestrator) clock() time.Time {
	if o.now == nil {
		return time.Now().UTC()
	}
	return o.now()
}

func terminalStatus(r plan.EngineRunResult) plan.RunStatus {
	if r.Succeeded() {
		return plan.StatusCompleted
	}
	return plan.StatusFailed
}

// sessionMetadata returns the primary metadata with a caller-facing status
// note: the fallback note first, then a condensed narrative when the engine
// left no note of its own.
func sessionMetadata(r plan.EngineRunResult) plan.ExecutionMetadata {
	md := r.Metadata
	if md.ToolCallCount == nil {
		md.ToolCallCount = map[string]int{}
	}
	if md.StatusNote == "" {
		md.StatusNote = parser.Condense(r.Narrative)
	}
	if md.StatusNote == "" {
		if r.Succeeded() {
			md.StatusNote = r.Plan.SynthesisSummary
		} else {
			md.StatusNote = "The planner could not produce a plan."
		}
	}
	if r.FallbackNote != "" {
		md.StatusNote = r.FallbackNote + " " + md.StatusNote
	}
	if len(md.FailedTools) > 0 && !r.Succeeded() {
		md.StatusNote = fmt.Sprintf("%s Failed tools: %s.", md.StatusNote, strings.Join(md.FailedTools, ", "))
	}
	return md
}

func loopMetadata(sel Selection) *plan.LoopMetadata {
	if sel.Primary.Loop != nil {
		return sel.Primary.Loop
	}
	if sel.Shadow != nil && sel.Shadow.Loop != nil {
		return sel.Shadow.Loop
	}
	return nil
}

// sessionTrace prefers the primary engine's trace, then the legacy step log,
// then a single synthesized step.
func sessionTrace(primary, legacy plan.EngineRunResult, at time.Time) []plan.ReasoningStep {
	if len(primary.Trace) > 0 {
		return plan.CapTrace(primary.Trace)
	}
	if len(legacy.Trace) > 0 {
		return plan.CapTrace(legacy.Trace)
	}
	status := plan.StepSuccess
	if !primary.Succeeded() {
		status = plan.StepFailed
	}
	note := primary.Metadata.StatusNote
	if note == "" {
		note = parser.Condense(primary.Narrative)
	}
	if note == "" {
		note = "Plan produced without intermediate steps."
	}
	return []plan.ReasoningStep{minimalStep(note, status, at)}
}

func minimalStep(thought string, status plan.StepStatus, at time.Time) plan.ReasoningStep {
	return plan.ReasoningStep{StepNumber: 1, Timestamp: at, Thought: thought, Status: status}
}

func logAuditFailure(kind string, err error) {
	if err != nil {
		log.Printf("Warning: failed to append %s audit record: %v", kind, err)
	}
}

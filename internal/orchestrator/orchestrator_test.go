package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rahul/priorities/internal/agent"
	"github.com/rahul/priorities/internal/contextbuilder"
	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/plan"
	"github.com/rahul/priorities/internal/store"
)

type fakeBuilder struct {
	rc  *contextbuilder.RuntimeContext
	err error
}

func (f *fakeBuilder) Build(ctx context.Context, req contextbuilder.Request) (*contextbuilder.RuntimeContext, error) {
	return f.rc, f.err
}

type fakeEngine struct {
	name   string
	result plan.EngineRunResult
	mu     sync.Mutex
	calls  int
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Run(ctx context.Context, in agent.Input) plan.EngineRunResult {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if in.Progress != nil {
		in.Progress(observability.ProgressEvent{SessionID: in.SessionID, Stage: observability.StageScoring})
		in.Progress(observability.ProgressEvent{SessionID: in.SessionID, Stage: observability.StageFailed})
	}
	r := f.result
	r.Engine = f.name
	return r
}

type fakeSessions struct {
	saved []store.SessionRecord
	err   error
}

func (f *fakeSessions) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, rec)
	return nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events map[string][]any
}

func (f *fakeAudit) LogEvent(ctx context.Context, actor, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = map[string][]any{}
	}
	f.events[eventType] = append(f.events[eventType], payload)
	return nil
}

func okResult(ids ...string) plan.EngineRunResult {
	p := &plan.Plan{
		OrderedTaskIDs:   ids,
		ExecutionWaves:   []plan.ExecutionWave{{WaveNumber: 1, TaskIDs: ids}},
		ConfidenceScores: map[string]float64{},
		SynthesisSummary: "summary",
	}
	plan.EnsureConsistency(p)
	return plan.EngineRunResult{
		Status:   plan.StatusCompleted,
		Plan:     p,
		Metadata: plan.ExecutionMetadata{StepsTaken: 1, ToolCallCount: map[string]int{}, StatusNote: "summary"},
		Trace:    []plan.ReasoningStep{{StepNumber: 1, Thought: "ok", Status: plan.StepSuccess}},
	}
}

func failResult(note string) plan.EngineRunResult {
	return plan.EngineRunResult{
		Status:    plan.StatusFailed,
		Metadata:  plan.ExecutionMetadata{ToolCallCount: map[string]int{}, StatusNote: note, ErrorCount: 1},
		Narrative: note,
	}
}

func testContext() *contextbuilder.RuntimeContext {
	return &contextbuilder.RuntimeContext{Tasks: []plan.TaskSummary{
		{TaskID: "t1", DocumentID: "d1"},
		{TaskID: "t2", DocumentID: "d2"},
		{TaskID: "t3", DocumentID: "d1"},
	}}
}

func TestSelectPolicy(t *testing.T) {
	hybridOK := okResult("a")
	hybridOK.Engine = agent.EngineHybrid
	legacyOK := okResult("b")
	legacyOK.Engine = agent.EngineLegacy
	hybridBad := failResult("loop timed out")
	hybridBad.Engine = agent.EngineHybrid
	legacyBad := failResult("no json")
	legacyBad.Engine = agent.EngineLegacy

	sel := Select(hybridOK, legacyOK)
	if sel.Primary.Engine != agent.EngineHybrid || sel.Shadow.Engine != agent.EngineLegacy || sel.FellBack {
		t.Errorf("hybrid success: %+v", sel)
	}

	sel = Select(hybridBad, legacyOK)
	if sel.Primary.Engine != agent.EngineLegacy || !sel.FellBack || sel.Shadow.Engine != agent.EngineHybrid {
		t.Errorf("fallback: %+v", sel)
	}
	if !strings.Contains(sel.Primary.FallbackNote, "loop timed out") {
		t.Errorf("fallback note = %q", sel.Primary.FallbackNote)
	}

	sel = Select(hybridBad, legacyBad)
	if sel.Primary.Engine != agent.EngineHybrid || sel.Shadow.Engine != agent.EngineLegacy {
		t.Errorf("both failed: %+v", sel)
	}
}

func newTestOrchestrator(hybrid, legacy *fakeEngine, sessions *fakeSessions, audit *fakeAudit, hub *observability.Hub) *Orchestrator {
	return New(&fakeBuilder{rc: testContext()}, legacy, hybrid, sessions, audit, hub, nil)
}

func TestRunHybridPrimaryMergesOverrides(t *testing.T) {
	hybridResult := okResult("t1", "t2", "t3")
	hybridResult.Plan.Dependencies = []plan.TaskDependency{
		{SourceTaskID: "t1", TargetTaskID: "t2", RelationshipType: plan.RelRelated, Confidence: 0.4, DetectionMethod: plan.DetectedByModel},
	}
	hybridResult.Loop = &plan.LoopMetadata{Iterations: 3, EvaluationTrigger: true}
	hybrid := &fakeEngine{name: agent.EngineHybrid, result: hybridResult}
	legacy := &fakeEngine{name: agent.EngineLegacy, result: okResult("t2", "t1", "t3")}
	sessions := &fakeSessions{}
	audit := &fakeAudit{}
	o := newTestOrchestrator(hybrid, legacy, sessions, audit, nil)
	o.HybridEnabled = true

	overrides := []plan.TaskDependency{
		{SourceTaskID: "t1", TargetTaskID: "t2", RelationshipType: plan.RelPrerequisite, Confidence: 1, DetectionMethod: plan.DetectedFromStore},
		{SourceTaskID: "t3", TargetTaskID: "t1", RelationshipType: plan.RelBlocks, Confidence: 0.9, DetectionMethod: plan.DetectedFromStore},
	}
	res, err := o.Run(context.Background(), Request{UserID: "u1", OutcomeID: "o1", DependencyOverrides: overrides})
	if err != nil {
		t.Fatal(err)
	}
	if hybrid.calls != 1 || legacy.calls != 1 {
		t.Errorf("both engines should run once: hybrid=%d legacy=%d", hybrid.calls, legacy.calls)
	}
	if res.Primary.Engine != agent.EngineHybrid {
		t.Fatalf("primary = %s", res.Primary.Engine)
	}
	deps := res.Session.Plan.Dependencies
	if len(deps) != 2 || deps[0].RelationshipType != plan.RelPrerequisite || deps[0].DetectionMethod != plan.DetectedFromStore {
		t.Errorf("dependencies = %+v", deps)
	}
	if hybridResult.Plan.Dependencies[0].RelationshipType != plan.RelRelated {
		t.Error("engine result plan must not be mutated by the merge")
	}

	if len(sessions.saved) != 1 {
		t.Fatalf("expected exactly one save, got %d", len(sessions.saved))
	}
	saved := sessions.saved[0]
	if saved.ID == "" || saved.Status != plan.StatusCompleted || saved.Loop == nil || !saved.Loop.EvaluationTrigger {
		t.Errorf("saved = %+v", saved)
	}
	if strings.Join(saved.BaselineDocumentIDs, ",") != "d1,d2" {
		t.Errorf("baseline ids = %v", saved.BaselineDocumentIDs)
	}
	if len(audit.events["shadow_run"]) != 1 || len(audit.events["run_performance"]) != 1 {
		t.Errorf("audit events = %v", audit.events)
	}
	summary := audit.events["shadow_run"][0].(ShadowSummary)
	if summary.ShadowEngine != agent.EngineLegacy || summary.SameOrder || summary.OrderDiff == "" {
		t.Errorf("shadow summary = %+v", summary)
	}
}

func TestRunFallsBackToLegacy(t *testing.T) {
	hybrid := &fakeEngine{name: agent.EngineHybrid, result: failResult("The hybrid planner timed out before producing a plan.")}
	legacy := &fakeEngine{name: agent.EngineLegacy, result: okResult("t1")}
	sessions := &fakeSessions{}
	o := newTestOrchestrator(hybrid, legacy, sessions, &fakeAudit{}, nil)
	o.HybridEnabled = true

	res, err := o.Run(context.Background(), Request{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.FellBack || res.Primary.Engine != agent.EngineLegacy {
		t.Fatalf("expected legacy fallback, got %+v", res)
	}
	note := sessions.saved[0].Metadata.StatusNote
	if !strings.HasPrefix(note, fallbackNote) || !strings.Contains(note, "timed out") {
		t.Errorf("status note = %q", note)
	}
}

func TestRunBothFailStillPersistsTerminalSession(t *testing.T) {
	hybridFail := failResult("The hybrid planner finished without proposing an ordering.")
	hybridFail.Metadata.FailedTools = []string{"propose_order"}
	hybrid := &fakeEngine{name: agent.EngineHybrid, result: hybridFail}
	legacyFail := failResult("no json")
	legacyFail.Trace = []plan.ReasoningStep{{StepNumber: 1, Thought: "Requested a structured plan", Status: plan.StepFailed}}
	legacy := &fakeEngine{name: agent.EngineLegacy, result: legacyFail}
	sessions := &fakeSessions{}
	o := newTestOrchestrator(hybrid, legacy, sessions, &fakeAudit{}, nil)
	o.HybridEnabled = true

	res, err := o.Run(context.Background(), Request{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	saved := sessions.saved[0]
	if saved.Status != plan.StatusFailed || saved.Plan != nil {
		t.Errorf("saved = %+v", saved)
	}
	if saved.Metadata.ToolCallCount == nil || !strings.Contains(saved.Metadata.StatusNote, "propose_order") {
		t.Errorf("metadata = %+v", saved.Metadata)
	}
	if res.Primary.Engine != agent.EngineHybrid {
		t.Errorf("primary = %s", res.Primary.Engine)
	}
	if len(saved.Trace) != 1 || saved.Trace[0].Thought != "Requested a structured plan" {
		t.Errorf("trace should come from the legacy step log: %+v", saved.Trace)
	}
}

func TestRunLegacyOnlyWhenDisabled(t *testing.T) {
	hybrid := &fakeEngine{name: agent.EngineHybrid, result: okResult("t1")}
	legacy := &fakeEngine{name: agent.EngineLegacy, result: okResult("t2")}
	audit := &fakeAudit{}
	o := newTestOrchestrator(hybrid, legacy, &fakeSessions{}, audit, nil)

	res, err := o.Run(context.Background(), Request{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if hybrid.calls != 0 || res.Primary.Engine != agent.EngineLegacy || res.Shadow != nil {
		t.Errorf("legacy only expected: hybrid calls=%d result=%+v", hybrid.calls, res)
	}
	if len(audit.events["shadow_run"]) != 0 {
		t.Error("no shadow record when the hybrid engine is disabled")
	}
	if len(audit.events["run_performance"]) != 1 {
		t.Error("performance record expected")
	}
}

func TestRunContextFailureWritesFailedSession(t *testing.T) {
	sessions := &fakeSessions{}
	cause := plan.Wrap(plan.KindContextBuild, "load outcome", plan.ErrOutcomeNotFound)
	legacy := &fakeEngine{name: agent.EngineLegacy}
	o := New(&fakeBuilder{err: cause}, legacy, nil, sessions, nil, nil, nil)

	res, err := o.Run(context.Background(), Request{SessionID: "s1"})
	if !plan.IsKind(err, plan.KindContextBuild) {
		t.Fatalf("expected context build error, got %v", err)
	}
	if legacy.calls != 0 {
		t.Error("no engine may run after a context failure")
	}
	if len(sessions.saved) != 1 || sessions.saved[0].Status != plan.StatusFailed || sessions.saved[0].Metadata.ToolCallCount == nil {
		t.Fatalf("saved = %+v", sessions.saved)
	}
	if res.Session.Metadata.StatusNote != "The outcome for this plan no longer exists." {
		t.Errorf("note = %q", res.Session.Metadata.StatusNote)
	}
}

func TestRunPersistenceFailureReturned(t *testing.T) {
	legacy := &fakeEngine{name: agent.EngineLegacy, result: okResult("t1")}
	o := newTestOrchestrator(nil, legacy, &fakeSessions{err: errors.New("disk full")}, &fakeAudit{}, nil)
	res, err := o.Run(context.Background(), Request{SessionID: "s1"})
	if !plan.IsKind(err, plan.KindPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if res == nil || res.Primary.Plan == nil {
		t.Error("computed result should still be returned to the caller")
	}
}

func TestRunPublishesSingleTerminalEvent(t *testing.T) {
	hub := observability.NewHub(nil)
	events, cancel := hub.Subscribe("s1", 16)
	defer cancel()

	legacy := &fakeEngine{name: agent.EngineLegacy, result: okResult("t1")}
	o := newTestOrchestrator(nil, legacy, &fakeSessions{}, &fakeAudit{}, hub)
	if _, err := o.Run(context.Background(), Request{SessionID: "s1"}); err != nil {
		t.Fatal(err)
	}

	var stages []observability.Stage
	for len(events) > 0 {
		stages = append(stages, (<-events).Stage)
	}
	terminal := 0
	for _, s := range stages {
		if s.Terminal() {
			terminal++
		}
	}
	if terminal != 1 || stages[len(stages)-1] != observability.StageCompleted {
		t.Errorf("stages = %v", stages)
	}
}

func TestOrderDiff(t *testing.T) {
	if d := OrderDiff("a", []string{"x", "y"}, "b", []string{"x", "y"}); d != "" {
		t.Errorf("identical orderings should not diff: %q", d)
	}
	d := OrderDiff("hybrid", []string{"x", "y"}, "legacy", []string{"y", "x"})
	if !strings.Contains(d, "--- hybrid") || !strings.Contains(d, "+++ legacy") {
		t.Errorf("diff = %q", d)
	}
}

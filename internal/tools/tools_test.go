package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rahul/priorities/internal/plan"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

func testWorkspace() *Workspace {
	return NewWorkspace([]plan.TaskSummary{
		{TaskID: "t1", Text: "Draft pricing page"},
		{TaskID: "t2", Text: "Call top three customers"},
		{TaskID: "t3", Text: "Clean up old backlog"},
	}, 0.8)
}

func TestRegistryOrdersNames(t *testing.T) {
	r := NewRegistry(PlanningTools(testWorkspace())...)
	names := r.Names()
	want := []string{"evaluate_plan", "get_task_details", "propose_order", "record_scores"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v", names)
	}
	if r.Get("record_scores") == nil || r.Get("shell") != nil {
		t.Error("registry lookup mismatch")
	}
}

func TestTaskDetails(t *testing.T) {
	tool := &TaskDetailsTool{Workspace: testWorkspace()}
	out, err := tool.Execute(context.Background(), `{"task_ids":["t2","nope"]}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Call top three customers") || !strings.Contains(out, "nope") {
		t.Errorf("output = %s", out)
	}
	if _, err := tool.Execute(context.Background(), `{"task_ids":["nope"]}`); err == nil {
		t.Error("expected error when no id is known")
	}
}

func TestRecordScoresRejectsUnknownAndClamps(t *testing.T) {
	ws := testWorkspace()
	tool := &RecordScoresTool{Workspace: ws}
	if _, err := tool.Execute(context.Background(), `{"scores":[{"task_id":"ghost","impact":5,"effort":1,"confidence":0.5}]}`); err == nil {
		t.Fatal("expected unknown id to be rejected")
	}
	out, err := tool.Execute(context.Background(), `{"scores":[{"task_id":"t1","impact":14,"effort":2,"confidence":1.4}]}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "1 of 3") {
		t.Errorf("output = %s", out)
	}
	ws.mu.Lock()
	s := ws.scores["t1"]
	ws.mu.Unlock()
	if s.Impact != 10 || s.Confidence != 1 {
		t.Errorf("score not clamped: %+v", s)
	}
}

func TestEvaluateAndPlanObject(t *testing.T) {
	ws := testWorkspace()
	ctx := context.Background()
	eval := &EvaluatePlanTool{Workspace: ws}

	var ev Evaluation
	out, _ := eval.Execute(ctx, `{}`)
	if err := json.Unmarshal([]byte(out), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Passed || len(ev.Issues) == 0 {
		t.Errorf("evaluation without a proposal should fail: %+v", ev)
	}

	scores := &RecordScoresTool{Workspace: ws}
	if _, err := scores.Execute(ctx, `{"scores":[
		{"task_id":"t1","impact":6,"effort":3,"confidence":0.7,"reasoning":"supports pricing"},
		{"task_id":"t2","impact":9,"effort":1,"confidence":0.9,"reasoning":"direct revenue"}]}`); err != nil {
		t.Fatal(err)
	}
	propose := &ProposeOrderTool{Workspace: ws}
	if _, err := propose.Execute(ctx, `{"ordered_task_ids":["t1","t2"]}`); err != nil {
		t.Fatal(err)
	}
	ev = ws.Evaluate()
	if ev.Passed {
		t.Errorf("missing t3 and inverted order should not pass: %+v", ev)
	}
	if len(ev.Issues) != 2 {
		t.Errorf("issues = %v", ev.Issues)
	}

	if _, err := propose.Execute(ctx, `{"ordered_task_ids":["t2","t1"],"excluded_tasks":[{"task_id":"t3","exclusion_reason":""}],"synthesis_summary":"Revenue first."}`); err != nil {
		t.Fatal(err)
	}
	ev = ws.Evaluate()
	if !ev.Passed || ev.Quality != 1 {
		t.Errorf("complete proposal should pass: %+v", ev)
	}
	if ws.Evaluations() != 3 {
		t.Errorf("evaluations = %d", ws.Evaluations())
	}

	obj, ok := ws.PlanObject()
	if !ok {
		t.Fatal("expected a plan object")
	}
	conf := obj["confidence_scores"].(map[string]any)
	if conf["t2"] != 0.9 {
		t.Errorf("confidence = %v", conf)
	}
	removed := obj["removed_tasks"].([]any)
	if len(removed) != 1 || removed[0].(map[string]any)["removal_reason"] != "Excluded during prioritization." {
		t.Errorf("removed = %v", removed)
	}
	if obj["synthesis_summary"] != "Revenue first." {
		t.Errorf("summary = %v", obj["synthesis_summary"])
	}
}

func TestProposeRejectsUnknownIDs(t *testing.T) {
	propose := &ProposeOrderTool{Workspace: testWorkspace()}
	if _, err := propose.Execute(context.Background(), `{"ordered_task_ids":["t1","ghost"]}`); err == nil {
		t.Error("expected unknown id to be rejected")
	}
	if _, err := propose.Execute(context.Background(), `{"ordered_task_ids":[]}`); err == nil {
		t.Error("expected empty order to be rejected")
	}
}

type fakeVectors struct {
	docs []schema.Document
}

func (f *fakeVectors) AddDocuments(ctx context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	return nil, nil
}

func (f *fakeVectors) SimilaritySearch(ctx context.Context, query string, n int, _ ...vectorstores.Option) ([]schema.Document, error) {
	return f.docs, nil
}

func TestRelatedTasksFiltersToPool(t *testing.T) {
	store := &fakeVectors{docs: []schema.Document{
		{PageContent: "Call customers", Metadata: map[string]any{"task_id": "t2"}, Score: 0.91},
		{PageContent: "Other user task", Metadata: map[string]any{"task_id": "x9"}, Score: 0.88},
	}}
	tool := NewRelatedTasksTool(store, testWorkspace())
	out, err := tool.Execute(context.Background(), `{"query":"customer outreach"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "t2") || strings.Contains(out, "x9") {
		t.Errorf("output = %s", out)
	}
	if _, err := tool.Execute(context.Background(), `{"query":" "}`); err == nil {
		t.Error("expected empty query to be rejected")
	}
}

package parser

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rahul/priorities/internal/plan"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return opts
}

func TestParseNil(t *testing.T) {
	r := Parse(nil, testOptions())
	if r.Success {
		t.Fatal("nil output must fail")
	}
	if !errors.Is(r.Err, plan.ErrNilOutput) {
		t.Errorf("unexpected error: %v", r.Err)
	}
}

func TestParseFencedWithNarrative(t *testing.T) {
	raw := "Here is my plan:\n```json\n{\"ordered_task_ids\":[\"a\"],\"execution_waves\":[]}\n```"
	r := Parse(raw, testOptions())
	if !r.Success {
		t.Fatalf("parse failed: %v", r.Err)
	}
	if r.Narrative != "Here is my plan:" {
		t.Errorf("narrative = %q", r.Narrative)
	}
	if !reflect.DeepEqual(r.Plan.OrderedTaskIDs, []string{"a"}) {
		t.Errorf("ordered = %v", r.Plan.OrderedTaskIDs)
	}
	if r.Plan.SynthesisSummary != "Here is my plan:" {
		t.Errorf("summary should fall back to condensed narrative, got %q", r.Plan.SynthesisSummary)
	}
}

func TestParseBracesWithNarrative(t *testing.T) {
	raw := "I weighed the outcome carefully. Result follows {\"ordered_task_ids\":[\"x\",\"y\"]} trailing words"
	r := Parse(raw, testOptions())
	if !r.Success {
		t.Fatalf("parse failed: %v", r.Err)
	}
	if !strings.HasPrefix(r.Narrative, "I weighed the outcome carefully.") {
		t.Errorf("narrative = %q", r.Narrative)
	}
	if r.Plan.SynthesisSummary != "I weighed the outcome carefully." {
		t.Errorf("summary = %q", r.Plan.SynthesisSummary)
	}
}

func TestParseNoJSON(t *testing.T) {
	r := Parse("I could not decide on an ordering today.", testOptions())
	if r.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(r.Err, plan.ErrNoJSON) {
		t.Errorf("err = %v", r.Err)
	}
	if r.Narrative == "" {
		t.Error("narrative should be carried for summarization")
	}
	if got := Describe(r); got != "I could not decide on an ordering today." {
		t.Errorf("describe = %q", got)
	}
}

func TestParseEmptyOrderFailsValidation(t *testing.T) {
	r := Parse(map[string]any{"ordered_task_ids": []any{"", nil}}, testOptions())
	if r.Success {
		t.Fatal("expected failure")
	}
	if !plan.IsKind(r.Err, plan.KindValidation) {
		t.Errorf("expected validation kind, got %v", r.Err)
	}
}

func TestCoerceOrderedIDs(t *testing.T) {
	obj := map[string]any{
		"ordered_task_ids": []any{"a", 7.0, map[string]any{"task_id": "b"}, true, "a"},
	}
	p, err := Build(obj, "", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "7", "b", "true"}; !reflect.DeepEqual(p.OrderedTaskIDs, want) {
		t.Errorf("ordered = %v, want %v", p.OrderedTaskIDs, want)
	}
}

func TestDefaultWavesWhenMalformed(t *testing.T) {
	ids := []any{"1", "2", "3", "4", "5", "6"}
	obj := map[string]any{
		"ordered_task_ids": ids,
		"execution_waves":  []any{"not-a-wave"},
	}
	p, err := Build(obj, "", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(p.ExecutionWaves) != 2 {
		t.Fatalf("waves = %+v", p.ExecutionWaves)
	}
	if !p.ExecutionWaves[0].ParallelExecution || len(p.ExecutionWaves[0].TaskIDs) != 5 {
		t.Errorf("first wave = %+v", p.ExecutionWaves[0])
	}
	if p.ExecutionWaves[1].ParallelExecution || p.ExecutionWaves[1].WaveNumber != 2 {
		t.Errorf("second wave = %+v", p.ExecutionWaves[1])
	}
}

func TestDefaultWavesWhenNoWaveMatchesOrder(t *testing.T) {
	obj := map[string]any{
		"ordered_task_ids": []any{"a", "b"},
		"execution_waves":  []any{map[string]any{"wave_number": 1.0, "task_ids": []any{"zzz"}}},
	}
	r := Parse(obj, testOptions())
	if !r.Success {
		t.Fatalf("parse failed: %v", r.Err)
	}
	if len(r.Plan.ExecutionWaves) != 1 || !reflect.DeepEqual(r.Plan.ExecutionWaves[0].TaskIDs, []string{"a", "b"}) {
		t.Errorf("waves = %+v", r.Plan.ExecutionWaves)
	}
}

func TestDependencyDefaults(t *testing.T) {
	obj := map[string]any{
		"ordered_task_ids": []any{"a", "b", "c"},
		"dependencies": []any{
			map[string]any{"source_task_id": "a", "target_task_id": "b"},
			map[string]any{"source_task_id": "b", "target_task_id": "c", "relationship_type": "blocks", "confidence": 1.7, "detection_method": "stored_relationship"},
			map[string]any{"source_task_id": "c", "target_task_id": "zzz"},
			"garbage",
		},
	}
	p, err := Build(obj, "", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Dependencies) != 2 {
		t.Fatalf("deps = %+v", p.Dependencies)
	}
	d0 := p.Dependencies[0]
	if d0.RelationshipType != plan.RelPrerequisite || d0.Confidence != 0.55 || d0.DetectionMethod != plan.DetectedByModel {
		t.Errorf("defaults not applied: %+v", d0)
	}
	d1 := p.Dependencies[1]
	if d1.RelationshipType != plan.RelBlocks || d1.Confidence != 1 || d1.DetectionMethod != plan.DetectedFromStore {
		t.Errorf("explicit values lost: %+v", d1)
	}
}

func TestConfidencePositionalAndOverlay(t *testing.T) {
	obj := map[string]any{
		"ordered_task_ids":  []any{"a", "b", "c", "d", "e"},
		"confidence_scores": map[string]any{"c": 0.333, "d": -2.0, "e": "high"},
	}
	p, err := Build(obj, "", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{"a": 0.9, "b": 0.81, "c": 0.33, "d": 0, "e": 0.55}
	for id, w := range want {
		if got := p.ConfidenceScores[id]; got != w {
			t.Errorf("confidence[%s] = %v, want %v", id, got, w)
		}
	}

	obj["confidence_scores"] = map[string]any{"dropped": 0.8}
	p, err = Build(obj, "", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.ConfidenceScores["dropped"]; ok {
		t.Errorf("score kept for an unordered id: %v", p.ConfidenceScores)
	}
}

func TestAnnotationsAndRemovals(t *testing.T) {
	obj := map[string]any{
		"ordered_task_ids": []any{"a", "b"},
		"task_annotations": []any{
			map[string]any{"task_id": "ghost", "state": "active"},
			map[string]any{"task_id": "pinned", "state": "manual_override", "reasoning": "user pinned"},
			map[string]any{"task_id": "a", "confidence": 0.42},
			map[string]any{"state": "active"},
		},
		"removed_tasks": []any{
			map[string]any{"task_id": "r1", "removal_reason": "duplicate"},
			map[string]any{"task_id": "r2", "removal_reason": 5.0},
			map[string]any{"task_id": "r3"},
		},
	}
	p, err := Build(obj, "", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]plan.TaskAnnotation{}
	for _, a := range p.TaskAnnotations {
		ids[a.TaskID] = a
	}
	if _, ok := ids["ghost"]; ok {
		t.Error("ghost annotation should be dropped")
	}
	if _, ok := ids["pinned"]; !ok {
		t.Error("manual override annotation should be kept")
	}
	if a := ids["a"]; a.Confidence == nil || *a.Confidence != 0.42 {
		t.Errorf("annotation a = %+v", a)
	}
	if b, ok := ids["b"]; !ok || b.State != plan.StateActive {
		t.Errorf("missing synthesized annotation for b: %+v", b)
	}
	if len(p.RemovedTasks) != 2 || p.RemovedTasks[0].TaskID != "r1" || p.RemovedTasks[1].TaskID != "r3" {
		t.Errorf("removals = %+v", p.RemovedTasks)
	}
}

func TestPlanInvariantsHold(t *testing.T) {
	raw := `{"ordered_task_ids":["a","b","a","c"],
		"execution_waves":[{"wave_number":1,"task_ids":["a","missing"],"parallel_execution":false},{"wave_number":2,"task_ids":["b","c"],"parallel_execution":true}],
		"dependencies":[{"source_task_id":"a","target_task_id":"b"},{"source_task_id":"a","target_task_id":"b","relationship_type":"related"}],
		"synthesis_summary":"  Focus on a first.  "}`
	r := Parse(raw, testOptions())
	if !r.Success {
		t.Fatalf("parse failed: %v", r.Err)
	}
	p := r.Plan
	members := map[string]bool{}
	for _, id := range p.OrderedTaskIDs {
		if members[id] {
			t.Fatalf("duplicate id %s", id)
		}
		members[id] = true
	}
	for _, w := range p.ExecutionWaves {
		for _, id := range w.TaskIDs {
			if !members[id] {
				t.Errorf("wave references unknown id %s", id)
			}
		}
	}
	for _, d := range p.Dependencies {
		if !members[d.SourceTaskID] || !members[d.TargetTaskID] {
			t.Errorf("dependency references unknown id %+v", d)
		}
	}
	if len(p.Dependencies) != 1 {
		t.Errorf("dependencies should be deduplicated: %+v", p.Dependencies)
	}
	if p.SynthesisSummary != "Focus on a first." {
		t.Errorf("summary = %q", p.SynthesisSummary)
	}
	if !p.CreatedAt.Equal(testOptions().Now()) {
		t.Errorf("created_at = %v", p.CreatedAt)
	}
}

func TestSummaryDefault(t *testing.T) {
	p, err := Build(map[string]any{"ordered_task_ids": []any{"a"}}, "", testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if p.SynthesisSummary != DefaultSummary {
		t.Errorf("summary = %q", p.SynthesisSummary)
	}
}

func TestCondense(t *testing.T) {
	got := Condense("  First   sentence here. Second one follows.\n")
	if got != "First sentence here." {
		t.Errorf("condense = %q", got)
	}
	long := strings.Repeat("word ", 100)
	if c := Condense(long); len(c) > 245 || !strings.HasSuffix(c, "...") {
		t.Errorf("long text not capped: %d %q", len(c), c[len(c)-5:])
	}
}

func TestExtractTierOrder(t *testing.T) {
	obj, narrative, err := Extract(`{"ordered_task_ids":["only"]}`)
	if err != nil {
		t.Fatal(err)
	}
	if narrative != "" || obj["ordered_task_ids"] == nil {
		t.Errorf("direct tier mismatch: %v %q", obj, narrative)
	}

	_, narrative, err = Extract("Thinking...\n```json\n{broken\n```")
	if !errors.Is(err, plan.ErrNoJSON) {
		t.Fatalf("err = %v", err)
	}
	if narrative != "Thinking..." {
		t.Errorf("narrative = %q", narrative)
	}
}

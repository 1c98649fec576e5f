package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rahul/priorities/internal/plan"
	"github.com/rahul/priorities/internal/store"
)

func TestParseOverrides(t *testing.T) {
	deps, err := parseOverrides([]string{"t1,t2", " t3 , t1 , blocks "})
	if err != nil {
		t.Fatal(err)
	}
	if len(deps) != 2 {
		t.Fatalf("deps = %+v", deps)
	}
	if deps[0].RelationshipType != plan.RelPrerequisite || deps[0].Confidence != 1 || deps[0].DetectionMethod != plan.DetectedFromStore {
		t.Errorf("default override = %+v", deps[0])
	}
	if deps[1].SourceTaskID != "t3" || deps[1].TargetTaskID != "t1" || deps[1].RelationshipType != plan.RelBlocks {
		t.Errorf("typed override = %+v", deps[1])
	}

	for _, bad := range []string{"t1", "t1,t1", "t1,t2,depends", "a,b,c,d", ",t2"} {
		if _, err := parseOverrides([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestPrintSession(t *testing.T) {
	rec := store.SessionRecord{
		ID:     "s1",
		Status: plan.StatusCompleted,
		Plan: &plan.Plan{
			OrderedTaskIDs:   []string{"t2", "t1"},
			ExecutionWaves:   []plan.ExecutionWave{{WaveNumber: 1, TaskIDs: []string{"t2", "t1"}}},
			ConfidenceScores: map[string]float64{"t2": 0.9},
			Dependencies:     []plan.TaskDependency{{SourceTaskID: "t2", TargetTaskID: "t1", RelationshipType: plan.RelPrerequisite, Confidence: 1}},
		},
		ExcludedTasks: []plan.TaskRemoval{{TaskID: "t9", RemovalReason: "Out of scope."}},
		Metadata:      plan.ExecutionMetadata{StepsTaken: 2, StatusNote: "Ship the fix first."},
		Loop:          &plan.LoopMetadata{Iterations: 4, EvaluationTrigger: true},
	}

	var text bytes.Buffer
	if err := printSession(&text, rec, false); err != nil {
		t.Fatal(err)
	}
	out := text.String()
	for _, want := range []string{
		"Session s1: completed",
		"Ship the fix first.",
		"   1. t2 (confidence 0.90)",
		"   2. t1\n",
		"1 [sequential]: t2, t1",
		"t2 -> t1 (prerequisite, 1.00)",
		"t9: Out of scope.",
		"iterations 4 (re-evaluated)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	var js bytes.Buffer
	if err := printSession(&js, rec, true); err != nil {
		t.Fatal(err)
	}
	var decoded store.SessionRecord
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if decoded.ID != "s1" || decoded.Plan == nil || len(decoded.Plan.OrderedTaskIDs) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	llmPath := filepath.Join(t.TempDir(), "logs", "llm.jsonl")
	l := NewLoggerTo(&buf, llmPath)

	l.LogEngine("s1", "legacy", map[string]any{"status": "completed"})
	l.LogLLM("s1", "legacy", "prompt", "response", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var evt Event
	if err := json.Unmarshal([]byte(lines[0]), &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != EventTypeEngine || evt.SessionID != "s1" || evt.Engine != "legacy" {
		t.Errorf("unexpected event %+v", evt)
	}

	data, err := os.ReadFile(llmPath)
	if err != nil {
		t.Fatalf("llm log not written: %v", err)
	}
	if !strings.Contains(string(data), "\"response\":\"response\"") {
		t.Errorf("llm log content = %s", data)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	var l *Logger
	l.LogShadow("s", "legacy", nil)
}

func TestHubDeliversPerSessionAndWildcard(t *testing.T) {
	h := NewHub(nil)
	mine, cancelMine := h.Subscribe("s1", 4)
	defer cancelMine()
	all, cancelAll := h.Subscribe(AllSessions, 4)
	defer cancelAll()
	other, cancelOther := h.Subscribe("s2", 4)
	defer cancelOther()

	h.Publish(ProgressEvent{SessionID: "s1", Stage: StageScoring, Percent: 10})

	if evt := <-mine; evt.Stage != StageScoring {
		t.Errorf("unexpected event %+v", evt)
	}
	if evt := <-all; evt.SessionID != "s1" {
		t.Errorf("wildcard got %+v", evt)
	}
	select {
	case evt := <-other:
		t.Errorf("other session received %+v", evt)
	default:
	}

	snap, ok := h.Snapshot("s1")
	if !ok || snap.Percent != 10 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHubPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe("s1", 1)
	for i := 0; i < 10; i++ {
		h.Publish(ProgressEvent{SessionID: "s1", Percent: i})
	}
	if evt := <-ch; evt.Percent != 0 {
		t.Errorf("first buffered event should be kept, got %+v", evt)
	}
	cancel()
	cancel()
	if _, open := <-ch; open {
		t.Error("channel should be closed after cancel")
	}
	h.Publish(ProgressEvent{SessionID: "s1", Stage: StageCompleted})
}

func TestHubForgetsFinishedSessions(t *testing.T) {
	h := NewHub(nil)
	h.Publish(ProgressEvent{SessionID: "s1", Stage: StageScoring, Percent: 40})
	if _, ok := h.Snapshot("s1"); !ok {
		t.Fatal("running session should have a snapshot")
	}
	h.Publish(ProgressEvent{SessionID: "s1", Stage: StageCompleted, Percent: 100})
	if _, ok := h.Snapshot("s1"); ok {
		t.Error("snapshot kept after terminal event")
	}
	if len(h.last) != 0 {
		t.Errorf("last = %v", h.last)
	}

	var nilHub *Hub
	if _, ok := nilHub.Snapshot("s1"); ok {
		t.Error("nil hub has no snapshots")
	}
}

func TestStageTerminal(t *testing.T) {
	if !StageFailed.Terminal() || !StageCompleted.Terminal() || StageScoring.Terminal() {
		t.Error("terminal stages misclassified")
	}
}

func TestProgressLine(t *testing.T) {
	evt := ProgressEvent{SessionID: "s1", Stage: StageOrdering, Percent: 50, Iteration: 2, TotalIterations: 6, TasksScored: 3, TasksOrdered: 0}
	got := ProgressLine(evt, false)
	want := "[s1] ordering   [██████████▒▒▒▒▒▒▒▒▒▒]  50% iter 2/6 scored 3 ordered 0"
	if got != want {
		t.Errorf("ProgressLine =\n%q\nwant\n%q", got, want)
	}

	over := ProgressLine(ProgressEvent{SessionID: "s1", Stage: StageCompleted, Percent: 140, Message: "done"}, false)
	if !strings.Contains(over, strings.Repeat("█", 20)+"]") || !strings.HasSuffix(over, " done") {
		t.Errorf("overflow line = %q", over)
	}

	if colored := ProgressLine(evt, true); !strings.Contains(colored, colorReset) {
		t.Errorf("colour line should carry escapes: %q", colored)
	}
}

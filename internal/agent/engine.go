package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/priorities/internal/contextbuilder"
	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/parser"
	"github.com/rahul/priorities/internal/plan"
)

const (
	EngineLegacy = "legacy"
	EngineHybrid = "hybrid"
)

// Engine produces a plan from a runtime context. Run never returns an error:
// every failure is reported as a failed EngineRunResult.
type Engine interface {
	Name() string
	Run(ctx context.Context, in Input) plan.EngineRunResult
}

// ProgressFunc receives progress events. It must not block.
type ProgressFunc func(observability.ProgressEvent)

// Input is what both engines receive.
type Input struct {
	SessionID string
	Context   *contextbuilder.RuntimeContext
	Overrides []plan.TaskDependency
	Progress  ProgressFunc
}

func (in Input) publish(evt observability.ProgressEvent) {
	if in.Progress == nil {
		return
	}
	evt.SessionID = in.SessionID
	in.Progress(evt)
}

// Heuristics are the tunable repair constants shared by both engines.
type Heuristics struct {
	Parser             parser.Options
	BackfillAlignment  float64
	BackfillConfidence float64
}

func DefaultHeuristics() Heuristics {
	return Heuristics{
		Parser:             parser.DefaultOptions(),
		BackfillAlignment:  5,
		BackfillConfidence: 0.6,
	}
}

// RenderRequest formats the runtime context as the user message of a planning request.
func RenderRequest(in Input) string {
	rc := in.Context
	var b strings.Builder

	b.WriteString("## Outcome\n")
	b.WriteString(rc.Outcome.Text())
	b.WriteString("\n")
	if rc.Outcome.StatePreference != "" {
		fmt.Fprintf(&b, "Preferred working state: %s\n", rc.Outcome.StatePreference)
	}
	if rc.Outcome.DailyCapacity != nil {
		fmt.Fprintf(&b, "Daily capacity: %.1f hours\n", *rc.Outcome.DailyCapacity)
	}

	b.WriteString("\n## Reflections\n")
	if len(rc.Reflections) == 0 {
		b.WriteString("No active reflections.\n")
	}
	for _, r := range rc.Reflections {
		fmt.Fprintf(&b, "- (weight %.2f) %s\n", r.Weight, r.Text)
	}

	b.WriteString("\n")
	b.WriteString(rc.Incremental.Render())

	b.WriteString("\n## Previous Plan\n")
	if rc.PreviousPlan == nil {
		b.WriteString("No previous plan available.\n")
	} else if data, err := json.Marshal(rc.PreviousPlan); err == nil {
		b.Write(data)
		b.WriteString("\n")
	} else {
		b.WriteString("No previous plan available.\n")
	}

	b.WriteString("\n## Dependency Constraints\n")
	if len(in.Overrides) == 0 {
		b.WriteString("No manual dependency overrides.\n")
	}
	for _, d := range in.Overrides {
		fmt.Fprintf(&b, "- %s -> %s (%s, confidence %.2f)\n", d.SourceTaskID, d.TargetTaskID, d.RelationshipType, d.Confidence)
	}
	return b.String()
}

// withPinned appends manual-override annotations for tasks pinned in the
// previous plan so they survive even when the engine left them out.
func withPinned(obj map[string]any, tasks []plan.TaskSummary) {
	annotations, _ := obj["task_annotations"].([]any)
	for _, t := range tasks {
		if !t.ManualOverride {
			continue
		}
		annotations = append(annotations, map[string]any{
			"task_id":   t.TaskID,
			"state":     string(plan.StateManualOverride),
			"reasoning": "Pinned manually in the previous plan.",
		})
	}
	if annotations != nil {
		obj["task_annotations"] = annotations
	}
}

func systemAndUser(system, user string) []llms.MessageContent {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	return append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(user)},
	})
}

func failed(engine string, rec *Recorder, note string) plan.EngineRunResult {
	return plan.EngineRunResult{
		Engine:    engine,
		Status:    plan.StatusFailed,
		Metadata:  rec.Metadata(note),
		Trace:     rec.Trace(),
		Narrative: note,
	}
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/parser"
	"github.com/rahul/priorities/internal/plan"
)

// LegacyEngine asks the model for the whole plan in one structured call.
type LegacyEngine struct {
	Model      llms.Model
	Prompts    *PromptManager
	Logger     *observability.Logger
	Heuristics Heuristics
	Timeout    time.Duration
}

func NewLegacyEngine(model llms.Model, prompts *PromptManager, logger *observability.Logger) *LegacyEngine {
	return &LegacyEngine{
		Model:      model,
		Prompts:    prompts,
		Logger:     logger,
		Heuristics: DefaultHeuristics(),
	}
}

func (e *LegacyEngine) Name() string { return EngineLegacy }

func (e *LegacyEngine) Run(ctx context.Context, in Input) plan.EngineRunResult {
	rec := NewRecorder()
	if in.Context == nil {
		rec.Fail("no runtime context")
		return failed(EngineLegacy, rec, "The legacy planner had no context to work from.")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	systemPrompt, err := e.Prompts.GetLegacyPrompt()
	if err != nil {
		log.Printf("Warning: Failed to load legacy prompt: %v", err)
	}
	request := RenderRequest(in)
	messages := systemAndUser(systemPrompt, request)

	started := time.Now()
	resp, err := e.Model.GenerateContent(ctx, messages, llms.WithJSONMode())
	elapsed := time.Since(started)
	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = errors.New("model returned no choices")
	}
	if err != nil {
		rec.Thought("Requested a structured plan from the model", elapsed, err)
		note := describeCallError(ctx, "legacy planner", err)
		e.Logger.LogEngine(in.SessionID, EngineLegacy, map[string]any{"status": "failed", "error": err.Error()})
		return failed(EngineLegacy, rec, note)
	}

	content := resp.Choices[0].Content
	e.Logger.LogLLM(in.SessionID, EngineLegacy, request, content, nil)
	rec.Thought(fmt.Sprintf("Requested a structured plan from the model and received %d characters", len(content)), elapsed, nil)

	obj, narrative, err := parser.Extract(content)
	if err != nil {
		note := parser.Describe(parser.Result{Err: err, Narrative: narrative})
		rec.Fail("Model response contained no JSON object")
		e.Logger.LogEngine(in.SessionID, EngineLegacy, map[string]any{"status": "failed", "error": err.Error()})
		return failed(EngineLegacy, rec, note)
	}

	backfilled := Backfill(obj, e.Heuristics)
	shaped := ToPlanShape(obj)
	if unknown := restrictToPool(shaped, in.Context.Tasks); len(unknown) > 0 {
		log.Printf("Warning: dropping task ids outside the candidate pool: %s", strings.Join(unknown, ", "))
		rec.Thought(fmt.Sprintf("Dropped %d task ids the model invented", len(unknown)), 0, nil)
	}
	withPinned(shaped, in.Context.Tasks)

	p, err := parser.Build(shaped, narrative, e.Heuristics.Parser)
	if err != nil {
		note := parser.Describe(parser.Result{Err: err, Narrative: narrative})
		rec.Fail("Model response failed plan validation: " + err.Error())
		e.Logger.LogEngine(in.SessionID, EngineLegacy, map[string]any{"status": "failed", "error": err.Error()})
		return failed(EngineLegacy, rec, note)
	}
	rec.Thought(fmt.Sprintf("Validated plan with %d ordered tasks (%d scores backfilled)", len(p.OrderedTaskIDs), backfilled), 0, nil)

	note := p.SynthesisSummary
	e.Logger.LogEngine(in.SessionID, EngineLegacy, map[string]any{
		"status":     "completed",
		"ordered":    len(p.OrderedTaskIDs),
		"backfilled": backfilled,
	})
	return plan.EngineRunResult{
		Engine:    EngineLegacy,
		Status:    plan.StatusCompleted,
		Plan:      p,
		Metadata:  rec.Metadata(note),
		Trace:     rec.Trace(),
		Narrative: narrative,
	}
}

// Backfill synthesizes a per-task score for every included task that lacks
// one, using the task's alignment score (or the configured proxy) as impact
// and the configured default confidence. It returns how many were added.
func Backfill(obj map[string]any, h Heuristics) int {
	included, _ := obj["included_tasks"].([]any)
	if len(included) == 0 {
		return 0
	}
	scores, ok := obj["per_task_scores"].(map[string]any)
	if !ok {
		scores = make(map[string]any)
		obj["per_task_scores"] = scores
	}

	added := 0
	for _, item := range included {
		id, entry := includedEntry(item)
		if id == "" {
			continue
		}
		if _, ok := scores[id].(map[string]any); ok {
			continue
		}
		alignment := h.BackfillAlignment
		if v, ok := entry["alignment_score"].(float64); ok && v >= 0 && v <= 10 {
			alignment = v
		}
		reason, _ := entry["inclusion_reason"].(string)
		scores[id] = map[string]any{
			"impact":     alignment,
			"confidence": h.BackfillConfidence,
			"reasoning":  reason,
			"backfilled": true,
		}
		added++
	}
	return added
}

func includedEntry(item any) (string, map[string]any) {
	switch v := item.(type) {
	case string:
		return strings.TrimSpace(v), map[string]any{}
	case map[string]any:
		id, _ := v["task_id"].(string)
		return strings.TrimSpace(id), v
	}
	return "", nil
}

// ToPlanShape maps the single-shot response onto the plan object the parser
// understands. The whole ordering becomes one sequential wave.
func ToPlanShape(obj map[string]any) map[string]any {
	ordered, _ := obj["ordered_task_ids"].([]any)
	if len(ordered) == 0 {
		included, _ := obj["included_tasks"].([]any)
		for _, item := range included {
			if id, _ := includedEntry(item); id != "" {
				ordered = append(ordered, id)
			}
		}
	}

	shaped := map[string]any{
		"ordered_task_ids": ordered,
		"dependencies":     obj["dependencies"],
		"created_at":       obj["created_at"],
	}
	if len(ordered) > 0 {
		shaped["execution_waves"] = []any{map[string]any{
			"wave_number":        1,
			"task_ids":           ordered,
			"parallel_execution": false,
		}}
	}

	scores, _ := obj["per_task_scores"].(map[string]any)
	confidence := make(map[string]any, len(scores))
	for id, raw := range scores {
		if m, ok := raw.(map[string]any); ok {
			if c, ok := m["confidence"]; ok {
				confidence[id] = c
			}
		}
	}
	shaped["confidence_scores"] = confidence

	if s, ok := obj["synthesis_summary"].(string); ok && strings.TrimSpace(s) != "" {
		shaped["synthesis_summary"] = s
	} else if thoughts, ok := obj["thoughts"].(map[string]any); ok {
		shaped["synthesis_summary"] = thoughts["prioritization_strategy"]
	}

	var annotations []any
	included, _ := obj["included_tasks"].([]any)
	for _, item := range included {
		id, entry := includedEntry(item)
		if id == "" {
			continue
		}
		a := map[string]any{"task_id": id, "state": string(plan.StateActive)}
		if reason, ok := entry["inclusion_reason"].(string); ok {
			a["reasoning"] = reason
		}
		if m, ok := scores[id].(map[string]any); ok {
			if c, ok := m["confidence"]; ok {
				a["confidence"] = c
			}
		}
		annotations = append(annotations, a)
	}
	shaped["task_annotations"] = annotations

	var removed []any
	excluded, _ := obj["excluded_tasks"].([]any)
	for _, item := range excluded {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		r := map[string]any{"task_id": m["task_id"]}
		if reason, ok := m["exclusion_reason"]; ok {
			r["removal_reason"] = reason
		}
		removed = append(removed, r)
	}
	shaped["removed_tasks"] = removed
	return shaped
}

// restrictToPool removes ids outside the candidate pool from a plan-shaped
// object and returns them in first-seen order.
func restrictToPool(obj map[string]any, tasks []plan.TaskSummary) []string {
	pool := taskPool(tasks)
	reported := make(map[string]struct{})
	var unknown []string
	keep := func(items []any) []any {
		out := make([]any, 0, len(items))
		for _, item := range items {
			id := itemID(item)
			if _, ok := pool[id]; ok {
				out = append(out, item)
				continue
			}
			if _, dup := reported[id]; id != "" && !dup {
				reported[id] = struct{}{}
				unknown = append(unknown, id)
			}
		}
		return out
	}

	for _, key := range []string{"ordered_task_ids", "task_annotations", "removed_tasks"} {
		if items, ok := obj[key].([]any); ok {
			obj[key] = keep(items)
		}
	}
	if waves, ok := obj["execution_waves"].([]any); ok {
		for _, w := range waves {
			if m, ok := w.(map[string]any); ok {
				ids, _ := m["task_ids"].([]any)
				m["task_ids"] = keep(ids)
			}
		}
	}
	if scores, ok := obj["confidence_scores"].(map[string]any); ok {
		for id := range scores {
			if _, ok := pool[id]; !ok {
				delete(scores, id)
			}
		}
	}
	return unknown
}

func itemID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		return itemID(t["task_id"])
	}
	return ""
}

func describeCallError(ctx context.Context, who string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("The %s timed out before producing a plan.", who)
	}
	return fmt.Sprintf("The %s could not reach the model (%s).", who, plan.KindEngineExecution)
}

package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/priorities/internal/plan"
)

// DefaultSummary is used when neither the payload nor the narrative yield a summary.
const DefaultSummary = "Prioritized tasks based on outcome alignment and available context."

// Options holds the repair heuristics. The constants are placeholders rather
// than a calibrated confidence model, so they are configurable.
type Options struct {
	HighConfidence       float64
	LowConfidence        float64
	DependencyConfidence float64
	WaveSize             int
	Now                  func() time.Time
}

// DefaultOptions returns the stock heuristics.
func DefaultOptions() Options {
	return Options{
		HighConfidence:       0.90,
		LowConfidence:        0.55,
		DependencyConfidence: 0.55,
		WaveSize:             5,
		Now:                  func() time.Time { return time.Now().UTC() },
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HighConfidence == 0 && o.LowConfidence == 0 {
		o.HighConfidence, o.LowConfidence = d.HighConfidence, d.LowConfidence
	}
	if o.DependencyConfidence == 0 {
		o.DependencyConfidence = d.DependencyConfidence
	}
	if o.WaveSize <= 0 {
		o.WaveSize = d.WaveSize
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Result is the outcome of parsing one engine output.
type Result struct {
	Success   bool
	Plan      *plan.Plan
	Err       error
	Narrative string
}

// Parse converts raw engine output into a validated plan. raw may be nil, a
// string or byte slice of model text, a decoded JSON object, or any value that
// marshals to a JSON object.
func Parse(raw any, opts Options) Result {
	opts = opts.withDefaults()

	var (
		obj       map[string]any
		narrative string
	)
	switch v := raw.(type) {
	case nil:
		return failure(plan.ErrNilOutput, "")
	case string:
		o, n, err := Extract(v)
		if err != nil {
			return failure(err, n)
		}
		obj, narrative = o, n
	case []byte:
		return Parse(string(v), opts)
	case json.RawMessage:
		return Parse(string(v), opts)
	case map[string]any:
		if v == nil {
			return failure(plan.ErrNilOutput, "")
		}
		obj = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return failure(plan.Wrap(plan.KindParse, "marshal engine output", err), "")
		}
		o, err := decodeObject(string(data))
		if err != nil {
			return failure(plan.Wrap(plan.KindParse, "decode engine output", err), "")
		}
		obj = o
	}

	p, err := Build(obj, narrative, opts)
	if err != nil {
		return failure(err, narrative)
	}
	return Result{Success: true, Plan: p, Narrative: narrative}
}

func failure(err error, narrative string) Result {
	if !plan.IsKind(err, plan.KindParse) && !plan.IsKind(err, plan.KindValidation) {
		err = plan.Wrap(plan.KindParse, "parse engine output", err)
	}
	return Result{Err: err, Narrative: narrative}
}

// Build coerces a candidate object into a plan and runs the consistency pass.
func Build(obj map[string]any, narrative string, opts Options) (*plan.Plan, error) {
	opts = opts.withDefaults()

	ordered := coerceIDs(obj["ordered_task_ids"])
	if len(ordered) == 0 {
		return nil, plan.Wrap(plan.KindValidation, "coerce ordered ids", plan.ErrEmptyOrder)
	}

	p := &plan.Plan{
		OrderedTaskIDs:   ordered,
		ExecutionWaves:   coerceWaves(obj["execution_waves"], ordered, opts.WaveSize),
		Dependencies:     coerceDependencies(obj["dependencies"], opts.DependencyConfidence),
		ConfidenceScores: coerceConfidence(obj["confidence_scores"], ordered, opts),
		SynthesisSummary: summarize(obj["synthesis_summary"], narrative),
		TaskAnnotations:  coerceAnnotations(obj["task_annotations"]),
		RemovedTasks:     coerceRemovals(obj["removed_tasks"]),
		CreatedAt:        coerceTime(obj["created_at"], opts.Now),
	}

	plan.EnsureConsistency(p)
	if len(p.OrderedTaskIDs) == 0 {
		return nil, plan.Wrap(plan.KindValidation, "consistency pass", plan.ErrEmptyOrder)
	}
	if len(p.ExecutionWaves) == 0 {
		p.ExecutionWaves = DefaultWaves(p.OrderedTaskIDs, opts.WaveSize)
	}
	return p, nil
}

func coerceIDs(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			items = make([]any, len(ss))
			for i, s := range ss {
				items[i] = s
			}
		}
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id := coerceID(item); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func coerceID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return coerceID(t["task_id"])
	default:
		return ""
	}
}

// DefaultWaves chunks ordered ids into consecutive waves of size n.
func DefaultWaves(ordered []string, n int) []plan.ExecutionWave {
	if n <= 0 {
		n = DefaultOptions().WaveSize
	}
	var waves []plan.ExecutionWave
	for start := 0; start < len(ordered); start += n {
		end := start + n
		if end > len(ordered) {
			end = len(ordered)
		}
		ids := append([]string(nil), ordered[start:end]...)
		waves = append(waves, plan.ExecutionWave{
			WaveNumber:        len(waves) + 1,
			TaskIDs:           ids,
			ParallelExecution: len(ids) > 1,
		})
	}
	return waves
}

func coerceWaves(v any, ordered []string, size int) []plan.ExecutionWave {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return DefaultWaves(ordered, size)
	}
	known := make(map[string]struct{}, len(ordered))
	for _, id := range ordered {
		known[id] = struct{}{}
	}
	matched := false
	waves := make([]plan.ExecutionWave, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return DefaultWaves(ordered, size)
		}
		ids := coerceIDs(m["task_ids"])
		if len(ids) == 0 {
			return DefaultWaves(ordered, size)
		}
		for _, id := range ids {
			if _, ok := known[id]; ok {
				matched = true
			}
		}
		w := plan.ExecutionWave{WaveNumber: i + 1, TaskIDs: ids}
		if n, ok := number(m["wave_number"]); ok && n >= 1 {
			w.WaveNumber = int(n)
		}
		if b, ok := m["parallel_execution"].(bool); ok {
			w.ParallelExecution = b
		}
		if d, ok := number(m["estimated_duration_hours"]); ok && d >= 0 {
			w.EstimatedDuration = &d
		}
		waves = append(waves, w)
	}
	if !matched {
		return DefaultWaves(ordered, size)
	}
	return waves
}

func coerceDependencies(v any, defaultConfidence float64) []plan.TaskDependency {
	items, _ := v.([]any)
	deps := make([]plan.TaskDependency, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		src := coerceID(m["source_task_id"])
		dst := coerceID(m["target_task_id"])
		if src == "" || dst == "" || src == dst {
			continue
		}
		d := plan.TaskDependency{
			SourceTaskID:     src,
			TargetTaskID:     dst,
			RelationshipType: plan.RelPrerequisite,
			Confidence:       defaultConfidence,
			DetectionMethod:  plan.DetectedByModel,
		}
		switch rel, _ := m["relationship_type"].(string); plan.RelationshipType(rel) {
		case plan.RelPrerequisite, plan.RelBlocks, plan.RelRelated:
			d.RelationshipType = plan.RelationshipType(rel)
		}
		if c, ok := number(m["confidence"]); ok {
			d.Confidence = clampRound(c)
		}
		if method, _ := m["detection_method"].(string); plan.DetectionMethod(method) == plan.DetectedFromStore {
			d.DetectionMethod = plan.DetectedFromStore
		}
		deps = append(deps, d)
	}
	return deps
}

// PositionalConfidence interpolates linearly from high (first task) to low (last task).
func PositionalConfidence(index, total int, high, low float64) float64 {
	if total <= 1 {
		return clampRound(high)
	}
	return clampRound(high - (high-low)*float64(index)/float64(total-1))
}

func coerceConfidence(v any, ordered []string, opts Options) map[string]float64 {
	scores := make(map[string]float64, len(ordered))
	for i, id := range ordered {
		scores[id] = PositionalConfidence(i, len(ordered), opts.HighConfidence, opts.LowConfidence)
	}
	explicit, _ := v.(map[string]any)
	for id, raw := range explicit {
		if c, ok := number(raw); ok && id != "" {
			scores[id] = clampRound(c)
		}
	}
	return scores
}

func summarize(v any, narrative string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	if c := Condense(narrative); c != "" {
		return c
	}
	return DefaultSummary
}

func coerceAnnotations(v any) []plan.TaskAnnotation {
	items, _ := v.([]any)
	out := make([]plan.TaskAnnotation, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := coerceID(m["task_id"])
		if id == "" {
			continue
		}
		a := plan.TaskAnnotation{TaskID: id, State: plan.StateActive}
		if s, ok := m["state"].(string); ok && strings.TrimSpace(s) != "" {
			a.State = plan.AnnotationState(strings.TrimSpace(s))
		}
		if c, ok := number(m["confidence"]); ok {
			c = clampRound(c)
			a.Confidence = &c
		}
		a.Reasoning, _ = m["reasoning"].(string)
		a.DependencyNotes, _ = m["dependency_notes"].(string)
		a.RemovalReason, _ = m["removal_reason"].(string)
		out = append(out, a)
	}
	return out
}

func coerceRemovals(v any) []plan.TaskRemoval {
	items, _ := v.([]any)
	out := make([]plan.TaskRemoval, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := coerceID(m["task_id"])
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		reason, ok := m["removal_reason"].(string)
		if !ok {
			if m["removal_reason"] != nil {
				continue
			}
			reason = "Excluded during prioritization."
		}
		seen[id] = struct{}{}
		out = append(out, plan.TaskRemoval{TaskID: id, RemovalReason: strings.TrimSpace(reason)})
	}
	return out
}

func coerceTime(v any, now func() time.Time) time.Time {
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return now()
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clampRound(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return math.Round(v*100) / 100
}

// Describe renders a parse failure for status notes without exposing decoder internals.
func Describe(r Result) string {
	if r.Success {
		return ""
	}
	if c := Condense(r.Narrative); c != "" {
		return c
	}
	if plan.IsKind(r.Err, plan.KindValidation) {
		return "The planner response did not contain a usable task ordering."
	}
	kind := plan.KindParse
	var pe *plan.Error
	if errors.As(r.Err, &pe) {
		kind = pe.Kind
	}
	return fmt.Sprintf("The planner response could not be read as a plan (%s).", kind)
}

package contextbuilder

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rahul/priorities/internal/parser"
	"github.com/rahul/priorities/internal/plan"
)

// StoredPlan is one of the historical shapes a committed plan was saved in.
// Exactly three variants exist: CurrentPlan, ScoredResult and LegacyPlan.
type StoredPlan interface {
	Variant() string
	Canonical() *plan.Plan
	valid() bool
}

// CurrentPlan is the present plan schema.
type CurrentPlan struct {
	plan.Plan
}

func (CurrentPlan) Variant() string { return "current" }

func (c CurrentPlan) valid() bool {
	return len(c.OrderedTaskIDs) > 0 && len(c.ExecutionWaves) > 0
}

func (c CurrentPlan) Canonical() *plan.Plan {
	p := c.Plan
	plan.EnsureConsistency(&p)
	return &p
}

// ScoredResult is the intermediate shape: the raw engine result with
// per-task scores, saved before plans carried waves and annotations.
type ScoredResult struct {
	OrderedTaskIDs []string             `json:"ordered_task_ids"`
	PerTaskScores  map[string]TaskScore `json:"per_task_scores"`
	ExcludedTasks  []ExcludedTask       `json:"excluded_tasks"`
	Summary        string               `json:"synthesis_summary"`
	CreatedAt      time.Time            `json:"created_at"`
}

// TaskScore is a per-task scoring entry.
type TaskScore struct {
	Impact     float64 `json:"impact"`
	Effort     float64 `json:"effort"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// ExcludedTask is a task the engine decided not to include.
type ExcludedTask struct {
	TaskID          string `json:"task_id"`
	ExclusionReason string `json:"exclusion_reason"`
}

func (ScoredResult) Variant() string { return "scored" }

func (s ScoredResult) valid() bool {
	return len(s.OrderedTaskIDs) > 0 && len(s.PerTaskScores) > 0
}

func (s ScoredResult) Canonical() *plan.Plan {
	return scoredToPlan(s)
}

func scoredToPlan(s ScoredResult) *plan.Plan {
	opts := parser.DefaultOptions()
	p := &plan.Plan{
		OrderedTaskIDs:   append([]string(nil), s.OrderedTaskIDs...),
		ExecutionWaves:   parser.DefaultWaves(s.OrderedTaskIDs, opts.WaveSize),
		ConfidenceScores: make(map[string]float64, len(s.OrderedTaskIDs)),
		SynthesisSummary: s.Summary,
		CreatedAt:        s.CreatedAt,
	}
	for i, id := range s.OrderedTaskIDs {
		p.ConfidenceScores[id] = parser.PositionalConfidence(i, len(s.OrderedTaskIDs), opts.HighConfidence, opts.LowConfidence)
		if score, ok := s.PerTaskScores[id]; ok && score.Confidence > 0 {
			p.ConfidenceScores[id] = score.Confidence
		}
	}
	for _, ex := range s.ExcludedTasks {
		if ex.TaskID == "" {
			continue
		}
		p.RemovedTasks = append(p.RemovedTasks, plan.TaskRemoval{TaskID: ex.TaskID, RemovalReason: ex.ExclusionReason})
	}
	plan.EnsureConsistency(p)
	return p
}

// LegacyPlan is the original flat shape: a ranked list with confidences.
type LegacyPlan struct {
	PrioritizedTasks []LegacyTask `json:"prioritized_tasks"`
	Rationale        string       `json:"rationale"`
}

// LegacyTask is one ranked entry of a LegacyPlan.
type LegacyTask struct {
	TaskID     string  `json:"task_id"`
	Rank       int     `json:"rank"`
	Confidence float64 `json:"confidence"`
	Pinned     bool    `json:"pinned"`
}

func (LegacyPlan) Variant() string { return "legacy" }

func (l LegacyPlan) valid() bool {
	for _, t := range l.PrioritizedTasks {
		if t.TaskID != "" {
			return true
		}
	}
	return false
}

func (l LegacyPlan) Canonical() *plan.Plan {
	return legacyToPlan(l)
}

func legacyToPlan(l LegacyPlan) *plan.Plan {
	tasks := append([]LegacyTask(nil), l.PrioritizedTasks...)
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Rank < tasks[j].Rank })

	p := &plan.Plan{
		ConfidenceScores: make(map[string]float64, len(tasks)),
		SynthesisSummary: l.Rationale,
	}
	for _, t := range tasks {
		if t.TaskID == "" {
			continue
		}
		p.OrderedTaskIDs = append(p.OrderedTaskIDs, t.TaskID)
		if t.Confidence > 0 {
			p.ConfidenceScores[t.TaskID] = t.Confidence
		}
		if t.Pinned {
			p.TaskAnnotations = append(p.TaskAnnotations, plan.TaskAnnotation{TaskID: t.TaskID, State: plan.StateManualOverride})
		}
	}
	p.ExecutionWaves = parser.DefaultWaves(p.OrderedTaskIDs, parser.DefaultOptions().WaveSize)
	plan.EnsureConsistency(p)
	return p
}

// ErrUnknownPlanSchema is returned when no historical shape matches.
var ErrUnknownPlanSchema = errors.New("stored plan matches no known schema")

// DecodeStoredPlan tries the current, scored and legacy shapes in that order.
func DecodeStoredPlan(raw []byte) (StoredPlan, error) {
	if len(raw) == 0 {
		return nil, ErrUnknownPlanSchema
	}
	decoders := []func([]byte) (StoredPlan, error){
		decodeAs[CurrentPlan],
		decodeAs[ScoredResult],
		decodeAs[LegacyPlan],
	}
	var errs []error
	for _, decode := range decoders {
		sp, err := decode(raw)
		if err == nil {
			return sp, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownPlanSchema, errors.Join(errs...))
}

func decodeAs[T StoredPlan](raw []byte) (StoredPlan, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s: %w", v.Variant(), err)
	}
	if !v.valid() {
		return nil, fmt.Errorf("%s: required fields missing", v.Variant())
	}
	return v, nil
}

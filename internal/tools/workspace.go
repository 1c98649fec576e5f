package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rahul/priorities/internal/plan"
)

// Score is the loop's assessment of one task.
type Score struct {
	TaskID     string  `json:"task_id"`
	Impact     float64 `json:"impact"` // 0-10
	Effort     float64 `json:"effort"` // hours
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Priority is impact per effort hour, with effort floored at half an hour.
func (s Score) Priority() float64 {
	return s.Impact / math.Max(s.Effort, 0.5)
}

// Evaluation is the quality check of the current proposal.
type Evaluation struct {
	Quality  float64  `json:"quality"`
	Passed   bool     `json:"passed"`
	Coverage float64  `json:"coverage"`
	Scored   float64  `json:"scored"`
	Ordering float64  `json:"ordering"`
	Issues   []string `json:"issues,omitempty"`
}

// Workspace is the state shared by the planning tools during one loop.
type Workspace struct {
	mu          sync.Mutex
	tasks       map[string]plan.TaskSummary
	order       []string
	scores      map[string]Score
	proposal    map[string]any
	proposed    []string
	excluded    map[string]string
	evaluations int
	threshold   float64
}

func NewWorkspace(tasks []plan.TaskSummary, qualityThreshold float64) *Workspace {
	w := &Workspace{
		tasks:     make(map[string]plan.TaskSummary, len(tasks)),
		scores:    make(map[string]Score),
		excluded:  make(map[string]string),
		threshold: qualityThreshold,
	}
	for _, t := range tasks {
		if _, dup := w.tasks[t.TaskID]; dup {
			continue
		}
		w.tasks[t.TaskID] = t
		w.order = append(w.order, t.TaskID)
	}
	return w
}

func (w *Workspace) Task(id string) (plan.TaskSummary, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[id]
	return t, ok
}

func (w *Workspace) TaskCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

func (w *Workspace) ScoredCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.scores)
}

func (w *Workspace) OrderedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.proposed)
}

func (w *Workspace) Evaluations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.evaluations
}

// unknown returns the ids not present in the task pool.
func (w *Workspace) unknown(ids []string) []string {
	var out []string
	for _, id := range ids {
		if _, ok := w.tasks[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// RecordScores stores scores for known tasks, replacing earlier ones.
func (w *Workspace) RecordScores(scores []Score) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, len(scores))
	for i, s := range scores {
		ids[i] = s.TaskID
	}
	if bad := w.unknown(ids); len(bad) > 0 {
		return 0, fmt.Errorf("unknown task ids: %s", strings.Join(bad, ", "))
	}
	for _, s := range scores {
		s.Impact = math.Min(math.Max(s.Impact, 0), 10)
		s.Effort = math.Max(s.Effort, 0)
		s.Confidence = math.Min(math.Max(s.Confidence, 0), 1)
		w.scores[s.TaskID] = s
	}
	return len(scores), nil
}

// Propose replaces the current proposal. raw is the decoded tool input.
func (w *Workspace) Propose(raw map[string]any, ordered []string, excluded map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	all := append([]string(nil), ordered...)
	for id := range excluded {
		all = append(all, id)
	}
	if bad := w.unknown(all); len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("unknown task ids: %s", strings.Join(bad, ", "))
	}
	w.proposal = raw
	w.proposed = ordered
	w.excluded = excluded
	return nil
}

// Evaluate scores the current proposal for coverage of the pool, score
// coverage of ordered tasks, and agreement between order and priority.
func (w *Workspace) Evaluate() Evaluation {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evaluations++

	if len(w.proposed) == 0 {
		return Evaluation{Issues: []string{"no ordering has been proposed yet"}}
	}

	var ev Evaluation
	placed := make(map[string]struct{}, len(w.proposed)+len(w.excluded))
	for _, id := range w.proposed {
		placed[id] = struct{}{}
	}
	for id := range w.excluded {
		placed[id] = struct{}{}
	}
	var missing []string
	for _, id := range w.order {
		if _, ok := placed[id]; !ok {
			missing = append(missing, id)
		}
	}
	ev.Coverage = ratio(len(w.order)-len(missing), len(w.order))
	if len(missing) > 0 {
		ev.Issues = append(ev.Issues, fmt.Sprintf("%d tasks are neither ordered nor excluded: %s", len(missing), strings.Join(missing, ", ")))
	}

	var unscored []string
	for _, id := range w.proposed {
		if _, ok := w.scores[id]; !ok {
			unscored = append(unscored, id)
		}
	}
	ev.Scored = ratio(len(w.proposed)-len(unscored), len(w.proposed))
	if len(unscored) > 0 {
		ev.Issues = append(ev.Issues, fmt.Sprintf("%d ordered tasks have no recorded score: %s", len(unscored), strings.Join(unscored, ", ")))
	}

	pairs, agree := 0, 0
	var inversions []string
	for i := 1; i < len(w.proposed); i++ {
		a, okA := w.scores[w.proposed[i-1]]
		b, okB := w.scores[w.proposed[i]]
		if !okA || !okB {
			continue
		}
		pairs++
		if a.Priority() >= b.Priority() {
			agree++
			continue
		}
		inversions = append(inversions, fmt.Sprintf("%s before %s", a.TaskID, b.TaskID))
	}
	ev.Ordering = 1
	if pairs > 0 {
		ev.Ordering = ratio(agree, pairs)
	}
	if len(inversions) > 0 {
		ev.Issues = append(ev.Issues, "order contradicts recorded scores: "+strings.Join(inversions, "; "))
	}

	ev.Quality = math.Round((0.4*ev.Coverage+0.3*ev.Scored+0.3*ev.Ordering)*100) / 100
	ev.Passed = ev.Quality >= w.threshold
	return ev
}

// PlanObject returns the current proposal as a plan-shaped object, filling
// confidence, annotations and removals from the recorded scores and
// exclusions when the proposal itself does not carry them.
func (w *Workspace) PlanObject() (map[string]any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.proposal == nil {
		return nil, false
	}

	obj := make(map[string]any, len(w.proposal)+3)
	for k, v := range w.proposal {
		obj[k] = v
	}
	obj["ordered_task_ids"] = toAny(w.proposed)

	if _, ok := obj["confidence_scores"]; !ok {
		conf := make(map[string]any)
		for _, id := range w.proposed {
			if s, ok := w.scores[id]; ok && s.Confidence > 0 {
				conf[id] = s.Confidence
			}
		}
		obj["confidence_scores"] = conf
	}
	if _, ok := obj["task_annotations"]; !ok {
		var annotations []any
		for _, id := range w.proposed {
			s, ok := w.scores[id]
			if !ok {
				continue
			}
			a := map[string]any{"task_id": id, "state": string(plan.StateActive), "reasoning": s.Reasoning}
			if s.Confidence > 0 {
				a["confidence"] = s.Confidence
			}
			annotations = append(annotations, a)
		}
		obj["task_annotations"] = annotations
	}
	if _, ok := obj["removed_tasks"]; !ok {
		ids := make([]string, 0, len(w.excluded))
		for id := range w.excluded {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		removed := make([]any, 0, len(ids))
		for _, id := range ids {
			removed = append(removed, map[string]any{"task_id": id, "removal_reason": w.excluded[id]})
		}
		obj["removed_tasks"] = removed
	}
	return obj, true
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

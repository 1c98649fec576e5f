// Package contextbuilder assembles everything the planning engines read for
// one run: the outcome, weighted reflections, the candidate task pool with
// provenance from the last committed plan, and the incremental payload.
package contextbuilder

import (
	"context"
	"errors"
	"html"
	"log"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rahul/priorities/internal/incremental"
	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/plan"
	"github.com/rahul/priorities/internal/store"
)

type OutcomeReader interface {
	GetOutcome(ctx context.Context, outcomeID string) (plan.Outcome, error)
}

type ReflectionReader interface {
	ReflectionsByID(ctx context.Context, ids []string) ([]plan.Reflection, error)
	RecentReflections(ctx context.Context, userID string, limit int) ([]plan.Reflection, error)
}

// TaskPool is the primary completed-task store plus its structured-document fallback.
type TaskPool interface {
	CompletedTasks(ctx context.Context, userID string, excludedDocumentIDs []string) ([]plan.TaskSummary, error)
	StructuredDocumentTasks(ctx context.Context, userID string, excludedDocumentIDs []string) ([]plan.TaskSummary, error)
}

// Hydrator pushes fallback-derived tasks through the embedding pipeline so
// they land in the primary task pool.
type Hydrator interface {
	Hydrate(ctx context.Context, userID string, tasks []plan.TaskSummary) error
}

type PlanHistory interface {
	LatestCompletedPlan(ctx context.Context, userID, outcomeID string) (store.PreviousPlan, bool, error)
}

// Request identifies what to build a context for.
type Request struct {
	SessionID           string
	UserID              string
	OutcomeID           string
	ActiveReflectionIDs []string
	ExcludedDocumentIDs []string
}

// RuntimeContext is the assembled input of one orchestration run.
type RuntimeContext struct {
	Outcome         plan.Outcome
	Reflections     []plan.Reflection
	Tasks           []plan.TaskSummary
	PreviousPlan    *plan.Plan
	PreviousVariant string
	Baseline        plan.Baseline
	Incremental     incremental.Payload
	DuplicateIDs    []string
}

// DocumentIDs returns the distinct source documents of the considered pool,
// in first-seen order.
func (rc *RuntimeContext) DocumentIDs() []string {
	seen := make(map[string]struct{}, len(rc.Tasks))
	var ids []string
	for _, t := range rc.Tasks {
		if t.DocumentID == "" {
			continue
		}
		if _, ok := seen[t.DocumentID]; ok {
			continue
		}
		seen[t.DocumentID] = struct{}{}
		ids = append(ids, t.DocumentID)
	}
	return ids
}

// TaskIDs returns the ids of the candidate pool in order.
func (rc *RuntimeContext) TaskIDs() []string {
	ids := make([]string, len(rc.Tasks))
	for i, t := range rc.Tasks {
		ids[i] = t.TaskID
	}
	return ids
}

// Builder loads a RuntimeContext from its stores.
type Builder struct {
	Outcomes    OutcomeReader
	Reflections ReflectionReader
	Tasks       TaskPool
	Hydrator    Hydrator
	History     PlanHistory
	Logger      *observability.Logger

	RecentReflectionLimit int

	sanitizer *bluemonday.Policy
}

func NewBuilder(outcomes OutcomeReader, reflections ReflectionReader, tasks TaskPool, hydrator Hydrator, history PlanHistory, logger *observability.Logger) *Builder {
	return &Builder{
		Outcomes:              outcomes,
		Reflections:           reflections,
		Tasks:                 tasks,
		Hydrator:              hydrator,
		History:               history,
		Logger:                logger,
		RecentReflectionLimit: 5,
		sanitizer:             bluemonday.StrictPolicy(),
	}
}

// Build assembles the runtime context. Every returned error is a context_build
// failure; no engine should run after one.
func (b *Builder) Build(ctx context.Context, req Request) (*RuntimeContext, error) {
	const op = "contextbuilder.Build"

	outcome, err := b.Outcomes.GetOutcome(ctx, req.OutcomeID)
	if err != nil {
		return nil, plan.Wrap(plan.KindContextBuild, op, err)
	}
	outcome.AssembledText = b.clean(outcome.Text())

	rc := &RuntimeContext{
		Outcome:     outcome,
		Reflections: b.loadReflections(ctx, req),
	}

	tasks, err := b.loadTasks(ctx, req)
	if err != nil {
		return nil, plan.Wrap(plan.KindContextBuild, op, err)
	}
	tasks, rc.DuplicateIDs = dedupeTasks(tasks)
	if len(tasks) == 0 {
		return nil, plan.Wrap(plan.KindContextBuild, op, ErrNoCandidateTasks)
	}

	b.loadPreviousPlan(ctx, req, rc)
	rc.Tasks = Augment(tasks, rc.PreviousPlan)
	rc.Incremental = incremental.Reduce(rc.Tasks, rc.Baseline)

	b.Logger.LogContext(req.SessionID, map[string]any{
		"outcome_id":        req.OutcomeID,
		"reflections":       len(rc.Reflections),
		"tasks":             len(rc.Tasks),
		"duplicates":        rc.DuplicateIDs,
		"previous_plan":     rc.PreviousVariant,
		"first_run":         rc.Incremental.FirstRun,
		"new_tasks":         len(rc.Incremental.NewTasks),
		"baseline_docs":     len(rc.Baseline.DocumentIDs),
		"estimated_savings": rc.Incremental.EstimatedSavings,
	})
	return rc, nil
}

// ErrNoCandidateTasks means neither the task pool nor the fallback produced a task.
var ErrNoCandidateTasks = errors.New("no candidate tasks available")

func (b *Builder) loadReflections(ctx context.Context, req Request) []plan.Reflection {
	if b.Reflections == nil {
		return nil
	}
	var (
		refs []plan.Reflection
		err  error
	)
	if len(req.ActiveReflectionIDs) > 0 {
		refs, err = b.Reflections.ReflectionsByID(ctx, req.ActiveReflectionIDs)
	} else {
		refs, err = b.Reflections.RecentReflections(ctx, req.UserID, b.RecentReflectionLimit)
	}
	if err != nil {
		log.Printf("Warning: reflections unavailable for user %s, continuing without them: %v", req.UserID, err)
		return nil
	}
	out := refs[:0]
	for _, r := range refs {
		r.Text = b.clean(r.Text)
		if r.Text == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (b *Builder) loadTasks(ctx context.Context, req Request) ([]plan.TaskSummary, error) {
	tasks, err := b.Tasks.CompletedTasks(ctx, req.UserID, req.ExcludedDocumentIDs)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		tasks, err = b.fallbackTasks(ctx, req)
		if err != nil {
			return nil, err
		}
	}
	for i := range tasks {
		tasks[i].Text = b.clean(tasks[i].Text)
	}
	return tasks, nil
}

func (b *Builder) fallbackTasks(ctx context.Context, req Request) ([]plan.TaskSummary, error) {
	derived, err := b.Tasks.StructuredDocumentTasks(ctx, req.UserID, req.ExcludedDocumentIDs)
	if err != nil {
		return nil, err
	}
	if len(derived) == 0 {
		return nil, nil
	}
	if b.Hydrator == nil {
		return derived, nil
	}
	if err := b.Hydrator.Hydrate(ctx, req.UserID, derived); err != nil {
		log.Printf("Warning: hydrating %d fallback tasks failed: %v", len(derived), err)
		return derived, nil
	}
	retried, err := b.Tasks.CompletedTasks(ctx, req.UserID, req.ExcludedDocumentIDs)
	if err != nil {
		return nil, err
	}
	if len(retried) == 0 {
		return derived, nil
	}
	return retried, nil
}

func (b *Builder) loadPreviousPlan(ctx context.Context, req Request, rc *RuntimeContext) {
	if b.History == nil {
		return
	}
	prev, found, err := b.History.LatestCompletedPlan(ctx, req.UserID, req.OutcomeID)
	if err != nil {
		log.Printf("Warning: previous plan lookup failed for outcome %s: %v", req.OutcomeID, err)
		return
	}
	if !found {
		return
	}
	stored, err := DecodeStoredPlan(prev.Raw)
	if err != nil {
		log.Printf("Warning: previous plan of session %s ignored: %v", prev.SessionID, err)
		return
	}
	rc.PreviousPlan = stored.Canonical()
	rc.PreviousVariant = stored.Variant()
	rc.Baseline = prev.Baseline
}

// clean strips markup and decodes entities from user-supplied text.
func (b *Builder) clean(s string) string {
	if b.sanitizer == nil {
		b.sanitizer = bluemonday.StrictPolicy()
	}
	s = html.UnescapeString(b.sanitizer.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

func dedupeTasks(tasks []plan.TaskSummary) ([]plan.TaskSummary, []string) {
	seen := make(map[string]struct{}, len(tasks))
	out := make([]plan.TaskSummary, 0, len(tasks))
	var dups []string
	for _, t := range tasks {
		if t.TaskID == "" {
			continue
		}
		if _, ok := seen[t.TaskID]; ok {
			log.Printf("Warning: dropping duplicate task id %s from candidate pool", t.TaskID)
			dups = append(dups, t.TaskID)
			continue
		}
		seen[t.TaskID] = struct{}{}
		out = append(out, t)
	}
	return out, dups
}

// Augment copies tasks and fills in their provenance from prev.
func Augment(tasks []plan.TaskSummary, prev *plan.Plan) []plan.TaskSummary {
	out := make([]plan.TaskSummary, len(tasks))
	copy(out, tasks)
	if prev == nil {
		return out
	}

	rank := make(map[string]int, len(prev.OrderedTaskIDs))
	for i, id := range prev.OrderedTaskIDs {
		rank[id] = i + 1
	}
	annotations := make(map[string]plan.TaskAnnotation, len(prev.TaskAnnotations))
	for _, a := range prev.TaskAnnotations {
		annotations[a.TaskID] = a
	}
	removed := make(map[string]string, len(prev.RemovedTasks))
	for _, r := range prev.RemovedTasks {
		removed[r.TaskID] = r.RemovalReason
	}

	for i := range out {
		id := out[i].TaskID
		if r, ok := rank[id]; ok {
			out[i].PreviousRank = &r
		}
		if c, ok := prev.ConfidenceScores[id]; ok {
			out[i].PreviousConfidence = &c
		}
		if a, ok := annotations[id]; ok {
			out[i].PreviousState = a.State
			out[i].ManualOverride = a.State == plan.StateManualOverride
			if out[i].RemovalReason == "" {
				out[i].RemovalReason = a.RemovalReason
			}
		}
		if reason, ok := removed[id]; ok {
			out[i].RemovalReason = reason
		}
	}
	return out
}

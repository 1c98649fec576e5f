package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// PlanningTools returns the tools the hybrid loop uses over ws.
func PlanningTools(ws *Workspace) []Tool {
	return []Tool{
		&TaskDetailsTool{Workspace: ws},
		&RecordScoresTool{Workspace: ws},
		&ProposeOrderTool{Workspace: ws},
		&EvaluatePlanTool{Workspace: ws},
	}
}

type TaskDetailsTool struct {
	Workspace *Workspace
}

func (t *TaskDetailsTool) Name() string {
	return "get_task_details"
}

func (t *TaskDetailsTool) Description() string {
	return "Fetch the full text and previous-plan provenance of candidate tasks by id."
}

func (t *TaskDetailsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Ids of the tasks to look up.",
			},
		},
		"required": []string{"task_ids"},
	}
}

func (t *TaskDetailsTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		TaskIDs []string `json:"task_ids"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if len(args.TaskIDs) == 0 {
		return "", fmt.Errorf("task_ids is required")
	}

	found := make([]any, 0, len(args.TaskIDs))
	var missing []string
	for _, id := range args.TaskIDs {
		task, ok := t.Workspace.Task(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		found = append(found, task)
	}
	if len(found) == 0 {
		return "", fmt.Errorf("unknown task ids: %s", strings.Join(missing, ", "))
	}
	out := map[string]any{"tasks": found}
	if len(missing) > 0 {
		out["unknown_task_ids"] = missing
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type RecordScoresTool struct {
	Workspace *Workspace
}

func (t *RecordScoresTool) Name() string {
	return "record_scores"
}

func (t *RecordScoresTool) Description() string {
	return "Record impact (0-10), effort (hours) and confidence (0-1) for one or more tasks. Later scores replace earlier ones."
}

func (t *RecordScoresTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"scores": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_id":    map[string]any{"type": "string"},
						"impact":     map[string]any{"type": "number"},
						"effort":     map[string]any{"type": "number"},
						"confidence": map[string]any{"type": "number"},
						"reasoning":  map[string]any{"type": "string"},
					},
					"required": []string{"task_id", "impact", "effort", "confidence"},
				},
			},
		},
		"required": []string{"scores"},
	}
}

func (t *RecordScoresTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Scores []Score `json:"scores"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if len(args.Scores) == 0 {
		return "", fmt.Errorf("scores is required")
	}
	n, err := t.Workspace.RecordScores(args.Scores)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Recorded %d scores. %d of %d tasks are scored.", n, t.Workspace.ScoredCount(), t.Workspace.TaskCount()), nil
}

type ProposeOrderTool struct {
	Workspace *Workspace
}

func (t *ProposeOrderTool) Name() string {
	return "propose_order"
}

func (t *ProposeOrderTool) Description() string {
	return "Submit or replace the full prioritized ordering, with exclusions, dependencies and optional execution waves."
}

func (t *ProposeOrderTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ordered_task_ids": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"excluded_tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"task_id":          map[string]any{"type": "string"},
						"exclusion_reason": map[string]any{"type": "string"},
					},
					"required": []string{"task_id", "exclusion_reason"},
				},
			},
			"dependencies": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"source_task_id":    map[string]any{"type": "string"},
						"target_task_id":    map[string]any{"type": "string"},
						"relationship_type": map[string]any{"type": "string", "enum": []string{"prerequisite", "blocks", "related"}},
						"confidence":        map[string]any{"type": "number"},
					},
					"required": []string{"source_task_id", "target_task_id"},
				},
			},
			"execution_waves": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"wave_number":              map[string]any{"type": "integer"},
						"task_ids":                 map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"parallel_execution":       map[string]any{"type": "boolean"},
						"estimated_duration_hours": map[string]any{"type": "number"},
					},
				},
			},
			"synthesis_summary": map[string]any{
				"type":        "string",
				"description": "One or two sentences explaining the ordering.",
			},
		},
		"required": []string{"ordered_task_ids"},
	}
}

func (t *ProposeOrderTool) Execute(ctx context.Context, input string) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	var args struct {
		OrderedTaskIDs []string `json:"ordered_task_ids"`
		ExcludedTasks  []struct {
			TaskID          string `json:"task_id"`
			ExclusionReason string `json:"exclusion_reason"`
		} `json:"excluded_tasks"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if len(args.OrderedTaskIDs) == 0 {
		return "", fmt.Errorf("ordered_task_ids must not be empty")
	}

	excluded := make(map[string]string, len(args.ExcludedTasks))
	for _, ex := range args.ExcludedTasks {
		reason := strings.TrimSpace(ex.ExclusionReason)
		if reason == "" {
			reason = "Excluded during prioritization."
		}
		excluded[ex.TaskID] = reason
	}
	delete(raw, "excluded_tasks")

	if err := t.Workspace.Propose(raw, args.OrderedTaskIDs, excluded); err != nil {
		return "", err
	}
	return fmt.Sprintf("Ordering accepted: %d ordered, %d excluded. Call evaluate_plan to check it.", len(args.OrderedTaskIDs), len(excluded)), nil
}

type EvaluatePlanTool struct {
	Workspace *Workspace
}

func (t *EvaluatePlanTool) Name() string {
	return "evaluate_plan"
}

func (t *EvaluatePlanTool) Description() string {
	return "Check the current ordering for coverage, missing scores and order/score contradictions."
}

func (t *EvaluatePlanTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *EvaluatePlanTool) Execute(ctx context.Context, input string) (string, error) {
	data, err := json.Marshal(t.Workspace.Evaluate())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

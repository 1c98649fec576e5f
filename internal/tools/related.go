package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/vectorstores"
)

// RelatedTasksTool looks up pool tasks semantically close to a query through
// the task embedding store. Hits outside the current pool are ignored.
type RelatedTasksTool struct {
	Store     vectorstores.VectorStore
	Workspace *Workspace
	Limit     int
}

func NewRelatedTasksTool(store vectorstores.VectorStore, ws *Workspace) *RelatedTasksTool {
	return &RelatedTasksTool{Store: store, Workspace: ws, Limit: 5}
}

func (r *RelatedTasksTool) Name() string {
	return "find_related_tasks"
}

func (r *RelatedTasksTool) Description() string {
	return "Find candidate tasks related to a description, useful for spotting duplicates and dependencies."
}

func (r *RelatedTasksTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The natural language description to search for",
			},
		},
		"required": []string{"query"},
	}
}

func (r *RelatedTasksTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	limit := r.Limit
	if limit <= 0 {
		limit = 5
	}
	docs, err := r.Store.SimilaritySearch(ctx, args.Query, limit)
	if err != nil {
		return "", fmt.Errorf("similarity search: %w", err)
	}

	type hit struct {
		TaskID string  `json:"task_id"`
		Text   string  `json:"task_text"`
		Score  float32 `json:"score"`
	}
	var hits []hit
	for _, d := range docs {
		id, _ := d.Metadata["task_id"].(string)
		task, ok := r.Workspace.Task(id)
		if !ok {
			continue
		}
		hits = append(hits, hit{TaskID: id, Text: task.Text, Score: d.Score})
	}
	if len(hits) == 0 {
		return "No related tasks found in the current pool.", nil
	}
	data, err := json.Marshal(hits)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

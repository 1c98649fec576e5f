package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/priorities/internal/plan"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

const taskStatusCompleted = "completed"

// PutTask writes a task into the pool with the given embedding status.
func (s *Store) PutTask(ctx context.Context, userID string, t plan.TaskSummary, status string) error {
	source := t.Source
	if source == "" {
		source = plan.SourceExtraction
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO task_embeddings (task_id, task_text, document_id, user_id, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Text, t.DocumentID, userID, string(source), status, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("put task: %w", err)
	}
	return nil
}

// CompletedTasks returns the user's embedded tasks, skipping excluded documents.
func (s *Store) CompletedTasks(ctx context.Context, userID string, excludedDocumentIDs []string) ([]plan.TaskSummary, error) {
	query := `SELECT task_id, task_text, document_id, source FROM task_embeddings
		WHERE user_id = ? AND status = ?`
	args := []any{userID, taskStatusCompleted}
	if len(excludedDocumentIDs) > 0 {
		query += ` AND document_id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(excludedDocumentIDs)), ",") + `)`
		for _, id := range excludedDocumentIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at ASC, task_id ASC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []plan.TaskSummary
	for rows.Next() {
		var (
			t      plan.TaskSummary
			source string
		)
		if err := rows.Scan(&t.TaskID, &t.Text, &t.DocumentID, &source); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Source = plan.TaskSource(source)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// PutStructuredDocument stores the extracted action list of a document.
func (s *Store) PutStructuredDocument(ctx context.Context, userID, documentID string, actions []string) error {
	data, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO structured_documents (document_id, user_id, actions_json, created_at)
		VALUES (?, ?, ?, ?)`, documentID, userID, string(data), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("put structured document: %w", err)
	}
	return nil
}

// structuredActions is the stored shape of a document's extracted actions.
// Older rows hold objects with a text field instead of plain strings.
type structuredActions struct {
	Actions []json.RawMessage `json:"actions"`
}

// StructuredDocumentTasks derives candidate tasks from structured document
// actions. It is the fallback source when the task pool is empty.
func (s *Store) StructuredDocumentTasks(ctx context.Context, userID string, excludedDocumentIDs []string) ([]plan.TaskSummary, error) {
	excluded := make(map[string]struct{}, len(excludedDocumentIDs))
	for _, id := range excludedDocumentIDs {
		excluded[id] = struct{}{}
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT document_id, actions_json FROM structured_documents
		WHERE user_id = ? ORDER BY created_at ASC, document_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query structured documents: %w", err)
	}
	defer rows.Close()

	var out []plan.TaskSummary
	for rows.Next() {
		var docID, raw string
		if err := rows.Scan(&docID, &raw); err != nil {
			return nil, fmt.Errorf("scan structured document: %w", err)
		}
		if _, skip := excluded[docID]; skip {
			continue
		}
		var doc structuredActions
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		for i, a := range doc.Actions {
			text := actionText(a)
			if text == "" {
				continue
			}
			out = append(out, plan.TaskSummary{
				TaskID:     fmt.Sprintf("%s-action-%d", docID, i+1),
				Text:       text,
				DocumentID: docID,
				Source:     plan.SourceFallback,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate structured documents: %w", err)
	}
	return out, nil
}

func actionText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Text)
	}
	return ""
}

// VectorHydrator pushes fallback-derived tasks through the embedding pipeline
// and marks them completed in the task pool.
type VectorHydrator struct {
	Vectors vectorstores.VectorStore
	Tasks   *Store
}

func NewVectorHydrator(vectors vectorstores.VectorStore, tasks *Store) *VectorHydrator {
	return &VectorHydrator{Vectors: vectors, Tasks: tasks}
}

// Hydrate embeds tasks and writes them into the pool for userID.
func (h *VectorHydrator) Hydrate(ctx context.Context, userID string, tasks []plan.TaskSummary) error {
	if len(tasks) == 0 {
		return nil
	}
	if h.Vectors != nil {
		docs := make([]schema.Document, len(tasks))
		for i, t := range tasks {
			docs[i] = schema.Document{
				PageContent: t.Text,
				Metadata: map[string]any{
					"task_id":     t.TaskID,
					"document_id": t.DocumentID,
					"user_id":     userID,
					"source":      string(t.Source),
				},
			}
		}
		if _, err := h.Vectors.AddDocuments(ctx, docs); err != nil {
			return fmt.Errorf("embed tasks: %w", err)
		}
	}
	for _, t := range tasks {
		if err := h.Tasks.PutTask(ctx, userID, t, taskStatusCompleted); err != nil {
			return err
		}
	}
	return nil
}

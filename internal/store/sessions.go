package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rahul/priorities/internal/plan"
)

// SessionRecord is the canonical result of one orchestration run.
type SessionRecord struct {
	ID                  string                 `json:"id"`
	UserID              string                 `json:"user_id"`
	OutcomeID           string                 `json:"outcome_id"`
	Status              plan.RunStatus         `json:"status"`
	Plan                *plan.Plan             `json:"prioritized_plan"`
	ExcludedTasks       []plan.TaskRemoval     `json:"excluded_tasks"`
	BaselineDocumentIDs []string               `json:"baseline_document_ids"`
	Metadata            plan.ExecutionMetadata `json:"execution_metadata"`
	Loop                *plan.LoopMetadata     `json:"loop_metadata,omitempty"`
	Trace               []plan.ReasoningStep   `json:"reasoning_trace"`
	CreatedAt           time.Time              `json:"created_at"`
	CompletedAt         time.Time              `json:"completed_at"`
}

// PreviousPlan is the raw stored plan of the last completed session and its baseline.
type PreviousPlan struct {
	SessionID string
	Raw       json.RawMessage
	Baseline  plan.Baseline
}

// ErrSessionNotFound is returned by GetSession for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// SaveSession writes the whole session record in one transaction.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	var planJSON any
	if rec.Plan != nil {
		data, err := json.Marshal(rec.Plan)
		if err != nil {
			return fmt.Errorf("marshal plan: %w", err)
		}
		planJSON = string(data)
	}
	excluded, err := marshalText(nonNil(rec.ExcludedTasks))
	if err != nil {
		return err
	}
	baseline, err := marshalText(nonNil(rec.BaselineDocumentIDs))
	if err != nil {
		return err
	}
	metadata, err := marshalText(rec.Metadata)
	if err != nil {
		return err
	}
	var loop any
	if rec.Loop != nil {
		if loop, err = marshalText(rec.Loop); err != nil {
			return err
		}
	}
	trace, err := marshalText(nonNil(rec.Trace))
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.now()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO agent_sessions
			(id, user_id, outcome_id, status, prioritized_plan, excluded_tasks, baseline_document_ids,
			 execution_metadata, loop_metadata, reasoning_trace, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.OutcomeID, string(rec.Status), planJSON, excluded, baseline,
		metadata, loop, trace, formatTime(rec.CreatedAt), formatTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// SaveRawSession stores a completed session with an arbitrary plan payload.
// It is used to import plans written by older schema versions.
func (s *Store) SaveRawSession(ctx context.Context, id, userID, outcomeID string, raw json.RawMessage, baselineIDs []string, completedAt time.Time) error {
	baseline, err := marshalText(nonNil(baselineIDs))
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO agent_sessions
			(id, user_id, outcome_id, status, prioritized_plan, baseline_document_ids, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, outcomeID, string(plan.StatusCompleted), string(raw), baseline,
		formatTime(completedAt), formatTime(completedAt))
	if err != nil {
		return fmt.Errorf("write raw session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var (
		rec                                SessionRecord
		status, created                    string
		planJSON, excluded, baseline, meta sql.NullString
		loop, trace, completed             sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, outcome_id, status, prioritized_plan, excluded_tasks, baseline_document_ids,
		       execution_metadata, loop_metadata, reasoning_trace, created_at, completed_at
		FROM agent_sessions WHERE id = ?`, id).Scan(
		&rec.ID, &rec.UserID, &rec.OutcomeID, &status, &planJSON, &excluded, &baseline,
		&meta, &loop, &trace, &created, &completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}

	rec.Status = plan.RunStatus(status)
	rec.CreatedAt = parseTime(created)
	if completed.Valid {
		rec.CompletedAt = parseTime(completed.String)
	}
	if planJSON.Valid {
		var p plan.Plan
		if err := json.Unmarshal([]byte(planJSON.String), &p); err == nil {
			rec.Plan = &p
		}
	}
	unmarshalText(excluded, &rec.ExcludedTasks)
	unmarshalText(baseline, &rec.BaselineDocumentIDs)
	unmarshalText(meta, &rec.Metadata)
	unmarshalText(trace, &rec.Trace)
	if loop.Valid {
		var l plan.LoopMetadata
		if json.Unmarshal([]byte(loop.String), &l) == nil {
			rec.Loop = &l
		}
	}
	return rec, nil
}

// LatestCompletedPlan returns the plan of the user's most recent completed
// session for the outcome. found is false when there is none.
func (s *Store) LatestCompletedPlan(ctx context.Context, userID, outcomeID string) (PreviousPlan, bool, error) {
	var (
		prev          PreviousPlan
		raw, baseline sql.NullString
		completed     sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, prioritized_plan, baseline_document_ids, completed_at
		FROM agent_sessions
		WHERE user_id = ? AND outcome_id = ? AND status = ? AND prioritized_plan IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1`,
		userID, outcomeID, string(plan.StatusCompleted)).Scan(&prev.SessionID, &raw, &baseline, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return PreviousPlan{}, false, nil
	}
	if err != nil {
		return PreviousPlan{}, false, fmt.Errorf("latest completed plan: %w", err)
	}
	prev.Raw = json.RawMessage(raw.String)
	unmarshalText(baseline, &prev.Baseline.DocumentIDs)
	if completed.Valid {
		prev.Baseline.CreatedAt = parseTime(completed.String)
	}
	return prev, true, nil
}

func marshalText(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal session field: %w", err)
	}
	return string(data), nil
}

func unmarshalText(ns sql.NullString, dst any) {
	if !ns.Valid || ns.String == "" {
		return
	}
	_ = json.Unmarshal([]byte(ns.String), dst)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

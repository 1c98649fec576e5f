package plan

import (
	"strings"
	"time"
)

// Outcome is the user's long-term goal statement.
type Outcome struct {
	ID              string   `json:"id"`
	UserID          string   `json:"user_id"`
	Direction       string   `json:"direction"`
	Object          string   `json:"object"`
	Metric          string   `json:"metric"`
	Clarifier       string   `json:"clarifier"`
	AssembledText   string   `json:"assembled_text"`
	StatePreference string   `json:"state_preference,omitempty"`
	DailyCapacity   *float64 `json:"daily_capacity_hours,omitempty"`
}

// Text returns the assembled statement, composing one from the parts when absent.
func (o Outcome) Text() string {
	if s := strings.TrimSpace(o.AssembledText); s != "" {
		return s
	}
	parts := []string{o.Direction, o.Object}
	if o.Metric != "" {
		parts = append(parts, "by "+o.Metric)
	}
	if o.Clarifier != "" {
		parts = append(parts, "through "+o.Clarifier)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// Reflection is a short situational note, already weighted by recency.
type Reflection struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Weight    float64   `json:"weight"`
	Active    bool      `json:"active"`
}

// TaskSource tags where a candidate task came from.
type TaskSource string

const (
	SourceExtraction TaskSource = "extraction"
	SourceFallback   TaskSource = "structured_output"
)

// TaskSummary is a candidate action item plus provenance from the previous plan.
type TaskSummary struct {
	TaskID       string     `json:"task_id"`
	Text         string     `json:"task_text"`
	DocumentID   string     `json:"document_id"`
	Source       TaskSource `json:"source"`
	PreviousRank *int       `json:"previous_rank,omitempty"`

	PreviousConfidence *float64        `json:"previous_confidence,omitempty"`
	PreviousState      AnnotationState `json:"previous_state,omitempty"`
	RemovalReason      string          `json:"removal_reason,omitempty"`
	ManualOverride     bool            `json:"manual_override,omitempty"`
}

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rahul/priorities/internal/plan"
)

// Fixture is a YAML description of one user's outcome, reflections and task
// pool, used to seed a database by hand.
type Fixture struct {
	UserID      string              `yaml:"user_id"`
	Outcome     FixtureOutcome      `yaml:"outcome"`
	Reflections []FixtureReflection `yaml:"reflections"`
	Tasks       []FixtureTask       `yaml:"tasks"`
	Documents   []FixtureDocument   `yaml:"documents"`
}

type FixtureOutcome struct {
	ID              string   `yaml:"id"`
	Direction       string   `yaml:"direction"`
	Object          string   `yaml:"object"`
	Metric          string   `yaml:"metric"`
	Clarifier       string   `yaml:"clarifier"`
	AssembledText   string   `yaml:"assembled_text"`
	StatePreference string   `yaml:"state_preference"`
	DailyCapacity   *float64 `yaml:"daily_capacity_hours"`
}

type FixtureReflection struct {
	ID      string `yaml:"id"`
	Text    string `yaml:"text"`
	DaysAgo int    `yaml:"days_ago"`
	// Inactive reflections are stored but never picked as recent.
	Inactive bool `yaml:"inactive"`
}

type FixtureTask struct {
	ID         string `yaml:"id"`
	Text       string `yaml:"text"`
	DocumentID string `yaml:"document_id"`
}

// FixtureDocument is a processed document whose structured actions have not
// been embedded yet.
type FixtureDocument struct {
	ID      string   `yaml:"id"`
	Actions []string `yaml:"actions"`
}

func LoadFixture(path string) (Fixture, error) {
	var f Fixture
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read fixture: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode fixture: %w", err)
	}
	if f.UserID == "" || f.Outcome.ID == "" {
		return f, errors.New("fixture needs user_id and outcome.id")
	}
	return f, nil
}

// Seed writes the fixture into the store, replacing rows with the same ids.
func (s *Store) Seed(ctx context.Context, f Fixture) error {
	o := f.Outcome
	err := s.PutOutcome(ctx, plan.Outcome{
		ID:              o.ID,
		UserID:          f.UserID,
		Direction:       o.Direction,
		Object:          o.Object,
		Metric:          o.Metric,
		Clarifier:       o.Clarifier,
		AssembledText:   o.AssembledText,
		StatePreference: o.StatePreference,
		DailyCapacity:   o.DailyCapacity,
	})
	if err != nil {
		return err
	}

	now := s.now()
	for _, r := range f.Reflections {
		err := s.PutReflection(ctx, plan.Reflection{
			ID:        r.ID,
			UserID:    f.UserID,
			Text:      r.Text,
			CreatedAt: now.Add(-time.Duration(r.DaysAgo) * 24 * time.Hour),
			Active:    !r.Inactive,
		})
		if err != nil {
			return err
		}
	}

	for _, t := range f.Tasks {
		task := plan.TaskSummary{TaskID: t.ID, Text: t.Text, DocumentID: t.DocumentID, Source: plan.SourceExtraction}
		if err := s.PutTask(ctx, f.UserID, task, taskStatusCompleted); err != nil {
			return err
		}
	}

	for _, d := range f.Documents {
		if err := s.PutStructuredDocument(ctx, f.UserID, d.ID, d.Actions); err != nil {
			return err
		}
	}
	return nil
}

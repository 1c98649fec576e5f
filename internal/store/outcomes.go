package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rahul/priorities/internal/plan"
)

// reflectionHalfLife controls how quickly a reflection's weight decays.
const reflectionHalfLife = 7 * 24 * time.Hour

// GetOutcome returns the outcome by id or plan.ErrOutcomeNotFound.
func (s *Store) GetOutcome(ctx context.Context, outcomeID string) (plan.Outcome, error) {
	var (
		o        plan.Outcome
		capacity sql.NullFloat64
		pref     sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, COALESCE(direction, ''), COALESCE(object, ''), COALESCE(metric, ''),
		       COALESCE(clarifier, ''), COALESCE(assembled_text, ''), state_preference, daily_capacity_hours
		FROM outcomes WHERE id = ?`, outcomeID).Scan(
		&o.ID, &o.UserID, &o.Direction, &o.Object, &o.Metric,
		&o.Clarifier, &o.AssembledText, &pref, &capacity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Outcome{}, fmt.Errorf("outcome %s: %w", outcomeID, plan.ErrOutcomeNotFound)
	}
	if err != nil {
		return plan.Outcome{}, fmt.Errorf("get outcome: %w", err)
	}
	if pref.Valid {
		o.StatePreference = pref.String
	}
	if capacity.Valid {
		c := capacity.Float64
		o.DailyCapacity = &c
	}
	return o, nil
}

// PutOutcome inserts or replaces an outcome.
func (s *Store) PutOutcome(ctx context.Context, o plan.Outcome) error {
	var capacity any
	if o.DailyCapacity != nil {
		capacity = *o.DailyCapacity
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO outcomes
			(id, user_id, direction, object, metric, clarifier, assembled_text, state_preference, daily_capacity_hours)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.Direction, o.Object, o.Metric, o.Clarifier, o.AssembledText, o.StatePreference, capacity)
	if err != nil {
		return fmt.Errorf("put outcome: %w", err)
	}
	return nil
}

// PutReflection inserts or replaces a reflection.
func (s *Store) PutReflection(ctx context.Context, r plan.Reflection) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	active := 0
	if r.Active {
		active = 1
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO reflections (id, user_id, text, created_at, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Text, formatTime(r.CreatedAt), active)
	if err != nil {
		return fmt.Errorf("put reflection: %w", err)
	}
	return nil
}

// ReflectionsByID returns the reflections with the given ids, weighted and
// ordered by recency. Inactive reflections are included when named explicitly.
func (s *Store) ReflectionsByID(ctx context.Context, ids []string) ([]plan.Reflection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryReflections(ctx, `
		SELECT id, user_id, text, created_at, is_active
		FROM reflections WHERE id IN (`+placeholders+`)
		ORDER BY created_at DESC`, args...)
}

// RecentReflections returns the user's most recent active reflections.
func (s *Store) RecentReflections(ctx context.Context, userID string, limit int) ([]plan.Reflection, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.queryReflections(ctx, `
		SELECT id, user_id, text, created_at, is_active
		FROM reflections WHERE user_id = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
}

func (s *Store) queryReflections(ctx context.Context, query string, args ...any) ([]plan.Reflection, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reflections: %w", err)
	}
	defer rows.Close()

	now := s.now()
	var out []plan.Reflection
	for rows.Next() {
		var (
			r       plan.Reflection
			created string
			active  int
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Text, &created, &active); err != nil {
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		r.CreatedAt = parseTime(created)
		r.Active = active == 1
		r.Weight = recencyWeight(now, r.CreatedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reflections: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

func recencyWeight(now, created time.Time) float64 {
	age := now.Sub(created)
	if age < 0 {
		age = 0
	}
	w := math.Pow(0.5, float64(age)/float64(reflectionHalfLife))
	return math.Round(w*1000) / 1000
}

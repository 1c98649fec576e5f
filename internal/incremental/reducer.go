// Package incremental shapes the task payload sent to the planning engines.
// On repeat runs only tasks from documents added since the last committed
// plan are sent verbatim; the rest collapse into a baseline summary.
package incremental

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rahul/priorities/internal/plan"
)

// Payload is the reduced view of the task pool.
type Payload struct {
	FirstRun        bool
	Baseline        plan.Baseline
	BaselineSummary string
	NewTasks        []plan.TaskSummary
	BaselineTasks   []plan.TaskSummary
	AllTasks        []plan.TaskSummary

	FullTokens       int
	CompactTokens    int
	EstimatedSavings float64
}

// Reduce partitions tasks into new-since-baseline and already-in-baseline.
// An empty baseline, or a pool where every task is new, is a first run.
func Reduce(tasks []plan.TaskSummary, baseline plan.Baseline) Payload {
	p := Payload{Baseline: baseline, AllTasks: tasks}

	known := make(map[string]struct{}, len(baseline.DocumentIDs))
	for _, id := range baseline.DocumentIDs {
		known[id] = struct{}{}
	}
	for _, t := range tasks {
		if _, ok := known[t.DocumentID]; ok {
			p.BaselineTasks = append(p.BaselineTasks, t)
			continue
		}
		p.NewTasks = append(p.NewTasks, t)
	}

	full := FormatTasks(tasks)
	p.FullTokens = EstimateTokens(full)

	if baseline.Empty() || len(p.BaselineTasks) == 0 {
		p.FirstRun = true
		p.NewTasks = tasks
		p.BaselineTasks = nil
		p.CompactTokens = p.FullTokens
		return p
	}

	p.BaselineSummary = summarizeBaseline(baseline, p.BaselineTasks)
	p.CompactTokens = EstimateTokens(p.BaselineSummary) + EstimateTokens(FormatTasks(p.NewTasks))
	if p.FullTokens > 0 && p.CompactTokens < p.FullTokens {
		p.EstimatedSavings = 1 - float64(p.CompactTokens)/float64(p.FullTokens)
	}
	return p
}

// Render returns the task section of a prompt for this payload.
func (p Payload) Render() string {
	if p.FirstRun {
		return "## Tasks\n" + FormatTasks(p.AllTasks)
	}
	var b strings.Builder
	b.WriteString("## Baseline (already prioritized, unchanged)\n")
	b.WriteString(p.BaselineSummary)
	b.WriteString("\n\n## New Tasks Since Baseline\n")
	if len(p.NewTasks) == 0 {
		b.WriteString("No new tasks since the baseline.\n")
	} else {
		b.WriteString(FormatTasks(p.NewTasks))
	}
	return b.String()
}

// FormatTasks renders one bullet per task, with provenance when present.
func FormatTasks(tasks []plan.TaskSummary) string {
	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s", t.TaskID, t.Text)
		var notes []string
		if t.PreviousRank != nil {
			notes = append(notes, fmt.Sprintf("prev rank %d", *t.PreviousRank))
		}
		if t.PreviousConfidence != nil {
			notes = append(notes, fmt.Sprintf("prev confidence %.2f", *t.PreviousConfidence))
		}
		if t.PreviousState != "" {
			notes = append(notes, "state "+string(t.PreviousState))
		}
		if t.RemovalReason != "" {
			notes = append(notes, "previously removed: "+t.RemovalReason)
		}
		if t.ManualOverride {
			notes = append(notes, "manual override")
		}
		if len(notes) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(notes, "; "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func summarizeBaseline(baseline plan.Baseline, tasks []plan.TaskSummary) string {
	ranked := make([]plan.TaskSummary, 0, len(tasks))
	unranked := 0
	for _, t := range tasks {
		if t.PreviousRank == nil {
			unranked++
			continue
		}
		ranked = append(ranked, t)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].PreviousRank < *ranked[j].PreviousRank
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks from %d documents were prioritized on %s.",
		len(tasks), len(baseline.DocumentIDs), baseline.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	if len(ranked) > 0 {
		refs := make([]string, len(ranked))
		for i, t := range ranked {
			refs[i] = fmt.Sprintf("%s#%d", t.TaskID, *t.PreviousRank)
		}
		fmt.Fprintf(&b, " Previous order: %s.", strings.Join(refs, ", "))
	}
	if unranked > 0 {
		fmt.Fprintf(&b, " %d baseline tasks were not ranked previously.", unranked)
	}
	return b.String()
}

// EstimateTokens approximates prompt tokens at four characters per token.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

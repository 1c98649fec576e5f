package agent

import (
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rahul/priorities/internal/parser"
	"github.com/rahul/priorities/internal/plan"
)

const maxTraceField = 500

// Recorder accumulates execution metadata and reasoning steps for one engine run.
type Recorder struct {
	mu        sync.Mutex
	now       func() time.Time
	start     time.Time
	steps     []plan.ReasoningStep
	toolCalls map[string]int
	thinking  time.Duration
	toolTime  time.Duration
	attempts  int
	errors    int
	failed    []string
}

func NewRecorder() *Recorder {
	return newRecorderAt(func() time.Time { return time.Now().UTC() })
}

func newRecorderAt(now func() time.Time) *Recorder {
	return &Recorder{
		now:       now,
		start:     now(),
		toolCalls: make(map[string]int),
	}
}

// Thought records one model call.
func (r *Recorder) Thought(thought string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thinking += d
	r.attempts++
	status := plan.StepSuccess
	if err != nil {
		r.errors++
		status = plan.StepFailed
		if thought == "" {
			thought = err.Error()
		}
	}
	r.steps = append(r.steps, plan.ReasoningStep{
		Timestamp:  r.now(),
		Thought:    parser.Condense(thought),
		DurationMS: d.Milliseconds(),
		Status:     status,
	})
}

// Tool records one tool invocation. A non-nil err marks the tool as failed.
func (r *Recorder) Tool(name, input, output string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolTime += d
	r.attempts++
	r.toolCalls[name]++
	status := plan.StepSuccess
	if err != nil {
		r.errors++
		status = plan.StepFailed
		r.markFailed(name)
		if output == "" {
			output = err.Error()
		}
	}
	r.steps = append(r.steps, plan.ReasoningStep{
		Timestamp:  r.now(),
		Thought:    "Called " + name,
		ToolName:   name,
		ToolInput:  truncate(input, maxTraceField),
		ToolOutput: truncate(output, maxTraceField),
		DurationMS: d.Milliseconds(),
		Status:     status,
	})
}

// Fail records a failure that is not tied to a model call or tool.
func (r *Recorder) Fail(note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
	r.steps = append(r.steps, plan.ReasoningStep{
		Timestamp: r.now(),
		Thought:   parser.Condense(note),
		Status:    plan.StepFailed,
	})
}

func (r *Recorder) markFailed(name string) {
	for _, f := range r.failed {
		if f == name {
			return
		}
	}
	r.failed = append(r.failed, name)
}

// ToolCount returns how many times name has been called so far.
func (r *Recorder) ToolCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toolCalls[name]
}

// Metadata snapshots the run so far with the given status note.
func (r *Recorder) Metadata(note string) plan.ExecutionMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make(map[string]int, len(r.toolCalls))
	for k, v := range r.toolCalls {
		calls[k] = v
	}
	md := plan.ExecutionMetadata{
		StepsTaken:     len(r.steps),
		ToolCallCount:  calls,
		ThinkingTimeMS: r.thinking.Milliseconds(),
		ToolTimeMS:     r.toolTime.Milliseconds(),
		TotalTimeMS:    r.now().Sub(r.start).Milliseconds(),
		ErrorCount:     r.errors,
		StatusNote:     note,
		FailedTools:    append([]string(nil), r.failed...),
	}
	if r.attempts > 0 {
		ok := r.attempts - r.errors
		if ok < 0 {
			ok = 0
		}
		md.SuccessRate = math.Round(float64(ok)/float64(r.attempts)*100) / 100
	}
	return md
}

// Trace returns the capped, renumbered reasoning trace.
func (r *Recorder) Trace() []plan.ReasoningStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return plan.CapTrace(r.steps)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

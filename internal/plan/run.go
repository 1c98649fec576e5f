package plan

import "time"

// RunStatus is the terminal status of an engine run or session.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// MaxTraceSteps caps the number of persisted reasoning steps.
const MaxTraceSteps = 10

// EngineRunResult is the uniform output of both planning engines.
type EngineRunResult struct {
	Engine       string            `json:"engine"`
	Status       RunStatus         `json:"status"`
	Plan         *Plan             `json:"plan,omitempty"`
	Metadata     ExecutionMetadata `json:"metadata"`
	Trace        []ReasoningStep   `json:"trace,omitempty"`
	Loop         *LoopMetadata     `json:"loop,omitempty"`
	Narrative    string            `json:"narrative,omitempty"`
	FallbackNote string            `json:"fallback_note,omitempty"`
}

// Succeeded reports whether the run produced a usable plan.
func (r EngineRunResult) Succeeded() bool {
	return r.Status == StatusCompleted && r.Plan != nil
}

// ExecutionMetadata summarizes timing, tool usage and errors of one run.
type ExecutionMetadata struct {
	StepsTaken     int            `json:"steps_taken"`
	ToolCallCount  map[string]int `json:"tool_call_count"`
	ThinkingTimeMS int64          `json:"thinking_time_ms"`
	ToolTimeMS     int64          `json:"tool_execution_time_ms"`
	TotalTimeMS    int64          `json:"total_time_ms"`
	ErrorCount     int            `json:"error_count"`
	SuccessRate    float64        `json:"success_rate"`
	StatusNote     string         `json:"status_note,omitempty"`
	FailedTools    []string       `json:"failed_tools,omitempty"`
}

// ZeroMetadata is the stub persisted when no engine ran.
func ZeroMetadata(note string) ExecutionMetadata {
	return ExecutionMetadata{
		ToolCallCount: map[string]int{},
		StatusNote:    note,
	}
}

// LoopMetadata is reported by the hybrid engine only.
type LoopMetadata struct {
	Iterations        int   `json:"iterations"`
	EvaluationTrigger bool  `json:"evaluation_triggered"`
	DurationMS        int64 `json:"duration_ms"`
}

// StepStatus marks a reasoning step as successful or not.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// ReasoningStep is one condensed entry of a reasoning trace.
type ReasoningStep struct {
	StepNumber int        `json:"step_number"`
	Timestamp  time.Time  `json:"timestamp"`
	Thought    string     `json:"thought"`
	ToolName   string     `json:"tool_name,omitempty"`
	ToolInput  string     `json:"tool_input,omitempty"`
	ToolOutput string     `json:"tool_output,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Status     StepStatus `json:"status"`
}

// CapTrace keeps at most MaxTraceSteps steps and renumbers them from 1.
func CapTrace(steps []ReasoningStep) []ReasoningStep {
	if len(steps) > MaxTraceSteps {
		steps = steps[len(steps)-MaxTraceSteps:]
	}
	out := make([]ReasoningStep, len(steps))
	for i, s := range steps {
		s.StepNumber = i + 1
		out[i] = s
	}
	return out
}

package plan

import "time"

// AnnotationState is the lifecycle state attached to a task in a plan.
type AnnotationState string

const (
	StateActive         AnnotationState = "active"
	StateManualOverride AnnotationState = "manual_override"
	StateReintroduced   AnnotationState = "reintroduced"
	StateCompleted      AnnotationState = "completed"
)

// RelationshipType describes how two tasks depend on each other.
type RelationshipType string

const (
	RelPrerequisite RelationshipType = "prerequisite"
	RelBlocks       RelationshipType = "blocks"
	RelRelated      RelationshipType = "related"
)

// DetectionMethod records where a dependency edge came from.
type DetectionMethod string

const (
	DetectedByModel   DetectionMethod = "model_inferred"
	DetectedFromStore DetectionMethod = "stored_relationship"
)

// Plan is the validated output of one orchestration run.
type Plan struct {
	OrderedTaskIDs   []string           `json:"ordered_task_ids"`
	ExecutionWaves   []ExecutionWave    `json:"execution_waves"`
	Dependencies     []TaskDependency   `json:"dependencies"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	SynthesisSummary string             `json:"synthesis_summary"`
	TaskAnnotations  []TaskAnnotation   `json:"task_annotations,omitempty"`
	RemovedTasks     []TaskRemoval      `json:"removed_tasks,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// ExecutionWave is a batch of tasks at the same priority tier.
type ExecutionWave struct {
	WaveNumber        int      `json:"wave_number"`
	TaskIDs           []string `json:"task_ids"`
	ParallelExecution bool     `json:"parallel_execution"`
	EstimatedDuration *float64 `json:"estimated_duration_hours,omitempty"`
}

// TaskDependency is a directed edge between two tasks.
type TaskDependency struct {
	SourceTaskID     string           `json:"source_task_id"`
	TargetTaskID     string           `json:"target_task_id"`
	RelationshipType RelationshipType `json:"relationship_type"`
	Confidence       float64          `json:"confidence"`
	DetectionMethod  DetectionMethod  `json:"detection_method"`
}

// Key returns the structural (source, target) identity of the edge.
func (d TaskDependency) Key() DependencyKey {
	return DependencyKey{Source: d.SourceTaskID, Target: d.TargetTaskID}
}

// DependencyKey identifies an edge by value; ids may contain any character.
type DependencyKey struct {
	Source string
	Target string
}

// TaskAnnotation carries per-task state and reasoning.
type TaskAnnotation struct {
	TaskID          string          `json:"task_id"`
	State           AnnotationState `json:"state"`
	Confidence      *float64        `json:"confidence,omitempty"`
	Reasoning       string          `json:"reasoning,omitempty"`
	DependencyNotes string          `json:"dependency_notes,omitempty"`
	RemovalReason   string          `json:"removal_reason,omitempty"`
}

// TaskRemoval records a task that was considered but excluded.
type TaskRemoval struct {
	TaskID        string `json:"task_id"`
	RemovalReason string `json:"removal_reason"`
}

// Baseline is the document-id set and timestamp of the last committed plan.
type Baseline struct {
	DocumentIDs []string  `json:"document_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// Empty reports whether there is no baseline to diff against.
func (b Baseline) Empty() bool {
	return len(b.DocumentIDs) == 0
}

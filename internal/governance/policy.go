package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Effect is the verdict on one planning tool call.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request describes a tool call the planner wants to make.
type Request struct {
	Tool      string
	Arguments string
	SessionID string
	// PriorCalls is how many times Tool already ran in this loop.
	PriorCalls int
	// Pool holds the candidate task ids of the run. Nil skips the pool check.
	Pool map[string]struct{}
}

type Result struct {
	Effect Effect
	Reason string
}

func (r Result) Allowed() bool {
	return r.Effect == EffectAllow
}

// PolicyEngine gates the planner's tool calls.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies calls that name tasks outside the pool, exceed
// the per-tool budget, use a disabled tool or match an operator pattern.
type DefaultPolicyEngine struct {
	DeniedTools map[string]bool
	DeniedRegex []*regexp.Regexp
	// MaxCallsPerTool caps calls of any single tool in one loop; zero means unlimited.
	MaxCallsPerTool int
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools: make(map[string]bool),
	}
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return deny("Tool '%s' is disabled for planning runs", req.Tool), nil
	}

	if e.MaxCallsPerTool > 0 && req.PriorCalls >= e.MaxCallsPerTool {
		return deny("Tool '%s' reached its limit of %d calls for this run", req.Tool, e.MaxCallsPerTool), nil
	}

	if req.Pool != nil {
		if unknown := OutsidePool(req.Arguments, req.Pool); len(unknown) > 0 {
			return deny("Arguments name tasks outside the candidate pool: %s", strings.Join(unknown, ", ")), nil
		}
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return deny("Arguments match restricted pattern: %s", re.String()), nil
		}
	}

	return Result{Effect: EffectAllow, Reason: "Approved by planning policy"}, nil
}

func deny(format string, args ...any) Result {
	return Result{Effect: EffectDeny, Reason: fmt.Sprintf(format, args...)}
}

// taskIDKeys are the argument fields that carry task ids in planning tools.
var taskIDKeys = map[string]bool{
	"task_id":          true,
	"task_ids":         true,
	"ordered_task_ids": true,
	"source_task_id":   true,
	"target_task_id":   true,
}

// OutsidePool returns the sorted task ids named in JSON tool arguments that
// are not in pool. Arguments that are not JSON name no tasks.
func OutsidePool(arguments string, pool map[string]struct{}) []string {
	var v any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil {
		return nil
	}
	found := make(map[string]struct{})
	collectIDs(v, false, found)

	var unknown []string
	for id := range found {
		if _, ok := pool[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func collectIDs(v any, isID bool, found map[string]struct{}) {
	switch t := v.(type) {
	case string:
		if id := strings.TrimSpace(t); isID && id != "" {
			found[id] = struct{}{}
		}
	case []any:
		for _, item := range t {
			collectIDs(item, isID, found)
		}
	case map[string]any:
		for k, item := range t {
			collectIDs(item, taskIDKeys[k], found)
		}
	}
}

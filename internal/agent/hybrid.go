package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/rahul/priorities/internal/governance"
	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/parser"
	"github.com/rahul/priorities/internal/plan"
	"github.com/rahul/priorities/internal/tools"
)

// HybridEngine runs a tool-calling score/order/evaluate loop. When the model
// stops on its own, the engine checks the proposal once more and, if it is
// below the quality threshold, asks for one extra revision pass.
type HybridEngine struct {
	Model      llms.Model
	Prompts    *PromptManager
	Policy     governance.PolicyEngine
	Vectors    vectorstores.VectorStore
	Logger     *observability.Logger
	Heuristics Heuristics

	MaxIterations    int
	QualityThreshold float64
	Timeout          time.Duration
}

func NewHybridEngine(model llms.Model, prompts *PromptManager, policy governance.PolicyEngine, logger *observability.Logger) *HybridEngine {
	return &HybridEngine{
		Model:            model,
		Prompts:          prompts,
		Policy:           policy,
		Logger:           logger,
		Heuristics:       DefaultHeuristics(),
		MaxIterations:    6,
		QualityThreshold: 0.75,
		Timeout:          2 * time.Minute,
	}
}

func (e *HybridEngine) Name() string { return EngineHybrid }

// loop is the mutable state of one Run.
type loop struct {
	engine   *HybridEngine
	in       Input
	rec      *Recorder
	ws       *tools.Workspace
	registry *tools.Registry
	meta     plan.LoopMetadata
	final    string
	pool     map[string]struct{}
}

func (e *HybridEngine) Run(ctx context.Context, in Input) plan.EngineRunResult {
	started := time.Now()
	rec := NewRecorder()
	if in.Context == nil {
		rec.Fail("no runtime context")
		return e.fail(in, rec, nil, started, "The hybrid planner had no context to work from.")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	ws := tools.NewWorkspace(in.Context.Tasks, e.QualityThreshold)
	registry := tools.NewRegistry(tools.PlanningTools(ws)...)
	if e.Vectors != nil {
		registry.Register(tools.NewRelatedTasksTool(e.Vectors, ws))
	}
	l := &loop{engine: e, in: in, rec: rec, ws: ws, registry: registry, pool: taskPool(in.Context.Tasks)}

	in.publish(observability.ProgressEvent{Stage: observability.StageQueued, TotalIterations: e.maxIterations()})

	if err := l.run(ctx); err != nil {
		note := describeCallError(ctx, "hybrid planner", err)
		if errors.Is(err, errNoProposal) {
			note = "The hybrid planner finished without proposing an ordering."
		}
		return e.fail(in, rec, &l.meta, started, note)
	}

	obj, ok := ws.PlanObject()
	var (
		p   *plan.Plan
		err error
	)
	if ok {
		withPinned(obj, in.Context.Tasks)
		p, err = parser.Build(obj, l.final, e.Heuristics.Parser)
	} else {
		// the model may have answered with a plan in text instead of tools
		res := parser.Parse(l.final, e.Heuristics.Parser)
		p, err = res.Plan, res.Err
		if err != nil {
			rec.Fail("No ordering was proposed and the final answer held no plan")
			return e.fail(in, rec, &l.meta, started, "The hybrid planner finished without proposing an ordering.")
		}
	}
	if err != nil {
		rec.Fail("Proposal failed plan validation: " + err.Error())
		return e.fail(in, rec, &l.meta, started, parser.Describe(parser.Result{Err: err, Narrative: l.final}))
	}

	l.meta.DurationMS = time.Since(started).Milliseconds()
	in.publish(observability.ProgressEvent{
		Stage:           observability.StageCompleted,
		Percent:         100,
		Iteration:       l.meta.Iterations,
		TotalIterations: e.maxIterations(),
		TasksScored:     ws.ScoredCount(),
		TasksOrdered:    len(p.OrderedTaskIDs),
	})
	e.Logger.LogEngine(in.SessionID, EngineHybrid, map[string]any{
		"status":               "completed",
		"iterations":           l.meta.Iterations,
		"evaluation_triggered": l.meta.EvaluationTrigger,
		"ordered":              len(p.OrderedTaskIDs),
	})

	meta := l.meta
	return plan.EngineRunResult{
		Engine:    EngineHybrid,
		Status:    plan.StatusCompleted,
		Plan:      p,
		Metadata:  rec.Metadata(p.SynthesisSummary),
		Trace:     rec.Trace(),
		Loop:      &meta,
		Narrative: l.final,
	}
}

var errNoProposal = errors.New("loop ended without a proposal")

func (e *HybridEngine) maxIterations() int {
	if e.MaxIterations <= 0 {
		return 6
	}
	return e.MaxIterations
}

func (e *HybridEngine) fail(in Input, rec *Recorder, meta *plan.LoopMetadata, started time.Time, note string) plan.EngineRunResult {
	res := failed(EngineHybrid, rec, note)
	if meta != nil {
		m := *meta
		m.DurationMS = time.Since(started).Milliseconds()
		res.Loop = &m
	}
	in.publish(observability.ProgressEvent{Stage: observability.StageFailed, Message: note})
	e.Logger.LogEngine(in.SessionID, EngineHybrid, map[string]any{"status": "failed", "note": note})
	return res
}

func (l *loop) run(ctx context.Context) error {
	e := l.engine
	systemPrompt, err := e.Prompts.GetHybridPrompt()
	if err != nil {
		log.Printf("Warning: Failed to load hybrid prompt: %v", err)
	}
	request := RenderRequest(l.in)
	messages := systemAndUser(systemPrompt, request)

	var llmTools []llms.Tool
	for _, t := range l.registry.List() {
		llmTools = append(llmTools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	maxSteps := e.maxIterations()
	extraPass := false
	for i := 0; i < maxSteps; i++ {
		l.meta.Iterations = i + 1

		started := time.Now()
		resp, err := e.Model.GenerateContent(ctx, messages, llms.WithTools(llmTools))
		elapsed := time.Since(started)
		if err == nil && (resp == nil || len(resp.Choices) == 0) {
			err = errors.New("model returned no choices")
		}
		if err != nil {
			l.rec.Thought("Requested the next planning step", elapsed, err)
			return err
		}
		choice := resp.Choices[0]
		e.Logger.LogLLM(l.in.SessionID, EngineHybrid, request, choice.Content, choice.ToolCalls)
		l.rec.Thought(thoughtFor(choice), elapsed, nil)

		var assistantParts []llms.ContentPart
		if choice.Content != "" {
			assistantParts = append(assistantParts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			assistantParts = append(assistantParts, tc)
		}
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeAI,
			Parts: assistantParts,
		})

		if len(choice.ToolCalls) == 0 {
			l.final = choice.Content
			if extraPass || l.ws.OrderedCount() == 0 || i+1 >= maxSteps {
				break
			}
			ev := l.ws.Evaluate()
			if ev.Passed {
				break
			}
			extraPass = true
			l.meta.EvaluationTrigger = true
			l.progress(i, observability.StageEvaluate)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeHuman,
				Parts: []llms.ContentPart{llms.TextPart(fmt.Sprintf(
					"The quality check scored this ordering %.2f, below %.2f. Issues:\n- %s\nRevise with record_scores and propose_order, then reply with your final explanation.",
					ev.Quality, e.QualityThreshold, strings.Join(ev.Issues, "\n- ")))},
			})
			continue
		}

		for _, tc := range choice.ToolCalls {
			result := l.callTool(ctx, tc)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: tc.ID,
						Name:       toolName(tc),
						Content:    result,
					},
				},
			})
		}
		l.progress(i, "")

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if l.ws.OrderedCount() == 0 && strings.TrimSpace(l.final) == "" {
		return errNoProposal
	}
	return nil
}

func (l *loop) callTool(ctx context.Context, tc llms.ToolCall) string {
	name := toolName(tc)
	args := ""
	if tc.FunctionCall != nil {
		args = tc.FunctionCall.Arguments
	}

	if l.engine.Policy != nil {
		decision, err := l.engine.Policy.Evaluate(ctx, governance.Request{
			Tool:       name,
			Arguments:  args,
			SessionID:  l.in.SessionID,
			PriorCalls: l.rec.ToolCount(name),
			Pool:       l.pool,
		})
		if err != nil {
			decision = governance.Result{Effect: governance.EffectDeny, Reason: err.Error()}
		}
		if !decision.Allowed() {
			result := "Error: " + decision.Reason
			l.rec.Tool(name, args, result, 0, errors.New(decision.Reason))
			return result
		}
	}

	tool := l.registry.Get(name)
	if tool == nil {
		result := fmt.Sprintf("Error: Tool %s not found", name)
		l.rec.Tool(name, args, result, 0, errors.New("unknown tool"))
		return result
	}

	started := time.Now()
	result, err := tool.Execute(ctx, args)
	if err != nil {
		result = fmt.Sprintf("Error: %v", err)
	}
	l.rec.Tool(name, args, result, time.Since(started), err)
	return result
}

func (l *loop) progress(i int, stage observability.Stage) {
	limit := l.engine.maxIterations()
	scored, ordered, total := l.ws.ScoredCount(), l.ws.OrderedCount(), l.ws.TaskCount()
	if stage == "" {
		stage = observability.StageScoring
		if ordered > 0 {
			stage = observability.StageOrdering
		}
	}
	scoredFrac := 0.0
	if total > 0 {
		scoredFrac = float64(scored) / float64(total)
	}
	percent := int(100 * (0.5*float64(i+1)/float64(limit) + 0.5*scoredFrac))
	if percent > 95 {
		percent = 95
	}
	l.in.publish(observability.ProgressEvent{
		Stage:           stage,
		Percent:         percent,
		Iteration:       i + 1,
		TotalIterations: limit,
		TasksScored:     scored,
		TasksOrdered:    ordered,
	})
}

func toolName(tc llms.ToolCall) string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

func thoughtFor(choice *llms.ContentChoice) string {
	if strings.TrimSpace(choice.Content) != "" {
		return choice.Content
	}
	names := make([]string, 0, len(choice.ToolCalls))
	for _, tc := range choice.ToolCalls {
		names = append(names, toolName(tc))
	}
	return "Planned next step with " + strings.Join(names, ", ")
}

func taskPool(tasks []plan.TaskSummary) map[string]struct{} {
	pool := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		pool[t.TaskID] = struct{}{}
	}
	return pool
}

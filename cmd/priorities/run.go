package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rahul/priorities/internal/gateway"
	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/internal/orchestrator"
	"github.com/rahul/priorities/internal/plan"
	"github.com/rahul/priorities/internal/store"
	"github.com/rahul/priorities/pkg/config"
)

var (
	runUserID      string
	runOutcomeID   string
	runSessionID   string
	runReflections []string
	runExcludeDocs []string
	runOverrides   []string
	runHybrid      bool
	runVerbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one prioritization session",
	Long: `Run one prioritization session for a user's outcome.

Dependency overrides take the form source,target[,relationship] where
relationship is prerequisite (default), blocks or related. They replace any
model-inferred edge between the same two tasks.

Example:
  priorities run --user u1 --outcome o1 --override t3,t1,blocks`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runUserID, "user", "", "User id (required)")
	runCmd.Flags().StringVar(&runOutcomeID, "outcome", "", "Outcome id (required)")
	runCmd.Flags().StringVar(&runSessionID, "session", "", "Session id (generated when empty)")
	runCmd.Flags().StringSliceVar(&runReflections, "reflection", nil, "Active reflection ids (default: most recent)")
	runCmd.Flags().StringSliceVar(&runExcludeDocs, "exclude-doc", nil, "Document ids to leave out of the task pool")
	runCmd.Flags().StringArrayVar(&runOverrides, "override", nil, "Dependency override source,target[,relationship]")
	runCmd.Flags().BoolVar(&runHybrid, "hybrid", false, "Enable the iterative planner regardless of config")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Write structured events to stderr")
	_ = runCmd.MarkFlagRequired("user")
	_ = runCmd.MarkFlagRequired("outcome")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	overrides, err := parseOverrides(runOverrides)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color := useColor()
	if color {
		observability.PrintBanner(true)
	}

	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	var events io.Writer = io.Discard
	if runVerbose {
		events = observability.NewTermWriter()
	}
	logger := observability.NewLoggerTo(events, cfg.Storage.LLMLogPath)
	hub := observability.NewHub(logger)

	llm, err := newModel(cfg)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	if runHybrid {
		cfg.Engine.HybridEnabled = true
	}
	orch := newOrchestrator(cfg, st, llm, hub, logger)

	sessionID := runSessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	printed := make(chan struct{})
	progress, unsubscribe := hub.Subscribe(sessionID, 64)
	go func() {
		defer close(printed)
		for evt := range progress {
			if !asJSON {
				observability.PrintProgress(evt, color)
			}
		}
	}()

	notified := startNotifier(ctx, cfg, hub)

	res, runErr := orch.Run(ctx, orchestrator.Request{
		SessionID:           sessionID,
		UserID:              runUserID,
		OutcomeID:           runOutcomeID,
		ActiveReflectionIDs: runReflections,
		ExcludedDocumentIDs: runExcludeDocs,
		DependencyOverrides: overrides,
	})

	unsubscribe()
	<-printed
	notified()

	if res != nil {
		if err := printSession(os.Stdout, res.Session, asJSON); err != nil {
			return err
		}
	}
	return runErr
}

// startNotifier forwards terminal events to Telegram when the gateway is
// enabled. The returned function blocks until pending events are delivered.
func startNotifier(ctx context.Context, cfg *config.Config, hub *observability.Hub) func() {
	tgCfg, ok := cfg.GetTelegramConfig()
	if !ok {
		return func() {}
	}
	tg, err := gateway.NewTelegramGateway(tgCfg.Token)
	if err != nil {
		log.Printf("Warning: telegram gateway unavailable: %v", err)
		return func() {}
	}

	nctx, cancel := context.WithCancel(ctx)
	done := gateway.NewNotifier(tg, tgCfg.ChatID, hub).Start(nctx)
	return func() {
		cancel()
		<-done
	}
}

// parseOverrides reads source,target[,relationship] triples.
func parseOverrides(values []string) ([]plan.TaskDependency, error) {
	var out []plan.TaskDependency
	for _, raw := range values {
		parts := strings.Split(raw, ",")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("invalid override %q: want source,target[,relationship]", raw)
		}
		d := plan.TaskDependency{
			SourceTaskID:     strings.TrimSpace(parts[0]),
			TargetTaskID:     strings.TrimSpace(parts[1]),
			RelationshipType: plan.RelPrerequisite,
			Confidence:       1,
			DetectionMethod:  plan.DetectedFromStore,
		}
		if d.SourceTaskID == "" || d.TargetTaskID == "" || d.SourceTaskID == d.TargetTaskID {
			return nil, fmt.Errorf("invalid override %q: source and target must be distinct task ids", raw)
		}
		if len(parts) == 3 {
			switch rel := plan.RelationshipType(strings.TrimSpace(parts[2])); rel {
			case plan.RelPrerequisite, plan.RelBlocks, plan.RelRelated:
				d.RelationshipType = rel
			default:
				return nil, fmt.Errorf("invalid override %q: unknown relationship %q", raw, rel)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

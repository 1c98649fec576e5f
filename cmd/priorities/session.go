package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rahul/priorities/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session <id>",
	Short: "Print a stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSession,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	rec, err := st.GetSession(cmd.Context(), args[0])
	if errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("no session with id %s", args[0])
	}
	if err != nil {
		return err
	}
	return printSession(os.Stdout, rec, asJSON)
}

// printSession writes the session as indented JSON or as a short report.
func printSession(w io.Writer, rec store.SessionRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s: %s\n", rec.ID, rec.Status)
	if note := rec.Metadata.StatusNote; note != "" {
		fmt.Fprintf(&b, "  %s\n", note)
	}
	if p := rec.Plan; p != nil {
		b.WriteString("\nPriorities:\n")
		for i, id := range p.OrderedTaskIDs {
			fmt.Fprintf(&b, "  %2d. %s", i+1, id)
			if c, ok := p.ConfidenceScores[id]; ok {
				fmt.Fprintf(&b, " (confidence %.2f)", c)
			}
			b.WriteString("\n")
		}
		if len(p.ExecutionWaves) > 0 {
			b.WriteString("\nWaves:\n")
			for _, wave := range p.ExecutionWaves {
				mode := "sequential"
				if wave.ParallelExecution {
					mode = "parallel"
				}
				fmt.Fprintf(&b, "  %d [%s]: %s\n", wave.WaveNumber, mode, strings.Join(wave.TaskIDs, ", "))
			}
		}
		if len(p.Dependencies) > 0 {
			b.WriteString("\nDependencies:\n")
			for _, d := range p.Dependencies {
				fmt.Fprintf(&b, "  %s -> %s (%s, %.2f)\n", d.SourceTaskID, d.TargetTaskID, d.RelationshipType, d.Confidence)
			}
		}
	}
	if len(rec.ExcludedTasks) > 0 {
		b.WriteString("\nExcluded:\n")
		for _, r := range rec.ExcludedTasks {
			fmt.Fprintf(&b, "  %s: %s\n", r.TaskID, r.RemovalReason)
		}
	}
	md := rec.Metadata
	fmt.Fprintf(&b, "\nSteps %d, errors %d, total %dms", md.StepsTaken, md.ErrorCount, md.TotalTimeMS)
	if rec.Loop != nil {
		fmt.Fprintf(&b, ", iterations %d", rec.Loop.Iterations)
		if rec.Loop.EvaluationTrigger {
			b.WriteString(" (re-evaluated)")
		}
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rahul/priorities/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.yaml>",
	Short: "Load a YAML fixture into the store",
	Long: `Load a YAML fixture of one user's outcome, reflections, task pool and
unembedded structured documents. Rows with the same ids are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fixture, err := store.LoadFixture(args[0])
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Seed(cmd.Context(), fixture); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded outcome %s for user %s: %d reflections, %d tasks, %d documents\n",
		fixture.Outcome.ID, fixture.UserID, len(fixture.Reflections), len(fixture.Tasks), len(fixture.Documents))
	return nil
}

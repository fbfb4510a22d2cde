package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyhoot/RetroArchML/internal/store"
	"github.com/tinyhoot/RetroArchML/neat"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a checkpoint or a recorded run",
		Long: `Show the state of a checkpoint (--checkpoint) or the epoch history and
best genome of a run recorded in a SQLite database (--db and --run).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			checkpointPath, _ := cmd.Flags().GetString("checkpoint")
			dbPath, _ := cmd.Flags().GetString("db")
			runID, _ := cmd.Flags().GetString("run")

			switch {
			case checkpointPath != "":
				return inspectCheckpoint(cmd, checkpointPath)
			case dbPath != "" && runID != "":
				return inspectRun(cmd, dbPath, runID)
			default:
				return errors.New("either --checkpoint or both --db and --run are required")
			}
		},
	}

	cmd.Flags().String("checkpoint", "", "Checkpoint file")
	cmd.Flags().StringP("config", "c", "", "Configuration the checkpointed run was started with")
	cmd.Flags().String("db", "", "SQLite run database")
	cmd.Flags().String("run", "", "Run id in the database")
	return cmd
}

func inspectCheckpoint(cmd *cobra.Command, path string) error {
	out := cmd.OutOrStdout()
	configPath, _ := cmd.Flags().GetString("config")
	jsonOut, _ := cmd.Flags().GetBool("json")

	if !fileExists(path) {
		return fmt.Errorf("checkpoint '%s' does not exist", path)
	}
	config, err := loadRunConfig(cmd, configPath)
	if err != nil {
		return err
	}
	pop, err := neat.LoadCheckpoint(path, config, neat.WithLogger(newLogger(cmd, cmd.ErrOrStderr())))
	if err != nil {
		return err
	}

	gen := pop.Generation
	if jsonOut {
		return json.NewEncoder(out).Encode(map[string]any{
			"epoch":       gen.Epoch,
			"population":  len(gen.Genomes),
			"species":     len(gen.Seeds()),
			"best_genome": pop.BestGenome,
		})
	}

	fmt.Fprintf(out, "Checkpoint %s\n", path)
	fmt.Fprintf(out, "  epoch:      %d\n", gen.Epoch)
	fmt.Fprintf(out, "  population: %d\n", len(gen.Genomes))
	fmt.Fprintf(out, "  species:    %d\n", len(gen.Seeds()))
	if pop.BestGenome != nil {
		fmt.Fprintf(out, "\nBest genome:\n%s\n", pop.BestGenome)
	}
	return nil
}

func inspectRun(cmd *cobra.Command, dbPath, runID string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	jsonOut, _ := cmd.Flags().GetBool("json")

	s := store.NewSQLiteStore(dbPath)
	if err := s.Init(ctx); err != nil {
		return fmt.Errorf("failed to open run database '%s': %w", dbPath, err)
	}
	defer s.Close()

	run, ok, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("run %s: %w", runID, neat.ErrNotFound)
	}
	epochs, err := s.ListEpochs(ctx, runID)
	if err != nil {
		return err
	}
	best, _, err := s.BestGenome(ctx, runID)
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(out).Encode(map[string]any{
			"run":         run,
			"epochs":      epochs,
			"best_genome": best,
		})
	}

	fmt.Fprintf(out, "Run %s (seed %d, population %d, started %s)\n",
		run.ID, run.Seed, run.PopSize, run.StartedAt.Format("2006-01-02 15:04:05"))
	for _, e := range epochs {
		fmt.Fprintf(out, "  epoch %4d  best %8.4f  mean %8.4f  species %d\n",
			e.Epoch, e.BestFitness, e.MeanFitness, e.SpeciesCount)
	}
	if best != nil {
		fmt.Fprintf(out, "\nBest genome:\n%s\n", best)
	}
	return nil
}

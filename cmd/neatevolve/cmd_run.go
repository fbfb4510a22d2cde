package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyhoot/RetroArchML/internal/logging"
	"github.com/tinyhoot/RetroArchML/internal/store"
	"github.com/tinyhoot/RetroArchML/neat"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a network that solves XOR",
		Long: `Run NEAT on the XOR task until the fitness threshold is met or the
generation limit is reached.

Without --config the built-in XOR defaults are used. With --checkpoint
the run is saved every --checkpoint-every epochs and at the end; --resume
continues a saved run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			configPath, _ := cmd.Flags().GetString("config")
			generations, _ := cmd.Flags().GetInt("generations")
			checkpointPath, _ := cmd.Flags().GetString("checkpoint")
			checkpointEvery, _ := cmd.Flags().GetInt("checkpoint-every")
			resumePath, _ := cmd.Flags().GetString("resume")
			dbPath, _ := cmd.Flags().GetString("db")
			jsonOut, _ := cmd.Flags().GetBool("json")

			config, err := loadRunConfig(cmd, configPath)
			if err != nil {
				return err
			}
			evaluator, err := newXOREvaluator(config)
			if err != nil {
				return err
			}

			logger := newLogger(cmd, cmd.ErrOrStderr())
			opts := []neat.PopulationOption{neat.WithLogger(logger)}

			var runID string
			if dbPath != "" {
				s := store.NewSQLiteStore(dbPath)
				if err := s.Init(ctx); err != nil {
					return fmt.Errorf("failed to open run database '%s': %w", dbPath, err)
				}
				defer s.Close()
				reporter, err := s.StartRun(ctx, config)
				if err != nil {
					return fmt.Errorf("failed to register run: %w", err)
				}
				runID = reporter.RunID
				opts = append(opts, neat.WithReporter(reporter))
				logger.Info("recording run", "run", runID, "db", dbPath)
			}

			var pop *neat.Population
			if resumePath != "" {
				pop, err = neat.LoadCheckpoint(resumePath, config, opts...)
			} else {
				pop, err = neat.NewPopulation(config, opts...)
			}
			if err != nil {
				return err
			}

			for pop.Generation.Epoch < generations && !pop.Solved() {
				if _, err := pop.RunGeneration(ctx, evaluator); err != nil {
					return err
				}
				if checkpointPath != "" && checkpointEvery > 0 && pop.Generation.Epoch%checkpointEvery == 0 {
					if err := pop.SaveCheckpoint(checkpointPath); err != nil {
						return err
					}
				}
			}
			if checkpointPath != "" {
				if err := pop.SaveCheckpoint(checkpointPath); err != nil {
					return err
				}
			}

			best := pop.BestGenome
			if best == nil {
				return fmt.Errorf("no genome was evaluated; generation limit %d already reached", generations)
			}
			outputs, err := evaluator.outputs(best)
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{
					"run_id":  runID,
					"epochs":  pop.Generation.Epoch,
					"solved":  pop.Solved(),
					"fitness": best.Fitness,
					"outputs": outputs,
					"genome":  best,
				})
			}

			if pop.Solved() {
				fmt.Fprintln(out, "Fitness threshold met!")
			} else {
				fmt.Fprintf(out, "Fitness threshold not met after %d epochs.\n", pop.Generation.Epoch)
			}
			fmt.Fprintf(out, "\nBest genome:\n%s\n", best)
			fmt.Fprintln(out, "Output:")
			for i, inputs := range xorInputs {
				fmt.Fprintf(out, "  input %v, expected %.1f, got %.4f\n", inputs, xorOutputs[i], outputs[i])
			}
			return nil
		},
	}

	cmd.Flags().StringP("config", "c", "", "Configuration file (.ini, .yaml)")
	cmd.Flags().IntP("generations", "g", 300, "Stop after this many epochs")
	cmd.Flags().Uint64("seed", 0, "Random seed (overrides the config)")
	cmd.Flags().String("checkpoint", "", "Checkpoint file to save the run to")
	cmd.Flags().Int("checkpoint-every", 10, "Epochs between checkpoints")
	cmd.Flags().String("resume", "", "Checkpoint file to resume from")
	cmd.Flags().String("db", "", "SQLite database to record the run in")
	return cmd
}

// loadRunConfig loads the configuration file, or the XOR defaults if path is empty,
// and applies the --seed flag.
func loadRunConfig(cmd *cobra.Command, path string) (*neat.Config, error) {
	config := xorConfig()
	if path != "" {
		var err error
		if config, err = neat.LoadConfig(path); err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
	}
	if cmd.Flags().Changed("seed") {
		config.Neat.Seed, _ = cmd.Flags().GetUint64("seed")
	}
	if err := checkXORConfig(config); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

func newLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	if format == "json" {
		return logging.NewJSONLogger(level, w)
	}
	return logging.NewLogger(level, w)
}

// fileExists reports whether path names an existing file.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

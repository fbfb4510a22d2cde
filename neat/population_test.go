package neat

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	epochs []int
	err    error
}

func (r *recordingReporter) EpochComplete(ctx context.Context, stats *EpochStats) error {
	r.epochs = append(r.epochs, stats.Epoch)
	return r.err
}

func smallConfig() *Config {
	config := testConfig(3, 2)
	config.Neat.PopSize = 30
	config.Neat.Seed = 21
	config.Genome.NodeAddProb = 0.2
	config.Genome.ConnAddProb = 0.3
	return config
}

func TestNewPopulation(t *testing.T) {
	pop, err := NewPopulation(smallConfig())
	require.NoError(t, err)
	assert.Equal(t, 0, pop.Generation.Epoch)
	assert.Len(t, pop.Generation.Genomes, 30)
	assert.Nil(t, pop.BestGenome)
	assert.False(t, pop.Solved())

	_, err = NewPopulation(DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunGenerationTracksBestAndReports(t *testing.T) {
	var logs bytes.Buffer
	reporter := &recordingReporter{}
	pop, err := NewPopulation(smallConfig(),
		WithReporter(reporter),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	bestFitness := 0.0
	for epoch := range 4 {
		stats, err := pop.RunGeneration(context.Background(), sumEvaluator)
		require.NoError(t, err)
		assert.Equal(t, epoch, stats.Epoch)
		bestFitness = max(bestFitness, stats.BestFitness)
		assert.Equal(t, bestFitness, pop.BestGenome.Fitness)
	}
	assert.Equal(t, []int{0, 1, 2, 3}, reporter.epochs)
	assert.Equal(t, 4, pop.Generation.Epoch)
	assert.Contains(t, logs.String(), "epoch complete")

	// The best genome is a snapshot, unaffected by later mutation.
	best := pop.BestGenome
	snapshot := best.Copy()
	_, err = pop.RunGeneration(context.Background(), sumEvaluator)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Connections, best.Connections)
}

func TestRunGenerationErrors(t *testing.T) {
	failure := errors.New("simulator crashed")
	pop, err := NewPopulation(smallConfig())
	require.NoError(t, err)

	_, err = pop.RunGeneration(context.Background(), EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
		return 0, failure
	}))
	assert.ErrorIs(t, err, failure)

	reporter := &recordingReporter{err: failure}
	pop, err = NewPopulation(smallConfig(), WithReporter(reporter))
	require.NoError(t, err)
	_, err = pop.RunGeneration(context.Background(), sumEvaluator)
	assert.ErrorIs(t, err, failure)
}

func TestRunStopsAtThreshold(t *testing.T) {
	config := smallConfig()
	config.Neat.FitnessThreshold = 1
	pop, err := NewPopulation(config)
	require.NoError(t, err)

	constant := EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
		return 2, nil
	})
	winner, err := pop.Run(context.Background(), constant, 10)
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, 2.0, winner.Fitness)
	assert.Equal(t, 1, pop.Generation.Epoch)
	assert.True(t, pop.Solved())

	config = smallConfig()
	config.Neat.FitnessThreshold = 1
	config.Neat.NoFitnessTermination = true
	pop, err = NewPopulation(config)
	require.NoError(t, err)
	winner, err = pop.Run(context.Background(), constant, 3)
	require.NoError(t, err)
	assert.Nil(t, winner)
	assert.Equal(t, 3, pop.Generation.Epoch)
	assert.NotNil(t, pop.BestGenome)

	// The default threshold of 0 is met by any non-negative fitness.
	pop, err = NewPopulation(smallConfig())
	require.NoError(t, err)
	winner, err = pop.Run(context.Background(), sumEvaluator, 10)
	require.NoError(t, err)
	assert.NotNil(t, winner)
	assert.Equal(t, 1, pop.Generation.Epoch)
}

func TestCheckpointResumesDeterministically(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.gz")

	original, err := NewPopulation(smallConfig())
	require.NoError(t, err)
	for range 3 {
		_, err := original.RunGeneration(ctx, sumEvaluator)
		require.NoError(t, err)
	}
	require.NoError(t, original.SaveCheckpoint(path))

	resumed, err := LoadCheckpoint(path, smallConfig())
	require.NoError(t, err)
	assert.Equal(t, original.Generation.Epoch, resumed.Generation.Epoch)
	assert.Len(t, resumed.Generation.Genomes, len(original.Generation.Genomes))
	assert.Equal(t, original.BestGenome.Fitness, resumed.BestGenome.Fitness)
	assert.Len(t, resumed.Generation.Seeds(), len(original.Generation.Seeds()))
	assert.Equal(t, original.Environment().Innovations.Peek(), resumed.Environment().Innovations.Peek())
	assert.Equal(t, original.Environment().GenomeIDs.Peek(), resumed.Environment().GenomeIDs.Peek())

	for range 3 {
		want, err := original.RunGeneration(ctx, sumEvaluator)
		require.NoError(t, err)
		got, err := resumed.RunGeneration(ctx, sumEvaluator)
		require.NoError(t, err)

		assert.Equal(t, want.BestFitness, got.BestFitness)
		assert.Equal(t, want.MeanFitness, got.MeanFitness)
		assert.Equal(t, want.NextInnovation, got.NextInnovation)
		assert.Equal(t, want.Species, got.Species)
	}
}

func TestSaveCheckpointDuringEpoch(t *testing.T) {
	pop, err := NewPopulation(smallConfig())
	require.NoError(t, err)
	pop.Generation.Speciate()

	err = pop.SaveCheckpoint(filepath.Join(t.TempDir(), "run.gz"))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestLoadCheckpointErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadCheckpoint(filepath.Join(dir, "missing.gz"), smallConfig())
	assert.Error(t, err)

	_, err = LoadCheckpoint(writeFile(t, "garbage.gz", "not gzip"), smallConfig())
	assert.Error(t, err)

	_, err = LoadCheckpoint(filepath.Join(dir, "missing.gz"), DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunGenerationRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.gz")
	failure := errors.New("simulator crashed")
	pop, err := NewPopulation(smallConfig())
	require.NoError(t, err)

	_, err = pop.RunGeneration(ctx, EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
		return 0, failure
	}))
	require.ErrorIs(t, err, failure)
	assert.Equal(t, 0, pop.Generation.Epoch)
	assert.ErrorIs(t, pop.SaveCheckpoint(path), ErrConflict, "a half-done epoch is not saved")

	stats, err := pop.RunGeneration(ctx, sumEvaluator)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Epoch)
	assert.Equal(t, 1, pop.Generation.Epoch)
	assert.Len(t, pop.Generation.Genomes, smallConfig().Neat.PopSize)
	require.NoError(t, pop.SaveCheckpoint(path))
}

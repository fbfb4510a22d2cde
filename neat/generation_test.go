package neat

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyhoot/RetroArchML/internal/logging"
)

func newTestEnvironment(config *Config, seed uint64) *Environment {
	return NewEnvironment(config, rand.New(rand.NewPCG(seed, 0)), nil)
}

// sumEvaluator scores a genome by its outputs for an all-ones input, so structure and
// weights both matter.
var sumEvaluator = EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
	inputs := make([]float64, len(g.InputNodes))
	for i := range inputs {
		inputs[i] = 1
	}
	out, err := g.Activate(inputs)
	if err != nil {
		return 0, err
	}
	return Sum(out), nil
})

func TestSeedGenomes(t *testing.T) {
	env := newTestEnvironment(testConfig(5, 3), 1)
	genomes := SeedGenomes(env, 25)
	require.Len(t, genomes, 25)

	ids := map[int]bool{}
	for _, g := range genomes {
		ids[g.ID] = true
		assert.Len(t, g.Connections, 15)
		assert.Empty(t, g.HiddenNodes)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, g.InputIDs())
		assert.Equal(t, []int{6, 7, 8}, g.OutputIDs())
		assert.False(t, g.Recurrent)
		for i, c := range g.Connections {
			assert.Equal(t, 9+i, c.Innovation, "all genomes share the seed innovations")
			assert.True(t, c.Enabled)
			assert.GreaterOrEqual(t, c.Weight, env.Config.Genome.WeightMin)
			assert.LessOrEqual(t, c.Weight, env.Config.Genome.WeightMax)
		}
	}
	assert.Len(t, ids, 25)
	assert.Equal(t, 24, env.Innovations.Peek())

	// Genomes are independent instances.
	genomes[0].Connections[0].Weight = 100
	genomes[0].InputNodes[1].Value = 7
	for _, g := range genomes[1:] {
		assert.NotEqual(t, 100.0, g.Connections[0].Weight)
		assert.NotSame(t, genomes[0].Connections[0], g.Connections[0])
		assert.Zero(t, g.InputNodes[1].Value)
	}
}

func TestSeedGenomesRecurrent(t *testing.T) {
	config := testConfig(2, 1)
	config.Genome.FeedForward = false
	for _, g := range SeedGenomes(newTestEnvironment(config, 1), 3) {
		assert.True(t, g.Recurrent)
	}
}

func TestSpeciateFirstMatch(t *testing.T) {
	env := newTestEnvironment(testConfig(5, 3), 1)
	genomes := SeedGenomes(env, 4)
	weights := []float64{0, 0.1, 1, 0}
	for i, g := range genomes {
		for _, c := range g.Connections {
			c.Weight = weights[i]
		}
	}
	// Distance is 0.4 * 15 * |dw|, so 0.1 apart is compatible and 1.0 apart is not.
	gen := NewGeneration(env, 0, genomes, nil)
	gen.Speciate()

	require.Len(t, gen.Species, 2)
	assert.Equal(t, []*Genome{genomes[0], genomes[1], genomes[3]}, gen.Species[0].Population)
	assert.Equal(t, []*Genome{genomes[2]}, gen.Species[1].Population)
	assert.Same(t, genomes[0], gen.Species[0].Representative)
	assert.Equal(t, 1, gen.Species[0].ID)
	assert.Equal(t, 2, gen.Species[1].ID)

	for _, g := range genomes {
		count := 0
		for _, s := range gen.Species {
			if s.Contains(g) {
				count++
			}
		}
		assert.Equal(t, 1, count, "every genome is in exactly one species")
	}
}

func TestAssignOffspring(t *testing.T) {
	config := testConfig(2, 1)
	config.Neat.PopSize = 10
	env := newTestEnvironment(config, 1)

	gen := NewGeneration(env, 0, nil, nil)
	a := speciesWithFitness(3, 3)
	b := speciesWithFitness(1)
	c := speciesWithFitness(0, 0)
	gen.Species = []*Species{a, b, c}
	gen.ChooseChampions()
	gen.AssignOffspring()

	// Seven slots after three champions: 5.25, 1.75 and 0 round down to 5, 1 and 0,
	// and the leftover slot goes to the species with the highest shared fitness.
	assert.Equal(t, 6, a.OffspringQuota)
	assert.Equal(t, 1, b.OffspringQuota)
	assert.Equal(t, 0, c.OffspringQuota)
}

func TestAssignOffspringTotals(t *testing.T) {
	tests := []struct {
		name    string
		popSize int
		species [][]float64
	}{
		{"uneven", 150, [][]float64{{1, 2, 3}, {0.5}, {7, 7, 7, 7}, {0.1, 0.2}}},
		{"all zero", 20, [][]float64{{0, 0, 0}, {0}, {0, 0}}},
		{"negative fitness", 30, [][]float64{{-1, -2}, {4}, {-3}}},
		{"single species", 7, [][]float64{{1, 1, 1, 1, 1, 1, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(2, 1)
			config.Neat.PopSize = tt.popSize
			gen := NewGeneration(newTestEnvironment(config, 9), 0, nil, nil)
			for _, f := range tt.species {
				gen.Species = append(gen.Species, speciesWithFitness(f...))
			}
			gen.ChooseChampions()
			gen.AssignOffspring()

			total := 0
			for _, s := range gen.Species {
				assert.GreaterOrEqual(t, s.OffspringQuota, 0)
				total += s.OffspringQuota + 1
			}
			assert.Equal(t, tt.popSize, total)
		})
	}
}

func TestAssignOffspringZeroFitnessUsesMemberCount(t *testing.T) {
	config := testConfig(2, 1)
	config.Neat.PopSize = 8
	gen := NewGeneration(newTestEnvironment(config, 1), 0, nil, nil)
	a := speciesWithFitness(0, 0, 0)
	b := speciesWithFitness(0)
	gen.Species = []*Species{a, b}
	gen.ChooseChampions()
	gen.AssignOffspring()

	assert.Equal(t, 5, a.OffspringQuota)
	assert.Equal(t, 1, b.OffspringQuota)
}

func TestAssignOffspringSkipsStagnantSpecies(t *testing.T) {
	config := testConfig(2, 1)
	config.Neat.PopSize = 10
	config.Reproduction.MaxStagnation = 1
	gen := NewGeneration(newTestEnvironment(config, 1), 5, nil, nil)
	leader := speciesWithFitness(6, 6)
	stale := speciesWithFitness(4, 4)
	stale.BestFitness, stale.LastImproved = 5, 0
	leader.BestFitness, leader.LastImproved = 1, 0
	gen.Species = []*Species{leader, stale}
	gen.ChooseChampions()
	gen.AssignOffspring()

	assert.Equal(t, 0, stale.OffspringQuota)
	assert.Equal(t, 8, leader.OffspringQuota)
}

func TestBreed(t *testing.T) {
	config := testConfig(3, 1)
	env := newTestEnvironment(config, 1)
	gen := NewGeneration(env, 0, nil, nil)
	parent1, parent2 := figure4Parents(t)

	parent2.Fitness = 2
	child, err := gen.Breed(parent1, parent2)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, child.HiddenIDs())
	assert.Equal(t, parent1.InputIDs(), child.InputIDs())
	assert.Equal(t, parent1.OutputIDs(), child.OutputIDs())
	require.Len(t, child.Connections, len(parent2.Connections))
	for i, c := range child.Connections {
		assert.Equal(t, parent2.Connections[i].Innovation, c.Innovation)
		assert.Equal(t, parent2.Connections[i].Key(), c.Key())
		assert.NotSame(t, parent2.Connections[i], c)
	}

	parent1.Fitness = 3
	child, err = gen.Breed(parent1, parent2)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, child.HiddenIDs())
	require.Len(t, child.Connections, len(parent1.Connections))
	assert.NotEqual(t, child.ID, parent1.ID)

	out, err := child.Node(4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 5}, out.Incoming)
}

func TestBreedMatchingGenesComeFromEitherParent(t *testing.T) {
	gen := NewGeneration(newTestEnvironment(testConfig(3, 1), 1), 0, nil, nil)
	parent1, parent2 := figure4Parents(t)
	parent1.Fitness = 1

	weights := map[float64]int{}
	for range 200 {
		child, err := gen.Breed(parent1, parent2)
		require.NoError(t, err)
		c, err := child.ConnectionByInnovation(4)
		require.NoError(t, err)
		weights[c.Weight]++
	}
	assert.Len(t, weights, 2)
	assert.Greater(t, weights[1.0], 50)
	assert.Greater(t, weights[1.5], 50)
}

func TestBreedReenable(t *testing.T) {
	parent1, parent2 := figure4Parents(t)
	parent1.Fitness = 1
	c, err := parent1.ConnectionByInnovation(8)
	require.NoError(t, err)
	c.Enabled = false
	c, err = parent2.ConnectionByInnovation(1)
	require.NoError(t, err)
	c.Enabled = false

	for _, chance := range []float64{0, 1} {
		config := testConfig(3, 1)
		config.Reproduction.ReenableChance = chance
		gen := NewGeneration(newTestEnvironment(config, 1), 0, nil, nil)

		for range 20 {
			child, err := gen.Breed(parent1, parent2)
			require.NoError(t, err)
			for _, innovation := range []int{1, 8} {
				c, err := child.ConnectionByInnovation(innovation)
				require.NoError(t, err)
				assert.Equal(t, chance == 1, c.Enabled, "innovation %d with chance %v", innovation, chance)
			}
			c, err := child.ConnectionByInnovation(2)
			require.NoError(t, err)
			assert.True(t, c.Enabled, "genes enabled in both parents stay enabled")
		}
	}
}

func TestAdvanceEpochKeepsPopulationSize(t *testing.T) {
	config := testConfig(3, 2)
	config.Neat.PopSize = 40
	config.Genome.NodeAddProb = 0.3
	config.Genome.ConnAddProb = 0.5
	env := newTestEnvironment(config, 7)
	gen := NewGeneration(env, 0, SeedGenomes(env, config.Neat.PopSize), nil)

	for epoch := range 8 {
		require.Equal(t, epoch, gen.Epoch)
		next, err := gen.AdvanceEpoch(context.Background(), sumEvaluator)
		require.NoError(t, err)

		stats := gen.Stats()
		require.NotNil(t, stats)
		assert.Equal(t, epoch, stats.Epoch)
		assert.Equal(t, config.Neat.PopSize, stats.PopulationSize)
		total := 0
		for _, s := range stats.Species {
			total += s.OffspringQuota + 1
		}
		assert.Equal(t, config.Neat.PopSize, total)

		require.Len(t, next.Genomes, config.Neat.PopSize)
		ids := map[int]bool{}
		for _, g := range next.Genomes {
			ids[g.ID] = true
			innovations := map[int]bool{}
			for _, c := range g.Connections {
				assert.False(t, innovations[c.Innovation], "innovations are unique within a genome")
				innovations[c.Innovation] = true
				assert.True(t, g.HasNode(c.InNodeID))
				assert.True(t, g.HasNode(c.OutNodeID))
			}
		}
		assert.Len(t, ids, config.Neat.PopSize, "genome ids are unique")
		gen = next
	}
	assert.Nil(t, gen.Stats())
}

func TestMutateSkipsChampions(t *testing.T) {
	config := testConfig(3, 2)
	config.Neat.PopSize = 30
	config.Genome.WeightMutateProb = 1
	config.Genome.WeightPerturbProb = 0
	config.Genome.NodeAddProb = 1
	config.Reproduction.ChampionMinSize = 0
	env := newTestEnvironment(config, 3)
	gen := NewGeneration(env, 0, SeedGenomes(env, config.Neat.PopSize), nil)

	next, err := gen.AdvanceEpoch(context.Background(), sumEvaluator)
	require.NoError(t, err)

	var champions []*Genome
	snapshots := map[*Genome]*Genome{}
	sizes := map[*Genome]int{}
	for _, g := range next.Genomes {
		sizes[g] = g.Size()
	}
	for _, seed := range next.Seeds() {
		require.True(t, seed.Champion)
		champions = append(champions, seed.Representative)
		snapshots[seed.Representative] = seed.Representative.Copy()
	}
	require.NotEmpty(t, champions)
	assert.Equal(t, champions, next.Genomes[:len(champions)], "champions lead the next generation")

	require.NoError(t, next.Mutate())
	for _, champion := range champions {
		before := snapshots[champion]
		require.Len(t, champion.Connections, len(before.Connections))
		for i, c := range champion.Connections {
			assert.Equal(t, before.Connections[i].Weight, c.Weight)
			assert.Equal(t, before.Connections[i].Enabled, c.Enabled)
		}
	}
	for _, g := range next.Genomes[len(champions):] {
		assert.Greater(t, g.Size(), sizes[g], "everyone else gained a node")
	}
}

func TestMutateSharesInnovationsWithinEpoch(t *testing.T) {
	config := testConfig(2, 1)
	config.Neat.PopSize = 20
	config.Genome.NodeAddProb = 1
	config.Genome.ConnAddProb = 0
	env := newTestEnvironment(config, 11)
	gen := NewGeneration(env, 0, SeedGenomes(env, config.Neat.PopSize), nil)
	require.NoError(t, gen.Mutate())

	// Two seed connections can be split, so at most two distinct hidden node ids appear.
	hidden := map[int]bool{}
	for _, g := range gen.Genomes {
		require.Len(t, g.HiddenNodes, 1)
		for id := range g.HiddenNodes {
			hidden[id] = true
		}
	}
	assert.LessOrEqual(t, len(hidden), 2)
	_, splits := gen.Ledger().Len()
	assert.Equal(t, len(hidden), splits)
}

func TestEvaluateErrors(t *testing.T) {
	config := testConfig(2, 1)
	config.Neat.PopSize = 5
	env := newTestEnvironment(config, 1)
	gen := NewGeneration(env, 0, SeedGenomes(env, 5), nil)

	nan := EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
		return math.NaN(), nil
	})
	assert.ErrorIs(t, gen.Evaluate(context.Background(), nan), ErrInvalidInput)

	for _, fitness := range []float64{math.Inf(1), math.Inf(-1)} {
		infinite := EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
			return fitness, nil
		})
		assert.ErrorIs(t, gen.Evaluate(context.Background(), infinite), ErrInvalidInput)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, gen.Evaluate(ctx, sumEvaluator), context.Canceled)

	_, err := gen.AdvanceEpoch(ctx, sumEvaluator)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerationIsDeterministic(t *testing.T) {
	run := func() []float64 {
		config := testConfig(3, 2)
		config.Neat.PopSize = 30
		config.Genome.NodeAddProb = 0.2
		config.Genome.ConnAddProb = 0.3
		env := newTestEnvironment(config, 42)
		gen := NewGeneration(env, 0, SeedGenomes(env, config.Neat.PopSize), nil)

		var trace []float64
		for range 6 {
			next, err := gen.AdvanceEpoch(context.Background(), sumEvaluator)
			require.NoError(t, err)
			stats := gen.Stats()
			trace = append(trace, stats.BestFitness, stats.MeanFitness, float64(len(stats.Species)), float64(stats.NextInnovation))
			gen = next
		}
		return trace
	}
	assert.Equal(t, run(), run())
}

func TestAdvanceEpochRejectsInfiniteFitness(t *testing.T) {
	config := testConfig(2, 1)
	config.Neat.PopSize = 10
	env := newTestEnvironment(config, 3)
	gen := NewGeneration(env, 0, SeedGenomes(env, config.Neat.PopSize), nil)

	first := gen.Genomes[0]
	evaluator := EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
		if g == first {
			return math.Inf(1), nil
		}
		return 1, nil
	})
	next, err := gen.AdvanceEpoch(context.Background(), evaluator)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Nil(t, next)
	for _, s := range gen.Species {
		assert.GreaterOrEqual(t, s.OffspringQuota, 0)
	}
}

func TestAdvanceEpochRetryAfterFailedEvaluation(t *testing.T) {
	config := testConfig(2, 1)
	config.Neat.PopSize = 10
	config.Genome.NodeAddProb = 1
	config.Genome.ConnAddProb = 0
	config.Genome.WeightMutateProb = 0
	env := newTestEnvironment(config, 5)
	gen := NewGeneration(env, 0, SeedGenomes(env, config.Neat.PopSize), nil)

	failure := errors.New("emulator disconnected")
	calls := 0
	flaky := EvaluatorFunc(func(ctx context.Context, g *Genome) (float64, error) {
		calls++
		if calls == 1 {
			return 0, failure
		}
		return sumEvaluator(ctx, g)
	})

	_, err := gen.AdvanceEpoch(context.Background(), flaky)
	require.ErrorIs(t, err, failure)
	hidden := map[*Genome]int{}
	for _, g := range gen.Genomes {
		require.Len(t, g.HiddenNodes, 1)
		hidden[g] = len(g.HiddenNodes)
	}

	next, err := gen.AdvanceEpoch(context.Background(), flaky)
	require.NoError(t, err)
	require.NotNil(t, next)
	for _, g := range gen.Genomes {
		assert.Equal(t, hidden[g], len(g.HiddenNodes), "genome %d was mutated twice", g.ID)
	}
	assert.Len(t, next.Genomes, config.Neat.PopSize)
	assert.Equal(t, 1, next.Epoch)
}

func TestEvaluateLogsGenomesAtTrace(t *testing.T) {
	var buf bytes.Buffer
	config := testConfig(2, 1)
	config.Neat.PopSize = 3
	env := NewEnvironment(config, rand.New(rand.NewPCG(1, 0)), logging.NewLogger("trace", &buf))
	gen := NewGeneration(env, 0, SeedGenomes(env, config.Neat.PopSize), nil)

	require.NoError(t, gen.Evaluate(context.Background(), sumEvaluator))
	assert.Equal(t, 3, strings.Count(buf.String(), "level=TRACE msg=\"evaluated genome\""))

	buf.Reset()
	env.Logger = logging.NewLogger("debug", &buf)
	require.NoError(t, gen.Evaluate(context.Background(), sumEvaluator))
	assert.NotContains(t, buf.String(), "evaluated genome")
}

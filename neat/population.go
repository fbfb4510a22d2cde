package neat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"
)

// pcgStream is the fixed second word of the PCG seed; Config.Neat.Seed supplies the first.
const pcgStream = 0x9e3779b97f4a7c15

// Reporter receives the statistics of every completed epoch.
type Reporter interface {
	EpochComplete(ctx context.Context, stats *EpochStats) error
}

// PopulationOption configures a Population.
type PopulationOption func(*Population)

// WithLogger sets the logger used by the population and its generations.
func WithLogger(logger *slog.Logger) PopulationOption {
	return func(p *Population) {
		p.logger = logger
	}
}

// WithReporter adds a reporter that is called after every epoch.
func WithReporter(r Reporter) PopulationOption {
	return func(p *Population) {
		p.Reporters = append(p.Reporters, r)
	}
}

// Population holds the state of the NEAT evolutionary process.
type Population struct {
	Config     *Config
	Generation *Generation // Next generation to evaluate
	BestGenome *Genome     // Copy of the best genome found so far
	Reporters  []Reporter

	env    *Environment
	pcg    *rand.PCG
	logger *slog.Logger
}

// NewPopulation creates a new Population. The first generation is seeded from config.
func NewPopulation(config *Config, opts ...PopulationOption) (*Population, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := newPopulation(config, rand.NewPCG(config.Neat.Seed, pcgStream), opts)
	p.env = NewEnvironment(config, rand.New(p.pcg), p.logger)
	p.Generation = NewGeneration(p.env, 0, SeedGenomes(p.env, config.Neat.PopSize), nil)
	return p, nil
}

func newPopulation(config *Config, pcg *rand.PCG, opts []PopulationOption) *Population {
	p := &Population{Config: config, pcg: pcg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p
}

// Environment returns the run state shared by all generations.
func (p *Population) Environment() *Environment {
	return p.env
}

// RunGeneration advances the current generation by one epoch and returns its statistics.
func (p *Population) RunGeneration(ctx context.Context, evaluator Evaluator) (*EpochStats, error) {
	start := time.Now()
	gen := p.Generation
	next, err := gen.AdvanceEpoch(ctx, evaluator)
	if err != nil {
		return nil, err
	}
	stats := gen.Stats()

	if best := stats.Best; best != nil && (p.BestGenome == nil || best.Fitness > p.BestGenome.Fitness) {
		p.BestGenome = best.Copy()
		p.logger.Info("new best genome", "epoch", gen.Epoch, "genome", best.ID, "fitness", best.Fitness)
	}
	p.logger.Info("epoch complete",
		"epoch", gen.Epoch,
		"best_fitness", stats.BestFitness,
		"mean_fitness", stats.MeanFitness,
		"species", len(stats.Species),
		"duration", time.Since(start))

	for _, r := range p.Reporters {
		if err := r.EpochComplete(ctx, stats); err != nil {
			return nil, fmt.Errorf("report epoch %d: %w", gen.Epoch, err)
		}
	}
	p.Generation = next
	return stats, nil
}

// Solved reports whether the best genome so far meets the fitness threshold.
func (p *Population) Solved() bool {
	if p.Config.Neat.NoFitnessTermination || p.BestGenome == nil {
		return false
	}
	return p.BestGenome.Fitness >= p.Config.Neat.FitnessThreshold
}

// Run evolves the population for at most epochs epochs. It stops early once the fitness
// threshold is met and returns the winning genome. If no genome meets the threshold the
// returned genome is nil; BestGenome still holds the best one found.
func (p *Population) Run(ctx context.Context, evaluator Evaluator, epochs int) (*Genome, error) {
	for range epochs {
		if _, err := p.RunGeneration(ctx, evaluator); err != nil {
			return nil, err
		}
		if p.Solved() {
			p.logger.Info("fitness threshold met", "fitness", p.BestGenome.Fitness, "threshold", p.Config.Neat.FitnessThreshold)
			return p.BestGenome, nil
		}
	}
	return nil, nil
}

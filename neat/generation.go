package neat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/tinyhoot/RetroArchML/internal/logging"
)

// Evaluator assigns a fitness score to a genome, typically by running its network
// against the target environment. Scores should be non-negative.
type Evaluator interface {
	Evaluate(ctx context.Context, genome *Genome) (float64, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, genome *Genome) (float64, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, genome *Genome) (float64, error) {
	return f(ctx, genome)
}

// Environment holds the state shared by every generation of one run.
type Environment struct {
	Config      *Config
	Rand        *rand.Rand // Sole source of randomness for the run
	Innovations *Counter   // Innovation numbers and node ids
	GenomeIDs   *Counter
	Logger      *slog.Logger
}

// NewEnvironment creates the shared run state for config. Node ids 1..inputs+outputs are
// reserved for the input and output nodes, so the innovation counter starts after them.
func NewEnvironment(config *Config, rng *rand.Rand, logger *slog.Logger) *Environment {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Environment{
		Config:      config,
		Rand:        rng,
		Innovations: NewCounter(config.Genome.NumInputs + config.Genome.NumOutputs + 1),
		GenomeIDs:   NewCounter(1),
		Logger:      logger,
	}
}

// SpeciesSeed carries a species from one generation into the next.
type SpeciesSeed struct {
	ID             int
	Representative *Genome
	Champion       bool // Representative is last epoch's champion and survives unmutated
	Created        int
	BestFitness    float64
	LastImproved   int
}

// Generation is one epoch of the population. It owns the innovation ledger for the epoch.
type Generation struct {
	Epoch   int
	Genomes []*Genome
	Species []*Species

	env           *Environment
	ledger        *Ledger
	seeds         []SpeciesSeed
	nextSpeciesID int
	speciated     bool
	mutated       bool
	distances     []float64
	stats         *EpochStats
}

// NewGeneration creates a generation from a list of genomes. If previous is not nil, its
// species are carried over through their champions (or a random member), keeping species
// identity across epochs.
func NewGeneration(env *Environment, epoch int, genomes []*Genome, previous *Generation) *Generation {
	g := &Generation{
		Epoch:         epoch,
		Genomes:       genomes,
		env:           env,
		ledger:        NewLedger(env.Innovations),
		nextSpeciesID: 1,
	}
	if previous == nil {
		return g
	}

	g.nextSpeciesID = previous.nextSpeciesID
	for _, s := range previous.Species {
		rep, champion := s.Champion, s.Champion != nil
		if rep == nil {
			if len(s.Population) == 0 {
				continue
			}
			rep = s.Population[env.Rand.IntN(len(s.Population))]
		}
		g.seeds = append(g.seeds, SpeciesSeed{
			ID:             s.ID,
			Representative: rep,
			Champion:       champion,
			Created:        s.Created,
			BestFitness:    s.BestFitness,
			LastImproved:   s.LastImproved,
		})
	}
	return g
}

// ConnectionInnovation implements InnovationLedger using this epoch's ledger.
func (g *Generation) ConnectionInnovation(in, out int) int {
	return g.ledger.ConnectionInnovation(in, out)
}

// SplitConnection implements InnovationLedger using this epoch's ledger.
func (g *Generation) SplitConnection(innovation int) NodeSplit {
	return g.ledger.SplitConnection(innovation)
}

// Ledger returns this epoch's innovation ledger.
func (g *Generation) Ledger() *Ledger {
	return g.ledger
}

// Seeds returns the species carried over from the previous generation.
func (g *Generation) Seeds() []SpeciesSeed {
	return g.seeds
}

// Speciate partitions the genomes into species.
//
// Carried species come first, in their previous order. A carried champion that is part of
// this generation joins its species straight away and stays protected. Every other genome
// joins the first species whose representative is within the compatibility threshold, or
// founds a new species. Species without members dissolve.
func (g *Generation) Speciate() {
	config := &g.env.Config.Speciation
	logger := g.env.Logger

	present := make(map[*Genome]bool, len(g.Genomes))
	for _, genome := range g.Genomes {
		present[genome] = true
	}

	g.Species = g.Species[:0]
	g.distances = g.distances[:0]
	assigned := make(map[*Genome]bool)
	for _, seed := range g.seeds {
		s := &Species{
			ID:             seed.ID,
			Representative: seed.Representative,
			Created:        seed.Created,
			BestFitness:    seed.BestFitness,
			LastImproved:   seed.LastImproved,
		}
		if seed.Champion && present[seed.Representative] {
			s.Add(seed.Representative)
			s.Champion = seed.Representative
			assigned[seed.Representative] = true
		}
		g.Species = append(g.Species, s)
	}

	for _, genome := range g.Genomes {
		if assigned[genome] {
			continue
		}
		placed := false
		for _, s := range g.Species {
			d := Distance(s.Representative, genome, config)
			g.distances = append(g.distances, d)
			if d <= config.CompatibilityThreshold {
				s.Add(genome)
				placed = true
				break
			}
		}
		if !placed {
			s := NewSpecies(g.nextSpeciesID, g.Epoch, genome)
			g.nextSpeciesID++
			s.Add(genome)
			g.Species = append(g.Species, s)
			logger.Debug("created species", "epoch", g.Epoch, "species", s.ID, "representative", genome.ID)
		}
	}

	g.Species = slices.DeleteFunc(g.Species, func(s *Species) bool {
		if len(s.Population) == 0 {
			logger.Debug("species died out", "epoch", g.Epoch, "species", s.ID)
			return true
		}
		return false
	})
	g.speciated = true

	if len(g.distances) > 0 {
		logger.Debug("speciated", "epoch", g.Epoch, "species", len(g.Species),
			"mean_distance", Mean(g.distances), "stdev_distance", Stdev(g.distances))
	}
}

// Mutate mutates every genome except the species champions. Weight perturbation, add-node
// and add-connection are each gated by their own probability.
func (g *Generation) Mutate() error {
	if !g.speciated || len(g.Species) == 0 {
		g.Speciate()
	}
	config := &g.env.Config.Genome
	rng := g.env.Rand

	for _, s := range g.Species {
		for _, genome := range s.Population {
			if genome == s.Champion {
				continue
			}
			if rng.Float64() < config.WeightMutateProb {
				genome.MutateWeights(rng, config)
			}
			if rng.Float64() < config.NodeAddProb {
				if err := g.mutateAddNode(genome); err != nil {
					return fmt.Errorf("add node to genome %d: %w", genome.ID, err)
				}
			}
			if rng.Float64() < config.ConnAddProb {
				if err := g.mutateAddConnection(genome); err != nil {
					return fmt.Errorf("add connection to genome %d: %w", genome.ID, err)
				}
			}
		}
	}
	return nil
}

// mutateAddNode splits a random enabled connection. A split the genome already holds is skipped.
func (g *Generation) mutateAddNode(genome *Genome) error {
	var enabled []*ConnectionGene
	for _, c := range genome.Connections {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	if len(enabled) == 0 {
		return nil
	}
	c := enabled[g.env.Rand.IntN(len(enabled))]
	if _, _, _, err := genome.MutateAddNode(c.Innovation, g); err != nil && !errors.Is(err, ErrConflict) {
		return err
	}
	return nil
}

// mutateAddConnection tries a bounded number of random node pairs and adds the first valid one.
// Finding no valid pair is not an error.
func (g *Generation) mutateAddConnection(genome *Genome) error {
	config := &g.env.Config.Genome
	rng := g.env.Rand

	hidden, outputs := genome.HiddenIDs(), genome.OutputIDs()
	sources := slices.Concat(genome.InputIDs(), hidden, outputs)
	targets := slices.Concat(hidden, outputs)
	if len(sources) == 0 || len(targets) == 0 {
		return nil
	}

	for range config.ConnAddAttempts {
		in := sources[rng.IntN(len(sources))]
		out := targets[rng.IntN(len(targets))]
		_, err := genome.MutateAddConnection(in, out, randomWeight(rng, config), g)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return nil
}

// Evaluate assigns a fitness to every genome. It stops at the first error or when ctx is done.
// Fitness must be a finite number.
func (g *Generation) Evaluate(ctx context.Context, evaluator Evaluator) error {
	for _, genome := range g.Genomes {
		if err := ctx.Err(); err != nil {
			return err
		}
		fitness, err := evaluator.Evaluate(ctx, genome)
		if err != nil {
			return fmt.Errorf("evaluate genome %d: %w", genome.ID, err)
		}
		if math.IsNaN(fitness) || math.IsInf(fitness, 0) {
			return fmt.Errorf("evaluate genome %d: fitness %v is not finite: %w", genome.ID, fitness, ErrInvalidInput)
		}
		genome.Fitness = fitness
		g.env.Logger.Log(ctx, logging.LevelTrace, "evaluated genome", "epoch", g.Epoch, "genome", genome.ID, "fitness", fitness)
	}
	return nil
}

// ChooseChampions lets every species pick its champion for this epoch.
func (g *Generation) ChooseChampions() {
	minSize := g.env.Config.Reproduction.ChampionMinSize
	for _, s := range g.Species {
		s.ChooseChampion(g.env.Rand, minSize)
	}
}

// PruneSpecies removes the worst performers of every species.
func (g *Generation) PruneSpecies() {
	fraction := g.env.Config.Reproduction.PruneFraction
	for _, s := range g.Species {
		if removed := s.Prune(fraction); removed > 0 {
			g.env.Logger.Debug("pruned species", "epoch", g.Epoch, "species", s.ID, "removed", removed, "left", len(s.Population))
		}
	}
}

// AdvanceEpoch runs one full epoch: mutation, evaluation, champion selection, offspring
// allocation, pruning and breeding. It returns the next generation.
//
// If evaluation fails the generation keeps its mutated genomes, and calling AdvanceEpoch
// again resumes at evaluation without mutating them a second time.
func (g *Generation) AdvanceEpoch(ctx context.Context, evaluator Evaluator) (*Generation, error) {
	if !g.mutated {
		if err := g.Mutate(); err != nil {
			return nil, fmt.Errorf("mutation failed in epoch %d: %w", g.Epoch, err)
		}
		g.mutated = true
	}
	if err := g.Evaluate(ctx, evaluator); err != nil {
		return nil, fmt.Errorf("fitness evaluation failed in epoch %d: %w", g.Epoch, err)
	}
	g.ChooseChampions()
	g.AssignOffspring()
	g.stats = g.collectStats()
	g.PruneSpecies()

	next, err := g.Reproduce()
	if err != nil {
		return nil, fmt.Errorf("reproduction failed in epoch %d: %w", g.Epoch, err)
	}
	return next, nil
}

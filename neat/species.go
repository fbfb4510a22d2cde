package neat

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// Species represents a group of genetically similar genomes sharing one fitness pool.
type Species struct {
	ID             int       // Unique identifier, stable across epochs.
	Representative *Genome   // Genome new members are measured against.
	Population     []*Genome // Members of the species.
	Champion       *Genome   // Protected member carried unmutated into the next epoch.
	SharedFitness  float64   // Sum of adjusted member fitness, cached by PopulationFitness.
	OffspringQuota int       // Children to breed next epoch, set by Generation.AssignOffspring.

	Created      int     // Epoch the species first appeared in.
	BestFitness  float64 // Best champion fitness seen so far.
	LastImproved int     // Last epoch BestFitness improved.
}

// NewSpecies creates a species with the given representative and no members.
func NewSpecies(id, epoch int, representative *Genome) *Species {
	return &Species{
		ID:             id,
		Representative: representative,
		Created:        epoch,
		LastImproved:   epoch,
		BestFitness:    math.Inf(-1),
	}
}

// Add appends a genome to the population. Compatibility is the caller's responsibility.
func (s *Species) Add(genome *Genome) {
	s.Population = append(s.Population, genome)
}

// Contains reports whether genome is a member of the species.
func (s *Species) Contains(genome *Genome) bool {
	return slices.Contains(s.Population, genome)
}

// ChooseChampion selects the member to protect this epoch and stores it in Champion.
// Species smaller than minSize are not trusted to have a meaningful leader, so a random
// member is chosen. Otherwise the fittest member wins, exact ties broken at random.
func (s *Species) ChooseChampion(rng *rand.Rand, minSize int) *Genome {
	switch {
	case len(s.Population) == 0:
		s.Champion = nil
	case len(s.Population) < minSize:
		s.Champion = s.Population[rng.IntN(len(s.Population))]
	default:
		s.Champion = Fittest(rng, s.Population...)
	}
	return s.Champion
}

// AdjustedFitness returns the genome's fitness shared with the rest of the species.
// Under a step sharing function the sharing denominator is the species size.
func (s *Species) AdjustedFitness(genome *Genome) (float64, error) {
	if !s.Contains(genome) {
		return 0, fmt.Errorf("genome %d, species %d: %w", genome.ID, s.ID, ErrMembership)
	}
	return genome.Fitness / float64(len(s.Population)), nil
}

// PopulationFitness returns the sum of the adjusted fitness of all members and caches it
// in SharedFitness.
func (s *Species) PopulationFitness() float64 {
	total := 0.0
	if n := len(s.Population); n > 0 {
		for _, g := range s.Population {
			total += g.Fitness / float64(n)
		}
	}
	s.SharedFitness = total
	return total
}

// Prune sorts the population by adjusted fitness and drops the worst floor(N*fraction)
// members. The best member always survives.
func (s *Species) Prune(fraction float64) int {
	n := len(s.Population)
	if n == 0 {
		return 0
	}
	// The adjusted fitness denominator is shared by all members, so raw fitness orders them the same way.
	slices.SortStableFunc(s.Population, func(a, b *Genome) int {
		switch {
		case a.Fitness > b.Fitness:
			return -1
		case a.Fitness < b.Fitness:
			return 1
		default:
			return 0
		}
	})
	remove := int(math.Floor(float64(n) * fraction))
	if remove >= n {
		remove = n - 1
	}
	if remove < 0 {
		remove = 0
	}
	clear(s.Population[n-remove:])
	s.Population = s.Population[:n-remove]
	return remove
}

// Fitnesses returns the raw fitness of every member.
func (s *Species) Fitnesses() []float64 {
	fitnesses := make([]float64, 0, len(s.Population))
	for _, g := range s.Population {
		fitnesses = append(fitnesses, g.Fitness)
	}
	return fitnesses
}

package neat

// SpeciesStats summarises one species at the end of an epoch, before pruning.
type SpeciesStats struct {
	ID              int     `json:"id"`
	Size            int     `json:"size"`
	Created         int     `json:"created"`
	LastImproved    int     `json:"last_improved"`
	ChampionID      int     `json:"champion_id"`
	ChampionFitness float64 `json:"champion_fitness"`
	SharedFitness   float64 `json:"shared_fitness"`
	OffspringQuota  int     `json:"offspring_quota"`
}

// EpochStats summarises an evaluated generation.
type EpochStats struct {
	Epoch          int            `json:"epoch"`
	PopulationSize int            `json:"population_size"`
	BestFitness    float64        `json:"best_fitness"`
	MeanFitness    float64        `json:"mean_fitness"`
	StdevFitness   float64        `json:"stdev_fitness"`
	MeanDistance   float64        `json:"mean_distance"`
	NextInnovation int            `json:"next_innovation"`
	Species        []SpeciesStats `json:"species"`
	Best           *Genome        `json:"-"` // Fittest genome of the epoch
}

// Stats returns the statistics of the last completed epoch, or nil if the generation has not
// been advanced yet.
func (g *Generation) Stats() *EpochStats {
	return g.stats
}

func (g *Generation) collectStats() *EpochStats {
	fitnesses := make([]float64, 0, len(g.Genomes))
	for _, genome := range g.Genomes {
		fitnesses = append(fitnesses, genome.Fitness)
	}
	stats := &EpochStats{
		Epoch:          g.Epoch,
		PopulationSize: len(g.Genomes),
		MeanFitness:    Mean(fitnesses),
		StdevFitness:   Stdev(fitnesses),
		MeanDistance:   Mean(g.distances),
		NextInnovation: g.env.Innovations.Peek(),
		Best:           Fittest(g.env.Rand, g.Genomes...),
	}
	if stats.Best != nil {
		stats.BestFitness = stats.Best.Fitness
	}
	for _, s := range g.Species {
		ss := SpeciesStats{
			ID:             s.ID,
			Size:           len(s.Population),
			Created:        s.Created,
			LastImproved:   s.LastImproved,
			SharedFitness:  s.SharedFitness,
			OffspringQuota: s.OffspringQuota,
		}
		if s.Champion != nil {
			ss.ChampionID = s.Champion.ID
			ss.ChampionFitness = s.Champion.Fitness
		}
		stats.Species = append(stats.Species, ss)
	}
	return stats
}

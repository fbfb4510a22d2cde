package neat

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// SeedGenomes creates the initial population: n independent genomes, each fully connecting
// every input to every output with random weights. All genomes share the same innovation
// numbers, so the first generation is perfectly homologous.
func SeedGenomes(env *Environment, n int) []*Genome {
	config := &env.Config.Genome
	inputIDs, outputIDs := config.InputIDs(), config.OutputIDs()
	ledger := NewLedger(env.Innovations)

	genomes := make([]*Genome, 0, n)
	for range n {
		genome := NewGenome(env.GenomeIDs.Next(), inputIDs, outputIDs)
		genome.Recurrent = !config.FeedForward
		for _, in := range inputIDs {
			for _, out := range outputIDs {
				innovation := ledger.ConnectionInnovation(in, out)
				genome.appendConnection(NewConnectionGene(in, out, innovation, randomWeight(env.Rand, config)))
			}
		}
		genomes = append(genomes, genome)
	}
	return genomes
}

// AssignOffspring sets the OffspringQuota of every species.
//
// Each species' champion survives on its own, so PopSize minus the number of champions slots
// are left for breeding. They are shared out in proportion to each species' shared fitness,
// rounded down; the slots lost to rounding go one each to the species with the highest
// shared fitness. Stagnant species get nothing. Negative fitness counts as zero, and if no
// species has positive fitness the slots are shared by member count instead.
func (g *Generation) AssignOffspring() {
	logger := g.env.Logger
	champions := 0
	for _, s := range g.Species {
		s.OffspringQuota = 0
		if s.Champion != nil {
			champions++
		}
	}
	budget := max(g.env.Config.Neat.PopSize-champions, 0)

	infos := NewStagnation(&g.env.Config.Reproduction).Update(g.Species, g.Epoch)
	shares := make([]float64, len(g.Species))
	for i, s := range g.Species {
		fitness := s.PopulationFitness()
		if infos[i].IsStagnant {
			logger.Info("species is stagnant", "epoch", g.Epoch, "species", s.ID, "stagnant_for", infos[i].StagnantFor)
			continue
		}
		shares[i] = max(fitness, 0)
	}
	total := Sum(shares)
	if total <= 0 {
		for i, s := range g.Species {
			if !infos[i].IsStagnant {
				shares[i] = float64(len(s.Population))
			}
		}
		total = Sum(shares)
	}
	if total <= 0 || budget == 0 {
		return
	}

	assigned := 0
	for i, s := range g.Species {
		s.OffspringQuota = int(math.Floor(shares[i] / total * float64(budget)))
		assigned += s.OffspringQuota
	}

	order := make([]int, 0, len(g.Species))
	for i := range g.Species {
		if shares[i] > 0 {
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(shares[b], shares[a])
	})
	for remainder := budget - assigned; remainder > 0; {
		for _, i := range order {
			if remainder == 0 {
				break
			}
			g.Species[i].OffspringQuota++
			remainder--
		}
	}
}

// Reproduce builds the next generation: every species champion unchanged, followed by
// OffspringQuota children per species bred from uniformly chosen surviving members.
func (g *Generation) Reproduce() (*Generation, error) {
	rng := g.env.Rand
	var genomes []*Genome
	for _, s := range g.Species {
		if s.Champion != nil {
			genomes = append(genomes, s.Champion)
		}
	}
	for _, s := range g.Species {
		if len(s.Population) == 0 {
			continue
		}
		for range s.OffspringQuota {
			a := s.Population[rng.IntN(len(s.Population))]
			b := s.Population[rng.IntN(len(s.Population))]
			child, err := g.Breed(a, b)
			if err != nil {
				return nil, fmt.Errorf("breed species %d: %w", s.ID, err)
			}
			genomes = append(genomes, child)
		}
	}
	if len(genomes) != g.env.Config.Neat.PopSize {
		g.env.Logger.Warn("next generation size differs from target",
			"epoch", g.Epoch, "size", len(genomes), "target", g.env.Config.Neat.PopSize)
	}
	return NewGeneration(g.env, g.Epoch+1, genomes, g), nil
}

// Breed creates a child genome from two parents.
//
// Input and output nodes come from a, hidden nodes from the fitter parent. Every connection
// of the fitter parent is inherited: matching genes take the weight of either parent at
// random, disjoint and excess genes are copied from the fitter parent. A gene disabled in
// either parent is re-enabled with probability ReenableChance.
func (g *Generation) Breed(a, b *Genome) (*Genome, error) {
	rng := g.env.Rand
	reenable := g.env.Config.Reproduction.ReenableChance

	fitter := Fittest(rng, a, b)
	other := b
	if fitter == b {
		other = a
	}
	other.ensureIndex()

	child := &Genome{
		ID:          g.env.GenomeIDs.Next(),
		InputNodes:  copyNodes(a.InputNodes),
		HiddenNodes: copyNodes(fitter.HiddenNodes),
		OutputNodes: copyNodes(a.OutputNodes),
		Connections: make([]*ConnectionGene, 0, len(fitter.Connections)),
		Recurrent:   fitter.Recurrent,
	}
	for _, fc := range fitter.Connections {
		var gene *ConnectionGene
		if oc, ok := other.byInnovation[fc.Innovation]; ok {
			gene = fc.Copy()
			if rng.IntN(2) == 1 {
				gene = oc.Copy()
			}
			if !fc.Enabled || !oc.Enabled {
				gene.Enabled = rng.Float64() < reenable
			}
		} else {
			gene = fc.Copy()
			if !fc.Enabled {
				gene.Enabled = rng.Float64() < reenable
			}
		}
		if !child.HasNode(gene.InNodeID) || !child.HasNode(gene.OutNodeID) {
			return nil, fmt.Errorf("connection %d of genome %d: %w", gene.Innovation, fitter.ID, ErrNotFound)
		}
		child.Connections = append(child.Connections, gene)
	}
	child.RebuildIncoming()
	child.ensureIndex()
	return child, nil
}

package neat

import (
	"math"
	"math/rand/v2"
)

// GeneDifferences counts the excess and disjoint genes of two genomes and sums the absolute
// weight differences of their matching genes.
//
// Every innovation number in the union of both genomes is classified exactly once: matching
// if both genomes hold it, excess if it lies beyond the other genome's highest innovation,
// disjoint otherwise.
func GeneDifferences(first, second *Genome) (excess, disjoint int, weight float64) {
	first.ensureIndex()
	second.ensureIndex()
	firstMax := first.MaxInnovation()
	secondMax := second.MaxInnovation()

	union := make(map[int]struct{}, len(first.byInnovation)+len(second.byInnovation))
	for innovation := range first.byInnovation {
		union[innovation] = struct{}{}
	}
	for innovation := range second.byInnovation {
		union[innovation] = struct{}{}
	}

	// Ascending order keeps the weight sum identical whichever genome comes first.
	for _, innovation := range sortedKeys(union) {
		a, inFirst := first.byInnovation[innovation]
		b, inSecond := second.byInnovation[innovation]
		switch {
		case inFirst && inSecond:
			weight += math.Abs(a.Weight - b.Weight)
		case inFirst && innovation > secondMax, inSecond && innovation > firstMax:
			excess++
		default:
			disjoint++
		}
	}
	return excess, disjoint, weight
}

// Distance calculates the compatibility distance between two genomes:
//
//	(c1*E + c2*D) / N + c3*W
//
// where N is the gene count of the larger genome. Unless NormalizeGeneSize is set,
// N is 1 for genomes smaller than NormalizeMinGenes.
func Distance(first, second *Genome, config *SpeciationConfig) float64 {
	n := max(first.Size(), second.Size())
	if !config.NormalizeGeneSize && n < config.NormalizeMinGenes {
		n = 1
	}
	if n < 1 {
		n = 1 // Both genomes are empty.
	}

	excess, disjoint, weight := GeneDifferences(first, second)
	excessDistance := config.ExcessCoefficient * float64(excess) / float64(n)
	disjointDistance := config.DisjointCoefficient * float64(disjoint) / float64(n)
	return excessDistance + disjointDistance + config.WeightCoefficient*weight
}

// Fittest returns the genome with the highest fitness. Exact ties are broken uniformly at
// random among all tied leaders. It returns nil for no genomes.
func Fittest(rng *rand.Rand, genomes ...*Genome) *Genome {
	var leaders []*Genome
	for _, g := range genomes {
		switch {
		case len(leaders) == 0 || g.Fitness > leaders[0].Fitness:
			leaders = append(leaders[:0], g)
		case g.Fitness == leaders[0].Fitness:
			leaders = append(leaders, g)
		}
	}
	switch len(leaders) {
	case 0:
		return nil
	case 1:
		return leaders[0]
	default:
		return leaders[rng.IntN(len(leaders))]
	}
}

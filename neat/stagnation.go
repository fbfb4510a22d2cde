package neat

import (
	"slices"
)

// Stagnation tracks species progress and flags species that stopped improving.
type Stagnation struct {
	MaxStagnation int // Epochs without improvement before a species is stagnant; 0 disables.
}

// NewStagnation creates a stagnation tracker from the reproduction config.
func NewStagnation(config *ReproductionConfig) *Stagnation {
	return &Stagnation{MaxStagnation: config.MaxStagnation}
}

// StagnationInfo holds the result of a stagnation update for a single species.
type StagnationInfo struct {
	Species     *Species
	StagnantFor int
	IsStagnant  bool
}

// Update records each species' best fitness for this epoch and reports which species are stagnant.
// The species with the highest best fitness is never stagnant, so the run cannot die out.
// Results are in the order of the input slice.
func (st *Stagnation) Update(species []*Species, epoch int) []StagnationInfo {
	result := make([]StagnationInfo, len(species))
	for i, s := range species {
		if len(s.Population) > 0 {
			if best := MaxFloat(s.Fitnesses()); best > s.BestFitness {
				s.BestFitness = best
				s.LastImproved = epoch
			}
		}
		result[i] = StagnationInfo{Species: s, StagnantFor: epoch - s.LastImproved}
	}
	if st.MaxStagnation <= 0 || len(species) == 0 {
		return result
	}

	leader := slices.IndexFunc(species, func(s *Species) bool {
		for _, other := range species {
			if other.BestFitness > s.BestFitness {
				return false
			}
		}
		return true
	})
	for i := range result {
		if i != leader && result[i].StagnantFor >= st.MaxStagnation {
			result[i].IsStagnant = true
		}
	}
	return result
}

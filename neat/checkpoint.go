package neat

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"math/rand/v2"
	"os"
)

// PopulationSaveData is the part of a Population written to a checkpoint.
// The Config is not saved; it is supplied again when the checkpoint is loaded.
type PopulationSaveData struct {
	Epoch          int
	Genomes        []*Genome
	Seeds          []SpeciesSeed
	NextSpeciesID  int
	NextInnovation int
	NextGenomeID   int
	BestGenome     *Genome
	RandState      []byte // Marshalled PCG state
}

// SaveCheckpoint writes the population to a gzip-compressed gob file. It must be called
// between epochs, i.e. before the current generation has been mutated. After a failed
// RunGeneration the epoch stays in progress until a retry completes it.
func (p *Population) SaveCheckpoint(filePath string) error {
	gen := p.Generation
	if gen.speciated {
		return fmt.Errorf("epoch %d is in progress: %w", gen.Epoch, ErrConflict)
	}
	randState, err := p.pcg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal random state: %w", err)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file '%s': %w", filePath, err)
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	saveData := PopulationSaveData{
		Epoch:          gen.Epoch,
		Genomes:        gen.Genomes,
		Seeds:          gen.seeds,
		NextSpeciesID:  gen.nextSpeciesID,
		NextInnovation: p.env.Innovations.Peek(),
		NextGenomeID:   p.env.GenomeIDs.Peek(),
		BestGenome:     p.BestGenome,
		RandState:      randState,
	}
	if err := gob.NewEncoder(gzWriter).Encode(saveData); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to encode population data: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to flush checkpoint '%s': %w", filePath, err)
	}

	p.logger.Info("checkpoint saved", "path", filePath, "epoch", gen.Epoch)
	return nil
}

// LoadCheckpoint restores a Population from a checkpoint file. The run continues exactly
// as it would have without the interruption, provided config is the one it was started with.
func LoadCheckpoint(checkpointPath string, config *Config, opts ...PopulationOption) (*Population, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	file, err := os.Open(checkpointPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file '%s': %w", checkpointPath, err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader for checkpoint: %w", err)
	}
	defer gzReader.Close()

	var saveData PopulationSaveData
	if err := gob.NewDecoder(gzReader).Decode(&saveData); err != nil {
		return nil, fmt.Errorf("failed to decode population data from checkpoint: %w", err)
	}

	pcg := &rand.PCG{}
	if err := pcg.UnmarshalBinary(saveData.RandState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal random state: %w", err)
	}

	p := newPopulation(config, pcg, opts)
	p.env = NewEnvironment(config, rand.New(pcg), p.logger)
	p.env.Innovations = NewCounter(saveData.NextInnovation)
	p.env.GenomeIDs = NewCounter(saveData.NextGenomeID)

	// Gob does not keep pointer identity; champions are matched to their genome by id.
	byID := make(map[int]*Genome, len(saveData.Genomes))
	for _, genome := range saveData.Genomes {
		genome.restore()
		byID[genome.ID] = genome
	}
	for i := range saveData.Seeds {
		seed := &saveData.Seeds[i]
		if genome, ok := byID[seed.Representative.ID]; ok && seed.Champion {
			seed.Representative = genome
		} else {
			seed.Representative.restore()
		}
	}
	if saveData.BestGenome != nil {
		saveData.BestGenome.restore()
	}

	gen := NewGeneration(p.env, saveData.Epoch, saveData.Genomes, nil)
	gen.seeds = saveData.Seeds
	gen.nextSpeciesID = saveData.NextSpeciesID
	p.Generation = gen
	p.BestGenome = saveData.BestGenome

	p.logger.Info("checkpoint loaded", "path", checkpointPath, "epoch", saveData.Epoch)
	return p, nil
}

// restore repairs a genome decoded by gob, which turns empty maps into nil maps.
func (g *Genome) restore() {
	if g.InputNodes == nil {
		g.InputNodes = make(map[int]*NodeGene)
	}
	if g.HiddenNodes == nil {
		g.HiddenNodes = make(map[int]*NodeGene)
	}
	if g.OutputNodes == nil {
		g.OutputNodes = make(map[int]*NodeGene)
	}
	g.RebuildIncoming()
	g.byInnovation = nil
	g.ensureIndex()
}

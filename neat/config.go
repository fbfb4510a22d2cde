package neat

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Config stores the configuration parameters for the NEAT algorithm.
type Config struct {
	Neat         NeatConfig         `yaml:"neat"`
	Genome       GenomeConfig       `yaml:"genome"`
	Speciation   SpeciationConfig   `yaml:"speciation"`
	Reproduction ReproductionConfig `yaml:"reproduction"`
}

// NeatConfig holds run-level parameters.
type NeatConfig struct {
	PopSize              int     `ini:"pop_size" yaml:"pop_size"`
	FitnessThreshold     float64 `ini:"fitness_threshold" yaml:"fitness_threshold"`
	NoFitnessTermination bool    `ini:"no_fitness_termination" yaml:"no_fitness_termination"`
	Seed                 uint64  `ini:"seed" yaml:"seed"`
}

// GenomeConfig holds parameters for the structure and mutation of genomes.
type GenomeConfig struct {
	NumInputs   int    `ini:"num_inputs" yaml:"num_inputs"`
	NumOutputs  int    `ini:"num_outputs" yaml:"num_outputs"`
	FeedForward bool   `ini:"feed_forward" yaml:"feed_forward"` // If true, cycle-closing connections are rejected
	Activation  string `ini:"activation" yaml:"activation"`     // Used by compiled networks (neat/nn)

	WeightMin         float64 `ini:"weight_min" yaml:"weight_min"` // Range for fresh random weights
	WeightMax         float64 `ini:"weight_max" yaml:"weight_max"`
	WeightMutateProb  float64 `ini:"weight_mutate_prob" yaml:"weight_mutate_prob"`   // Chance a genome's weights are mutated
	WeightPerturbProb float64 `ini:"weight_perturb_prob" yaml:"weight_perturb_prob"` // Per connection: perturb, else replace
	WeightMutateStep  float64 `ini:"weight_mutate_step" yaml:"weight_mutate_step"`

	ConnAddProb     float64 `ini:"conn_add_prob" yaml:"conn_add_prob"`
	ConnAddAttempts int     `ini:"conn_add_attempts" yaml:"conn_add_attempts"`
	NodeAddProb     float64 `ini:"node_add_prob" yaml:"node_add_prob"`
}

// SpeciationConfig holds the compatibility distance parameters.
type SpeciationConfig struct {
	CompatibilityThreshold float64 `ini:"compatibility_threshold" yaml:"compatibility_threshold"`
	ExcessCoefficient      float64 `ini:"excess_coefficient" yaml:"excess_coefficient"`
	DisjointCoefficient    float64 `ini:"disjoint_coefficient" yaml:"disjoint_coefficient"`
	WeightCoefficient      float64 `ini:"weight_coefficient" yaml:"weight_coefficient"`
	// If false, N is clamped to 1 for genomes smaller than NormalizeMinGenes.
	NormalizeGeneSize bool `ini:"normalize_gene_size" yaml:"normalize_gene_size"`
	NormalizeMinGenes int  `ini:"normalize_min_genes" yaml:"normalize_min_genes"`
}

// ReproductionConfig holds parameters related to reproduction.
type ReproductionConfig struct {
	ReenableChance  float64 `ini:"reenable_chance" yaml:"reenable_chance"`
	ChampionMinSize int     `ini:"champion_min_size" yaml:"champion_min_size"` // Smaller species get a random champion
	PruneFraction   float64 `ini:"prune_fraction" yaml:"prune_fraction"`
	MaxStagnation   int     `ini:"max_stagnation" yaml:"max_stagnation"` // 0 disables stagnation culling
}

// DefaultConfig returns the default parameters. NumInputs and NumOutputs still need to be set.
// FitnessThreshold defaults to 0, which any non-negative fitness meets: set it, or set
// NoFitnessTermination, before calling Population.Run.
func DefaultConfig() *Config {
	return &Config{
		Neat: NeatConfig{
			PopSize:          150,
			FitnessThreshold: 0,
			Seed:             1,
		},
		Genome: GenomeConfig{
			FeedForward:       true,
			Activation:        "sigmoid",
			WeightMin:         -2.0,
			WeightMax:         2.0,
			WeightMutateProb:  0.8,
			WeightPerturbProb: 0.9,
			WeightMutateStep:  0.1,
			ConnAddProb:       0.05,
			ConnAddAttempts:   20,
			NodeAddProb:       0.03,
		},
		Speciation: SpeciationConfig{
			CompatibilityThreshold: 3.0,
			ExcessCoefficient:      1.0,
			DisjointCoefficient:    1.0,
			WeightCoefficient:      0.4,
			NormalizeGeneSize:      false,
			NormalizeMinGenes:      20,
		},
		Reproduction: ReproductionConfig{
			ReenableChance:  0.25,
			ChampionMinSize: 5,
			PruneFraction:   0.5,
			MaxStagnation:   0,
		},
	}
}

// LoadConfig loads configuration parameters from an INI or YAML file on top of DefaultConfig.
// Files ending in .yaml or .yml are read as YAML, anything else as INI.
func LoadConfig(filePath string) (*Config, error) {
	config := DefaultConfig()

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := loadYAML(filePath, config); err != nil {
			return nil, err
		}
	default:
		if err := loadINI(filePath, config); err != nil {
			return nil, err
		}
	}

	config.Genome.Activation = strings.ToLower(strings.TrimSpace(config.Genome.Activation))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadINI(filePath string, config *Config) error {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		UnescapeValueCommentSymbols: true, // Allow # or ; inside quoted values
	}, filePath)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", filePath, err)
	}

	// Missing keys keep their default values.
	if err := cfg.Section("NEAT").MapTo(&config.Neat); err != nil {
		return fmt.Errorf("failed to map [NEAT] section: %w", err)
	}
	if err := cfg.Section("Genome").MapTo(&config.Genome); err != nil {
		return fmt.Errorf("failed to map [Genome] section: %w", err)
	}
	if err := cfg.Section("Speciation").MapTo(&config.Speciation); err != nil {
		return fmt.Errorf("failed to map [Speciation] section: %w", err)
	}
	if err := cfg.Section("Reproduction").MapTo(&config.Reproduction); err != nil {
		return fmt.Errorf("failed to map [Reproduction] section: %w", err)
	}
	return nil
}

func loadYAML(filePath string, config *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", filePath, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode config file '%s': %w", filePath, err)
	}
	return nil
}

// SaveINI writes the configuration as an INI file that LoadConfig can read back.
func (c *Config) SaveINI(filePath string) error {
	cfg := ini.Empty()
	sections := []struct {
		name string
		v    any
	}{
		{"NEAT", &c.Neat},
		{"Genome", &c.Genome},
		{"Speciation", &c.Speciation},
		{"Reproduction", &c.Reproduction},
	}
	for _, s := range sections {
		if err := cfg.Section(s.name).ReflectFrom(s.v); err != nil {
			return fmt.Errorf("failed to reflect [%s] section: %w", s.name, err)
		}
	}
	if err := cfg.SaveTo(filePath); err != nil {
		return fmt.Errorf("failed to save config file '%s': %w", filePath, err)
	}
	return nil
}

// Validate checks the configuration for values the engine cannot work with.
func (c *Config) Validate() error {
	if c.Neat.PopSize <= 0 {
		return configError("pop_size must be positive")
	}
	if c.Genome.NumInputs <= 0 {
		return configError("num_inputs must be positive")
	}
	if c.Genome.NumOutputs <= 0 {
		return configError("num_outputs must be positive")
	}
	if _, err := GetActivation(c.Genome.Activation); err != nil {
		return configError("unknown activation '%s'", c.Genome.Activation)
	}
	if c.Genome.WeightMax < c.Genome.WeightMin {
		return configError("weight_max cannot be less than weight_min")
	}
	if c.Genome.WeightMutateStep < 0 {
		return configError("weight_mutate_step cannot be negative")
	}
	if c.Genome.ConnAddAttempts <= 0 {
		return configError("conn_add_attempts must be positive")
	}
	probs := []struct {
		name string
		v    float64
	}{
		{"weight_mutate_prob", c.Genome.WeightMutateProb},
		{"weight_perturb_prob", c.Genome.WeightPerturbProb},
		{"conn_add_prob", c.Genome.ConnAddProb},
		{"node_add_prob", c.Genome.NodeAddProb},
		{"reenable_chance", c.Reproduction.ReenableChance},
	}
	for _, p := range probs {
		if p.v < 0 || p.v > 1 {
			return configError("%s must be between 0 and 1", p.name)
		}
	}
	if c.Speciation.CompatibilityThreshold < 0 {
		return configError("compatibility_threshold cannot be negative")
	}
	if c.Speciation.ExcessCoefficient < 0 || c.Speciation.DisjointCoefficient < 0 || c.Speciation.WeightCoefficient < 0 {
		return configError("compatibility coefficients cannot be negative")
	}
	if c.Speciation.NormalizeMinGenes < 0 {
		return configError("normalize_min_genes cannot be negative")
	}
	if c.Reproduction.PruneFraction < 0 || c.Reproduction.PruneFraction >= 1 {
		return configError("prune_fraction must be in [0, 1)")
	}
	if c.Reproduction.ChampionMinSize < 0 {
		return configError("champion_min_size cannot be negative")
	}
	if c.Reproduction.MaxStagnation < 0 {
		return configError("max_stagnation cannot be negative")
	}
	return nil
}

// InputIDs returns the node ids of the input nodes. Ids 1..NumInputs are inputs.
func (gc *GenomeConfig) InputIDs() []int {
	ids := make([]int, gc.NumInputs)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

// OutputIDs returns the node ids of the output nodes, which follow the inputs.
func (gc *GenomeConfig) OutputIDs() []int {
	ids := make([]int, gc.NumOutputs)
	for i := range ids {
		ids[i] = gc.NumInputs + i + 1
	}
	return ids
}

func configError(format string, args ...any) error {
	return fmt.Errorf("config error: %s: %w", fmt.Sprintf(format, args...), ErrInvalidInput)
}

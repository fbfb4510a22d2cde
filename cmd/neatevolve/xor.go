package main

import (
	"context"
	"fmt"

	"github.com/tinyhoot/RetroArchML/neat"
	"github.com/tinyhoot/RetroArchML/neat/nn"
)

// XOR inputs and expected outputs.
var xorInputs = [][]float64{
	{0.0, 0.0},
	{0.0, 1.0},
	{1.0, 0.0},
	{1.0, 1.0},
}
var xorOutputs = []float64{0.0, 1.0, 1.0, 0.0}

// xorFitnessThreshold is reached when every case is off by less than about 0.05.
const xorFitnessThreshold = 15.0

// xorConfig returns the default configuration for the XOR task.
func xorConfig() *neat.Config {
	config := neat.DefaultConfig()
	config.Genome.NumInputs = 2
	config.Genome.NumOutputs = 1
	config.Neat.FitnessThreshold = xorFitnessThreshold
	return config
}

func checkXORConfig(config *neat.Config) error {
	if config.Genome.NumInputs != 2 || config.Genome.NumOutputs != 1 {
		return fmt.Errorf("the XOR task needs 2 inputs and 1 output, config has %d and %d: %w",
			config.Genome.NumInputs, config.Genome.NumOutputs, neat.ErrInvalidInput)
	}
	return nil
}

// xorEvaluator scores a genome as (4 - sum of squared errors)^2, clamped at 0.
// Feed-forward genomes run through a compiled network, recurrent ones through the genome.
type xorEvaluator struct {
	activation neat.ActivationType
}

func newXOREvaluator(config *neat.Config) (*xorEvaluator, error) {
	activation, err := neat.GetActivation(config.Genome.Activation)
	if err != nil {
		return nil, err
	}
	return &xorEvaluator{activation: activation}, nil
}

func (e *xorEvaluator) Evaluate(ctx context.Context, g *neat.Genome) (float64, error) {
	outputs, err := e.outputs(g)
	if err != nil {
		return 0, err
	}
	sumSquaredError := 0.0
	for i, out := range outputs {
		diff := out - xorOutputs[i]
		sumSquaredError += diff * diff
	}
	base := max(4.0-sumSquaredError, 0)
	return base * base, nil
}

// outputs runs all four XOR cases and returns the first output of each.
func (e *xorEvaluator) outputs(g *neat.Genome) ([]float64, error) {
	activate := g.Activate
	if !g.Recurrent {
		net, err := nn.CreateFeedForwardNetwork(g, e.activation)
		if err != nil {
			return nil, fmt.Errorf("failed to create network for genome %d: %w", g.ID, err)
		}
		activate = net.Activate
	}

	results := make([]float64, len(xorInputs))
	for i, inputs := range xorInputs {
		out, err := activate(inputs)
		if err != nil {
			return nil, err
		}
		results[i] = out[0]
	}
	return results, nil
}

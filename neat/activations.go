package neat

import (
	"fmt"
	"math"
)

// ActivationType defines the type for activation functions.
type ActivationType func(x float64) float64

// ActivationFunctions maps function names to activation functions.
// This allows configuration to specify activations by name.
var ActivationFunctions = map[string]ActivationType{
	"sigmoid":  Sigmoid,
	"tanh":     Tanh,
	"relu":     ReLU,
	"identity": Identity,
}

// GetActivation retrieves an activation function by name.
func GetActivation(name string) (ActivationType, error) {
	if fn, ok := ActivationFunctions[name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("unknown activation function '%s': %w", name, ErrNotFound)
}

// SigmoidSlope is the steepness of the NEAT modified sigmoid.
const SigmoidSlope = 4.9

// Sigmoid is Stanley & Miikkulainen's modified logistic, 1 / (1 + exp(-4.9x)).
// It is near linear over [-0.5, 0.5] and saturates outside [-1, 1].
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-SigmoidSlope*x))
}

// Tanh activation function.
func Tanh(x float64) float64 {
	return math.Tanh(x)
}

// ReLU (Rectified Linear Unit) activation function.
func ReLU(x float64) float64 {
	return math.Max(0, x)
}

// Identity activation function (linear).
func Identity(x float64) float64 {
	return x
}

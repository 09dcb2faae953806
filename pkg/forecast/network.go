package forecast

import (
	"errors"
	"fmt"
)

// Layer is a fully-connected layer.
type Layer struct {
	Weights [][]float64 `json:"weights"` // [out][in]
	Biases  []float64   `json:"biases"`
}

// Network is a feedforward network with ReLU hidden layers and a linear
// output layer.
type Network struct {
	Layers []Layer `json:"layers"`
}

// validate checks that the layer shapes chain from in inputs to a single output.
func (n *Network) validate(in int) error {
	if len(n.Layers) == 0 {
		return errors.New("network has no layers")
	}
	for i, l := range n.Layers {
		if len(l.Weights) == 0 || len(l.Weights) != len(l.Biases) {
			return fmt.Errorf("layer %d: %d weight rows for %d biases", i, len(l.Weights), len(l.Biases))
		}
		for j, row := range l.Weights {
			if len(row) != in {
				return fmt.Errorf("layer %d row %d: expected %d inputs, got %d", i, j, in, len(row))
			}
		}
		in = len(l.Weights)
	}
	if in != 1 {
		return fmt.Errorf("network must have a single output, got %d", in)
	}
	return nil
}

// Forward computes the network output for input.
func (n *Network) Forward(input []float64) []float64 {
	x := input
	for i, l := range n.Layers {
		y := make([]float64, len(l.Weights))
		for j, row := range l.Weights {
			sum := l.Biases[j]
			for k, w := range row {
				sum += w * x[k]
			}
			// linear output
			if i < len(n.Layers)-1 && sum < 0 {
				sum = 0
			}
			y[j] = sum
		}
		x = y
	}
	return x
}

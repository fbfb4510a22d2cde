package nn

import (
	"cmp"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/tinyhoot/RetroArchML/neat"
)

// link is an enabled incoming connection of a node.
type link struct {
	From   int
	Weight float64
}

// neuralNode is a non-input node in evaluation order.
type neuralNode struct {
	ID     int
	Links  []link
	Silent bool // No connection genes point at the node, so it always outputs 0
}

// FeedForwardNetwork is a compiled, acyclic phenotype of a genome.
// It evaluates every node once, in topological order.
type FeedForwardNetwork struct {
	InputIDs   []int
	OutputIDs  []int
	Nodes      []neuralNode
	Activation neat.ActivationType
}

// CreateFeedForwardNetwork compiles a genome into a runnable network. Nodes with equal
// depth are ordered by id, so the same genome always compiles to the same network.
// It fails with neat.ErrCycle if the enabled connections form a cycle.
func CreateFeedForwardNetwork(g *neat.Genome, activation neat.ActivationType) (*FeedForwardNetwork, error) {
	if activation == nil {
		activation = neat.Sigmoid
	}
	inputIDs, hiddenIDs, outputIDs := g.InputIDs(), g.HiddenIDs(), g.OutputIDs()

	dg := simple.NewDirectedGraph()
	for _, ids := range [][]int{inputIDs, hiddenIDs, outputIDs} {
		for _, id := range ids {
			dg.AddNode(simple.Node(id))
		}
	}

	links := make(map[int][]link)
	targets := make(map[int]bool)
	for _, c := range g.Connections {
		if !g.HasNode(c.InNodeID) || !g.HasNode(c.OutNodeID) {
			return nil, fmt.Errorf("connection %d of genome %d: %w", c.Innovation, g.ID, neat.ErrNotFound)
		}
		targets[c.OutNodeID] = true
		if !c.Enabled {
			continue
		}
		if c.InNodeID == c.OutNodeID {
			return nil, fmt.Errorf("genome %d has a self-loop on node %d: %w", g.ID, c.InNodeID, neat.ErrCycle)
		}
		links[c.OutNodeID] = append(links[c.OutNodeID], link{From: c.InNodeID, Weight: c.Weight})
		dg.SetEdge(dg.NewEdge(simple.Node(c.InNodeID), simple.Node(c.OutNodeID)))
	}

	sorted, err := topo.SortStabilized(dg, func(nodes []graph.Node) {
		slices.SortFunc(nodes, func(a, b graph.Node) int {
			return cmp.Compare(a.ID(), b.ID())
		})
	})
	if err != nil {
		return nil, fmt.Errorf("genome %d is not feed-forward: %w", g.ID, neat.ErrCycle)
	}

	net := &FeedForwardNetwork{
		InputIDs:   inputIDs,
		OutputIDs:  outputIDs,
		Activation: activation,
	}
	for _, n := range sorted {
		id := int(n.ID())
		if slices.Contains(inputIDs, id) {
			continue
		}
		net.Nodes = append(net.Nodes, neuralNode{
			ID:     id,
			Links:  links[id],
			Silent: !targets[id],
		})
	}
	return net, nil
}

// Activate computes the outputs, ordered by ascending output id, for inputs ordered by
// ascending input id.
func (net *FeedForwardNetwork) Activate(inputs []float64) ([]float64, error) {
	if len(inputs) != len(net.InputIDs) {
		return nil, fmt.Errorf("expected %d inputs, got %d: %w", len(net.InputIDs), len(inputs), neat.ErrInvalidInput)
	}

	values := make(map[int]float64, len(net.InputIDs)+len(net.Nodes))
	for i, id := range net.InputIDs {
		values[id] = inputs[i]
	}
	for _, node := range net.Nodes {
		if node.Silent {
			values[node.ID] = 0
			continue
		}
		sum := 0.0
		for _, l := range node.Links {
			sum += l.Weight * values[l.From]
		}
		values[node.ID] = net.Activation(sum)
	}

	outputs := make([]float64, len(net.OutputIDs))
	for i, id := range net.OutputIDs {
		outputs[i] = values[id]
	}
	return outputs, nil
}

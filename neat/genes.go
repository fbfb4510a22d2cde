package neat

import (
	"fmt"
)

// --------------------------- NodeGene ---------------------------

// NodeGene represents a node (neuron) in the genome.
type NodeGene struct {
	ID    int     `json:"id"`
	Value float64 `json:"value"` // Output of the last activation pass
	// Incoming holds the innovation numbers of the connections feeding this node, in insertion order.
	Incoming []int `json:"incoming,omitempty"`
}

// NewNodeGene creates a node gene with no incoming connections.
func NewNodeGene(id int) *NodeGene {
	return &NodeGene{ID: id}
}

// String returns a string representation of the NodeGene.
func (ng *NodeGene) String() string {
	return fmt.Sprintf("NodeGene(ID: %d, Value: %.3f, Incoming: %v)", ng.ID, ng.Value, ng.Incoming)
}

// Copy creates a deep copy of the NodeGene.
func (ng *NodeGene) Copy() *NodeGene {
	c := &NodeGene{ID: ng.ID, Value: ng.Value}
	if len(ng.Incoming) > 0 {
		c.Incoming = append([]int(nil), ng.Incoming...)
	}
	return c
}

// --------------------------- ConnectionGene ---------------------------

// ConnectionGene represents a weighted link between two nodes.
// Two connection genes with the same Innovation are the same historical gene,
// regardless of which genome holds them.
type ConnectionGene struct {
	InNodeID   int     `json:"in"`
	OutNodeID  int     `json:"out"`
	Innovation int     `json:"innovation"`
	Weight     float64 `json:"weight"`
	Enabled    bool    `json:"enabled"`
}

// ConnectionKey identifies a connection by its endpoints.
type ConnectionKey struct {
	InNodeID  int
	OutNodeID int
}

// NewConnectionGene creates an enabled connection gene.
func NewConnectionGene(in, out, innovation int, weight float64) *ConnectionGene {
	return &ConnectionGene{
		InNodeID:   in,
		OutNodeID:  out,
		Innovation: innovation,
		Weight:     weight,
		Enabled:    true,
	}
}

// Key returns the (in, out) pair of the connection.
func (cg *ConnectionGene) Key() ConnectionKey {
	return ConnectionKey{InNodeID: cg.InNodeID, OutNodeID: cg.OutNodeID}
}

// String returns a string representation of the ConnectionGene.
func (cg *ConnectionGene) String() string {
	return fmt.Sprintf("ConnGene(%d: %d->%d, Weight: %.3f, Enabled: %t)",
		cg.Innovation, cg.InNodeID, cg.OutNodeID, cg.Weight, cg.Enabled)
}

// Copy creates a copy of the ConnectionGene.
func (cg *ConnectionGene) Copy() *ConnectionGene {
	c := *cg
	return &c
}

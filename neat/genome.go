package neat

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Genome represents an individual organism in the population.
// Node ids are plain integer keys; the three node sets are disjoint.
//
// A Genome is not safe for concurrent use: Activate stores node values on the genome.
// Distinct genomes may be evaluated in parallel.
type Genome struct {
	ID          int               `json:"id"`
	InputNodes  map[int]*NodeGene `json:"inputs"`
	HiddenNodes map[int]*NodeGene `json:"hidden"`
	OutputNodes map[int]*NodeGene `json:"outputs"`
	Connections []*ConnectionGene `json:"connections"` // Unique innovation numbers, in insertion order
	Fitness     float64           `json:"fitness"`
	Recurrent   bool              `json:"recurrent,omitempty"` // If false, cycle-closing connections are rejected

	byInnovation map[int]*ConnectionGene
	byKey        map[ConnectionKey]*ConnectionGene
}

type nodeKind int

const (
	inputNode nodeKind = iota
	hiddenNode
	outputNode
)

// NewGenome creates a genome with the given input and output nodes and no connections.
func NewGenome(id int, inputIDs, outputIDs []int) *Genome {
	g := &Genome{
		ID:          id,
		InputNodes:  make(map[int]*NodeGene, len(inputIDs)),
		HiddenNodes: make(map[int]*NodeGene),
		OutputNodes: make(map[int]*NodeGene, len(outputIDs)),
	}
	for _, nid := range inputIDs {
		g.InputNodes[nid] = NewNodeGene(nid)
	}
	for _, nid := range outputIDs {
		g.OutputNodes[nid] = NewNodeGene(nid)
	}
	g.ensureIndex()
	return g
}

// ensureIndex (re)builds the connection lookup tables. They are not serialised.
// Constructors, Copy, Breed and checkpoint loading build them up front, so read paths only
// rebuild after Connections was edited directly.
func (g *Genome) ensureIndex() {
	if g.byInnovation != nil && len(g.byInnovation) == len(g.Connections) && len(g.byKey) == len(g.Connections) {
		return
	}
	g.byInnovation = make(map[int]*ConnectionGene, len(g.Connections))
	g.byKey = make(map[ConnectionKey]*ConnectionGene, len(g.Connections))
	for _, c := range g.Connections {
		g.byInnovation[c.Innovation] = c
		g.byKey[c.Key()] = c
	}
}

func (g *Genome) lookupNode(id int) (*NodeGene, nodeKind, bool) {
	if n, ok := g.InputNodes[id]; ok {
		return n, inputNode, true
	}
	if n, ok := g.HiddenNodes[id]; ok {
		return n, hiddenNode, true
	}
	if n, ok := g.OutputNodes[id]; ok {
		return n, outputNode, true
	}
	return nil, 0, false
}

// Node returns the node gene with the given id.
func (g *Genome) Node(id int) (*NodeGene, error) {
	n, _, ok := g.lookupNode(id)
	if !ok {
		return nil, fmt.Errorf("genome %d has no node %d: %w", g.ID, id, ErrNotFound)
	}
	return n, nil
}

// HasNode reports whether the genome holds a node with the given id.
func (g *Genome) HasNode(id int) bool {
	_, _, ok := g.lookupNode(id)
	return ok
}

// InputIDs returns the input node ids in ascending order.
func (g *Genome) InputIDs() []int { return sortedKeys(g.InputNodes) }

// HiddenIDs returns the hidden node ids in ascending order.
func (g *Genome) HiddenIDs() []int { return sortedKeys(g.HiddenNodes) }

// OutputIDs returns the output node ids in ascending order.
func (g *Genome) OutputIDs() []int { return sortedKeys(g.OutputNodes) }

// Size returns the number of connection genes.
func (g *Genome) Size() int {
	return len(g.Connections)
}

// MaxInnovation returns the highest innovation number in the genome, or 0 if it has no connections.
func (g *Genome) MaxInnovation() int {
	maxInnovation := 0
	for _, c := range g.Connections {
		if c.Innovation > maxInnovation {
			maxInnovation = c.Innovation
		}
	}
	return maxInnovation
}

// AddHiddenNode adds an empty hidden node.
func (g *Genome) AddHiddenNode(id int) (*NodeGene, error) {
	if g.HasNode(id) {
		return nil, fmt.Errorf("genome %d already has node %d: %w", g.ID, id, ErrConflict)
	}
	n := NewNodeGene(id)
	g.HiddenNodes[id] = n
	return n, nil
}

// AddConnection appends an existing connection gene after validating it against the genome.
// It does not check for cycles.
func (g *Genome) AddConnection(c *ConnectionGene) error {
	g.ensureIndex()
	if !g.HasNode(c.InNodeID) {
		return fmt.Errorf("connection %d source: %w", c.Innovation, g.missingNode(c.InNodeID))
	}
	_, kind, ok := g.lookupNode(c.OutNodeID)
	if !ok {
		return fmt.Errorf("connection %d target: %w", c.Innovation, g.missingNode(c.OutNodeID))
	}
	if kind == inputNode {
		return fmt.Errorf("connection %d targets input node %d: %w", c.Innovation, c.OutNodeID, ErrInvalidInput)
	}
	if _, exists := g.byInnovation[c.Innovation]; exists {
		return fmt.Errorf("innovation %d already in use in genome %d: %w", c.Innovation, g.ID, ErrConflict)
	}
	if _, exists := g.byKey[c.Key()]; exists {
		return fmt.Errorf("connection %d->%d already exists in genome %d: %w", c.InNodeID, c.OutNodeID, g.ID, ErrConflict)
	}
	g.appendConnection(c)
	return nil
}

// RebuildIncoming recomputes every node's incoming list from the connection genes.
func (g *Genome) RebuildIncoming() {
	for _, nodes := range []map[int]*NodeGene{g.InputNodes, g.HiddenNodes, g.OutputNodes} {
		for _, n := range nodes {
			n.Incoming = nil
		}
	}
	for _, c := range g.Connections {
		if out, _, ok := g.lookupNode(c.OutNodeID); ok {
			out.Incoming = append(out.Incoming, c.Innovation)
		}
	}
}

func (g *Genome) missingNode(id int) error {
	return fmt.Errorf("genome %d has no node %d: %w", g.ID, id, ErrNotFound)
}

// appendConnection adds c and registers it on its target node. The caller has validated c.
func (g *Genome) appendConnection(c *ConnectionGene) {
	g.ensureIndex()
	g.Connections = append(g.Connections, c)
	g.byInnovation[c.Innovation] = c
	g.byKey[c.Key()] = c
	if out, _, ok := g.lookupNode(c.OutNodeID); ok {
		out.Incoming = append(out.Incoming, c.Innovation)
	}
}

// ConnectionByInnovation returns the connection gene with the given innovation number.
func (g *Genome) ConnectionByInnovation(innovation int) (*ConnectionGene, error) {
	g.ensureIndex()
	c, ok := g.byInnovation[innovation]
	if !ok {
		return nil, fmt.Errorf("genome %d has no connection with innovation %d: %w", g.ID, innovation, ErrNotFound)
	}
	return c, nil
}

// ConnectionBetween returns the connection gene linking in to out.
func (g *Genome) ConnectionBetween(in, out int) (*ConnectionGene, error) {
	g.ensureIndex()
	c, ok := g.byKey[ConnectionKey{InNodeID: in, OutNodeID: out}]
	if !ok {
		return nil, fmt.Errorf("genome %d has no connection %d->%d: %w", g.ID, in, out, ErrNotFound)
	}
	return c, nil
}

// ConnectionQuery selects a connection either by innovation number or by a complete node pair.
type ConnectionQuery struct {
	Innovation *int
	InNodeID   *int
	OutNodeID  *int
}

// FindConnection looks a connection up by innovation number if given, otherwise by node pair.
func (g *Genome) FindConnection(q ConnectionQuery) (*ConnectionGene, error) {
	if q.Innovation != nil {
		return g.ConnectionByInnovation(*q.Innovation)
	}
	if q.InNodeID != nil && q.OutNodeID != nil {
		return g.ConnectionBetween(*q.InNodeID, *q.OutNodeID)
	}
	return nil, fmt.Errorf("connection query needs an innovation number or both node ids: %w", ErrInvalidInput)
}

// MutateAddConnection links two previously unconnected nodes.
// The innovation number comes from the ledger, so genomes adding the same link
// in the same epoch share it.
func (g *Genome) MutateAddConnection(in, out int, weight float64, ledger InnovationLedger) (*ConnectionGene, error) {
	g.ensureIndex()
	if !g.HasNode(in) {
		return nil, g.missingNode(in)
	}
	_, kind, ok := g.lookupNode(out)
	if !ok {
		return nil, g.missingNode(out)
	}
	if kind == inputNode {
		return nil, fmt.Errorf("cannot connect into input node %d: %w", out, ErrInvalidInput)
	}
	if _, exists := g.byKey[ConnectionKey{InNodeID: in, OutNodeID: out}]; exists {
		return nil, fmt.Errorf("a connection already exists between in: %d, out: %d: %w", in, out, ErrConflict)
	}
	if !g.Recurrent && g.CreatesCycle(in, out) {
		return nil, fmt.Errorf("genome %d, %d->%d: %w", g.ID, in, out, ErrCycle)
	}

	innovation := ledger.ConnectionInnovation(in, out)
	if _, exists := g.byInnovation[innovation]; exists {
		return nil, fmt.Errorf("innovation %d already in use in genome %d: %w", innovation, g.ID, ErrConflict)
	}
	c := NewConnectionGene(in, out, innovation, weight)
	g.appendConnection(c)
	return c, nil
}

// MutateAddNode splits the connection with the given innovation number in two.
// The old connection is disabled, not removed. The new node is fed with weight 1.0
// and feeds the old target with the old weight.
func (g *Genome) MutateAddNode(innovation int, ledger InnovationLedger) (*NodeGene, *ConnectionGene, *ConnectionGene, error) {
	old, err := g.ConnectionByInnovation(innovation)
	if err != nil {
		return nil, nil, nil, err
	}

	split := ledger.SplitConnection(innovation)
	if g.HasNode(split.NodeID) {
		return nil, nil, nil, fmt.Errorf("genome %d already holds node %d from splitting %d: %w", g.ID, split.NodeID, innovation, ErrConflict)
	}
	for _, inno := range []int{split.InInnovation, split.OutInnovation} {
		if _, exists := g.byInnovation[inno]; exists {
			return nil, nil, nil, fmt.Errorf("the innovation number %d is already in use: %w", inno, ErrConflict)
		}
	}

	old.Enabled = false
	node := NewNodeGene(split.NodeID)
	g.HiddenNodes[node.ID] = node
	toNode := NewConnectionGene(old.InNodeID, node.ID, split.InInnovation, 1.0)
	fromNode := NewConnectionGene(node.ID, old.OutNodeID, split.OutInnovation, old.Weight)
	g.appendConnection(toNode)
	g.appendConnection(fromNode)
	return node, toNode, fromNode, nil
}

// MutateWeights perturbs or replaces the weight of every connection.
// Each connection is perturbed by a uniform delta in ±WeightMutateStep with probability
// WeightPerturbProb, otherwise it gets a fresh random weight. Perturbed weights stay within
// [WeightMin, WeightMax].
func (g *Genome) MutateWeights(rng *rand.Rand, config *GenomeConfig) {
	for _, c := range g.Connections {
		if rng.Float64() < config.WeightPerturbProb {
			delta := (rng.Float64()*2 - 1) * config.WeightMutateStep
			c.Weight = clamp(c.Weight+delta, config.WeightMin, config.WeightMax)
		} else {
			c.Weight = randomWeight(rng, config)
		}
	}
}

func randomWeight(rng *rand.Rand, config *GenomeConfig) float64 {
	return config.WeightMin + rng.Float64()*(config.WeightMax-config.WeightMin)
}

// CreatesCycle reports whether adding in->out would close a directed cycle.
// Disabled connections count, since crossover may re-enable them.
func (g *Genome) CreatesCycle(in, out int) bool {
	if in == out {
		return true
	}
	dg := simple.NewDirectedGraph()
	for _, nodes := range []map[int]*NodeGene{g.InputNodes, g.HiddenNodes, g.OutputNodes} {
		for id := range nodes {
			dg.AddNode(simple.Node(id))
		}
	}
	for _, c := range g.Connections {
		if c.InNodeID == c.OutNodeID {
			continue
		}
		dg.SetEdge(dg.NewEdge(simple.Node(c.InNodeID), simple.Node(c.OutNodeID)))
	}
	return topo.PathExistsIn(dg, simple.Node(out), simple.Node(in))
}

// Activate feeds inputs (ordered by ascending input id) through the network and returns the
// output values ordered by ascending output id.
//
// Nodes are resolved recursively from the outputs and memoised for the pass. A node with no
// incoming connections reads 0. A node reached again while it is being resolved (a cycle)
// reads its value from the previous pass.
func (g *Genome) Activate(inputs []float64) ([]float64, error) {
	inputIDs := g.InputIDs()
	if len(inputs) != len(inputIDs) {
		return nil, fmt.Errorf("expected %d inputs, got %d: %w", len(inputIDs), len(inputs), ErrInvalidInput)
	}
	g.ensureIndex()
	for i, id := range inputIDs {
		g.InputNodes[id].Value = inputs[i]
	}

	pass := &activationPass{
		genome: g,
		values: make(map[int]float64),
		active: make(map[int]bool),
	}
	outputIDs := g.OutputIDs()
	outputs := make([]float64, len(outputIDs))
	for i, id := range outputIDs {
		outputs[i] = pass.resolve(id)
	}
	for id, v := range pass.values {
		if n, _, ok := g.lookupNode(id); ok {
			n.Value = v
		}
	}
	return outputs, nil
}

type activationPass struct {
	genome *Genome
	values map[int]float64
	active map[int]bool
}

func (p *activationPass) resolve(id int) float64 {
	if v, ok := p.values[id]; ok {
		return v
	}
	node, kind, ok := p.genome.lookupNode(id)
	if !ok {
		return 0
	}
	if kind == inputNode || p.active[id] {
		return node.Value
	}
	if len(node.Incoming) == 0 {
		p.values[id] = 0
		return 0
	}

	p.active[id] = true
	sum := 0.0
	for _, innovation := range node.Incoming {
		c := p.genome.byInnovation[innovation]
		if c == nil || !c.Enabled {
			continue
		}
		sum += c.Weight * p.resolve(c.InNodeID)
	}
	delete(p.active, id)

	v := Sigmoid(sum)
	p.values[id] = v
	return v
}

// Copy creates a deep copy of the genome. Mutating the copy never affects the original.
func (g *Genome) Copy() *Genome {
	c := &Genome{
		ID:          g.ID,
		InputNodes:  copyNodes(g.InputNodes),
		HiddenNodes: copyNodes(g.HiddenNodes),
		OutputNodes: copyNodes(g.OutputNodes),
		Connections: make([]*ConnectionGene, len(g.Connections)),
		Fitness:     g.Fitness,
		Recurrent:   g.Recurrent,
	}
	for i, conn := range g.Connections {
		c.Connections[i] = conn.Copy()
	}
	c.ensureIndex()
	return c
}

func copyNodes(nodes map[int]*NodeGene) map[int]*NodeGene {
	c := make(map[int]*NodeGene, len(nodes))
	for id, n := range nodes {
		c[id] = n.Copy()
	}
	return c
}

// String returns a short multi-line description of the genome.
func (g *Genome) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Genome %d (fitness %.4f): %d inputs, %d hidden, %d outputs, %d connections\n",
		g.ID, g.Fitness, len(g.InputNodes), len(g.HiddenNodes), len(g.OutputNodes), len(g.Connections))
	for _, c := range g.Connections {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	return b.String()
}

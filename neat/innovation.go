package neat

import (
	"fmt"
	"sync"
)

// Counter hands out monotonically increasing identifiers.
// Innovation numbers and node ids of one run come from the same Counter,
// so a value is never handed out twice.
type Counter struct {
	mu   sync.Mutex
	next int
}

// NewCounter creates a counter whose first Next call returns start.
func NewCounter(start int) *Counter {
	return &Counter{next: start}
}

// Next returns the next identifier and advances the counter.
func (c *Counter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	return id
}

// Peek returns the identifier the next call to Next will return.
func (c *Counter) Peek() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// NodeSplit records the identifiers created when a connection was split by an add-node mutation.
type NodeSplit struct {
	NodeID        int
	InInnovation  int // Innovation of the connection into the new node
	OutInnovation int // Innovation of the connection out of the new node
}

// InnovationLedger deduplicates structural mutations within one epoch.
// Genomes that make the same structural change in the same epoch receive the same identifiers.
type InnovationLedger interface {
	// ConnectionInnovation returns the innovation for a new in->out connection,
	// reusing the one recorded earlier this epoch if any.
	ConnectionInnovation(in, out int) int
	// SplitConnection returns the node id and innovations for splitting the given connection,
	// reusing the ones recorded earlier this epoch if any.
	SplitConnection(innovation int) NodeSplit
}

// Ledger is the per-epoch InnovationLedger. It is safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	counter     *Counter
	connections map[ConnectionKey]int
	splits      map[int]NodeSplit
}

// NewLedger creates an empty ledger minting from counter.
func NewLedger(counter *Counter) *Ledger {
	return &Ledger{
		counter:     counter,
		connections: make(map[ConnectionKey]int),
		splits:      make(map[int]NodeSplit),
	}
}

// ConnectionInnovation implements InnovationLedger.
func (l *Ledger) ConnectionInnovation(in, out int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ConnectionKey{InNodeID: in, OutNodeID: out}
	if innovation, ok := l.connections[key]; ok {
		return innovation
	}
	innovation := l.counter.Next()
	l.connections[key] = innovation
	return innovation
}

// SplitConnection implements InnovationLedger. All three identifiers of a new split
// are minted under one lock.
func (l *Ledger) SplitConnection(innovation int) NodeSplit {
	l.mu.Lock()
	defer l.mu.Unlock()
	if split, ok := l.splits[innovation]; ok {
		return split
	}
	split := NodeSplit{
		NodeID:        l.counter.Next(),
		InInnovation:  l.counter.Next(),
		OutInnovation: l.counter.Next(),
	}
	l.splits[innovation] = split
	return split
}

// LookupConnection returns the innovation recorded for in->out this epoch.
func (l *Ledger) LookupConnection(in, out int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	innovation, ok := l.connections[ConnectionKey{InNodeID: in, OutNodeID: out}]
	if !ok {
		return 0, fmt.Errorf("no connection %d->%d in ledger: %w", in, out, ErrNotFound)
	}
	return innovation, nil
}

// LookupSplit returns the split recorded for the given connection innovation this epoch.
func (l *Ledger) LookupSplit(innovation int) (NodeSplit, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	split, ok := l.splits[innovation]
	if !ok {
		return NodeSplit{}, fmt.Errorf("no split of connection %d in ledger: %w", innovation, ErrNotFound)
	}
	return split, nil
}

// Len returns the number of structural innovations recorded.
func (l *Ledger) Len() (connections, splits int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.connections), len(l.splits)
}

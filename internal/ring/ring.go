package ring

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// ErrInvalidRing is returned for a membership no ring can be built from.
var ErrInvalidRing = errors.New("invalid ring")

// Node represents a physical node in the cluster.
type Node struct {
	ID   string
	Addr string
}

// Ring is an immutable, sorted view of the cluster membership.
// Every node holding the same membership computes the same replica sets.
type Ring struct {
	nodes []Node
	index map[string]int // nodeID -> ring position
}

// New builds a ring from the given nodes. Input order does not matter.
func New(nodes []Node) (*Ring, error) {
	if len(nodes) == 0 {
		return nil, errors.Wrap(ErrInvalidRing, "no nodes")
	}

	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	index := make(map[string]int, len(sorted))
	for i, n := range sorted {
		if n.ID == "" {
			return nil, errors.Wrap(ErrInvalidRing, "empty node id")
		}
		if _, dup := index[n.ID]; dup {
			return nil, errors.Wrapf(ErrInvalidRing, "duplicate node id %q", n.ID)
		}
		index[n.ID] = i
	}

	return &Ring{nodes: sorted, index: index}, nil
}

// Size returns the number of nodes in the ring.
func (r *Ring) Size() int {
	return len(r.nodes)
}

// Nodes returns all nodes in ring order.
func (r *Ring) Nodes() []Node {
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Lookup returns the node with the given ID.
func (r *Ring) Lookup(id string) (Node, bool) {
	i, ok := r.index[id]
	if !ok {
		return Node{}, false
	}
	return r.nodes[i], true
}

// StartIndex returns the ring position a key's replica set begins at.
func (r *Ring) StartIndex(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(len(r.nodes)))
}

// ReplicasFor returns count distinct nodes responsible for key, in ring
// order starting at the key's hash position. count is clamped to the ring
// size; callers validate it against the quorum policy first.
func (r *Ring) ReplicasFor(key []byte, count int) []Node {
	if count <= 0 {
		return []Node{}
	}
	if count > len(r.nodes) {
		count = len(r.nodes)
	}

	start := r.StartIndex(key)
	result := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		result = append(result, r.nodes[(start+i)%len(r.nodes)])
	}
	return result
}

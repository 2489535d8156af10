package network

import (
	"container/heap"
	"maps"
	"math"
	"slices"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Edge is a weighted directed edge.
type Edge struct {
	Src    int     `json:"src"`
	Dst    int     `json:"dst"`
	Weight float64 `json:"weight"`
}

// Topology is a weighted directed graph of node ids.
type Topology struct {
	adjacency map[int]map[int]float64
}

// NewTopology creates an empty graph.
func NewTopology() *Topology {
	return &Topology{adjacency: make(map[int]map[int]float64)}
}

// AddNode adds a node if it is not present yet.
func (t *Topology) AddNode(node int) {
	if _, ok := t.adjacency[node]; !ok {
		t.adjacency[node] = make(map[int]float64)
	}
}

// RemoveNode deletes a node and every edge touching it.
func (t *Topology) RemoveNode(node int) {
	delete(t.adjacency, node)
	for _, out := range t.adjacency {
		delete(out, node)
	}
}

// AddEdge adds or reweights src -> dst, creating both nodes on demand.
func (t *Topology) AddEdge(src, dst int, weight float64) {
	t.AddNode(src)
	t.AddNode(dst)
	t.adjacency[src][dst] = weight
}

// RemoveEdge deletes src -> dst if present.
func (t *Topology) RemoveEdge(src, dst int) {
	if out, ok := t.adjacency[src]; ok {
		delete(out, dst)
	}
}

// HasNode reports whether node is in the graph.
func (t *Topology) HasNode(node int) bool {
	_, ok := t.adjacency[node]
	return ok
}

// HasEdge reports whether src -> dst exists.
func (t *Topology) HasEdge(src, dst int) bool {
	_, ok := t.adjacency[src][dst]
	return ok
}

// Weight returns the weight of src -> dst.
func (t *Topology) Weight(src, dst int) (float64, bool) {
	w, ok := t.adjacency[src][dst]
	return w, ok
}

// Nodes returns all node ids in ascending order.
func (t *Topology) Nodes() []int {
	return slices.Sorted(maps.Keys(t.adjacency))
}

// Neighbors returns the successors of node in ascending order.
func (t *Topology) Neighbors(node int) []int {
	return slices.Sorted(maps.Keys(t.adjacency[node]))
}

// Edges returns every edge ordered by (src, dst).
func (t *Topology) Edges() []Edge {
	var edges []Edge
	for _, src := range t.Nodes() {
		for _, dst := range t.Neighbors(src) {
			edges = append(edges, Edge{Src: src, Dst: dst, Weight: t.adjacency[src][dst]})
		}
	}
	return edges
}

// Clone returns a deep copy.
func (t *Topology) Clone() *Topology {
	c := NewTopology()
	for node, out := range t.adjacency {
		c.adjacency[node] = maps.Clone(out)
	}
	return c
}

type topologyJSON struct {
	Nodes []int  `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalJSON encodes the graph as node and edge lists.
func (t *Topology) MarshalJSON() ([]byte, error) {
	return json.Marshal(topologyJSON{Nodes: t.Nodes(), Edges: t.Edges()})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (t *Topology) UnmarshalJSON(b []byte) error {
	var raw topologyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "decode topology")
	}
	t.adjacency = make(map[int]map[int]float64, len(raw.Nodes))
	for _, n := range raw.Nodes {
		t.AddNode(n)
	}
	for _, e := range raw.Edges {
		t.AddEdge(e.Src, e.Dst, e.Weight)
	}
	return nil
}

// ShortestWays runs Dijkstra from root. Each reachable node maps to its path
// starting at root; unreachable nodes map to an empty path. The root itself
// is omitted.
func (t *Topology) ShortestWays(root int) map[int][]int {
	ways := make(map[int][]int, len(t.adjacency))
	distances := make(map[int]float64, len(t.adjacency))
	for node := range t.adjacency {
		ways[node] = []int{}
		distances[node] = math.Inf(1)
	}
	if !t.HasNode(root) {
		return ways
	}
	ways[root] = []int{root}
	distances[root] = 0

	visited := make(map[int]bool, len(t.adjacency))
	queue := &distanceQueue{{node: root}}

	for queue.Len() > 0 {
		item := heap.Pop(queue).(distanceItem)
		if visited[item.node] {
			continue
		}
		visited[item.node] = true

		for _, next := range t.Neighbors(item.node) {
			if visited[next] {
				continue
			}
			cost := item.distance + t.adjacency[item.node][next]
			if cost < distances[next] {
				distances[next] = cost
				ways[next] = append(slices.Clone(ways[item.node]), next)
				heap.Push(queue, distanceItem{node: next, distance: cost})
			}
		}
	}

	delete(ways, root)
	return ways
}

type distanceItem struct {
	node     int
	distance float64
}

// distanceQueue implements heap.Interface ordered by distance, then node id.
type distanceQueue []distanceItem

func (q distanceQueue) Len() int { return len(q) }

func (q distanceQueue) Less(i, j int) bool {
	if q[i].distance != q[j].distance {
		return q[i].distance < q[j].distance
	}
	return q[i].node < q[j].node
}

func (q distanceQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
}

func (q *distanceQueue) Push(x interface{}) {
	*q = append(*q, x.(distanceItem))
}

func (q *distanceQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[0 : n-1]
	return item
}

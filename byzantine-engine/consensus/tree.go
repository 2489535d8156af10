package consensus

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Node is one relay position in a lieutenant's agreement tree. Its input is
// the value received along the path from the root to this node; its output
// is set by Fold.
type Node struct {
	ID int

	input     bool
	hasInput  bool
	output    bool
	hasOutput bool

	children map[int]*Node
	order    []int
}

func newNode(id int) *Node {
	return &Node{ID: id, children: make(map[int]*Node)}
}

// SetInput records the received value unless one is already set.
func (n *Node) SetInput(v bool) {
	if n.hasInput {
		return
	}
	n.input, n.hasInput = v, true
}

// Input returns the received value and whether it was set.
func (n *Node) Input() (bool, bool) { return n.input, n.hasInput }

// Output returns the folded value and whether Fold has set it.
func (n *Node) Output() (bool, bool) { return n.output, n.hasOutput }

// Child looks up an immediate child by id.
func (n *Node) Child(id int) (*Node, bool) {
	c, ok := n.children[id]
	return c, ok
}

// Children returns the immediate children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.children[id])
	}
	return out
}

// Len returns the number of immediate children.
func (n *Node) Len() int { return len(n.order) }

func (n *Node) child(id int) *Node {
	c, ok := n.children[id]
	if !ok {
		c = newNode(id)
		n.children[id] = c
		n.order = append(n.order, id)
	}
	return c
}

// Tree is the agreement tree of one lieutenant. The root is the General; each
// level below it holds the lieutenants a value was relayed through, and
// every non-self node has a self child carrying the value this lieutenant
// received along that path.
type Tree struct {
	root *Node
	self int
}

// NewTree creates the tree for lieutenant self after receiving generalValue
// from the General.
func NewTree(generalID, self int, generalValue bool) *Tree {
	root := newNode(generalID)
	root.SetInput(generalValue)
	root.child(self).SetInput(generalValue)
	return &Tree{root: root, self: self}
}

// Root returns the General's node.
func (t *Tree) Root() *Node { return t.root }

// Self returns the owning lieutenant's id.
func (t *Tree) Self() int { return t.self }

// Insert records value received along path, which must start at the General
// and end at this lieutenant. Intermediate nodes are created on demand.
func (t *Tree) Insert(path []int, value bool) error {
	if len(path) < 2 || path[0] != t.root.ID || path[len(path)-1] != t.self {
		return errors.Errorf("path %v does not lead from %d to %d", path, t.root.ID, t.self)
	}
	node := t.root
	for _, id := range path[1:] {
		node = node.child(id)
		node.SetInput(value)
	}
	return nil
}

// Lookup follows path below the root and returns the node it reaches.
func (t *Tree) Lookup(path ...int) (*Node, bool) {
	node := t.root
	for _, id := range path {
		var ok bool
		if node, ok = node.Child(id); !ok {
			return nil, false
		}
	}
	return node, true
}

// Fold computes outputs bottom-up and returns the decision. A node whose
// only child is the self entry outputs that entry's input; any other node
// outputs the majority of its children's outputs together with its self
// entry's input. Outputs are stored on the self entries.
func (t *Tree) Fold() bool {
	return t.fold(t.root)
}

func (t *Tree) fold(node *Node) bool {
	var own bool
	self, ok := node.Child(t.self)
	if ok {
		own, _ = self.Input()
	} else {
		self = newNode(t.self)
	}

	var votes []bool
	for _, child := range node.Children() {
		if child.ID == t.self {
			continue
		}
		votes = append(votes, t.fold(child))
	}

	out := own
	if len(votes) > 0 {
		out = Majority(append(votes, own)...)
	}
	self.output, self.hasOutput = out, true
	node.output, node.hasOutput = out, true
	return out
}

// String renders the tree one node per line, indented by depth.
func (t *Tree) String() string {
	var b strings.Builder
	t.render(&b, t.root, 0)
	return b.String()
}

func (t *Tree) render(b *strings.Builder, node *Node, depth int) {
	fmt.Fprintf(b, "%s%d: in=%s out=%s\n", strings.Repeat("  ", depth), node.ID,
		formatValue(node.input, node.hasInput), formatValue(node.output, node.hasOutput))
	for _, child := range node.Children() {
		t.render(b, child, depth+1)
	}
}

func formatValue(v, set bool) string {
	if !set {
		return "-"
	}
	return fmt.Sprint(v)
}

package consensus

import (
	"slices"
)

// MessageData is the payload of a DATA message between agreement roles.
// M is the remaining recursion depth and goes negative at the base case.
type MessageData struct {
	M     int   `json:"m"`
	Value bool  `json:"value"`
	Path  []int `json:"path"`
}

// Visited reports whether id already appears on the relay path.
func (d MessageData) Visited(id int) bool {
	return slices.Contains(d.Path, id)
}

// extend returns a copy of the path with next appended.
func extend(path []int, next int) []int {
	out := make([]int, len(path), len(path)+1)
	copy(out, path)
	return append(out, next)
}

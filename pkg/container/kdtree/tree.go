// Package kdtree implements a k-d tree: a binary tree over points in
// k-dimensional space whose splitting coordinate cycles with depth. It
// supports point insertion, exact membership search, single nearest
// neighbor lookup and axis-aligned range queries.
//
// The tree is never rebalanced. A sorted insertion order degenerates it
// into a linked list and lookups degrade to linear scans, which is
// accepted. Operations recurse, so the stack usage is proportional to the
// tree height. Callers must synchronize concurrent access externally.
package kdtree

import (
	"fmt"
	"math"
)

var (
	// ErrDimMismatch is returned when a point, a query or a bound does not
	// have exactly as many coordinates as the tree, or when a tree is
	// created with less than one dimension.
	ErrDimMismatch = fmt.Errorf("kdtree: point dimensions do not match tree dimensions")
	// ErrEmptyTree is returned by Nearest on a tree holding no points.
	ErrEmptyTree = fmt.Errorf("kdtree: tree is empty")
)

// Point is a location in k-dimensional space. Coordinates are compared
// with plain float64 ordering; NaN coordinates break that ordering and
// must be filtered out by the caller.
type Point []float64

// Tree is a k-d tree over points with a fixed number of dimensions.
type Tree struct {
	root *node
	dims int
	len  int
}

// New returns an empty tree over points with exactly dims coordinates.
func New(dims int) (*Tree, error) {
	if dims < 1 {
		return nil, ErrDimMismatch
	}
	return &Tree{dims: dims}, nil
}

// Dimensions returns the fixed dimensionality the tree was created with.
func (t *Tree) Dimensions() int { return t.dims }

// Len returns the number of stored points, counting duplicates.
func (t *Tree) Len() int { return t.len }

// Insert adds a copy of p to the tree. Points equal to an existing point
// on the splitting coordinate descend to the right, so duplicates
// accumulate instead of being rejected.
func (t *Tree) Insert(p Point) error {
	if len(p) != t.dims {
		return ErrDimMismatch
	}
	t.root = t.root.insert(p.clone(), 0, t.dims)
	t.len++
	return nil
}

// Search reports whether a point equal to p on every coordinate is stored
// in the tree. An empty tree reports false.
func (t *Tree) Search(p Point) (bool, error) {
	if len(p) != t.dims {
		return false, ErrDimMismatch
	}
	return t.root.search(p, 0, t.dims), nil
}

// Nearest returns a copy of the stored point with the smallest euclidean
// distance to q. When several points are equally near, which of them is
// returned depends on the traversal order.
func (t *Tree) Nearest(q Point) (Point, error) {
	if len(q) != t.dims {
		return nil, ErrDimMismatch
	}
	if t.root == nil {
		return nil, ErrEmptyTree
	}
	best, _ := t.root.nearest(q, 0, t.dims, t.root.point, distance(q, t.root.point))
	return best.clone(), nil
}

// RangeSearch returns copies of every stored point contained in the
// axis-aligned box spanned by min and max, bounds inclusive. An inverted
// box yields no points.
func (t *Tree) RangeSearch(min, max Point) ([]Point, error) {
	if len(min) != t.dims || len(max) != t.dims {
		return nil, ErrDimMismatch
	}
	return t.root.rangeSearch(min, max, 0, t.dims, nil), nil
}

// Points returns copies of all stored points in in-order traversal order.
func (t *Tree) Points() []Point {
	return t.root.points(nil)
}

// Height returns the number of nodes on the longest root-to-leaf path. An
// empty tree has height 0, a single node height 1.
func (t *Tree) Height() int {
	return t.root.height()
}

// distance is the real euclidean distance between a and b. Both points
// must have the same length.
func distance(a, b Point) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func (p Point) clone() Point {
	c := make(Point, len(p))
	copy(c, p)
	return c
}

func (p Point) equal(other Point) bool {
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

func (p Point) inBox(min, max Point) bool {
	for i := range p {
		if p[i] < min[i] || p[i] > max[i] {
			return false
		}
	}
	return true
}

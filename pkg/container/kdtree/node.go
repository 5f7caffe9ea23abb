package kdtree

import "math"

type node struct {
	point Point
	left  *node
	right *node
}

// insert returns the subtree rooted at n with p attached at the empty slot
// its coordinates lead to. The splitting coordinate at each level is
// depth % dims; smaller values descend left, equal or larger values right.
func (n *node) insert(p Point, depth, dims int) *node {
	if n == nil {
		return &node{point: p}
	}
	cd := depth % dims
	if p[cd] < n.point[cd] {
		n.left = n.left.insert(p, depth+1, dims)
	} else {
		n.right = n.right.insert(p, depth+1, dims)
	}
	return n
}

// search descends along the same coordinate rule as insert, checking full
// equality at every visited node. Following the insert rule is what makes
// duplicates and tie-valued points findable.
func (n *node) search(p Point, depth, dims int) bool {
	if n == nil {
		return false
	}
	if n.point.equal(p) {
		return true
	}
	cd := depth % dims
	if p[cd] < n.point[cd] {
		return n.left.search(p, depth+1, dims)
	}
	return n.right.search(p, depth+1, dims)
}

// nearest carries the best candidate seen so far. It visits the child on
// the query's side of the splitting plane first and descends into the far
// child only if the plane is closer than the current best distance, since
// only then can the far side still hold a better point.
func (n *node) nearest(q Point, depth, dims int, best Point, bestDist float64) (Point, float64) {
	if n == nil {
		return best, bestDist
	}
	if d := distance(q, n.point); d < bestDist {
		best, bestDist = n.point, d
	}
	cd := depth % dims
	near, far := n.left, n.right
	if q[cd] >= n.point[cd] {
		near, far = n.right, n.left
	}
	best, bestDist = near.nearest(q, depth+1, dims, best, bestDist)
	if planeDist := math.Abs(q[cd] - n.point[cd]); planeDist < bestDist {
		best, bestDist = far.nearest(q, depth+1, dims, best, bestDist)
	}
	return best, bestDist
}

// rangeSearch prunes subtrees by the splitting coordinate: the left child
// can only hold matches if the box reaches below the node's coordinate,
// the right child only if it reaches above.
func (n *node) rangeSearch(min, max Point, depth, dims int, acc []Point) []Point {
	if n == nil {
		return acc
	}
	if n.point.inBox(min, max) {
		acc = append(acc, n.point.clone())
	}
	cd := depth % dims
	if min[cd] <= n.point[cd] {
		acc = n.left.rangeSearch(min, max, depth+1, dims, acc)
	}
	if n.point[cd] <= max[cd] {
		acc = n.right.rangeSearch(min, max, depth+1, dims, acc)
	}
	return acc
}

func (n *node) points(acc []Point) []Point {
	if n == nil {
		return acc
	}
	acc = n.left.points(acc)
	acc = append(acc, n.point.clone())
	return n.right.points(acc)
}

func (n *node) height() int {
	if n == nil {
		return 0
	}
	lh, rh := n.left.height(), n.right.height()
	if rh > lh {
		lh = rh
	}
	return lh + 1
}

// Package avltree implements a self-balancing binary search tree over
// items with a caller-defined ordering. It tolerates equal keys, which
// accumulate instead of replacing each other, and offers ordered walks
// over the stored items. Callers must synchronize concurrent access
// externally.
package avltree

// FilterFn reports whether an item should be included in a Filter result.
type FilterFn func(current Item) bool

// WalkFn receives items during a Walk. Returning false stops the walk.
type WalkFn func(current Item) bool

type Option func(*Tree)

// WalkOrderAsc makes Walk, Points and Filter visit items in ascending key
// order. This is the default.
func WalkOrderAsc() Option {
	return func(o *Tree) {
		o.order = orderAsc
	}
}

// WalkOrderDesc makes Walk, Points and Filter visit items in descending
// key order.
func WalkOrderDesc() Option {
	return func(o *Tree) {
		o.order = orderDesc
	}
}

type order uint8

const (
	orderAsc order = iota
	orderDesc
)

func New(opts ...Option) *Tree {
	t := &Tree{order: orderAsc}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type Tree struct {
	root  *node
	order order
	len   int
}

func (t *Tree) Build(items ...Item) {
	for i := range items {
		t.Add(items[i])
	}
}

func (t *Tree) Len() int {
	return t.len
}

// Add inserts the item. Items with equal keys are kept; the one added
// first is visited first by an ascending walk.
func (t *Tree) Add(item Item) {
	t.root = t.root.add(item)
	t.len++
}

// Remove deletes one item whose key equals the given item's key. Removing
// an absent key is a no-op.
func (t *Tree) Remove(item Item) {
	if t.root == nil || !t.root.contains(item) {
		return
	}
	t.root = t.root.remove(item)
	t.len--
}

// Walk visits every item in the configured order until fn returns false.
func (t *Tree) Walk(fn WalkFn) {
	t.root.walk(t.order, fn)
}

// Points returns all stored items in the configured order.
func (t *Tree) Points() []Item {
	items := make([]Item, 0, t.len)
	t.Walk(func(item Item) bool {
		items = append(items, item)
		return true
	})
	return items
}

// Filter returns the stored items fn reports true for, in the configured
// order.
func (t *Tree) Filter(fn FilterFn) []Item {
	items := []Item{}
	t.Walk(func(item Item) bool {
		if fn(item) {
			items = append(items, item)
		}
		return true
	})
	return items
}

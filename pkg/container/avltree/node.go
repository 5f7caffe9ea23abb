package avltree

// Item is an element ordered by Subtraction: negative when the receiver
// sorts before current, zero when both keys are equal, positive otherwise.
type Item interface {
	Subtraction(current Item) int
	Key() interface{}
	Value() interface{}
}

type node struct {
	item   Item
	left   *node
	right  *node
	height int
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func balance(n *node) int {
	return height(n.left) - height(n.right)
}

func (n *node) recalcHeight() {
	lh, rh := height(n.left), height(n.right)
	if rh > lh {
		lh = rh
	}
	n.height = lh + 1
}

func (n *node) rotateRight() *node {
	root := n.left
	n.left = root.right
	root.right = n
	n.recalcHeight()
	root.recalcHeight()
	return root
}

func (n *node) rotateLeft() *node {
	root := n.right
	n.right = root.left
	root.left = n
	n.recalcHeight()
	root.recalcHeight()
	return root
}

// rebalance restores the AVL invariant at n after a single add or remove
// and returns the new subtree root.
func (n *node) rebalance() *node {
	n.recalcHeight()
	switch d := balance(n); {
	case d > 1:
		if balance(n.left) < 0 {
			n.left = n.left.rotateLeft()
		}
		return n.rotateRight()
	case d < -1:
		if balance(n.right) > 0 {
			n.right = n.right.rotateRight()
		}
		return n.rotateLeft()
	}
	return n
}

// add keeps equal keys in the right subtree so that of two equal items
// the earlier-added one is visited first by an ascending walk.
func (n *node) add(item Item) *node {
	if n == nil {
		return &node{item: item, height: 1}
	}
	if item.Subtraction(n.item) < 0 {
		n.left = n.left.add(item)
	} else {
		n.right = n.right.add(item)
	}
	return n.rebalance()
}

func (n *node) remove(item Item) *node {
	if n == nil {
		return nil
	}
	switch diff := item.Subtraction(n.item); {
	case diff < 0:
		n.left = n.left.remove(item)
	case diff > 0:
		n.right = n.right.remove(item)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		pred := n.left
		for pred.right != nil {
			pred = pred.right
		}
		n.item = pred.item
		n.left = n.left.remove(pred.item)
	}
	return n.rebalance()
}

func (n *node) contains(item Item) bool {
	for n != nil {
		diff := item.Subtraction(n.item)
		if diff == 0 {
			return true
		}
		if diff < 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	return false
}

func (n *node) walk(o order, fn WalkFn) bool {
	if n == nil {
		return true
	}
	first, second := n.left, n.right
	if o == orderDesc {
		first, second = n.right, n.left
	}
	if !first.walk(o, fn) {
		return false
	}
	if !fn(n.item) {
		return false
	}
	return second.walk(o, fn)
}

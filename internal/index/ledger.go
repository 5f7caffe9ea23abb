package index

import (
	"time"

	"github.com/go-spin/spin/internal/point/model"
	"github.com/go-spin/spin/pkg/container/avltree"
)

// timeNode orders entries by creation time inside the per-namespace
// ledger. Startup replay and retention rebuilds both walk it oldest
// first so the tree grows in the same order the points arrived.
type timeNode struct {
	K time.Time
	V model.Entry
}

func (n timeNode) Subtraction(current avltree.Item) int {
	other := current.(timeNode)
	if n.K.Equal(other.K) {
		return 0
	}
	if n.K.Before(other.K) {
		return -1
	}
	return 1
}

func (n timeNode) Key() interface{} {
	return n.K
}

func (n timeNode) Value() interface{} {
	return n.V
}

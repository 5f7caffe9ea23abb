package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-spin/spin/internal/geom"
)

// NewEntry wraps a collected vector with its identity: the namespace it
// belongs to, a unique id and the creation time used by retention.
func NewEntry(namespace string, vec geom.Point, createdAt time.Time, extra interface{}) Entry {
	return Entry{
		ID:        uuid.New(),
		Namespace: namespace,
		Vec:       vec,
		CreatedAt: createdAt,
		Extra:     extra,
	}
}

type Entry struct {
	ID        uuid.UUID   `json:"id"`
	Namespace string      `json:"namespace"`
	Vec       geom.Point  `json:"vector"`
	CreatedAt time.Time   `json:"createdAt"`
	Extra     interface{} `json:"extra"`
}

func (e Entry) Point() geom.Point {
	return e.Vec
}

func (e Entry) Time() time.Time {
	return e.CreatedAt
}

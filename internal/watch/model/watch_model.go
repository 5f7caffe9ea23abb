package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-spin/spin/internal/geom"
	pointModel "github.com/go-spin/spin/internal/point/model"
)

// NewEvent projects a collected entry into the payload a watch webhook
// receives.
func NewEvent(entry pointModel.Entry) Event {
	return Event{
		ID:        entry.ID,
		Namespace: entry.Namespace,
		Vec:       entry.Vec,
		CreatedAt: entry.CreatedAt,
		Extra:     entry.Extra,
	}
}

type Event struct {
	ID        uuid.UUID   `json:"id"`
	Namespace string      `json:"namespace"`
	Vec       geom.Point  `json:"vector"`
	CreatedAt time.Time   `json:"createdAt"`
	Extra     interface{} `json:"extra"`
}

// NewBatch wraps the events pending for one route into a persistable
// delivery unit.
func NewBatch(namespace, url string, events []Event) Batch {
	return Batch{
		ID:        uuid.New(),
		Namespace: namespace,
		URL:       url,
		Events:    events,
		CreatedAt: time.Now(),
	}
}

type Batch struct {
	ID        uuid.UUID `json:"id"`
	Namespace string    `json:"namespace"`
	URL       string    `json:"url"`
	Events    []Event   `json:"events"`
	CreatedAt time.Time `json:"createdAt"`
}

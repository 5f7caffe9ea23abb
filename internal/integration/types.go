package integration

import "time"

type CollectRequest struct {
	Namespace string        `json:"namespace"`
	Data      []CollectItem `json:"data"`
}

type CollectItem struct {
	Vec       []float64   `json:"vector"`
	Extra     interface{} `json:"extra"`
	CreatedAt time.Time   `json:"createdAt"`
}

type QueryRequest struct {
	Namespace string      `json:"namespace"`
	Queries   [][]float64 `json:"queries"`
}

type RangeRequest struct {
	Namespace string    `json:"namespace"`
	Min       []float64 `json:"min"`
	Max       []float64 `json:"max"`
}

type SearchResult struct {
	Vector []float64 `json:"vector"`
	Found  bool      `json:"found"`
}

type SearchResponse struct {
	Namespace string         `json:"namespace"`
	Results   []SearchResult `json:"results"`
}

type NearestResult struct {
	Query    []float64 `json:"query"`
	Neighbor []float64 `json:"neighbor"`
	Distance float64   `json:"distance"`
}

type NearestResponse struct {
	Namespace string          `json:"namespace"`
	Results   []NearestResult `json:"results"`
}

type RangeResponse struct {
	Namespace string      `json:"namespace"`
	Points    [][]float64 `json:"points"`
	Count     int         `json:"count"`
}

type NamespaceStat struct {
	Namespace string `json:"namespace"`
	Dims      int    `json:"dims"`
	Len       int    `json:"len"`
	Height    int    `json:"height"`
	Version   uint64 `json:"version"`
}

type NamespacesResponse struct {
	Namespaces []NamespaceStat `json:"namespaces"`
}

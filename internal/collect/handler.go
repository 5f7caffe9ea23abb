// Package collect exposes the ingestion endpoint feeding the index.
package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-spin/spin/internal/geom"
	"github.com/go-spin/spin/internal/httputil"
	"github.com/go-spin/spin/internal/index"
	"github.com/go-spin/spin/internal/logging"
	"github.com/go-spin/spin/internal/point/model"
)

const maxBodyBytes = 64 * 1024 * 1024

type request struct {
	Namespace string `json:"namespace"`
	Data      []struct {
		Vec       []float64   `json:"vector"`
		Extra     interface{} `json:"extra"`
		CreatedAt time.Time   `json:"createdAt"`
	} `json:"data"`
}

// NewHandler returns the collect endpoint. Accepted batches are indexed
// asynchronously in arrival-time order.
func NewHandler(cfg *Config, collector index.Collector) (http.Handler, error) {
	s := &handler{
		collector: collector,
		cfg:       cfg,
	}
	return s, nil
}

type handler struct {
	collector index.Collector
	cfg       *Config
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()
	logger := logging.FromContext(ctx)

	if r.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		logger.Debug(fmt.Sprintf(`{"error": "method %v is not allowed"}`, r.Method))
		_, _ = fmt.Fprintf(w, `{"error": "method %v is not allowed"}`, r.Method)
		return
	}

	if t := r.Header.Get("content-type"); len(t) < 16 || t[:16] != "application/json" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		logger.Debug(fmt.Sprintf(`{"error": "%v"}`, "content-type is not application/json"))
		_, _ = fmt.Fprintf(w, `{"error": "%v"}`, "content-type is not application/json")
		return
	}

	defer r.Body.Close()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	d := json.NewDecoder(r.Body)
	if err := d.Decode(&req); err != nil {
		httputil.DecodeErr(ctx, w, err)
		return
	}

	if req.Namespace == "" {
		httputil.RespBadRequest(ctx, w, `{"error": "namespace must not be empty"}`)
		return
	}

	defer func() {
		logger.Infof("Collected %d points for namespace %s", len(req.Data), req.Namespace)
	}()
	go func() {
		// Points without a timestamp count as arriving now.
		now := time.Now()
		for i := range req.Data {
			if req.Data[i].CreatedAt.IsZero() {
				req.Data[i].CreatedAt = now
			}
		}
		sort.Slice(req.Data, func(i, j int) bool {
			return req.Data[i].CreatedAt.Before(req.Data[j].CreatedAt)
		})
		entries := make([]model.Entry, 0, len(req.Data))
		for _, dat := range req.Data {
			entries = append(entries, model.NewEntry(req.Namespace, geom.NewPoint(dat.Vec), dat.CreatedAt, dat.Extra))
		}
		if err := h.collector.Collect(entries...); err != nil {
			logger.Errorf("error sending to collect service: %v", err)
		}
	}()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status": "ok"}`)
}

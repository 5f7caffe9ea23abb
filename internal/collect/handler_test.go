package collect

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-spin/spin/internal/geom"
	"github.com/go-spin/spin/internal/point/model"
)

type captureCollector struct {
	entries chan model.Entry
}

func (c *captureCollector) Collect(in ...model.Entry) error {
	for _, entry := range in {
		c.entries <- entry
	}
	return nil
}

func TestHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
		expected    int
	}{
		{
			name:        "positive_collect",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"namespace": "production", "data": [{"vector": [1, 2]}]}`,
			expected:    http.StatusOK,
		},
		{
			name:        "err_method_not_allowed",
			method:      http.MethodGet,
			contentType: "application/json",
			body:        "",
			expected:    http.StatusMethodNotAllowed,
		},
		{
			name:        "err_media_type",
			method:      http.MethodPost,
			contentType: "text/plain",
			body:        "{}",
			expected:    http.StatusUnsupportedMediaType,
		},
		{
			name:        "err_malformed_body",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"namespace": `,
			expected:    http.StatusBadRequest,
		},
		{
			name:        "err_empty_namespace",
			method:      http.MethodPost,
			contentType: "application/json",
			body:        `{"data": [{"vector": [1, 2]}]}`,
			expected:    http.StatusBadRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			collector := &captureCollector{entries: make(chan model.Entry, 16)}
			h, err := NewHandler(&Config{RequestTimeout: time.Second}, collector)
			if err != nil {
				t.Fatalf("calling the NewHandler method, got: %v, expected: %v", err, nil)
			}

			req := httptest.NewRequest(test.method, "/collect", strings.NewReader(test.body))
			req.Header.Set("Content-Type", test.contentType)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != test.expected {
				t.Errorf("calling the collect handler, got: %v, expected: %v", w.Code, test.expected)
			}
			if test.expected == http.StatusOK && w.Body.String() != `{"status": "ok"}` {
				t.Errorf("calling the collect handler, got: %v, expected: %v", w.Body.String(), `{"status": "ok"}`)
			}
		})
	}
}

func TestHandlerCollectsSorted(t *testing.T) {
	collector := &captureCollector{entries: make(chan model.Entry, 16)}
	h, err := NewHandler(&Config{RequestTimeout: time.Second}, collector)
	if err != nil {
		t.Fatalf("calling the NewHandler method, got: %v, expected: %v", err, nil)
	}

	body := `{
		"namespace": "production",
		"data": [
			{"vector": [3, 4], "createdAt": "2026-01-02T00:00:00Z"},
			{"vector": [1, 2], "createdAt": "2026-01-01T00:00:00Z", "extra": {"source": "agent-1"}},
			{"vector": [5, 6]}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/collect", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("calling the collect handler, got: %v, expected: %v", w.Code, http.StatusOK)
	}

	expected := []geom.Point{{1, 2}, {3, 4}, {5, 6}}
	for i := range expected {
		select {
		case entry := <-collector.entries:
			if entry.Namespace != "production" {
				t.Errorf("calling the collect handler, got: %v, expected: %v", entry.Namespace, "production")
			}
			if !entry.Vec.Equal(expected[i]) {
				t.Errorf("calling the collect handler, got: %v, expected: %v", entry.Vec, expected[i])
			}
			if entry.CreatedAt.IsZero() {
				t.Errorf("calling the collect handler, got zero createdAt for %v", entry.Vec)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("entry %d was never collected", i)
		}
	}
}

package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeErr(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{name: "err_malformed_json", body: `{"namespace": `, expected: http.StatusBadRequest},
		{name: "err_wrong_type", body: `{"namespace": 1}`, expected: http.StatusBadRequest},
		{name: "err_unknown_field", body: `{"unexpected": "x"}`, expected: http.StatusBadRequest},
		{name: "err_empty_body", body: ``, expected: http.StatusBadRequest},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var into struct {
				Namespace string `json:"namespace"`
			}
			dec := json.NewDecoder(strings.NewReader(test.body))
			dec.DisallowUnknownFields()
			err := dec.Decode(&into)
			require.Error(t, err)

			w := httptest.NewRecorder()
			DecodeErr(context.Background(), w, err)
			assert.Equal(t, test.expected, w.Code)
		})
	}
}

func TestNewClientFromConfig(t *testing.T) {
	var authorization string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		cfg      HTTPClientConfig
		expected string
		wantErr  bool
	}{
		{name: "positive_no_auth", cfg: HTTPClientConfig{}, expected: ""},
		{
			name:     "positive_bearer",
			cfg:      HTTPClientConfig{BearerToken: "secret"},
			expected: "Bearer secret",
		},
		{
			name:     "positive_basic",
			cfg:      HTTPClientConfig{BasicAuth: &BasicAuth{Username: "spin", Password: "pass"}},
			expected: "Basic c3BpbjpwYXNz",
		},
		{
			name: "err_two_credentials",
			cfg: HTTPClientConfig{
				BasicAuth:   &BasicAuth{Username: "spin", Password: "pass"},
				BearerToken: "secret",
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client, err := NewClientFromConfig(test.cfg, true)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			resp, err := client.Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, test.expected, authorization)
		})
	}
}

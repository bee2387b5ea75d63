package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["prompt"] == "fail" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float64{0.1, 0.2}})
	}))
	defer server.Close()

	c := NewClient(time.Second)

	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	require.NoError(t, c.PostJSON(context.Background(), server.URL, map[string]string{"prompt": "top salesperson"}, &out))
	assert.Equal(t, []float64{0.1, 0.2}, out.Embedding)

	err := c.PostJSON(context.Background(), server.URL, map[string]string{"prompt": "fail"}, &out)
	var statusErr *StatusError
	require.True(t, stderrors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "model not loaded")
}

package solver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

func newTestClient(url string) *Client {
	return New(config.SolverConfig{URL: url, MaxTimeout: time.Second}, logger.NewNop())
}

func TestSolve_NotConfigured(t *testing.T) {
	client := newTestClient("")

	solution := client.Solve(context.Background(), "https://example.com")

	assert.Equal(t, domain.SolveSkip, solution.Status)
	assert.False(t, solution.Solved())
}

func TestSolve_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "request.get", req["cmd"])
		assert.Equal(t, "https://example.com", req["url"])
		assert.EqualValues(t, 1000, req["maxTimeout"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"solution": map[string]any{
				"userAgent": "Mozilla/5.0 (solved)",
				"cookies": []map[string]any{
					{"name": "cf_clearance", "value": "token", "domain": ".example.com"},
				},
				"response": "<html><title>Real page</title></html>",
			},
		})
	}))
	defer srv.Close()

	solution := newTestClient(srv.URL).Solve(context.Background(), "https://example.com")

	require.True(t, solution.Solved())
	assert.Equal(t, "Mozilla/5.0 (solved)", solution.UserAgent)
	require.Len(t, solution.Cookies, 1)
	assert.Equal(t, "cf_clearance", solution.Cookies[0].Name)
	assert.Contains(t, solution.ResponseHTML, "Real page")
}

func TestSolve_FailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "fail"})
	}))
	defer srv.Close()

	solution := newTestClient(srv.URL).Solve(context.Background(), "https://example.com")

	assert.Equal(t, domain.SolveFail, solution.Status)
	assert.False(t, solution.Solved())
}

func TestSolve_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	solution := newTestClient(srv.URL).Solve(context.Background(), "https://example.com")

	assert.Equal(t, domain.SolveError, solution.Status)
}

func TestSolve_BadResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	solution := newTestClient(srv.URL).Solve(context.Background(), "https://example.com")

	assert.Equal(t, domain.SolveError, solution.Status)
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "", normalizeEndpoint(""))
	assert.Equal(t, "http://solver:8191/v1", normalizeEndpoint("http://solver:8191"))
	assert.Equal(t, "http://solver:8191/v1", normalizeEndpoint("http://solver:8191/"))
	assert.Equal(t, "http://solver:8191/v1", normalizeEndpoint("http://solver:8191/v1"))
}

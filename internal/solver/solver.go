// Package solver talks to an external anti-automation challenge solving
// service speaking the FlareSolverr protocol. The solver is optional; when
// no endpoint is configured every solve reports skip.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

// Client invokes the challenge solver service.
type Client struct {
	endpoint   string
	maxTimeout time.Duration
	httpClient *http.Client
	log        logger.Logger
}

// New creates a solver client. cfg.URL may be empty, in which case Solve
// always returns a skip solution.
func New(cfg config.SolverConfig, log logger.Logger) *Client {
	return &Client{
		endpoint:   normalizeEndpoint(cfg.URL),
		maxTimeout: cfg.MaxTimeout,
		// The solver does its own waiting; give the HTTP call headroom
		// beyond the solve budget.
		httpClient: &http.Client{Timeout: cfg.MaxTimeout + 30*time.Second},
		log:        log,
	}
}

// normalizeEndpoint appends the /v1 API path if it is missing.
func normalizeEndpoint(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasSuffix(raw, "/v1") {
		return raw
	}
	return strings.TrimRight(raw, "/") + "/v1"
}

type solveRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int64  `json:"maxTimeout"`
}

type solveResponse struct {
	Status   string `json:"status"`
	Solution *struct {
		UserAgent string          `json:"userAgent"`
		Cookies   []domain.Cookie `json:"cookies"`
		Response  string          `json:"response"`
	} `json:"solution"`
}

// Solve asks the service to pass the challenge protecting targetURL. Solver
// failures are reported through the solution status, never as an error, so
// the pipeline can always proceed without mitigation.
func (c *Client) Solve(ctx context.Context, targetURL string) *domain.ChallengeSolution {
	if c.endpoint == "" {
		return &domain.ChallengeSolution{Status: domain.SolveSkip}
	}

	payload, err := json.Marshal(solveRequest{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: c.maxTimeout.Milliseconds(),
	})
	if err != nil {
		return c.errorSolution(targetURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return c.errorSolution(targetURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.errorSolution(targetURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed solveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return c.errorSolution(targetURL, fmt.Errorf("decode solver response: %w", err))
	}

	solution := &domain.ChallengeSolution{Status: domain.SolveStatus(parsed.Status)}
	if parsed.Solution != nil {
		solution.UserAgent = parsed.Solution.UserAgent
		solution.Cookies = parsed.Solution.Cookies
		solution.ResponseHTML = parsed.Solution.Response
	}
	return solution
}

func (c *Client) errorSolution(targetURL string, err error) *domain.ChallengeSolution {
	c.log.Warn("challenge solver unreachable",
		logger.String("url", targetURL),
		logger.Error(err),
	)
	return &domain.ChallengeSolution{Status: domain.SolveError}
}

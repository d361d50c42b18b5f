// Package runs talks to the generation backend: it polls a run's status and
// fetches the timeline artifact once the run is done.
package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Dombom123/viral-launch-video/internal/timeline"
)

// Status values reported by the backend.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

const (
	DefaultPollInterval = 2 * time.Second
	maxErrorBody        = 4096
	maxTimelineBytes    = 8 << 20
)

// Status is the backend's view of one run.
type Status struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HTTPError is a non-2xx answer from the backend.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors are
// considered permanent.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// RunFailedError reports a run the backend marked as errored.
type RunFailedError struct {
	RunID   string
	Message string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s failed: %s", e.RunID, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Status fetches the current status. A run the backend has no status file
// for yet is reported as queued.
func (c *Client) Status(ctx context.Context, runID string) (*Status, error) {
	resp, err := c.get(ctx, runID, "status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &Status{RunID: runID, Status: StatusQueued, Message: "Waiting to start"}, nil
	}
	if err := checkStatus("run status", resp); err != nil {
		return nil, err
	}

	var st Status
	if err := decodeJSON(resp.Body, 64<<10, &st); err != nil {
		return nil, fmt.Errorf("decode run status: %w", err)
	}
	if st.RunID == "" {
		st.RunID = runID
	}
	return &st, nil
}

// Timeline fetches and validates the run's timeline artifact.
func (c *Client) Timeline(ctx context.Context, runID string) (*timeline.Timeline, error) {
	resp, err := c.get(ctx, runID, "timeline")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus("run timeline", resp); err != nil {
		return nil, err
	}
	tl, err := timeline.Decode(io.LimitReader(resp.Body, maxTimelineBytes))
	if err != nil {
		return nil, fmt.Errorf("decode run timeline: %w", err)
	}
	if err := timeline.Validate(tl); err != nil {
		return nil, err
	}
	return tl, nil
}

// WaitReady polls Status every interval until the run is done, then
// returns its timeline. An errored run returns *RunFailedError. Transient
// (5xx) status failures are logged and polling continues.
func (c *Client) WaitReady(ctx context.Context, runID string, interval time.Duration) (*timeline.Timeline, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		st, err := c.Status(ctx, runID)
		switch {
		case err != nil:
			var he *HTTPError
			if !errors.As(err, &he) || !he.IsRetryable() {
				return nil, err
			}
			c.logger.Warn("run status unavailable, retrying", "run_id", runID, "error", err)
		case st.Status == StatusDone:
			return c.Timeline(ctx, runID)
		case st.Status == StatusError:
			return nil, &RunFailedError{RunID: runID, Message: st.Message}
		default:
			if st.Status != last {
				c.logger.Info("waiting for run", "run_id", runID, "status", st.Status, "message", st.Message)
				last = st.Status
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) get(ctx context.Context, runID, resource string) (*http.Response, error) {
	u := fmt.Sprintf("%s/runs/%s/%s", c.baseURL, url.PathEscape(runID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	return resp, nil
}

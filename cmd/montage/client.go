package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"montage/internal/api"
	"montage/internal/jobs"
)

// daemonClient talks to the montaged HTTP API.
type daemonClient struct {
	base string
	http *http.Client
}

type daemonStatus struct {
	Running      bool               `json:"running"`
	Pipeline     api.PipelineStatus `json:"pipeline"`
	JobDBPath    string             `json:"jobDbPath"`
	LockFilePath string             `json:"lockFilePath"`
}

func newDaemonClient(addr string) (*daemonClient, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("daemon address is not configured; set paths.api_bind or pass --addr")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &daemonClient{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *daemonClient) Submit(ctx context.Context, req jobs.Request) (api.JobView, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return api.JobView{}, fmt.Errorf("encode request: %w", err)
	}
	var resp api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs", bytes.NewReader(body), &resp); err != nil {
		return api.JobView{}, err
	}
	return resp.Job, nil
}

// Job fetches one job by ID. A missing job returns nil.
func (c *daemonClient) Job(ctx context.Context, id string) (*api.JobView, error) {
	var resp api.JobResponse
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		var httpErr *daemonError
		if errors.As(err, &httpErr) && httpErr.status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &resp.Job, nil
}

func (c *daemonClient) List(ctx context.Context, statuses []string, limit, offset int) (api.JobListResponse, error) {
	query := url.Values{}
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			query.Add("status", trimmed)
		}
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var resp api.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return api.JobListResponse{}, err
	}
	return resp, nil
}

func (c *daemonClient) Cancel(ctx context.Context, id string) (api.CancelResult, error) {
	var result api.CancelResult
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &result)
	return result, err
}

// Health fetches the aggregate health report. An unhealthy service
// answers 503 with a valid body, so that status is not an error here.
func (c *daemonClient) Health(ctx context.Context) (api.HealthResponse, error) {
	var report api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, &report)
	if err != nil {
		var httpErr *daemonError
		if errors.As(err, &httpErr) && httpErr.status == http.StatusServiceUnavailable && httpErr.decoded(&report) {
			return report, nil
		}
		return api.HealthResponse{}, err
	}
	return report, nil
}

func (c *daemonClient) Status(ctx context.Context) (daemonStatus, error) {
	var status daemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &status)
	return status, err
}

type daemonError struct {
	status  int
	message string
	body    []byte
}

func (e *daemonError) Error() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("daemon returned status %d", e.status)
}

// decoded attempts to unmarshal the raw error body into out.
func (e *daemonError) decoded(out any) bool {
	return len(e.body) > 0 && json.Unmarshal(e.body, out) == nil
}

func (c *daemonClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		derr := &daemonError{status: resp.StatusCode, body: payload}
		var wire struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &wire) == nil && wire.Error != "" {
			derr.message = wire.Error
		}
		return derr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

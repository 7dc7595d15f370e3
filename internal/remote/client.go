// Package remote talks to the external extraction worker and fetches the
// result documents it produces.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pdf-batch/backend/internal/models"
)

// SecretHeader carries the shared worker secret.
const SecretHeader = "x-worker-secret"

// Client signals the remote worker.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a worker client. An empty baseURL yields a client whose
// calls fail immediately.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a worker URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type processJobRequest struct {
	JobID string `json:"job_id"`
}

// Notify asks the worker to start processing a batch.
func (c *Client) Notify(ctx context.Context, batchID string) error {
	if !c.Configured() {
		return fmt.Errorf("worker url not configured")
	}
	body, err := json.Marshal(processJobRequest{JobID: batchID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-job", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notifying worker: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notifying worker: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Health probes the worker's liveness endpoint. It never returns an error;
// any failure reports unreachable.
func (c *Client) Health(ctx context.Context) models.WorkerStatus {
	if !c.Configured() {
		return models.WorkerStatusUnreachable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return models.WorkerStatusUnreachable
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return models.WorkerStatusUnreachable
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.WorkerStatusUnreachable
	}
	return models.WorkerStatusOK
}

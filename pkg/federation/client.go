// Copyright 2025 Wisdom Hub Project
//
// Upstream Client - secondary hub registration and heartbeating
// A secondary hub registers with its configured primary, then heartbeats on
// the registry interval; each reply carries the primary's current peer list,
// which is merged into the local registry.

package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/wisdomnet/wisdom-hub/pkg/entity"
)

// RegisterRequest announces a hub to a primary.
type RegisterRequest struct {
	HubID        string   `json:"hub_id"`
	URL          string   `json:"url"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterResponse returns the primary's current peer list.
type RegisterResponse struct {
	Peers []*entity.HubRecord `json:"peers"`
}

// HeartbeatRequest refreshes a hub's liveness with attached stats.
type HeartbeatRequest struct {
	HubID string          `json:"hub_id"`
	Stats entity.HubStats `json:"stats"`
}

// HeartbeatResponse mirrors RegisterResponse so secondaries keep their peer
// view fresh on every beat.
type HeartbeatResponse struct {
	Peers []*entity.HubRecord `json:"peers"`
}

// StatsFunc produces the stats attached to outbound heartbeats.
type StatsFunc func() entity.HubStats

// UpstreamClient drives the secondary-hub side of discovery.
type UpstreamClient struct {
	registry   *Registry
	primaryURL string
	self       RegisterRequest
	stats      StatsFunc
	interval   time.Duration
	httpClient *http.Client
	logger     *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUpstreamClient creates a client that keeps this hub registered with the
// primary at primaryURL. Heartbeats ride a retrying HTTP client; a beat that
// still fails is dropped and the next tick tries again.
func NewUpstreamClient(registry *Registry, primaryURL string, self RegisterRequest,
	stats StatsFunc, interval time.Duration) *UpstreamClient {

	if interval <= 0 {
		interval = 30 * time.Second
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &UpstreamClient{
		registry:   registry,
		primaryURL: primaryURL,
		self:       self,
		stats:      stats,
		interval:   interval,
		httpClient: rc.StandardClient(),
		logger:     log.New(log.Writer(), "[Upstream] ", log.LstdFlags),
	}
}

// Start registers once, then heartbeats until the context ends.
func (c *UpstreamClient) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.RegisterOnce(ctx); err != nil {
			c.logger.Printf("initial registration with %s failed: %v", c.primaryURL, err)
		}
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.HeartbeatOnce(ctx); err != nil {
					c.logger.Printf("heartbeat to %s failed: %v", c.primaryURL, err)
				}
			}
		}
	}()
}

// Stop halts the heartbeat loop.
func (c *UpstreamClient) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// RegisterOnce announces this hub and merges the returned peer list.
func (c *UpstreamClient) RegisterOnce(ctx context.Context) error {
	var resp RegisterResponse
	if err := c.post(ctx, "/api/v1/discovery/register", c.self, &resp); err != nil {
		return err
	}
	c.registry.Merge(resp.Peers)
	return nil
}

// HeartbeatOnce refreshes upstream liveness and merges the returned peers.
// An unknown-hub reply (the primary restarted) falls back to re-registering.
func (c *UpstreamClient) HeartbeatOnce(ctx context.Context) error {
	req := HeartbeatRequest{HubID: c.self.HubID}
	if c.stats != nil {
		req.Stats = c.stats()
	}
	var resp HeartbeatResponse
	err := c.post(ctx, "/api/v1/discovery/heartbeat", req, &resp)
	if err != nil {
		if isNotFound(err) {
			return c.RegisterOnce(ctx)
		}
		return err
	}
	c.registry.Merge(resp.Peers)
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

// post sends one JSON request to the primary and decodes the reply.
func (c *UpstreamClient) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.primaryURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Hub-ID", c.self.HubID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &statusError{code: resp.StatusCode, body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

// RouterClient talks to an mc-router instance's routes API. The
// reconciler always pushes the full table, so convergence is one list
// plus the per-route mutations.
type RouterClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewRouterClient(baseURL string) *RouterClient {
	return &RouterClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

// ListRoutes returns the current routing table
func (c *RouterClient) ListRoutes(ctx context.Context) (Routes, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/routes", nil)
	if err != nil {
		return nil, errs.Internal(err, "failed to build router request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.External(err, "router list failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.External(nil, "router list returned status %d", resp.StatusCode)
	}

	var routes Routes
	if err := json.NewDecoder(resp.Body).Decode(&routes); err != nil {
		return nil, errs.External(err, "router list returned undecodable body")
	}
	return routes, nil
}

// ReplaceRoutes converges the router onto the target table: stale
// routes are deleted, missing or changed ones are (re)created.
func (c *RouterClient) ReplaceRoutes(ctx context.Context, target Routes) error {
	current, err := c.ListRoutes(ctx)
	if err != nil {
		return err
	}

	for host := range current {
		if _, wanted := target[host]; !wanted {
			if err := c.deleteRoute(ctx, host); err != nil {
				return err
			}
		}
	}
	for host, backend := range target {
		if current[host] == backend {
			continue
		}
		if err := c.createRoute(ctx, host, backend); err != nil {
			return err
		}
	}
	return nil
}

func (c *RouterClient) createRoute(ctx context.Context, host, backend string) error {
	payload, err := json.Marshal(map[string]string{
		"serverAddress": host,
		"backend":       backend,
	})
	if err != nil {
		return errs.Internal(err, "failed to encode route")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/routes", bytes.NewReader(payload))
	if err != nil {
		return errs.Internal(err, "failed to build router request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.External(err, "router create %s failed", host)
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return errs.External(nil, "router create %s returned status %d", host, resp.StatusCode)
	}
	return nil
}

func (c *RouterClient) deleteRoute(ctx context.Context, host string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/routes/%s", c.baseURL, url.PathEscape(host)), nil)
	if err != nil {
		return errs.Internal(err, "failed to build router request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.External(err, "router delete %s failed", host)
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return errs.External(nil, "router delete %s returned status %d", host, resp.StatusCode)
	}
	return nil
}

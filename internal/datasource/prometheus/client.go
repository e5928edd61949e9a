// Package prometheus provides a thin query client over the Prometheus HTTP
// API. Investigations use it to pull metric snapshots and ranges as evidence.
package prometheus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelops/sentinel-ai/internal/metrics"
)

// Client queries a Prometheus server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given Prometheus base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiResponse is the standard Prometheus API envelope.
type apiResponse struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorType string          `json:"errorType"`
	Error     string          `json:"error"`
}

// Query runs an instant query at the current time.
func (c *Client) Query(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("query", query)
	return c.call(ctx, "/api/v1/query", params)
}

// QueryRange runs a range query. Duration strings like "1h" select the
// window ending now; step defaults to duration/100 rounded up to 15s.
func (c *Client) QueryRange(ctx context.Context, query, duration, step string) (string, error) {
	window, err := time.ParseDuration(duration)
	if err != nil {
		return "", fmt.Errorf("invalid duration %q: %w", duration, err)
	}

	stepDur := window / 100
	if step != "" {
		stepDur, err = time.ParseDuration(step)
		if err != nil {
			return "", fmt.Errorf("invalid step %q: %w", step, err)
		}
	}
	if stepDur < 15*time.Second {
		stepDur = 15 * time.Second
	}

	end := time.Now()
	start := end.Add(-window)

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", strconv.FormatInt(int64(stepDur.Seconds()), 10))
	return c.call(ctx, "/api/v1/query_range", params)
}

func (c *Client) call(ctx context.Context, path string, params url.Values) (string, error) {
	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", c.fail(fmt.Errorf("build request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.fail(fmt.Errorf("prometheus request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", c.fail(fmt.Errorf("read response: %w", err))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", c.fail(fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err))
	}
	if envelope.Status != "success" {
		return "", c.fail(fmt.Errorf("prometheus error (%s): %s", envelope.ErrorType, envelope.Error))
	}

	metrics.DatasourceRequests.WithLabelValues("prometheus", "ok").Inc()
	return string(envelope.Data), nil
}

func (c *Client) fail(err error) error {
	metrics.DatasourceRequests.WithLabelValues("prometheus", "error").Inc()
	return err
}

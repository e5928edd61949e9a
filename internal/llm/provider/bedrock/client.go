package bedrock

// client.go — HTTP transport for the converse-style backend. The adapter's
// job is to prevent protocol rejections by correct encoding; transport and
// backend errors are surfaced to the caller as-is. Retries wrap the whole
// call, never individual encoding steps (encoding is deterministic and
// retrying it is never useful).

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	backoff "gopkg.in/cenkalti/backoff.v1"
)

const (
	// DefaultBaseURL is the converse endpoint prefix.
	DefaultBaseURL = "https://bedrock-runtime.us-east-1.amazonaws.com"
	// DefaultModelID is used when no model is configured.
	DefaultModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 120 * time.Second
)

// ClientConfig configures the backend transport.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	ModelID string
	// MaxElapsedRetry bounds the total retry window for throttled or
	// transient failures. Zero disables retries.
	MaxElapsedRetry time.Duration
}

// Client sends converse requests over HTTP. Safe for concurrent use;
// each streaming call owns its own response body and decoder state.
type Client struct {
	baseURL    string
	apiKey     string
	modelID    string
	retryFor   time.Duration
	httpClient *http.Client
}

// NewClient builds a transport client, falling back to environment
// variables for credentials the way the rest of the service does.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("SENTINEL_LLM_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("SENTINEL_LLM_API_KEY is required")
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}

	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		modelID:  modelID,
		retryFor: cfg.MaxElapsedRetry,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}, nil
}

// ModelID returns the configured model identifier.
func (c *Client) ModelID() string { return c.modelID }

// APIError is a non-2xx backend response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend API %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether the call may succeed on a later attempt.
func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Converse sends a non-streaming request, retrying throttled and
// transient failures with exponential backoff.
func (c *Client) Converse(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	var terminal error

	operation := func() error {
		r, err := c.converseOnce(ctx, req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok && !apiErr.retryable() {
				// Rejected requests do not improve with retries; stop the
				// backoff loop and surface the error unchanged.
				terminal = err
				return nil
			}
			return err
		}
		resp = r
		return nil
	}

	if c.retryFor <= 0 {
		if err := operation(); err != nil {
			return nil, err
		}
	} else {
		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.MaxElapsedTime = c.retryFor
		if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
			return nil, err
		}
	}

	if terminal != nil {
		return nil, terminal
	}
	return resp, nil
}

func (c *Client) converseOnce(ctx context.Context, req *Request) (*Response, error) {
	body, status, err := c.post(ctx, "/model/"+req.ModelID+"/converse", req, c.httpClient)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Body: string(raw)}
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// ConverseStream sends a streaming request and returns a channel of wire
// events plus a channel carrying at most one transport error. Both close
// when the stream ends. The stream is finite and not restartable
// mid-flight; a new call must be issued to retry.
func (c *Client) ConverseStream(ctx context.Context, req *Request) (<-chan StreamEvent, <-chan error, error) {
	// No hard client timeout for streaming; cancellation is via ctx.
	streamClient := &http.Client{}
	body, status, err := c.post(ctx, "/model/"+req.ModelID+"/converse-stream", req, streamClient)
	if err != nil {
		return nil, nil, err
	}

	if status != http.StatusOK {
		raw, _ := io.ReadAll(body)
		body.Close()
		return nil, nil, &APIError{StatusCode: status, Body: string(raw)}
	}

	events := make(chan StreamEvent, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var eventType string

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			line := scanner.Text()

			if strings.HasPrefix(line, "event: ") {
				eventType = strings.TrimPrefix(line, "event: ")
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var ev StreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			if ev.Type == "" {
				ev.Type = eventType
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}

			if ev.Type == EventMessageStop {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- fmt.Errorf("stream read: %w", err)
		}
	}()

	return events, errCh, nil
}

func (c *Client) post(ctx context.Context, path string, req *Request, client *http.Client) (io.ReadCloser, int, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	return httpResp.Body, httpResp.StatusCode, nil
}

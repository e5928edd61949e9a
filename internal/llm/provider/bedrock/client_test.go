package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		ModelID: "model-x",
	})
	require.NoError(t, err)
	return client, srv
}

func TestConverse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model/model-x/converse", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "model-x", req.ModelID)

		json.NewEncoder(w).Encode(Response{
			Output: ResponseOutput{Message: WireMessage{
				Role:    "assistant",
				Content: []WireBlock{{Text: "the pod is out of memory"}},
			}},
			StopReason: StopReasonEndTurn,
			Usage:      &WireUsage{InputTokens: 12, OutputTokens: 8, TotalTokens: 20},
		})
	})

	resp, err := client.Converse(context.Background(), &Request{ModelID: "model-x"})
	require.NoError(t, err)
	assert.Equal(t, StopReasonEndTurn, resp.StopReason)
	require.Len(t, resp.Output.Message.Content, 1)
	assert.Equal(t, "the pod is out of memory", resp.Output.Message.Content[0].Text)
}

func TestConverseAPIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"validation failed"}`, http.StatusBadRequest)
	})
	client.retryFor = 2 * time.Second

	_, err := client.Converse(context.Background(), &Request{ModelID: "model-x"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "validation failed")
	assert.Equal(t, int32(1), calls.Load(), "rejections must not be retried")
}

func TestConverseRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "throttled", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Response{StopReason: StopReasonEndTurn})
	})
	client.retryFor = 10 * time.Second

	resp, err := client.Converse(context.Background(), &Request{ModelID: "model-x"})
	require.NoError(t, err)
	assert.Equal(t, StopReasonEndTurn, resp.StopReason)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestConverseNoRetryWhenDisabled(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})

	_, err := client.Converse(context.Background(), &Request{ModelID: "model-x"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConverseStream(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model/model-x/converse-stream", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")

		events := []StreamEvent{
			{Type: EventContentBlockStart, Index: 0},
			{Type: EventContentBlockDelta, Index: 0, Delta: &ContentBlockDelta{Text: "He"}},
			{Type: EventContentBlockDelta, Index: 0, Delta: &ContentBlockDelta{Text: "llo"}},
			{Type: EventMessageStop, StopReason: StopReasonEndTurn},
		}
		for _, ev := range events {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		}
	})

	events, errCh, err := client.ConverseStream(context.Background(), &Request{ModelID: "model-x"})
	require.NoError(t, err)

	var received []StreamEvent
	for ev := range events {
		received = append(received, ev)
	}
	require.NoError(t, <-errCh)

	require.Len(t, received, 4)
	assert.Equal(t, "He", received[1].Delta.Text)
	assert.Equal(t, "llo", received[2].Delta.Text)
	assert.Equal(t, EventMessageStop, received[3].Type)
	assert.Equal(t, StopReasonEndTurn, received[3].StopReason)
}

func TestConverseStreamTypelessEvents(t *testing.T) {
	// Some gateways omit the type field from the data payload; the SSE
	// event name fills it in.
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: contentBlockDelta\n")
		fmt.Fprint(w, `data: {"index":0,"delta":{"text":"hi"}}`+"\n\n")
		fmt.Fprint(w, "event: messageStop\n")
		fmt.Fprint(w, `data: {"stopReason":"end_turn"}`+"\n\n")
	})

	events, errCh, err := client.ConverseStream(context.Background(), &Request{ModelID: "model-x"})
	require.NoError(t, err)

	var received []StreamEvent
	for ev := range events {
		received = append(received, ev)
	}
	require.NoError(t, <-errCh)

	require.Len(t, received, 2)
	assert.Equal(t, EventContentBlockDelta, received[0].Type)
	assert.Equal(t, "hi", received[0].Delta.Text)
	assert.Equal(t, EventMessageStop, received[1].Type)
}

func TestConverseStreamHTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, _, err := client.ConverseStream(context.Background(), &Request{ModelID: "model-x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("SENTINEL_LLM_API_KEY", "")
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	t.Setenv("SENTINEL_LLM_API_KEY", "env-key")
	client, err := NewClient(ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultModelID, client.ModelID())
}

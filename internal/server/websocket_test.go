package server

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
	"github.com/sentinelops/sentinel-ai/internal/reasoning/investigation"
)

func wsURL(httpURL, path string) string {
	return strings.Replace(httpURL, "http", "ws", 1) + path
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketStreamsLiveEvents(t *testing.T) {
	mgr := newFakeManager()
	mgr.events = make(chan types.AgentStreamEvent, 16)
	mgr.add(&investigation.Investigation{ID: "inv-1", State: investigation.StateInvestigating}, true)

	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"*"}
	ts := newTestServer(t, cfg, mgr, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/api/v1/investigations/inv-1/events"), nil)
	require.NoError(t, err)
	defer conn.Close()

	mgr.events <- types.AgentStreamEvent{TextToken: "Checking "}
	mgr.events <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
		Phase: "calling", ToolName: "list_pods",
	}}
	mgr.events <- types.AgentStreamEvent{Done: true}

	msg := readMessage(t, conn)
	assert.Equal(t, "token", msg.Type)
	assert.Equal(t, "Checking ", msg.Token)

	msg = readMessage(t, conn)
	assert.Equal(t, "tool", msg.Type)
	require.NotNil(t, msg.Tool)
	assert.Equal(t, "list_pods", msg.Tool.ToolName)

	msg = readMessage(t, conn)
	assert.Equal(t, "done", msg.Type)
}

func TestWebSocketForwardsLoopError(t *testing.T) {
	mgr := newFakeManager()
	mgr.events = make(chan types.AgentStreamEvent, 4)
	mgr.add(&investigation.Investigation{ID: "inv-1", State: investigation.StateInvestigating}, true)

	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"*"}
	ts := newTestServer(t, cfg, mgr, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/api/v1/investigations/inv-1/events"), nil)
	require.NoError(t, err)
	defer conn.Close()

	mgr.events <- types.AgentStreamEvent{Err: errors.New("backend unavailable")}

	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "backend unavailable")
}

func TestWebSocketReplaysFinishedInvestigation(t *testing.T) {
	mgr := newFakeManager()
	mgr.add(&investigation.Investigation{
		ID: "inv-1", State: investigation.StateConcluded,
		Conclusion: "OOMKilled", Confidence: 85,
	}, false)

	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"*"}
	ts := newTestServer(t, cfg, mgr, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/api/v1/investigations/inv-1/events"), nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "state", msg.Type)
	require.NotNil(t, msg.Investigation)
	assert.Equal(t, "OOMKilled", msg.Investigation.Conclusion)

	msg = readMessage(t, conn)
	assert.Equal(t, "done", msg.Type)
}

func TestWebSocketUnknownInvestigation(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowedOrigins = []string{"*"}
	ts := newTestServer(t, cfg, newFakeManager(), nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, "/api/v1/investigations/ghost/events"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

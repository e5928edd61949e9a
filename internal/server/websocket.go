package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
	"github.com/sentinelops/sentinel-ai/internal/metrics"
	"github.com/sentinelops/sentinel-ai/internal/reasoning/investigation"
)

const (
	wsWriteTimeout      = 10 * time.Second
	wsHeartbeatInterval = 30 * time.Second
)

// wsMessage is the wire format of one event on the investigation stream.
type wsMessage struct {
	// Type is "token" | "tool" | "state" | "done" | "error" | "heartbeat".
	Type          string                       `json:"type"`
	Token         string                       `json:"token,omitempty"`
	Tool          *types.ToolEvent             `json:"tool,omitempty"`
	Investigation *investigation.Investigation `json:"investigation,omitempty"`
	Error         string                       `json:"error,omitempty"`
	Timestamp     time.Time                    `json:"timestamp"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin header.
				return true
			}
			for _, a := range allowed {
				if a == "*" || a == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleInvestigationEvents streams live agent events for one investigation.
// If the investigation already finished, the stored result is sent instead.
func (s *Server) handleInvestigationEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inv, err := s.investigations.Get(r.Context(), id)
	if err != nil {
		mapInvestigationError(w, err)
		return
	}

	events, unsubscribe, err := s.investigations.Subscribe(id)
	if err != nil && !errors.Is(err, investigation.ErrNotRunning) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, upgradeErr := s.upgrader().Upgrade(w, r, nil)
	if upgradeErr != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("id", id), zap.Error(upgradeErr))
		return
	}
	metrics.WebSocketConnections.Inc()
	defer func() {
		metrics.WebSocketConnections.Dec()
		_ = conn.Close()
	}()

	if errors.Is(err, investigation.ErrNotRunning) {
		// Finished investigation: replay the stored outcome and close.
		s.wsSend(conn, wsMessage{Type: "state", Investigation: inv})
		s.wsSend(conn, wsMessage{Type: "done"})
		return
	}
	defer unsubscribe()

	// Reads only serve to detect the client going away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(wsHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-heartbeat.C:
			if !s.wsSend(conn, wsMessage{Type: "heartbeat"}) {
				return
			}
		case evt, ok := <-events:
			if !ok {
				s.wsSend(conn, wsMessage{Type: "done"})
				return
			}
			if !s.wsSendEvent(conn, evt) {
				return
			}
		}
	}
}

func (s *Server) wsSendEvent(conn *websocket.Conn, evt types.AgentStreamEvent) bool {
	switch {
	case evt.TextToken != "":
		return s.wsSend(conn, wsMessage{Type: "token", Token: evt.TextToken})
	case evt.ToolEvent != nil:
		return s.wsSend(conn, wsMessage{Type: "tool", Tool: evt.ToolEvent})
	case evt.Err != nil:
		return s.wsSend(conn, wsMessage{Type: "error", Error: evt.Err.Error()})
	case evt.Done:
		s.wsSend(conn, wsMessage{Type: "done"})
		return false
	}
	return true
}

func (s *Server) wsSend(conn *websocket.Conn, msg wsMessage) bool {
	msg.Timestamp = time.Now().UTC()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return false
	}
	metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
	return true
}

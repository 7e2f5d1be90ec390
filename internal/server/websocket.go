package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/query/orchestrator"
)

// wsRequest is one question over the WebSocket.
type wsRequest struct {
	Query string `json:"query"`
}

// checkOrigin enforces the configured origin allowlist. "*" disables the
// check (development only); an absent Origin header (non-browser client) is
// allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleQueryWebSocket streams query pipeline events to the client: start,
// routed, narration chunks, then the terminal envelope.
func (s *Server) handleQueryWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade rejected", zap.Error(err))
		return
	}
	defer conn.Close()

	// Serialize writes: the heartbeat and the event stream share the socket.
	var writeMu sync.Mutex
	writeJSON := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = writeJSON(map[string]string{"type": "heartbeat"})
			}
		}
	}()

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		s.orchestrator.ProcessQueryStream(r.Context(), req.Query, func(ev orchestrator.Event) {
			if err := writeJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
			}
		})
	}
}

package api

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/juncture-dev/juncture/internal/bridge"
	"github.com/juncture-dev/juncture/pkg/websocket"
)

// handleEventsWS streams bridge events to the client as JSON frames.
func (s *Server) handleEventsWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s.logger.Info("event stream WebSocket connected")

	events, cancel := s.bridge.Subscribe()
	defer cancel()

	// Close detection: the client never sends frames, so a read error
	// means the socket is gone.
	closeCh := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closeCh)
				return
			}
		}
	}()

	// The current status is sent first so a late subscriber renders the
	// right connection state immediately.
	statusEv := bridge.Event{Type: bridge.EventStatus, Status: s.bridge.Status()}
	if err := s.writeEvent(conn, statusEv); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, ev); err != nil {
				s.logger.Debug("WebSocket write error", zap.Error(err))
				return
			}
		case <-closeCh:
			s.logger.Info("event stream WebSocket closed by client")
			return
		}
	}
}

func (s *Server) writeEvent(conn *gorillaws.Conn, ev bridge.Event) error {
	frame, err := websocket.NewFrame(string(ev.Type), ev)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(gorillaws.TextMessage, data)
}

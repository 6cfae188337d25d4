package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 5 * time.Second

// handleWebsocket streams slot events to the client as JSON text frames.
// Anything the client sends is discarded.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")

	id, events := s.events.Subscribe(32)
	defer s.events.Unsubscribe(id)
	s.log.Debug().Int("subscribers", s.events.Len()).Msg("Websocket connected")

	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				c.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			js, err := json.Marshal(ev)
			if err != nil {
				s.log.Err(err).Msg("Failed to marshal event payload for websocket")
				continue
			}
			if err := writeTimeout(ctx, wsWriteTimeout, c, js); err != nil {
				s.log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		}
	}
}

func writeTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return c.Write(ctx, websocket.MessageText, msg)
}

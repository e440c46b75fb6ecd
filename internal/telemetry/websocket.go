package telemetry

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/gonrsc5/internal/logging"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS streams the history followed by live events as JSON text
// messages. Messages from the client are ignored.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Field{Key: "error", Value: err})
		return
	}
	defer conn.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e Event) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(e) == nil
	}
	for _, e := range h.History() {
		if !send(e) {
			return
		}
	}
	for {
		select {
		case e, ok := <-ch:
			if !ok || !send(e) {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Observers are local windows; the daemon binds to localhost.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket streams every published player-data status to the
// connected observer. Delivery is best-effort: a subscriber that cannot
// keep up misses updates, and write failures close the connection.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	sub := s.deps.Broadcaster.Subscribe()
	s.log.Infof("observer connected (%d active)", s.deps.Broadcaster.Count())

	// Send the current snapshot immediately so a new observer does not
	// wait for the next publish.
	if status, ok := s.deps.Poller.Status(); ok {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(status); err != nil {
			s.deps.Broadcaster.Unsubscribe(sub)
			conn.Close()
			return
		}
	}

	// Reader: discard inbound frames, observe pongs and closes.
	go func() {
		defer func() {
			s.deps.Broadcaster.Unsubscribe(sub)
			conn.Close()
		}()
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer: push statuses and keepalive pings until the subscription
	// closes.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case status, ok := <-sub:
				if !ok {
					conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					conn.WriteMessage(websocket.CloseMessage, nil)
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(status); err != nil {
					s.deps.Broadcaster.Unsubscribe(sub)
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.deps.Broadcaster.Unsubscribe(sub)
					return
				}
			}
		}
	}()
}

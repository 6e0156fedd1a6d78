package session

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/wsconn"
)

// upgrader performs the HTTP → WebSocket upgrade for incoming client
// connections. CheckOrigin always returns true: MOTRA is a closed testbed
// protocol with no browser-originated clients, so origin checking is not
// meaningful here — grounded in server/internal/websocket/client.go's
// identical upgrader policy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades incoming HTTP requests to WebSocket connections and runs
// one Session per connection, blocking until it closes.
func Handler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		conn := wsconn.New(ws)
		s := New(cfg, conn)
		s.Run(r.Context())
	}
}

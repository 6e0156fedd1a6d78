// Package wsconn provides the shared WebSocket framing helpers used by both
// the server session (C6) and the client state machine (C7): one MOTRA
// protocol.Message per frame, with a read deadline on every receive
// (spec.md §5 "Timeouts"). It generalises the read/write-deadline idiom of
// server/internal/websocket/client.go to a bidirectional, strictly
// request/response protocol rather than a server-push pub/sub channel —
// MOTRA's session has no independent write pump because a peer never sends
// the next request before receiving the prior response (spec.md §5
// "Ordering guarantees").
package wsconn

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/protocol"
)

// DefaultReadTimeout is the suggested application-level read timeout from
// spec.md §5.
const DefaultReadTimeout = 30 * time.Second

// MaxFrameSize is the maximum size accepted per frame. spec.md §4.1 leaves
// this unspecified but recommends accepting archives up to at least 32 MiB.
const MaxFrameSize = 64 * 1024 * 1024

// Conn wraps a *websocket.Conn with MOTRA's one-message-per-frame protocol
// and read-timeout policy.
type Conn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
}

// New wraps ws, applying MaxFrameSize and DefaultReadTimeout.
func New(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(MaxFrameSize)
	return &Conn{ws: ws, readTimeout: DefaultReadTimeout}
}

// SetReadTimeout overrides the default read timeout.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

// Send encodes msg and writes it as a single text frame.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("wsconn: encode: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("wsconn: write: %w", err)
	}
	return nil
}

// Receive blocks until the next text frame arrives (or the read timeout
// expires) and decodes it into a concrete protocol.Message. A timeout or
// transport error is returned wrapped ("wsconn: read: ...") and never as
// protocol.ErrMalformed / protocol.ErrUnknownType, so callers can
// distinguish it from a validation failure.
func (c *Conn) Receive() (protocol.Message, error) {
	if c.readTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, fmt.Errorf("wsconn: set read deadline: %w", err)
		}
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("wsconn: read: %w", err)
	}

	return protocol.Decode(data)
}

// CloseWithReason sends a normal-closure (1000) control frame carrying
// reason and closes the underlying connection (spec.md §6.1).
func (c *Conn) CloseWithReason(reason string) error {
	deadline := time.Now().Add(5 * time.Second)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, closeMsg, deadline)
	return c.ws.Close()
}

// Underlying returns the wrapped *websocket.Conn for callers (e.g. the
// server session's deferred Close) that need access to connection-level
// APIs not exposed here.
func (c *Conn) Underlying() *websocket.Conn {
	return c.ws
}

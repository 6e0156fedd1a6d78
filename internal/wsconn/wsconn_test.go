package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/protocol"
)

var upgrader = websocket.Upgrader{}

func newServerClientPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	var serverConn *Conn
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = New(ws)
		close(ready)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	clientConn := New(clientWS)

	<-ready
	return serverConn, clientConn
}

func TestSendReceiveRoundTrip(t *testing.T) {
	server, client := newServerClientPair(t)
	t.Cleanup(func() { client.Underlying().Close() })
	t.Cleanup(func() { server.Underlying().Close() })

	require.NoError(t, client.Send(protocol.ClientHello{ClientID: "aa:bb:cc:dd:ee:ff"}))

	msg, err := server.Receive()
	require.NoError(t, err)
	hello, ok := msg.(protocol.ClientHello)
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", hello.ClientID)
}

func TestReceiveSurfacesMalformedAsProtocolError(t *testing.T) {
	server, client := newServerClientPair(t)
	t.Cleanup(func() { client.Underlying().Close() })
	t.Cleanup(func() { server.Underlying().Close() })

	require.NoError(t, client.Underlying().WriteMessage(websocket.TextMessage, []byte(`{"message_type":"CLIENT_HELLO","client_id":"nope"}`)))

	_, err := server.Receive()
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

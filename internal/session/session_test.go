package session

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/protocol"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/schedbridge"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/serverqueue"
)

func newTestServer(t *testing.T, queueDir string) (*httptest.Server, string) {
	t.Helper()

	q, err := serverqueue.Load(queueDir, zap.NewNop())
	require.NoError(t, err)

	cfg := Config{
		ServerID:   "11:22:33:44:55:66",
		ArchiveDir: filepath.Join(t.TempDir(), "archive"),
		LiveDir:    filepath.Join(t.TempDir(), "live"),
		Queue:      q,
		Bridge:     schedbridge.New(zap.NewNop()),
		Logger:     zap.NewNop(),
	}

	srv := httptest.NewServer(Handler(cfg))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendMsg(t *testing.T, ws *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func recvMsg(t *testing.T, ws *websocket.Conn) protocol.Message {
	t.Helper()
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func TestSessionHelloHandshake(t *testing.T) {
	_, url := newTestServer(t, t.TempDir())
	ws := dial(t, url)

	sendMsg(t, ws, protocol.ClientHello{ClientID: "aa:bb:cc:dd:ee:ff"})

	msg := recvMsg(t, ws)
	hello, ok := msg.(protocol.ServerHello)
	require.True(t, ok)
	assert.Equal(t, "11:22:33:44:55:66", hello.ServerID)
}

func TestSessionRequestCapConReturnsSentinelWhenQueueEmpty(t *testing.T) {
	_, url := newTestServer(t, t.TempDir())
	ws := dial(t, url)

	sendMsg(t, ws, protocol.ClientHello{ClientID: "aa:bb:cc:dd:ee:ff"})
	_ = recvMsg(t, ws)

	sendMsg(t, ws, protocol.RequestCapCon{})
	msg := recvMsg(t, ws)
	cc, ok := msg.(protocol.CapCon)
	require.True(t, ok)
	assert.Empty(t, cc.CapConID)
}

func TestSessionFullCapConCycle(t *testing.T) {
	queueDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(queueDir, "run-1.json"), []byte(`{
		"CapConID": "run-1",
		"duration": 30,
		"payload": [{"payload_type":"capture","payload_id":"p1","target":["aa:bb:cc:dd:ee:ff"],"command":"tcpdump"}]
	}`), 0o640))

	_, url := newTestServer(t, queueDir)
	ws := dial(t, url)

	sendMsg(t, ws, protocol.ClientHello{ClientID: "aa:bb:cc:dd:ee:ff"})
	_ = recvMsg(t, ws)

	sendMsg(t, ws, protocol.RequestCapCon{})
	msg := recvMsg(t, ws)
	cc, ok := msg.(protocol.CapCon)
	require.True(t, ok)
	assert.Equal(t, "run-1", cc.CapConID)
	require.Len(t, cc.Payload, 1)

	sendMsg(t, ws, protocol.AckCapCon{CapConID: cc.CapConID})
	msg = recvMsg(t, ws)
	exec, ok := msg.(protocol.ExecuteCapCon)
	require.True(t, ok)
	assert.Equal(t, "run-1", exec.CapConID)
}

func TestSessionRequestUploadPersistsFile(t *testing.T) {
	ws := mustConnect(t)

	// Payload is base64("hello"); FileHash is hex sha256("hello").
	sendMsg(t, ws, protocol.RequestUpload{
		FileName: "capture.pcap",
		FileHash: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashType: "sha256",
		Encoding: "base64",
		Payload:  "aGVsbG8=",
	})

	msg := recvMsg(t, ws)
	uc, ok := msg.(protocol.UploadComplete)
	require.True(t, ok)
	assert.Equal(t, "capture.pcap", uc.FileName)
}

func TestSessionRequestUploadRejectsHashMismatch(t *testing.T) {
	ws := mustConnect(t)

	sendMsg(t, ws, protocol.RequestUpload{
		FileName: "capture.pcap",
		FileHash: "0000000000000000000000000000000000000000000000000000000000000000",
		HashType: "sha256",
		Encoding: "base64",
		Payload:  "aGVsbG8=",
	})

	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "a hash mismatch must close the connection rather than reply")
}

// mustConnect dials a fresh test server and completes the CLIENT_HELLO
// handshake, returning the raw connection for further protocol exchanges.
func mustConnect(t *testing.T) *websocket.Conn {
	t.Helper()
	_, url := newTestServer(t, t.TempDir())
	ws := dial(t, url)
	sendMsg(t, ws, protocol.ClientHello{ClientID: "aa:bb:cc:dd:ee:ff"})
	_ = recvMsg(t, ws)
	return ws
}

func TestSessionUnknownMessageTypeGetsInvalidData(t *testing.T) {
	_, url := newTestServer(t, t.TempDir())
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"message_type":"NOT_REAL"}`)))

	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	_, ok := msg.(protocol.InvalidData)
	assert.True(t, ok)
}

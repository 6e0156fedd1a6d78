// Package clientfsm implements the client side of the MOTRA protocol (C7):
// a six-state machine driving one reconnect/upload/test cycle per run of the
// event loop (spec.md §4.7).
//
// The reconnect-loop shape — a small owned struct advancing through states
// with a context-cancellable sleep between attempts — is grounded in
// agent/internal/connection/manager.go's Run loop. The backoff formula
// itself is NOT carried over: the teacher uses exponential backoff with
// jitter, while spec.md §4.7 specifies a linear +2s schedule bounded by a
// hard retry count, so Backoff (backoff.go) implements that formula instead.
package clientfsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/archive"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/capcon"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/filecodec"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/protocol"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/schedbridge"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/workspace"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/wsconn"
)

// ErrBackoffExhausted is returned by Run once the configured retry_limit of
// failed connection attempts has been reached (spec.md §7 BackoffExhausted).
var ErrBackoffExhausted = errors.New("clientfsm: retry limit reached")

// ErrCapConIDMismatch is returned when EXECUTE_CAPCON names a CapConID other
// than the one just acknowledged (spec.md §4.7 OFFLINE_TESTING row).
var ErrCapConIDMismatch = errors.New("clientfsm: EXECUTE_CAPCON CapConID does not match the acknowledged CapCon")

// Dialer opens the transport-level WebSocket connection. Tests substitute a
// fake that dials an httptest server instead of the real gorilla dialer.
type Dialer func(ctx context.Context, addr string) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, addr string) (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	return ws, err
}

// Config holds everything a Machine needs for the lifetime of its run.
type Config struct {
	ClientID   string
	ServerAddr string
	RetryTime  int
	RetryLimit int
	Workspace  workspace.Workspace
	Bridge     *schedbridge.Bridge
	Logger     *zap.Logger
	// Dial overrides the transport dialer; nil uses the real gorilla dialer.
	Dial Dialer
}

// Machine drives the client through one full DISCONNECTED→...→OFFLINE_TESTING
// cycle. It is not safe for concurrent use.
type Machine struct {
	cfg     Config
	dial    Dialer
	backoff *Backoff
	logger  *zap.Logger

	state State
	conn  *wsconn.Conn

	currentCapConID string
	currentUpload   string
	pendingUploads  []string
	accumulator     []schedbridge.Submission
}

// New creates a Machine starting in DISCONNECTED.
func New(cfg Config) *Machine {
	dial := cfg.Dial
	if dial == nil {
		dial = defaultDialer
	}
	return &Machine{
		cfg:     cfg,
		dial:    dial,
		backoff: NewBackoff(cfg.RetryTime, cfg.RetryLimit),
		logger:  cfg.Logger.Named("clientfsm"),
		state:   Disconnected,
	}
}

// Run drives the state machine until it exits cleanly (EXECUTE_CAPCON
// processed, or the sentinel CapCon received with no work pending) or a
// fatal condition occurs (backoff exhaustion, an unexpected message type, a
// CapConID mismatch, or a workspace/archive failure). The returned int is
// the process exit code the caller (cmd/motra-client) should use.
func (m *Machine) Run(ctx context.Context) (int, error) {
	defer m.closeConn()

	for {
		if err := ctx.Err(); err != nil {
			return 1, err
		}

		switch m.state {
		case Disconnected:
			if err := m.runDisconnected(ctx); err != nil {
				return 1, err
			}
			m.state = Connecting

		case Connecting:
			next, err := m.runConnecting(ctx)
			if err != nil {
				return 1, err
			}
			m.state = next

		case Connected:
			next, err := m.runConnected(ctx)
			if err != nil {
				return 1, err
			}
			m.state = next

		case UploadDataAvailable:
			next, err := m.runUploadDataAvailable(ctx)
			if err != nil {
				return 1, err
			}
			m.state = next

		case PreparingReadyForTest:
			next, done, err := m.runPreparingReadyForTest(ctx)
			if err != nil {
				return 1, err
			}
			if done {
				return 0, nil
			}
			m.state = next

		case OfflineTesting:
			return m.runOfflineTesting(ctx)

		default:
			return 1, fmt.Errorf("clientfsm: unknown state %q", m.state)
		}
	}
}

// runDisconnected sleeps for the next backoff delay, cooperatively
// (time.After in a select, not a blocking time.Sleep) so ctx cancellation
// interrupts it immediately.
func (m *Machine) runDisconnected(ctx context.Context) error {
	delay, ok := m.backoff.Next()
	if !ok {
		m.logger.Error("retry limit reached, giving up")
		return ErrBackoffExhausted
	}

	m.logger.Info("waiting before reconnect attempt", zap.Int("delay_seconds", delay))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(delay) * time.Second):
		return nil
	}
}

// runConnecting opens the transport, exchanges CLIENT_HELLO/SERVER_HELLO,
// and reports whether the connection succeeded. A dial or IO failure
// returns to DISCONNECTED to retry; an unexpected reply is fatal.
func (m *Machine) runConnecting(ctx context.Context) (State, error) {
	ws, err := m.dial(ctx, m.cfg.ServerAddr)
	if err != nil {
		m.logger.Warn("connection attempt failed", zap.Error(err))
		return Disconnected, nil
	}

	conn := wsconn.New(ws)

	if err := conn.Send(protocol.ClientHello{ClientID: m.cfg.ClientID}); err != nil {
		m.logger.Warn("failed to send CLIENT_HELLO", zap.Error(err))
		_ = conn.CloseWithReason("")
		return Disconnected, nil
	}

	msg, err := conn.Receive()
	if err != nil {
		m.logger.Warn("failed to receive SERVER_HELLO", zap.Error(err))
		_ = conn.CloseWithReason("")
		return Disconnected, nil
	}

	hello, ok := msg.(protocol.ServerHello)
	if !ok {
		_ = conn.CloseWithReason("unexpected message_type")
		return "", fmt.Errorf("clientfsm: unexpected message type %q during CONNECTING", msg.TypeOf())
	}

	m.logger.Info("connected", zap.String("server_id", hello.ServerID))
	m.conn = conn
	return Connected, nil
}

// runConnected archives any CapCon left over from the prior cycle, purges
// the live directory, and either kicks off the upload queue or — if nothing
// is pending — requests the next CapCon directly (spec.md §4.7, §4.3).
func (m *Machine) runConnected(ctx context.Context) (State, error) {
	if m.cfg.Workspace.HasActiveCapCon() {
		prevID, err := m.readActiveCapConID()
		if err != nil {
			return "", err
		}

		if _, err := archive.Archive(prevID, m.cfg.Workspace.Live, m.cfg.Workspace.Staging); err != nil {
			return "", fmt.Errorf("clientfsm: %w", err)
		}
		if err := archive.Clean(m.cfg.Workspace.Live); err != nil {
			return "", fmt.Errorf("clientfsm: purge live dir: %w", err)
		}
	}

	files, err := m.cfg.Workspace.StagingFiles()
	if err != nil {
		return "", fmt.Errorf("clientfsm: %w", err)
	}

	if len(files) == 0 {
		if err := m.conn.Send(protocol.RequestCapCon{}); err != nil {
			return "", fmt.Errorf("clientfsm: send REQUEST_CAPCON: %w", err)
		}
		return PreparingReadyForTest, nil
	}

	m.currentUpload = files[0]
	m.pendingUploads = files[1:]
	if err := m.sendRequestUpload(m.currentUpload); err != nil {
		return "", err
	}
	return UploadDataAvailable, nil
}

// runUploadDataAvailable awaits UPLOAD_COMPLETE, archives the uploaded file
// locally, and either sends the next REQUEST_UPLOAD or moves on to
// REQUEST_CAPCON once the queue is drained.
func (m *Machine) runUploadDataAvailable(ctx context.Context) (State, error) {
	msg, err := m.conn.Receive()
	if err != nil {
		m.logger.Warn("connection lost awaiting UPLOAD_COMPLETE", zap.Error(err))
		m.closeConn()
		return Disconnected, nil
	}

	if _, ok := msg.(protocol.UploadComplete); !ok {
		m.closeConn()
		return "", fmt.Errorf("clientfsm: unexpected message type %q during UPLOAD_DATA_AVAILABLE", msg.TypeOf())
	}

	if err := m.cfg.Workspace.MoveToArchived(m.currentUpload); err != nil {
		return "", fmt.Errorf("clientfsm: %w", err)
	}

	if len(m.pendingUploads) > 0 {
		m.currentUpload = m.pendingUploads[0]
		m.pendingUploads = m.pendingUploads[1:]
		if err := m.sendRequestUpload(m.currentUpload); err != nil {
			return "", err
		}
		return UploadDataAvailable, nil
	}

	if err := m.conn.Send(protocol.RequestCapCon{}); err != nil {
		return "", fmt.Errorf("clientfsm: send REQUEST_CAPCON: %w", err)
	}
	return PreparingReadyForTest, nil
}

// runPreparingReadyForTest awaits the CAPCON reply. The sentinel (empty
// CapConID) ends the cycle cleanly; otherwise it persists the CapCon and
// every self-targeted payload descriptor write-once, accumulates scheduler
// submissions in spec.md §5 order, and acknowledges.
func (m *Machine) runPreparingReadyForTest(ctx context.Context) (State, bool, error) {
	msg, err := m.conn.Receive()
	if err != nil {
		m.logger.Warn("connection lost awaiting CAPCON", zap.Error(err))
		m.closeConn()
		return Disconnected, false, nil
	}

	wire, ok := msg.(protocol.CapCon)
	if !ok {
		m.closeConn()
		return "", false, fmt.Errorf("clientfsm: unexpected message type %q during PREPARING_READY_FOR_TEST", msg.TypeOf())
	}

	cc := wire.ToDomain()
	if cc.IsSentinel() {
		m.logger.Info("no more work, shutting down")
		_ = m.conn.CloseWithReason("")
		return "", true, nil
	}

	m.currentCapConID = cc.CapConID

	data, err := cc.Marshal()
	if err != nil {
		return "", false, fmt.Errorf("clientfsm: marshal CapCon: %w", err)
	}
	if err := workspace.WriteOnce(m.cfg.Workspace.CapConPath(), data); err != nil {
		return "", false, fmt.Errorf("clientfsm: %w", err)
	}

	m.accumulator = []schedbridge.Submission{{
		UnitType:   schedbridge.UnitClient,
		InstanceID: cc.CapConID,
		StartDelta: fmt.Sprintf("%ds", cc.Duration),
		Template:   true,
	}}

	for _, p := range cc.PayloadsFor(m.cfg.ClientID) {
		pdata, err := p.Marshal()
		if err != nil {
			return "", false, fmt.Errorf("clientfsm: marshal payload %s: %w", p.PayloadID, err)
		}
		if err := workspace.WriteOnce(m.cfg.Workspace.PayloadPath(p.PayloadID), pdata); err != nil {
			return "", false, fmt.Errorf("clientfsm: %w", err)
		}
		m.accumulator = append(m.accumulator, schedbridge.Submission{
			UnitType:   schedbridge.UnitClientMexec,
			InstanceID: p.PayloadID,
			StartDelta: "3s",
			Template:   true,
		})
	}

	if err := m.conn.Send(protocol.AckCapCon{CapConID: cc.CapConID}); err != nil {
		return "", false, fmt.Errorf("clientfsm: send ACK_CAPCON: %w", err)
	}
	return OfflineTesting, false, nil
}

// runOfflineTesting awaits EXECUTE_CAPCON, verifies it names the CapCon just
// acknowledged, submits the accumulated scheduler jobs in order, and exits.
func (m *Machine) runOfflineTesting(ctx context.Context) (int, error) {
	msg, err := m.conn.Receive()
	if err != nil {
		return 1, fmt.Errorf("clientfsm: connection lost awaiting EXECUTE_CAPCON: %w", err)
	}

	exec, ok := msg.(protocol.ExecuteCapCon)
	if !ok {
		return 1, fmt.Errorf("clientfsm: unexpected message type %q during OFFLINE_TESTING", msg.TypeOf())
	}
	if exec.CapConID != m.currentCapConID {
		return 1, fmt.Errorf("%w: got %q, want %q", ErrCapConIDMismatch, exec.CapConID, m.currentCapConID)
	}

	m.cfg.Bridge.SubmitAll(ctx, m.accumulator)
	m.accumulator = nil

	m.closeConn()
	return 0, nil
}

func (m *Machine) sendRequestUpload(fileName string) error {
	path := filepath.Join(m.cfg.Workspace.Staging, fileName)
	digest, b64, err := filecodec.Encode(path)
	if err != nil {
		return fmt.Errorf("clientfsm: %w", err)
	}

	if err := m.conn.Send(protocol.RequestUpload{
		FileName: fileName,
		FileHash: digest,
		HashType: "sha256",
		Encoding: "base64",
		Payload:  b64,
	}); err != nil {
		return fmt.Errorf("clientfsm: send REQUEST_UPLOAD: %w", err)
	}
	return nil
}

func (m *Machine) readActiveCapConID() (string, error) {
	data, err := os.ReadFile(m.cfg.Workspace.CapConPath())
	if err != nil {
		return "", fmt.Errorf("clientfsm: read active CapCon: %w", err)
	}
	cc, err := capcon.ParseFile(data)
	if err != nil {
		return "", fmt.Errorf("clientfsm: parse active CapCon: %w", err)
	}
	return cc.CapConID, nil
}

func (m *Machine) closeConn() {
	if m.conn != nil {
		_ = m.conn.CloseWithReason("")
		m.conn = nil
	}
}

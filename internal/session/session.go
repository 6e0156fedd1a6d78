// Package session implements the server side of the MOTRA protocol (C6): one
// instance per accepted WebSocket connection, dispatching inbound messages
// to the typed handlers of spec.md §4.6. It is strictly sequential — the
// server does not accept a new inbound frame until it has emitted the
// response to the previous one (spec.md §5).
//
// The dispatch-table-over-a-typed-decoder shape is grounded in
// server/internal/grpc/server.go's per-RPC-method handlers, collapsed onto
// a single request/response loop because the transport here is one
// WebSocket connection rather than independent gRPC methods.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/capcon"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/filecodec"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/protocol"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/schedbridge"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/serverqueue"
	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/wsconn"
)

// Config holds everything a Session needs that is shared across connections.
type Config struct {
	// ServerID is this server's entity identifier, used to select which
	// payloads in a CapCon target the server itself (spec.md §3.2, §4.6).
	ServerID string
	// ArchiveDir is where uploaded files are written (archive/<file_name>).
	ArchiveDir string
	// LiveDir is where the server persists descriptors for payloads that
	// target itself (spec.md §4.6 REQUEST_CAPCON row).
	LiveDir string
	Queue   *serverqueue.Queue
	Bridge  *schedbridge.Bridge
	Logger  *zap.Logger
}

// Session is the per-connection protocol driver.
type Session struct {
	cfg       Config
	conn      *wsconn.Conn
	logger    *zap.Logger
	sessionID string

	// accumulator holds scheduler submissions built while answering
	// REQUEST_CAPCON, submitted in full on ACK_CAPCON and cleared on every
	// CLIENT_HELLO (spec.md §4.6, §9 open question: "clear the whole
	// accumulator").
	accumulator []schedbridge.Submission
	// pendingDescriptors tracks live/<payload_id>.json paths written for
	// the current cycle, so a fresh CLIENT_HELLO can delete them (spec.md
	// §4.6 CLIENT_HELLO row: "if a prior active job is pending, delete its
	// on-disk descriptor").
	pendingDescriptors []string
}

// New creates a Session wrapping an already-upgraded connection.
func New(cfg Config, conn *wsconn.Conn) *Session {
	sessionID := uuid.NewString()
	return &Session{
		cfg:       cfg,
		conn:      conn,
		sessionID: sessionID,
		logger:    cfg.Logger.Named("session").With(zap.String("session_id", sessionID)),
	}
}

// Run drives the session until the peer disconnects, a protocol error
// forces a close, or ctx is cancelled. It never returns an error: all
// failures are logged and resolved by closing the connection, per spec.md
// §7 ("protocol-level errors close the socket").
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Underlying().Close()

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := s.conn.Receive()
		if err != nil {
			s.handleReceiveError(err)
			return
		}

		if !s.dispatch(ctx, msg) {
			return
		}
	}
}

func (s *Session) handleReceiveError(err error) {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		s.logger.Warn("closing session: malformed message", zap.Error(err))
		_ = s.conn.CloseWithReason("failed validation")
	case errors.Is(err, protocol.ErrUnknownType):
		s.logger.Warn("closing session: unknown message type", zap.Error(err))
		_ = s.send(protocol.InvalidData{Reason: err.Error()})
		_ = s.conn.CloseWithReason("unknown message_type")
	default:
		// ConnectionClosed / IO error — abort the session's scheduler
		// accumulator (spec.md §5 "Cancellation"): no partial submissions.
		s.logger.Info("session closed", zap.Error(err))
		s.accumulator = nil
	}
}

// dispatch handles a single inbound message and returns false if the
// session loop must stop (after EXECUTE_CAPCON or a fatal error).
func (s *Session) dispatch(ctx context.Context, msg protocol.Message) bool {
	switch m := msg.(type) {
	case protocol.ClientHello:
		return s.onClientHello(m)
	case protocol.RequestUpload:
		return s.onRequestUpload(m)
	case protocol.RequestCapCon:
		return s.onRequestCapCon(m)
	case protocol.AckCapCon:
		return s.onAckCapCon(ctx, m)
	default:
		s.logger.Warn("unexpected message type from client", zap.String("type", string(msg.TypeOf())))
		_ = s.send(protocol.InvalidData{Reason: fmt.Sprintf("unexpected message_type %q", msg.TypeOf())})
		_ = s.conn.CloseWithReason("unexpected message_type")
		return false
	}
}

// onClientHello resets session state (spec.md §4.6, §3.3: "the active-jobs
// map contains entries only for payloads whose target includes the server
// entity; entries are cleared at session start").
func (s *Session) onClientHello(m protocol.ClientHello) bool {
	s.logger.Info("client hello", zap.String("client_id", m.ClientID))

	for _, p := range s.pendingDescriptors {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove stale payload descriptor", zap.String("path", p), zap.Error(err))
		}
	}
	s.pendingDescriptors = nil
	s.accumulator = nil

	return s.send(protocol.ServerHello{ServerID: s.cfg.ServerID}) == nil
}

// onRequestUpload decodes and verifies the uploaded file, then persists it
// to archive/<file_name> (spec.md §4.2, §4.6).
func (s *Session) onRequestUpload(m protocol.RequestUpload) bool {
	dest := filepath.Join(s.cfg.ArchiveDir, m.FileName)

	if _, err := os.Stat(dest); err == nil {
		s.logger.Warn("duplicate artifact rejected", zap.String("file_name", m.FileName))
		// DuplicateArtifact fails the session (spec.md §7).
		_ = s.conn.CloseWithReason("duplicate artifact")
		return false
	}

	raw, err := filecodec.DecodeAndVerify(m.Payload, m.FileHash)
	if err != nil {
		s.logger.Warn("upload hash mismatch", zap.String("file_name", m.FileName), zap.Error(err))
		_ = s.conn.CloseWithReason("hash mismatch")
		return false
	}

	if err := os.MkdirAll(s.cfg.ArchiveDir, 0o750); err != nil {
		s.logger.Error("failed to create archive dir", zap.Error(err))
		_ = s.conn.CloseWithReason("server error")
		return false
	}
	if err := os.WriteFile(dest, raw, 0o640); err != nil {
		s.logger.Error("failed to persist upload", zap.String("file_name", m.FileName), zap.Error(err))
		_ = s.conn.CloseWithReason("server error")
		return false
	}

	s.logger.Info("upload persisted", zap.String("file_name", m.FileName), zap.Int("bytes", len(raw)))

	return s.send(protocol.UploadComplete{
		FileName: m.FileName,
		FileHash: m.FileHash,
	}) == nil
}

// onRequestCapCon persists any server-targeted payload descriptors,
// accumulates motra-server-mexec submissions, and sends the CAPCON, all
// while the queue lock is held across peek/send/pop via Queue.Take — so
// that a second session racing REQUEST_CAPCON cannot observe and be sent
// the same head CapCon before this session's pop (spec.md §4.5, §5,
// §8.1: "each CapConID is delivered to at most one client").
func (s *Session) onRequestCapCon(m protocol.RequestCapCon) bool {
	err := s.cfg.Queue.Take(func(cc capcon.CapCon) error {
		if !cc.IsSentinel() {
			if err := os.MkdirAll(s.cfg.LiveDir, 0o750); err != nil {
				s.logger.Error("failed to create live dir", zap.Error(err))
			} else {
				for _, p := range cc.PayloadsFor(s.cfg.ServerID) {
					path := filepath.Join(s.cfg.LiveDir, p.PayloadID+".json")
					data, err := p.Marshal()
					if err != nil {
						s.logger.Error("failed to marshal payload descriptor", zap.String("payload_id", p.PayloadID), zap.Error(err))
						continue
					}
					if err := os.WriteFile(path, data, 0o640); err != nil {
						s.logger.Error("failed to persist payload descriptor", zap.String("payload_id", p.PayloadID), zap.Error(err))
						continue
					}
					s.pendingDescriptors = append(s.pendingDescriptors, path)

					s.accumulator = append(s.accumulator, schedbridge.Submission{
						UnitType:   schedbridge.UnitServerMexec,
						InstanceID: p.PayloadID,
						StartDelta: "3s",
						Template:   true,
					})
				}
			}
		}

		return s.send(protocol.FromDomainCapCon(cc))
	})

	return err == nil
}

// onAckCapCon submits every accumulated scheduler job, clears the
// accumulator, sends EXECUTE_CAPCON, then closes the socket (spec.md §4.6).
func (s *Session) onAckCapCon(ctx context.Context, m protocol.AckCapCon) bool {
	submissions := s.accumulator
	s.accumulator = nil

	s.cfg.Bridge.SubmitAll(ctx, submissions)

	_ = s.send(protocol.ExecuteCapCon{CapConID: m.CapConID})
	_ = s.conn.CloseWithReason("")
	return false
}

func (s *Session) send(m protocol.Message) error {
	if err := s.conn.Send(m); err != nil {
		s.logger.Warn("send failed", zap.String("type", string(m.TypeOf())), zap.Error(err))
		return err
	}
	return nil
}

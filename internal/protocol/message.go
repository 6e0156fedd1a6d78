// Package protocol implements the typed, schema-validated message envelopes
// exchanged between a MOTRA Client and Server over a single WebSocket
// connection (spec.md §3.1, §4.1).
//
// Each wire frame carries exactly one JSON object discriminated by
// message_type. The set of message kinds is a closed tagged union — unknown
// tags are rejected with ErrUnknownType and missing required fields with
// ErrMalformed rather than silently ignored, following the corpus's websocket.Message envelope
// (arkeep/server/internal/websocket/message.go), generalized from a single
// "any" payload to eight concrete Go types.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Type identifies the kind of message carried by a frame.
type Type string

const (
	TypeClientHello    Type = "CLIENT_HELLO"
	TypeServerHello    Type = "SERVER_HELLO"
	TypeRequestUpload  Type = "REQUEST_UPLOAD"
	TypeUploadComplete Type = "UPLOAD_COMPLETE"
	TypeRequestCapCon  Type = "REQUEST_CAPCON"
	TypeCapCon         Type = "CAPCON"
	TypeAckCapCon      Type = "ACK_CAPCON"
	TypeExecuteCapCon  Type = "EXECUTE_CAPCON"
	TypeInvalidData    Type = "INVALID_DATA"
)

// ErrMalformed is returned (wrapped) when a frame fails validation: the JSON
// is invalid, carries an unknown field, or a required field is
// missing/malformed. An unknown message_type yields ErrUnknownType instead.
// The peer that detects this MUST close the socket with reason
// "failed validation" (spec.md §4.1, §7 ProtocolMalformed).
var ErrMalformed = errors.New("protocol: malformed message")

// ErrUnknownType is returned when message_type does not match any known
// kind — the eight protocol messages or INVALID_DATA (spec.md §7
// ProtocolUnknown).
var ErrUnknownType = errors.New("protocol: unknown message_type")

// clientIDPattern matches a MAC-style identifier, e.g. "aa:bb:cc:dd:ee:ff".
var clientIDPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// envelope is the generic shape used only to sniff message_type before
// dispatching to a concrete type. Every concrete type below re-declares
// its own fields so json.Unmarshal enforces "unknown fields rejected" via
// a strict decoder (see Decode).
type envelope struct {
	MessageType Type `json:"message_type"`
}

// Message is implemented by every concrete wire message. TypeOf returns the
// message_type discriminator; Validate enforces the field-level invariants
// from spec.md §3.1-§3.2. Encode fills in the timestamp if unset.
type Message interface {
	TypeOf() Type
	Validate() error
}

// ClientHello is sent by the client immediately after connecting.
type ClientHello struct {
	MessageType   Type      `json:"message_type"`
	TimestampUTC  time.Time `json:"timestamp_utc"`
	ClientID      string    `json:"client_id"`
}

func (m ClientHello) TypeOf() Type { return TypeClientHello }

func (m ClientHello) Validate() error {
	if !clientIDPattern.MatchString(m.ClientID) {
		return fmt.Errorf("%w: client_id %q does not match MAC pattern", ErrMalformed, m.ClientID)
	}
	return nil
}

// ServerHello is sent by the server in response to ClientHello.
type ServerHello struct {
	MessageType  Type      `json:"message_type"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	ServerID     string    `json:"server_id"`
}

func (m ServerHello) TypeOf() Type { return TypeServerHello }

func (m ServerHello) Validate() error {
	if !clientIDPattern.MatchString(m.ServerID) {
		return fmt.Errorf("%w: server_id %q does not match MAC pattern", ErrMalformed, m.ServerID)
	}
	return nil
}

// RequestUpload carries a single file, base64-encoded, with its SHA-256
// digest for integrity verification (spec.md §4.2).
type RequestUpload struct {
	MessageType  Type      `json:"message_type"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	FileName     string    `json:"file_name"`
	FileHash     string    `json:"file_hash"`
	HashType     string    `json:"hash_type"`
	Encoding     string    `json:"encoding"`
	Payload      string    `json:"payload"`
}

func (m RequestUpload) TypeOf() Type { return TypeRequestUpload }

func (m RequestUpload) Validate() error {
	if m.FileName == "" {
		return fmt.Errorf("%w: file_name must not be empty", ErrMalformed)
	}
	if m.FileHash == "" {
		return fmt.Errorf("%w: file_hash must not be empty", ErrMalformed)
	}
	if m.HashType != "sha256" {
		return fmt.Errorf("%w: unsupported hash_type %q", ErrMalformed, m.HashType)
	}
	if m.Encoding != "base64" {
		return fmt.Errorf("%w: unsupported encoding %q", ErrMalformed, m.Encoding)
	}
	return nil
}

// UploadComplete echoes the identifiers from the matching RequestUpload.
type UploadComplete struct {
	MessageType  Type      `json:"message_type"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	FileName     string    `json:"file_name"`
	FileHash     string    `json:"file_hash"`
}

func (m UploadComplete) TypeOf() Type { return TypeUploadComplete }

func (m UploadComplete) Validate() error {
	if m.FileName == "" || m.FileHash == "" {
		return fmt.Errorf("%w: file_name and file_hash are required", ErrMalformed)
	}
	return nil
}

// RequestCapCon asks the server for the next pending CapCon.
type RequestCapCon struct {
	MessageType  Type      `json:"message_type"`
	TimestampUTC time.Time `json:"timestamp_utc"`
}

func (m RequestCapCon) TypeOf() Type   { return TypeRequestCapCon }
func (m RequestCapCon) Validate() error { return nil }

// CapConPayload is the embedded payload shape of a CAPCON message. It
// re-declares capcon.GenericPayload's fields so the wire struct carries its
// own JSON shape; callers convert with CapCon.ToDomain/FromDomainCapCon
// (convert.go).
type CapConPayload struct {
	PayloadType  string   `json:"payload_type"`
	PayloadID    string   `json:"payload_id"`
	Target       []string `json:"target"`
	Setup        string   `json:"setup,omitempty"`
	Command      string   `json:"command"`
	Teardown     string   `json:"teardown,omitempty"`
	Description  string   `json:"description,omitempty"`
	LimitSecs    int      `json:"limits"`
	TimestampUTC string   `json:"timestamp_utc,omitempty"`
}

// CapCon is the wire representation of a Capture Configuration.
type CapCon struct {
	MessageType  Type            `json:"message_type"`
	TimestampUTC time.Time       `json:"timestamp_utc"`
	CapConID     string          `json:"CapConID"`
	Description  string          `json:"description,omitempty"`
	Duration     int             `json:"duration"`
	Payload      []CapConPayload `json:"payload,omitempty"`
}

func (m CapCon) TypeOf() Type { return TypeCapCon }

func (m CapCon) Validate() error {
	// An empty CapConID is the sentinel (spec.md §3.3) — always valid.
	for _, p := range m.Payload {
		if p.PayloadID == "" {
			return fmt.Errorf("%w: payload missing payload_id", ErrMalformed)
		}
		if p.PayloadType != "capture" && p.PayloadType != "attack" {
			return fmt.Errorf("%w: payload %q has invalid payload_type %q", ErrMalformed, p.PayloadID, p.PayloadType)
		}
	}
	return nil
}

// AckCapCon acknowledges receipt of a non-sentinel CapCon.
type AckCapCon struct {
	MessageType  Type      `json:"message_type"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	CapConID     string    `json:"CapConID"`
}

func (m AckCapCon) TypeOf() Type { return TypeAckCapCon }

func (m AckCapCon) Validate() error {
	if m.CapConID == "" {
		return fmt.Errorf("%w: ACK_CAPCON requires a non-empty CapConID", ErrMalformed)
	}
	return nil
}

// ExecuteCapCon is the final message sent by the server, triggering the
// client's transition to offline testing.
type ExecuteCapCon struct {
	MessageType  Type      `json:"message_type"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	CapConID     string    `json:"CapConID"`
}

func (m ExecuteCapCon) TypeOf() Type { return TypeExecuteCapCon }

func (m ExecuteCapCon) Validate() error {
	if m.CapConID == "" {
		return fmt.Errorf("%w: EXECUTE_CAPCON requires a non-empty CapConID", ErrMalformed)
	}
	return nil
}

// InvalidData is sent by the server in response to an unrecognised
// message_type (spec.md §4.6, ProtocolUnknown).
type InvalidData struct {
	MessageType Type   `json:"message_type"`
	Reason      string `json:"reason,omitempty"`
}

func (m InvalidData) TypeOf() Type    { return TypeInvalidData }
func (m InvalidData) Validate() error { return nil }

// Decode inspects the message_type discriminator in raw and parses it into
// the corresponding concrete Message, then runs Validate. Unknown types
// return ErrUnknownType; missing/malformed required fields return
// ErrMalformed (both are checked with errors.Is by callers).
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	switch env.MessageType {
	case TypeClientHello:
		var m ClientHello
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeServerHello:
		var m ServerHello
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeRequestUpload:
		var m RequestUpload
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeUploadComplete:
		var m UploadComplete
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeRequestCapCon:
		var m RequestCapCon
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeCapCon:
		var m CapCon
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeAckCapCon:
		var m AckCapCon
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeExecuteCapCon:
		var m ExecuteCapCon
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	case TypeInvalidData:
		var m InvalidData
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.MessageType)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// strictUnmarshal decodes raw into v, rejecting unknown fields — spec.md
// §4.1 requires unknown fields to be rejected at the recipient.
func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode stamps the timestamp (if the caller left it zero) and serialises m
// to JSON for a single WebSocket frame.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case ClientHello:
		v.MessageType = TypeClientHello
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case ServerHello:
		v.MessageType = TypeServerHello
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case RequestUpload:
		v.MessageType = TypeRequestUpload
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case UploadComplete:
		v.MessageType = TypeUploadComplete
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case RequestCapCon:
		v.MessageType = TypeRequestCapCon
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case CapCon:
		v.MessageType = TypeCapCon
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case AckCapCon:
		v.MessageType = TypeAckCapCon
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case ExecuteCapCon:
		v.MessageType = TypeExecuteCapCon
		if v.TimestampUTC.IsZero() {
			v.TimestampUTC = time.Now().UTC()
		}
		return json.Marshal(v)
	case InvalidData:
		v.MessageType = TypeInvalidData
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("protocol: unsupported message type %T", m)
	}
}

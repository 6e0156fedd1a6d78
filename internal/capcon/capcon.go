// Package capcon defines the Capture Configuration data model shared by the
// server queue, the server session, and the client state machine: CapCon,
// GenericPayload, and their on-disk JSON representation.
package capcon

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadType identifies whether a GenericPayload captures measurement
// traffic or performs an attack action.
type PayloadType string

const (
	PayloadTypeCapture PayloadType = "capture"
	PayloadTypeAttack  PayloadType = "attack"
)

// ErrInvalidPayloadType is returned by Validate when PayloadType is not one
// of the two known values.
var ErrInvalidPayloadType = errors.New("capcon: invalid payload_type")

// GenericPayload is a single measurement or attack action embedded in a
// CapCon. Target selects which peers (by entity identifier) must
// materialise it as a scheduled job.
type GenericPayload struct {
	PayloadType  PayloadType `json:"payload_type"`
	PayloadID    string      `json:"payload_id"`
	Target       []string    `json:"target"`
	Setup        string      `json:"setup,omitempty"`
	Command      string      `json:"command"`
	Teardown     string      `json:"teardown,omitempty"`
	Description  string      `json:"description,omitempty"`
	LimitSecs    int         `json:"limits"`
	TimestampUTC string      `json:"timestamp_utc,omitempty"`
}

// Validate checks that the payload carries the fields required by spec.md §3.2.
func (p GenericPayload) Validate() error {
	if p.PayloadType != PayloadTypeCapture && p.PayloadType != PayloadTypeAttack {
		return fmt.Errorf("%w: %q", ErrInvalidPayloadType, p.PayloadType)
	}
	if p.PayloadID == "" {
		return errors.New("capcon: payload_id must not be empty")
	}
	return nil
}

// HasTarget reports whether entity is listed in the payload's target set.
func (p GenericPayload) HasTarget(entity string) bool {
	for _, t := range p.Target {
		if t == entity {
			return true
		}
	}
	return false
}

// CapCon is the unit of work dispensed from server to client (spec.md §3.1).
// An empty CapConID is the sentinel meaning "no more work" (spec.md §3.3).
type CapCon struct {
	CapConID    string           `json:"CapConID"`
	Description string           `json:"description,omitempty"`
	Duration    int              `json:"duration"`
	Payload     []GenericPayload `json:"payload,omitempty"`
}

// Sentinel returns the CAPCON value meaning "no more work; shut down cleanly".
// Per DESIGN NOTES open question 3: the sentinel has only the fields named
// in spec.md §3.1 — no spurious command field.
func Sentinel() CapCon {
	return CapCon{}
}

// IsSentinel reports whether c is the "no more work" sentinel.
func (c CapCon) IsSentinel() bool {
	return c.CapConID == ""
}

// PayloadsFor returns the subset of c.Payload whose Target includes entity,
// in CapCon-payload order (the order scheduler submissions must follow,
// spec.md §5 "Ordering guarantees").
func (c CapCon) PayloadsFor(entity string) []GenericPayload {
	var out []GenericPayload
	for _, p := range c.Payload {
		if p.HasTarget(entity) {
			out = append(out, p)
		}
	}
	return out
}

// ParseFile parses raw JSON bytes as a CapCon and validates every embedded
// payload. Used by the Server Queue (C5) when scanning CapCon files, and by
// the client when reading back live/capcon.json.
func ParseFile(data []byte) (CapCon, error) {
	var c CapCon
	if err := json.Unmarshal(data, &c); err != nil {
		return CapCon{}, fmt.Errorf("capcon: invalid JSON: %w", err)
	}
	for _, p := range c.Payload {
		if err := p.Validate(); err != nil {
			return CapCon{}, fmt.Errorf("capcon: payload %q: %w", p.PayloadID, err)
		}
	}
	return c, nil
}

// Marshal serialises the CapCon to indented JSON, matching the on-disk
// format written by the client to live/capcon.json (spec.md §6.2).
func (c CapCon) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Marshal serialises a single payload descriptor, as written to
// live/<payload_id>.json (spec.md §6.2).
func (p GenericPayload) Marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

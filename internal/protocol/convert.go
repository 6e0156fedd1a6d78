package protocol

import "github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/capcon"

// FromDomainCapCon converts a domain capcon.CapCon into its wire representation.
func FromDomainCapCon(c capcon.CapCon) CapCon {
	out := CapCon{
		CapConID:    c.CapConID,
		Description: c.Description,
		Duration:    c.Duration,
	}
	for _, p := range c.Payload {
		out.Payload = append(out.Payload, CapConPayload{
			PayloadType:  string(p.PayloadType),
			PayloadID:    p.PayloadID,
			Target:       p.Target,
			Setup:        p.Setup,
			Command:      p.Command,
			Teardown:     p.Teardown,
			Description:  p.Description,
			LimitSecs:    p.LimitSecs,
			TimestampUTC: p.TimestampUTC,
		})
	}
	return out
}

// ToDomain converts a wire CapCon back into the domain model used by the
// server queue, session, and client state machine.
func (m CapCon) ToDomain() capcon.CapCon {
	out := capcon.CapCon{
		CapConID:    m.CapConID,
		Description: m.Description,
		Duration:    m.Duration,
	}
	for _, p := range m.Payload {
		out.Payload = append(out.Payload, capcon.GenericPayload{
			PayloadType:  capcon.PayloadType(p.PayloadType),
			PayloadID:    p.PayloadID,
			Target:       p.Target,
			Setup:        p.Setup,
			Command:      p.Command,
			Teardown:     p.Teardown,
			Description:  p.Description,
			LimitSecs:    p.LimitSecs,
			TimestampUTC: p.TimestampUTC,
		})
	}
	return out
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Laboratory-for-Safe-and-Secure-Systems/motra-capture/internal/capcon"
)

func TestFromDomainAndToDomainRoundTrip(t *testing.T) {
	domain := capcon.CapCon{
		CapConID:    "run-010",
		Description: "test run",
		Duration:    30,
		Payload: []capcon.GenericPayload{
			{PayloadType: capcon.PayloadTypeCapture, PayloadID: "p1", Target: []string{"client-a"}, Command: "tcpdump"},
		},
	}

	wire := FromDomainCapCon(domain)
	assert.Equal(t, domain.CapConID, wire.CapConID)
	assert.Len(t, wire.Payload, 1)
	assert.Equal(t, "capture", wire.Payload[0].PayloadType)

	back := wire.ToDomain()
	assert.Equal(t, domain, back)
}

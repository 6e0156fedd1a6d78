package capcon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelIsEmptyCapConID(t *testing.T) {
	s := Sentinel()
	assert.True(t, s.IsSentinel())
	assert.Empty(t, s.CapConID)
	assert.Empty(t, s.Payload)
}

func TestParseFileValidatesPayloads(t *testing.T) {
	raw := []byte(`{
		"CapConID": "run-001",
		"duration": 60,
		"payload": [
			{"payload_type": "capture", "payload_id": "p1", "target": ["client-a"], "command": "tcpdump -w out.pcap"}
		]
	}`)

	cc, err := ParseFile(raw)
	require.NoError(t, err)
	assert.Equal(t, "run-001", cc.CapConID)
	assert.Len(t, cc.Payload, 1)
}

func TestParseFileRejectsInvalidPayloadType(t *testing.T) {
	raw := []byte(`{
		"CapConID": "run-002",
		"duration": 10,
		"payload": [{"payload_type": "bogus", "payload_id": "p1", "target": ["client-a"]}]
	}`)

	_, err := ParseFile(raw)
	require.Error(t, err)
}

func TestPayloadsForPreservesOrderAndFiltersByTarget(t *testing.T) {
	cc := CapCon{
		CapConID: "run-003",
		Payload: []GenericPayload{
			{PayloadType: PayloadTypeCapture, PayloadID: "p1", Target: []string{"client-a"}},
			{PayloadType: PayloadTypeAttack, PayloadID: "p2", Target: []string{"client-b"}},
			{PayloadType: PayloadTypeCapture, PayloadID: "p3", Target: []string{"client-a", "client-b"}},
		},
	}

	got := cc.PayloadsFor("client-a")
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PayloadID)
	assert.Equal(t, "p3", got[1].PayloadID)
}

func TestGenericPayloadValidate(t *testing.T) {
	valid := GenericPayload{PayloadType: PayloadTypeCapture, PayloadID: "p1"}
	assert.NoError(t, valid.Validate())

	missingID := GenericPayload{PayloadType: PayloadTypeCapture}
	assert.Error(t, missingID.Validate())

	badType := GenericPayload{PayloadType: "unknown", PayloadID: "p1"}
	assert.ErrorIs(t, badType.Validate(), ErrInvalidPayloadType)
}

package ampwire

import (
	"bytes"
	"testing"

	"github.com/aura-project/aura-core/idhash"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeEncodeDecodeRoundTrips(t *testing.T) {
	h := Header{
		Channel:     idhash.ContextId{1, 2, 3},
		ChanEpoch:   idhash.Epoch(7),
		RatchetGen:  42,
		Sender:      idhash.AuthorityId{9},
		Destination: idhash.AuthorityId{10},
	}
	env := NewEnvelope(h, []byte("sealed payload bytes"), []byte("receipt bytes"))

	var buf bytes.Buffer
	require.NoError(t, env.Encode(&buf))

	var decoded Envelope
	require.NoError(t, decoded.Decode(&buf))

	require.Equal(t, env.Header, decoded.Header)
	require.Equal(t, env.Payload, decoded.Payload)
	require.Equal(t, env.Receipt, decoded.Receipt)
	require.Equal(t, Version, decoded.VersionByte)
}

func TestEnvelopeDecodeRejectsUnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(99)
	var decoded Envelope
	require.Error(t, decoded.Decode(&buf))
}

func TestEnvelopeWithEmptyReceiptRoundTrips(t *testing.T) {
	h := Header{Channel: idhash.ContextId{1}, ChanEpoch: 0, RatchetGen: 0}
	env := NewEnvelope(h, []byte("x"), nil)

	var buf bytes.Buffer
	require.NoError(t, env.Encode(&buf))

	var decoded Envelope
	require.NoError(t, decoded.Decode(&buf))
	require.Empty(t, decoded.Receipt)
}

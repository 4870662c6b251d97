package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/pkg/exception"
)

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	orig, err := NewEnvelope("chat_message", map[string]string{"text": "hello"}, "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, orig.EventID)
	require.NotZero(t, orig.Timestamp)

	encoded, err := orig.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(encoded)
	require.NoError(t, err)

	assert.Equal(t, orig.Type, decoded.Type)
	assert.Equal(t, orig.SessionID, decoded.SessionID)
	assert.Equal(t, orig.Timestamp, decoded.Timestamp)
	assert.Equal(t, orig.EventID, decoded.EventID)
	assert.JSONEq(t, string(orig.Payload), string(decoded.Payload))
}

func TestNewEnvelopeUniqueEventIDs(t *testing.T) {
	a, err := NewEnvelope("status_update", nil, "s")
	require.NoError(t, err)
	b, err := NewEnvelope("status_update", nil, "s")
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":        []byte("{nope"),
		"missing type":    []byte(`{"payload":{},"sessionId":"s","timestamp":1,"eventId":"e1"}`),
		"missing eventId": []byte(`{"type":"chat_message","sessionId":"s","timestamp":1}`),
	}
	for name, frame := range cases {
		_, err := DecodeEnvelope(frame)
		if !errors.Is(err, exception.ErrEnvelopeDecode) {
			t.Fatalf("%s: want ErrEnvelopeDecode, got %+v", name, err)
		}
	}
}

func TestNewEnvelopeRejectsEmptyType(t *testing.T) {
	_, err := NewEnvelope("", nil, "s")
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

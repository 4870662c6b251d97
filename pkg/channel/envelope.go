package channel

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// TypeHeartbeat is the reserved envelope type for liveness probes and
// their replies. Heartbeat envelopes are never forwarded to subscribers.
const TypeHeartbeat = "heartbeat"

// Envelope is the atomic unit of message exchange on either transport.
// Envelopes are immutable once constructed and are not retained after
// dispatch.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SessionID string          `json:"sessionId"`
	Timestamp uint64          `json:"timestamp"`
	EventID   string          `json:"eventId"`
}

// NewEnvelope builds an outbound envelope with a fresh unique event id
// and the current timestamp. The payload is marshaled once here.
func NewEnvelope(envelopeType string, payload any, sessionID string) (Envelope, error) {
	if envelopeType == "" {
		return Envelope{}, exception.ErrInvalidArgument
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := sonic.ConfigFastest.Marshal(payload)
		if err != nil {
			return Envelope{}, errors.Wrap(err, "marshal payload")
		}
		raw = data
	}

	return Envelope{
		Type:      envelopeType,
		Payload:   raw,
		SessionID: sessionID,
		Timestamp: uint64(time.Now().UnixMilli()),
		EventID:   uuid.NewString(),
	}, nil
}

// Encode serializes the envelope into its JSON wire frame.
func (e Envelope) Encode() ([]byte, error) {
	data, err := sonic.ConfigFastest.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. A frame that is not valid JSON or
// is missing its routing fields fails with ErrEnvelopeDecode.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := sonic.ConfigFastest.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrapf(exception.ErrEnvelopeDecode, "unmarshal frame: %v", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.Wrap(exception.ErrEnvelopeDecode, "missing type")
	}
	if env.EventID == "" {
		return Envelope{}, errors.Wrap(exception.ErrEnvelopeDecode, "missing eventId")
	}
	return env, nil
}

func heartbeatEnvelope(sessionID string) Envelope {
	return Envelope{
		Type:      TypeHeartbeat,
		SessionID: sessionID,
		Timestamp: uint64(time.Now().UnixMilli()),
		EventID:   uuid.NewString(),
	}
}

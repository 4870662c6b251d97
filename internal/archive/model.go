package archive

import (
	"time"

	"main/pkg/channel"
)

// Record is a persisted copy of one delivered envelope.
type Record struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	EventID   string `gorm:"column:event_id;size:64;uniqueIndex"`
	Type      string `gorm:"column:type;size:128;index"`
	SessionID string `gorm:"column:session_id;size:64;index"`
	Payload   []byte `gorm:"column:payload"`
	SentAt    int64  `gorm:"column:sent_at"`
	StoredAt  time.Time
}

// TableName implements the gorm table naming convention.
func (Record) TableName() string {
	return "envelope_archive"
}

func newRecord(env channel.Envelope, now time.Time) Record {
	payload := make([]byte, len(env.Payload))
	copy(payload, env.Payload)
	return Record{
		EventID:   env.EventID,
		Type:      env.Type,
		SessionID: env.SessionID,
		Payload:   payload,
		SentAt:    int64(env.Timestamp),
		StoredAt:  now,
	}
}

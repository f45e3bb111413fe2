// Package relay is the data-message channel: a websocket fan-out server
// scoped per meeting, and the client peers use to reach it.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
	"meetsync/pkg/utils"
)

type FrameKind string

const (
	KindData     FrameKind = "data"
	KindPresence FrameKind = "presence"
	KindError    FrameKind = "error"
)

// Frame is the single JSON text frame carried on the socket. Which fields
// are set depends on Kind.
type Frame struct {
	Kind FrameKind `json:"kind"`

	Topic    protocol.Topic    `json:"topic,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
	TTLMs    int64             `json:"ttlMs,omitempty"`
	SenderID domain.AttendeeID `json:"senderId,omitempty"`
	TS       int64             `json:"ts,omitempty"`

	AttendeeID domain.AttendeeID `json:"attendeeId,omitempty"`
	ExternalID string            `json:"externalId,omitempty"`
	Present    bool              `json:"present,omitempty"`

	Message string `json:"message,omitempty"`
}

func DataFrame(topic protocol.Topic, payload []byte, ttl time.Duration, sender domain.AttendeeID, now time.Time) Frame {
	return Frame{
		Kind:     KindData,
		Topic:    topic,
		Payload:  payload,
		TTLMs:    ttl.Milliseconds(),
		SenderID: sender,
		TS:       now.UnixMilli(),
	}
}

func PresenceFrame(attendee domain.AttendeeID, externalID string, present bool) Frame {
	return Frame{
		Kind:       KindPresence,
		AttendeeID: attendee,
		ExternalID: externalID,
		Present:    present,
	}
}

func ErrorFrame(message string) Frame {
	return Frame{Kind: KindError, Message: message}
}

// Expired reports whether a data frame outlived its TTL. Frames without a
// TTL or timestamp never expire.
func (f Frame) Expired(now time.Time) bool {
	if f.Kind != KindData || f.TTLMs <= 0 || f.TS == 0 {
		return false
	}
	return utils.IsExpired(utils.FromUnixMillis(f.TS+f.TTLMs), now)
}

// Label is the topic for data frames and the kind otherwise, for metrics.
func (f Frame) Label() string {
	if f.Kind == KindData {
		return string(f.Topic)
	}
	return string(f.Kind)
}

func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses one frame and rejects unknown kinds and, for data
// frames, unknown topics.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	switch f.Kind {
	case KindData:
		if !f.Topic.Valid() {
			return f, fmt.Errorf("%w: topic %q", protocol.ErrUnknownVariant, f.Topic)
		}
	case KindPresence:
		if f.AttendeeID == "" {
			return f, fmt.Errorf("%w: presence without attendee", protocol.ErrMalformed)
		}
	case KindError:
	default:
		return f, fmt.Errorf("%w: frame kind %q", protocol.ErrUnknownVariant, f.Kind)
	}
	return f, nil
}

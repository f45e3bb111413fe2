// Package protocol defines the data messages peers exchange over the relay.
// Every topic has a closed set of variants; decoding fails closed with
// ErrMalformed or ErrUnknownVariant.
package protocol

import (
	"errors"
	"time"
)

type Topic string

const (
	TopicState        Topic = "state"
	TopicHostControls Topic = "host-controls"
	TopicReaction     Topic = "reaction"
)

// TTL is how long the relay may hold an undelivered message on the topic.
func (t Topic) TTL() time.Duration {
	switch t {
	case TopicReaction:
		return time.Second
	default:
		return 5 * time.Second
	}
}

func (t Topic) Valid() bool {
	switch t {
	case TopicState, TopicHostControls, TopicReaction:
		return true
	}
	return false
}

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownVariant = errors.New("unknown message variant")
)

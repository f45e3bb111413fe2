package protocol

import (
	"encoding/json"
	"fmt"

	"meetsync/internal/core/domain"
)

type StateKind string

const (
	StateAudio                StateKind = "audio"
	StateVideo                StateKind = "video"
	StateQuality              StateKind = "quality"
	StateName                 StateKind = "name"
	StateMeetingDetailsUpdate StateKind = "meeting-details-update"
	StateAssignHost           StateKind = "assign-host"
)

// StateMessage is a message on the state topic. The set of implementations
// is closed.
type StateMessage interface {
	StateKind() StateKind
}

type AudioState struct {
	AttendeeID domain.AttendeeID
	Muted      bool
}

type VideoState struct {
	AttendeeID domain.AttendeeID
	Enabled    bool
}

type QualityState struct {
	AttendeeID domain.AttendeeID
	Level      domain.Quality
}

type NameState struct {
	AttendeeID domain.AttendeeID
	Name       string
}

type MeetingDetailsUpdate struct {
	AttendeeID domain.AttendeeID
	Details    domain.MeetingDetails
}

// AssignHost announces a new host. It travels on the state topic and, as a
// distinguished message or host action, on host-controls.
type AssignHost struct {
	AttendeeID domain.AttendeeID
}

func (AudioState) StateKind() StateKind           { return StateAudio }
func (VideoState) StateKind() StateKind           { return StateVideo }
func (QualityState) StateKind() StateKind         { return StateQuality }
func (NameState) StateKind() StateKind            { return StateName }
func (MeetingDetailsUpdate) StateKind() StateKind { return StateMeetingDetailsUpdate }
func (AssignHost) StateKind() StateKind           { return StateAssignHost }

type stateWire struct {
	Type             StateKind         `json:"type"`
	AttendeeID       domain.AttendeeID `json:"attendeeId,omitempty"`
	Muted            *bool             `json:"muted,omitempty"`
	Enabled          *bool             `json:"enabled,omitempty"`
	Level            domain.Quality    `json:"level,omitempty"`
	Name             *string           `json:"name,omitempty"`
	Title            string            `json:"title,omitempty"`
	Topic            string            `json:"topic,omitempty"`
	DiscussionPoints string            `json:"discussionPoints,omitempty"`
}

func EncodeState(msg StateMessage) ([]byte, error) {
	w := stateWire{Type: msg.StateKind()}
	switch m := msg.(type) {
	case AudioState:
		w.AttendeeID, w.Muted = m.AttendeeID, &m.Muted
	case VideoState:
		w.AttendeeID, w.Enabled = m.AttendeeID, &m.Enabled
	case QualityState:
		w.AttendeeID, w.Level = m.AttendeeID, m.Level
	case NameState:
		w.AttendeeID, w.Name = m.AttendeeID, &m.Name
	case MeetingDetailsUpdate:
		w.AttendeeID = m.AttendeeID
		w.Title, w.Topic, w.DiscussionPoints = m.Details.Title, m.Details.Topic, m.Details.DiscussionPoints
	case AssignHost:
		w.AttendeeID = m.AttendeeID
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, msg)
	}
	return json.Marshal(w)
}

// DecodeState parses a state topic payload. Every variant except
// meeting-details-update must name an attendee.
func DecodeState(data []byte) (StateMessage, error) {
	var w stateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if w.AttendeeID == "" && w.Type != StateMeetingDetailsUpdate {
		return nil, fmt.Errorf("%w: %s message without attendeeId", ErrMalformed, w.Type)
	}

	switch w.Type {
	case StateAudio:
		return AudioState{AttendeeID: w.AttendeeID, Muted: deref(w.Muted)}, nil
	case StateVideo:
		return VideoState{AttendeeID: w.AttendeeID, Enabled: deref(w.Enabled)}, nil
	case StateQuality:
		if !w.Level.Valid() {
			return nil, fmt.Errorf("%w: quality level %q", ErrMalformed, w.Level)
		}
		return QualityState{AttendeeID: w.AttendeeID, Level: w.Level}, nil
	case StateName:
		name := ""
		if w.Name != nil {
			name = *w.Name
		}
		return NameState{AttendeeID: w.AttendeeID, Name: name}, nil
	case StateMeetingDetailsUpdate:
		return MeetingDetailsUpdate{
			AttendeeID: w.AttendeeID,
			Details: domain.MeetingDetails{
				Title:            w.Title,
				Topic:            w.Topic,
				DiscussionPoints: w.DiscussionPoints,
			},
		}, nil
	case StateAssignHost:
		return AssignHost{AttendeeID: w.AttendeeID}, nil
	default:
		return nil, fmt.Errorf("%w: state type %q", ErrUnknownVariant, w.Type)
	}
}

func deref(b *bool) bool {
	return b != nil && *b
}

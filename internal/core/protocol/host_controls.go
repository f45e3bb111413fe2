package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"meetsync/internal/core/domain"
	"meetsync/pkg/utils"
	"meetsync/pkg/validation"
)

type ActionKind string

const (
	ActionMuteAll             ActionKind = "mute-all"
	ActionMuteAttendee        ActionKind = "mute-attendee"
	ActionVideoAttendee       ActionKind = "video-attendee"
	ActionRemoveAttendee      ActionKind = "remove-attendee"
	ActionPinAttendee         ActionKind = "pin-attendee"
	ActionSetMaxAttendees     ActionKind = "set-max-attendees"
	ActionAssignHost          ActionKind = "assign-host"
	ActionUpdateCollaborators ActionKind = "update-collaborators"
)

const envelopeHostAction = "host-action"

// HostAction is one action carried on the host-controls topic.
type HostAction interface {
	Action() ActionKind
}

type MuteAll struct {
	Muted bool
}

type MuteAttendee struct {
	AttendeeID domain.AttendeeID
	Muted      bool
}

type VideoAttendee struct {
	AttendeeID domain.AttendeeID
	Enabled    bool
}

type RemoveAttendee struct {
	AttendeeID domain.AttendeeID
}

type PinAttendee struct {
	AttendeeID domain.AttendeeID
}

type SetMaxAttendees struct {
	Max int
}

type UpdateCollaborators struct {
	Collaborators []domain.AttendeeID
}

func (MuteAll) Action() ActionKind             { return ActionMuteAll }
func (MuteAttendee) Action() ActionKind        { return ActionMuteAttendee }
func (VideoAttendee) Action() ActionKind       { return ActionVideoAttendee }
func (RemoveAttendee) Action() ActionKind      { return ActionRemoveAttendee }
func (PinAttendee) Action() ActionKind         { return ActionPinAttendee }
func (SetMaxAttendees) Action() ActionKind     { return ActionSetMaxAttendees }
func (AssignHost) Action() ActionKind          { return ActionAssignHost }
func (UpdateCollaborators) Action() ActionKind { return ActionUpdateCollaborators }

// Target returns the attendee a targeted action is addressed to.
func Target(a HostAction) (domain.AttendeeID, bool) {
	switch m := a.(type) {
	case MuteAttendee:
		return m.AttendeeID, true
	case VideoAttendee:
		return m.AttendeeID, true
	case RemoveAttendee:
		return m.AttendeeID, true
	case PinAttendee:
		return m.AttendeeID, true
	case AssignHost:
		return m.AttendeeID, true
	}
	return "", false
}

// HostEnvelope is a decoded host-controls message.
type HostEnvelope struct {
	Action    HostAction
	HostID    domain.AttendeeID
	Timestamp time.Time
}

type envelopeWire struct {
	Type       string            `json:"type"`
	Action     ActionKind        `json:"action,omitempty"`
	Data       json.RawMessage   `json:"data,omitempty"`
	HostID     domain.AttendeeID `json:"hostId,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	AttendeeID domain.AttendeeID `json:"attendeeId,omitempty"`
}

type attendeeFlagWire struct {
	AttendeeID domain.AttendeeID `json:"attendeeId"`
	Muted      *bool             `json:"muted,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
}

func EncodeHostAction(hostID domain.AttendeeID, action HostAction, at time.Time) ([]byte, error) {
	var data interface{}
	switch a := action.(type) {
	case MuteAll:
		data = a.Muted
	case MuteAttendee:
		data = attendeeFlagWire{AttendeeID: a.AttendeeID, Muted: &a.Muted}
	case VideoAttendee:
		data = attendeeFlagWire{AttendeeID: a.AttendeeID, Enabled: &a.Enabled}
	case RemoveAttendee:
		data = a.AttendeeID
	case PinAttendee:
		data = a.AttendeeID
	case SetMaxAttendees:
		data = a.Max
	case AssignHost:
		data = attendeeFlagWire{AttendeeID: a.AttendeeID}
	case UpdateCollaborators:
		ids := a.Collaborators
		if ids == nil {
			ids = []domain.AttendeeID{}
		}
		data = ids
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownVariant, action)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{
		Type:      envelopeHostAction,
		Action:    action.Action(),
		Data:      raw,
		HostID:    hostID,
		Timestamp: utils.UnixMillis(at),
	})
}

// EncodeAssignHost builds the distinguished {type:"assign-host"} message.
func EncodeAssignHost(id domain.AttendeeID) ([]byte, error) {
	return json.Marshal(envelopeWire{Type: string(StateAssignHost), AttendeeID: id})
}

// DecodeHostControl parses a host-controls payload: either a host-action
// envelope or a distinguished assign-host message.
func DecodeHostControl(payload []byte) (HostEnvelope, error) {
	var w envelopeWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return HostEnvelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch w.Type {
	case string(StateAssignHost):
		if w.AttendeeID == "" {
			return HostEnvelope{}, fmt.Errorf("%w: assign-host without attendeeId", ErrMalformed)
		}
		return HostEnvelope{Action: AssignHost{AttendeeID: w.AttendeeID}, HostID: w.HostID}, nil
	case envelopeHostAction:
	case "":
		return HostEnvelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return HostEnvelope{}, fmt.Errorf("%w: host-controls type %q", ErrUnknownVariant, w.Type)
	}

	if w.Action == "" {
		return HostEnvelope{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	action, err := decodeAction(w.Action, w.Data)
	if err != nil {
		return HostEnvelope{}, err
	}
	return HostEnvelope{
		Action:    action,
		HostID:    w.HostID,
		Timestamp: utils.FromUnixMillis(w.Timestamp),
	}, nil
}

func decodeAction(kind ActionKind, data json.RawMessage) (HostAction, error) {
	malformed := func(err error) error {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, kind, err)
	}

	switch kind {
	case ActionMuteAll:
		var muted bool
		if err := json.Unmarshal(data, &muted); err != nil {
			return nil, malformed(err)
		}
		return MuteAll{Muted: muted}, nil

	case ActionMuteAttendee, ActionVideoAttendee, ActionAssignHost:
		var f attendeeFlagWire
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, malformed(err)
		}
		if f.AttendeeID == "" {
			return nil, malformed(fmt.Errorf("missing attendeeId"))
		}
		switch kind {
		case ActionMuteAttendee:
			return MuteAttendee{AttendeeID: f.AttendeeID, Muted: deref(f.Muted)}, nil
		case ActionVideoAttendee:
			return VideoAttendee{AttendeeID: f.AttendeeID, Enabled: deref(f.Enabled)}, nil
		default:
			return AssignHost{AttendeeID: f.AttendeeID}, nil
		}

	case ActionRemoveAttendee, ActionPinAttendee:
		var id domain.AttendeeID
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, malformed(err)
		}
		if id == "" {
			return nil, malformed(fmt.Errorf("empty attendee id"))
		}
		if kind == ActionRemoveAttendee {
			return RemoveAttendee{AttendeeID: id}, nil
		}
		return PinAttendee{AttendeeID: id}, nil

	case ActionSetMaxAttendees:
		var max int
		if err := json.Unmarshal(data, &max); err != nil {
			return nil, malformed(err)
		}
		if max < 1 {
			return nil, malformed(fmt.Errorf("max attendees %d", max))
		}
		return SetMaxAttendees{Max: max}, nil

	case ActionUpdateCollaborators:
		var raw []string
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, malformed(err)
		}
		if raw == nil {
			return nil, malformed(fmt.Errorf("collaborators must be an array"))
		}
		ids := validation.NormalizeIDList(raw)
		if len(ids) > domain.MaxCollaborators {
			return nil, malformed(fmt.Errorf("%d collaborators exceeds cap of %d", len(ids), domain.MaxCollaborators))
		}
		collaborators := make([]domain.AttendeeID, len(ids))
		for i, id := range ids {
			collaborators[i] = domain.AttendeeID(id)
		}
		return UpdateCollaborators{Collaborators: collaborators}, nil

	default:
		return nil, fmt.Errorf("%w: action %q", ErrUnknownVariant, kind)
	}
}

package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Meeting mirrors the media provider meeting object handed to peers.
type Meeting struct {
	MeetingID         MeetingID `json:"MeetingId"`
	ExternalMeetingID string    `json:"ExternalMeetingId,omitempty"`
	MediaRegion       string    `json:"MediaRegion,omitempty"`
	Room              string    `json:"-"`
	CreatedAt         time.Time `json:"-"`
}

// AttendeeCredentials is what the registry issues on join. JoinToken is the
// relay admission ticket.
type AttendeeCredentials struct {
	AttendeeID     AttendeeID `json:"AttendeeId"`
	ExternalUserID string     `json:"ExternalUserId"`
	JoinToken      string     `json:"JoinToken"`
}

type MeetingSettings struct {
	MaxAttendees     int    `json:"maxAttendees"`
	CurrentAttendees int    `json:"currentAttendees"`
	IsGroupCall      bool   `json:"isGroupCall"`
	Room             string `json:"room"`
}

// Admit counts one more attendee. It fails when the meeting is full.
func (s *MeetingSettings) Admit() error {
	if s.CurrentAttendees >= s.MaxAttendees {
		return ErrMeetingFull
	}
	s.CurrentAttendees++
	if s.CurrentAttendees >= 2 {
		s.IsGroupCall = true
	}
	return nil
}

type MeetingDetails struct {
	Title            string     `json:"title,omitempty"`
	Topic            string     `json:"topic,omitempty"`
	DiscussionPoints string     `json:"discussionPoints,omitempty"`
	HostAttendeeID   AttendeeID `json:"hostAttendeeId,omitempty"`
}

type Profile struct {
	AttendeeID    AttendeeID `json:"attendeeId,omitempty"`
	Name          string     `json:"name"`
	AvatarInitial string     `json:"avatarInitial,omitempty"`
	AvatarColor   string     `json:"avatarColor,omitempty"`
}

// JoinInfo is the blob carried in the meetingInfo URL parameter.
type JoinInfo struct {
	Meeting        Meeting             `json:"Meeting"`
	Attendee       AttendeeCredentials `json:"Attendee"`
	IsHost         bool                `json:"isHost"`
	MaxAttendees   int                 `json:"maxAttendees"`
	IsGroupCall    bool                `json:"isGroupCall"`
	Room           string              `json:"room,omitempty"`
	HostAttendeeID AttendeeID          `json:"hostAttendeeId,omitempty"`
	Collaborators  []AttendeeID        `json:"collaborators"`
	MeetingDetails *MeetingDetails     `json:"meetingDetails,omitempty"`
}

func EncodeJoinInfo(info JoinInfo) (string, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode join info: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeJoinInfo(encoded string) (JoinInfo, error) {
	var info JoinInfo
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return info, fmt.Errorf("%w: join info is not base64: %v", ErrInvalidJoinInfo, err)
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("%w: %v", ErrInvalidJoinInfo, err)
	}
	if info.Meeting.MeetingID == "" || info.Attendee.AttendeeID == "" {
		return info, fmt.Errorf("%w: meeting and attendee ids are required", ErrInvalidJoinInfo)
	}
	return info, nil
}

// MeetingRecord is what the registry stores per meeting.
type MeetingRecord struct {
	Meeting  Meeting         `json:"meeting"`
	Settings MeetingSettings `json:"settings"`
}

// JoinResult is handed back when the registry admits an attendee.
type JoinResult struct {
	Record  MeetingRecord
	Info    JoinInfo
	Encoded string
	JoinURL string
}

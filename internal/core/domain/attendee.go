package domain

import "meetsync/pkg/utils"

type AttendeeID string
type MeetingID string

// Quality is the connection quality level replicated through state messages.
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityBad  Quality = "bad"
)

func (q Quality) Valid() bool {
	switch q {
	case QualityGood, QualityFair, QualityBad:
		return true
	}
	return false
}

// Attendee is one peer's replicated view of a participant. Host and
// collaborator flags are derived from HostAuthority and never stored here.
type Attendee struct {
	ID          AttendeeID
	ExternalID  string
	DisplayName string
	AudioMuted  bool
	VideoOn     bool
	Quality     Quality
	Pinned      bool
}

func NewAttendee(id AttendeeID, externalID string) *Attendee {
	return &Attendee{
		ID:          id,
		ExternalID:  externalID,
		DisplayName: utils.ShortID(string(id)),
		Quality:     QualityGood,
	}
}

// ConnectionHealth is one sample from the media engine.
type ConnectionHealth struct {
	DownlinkKbps      int
	UplinkKbps        int
	ConsecutiveLosses int
}

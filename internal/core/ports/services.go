package ports

import (
	"context"
	"errors"
	"time"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
)

// ErrTransportUnavailable is returned when the media engine or data channel
// is not connected. Callers log it and carry on.
var ErrTransportUnavailable = errors.New("transport unavailable")

type CreateMeetingRequest struct {
	Room              string
	MediaRegion       string
	ExternalMeetingID string
	MaxAttendees      int
}

// RegistryService is the server side meeting registry.
type RegistryService interface {
	CreateMeeting(ctx context.Context, req CreateMeetingRequest) (*domain.MeetingRecord, error)
	StartMeeting(ctx context.Context, room string, maxAttendees int) (*domain.JoinResult, error)
	AddAttendee(ctx context.Context, id domain.MeetingID, externalUserID string) (*domain.MeetingRecord, domain.AttendeeCredentials, error)
	Join(ctx context.Context, identifier string) (*domain.JoinResult, error)
	Status(ctx context.Context, identifier string) (*domain.MeetingRecord, error)
	ListMeetings(ctx context.Context) ([]*domain.MeetingRecord, error)

	GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error)
	AssignHost(ctx context.Context, id domain.MeetingID, currentHost, newHost domain.AttendeeID) error
	GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error)
	SetCollaborators(ctx context.Context, id domain.MeetingID, currentHost domain.AttendeeID, ids []string) ([]domain.AttendeeID, error)

	GetDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error)
	SaveDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error
	GetProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error)
	SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error

	HealthCheck(ctx context.Context) error
}

// RegistryClient is the peer side view of the registry HTTP contract.
type RegistryClient interface {
	GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error)
	AssignHost(ctx context.Context, id domain.MeetingID, currentHost, newHost domain.AttendeeID) error
	GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error)
	SetCollaborators(ctx context.Context, id domain.MeetingID, currentHost domain.AttendeeID, ids []domain.AttendeeID) ([]domain.AttendeeID, error)
	GetMeetingDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error)
	SaveMeetingDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error
	GetProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error)
	SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error
}

// DataChannel sends best-effort topic messages to every other peer.
type DataChannel interface {
	Send(ctx context.Context, topic protocol.Topic, payload []byte, ttl time.Duration) error
}

// DataSink receives what the data channel delivers.
type DataSink interface {
	OnPresence(id domain.AttendeeID, present bool, externalID string)
	OnDataMessage(topic protocol.Topic, sender domain.AttendeeID, payload []byte)
}

// MediaEngine is the real-time media stack a session drives.
type MediaEngine interface {
	Start(ctx context.Context) error
	Stop() error
	SetLocalAudioMuted(muted bool) error
	SetLocalVideoEnabled(enabled bool) error
	ChooseAudioInput(ctx context.Context, deviceID string) error
	ChooseVideoInput(ctx context.Context, deviceID string) error
	BindTile(placement domain.Placement) error
	UnbindTile(tile domain.TileID) error
}

// MediaEventSink receives tile and connection-health events from the engine.
type MediaEventSink interface {
	OnTileUpdate(state domain.TileState)
	OnTileRemoved(tile domain.TileID)
	OnConnectionHealth(health domain.ConnectionHealth)
}

// SessionObserver is the UI side of a MeetingSession.
type SessionObserver interface {
	Notify(n domain.Notification)
	Render(view domain.SessionView)
}

// RegistryMetrics is implemented by the prometheus collector.
type RegistryMetrics interface {
	RecordMeetingCreated()
	RecordAttendeeAdmitted(meetingID domain.MeetingID, current int)
	RecordAdmissionRejected(reason string)
	RecordHostChange(outcome string)
	RecordCollaboratorUpdate(outcome string)
}

// RelayMetrics is implemented by the prometheus collector.
type RelayMetrics interface {
	RecordConnection(delta int)
	RecordFrame(kind, topic string)
	RecordDroppedFrame(reason string)
}

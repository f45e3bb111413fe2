package ports

import (
	"context"

	"meetsync/internal/core/domain"
)

type MeetingRepository interface {
	// Create stores rec unless a meeting already exists for its room, in
	// which case the existing record is returned with created=false.
	Create(ctx context.Context, rec *domain.MeetingRecord) (stored *domain.MeetingRecord, created bool, err error)
	GetByID(ctx context.Context, id domain.MeetingID) (*domain.MeetingRecord, error)
	GetByRoom(ctx context.Context, room string) (*domain.MeetingRecord, error)
	List(ctx context.Context) ([]*domain.MeetingRecord, error)
	// Admit atomically counts one more attendee or fails with
	// domain.ErrMeetingFull.
	Admit(ctx context.Context, id domain.MeetingID) (*domain.MeetingRecord, error)
}

// AuthorityRepository holds the host-of-record and the collaborator set.
// Mutations that depend on the current host are compare-and-swap.
type AuthorityRepository interface {
	GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error)
	SetHost(ctx context.Context, id domain.MeetingID, host domain.AttendeeID) error
	// SwapHost replaces expected with next or fails with domain.ErrNotHost.
	SwapHost(ctx context.Context, id domain.MeetingID, expected, next domain.AttendeeID) error
	GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error)
	// ReplaceCollaborators stores ids when requester is the current host.
	ReplaceCollaborators(ctx context.Context, id domain.MeetingID, requester domain.AttendeeID, ids []domain.AttendeeID) error
}

type MetadataRepository interface {
	GetDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error)
	SaveDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error
	SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error
	ListProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error)
}

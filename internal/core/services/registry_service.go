package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	apperrors "meetsync/pkg/errors"
	"meetsync/pkg/utils"
	"meetsync/pkg/validation"
)

const maxExternalIDLength = 64

type RegistryConfig struct {
	PublicURL           string
	JoinPage            string
	MediaRegion         string
	DefaultMaxAttendees int
}

type registryService struct {
	meetings  ports.MeetingRepository
	authority ports.AuthorityRepository
	metadata  ports.MetadataRepository
	tickets   *TicketService
	metrics   ports.RegistryMetrics
	cfg       RegistryConfig
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewRegistryService(
	meetings ports.MeetingRepository,
	authority ports.AuthorityRepository,
	metadata ports.MetadataRepository,
	tickets *TicketService,
	metrics ports.RegistryMetrics,
	cfg RegistryConfig,
	logger *zap.SugaredLogger,
) ports.RegistryService {
	if metrics == nil {
		metrics = noopRegistryMetrics{}
	}
	if cfg.DefaultMaxAttendees <= 0 {
		cfg.DefaultMaxAttendees = 10
	}
	return &registryService{
		meetings:  meetings,
		authority: authority,
		metadata:  metadata,
		tickets:   tickets,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *registryService) CreateMeeting(ctx context.Context, req ports.CreateMeetingRequest) (*domain.MeetingRecord, error) {
	if err := validation.ValidateRoom(req.Room); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}
	max := req.MaxAttendees
	if max == 0 {
		max = s.cfg.DefaultMaxAttendees
	}
	if err := validation.ValidateMaxAttendees(max); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	external := req.ExternalMeetingID
	if external == "" {
		external = req.Room
	}
	region := req.MediaRegion
	if region == "" {
		region = s.cfg.MediaRegion
	}

	rec := &domain.MeetingRecord{
		Meeting: domain.Meeting{
			MeetingID:         domain.MeetingID(utils.GenerateMeetingID()),
			ExternalMeetingID: utils.TruncateString(external, maxExternalIDLength),
			MediaRegion:       region,
			Room:              req.Room,
			CreatedAt:         s.now(),
		},
		Settings: domain.MeetingSettings{MaxAttendees: max, Room: req.Room},
	}

	stored, created, err := s.meetings.Create(ctx, rec)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to create meeting", http.StatusInternalServerError)
	}
	if created {
		s.metrics.RecordMeetingCreated()
		s.logger.Infow("meeting created",
			"meeting_id", stored.Meeting.MeetingID,
			"room", stored.Meeting.Room,
			"max_attendees", stored.Settings.MaxAttendees,
		)
	}
	return stored, nil
}

// StartMeeting gets or creates the room's meeting, admits a new attendee and
// records that attendee as host-of-record.
func (s *registryService) StartMeeting(ctx context.Context, room string, maxAttendees int) (*domain.JoinResult, error) {
	rec, err := s.CreateMeeting(ctx, ports.CreateMeetingRequest{Room: room, MaxAttendees: maxAttendees})
	if err != nil {
		return nil, err
	}

	rec, creds, err := s.admit(ctx, rec.Meeting.MeetingID, "")
	if err != nil {
		return nil, err
	}
	if err := s.authority.SetHost(ctx, rec.Meeting.MeetingID, creds.AttendeeID); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to record host", http.StatusInternalServerError)
	}
	s.logger.Infow("host recorded",
		"meeting_id", rec.Meeting.MeetingID,
		"attendee_id", creds.AttendeeID,
	)

	return s.joinResult(ctx, rec, creds, creds.AttendeeID)
}

func (s *registryService) AddAttendee(ctx context.Context, id domain.MeetingID, externalUserID string) (*domain.MeetingRecord, domain.AttendeeCredentials, error) {
	if err := validation.ValidateMeetingID(string(id)); err != nil {
		return nil, domain.AttendeeCredentials{}, apperrors.NewInvalidInputError(err.Error())
	}
	return s.admit(ctx, id, externalUserID)
}

// Join admits a new attendee to the meeting named by a room or meeting id.
func (s *registryService) Join(ctx context.Context, identifier string) (*domain.JoinResult, error) {
	rec, err := s.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	rec, creds, err := s.admit(ctx, rec.Meeting.MeetingID, "")
	if err != nil {
		return nil, err
	}

	host, err := s.authority.GetHost(ctx, rec.Meeting.MeetingID)
	if err != nil && !errors.Is(err, domain.ErrHostNotFound) {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to read host", http.StatusInternalServerError)
	}
	if rec.Settings.IsGroupCall {
		s.logger.Infow("meeting is now a group call",
			"meeting_id", rec.Meeting.MeetingID,
			"current_attendees", rec.Settings.CurrentAttendees,
		)
	}
	return s.joinResult(ctx, rec, creds, host)
}

func (s *registryService) Status(ctx context.Context, identifier string) (*domain.MeetingRecord, error) {
	return s.resolve(ctx, identifier)
}

func (s *registryService) ListMeetings(ctx context.Context) ([]*domain.MeetingRecord, error) {
	recs, err := s.meetings.List(ctx)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to list meetings", http.StatusInternalServerError)
	}
	return recs, nil
}

func (s *registryService) GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error) {
	host, err := s.authority.GetHost(ctx, id)
	if err != nil {
		return "", mapRepoError(err, "host")
	}
	return host, nil
}

// AssignHost moves host-of-record from currentHost to newHost. The swap is
// atomic in the repository so a stale currentHost is refused.
func (s *registryService) AssignHost(ctx context.Context, id domain.MeetingID, currentHost, newHost domain.AttendeeID) error {
	if currentHost == "" || newHost == "" {
		return apperrors.NewInvalidInputError("currentHostId and newHostId are required")
	}

	if err := s.authority.SwapHost(ctx, id, currentHost, newHost); err != nil {
		s.metrics.RecordHostChange("rejected")
		if errors.Is(err, domain.ErrNotHost) || errors.Is(err, domain.ErrHostNotFound) {
			s.logger.Warnw("host assignment refused",
				"meeting_id", id,
				"current_host_id", currentHost,
				"new_host_id", newHost,
			)
			return apperrors.WrapError(err, apperrors.ErrCodeForbidden, "Unauthorized: Not the current host", http.StatusForbidden)
		}
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to assign host", http.StatusInternalServerError)
	}

	s.metrics.RecordHostChange("assigned")
	s.logger.Infow("host updated",
		"meeting_id", id,
		"previous_host_id", currentHost,
		"new_host_id", newHost,
	)
	return nil
}

func (s *registryService) GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error) {
	ids, err := s.authority.GetCollaborators(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "collaborators")
	}
	if ids == nil {
		ids = []domain.AttendeeID{}
	}
	return ids, nil
}

// SetCollaborators checks the caller is host before looking at the list, so
// a non-host always gets 403 even for an oversized list.
func (s *registryService) SetCollaborators(ctx context.Context, id domain.MeetingID, currentHost domain.AttendeeID, raw []string) ([]domain.AttendeeID, error) {
	host, err := s.authority.GetHost(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrHostNotFound) {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to read host", http.StatusInternalServerError)
	}
	if host == "" || host != currentHost {
		s.metrics.RecordCollaboratorUpdate("forbidden")
		return nil, apperrors.NewForbiddenError("Unauthorized: Not the current host")
	}

	if validation.CountNonEmpty(raw) > domain.MaxCollaborators {
		s.metrics.RecordCollaboratorUpdate("over_capacity")
		return nil, apperrors.NewInvalidInputError(
			fmt.Sprintf("Maximum of %d collaborators allowed", domain.MaxCollaborators)).
			WithContext("max", domain.MaxCollaborators)
	}

	normalized := validation.NormalizeIDList(raw)
	if len(normalized) > domain.MaxCollaborators {
		normalized = normalized[:domain.MaxCollaborators]
	}
	ids := make([]domain.AttendeeID, len(normalized))
	for i, v := range normalized {
		ids[i] = domain.AttendeeID(v)
	}

	if err := s.authority.ReplaceCollaborators(ctx, id, currentHost, ids); err != nil {
		if errors.Is(err, domain.ErrNotHost) {
			s.metrics.RecordCollaboratorUpdate("forbidden")
			return nil, apperrors.WrapError(err, apperrors.ErrCodeForbidden, "Unauthorized: Not the current host", http.StatusForbidden)
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to store collaborators", http.StatusInternalServerError)
	}

	s.metrics.RecordCollaboratorUpdate("updated")
	s.logger.Infow("collaborators updated",
		"meeting_id", id,
		"host_id", currentHost,
		"collaborators", ids,
	)
	return ids, nil
}

func (s *registryService) GetDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error) {
	details, err := s.metadata.GetDetails(ctx, id)
	if err != nil {
		return domain.MeetingDetails{}, mapRepoError(err, "meeting details")
	}
	return details, nil
}

func (s *registryService) SaveDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error {
	total := len(details.Title) + len(details.Topic) + len(details.DiscussionPoints)
	if total > validation.MaxDetailsLength {
		return apperrors.NewInvalidInputError(
			fmt.Sprintf("meeting details exceed %d bytes", validation.MaxDetailsLength))
	}
	if err := s.metadata.SaveDetails(ctx, id, details); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to save meeting details", http.StatusInternalServerError)
	}
	s.logger.Infow("meeting details updated", "meeting_id", id, "title", details.Title)
	return nil
}

func (s *registryService) GetProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error) {
	profiles, err := s.metadata.ListProfiles(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "profiles")
	}
	if profiles == nil {
		profiles = map[domain.AttendeeID]domain.Profile{}
	}
	return profiles, nil
}

func (s *registryService) SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error {
	if id == "" || profile.AttendeeID == "" {
		return apperrors.NewInvalidInputError("missing meetingId/attendeeId")
	}
	if err := validation.ValidateAttendeeID(string(profile.AttendeeID)); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	profile.Name = utils.SanitizeString(profile.Name)
	if profile.Name != "" {
		if err := validation.ValidateDisplayName(profile.Name); err != nil {
			return apperrors.NewInvalidInputError(err.Error())
		}
		if profile.AvatarInitial == "" {
			profile.AvatarInitial = utils.FirstInitial(profile.Name)
		}
	}
	if err := s.metadata.SaveProfile(ctx, id, profile); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to save profile", http.StatusInternalServerError)
	}
	return nil
}

func (s *registryService) HealthCheck(ctx context.Context) error {
	_, err := s.meetings.List(ctx)
	return err
}

func (s *registryService) resolve(ctx context.Context, identifier string) (*domain.MeetingRecord, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.NewInvalidInputError("meeting identifier is required")
	}

	rec, err := s.meetings.GetByRoom(ctx, identifier)
	if errors.Is(err, domain.ErrMeetingNotFound) {
		rec, err = s.meetings.GetByID(ctx, domain.MeetingID(identifier))
	}
	if err != nil {
		return nil, mapRepoError(err, "Meeting")
	}
	return rec, nil
}

func (s *registryService) admit(ctx context.Context, id domain.MeetingID, externalUserID string) (*domain.MeetingRecord, domain.AttendeeCredentials, error) {
	var creds domain.AttendeeCredentials

	rec, err := s.meetings.Admit(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMeetingFull):
			s.metrics.RecordAdmissionRejected("full")
			return nil, creds, apperrors.WrapError(err, apperrors.ErrCodeCapacityExceeded, "Meeting is full", http.StatusForbidden)
		case errors.Is(err, domain.ErrMeetingNotFound):
			s.metrics.RecordAdmissionRejected("not_found")
			return nil, creds, apperrors.WrapError(err, apperrors.ErrCodeNotFound, "Meeting not found", http.StatusNotFound)
		default:
			return nil, creds, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to admit attendee", http.StatusInternalServerError)
		}
	}

	if externalUserID == "" {
		externalUserID = utils.GenerateExternalUserID("user")
	}
	creds.AttendeeID = domain.AttendeeID(utils.GenerateAttendeeID())
	creds.ExternalUserID = utils.TruncateString(externalUserID, maxExternalIDLength)
	creds.JoinToken, err = s.tickets.Issue(id, creds.AttendeeID, creds.ExternalUserID)
	if err != nil {
		return nil, creds, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to issue join token", http.StatusInternalServerError)
	}

	s.metrics.RecordAttendeeAdmitted(id, rec.Settings.CurrentAttendees)
	s.logger.Infow("attendee admitted",
		"meeting_id", id,
		"attendee_id", creds.AttendeeID,
		"current_attendees", rec.Settings.CurrentAttendees,
		"max_attendees", rec.Settings.MaxAttendees,
	)
	return rec, creds, nil
}

func (s *registryService) joinResult(ctx context.Context, rec *domain.MeetingRecord, creds domain.AttendeeCredentials, host domain.AttendeeID) (*domain.JoinResult, error) {
	collaborators, err := s.GetCollaborators(ctx, rec.Meeting.MeetingID)
	if err != nil {
		return nil, err
	}

	info := domain.JoinInfo{
		Meeting:        rec.Meeting,
		Attendee:       creds,
		IsHost:         host != "" && host == creds.AttendeeID,
		MaxAttendees:   rec.Settings.MaxAttendees,
		IsGroupCall:    rec.Settings.IsGroupCall,
		Room:           rec.Meeting.Room,
		HostAttendeeID: host,
		Collaborators:  collaborators,
	}
	if details, err := s.metadata.GetDetails(ctx, rec.Meeting.MeetingID); err == nil && details != (domain.MeetingDetails{}) {
		info.MeetingDetails = &details
	}

	encoded, err := domain.EncodeJoinInfo(info)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to encode join info", http.StatusInternalServerError)
	}

	return &domain.JoinResult{
		Record:  *rec,
		Info:    info,
		Encoded: encoded,
		JoinURL: s.joinURL(encoded),
	}, nil
}

func (s *registryService) joinURL(encoded string) string {
	base := strings.TrimRight(s.cfg.PublicURL, "/") + s.cfg.JoinPage
	return base + "?meetingInfo=" + url.QueryEscape(encoded)
}

func mapRepoError(err error, resource string) error {
	switch {
	case errors.Is(err, domain.ErrMeetingNotFound), errors.Is(err, domain.ErrHostNotFound):
		return apperrors.WrapError(err, apperrors.ErrCodeNotFound, resource+" not found", http.StatusNotFound)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to read "+resource, http.StatusInternalServerError)
	}
}

type noopRegistryMetrics struct{}

func (noopRegistryMetrics) RecordMeetingCreated()                        {}
func (noopRegistryMetrics) RecordAttendeeAdmitted(domain.MeetingID, int) {}
func (noopRegistryMetrics) RecordAdmissionRejected(string)               {}
func (noopRegistryMetrics) RecordHostChange(string)                      {}
func (noopRegistryMetrics) RecordCollaboratorUpdate(string)              {}

package session

import (
	"context"
	"errors"
	"fmt"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
	"meetsync/pkg/validation"
)

func (s *MeetingSession) handleAssignHost(ctx context.Context, e assignHostEvent) {
	if err := s.authority.Authorize(s.self, protocol.ActionAssignHost); err != nil {
		s.deny(protocol.ActionAssignHost, err)
		return
	}
	if e.target == "" || e.target == s.authority.Host() {
		return
	}
	if s.registry == nil {
		s.transportUnavailable("assign host")
		return
	}

	current := s.authority.Host()
	s.remote(ctx, func(ctx context.Context) {
		err := s.registry.AssignHost(ctx, s.meetingID, current, e.target)
		s.post(assignHostResultEvent{target: e.target, err: err})
	})
}

// handleAssignHostResult runs once the registry has answered. The registry
// compared-and-swapped the host record, so a success is adopted as is.
func (s *MeetingSession) handleAssignHostResult(ctx context.Context, e assignHostResultEvent) {
	if e.err != nil {
		s.logger.Warnw("host reassignment rejected", "target", e.target, "error", e.err)
		if errors.Is(e.err, domain.ErrNotHost) {
			s.notify(domain.NotifyAuthorizationDenied, "Unauthorized: you are no longer the host")
			return
		}
		s.notify(domain.NotifyInfo, "Could not assign host: "+e.err.Error())
		return
	}

	s.adoptHost(e.target, true)
	payload, err := protocol.EncodeAssignHost(e.target)
	if err != nil {
		s.logger.Errorw("failed to encode assign-host", "error", err)
		return
	}
	s.broadcast(ctx, protocol.TopicHostControls, payload)
}

func (s *MeetingSession) handleUpdateCollaborators(ctx context.Context, e updateCollaboratorsEvent) {
	if err := s.authority.Authorize(s.self, protocol.ActionUpdateCollaborators); err != nil {
		s.deny(protocol.ActionUpdateCollaborators, err)
		return
	}

	raw := validation.ParseIDList(e.raw)
	if len(raw) > domain.MaxCollaborators {
		s.notify(domain.NotifyCapacityExceeded,
			fmt.Sprintf("Maximum of %d collaborators allowed", domain.MaxCollaborators))
		return
	}
	if s.registry == nil {
		s.transportUnavailable("update collaborators")
		return
	}

	requested := make([]domain.AttendeeID, len(raw))
	for i, id := range raw {
		requested[i] = domain.AttendeeID(id)
	}
	host := s.authority.Host()
	s.remote(ctx, func(ctx context.Context) {
		final, err := s.registry.SetCollaborators(ctx, s.meetingID, host, requested)
		s.post(collaboratorsResultEvent{requested: requested, final: final, err: err})
	})
}

func (s *MeetingSession) handleCollaboratorsResult(ctx context.Context, e collaboratorsResultEvent) {
	switch {
	case errors.Is(e.err, domain.ErrNotHost):
		s.notify(domain.NotifyAuthorizationDenied, "Unauthorized: you are no longer the host")
		return
	case errors.Is(e.err, domain.ErrTooManyCollabs):
		s.notify(domain.NotifyCapacityExceeded,
			fmt.Sprintf("Maximum of %d collaborators allowed", domain.MaxCollaborators))
		return
	case e.err != nil:
		s.logger.Warnw("collaborator update failed", "error", e.err)
		s.notify(domain.NotifyInfo, "Could not update collaborators: "+e.err.Error())
		return
	}

	// The host may have changed while the call was in flight.
	if !s.authority.IsHost() {
		s.logger.Infow("dropping collaborator result after losing host", "requested", len(e.requested))
		return
	}
	if err := s.authority.ReplaceCollaborators(e.final); err != nil {
		s.logger.Warnw("registry returned oversized collaborator set", "count", len(e.final))
		return
	}

	payload, err := protocol.EncodeHostAction(s.self, protocol.UpdateCollaborators{Collaborators: e.final}, s.now())
	if err != nil {
		s.logger.Errorw("failed to encode collaborator update", "error", err)
		return
	}
	s.broadcast(ctx, protocol.TopicHostControls, payload)
	s.logger.Infow("collaborators updated", "collaborators", e.final)
}

// pollHost resyncs the host from the registry. Only non-hosts in a group
// call poll.
func (s *MeetingSession) pollHost(ctx context.Context) {
	if s.authority.IsHost() || !s.isGroupCall() {
		return
	}
	s.fetchHost(ctx, false)
}

func (s *MeetingSession) fetchHost(ctx context.Context, initial bool) {
	if s.registry == nil {
		return
	}
	epoch := s.hostEpoch
	s.remote(ctx, func(ctx context.Context) {
		host, err := s.registry.GetHost(ctx, s.meetingID)
		s.post(hostFetchedEvent{epoch: epoch, host: host, err: err, initial: initial})
	})
}

func (s *MeetingSession) handleHostFetched(e hostFetchedEvent) {
	if e.epoch != s.hostEpoch {
		s.logger.Debugw("discarding stale host lookup", "host", e.host)
		return
	}
	if e.err != nil {
		if errors.Is(e.err, domain.ErrHostNotFound) {
			s.logger.Debugw("registry has no host on record")
			return
		}
		s.logger.Warnw("host lookup failed", "error", e.err)
		return
	}
	if e.host == "" {
		return
	}
	s.adoptHost(e.host, !e.initial)
}

func (s *MeetingSession) loadProfiles(ctx context.Context) {
	if s.registry == nil {
		return
	}
	s.remote(ctx, func(ctx context.Context) {
		profiles, err := s.registry.GetProfiles(ctx, s.meetingID)
		s.post(profilesLoadedEvent{profiles: profiles, err: err})
	})
}

func (s *MeetingSession) handleProfilesLoaded(e profilesLoadedEvent) {
	if e.err != nil {
		s.logger.Warnw("failed to load profiles", "error", e.err)
		return
	}
	s.roster.SeedNames(e.profiles)
}

// adoptHost makes id the host and re-homes tiles in the same turn. Any
// host lookup still in flight is invalidated.
func (s *MeetingSession) adoptHost(id domain.AttendeeID, announce bool) {
	s.hostEpoch++
	previous := s.authority.Host()
	if !s.authority.SetHost(id) {
		return
	}
	s.applyPlacements(s.tiles.SetHost(id))

	s.logger.Infow("host changed", "previous", previous, "host", id, "is_host", s.authority.IsHost())
	if !announce {
		return
	}
	if s.authority.IsHost() {
		s.notify(domain.NotifyHostChanged, "You are now the host")
		return
	}
	s.notify(domain.NotifyHostChanged, s.roster.Name(id)+" is now the host")
}

// publish snapshots the session for readers outside the loop.
func (s *MeetingSession) publish() {
	v := s.buildView()
	s.view.Store(&v)
	s.observer.Render(v)
}

func (s *MeetingSession) buildView() domain.SessionView {
	host := s.authority.Host()
	snapshot := s.roster.Snapshot()
	attendees := make([]domain.AttendeeView, 0, len(snapshot))
	for _, a := range snapshot {
		attendees = append(attendees, domain.AttendeeView{
			Attendee:       a,
			IsHost:         a.ID == host,
			IsCollaborator: s.authority.IsCollaborator(a.ID),
			IsSelf:         a.ID == s.self,
		})
	}

	return domain.SessionView{
		SelfID:                 s.self,
		HostID:                 host,
		IsHost:                 s.authority.IsHost(),
		Privileged:             s.authority.Authorize(s.self, protocol.ActionMuteAll) == nil,
		CanAssignHost:          s.authority.Authorize(s.self, protocol.ActionAssignHost) == nil,
		CanManageCollaborators: s.authority.Authorize(s.self, protocol.ActionUpdateCollaborators) == nil,
		Collaborators:          s.authority.Collaborators(),
		Attendees:              attendees,
		Placements:             s.tiles.Placements(),
		Details:                s.details,
		IsGroupCall:            s.isGroupCall(),
		MaxAttendees:           s.authority.MaxAttendees(),
		AudioMuted:             s.audioMuted,
		VideoOn:                s.videoOn,
		Ended:                  s.ended,
	}
}

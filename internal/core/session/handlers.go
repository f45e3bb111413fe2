package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	"meetsync/internal/core/protocol"
	"meetsync/pkg/validation"
)

func (s *MeetingSession) handlePresence(e presenceEvent) {
	if !e.present {
		if s.roster.Remove(e.attendee) {
			s.logger.Infow("attendee left", "peer_id", e.attendee)
		}
		s.applyPlacements(s.tiles.RemoveAttendee(e.attendee))
		return
	}
	if _, created := s.roster.Upsert(e.attendee, e.externalID); created {
		s.logger.Infow("attendee joined",
			"peer_id", e.attendee,
			"external_id", e.externalID,
			"present", s.roster.Len(),
		)
	}
}

func (s *MeetingSession) handleData(ctx context.Context, e dataEvent) {
	if e.sender == s.self {
		return
	}

	switch e.topic {
	case protocol.TopicState:
		msg, err := protocol.DecodeState(e.payload)
		if err != nil {
			s.dropMessage(e, err)
			return
		}
		s.applyState(msg)
	case protocol.TopicHostControls:
		env, err := protocol.DecodeHostControl(e.payload)
		if err != nil {
			s.dropMessage(e, err)
			return
		}
		// The relay stamps e.sender; the envelope's hostId is only a fallback.
		sender := e.sender
		if sender == "" {
			sender = env.HostID
		}
		s.applyHostAction(ctx, sender, env.Action)
	case protocol.TopicReaction:
		reaction, err := protocol.DecodeReaction(e.payload)
		if err != nil {
			s.dropMessage(e, err)
			return
		}
		s.notify(domain.NotifyReaction, fmt.Sprintf("%s: %s", s.roster.Name(e.sender), reaction))
	default:
		s.logger.Debugw("dropping message on unknown topic", "topic", e.topic, "sender", e.sender)
	}
}

func (s *MeetingSession) dropMessage(e dataEvent, err error) {
	s.logger.Debugw("dropping inbound message",
		"topic", e.topic,
		"sender", e.sender,
		"error", err,
	)
}

func (s *MeetingSession) applyState(msg protocol.StateMessage) {
	switch m := msg.(type) {
	case protocol.AssignHost:
		s.adoptHost(m.AttendeeID, true)
	case protocol.MeetingDetailsUpdate:
		s.details = m.Details
	default:
		if _, err := s.roster.Apply(msg); err != nil {
			s.logger.Debugw("state for absent attendee dropped",
				"kind", msg.StateKind(),
				"error", err,
			)
		}
	}
}

// applyHostAction applies an action sent by sender. Receivers trust the
// sender; the privilege check happens where the action is dispatched.
func (s *MeetingSession) applyHostAction(ctx context.Context, sender domain.AttendeeID, action protocol.HostAction) {
	switch a := action.(type) {
	case protocol.AssignHost:
		s.adoptHost(a.AttendeeID, true)
	case protocol.UpdateCollaborators:
		if err := s.authority.ReplaceCollaborators(a.Collaborators); err != nil {
			s.logger.Warnw("collaborator update refused", "count", len(a.Collaborators), "error", err)
		}
	case protocol.MuteAll:
		for _, id := range s.roster.IDs() {
			if id == sender || id == s.self {
				continue
			}
			s.roster.Apply(protocol.AudioState{AttendeeID: id, Muted: a.Muted})
		}
		if sender != s.self {
			s.setLocalAudio(ctx, a.Muted)
		}
	case protocol.MuteAttendee:
		if a.AttendeeID == s.self {
			s.setLocalAudio(ctx, a.Muted)
			return
		}
		s.roster.Apply(protocol.AudioState{AttendeeID: a.AttendeeID, Muted: a.Muted})
	case protocol.VideoAttendee:
		if a.AttendeeID == s.self {
			s.setLocalVideo(ctx, a.Enabled)
			return
		}
		s.roster.Apply(protocol.VideoState{AttendeeID: a.AttendeeID, Enabled: a.Enabled})
	case protocol.RemoveAttendee:
		if a.AttendeeID == s.self {
			s.beginRemoval()
		}
	case protocol.PinAttendee:
		s.roster.SetPinned(a.AttendeeID)
	case protocol.SetMaxAttendees:
		s.authority.SetMaxAttendees(a.Max)
	default:
		s.logger.Warnw("dropping unknown host action", "action", action)
	}
}

// dispatchHostAction is the single authorization point for host actions
// issued from this peer.
func (s *MeetingSession) dispatchHostAction(ctx context.Context, action protocol.HostAction) {
	switch a := action.(type) {
	case protocol.AssignHost:
		s.handleAssignHost(ctx, assignHostEvent{target: a.AttendeeID})
		return
	case protocol.UpdateCollaborators:
		s.logger.Warnw("collaborator updates go through the registry", "count", len(a.Collaborators))
		return
	}

	if err := s.authority.Authorize(s.self, action.Action()); err != nil {
		s.deny(action.Action(), err)
		return
	}
	if m, ok := action.(protocol.SetMaxAttendees); ok && m.Max < 1 {
		s.logger.Warnw("ignoring invalid attendee cap", "max", m.Max)
		return
	}

	payload, err := protocol.EncodeHostAction(s.self, action, s.now())
	if err != nil {
		s.logger.Errorw("failed to encode host action", "action", action.Action(), "error", err)
		return
	}
	s.broadcast(ctx, protocol.TopicHostControls, payload)
	s.applyHostAction(ctx, s.self, action)
}

func (s *MeetingSession) deny(action protocol.ActionKind, err error) {
	s.logger.Infow("host action refused", "action", action, "error", err)
	msg := "Only the host or a collaborator can do that"
	if errors.Is(err, domain.ErrNotHost) {
		msg = "Only the host can do that"
	}
	s.notify(domain.NotifyAuthorizationDenied, msg)
}

func (s *MeetingSession) beginRemoval() {
	if s.removing {
		return
	}
	s.removing = true
	s.notify(domain.NotifyRemoved, "You have been removed from the meeting by the host")
	s.after(s.cfg.RemovalGrace, func() { s.post(removalGraceEvent{}) })
}

// Local media state.

func (s *MeetingSession) handleSetAudio(ctx context.Context, e setAudioEvent) {
	s.setLocalAudio(ctx, e.muted)
}

func (s *MeetingSession) handleSetVideo(ctx context.Context, e setVideoEvent) {
	s.setLocalVideo(ctx, e.enabled)
}

func (s *MeetingSession) setLocalAudio(ctx context.Context, muted bool) {
	s.audioMuted = muted
	if s.media == nil {
		s.transportUnavailable("set audio")
	} else if err := s.media.SetLocalAudioMuted(muted); err != nil {
		s.logger.Warnw("media engine refused audio change", "muted", muted, "error", err)
	}
	msg := protocol.AudioState{AttendeeID: s.self, Muted: muted}
	s.roster.Apply(msg)
	s.broadcastState(ctx, msg)
}

func (s *MeetingSession) setLocalVideo(ctx context.Context, enabled bool) {
	s.videoOn = enabled
	if s.media == nil {
		s.transportUnavailable("set video")
	} else if err := s.media.SetLocalVideoEnabled(enabled); err != nil {
		s.logger.Warnw("media engine refused video change", "enabled", enabled, "error", err)
		s.notify(domain.NotifyDeviceError, "Could not change camera: "+err.Error())
	}
	msg := protocol.VideoState{AttendeeID: s.self, Enabled: enabled}
	s.roster.Apply(msg)
	s.broadcastState(ctx, msg)
}

func (s *MeetingSession) handleSetName(ctx context.Context, e setNameEvent) {
	name := strings.TrimSpace(e.name)
	if name != "" {
		if err := validation.ValidateDisplayName(name); err != nil {
			s.logger.Infow("rejecting display name", "error", err)
			s.notify(domain.NotifyInfo, err.Error())
			return
		}
	}

	msg := protocol.NameState{AttendeeID: s.self, Name: name}
	s.roster.Apply(msg)
	s.broadcastState(ctx, msg)

	if s.registry == nil || name == "" {
		return
	}
	profile := domain.Profile{AttendeeID: s.self, Name: name}
	s.remote(ctx, func(ctx context.Context) {
		if err := s.registry.SaveProfile(ctx, s.meetingID, profile); err != nil {
			s.logger.Warnw("failed to save profile", "error", err)
		}
	})
}

func (s *MeetingSession) handleHealth(ctx context.Context, e healthEvent) {
	level, send := s.quality.Observe(e.health, e.at)
	msg := protocol.QualityState{AttendeeID: s.self, Level: level}
	s.roster.Apply(msg)
	if send {
		s.broadcastState(ctx, msg)
	}
}

func (s *MeetingSession) handleSendReaction(ctx context.Context, e reactionEvent) {
	payload := protocol.EncodeReaction(e.reaction)
	reaction, err := protocol.DecodeReaction(payload)
	if err != nil {
		s.logger.Infow("rejecting reaction", "error", err)
		return
	}
	s.broadcast(ctx, protocol.TopicReaction, payload)
	s.notify(domain.NotifyReaction, fmt.Sprintf("%s: %s", s.roster.Name(s.self), reaction))
}

func (s *MeetingSession) handleUpdateDetails(ctx context.Context, e detailsEvent) {
	details := e.details
	details.HostAttendeeID = s.authority.Host()
	s.details = details
	s.broadcastState(ctx, protocol.MeetingDetailsUpdate{AttendeeID: s.self, Details: details})

	if s.registry == nil {
		return
	}
	s.remote(ctx, func(ctx context.Context) {
		if err := s.registry.SaveMeetingDetails(ctx, s.meetingID, details); err != nil {
			s.logger.Warnw("failed to save meeting details", "error", err)
		}
	})
}

func (s *MeetingSession) handleChooseDevice(ctx context.Context, e chooseDeviceEvent) {
	if s.media == nil {
		s.transportUnavailable("choose " + string(e.kind))
		return
	}
	choose := s.media.ChooseAudioInput
	if e.kind == deviceVideo {
		choose = s.media.ChooseVideoInput
	}
	s.remote(ctx, func(ctx context.Context) {
		err := choose(ctx, e.deviceID)
		s.post(deviceResultEvent{kind: e.kind, deviceID: e.deviceID, err: err})
	})
}

func (s *MeetingSession) handleDeviceResult(e deviceResultEvent) {
	if e.err != nil {
		s.logger.Warnw("device switch failed", "device", e.kind, "device_id", e.deviceID, "error", e.err)
		s.notify(domain.NotifyDeviceError, fmt.Sprintf("Could not switch %s: %v", e.kind, e.err))
		return
	}
	s.logger.Infow("device switched", "device", e.kind, "device_id", e.deviceID)
}

// Tiles.

func (s *MeetingSession) handleTileRemoved(e tileRemovedEvent) {
	attendee, remote, changes := s.tiles.Remove(e.tile)
	if remote && attendee != "" {
		// a vanished remote tile means that stream stopped
		s.roster.Apply(protocol.VideoState{AttendeeID: attendee, Enabled: false})
	}
	s.applyPlacements(changes)
}

func (s *MeetingSession) applyPlacements(changes []PlacementChange) {
	if len(changes) == 0 {
		return
	}
	if s.media == nil {
		s.transportUnavailable("bind tiles")
		return
	}
	for _, c := range changes {
		var err error
		if c.Unbind {
			err = s.media.UnbindTile(c.Placement.TileID)
		} else {
			err = s.media.BindTile(c.Placement)
		}
		if err != nil {
			s.logger.Warnw("tile binding failed",
				"tile_id", c.Placement.TileID,
				"slot", c.Placement.Slot,
				"unbind", c.Unbind,
				"error", err,
			)
		}
	}
}

// Outbound.

func (s *MeetingSession) broadcastState(ctx context.Context, msg protocol.StateMessage) {
	payload, err := protocol.EncodeState(msg)
	if err != nil {
		s.logger.Errorw("failed to encode state message", "kind", msg.StateKind(), "error", err)
		return
	}
	s.broadcast(ctx, protocol.TopicState, payload)
}

func (s *MeetingSession) broadcast(ctx context.Context, topic protocol.Topic, payload []byte) {
	if s.channel == nil {
		s.transportUnavailable("send " + string(topic))
		return
	}
	if err := s.channel.Send(ctx, topic, payload, s.ttlFor(topic)); err != nil {
		if errors.Is(err, ports.ErrTransportUnavailable) {
			s.transportUnavailable("send " + string(topic))
			return
		}
		s.logger.Warnw("broadcast failed", "topic", topic, "error", err)
	}
}

func (s *MeetingSession) ttlFor(topic protocol.Topic) (ttl time.Duration) {
	switch topic {
	case protocol.TopicReaction:
		ttl = s.cfg.ReactionTTL
	default:
		ttl = s.cfg.StateTTL
	}
	if ttl <= 0 {
		ttl = topic.TTL()
	}
	return ttl
}

func (s *MeetingSession) transportUnavailable(op string) {
	s.logger.Warnw("transport unavailable", "op", op)
}

// remote runs fn off the loop with the registry timeout applied.
func (s *MeetingSession) remote(ctx context.Context, fn func(ctx context.Context)) {
	s.goFn(func() {
		if s.cfg.RegistryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RegistryTimeout)
			defer cancel()
		}
		fn(ctx)
	})
}

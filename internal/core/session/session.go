// Package session runs one peer's copy of meeting state. A MeetingSession
// owns the roster, host authority, tile binder and quality monitor and
// mutates them only from its event loop.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	"meetsync/internal/core/protocol"
)

type Config struct {
	HostPollInterval time.Duration
	QualityInterval  time.Duration
	StateTTL         time.Duration
	ReactionTTL      time.Duration
	EventBuffer      int
	RemovalGrace     time.Duration
	RegistryTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		HostPollInterval: 15 * time.Second,
		QualityInterval:  2 * time.Second,
		StateTTL:         protocol.TopicState.TTL(),
		ReactionTTL:      protocol.TopicReaction.TTL(),
		EventBuffer:      256,
		RemovalGrace:     time.Second,
		RegistryTimeout:  5 * time.Second,
	}
}

type MeetingSession struct {
	cfg       Config
	meetingID domain.MeetingID
	self      domain.AttendeeID
	joinGroup bool

	channel  ports.DataChannel
	media    ports.MediaEngine
	registry ports.RegistryClient
	observer ports.SessionObserver
	logger   *zap.SugaredLogger

	roster    *Roster
	authority *HostAuthority
	tiles     *TileBinder
	quality   *QualityMonitor

	details    domain.MeetingDetails
	audioMuted bool
	videoOn    bool
	hostEpoch  uint64
	removing   bool
	ended      bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	view      atomic.Pointer[domain.SessionView]

	// goFn runs off-loop work; after schedules a delayed callback.
	goFn  func(func())
	after func(time.Duration, func())
	now   func() time.Time
}

func NewMeetingSession(
	info domain.JoinInfo,
	channel ports.DataChannel,
	media ports.MediaEngine,
	registry ports.RegistryClient,
	observer ports.SessionObserver,
	cfg Config,
	logger *zap.SugaredLogger,
) *MeetingSession {
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}

	self := info.Attendee.AttendeeID
	host := info.HostAttendeeID
	if host == "" && info.IsHost {
		host = self
	}
	s := &MeetingSession{
		cfg:       cfg,
		meetingID: info.Meeting.MeetingID,
		self:      self,
		joinGroup: info.IsGroupCall,
		channel:   channel,
		media:     media,
		registry:  registry,
		observer:  observer,
		logger: logger.With(
			"meeting_id", info.Meeting.MeetingID,
			"attendee_id", self,
		),
		roster:    NewRoster(),
		authority: NewHostAuthority(self, host, info.Collaborators, info.MaxAttendees),
		tiles:     NewTileBinder(host),
		quality:   NewQualityMonitor(cfg.QualityInterval),
		events:    make(chan Event, cfg.EventBuffer),
		done:      make(chan struct{}),
		goFn:      func(fn func()) { go fn() },
		after:     func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		now:       time.Now,
	}
	if info.MeetingDetails != nil {
		s.details = *info.MeetingDetails
	}
	if len(info.Collaborators) > domain.MaxCollaborators {
		s.logger.Warnw("ignoring oversized collaborator list from join info",
			"count", len(info.Collaborators),
		)
	}

	s.roster.Upsert(self, info.Attendee.ExternalUserID)
	s.publish()
	return s
}

// Run starts the media engine, fetches host and profiles from the registry
// and then handles events until ctx is done or the session ends.
func (s *MeetingSession) Run(ctx context.Context) error {
	defer s.close()

	s.start(ctx)

	ticker := time.NewTicker(s.cfg.HostPollInterval)
	defer ticker.Stop()

	for !s.ended {
		select {
		case <-ctx.Done():
			s.end("context cancelled")
			return ctx.Err()
		case ev := <-s.events:
			s.handle(ctx, ev)
		case <-ticker.C:
			s.handle(ctx, pollHostEvent{})
		}
	}
	return nil
}

func (s *MeetingSession) start(ctx context.Context) {
	if s.media != nil {
		if err := s.media.Start(ctx); err != nil {
			s.logger.Errorw("media engine failed to start", "error", err)
			s.notify(domain.NotifyDeviceError, "Could not start audio/video: "+err.Error())
		}
	}
	s.fetchHost(ctx, true)
	s.loadProfiles(ctx)
	s.publish()
}

// Done is closed once Run has returned.
func (s *MeetingSession) Done() <-chan struct{} {
	return s.done
}

// View returns the latest published snapshot. Safe from any goroutine.
func (s *MeetingSession) View() domain.SessionView {
	if v := s.view.Load(); v != nil {
		return *v
	}
	return domain.SessionView{}
}

func (s *MeetingSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// post queues ev for the loop. It gives up once the session is over.
func (s *MeetingSession) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Inbound adapters.

func (s *MeetingSession) OnPresence(id domain.AttendeeID, present bool, externalID string) {
	s.post(presenceEvent{attendee: id, present: present, externalID: externalID})
}

func (s *MeetingSession) OnDataMessage(topic protocol.Topic, sender domain.AttendeeID, payload []byte) {
	s.post(dataEvent{topic: topic, sender: sender, payload: payload})
}

func (s *MeetingSession) OnTileUpdate(state domain.TileState) {
	s.post(tileUpdateEvent{state: state})
}

func (s *MeetingSession) OnTileRemoved(tile domain.TileID) {
	s.post(tileRemovedEvent{tile: tile})
}

func (s *MeetingSession) OnConnectionHealth(health domain.ConnectionHealth) {
	s.post(healthEvent{health: health, at: s.now()})
}

// UI commands.

func (s *MeetingSession) SetAudioMuted(muted bool)     { s.post(setAudioEvent{muted: muted}) }
func (s *MeetingSession) SetVideoEnabled(enabled bool) { s.post(setVideoEvent{enabled: enabled}) }
func (s *MeetingSession) SetDisplayName(name string)   { s.post(setNameEvent{name: name}) }

func (s *MeetingSession) AssignHost(target domain.AttendeeID) {
	s.post(assignHostEvent{target: target})
}

// UpdateCollaborators takes the raw comma separated list typed by the host.
func (s *MeetingSession) UpdateCollaborators(raw string) {
	s.post(updateCollaboratorsEvent{raw: raw})
}

func (s *MeetingSession) MuteAll(muted bool) {
	s.post(hostActionEvent{action: protocol.MuteAll{Muted: muted}})
}

func (s *MeetingSession) MuteAttendee(id domain.AttendeeID, muted bool) {
	s.post(hostActionEvent{action: protocol.MuteAttendee{AttendeeID: id, Muted: muted}})
}

func (s *MeetingSession) SetAttendeeVideo(id domain.AttendeeID, enabled bool) {
	s.post(hostActionEvent{action: protocol.VideoAttendee{AttendeeID: id, Enabled: enabled}})
}

func (s *MeetingSession) RemoveAttendee(id domain.AttendeeID) {
	s.post(hostActionEvent{action: protocol.RemoveAttendee{AttendeeID: id}})
}

func (s *MeetingSession) PinAttendee(id domain.AttendeeID) {
	s.post(hostActionEvent{action: protocol.PinAttendee{AttendeeID: id}})
}

func (s *MeetingSession) SetMaxAttendees(n int) {
	s.post(hostActionEvent{action: protocol.SetMaxAttendees{Max: n}})
}

func (s *MeetingSession) SendReaction(reaction string) {
	s.post(reactionEvent{reaction: reaction})
}

func (s *MeetingSession) UpdateMeetingDetails(details domain.MeetingDetails) {
	s.post(detailsEvent{details: details})
}

func (s *MeetingSession) ChooseAudioInput(deviceID string) {
	s.post(chooseDeviceEvent{kind: deviceAudio, deviceID: deviceID})
}

func (s *MeetingSession) ChooseVideoInput(deviceID string) {
	s.post(chooseDeviceEvent{kind: deviceVideo, deviceID: deviceID})
}

func (s *MeetingSession) Leave() {
	s.post(leaveEvent{})
}

// handle runs one event to completion and publishes the resulting view.
func (s *MeetingSession) handle(ctx context.Context, ev Event) {
	if s.ended {
		return
	}

	switch e := ev.(type) {
	case presenceEvent:
		s.handlePresence(e)
	case dataEvent:
		s.handleData(ctx, e)
	case tileUpdateEvent:
		s.applyPlacements(s.tiles.Update(e.state))
	case tileRemovedEvent:
		s.handleTileRemoved(e)
	case healthEvent:
		s.handleHealth(ctx, e)
	case setAudioEvent:
		s.handleSetAudio(ctx, e)
	case setVideoEvent:
		s.handleSetVideo(ctx, e)
	case setNameEvent:
		s.handleSetName(ctx, e)
	case assignHostEvent:
		s.handleAssignHost(ctx, e)
	case assignHostResultEvent:
		s.handleAssignHostResult(ctx, e)
	case updateCollaboratorsEvent:
		s.handleUpdateCollaborators(ctx, e)
	case collaboratorsResultEvent:
		s.handleCollaboratorsResult(ctx, e)
	case hostActionEvent:
		s.dispatchHostAction(ctx, e.action)
	case reactionEvent:
		s.handleSendReaction(ctx, e)
	case detailsEvent:
		s.handleUpdateDetails(ctx, e)
	case chooseDeviceEvent:
		s.handleChooseDevice(ctx, e)
	case deviceResultEvent:
		s.handleDeviceResult(e)
	case pollHostEvent:
		s.pollHost(ctx)
	case hostFetchedEvent:
		s.handleHostFetched(e)
	case profilesLoadedEvent:
		s.handleProfilesLoaded(e)
	case removalGraceEvent:
		s.end("removed by host")
	case leaveEvent:
		s.end("left")
	default:
		s.logger.Warnw("dropping unknown session event", "event", ev)
		return
	}

	s.publish()
}

// drain handles queued events until the queue is empty.
func (s *MeetingSession) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.handle(ctx, ev)
		default:
			return
		}
	}
}

func (s *MeetingSession) end(reason string) {
	if s.ended {
		return
	}
	s.ended = true
	if s.media != nil {
		if err := s.media.Stop(); err != nil {
			s.logger.Warnw("media engine stop failed", "error", err)
		}
	}
	s.logger.Infow("session ended", "reason", reason)
	s.publish()
}

func (s *MeetingSession) isGroupCall() bool {
	return s.joinGroup || s.roster.Len() >= 2
}

func (s *MeetingSession) notify(kind domain.NotificationKind, message string) {
	s.observer.Notify(domain.Notification{Kind: kind, Message: message})
}

type nopObserver struct{}

func (nopObserver) Notify(domain.Notification) {}
func (nopObserver) Render(domain.SessionView)  {}

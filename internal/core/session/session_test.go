package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
)

const testMeeting domain.MeetingID = "meeting-1"

type harness struct {
	s        *MeetingSession
	channel  *fakeChannel
	media    *fakeMedia
	registry *mockRegistry
	observer *recordingObserver
	ctx      context.Context
}

// newHarness builds a session whose off-loop work runs inline and queues
// its continuation, so tests step the loop with handle and drain.
func newHarness(t *testing.T, self, host domain.AttendeeID, collaborators ...domain.AttendeeID) *harness {
	t.Helper()
	h := &harness{
		channel:  &fakeChannel{},
		media:    newFakeMedia(),
		registry: &mockRegistry{},
		observer: &recordingObserver{},
		ctx:      context.Background(),
	}
	info := domain.JoinInfo{
		Meeting:        domain.Meeting{MeetingID: testMeeting},
		Attendee:       domain.AttendeeCredentials{AttendeeID: self, ExternalUserID: "user-" + string(self)},
		MaxAttendees:   10,
		HostAttendeeID: host,
		Collaborators:  collaborators,
	}
	h.s = NewMeetingSession(info, h.channel, h.media, h.registry, h.observer, DefaultConfig(), zap.NewNop().Sugar())
	h.s.goFn = func(fn func()) { fn() }
	h.s.after = func(_ time.Duration, fn func()) { fn() }
	t.Cleanup(func() { h.registry.AssertExpectations(t) })
	return h
}

func (h *harness) step(ev Event) {
	h.s.handle(h.ctx, ev)
	h.s.drain(h.ctx)
}

func (h *harness) join(ids ...domain.AttendeeID) {
	for _, id := range ids {
		h.step(presenceEvent{attendee: id, present: true})
	}
}

func (h *harness) receive(topic protocol.Topic, sender domain.AttendeeID, payload []byte) {
	h.step(dataEvent{topic: topic, sender: sender, payload: payload})
}

func mustState(t *testing.T, msg protocol.StateMessage) []byte {
	t.Helper()
	raw, err := protocol.EncodeState(msg)
	require.NoError(t, err)
	return raw
}

func mustAction(t *testing.T, host domain.AttendeeID, action protocol.HostAction) []byte {
	t.Helper()
	raw, err := protocol.EncodeHostAction(host, action, time.Now())
	require.NoError(t, err)
	return raw
}

func TestSession_PresenceAbsentAlwaysRemoves(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("A")

	h.receive(protocol.TopicState, "A", mustState(t, protocol.AudioState{AttendeeID: "A", Muted: true}))
	h.step(presenceEvent{attendee: "A", present: false})
	h.receive(protocol.TopicState, "A", mustState(t, protocol.VideoState{AttendeeID: "A", Enabled: true}))

	_, ok := h.s.View().Attendee("A")
	assert.False(t, ok)
	assert.Len(t, h.s.View().Attendees, 1)
}

func TestSession_DuplicateStateMessageIsNoOp(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("A")
	msg := []byte(`{"type":"audio","attendeeId":"A","muted":true}`)

	h.receive(protocol.TopicState, "A", msg)
	once := h.s.View()
	h.receive(protocol.TopicState, "A", msg)

	assert.Equal(t, once.Attendees, h.s.View().Attendees)
	a, _ := h.s.View().Attendee("A")
	assert.True(t, a.AudioMuted)
}

func TestSession_MalformedMessagesDropped(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("A")
	before := h.s.View()

	h.receive(protocol.TopicState, "A", []byte(`{"attendeeId":"A","muted":true}`))
	h.receive(protocol.TopicState, "A", []byte(`{"type":"audio","muted":true}`))
	h.receive(protocol.TopicState, "A", []byte(`{"type":"teleport","attendeeId":"A"}`))
	h.receive(protocol.TopicState, "A", []byte(`not json`))
	h.receive(protocol.TopicHostControls, "H", []byte(`{"type":"host-action","data":true}`))
	h.receive(protocol.TopicHostControls, "H", []byte(`{"type":"host-action","action":"launch"}`))
	h.receive(protocol.TopicReaction, "A", []byte(``))
	h.receive(protocol.Topic("chat"), "A", []byte(`hi`))

	assert.Equal(t, before.Attendees, h.s.View().Attendees)
	assert.Empty(t, h.observer.kinds())
}

func TestSession_AssignHostBroadcastRelocatesTiles(t *testing.T) {
	for _, self := range []domain.AttendeeID{"self", "H2"} {
		t.Run(string(self), func(t *testing.T) {
			h := newHarness(t, self, "H1")
			h.join("H1", "H2")
			h.step(tileUpdateEvent{state: domain.TileState{TileID: 1, BoundAttendee: "H1", Active: true}})
			if self == "H2" {
				h.step(tileUpdateEvent{state: domain.TileState{TileID: 2, BoundAttendee: "H2", Local: true, Active: true}})
			} else {
				h.step(tileUpdateEvent{state: domain.TileState{TileID: 2, BoundAttendee: "H2", Active: true}})
			}
			require.Equal(t, domain.SlotMainStage, h.media.slot(1))

			payload, err := protocol.EncodeAssignHost("H2")
			require.NoError(t, err)
			h.receive(protocol.TopicHostControls, "H1", payload)

			view := h.s.View()
			assert.Equal(t, domain.AttendeeID("H2"), view.HostID)
			assert.Equal(t, self == "H2", view.IsHost)
			p, ok := view.PlacementFor(2)
			require.True(t, ok)
			assert.Equal(t, domain.SlotMainStage, p.Slot)
			assert.Equal(t, domain.SlotMainStage, h.media.slot(2))
			assert.Equal(t, domain.SlotGridCell, h.media.slot(1))
			assert.Contains(t, h.observer.kinds(), domain.NotifyHostChanged)
		})
	}
}

func TestSession_AssignHostOnStateTopic(t *testing.T) {
	h := newHarness(t, "self", "H1")
	h.receive(protocol.TopicState, "H1", mustState(t, protocol.AssignHost{AttendeeID: "self"}))

	view := h.s.View()
	assert.True(t, view.IsHost)
	assert.True(t, view.CanAssignHost)
	assert.True(t, view.CanManageCollaborators)
}

func TestSession_UnprivilegedActionsNeverBroadcast(t *testing.T) {
	h := newHarness(t, "X", "H", "C")
	h.join("H", "C", "A")

	h.s.MuteAll(true)
	h.s.MuteAttendee("A", true)
	h.s.SetAttendeeVideo("A", false)
	h.s.RemoveAttendee("A")
	h.s.PinAttendee("A")
	h.s.SetMaxAttendees(3)
	h.s.AssignHost("X")
	h.s.UpdateCollaborators("A,B")
	h.s.drain(h.ctx)

	assert.Empty(t, h.channel.onTopic(protocol.TopicHostControls))
	for _, kind := range h.observer.kinds() {
		assert.Equal(t, domain.NotifyAuthorizationDenied, kind)
	}
	assert.Len(t, h.observer.kinds(), 8)
	assert.False(t, h.s.View().Privileged)
	h.registry.AssertNotCalled(t, "AssignHost", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_CollaboratorMutesAttendee(t *testing.T) {
	h := newHarness(t, "C", "H", "C")
	h.join("H", "A")

	h.step(hostActionEvent{action: protocol.MuteAttendee{AttendeeID: "A", Muted: true}})

	sent := h.channel.onTopic(protocol.TopicHostControls)
	require.Len(t, sent, 1)
	assert.Equal(t, 5*time.Second, sent[0].ttl)

	env, err := protocol.DecodeHostControl(sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeID("C"), env.HostID)
	assert.Equal(t, protocol.MuteAttendee{AttendeeID: "A", Muted: true}, env.Action)

	a, _ := h.s.View().Attendee("A")
	assert.True(t, a.AudioMuted)
	assert.True(t, h.s.View().Privileged)
	assert.False(t, h.s.View().CanAssignHost)
}

func TestSession_TargetedActionAppliesToAddressee(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("H", "A")

	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.MuteAttendee{AttendeeID: "A", Muted: true}))
	assert.False(t, h.media.audioMuted)
	a, _ := h.s.View().Attendee("A")
	assert.True(t, a.AudioMuted)

	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.MuteAttendee{AttendeeID: "self", Muted: true}))
	assert.True(t, h.media.audioMuted)
	assert.True(t, h.s.View().AudioMuted)

	// The muted peer tells everyone about its new state.
	states := h.channel.onTopic(protocol.TopicState)
	require.NotEmpty(t, states)
	msg, err := protocol.DecodeState(states[len(states)-1].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AudioState{AttendeeID: "self", Muted: true}, msg)
}

func TestSession_MuteAllSkipsSender(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("H", "A")

	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.MuteAll{Muted: true}))

	view := h.s.View()
	assert.True(t, view.AudioMuted)
	assert.True(t, h.media.audioMuted)
	a, _ := view.Attendee("A")
	assert.True(t, a.AudioMuted)
	host, _ := view.Attendee("H")
	assert.False(t, host.AudioMuted)
}

func TestSession_MuteAllSkipsRelaySenderNotEnvelopeHost(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("H", "A")

	// The envelope claims to come from us; the relay says H sent it.
	h.receive(protocol.TopicHostControls, "H", mustAction(t, "self", protocol.MuteAll{Muted: true}))

	assert.True(t, h.s.View().AudioMuted)
	assert.True(t, h.media.audioMuted)
	host, _ := h.s.View().Attendee("H")
	assert.False(t, host.AudioMuted)
}

func TestSession_HostMuteAllDoesNotMuteSelf(t *testing.T) {
	h := newHarness(t, "H", "H")
	h.join("A")

	h.s.MuteAll(true)
	h.s.drain(h.ctx)

	require.Len(t, h.channel.onTopic(protocol.TopicHostControls), 1)
	assert.False(t, h.s.View().AudioMuted)
	a, _ := h.s.View().Attendee("A")
	assert.True(t, a.AudioMuted)
}

func TestSession_PinAndMaxAttendees(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("H", "A")

	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.PinAttendee{AttendeeID: "A"}))
	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.SetMaxAttendees{Max: 4}))

	a, _ := h.s.View().Attendee("A")
	assert.True(t, a.Pinned)
	assert.Equal(t, 4, h.s.View().MaxAttendees)
}

func TestSession_TileRemovalStopsVideo(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("A")
	h.receive(protocol.TopicState, "A", mustState(t, protocol.VideoState{AttendeeID: "A", Enabled: true}))
	h.step(tileUpdateEvent{state: domain.TileState{TileID: 3, BoundAttendee: "A", Active: true}})
	require.Equal(t, domain.SlotGridCell, h.media.slot(3))

	h.step(tileRemovedEvent{tile: 3})

	a, _ := h.s.View().Attendee("A")
	assert.False(t, a.VideoOn)
	_, bound := h.media.bound[3]
	assert.False(t, bound)
}

func TestSession_DepartureDropsTiles(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("H")
	h.step(tileUpdateEvent{state: domain.TileState{TileID: 2, BoundAttendee: "H", Active: true}})

	h.step(presenceEvent{attendee: "H", present: false})

	assert.Empty(t, h.s.View().Placements)
	assert.Empty(t, h.media.bound)
}

func TestSession_QualityBroadcastsRateLimited(t *testing.T) {
	h := newHarness(t, "self", "H")
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	poor := domain.ConnectionHealth{DownlinkKbps: 400, UplinkKbps: 100, ConsecutiveLosses: 4}

	h.step(healthEvent{health: poor, at: at})
	h.step(healthEvent{health: poor, at: at.Add(500 * time.Millisecond)})

	sent := h.channel.onTopic(protocol.TopicState)
	require.Len(t, sent, 1)
	msg, err := protocol.DecodeState(sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.QualityState{AttendeeID: "self", Level: domain.QualityBad}, msg)

	self, _ := h.s.View().Attendee("self")
	assert.Equal(t, domain.QualityBad, self.Quality)
}

func TestSession_AssignHostThroughRegistry(t *testing.T) {
	h := newHarness(t, "H", "H")
	h.join("B")
	h.registry.On("AssignHost", mock.Anything, testMeeting, domain.AttendeeID("H"), domain.AttendeeID("B")).Return(nil).Once()

	h.s.AssignHost("B")
	h.s.drain(h.ctx)

	view := h.s.View()
	assert.Equal(t, domain.AttendeeID("B"), view.HostID)
	assert.False(t, view.IsHost)

	sent := h.channel.onTopic(protocol.TopicHostControls)
	require.Len(t, sent, 1)
	env, err := protocol.DecodeHostControl(sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, protocol.AssignHost{AttendeeID: "B"}, env.Action)
}

func TestSession_AssignHostRejectedLeavesStateAlone(t *testing.T) {
	h := newHarness(t, "H", "H")
	h.registry.On("AssignHost", mock.Anything, testMeeting, domain.AttendeeID("H"), domain.AttendeeID("B")).
		Return(domain.ErrNotHost).Once()

	h.s.AssignHost("B")
	h.s.drain(h.ctx)

	assert.True(t, h.s.View().IsHost)
	assert.Empty(t, h.channel.onTopic(protocol.TopicHostControls))
	assert.Equal(t, []domain.NotificationKind{domain.NotifyAuthorizationDenied}, h.observer.kinds())
}

func TestSession_UpdateCollaborators(t *testing.T) {
	h := newHarness(t, "H", "H")
	want := []domain.AttendeeID{"A", "B"}
	h.registry.On("SetCollaborators", mock.Anything, testMeeting, domain.AttendeeID("H"), want).Return(want, nil).Once()

	h.s.UpdateCollaborators(" A, B ,A,")
	h.s.drain(h.ctx)

	assert.Equal(t, want, h.s.View().Collaborators)
	sent := h.channel.onTopic(protocol.TopicHostControls)
	require.Len(t, sent, 1)

	var wire struct {
		Type   string   `json:"type"`
		Action string   `json:"action"`
		Data   []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(sent[0].payload, &wire))
	assert.Equal(t, "host-action", wire.Type)
	assert.Equal(t, "update-collaborators", wire.Action)
	assert.Equal(t, []string{"A", "B"}, wire.Data)
}

func TestSession_TooManyCollaboratorsRejectedLocally(t *testing.T) {
	h := newHarness(t, "H", "H")

	h.s.UpdateCollaborators("A,B,C,D,E")
	h.s.drain(h.ctx)

	assert.Equal(t, []domain.NotificationKind{domain.NotifyCapacityExceeded}, h.observer.kinds())
	assert.Empty(t, h.s.View().Collaborators)
	h.registry.AssertNotCalled(t, "SetCollaborators", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSession_CollaboratorResultAfterLosingHostDropped(t *testing.T) {
	h := newHarness(t, "H", "H")
	h.step(dataEvent{topic: protocol.TopicHostControls, sender: "Z", payload: mustAction(t, "Z", protocol.AssignHost{AttendeeID: "Z"})})
	require.False(t, h.s.View().IsHost)

	h.step(collaboratorsResultEvent{requested: []domain.AttendeeID{"A"}, final: []domain.AttendeeID{"A"}})

	assert.Empty(t, h.s.View().Collaborators)
	assert.Empty(t, h.channel.onTopic(protocol.TopicHostControls))
}

func TestSession_ReceivedCollaboratorSetReplaces(t *testing.T) {
	h := newHarness(t, "self", "H", "A", "B")

	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.UpdateCollaborators{Collaborators: []domain.AttendeeID{"self"}}))

	view := h.s.View()
	assert.Equal(t, []domain.AttendeeID{"self"}, view.Collaborators)
	assert.True(t, view.Privileged)
}

func TestSession_StaleHostPollDiscarded(t *testing.T) {
	h := newHarness(t, "self", "H1")
	h.join("H1")
	h.registry.On("GetHost", mock.Anything, testMeeting).Return(domain.AttendeeID("H1"), nil).Once()

	// The poll answers, but a broadcast lands before its continuation runs.
	h.s.handle(h.ctx, pollHostEvent{})
	payload, err := protocol.EncodeAssignHost("H2")
	require.NoError(t, err)
	h.s.handle(h.ctx, dataEvent{topic: protocol.TopicHostControls, sender: "H1", payload: payload})
	h.s.drain(h.ctx)

	assert.Equal(t, domain.AttendeeID("H2"), h.s.View().HostID)
}

func TestSession_HostPollResyncs(t *testing.T) {
	h := newHarness(t, "self", "H1")
	h.join("H1")
	h.registry.On("GetHost", mock.Anything, testMeeting).Return(domain.AttendeeID("H3"), nil).Once()

	h.step(pollHostEvent{})

	assert.Equal(t, domain.AttendeeID("H3"), h.s.View().HostID)
	assert.Equal(t, []domain.NotificationKind{domain.NotifyHostChanged}, h.observer.kinds())
}

func TestSession_NoHostPollWhenSoloOrHost(t *testing.T) {
	solo := newHarness(t, "self", "H1")
	solo.step(pollHostEvent{})
	solo.registry.AssertNotCalled(t, "GetHost", mock.Anything, mock.Anything)

	host := newHarness(t, "H", "H")
	host.join("A")
	host.step(pollHostEvent{})
	host.registry.AssertNotCalled(t, "GetHost", mock.Anything, mock.Anything)
}

func TestSession_HostPollFailureKeepsBelief(t *testing.T) {
	h := newHarness(t, "self", "H1")
	h.join("H1")
	h.registry.On("GetHost", mock.Anything, testMeeting).Return(domain.AttendeeID(""), domain.ErrHostNotFound).Once()
	h.registry.On("GetHost", mock.Anything, testMeeting).Return(domain.AttendeeID(""), errors.New("connection refused")).Once()

	h.step(pollHostEvent{})
	h.step(pollHostEvent{})

	assert.Equal(t, domain.AttendeeID("H1"), h.s.View().HostID)
	assert.Empty(t, h.observer.kinds())
}

func TestSession_RemovedByHost(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("H")

	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.RemoveAttendee{AttendeeID: "self"}))

	assert.Equal(t, []domain.NotificationKind{domain.NotifyRemoved}, h.observer.kinds())
	assert.True(t, h.s.View().Ended)
	assert.True(t, h.media.stopped)
}

func TestSession_RemovingOthersLeavesRosterToPresence(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("H", "A")

	h.receive(protocol.TopicHostControls, "H", mustAction(t, "H", protocol.RemoveAttendee{AttendeeID: "A"}))

	_, ok := h.s.View().Attendee("A")
	assert.True(t, ok)
	assert.False(t, h.s.View().Ended)
}

func TestSession_WithoutTransportIsNoOp(t *testing.T) {
	info := domain.JoinInfo{
		Meeting:        domain.Meeting{MeetingID: testMeeting},
		Attendee:       domain.AttendeeCredentials{AttendeeID: "self"},
		HostAttendeeID: "self",
	}
	s := NewMeetingSession(info, nil, nil, nil, nil, DefaultConfig(), zap.NewNop().Sugar())
	ctx := context.Background()

	s.handle(ctx, setAudioEvent{muted: true})
	s.handle(ctx, hostActionEvent{action: protocol.MuteAll{Muted: true}})
	s.handle(ctx, tileUpdateEvent{state: domain.TileState{TileID: 1, BoundAttendee: "self", Local: true}})
	s.handle(ctx, chooseDeviceEvent{kind: deviceAudio, deviceID: "mic-2"})
	s.handle(ctx, assignHostEvent{target: "B"})

	view := s.View()
	assert.True(t, view.AudioMuted)
	assert.True(t, view.IsHost)
	assert.Len(t, view.Placements, 1)
}

func TestSession_DeviceSwitchFailureReported(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.media.chooseErr = errors.New("permission denied")

	h.s.ChooseVideoInput("cam-2")
	h.s.drain(h.ctx)

	assert.Equal(t, []domain.NotificationKind{domain.NotifyDeviceError}, h.observer.kinds())
	assert.False(t, h.s.View().Ended)
}

func TestSession_ReactionsAndDetails(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.join("A")

	h.receive(protocol.TopicReaction, "A", protocol.EncodeReaction("LOVE"))
	assert.Equal(t, []domain.NotificationKind{domain.NotifyReaction}, h.observer.kinds())

	h.s.SendReaction("CLAP")
	h.s.drain(h.ctx)
	sent := h.channel.onTopic(protocol.TopicReaction)
	require.Len(t, sent, 1)
	assert.Equal(t, time.Second, sent[0].ttl)

	details := domain.MeetingDetails{Title: "Retro", Topic: "Q3"}
	h.receive(protocol.TopicState, "A", mustState(t, protocol.MeetingDetailsUpdate{AttendeeID: "A", Details: details}))
	assert.Equal(t, "Retro", h.s.View().Details.Title)
}

func TestSession_SetDisplayNameSavesProfile(t *testing.T) {
	h := newHarness(t, "self", "H")
	h.registry.On("SaveProfile", mock.Anything, testMeeting, domain.Profile{AttendeeID: "self", Name: "Grace"}).Return(nil).Once()

	h.s.SetDisplayName("  Grace ")
	h.s.drain(h.ctx)

	me, _ := h.s.View().Attendee("self")
	assert.Equal(t, "Grace", me.DisplayName)
	require.Len(t, h.channel.onTopic(protocol.TopicState), 1)
}

func TestSession_RunStartsAndLeaves(t *testing.T) {
	registry := &mockRegistry{}
	registry.On("GetHost", mock.Anything, testMeeting).Return(domain.AttendeeID("H"), nil).Maybe()
	registry.On("GetProfiles", mock.Anything, testMeeting).
		Return(map[domain.AttendeeID]domain.Profile{"self": {AttendeeID: "self", Name: "Ada"}}, nil).Maybe()
	media := newFakeMedia()

	info := domain.JoinInfo{
		Meeting:        domain.Meeting{MeetingID: testMeeting},
		Attendee:       domain.AttendeeCredentials{AttendeeID: "self"},
		HostAttendeeID: "H",
	}
	s := NewMeetingSession(info, &fakeChannel{}, media, registry, nil, DefaultConfig(), zap.NewNop().Sugar())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	s.SetAudioMuted(true)
	s.Leave()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("session did not end")
	}
	<-s.Done()

	assert.True(t, s.View().Ended)
	assert.True(t, s.View().AudioMuted)
	media.mu.Lock()
	defer media.mu.Unlock()
	assert.True(t, media.started)
	assert.True(t, media.stopped)
}

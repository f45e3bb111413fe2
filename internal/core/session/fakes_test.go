package session

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
)

type sentMessage struct {
	topic   protocol.Topic
	payload []byte
	ttl     time.Duration
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (c *fakeChannel) Send(_ context.Context, topic protocol.Topic, payload []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, sentMessage{topic: topic, payload: payload, ttl: ttl})
	return nil
}

func (c *fakeChannel) onTopic(topic protocol.Topic) []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentMessage
	for _, m := range c.sent {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeMedia struct {
	mu         sync.Mutex
	started    bool
	stopped    bool
	audioMuted bool
	videoOn    bool
	bound      map[domain.TileID]domain.Placement
	chooseErr  error
	startErr   error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{bound: make(map[domain.TileID]domain.Placement)}
}

func (m *fakeMedia) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return m.startErr
}

func (m *fakeMedia) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *fakeMedia) SetLocalAudioMuted(muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioMuted = muted
	return nil
}

func (m *fakeMedia) SetLocalVideoEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoOn = enabled
	return nil
}

func (m *fakeMedia) ChooseAudioInput(context.Context, string) error { return m.chooseErr }
func (m *fakeMedia) ChooseVideoInput(context.Context, string) error { return m.chooseErr }

func (m *fakeMedia) BindTile(p domain.Placement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound[p.TileID] = p
	return nil
}

func (m *fakeMedia) UnbindTile(tile domain.TileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bound, tile)
	return nil
}

func (m *fakeMedia) slot(tile domain.TileID) domain.SlotKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bound[tile].Slot
}

type mockRegistry struct {
	mock.Mock
}

func (r *mockRegistry) GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error) {
	args := r.Called(ctx, id)
	return args.Get(0).(domain.AttendeeID), args.Error(1)
}

func (r *mockRegistry) AssignHost(ctx context.Context, id domain.MeetingID, currentHost, newHost domain.AttendeeID) error {
	return r.Called(ctx, id, currentHost, newHost).Error(0)
}

func (r *mockRegistry) GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error) {
	args := r.Called(ctx, id)
	ids, _ := args.Get(0).([]domain.AttendeeID)
	return ids, args.Error(1)
}

func (r *mockRegistry) SetCollaborators(ctx context.Context, id domain.MeetingID, currentHost domain.AttendeeID, ids []domain.AttendeeID) ([]domain.AttendeeID, error) {
	args := r.Called(ctx, id, currentHost, ids)
	final, _ := args.Get(0).([]domain.AttendeeID)
	return final, args.Error(1)
}

func (r *mockRegistry) GetMeetingDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error) {
	args := r.Called(ctx, id)
	return args.Get(0).(domain.MeetingDetails), args.Error(1)
}

func (r *mockRegistry) SaveMeetingDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error {
	return r.Called(ctx, id, details).Error(0)
}

func (r *mockRegistry) GetProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error) {
	args := r.Called(ctx, id)
	profiles, _ := args.Get(0).(map[domain.AttendeeID]domain.Profile)
	return profiles, args.Error(1)
}

func (r *mockRegistry) SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error {
	return r.Called(ctx, id, profile).Error(0)
}

type recordingObserver struct {
	mu      sync.Mutex
	notes   []domain.Notification
	renders int
}

func (o *recordingObserver) Notify(n domain.Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, n)
}

func (o *recordingObserver) Render(domain.SessionView) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.renders++
}

func (o *recordingObserver) kinds() []domain.NotificationKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.NotificationKind, 0, len(o.notes))
	for _, n := range o.notes {
		out = append(out, n.Kind)
	}
	return out
}

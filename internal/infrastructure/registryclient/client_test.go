package registryclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	"meetsync/internal/core/services"
	handlers "meetsync/internal/handlers/http"
	"meetsync/internal/infrastructure/middleware"
	"meetsync/internal/infrastructure/repositories/memory"
	"meetsync/pkg/circuitbreaker"
	"meetsync/pkg/config"
	apperrors "meetsync/pkg/errors"
)

func newRegistry(t *testing.T) (ports.RegistryService, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop().Sugar()
	registry := services.NewRegistryService(
		memory.NewMemoryMeetingRepository(),
		memory.NewMemoryAuthorityRepository(),
		memory.NewMemoryMetadataRepository(),
		services.NewTicketService("client-secret", time.Hour),
		nil,
		services.RegistryConfig{PublicURL: "http://meet.test", JoinPage: "/", MediaRegion: "local", DefaultMaxAttendees: 10},
		log,
	)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(log))
	handlers.NewRegistryHandler(registry).SetupRoutes(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return registry, ts
}

func newClient(baseURL string) *Client {
	cfg := config.DefaultConfig()
	cfg.Session.RegistryURL = baseURL
	cfg.Client.RetryDelay = time.Millisecond
	return New(cfg, zap.NewNop().Sugar())
}

func TestClient_HostLifecycle(t *testing.T) {
	registry, ts := newRegistry(t)
	client := newClient(ts.URL)
	ctx := context.Background()

	started, err := registry.StartMeeting(ctx, "standup", 0)
	require.NoError(t, err)
	id := started.Record.Meeting.MeetingID
	host := started.Info.Attendee.AttendeeID

	got, err := client.GetHost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, host, got)

	_, err = client.GetHost(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrHostNotFound)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

	err = client.AssignHost(ctx, id, "not-the-host", "B")
	assert.ErrorIs(t, err, domain.ErrNotHost)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	require.NoError(t, client.AssignHost(ctx, id, host, "B"))
	got, err = client.GetHost(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeID("B"), got)
}

func TestClient_Collaborators(t *testing.T) {
	registry, ts := newRegistry(t)
	client := newClient(ts.URL)
	ctx := context.Background()

	started, err := registry.StartMeeting(ctx, "design", 0)
	require.NoError(t, err)
	id := started.Record.Meeting.MeetingID
	host := started.Info.Attendee.AttendeeID

	stored, err := client.SetCollaborators(ctx, id, host, []domain.AttendeeID{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, []domain.AttendeeID{"A", "B"}, stored)

	listed, err := client.GetCollaborators(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []domain.AttendeeID{"A", "B"}, listed)

	_, err = client.SetCollaborators(ctx, id, host, []domain.AttendeeID{"A", "B", "C", "D", "E"})
	assert.ErrorIs(t, err, domain.ErrTooManyCollabs)

	_, err = client.SetCollaborators(ctx, id, "someone-else", []domain.AttendeeID{"A"})
	assert.ErrorIs(t, err, domain.ErrNotHost)
}

func TestClient_DetailsAndCachedProfiles(t *testing.T) {
	registry, ts := newRegistry(t)
	client := newClient(ts.URL)
	ctx := context.Background()

	started, err := registry.StartMeeting(ctx, "retro", 0)
	require.NoError(t, err)
	id := started.Record.Meeting.MeetingID
	host := started.Info.Attendee.AttendeeID

	details := domain.MeetingDetails{Title: "Retro", Topic: "Sprint 12", HostAttendeeID: host}
	require.NoError(t, client.SaveMeetingDetails(ctx, id, details))
	got, err := client.GetMeetingDetails(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, details, got)

	profiles, err := client.GetProfiles(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, profiles)

	// written behind the client's back: the cached empty map is served
	require.NoError(t, registry.SaveProfile(ctx, id, domain.Profile{AttendeeID: host, Name: "Ada"}))
	profiles, err = client.GetProfiles(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, profiles)

	require.NoError(t, client.SaveProfile(ctx, id, domain.Profile{AttendeeID: "B", Name: "Bo"}))
	profiles, err = client.GetProfiles(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ada", profiles[host].Name)
	assert.Equal(t, "Bo", profiles["B"].Name)
}

func TestClient_RetriesServerErrorsButNotClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		switch r.URL.Path {
		case "/host/flaky":
			if n == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"meetingId":"flaky","hostId":"H"}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"FORBIDDEN","message":"Unauthorized: Not the current host"}`))
		}
	}))
	defer ts.Close()

	client := newClient(ts.URL)
	ctx := context.Background()

	host, err := client.GetHost(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeID("H"), host)
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	err = client.AssignHost(ctx, "m", "X", "Y")
	assert.ErrorIs(t, err, domain.ErrNotHost)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{circuitbreaker.ErrOpen, false},
		{apperrors.NewForbiddenError("not host"), false},
		{fmt.Errorf("get host: %w", apperrors.NewNotFoundError("meeting")), false},
		{apperrors.NewRateLimitError(), true},
		{apperrors.NewServiceUnavailableError("down"), true},
		{errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, transient(tc.err), "%v", tc.err)
	}
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	cfg := config.DefaultConfig()
	cfg.Session.RegistryURL = ts.URL
	cfg.Client.RetryAttempts = 0
	cfg.Client.BreakerFailures = 2
	cfg.Client.BreakerCooldown = time.Minute
	client := New(cfg, zap.NewNop().Sugar())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.GetHost(ctx, "m")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavailable))
	}
	_, err := client.GetHost(ctx, "m")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_UnreachableRegistry(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	cfg := config.DefaultConfig()
	cfg.Session.RegistryURL = url
	cfg.Client.RetryAttempts = 0
	client := New(cfg, zap.NewNop().Sugar())

	_, err := client.GetCollaborators(context.Background(), "m")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavailable))
}

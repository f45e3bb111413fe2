package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/core/domain"
)

func newRecord(id domain.MeetingID, room string, max int) *domain.MeetingRecord {
	return &domain.MeetingRecord{
		Meeting:  domain.Meeting{MeetingID: id, Room: room, CreatedAt: time.Now()},
		Settings: domain.MeetingSettings{MaxAttendees: max, Room: room},
	}
}

func TestMeetingRepository_CreateIsIdempotentPerRoom(t *testing.T) {
	repo := NewMemoryMeetingRepository()
	ctx := context.Background()

	first, created, err := repo.Create(ctx, newRecord("m-1", "room", 10))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Create(ctx, newRecord("m-2", "room", 5))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Meeting.MeetingID, second.Meeting.MeetingID)

	byRoom, err := repo.GetByRoom(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingID("m-1"), byRoom.Meeting.MeetingID)

	_, err = repo.GetByID(ctx, "m-2")
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)
}

func TestMeetingRepository_AdmitConcurrentRespectsCap(t *testing.T) {
	repo := NewMemoryMeetingRepository()
	ctx := context.Background()
	_, _, err := repo.Create(ctx, newRecord("m-1", "room", 5))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Admit(ctx, "m-1"); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
	rec, err := repo.GetByID(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Settings.CurrentAttendees)
	assert.True(t, rec.Settings.IsGroupCall)

	_, err = repo.Admit(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)
}

func TestAuthorityRepository_SwapHost(t *testing.T) {
	repo := NewMemoryAuthorityRepository()
	ctx := context.Background()

	_, err := repo.GetHost(ctx, "m-1")
	assert.ErrorIs(t, err, domain.ErrHostNotFound)
	assert.ErrorIs(t, repo.SwapHost(ctx, "m-1", "H1", "H2"), domain.ErrNotHost)

	require.NoError(t, repo.SetHost(ctx, "m-1", "H1"))
	assert.ErrorIs(t, repo.SwapHost(ctx, "m-1", "X", "H2"), domain.ErrNotHost)
	require.NoError(t, repo.SwapHost(ctx, "m-1", "H1", "H2"))

	host, err := repo.GetHost(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttendeeID("H2"), host)
}

func TestAuthorityRepository_ReplaceCollaborators(t *testing.T) {
	repo := NewMemoryAuthorityRepository()
	ctx := context.Background()
	require.NoError(t, repo.SetHost(ctx, "m-1", "H1"))

	assert.ErrorIs(t, repo.ReplaceCollaborators(ctx, "m-1", "X", []domain.AttendeeID{"A"}), domain.ErrNotHost)

	ids := []domain.AttendeeID{"A", "B"}
	require.NoError(t, repo.ReplaceCollaborators(ctx, "m-1", "H1", ids))
	ids[0] = "mutated"

	got, err := repo.GetCollaborators(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.AttendeeID{"A", "B"}, got)
}

func TestMetadataRepository(t *testing.T) {
	repo := NewMemoryMetadataRepository()
	ctx := context.Background()

	details, err := repo.GetDetails(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MeetingDetails{}, details)

	require.NoError(t, repo.SaveDetails(ctx, "m-1", domain.MeetingDetails{Title: "Sync"}))
	details, err = repo.GetDetails(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "Sync", details.Title)

	require.NoError(t, repo.SaveProfile(ctx, "m-1", domain.Profile{AttendeeID: "A", Name: "Ada"}))
	profiles, err := repo.ListProfiles(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", profiles["A"].Name)

	empty, err := repo.ListProfiles(ctx, "m-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

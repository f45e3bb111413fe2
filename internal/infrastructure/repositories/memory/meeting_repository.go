package memory

import (
	"context"
	"sort"
	"sync"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
)

type MemoryMeetingRepository struct {
	meetings map[domain.MeetingID]*domain.MeetingRecord
	rooms    map[string]domain.MeetingID
	mu       sync.RWMutex
}

func NewMemoryMeetingRepository() ports.MeetingRepository {
	return &MemoryMeetingRepository{
		meetings: make(map[domain.MeetingID]*domain.MeetingRecord),
		rooms:    make(map[string]domain.MeetingID),
	}
}

func (r *MemoryMeetingRepository) Create(ctx context.Context, rec *domain.MeetingRecord) (*domain.MeetingRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.rooms[rec.Meeting.Room]; exists {
		existing := *r.meetings[id]
		return &existing, false, nil
	}

	stored := *rec
	r.meetings[rec.Meeting.MeetingID] = &stored
	r.rooms[rec.Meeting.Room] = rec.Meeting.MeetingID

	out := stored
	return &out, true, nil
}

func (r *MemoryMeetingRepository) GetByID(ctx context.Context, id domain.MeetingID) (*domain.MeetingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.meetings[id]
	if !exists {
		return nil, domain.ErrMeetingNotFound
	}
	out := *rec
	return &out, nil
}

func (r *MemoryMeetingRepository) GetByRoom(ctx context.Context, room string) (*domain.MeetingRecord, error) {
	r.mu.RLock()
	id, exists := r.rooms[room]
	r.mu.RUnlock()

	if !exists {
		return nil, domain.ErrMeetingNotFound
	}
	return r.GetByID(ctx, id)
}

// List returns meetings ordered by creation time.
func (r *MemoryMeetingRepository) List(ctx context.Context) ([]*domain.MeetingRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.MeetingRecord, 0, len(r.meetings))
	for _, rec := range r.meetings {
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Meeting.CreatedAt.Before(out[j].Meeting.CreatedAt)
	})
	return out, nil
}

func (r *MemoryMeetingRepository) Admit(ctx context.Context, id domain.MeetingID) (*domain.MeetingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.meetings[id]
	if !exists {
		return nil, domain.ErrMeetingNotFound
	}
	if err := rec.Settings.Admit(); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

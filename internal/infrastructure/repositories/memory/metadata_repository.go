package memory

import (
	"context"
	"sync"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
)

type MemoryMetadataRepository struct {
	details  map[domain.MeetingID]domain.MeetingDetails
	profiles map[domain.MeetingID]map[domain.AttendeeID]domain.Profile
	mu       sync.RWMutex
}

func NewMemoryMetadataRepository() ports.MetadataRepository {
	return &MemoryMetadataRepository{
		details:  make(map[domain.MeetingID]domain.MeetingDetails),
		profiles: make(map[domain.MeetingID]map[domain.AttendeeID]domain.Profile),
	}
}

// GetDetails returns empty details for unknown meetings.
func (r *MemoryMetadataRepository) GetDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.details[id], nil
}

func (r *MemoryMetadataRepository) SaveDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details[id] = details
	return nil
}

func (r *MemoryMetadataRepository) SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.profiles[id]
	if !ok {
		m = make(map[domain.AttendeeID]domain.Profile)
		r.profiles[id] = m
	}
	m[profile.AttendeeID] = profile
	return nil
}

func (r *MemoryMetadataRepository) ListProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.AttendeeID]domain.Profile, len(r.profiles[id]))
	for k, v := range r.profiles[id] {
		out[k] = v
	}
	return out, nil
}

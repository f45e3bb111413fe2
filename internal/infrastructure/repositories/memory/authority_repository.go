package memory

import (
	"context"
	"sync"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
)

type MemoryAuthorityRepository struct {
	hosts         map[domain.MeetingID]domain.AttendeeID
	collaborators map[domain.MeetingID][]domain.AttendeeID
	mu            sync.RWMutex
}

func NewMemoryAuthorityRepository() ports.AuthorityRepository {
	return &MemoryAuthorityRepository{
		hosts:         make(map[domain.MeetingID]domain.AttendeeID),
		collaborators: make(map[domain.MeetingID][]domain.AttendeeID),
	}
}

func (r *MemoryAuthorityRepository) GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	host, exists := r.hosts[id]
	if !exists {
		return "", domain.ErrHostNotFound
	}
	return host, nil
}

func (r *MemoryAuthorityRepository) SetHost(ctx context.Context, id domain.MeetingID, host domain.AttendeeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[id] = host
	return nil
}

func (r *MemoryAuthorityRepository) SwapHost(ctx context.Context, id domain.MeetingID, expected, next domain.AttendeeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.hosts[id]
	if !exists || current != expected {
		return domain.ErrNotHost
	}
	r.hosts[id] = next
	return nil
}

func (r *MemoryAuthorityRepository) GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.AttendeeID{}, r.collaborators[id]...), nil
}

func (r *MemoryAuthorityRepository) ReplaceCollaborators(ctx context.Context, id domain.MeetingID, requester domain.AttendeeID, ids []domain.AttendeeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.hosts[id]; !exists || current != requester {
		return domain.ErrNotHost
	}
	r.collaborators[id] = append([]domain.AttendeeID{}, ids...)
	return nil
}

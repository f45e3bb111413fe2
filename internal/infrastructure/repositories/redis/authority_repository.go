package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
)

// swapHostScript sets KEYS[1] to ARGV[2] only while it holds ARGV[1].
var swapHostScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

// replaceCollaboratorsScript writes KEYS[2] only while KEYS[1] holds ARGV[1].
var replaceCollaboratorsScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

type RedisAuthorityRepository struct {
	client *redis.Client
}

func NewRedisAuthorityRepository(client *redis.Client) ports.AuthorityRepository {
	return &RedisAuthorityRepository{client: client}
}

func hostKey(id domain.MeetingID) string {
	return keyPrefix + "host:" + string(id)
}

func collaboratorsKey(id domain.MeetingID) string {
	return keyPrefix + "collaborators:" + string(id)
}

func (r *RedisAuthorityRepository) GetHost(ctx context.Context, id domain.MeetingID) (domain.AttendeeID, error) {
	host, err := r.client.Get(ctx, hostKey(id)).Result()
	if err == redis.Nil {
		return "", domain.ErrHostNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get host from Redis: %w", err)
	}
	return domain.AttendeeID(host), nil
}

func (r *RedisAuthorityRepository) SetHost(ctx context.Context, id domain.MeetingID, host domain.AttendeeID) error {
	if err := r.client.Set(ctx, hostKey(id), string(host), 0).Err(); err != nil {
		return fmt.Errorf("failed to set host in Redis: %w", err)
	}
	return nil
}

func (r *RedisAuthorityRepository) SwapHost(ctx context.Context, id domain.MeetingID, expected, next domain.AttendeeID) error {
	ok, err := swapHostScript.Run(ctx, r.client, []string{hostKey(id)}, string(expected), string(next)).Int()
	if err != nil {
		return fmt.Errorf("failed to swap host in Redis: %w", err)
	}
	if ok != 1 {
		return domain.ErrNotHost
	}
	return nil
}

func (r *RedisAuthorityRepository) GetCollaborators(ctx context.Context, id domain.MeetingID) ([]domain.AttendeeID, error) {
	raw, err := r.client.Get(ctx, collaboratorsKey(id)).Bytes()
	if err == redis.Nil {
		return []domain.AttendeeID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collaborators from Redis: %w", err)
	}
	var ids []domain.AttendeeID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collaborators: %w", err)
	}
	return ids, nil
}

func (r *RedisAuthorityRepository) ReplaceCollaborators(ctx context.Context, id domain.MeetingID, requester domain.AttendeeID, ids []domain.AttendeeID) error {
	if ids == nil {
		ids = []domain.AttendeeID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal collaborators: %w", err)
	}
	ok, err := replaceCollaboratorsScript.Run(ctx, r.client,
		[]string{hostKey(id), collaboratorsKey(id)}, string(requester), data).Int()
	if err != nil {
		return fmt.Errorf("failed to replace collaborators in Redis: %w", err)
	}
	if ok != 1 {
		return domain.ErrNotHost
	}
	return nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
)

type RedisMetadataRepository struct {
	client *redis.Client
}

func NewRedisMetadataRepository(client *redis.Client) ports.MetadataRepository {
	return &RedisMetadataRepository{client: client}
}

func detailsKey(id domain.MeetingID) string {
	return keyPrefix + "details:" + string(id)
}

func profilesKey(id domain.MeetingID) string {
	return keyPrefix + "profiles:" + string(id)
}

func (r *RedisMetadataRepository) GetDetails(ctx context.Context, id domain.MeetingID) (domain.MeetingDetails, error) {
	var details domain.MeetingDetails
	raw, err := r.client.Get(ctx, detailsKey(id)).Bytes()
	if err == redis.Nil {
		return details, nil
	}
	if err != nil {
		return details, fmt.Errorf("failed to get meeting details from Redis: %w", err)
	}
	if err := json.Unmarshal(raw, &details); err != nil {
		return details, fmt.Errorf("failed to unmarshal meeting details: %w", err)
	}
	return details, nil
}

func (r *RedisMetadataRepository) SaveDetails(ctx context.Context, id domain.MeetingID, details domain.MeetingDetails) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal meeting details: %w", err)
	}
	if err := r.client.Set(ctx, detailsKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save meeting details in Redis: %w", err)
	}
	return nil
}

func (r *RedisMetadataRepository) SaveProfile(ctx context.Context, id domain.MeetingID, profile domain.Profile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := r.client.HSet(ctx, profilesKey(id), string(profile.AttendeeID), data).Err(); err != nil {
		return fmt.Errorf("failed to save profile in Redis: %w", err)
	}
	return nil
}

func (r *RedisMetadataRepository) ListProfiles(ctx context.Context, id domain.MeetingID) (map[domain.AttendeeID]domain.Profile, error) {
	fields, err := r.client.HGetAll(ctx, profilesKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles from Redis: %w", err)
	}

	out := make(map[domain.AttendeeID]domain.Profile, len(fields))
	for attendee, raw := range fields {
		var profile domain.Profile
		if err := json.Unmarshal([]byte(raw), &profile); err != nil {
			continue
		}
		out[domain.AttendeeID(attendee)] = profile
	}
	return out, nil
}

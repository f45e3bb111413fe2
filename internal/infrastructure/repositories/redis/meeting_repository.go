package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
)

const (
	meetingKeyPrefix = keyPrefix + "meeting:"
	roomKeyPrefix    = keyPrefix + "room:"
	meetingIndexKey  = keyPrefix + "meetings"

	fieldID         = "id"
	fieldExternalID = "external_id"
	fieldRegion     = "region"
	fieldRoom       = "room"
	fieldCreatedAt  = "created_at"
	fieldMax        = "max"
	fieldCurrent    = "current"
)

// createScript claims the room index and writes the meeting hash in one step.
// It returns the id of the meeting that owns the room and 1 when it was
// created by this call.
var createScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  return {existing, 0}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
  'id', ARGV[1], 'external_id', ARGV[2], 'region', ARGV[3], 'room', ARGV[4],
  'created_at', ARGV[5], 'max', ARGV[6], 'current', 0)
redis.call('ZADD', KEYS[3], ARGV[7], ARGV[1])
return {ARGV[1], 1}
`)

// admitScript returns the new attendee count, -1 when full, -2 when missing.
var admitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local max = tonumber(redis.call('HGET', KEYS[1], 'max'))
local current = tonumber(redis.call('HGET', KEYS[1], 'current'))
if current >= max then
  return -1
end
return redis.call('HINCRBY', KEYS[1], 'current', 1)
`)

type RedisMeetingRepository struct {
	client *redis.Client
}

func NewRedisMeetingRepository(client *redis.Client) ports.MeetingRepository {
	return &RedisMeetingRepository{client: client}
}

func meetingKey(id domain.MeetingID) string {
	return meetingKeyPrefix + string(id)
}

func roomKey(room string) string {
	return roomKeyPrefix + room
}

func (r *RedisMeetingRepository) Create(ctx context.Context, rec *domain.MeetingRecord) (*domain.MeetingRecord, bool, error) {
	m := rec.Meeting
	created := m.CreatedAt.UnixNano()
	res, err := createScript.Run(ctx, r.client,
		[]string{roomKey(m.Room), meetingKey(m.MeetingID), meetingIndexKey},
		string(m.MeetingID), m.ExternalMeetingID, m.MediaRegion, m.Room,
		created, rec.Settings.MaxAttendees, created/int64(time.Millisecond),
	).Slice()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create meeting in Redis: %w", err)
	}
	if len(res) != 2 {
		return nil, false, fmt.Errorf("unexpected create reply: %v", res)
	}

	id, _ := res[0].(string)
	stored, err := r.GetByID(ctx, domain.MeetingID(id))
	if err != nil {
		return nil, false, err
	}
	isNew, _ := res[1].(int64)
	return stored, isNew == 1, nil
}

func (r *RedisMeetingRepository) GetByID(ctx context.Context, id domain.MeetingID) (*domain.MeetingRecord, error) {
	fields, err := r.client.HGetAll(ctx, meetingKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrMeetingNotFound
	}
	return decodeMeeting(fields)
}

func (r *RedisMeetingRepository) GetByRoom(ctx context.Context, room string) (*domain.MeetingRecord, error) {
	id, err := r.client.Get(ctx, roomKey(room)).Result()
	if err == redis.Nil {
		return nil, domain.ErrMeetingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve room in Redis: %w", err)
	}
	return r.GetByID(ctx, domain.MeetingID(id))
}

// List returns meetings ordered by creation time. Index entries whose hash
// has gone are skipped.
func (r *RedisMeetingRepository) List(ctx context.Context) ([]*domain.MeetingRecord, error) {
	ids, err := r.client.ZRange(ctx, meetingIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list meetings from Redis: %w", err)
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, meetingKey(domain.MeetingID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load meetings from Redis: %w", err)
	}

	out := make([]*domain.MeetingRecord, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeMeeting(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *RedisMeetingRepository) Admit(ctx context.Context, id domain.MeetingID) (*domain.MeetingRecord, error) {
	n, err := admitScript.Run(ctx, r.client, []string{meetingKey(id)}).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to admit attendee in Redis: %w", err)
	}
	switch n {
	case -2:
		return nil, domain.ErrMeetingNotFound
	case -1:
		return nil, domain.ErrMeetingFull
	}
	return r.GetByID(ctx, id)
}

func decodeMeeting(fields map[string]string) (*domain.MeetingRecord, error) {
	maxAttendees, err := strconv.Atoi(fields[fieldMax])
	if err != nil {
		return nil, fmt.Errorf("corrupt meeting %q: max: %w", fields[fieldID], err)
	}
	current, err := strconv.Atoi(fields[fieldCurrent])
	if err != nil {
		return nil, fmt.Errorf("corrupt meeting %q: current: %w", fields[fieldID], err)
	}
	created, _ := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)

	return &domain.MeetingRecord{
		Meeting: domain.Meeting{
			MeetingID:         domain.MeetingID(fields[fieldID]),
			ExternalMeetingID: fields[fieldExternalID],
			MediaRegion:       fields[fieldRegion],
			Room:              fields[fieldRoom],
			CreatedAt:         time.Unix(0, created),
		},
		Settings: domain.MeetingSettings{
			MaxAttendees:     maxAttendees,
			CurrentAttendees: current,
			IsGroupCall:      current >= 2,
			Room:             fields[fieldRoom],
		},
	}, nil
}

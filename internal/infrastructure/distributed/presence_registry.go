package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"meetsync/internal/core/domain"
)

// Member is one attendee connected to some relay instance.
type Member struct {
	AttendeeID domain.AttendeeID `json:"attendee_id"`
	ExternalID string            `json:"external_id"`
	InstanceID string            `json:"instance_id"`
}

// PresenceRegistry tracks which attendees are connected to which relay
// instance so a newcomer learns about members held elsewhere.
type PresenceRegistry struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
}

func NewPresenceRegistry(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *PresenceRegistry {
	return &PresenceRegistry{client: client, instanceID: instanceID, logger: logger}
}

func (r *PresenceRegistry) Register(ctx context.Context, meetingID domain.MeetingID, attendee domain.AttendeeID, externalID string) error {
	data, err := json.Marshal(Member{AttendeeID: attendee, ExternalID: externalID, InstanceID: r.instanceID})
	if err != nil {
		return fmt.Errorf("failed to marshal member: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.meetingKey(meetingID), string(attendee), data)
	pipe.SAdd(ctx, r.instanceKey(r.instanceID), instanceEntry(meetingID, attendee))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register member: %w", err)
	}
	return nil
}

func (r *PresenceRegistry) Unregister(ctx context.Context, meetingID domain.MeetingID, attendee domain.AttendeeID) error {
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, r.meetingKey(meetingID), string(attendee))
	pipe.SRem(ctx, r.instanceKey(r.instanceID), instanceEntry(meetingID, attendee))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to unregister member: %w", err)
	}
	return nil
}

// Members lists every member of the meeting across instances.
func (r *PresenceRegistry) Members(ctx context.Context, meetingID domain.MeetingID) ([]Member, error) {
	fields, err := r.client.HGetAll(ctx, r.meetingKey(meetingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	out := make([]Member, 0, len(fields))
	for _, raw := range fields {
		var m Member
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Cleanup drops every member this instance registered, e.g. on shutdown.
func (r *PresenceRegistry) Cleanup(ctx context.Context) error {
	entries, err := r.client.SMembers(ctx, r.instanceKey(r.instanceID)).Result()
	if err != nil {
		return fmt.Errorf("failed to get instance members: %w", err)
	}

	for _, entry := range entries {
		meetingID, attendee, ok := strings.Cut(entry, "|")
		if !ok {
			continue
		}
		if err := r.client.HDel(ctx, r.meetingKey(domain.MeetingID(meetingID)), attendee).Err(); err != nil {
			r.logger.Warnw("failed to unregister member during cleanup",
				"meeting_id", meetingID,
				"attendee_id", attendee,
				"error", err,
			)
		}
	}
	return r.client.Del(ctx, r.instanceKey(r.instanceID)).Err()
}

func (r *PresenceRegistry) meetingKey(id domain.MeetingID) string {
	return "meetsync:relay:presence:" + string(id)
}

func (r *PresenceRegistry) instanceKey(instanceID string) string {
	return "meetsync:relay:instance:" + instanceID
}

func instanceEntry(meetingID domain.MeetingID, attendee domain.AttendeeID) string {
	return string(meetingID) + "|" + string(attendee)
}

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetsync/internal/core/domain"
)

func TestTopicTTL(t *testing.T) {
	assert.Equal(t, 5*time.Second, TopicState.TTL())
	assert.Equal(t, 5*time.Second, TopicHostControls.TTL())
	assert.Equal(t, time.Second, TopicReaction.TTL())
	assert.False(t, Topic("chat").Valid())
}

func TestStateMessages_RoundTrip(t *testing.T) {
	msgs := []StateMessage{
		AudioState{AttendeeID: "A", Muted: true},
		VideoState{AttendeeID: "A", Enabled: false},
		QualityState{AttendeeID: "A", Level: domain.QualityFair},
		NameState{AttendeeID: "A", Name: "Ada"},
		MeetingDetailsUpdate{Details: domain.MeetingDetails{Title: "Retro", Topic: "Q3"}},
		AssignHost{AttendeeID: "H2"},
	}
	for _, msg := range msgs {
		t.Run(string(msg.StateKind()), func(t *testing.T) {
			raw, err := EncodeState(msg)
			require.NoError(t, err)
			decoded, err := DecodeState(raw)
			require.NoError(t, err)
			assert.Equal(t, msg, decoded)
		})
	}
}

func TestEncodeState_WireShape(t *testing.T) {
	raw, err := EncodeState(AudioState{AttendeeID: "self", Muted: false})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "audio", fields["type"])
	assert.Equal(t, "self", fields["attendeeId"])
	assert.Equal(t, false, fields["muted"])
}

func TestDecodeState_FailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    error
	}{
		{"not json", `{`, ErrMalformed},
		{"missing type", `{"attendeeId":"A","muted":true}`, ErrMalformed},
		{"missing attendee", `{"type":"audio","muted":true}`, ErrMalformed},
		{"bad quality", `{"type":"quality","attendeeId":"A","level":"superb"}`, ErrMalformed},
		{"unknown type", `{"type":"emoji","attendeeId":"A"}`, ErrUnknownVariant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeState([]byte(tc.payload))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeState_DetailsWithoutAttendee(t *testing.T) {
	msg, err := DecodeState([]byte(`{"type":"meeting-details-update","title":"Planning","discussionPoints":"a\nb"}`))
	require.NoError(t, err)

	update, ok := msg.(MeetingDetailsUpdate)
	require.True(t, ok)
	assert.Equal(t, "Planning", update.Details.Title)
	assert.Equal(t, "a\nb", update.Details.DiscussionPoints)
}

func TestHostActions_RoundTrip(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	actions := []HostAction{
		MuteAll{Muted: true},
		MuteAttendee{AttendeeID: "A", Muted: true},
		VideoAttendee{AttendeeID: "A", Enabled: false},
		RemoveAttendee{AttendeeID: "A"},
		PinAttendee{AttendeeID: "B"},
		SetMaxAttendees{Max: 12},
		AssignHost{AttendeeID: "H2"},
		UpdateCollaborators{Collaborators: []domain.AttendeeID{"A", "B"}},
		UpdateCollaborators{Collaborators: []domain.AttendeeID{}},
	}
	for _, action := range actions {
		t.Run(string(action.Action()), func(t *testing.T) {
			raw, err := EncodeHostAction("H1", action, at)
			require.NoError(t, err)

			env, err := DecodeHostControl(raw)
			require.NoError(t, err)
			assert.Equal(t, action, env.Action)
			assert.Equal(t, domain.AttendeeID("H1"), env.HostID)
			assert.True(t, at.Equal(env.Timestamp))
		})
	}
}

func TestEncodeHostAction_WireShape(t *testing.T) {
	raw, err := EncodeHostAction("H1", RemoveAttendee{AttendeeID: "A"}, time.UnixMilli(42))
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"type":"host-action","action":"remove-attendee","data":"A","hostId":"H1","timestamp":42}`,
		string(raw))
}

func TestDecodeHostControl_DistinguishedAssignHost(t *testing.T) {
	raw, err := EncodeAssignHost("H2")
	require.NoError(t, err)

	env, err := DecodeHostControl(raw)
	require.NoError(t, err)
	assert.Equal(t, AssignHost{AttendeeID: "H2"}, env.Action)
}

func TestDecodeHostControl_FailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    error
	}{
		{"garbage", `nope`, ErrMalformed},
		{"missing type", `{"action":"mute-all","data":true}`, ErrMalformed},
		{"missing action", `{"type":"host-action","data":true}`, ErrMalformed},
		{"unknown action", `{"type":"host-action","action":"kick-everyone","data":true}`, ErrUnknownVariant},
		{"unknown envelope", `{"type":"chat","action":"mute-all"}`, ErrUnknownVariant},
		{"mute-all without data", `{"type":"host-action","action":"mute-all"}`, ErrMalformed},
		{"mute-attendee without target", `{"type":"host-action","action":"mute-attendee","data":{"muted":true}}`, ErrMalformed},
		{"collaborators not array", `{"type":"host-action","action":"update-collaborators","data":"A,B"}`, ErrMalformed},
		{"collaborators null", `{"type":"host-action","action":"update-collaborators","data":null}`, ErrMalformed},
		{"five collaborators", `{"type":"host-action","action":"update-collaborators","data":["A","B","C","D","E"]}`, ErrMalformed},
		{"assign-host without id", `{"type":"assign-host"}`, ErrMalformed},
		{"zero max attendees", `{"type":"host-action","action":"set-max-attendees","data":0}`, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeHostControl([]byte(tc.payload))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecodeHostControl_CollaboratorsNormalized(t *testing.T) {
	env, err := DecodeHostControl([]byte(
		`{"type":"host-action","action":"update-collaborators","data":[" A","B","A","","C"]}`))
	require.NoError(t, err)
	assert.Equal(t, UpdateCollaborators{Collaborators: []domain.AttendeeID{"A", "B", "C"}}, env.Action)
}

func TestTarget(t *testing.T) {
	id, ok := Target(MuteAttendee{AttendeeID: "A"})
	assert.True(t, ok)
	assert.Equal(t, domain.AttendeeID("A"), id)

	_, ok = Target(MuteAll{Muted: true})
	assert.False(t, ok)
}

func TestReaction(t *testing.T) {
	r, err := DecodeReaction(EncodeReaction("LOVE"))
	require.NoError(t, err)
	assert.Equal(t, "LOVE", r)

	_, err = DecodeReaction([]byte("  "))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeReaction([]byte{0xff, 0xfe})
	assert.ErrorIs(t, err, ErrMalformed)
}

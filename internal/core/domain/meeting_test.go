package domain

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinInfo_RoundTrip(t *testing.T) {
	info := JoinInfo{
		Meeting:        Meeting{MeetingID: "m-1", ExternalMeetingID: "room-a", MediaRegion: "local"},
		Attendee:       AttendeeCredentials{AttendeeID: "a-1", ExternalUserID: "user-1", JoinToken: "tok"},
		IsHost:         true,
		MaxAttendees:   10,
		HostAttendeeID: "a-1",
		Collaborators:  []AttendeeID{"a-2"},
		MeetingDetails: &MeetingDetails{Title: "Standup"},
	}

	encoded, err := EncodeJoinInfo(info)
	require.NoError(t, err)

	decoded, err := DecodeJoinInfo(encoded)
	require.NoError(t, err)
	assert.Equal(t, info, decoded)
}

func TestJoinInfo_UsesOriginalFieldNames(t *testing.T) {
	raw := `{"Meeting":{"MeetingId":"m-9"},"Attendee":{"AttendeeId":"a-9","ExternalUserId":"u","JoinToken":"t"},` +
		`"isHost":false,"maxAttendees":4,"isGroupCall":true,"hostAttendeeId":"h","collaborators":["c1"]}`

	info, err := DecodeJoinInfo(base64.StdEncoding.EncodeToString([]byte(raw)))
	require.NoError(t, err)
	assert.Equal(t, MeetingID("m-9"), info.Meeting.MeetingID)
	assert.Equal(t, AttendeeID("a-9"), info.Attendee.AttendeeID)
	assert.Equal(t, AttendeeID("h"), info.HostAttendeeID)
	assert.True(t, info.IsGroupCall)
	assert.Nil(t, info.MeetingDetails)
}

func TestDecodeJoinInfo_Invalid(t *testing.T) {
	cases := map[string]string{
		"not base64":  "%%%",
		"not json":    base64.StdEncoding.EncodeToString([]byte("nope")),
		"missing ids": base64.StdEncoding.EncodeToString([]byte(`{"isHost":true}`)),
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeJoinInfo(input)
			assert.ErrorIs(t, err, ErrInvalidJoinInfo)
		})
	}
}

func TestMeetingSettings_Admit(t *testing.T) {
	s := MeetingSettings{MaxAttendees: 2}

	require.NoError(t, s.Admit())
	assert.False(t, s.IsGroupCall)
	require.NoError(t, s.Admit())
	assert.True(t, s.IsGroupCall)
	assert.ErrorIs(t, s.Admit(), ErrMeetingFull)
	assert.Equal(t, 2, s.CurrentAttendees)
}

func TestNewAttendee_Defaults(t *testing.T) {
	a := NewAttendee("0123456789abcdef", "user-x")

	assert.Equal(t, "01234567", a.DisplayName)
	assert.Equal(t, QualityGood, a.Quality)
	assert.False(t, a.AudioMuted)
	assert.False(t, a.VideoOn)
}

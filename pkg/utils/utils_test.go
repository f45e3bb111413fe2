package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh", ShortID("abcdefgh-1234"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "", ShortID(""))
}

func TestGenerateIDs(t *testing.T) {
	a, b := GenerateMeetingID(), GenerateMeetingID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
	assert.True(t, strings.HasPrefix(GenerateRequestID(), "req_"))
	assert.True(t, strings.HasPrefix(GenerateExternalUserID(""), "user-"))
}

func TestSanitizeAndTruncate(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hel\x00lo \r"))
	assert.Equal(t, "héll", TruncateString("héllo", 4))
	assert.Equal(t, "ok", TruncateString("ok", 10))
	assert.Equal(t, "A", FirstInitial("  alice"))
	assert.Equal(t, "", FirstInitial("   "))
}

func TestMillis(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	assert.Equal(t, int64(1_700_000_000_123), UnixMillis(now))
	assert.True(t, FromUnixMillis(UnixMillis(now)).Equal(now))
	assert.True(t, FromUnixMillis(0).IsZero())
	assert.Equal(t, int64(5000), DurationMillis(5*time.Second))
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, IsExpired(time.Time{}, now))
	assert.False(t, IsExpired(now.Add(time.Second), now))
	assert.True(t, IsExpired(now.Add(-time.Millisecond), now))
}

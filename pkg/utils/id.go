package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateMeetingID returns a fresh meeting identifier.
func GenerateMeetingID() string {
	return uuid.NewString()
}

// GenerateAttendeeID returns a fresh attendee identifier.
func GenerateAttendeeID() string {
	return uuid.NewString()
}

// GenerateExternalUserID mirrors the registry's default external user id.
func GenerateExternalUserID(prefix string) string {
	if prefix == "" {
		prefix = "user"
	}
	return fmt.Sprintf("%s-%s", prefix, ShortID(uuid.NewString()))
}

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GenerateInstanceID names a relay process when none is configured.
func GenerateInstanceID(prefix string) string {
	return prefix + "-" + ShortID(uuid.NewString())
}

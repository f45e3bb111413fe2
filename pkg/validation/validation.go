package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IDRegex matches meeting and attendee identifiers.
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// RoomRegex matches room names used in join links.
	RoomRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

const (
	MaxIDLength          = 64
	MaxRoomLength        = 64
	MaxDisplayNameLength = 64
	MaxAttendeesCeiling  = 250
	MaxDetailsLength     = 4096
)

func ValidateMeetingID(id string) error {
	return validateID(id, "meetingId")
}

func ValidateAttendeeID(id string) error {
	return validateID(id, "attendeeId")
}

func validateID(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", field, MaxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", field)
	}
	return nil
}

// ValidateRoom validates a room name.
func ValidateRoom(room string) error {
	if room == "" {
		return fmt.Errorf("room is required")
	}
	if len(room) > MaxRoomLength {
		return fmt.Errorf("room is too long (max %d characters)", MaxRoomLength)
	}
	if !RoomRegex.MatchString(room) {
		return fmt.Errorf("room contains invalid characters")
	}
	return nil
}

func ValidateMaxAttendees(n int) error {
	if n < 1 || n > MaxAttendeesCeiling {
		return fmt.Errorf("maxAttendees must be between 1 and %d", MaxAttendeesCeiling)
	}
	return nil
}

func ValidateDisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	return ValidateStringLength(name, 1, MaxDisplayNameLength, "name")
}

// ValidateStringLength checks the rune length of s.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	n := utf8.RuneCountInString(s)
	if n < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if n > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}

// ParseIDList splits a comma separated list, trims each entry, drops empty
// entries and duplicates. Order of first appearance is kept.
func ParseIDList(raw string) []string {
	return NormalizeIDList(strings.Split(raw, ","))
}

// NormalizeIDList trims, drops empty entries and deduplicates ids.
func NormalizeIDList(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CountNonEmpty counts entries that are not blank.
func CountNonEmpty(ids []string) int {
	n := 0
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			n++
		}
	}
	return n
}

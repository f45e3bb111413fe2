package domain

import "errors"

var (
	ErrMeetingNotFound  = errors.New("meeting not found")
	ErrHostNotFound     = errors.New("host not found")
	ErrMeetingFull      = errors.New("meeting is full")
	ErrNotHost          = errors.New("not the current host")
	ErrNotPrivileged    = errors.New("not privileged")
	ErrTooManyCollabs   = errors.New("too many collaborators")
	ErrInvalidJoinInfo  = errors.New("invalid join info")
	ErrAttendeeNotFound = errors.New("attendee not found")
)

// MaxCollaborators caps the delegated privilege set.
const MaxCollaborators = 4

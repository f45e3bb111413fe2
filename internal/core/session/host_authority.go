package session

import (
	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
)

// HostAuthority tracks the host-of-record as this peer believes it, the
// collaborator set and the advisory attendee cap.
type HostAuthority struct {
	self          domain.AttendeeID
	host          domain.AttendeeID
	collaborators []domain.AttendeeID
	maxAttendees  int
}

func NewHostAuthority(self, host domain.AttendeeID, collaborators []domain.AttendeeID, maxAttendees int) *HostAuthority {
	h := &HostAuthority{self: self, host: host, maxAttendees: maxAttendees}
	if len(collaborators) <= domain.MaxCollaborators {
		h.collaborators = append([]domain.AttendeeID{}, collaborators...)
	}
	return h
}

// SetHost adopts id and reports whether it differs from the previous value.
func (h *HostAuthority) SetHost(id domain.AttendeeID) bool {
	if h.host == id {
		return false
	}
	h.host = id
	return true
}

func (h *HostAuthority) Host() domain.AttendeeID {
	return h.host
}

func (h *HostAuthority) IsHost() bool {
	return h.host != "" && h.host == h.self
}

func (h *HostAuthority) IsCollaborator(id domain.AttendeeID) bool {
	for _, c := range h.collaborators {
		if c == id {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether id may act on other attendees.
func (h *HostAuthority) IsPrivileged(id domain.AttendeeID) bool {
	if id == "" {
		return false
	}
	return id == h.host || h.IsCollaborator(id)
}

func (h *HostAuthority) Collaborators() []domain.AttendeeID {
	return append([]domain.AttendeeID{}, h.collaborators...)
}

// ReplaceCollaborators swaps in ids wholesale. A set above the cap is
// refused and the current set kept.
func (h *HostAuthority) ReplaceCollaborators(ids []domain.AttendeeID) error {
	if len(ids) > domain.MaxCollaborators {
		return domain.ErrTooManyCollabs
	}
	h.collaborators = append([]domain.AttendeeID{}, ids...)
	return nil
}

func (h *HostAuthority) SetMaxAttendees(n int) {
	h.maxAttendees = n
}

func (h *HostAuthority) MaxAttendees() int {
	return h.maxAttendees
}

// Authorize is the single privilege check for host actions. Host
// reassignment and collaborator changes need the host; everything else needs
// host or collaborator.
func (h *HostAuthority) Authorize(actor domain.AttendeeID, action protocol.ActionKind) error {
	switch action {
	case protocol.ActionAssignHost, protocol.ActionUpdateCollaborators:
		if actor == "" || actor != h.host {
			return domain.ErrNotHost
		}
		return nil
	default:
		if !h.IsPrivileged(actor) {
			return domain.ErrNotPrivileged
		}
		return nil
	}
}

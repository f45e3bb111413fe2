package session

import (
	"sort"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
	"meetsync/pkg/utils"
)

// Roster holds one record per present attendee. It is owned by the session
// loop and is not safe for concurrent use.
type Roster struct {
	attendees map[domain.AttendeeID]*domain.Attendee
	// profileNames outlive presence; names learned from broadcasts do not.
	profileNames map[domain.AttendeeID]string
}

func NewRoster() *Roster {
	return &Roster{
		attendees:    make(map[domain.AttendeeID]*domain.Attendee),
		profileNames: make(map[domain.AttendeeID]string),
	}
}

// Upsert inserts a default record for id unless one exists.
func (r *Roster) Upsert(id domain.AttendeeID, externalID string) (*domain.Attendee, bool) {
	if a, ok := r.attendees[id]; ok {
		return a, false
	}
	a := domain.NewAttendee(id, externalID)
	if name, ok := r.profileNames[id]; ok {
		a.DisplayName = name
	}
	r.attendees[id] = a
	return a, true
}

// Remove deletes id. A later Upsert starts from defaults again, keeping
// only a profile name.
func (r *Roster) Remove(id domain.AttendeeID) bool {
	if _, ok := r.attendees[id]; !ok {
		return false
	}
	delete(r.attendees, id)
	return true
}

func (r *Roster) Get(id domain.AttendeeID) (*domain.Attendee, bool) {
	a, ok := r.attendees[id]
	return a, ok
}

func (r *Roster) Len() int {
	return len(r.attendees)
}

// Apply merges a replicated state message. Messages about attendees that are
// not present are refused with domain.ErrAttendeeNotFound so no ghost entry
// is created. Applying the same message twice is a no-op.
func (r *Roster) Apply(msg protocol.StateMessage) (bool, error) {
	var id domain.AttendeeID
	switch m := msg.(type) {
	case protocol.AudioState:
		id = m.AttendeeID
	case protocol.VideoState:
		id = m.AttendeeID
	case protocol.QualityState:
		id = m.AttendeeID
	case protocol.NameState:
		id = m.AttendeeID
	default:
		return false, nil
	}

	a, ok := r.attendees[id]
	if !ok {
		return false, domain.ErrAttendeeNotFound
	}
	before := *a

	switch m := msg.(type) {
	case protocol.AudioState:
		a.AudioMuted = m.Muted
	case protocol.VideoState:
		a.VideoOn = m.Enabled
	case protocol.QualityState:
		a.Quality = m.Level
	case protocol.NameState:
		a.DisplayName = displayName(id, m.Name)
	}
	return *a != before, nil
}

// SeedNames records display names from stored profiles. Present attendees
// are renamed immediately, the rest when they appear.
func (r *Roster) SeedNames(profiles map[domain.AttendeeID]domain.Profile) {
	for id, p := range profiles {
		if p.Name == "" {
			continue
		}
		r.profileNames[id] = p.Name
		if a, ok := r.attendees[id]; ok {
			a.DisplayName = p.Name
		}
	}
}

// SetPinned marks id as the only pinned attendee.
func (r *Roster) SetPinned(id domain.AttendeeID) {
	for aid, a := range r.attendees {
		a.Pinned = aid == id
	}
}

func (r *Roster) Name(id domain.AttendeeID) string {
	if a, ok := r.attendees[id]; ok {
		return a.DisplayName
	}
	if name, ok := r.profileNames[id]; ok {
		return name
	}
	return utils.ShortID(string(id))
}

// Snapshot copies every record, ordered by id.
func (r *Roster) Snapshot() []domain.Attendee {
	out := make([]domain.Attendee, 0, len(r.attendees))
	for _, a := range r.attendees {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Roster) IDs() []domain.AttendeeID {
	ids := make([]domain.AttendeeID, 0, len(r.attendees))
	for id := range r.attendees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func displayName(id domain.AttendeeID, name string) string {
	if name == "" {
		return utils.ShortID(string(id))
	}
	return name
}

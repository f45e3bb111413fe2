package domain

// AttendeeView is an Attendee with derived role flags.
type AttendeeView struct {
	Attendee
	IsHost         bool
	IsCollaborator bool
	IsSelf         bool
}

// SessionView is an immutable snapshot of a MeetingSession for the UI.
// Permission flags are projections of the same authorization function the
// session applies when dispatching actions.
type SessionView struct {
	SelfID                 AttendeeID
	HostID                 AttendeeID
	IsHost                 bool
	Privileged             bool
	CanAssignHost          bool
	CanManageCollaborators bool
	Collaborators          []AttendeeID
	Attendees              []AttendeeView
	Placements             []Placement
	Details                MeetingDetails
	IsGroupCall            bool
	MaxAttendees           int
	AudioMuted             bool
	VideoOn                bool
	Ended                  bool
}

func (v SessionView) Attendee(id AttendeeID) (AttendeeView, bool) {
	for _, a := range v.Attendees {
		if a.ID == id {
			return a, true
		}
	}
	return AttendeeView{}, false
}

func (v SessionView) PlacementFor(tile TileID) (Placement, bool) {
	for _, p := range v.Placements {
		if p.TileID == tile {
			return p, true
		}
	}
	return Placement{}, false
}

package domain

type TileID int

// TileState is a tile event as reported by the media engine.
type TileState struct {
	TileID        TileID
	BoundAttendee AttendeeID
	Local         bool
	Active        bool
	IsContent     bool
}

type SlotKind string

const (
	SlotMainStage    SlotKind = "main-stage"
	SlotLocalSidebar SlotKind = "local-sidebar"
	SlotGridCell     SlotKind = "grid-cell"
)

// Placement is where one tile renders. Grid cells are keyed by tile id.
type Placement struct {
	TileID   TileID
	Attendee AttendeeID
	Slot     SlotKind
	Visible  bool
}

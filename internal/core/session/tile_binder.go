package session

import (
	"sort"

	"meetsync/internal/core/domain"
)

// PlacementChange is a command for the media engine: bind the tile to the
// placement, or unbind it.
type PlacementChange struct {
	Placement domain.Placement
	Unbind    bool
}

type trackedTile struct {
	attendee domain.AttendeeID
	local    bool
	active   bool
}

// TileBinder maps engine tiles to attendees and screen slots. The host's
// tile takes the main stage; the local tile sits in the sidebar; every
// other remote tile gets its own grid cell. It is owned by the session loop.
type TileBinder struct {
	tiles     map[domain.TileID]*trackedTile
	gridCells map[domain.TileID]struct{}
	localTile domain.TileID
	hasLocal  bool
	mainStage domain.TileID
	hasMain   bool
	host      domain.AttendeeID

	placements map[domain.TileID]domain.Placement
}

func NewTileBinder(host domain.AttendeeID) *TileBinder {
	return &TileBinder{
		tiles:      make(map[domain.TileID]*trackedTile),
		gridCells:  make(map[domain.TileID]struct{}),
		host:       host,
		placements: make(map[domain.TileID]domain.Placement),
	}
}

// Update records a tile event. Content-share tiles are ignored.
func (b *TileBinder) Update(state domain.TileState) []PlacementChange {
	if state.IsContent {
		return nil
	}

	if state.Local {
		if b.hasLocal && b.localTile != state.TileID {
			delete(b.tiles, b.localTile)
		}
		b.localTile, b.hasLocal = state.TileID, true
	}
	b.tiles[state.TileID] = &trackedTile{
		attendee: state.BoundAttendee,
		local:    state.Local,
		active:   state.Active,
	}
	return b.reconcile()
}

// Remove forgets a tile. For a tracked remote tile it returns the attendee
// whose video stopped.
func (b *TileBinder) Remove(tile domain.TileID) (attendee domain.AttendeeID, remote bool, changes []PlacementChange) {
	t, ok := b.tiles[tile]
	if !ok {
		return "", false, nil
	}
	b.drop(tile)
	return t.attendee, !t.local, b.reconcile()
}

// RemoveAttendee drops every tile bound to id.
func (b *TileBinder) RemoveAttendee(id domain.AttendeeID) []PlacementChange {
	for tileID, t := range b.tiles {
		if t.attendee == id {
			b.drop(tileID)
		}
	}
	return b.reconcile()
}

// SetHost re-homes tiles for a new host: its tile moves to the main stage
// and the previous occupant goes back to its own slot.
func (b *TileBinder) SetHost(id domain.AttendeeID) []PlacementChange {
	b.host = id
	return b.reconcile()
}

func (b *TileBinder) TilesFor(id domain.AttendeeID) []domain.TileID {
	var out []domain.TileID
	for tileID, t := range b.tiles {
		if t.attendee == id {
			out = append(out, tileID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Placements lists the current placement of every tracked tile by tile id.
func (b *TileBinder) Placements() []domain.Placement {
	out := make([]domain.Placement, 0, len(b.placements))
	for _, p := range b.placements {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TileID < out[j].TileID })
	return out
}

// hasGridCell reports whether a grid cell exists for tile. Cells are made on
// first sight and survive a stint on the main stage.
func (b *TileBinder) hasGridCell(tile domain.TileID) bool {
	_, ok := b.gridCells[tile]
	return ok
}

func (b *TileBinder) drop(tile domain.TileID) {
	delete(b.tiles, tile)
	delete(b.gridCells, tile)
	if b.hasLocal && b.localTile == tile {
		b.hasLocal = false
	}
}

// reconcile recomputes every placement and returns what changed.
func (b *TileBinder) reconcile() []PlacementChange {
	b.electMainStage()

	var changes []PlacementChange
	for tileID, prev := range b.placements {
		if _, ok := b.tiles[tileID]; !ok {
			delete(b.placements, tileID)
			changes = append(changes, PlacementChange{Placement: prev, Unbind: true})
		}
	}

	for tileID, t := range b.tiles {
		next := b.place(tileID, t)
		if prev, ok := b.placements[tileID]; ok && prev == next {
			continue
		}
		b.placements[tileID] = next
		changes = append(changes, PlacementChange{Placement: next})
	}

	// Unbinds first and the main stage last, so an engine never sees two
	// tiles on the main stage at once.
	sort.Slice(changes, func(i, j int) bool {
		ci, cj := changes[i], changes[j]
		if ci.Unbind != cj.Unbind {
			return ci.Unbind
		}
		mi := ci.Placement.Slot == domain.SlotMainStage
		mj := cj.Placement.Slot == domain.SlotMainStage
		if mi != mj {
			return mj
		}
		return ci.Placement.TileID < cj.Placement.TileID
	})
	return changes
}

// electMainStage keeps the current main-stage tile while it still belongs
// to the host, otherwise picks the host's lowest tile id.
func (b *TileBinder) electMainStage() {
	if b.hasMain {
		if t, ok := b.tiles[b.mainStage]; ok && b.host != "" && t.attendee == b.host {
			return
		}
	}
	b.hasMain = false
	if b.host == "" {
		return
	}
	for _, tileID := range b.TilesFor(b.host) {
		b.mainStage, b.hasMain = tileID, true
		return
	}
}

func (b *TileBinder) place(tileID domain.TileID, t *trackedTile) domain.Placement {
	p := domain.Placement{TileID: tileID, Attendee: t.attendee, Visible: t.active}
	switch {
	case b.hasMain && b.mainStage == tileID:
		p.Slot = domain.SlotMainStage
	case t.local:
		p.Slot = domain.SlotLocalSidebar
	default:
		b.gridCells[tileID] = struct{}{}
		p.Slot = domain.SlotGridCell
	}
	return p
}

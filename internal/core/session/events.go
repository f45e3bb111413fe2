package session

import (
	"time"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/protocol"
)

// Event is anything the session loop handles. The set is closed; handle
// logs and drops anything it does not recognise.
type Event interface {
	event()
}

// inbound adapters
type presenceEvent struct {
	attendee   domain.AttendeeID
	present    bool
	externalID string
}

type dataEvent struct {
	topic   protocol.Topic
	sender  domain.AttendeeID
	payload []byte
}

type tileUpdateEvent struct {
	state domain.TileState
}

type tileRemovedEvent struct {
	tile domain.TileID
}

type healthEvent struct {
	health domain.ConnectionHealth
	at     time.Time
}

// UI commands
type setAudioEvent struct{ muted bool }
type setVideoEvent struct{ enabled bool }
type setNameEvent struct{ name string }
type assignHostEvent struct{ target domain.AttendeeID }
type updateCollaboratorsEvent struct{ raw string }
type hostActionEvent struct{ action protocol.HostAction }
type reactionEvent struct{ reaction string }
type detailsEvent struct{ details domain.MeetingDetails }
type chooseDeviceEvent struct {
	kind     deviceKind
	deviceID string
}
type leaveEvent struct{}
type pollHostEvent struct{}

// continuations of off-loop calls
type hostFetchedEvent struct {
	epoch   uint64
	host    domain.AttendeeID
	err     error
	initial bool
}

type assignHostResultEvent struct {
	target domain.AttendeeID
	err    error
}

type collaboratorsResultEvent struct {
	requested []domain.AttendeeID
	final     []domain.AttendeeID
	err       error
}

type profilesLoadedEvent struct {
	profiles map[domain.AttendeeID]domain.Profile
	err      error
}

type deviceResultEvent struct {
	kind     deviceKind
	deviceID string
	err      error
}

type removalGraceEvent struct{}

type deviceKind string

const (
	deviceAudio deviceKind = "microphone"
	deviceVideo deviceKind = "camera"
)

func (presenceEvent) event()            {}
func (dataEvent) event()                {}
func (tileUpdateEvent) event()          {}
func (tileRemovedEvent) event()         {}
func (healthEvent) event()              {}
func (setAudioEvent) event()            {}
func (setVideoEvent) event()            {}
func (setNameEvent) event()             {}
func (assignHostEvent) event()          {}
func (updateCollaboratorsEvent) event() {}
func (hostActionEvent) event()          {}
func (reactionEvent) event()            {}
func (detailsEvent) event()             {}
func (chooseDeviceEvent) event()        {}
func (leaveEvent) event()               {}
func (pollHostEvent) event()            {}
func (hostFetchedEvent) event()         {}
func (assignHostResultEvent) event()    {}
func (collaboratorsResultEvent) event() {}
func (profilesLoadedEvent) event()      {}
func (deviceResultEvent) event()        {}
func (removalGraceEvent) event()        {}

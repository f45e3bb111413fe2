package relay

import (
	"sync"
	"time"

	"meetsync/internal/core/domain"
)

type outbound struct {
	frame Frame
	raw   []byte
}

// member is one admitted socket. send is never closed; done signals the
// writer to stop.
type member struct {
	meetingID  domain.MeetingID
	attendeeID domain.AttendeeID
	externalID string

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newMember(meetingID domain.MeetingID, attendee domain.AttendeeID, externalID string, queue int) *member {
	return &member{
		meetingID:  meetingID,
		attendeeID: attendee,
		externalID: externalID,
		send:       make(chan outbound, queue),
		done:       make(chan struct{}),
	}
}

// enqueue never blocks. It reports false when the queue is full or the
// member is gone.
func (m *member) enqueue(out outbound) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.send <- out:
		return true
	default:
		return false
	}
}

func (m *member) close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Hub holds the members of every meeting connected to this instance.
type Hub struct {
	meetings map[domain.MeetingID]map[domain.AttendeeID]*member
	mu       sync.RWMutex

	onDrop func(reason string)
}

func NewHub() *Hub {
	return &Hub{
		meetings: make(map[domain.MeetingID]map[domain.AttendeeID]*member),
		onDrop:   func(string) {},
	}
}

// join adds m and returns the members already present plus the socket m
// replaces, if the same attendee was connected before.
func (h *Hub) join(m *member) (existing []*member, replaced *member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.meetings[m.meetingID]
	if !ok {
		room = make(map[domain.AttendeeID]*member)
		h.meetings[m.meetingID] = room
	}
	replaced = room[m.attendeeID]
	for id, other := range room {
		if id != m.attendeeID {
			existing = append(existing, other)
		}
	}
	room[m.attendeeID] = m
	return existing, replaced
}

// leave removes m unless a newer socket for the same attendee took its
// place. It reports whether m was removed.
func (h *Hub) leave(m *member) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.meetings[m.meetingID]
	if room[m.attendeeID] != m {
		return false
	}
	delete(room, m.attendeeID)
	if len(room) == 0 {
		delete(h.meetings, m.meetingID)
	}
	return true
}

// deliver queues f for every local member of the meeting except the one
// named by except. It returns how many members got it.
func (h *Hub) deliver(meetingID domain.MeetingID, except domain.AttendeeID, f Frame) int {
	raw, err := EncodeFrame(f)
	if err != nil {
		h.onDrop("encode")
		return 0
	}

	h.mu.RLock()
	targets := make([]*member, 0, len(h.meetings[meetingID]))
	for id, m := range h.meetings[meetingID] {
		if id != except {
			targets = append(targets, m)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, m := range targets {
		if m.enqueue(outbound{frame: f, raw: raw}) {
			delivered++
			continue
		}
		h.onDrop("queue_full")
	}
	return delivered
}

func (h *Hub) local(meetingID domain.MeetingID, attendee domain.AttendeeID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.meetings[meetingID][attendee]
	return ok
}

// Count is the number of members connected to this instance.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.meetings {
		n += len(room)
	}
	return n
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, room := range h.meetings {
		for _, m := range room {
			m.close()
		}
	}
}

// stale reports whether a queued frame should be dropped instead of written.
func stale(out outbound, now time.Time) bool {
	return out.frame.Expired(now)
}

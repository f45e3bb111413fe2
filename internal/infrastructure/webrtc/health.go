package webrtc

import (
	"sync"
	"time"

	"github.com/pion/rtp"

	"meetsync/internal/core/domain"
)

// lossCounter follows one RTP stream's sequence numbers and remembers the
// longest run of missing packets since the last reset.
type lossCounter struct {
	started  bool
	lastSeq  uint16
	maxRun   int
	received int
}

func (l *lossCounter) observe(pkt *rtp.Packet) {
	l.received++
	if !l.started {
		l.started = true
		l.lastSeq = pkt.SequenceNumber
		return
	}
	diff := pkt.SequenceNumber - l.lastSeq
	switch {
	case diff == 0:
		return
	case diff >= 0x8000:
		// late or reordered packet
		return
	}
	if run := int(diff) - 1; run > l.maxRun {
		l.maxRun = run
	}
	l.lastSeq = pkt.SequenceNumber
}

func (l *lossCounter) takeMaxRun() int {
	run := l.maxRun
	l.maxRun = 0
	return run
}

// healthMeter turns byte counts and loss runs into ConnectionHealth samples.
type healthMeter struct {
	mu        sync.Mutex
	downBytes int
	upBytes   int
	streams   map[uint32]*lossCounter
	last      time.Time
}

func newHealthMeter(now time.Time) *healthMeter {
	return &healthMeter{streams: make(map[uint32]*lossCounter), last: now}
}

func (h *healthMeter) inbound(pkt *rtp.Packet, size int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downBytes += size
	lc, ok := h.streams[pkt.SSRC]
	if !ok {
		lc = &lossCounter{}
		h.streams[pkt.SSRC] = lc
	}
	lc.observe(pkt)
}

func (h *healthMeter) outbound(size int) {
	h.mu.Lock()
	h.upBytes += size
	h.mu.Unlock()
}

func (h *healthMeter) forget(ssrc uint32) {
	h.mu.Lock()
	delete(h.streams, ssrc)
	h.mu.Unlock()
}

// sample closes the current window.
func (h *healthMeter) sample(now time.Time) domain.ConnectionHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	elapsed := now.Sub(h.last).Seconds()
	h.last = now
	if elapsed <= 0 {
		elapsed = 1
	}

	losses := 0
	for _, lc := range h.streams {
		if run := lc.takeMaxRun(); run > losses {
			losses = run
		}
	}
	health := domain.ConnectionHealth{
		DownlinkKbps:      int(float64(h.downBytes*8) / elapsed / 1000),
		UplinkKbps:        int(float64(h.upBytes*8) / elapsed / 1000),
		ConsecutiveLosses: losses,
	}
	h.downBytes, h.upBytes = 0, 0
	return health
}

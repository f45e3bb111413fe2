package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	"meetsync/internal/core/services"
	"meetsync/internal/infrastructure/distributed"
	"meetsync/internal/infrastructure/middleware"
	"meetsync/pkg/config"
	"meetsync/pkg/tracing"
)

// Server admits ticket-holding sockets and fans data frames out to the
// other members of the same meeting.
type Server struct {
	hub      *Hub
	tickets  *services.TicketService
	metrics  ports.RelayMetrics
	upgrader websocket.Upgrader

	bus      *distributed.EventBus
	presence *distributed.PresenceRegistry

	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	sendQueue      int
	maxMessageSize int64
	newLimiter     func() *rate.Limiter

	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewServer(cfg *config.Config, tickets *services.TicketService, metrics ports.RelayMetrics, logger *zap.SugaredLogger) *Server {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &Server{
		hub:            NewHub(),
		tickets:        tickets,
		metrics:        metrics,
		pingInterval:   cfg.Relay.PingInterval,
		pongTimeout:    cfg.Relay.PongTimeout,
		writeTimeout:   cfg.Relay.WriteTimeout,
		sendQueue:      cfg.Relay.SendQueueSize,
		maxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		newLimiter:     func() *rate.Limiter { return middleware.NewMessageLimiter(cfg) },
		now:            time.Now,
		logger:         logger,
	}
	s.hub.onDrop = metrics.RecordDroppedFrame
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Auth.AllowedOrigins),
	}
	return s
}

// WithCluster fans frames out through redis to the other relay instances.
func (s *Server) WithCluster(bus *distributed.EventBus, presence *distributed.PresenceRegistry) *Server {
	s.bus = bus
	s.presence = presence
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", middleware.TicketMiddleware(s.tickets), s.handleSocket)
}

// Run consumes frames from other instances until ctx is done. Without a
// cluster it only waits.
func (s *Server) Run(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.bus.Subscribe(ctx, nil, s.handleClusterEvent)
}

// Shutdown closes every socket and forgets this instance's members.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.presence != nil {
		return s.presence.Cleanup(ctx)
	}
	return nil
}

func (s *Server) handleSocket(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	m := newMember(claims.MeetingID, claims.AttendeeID, claims.ExternalUserID, s.sendQueue)
	existing, replaced := s.hub.join(m)
	if replaced != nil {
		replaced.close()
		s.logger.Infow("replacing previous socket", "meeting_id", m.meetingID, "attendee_id", m.attendeeID)
	}
	s.metrics.RecordConnection(1)
	s.logger.Infow("attendee connected",
		"meeting_id", m.meetingID,
		"attendee_id", m.attendeeID,
		"reconnect", replaced != nil,
	)

	ctx := c.Request.Context()
	s.announce(ctx, m, existing)

	go s.writePump(conn, m)
	s.readPump(ctx, conn, m)

	if s.hub.leave(m) {
		s.publishPresence(context.Background(), m, false)
	}
	m.close()
	s.metrics.RecordConnection(-1)
	s.logger.Infow("attendee disconnected", "meeting_id", m.meetingID, "attendee_id", m.attendeeID)
}

// announce tells the newcomer who is already there, local and remote, and
// tells everyone else about the newcomer.
func (s *Server) announce(ctx context.Context, m *member, existing []*member) {
	for _, other := range existing {
		s.sendTo(m, PresenceFrame(other.attendeeID, other.externalID, true))
	}
	if s.presence != nil {
		members, err := s.presence.Members(ctx, m.meetingID)
		if err != nil {
			s.logger.Warnw("failed to list remote members", "meeting_id", m.meetingID, "error", err)
		}
		for _, other := range members {
			if other.AttendeeID == m.attendeeID || s.hub.local(m.meetingID, other.AttendeeID) {
				continue
			}
			s.sendTo(m, PresenceFrame(other.AttendeeID, other.ExternalID, true))
		}
	}
	s.publishPresence(ctx, m, true)
}

func (s *Server) publishPresence(ctx context.Context, m *member, present bool) {
	f := PresenceFrame(m.attendeeID, m.externalID, present)
	s.hub.deliver(m.meetingID, m.attendeeID, f)
	s.metrics.RecordFrame(string(KindPresence), string(KindPresence))

	if s.presence != nil {
		var err error
		if present {
			err = s.presence.Register(ctx, m.meetingID, m.attendeeID, m.externalID)
		} else {
			err = s.presence.Unregister(ctx, m.meetingID, m.attendeeID)
		}
		if err != nil {
			s.logger.Warnw("failed to update presence registry", "attendee_id", m.attendeeID, "error", err)
		}
	}
	s.publishCluster(ctx, m.meetingID, f)
}

func (s *Server) sendTo(m *member, f Frame) {
	raw, err := EncodeFrame(f)
	if err != nil {
		return
	}
	if !m.enqueue(outbound{frame: f, raw: raw}) {
		s.metrics.RecordDroppedFrame("queue_full")
	}
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, m *member) {
	if s.maxMessageSize > 0 {
		conn.SetReadLimit(s.maxMessageSize)
	}
	conn.SetReadDeadline(s.now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.now().Add(s.pongTimeout))
	})

	limiter := s.newLimiter()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from socket", "attendee_id", m.attendeeID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(s.now().Add(s.pongTimeout))

		if limiter != nil && !limiter.Allow() {
			s.metrics.RecordDroppedFrame("rate_limited")
			s.sendTo(m, ErrorFrame("rate limited"))
			continue
		}
		s.handleInbound(ctx, m, raw)
	}
}

func (s *Server) handleInbound(ctx context.Context, m *member, raw []byte) {
	f, err := DecodeFrame(raw)
	if err != nil {
		s.metrics.RecordDroppedFrame("malformed")
		s.sendTo(m, ErrorFrame(err.Error()))
		return
	}
	if f.Kind != KindData {
		s.metrics.RecordDroppedFrame("unsupported")
		s.sendTo(m, ErrorFrame("only data frames may be sent"))
		return
	}

	// Sender identity and timestamp come from the relay, not the client.
	f.SenderID = m.attendeeID
	f.TS = s.now().UnixMilli()
	// The topic TTL is a ceiling; clients may only shorten it.
	if limit := f.Topic.TTL().Milliseconds(); f.TTLMs <= 0 || f.TTLMs > limit {
		f.TTLMs = limit
	}

	ctx, span := tracing.TraceRelayFrame(ctx, string(f.Kind), string(f.Topic), string(m.meetingID), string(m.attendeeID))
	defer span.End()

	s.metrics.RecordFrame(string(f.Kind), string(f.Topic))
	n := s.hub.deliver(m.meetingID, m.attendeeID, f)
	s.logger.Debugw("relayed frame",
		"meeting_id", m.meetingID,
		"attendee_id", m.attendeeID,
		"topic", f.Topic,
		"local_recipients", n,
	)
	s.publishCluster(ctx, m.meetingID, f)
}

func (s *Server) writePump(conn *websocket.Conn, m *member) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case out := <-m.send:
			if stale(out, s.now()) {
				s.metrics.RecordDroppedFrame("expired")
				continue
			}
			conn.SetWriteDeadline(s.now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, out.raw); err != nil {
				s.logger.Infow("error writing to socket", "attendee_id", m.attendeeID, "error", err)
				m.close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(s.now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.close()
				return
			}

		case <-m.done:
			conn.SetWriteDeadline(s.now().Add(s.writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Server) publishCluster(ctx context.Context, meetingID domain.MeetingID, f Frame) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	err = s.bus.Publish(ctx, &distributed.Event{
		Type:      distributed.EventRelayFrame,
		MeetingID: meetingID,
		Payload:   payload,
	})
	if err != nil {
		s.logger.Warnw("failed to publish frame to cluster", "meeting_id", meetingID, "error", err)
	}
}

func (s *Server) handleClusterEvent(event *distributed.Event) error {
	if event.Type != distributed.EventRelayFrame {
		return nil
	}
	f, err := DecodeFrame(event.Payload)
	if err != nil {
		return err
	}

	except := f.SenderID
	if f.Kind == KindPresence {
		except = f.AttendeeID
	}
	if f.Expired(s.now()) {
		s.metrics.RecordDroppedFrame("expired")
		return nil
	}
	s.hub.deliver(event.MeetingID, except, f)
	return nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordConnection(int)       {}
func (nopMetrics) RecordFrame(string, string) {}
func (nopMetrics) RecordDroppedFrame(string)  {}

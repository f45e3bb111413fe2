package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"meetsync/internal/core/domain"
	"meetsync/internal/core/ports"
	"meetsync/internal/core/protocol"
)

// Client is a peer's connection to the relay. It implements
// ports.DataChannel and feeds inbound frames to a ports.DataSink.
type Client struct {
	url    string
	ticket string
	self   domain.AttendeeID

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	writeTimeout time.Duration
	now          func() time.Time
	logger       *zap.SugaredLogger
}

// NewClient targets relayURL (ws:// or wss://, path included) and
// authenticates with ticket.
func NewClient(relayURL, ticket string, self domain.AttendeeID, logger *zap.SugaredLogger) *Client {
	return &Client{
		url:          relayURL,
		ticket:       ticket,
		self:         self,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
		logger:       logger,
	}
}

func (c *Client) Dial(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("ticket", c.ticket)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("relay rejected ticket: %w", err)
		}
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.logger.Infow("connected to relay", "url", c.url, "attendee_id", c.self)
	return nil
}

// Run reads frames into sink until the socket closes or ctx is done.
func (c *Client) Run(ctx context.Context, sink ports.DataSink) error {
	conn := c.current()
	if conn == nil {
		return ports.ErrTransportUnavailable
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer c.disconnect(conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("relay read: %w", err)
		}

		f, err := DecodeFrame(raw)
		if err != nil {
			c.logger.Debugw("dropping relay frame", "error", err)
			continue
		}
		switch f.Kind {
		case KindPresence:
			if f.AttendeeID == c.self {
				continue
			}
			sink.OnPresence(f.AttendeeID, f.Present, f.ExternalID)
		case KindData:
			// Expiry is enforced by the relay against its own clock.
			if f.SenderID == c.self {
				continue
			}
			sink.OnDataMessage(f.Topic, f.SenderID, f.Payload)
		case KindError:
			c.logger.Warnw("relay reported error", "message", f.Message)
		}
	}
}

// Send is best effort: it fails with ports.ErrTransportUnavailable while
// the socket is down.
func (c *Client) Send(ctx context.Context, topic protocol.Topic, payload []byte, ttl time.Duration) error {
	conn := c.current()
	if conn == nil {
		return ports.ErrTransportUnavailable
	}

	raw, err := EncodeFrame(DataFrame(topic, payload, ttl, c.self, c.now()))
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := c.now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrTransportUnavailable, err)
	}
	return nil
}

func (c *Client) Close() error {
	conn := c.current()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.SetWriteDeadline(c.now().Add(c.writeTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.disconnect(conn)
	return nil
}

func (c *Client) current() *websocket.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) disconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close()
}

// Package wsclient is the client side of the signaling WebSocket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("signaling connection closed")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

type Options struct {
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Client holds one signaling connection. Incoming is closed when the
// read loop exits.
type Client struct {
	conn     *websocket.Conn
	incoming chan domain.Envelope
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
	opts     Options

	mu  sync.Mutex
	err error
}

// Endpoint builds the /ws URL for server, accepting http(s) or ws(s)
// base URLs.
func Endpoint(server string, room domain.RoomID, name string, id domain.MemberID) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := url.Values{}
	if room != "" {
		q.Set("room", string(room))
	}
	if name != "" {
		q.Set("name", name)
	}
	if id != "" {
		q.Set("id", string(id))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to endpoint and starts the pumps.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("failed to connect: id already connected: %w", err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	c := &Client{
		conn:     conn,
		incoming: make(chan domain.Envelope, opts.SendBuffer),
		outgoing: make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
		opts:     opts,
	}
	pongWait := opts.PingPeriod * 10 / 9
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readPump(pongWait)
	go c.writePump()
	return c, nil
}

func (c *Client) readPump(pongWait time.Duration) {
	defer func() {
		c.Close()
		close(c.incoming)
	}()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.setErr(err)
				}
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		env, err := domain.ParseEnvelope(data)
		if err != nil {
			log.Warn().Str("module", "wsclient").Err(err).Msg("dropping malformed frame")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.setErr(err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.setErr(err)
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// Send encodes and queues an envelope. It blocks while the send buffer
// is full.
func (c *Client) Send(t domain.MessageType, dst domain.MemberID, payload any) error {
	frame, err := domain.EncodeEnvelope(t, "", dst, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) Incoming() <-chan domain.Envelope { return c.incoming }

// Err reports why the connection ended, or nil after a clean close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// Close stops both pumps. Safe to call repeatedly.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

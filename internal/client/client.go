// Package client runs one member's side of a call: it joins a room over
// the signaling transport, keeps a peer session per remote member and
// reports what happens as Events.
package client

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/e2ee"
	"github.com/dkeye/peercall/internal/media"
	"github.com/dkeye/peercall/internal/peer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const eventBuffer = 256

// Signaler is the signaling transport, see wsclient.Client.
type Signaler interface {
	Send(t domain.MessageType, dst domain.MemberID, payload any) error
	Incoming() <-chan domain.Envelope
	Close() error
}

// ConnFactory opens a peer connection towards remote.
type ConnFactory func(remote domain.MemberID, servers []domain.ICEServer) (peer.Connection, error)

type Capabilities struct {
	Encryption bool
}

type Options struct {
	Room domain.RoomID
	Name string
	Caps Capabilities
	// Codec is shared with the connections built by the ConnFactory.
	Codec *e2ee.Codec
	// Session carries timings and the initiator rule; identity,
	// transport and callbacks are filled in per peer.
	Session peer.Config
}

type peerEntry struct {
	member domain.Member
	sess   *peer.Session
	// announced is false while the entry only exists because of an early
	// signal; the joined event waits for the member's name.
	announced bool
}

type Client struct {
	sig     Signaler
	newConn ConnFactory
	opts    Options
	media   *media.Manager
	events  chan Event
	stop    chan struct{}
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	self  domain.Member
	ice   []domain.ICEServer
	peers map[domain.MemberID]*peerEntry
}

func New(sig Signaler, newConn ConnFactory, opts Options) *Client {
	c := &Client{
		sig:     sig,
		newConn: newConn,
		opts:    opts,
		events:  make(chan Event, eventBuffer),
		stop:    make(chan struct{}),
		log:     log.With().Str("module", "client").Logger(),
		peers:   make(map[domain.MemberID]*peerEntry),
	}
	c.media = media.NewManager(c.onMediaEvent)
	return c
}

// Events delivers UI events until Run has returned.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) Self() domain.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Peers returns the remote members with a live session.
// PeerInfo is a point-in-time view of one remote member.
type PeerInfo struct {
	Member     domain.Member
	State      peer.State
	Receiving  int
	Advertised []string
}

func (c *Client) Peers() []PeerInfo {
	type snap struct {
		member domain.Member
		sess   *peer.Session
	}
	c.mu.Lock()
	snaps := make([]snap, 0, len(c.peers))
	for _, e := range c.peers {
		snaps = append(snaps, snap{member: e.member, sess: e.sess})
	}
	c.mu.Unlock()

	out := make([]PeerInfo, 0, len(snaps))
	for _, sn := range snaps {
		info := PeerInfo{
			Member:     sn.member,
			Receiving:  len(c.media.RemoteTracks(sn.member.ID)),
			Advertised: c.media.Advertised(sn.member.ID),
		}
		if sn.sess != nil {
			info.State = sn.sess.State()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Member.ID < out[j].Member.ID })
	return out
}

// Run announces the client to the room and processes signaling until
// ctx is done, the room is left or the transport fails. All sessions
// are closed before it returns.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.ctx, c.cancel = ctx, cancel
	c.mu.Unlock()
	defer close(c.stop)

	if err := c.sig.Send(domain.MessageTypeReady, "", domain.ReadyPayload{Room: c.opts.Room, Name: c.opts.Name}); err != nil {
		return newOpError("ready", "", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.readLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return c.sig.Close()
	})
	err := g.Wait()
	c.closeAll()
	return err
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-c.sig.Incoming():
			if !ok {
				return newOpError("signaling", "", ErrSignalingClosed)
			}
			if done := c.dispatch(env); done {
				return nil
			}
		}
	}
}

// dispatch handles one envelope and reports whether the room was left.
func (c *Client) dispatch(env domain.Envelope) bool {
	switch env.Type {
	case domain.MessageTypeUsers:
		var p domain.UsersPayload
		if err := env.DecodePayload(&p); err != nil {
			c.log.Warn().Err(err).Msg("bad users payload")
			return false
		}
		c.onUsers(p)
	case domain.MessageTypeSignal:
		var p domain.SignalPayload
		if err := env.DecodePayload(&p); err != nil {
			c.log.Warn().Err(err).Str("src", string(env.Src)).Msg("bad signal payload")
			return false
		}
		c.onSignal(env.Src, p)
	case domain.MessageTypeMessage:
		var m domain.ChatMessage
		if err := env.DecodePayload(&m); err != nil {
			c.log.Warn().Err(err).Msg("bad chat payload")
			return false
		}
		c.emit(Event{Type: EventChat, Peer: m.From, Name: m.Username, Chat: &m})
	case domain.MessageTypeError:
		var p domain.ErrorPayload
		_ = env.DecodePayload(&p)
		c.log.Warn().Str("error", p.Error).Msg("server error")
		c.emit(Event{Type: EventError, Err: errors.New(p.Error)})
	case domain.MessageTypeHangUp:
		c.log.Info().Msg("left room")
		return true
	case domain.MessageTypePong:
	default:
		c.log.Debug().Str("type", string(env.Type)).Msg("ignoring envelope")
	}
	return false
}

func (c *Client) onUsers(p domain.UsersPayload) {
	switch p.Kind {
	case domain.UsersSnapshot:
		if p.Self == nil {
			c.log.Warn().Msg("snapshot without self")
			return
		}
		c.mu.Lock()
		c.self = *p.Self
		c.ice = p.ICEServers
		c.mu.Unlock()
		c.log.Info().Str("self", string(p.Self.ID)).Int("members", len(p.Members)).Msg("joined room")
		c.emit(Event{Type: EventJoined, Peer: p.Self.ID, Name: p.Self.Username})
		for _, m := range p.Members {
			if m.ID != p.Self.ID {
				c.addPeer(m, true)
			}
		}
	case domain.UsersJoined:
		if p.Member != nil {
			c.addPeer(*p.Member, true)
		}
	case domain.UsersLeft:
		if p.Member != nil {
			c.removePeer(*p.Member, true)
		}
	}
}

func (c *Client) onSignal(src domain.MemberID, p domain.SignalPayload) {
	c.mu.Lock()
	e := c.peers[src]
	c.mu.Unlock()
	if e == nil {
		// Signal from a member whose joined delta has not arrived yet.
		e = c.addPeer(domain.Member{ID: src}, false)
		if e == nil {
			return
		}
	}
	e.sess.HandleSignal(p)
}

// addPeer starts a session with m unless one exists. With announce set
// the peer-joined event is emitted, once per entry.
func (c *Client) addPeer(m domain.Member, announce bool) *peerEntry {
	c.mu.Lock()
	if e, ok := c.peers[m.ID]; ok {
		late := announce && !e.announced
		if late {
			e.member.Username = m.Username
			e.announced = true
		}
		c.mu.Unlock()
		if late {
			c.emit(Event{Type: EventPeerJoined, Peer: m.ID, Name: m.Username})
		}
		return e
	}
	self, servers := c.self, c.ice
	c.mu.Unlock()
	if self.ID == "" {
		c.log.Warn().Str("peer", string(m.ID)).Msg("peer before snapshot")
		return nil
	}

	conn, err := c.newConn(m.ID, servers)
	if err != nil {
		c.emit(Event{Type: EventError, Peer: m.ID, Err: newOpError("connect", m.ID, err)})
		return nil
	}

	e := &peerEntry{member: m, announced: announce}
	cfg := c.opts.Session
	cfg.Local = self.ID
	cfg.Remote = m.ID
	cfg.Conn = conn
	cfg.Send = func(p domain.SignalPayload) error {
		return c.sig.Send(domain.MessageTypeSignal, m.ID, p)
	}
	cfg.Tracks = c.media.LocalTracks
	cfg.OnState = func(s peer.State, err error) { c.onSessionState(e, s, err) }
	cfg.OnRemoteTrack = func(t media.RemoteTrack) { c.media.OnRemoteTrack(m.ID, t) }
	cfg.OnRemoteTrackEnded = func(id string) { c.media.RemoveRemoteTrack(m.ID, id) }
	cfg.OnAdvertised = func(ids []string) { c.media.SetAdvertised(m.ID, ids) }

	// Registered before the session starts so that its state callbacks
	// always find the entry.
	c.mu.Lock()
	c.peers[m.ID] = e
	c.mu.Unlock()
	if announce {
		c.emit(Event{Type: EventPeerJoined, Peer: m.ID, Name: m.Username})
	}

	sess, err := peer.New(c.ctx, cfg)
	if err != nil {
		c.mu.Lock()
		delete(c.peers, m.ID)
		c.mu.Unlock()
		_ = conn.Close()
		c.emit(Event{Type: EventError, Peer: m.ID, Err: newOpError("session", m.ID, err)})
		return nil
	}
	c.mu.Lock()
	e.sess = sess
	c.mu.Unlock()
	c.media.Subscribe(m.ID, sess.LocalStreamsChanged)
	return e
}

func (c *Client) onSessionState(e *peerEntry, s peer.State, err error) {
	id := e.member.ID
	c.emit(Event{Type: EventSessionState, Peer: id, State: s, Err: err})
	if s != peer.StateClosed {
		return
	}
	c.mu.Lock()
	if c.peers[id] == e {
		delete(c.peers, id)
	}
	c.mu.Unlock()
	c.media.ReleasePeer(id)
	if err != nil {
		c.log.Warn().Err(err).Str("peer", string(id)).Msg("session gave up")
	}
}

// removePeer closes the session with m and waits for it.
func (c *Client) removePeer(m domain.Member, left bool) {
	id := m.ID
	c.mu.Lock()
	e := c.peers[id]
	delete(c.peers, id)
	c.mu.Unlock()
	if e == nil {
		return
	}
	c.media.Unsubscribe(id)
	if e.sess != nil {
		e.sess.Close()
	}
	c.media.ReleasePeer(id)
	if left {
		c.emit(Event{Type: EventPeerLeft, Peer: id, Name: m.Username})
	}
}

func (c *Client) closeAll() {
	c.mu.Lock()
	ids := make([]domain.MemberID, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.removePeer(domain.Member{ID: id}, false)
	}
}

func (c *Client) onMediaEvent(ev media.Event) {
	out := Event{Peer: ev.Peer, TrackID: ev.TrackID}
	if ev.Track != nil {
		out.Kind = ev.Track.Kind().String()
	}
	switch ev.Kind {
	case media.RemoteTrackAdded:
		out.Type = EventTrackAdded
	case media.RemoteTrackRemoved:
		out.Type = EventTrackRemoved
	}
	c.emit(out)
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

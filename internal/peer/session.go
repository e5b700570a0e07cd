// Package peer drives one peer connection per remote member: offer and
// answer exchange, candidate trickling, renegotiation on local track
// changes and bounded recovery after failures.
//
// Each Session is an actor. Remote signals, connection state callbacks,
// local track changes and timers are all posted to its inbox and handled
// one at a time by a single goroutine.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultDisconnectGrace    = 5 * time.Second
	DefaultDebounce           = 50 * time.Millisecond
	DefaultMaxRetries         = 3
	DefaultBackoffBase        = time.Second
	DefaultBackoffMax         = 10 * time.Second

	inboxSize = 64
)

type Config struct {
	Local  domain.MemberID
	Remote domain.MemberID
	Conn   Connection
	// Send delivers a signal payload to Remote.
	Send func(domain.SignalPayload) error
	// Tracks returns the current desired outbound track set.
	Tracks    func() []webrtc.TrackLocal
	Initiator InitiatorFunc

	// OnState is called from the session goroutine. It must not call
	// Close on the same session.
	OnState            func(State, error)
	OnRemoteTrack      func(media.RemoteTrack)
	OnRemoteTrackEnded func(trackID string)
	OnAdvertised       func(trackIDs []string)

	NegotiationTimeout time.Duration
	DisconnectGrace    time.Duration
	Debounce           time.Duration
	// MaxRetries bounds recovery attempts after a failure; a negative
	// value disables retries.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Initiator == nil {
		c.Initiator = LexicographicInitiator
	}
	if c.Tracks == nil {
		c.Tracks = func() []webrtc.TrackLocal { return nil }
	}
	if c.OnState == nil {
		c.OnState = func(State, error) {}
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = DefaultDisconnectGrace
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

type timerKind int

const (
	timerNegotiation timerKind = iota
	timerGrace
	timerDebounce
	timerRetry
	timerCount
)

type (
	evSignal      struct{ p domain.SignalPayload }
	evLocalChange struct{}
	evConnState   struct{ s webrtc.PeerConnectionState }
	evTimer       struct {
		kind timerKind
		gen  uint64
	}
)

type Session struct {
	cfg       Config
	initiator bool
	log       zerolog.Logger

	inbox     chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	published State

	// owned by the run goroutine
	state         State
	remoteSet     bool
	iceConnected  bool
	candidates    []webrtc.ICECandidateInit
	roundInFlight bool
	pendingChange bool
	pendingLocal  bool
	wantRecv      map[string]int
	lastRequest   map[string]int
	retries       int
	timers        [timerCount]*time.Timer
	gens          [timerCount]uint64
	stopping      bool
	exitErr       error
}

// New starts a session for cfg.Remote. It runs until Close, ctx is done,
// or retries are exhausted.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Conn == nil || cfg.Send == nil {
		return nil, errors.New("peer: connection and send func are required")
	}
	if cfg.Local == cfg.Remote {
		return nil, errors.New("peer: local and remote ids must differ")
	}
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		initiator: cfg.Initiator(cfg.Local, cfg.Remote),
		log:       log.With().Str("module", "peer").Str("local", string(cfg.Local)).Str("remote", string(cfg.Remote)).Logger(),
		inbox:     make(chan any, inboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	cfg.Conn.OnICECandidate(s.sendCandidate)
	cfg.Conn.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(evConnState{s: st})
	})
	if cfg.OnRemoteTrack != nil {
		cfg.Conn.OnTrack(cfg.OnRemoteTrack)
	}
	if cfg.OnRemoteTrackEnded != nil {
		cfg.Conn.OnTrackEnded(cfg.OnRemoteTrackEnded)
	}

	go s.run(ctx)
	return s, nil
}

func (s *Session) Initiator() bool { return s.initiator }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// Done is closed once the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// HandleSignal queues a signal received from the remote member.
func (s *Session) HandleSignal(p domain.SignalPayload) {
	s.post(evSignal{p: p})
}

// LocalStreamsChanged queues a renegotiation for the current local
// track set. Bursts of changes collapse into one round.
func (s *Session) LocalStreamsChanged() {
	s.post(evLocalChange{})
}

// Close shuts the session down and waits for it. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Session) post(ev any) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	}
}

func (s *Session) run(ctx context.Context) {
	defer s.shutdown()
	s.start()
	for !s.stopping {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev any) {
	switch ev := ev.(type) {
	case evSignal:
		s.onSignal(ev.p)
	case evLocalChange:
		s.onLocalChange(true)
	case evConnState:
		s.onConnState(ev.s)
	case evTimer:
		if ev.gen != s.gens[ev.kind] {
			return
		}
		s.timers[ev.kind] = nil
		s.onTimer(ev.kind)
	}
}

func (s *Session) shutdown() {
	for k := range s.timers {
		s.stopTimer(timerKind(k))
	}
	if err := s.cfg.Conn.Close(); err != nil {
		s.log.Warn().Err(err).Msg("close peer connection")
	}
	s.setState(StateClosed, s.exitErr)
	s.log.Info().Err(s.exitErr).Msg("session closed")
	close(s.done)
}

func (s *Session) setState(st State, err error) {
	if s.state == st && err == nil {
		return
	}
	prev := s.state
	s.state = st
	s.mu.Lock()
	s.published = st
	s.mu.Unlock()
	s.log.Info().Str("from", prev.String()).Str("to", st.String()).Err(err).Msg("state")
	s.cfg.OnState(st, err)
}

func (s *Session) armTimer(k timerKind, d time.Duration) {
	s.stopTimer(k)
	gen := s.gens[k]
	s.timers[k] = time.AfterFunc(d, func() { s.post(evTimer{kind: k, gen: gen}) })
}

func (s *Session) stopTimer(k timerKind) {
	if t := s.timers[k]; t != nil {
		t.Stop()
		s.timers[k] = nil
	}
	s.gens[k]++
}

func (s *Session) backoff(attempt int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 1; i < attempt && d < s.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	return d
}

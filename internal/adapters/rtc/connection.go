package rtc

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/e2ee"
	"github.com/dkeye/peercall/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewAPI builds a pion API with the default codecs and interceptors.
// When codec is non-nil every RTP payload passes through it.
func NewAPI(codec *e2ee.Codec) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if codec != nil {
		ir.Add(e2ee.NewInterceptorFactory(codec))
	}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(log.Logger)}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// ICEServers converts advertised servers to pion configuration.
func ICEServers(in []domain.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}

// Connection wraps a *webrtc.PeerConnection for one remote member.
type Connection struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger

	mu      sync.Mutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(media.RemoteTrack)
	onEnded func(string)
}

func NewConnection(api *webrtc.API, servers []domain.ICEServer, remote domain.MemberID) (*Connection, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ICEServers(servers)})
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:  pc,
		log: log.With().Str("module", "webrtc").Str("remote", string(remote)).Logger(),
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.Lock()
		fn := c.onState
		c.mu.Unlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.Lock()
		added, ended := c.onTrack, c.onEnded
		c.mu.Unlock()
		if added != nil {
			added(track)
		}
		go c.drain(track, ended)
	})

	return c, nil
}

// drain consumes a remote track until it ends. Reading keeps the
// receive interceptors running.
func (c *Connection) drain(track *webrtc.TrackRemote, ended func(string)) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debug().Err(err).Str("track_id", track.ID()).Msg("remote track read")
			}
			break
		}
	}
	if ended != nil {
		ended(track.ID())
	}
}

func (c *Connection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	return nil
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// SetLocalTracks removes senders for tracks no longer wanted and adds
// the rest. Tracks are matched by ID.
func (c *Connection) SetLocalTracks(tracks []webrtc.TrackLocal) error {
	want := make(map[string]bool, len(tracks))
	for _, t := range tracks {
		want[t.ID()] = true
	}
	have := make(map[string]bool)
	for _, s := range c.pc.GetSenders() {
		t := s.Track()
		if t == nil {
			continue
		}
		if !want[t.ID()] {
			if err := c.pc.RemoveTrack(s); err != nil {
				return fmt.Errorf("remove track %s: %w", t.ID(), err)
			}
			c.log.Debug().Str("track_id", t.ID()).Msg("local track removed")
			continue
		}
		have[t.ID()] = true
	}
	for _, t := range tracks {
		if have[t.ID()] {
			continue
		}
		sender, err := c.pc.AddTrack(t)
		if err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
		go drainRTCP(sender)
		have[t.ID()] = true
		c.log.Debug().Str("track_id", t.ID()).Str("kind", t.Kind().String()).Msg("local track added")
	}
	return nil
}

// drainRTCP reads sender reports so interceptors like NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) Unplaced() map[string]int {
	out := make(map[string]int)
	for _, t := range c.pc.GetTransceivers() {
		s := t.Sender()
		if s == nil || s.Track() == nil || t.Mid() != "" {
			continue
		}
		out[t.Kind().String()]++
	}
	return out
}

func (c *Connection) EnsureReceivers(kinds map[string]int) error {
	for name, n := range kinds {
		kind := webrtc.NewRTPCodecType(name)
		if kind == 0 {
			return fmt.Errorf("unknown media kind %q", name)
		}
		have := 0
		for _, t := range c.pc.GetTransceivers() {
			if t.Kind() != kind {
				continue
			}
			switch t.Direction() {
			case webrtc.RTPTransceiverDirectionRecvonly, webrtc.RTPTransceiverDirectionSendrecv:
				have++
			}
		}
		for ; have < n; have++ {
			if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("add %s receiver: %w", name, err)
			}
		}
	}
	return nil
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(media.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrackEnded(fn func(trackID string)) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

func (c *Connection) Close() error {
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
		return err
	}
	c.log.Info().Msg("closed")
	return nil
}

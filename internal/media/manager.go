// Package media tracks the local streams a client publishes and the
// remote tracks it receives from each peer.
package media

import (
	"sync"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindCamera      Kind = "camera"
	KindMicrophone  Kind = "microphone"
	KindScreenShare Kind = "screen-share"
)

// LocalStream is one local source, e.g. a camera with its video track.
type LocalStream struct {
	ID     string
	Kind   Kind
	Tracks []webrtc.TrackLocal
}

// RemoteTrack is the subset of *webrtc.TrackRemote the manager needs.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

type EventKind int

const (
	RemoteTrackAdded EventKind = iota
	RemoteTrackRemoved
)

type Event struct {
	Kind    EventKind
	Peer    domain.MemberID
	TrackID string
	Track   RemoteTrack
}

// Manager is safe for concurrent use. Listeners and the event sink are
// called without the manager lock held.
type Manager struct {
	mu         sync.Mutex
	streams    []LocalStream
	listeners  map[domain.MemberID]func()
	remote     map[domain.MemberID]map[string]RemoteTrack
	advertised map[domain.MemberID][]string
	onEvent    func(Event)
}

func NewManager(onEvent func(Event)) *Manager {
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Manager{
		listeners:  make(map[domain.MemberID]func()),
		remote:     make(map[domain.MemberID]map[string]RemoteTrack),
		advertised: make(map[domain.MemberID][]string),
		onEvent:    onEvent,
	}
}

// Subscribe registers fn to be called after every local stream change.
func (m *Manager) Subscribe(peer domain.MemberID, fn func()) {
	m.mu.Lock()
	m.listeners[peer] = fn
	m.mu.Unlock()
}

func (m *Manager) Unsubscribe(peer domain.MemberID) {
	m.mu.Lock()
	delete(m.listeners, peer)
	m.mu.Unlock()
}

// Attach adds stream. A stream id that is already attached is ignored.
func (m *Manager) Attach(stream LocalStream) bool {
	m.mu.Lock()
	for _, s := range m.streams {
		if s.ID == stream.ID {
			m.mu.Unlock()
			return false
		}
	}
	m.streams = append(m.streams, stream)
	fns := m.listenersLocked()
	m.mu.Unlock()

	log.Info().Str("module", "media").Str("stream", stream.ID).Str("kind", string(stream.Kind)).Msg("attached")
	notify(fns)
	return true
}

func (m *Manager) Detach(streamID string) bool {
	m.mu.Lock()
	idx := -1
	for i, s := range m.streams {
		if s.ID == streamID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	m.streams = append(m.streams[:idx:idx], m.streams[idx+1:]...)
	fns := m.listenersLocked()
	m.mu.Unlock()

	log.Info().Str("module", "media").Str("stream", streamID).Msg("detached")
	notify(fns)
	return true
}

// LocalTracks is the desired outbound track set in attach order.
func (m *Manager) LocalTracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webrtc.TrackLocal
	for _, s := range m.streams {
		out = append(out, s.Tracks...)
	}
	return out
}

func (m *Manager) OnRemoteTrack(peer domain.MemberID, track RemoteTrack) {
	m.mu.Lock()
	tracks, ok := m.remote[peer]
	if !ok {
		tracks = make(map[string]RemoteTrack)
		m.remote[peer] = tracks
	}
	tracks[track.ID()] = track
	m.mu.Unlock()
	m.onEvent(Event{Kind: RemoteTrackAdded, Peer: peer, TrackID: track.ID(), Track: track})
}

func (m *Manager) RemoveRemoteTrack(peer domain.MemberID, trackID string) bool {
	m.mu.Lock()
	track, ok := m.remote[peer][trackID]
	if ok {
		delete(m.remote[peer], trackID)
	}
	m.mu.Unlock()
	if ok {
		m.onEvent(Event{Kind: RemoteTrackRemoved, Peer: peer, TrackID: trackID, Track: track})
	}
	return ok
}

func (m *Manager) RemoteTracks(peer domain.MemberID) []RemoteTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RemoteTrack, 0, len(m.remote[peer]))
	for _, t := range m.remote[peer] {
		out = append(out, t)
	}
	return out
}

// ReleasePeer forgets everything held for peer and reports each of its
// remote tracks as removed.
func (m *Manager) ReleasePeer(peer domain.MemberID) {
	m.mu.Lock()
	tracks := m.remote[peer]
	delete(m.remote, peer)
	delete(m.advertised, peer)
	delete(m.listeners, peer)
	m.mu.Unlock()
	for id, t := range tracks {
		m.onEvent(Event{Kind: RemoteTrackRemoved, Peer: peer, TrackID: id, Track: t})
	}
}

func (m *Manager) SetAdvertised(peer domain.MemberID, trackIDs []string) {
	m.mu.Lock()
	m.advertised[peer] = append([]string(nil), trackIDs...)
	m.mu.Unlock()
}

func (m *Manager) Advertised(peer domain.MemberID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.advertised[peer]...)
}

func (m *Manager) listenersLocked() []func() {
	out := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

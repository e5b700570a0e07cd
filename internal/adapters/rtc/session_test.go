package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/e2ee"
	"github.com/dkeye/peercall/internal/media"
	"github.com/dkeye/peercall/internal/peer"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// callSide is one member of a two-party call wired to real pion
// connections.
type callSide struct {
	id     domain.MemberID
	sess   *peer.Session
	states chan peer.State
	added  chan string
	ended  chan string

	mu     sync.Mutex
	tracks []webrtc.TrackLocal
	kinds  map[domain.SignalKind]int
}

func (s *callSide) localTracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func (s *callSide) setTracks(tracks ...webrtc.TrackLocal) {
	s.mu.Lock()
	s.tracks = tracks
	s.mu.Unlock()
	s.sess.LocalStreamsChanged()
}

func (s *callSide) sent(kind domain.SignalKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kinds[kind]
}

func (s *callSide) waitState(t *testing.T, want peer.State) {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case st := <-s.states:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %s (now %s)", s.id, want, s.sess.State())
		}
	}
}

func waitTrack(t *testing.T, ch <-chan string, want, what string) {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case id := <-ch:
			if id == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s track %q", what, want)
		}
	}
}

// relay delivers signals to the other side in order without blocking the
// sender's actor. Nothing is delivered before ready is closed.
func relay(ctx context.Context, ready <-chan struct{}, to func() *peer.Session) func(domain.SignalPayload) error {
	ch := make(chan domain.SignalPayload, 256)
	go func() {
		select {
		case <-ready:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case p := <-ch:
				to().HandleSignal(p)
			case <-ctx.Done():
				return
			}
		}
	}()
	return func(p domain.SignalPayload) error {
		select {
		case ch <- p:
		case <-ctx.Done():
		}
		return nil
	}
}

func newCallSide(ctx context.Context, t *testing.T, ready <-chan struct{}, id, remote domain.MemberID, tracks []webrtc.TrackLocal, to func() *peer.Session) *callSide {
	t.Helper()
	codec := e2ee.NewCodec()
	codec.SetKey("correct horse")
	api, err := NewAPI(codec)
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	conn, err := NewConnection(api, nil, remote)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}

	s := &callSide{
		id:     id,
		states: make(chan peer.State, 64),
		added:  make(chan string, 16),
		ended:  make(chan string, 16),
		tracks: tracks,
		kinds:  map[domain.SignalKind]int{},
	}
	forward := relay(ctx, ready, to)
	sess, err := peer.New(ctx, peer.Config{
		Local:  id,
		Remote: remote,
		Conn:   conn,
		Send: func(p domain.SignalPayload) error {
			s.mu.Lock()
			s.kinds[p.Kind]++
			s.mu.Unlock()
			return forward(p)
		},
		Tracks:             s.localTracks,
		OnState:            func(st peer.State, _ error) { s.states <- st },
		OnRemoteTrack:      func(tr media.RemoteTrack) { s.added <- tr.ID() },
		OnRemoteTrackEnded: func(id string) { s.ended <- id },
	})
	if err != nil {
		t.Fatalf("peer.New(%s): %v", id, err)
	}
	s.sess = sess
	t.Cleanup(sess.Close)
	return s
}

// pump writes dummy VP8 samples until ctx is done.
func pump(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x01, 0x00, 0x01, 0x00}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = track.WriteSample(pionmedia.Sample{Data: frame, Duration: 20 * time.Millisecond})
		}
	}
}

func TestTwoSessionsConnectOverPion(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cam, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "cam", "alice-cam")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}

	ready := make(chan struct{})
	var alice, bob *callSide
	alice = newCallSide(ctx, t, ready, "alice", "bob", []webrtc.TrackLocal{cam}, func() *peer.Session { return bob.sess })
	bob = newCallSide(ctx, t, ready, "bob", "alice", nil, func() *peer.Session { return alice.sess })
	close(ready)

	if !alice.sess.Initiator() || bob.sess.Initiator() {
		t.Fatalf("initiator: alice=%v bob=%v", alice.sess.Initiator(), bob.sess.Initiator())
	}

	alice.waitState(t, peer.StateConnected)
	bob.waitState(t, peer.StateConnected)

	if alice.sent(domain.SignalOffer) < 1 || bob.sent(domain.SignalAnswer) < 1 {
		t.Fatalf("offer/answer: alice offers=%d bob answers=%d", alice.sent(domain.SignalOffer), bob.sent(domain.SignalAnswer))
	}
	if bob.sent(domain.SignalOffer) != 0 || alice.sent(domain.SignalAnswer) != 0 {
		t.Fatalf("roles swapped: bob offers=%d alice answers=%d", bob.sent(domain.SignalOffer), alice.sent(domain.SignalAnswer))
	}
	if alice.sent(domain.SignalCandidate) == 0 || bob.sent(domain.SignalCandidate) == 0 {
		t.Fatalf("candidates: alice=%d bob=%d", alice.sent(domain.SignalCandidate), bob.sent(domain.SignalCandidate))
	}

	go pump(ctx, cam)
	waitTrack(t, bob.added, "cam", "added")

	alice.setTracks()
	waitTrack(t, bob.ended, "cam", "ended")
	alice.waitState(t, peer.StateConnected)
}

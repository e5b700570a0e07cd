package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

type fakeRemote struct{ id string }

func (f fakeRemote) ID() string                { return f.id }
func (f fakeRemote) StreamID() string          { return "s-" + f.id }
func (f fakeRemote) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

func newTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "stream-"+id)
	if err != nil {
		t.Fatalf("NewTrackLocalStaticRTP: %v", err)
	}
	return tr
}

func TestManager_AttachIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	calls := 0
	m.Subscribe("bob", func() { calls++ })

	cam := LocalStream{ID: "cam", Kind: KindCamera, Tracks: []webrtc.TrackLocal{newTrack(t, "v1")}}
	if !m.Attach(cam) {
		t.Fatalf("first Attach = false")
	}
	if m.Attach(cam) {
		t.Fatalf("second Attach = true")
	}
	if calls != 1 {
		t.Fatalf("listener calls: got %d, want 1", calls)
	}
	if got := m.LocalTracks(); len(got) != 1 || got[0].ID() != "v1" {
		t.Fatalf("LocalTracks: %v", got)
	}
}

func TestManager_DetachKeepsOrder(t *testing.T) {
	m := NewManager(nil)
	calls := 0
	m.Subscribe("bob", func() { calls++ })
	m.Subscribe("carol", func() { calls++ })

	m.Attach(LocalStream{ID: "mic", Kind: KindMicrophone, Tracks: []webrtc.TrackLocal{newTrack(t, "a1")}})
	m.Attach(LocalStream{ID: "cam", Kind: KindCamera, Tracks: []webrtc.TrackLocal{newTrack(t, "v1")}})
	m.Attach(LocalStream{ID: "screen", Kind: KindScreenShare, Tracks: []webrtc.TrackLocal{newTrack(t, "v2")}})

	if !m.Detach("cam") {
		t.Fatalf("Detach(cam) = false")
	}
	if m.Detach("cam") {
		t.Fatalf("second Detach(cam) = true")
	}
	got := m.LocalTracks()
	if len(got) != 2 || got[0].ID() != "a1" || got[1].ID() != "v2" {
		t.Fatalf("LocalTracks: %v", got)
	}
	if calls != 8 {
		t.Fatalf("listener calls: got %d, want 8", calls)
	}

	m.Unsubscribe("carol")
	m.Detach("mic")
	if calls != 9 {
		t.Fatalf("listener calls after unsubscribe: got %d, want 9", calls)
	}
}

func TestManager_RemoteTracks(t *testing.T) {
	var events []Event
	m := NewManager(func(e Event) { events = append(events, e) })

	m.OnRemoteTrack("bob", fakeRemote{id: "t1"})
	m.OnRemoteTrack("bob", fakeRemote{id: "t2"})
	m.OnRemoteTrack("carol", fakeRemote{id: "t3"})
	m.SetAdvertised("bob", []string{"v1"})

	if !m.RemoveRemoteTrack("bob", "t1") || m.RemoveRemoteTrack("bob", "t1") {
		t.Fatalf("RemoveRemoteTrack not exactly-once")
	}
	m.ReleasePeer("bob")

	added, removed := 0, 0
	for _, e := range events {
		switch e.Kind {
		case RemoteTrackAdded:
			added++
		case RemoteTrackRemoved:
			removed++
			if e.Peer != "bob" {
				t.Fatalf("removed event for %s", e.Peer)
			}
		}
	}
	if added != 3 || removed != 2 {
		t.Fatalf("events: added=%d removed=%d", added, removed)
	}
	if len(m.RemoteTracks("bob")) != 0 || len(m.Advertised("bob")) != 0 {
		t.Fatalf("bob state not released")
	}
	if len(m.RemoteTracks("carol")) != 1 {
		t.Fatalf("carol tracks touched by bob release")
	}
}

package peer

import (
	"github.com/dkeye/peercall/internal/media"
	"github.com/pion/webrtc/v4"
)

// Connection is the peer connection a Session drives. CreateOffer and
// CreateAnswer also install the result as the local description.
type Connection interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	// SetLocalTracks makes the outbound senders match tracks.
	SetLocalTracks(tracks []webrtc.TrackLocal) error
	// Unplaced counts, per kind ("audio"/"video"), local tracks that are
	// not carried by any negotiated transceiver yet.
	Unplaced() map[string]int
	// EnsureReceivers adds receive transceivers until each kind can carry
	// at least the given number of remote tracks.
	EnsureReceivers(kinds map[string]int) error

	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(media.RemoteTrack))
	OnTrackEnded(fn func(trackID string))
	Close() error
}

// TrackKinds counts tracks per media kind, keyed the way renegotiation
// requests carry them.
func TrackKinds(tracks []webrtc.TrackLocal) map[string]int {
	out := make(map[string]int)
	for _, t := range tracks {
		out[t.Kind().String()]++
	}
	return out
}

package client

import (
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/peer"
)

type EventType string

const (
	EventJoined            EventType = "joined"
	EventPeerJoined        EventType = "peer-joined"
	EventPeerLeft          EventType = "peer-left"
	EventTrackAdded        EventType = "remote-track-added"
	EventTrackRemoved      EventType = "remote-track-removed"
	EventSessionState      EventType = "session-state-changed"
	EventEncryptionChanged EventType = "encryption-state-changed"
	EventChat              EventType = "chat-message"
	EventError             EventType = "error"
)

// Event is what the client reports to its UI. Only the fields relevant
// to Type are set.
type Event struct {
	Type    EventType
	Peer    domain.MemberID
	Name    string
	State   peer.State
	Err     error
	TrackID string
	Kind    string
	Active  bool
	Chat    *domain.ChatMessage
}

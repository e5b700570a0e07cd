package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageTypeReady   MessageType = "ready"
	MessageTypeSignal  MessageType = "signal"
	MessageTypeHangUp  MessageType = "hangUp"
	MessageTypeUsers   MessageType = "users"
	MessageTypeMessage MessageType = "message"
	MessageTypeError   MessageType = "error"
	MessageTypePing    MessageType = "ping"
	MessageTypePong    MessageType = "pong"
)

// Envelope is the wire frame exchanged over the signaling channel.
// Dst is empty for room-wide events.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Src     MemberID        `json:"src,omitempty"`
	Dst     MemberID        `json:"dst,omitempty"`
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

// EncodeEnvelope marshals payload into an envelope frame.
func EncodeEnvelope(t MessageType, src, dst MemberID, payload any) ([]byte, error) {
	env := Envelope{Type: t, Src: src, Dst: dst}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

type ReadyPayload struct {
	Room RoomID `json:"room,omitempty"`
	Name string `json:"name,omitempty"`
}

type UsersKind string

const (
	UsersSnapshot UsersKind = "snapshot"
	UsersJoined   UsersKind = "joined"
	UsersLeft     UsersKind = "left"
)

// UsersPayload is either the snapshot a joiner receives or a presence
// delta (joined/left) sent to everyone else.
type UsersPayload struct {
	Kind       UsersKind   `json:"kind"`
	Self       *Member     `json:"self,omitempty"`
	Members    []Member    `json:"members,omitempty"`
	Member     *Member     `json:"member,omitempty"`
	ICEServers []ICEServer `json:"iceServers,omitempty"`
}

// ICEServer describes STUN/TURN servers advertised to clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type SignalKind string

const (
	SignalOffer       SignalKind = "offer"
	SignalAnswer      SignalKind = "answer"
	SignalCandidate   SignalKind = "candidate"
	SignalRenegotiate SignalKind = "renegotiate"
)

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalPayload is the body of a "signal" envelope. Only peers interpret
// it; the server relays the raw bytes.
type SignalPayload struct {
	Kind      SignalKind     `json:"type"`
	SDP       string         `json:"sdp,omitempty"`
	Candidate *Candidate     `json:"candidate,omitempty"`
	Kinds     map[string]int `json:"kinds,omitempty"`
}

func (p SignalPayload) Validate() error {
	switch p.Kind {
	case SignalOffer, SignalAnswer:
		if p.SDP == "" {
			return fmt.Errorf("%s signal missing sdp", p.Kind)
		}
		if p.Candidate != nil || p.Kinds != nil {
			return fmt.Errorf("%s signal has unexpected fields", p.Kind)
		}
	case SignalCandidate:
		if p.Candidate == nil {
			return fmt.Errorf("candidate signal missing candidate")
		}
		if p.SDP != "" || p.Kinds != nil {
			return fmt.Errorf("candidate signal has unexpected fields")
		}
	case SignalRenegotiate:
		if p.SDP != "" || p.Candidate != nil {
			return fmt.Errorf("renegotiate signal has unexpected fields")
		}
		for kind, n := range p.Kinds {
			if n < 0 {
				return fmt.Errorf("renegotiate signal has negative count for %q", kind)
			}
		}
	default:
		return fmt.Errorf("unsupported signal type %q", p.Kind)
	}
	return nil
}

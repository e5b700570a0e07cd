package domain

import (
	"encoding/json"
	"testing"
)

func TestEncodeEnvelope_RoundTrip(t *testing.T) {
	raw, err := EncodeEnvelope(MessageTypeSignal, "alice", "bob", SignalPayload{Kind: SignalOffer, SDP: "v=0"})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Type != MessageTypeSignal || env.Src != "alice" || env.Dst != "bob" {
		t.Fatalf("envelope: got %+v", env)
	}
	var p SignalPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Kind != SignalOffer || p.SDP != "v=0" {
		t.Fatalf("payload: got %+v", p)
	}
}

func TestParseEnvelope_MissingType(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"payload":{}}`)); err == nil {
		t.Fatalf("expected error for envelope without type")
	}
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func TestEnvelope_OmitsEmptyDst(t *testing.T) {
	raw, err := EncodeEnvelope(MessageTypeUsers, "", "", UsersPayload{Kind: UsersJoined})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := m["dst"]; ok {
		t.Fatalf("dst should be omitted for broadcast events: %s", raw)
	}
}

func TestSignalPayload_Validate(t *testing.T) {
	mid := "0"
	valid := []SignalPayload{
		{Kind: SignalOffer, SDP: "v=0"},
		{Kind: SignalAnswer, SDP: "v=0"},
		{Kind: SignalCandidate, Candidate: &Candidate{Candidate: "candidate:1", SDPMid: &mid}},
		{Kind: SignalRenegotiate},
		{Kind: SignalRenegotiate, Kinds: map[string]int{"video": 2}},
	}
	for _, p := range valid {
		if err := p.Validate(); err != nil {
			t.Fatalf("Validate(%+v): %v", p, err)
		}
	}

	invalid := []SignalPayload{
		{Kind: SignalOffer},
		{Kind: SignalAnswer, SDP: "v=0", Kinds: map[string]int{"audio": 1}},
		{Kind: SignalCandidate},
		{Kind: SignalRenegotiate, SDP: "v=0"},
		{Kind: SignalRenegotiate, Kinds: map[string]int{"audio": -1}},
		{Kind: "bogus"},
	}
	for _, p := range invalid {
		if err := p.Validate(); err == nil {
			t.Fatalf("Validate(%+v): expected error", p)
		}
	}
}

func TestParseMemberID(t *testing.T) {
	id, err := ParseMemberID("  alice ")
	if err != nil || id != "alice" {
		t.Fatalf("ParseMemberID: got %q, %v", id, err)
	}
	generated, err := ParseMemberID("")
	if err != nil || generated == "" {
		t.Fatalf("ParseMemberID(empty): got %q, %v", generated, err)
	}
	if _, err := ParseMemberID("a:b"); err == nil {
		t.Fatalf("expected error for id containing ':'")
	}
}

func TestNewMember_Username(t *testing.T) {
	m, err := NewMember("alice", "")
	if err != nil || m.Username != DefaultUsername {
		t.Fatalf("NewMember default: got %+v, %v", m, err)
	}
	if _, err := NewMember("alice", "0123456789012345678901234567890123456789"); err != ErrUsernameTooLong {
		t.Fatalf("NewMember long: got %v, want %v", err, ErrUsernameTooLong)
	}
}

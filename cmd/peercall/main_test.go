package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkeye/peercall/internal/client"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/peer"
)

func TestHTTPBase(t *testing.T) {
	cases := map[string]string{
		"ws://localhost:8080":       "http://localhost:8080",
		"wss://calls.example.org/":  "https://calls.example.org",
		"https://calls.example.org": "https://calls.example.org",
	}
	for in, want := range cases {
		got, err := httpBase(in)
		if err != nil {
			t.Fatalf("httpBase(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("httpBase(%q): got %q, want %q", in, got, want)
		}
	}
	if _, err := httpBase("tcp://x"); err == nil {
		t.Fatalf("httpBase with tcp scheme: want error")
	}
}

func roomsServer(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFetchRooms(t *testing.T) {
	server := roomsServer(t, `{"room_count":1,"member_count":2,"rooms":[{"name":"team","client_count":2}]}`)

	summary, err := fetchRooms(context.Background(), server)
	if err != nil {
		t.Fatalf("fetchRooms: %v", err)
	}
	if len(summary.Rooms) != 1 || summary.Rooms[0].Name != "team" || summary.Rooms[0].MemberCount != 2 {
		t.Fatalf("rooms: got %+v", summary)
	}
	if out := roomsTable(summary); !strings.Contains(out, "team") {
		t.Fatalf("rooms table missing room: %q", out)
	}
}

func TestFetchRoomsAggregateOnly(t *testing.T) {
	server := roomsServer(t, `{"room_count":3,"member_count":7}`)

	summary, err := fetchRooms(context.Background(), server)
	if err != nil {
		t.Fatalf("fetchRooms: %v", err)
	}
	if summary.Rooms != nil || summary.RoomCount != 3 || summary.MemberCount != 7 {
		t.Fatalf("summary: got %+v", summary)
	}
	if out := roomsTable(summary); !strings.Contains(out, "3 active rooms, 7 members") {
		t.Fatalf("aggregate line: got %q", out)
	}
}

func TestRenderEvent(t *testing.T) {
	line := renderEvent(client.Event{Type: client.EventSessionState, Peer: "bob", State: peer.StateClosed, Err: peer.ErrIceFailure})
	if !strings.Contains(line, "bob") || !strings.Contains(line, peer.ErrIceFailure.Error()) {
		t.Fatalf("closed event: got %q", line)
	}
	if line := renderEvent(client.Event{Type: client.EventEncryptionChanged, Active: true}); !strings.Contains(line, "encryption on") {
		t.Fatalf("encryption event: got %q", line)
	}
}

func TestPeersTable(t *testing.T) {
	out := peersTable([]client.PeerInfo{{
		Member:     domain.Member{ID: "bob", Username: "Bob"},
		State:      peer.StateConnected,
		Receiving:  2,
		Advertised: []string{"cam", "mic"},
	}})
	for _, want := range []string{"bob", "Bob", "connected"} {
		if !strings.Contains(out, want) {
			t.Fatalf("peers table missing %q: %q", want, out)
		}
	}
	if out := peersTable(nil); !strings.Contains(out, "No peers") {
		t.Fatalf("empty peers table: %q", out)
	}
}

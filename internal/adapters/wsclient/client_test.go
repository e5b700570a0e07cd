package wsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/gorilla/websocket"
)

func TestEndpoint(t *testing.T) {
	got, err := Endpoint("https://calls.example.org/base/", "team", "alice", "a1")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	want := "wss://calls.example.org/base/ws?id=a1&name=alice&room=team"
	if got != want {
		t.Fatalf("Endpoint: got %q, want %q", got, want)
	}
	if _, err := Endpoint("ftp://example.org", "", "", ""); err == nil {
		t.Fatalf("Endpoint with ftp scheme: want error")
	}
}

// echoServer reflects every frame back with src set to the room query
// value, then closes after closeAfter frames.
func echoServer(t *testing.T, closeAfter int) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		room := r.URL.Query().Get("room")
		for i := 0; i < closeAfter; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := domain.ParseEnvelope(data)
			if err != nil {
				return
			}
			env.Src = domain.MemberID(room)
			out, _ := domain.EncodeEnvelope(env.Type, env.Src, env.Dst, env.Payload)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	}))
}

func dial(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	endpoint, err := Endpoint(srv.URL, "room1", "alice", "")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, endpoint, Options{PingPeriod: 10 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSendAndReceive(t *testing.T) {
	srv := echoServer(t, 1)
	defer srv.Close()
	c := dial(t, srv)

	if err := c.Send(domain.MessageTypeSignal, "bob", domain.SignalPayload{Kind: domain.SignalOffer, SDP: "v=0"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case env := <-c.Incoming():
		if env.Type != domain.MessageTypeSignal || env.Src != "room1" || env.Dst != "bob" {
			t.Fatalf("echo: got %+v", env)
		}
		var p domain.SignalPayload
		if err := env.DecodePayload(&p); err != nil || p.SDP != "v=0" {
			t.Fatalf("echo payload: got %+v (%v)", p, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for echo")
	}

	select {
	case _, ok := <-c.Incoming():
		if ok {
			t.Fatalf("Incoming: want closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for close")
	}
	if err := c.Err(); err != nil {
		t.Fatalf("Err after normal close: got %v, want nil", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	srv := echoServer(t, 10)
	defer srv.Close()
	c := dial(t, srv)

	_ = c.Close()
	_ = c.Close()
	if err := c.Send(domain.MessageTypePing, "", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after close: got %v, want %v", err, ErrClosed)
	}
}

func TestDialConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusConflict)
	}))
	defer srv.Close()

	endpoint, _ := Endpoint(srv.URL, "room1", "alice", "a1")
	_, err := Dial(context.Background(), endpoint, Options{})
	if err == nil || !strings.Contains(err.Error(), "already connected") {
		t.Fatalf("Dial: got %v, want id conflict", err)
	}
}

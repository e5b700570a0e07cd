package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := app.NewRouter(app.NewRegistry(), app.NewRoomManager(), app.SimplePolicy{})
	ctl := NewSignalWSController(router, NewRoomRateLimiter(2, time.Minute), Options{PingPeriod: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendEnv(t *testing.T, ws *websocket.Conn, typ domain.MessageType, dst domain.MemberID, payload any) {
	t.Helper()
	b, err := domain.EncodeEnvelope(typ, "", dst, payload)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func readEnv(t *testing.T, ws *websocket.Conn) domain.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	env, err := domain.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("ParseEnvelope(%s): %v", data, err)
	}
	return env
}

func readUsers(t *testing.T, ws *websocket.Conn) domain.UsersPayload {
	t.Helper()
	env := readEnv(t, ws)
	if env.Type != domain.MessageTypeUsers {
		t.Fatalf("type: got %q, want users (payload %s)", env.Type, env.Payload)
	}
	var p domain.UsersPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	return p
}

func readError(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	env := readEnv(t, ws)
	if env.Type != domain.MessageTypeError {
		t.Fatalf("type: got %q, want error", env.Type)
	}
	var p domain.ErrorPayload
	if err := env.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	return p.Error
}

func TestSignal_ReadyRelayHangUp(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "room=demo&name=alice&id=alice")
	bob := dial(t, srv, "room=demo&name=bob&id=bob")

	sendEnv(t, alice, domain.MessageTypeReady, "", nil)
	snap := readUsers(t, alice)
	if snap.Kind != domain.UsersSnapshot || snap.Self == nil || snap.Self.ID != "alice" || len(snap.Members) != 1 {
		t.Fatalf("alice snapshot: %+v", snap)
	}

	sendEnv(t, bob, domain.MessageTypeReady, "", domain.ReadyPayload{Name: "Bobby"})
	snap = readUsers(t, bob)
	if len(snap.Members) != 2 || snap.Self.Username != "Bobby" {
		t.Fatalf("bob snapshot: %+v", snap)
	}
	joined := readUsers(t, alice)
	if joined.Kind != domain.UsersJoined || joined.Member.ID != "bob" {
		t.Fatalf("alice joined delta: %+v", joined)
	}

	offer := domain.SignalPayload{Kind: domain.SignalOffer, SDP: "v=0"}
	sendEnv(t, alice, domain.MessageTypeSignal, "bob", offer)
	got := readEnv(t, bob)
	if got.Type != domain.MessageTypeSignal || got.Src != "alice" || got.Dst != "bob" {
		t.Fatalf("relayed envelope: %+v", got)
	}
	var p domain.SignalPayload
	if err := got.DecodePayload(&p); err != nil || p.SDP != "v=0" || p.Kind != domain.SignalOffer {
		t.Fatalf("relayed payload: %+v err=%v", p, err)
	}

	sendEnv(t, alice, domain.MessageTypeSignal, "nobody", offer)
	if code := readError(t, alice); code != "unknown_target" {
		t.Fatalf("error code: got %q, want unknown_target", code)
	}

	sendEnv(t, bob, domain.MessageTypeHangUp, "", nil)
	if env := readEnv(t, bob); env.Type != domain.MessageTypeHangUp {
		t.Fatalf("hangUp ack: got %q", env.Type)
	}
	left := readUsers(t, alice)
	if left.Kind != domain.UsersLeft || left.Member.ID != "bob" {
		t.Fatalf("alice left delta: %+v", left)
	}
}

func TestSignal_ReadyTwiceAndPing(t *testing.T) {
	srv := newTestServer(t)
	ws := dial(t, srv, "room=demo&id=solo")

	sendEnv(t, ws, domain.MessageTypeReady, "", nil)
	readUsers(t, ws)
	sendEnv(t, ws, domain.MessageTypeReady, "", nil)
	if code := readError(t, ws); code != "already_joined" {
		t.Fatalf("error code: got %q, want already_joined", code)
	}
	sendEnv(t, ws, domain.MessageTypePing, "", nil)
	if env := readEnv(t, ws); env.Type != domain.MessageTypePong {
		t.Fatalf("ping reply: got %q", env.Type)
	}
}

func TestSignal_DisconnectEmitsLeft(t *testing.T) {
	srv := newTestServer(t)
	alice := dial(t, srv, "room=demo&id=alice")
	bob := dial(t, srv, "room=demo&id=bob")
	sendEnv(t, alice, domain.MessageTypeReady, "", nil)
	readUsers(t, alice)
	sendEnv(t, bob, domain.MessageTypeReady, "", nil)
	readUsers(t, bob)
	readUsers(t, alice)

	_ = bob.Close()
	left := readUsers(t, alice)
	if left.Kind != domain.UsersLeft || left.Member.ID != "bob" {
		t.Fatalf("left delta: %+v", left)
	}
}

func TestSignal_ChatRateLimited(t *testing.T) {
	srv := newTestServer(t)
	ws := dial(t, srv, "room=demo&id=talker&name=t")
	sendEnv(t, ws, domain.MessageTypeReady, "", nil)
	readUsers(t, ws)

	for i := 0; i < 2; i++ {
		sendEnv(t, ws, domain.MessageTypeMessage, "", chatPayload{Text: "hi"})
		env := readEnv(t, ws)
		var msg domain.ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil || env.Type != domain.MessageTypeMessage || msg.Text != "hi" {
			t.Fatalf("chat echo %d: %+v err=%v", i, env, err)
		}
	}
	sendEnv(t, ws, domain.MessageTypeMessage, "", chatPayload{Text: "hi"})
	if code := readError(t, ws); code != "rate_limited" {
		t.Fatalf("error code: got %q, want rate_limited", code)
	}
}

func TestRoomRateLimiter_Window(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRoomRateLimiter(1, time.Second)
	rl.now = func() time.Time { return now }
	if !rl.Allow("a") {
		t.Fatalf("first Allow = false")
	}
	if rl.Allow("a") {
		t.Fatalf("second Allow within window = true")
	}
	if !rl.Allow("b") {
		t.Fatalf("other member limited")
	}
	now = now.Add(2 * time.Second)
	if !rl.Allow("a") {
		t.Fatalf("Allow after window = false")
	}
}

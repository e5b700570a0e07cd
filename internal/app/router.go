package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

// ICEResolver yields the ICE servers handed to a member on join.
type ICEResolver interface {
	Resolve(room domain.RoomID, member domain.MemberID, now time.Time) []domain.ICEServer
}

// JoinResult is what the joiner learns about the room it entered.
type JoinResult struct {
	Self       domain.Member
	Members    []domain.Member
	ICEServers []domain.ICEServer
}

// Router routes signaling between the members of a room. It is safe for
// concurrent use by every connection's read loop.
type Router struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
	ICE      ICEResolver
	Chat     core.ChatStore
	Now      func() time.Time
}

func NewRouter(reg *Registry, rooms core.RoomManager, policy Policy) *Router {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Router{Registry: reg, Rooms: rooms, Policy: policy, Now: time.Now}
}

func (r *Router) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Join puts the connection sid into roomID, renaming it first when name
// is set. Members already in the room receive a joined delta.
func (r *Router) Join(sid domain.MemberID, roomID domain.RoomID, name string) (JoinResult, error) {
	sess, err := r.Registry.ClaimRoom(sid, roomID)
	if err != nil {
		return JoinResult{}, err
	}
	meta := sess.Meta()
	if name = strings.TrimSpace(name); name != "" {
		if err := meta.SetUsername(name); err != nil {
			r.Registry.ReleaseRoom(sid)
			return JoinResult{}, fmt.Errorf("join %s: %w", roomID, err)
		}
	}
	meta.Room = roomID
	self := *meta

	joined, err := domain.EncodeEnvelope(domain.MessageTypeUsers, "", "", domain.UsersPayload{
		Kind:   domain.UsersJoined,
		Member: &self,
	})
	if err != nil {
		r.Registry.ReleaseRoom(sid)
		meta.Room = ""
		return JoinResult{}, err
	}

	for {
		room := r.Rooms.GetOrCreate(roomID)
		members, res, err := room.Join(sess, joined)
		if errors.Is(err, core.ErrRoomClosed) {
			// lost the race with the last member leaving
			r.Rooms.Release(room)
			continue
		}
		if err != nil {
			r.Registry.ReleaseRoom(sid)
			meta.Room = ""
			return JoinResult{}, err
		}
		r.applyPolicy(room, res)
		log.Info().Str("module", "app.router").Str("sid", string(sid)).Str("room", string(roomID)).Int("members", len(members)).Msg("joined")

		out := JoinResult{Self: self, Members: members}
		if r.ICE != nil {
			out.ICEServers = r.ICE.Resolve(roomID, sid, r.now())
		}
		return out, nil
	}
}

// Leave removes sid from its room. It reports false when sid was not in a
// room, which makes repeated calls harmless.
func (r *Router) Leave(sid domain.MemberID) bool {
	roomID, sess, ok := r.Registry.ReleaseRoom(sid)
	if !ok {
		return false
	}
	self := *sess.Meta()

	room, ok := r.Rooms.Get(roomID)
	if !ok {
		sess.Meta().Room = ""
		return false
	}
	left, err := domain.EncodeEnvelope(domain.MessageTypeUsers, "", "", domain.UsersPayload{
		Kind:   domain.UsersLeft,
		Member: &self,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode left")
		left = nil
	}
	_, res, empty, removed := room.Leave(sid, left)
	// only safe once the room no longer snapshots this member
	sess.Meta().Room = ""
	if empty {
		r.Rooms.Release(room)
	}
	r.applyPolicy(room, res)
	log.Info().Str("module", "app.router").Str("sid", string(sid)).Str("room", string(roomID)).Bool("empty", empty).Msg("left")
	return removed
}

// Relay forwards env from src to env.Dst. The payload is passed on
// untouched; only src is stamped by the server.
func (r *Router) Relay(src domain.MemberID, env domain.Envelope) error {
	if env.Dst == "" {
		return fmt.Errorf("relay %s: %w", env.Type, ErrUnknownTarget)
	}
	roomID, _, ok := r.Registry.RoomOf(src)
	if !ok {
		return fmt.Errorf("relay to %s: %w: %w", env.Dst, ErrUnknownTarget, ErrNotInRoom)
	}
	room, ok := r.Rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("relay to %s: %w", env.Dst, ErrUnknownTarget)
	}
	env.Src = src
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay to %s: %w", env.Dst, err)
	}
	if err := room.SendTo(src, env.Dst, frame); err != nil {
		if errors.Is(err, core.ErrNotMember) {
			return fmt.Errorf("relay to %s: %w", env.Dst, ErrUnknownTarget)
		}
		log.Warn().Str("module", "app.router").Str("src", string(src)).Str("dst", string(env.Dst)).Err(err).Msg("relay dropped")
		return fmt.Errorf("relay to %s: %w", env.Dst, err)
	}
	return nil
}

// Broadcast delivers frame to every member of roomID except exclude.
func (r *Router) Broadcast(roomID domain.RoomID, frame core.Frame, exclude domain.MemberID) core.PublishResult {
	room, ok := r.Rooms.Get(roomID)
	if !ok {
		return core.PublishResult{}
	}
	res := room.Broadcast(exclude, frame)
	r.applyPolicy(room, res)
	return res
}

// SendChat broadcasts a chat line to the sender's room, sender included,
// and stores it when a chat store is configured.
func (r *Router) SendChat(ctx context.Context, sid domain.MemberID, text string) (domain.ChatMessage, error) {
	roomID, sess, ok := r.Registry.RoomOf(sid)
	if !ok {
		return domain.ChatMessage{}, ErrNotInRoom
	}
	msg := domain.ChatMessage{
		Room:      roomID,
		From:      sid,
		Username:  sess.Meta().Username,
		Text:      text,
		Timestamp: r.now().UTC(),
	}
	frame, err := domain.EncodeEnvelope(domain.MessageTypeMessage, sid, "", msg)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	r.Broadcast(roomID, frame, "")
	if r.Chat != nil {
		if err := r.Chat.Append(ctx, msg); err != nil {
			log.Warn().Str("module", "app.router").Str("room", string(roomID)).Err(err).Msg("chat persist failed")
		}
	}
	return msg, nil
}

// Disconnect tears down everything bound to sid.
func (r *Router) Disconnect(sid domain.MemberID) {
	r.Leave(sid)
	r.Registry.Unbind(sid)
}

func (r *Router) applyPolicy(room core.RoomService, res core.PublishResult) {
	for _, m := range res.Dropped {
		switch r.Policy.OnBackPressure(room, m) {
		case KickMember:
			sid := m.Meta().ID
			log.Warn().Str("module", "app.router").Str("sid", string(sid)).Msg("kicking slow member")
			if !r.Registry.Cancel(sid) {
				m.Signal().Close()
			}
		}
	}
}

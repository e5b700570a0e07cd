package app

import (
	"context"
	"sync"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	RoomID  domain.RoomID
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps live connections to their session and current room.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.MemberID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.MemberID]*sessionEntry),
	}
}

// Bind registers a freshly connected session. It fails if the id is taken.
func (r *Registry) Bind(sid domain.MemberID, sess core.MemberSession, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; ok {
		return false
	}
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
	return true
}

func (r *Registry) GetSession(sid domain.MemberID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid domain.MemberID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) RoomOf(sid domain.MemberID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", nil, false
	}
	return entry.RoomID, entry.Session, true
}

// ClaimRoom records sid as belonging to room. A connection is a member of
// at most one room at a time.
func (r *Registry) ClaimRoom(sid domain.MemberID, room domain.RoomID) (core.MemberSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return nil, ErrUnknownConnection
	}
	if entry.RoomID != "" {
		return nil, ErrAlreadyJoined
	}
	entry.RoomID = room
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("claimed room")
	return entry.Session, nil
}

// ReleaseRoom clears the room association and returns what it was.
func (r *Registry) ReleaseRoom(sid domain.MemberID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", nil, false
	}
	room := entry.RoomID
	entry.RoomID = ""
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("released room")
	return room, entry.Session, true
}

// Cancel stops the connection's pumps through the cancel func it was
// bound with. It reports false when sid has no such func.
func (r *Registry) Cancel(sid domain.MemberID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok || e.Cancel == nil {
		return false
	}
	e.Cancel()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}

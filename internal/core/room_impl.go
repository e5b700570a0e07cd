package core

import (
	"sort"
	"sync"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	members map[domain.MemberID]MemberSession
	closed  bool
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		members: make(map[domain.MemberID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Join(ms MemberSession, joined Frame) ([]domain.Member, PublishResult, error) {
	id := ms.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, PublishResult{}, ErrRoomClosed
	}
	res := r.fanOut(id, joined)
	r.members[id] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("member", string(id)).Msg("member joined")
	return r.snapshotLocked(), res, nil
}

func (r *roomImpl) Leave(id domain.MemberID, left Frame) (MemberSession, PublishResult, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.members[id]
	if !ok {
		return nil, PublishResult{}, r.closed, false
	}
	delete(r.members, id)
	res := r.fanOut(id, left)
	if len(r.members) == 0 {
		r.closed = true
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("member", string(id)).Bool("empty", r.closed).Msg("member left")
	return ms, res, r.closed, true
}

func (r *roomImpl) SendTo(from, dst domain.MemberID, data Frame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.members[from]; !ok {
		return ErrNotMember
	}
	target, ok := r.members[dst]
	if !ok {
		return ErrNotMember
	}
	return target.Signal().TrySend(data)
}

func (r *roomImpl) Broadcast(exclude domain.MemberID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := r.fanOut(exclude, data)
	log.Debug().Str("module", "core.room").Str("from", string(exclude)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// fanOut must be called with r.mu held.
func (r *roomImpl) fanOut(exclude domain.MemberID, data Frame) PublishResult {
	res := PublishResult{}
	if data == nil {
		return res
	}
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	return res
}

func (r *roomImpl) MembersSnapshot() []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *roomImpl) snapshotLocked() []domain.Member {
	out := make([]domain.Member, 0, len(r.members))
	for _, ms := range r.members {
		out = append(out, *ms.Meta())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

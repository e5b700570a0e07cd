package chatstore

import (
	"context"
	"sync"

	"github.com/dkeye/peercall/internal/domain"
)

// Memory is the store used when no redis address is configured.
type Memory struct {
	mu    sync.Mutex
	limit int
	rooms map[domain.RoomID][]domain.ChatMessage
}

func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 100
	}
	return &Memory{limit: limit, rooms: make(map[domain.RoomID][]domain.ChatMessage)}
}

func (m *Memory) Append(_ context.Context, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.rooms[msg.Room], msg)
	if len(list) > m.limit {
		list = append([]domain.ChatMessage(nil), list[len(list)-m.limit:]...)
	}
	m.rooms[msg.Room] = list
	return nil
}

func (m *Memory) History(_ context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.rooms[room]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]domain.ChatMessage(nil), list...), nil
}

package core

import (
	"context"
	"errors"

	"github.com/dkeye/peercall/internal/domain"
)

var (
	// ErrRoomClosed is returned by a room that already emptied out and is
	// being removed; callers fetch a fresh room and retry.
	ErrRoomClosed = errors.New("room closed")
	ErrNotMember  = errors.New("not a member of room")
)

//go:generate mockgen -destination=mock_core/mock_interfaces.go -package=mock_core github.com/dkeye/peercall/internal/core SignalConnection

// Frame is a raw encoded signaling envelope.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the router.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
// Every method is serialized against the room's membership table.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []domain.Member

	// Join adds ms and fans joined out to the members already present.
	// It returns the membership including ms.
	Join(ms MemberSession, joined Frame) ([]domain.Member, PublishResult, error)
	// Leave removes id and fans left out to the remaining members.
	// empty reports whether the room closed as a result.
	Leave(id domain.MemberID, left Frame) (ms MemberSession, res PublishResult, empty bool, ok bool)
	// SendTo delivers data to dst when both from and dst are members.
	SendTo(from, dst domain.MemberID, data Frame) error
	Broadcast(exclude domain.MemberID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomID `json:"name"`
	MemberCount int           `json:"client_count"`
}

// RoomManager holds live rooms keyed by id.
type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	// Release drops room from the table if it is still the registered
	// instance for its id.
	Release(room RoomService)
	List() []RoomInfo
}

// ChatStore is the optional persistence boundary for room chat.
type ChatStore interface {
	Append(ctx context.Context, msg domain.ChatMessage) error
	History(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error)
}

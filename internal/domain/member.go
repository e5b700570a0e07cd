// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxMemberIDLen   = 64
	MaxUsernameLen   = 36
	MaxRoomIDLen     = 64
	DefaultUsername  = "guest"
	memberIDReserved = ":"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrMemberIDInvalid = errors.New("member id invalid")
)

// MemberID identifies one signaling connection. It is the key every
// cross-reference (member -> room, session -> peer) is looked up by.
type MemberID string

// Member represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	ID       MemberID `json:"id"`
	Username string   `json:"name"`
	Room     RoomID   `json:"room,omitempty"`
}

// NewMemberID returns a fresh random connection id.
func NewMemberID() MemberID {
	return MemberID(uuid.NewString())
}

// ParseMemberID validates a client-supplied id. An empty string yields a
// generated id.
func ParseMemberID(raw string) (MemberID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return NewMemberID(), nil
	}
	if len(raw) > MaxMemberIDLen || strings.Contains(raw, memberIDReserved) {
		return "", ErrMemberIDInvalid
	}
	return MemberID(raw), nil
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id MemberID, username string) (*Member, error) {
	m := &Member{ID: id, Username: DefaultUsername}
	if username == "" {
		return m, nil
	}
	if err := m.SetUsername(username); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Member) SetUsername(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	m.Username = username
	return nil
}

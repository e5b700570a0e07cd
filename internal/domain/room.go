package domain

import (
	"errors"
	"strings"
)

var ErrRoomIDInvalid = errors.New("room id invalid")

// RoomID is the room name. Knowing it is the only admission check.
type RoomID string

type Room struct {
	ID RoomID
}

func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDInvalid
	}
	return RoomID(raw), nil
}

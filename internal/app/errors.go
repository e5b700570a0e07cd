package app

import "errors"

var (
	ErrAlreadyJoined     = errors.New("already joined a room")
	ErrUnknownTarget     = errors.New("unknown target")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNotInRoom         = errors.New("not in a room")
)

package client

import (
	"errors"
	"fmt"

	"github.com/dkeye/peercall/internal/domain"
)

var (
	ErrSignalingClosed = errors.New("signaling connection closed")
	ErrNotJoined       = errors.New("not joined to a room")
)

// OpError records which client operation failed, and for which peer.
type OpError struct {
	Op   string
	Peer domain.MemberID
	Err  error
}

func (e *OpError) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func newOpError(op string, peer domain.MemberID, err error) *OpError {
	return &OpError{Op: op, Peer: peer, Err: err}
}

package peer

import (
	"errors"

	"github.com/dkeye/peercall/internal/domain"
)

var (
	ErrNegotiationTimeout = errors.New("negotiation timed out")
	ErrIceFailure         = errors.New("ice connection failed")
)

type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateRenegotiating
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateRenegotiating:
		return "renegotiating"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// InitiatorFunc reports whether local starts negotiation with remote.
// Both sides must reach opposite answers.
type InitiatorFunc func(local, remote domain.MemberID) bool

// LexicographicInitiator lets the byte-wise smaller id offer.
func LexicographicInitiator(local, remote domain.MemberID) bool {
	return local < remote
}

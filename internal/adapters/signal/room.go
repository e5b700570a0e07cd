package signal

import (
	"errors"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleReady(st *connState, env domain.Envelope) {
	var p domain.ReadyPayload
	if len(env.Payload) > 0 {
		if err := env.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("bad ready payload")
			ctl.sendError(st.conn, "bad_payload")
			return
		}
	}
	raw := string(p.Room)
	if raw == "" {
		raw = st.room
	}
	roomID, err := domain.ParseRoomID(raw)
	if err != nil {
		ctl.sendError(st.conn, err.Error())
		return
	}
	name := p.Name
	if name == "" {
		name = st.name
	}

	res, err := ctl.Router.Join(st.sid, roomID, name)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Str("room", string(roomID)).Msg("join rejected")
		ctl.sendError(st.conn, errorCode(err))
		return
	}
	self := res.Self
	ctl.send(st.conn, domain.MessageTypeUsers, "", domain.UsersPayload{
		Kind:       domain.UsersSnapshot,
		Self:       &self,
		Members:    res.Members,
		ICEServers: res.ICEServers,
	})
}

// handleHangUp leaves the room but keeps the connection open.
func (ctl *SignalWSController) handleHangUp(st *connState) {
	log.Info().Str("module", "signal").Str("sid", string(st.sid)).Msg("hangUp")
	ctl.Router.Leave(st.sid)
	ctl.send(st.conn, domain.MessageTypeHangUp, "", nil)
}

func (ctl *SignalWSController) handleRelay(st *connState, env domain.Envelope) {
	if err := ctl.Router.Relay(st.sid, env); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Str("dst", string(env.Dst)).Msg("relay failed")
		ctl.sendError(st.conn, errorCode(err))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, app.ErrAlreadyJoined):
		return "already_joined"
	case errors.Is(err, app.ErrUnknownTarget):
		return "unknown_target"
	case errors.Is(err, app.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, domain.ErrUsernameTooLong), errors.Is(err, domain.ErrUsernameEmpty):
		return "invalid_name"
	case errors.Is(err, ErrBackpressure):
		return "target_busy"
	default:
		return err.Error()
	}
}

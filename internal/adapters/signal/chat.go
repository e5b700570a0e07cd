package signal

import (
	"context"
	"strings"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

type chatPayload struct {
	Text string `json:"text"`
}

func (ctl *SignalWSController) handleChat(ctx context.Context, st *connState, env domain.Envelope) {
	var p chatPayload
	if err := env.DecodePayload(&p); err != nil {
		ctl.sendError(st.conn, "bad_payload")
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		ctl.sendError(st.conn, "empty message")
		return
	}
	if len(text) > ctl.opts.ChatMaxLength {
		ctl.sendError(st.conn, "message too long")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(st.sid) {
		log.Warn().Str("module", "signal").Str("sid", string(st.sid)).Msg("chat rate limited")
		ctl.sendError(st.conn, "rate_limited")
		return
	}
	if _, err := ctl.Router.SendChat(ctx, st.sid, text); err != nil {
		ctl.sendError(st.conn, errorCode(err))
	}
}

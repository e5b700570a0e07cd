package signal

import (
	"context"
	"time"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, st *connState) {
	c := st.conn
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(st.sid)).Msg("readPump closing")
		ctl.Router.Disconnect(st.sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(st.sid)
		}
		cancel()
		c.Close()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(st.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			ctl.handleSignal(ctx, st, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, st *connState, data []byte) {
	env, err := domain.ParseEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(st.sid)).Msg("bad envelope")
		ctl.sendError(st.conn, "bad_payload")
		return
	}

	switch env.Type {
	case domain.MessageTypeReady:
		ctl.handleReady(st, env)
	case domain.MessageTypeSignal:
		ctl.handleRelay(st, env)
	case domain.MessageTypeHangUp:
		ctl.handleHangUp(st)
	case domain.MessageTypeMessage:
		ctl.handleChat(ctx, st, env)
	case domain.MessageTypePing:
		ctl.handlePing(st.conn)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unknown signal")
		ctl.sendError(st.conn, "unknown_type")
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, t domain.MessageType, dst domain.MemberID, payload any) {
	b, err := domain.EncodeEnvelope(t, "", dst, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(t)).Msg("send dropped")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, msg string) {
	ctl.send(c, domain.MessageTypeError, "", domain.ErrorPayload{Error: msg})
}

package signal

import "github.com/dkeye/peercall/internal/domain"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.send(conn, domain.MessageTypePong, "", nil)
}

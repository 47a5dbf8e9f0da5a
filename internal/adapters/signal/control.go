package signal

import "github.com/dkeye/Vision/internal/domain"

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, domain.Envelope{Type: domain.EventPong})
}

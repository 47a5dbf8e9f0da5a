// Package orch coordinates the Session Registry with the signaling transport.
package orch

import (
	"github.com/dkeye/Vision/internal/app"
	"github.com/dkeye/Vision/internal/core"
	"github.com/dkeye/Vision/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
}

// Connect registers a freshly accepted transport and tells the client the
// member id the transport was issued.
func (o *Orchestrator) Connect(member domain.MemberID, conn core.SignalConnection) {
	o.Registry.Connect(member, conn)
	if err := o.Registry.Send(member, domain.Envelope{Type: domain.EventWelcome, Member: member}); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("member", string(member)).Msg("welcome not delivered")
	}
}

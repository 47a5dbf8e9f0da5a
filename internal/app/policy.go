package app

import (
	"fmt"

	"github.com/dkeye/Vision/internal/domain"
)

type BackpressureAction int

const (
	// DropEvent loses the event for the slow member; delivery is at-most-once.
	DropEvent BackpressureAction = iota
	// KickMember closes the slow member's transport, which ends in an implicit leave.
	KickMember
)

// Policy decides what happens when a member's signaling channel is saturated.
type Policy interface {
	OnBackPressure(member domain.MemberID, env domain.Envelope) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.MemberID, domain.Envelope) BackpressureAction {
	return p.Action
}

func ParseBackpressure(s string) (BackpressureAction, error) {
	switch s {
	case "", "drop":
		return DropEvent, nil
	case "kick":
		return KickMember, nil
	}
	return DropEvent, fmt.Errorf("unknown backpressure action %q", s)
}

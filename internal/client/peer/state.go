package peer

// State is the lifecycle position of a peer session.
type State int32

const (
	StateNone State = iota
	StateInitiating
	StateAnswering
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInitiating:
		return "initiating"
	case StateAnswering:
		return "answering"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

type Trigger int

const (
	TriggerPropose     Trigger = iota // local side starts a call
	TriggerOffered                    // remote call request received
	TriggerEstablished                // inbound stream arrived
	TriggerFail
	TriggerHangup
)

func (t Trigger) String() string {
	switch t {
	case TriggerPropose:
		return "propose"
	case TriggerOffered:
		return "offered"
	case TriggerEstablished:
		return "established"
	case TriggerFail:
		return "fail"
	case TriggerHangup:
		return "hangup"
	}
	return "unknown"
}

// Next is the session transition table. ok is false when the trigger does
// not apply in state s; the state is then left unchanged.
func Next(s State, t Trigger) (State, bool) {
	switch s {
	case StateNone:
		switch t {
		case TriggerPropose:
			return StateInitiating, true
		case TriggerOffered:
			return StateAnswering, true
		}
	case StateInitiating, StateAnswering:
		switch t {
		case TriggerEstablished:
			return StateOpen, true
		case TriggerFail:
			return StateFailed, true
		case TriggerHangup:
			return StateClosed, true
		}
	case StateOpen:
		if t == TriggerHangup {
			return StateClosed, true
		}
	}
	return s, false
}

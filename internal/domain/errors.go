package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyJoined     = errors.New("member already joined another room")
	ErrMediaAccessDenied = errors.New("local media access denied")
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrRoomIDEmpty       = errors.New("room id empty")
	ErrRoomIDTooLong     = errors.New("room id too long")
	ErrNotInRoom         = errors.New("member is not in a room")
)

// NegotiationError reports a failed handshake with one remote member.
type NegotiationError struct {
	Remote MemberID
	Err    error
}

func (e *NegotiationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("negotiation with %s failed", e.Remote)
	}
	return fmt.Sprintf("negotiation with %s failed: %v", e.Remote, e.Err)
}

func (e *NegotiationError) Unwrap() []error {
	return []error{ErrNegotiationFailed, e.Err}
}

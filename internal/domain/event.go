// Package domain contains ids, wire messages and errors shared by server and client.
package domain

import "encoding/json"

type EventType string

const (
	EventWelcome    EventType = "welcome"
	EventJoinRoom   EventType = "join-room"
	EventRoomState  EventType = "room-state"
	EventPeerJoined EventType = "peer-joined"
	EventLeaveRoom  EventType = "leave-room"
	EventLeft       EventType = "left"
	EventPeerLeft   EventType = "peer-left"
	EventOffer      EventType = "offer"
	EventAnswer     EventType = "answer"
	EventCandidate  EventType = "candidate"
	EventPing       EventType = "ping"
	EventPong       EventType = "pong"
	EventError      EventType = "error"
)

// Error codes carried in Envelope.Error.
const (
	CodeAlreadyJoined = "already_joined"
	CodeBadPayload    = "bad_payload"
	CodeRateLimited   = "rate_limited"
	CodeNotInRoom     = "not_in_room"
)

// Envelope is the single JSON frame exchanged on the signaling channel.
type Envelope struct {
	Type      EventType       `json:"type"`
	Room      RoomID          `json:"room,omitempty"`
	Member    MemberID        `json:"member,omitempty"`
	From      MemberID        `json:"from,omitempty"`
	To        MemberID        `json:"to,omitempty"`
	Members   []MemberID      `json:"members,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// IsNegotiation reports whether the envelope belongs to the offer/answer/ICE
// exchange, which the server relays without interpreting.
func (e Envelope) IsNegotiation() bool {
	switch e.Type {
	case EventOffer, EventAnswer, EventCandidate:
		return true
	}
	return false
}

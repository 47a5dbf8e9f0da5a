package domain

import "strings"

type RoomID string

const (
	DefaultRoom  RoomID = "main-room"
	MaxRoomIDLen        = 36
)

type Room struct {
	ID      RoomID     `json:"id"`
	Members []MemberID `json:"members"`
}

// ParseRoomID trims and validates a client supplied room id.
func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

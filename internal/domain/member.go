package domain

import "github.com/google/uuid"

type MemberID string

// NewMemberID issues a process-wide unique id for a freshly accepted transport.
func NewMemberID() MemberID {
	return MemberID(uuid.NewString())
}

// ShouldInitiate breaks negotiation glare: of any two members only the one
// with the lexicographically smaller id proposes the session.
func ShouldInitiate(local, remote MemberID) bool {
	return local < remote
}

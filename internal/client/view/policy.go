package view

import "fmt"

// Policy decides whether a newly opened session takes over the active view.
type Policy int

const (
	// FirstStays keeps the current active session; a new one is shown only
	// when nothing is active.
	FirstStays Policy = iota
	// LastWins always switches to the newest open session.
	LastWins
)

func (p Policy) String() string {
	switch p {
	case FirstStays:
		return "first-stays"
	case LastWins:
		return "last-wins"
	}
	return "unknown"
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "first-stays":
		return FirstStays, nil
	case "last-wins":
		return LastWins, nil
	}
	return FirstStays, fmt.Errorf("unknown view policy %q", s)
}

// Package audit tracks each mapping key through its lifecycle, from first
// observation to application, review or revert.
package audit

import "fmt"

// State is a lifecycle stage of one (state, district) key.
type State string

const (
	Unseen                State = "UNSEEN"
	Clustered             State = "CLUSTERED"
	Scored                State = "SCORED"
	Applied               State = "APPLIED"
	FlaggedForReview      State = "FLAGGED_FOR_REVIEW"
	Accepted              State = "ACCEPTED"
	Rejected              State = "REJECTED"
	PermanentlyUnresolved State = "PERMANENTLY_UNRESOLVED"
	Reverted              State = "REVERTED"
)

var transitions = map[State][]State{
	Unseen:           {Clustered},
	Clustered:        {Scored},
	Scored:           {Applied, FlaggedForReview},
	FlaggedForReview: {Accepted, Rejected},
	Accepted:         {Applied},
	Rejected:         {PermanentlyUnresolved},
	Applied:          {Reverted},
}

// CanTransition reports whether a key in from may move to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transition other than revert.
func (s State) Terminal() bool {
	switch s {
	case Applied, Reverted, PermanentlyUnresolved:
		return true
	}
	return false
}

// ParseState accepts the upper-case state names.
func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case Unseen, Clustered, Scored, Applied, FlaggedForReview, Accepted, Rejected, PermanentlyUnresolved, Reverted:
		return st, nil
	}
	return "", fmt.Errorf("unknown lifecycle state %q", s)
}

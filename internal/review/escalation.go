package review

import (
	"fmt"

	"github.com/afi-canon/internal/fuzzy"
	"github.com/afi-canon/internal/mapping"
)

// Action is the escalation outcome for a flagged record.
type Action string

const (
	ActionAccept Action = "accept"
	ActionReview Action = "review"
)

// Decision is the escalation result for one flagged record.
type Decision struct {
	Record    mapping.Record
	Diagnosis Diagnosis
	Action    Action
	Reasons   []string
}

// Escalation is the second, tighter pass over flagged records.
type Escalation struct {
	AcceptRatio   float64 // accept outright at or above
	OverlapAccept float64 // accept when overlap and OverlapRatio both hold
	OverlapRatio  float64
	ReviewRatio   float64 // review below
	ReviewOverlap float64 // review below
	Score         fuzzy.Scorer
}

// NewEscalation returns the pass with the production cut-offs.
func NewEscalation() *Escalation {
	return &Escalation{
		AcceptRatio:   90,
		OverlapAccept: 0.7,
		OverlapRatio:  80,
		ReviewRatio:   70,
		ReviewOverlap: 0.3,
		Score:         fuzzy.Ratio,
	}
}

// Classify decides accept or review. An empty canonical name or a
// direction word mismatch always goes to review, before any score is
// looked at. The direction check runs ahead of the ratio accept rule:
// "East Khasi Hills" against "West Khasi Hills" scores 93.75 and would
// otherwise be accepted.
func (e *Escalation) Classify(r mapping.Record) Decision {
	d := Diagnose(r, e.Score)
	dec := Decision{Record: r, Diagnosis: d, Action: ActionReview}

	switch {
	case d.Canonical == "":
		dec.Reasons = []string{ReasonEmptyCanonical}
	case d.DirectionMismatch:
		dec.Reasons = []string{ReasonDirectionMismatch}
	case d.Ratio >= e.AcceptRatio:
		dec.Action = ActionAccept
		dec.Reasons = []string{fmt.Sprintf("%s(%s)", ReasonHighSimilarity, formatScore(d.Ratio))}
	case d.Overlap >= e.OverlapAccept && d.Ratio >= e.OverlapRatio:
		dec.Action = ActionAccept
		dec.Reasons = []string{fmt.Sprintf("%s(%.2f)_ratio(%s)", ReasonHighOverlap, d.Overlap, formatScore(d.Ratio))}
	case d.Ratio < e.ReviewRatio || d.Overlap < e.ReviewOverlap:
		dec.Reasons = []string{fmt.Sprintf("%s(ratio=%s,overlap=%.2f)", ReasonLowSimilarity, formatScore(d.Ratio), d.Overlap)}
	default:
		dec.Action = ActionAccept
		dec.Reasons = []string{fmt.Sprintf("%s(ratio=%s,overlap=%.2f)", ReasonHeuristicAccept, formatScore(d.Ratio), d.Overlap)}
	}
	return dec
}

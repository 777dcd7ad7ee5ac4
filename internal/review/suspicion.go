// Package review decides which proposed mappings need a human: a cheap
// suspicion pass, a tighter escalation pass on whatever it flags, and a
// queue that reviewers drain.
package review

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/afi-canon/internal/fuzzy"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// Reasons attached to verdicts and decisions
const (
	ReasonNotAutoConf       = "not_auto_conf"
	ReasonEmptyToken        = "empty_token"
	ReasonLowRatio          = "low_ratio"
	ReasonLowOverlap        = "low_overlap"
	ReasonDirectionMismatch = "direction_mismatch"
	ReasonEmptyCanonical    = "empty_canonical"
	ReasonHighSimilarity    = "high_similarity"
	ReasonHighOverlap       = "high_overlap"
	ReasonLowSimilarity     = "low_similarity_or_overlap"
	ReasonHeuristicAccept   = "heuristic_accept"
)

// Diagnosis compares a record's original district with its proposed
// canonical district.
type Diagnosis struct {
	Original          string
	Canonical         string
	Ratio             float64 // 0-100, 0 when either side is empty
	Overlap           float64 // 0-1 token Jaccard
	DirectionMismatch bool
}

// Diagnose scores r with score, or the InDel ratio when score is nil.
// Both names are normalized first, so case and punctuation never count
// against a proposal.
func Diagnose(r mapping.Record, score fuzzy.Scorer) Diagnosis {
	if score == nil {
		score = fuzzy.Ratio
	}
	d := Diagnosis{
		Original:  normalize.Normalize(r.Key.District),
		Canonical: normalize.Normalize(r.CanonicalDistrict),
	}
	if d.Original != "" && d.Canonical != "" {
		d.Ratio = fuzzy.Round(score(d.Original, d.Canonical), 2)
	}
	d.Overlap = normalize.TokenOverlap(d.Original, d.Canonical)
	d.DirectionMismatch = normalize.DirectionMismatch(d.Original, d.Canonical)
	return d
}

// Verdict is the suspicion pass result for one record.
type Verdict struct {
	Record    mapping.Record
	Diagnosis Diagnosis
	Flag      bool
	Reasons   []string
}

// Suspicion is the first review pass. Anything outside the trusted tiers,
// any empty name, a low ratio, a low overlap or a direction word mismatch
// flags the record. A near-identical pair clears a low ratio on its own.
type Suspicion struct {
	MinRatio   float64
	MinOverlap float64
	Score      fuzzy.Scorer
}

// NewSuspicion returns the pass with the given cut-offs.
func NewSuspicion(minRatio, minOverlap float64) *Suspicion {
	return &Suspicion{MinRatio: minRatio, MinOverlap: minOverlap, Score: fuzzy.Ratio}
}

// Check runs the pass over one record.
func (s *Suspicion) Check(r mapping.Record) Verdict {
	d := Diagnose(r, s.Score)
	v := Verdict{Record: r, Diagnosis: d}

	if r.Tier != mapping.TierHigh && r.Tier != mapping.TierMedium {
		v.Reasons = append(v.Reasons, ReasonNotAutoConf)
	}
	if d.Original == "" || d.Canonical == "" {
		v.Reasons = append(v.Reasons, ReasonEmptyToken)
	}
	lowRatio := d.Ratio < s.MinRatio
	if lowRatio {
		v.Reasons = append(v.Reasons, fmt.Sprintf("%s(%s)", ReasonLowRatio, formatScore(d.Ratio)))
	}
	if d.Overlap < s.MinOverlap {
		v.Reasons = append(v.Reasons, fmt.Sprintf("%s(%.2f)", ReasonLowOverlap, d.Overlap))
	}
	if d.DirectionMismatch {
		v.Reasons = append(v.Reasons, ReasonDirectionMismatch)
	}

	if lowRatio && d.Ratio >= 95 && d.Overlap >= 0.9 {
		kept := v.Reasons[:0]
		for _, reason := range v.Reasons {
			if !strings.HasPrefix(reason, ReasonLowRatio) {
				kept = append(kept, reason)
			}
		}
		v.Reasons = kept
	}
	v.Flag = len(v.Reasons) > 0
	return v
}

// CheckAll runs Check over records and returns every verdict.
func (s *Suspicion) CheckAll(records []mapping.Record) []Verdict {
	out := make([]Verdict, 0, len(records))
	for _, r := range records {
		out = append(out, s.Check(r))
	}
	return out
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

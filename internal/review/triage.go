package review

import (
	"context"
	"strings"

	"github.com/afi-canon/internal/mapping"
)

// TriageResult splits proposals into what can be applied and what needs a
// human.
type TriageResult struct {
	Verdicts  []Verdict
	Decisions []Decision
	Accepted  []mapping.Record
	Review    []Item
}

// Triage runs the suspicion pass over records and escalates whatever it
// flags. Unflagged and escalation-accepted records form the accepted
// layer; the rest become review items.
func Triage(records []mapping.Record, s *Suspicion, e *Escalation) *TriageResult {
	res := &TriageResult{}
	for _, r := range records {
		v := s.Check(r)
		res.Verdicts = append(res.Verdicts, v)
		if !v.Flag {
			res.Accepted = append(res.Accepted, r)
			continue
		}

		d := e.Classify(r)
		res.Decisions = append(res.Decisions, d)
		if d.Action == ActionReview {
			res.Review = append(res.Review, NewItem(d))
			continue
		}
		acc := r
		if acc.Tier < mapping.TierMedium {
			acc.Tier = mapping.TierMedium
		}
		acc.Note = strings.Join(d.Reasons, ";")
		res.Accepted = append(res.Accepted, acc)
	}
	return res
}

// AcceptedLayer is the accepted-after-escalation mapping layer.
func (t *TriageResult) AcceptedLayer() mapping.Layer {
	return mapping.NewLayer(mapping.SourceAccepted, t.Accepted)
}

// Enqueue pushes the review items onto q.
func (t *TriageResult) Enqueue(ctx context.Context, q Queue) error {
	if len(t.Review) == 0 {
		return nil
	}
	return q.Push(ctx, t.Review...)
}

// Flagged counts verdicts that raised a flag.
func (t *TriageResult) Flagged() int {
	n := 0
	for _, v := range t.Verdicts {
		if v.Flag {
			n++
		}
	}
	return n
}

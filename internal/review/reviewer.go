package review

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// ErrQuit stops a drain early without error
var ErrQuit = errors.New("review session ended")

// Reviewer decides pending items.
type Reviewer interface {
	Review(ctx context.Context, item Item) (Resolution, error)
}

// StrictReviewer is an unattended reviewer with tighter cut-offs than the
// escalation pass. It never skips: whatever it does not accept is rejected.
type StrictReviewer struct {
	MinRatio   float64
	MinOverlap float64
}

// NewStrictReviewer returns the default unattended reviewer.
func NewStrictReviewer() *StrictReviewer {
	return &StrictReviewer{MinRatio: 95, MinOverlap: 0.5}
}

func (s *StrictReviewer) Review(ctx context.Context, item Item) (Resolution, error) {
	d := Diagnose(item.Record, nil)
	res := Resolution{Outcome: OutcomeReject, Reviewer: "strict"}
	switch {
	case item.Record.CanonicalState == "" || d.Canonical == "":
		res.Notes = ReasonEmptyCanonical
	case d.DirectionMismatch:
		res.Notes = ReasonDirectionMismatch
	case d.Ratio >= s.MinRatio && d.Overlap >= s.MinOverlap:
		res.Outcome = OutcomeAccept
		res.Notes = fmt.Sprintf("ratio=%s,overlap=%.2f", formatScore(d.Ratio), d.Overlap)
	default:
		res.Notes = fmt.Sprintf("below strict cut-off: ratio=%s,overlap=%.2f", formatScore(d.Ratio), d.Overlap)
	}
	return res, nil
}

// FileDecision is one line of a human-edited decisions file.
type FileDecision struct {
	Key               mapping.Key
	Action            string // accept or reject
	CanonicalState    string
	CanonicalDistrict string
	Notes             string
}

// FileReviewer answers from decisions a human wrote offline. Items without
// a decision are skipped and stay pending.
type FileReviewer struct {
	Name      string
	decisions map[mapping.Key]FileDecision
}

// NewFileReviewer indexes decisions by key; later lines win.
func NewFileReviewer(name string, decisions []FileDecision) *FileReviewer {
	m := make(map[mapping.Key]FileDecision, len(decisions))
	for _, d := range decisions {
		m[d.Key] = d
	}
	if name == "" {
		name = "file"
	}
	return &FileReviewer{Name: name, decisions: m}
}

func (f *FileReviewer) Review(ctx context.Context, item Item) (Resolution, error) {
	d, ok := f.decisions[item.Record.Key]
	if !ok {
		return Resolution{Outcome: OutcomeSkip}, nil
	}
	res := Resolution{Reviewer: f.Name, Notes: d.Notes}
	switch strings.ToLower(strings.TrimSpace(d.Action)) {
	case "accept", "accepted", "a":
		res.Outcome = OutcomeAccept
		res.CanonicalState = normalize.Clean(d.CanonicalState)
		res.CanonicalDistrict = normalize.Clean(d.CanonicalDistrict)
	case "reject", "rejected", "r":
		res.Outcome = OutcomeReject
	default:
		res.Outcome = OutcomeSkip
	}
	return res, nil
}

// InteractiveReviewer prompts on a terminal.
type InteractiveReviewer struct {
	Name string
	in   *bufio.Reader
	out  io.Writer
}

// NewInteractiveReviewer reads answers from in and prompts on out.
func NewInteractiveReviewer(name string, in io.Reader, out io.Writer) *InteractiveReviewer {
	if name == "" {
		name = "system_user"
	}
	return &InteractiveReviewer{Name: name, in: bufio.NewReader(in), out: out}
}

func (ir *InteractiveReviewer) Review(ctx context.Context, item Item) (Resolution, error) {
	r := item.Record
	fmt.Fprintf(ir.out, "Original:  %s / %s\n", r.Key.State, r.Key.District)
	fmt.Fprintf(ir.out, "Proposed:  %s / %s\n", r.CanonicalState, r.CanonicalDistrict)
	if r.SuggestedDistrict != "" {
		fmt.Fprintf(ir.out, "Suggested: %s (%s)\n", r.SuggestedDistrict, r.SuggestionConfidence)
	}
	fmt.Fprintf(ir.out, "Scores:    fuzzy_ratio=%.2f token_overlap=%.2f\n", item.Ratio, item.Overlap)
	if len(item.Reasons) > 0 {
		fmt.Fprintf(ir.out, "Reasons:   %s\n", strings.Join(item.Reasons, ", "))
	}
	fmt.Fprintln(ir.out)

	for {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}
		fmt.Fprintln(ir.out, "Options:")
		fmt.Fprintln(ir.out, "  a - Accept the proposal")
		fmt.Fprintln(ir.out, "  e - Accept with a different district")
		fmt.Fprintln(ir.out, "  r - Reject")
		fmt.Fprintln(ir.out, "  s - Skip this item (review later)")
		fmt.Fprintln(ir.out, "  q - Quit review session")
		fmt.Fprint(ir.out, "Your decision: ")

		choice, err := ir.readLine()
		if err != nil {
			return Resolution{}, err
		}
		switch strings.ToLower(choice) {
		case "a":
			return Resolution{Outcome: OutcomeAccept, Reviewer: ir.Name}, nil
		case "e":
			fmt.Fprint(ir.out, "Canonical district: ")
			district, err := ir.readLine()
			if err != nil {
				return Resolution{}, err
			}
			if district == "" {
				fmt.Fprintln(ir.out, "Empty district, try again.")
				continue
			}
			return Resolution{Outcome: OutcomeAccept, CanonicalDistrict: district, Reviewer: ir.Name}, nil
		case "r":
			fmt.Fprint(ir.out, "Optional notes for rejection: ")
			notes, err := ir.readLine()
			if err != nil {
				return Resolution{}, err
			}
			return Resolution{Outcome: OutcomeReject, Reviewer: ir.Name, Notes: notes}, nil
		case "s":
			return Resolution{Outcome: OutcomeSkip}, nil
		case "q":
			return Resolution{}, ErrQuit
		default:
			fmt.Fprintf(ir.out, "Invalid choice '%s'. Please try again.\n", choice)
		}
	}
}

func (ir *InteractiveReviewer) readLine() (string, error) {
	line, err := ir.in.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err == io.EOF {
		return "", ErrQuit
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// DrainResult counts what a drain decided.
type DrainResult struct {
	Reviewed int
	Accepted int
	Rejected int
	Skipped  int
	// RejectedKeys end up permanently unresolved
	RejectedKeys []mapping.Key
	AcceptedKeys []mapping.Key
}

// Drain hands every pending item to reviewer once. Skipped items stay
// pending for a later session; ErrQuit from the reviewer ends the drain
// early and is not returned.
func Drain(ctx context.Context, q Queue, reviewer Reviewer, logger *slog.Logger) (*DrainResult, error) {
	res := &DrainResult{}
	items, err := q.Pending(ctx, 0)
	if err != nil {
		return res, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		decision, err := reviewer.Review(ctx, it)
		if errors.Is(err, ErrQuit) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("failed to review %s: %w", it.Record.Key, err)
		}
		res.Reviewed++

		switch decision.Outcome {
		case OutcomeSkip:
			res.Skipped++
			continue
		case OutcomeAccept:
			res.Accepted++
			res.AcceptedKeys = append(res.AcceptedKeys, it.Record.Key)
		case OutcomeReject:
			res.Rejected++
			res.RejectedKeys = append(res.RejectedKeys, it.Record.Key)
		}
		if err := q.Resolve(ctx, it.ID, decision); err != nil {
			return res, err
		}
		if logger != nil {
			logger.Debug("review decision", "key", it.Record.Key.String(), "outcome", decision.Outcome, "reviewer", decision.Reviewer)
		}
	}

	if logger != nil {
		logger.Info("review drain complete",
			"pending", len(items),
			"reviewed", res.Reviewed,
			"accepted", res.Accepted,
			"rejected", res.Rejected,
			"skipped", res.Skipped)
	}
	return res, nil
}

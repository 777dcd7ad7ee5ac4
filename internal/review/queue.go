package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/afi-canon/internal/mapping"
)

// ErrUnknownItem is returned when resolving an item the queue does not hold
var ErrUnknownItem = errors.New("unknown review item")

// Status of a queued item
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Outcome is what a reviewer decided for one item
type Outcome string

const (
	OutcomeAccept Outcome = "accept"
	OutcomeReject Outcome = "reject"
	OutcomeSkip   Outcome = "skip"
)

// Resolution is a reviewer's answer for one item. For an accept, empty
// canonical fields mean the proposal is taken as it stands.
type Resolution struct {
	Outcome           Outcome
	CanonicalState    string
	CanonicalDistrict string
	Reviewer          string
	Notes             string
	At                time.Time
}

// Item is one mapping waiting for a human decision.
type Item struct {
	ID         string
	Record     mapping.Record
	Ratio      float64
	Overlap    float64
	Reasons    []string
	Status     Status
	Resolution Resolution
	CreatedAt  time.Time
}

// NewItem builds a pending item from an escalation decision.
func NewItem(d Decision) Item {
	return Item{
		ID:        ulid.Make().String(),
		Record:    d.Record,
		Ratio:     d.Diagnosis.Ratio,
		Overlap:   d.Diagnosis.Overlap,
		Reasons:   append([]string(nil), d.Reasons...),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Canonical returns the names the item resolves to once accepted.
func (it Item) Canonical() (string, string) {
	state, district := it.Record.CanonicalState, it.Record.CanonicalDistrict
	if it.Resolution.CanonicalState != "" {
		state = it.Resolution.CanonicalState
	}
	if it.Resolution.CanonicalDistrict != "" {
		district = it.Resolution.CanonicalDistrict
	}
	return state, district
}

// Queue holds items awaiting review. Pushing a key that is already queued
// refreshes a pending item and leaves a resolved one alone, so re-running
// triage never discards a human decision.
type Queue interface {
	Push(ctx context.Context, items ...Item) error
	Pending(ctx context.Context, limit int) ([]Item, error)
	Resolve(ctx context.Context, id string, res Resolution) error
	Resolved(ctx context.Context) ([]Item, error)
}

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]*Item
	byKey map[mapping.Key]string
	order []string
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make(map[string]*Item), byKey: make(map[mapping.Key]string)}
}

func (q *MemoryQueue) Push(ctx context.Context, items ...Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range items {
		if id, ok := q.byKey[it.Record.Key]; ok {
			existing := q.items[id]
			if existing.Status == StatusPending {
				it.ID, it.CreatedAt, it.Status = existing.ID, existing.CreatedAt, StatusPending
				*existing = it
			}
			continue
		}
		if it.ID == "" {
			it.ID = ulid.Make().String()
		}
		if it.Status == "" {
			it.Status = StatusPending
		}
		cp := it
		q.items[it.ID] = &cp
		q.byKey[it.Record.Key] = it.ID
		q.order = append(q.order, it.ID)
	}
	return nil
}

func (q *MemoryQueue) Pending(ctx context.Context, limit int) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for _, id := range q.order {
		if it := q.items[id]; it.Status == StatusPending {
			out = append(out, *it)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (q *MemoryQueue) Resolve(ctx context.Context, id string, res Resolution) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	status, err := statusFor(res.Outcome)
	if err != nil {
		return err
	}
	if res.At.IsZero() {
		res.At = time.Now().UTC()
	}
	it.Status = status
	it.Resolution = res
	return nil
}

func (q *MemoryQueue) Resolved(ctx context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Item
	for _, id := range q.order {
		if it := q.items[id]; it.Status != StatusPending {
			out = append(out, *it)
		}
	}
	sortByKey(out)
	return out, nil
}

func statusFor(o Outcome) (Status, error) {
	switch o {
	case OutcomeAccept:
		return StatusAccepted, nil
	case OutcomeReject:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("cannot resolve with outcome %q", o)
	}
}

func sortByKey(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Record.Key.Less(items[j].Record.Key)
	})
}

// ManualLayer turns accepted items into the manual mapping layer.
func ManualLayer(items []Item) mapping.Layer {
	var recs []mapping.Record
	for _, it := range items {
		if it.Status != StatusAccepted {
			continue
		}
		state, district := it.Canonical()
		if state == "" || district == "" {
			continue
		}
		note := "reviewed"
		if it.Resolution.Reviewer != "" {
			note = "reviewed by " + it.Resolution.Reviewer
		}
		if it.Resolution.Notes != "" {
			note += ": " + it.Resolution.Notes
		}
		recs = append(recs, mapping.Record{
			Key:               it.Record.Key,
			CanonicalState:    state,
			CanonicalDistrict: district,
			Tier:              mapping.TierHigh,
			Note:              note,
		})
	}
	return mapping.NewLayer(mapping.SourceManual, recs)
}

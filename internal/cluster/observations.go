// Package cluster groups spelling variants of district names within a state
// and scores how confidently each group resolves to one canonical name.
package cluster

import (
	"sync"

	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/normalize"
)

// Variant is one raw (state, district) spelling with its observed row count.
type Variant struct {
	State      string // normalized state
	RawState   string
	Raw        string // raw district
	Normalized string // normalized district
	Weight     int
}

// Observations accumulates row counts per raw key in first-seen order.
// It is safe for concurrent use.
type Observations struct {
	mu     sync.Mutex
	counts map[mapping.Key]int
	order  []mapping.Key
}

// NewObservations creates an empty accumulator
func NewObservations() *Observations {
	return &Observations{counts: make(map[mapping.Key]int)}
}

// Add records rows observations of the raw (state, district) pair.
func (o *Observations) Add(state, district string, rows int) {
	key := mapping.NewKey(state, district)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.counts[key]; !ok {
		o.order = append(o.order, key)
	}
	o.counts[key] += rows
}

// Merge folds other into o, keeping o's first-seen order.
func (o *Observations) Merge(other *Observations) {
	for _, k := range other.Keys() {
		o.Add(k.State, k.District, other.Weight(k))
	}
}

// Keys returns the raw keys in first-seen order.
func (o *Observations) Keys() []mapping.Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]mapping.Key, len(o.order))
	copy(out, o.order)
	return out
}

// Weight is the row count recorded for key.
func (o *Observations) Weight(key mapping.Key) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[key]
}

// Len is the number of distinct raw keys.
func (o *Observations) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}

// Total is the number of rows observed.
func (o *Observations) Total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, c := range o.counts {
		total += c
	}
	return total
}

// StateGroup holds the variants of one normalized state in first-seen order.
type StateGroup struct {
	State    string
	Variants []Variant
}

// Forms returns the distinct normalized districts in first-seen order.
func (g StateGroup) Forms() []string {
	seen := make(map[string]bool)
	var forms []string
	for _, v := range g.Variants {
		if !seen[v.Normalized] {
			seen[v.Normalized] = true
			forms = append(forms, v.Normalized)
		}
	}
	return forms
}

// ByState groups the observations by normalized state, states in first-seen order.
func (o *Observations) ByState() []StateGroup {
	keys := o.Keys()
	index := make(map[string]int)
	var groups []StateGroup
	for _, k := range keys {
		ns := normalize.Normalize(k.State)
		i, ok := index[ns]
		if !ok {
			i = len(groups)
			index[ns] = i
			groups = append(groups, StateGroup{State: ns})
		}
		groups[i].Variants = append(groups[i].Variants, Variant{
			State:      ns,
			RawState:   k.State,
			Raw:        k.District,
			Normalized: normalize.Normalize(k.District),
			Weight:     o.Weight(k),
		})
	}
	return groups
}

// Package mapping holds raw-key to canonical-name records and merges the
// layers produced by clustering, review and reverts into one read-only store.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/afi-canon/internal/normalize"
)

// ErrUnknownTier is returned when a confidence label cannot be parsed
var ErrUnknownTier = errors.New("unknown confidence tier")

// ErrUnknownSource is returned when a layer source label cannot be parsed
var ErrUnknownSource = errors.New("unknown layer source")

// Tier is the confidence of a mapping; higher values are more trusted.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParseTier accepts plain tier names and the auto_* confidence labels.
// A blank label is low.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "auto_high":
		return TierHigh, nil
	case "medium", "auto_medium":
		return TierMedium, nil
	case "low", "auto_low", "manual", "":
		return TierLow, nil
	default:
		return TierLow, fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// ParseTiers parses a list of tier names into a set.
func ParseTiers(names []string) (map[Tier]bool, error) {
	set := make(map[Tier]bool, len(names))
	for _, n := range names {
		t, err := ParseTier(n)
		if err != nil {
			return nil, err
		}
		set[t] = true
	}
	return set, nil
}

// Source names the layer a record came from.
type Source string

const (
	SourceReverted   Source = "reverted"
	SourceManual     Source = "manual"
	SourceAccepted   Source = "accepted"
	SourceAutoHigh   Source = "auto_high"
	SourceAutoMedium Source = "auto_medium"
	SourceAutoLow    Source = "auto_low"
	SourceFallback   Source = "fallback"
)

// Priority lists the sources from most to least authoritative.
var Priority = []Source{
	SourceReverted,
	SourceManual,
	SourceAccepted,
	SourceAutoHigh,
	SourceAutoMedium,
	SourceAutoLow,
	SourceFallback,
}

// Rank is the position of s in Priority; lower wins. Unknown sources sort last.
func (s Source) Rank() int {
	for i, p := range Priority {
		if p == s {
			return i
		}
	}
	return len(Priority)
}

// ParseSource validates a source label.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if src.Rank() == len(Priority) {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
	}
	return src, nil
}

// AutoSource maps a cluster tier to its automatic layer.
func AutoSource(t Tier) Source {
	switch t {
	case TierHigh:
		return SourceAutoHigh
	case TierMedium:
		return SourceAutoMedium
	default:
		return SourceAutoLow
	}
}

// Key is the raw (state, district) pair exactly as it appears in a dataset,
// with surrounding whitespace removed.
type Key struct {
	State    string
	District string
}

// NewKey trims the raw values into a Key.
func NewKey(state, district string) Key {
	return Key{State: strings.TrimSpace(state), District: strings.TrimSpace(district)}
}

func (k Key) String() string {
	return k.State + " / " + k.District
}

// Less orders keys by state then district.
func (k Key) Less(o Key) bool {
	if k.State != o.State {
		return k.State < o.State
	}
	return k.District < o.District
}

// Record maps one raw key to its canonical and suggested names.
// Canonical fields are empty unless a cluster or a review produced them.
type Record struct {
	Key                  Key
	CanonicalState       string
	CanonicalDistrict    string
	SuggestedState       string
	SuggestedDistrict    string
	SuggestionConfidence string
	Tier                 Tier
	Source               Source
	Note                 string
}

// Resolved reports whether both canonical fields are present.
func (r Record) Resolved() bool {
	return r.CanonicalState != "" && r.CanonicalDistrict != ""
}

// Empty reports whether the record carries no names at all.
func (r Record) Empty() bool {
	return r.CanonicalState == "" && r.CanonicalDistrict == "" &&
		r.SuggestedState == "" && r.SuggestedDistrict == ""
}

// Layer is a set of records sharing one source.
type Layer struct {
	Source  Source
	Records []Record
}

// NewLayer stamps every record with source.
func NewLayer(source Source, records []Record) Layer {
	out := make([]Record, len(records))
	for i, r := range records {
		r.Source = source
		out[i] = r
	}
	return Layer{Source: source, Records: out}
}

// Fallback is the record used when no layer resolves a key: the title-cased
// original, or emptyValue when the original is blank.
func Fallback(key Key, emptyValue string) Record {
	return Record{
		Key:               key,
		CanonicalState:    orEmpty(normalize.TitleCase(key.State), emptyValue),
		CanonicalDistrict: orEmpty(normalize.TitleCase(key.District), emptyValue),
		Tier:              TierLow,
		Source:            SourceFallback,
	}
}

func orEmpty(v, emptyValue string) string {
	if v == "" {
		return emptyValue
	}
	return v
}

package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// Origins names the layer that supplied each merged field.
type Origins struct {
	CanonicalState    Source
	CanonicalDistrict Source
	SuggestedState    Source
	SuggestedDistrict Source
}

// Store is the merged, read-only view of all layers. It is never mutated
// after Merge returns, so concurrent readers need no locking.
type Store struct {
	records map[Key]Record
	origins map[Key]Origins
	keys    []Key
}

// Merge combines layers by source priority. For every key each field takes
// the first non-empty value in priority order; tier, source and note come
// from the most authoritative layer that contributed a value. Layers may be
// passed in any order; records for the same key inside one layer keep the
// last occurrence.
func Merge(layers ...Layer) *Store {
	ordered := make([]Layer, len(layers))
	copy(ordered, layers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Source.Rank() < ordered[j].Source.Rank()
	})

	s := &Store{
		records: make(map[Key]Record),
		origins: make(map[Key]Origins),
	}
	provenance := make(map[Key]bool)

	for _, layer := range ordered {
		seen := make(map[Key]Record, len(layer.Records))
		var order []Key
		for _, r := range layer.Records {
			if _, ok := seen[r.Key]; !ok {
				order = append(order, r.Key)
			}
			seen[r.Key] = r
		}

		for _, key := range order {
			r := seen[key]
			src := layer.Source
			if src == "" {
				src = r.Source
			}

			merged, exists := s.records[key]
			if !exists {
				merged = Record{Key: key, Tier: r.Tier, Source: src, Note: r.Note}
			}
			o := s.origins[key]

			contributed := false
			fill := func(dst *string, origin *Source, v string) {
				if *dst == "" && v != "" {
					*dst = v
					*origin = src
					contributed = true
				}
			}
			fill(&merged.CanonicalState, &o.CanonicalState, r.CanonicalState)
			fill(&merged.CanonicalDistrict, &o.CanonicalDistrict, r.CanonicalDistrict)
			fill(&merged.SuggestedState, &o.SuggestedState, r.SuggestedState)
			fill(&merged.SuggestedDistrict, &o.SuggestedDistrict, r.SuggestedDistrict)
			if merged.SuggestionConfidence == "" {
				merged.SuggestionConfidence = r.SuggestionConfidence
			}

			if contributed && !provenance[key] {
				merged.Tier = r.Tier
				merged.Source = src
				merged.Note = r.Note
				provenance[key] = true
			}

			s.records[key] = merged
			s.origins[key] = o
		}
	}

	s.keys = make([]Key, 0, len(s.records))
	for k := range s.records {
		s.keys = append(s.keys, k)
	}
	sort.Slice(s.keys, func(i, j int) bool { return s.keys[i].Less(s.keys[j]) })
	return s
}

// Lookup returns the merged record for key.
func (s *Store) Lookup(key Key) (Record, bool) {
	r, ok := s.records[key]
	return r, ok
}

// Origins returns which layer supplied each field of key.
func (s *Store) Origins(key Key) Origins {
	return s.origins[key]
}

// Len is the number of keys in the store.
func (s *Store) Len() int {
	return len(s.records)
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []Key {
	out := make([]Key, len(s.keys))
	copy(out, s.keys)
	return out
}

// Records returns every merged record sorted by key.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.records[k])
	}
	return out
}

// Resolve returns the canonical names for key when its tier is in tiers and
// both canonical fields are present. Otherwise it returns the fallback record.
func (s *Store) Resolve(key Key, tiers map[Tier]bool, emptyValue string) (Record, bool) {
	if r, ok := s.records[key]; ok && tiers[r.Tier] && r.Resolved() {
		return r, true
	}
	return Fallback(key, emptyValue), false
}

// Digest is a stable SHA-256 over the sorted records. Two stores built from
// the same layers have the same digest.
func (s *Store) Digest() string {
	h := sha256.New()
	for _, k := range s.keys {
		r := s.records[k]
		fields := []string{
			r.Key.State, r.Key.District,
			r.CanonicalState, r.CanonicalDistrict,
			r.SuggestedState, r.SuggestedDistrict, r.SuggestionConfidence,
			strconv.Itoa(int(r.Tier)), string(r.Source), r.Note,
		}
		h.Write([]byte(strings.Join(fields, "\x1f")))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Unresolved returns the records that would fall back under tiers.
func (s *Store) Unresolved(tiers map[Tier]bool) []Record {
	var out []Record
	for _, k := range s.keys {
		r := s.records[k]
		if !tiers[r.Tier] || !r.Resolved() {
			out = append(out, r)
		}
	}
	return out
}

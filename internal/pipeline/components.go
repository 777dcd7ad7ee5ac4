package pipeline

import (
	"log/slog"

	"github.com/afi-canon/internal/apply"
	"github.com/afi-canon/internal/cluster"
	"github.com/afi-canon/internal/config"
	"github.com/afi-canon/internal/fuzzy"
	"github.com/afi-canon/internal/ledger"
	"github.com/afi-canon/internal/mapping"
	"github.com/afi-canon/internal/review"
)

// NewMapper builds the clusterer and scorer from cfg.
func NewMapper(cfg *config.Config, logger *slog.Logger) (*cluster.Mapper, error) {
	t := cfg.Thresholds
	c, err := cluster.NewClusterer(t.Similarity, t.MinClusterSize, cfg.Clustering, cfg.Scorer)
	if err != nil {
		return nil, err
	}
	score, err := fuzzy.ByName(cfg.Scorer)
	if err != nil {
		return nil, err
	}
	return &cluster.Mapper{
		Clusterer: c,
		Scorer: &cluster.Scorer{
			Rules: cluster.Rules{
				HighDominance:    t.HighDominance,
				HighSimilarity:   t.Similarity,
				MediumDominance:  t.MediumDominance,
				MediumSimilarity: t.MediumSimilarity,
			},
			Score: score,
		},
		Workers: cfg.Workers,
		Logger:  logger,
	}, nil
}

// SuggestRules reads the suggestion cut-offs from cfg.
func SuggestRules(cfg *config.Config) cluster.SuggestRules {
	return cluster.SuggestRules{
		HighDominance:   cfg.Thresholds.SuggestionHighDominance,
		MediumDominance: cfg.Thresholds.SuggestionMediumDominance,
	}
}

// NewSuspicion builds the first review pass from cfg.
func NewSuspicion(cfg *config.Config) (*review.Suspicion, error) {
	score, err := fuzzy.ByName(cfg.Scorer)
	if err != nil {
		return nil, err
	}
	s := review.NewSuspicion(cfg.Thresholds.SuspicionRatio, cfg.Thresholds.SuspicionOverlap)
	s.Score = score
	return s, nil
}

// NewEscalation builds the second review pass from cfg.
func NewEscalation(cfg *config.Config) (*review.Escalation, error) {
	score, err := fuzzy.ByName(cfg.Scorer)
	if err != nil {
		return nil, err
	}
	t := cfg.Thresholds
	e := review.NewEscalation()
	e.AcceptRatio = t.EscalationAcceptRatio
	e.OverlapAccept = t.EscalationOverlapAccept
	e.OverlapRatio = t.EscalationOverlapRatio
	e.ReviewRatio = t.EscalationReviewRatio
	e.ReviewOverlap = t.EscalationReviewOverlap
	e.Score = score
	return e, nil
}

// NewStateResolver builds the state whitelist resolver from cfg.
func NewStateResolver(cfg *config.Config) (*apply.StateResolver, error) {
	score, err := fuzzy.ByName(cfg.Scorer)
	if err != nil {
		return nil, err
	}
	r := apply.NewStateResolver(cfg.States.Whitelist, cfg.States.Manual, cfg.Thresholds.StateFuzzy)
	r.Score = score
	return r, nil
}

// NewTriage runs both review passes from cfg over proposals.
func NewTriage(cfg *config.Config, proposals []mapping.Record) (*review.TriageResult, error) {
	s, err := NewSuspicion(cfg)
	if err != nil {
		return nil, err
	}
	e, err := NewEscalation(cfg)
	if err != nil {
		return nil, err
	}
	return review.Triage(proposals, s, e), nil
}

// NewApplier builds an applier over store for one dataset.
func NewApplier(cfg *config.Config, store *mapping.Store, l *ledger.Ledger, name string, logger *slog.Logger) (*apply.Applier, error) {
	tiers, err := mapping.ParseTiers(cfg.ApplyTiers)
	if err != nil {
		return nil, err
	}
	states, err := NewStateResolver(cfg)
	if err != nil {
		return nil, err
	}
	return &apply.Applier{
		Store:          store,
		ApplyTiers:     tiers,
		ChunkSize:      cfg.ChunkSize,
		EmptyValue:     cfg.EmptyValue,
		States:         states,
		NumericColumns: cfg.NumericColumns,
		Pincodes:       true,
		Ledger:         l,
		Dataset:        name,
		Logger:         logger,
	}, nil
}

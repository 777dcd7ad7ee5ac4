package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afi-canon/internal/config"
	"github.com/afi-canon/internal/fuzzy"
)

func TestComponentsFollowScorer(t *testing.T) {
	tests := []struct {
		scorer string
		want   fuzzy.Scorer
	}{
		{"indel", fuzzy.Ratio},
		{"levenshtein", fuzzy.LevenshteinRatio},
	}

	// A dropped letter scores differently under the two measures.
	a, b := "cuttack", "cuttak"
	for _, tt := range tests {
		t.Run(tt.scorer, func(t *testing.T) {
			cfg := config.Default(filepath.Join(t.TempDir(), "work"))
			cfg.Scorer = tt.scorer
			want := tt.want(a, b)

			s, err := NewSuspicion(cfg)
			require.NoError(t, err)
			assert.Equal(t, want, s.Score(a, b))

			e, err := NewEscalation(cfg)
			require.NoError(t, err)
			assert.Equal(t, want, e.Score(a, b))

			r, err := NewStateResolver(cfg)
			require.NoError(t, err)
			assert.Equal(t, want, r.Score(a, b))

			app, err := NewApplier(cfg, nil, nil, "enrolment", nil)
			require.NoError(t, err)
			assert.Equal(t, want, app.States.Score(a, b))
		})
	}

	assert.NotEqual(t, fuzzy.Ratio(a, b), fuzzy.LevenshteinRatio(a, b))
}

func TestComponentsRejectUnknownScorer(t *testing.T) {
	cfg := config.Default(filepath.Join(t.TempDir(), "work"))
	cfg.Scorer = "soundex"

	_, err := NewSuspicion(cfg)
	assert.Error(t, err)
	_, err = NewEscalation(cfg)
	assert.Error(t, err)
	_, err = NewStateResolver(cfg)
	assert.Error(t, err)
	_, err = NewTriage(cfg, nil)
	assert.Error(t, err)
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Thresholds groups every numeric cut-off used by the canonicalization stages.
// Similarity values are on the 0-100 scale, dominance and overlap on 0-1.
type Thresholds struct {
	Similarity       float64 `yaml:"similarity"`
	MinClusterSize   int     `yaml:"min_cluster_size"`
	HighDominance    float64 `yaml:"high_dominance"`
	MediumDominance  float64 `yaml:"medium_dominance"`
	MediumSimilarity float64 `yaml:"medium_similarity"`

	SuggestionHighDominance   float64 `yaml:"suggestion_high_dominance"`
	SuggestionMediumDominance float64 `yaml:"suggestion_medium_dominance"`

	SuspicionRatio   float64 `yaml:"suspicion_ratio"`
	SuspicionOverlap float64 `yaml:"suspicion_overlap"`

	EscalationAcceptRatio   float64 `yaml:"escalation_accept_ratio"`
	EscalationOverlapAccept float64 `yaml:"escalation_overlap_accept"`
	EscalationOverlapRatio  float64 `yaml:"escalation_overlap_ratio"`
	EscalationReviewRatio   float64 `yaml:"escalation_review_ratio"`
	EscalationReviewOverlap float64 `yaml:"escalation_review_overlap"`

	StateFuzzy float64 `yaml:"state_fuzzy"`
}

// StatesConfig holds the canonical state whitelist and hand-curated remaps.
type StatesConfig struct {
	Whitelist []string          `yaml:"whitelist"`
	Manual    map[string]string `yaml:"manual"`
}

// Config is passed explicitly into every component; nothing reads globals.
type Config struct {
	Workspace  string `yaml:"workspace"`
	StorePath  string `yaml:"store_path"`
	LedgerPath string `yaml:"ledger_path"`

	Thresholds Thresholds `yaml:"thresholds"`
	Clustering string     `yaml:"clustering"`
	Scorer     string     `yaml:"scorer"`
	ApplyTiers []string   `yaml:"apply_tiers"`
	ChunkSize  int        `yaml:"chunk_size"`
	Workers    int        `yaml:"workers"`
	Reviewer   string     `yaml:"reviewer"`

	States         StatesConfig `yaml:"states"`
	EmptyValue     string       `yaml:"empty_value"`
	NumericColumns []string     `yaml:"numeric_columns"`

	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// CanonicalStates is the default whitelist of Indian states and union territories.
var CanonicalStates = []string{
	"Andhra Pradesh", "Arunachal Pradesh", "Assam", "Bihar", "Chhattisgarh", "Goa", "Gujarat",
	"Haryana", "Himachal Pradesh", "Jharkhand", "Karnataka", "Kerala", "Madhya Pradesh",
	"Maharashtra", "Manipur", "Meghalaya", "Mizoram", "Nagaland", "Odisha", "Punjab", "Rajasthan",
	"Sikkim", "Tamil Nadu", "Telangana", "Tripura", "Uttar Pradesh", "Uttarakhand", "West Bengal",
	"Andaman and Nicobar Islands", "Chandigarh", "Dadra and Nagar Haveli and Daman and Diu",
	"Delhi", "Jammu and Kashmir", "Ladakh", "Puducherry", "Lakshadweep",
}

// DefaultStateRemaps are known legacy or misspelt state names, plus city
// names that turned up in the state column.
func DefaultStateRemaps() map[string]string {
	return map[string]string{
		"Raja Annamalai Puram": "Tamil Nadu",
		"Nagpur":               "Maharashtra",
		"Puttenahalli":         "Karnataka",
		"Madanapalle":          "Andhra Pradesh",
		"Jaipur":               "Rajasthan",
		"Balanagar":            "Telangana",
		"Darbhanga":            "Bihar",

		"Jammu & Kashmir":   "Jammu and Kashmir",
		"Jammu And Kashmir": "Jammu and Kashmir",
		"Pondicherry":       "Puducherry",
		"West Bangal":       "West Bengal",
		"West Bengli":       "West Bengal",
		"Westbengal":        "West Bengal",
		"Uttaranchal":       "Uttarakhand",
		"Orissa":            "Odisha",
		"Chhatisgarh":       "Chhattisgarh",
	}
}

// DefaultThresholds returns the production thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity:       85,
		MinClusterSize:   2,
		HighDominance:    0.60,
		MediumDominance:  0.45,
		MediumSimilarity: 75,

		SuggestionHighDominance:   0.60,
		SuggestionMediumDominance: 0.35,

		SuspicionRatio:   75,
		SuspicionOverlap: 0.4,

		EscalationAcceptRatio:   90,
		EscalationOverlapAccept: 0.7,
		EscalationOverlapRatio:  80,
		EscalationReviewRatio:   70,
		EscalationReviewOverlap: 0.3,

		StateFuzzy: 0.92,
	}
}

// Default returns a configuration rooted at workspace.
func Default(workspace string) *Config {
	if workspace == "" {
		workspace = "docs"
	}
	whitelist := make([]string, len(CanonicalStates))
	copy(whitelist, CanonicalStates)
	return &Config{
		Workspace:  workspace,
		StorePath:  filepath.Join(workspace, "canon.db"),
		LedgerPath: filepath.Join(workspace, "revert_ledger.csv"),
		Thresholds: DefaultThresholds(),
		Clustering: "greedy",
		Scorer:     "indel",
		ApplyTiers: []string{"high", "medium"},
		ChunkSize:  500000,
		Workers:    4,
		Reviewer:   "strict",
		States: StatesConfig{
			Whitelist: whitelist,
			Manual:    DefaultStateRemaps(),
		},
		EmptyValue: "Unknown",
		LogFile:    filepath.Join(workspace, "canonicalizer.log"),
		LogLevel:   "INFO",
	}
}

// Load builds the configuration: defaults, then the YAML file (if path is
// non-empty and exists), then CANON_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default(GetEnv("CANON_WORKSPACE", "docs"))
	// derived paths follow whatever workspace the file or env settles on
	cfg.StorePath, cfg.LedgerPath, cfg.LogFile = "", "", ""

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// a missing optional config file leaves the defaults in place
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.fillPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Workspace = GetEnv("CANON_WORKSPACE", c.Workspace)
	c.StorePath = GetEnv("CANON_STORE", c.StorePath)
	c.LedgerPath = GetEnv("CANON_LEDGER", c.LedgerPath)
	c.Clustering = GetEnv("CANON_CLUSTERING", c.Clustering)
	c.Scorer = GetEnv("CANON_SCORER", c.Scorer)
	c.Reviewer = GetEnv("CANON_REVIEWER", c.Reviewer)
	c.ApplyTiers = GetEnvList("CANON_APPLY_TIERS", c.ApplyTiers)
	c.ChunkSize = GetEnvInt("CANON_CHUNK_SIZE", c.ChunkSize)
	c.Workers = GetEnvInt("CANON_WORKERS", c.Workers)
	c.Thresholds.Similarity = GetEnvFloat("CANON_SIMILARITY", c.Thresholds.Similarity)
	c.LogFile = GetEnv("CANON_LOG_FILE", c.LogFile)
	c.LogLevel = GetEnv("CANON_LOG_LEVEL", c.LogLevel)
}

// fillPaths derives store, ledger and log paths from the workspace when unset.
func (c *Config) fillPaths() {
	if c.StorePath == "" {
		c.StorePath = filepath.Join(c.Workspace, "canon.db")
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.Workspace, "revert_ledger.csv")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.Workspace, "canonicalizer.log")
	}
}

// Validate rejects configurations the stages cannot run with.
func (c *Config) Validate() error {
	t := c.Thresholds
	for name, v := range map[string]float64{
		"similarity":              t.Similarity,
		"medium_similarity":       t.MediumSimilarity,
		"suspicion_ratio":         t.SuspicionRatio,
		"escalation_accept_ratio": t.EscalationAcceptRatio,
		"escalation_review_ratio": t.EscalationReviewRatio,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("threshold %s must be within 0-100, got %v", name, v)
		}
	}
	for name, v := range map[string]float64{
		"high_dominance":    t.HighDominance,
		"medium_dominance":  t.MediumDominance,
		"suspicion_overlap": t.SuspicionOverlap,
		"state_fuzzy":       t.StateFuzzy,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("threshold %s must be within 0-1, got %v", name, v)
		}
	}
	if t.MinClusterSize < 1 {
		return fmt.Errorf("min_cluster_size must be at least 1, got %d", t.MinClusterSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	switch c.Clustering {
	case "greedy", "union_find":
	default:
		return fmt.Errorf("unknown clustering mode %q", c.Clustering)
	}
	switch c.Scorer {
	case "indel", "levenshtein":
	default:
		return fmt.Errorf("unknown scorer %q", c.Scorer)
	}
	switch c.Reviewer {
	case "strict", "interactive", "file", "none":
	default:
		return fmt.Errorf("unknown reviewer %q", c.Reviewer)
	}
	if len(c.ApplyTiers) == 0 {
		return errors.New("apply_tiers must name at least one tier")
	}
	return nil
}

// Level parses LogLevel into a slog level.
func (c *Config) Level() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Path joins name onto the workspace directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.Workspace, name)
}

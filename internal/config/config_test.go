package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CANON_WORKSPACE", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Thresholds.Similarity != 85 {
		t.Errorf("Similarity = %v, want 85", cfg.Thresholds.Similarity)
	}
	if cfg.ChunkSize != 500000 {
		t.Errorf("ChunkSize = %d, want 500000", cfg.ChunkSize)
	}
	if len(cfg.States.Whitelist) != 36 {
		t.Errorf("whitelist has %d states, want 36", len(cfg.States.Whitelist))
	}
	if !strings.HasSuffix(cfg.StorePath, "canon.db") {
		t.Errorf("StorePath = %s, want canon.db under workspace", cfg.StorePath)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "canon.yaml")
	yamlDoc := `
workspace: ` + dir + `
clustering: union_find
chunk_size: 1000
thresholds:
  similarity: 90
  min_cluster_size: 3
apply_tiers: [high]
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CANON_WORKSPACE", dir)
	t.Setenv("CANON_CHUNK_SIZE", "250")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Clustering != "union_find" {
		t.Errorf("Clustering = %s, want union_find", cfg.Clustering)
	}
	if cfg.Thresholds.Similarity != 90 || cfg.Thresholds.MinClusterSize != 3 {
		t.Errorf("thresholds not loaded from yaml: %+v", cfg.Thresholds)
	}
	// fields absent from the yaml keep their defaults
	if cfg.Thresholds.HighDominance != 0.60 {
		t.Errorf("HighDominance = %v, want default 0.60", cfg.Thresholds.HighDominance)
	}
	if cfg.ChunkSize != 250 {
		t.Errorf("ChunkSize = %d, want env override 250", cfg.ChunkSize)
	}
	if len(cfg.ApplyTiers) != 1 || cfg.ApplyTiers[0] != "high" {
		t.Errorf("ApplyTiers = %v, want [high]", cfg.ApplyTiers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"similarity above 100", func(c *Config) { c.Thresholds.Similarity = 120 }, true},
		{"dominance above 1", func(c *Config) { c.Thresholds.HighDominance = 1.5 }, true},
		{"zero chunk", func(c *Config) { c.ChunkSize = 0 }, true},
		{"unknown clustering", func(c *Config) { c.Clustering = "kmeans" }, true},
		{"unknown scorer", func(c *Config) { c.Scorer = "jaro" }, true},
		{"no apply tiers", func(c *Config) { c.ApplyTiers = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CANON_TEST_LIST", " high, ,medium ")
	got := GetEnvList("CANON_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "high" || got[1] != "medium" {
		t.Errorf("GetEnvList() = %v, want [high medium]", got)
	}
	if got := GetEnvList("CANON_TEST_UNSET", []string{"x"}); len(got) != 1 {
		t.Errorf("GetEnvList() default = %v", got)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Info("chunk written", "rows", 37)

	if !strings.Contains(stderr.String(), "chunk written") {
		t.Errorf("stderr missing message: %q", stderr.String())
	}
	if !strings.Contains(file.String(), `"rows":37`) {
		t.Errorf("json output missing attribute: %q", file.String())
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Pipeline.DedupThreshold != 0.85 {
		t.Errorf("dedup threshold default wrong: %v", cfg.Pipeline.DedupThreshold)
	}
	if cfg.Pipeline.P1Cap != 20 || cfg.Pipeline.P2Cap != 40 {
		t.Errorf("cap defaults wrong: P1=%d P2=%d", cfg.Pipeline.P1Cap, cfg.Pipeline.P2Cap)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load with missing file failed: %v", err)
	}
	if cfg.Pipeline.CandidateFloor != 0.70 {
		t.Errorf("expected default candidate floor, got %v", cfg.Pipeline.CandidateFloor)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"db_path": "custom.db", "pipeline": {
		"dedup_threshold": 0.9, "candidate_floor": 0.6, "candidate_k": 3,
		"trigram_threshold": 0.6, "group_batch_size": 10, "classify_batch_size": 5,
		"max_fails": 2, "p1_cap": 5, "p2_cap": 10, "coerced_score": 30,
		"dedup_window_hours": 24, "graph_window_days": 7, "vector_window_days": 30,
		"merge_window_days": 2, "context_char_budget": 1000, "enrich_parallelism": 2,
		"run_interval": "5m"
	}}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "custom.db" {
		t.Errorf("db_path not applied: %q", cfg.DBPath)
	}
	if cfg.Pipeline.P1Cap != 5 {
		t.Errorf("p1_cap not applied: %d", cfg.Pipeline.P1Cap)
	}
	if cfg.RunInterval() != 5*time.Minute {
		t.Errorf("run interval wrong: %v", cfg.RunInterval())
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.CandidateFloor = 0.95 // above dedup threshold
	if err := cfg.validate(); err == nil {
		t.Fatal("candidate floor above dedup threshold should be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SILVANEWS_DB", "/tmp/env.db")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Errorf("env db override not applied: %q", cfg.DBPath)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker2:9092" {
		t.Errorf("broker list not parsed: %v", cfg.Kafka.Brokers)
	}
}

func TestAliasTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.yaml")
	data := `aliases:
  "Petrobras":
    - "Petróleo Brasileiro S.A."
    - "PETR4"
  "Central Bank of Brazil":
    - "Bacen"
    - "BCB"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadAliasTable(path)
	if err != nil {
		t.Fatalf("LoadAliasTable failed: %v", err)
	}
	if got := table.Canonical("bacen"); got != "Central Bank of Brazil" {
		t.Errorf("case-insensitive lookup failed: %q", got)
	}
	if got := table.Canonical("PETR4"); got != "Petrobras" {
		t.Errorf("lookup failed: %q", got)
	}
	if got := table.Canonical("unknown corp"); got != "" {
		t.Errorf("expected empty for unknown form, got %q", got)
	}

	// Edit and reload
	extra := data + `  "Vale":
    - "Vale S.A."
`
	if err := os.WriteFile(path, []byte(extra), 0600); err != nil {
		t.Fatal(err)
	}
	if err := table.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := table.Canonical("vale s.a."); got != "Vale" {
		t.Errorf("reload did not pick up new alias: %q", got)
	}
}

func TestAliasTableMissingFile(t *testing.T) {
	table, err := LoadAliasTable(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table, got %d entries", table.Len())
	}
}

func TestRuleTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	data := `rules:
  - contains: "chapter 11"
    tag: "bankruptcy"
  - contains: "merger"
    tag: "m_and_a"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadRuleTable(path)
	if err != nil {
		t.Fatalf("LoadRuleTable failed: %v", err)
	}
	if got := table.Apply("economy", "Retailer files Chapter 11 petition", ""); got != "bankruptcy" {
		t.Errorf("rule did not apply: %q", got)
	}
	if got := table.Apply("economy", "Rates held steady", "monetary_policy"); got != "economy" {
		t.Errorf("unmatched title should keep original tag: %q", got)
	}
}

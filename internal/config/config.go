// Package config loads the engine configuration: a JSON file with
// defaults, environment overrides via an optional .env file, and the
// YAML alias and tag-rule tables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the persistent engine configuration.
type Config struct {
	// Storage
	DBPath string `json:"db_path"`
	LogDir string `json:"log_dir"`

	// Oracle and embedding providers
	Oracle OracleConfig `json:"oracle"`
	Embed  EmbedConfig  `json:"embed"`

	// Pipeline thresholds and windows
	Pipeline PipelineConfig `json:"pipeline"`

	// Feed API
	API APIConfig `json:"api"`

	// Optional infrastructure
	Redis RedisConfig `json:"redis"`
	Kafka KafkaConfig `json:"kafka"`

	// Table files, relative to the config file when not absolute
	AliasFile string `json:"alias_file"`
	RulesFile string `json:"rules_file"`
}

// OracleConfig holds LLM provider settings.
type OracleConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model"`
}

// EmbedConfig holds embedding provider settings. When no key is
// configured the deterministic local embedder serves instead.
type EmbedConfig struct {
	Provider string `json:"provider"` // "cohere", "http", or "hash"
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model"`
}

// PipelineConfig holds every tunable threshold of the clustering engine.
type PipelineConfig struct {
	DedupThreshold     float64 `json:"dedup_threshold"`      // cosine floor for near-duplicate rejection
	CandidateFloor     float64 `json:"candidate_floor"`      // cosine floor for cluster candidacy
	CandidateK         int     `json:"candidate_k"`          // max candidate clusters per document
	TrigramThreshold   float64 `json:"trigram_threshold"`    // fuzzy entity match floor
	GroupBatchSize     int     `json:"group_batch_size"`     // documents per oracle grouping call
	ClassifyBatchSize  int     `json:"classify_batch_size"`  // clusters per oracle classify call
	MaxFails           int     `json:"max_fails"`            // consecutive failures before error status
	P1Cap              int     `json:"p1_cap"`               // max active P1 clusters
	P2Cap              int     `json:"p2_cap"`               // max active P2 clusters
	CoercedScore       float64 `json:"coerced_score"`        // score ceiling for gated-down P1s
	DedupWindowHours   int     `json:"dedup_window_hours"`   // trailing dedup lookback
	GraphWindowDays    int     `json:"graph_window_days"`    // historical graph context lookback
	VectorWindowDays   int     `json:"vector_window_days"`   // historical vector context lookback
	MergeWindowDays    int     `json:"merge_window_days"`    // consolidation candidate lookback
	ContextCharBudget  int     `json:"context_char_budget"`  // max chars of history per classify item
	EnrichParallelism  int     `json:"enrich_parallelism"`   // concurrent enrichment workers
	RunInterval        string  `json:"run_interval"`         // periodic mode tick, duration string
	CriticalSubjects   []string `json:"critical_subjects"`   // subject keys allowed to hold P1
}

// APIConfig holds the HTTP feed settings.
type APIConfig struct {
	Addr string `json:"addr"`
}

// RedisConfig enables the recency cache when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db"`
}

// KafkaConfig enables the change announcer when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic"`
}

// Default returns the configuration the engine runs with when no file
// exists. Thresholds mirror the calibrated production values.
func Default() *Config {
	return &Config{
		DBPath: "silvanews.db",
		LogDir: "",
		Oracle: OracleConfig{
			Endpoint: "https://api.openai.com/v1",
			Model:    "gpt-5.2",
		},
		Embed: EmbedConfig{
			Provider: "hash",
			Model:    "embed-v4.0",
		},
		Pipeline: PipelineConfig{
			DedupThreshold:    0.85,
			CandidateFloor:    0.70,
			CandidateK:        5,
			TrigramThreshold:  0.60,
			GroupBatchSize:    20,
			ClassifyBatchSize: 10,
			MaxFails:          3,
			P1Cap:             20,
			P2Cap:             40,
			CoercedScore:      35,
			DedupWindowHours:  48,
			GraphWindowDays:   7,
			VectorWindowDays:  30,
			MergeWindowDays:   2,
			ContextCharBudget: 2000,
			EnrichParallelism: 4,
			RunInterval:       "15m",
			CriticalSubjects: []string{
				"judicial_reorganization",
				"bankruptcy",
				"mergers_acquisitions",
				"sovereign_default",
				"regulatory_remedy",
				"distressed_debt_sale",
			},
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Kafka: KafkaConfig{
			Topic: "silvanews.changes",
		},
		AliasFile: "aliases.yaml",
		RulesFile: "tag_rules.yaml",
	}
}

// Load reads config from path, falling back to defaults when the file is
// absent. A .env file next to the config is loaded first so environment
// overrides work in both dev and deployed setups.
func Load(path string) (*Config, error) {
	if path != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	} else {
		_ = godotenv.Load()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.resolveRelative(filepath.Dir(path))
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path with restrictive permissions, the file
// carries API keys.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// RunInterval parses the periodic-mode tick, defaulting to 15 minutes.
func (c *Config) RunInterval() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.RunInterval)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

func (c *Config) resolveRelative(dir string) {
	if c.AliasFile != "" && !filepath.IsAbs(c.AliasFile) {
		c.AliasFile = filepath.Join(dir, c.AliasFile)
	}
	if c.RulesFile != "" && !filepath.IsAbs(c.RulesFile) {
		c.RulesFile = filepath.Join(dir, c.RulesFile)
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SILVANEWS_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SILVANEWS_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Oracle.APIKey == "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv("ORACLE_ENDPOINT"); v != "" {
		c.Oracle.Endpoint = v
	}
	if v := os.Getenv("ORACLE_MODEL"); v != "" {
		c.Oracle.Model = v
	}
	if v := os.Getenv("COHERE_API_KEY"); v != "" && c.Embed.APIKey == "" {
		c.Embed.APIKey = v
		if c.Embed.Provider == "hash" {
			c.Embed.Provider = "cohere"
		}
	}
	if v := os.Getenv("SILVANEWS_API_ADDR"); v != "" {
		c.API.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitComma(v)
	}
}

func (c *Config) validate() error {
	p := c.Pipeline
	if p.DedupThreshold <= 0 || p.DedupThreshold > 1 {
		return fmt.Errorf("dedup_threshold %v out of (0,1]", p.DedupThreshold)
	}
	if p.CandidateFloor <= 0 || p.CandidateFloor > 1 {
		return fmt.Errorf("candidate_floor %v out of (0,1]", p.CandidateFloor)
	}
	if p.CandidateFloor > p.DedupThreshold {
		return fmt.Errorf("candidate_floor %v above dedup_threshold %v", p.CandidateFloor, p.DedupThreshold)
	}
	if p.CandidateK <= 0 {
		return fmt.Errorf("candidate_k must be positive, got %d", p.CandidateK)
	}
	if p.P1Cap <= 0 || p.P2Cap <= 0 {
		return fmt.Errorf("priority caps must be positive, got P1=%d P2=%d", p.P1Cap, p.P2Cap)
	}
	if p.MaxFails <= 0 {
		return fmt.Errorf("max_fails must be positive, got %d", p.MaxFails)
	}
	return nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

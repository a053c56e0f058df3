// Package config loads orchestrator configuration: defaults, then an
// optional TOML file, then environment variables, with env winning.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Backends  BackendsConfig  `toml:"backends"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Database  DatabaseConfig  `toml:"database"`
	Memory    MemoryConfig    `toml:"memory"`
	Archive   ArchiveConfig   `toml:"archive"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Voice     VoiceConfig     `toml:"voice"`
	Observer  ObserverConfig  `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// RatePerMinute is the per-client-IP request budget.
	RatePerMinute int    `toml:"rate_per_minute"`
	DataRoot      string `toml:"data_root"`
}

type BackendsConfig struct {
	PrimaryURL    string `toml:"primary_url"`
	PrimaryModel  string `toml:"primary_model"`
	FallbackURL   string `toml:"fallback_url"`
	FallbackModel string `toml:"fallback_model"`
	// TimeoutSeconds bounds each completion attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type EmbeddingConfig struct {
	URL        string `toml:"url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type DatabaseConfig struct {
	// Backend selects the vector store: "redis", "sqlite" or "postgres".
	Backend     string `toml:"backend"`
	RedisAddr   string `toml:"redis_addr"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`
}

type MemoryConfig struct {
	Async           bool    `toml:"async"`
	StreamKey       string  `toml:"stream_key"`
	CheckpointKey   string  `toml:"checkpoint_key"`
	StartFromLatest bool    `toml:"start_from_latest"`
	SurpriseWeightP float64 `toml:"surprise_weight_perplexity"`
	SurpriseWeightD float64 `toml:"surprise_weight_distance"`
	Threshold       float64 `toml:"threshold"`
}

type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Dir           string `toml:"dir"`
	DaysThreshold int    `toml:"days_threshold"`
	KeepRecent    int    `toml:"keep_recent"`
	Hour          int    `toml:"hour"`
	Minute        int    `toml:"minute"`
}

type SandboxConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type VoiceConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", RatePerMinute: 30, DataRoot: "data"},
		Backends: BackendsConfig{
			PrimaryURL:     "http://vorpal:8000",
			PrimaryModel:   "Qwen/Qwen2.5-3B-Instruct",
			FallbackURL:    "http://goblin:8080",
			TimeoutSeconds: 30,
		},
		Embedding: EmbeddingConfig{Dimensions: 384},
		Database:  DatabaseConfig{Backend: "redis", RedisAddr: "redis:6379", SQLitePath: "cortex.db"},
		Memory: MemoryConfig{
			Async:           true,
			StreamKey:       "session:input_stream",
			CheckpointKey:   "memory_worker:last_id",
			StartFromLatest: true,
			SurpriseWeightP: 0.6,
			SurpriseWeightD: 0.4,
			Threshold:       0.7,
		},
		Archive: ArchiveConfig{
			Enabled:       true,
			Dir:           "data/archive",
			DaysThreshold: 30,
			KeepRecent:    1000,
			Hour:          3,
		},
		Sandbox: SandboxConfig{URL: "http://sandbox:8000", TimeoutSeconds: 30},
		Voice:   VoiceConfig{URL: "http://voice:8001"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "cortex.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CORTEX_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VORPAL_URL"); v != "" {
		cfg.Backends.PrimaryURL = v
	}
	if v := os.Getenv("GOBLIN_URL"); v != "" {
		cfg.Backends.FallbackURL = v
	}
	if v := os.Getenv("EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("SANDBOX_URL"); v != "" {
		cfg.Sandbox.URL = v
	}
	if v := os.Getenv("VOICE_URL"); v != "" {
		cfg.Voice.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Database.RedisAddr = v
	}
	if v := os.Getenv("DATABASE_BACKEND"); v != "" {
		cfg.Database.Backend = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("MEMORY_LAST_ID_KEY"); v != "" {
		cfg.Memory.CheckpointKey = v
	}
	if v, ok := envBool("MEMORY_START_FROM_LATEST"); ok {
		cfg.Memory.StartFromLatest = v
	}
	if v, ok := envBool("ASYNC_MEMORY"); ok {
		cfg.Memory.Async = v
	}
	if v, ok := envBool("ENABLE_VOICE"); ok {
		cfg.Voice.Enabled = v
	}
	if v, ok := envBool("ARCHIVE_ENABLED"); ok {
		cfg.Archive.Enabled = v
	}
	if v, ok := envInt("ARCHIVE_DAYS_THRESHOLD"); ok {
		cfg.Archive.DaysThreshold = v
	}
	if v, ok := envInt("ARCHIVE_KEEP_RECENT"); ok {
		cfg.Archive.KeepRecent = v
	}
	if v, ok := envInt("ARCHIVE_HOUR"); ok {
		cfg.Archive.Hour = v
	}
	if v, ok := envInt("ARCHIVE_MINUTE"); ok {
		cfg.Archive.Minute = v
	}
	if v, ok := envBool("OBSERVER_ENABLED"); ok {
		cfg.Observer.Enabled = v
	}

	return cfg
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return v == "true" || v == "1", true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

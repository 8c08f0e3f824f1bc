package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/analysis"
	"github.com/nicktill/tinyfocus/pkg/config"
	"github.com/nicktill/tinyfocus/pkg/results"
	"github.com/nicktill/tinyfocus/pkg/storage"
	"github.com/nicktill/tinyfocus/pkg/storage/badger"
	"github.com/nicktill/tinyfocus/pkg/storage/memory"
	"github.com/nicktill/tinyfocus/pkg/storage/redis"
)

// Config holds server configuration.
type Config struct {
	Port           string
	DataDir        string
	Store          string
	RedisAddr      string
	ResultsDB      string
	AnalysisURL    string
	AnalysisAPIKey string
	Namespace      string
	MaxMemoryMB    int64
	MaxStorageMB   int64
	Options        config.Options
}

// LoadConfig loads .env (if present) and then reads the environment.
func LoadConfig() (Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	dataDir := config.EnvStr("TINYFOCUS_DATA_DIR", "./data/tinyfocus")
	cfg := Config{
		Port:           config.EnvStr("TINYFOCUS_PORT", config.EnvStr("PORT", config.DefaultPort)),
		DataDir:        dataDir,
		Store:          config.EnvStr("TINYFOCUS_STORE", config.DefaultStore),
		RedisAddr:      config.EnvStr("TINYFOCUS_REDIS_ADDR", "localhost:6379"),
		ResultsDB:      config.EnvStr("TINYFOCUS_RESULTS_DB", filepath.Join(dataDir, "results.db")),
		AnalysisURL:    os.Getenv("TINYFOCUS_ANALYSIS_URL"),
		AnalysisAPIKey: os.Getenv("TINYFOCUS_ANALYSIS_API_KEY"),
		Namespace:      config.EnvStr("TINYFOCUS_NAMESPACE", config.DefaultNamespace),
		MaxMemoryMB:    config.EnvInt64("TINYFOCUS_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		MaxStorageMB:   config.EnvInt64("TINYFOCUS_MAX_STORAGE_MB", config.DefaultMaxStorageMB),
		Options:        config.FromEnv(),
	}

	if err := cfg.Options.Validate(); err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// InitializeStorage opens the snapshot store named by cfg.Store.
func InitializeStorage(ctx context.Context, cfg Config, log logrus.FieldLogger) (storage.Store, error) {
	switch cfg.Store {
	case "badger", "":
		store, err := badger.New(badger.Config{
			Path:        filepath.Join(cfg.DataDir, "snapshots"),
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, err
		}
		log.WithField("path", filepath.Join(cfg.DataDir, "snapshots")).Info("BadgerDB snapshot store ready")
		return store, nil

	case "redis":
		store, err := redis.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		log.WithField("addr", cfg.RedisAddr).Info("Redis snapshot store ready")
		return store, nil

	case "memory":
		log.Warn("Using in-memory snapshot store, sessions will not survive a restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store %q (want badger, redis or memory)", cfg.Store)
	}
}

// InitializeResults opens the SQLite result store
func InitializeResults(cfg Config, log logrus.FieldLogger) (*results.Store, error) {
	store, err := results.Open(cfg.ResultsDB)
	if err != nil {
		return nil, err
	}
	log.WithField("path", cfg.ResultsDB).Info("Result store ready")
	return store, nil
}

// InitializeAnalyzer builds the analysis client. Without an endpoint every
// dispatch fails and chunks are retained for retry.
func InitializeAnalyzer(cfg Config, log logrus.FieldLogger) analysis.Analyzer {
	if cfg.AnalysisURL == "" {
		log.Warn("TINYFOCUS_ANALYSIS_URL is not set, chunks will be retained until it is")
	}
	return analysis.NewHTTP(cfg.AnalysisURL, cfg.AnalysisAPIKey)
}

// Package config loads engine settings from the environment and an optional
// .env file.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/rawblock/dao-analytics/internal/clustering"
	"github.com/rawblock/dao-analytics/internal/features"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`
	DataDir        string `env:"DATA_DIR" envDefault:"./data"`
	OutputDir      string `env:"OUTPUT_DIR" envDefault:"./data_output"`

	// HTTP surface
	Port           string   `env:"PORT" envDefault:"5339"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	APIAuthToken   string   `env:"API_AUTH_TOKEN"`
	RateLimitRPM   int      `env:"RATE_LIMIT_RPM" envDefault:"30"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// Merge
	StrictReferences bool `env:"STRICT_REFERENCES" envDefault:"false"`

	// Feature matrix scope
	FeatureDAOID        string  `env:"FEATURE_DAO_ID"`
	FeatureMaxProposals int     `env:"FEATURE_MAX_PROPOSALS" envDefault:"11"`
	FeatureAbsentValue  float64 `env:"FEATURE_ABSENT_VALUE" envDefault:"0"`

	// Model selection
	ClusterWorkers        int    `env:"CLUSTER_WORKERS" envDefault:"0"`
	ClusterSeed           uint64 `env:"CLUSTER_SEED" envDefault:"42"`
	ClusterMinK           int    `env:"CLUSTER_MIN_K" envDefault:"2"`
	ClusterMaxK           int    `env:"CLUSTER_MAX_K" envDefault:"10"`
	SpectralHonorAffinity bool   `env:"SPECTRAL_HONOR_AFFINITY" envDefault:"false"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}
	if cfg.ClusterMaxK < cfg.ClusterMinK {
		return nil, fmt.Errorf("CLUSTER_MAX_K (%d) is below CLUSTER_MIN_K (%d)", cfg.ClusterMaxK, cfg.ClusterMinK)
	}
	return cfg, nil
}

// IsLocal reports whether the engine runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.AppEnv == "local"
}

func (c *Config) FeatureOptions() features.Options {
	return features.Options{
		Scope: features.Scope{
			DAOID:        c.FeatureDAOID,
			MaxProposals: c.FeatureMaxProposals,
		},
		AbsentValue: c.FeatureAbsentValue,
	}
}

func (c *Config) SelectorConfig() clustering.Config {
	return clustering.Config{
		Workers:               c.ClusterWorkers,
		Seed:                  c.ClusterSeed,
		MinK:                  c.ClusterMinK,
		MaxK:                  c.ClusterMaxK,
		HonorSpectralAffinity: c.SpectralHonorAffinity,
	}
}

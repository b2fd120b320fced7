// Package config loads the storage engine's tunables the way src/app loaded
// its envVars: an optional .env file via godotenv, then struct population via
// envconfig, then a hard panic (mustLoadEnv's shape) if the result doesn't
// make sense.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EngineConfig carries every tunable named in the specification's
// Configuration section: pool size in frames, bucket size for the buffer
// pool's hash directory, log buffer size, log flush timeout, and the
// strict-2PL flag, plus the two file paths the disk manager owns.
type EngineConfig struct {
	DataFilePath string `envconfig:"DATA_FILE" default:"storage-engine.db"`
	LogFilePath  string `envconfig:"LOG_FILE" default:"storage-engine.log"`

	PoolSizeFrames int `envconfig:"POOL_SIZE_FRAMES" default:"64"`
	BucketSize     int `envconfig:"BUCKET_SIZE" default:"8"`

	LogBufferSize int           `envconfig:"LOG_BUFFER_SIZE" default:"65536"`
	LogTimeout    time.Duration `envconfig:"LOG_TIMEOUT" default:"1s"`

	StrictTwoPhaseLocking bool `envconfig:"STRICT_2PL" default:"true"`

	Environment string `envconfig:"ENVIRONMENT" default:"dev"`
}

const envPrefix = "storage"

// Load populates an EngineConfig from STORAGE_*-prefixed environment
// variables, having first loaded dotEnvPath if it exists (a missing file is
// not an error — godotenv.Load returns one, which we swallow, matching how
// local development overrides are optional).
func Load(dotEnvPath string) (EngineConfig, error) {
	if dotEnvPath != "" {
		_ = godotenv.Load(dotEnvPath)
	}

	var cfg EngineConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("loading engine config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return EngineConfig{}, err
	}

	return cfg, nil
}

// MustLoad is Load, panicking on failure — for use at process start, mirroring
// the teacher's mustLoadEnv.
func MustLoad(dotEnvPath string) EngineConfig {
	cfg, err := Load(dotEnvPath)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c EngineConfig) validate() error {
	if c.PoolSizeFrames <= 0 {
		return fmt.Errorf("pool size must be greater than zero, got %d", c.PoolSizeFrames)
	}
	if c.BucketSize <= 0 {
		return fmt.Errorf("bucket size must be greater than zero, got %d", c.BucketSize)
	}
	if c.LogBufferSize <= 0 {
		return fmt.Errorf("log buffer size must be greater than zero, got %d", c.LogBufferSize)
	}
	if c.LogTimeout <= 0 {
		return fmt.Errorf("log timeout must be greater than zero, got %s", c.LogTimeout)
	}
	return nil
}

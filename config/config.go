package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"gopkg.in/yaml.v2"
)

const (
	DefaultDepth       = 32
	DefaultBatchSize   = 256
	DefaultWorkers     = 4
	DefaultVerifyCache = 4096
	DefaultLogLevel    = "info"
	DefaultProverSeed  = "nsroll/dev-prover"
	envPrefix          = "NSROLL_"
)

// Config holds the operator settings of an nsroll node.
type Config struct {
	Depth        int    `yaml:"depth"`
	BatchSize    int    `yaml:"batch_size"`
	Workers      int    `yaml:"workers"`
	LogLevel     string `yaml:"log_level"`
	DebugModules string `yaml:"debug_modules"`
	DBPath       string `yaml:"db_path"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ProverSeed   string `yaml:"prover_seed"`
	VerifyCache  int    `yaml:"verify_cache"`
}

func Default() *Config {
	return &Config{
		Depth:       DefaultDepth,
		BatchSize:   DefaultBatchSize,
		Workers:     DefaultWorkers,
		LogLevel:    DefaultLogLevel,
		ProverSeed:  DefaultProverSeed,
		VerifyCache: DefaultVerifyCache,
	}
}

// Load reads a YAML config from path on top of Default and applies NSROLL_*
// environment overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	if err := applyEnvOverrides(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnvOverrides(c *Config) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"DEPTH", &c.Depth},
		{"BATCH_SIZE", &c.BatchSize},
		{"WORKERS", &c.Workers},
		{"VERIFY_CACHE", &c.VerifyCache},
	}
	for _, e := range ints {
		v := os.Getenv(envPrefix + e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config env %s%s: %w", envPrefix, e.name, err)
		}
		*e.dst = n
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envPrefix + "DEBUG_MODULES"); v != "" {
		c.DebugModules = v
	}
	if v := os.Getenv(envPrefix + "DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envPrefix + "OTLP_ENDPOINT"); v != "" {
		c.OTLPEndpoint = v
	}
	if v := os.Getenv(envPrefix + "PROVER_SEED"); v != "" {
		c.ProverSeed = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Depth < 1 || c.Depth > 253 {
		return fmt.Errorf("config depth %d: %w", c.Depth, rollerrors.ErrInvalidDepth)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config batch_size %d must be positive", c.BatchSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config workers %d must be positive", c.Workers)
	}
	if c.VerifyCache < 0 {
		return fmt.Errorf("config verify_cache %d must not be negative", c.VerifyCache)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config log_level: %w", err)
	}
	if c.ProverSeed == "" {
		return fmt.Errorf("config prover_seed must be set")
	}
	return nil
}

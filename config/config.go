package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// GenesisAccount seeds a participant balance when the data directory is
// empty, so native deposits have something to draw from in fresh networks.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Denom   string `toml:"Denom"`
	Amount  string `toml:"Amount"`
}

// Telemetry holds the OTLP exporter knobs.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

type Config struct {
	RPCAddress           string           `toml:"RPCAddress"`
	DataDir              string           `toml:"DataDir"`
	AuditDBPath          string           `toml:"AuditDBPath"`
	LogFile              string           `toml:"LogFile"`
	Environment          string           `toml:"Environment"`
	BlockIntervalSeconds int              `toml:"BlockIntervalSeconds"`
	RateLimitPerMinute   float64          `toml:"RateLimitPerMinute"`
	RateLimitBurst       int              `toml:"RateLimitBurst"`
	GenesisAccounts      []GenesisAccount `toml:"GenesisAccounts"`
	Telemetry            Telemetry        `toml:"Telemetry"`
}

// Load reads the configuration from the given path, writing a default file
// on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8651"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./lockboxd-data"
	}
	if strings.TrimSpace(cfg.AuditDBPath) == "" {
		cfg.AuditDBPath = filepath.Join(cfg.DataDir, "audit.db")
	}
	if cfg.BlockIntervalSeconds <= 0 {
		cfg.BlockIntervalSeconds = 1
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 600
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create config file: %w", err)
	}
	defer func() { _ = file.Close() }()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	return cfg, nil
}

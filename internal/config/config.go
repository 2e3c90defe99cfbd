// Package config assembles the full engine configuration tree: every
// component's policy constants with production defaults, loadable from
// YAML, with a pure override step and construction-time validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantfall/riskbrain/internal/allocation"
	"github.com/quantfall/riskbrain/internal/breaker"
	"github.com/quantfall/riskbrain/internal/governance"
	"github.com/quantfall/riskbrain/internal/guardian"
	"github.com/quantfall/riskbrain/internal/httpapi"
	"github.com/quantfall/riskbrain/internal/tailrisk"
	"github.com/quantfall/riskbrain/internal/transport"
)

// Config is the full engine configuration tree.
type Config struct {
	Logging     LoggingConfig         `yaml:"logging"`
	Security    SecurityConfig        `yaml:"security"`
	Allocation  allocation.Config     `yaml:"allocation"`
	Guardian    guardian.Config       `yaml:"guardian"`
	Governance  governance.Thresholds `yaml:"governance"`
	TailRisk    tailrisk.Config       `yaml:"tail_risk"`
	Breaker     breaker.Config        `yaml:"breaker"`
	Transport   transport.WSConfig    `yaml:"transport"`
	HTTP        httpapi.ServerConfig  `yaml:"http"`
	Persistence PersistenceConfig     `yaml:"persistence"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// SecurityConfig holds the signing secret and interlock paths.
type SecurityConfig struct {
	// HMACSecretEnv names the environment variable carrying the
	// shared signing secret; the secret itself never lives in YAML.
	HMACSecretEnv string `yaml:"hmac_secret_env"`
	ArmedLockfile string `yaml:"armed_lockfile"`
}

// PersistenceConfig selects the state and event stores.
type PersistenceConfig struct {
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`

	// EventLogPath is the append-only JSONL fallback used when
	// Postgres is disabled.
	EventLogPath string `yaml:"event_log_path"`
}

// RedisConfig configures the breaker/calibration state store.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig configures the durable event store.
type PostgresConfig struct {
	Enabled bool          `yaml:"enabled"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the full production default tree.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Pretty: false},
		Security: SecurityConfig{
			HMACSecretEnv: "RISKBRAIN_HMAC_SECRET",
			ArmedLockfile: "execution.armed",
		},
		Allocation: allocation.DefaultConfig(),
		Guardian:   guardian.DefaultConfig(),
		Governance: governance.DefaultThresholds(),
		TailRisk:   tailrisk.DefaultConfig(),
		Breaker:    breaker.DefaultConfig(),
		Transport:  transport.DefaultWSConfig(),
		HTTP:       httpapi.DefaultServerConfig(),
		Persistence: PersistenceConfig{
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "riskbrain",
			},
			Postgres: PostgresConfig{
				Timeout: 5 * time.Second,
			},
			EventLogPath: "breaker_events.jsonl",
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns
// pure defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyOverrides returns a copy of cfg with fn's mutations applied and
// validated. cfg itself is never mutated.
func ApplyOverrides(cfg Config, fn func(*Config)) (Config, error) {
	out := cfg
	if fn != nil {
		fn(&out)
	}
	if err := out.Validate(); err != nil {
		return cfg, err
	}
	return out, nil
}

// Validate rejects configurations that cannot produce a safe engine.
func (c Config) Validate() error {
	if c.Allocation.Phase2StartEquity <= 0 || c.Allocation.Phase3StartEquity <= c.Allocation.Phase2StartEquity {
		return fmt.Errorf("config: allocation phase thresholds must be positive and ordered")
	}
	if c.Allocation.HysteresisBuffer <= 0 || c.Allocation.HysteresisBuffer >= 1 {
		return fmt.Errorf("config: hysteresis buffer must be in (0,1)")
	}
	if len(c.Guardian.SymbolWhitelist) == 0 {
		return fmt.Errorf("config: symbol whitelist must not be empty")
	}
	if c.Guardian.MaxPositionNotional <= 0 {
		return fmt.Errorf("config: max position notional must be positive")
	}
	if c.TailRisk.CrashFraction <= 0 || c.TailRisk.CrashFraction > 1 {
		return fmt.Errorf("config: crash fraction must be in (0,1]")
	}
	if c.Breaker.MaxDailyDrawdownPct <= 0 {
		return fmt.Errorf("config: breaker drawdown threshold must be positive")
	}
	if c.Governance.CautionLatencyMs >= c.Governance.SevereLatencyMs {
		return fmt.Errorf("config: governance latency bands must be ordered")
	}
	if c.Transport.MaxRetries <= 0 {
		return fmt.Errorf("config: transport retry budget must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http port out of range")
	}
	return nil
}

// HMACSecret resolves the signing secret from the environment.
func (c Config) HMACSecret() (string, error) {
	secret := os.Getenv(c.Security.HMACSecretEnv)
	if secret == "" {
		return "", fmt.Errorf("config: signing secret %s is not set", c.Security.HMACSecretEnv)
	}
	return secret, nil
}

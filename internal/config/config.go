package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultPacingInterval    = 400 * time.Millisecond
	defaultPacingMultiplier  = 1.0
	defaultRequestTimeout    = 5 * time.Second
	defaultUnknownPhaseLimit = 5
	defaultLogLevel          = "info"
	defaultFirstName         = "Game"
	defaultLastName          = "Client"
	defaultAccount           = "gameclient"

	dirName = ".gameclient"
)

// Config stores runtime settings loaded from TOML files and the environment.
type Config struct {
	PacingInterval    time.Duration `env:"GAMECLIENT_PACING_INTERVAL"`
	PacingMaxInterval time.Duration `env:"GAMECLIENT_PACING_MAX_INTERVAL"`
	PacingMultiplier  float64       `env:"GAMECLIENT_PACING_MULTIPLIER"`
	PacingJitter      float64       `env:"GAMECLIENT_PACING_JITTER"`
	RequestTimeout    time.Duration `env:"GAMECLIENT_REQUEST_TIMEOUT"`
	UnknownPhaseLimit int           `env:"GAMECLIENT_UNKNOWN_PHASE_LIMIT"`
	HalfMapSeed       uint64        `env:"GAMECLIENT_HALF_MAP_SEED"`
	LogLevel          string        `env:"GAMECLIENT_LOG_LEVEL"`
	LogDir            string        `env:"GAMECLIENT_LOG_DIR"`
	UniformExitCode   bool          `env:"GAMECLIENT_UNIFORM_EXIT_CODE"`
	OTELEndpoint      string        `env:"GAMECLIENT_OTEL_ENDPOINT"`
	Player            PlayerConfig
}

// PlayerConfig identifies the player towards the authority.
type PlayerConfig struct {
	FirstName string `env:"GAMECLIENT_PLAYER_FIRST_NAME"`
	LastName  string `env:"GAMECLIENT_PLAYER_LAST_NAME"`
	Account   string `env:"GAMECLIENT_PLAYER_ACCOUNT"`
}

type fileConfig struct {
	PacingInterval    *string           `toml:"pacing_interval"`
	PacingMaxInterval *string           `toml:"pacing_max_interval"`
	PacingMultiplier  *float64          `toml:"pacing_multiplier"`
	PacingJitter      *float64          `toml:"pacing_jitter"`
	RequestTimeout    *string           `toml:"request_timeout"`
	UnknownPhaseLimit *int              `toml:"unknown_phase_limit"`
	HalfMapSeed       *int64            `toml:"half_map_seed"`
	LogLevel          *string           `toml:"log_level"`
	LogDir            *string           `toml:"log_dir"`
	UniformExitCode   *bool             `toml:"uniform_exit_code"`
	OTELEndpoint      *string           `toml:"otel_endpoint"`
	Player            *playerFileConfig `toml:"player"`
}

type playerFileConfig struct {
	FirstName *string `toml:"first_name"`
	LastName  *string `toml:"last_name"`
	Account   *string `toml:"account"`
}

// Load reads config from ~/.gameclient/config.toml, overlays a project-local
// .gameclient/config.toml, then applies an optional .env file and
// GAMECLIENT_* environment variables.
// Loading stops with ctx.Err() once ctx is done.
func Load(ctx context.Context) (*Config, error) {
	cfg := defaults()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	paths := []string{
		filepath.Join(homeDir, dirName, "config.toml"),
		filepath.Join(workingDir, dirName, "config.toml"),
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := loadDotEnv(filepath.Join(workingDir, ".env")); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		PacingInterval:    defaultPacingInterval,
		PacingMaxInterval: defaultPacingInterval,
		PacingMultiplier:  defaultPacingMultiplier,
		RequestTimeout:    defaultRequestTimeout,
		UnknownPhaseLimit: defaultUnknownPhaseLimit,
		LogLevel:          defaultLogLevel,
		Player: PlayerConfig{
			FirstName: defaultFirstName,
			LastName:  defaultLastName,
			Account:   defaultAccount,
		},
	}
}

// Validate checks value ranges that the loaders cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if c.PacingInterval <= 0 {
		return fmt.Errorf("pacing_interval must be > 0, got %s", c.PacingInterval)
	}
	if c.PacingMaxInterval < c.PacingInterval {
		c.PacingMaxInterval = c.PacingInterval
	}
	if c.PacingMultiplier < 1 {
		return fmt.Errorf("pacing_multiplier must be >= 1, got %v", c.PacingMultiplier)
	}
	if c.PacingJitter < 0 || c.PacingJitter >= 1 {
		return fmt.Errorf("pacing_jitter must be in [0, 1), got %v", c.PacingJitter)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0, got %s", c.RequestTimeout)
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %q: %w", path, err)
	}
	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	if err := applyScalarOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	applyPlayerOverrides(cfg, decoded)
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func applyScalarOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.PacingMultiplier != nil {
		cfg.PacingMultiplier = *decoded.PacingMultiplier
	}
	if decoded.PacingJitter != nil {
		cfg.PacingJitter = *decoded.PacingJitter
	}
	if decoded.UnknownPhaseLimit != nil {
		cfg.UnknownPhaseLimit = *decoded.UnknownPhaseLimit
	}
	if decoded.HalfMapSeed != nil {
		if *decoded.HalfMapSeed < 0 {
			return fmt.Errorf("parse half_map_seed in %q: must be >= 0", path)
		}
		cfg.HalfMapSeed = uint64(*decoded.HalfMapSeed)
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*decoded.LogLevel))
	}
	if decoded.LogDir != nil {
		cfg.LogDir = strings.TrimSpace(*decoded.LogDir)
	}
	if decoded.UniformExitCode != nil {
		cfg.UniformExitCode = *decoded.UniformExitCode
	}
	if decoded.OTELEndpoint != nil {
		cfg.OTELEndpoint = strings.TrimSpace(*decoded.OTELEndpoint)
	}
	return nil
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	if decoded.PacingInterval != nil {
		value, err := parseDuration(*decoded.PacingInterval, "pacing_interval", path)
		if err != nil {
			return err
		}
		cfg.PacingInterval = value
	}
	if decoded.PacingMaxInterval != nil {
		value, err := parseDuration(*decoded.PacingMaxInterval, "pacing_max_interval", path)
		if err != nil {
			return err
		}
		cfg.PacingMaxInterval = value
	}
	if decoded.RequestTimeout != nil {
		value, err := parseDuration(*decoded.RequestTimeout, "request_timeout", path)
		if err != nil {
			return err
		}
		cfg.RequestTimeout = value
	}
	return nil
}

func applyPlayerOverrides(cfg *Config, decoded fileConfig) {
	if decoded.Player == nil {
		return
	}
	if value := trimmed(decoded.Player.FirstName); value != "" {
		cfg.Player.FirstName = value
	}
	if value := trimmed(decoded.Player.LastName); value != "" {
		cfg.Player.LastName = value
	}
	if value := trimmed(decoded.Player.Account); value != "" {
		cfg.Player.Account = value
	}
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

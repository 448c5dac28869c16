// internal/config/config.go
//
// Process configuration from the environment.
// A .env file in the working directory is loaded first when present; real
// environment variables always win over it.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Hand-off slot backends.
const (
	HandoffSQLite = "sqlite"
	HandoffMemory = "memory"
)

// Config is everything the server reads from the environment.
type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/skillgames.db"`

	JWTSecret      string `env:"JWT_SECRET" envDefault:"dev_secret_change_me"`
	JWTExpiresDays int    `env:"JWT_EXPIRES_DAYS" envDefault:"14"`
	CookieName     string `env:"COOKIE_NAME" envDefault:"skillgames_token"`
	ClientOrigin   string `env:"CLIENT_ORIGIN" envDefault:"http://localhost:5173"`
	Environment    string `env:"NODE_ENV" envDefault:"development"`

	GeminiAPIKey  string        `env:"GEMINI_API_KEY"`
	GeminiModel   string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiBaseURL string        `env:"GEMINI_BASE_URL"`
	LLMTimeout    time.Duration `env:"LLM_TIMEOUT" envDefault:"20s"`

	DailySalt    string `env:"DAILY_SALT" envDefault:"local_dev_salt"`
	ContentDir   string `env:"CONTENT_DIR"`
	HandoffStore string `env:"HANDOFF_STORE" envDefault:"sqlite"`

	// Running instances not touched for InstanceIdle are closed.
	InstanceIdle time.Duration `env:"INSTANCE_IDLE" envDefault:"30m"`
}

// Production reports whether cookies must be Secure.
func (c Config) Production() bool { return c.Environment == "production" }

// Addr is the listen address.
func (c Config) Addr() string { return ":" + c.Port }

// JWTTTL is the lifetime of issued tokens.
func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTExpiresDays) * 24 * time.Hour
}

// Load reads the optional .env file, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.HandoffStore {
	case HandoffSQLite, HandoffMemory:
	default:
		return fmt.Errorf("config: HANDOFF_STORE must be %q or %q, got %q", HandoffSQLite, HandoffMemory, c.HandoffStore)
	}
	if c.JWTExpiresDays <= 0 {
		return errors.New("config: JWT_EXPIRES_DAYS must be positive")
	}
	if c.Production() && c.JWTSecret == "dev_secret_change_me" {
		return errors.New("config: JWT_SECRET must be set in production")
	}
	if c.LLMTimeout <= 0 {
		return errors.New("config: LLM_TIMEOUT must be positive")
	}
	if c.InstanceIdle <= 0 {
		return errors.New("config: INSTANCE_IDLE must be positive")
	}
	return nil
}

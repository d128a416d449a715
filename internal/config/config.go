// Package config loads process configuration from the environment and the
// optional game rules file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/talgya/city-council/internal/room"
)

// Server configures cmd/council.
type Server struct {
	Port            int           `env:"COUNCIL_PORT" envDefault:"8080"`
	DBPath          string        `env:"COUNCIL_DB_PATH" envDefault:"data/council.db"`
	AdminKey        string        `env:"COUNCIL_ADMIN_KEY"`
	JWTSecret       string        `env:"COUNCIL_JWT_SECRET"`
	CatalogPath     string        `env:"COUNCIL_CATALOG_PATH"`
	RulesPath       string        `env:"COUNCIL_RULES_PATH"`
	CORSOrigins     []string      `env:"COUNCIL_CORS_ORIGINS" envSeparator:","`
	LogLevel        string        `env:"COUNCIL_LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"COUNCIL_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	OpenAIKey       string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL"`
	LLMModel        string        `env:"COUNCIL_LLM_MODEL" envDefault:"gpt-4o-mini"`
	LLMPerMinute    int           `env:"COUNCIL_LLM_PER_MINUTE" envDefault:"30"`
	PetitionTimeout time.Duration `env:"COUNCIL_PETITION_TIMEOUT" envDefault:"8s"`
	PetitionRate    int           `env:"COUNCIL_PETITION_RATE" envDefault:"5"`

	// Empty ImageModel turns city images off.
	ImageModel   string        `env:"COUNCIL_IMAGE_MODEL"`
	ImageTimeout time.Duration `env:"COUNCIL_IMAGE_TIMEOUT" envDefault:"60s"`

	RandomOrgKey string `env:"RANDOM_ORG_API_KEY"`
	OTelEndpoint string `env:"COUNCIL_OTEL_ENDPOINT"`
}

// Steward configures cmd/steward.
type Steward struct {
	APIURL        string        `env:"COUNCIL_API_URL" envDefault:"http://localhost:8080"`
	AdminKey      string        `env:"COUNCIL_ADMIN_KEY,required"`
	Interval      time.Duration `env:"STEWARD_INTERVAL" envDefault:"1m"`
	VoteTimeout   time.Duration `env:"STEWARD_VOTE_TIMEOUT" envDefault:"10m"`
	ResultTimeout time.Duration `env:"STEWARD_RESULT_TIMEOUT" envDefault:"5m"`
	ArchiveAfter  time.Duration `env:"STEWARD_ARCHIVE_AFTER" envDefault:"24h"`
	MemoryPath    string        `env:"STEWARD_MEMORY_PATH" envDefault:"steward_memory.json"`
	LogLevel      string        `env:"COUNCIL_LOG_LEVEL" envDefault:"info"`
}

// LoadServer parses the server configuration.
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Server{}, fmt.Errorf("COUNCIL_PORT %d out of range", cfg.Port)
	}
	return cfg, nil
}

// LoadSteward parses the steward configuration.
func LoadSteward() (Steward, error) {
	var cfg Steward
	if err := env.Parse(&cfg); err != nil {
		return Steward{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Interval <= 0 {
		return Steward{}, fmt.Errorf("STEWARD_INTERVAL must be positive")
	}
	return cfg, nil
}

// LoadRules reads a YAML rules file over the defaults. Fields the file
// leaves out keep their default. An empty path returns the defaults.
func LoadRules(path string) (room.Rules, error) {
	rules := room.DefaultRules()
	if path == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return room.Rules{}, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes YAML rules over the defaults and validates them.
// Unknown keys are rejected so a typo never silently keeps a default.
func ParseRules(raw []byte) (room.Rules, error) {
	rules := room.DefaultRules()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil && !errors.Is(err, io.EOF) {
		return room.Rules{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return room.Rules{}, fmt.Errorf("invalid rules: %w", err)
	}
	return rules, nil
}

// Level maps a level name onto slog. Unknown names mean info.
func Level(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package config reads and writes the arena service configuration file and
// applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-arena/internal/annotation"
	"github.com/ahrav/go-arena/internal/llm/configuration"
	"github.com/ahrav/go-arena/internal/store"
	"github.com/ahrav/go-arena/internal/workflow"
	"github.com/ahrav/go-arena/pkg/events"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "arena.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARENA_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level structure of arena.yaml.
type Config struct {
	Version    int                  `yaml:"version" validate:"eq=1"`
	Server     ServerConfig         `yaml:"server"`
	Annotation AnnotationConfig     `yaml:"annotation"`
	LLM        configuration.Config `yaml:"llm"`
	Store      StoreConfig          `yaml:"store"`
	Temporal   TemporalConfig       `yaml:"temporal"`
	Events     EventsConfig         `yaml:"events"`
	Log        LogConfig            `yaml:"log"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	// IdleConversationTTL evicts conversations untouched for this long;
	// zero keeps them until submitted.
	IdleConversationTTL time.Duration `yaml:"idle_conversation_ttl" validate:"gte=0"`
}

// AnnotationConfig holds workflow bounds.
type AnnotationConfig struct {
	MaxTurns int `yaml:"max_turns" validate:"gte=1,lte=50"`
}

// StoreConfig selects persistence backends. Both may be enabled.
type StoreConfig struct {
	CSVPath    string `yaml:"csv_path"`
	SQLitePath string `yaml:"sqlite_path"`
}

// TemporalConfig controls durable submission.
type TemporalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	HostPort  string `yaml:"host_port" validate:"required_if=Enabled true"`
	Namespace string `yaml:"namespace" validate:"required_if=Enabled true"`
	TaskQueue string `yaml:"task_queue" validate:"required_if=Enabled true"`
}

// EventsConfig selects event sinks. Empty fields disable a sink.
type EventsConfig struct {
	JSONLPath     string `yaml:"jsonl_path"`
	NATSURL       string `yaml:"nats_url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
	// RedactPrompts logs prompt and response lengths instead of text.
	RedactPrompts bool `yaml:"redact_prompts"`
}

// Default returns a configuration for a single local server without
// Temporal, writing to the CSV log.
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Addr:                "127.0.0.1:8080",
			ReadTimeout:         15 * time.Second,
			WriteTimeout:        2 * time.Minute,
			ShutdownTimeout:     10 * time.Second,
			IdleConversationTTL: 24 * time.Hour,
		},
		Annotation: AnnotationConfig{MaxTurns: annotation.DefaultMaxTurns},
		LLM:        *configuration.DefaultConfig(),
		Store:      StoreConfig{CSVPath: store.DefaultCSVPath},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: workflow.DefaultTaskQueue,
		},
		Events: EventsConfig{SubjectPrefix: events.DefaultSubjectPrefix},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over Default, applies environment overrides and
// validates. A missing file is not an error: defaults and environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write saves cfg as YAML at path, creating its directory. Secrets are never
// written.
func Write(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment. Provider API keys are read
// from each provider's api_key_env variable.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	str("SERVER_ADDR", &c.Server.Addr)
	str("CSV_PATH", &c.Store.CSVPath)
	str("SQLITE_PATH", &c.Store.SQLitePath)
	str("TEMPORAL_HOST_PORT", &c.Temporal.HostPort)
	str("TEMPORAL_NAMESPACE", &c.Temporal.Namespace)
	str("TEMPORAL_TASK_QUEUE", &c.Temporal.TaskQueue)
	str("EVENTS_JSONL_PATH", &c.Events.JSONLPath)
	str("NATS_URL", &c.Events.NATSURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("REDIS_ADDR", &c.LLM.RateLimit.Global.RedisAddr)
	str("REDIS_PASSWORD", &c.LLM.RateLimit.Global.RedisPassword)
	str("MODEL_A", &c.LLM.Tracks.A.Model)
	str("MODEL_B", &c.LLM.Tracks.B.Model)

	if v, ok := lookup(EnvPrefix + "MAX_TURNS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_TURNS: %v", ErrInvalid, EnvPrefix, err)
		}
		c.Annotation.MaxTurns = n
	}
	if v, ok := lookup(EnvPrefix + "TEMPORAL_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sTEMPORAL_ENABLED: %v", ErrInvalid, EnvPrefix, err)
		}
		c.Temporal.Enabled = b
	}

	for name, p := range c.LLM.Providers {
		env := p.APIKeyEnv
		if env == "" {
			env = strings.ToUpper(name) + "_API_KEY"
		}
		if v, ok := lookup(env); ok {
			p.APIKey = v
			c.LLM.Providers[name] = p
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags, the LLM section, and that at least one
// store is configured.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Store.CSVPath == "" && c.Store.SQLitePath == "" {
		return fmt.Errorf("%w: no store configured", ErrInvalid)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("%w: llm: %w", ErrInvalid, err)
	}
	return nil
}

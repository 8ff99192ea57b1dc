// Package config loads foldtext settings.
//
// Settings come from built-in defaults, an optional TOML file and
// FOLDTEXT_ environment variables, in increasing priority. The merged
// result decodes into Config.
package config

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/foldtext/internal/collab"
	"github.com/dshills/foldtext/internal/config/loader"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FOLDTEXT_"

// Config holds all settings.
type Config struct {
	Log    LogConfig    `toml:"log"`
	Editor EditorConfig `toml:"editor"`
	Collab CollabConfig `toml:"collab"`
	Server ServerConfig `toml:"server"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// EditorConfig configures the presentation pipeline.
type EditorConfig struct {
	FoldStrategy string   `toml:"fold_strategy"`
	GuardTimeout Duration `toml:"guard_timeout"`
	SizeClass    string   `toml:"size_class"`

	// Theme is a TOML spacing table or a .lua script. Empty uses the
	// built-in table.
	Theme string `toml:"theme"`
}

// CollabConfig configures the client session.
type CollabConfig struct {
	Endpoint         string   `toml:"endpoint"`
	Token            string   `toml:"token"`
	OrganizationID   string   `toml:"organization_id"`
	DocumentID       string   `toml:"document_id"`
	ClientID         string   `toml:"client_id"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	InitialBackoff   Duration `toml:"initial_backoff"`
	MaxBackoff       Duration `toml:"max_backoff"`
	MaxElapsed       Duration `toml:"max_elapsed"`
}

// ServerConfig configures the collaboration server.
type ServerConfig struct {
	Addr string `toml:"addr"`

	// Store is "memory", "bolt" or "postgres".
	Store       string `toml:"store"`
	BoltPath    string `toml:"bolt_path"`
	PostgresDSN string `toml:"postgres_dsn"`

	// Ledger is "memory" or "redis".
	Ledger   string `toml:"ledger"`
	RedisURL string `toml:"redis_url"`

	// Tokens lists accepted bearer tokens. Empty accepts any token.
	Tokens []string `toml:"tokens"`

	Advertise   bool   `toml:"advertise"`
	ServiceName string `toml:"service_name"`
}

// Default returns the built-in settings.
func Default() *Config {
	sc := collab.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Editor: EditorConfig{
			FoldStrategy: "minimal",
			GuardTimeout: Duration(500 * time.Millisecond),
			SizeClass:    "regular",
		},
		Collab: CollabConfig{
			HandshakeTimeout: Duration(sc.HandshakeTimeout),
			InitialBackoff:   Duration(sc.InitialBackoff),
			MaxBackoff:       Duration(sc.MaxBackoff),
			MaxElapsed:       Duration(sc.MaxElapsed),
		},
		Server: ServerConfig{
			Addr:        ":8470",
			Store:       "memory",
			BoltPath:    "foldtext.db",
			Ledger:      "memory",
			ServiceName: "_foldtext._tcp",
		},
	}
}

// Load reads path, which may be empty, and applies environment overrides.
func Load(path string) (*Config, error) {
	var sources []loader.Loader
	if path != "" {
		sources = append(sources, loader.NewTOMLLoader(path))
	}
	sources = append(sources, loader.NewEnvLoader(EnvPrefix))
	return LoadFrom(sources...)
}

// LoadFrom merges sources over the defaults. Later sources win.
func LoadFrom(sources ...loader.Loader) (*Config, error) {
	merged := map[string]any{}
	for _, src := range sources {
		data, err := src.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, data)
	}

	cfg := Default()
	if err := decode(merged, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode re-encodes the merged map so go-toml can decode it onto cfg.
// Fields absent from data keep their current values.
func decode(data map[string]any, cfg *Config) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(data); err != nil {
		return fmt.Errorf("encoding merged config: %w", err)
	}
	if err := toml.Unmarshal(buf.Bytes(), cfg); err != nil {
		return &ValidationError{Path: "config", Message: err.Error(), Err: err}
	}
	return nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	var errs ValidationErrors
	check := func(path, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("unknown value %q", value),
			Err:     ErrInvalidValue,
		})
	}
	check("log.level", c.Log.Level, "debug", "info", "warn", "warning", "error")
	check("log.format", c.Log.Format, "text", "json")
	check("editor.fold_strategy", c.Editor.FoldStrategy, "minimal", "document")
	check("editor.size_class", c.Editor.SizeClass, "regular", "compact")
	check("server.store", c.Server.Store, "memory", "bolt", "postgres")
	check("server.ledger", c.Server.Ledger, "memory", "redis")

	if c.Server.Store == "postgres" && c.Server.PostgresDSN == "" {
		errs = append(errs, &ValidationError{Path: "server.postgres_dsn", Message: "required for the postgres store", Err: ErrMissingValue})
	}
	if c.Server.Ledger == "redis" && c.Server.RedisURL == "" {
		errs = append(errs, &ValidationError{Path: "server.redis_url", Message: "required for the redis ledger", Err: ErrMissingValue})
	}
	if c.Collab.MaxBackoff < c.Collab.InitialBackoff {
		errs = append(errs, &ValidationError{Path: "collab.max_backoff", Message: "below initial_backoff", Err: ErrInvalidValue})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SessionConfig returns the collab session settings.
func (c CollabConfig) SessionConfig() collab.Config {
	sc := collab.DefaultConfig()
	sc.HandshakeTimeout = time.Duration(c.HandshakeTimeout)
	sc.InitialBackoff = time.Duration(c.InitialBackoff)
	sc.MaxBackoff = time.Duration(c.MaxBackoff)
	sc.MaxElapsed = time.Duration(c.MaxElapsed)
	return sc
}

// Credentials returns the document identity to connect with.
func (c CollabConfig) Credentials() collab.Credentials {
	return collab.Credentials{
		Endpoint:       c.Endpoint,
		Token:          c.Token,
		OrganizationID: c.OrganizationID,
		DocumentID:     c.DocumentID,
	}
}

// Duration is a time.Duration written as "500ms" in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

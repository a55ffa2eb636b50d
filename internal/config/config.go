// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

// Package config loads crewkeeper settings. Sources are layered, later ones
// winning: flag defaults, the YAML config file, CREWKEEPER_* environment
// variables, then flags set on the command line.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/crewkeeper/crewkeeper/internal/logging"
)

// EnvPrefix prefixes every environment override. CREWKEEPER_HTTP_ADDR sets
// http.addr; the first underscore after the prefix separates the section.
const EnvPrefix = "CREWKEEPER_"

// CodeInvalid is the oops code of configuration errors.
const CodeInvalid = "CONFIG_INVALID"

// Config is the full server and CLI configuration.
type Config struct {
	Database Database `koanf:"database"`
	HTTP     HTTP     `koanf:"http"`
	Metrics  Metrics  `koanf:"metrics"`
	Auth     Auth     `koanf:"auth"`
	Log      Log      `koanf:"log"`
	Store    Store    `koanf:"store"`
}

// Database configures the PostgreSQL pool.
type Database struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// HTTP configures the public API listener.
type HTTP struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Metrics configures the observability listener. An empty Addr disables it.
type Metrics struct {
	Addr string `koanf:"addr"`
}

// Auth configures bearer token verification.
type Auth struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
}

// Log configures the default logger.
type Log struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Store selects where entries live. Memory mode keeps everything in process
// and loads SeedFile, if set, at startup. Cache enables the entry cache the
// server keeps in front of PostgreSQL.
type Store struct {
	Memory         bool          `koanf:"memory"`
	SeedFile       string        `koanf:"seed_file"`
	Cache          bool          `koanf:"cache"`
	CacheStaleness time.Duration `koanf:"cache_staleness"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"database-url":     "database.url",
	"db-max-conns":     "database.max_conns",
	"db-connect-tries": "database.connect_attempts",
	"db-backoff":       "database.connect_backoff",
	"auto-migrate":     "database.auto_migrate",
	"http-addr":        "http.addr",
	"read-timeout":     "http.read_timeout",
	"shutdown-timeout": "http.shutdown_timeout",
	"metrics-addr":     "metrics.addr",
	"jwt-secret":       "auth.jwt_secret",
	"jwt-issuer":       "auth.issuer",
	"jwt-audience":     "auth.audience",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"memory":           "store.memory",
	"seed-file":        "store.seed_file",
	"entry-cache":      "store.cache",
	"cache-staleness":  "store.cache_staleness",
}

// Flags returns the configuration flags with their defaults.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.String("database-url", "", "PostgreSQL connection URL (falls back to DATABASE_URL)")
	fs.Int32("db-max-conns", 0, "maximum pool connections (0 = pgx default)")
	fs.Uint64("db-connect-tries", 5, "database connection attempts at startup")
	fs.Duration("db-backoff", 200*time.Millisecond, "base delay between connection attempts")
	fs.Bool("auto-migrate", false, "apply pending migrations before serving")
	fs.String("http-addr", "127.0.0.1:8080", "API listen address")
	fs.Duration("read-timeout", 10*time.Second, "API request header read timeout")
	fs.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics and health listen address (empty = disabled)")
	fs.String("jwt-secret", "", "HS256 secret used to verify bearer tokens")
	fs.String("jwt-issuer", "", "required token issuer (empty = any)")
	fs.String("jwt-audience", "", "required token audience (empty = any)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("memory", false, "keep access entries in memory instead of PostgreSQL")
	fs.String("seed-file", "", "seed file loaded at startup in memory mode")
	fs.Bool("entry-cache", true, "cache entries in the server, invalidated by LISTEN/NOTIFY")
	fs.Duration("cache-staleness", 30*time.Second, "bypass the entry cache after this long without word from the listener")
	return fs
}

// Load reads configuration from the optional YAML file at path, the
// environment, and fs. fs should come from Flags, possibly merged into a
// command's flag set; flags it does not know are ignored.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeInvalid).With("path", path).Wrapf(err, "reading config file")
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "reading environment")
	}

	if fs != nil {
		flagKey := func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
			return nil, oops.Code(CodeInvalid).Wrapf(err, "reading flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalid).Wrapf(err, "decoding config")
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// Validate checks settings every command relies on.
func (c *Config) Validate() error {
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code(CodeInvalid).With("log.format", c.Log.Format).
			Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalid).With("log.level", c.Log.Level).
			Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if !c.Store.Memory && c.Database.URL == "" {
		return oops.Code(CodeInvalid).Errorf("database.url (or DATABASE_URL) is required unless store.memory is set")
	}
	if c.Store.Cache && c.Store.CacheStaleness <= 0 {
		return oops.Code(CodeInvalid).Errorf("store.cache_staleness must be positive when store.cache is set")
	}
	if c.Store.SeedFile != "" && !c.Store.Memory {
		return oops.Code(CodeInvalid).Errorf("store.seed_file only applies in memory mode; use the seed command for PostgreSQL")
	}
	return nil
}

// ValidateServe additionally checks what the API server needs.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.HTTP.Addr == "" {
		return oops.Code(CodeInvalid).Errorf("http.addr is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return oops.Code(CodeInvalid).Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	return nil
}

// Logging returns the logger options described by the config.
func (c *Config) Logging(service, version string) logging.Options {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = 0
	}
	return logging.Options{
		Service: service,
		Version: version,
		Format:  c.Log.Format,
		Level:   level,
	}
}

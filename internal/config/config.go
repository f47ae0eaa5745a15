// Package config loads a space's YAML configuration: which transport to
// use and, for the AMQP transport, its connection parameters. Values are
// layered file-then-environment, the same precedence the teacher's
// internal/config applies to its broker/support settings.
//
// Called by: public/space (NewEmbedded, cmd/spaced)
// Calls: gopkg.in/yaml.v3, os (environment overrides)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a space's top-level configuration.
type Config struct {
	Space     string          `yaml:"space"`
	Debug     bool            `yaml:"debug"`
	Transport TransportConfig `yaml:"transport"`
}

// TransportConfig selects which Transport implementation a space uses.
type TransportConfig struct {
	Kind string     `yaml:"kind"` // "local" or "amqp"
	AMQP AMQPConfig `yaml:"amqp"`
}

// AMQPConfig carries the AMQP transport's connection parameters. Fields
// left empty are filled from AMQP_* environment variables, then from the
// documented defaults (spec.md §6).
type AMQPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Exchange string `yaml:"exchange"`
}

// Load reads and parses filename, then applies defaults and AMQP_*
// environment overrides. Missing AMQP fields never fail Load — the AMQP
// transport is only actually dialed if Transport.Kind is "amqp".
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", filename, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", filename, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport.Kind == "" {
		c.Transport.Kind = "local"
	}
	c.Transport.AMQP.applyEnvOverrides()
}

func (a *AMQPConfig) applyEnvOverrides() {
	if a.Host == "" {
		a.Host = GetEnvString("HOST", "localhost")
	}
	if a.Port == 0 {
		a.Port = GetEnvInt("PORT", 5672)
	}
	if a.Username == "" {
		a.Username = GetEnvString("USERNAME", "guest")
	}
	if a.Password == "" {
		a.Password = GetEnvString("PASSWORD", "guest")
	}
	if a.VHost == "" {
		a.VHost = GetEnvString("VHOST", "/")
	}
}

// GetEnvString reads the AMQP_<key> environment variable, falling back to
// defaultValue when unset or empty.
func GetEnvString(key, defaultValue string) string {
	if v := os.Getenv("AMQP_" + key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvInt reads the AMQP_<key> environment variable as an integer,
// falling back to defaultValue when unset or unparsable.
func GetEnvInt(key string, defaultValue int) int {
	v := os.Getenv("AMQP_" + key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvDuration reads the AMQP_<key> environment variable as a Go
// duration string (e.g. "500ms"), falling back to defaultValue when unset
// or unparsable.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv("AMQP_" + key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

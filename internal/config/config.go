// Package config loads runtime configuration from a project config file,
// an optional .env file, and environment variable overrides, in that
// order of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TOOLGATE_"

// Config is the fully resolved runtime configuration.
type Config struct {
	// Mode is the initial permission mode.
	Mode string `json:"mode" yaml:"mode"`

	// WorkDir is the project root tools operate in.
	WorkDir string `json:"workDir" yaml:"workDir"`

	// MaxIterations bounds the agent loop per user turn.
	MaxIterations int `json:"maxIterations" yaml:"maxIterations"`

	// WritableDirs lists directories (or glob patterns) where edits are
	// auto-approved in acceptEdits mode, in addition to the work dir.
	WritableDirs []string `json:"writableDirs" yaml:"writableDirs"`

	Shell  ShellConfig  `json:"shell" yaml:"shell"`
	Log    LogConfig    `json:"log" yaml:"log"`
	Server ServerConfig `json:"server" yaml:"server"`
}

// ShellConfig tunes the background shell manager.
type ShellConfig struct {
	// BufferBytes caps each captured stream per shell.
	BufferBytes int `json:"bufferBytes" yaml:"bufferBytes"`

	// Retention is how long exited shells stay queryable.
	Retention Duration `json:"retention" yaml:"retention"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// ServerConfig tunes the HTTP control surface.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		Mode:          "default",
		WorkDir:       wd,
		MaxIterations: 25,
		Shell: ShellConfig{
			BufferBytes: 256 * 1024,
			Retention:   Duration(30 * time.Minute),
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:4488",
		},
	}
}

// Load resolves configuration for the given directory. It looks for
// toolgate.json, toolgate.jsonc, or toolgate.yaml in dir, loads .env if
// present, then applies TOOLGATE_* environment overrides.
func Load(dir string) (*Config, error) {
	cfg := Default()
	if dir != "" {
		cfg.WorkDir = dir
	}

	if path, ok := findConfigFile(dir); ok {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	// Missing .env is fine, a malformed one is not.
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile(dir string) (string, bool) {
	for _, name := range []string{"toolgate.json", "toolgate.jsonc", "toolgate.yaml", "toolgate.yml"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPrefix + "MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(envPrefix + "WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv(envPrefix + "MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv(envPrefix + "WRITABLE_DIRS"); v != "" {
		cfg.WritableDirs = splitList(v)
	}
	if v := os.Getenv(envPrefix + "SHELL_BUFFER_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Shell.BufferBytes = n
		}
	}
	if v := os.Getenv(envPrefix + "SHELL_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Shell.Retention = Duration(d)
		}
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(envPrefix + "LOG_PRETTY"); v != "" {
		cfg.Log.Pretty = v == "true" || v == "1"
	}
	if v := os.Getenv(envPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Mode {
	case "default", "acceptEdits", "plan", "bypassAll":
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("maxIterations must be positive, got %d", c.MaxIterations)
	}
	if c.Shell.BufferBytes <= 0 {
		return fmt.Errorf("shell bufferBytes must be positive, got %d", c.Shell.BufferBytes)
	}
	return nil
}

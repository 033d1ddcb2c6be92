package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL      = "http://localhost:11434"
	DefaultModel          = "gemma3:1b"
	DefaultLocale         = "fr-FR"
	DefaultTimeoutMS      = 30000
	DefaultIdleTimeout    = 300 // seconds
	DefaultHealthInterval = 30  // seconds
	DefaultProbeTimeoutMS = 5000
	DefaultLogDir         = "logs"
)

// DefaultEmptyReply stands in for a reply the model left blank.
const DefaultEmptyReply = "No reply was generated."

// DefaultSystemPrompt is formatted with the display name of the logged-in user.
const DefaultSystemPrompt = "You are a friendly voice assistant talking with %s. " +
	"Reply concisely in the user's language, in plain sentences that read well aloud. " +
	"Do not use markdown, lists or emoji."

// Speech holds the external speech engine commands. An empty command
// disables the corresponding capability.
type Speech struct {
	OutputCommand  []string `yaml:"output_command"`
	CaptureCommand []string `yaml:"capture_command"`
}

// Config holds application configuration
type Config struct {
	ServerURL      string `yaml:"server_url"`
	Timeout        int    `yaml:"timeout"` // milliseconds before aborting an inference request
	Model          string `yaml:"model"`   // model name in "model:version" form
	Locale         string `yaml:"locale"`
	IdleTimeout    int    `yaml:"idle_timeout"`    // seconds
	HealthInterval int    `yaml:"health_interval"` // seconds
	ProbeTimeout   int    `yaml:"probe_timeout"`   // milliseconds
	SystemPrompt   string `yaml:"system_prompt"`
	EmptyReply     string `yaml:"empty_reply"` // shown and spoken when the model returns no text
	Cache          bool   `yaml:"cache"`

	LogDir    string `yaml:"log_dir"`
	ArchiveDB string `yaml:"archive_db"` // empty disables the conversation archive
	Listen    string `yaml:"listen"`     // bridge address; empty runs the terminal REPL
	Debug     bool   `yaml:"debug"`
	User      string `yaml:"user"` // optional display name to log in with at startup

	Speech Speech `yaml:"speech"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		ServerURL:      DefaultServerURL,
		Timeout:        DefaultTimeoutMS,
		Model:          DefaultModel,
		Locale:         DefaultLocale,
		IdleTimeout:    DefaultIdleTimeout,
		HealthInterval: DefaultHealthInterval,
		ProbeTimeout:   DefaultProbeTimeoutMS,
		SystemPrompt:   DefaultSystemPrompt,
		EmptyReply:     DefaultEmptyReply,
		LogDir:         DefaultLogDir,
		Speech: Speech{
			OutputCommand: []string{"espeak-ng", "-v", "{lang}"},
		},
	}
}

// Load reads a YAML config file on top of the defaults. A missing file is
// not an error when path is empty.
func Load(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.fillDefaults()
	return c, nil
}

// LoadEnv loads a .env file if present and applies VOICECHAT_* overrides.
func (c *Config) LoadEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	if v := os.Getenv("VOICECHAT_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("VOICECHAT_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("VOICECHAT_LOCALE"); v != "" {
		c.Locale = v
	}
	if v := os.Getenv("VOICECHAT_ARCHIVE_DB"); v != "" {
		c.ArchiveDB = v
	}
	if v := os.Getenv("VOICECHAT_TIMEOUT"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VOICECHAT_TIMEOUT %q: %w", v, err)
		}
		c.Timeout = ms
	}
	if v := os.Getenv("VOICECHAT_IDLE_TIMEOUT"); v != "" {
		s, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid VOICECHAT_IDLE_TIMEOUT %q: %w", v, err)
		}
		c.IdleTimeout = s
	}
	c.fillDefaults()
	return nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.ServerURL == "" {
		c.ServerURL = d.ServerURL
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Locale == "" {
		c.Locale = d.Locale
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = d.HealthInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.EmptyReply == "" {
		c.EmptyReply = d.EmptyReply
	}
	if c.LogDir == "" {
		c.LogDir = d.LogDir
	}
}

// RequestTimeout is the inference request timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

func (c Config) IdleDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

func (c Config) HealthEvery() time.Duration {
	return time.Duration(c.HealthInterval) * time.Second
}

func (c Config) ProbeDuration() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Millisecond
}

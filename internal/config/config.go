// Package config holds the settings of the extension platform.
//
// Settings come from three places, later ones winning: built-in defaults,
// a JSON file, and EXTHOST_* environment variables. Paths inside the file
// use gjson syntax, e.g. "hosts.process.command".
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/multierr"

	"github.com/dshills/exthost/internal/extension"
	"github.com/dshills/exthost/internal/logging"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "EXTHOST_"

// Config is the platform configuration.
type Config struct {
	Extensions   ExtensionsConfig
	Hosts        HostsConfig
	Participants ParticipantsConfig
	Lua          LuaConfig
	Logging      LoggingConfig
}

// ExtensionsConfig controls discovery.
type ExtensionsConfig struct {
	// Paths are searched in order; the first extension with a given id wins.
	Paths []string
	// CachePath stores the discovered catalog. Empty disables the cache.
	CachePath string
}

// HostsConfig controls the extension hosts.
type HostsConfig struct {
	Process      ProcessHostConfig
	Worker       WorkerHostConfig
	StartTimeout time.Duration
}

// ProcessHostConfig configures the out-of-process host.
type ProcessHostConfig struct {
	Enabled bool
	Command string
	Args    []string
}

// WorkerHostConfig configures the in-process worker host.
type WorkerHostConfig struct {
	Enabled    bool
	StaticPath string
}

// ParticipantsConfig controls file operation participation.
type ParticipantsConfig struct {
	// Timeout is the budget after which a participant is reported as slow.
	Timeout time.Duration
}

// LuaConfig controls Lua extensions.
type LuaConfig struct {
	ExecutionTimeout time.Duration
}

// LoggingConfig controls logging.
type LoggingConfig struct {
	Level string
	JSON  bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Extensions: ExtensionsConfig{
			Paths: extension.DefaultPaths(),
		},
		Hosts: HostsConfig{
			Process:      ProcessHostConfig{Enabled: true, Command: "exthost", Args: []string{"-kind", "process"}},
			Worker:       WorkerHostConfig{Enabled: true},
			StartTimeout: 30 * time.Second,
		},
		Participants: ParticipantsConfig{Timeout: 5 * time.Second},
		Lua:          LuaConfig{ExecutionTimeout: 5 * time.Second},
		Logging:      LoggingConfig{Level: "info"},
	}
}

// Load reads the JSON file at path over the defaults and applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.Apply(data); err != nil {
			return nil, &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Apply overlays the settings present in the JSON document data.
func (c *Config) Apply(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)

	var errs error
	str := func(path string, dst *string) {
		if v := doc.Get(path); v.Exists() {
			*dst = v.String()
		}
	}
	boolean := func(path string, dst *bool) {
		if v := doc.Get(path); v.Exists() {
			*dst = v.Bool()
		}
	}
	list := func(path string, dst *[]string) {
		if v := doc.Get(path); v.Exists() {
			*dst = nil
			for _, s := range v.Array() {
				*dst = append(*dst, s.String())
			}
		}
	}
	duration := func(path string, dst *time.Duration) {
		if v := doc.Get(path); v.Exists() {
			d, err := parseDuration(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", path, err))
				return
			}
			*dst = d
		}
	}

	list("extensions.paths", &c.Extensions.Paths)
	str("extensions.cachePath", &c.Extensions.CachePath)
	boolean("hosts.process.enabled", &c.Hosts.Process.Enabled)
	str("hosts.process.command", &c.Hosts.Process.Command)
	list("hosts.process.args", &c.Hosts.Process.Args)
	boolean("hosts.worker.enabled", &c.Hosts.Worker.Enabled)
	str("hosts.worker.staticPath", &c.Hosts.Worker.StaticPath)
	duration("hosts.startTimeout", &c.Hosts.StartTimeout)
	duration("participants.timeout", &c.Participants.Timeout)
	duration("lua.executionTimeout", &c.Lua.ExecutionTimeout)
	str("logging.level", &c.Logging.Level)
	boolean("logging.json", &c.Logging.JSON)
	return errs
}

// parseDuration accepts Go duration strings or milliseconds.
func parseDuration(v gjson.Result) (time.Duration, error) {
	if v.Type == gjson.Number {
		return time.Duration(v.Int()) * time.Millisecond, nil
	}
	return time.ParseDuration(v.String())
}

// ApplyEnv applies EXTHOST_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs error
	get := func(name string) (string, bool) { return lookup(EnvPrefix + name) }

	if v, ok := get("EXTENSIONS_PATH"); ok {
		c.Extensions.Paths = splitList(v)
	}
	if v, ok := get("CACHE_PATH"); ok {
		c.Extensions.CachePath = v
	}
	if v, ok := get("HOST_COMMAND"); ok {
		c.Hosts.Process.Command = v
	}
	if v, ok := get("PROCESS_HOST"); ok {
		b, err := strconv.ParseBool(v)
		errs = multierr.Append(errs, envErr("PROCESS_HOST", err))
		if err == nil {
			c.Hosts.Process.Enabled = b
		}
	}
	if v, ok := get("WORKER_HOST"); ok {
		b, err := strconv.ParseBool(v)
		errs = multierr.Append(errs, envErr("WORKER_HOST", err))
		if err == nil {
			c.Hosts.Worker.Enabled = b
		}
	}
	if v, ok := get("PARTICIPANT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		errs = multierr.Append(errs, envErr("PARTICIPANT_TIMEOUT", err))
		if err == nil {
			c.Participants.Timeout = d
		}
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	return errs
}

func envErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration for values the platform cannot use.
func (c *Config) Validate() error {
	var errs error
	if c.Hosts.Process.Enabled && c.Hosts.Process.Command == "" {
		errs = multierr.Append(errs, &ValidationError{Path: "hosts.process.command", Message: "required when the process host is enabled", Value: ""})
	}
	if c.Hosts.StartTimeout <= 0 {
		errs = multierr.Append(errs, &ValidationError{Path: "hosts.startTimeout", Message: "must be positive", Value: c.Hosts.StartTimeout})
	}
	if c.Participants.Timeout < 0 {
		errs = multierr.Append(errs, &ValidationError{Path: "participants.timeout", Message: "must not be negative", Value: c.Participants.Timeout})
	}
	if c.Lua.ExecutionTimeout < 0 {
		errs = multierr.Append(errs, &ValidationError{Path: "lua.executionTimeout", Message: "must not be negative", Value: c.Lua.ExecutionTimeout})
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = multierr.Append(errs, &ValidationError{Path: "logging.level", Message: "unknown level", Value: c.Logging.Level})
	}
	return errs
}

// Logger builds the logger described by the logging settings.
func (c *Config) Logger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Logging.Level)
	cfg.JSON = c.Logging.JSON
	return logging.New(cfg)
}

// Package config loads vcrproxy's YAML configuration file and applies
// VCR_-prefixed environment variable overrides, the way cdpnetool's
// internal/config.Config carries a typed struct with defaults, generalized
// here with an env-binding layer in the manner of the original Python
// implementation's pydantic-settings Settings class.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Mode is the handler's dispatch policy.
type Mode string

const (
	ModeRecord Mode = "record"
	ModeReplay Mode = "replay"
	ModeSpy    Mode = "spy"
)

// Valid reports whether m is one of the three recognized modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeRecord, ModeReplay, ModeSpy:
		return true
	default:
		return false
	}
}

// DefaultAlwaysIgnoreHeaders is the global header ignore set applied before
// every fingerprint computation, regardless of route overrides.
var DefaultAlwaysIgnoreHeaders = []string{
	"date", "x-request-id", "x-trace-id", "traceparent", "tracestate",
}

// Cassettes configures the cassette store location and overwrite policy.
type Cassettes struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Overwrite bool   `yaml:"overwrite" mapstructure:"overwrite"`
}

// Matching configures global (non-route-specific) matching overrides.
type Matching struct {
	AlwaysIgnoreHeaders []string `yaml:"always_ignore_headers" mapstructure:"always_ignore_headers"`
}

// Logging configures the structured logger.
type Logging struct {
	Level  string   `yaml:"level" mapstructure:"level"`
	Format string   `yaml:"format" mapstructure:"format"`
	Writer []string `yaml:"writer" mapstructure:"writer"`
	File   string   `yaml:"file" mapstructure:"file"`
}

// Hooks configures optional shell-command lifecycle hooks.
type Hooks struct {
	OnStart           string `yaml:"on_start" mapstructure:"on_start"`
	OnStop            string `yaml:"on_stop" mapstructure:"on_stop"`
	OnCassetteWritten string `yaml:"on_cassette_written" mapstructure:"on_cassette_written"`
}

// Config is the fully-resolved configuration for a vcrproxy process.
type Config struct {
	Mode      Mode              `yaml:"mode" mapstructure:"mode"`
	Port      int               `yaml:"port" mapstructure:"port"`
	AdminPort int               `yaml:"admin_port" mapstructure:"admin_port"`
	Targets   map[string]string `yaml:"targets" mapstructure:"targets"`

	Cassettes Cassettes `yaml:"cassettes" mapstructure:"cassettes"`
	Matching  Matching  `yaml:"matching" mapstructure:"matching"`
	Logging   Logging   `yaml:"logging" mapstructure:"logging"`
	Hooks     Hooks     `yaml:"hooks" mapstructure:"hooks"`

	ProxyTimeout time.Duration `yaml:"proxy_timeout" mapstructure:"proxy_timeout"`
	MaxBodySize  int64         `yaml:"max_body_size" mapstructure:"max_body_size"`

	ForwardProxyPort int    `yaml:"forward_proxy_port" mapstructure:"forward_proxy_port"`
	MitmConfDir      string `yaml:"mitm_confdir" mapstructure:"mitm_confdir"`

	StatsDBPath string `yaml:"stats_db_path" mapstructure:"stats_db_path"`
}

// New returns a Config populated with spec defaults, mirroring the teacher's
// NewConfig constructor.
func New() *Config {
	return &Config{
		Mode:      ModeSpy,
		Port:      8080,
		AdminPort: 8081,
		Targets:   map[string]string{},
		Cassettes: Cassettes{
			Dir:       "cassettes",
			Overwrite: true,
		},
		Matching: Matching{
			AlwaysIgnoreHeaders: append([]string(nil), DefaultAlwaysIgnoreHeaders...),
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Writer: []string{"console"},
		},
		ProxyTimeout:     30 * time.Second,
		MaxBodySize:      10 * 1024 * 1024,
		ForwardProxyPort: 8888,
		StatsDBPath:      "cassettes/_stats.db",
	}
}

// Load reads path (defaulting to ./vcr-proxy.yaml) if present, applies
// VCR_-prefixed environment overrides, and returns the resolved Config.
// The single-target shorthand VCR_TARGET=<url> is equivalent to
// targets: {"/": <url>}.
func Load(path string) (*Config, error) {
	cfg := New()

	v := viper.New()
	v.SetConfigType("yaml")
	if path == "" {
		path = "./vcr-proxy.yaml"
	}
	v.SetConfigFile(path)
	v.SetEnvPrefix("VCR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("vcrproxy: reading config %s: %w", path, err)
		}
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("vcrproxy: decoding config: %w", err)
	}

	if target := v.GetString("target"); target != "" {
		if cfg.Targets == nil {
			cfg.Targets = map[string]string{}
		}
		cfg.Targets["/"] = target
	}

	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("vcrproxy: invalid mode %q", cfg.Mode)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("admin_port", cfg.AdminPort)
	v.SetDefault("cassettes.dir", cfg.Cassettes.Dir)
	v.SetDefault("cassettes.overwrite", cfg.Cassettes.Overwrite)
	v.SetDefault("matching.always_ignore_headers", cfg.Matching.AlwaysIgnoreHeaders)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.writer", cfg.Logging.Writer)
	v.SetDefault("proxy_timeout", cfg.ProxyTimeout)
	v.SetDefault("max_body_size", cfg.MaxBodySize)
	v.SetDefault("forward_proxy_port", cfg.ForwardProxyPort)
	v.SetDefault("stats_db_path", cfg.StatsDBPath)
}

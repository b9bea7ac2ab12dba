// Package config loads the refmirror configuration: defaults, then an
// optional YAML file, then REFMIRROR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/refmirror/internal/core/mirror"
	"github.com/zeusync/refmirror/internal/core/observability/log"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL"`
	} `yaml:"log" envPrefix:"REFMIRROR_"`

	// Mirror applies to processes that build mirrors, such as mirrorctl. The
	// server only relays store events and ignores it.
	Mirror struct {
		Throttle time.Duration `yaml:"throttle" env:"THROTTLE"`
		TagField string        `yaml:"tag_field" env:"TAG_FIELD"`
	} `yaml:"mirror" envPrefix:"REFMIRROR_MIRROR_"`

	// Server.SendBuffer caps queued frames per session, 0 meaning no cap.
	// Server.Token, when set, must accompany every websocket upgrade.
	Server struct {
		ListenAddr      string `yaml:"listen_addr" env:"LISTEN_ADDR"`
		Path            string `yaml:"path" env:"PATH"`
		ReadBufferSize  int    `yaml:"read_buffer_size" env:"READ_BUFFER_SIZE"`
		WriteBufferSize int    `yaml:"write_buffer_size" env:"WRITE_BUFFER_SIZE"`
		SendBuffer      int    `yaml:"send_buffer" env:"SEND_BUFFER"`
		Token           string `yaml:"token" env:"TOKEN"`
	} `yaml:"server" envPrefix:"REFMIRROR_SERVER_"`

	Client struct {
		URL         string        `yaml:"url" env:"URL"`
		DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
		SendBuffer  int           `yaml:"send_buffer" env:"SEND_BUFFER"`
		Token       string        `yaml:"token" env:"TOKEN"`
	} `yaml:"client" envPrefix:"REFMIRROR_CLIENT_"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" env:"ENABLED"`
		Path    string `yaml:"path" env:"PATH"`
	} `yaml:"metrics" envPrefix:"REFMIRROR_METRICS_"`
}

func Default() Config {
	var c Config
	c.Log.Level = log.LevelInfo.String()
	c.Mirror.Throttle = mirror.DefaultThrottle
	c.Mirror.TagField = mirror.DefaultTagField
	c.Server.ListenAddr = "127.0.0.1:8080"
	c.Server.Path = "/ws"
	c.Server.ReadBufferSize = 1024
	c.Server.WriteBufferSize = 1024
	c.Client.URL = "ws://127.0.0.1:8080/ws"
	c.Client.DialTimeout = 5 * time.Second
	c.Metrics.Enabled = true
	c.Metrics.Path = "/metrics"
	return c
}

// Load returns the defaults overlaid with the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := ParseEnv(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// ParseEnv applies environment overrides to target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Mirror.Throttle < 0 {
		errs = append(errs, errors.New("mirror.throttle must not be negative"))
	}
	if c.Mirror.TagField == "" {
		errs = append(errs, errors.New("mirror.tag_field must not be empty"))
	}
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		errs = append(errs, errors.New("server.path must start with /"))
	}
	if c.Server.ReadBufferSize <= 0 || c.Server.WriteBufferSize <= 0 {
		errs = append(errs, errors.New("server buffer sizes must be positive"))
	}
	if c.Server.SendBuffer < 0 || c.Client.SendBuffer < 0 {
		errs = append(errs, errors.New("send_buffer must not be negative"))
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path == c.Server.Path) {
		errs = append(errs, errors.New("metrics.path must be set and differ from server.path"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LogLevel returns the parsed log level. Validate guarantees it parses.
func (c Config) LogLevel() log.Level {
	l, _ := log.ParseLevel(c.Log.Level)
	return l
}

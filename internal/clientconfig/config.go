// Package clientconfig reads and writes the revealctl config file.
package clientconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukerupert/revealparty/internal/heart"
	"github.com/dukerupert/revealparty/internal/reveal"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	envBaseURL     = "REVEAL_API_URL"
	appDir         = "revealctl"
	fileName       = "config.yaml"
)

type Config struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`

	OpeningDelay   time.Duration `yaml:"opening_delay,omitempty"`
	LateJoinWindow time.Duration `yaml:"late_join_window,omitempty"`
	HeartCooldown  time.Duration `yaml:"heart_cooldown,omitempty"`
	HeartLifetime  time.Duration `yaml:"heart_lifetime,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
}

// DefaultPath is $XDG_CONFIG_HOME/revealctl/config.yaml, or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, appDir, fileName), nil
}

// Load reads path. A missing file yields the defaults. REVEAL_API_URL
// overrides the stored base URL.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv(envBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := cfg.Reveal(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions, since it holds the
// session token.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Reveal returns the controller config with unset fields defaulted.
func (c *Config) Reveal() (reveal.Config, error) {
	rc := reveal.DefaultConfig()
	if c.OpeningDelay > 0 {
		rc.OpeningDelay = c.OpeningDelay
	}
	if c.LateJoinWindow > 0 {
		rc.LateJoinWindow = c.LateJoinWindow
	}
	if c.PollInterval > 0 {
		rc.PollInterval = c.PollInterval
	}
	return rc, rc.Validate()
}

func (c *Config) HeartOptions() []heart.Option {
	var opts []heart.Option
	if c.HeartCooldown > 0 {
		opts = append(opts, heart.WithCooldown(c.HeartCooldown))
	}
	if c.HeartLifetime > 0 {
		opts = append(opts, heart.WithLifetime(c.HeartLifetime))
	}
	return opts
}

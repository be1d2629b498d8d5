package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all nexora configuration.
type Config struct {
	// HTTP listen address, ":8080" by default. PORT overrides the port.
	Addr string `yaml:"addr"`

	// PublicURL is the externally visible origin, used as the OAuth
	// redirect target.
	PublicURL string `yaml:"public_url"`

	Supabase SupabaseConfig `yaml:"supabase"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SupabaseConfig points at the hosted backend.
type SupabaseConfig struct {
	URL          string `yaml:"url"`
	AnonKey      string `yaml:"anon_key"`
	Bucket       string `yaml:"bucket"`
	PostsRPC     string `yaml:"posts_rpc"`
	AuthProvider string `yaml:"auth_provider"`
}

// SessionConfig configures the local visitor session store.
type SessionConfig struct {
	DBPath string `yaml:"db_path"`
	Secret string `yaml:"secret"`
	MaxAge string `yaml:"max_age"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:      ":8080",
		PublicURL: "http://localhost:8080",
		Supabase: SupabaseConfig{
			Bucket:       "post-images",
			PostsRPC:     "get_posts_with_counts",
			AuthProvider: "github",
		},
		Session: SessionConfig{
			DBPath: "./data/nexora.db",
			MaxAge: "720h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path (when it exists) over the defaults and then applies the
// environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("SUPABASE_URL"); v != "" {
		c.Supabase.URL = v
	}
	if v := getenv("SUPABASE_ANON_KEY"); v != "" {
		c.Supabase.AnonKey = v
	}
	if v := getenv("NEXORA_PUBLIC_URL"); v != "" {
		c.PublicURL = v
	}
	if v := getenv("NEXORA_SESSION_SECRET"); v != "" {
		c.Session.Secret = v
	}
	if v := getenv("NEXORA_DB_PATH"); v != "" {
		c.Session.DBPath = v
	}
	if v := getenv("NEXORA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if p := getenv("PORT"); p != "" {
		c.Addr = ":" + p
	}
}

// Validate reports every missing or malformed setting at once, so a bad
// start shows the whole list.
func (c *Config) Validate() error {
	var problems []string
	if c.Supabase.URL == "" {
		problems = append(problems, "SUPABASE_URL is missing (set it or supabase.url)")
	} else if !strings.HasPrefix(c.Supabase.URL, "http://") && !strings.HasPrefix(c.Supabase.URL, "https://") {
		problems = append(problems, "SUPABASE_URL must be an http(s) URL")
	}
	if c.Supabase.AnonKey == "" {
		problems = append(problems, "SUPABASE_ANON_KEY is missing (set it or supabase.anon_key)")
	}
	if len(c.Session.Secret) < 16 {
		problems = append(problems, "NEXORA_SESSION_SECRET must be at least 16 characters")
	}
	if _, err := c.SessionMaxAge(); err != nil {
		problems = append(problems, "session.max_age: "+err.Error())
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}

func (c *Config) SessionMaxAge() (time.Duration, error) {
	if c.Session.MaxAge == "" {
		return 30 * 24 * time.Hour, nil
	}
	return time.ParseDuration(c.Session.MaxAge)
}

// RedirectURL is where the auth provider sends visitors back to.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/auth/callback"
}

// Package config loads the celebwire YAML configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	API         API         `yaml:"api"`
	Credentials Credentials `yaml:"credentials"`
	Fetch       Fetch       `yaml:"fetch"`
	Cache       Cache       `yaml:"cache"`
	Redis       Redis       `yaml:"redis"`
	Storage     Storage     `yaml:"storage"`
	Roster      []Entity    `yaml:"roster"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
}

// Duration is a time.Duration that unmarshals from YAML strings
// such as "30m" or "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type API struct {
	BaseURL  string   `yaml:"base_url"`
	Timeout  Duration `yaml:"timeout"`
	PageSize int      `yaml:"page_size"`
	Language string   `yaml:"language"`
}

type Credentials struct {
	Keys    []string `yaml:"keys"`
	KeysEnv string   `yaml:"keys_env"`
}

type Fetch struct {
	BatchSize        int      `yaml:"batch_size"`
	Interval         Duration `yaml:"interval"`
	MaxRetries       int      `yaml:"max_retries"`
	InitialBackoff   Duration `yaml:"initial_backoff"`
	AdvanceOnFailure bool     `yaml:"advance_on_failure"`
}

type Cache struct {
	ListTTL       Duration `yaml:"list_ttl"`
	TrendingTTL   Duration `yaml:"trending_ttl"`
	StatisticsTTL Duration `yaml:"statistics_ttl"`
}

type Redis struct {
	Addr        string `yaml:"addr"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
}

type Storage struct {
	Path string `yaml:"path"`
}

type Entity struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Active   *bool    `yaml:"active"`
	Priority int      `yaml:"priority"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ConfigDir returns the XDG config directory for celebwire.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "celebwire")
}

// DataDir returns the XDG data directory for celebwire.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "celebwire")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/celebwire/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'celebwired init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		API: API{
			BaseURL:  "https://newsapi.org/v2",
			Timeout:  Duration(10 * time.Second),
			PageSize: 100,
			Language: "en",
		},
		Fetch: Fetch{
			BatchSize:        25,
			Interval:         Duration(30 * time.Minute),
			MaxRetries:       3,
			InitialBackoff:   Duration(time.Second),
			AdvanceOnFailure: true,
		},
		Cache: Cache{
			ListTTL:       Duration(5 * time.Minute),
			TrendingTTL:   Duration(15 * time.Minute),
			StatisticsTTL: Duration(time.Hour),
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Credentials: Credentials{
			KeysEnv: "CELEBWIRE_API_KEYS",
		},
		Server:  Server{Port: 8080},
		Logging: Logging{Level: "info"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Fetch.BatchSize <= 0 {
		return fmt.Errorf("fetch.batch_size must be positive, got %d", c.Fetch.BatchSize)
	}
	if c.Fetch.Interval <= 0 {
		return fmt.Errorf("fetch.interval must be positive, got %v", c.Fetch.Interval)
	}
	seen := make(map[string]bool, len(c.Roster))
	for _, e := range c.Roster {
		if e.ID == "" || e.Name == "" {
			return fmt.Errorf("roster entry %q missing id or name", e.Name)
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate roster entry %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// APIKeys resolves the credential secrets. Keys from the environment
// variable named by credentials.keys_env take precedence over keys
// listed in the file, so secrets never have to live on disk.
func (c *Config) APIKeys() []string {
	if c.Credentials.KeysEnv != "" {
		if raw := os.Getenv(c.Credentials.KeysEnv); raw != "" {
			var keys []string
			for _, k := range strings.Split(raw, ",") {
				if k = strings.TrimSpace(k); k != "" {
					keys = append(keys, k)
				}
			}
			return keys
		}
	}
	return c.Credentials.Keys
}

// RedisPassword resolves the Redis password from the configured
// environment variable, empty when unset.
func (c *Config) RedisPassword() string {
	if c.Redis.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Redis.PasswordEnv)
}

// StoragePath returns the effective SQLite path from config or the XDG default.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(DataDir(), "celebwire.db")
}

// IsActive reports whether a roster entry should be fetched.
// Entries default to active when the flag is omitted.
func (e Entity) IsActive() bool {
	return e.Active == nil || *e.Active
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

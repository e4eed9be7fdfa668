// Package config loads the quotebook CLI configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/warp/quotebook/quote"
)

// ServerEnv overrides Remote.BaseURL when set.
const ServerEnv = "QUOTEBOOK_SERVER"

// Config holds all quotebook CLI configuration.
type Config struct {
	General GeneralConfig `toml:"general"`
	Remote  RemoteConfig  `toml:"remote"`
	Cache   CacheConfig   `toml:"cache"`
	Company CompanyConfig `toml:"company"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	DataDir   string `toml:"data_dir,omitempty"`
	ListLimit int    `toml:"list_limit"`
}

// RemoteConfig holds document server settings.
type RemoteConfig struct {
	BaseURL       string   `toml:"base_url"`
	Timeout       Duration `toml:"timeout"`
	ProbeInterval Duration `toml:"probe_interval"`
}

// CacheConfig holds read-through cache settings.
type CacheConfig struct {
	TTL Duration `toml:"ttl"`
}

// CompanyConfig seeds the company snapshot for new quotes.
type CompanyConfig struct {
	Name    string `toml:"nome,omitempty"`
	TaxID   string `toml:"cnpj,omitempty"`
	Phone   string `toml:"telefone,omitempty"`
	Email   string `toml:"email,omitempty"`
	Address string `toml:"endereco,omitempty"`
}

// Quote converts the config block into the domain type.
func (c CompanyConfig) Quote() quote.Company {
	return quote.Company{Name: c.Name, TaxID: c.TaxID, Phone: c.Phone, Email: c.Email, Address: c.Address}
}

// Duration is a time.Duration written as "5m" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			ListLimit: quote.DefaultListLimit,
		},
		Remote: RemoteConfig{
			BaseURL:       "http://localhost:8080",
			Timeout:       Duration{10 * time.Second},
			ProbeInterval: Duration{30 * time.Second},
		},
		Cache: CacheConfig{
			TTL: Duration{quote.DefaultCacheTTL},
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "quotebook")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "quotebook")
}

// Path returns the full path to the config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config at path, returning defaults if it doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.General.ListLimit <= 0 {
		cfg.General.ListLimit = quote.DefaultListLimit
	}

	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	return SaveTo(Path(), cfg)
}

// SaveTo writes the config to path.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(Path())
	return err == nil
}

// ServerURL returns the server address from env var or config, in that order.
func ServerURL(cfg Config) string {
	if u := os.Getenv(ServerEnv); u != "" {
		return u
	}
	return cfg.Remote.BaseURL
}

// DataDir returns where the local database lives.
func DataDir(cfg Config) string {
	if cfg.General.DataDir != "" {
		return cfg.General.DataDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "quotebook")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "quotebook")
}

// DatabasePath returns the local SQLite file path.
func DatabasePath(cfg Config) string {
	return filepath.Join(DataDir(cfg), "quotebook.db")
}

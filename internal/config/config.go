// Package config loads the settings shared by goanime-api and goanime-web.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alvarorichard/goanime-server/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "GOANIME"

var ErrInvalid = errors.New("invalid configuration")

// Config holds all server configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Web      WebConfig      `mapstructure:"web"`
}

// ServerConfig configures the API listener
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// SourceConfig describes the scraped site
type SourceConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// CacheConfig selects the video link cache backend
type CacheConfig struct {
	Backend string `mapstructure:"backend"` // "json" or "sqlite"
	Path    string `mapstructure:"path"`
}

// ResolverConfig holds the headless browser settings
type ResolverConfig struct {
	PlayButtonSelector string        `mapstructure:"play_button_selector"`
	VideoSelector      string        `mapstructure:"video_selector"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	PlayButtonTimeout  time.Duration `mapstructure:"play_button_timeout"`
	VideoTimeout       time.Duration `mapstructure:"video_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	Timeout            time.Duration `mapstructure:"timeout"` // whole resolution, shared by coalesced callers
	Install            bool          `mapstructure:"install"`
	Headless           bool          `mapstructure:"headless"`
	ExecutablePath     string        `mapstructure:"executable_path"`
}

// StreamConfig configures the media relay
type StreamConfig struct {
	Referer               string        `mapstructure:"referer"`
	ChunkSize             int           `mapstructure:"chunk_size"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
}

// ScraperConfig paces and caches catalogue scraping
type ScraperConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	LatestTTL         time.Duration `mapstructure:"latest_ttl"`
	CatalogTTL        time.Duration `mapstructure:"catalog_ttl"`
	SearchTTL         time.Duration `mapstructure:"search_ttl"`
	ProfileTTL        time.Duration `mapstructure:"profile_ttl"`
}

// WebConfig configures the presentation process
type WebConfig struct {
	Addr         string        `mapstructure:"addr"`
	APIURL       string        `mapstructure:"api_url"`        // used server side
	PublicAPIURL string        `mapstructure:"public_api_url"` // used in pages served to browsers
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:5001",
			CORSOrigins:       []string{"*"},
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Source: SourceConfig{
			BaseURL:   "https://animefire.plus",
			UserAgent: util.UserAgent,
		},
		Cache: CacheConfig{
			Backend: "json",
			Path:    "video_link_cache.json",
		},
		Resolver: ResolverConfig{
			PlayButtonSelector: ".vjs-big-play-button",
			VideoSelector:      "#my-video_html5_api",
			NavigationTimeout:  30 * time.Second,
			PlayButtonTimeout:  15 * time.Second,
			VideoTimeout:       10 * time.Second,
			SettleDelay:        2 * time.Second,
			Timeout:            60 * time.Second,
			Headless:           true,
		},
		Stream: StreamConfig{
			Referer:               "https://animefire.plus/",
			ChunkSize:             8192,
			DialTimeout:           10 * time.Second,
			ResponseHeaderTimeout: 20 * time.Second,
			IdleTimeout:           30 * time.Second,
		},
		Scraper: ScraperConfig{
			RequestsPerSecond: 2,
			Burst:             4,
			LatestTTL:         5 * time.Minute,
			CatalogTTL:        30 * time.Minute,
			SearchTTL:         2 * time.Minute,
			ProfileTTL:        10 * time.Minute,
		},
		Web: WebConfig{
			Addr:         "127.0.0.1:5000",
			APIURL:       "http://127.0.0.1:5001",
			PublicAPIURL: "http://127.0.0.1:5001",
			Timeout:      90 * time.Second,
		},
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "goanime")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "goanime")
	}
}

// Load reads configuration from file (explicit path, or goanime.yaml in the
// working directory or the user config directory) and GOANIME_* environment
// variables, on top of DefaultConfig.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("goanime")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigPath())
	}

	// GOANIME_SERVER_ADDR overrides server.addr
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "error reading config file")
		}
	} else {
		util.Debug("Loaded config file", "path", v.ConfigFileUsed())
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override nested values.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("source.base_url", d.Source.BaseURL)
	v.SetDefault("source.user_agent", d.Source.UserAgent)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.path", d.Cache.Path)

	v.SetDefault("resolver.play_button_selector", d.Resolver.PlayButtonSelector)
	v.SetDefault("resolver.video_selector", d.Resolver.VideoSelector)
	v.SetDefault("resolver.navigation_timeout", d.Resolver.NavigationTimeout)
	v.SetDefault("resolver.play_button_timeout", d.Resolver.PlayButtonTimeout)
	v.SetDefault("resolver.video_timeout", d.Resolver.VideoTimeout)
	v.SetDefault("resolver.settle_delay", d.Resolver.SettleDelay)
	v.SetDefault("resolver.timeout", d.Resolver.Timeout)
	v.SetDefault("resolver.install", d.Resolver.Install)
	v.SetDefault("resolver.headless", d.Resolver.Headless)
	v.SetDefault("resolver.executable_path", d.Resolver.ExecutablePath)

	v.SetDefault("stream.referer", d.Stream.Referer)
	v.SetDefault("stream.chunk_size", d.Stream.ChunkSize)
	v.SetDefault("stream.dial_timeout", d.Stream.DialTimeout)
	v.SetDefault("stream.response_header_timeout", d.Stream.ResponseHeaderTimeout)
	v.SetDefault("stream.idle_timeout", d.Stream.IdleTimeout)

	v.SetDefault("scraper.requests_per_second", d.Scraper.RequestsPerSecond)
	v.SetDefault("scraper.burst", d.Scraper.Burst)
	v.SetDefault("scraper.latest_ttl", d.Scraper.LatestTTL)
	v.SetDefault("scraper.catalog_ttl", d.Scraper.CatalogTTL)
	v.SetDefault("scraper.search_ttl", d.Scraper.SearchTTL)
	v.SetDefault("scraper.profile_ttl", d.Scraper.ProfileTTL)

	v.SetDefault("web.addr", d.Web.Addr)
	v.SetDefault("web.api_url", d.Web.APIURL)
	v.SetDefault("web.public_api_url", d.Web.PublicAPIURL)
	v.SetDefault("web.timeout", d.Web.Timeout)
}

// Validate rejects settings the servers cannot run with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Server.Addr != "", "server.addr is empty")
	check(c.Source.BaseURL != "", "source.base_url is empty")
	check(c.Cache.Path != "", "cache.path is empty")
	check(c.Cache.Backend == "json" || c.Cache.Backend == "sqlite", "cache.backend must be json or sqlite")
	check(c.Resolver.NavigationTimeout > 0, "resolver.navigation_timeout must be positive")
	check(c.Resolver.PlayButtonTimeout > 0, "resolver.play_button_timeout must be positive")
	check(c.Resolver.VideoTimeout > 0, "resolver.video_timeout must be positive")
	check(c.Resolver.SettleDelay >= 0, "resolver.settle_delay must not be negative")
	check(c.Resolver.Timeout > 0, "resolver.timeout must be positive")
	check(c.Stream.ChunkSize > 0, "stream.chunk_size must be positive")
	check(c.Stream.DialTimeout > 0, "stream.dial_timeout must be positive")
	check(c.Stream.ResponseHeaderTimeout > 0, "stream.response_header_timeout must be positive")
	check(c.Stream.IdleTimeout > 0, "stream.idle_timeout must be positive")
	check(c.Scraper.RequestsPerSecond >= 0, "scraper.requests_per_second must not be negative")
	check(c.Web.APIURL != "", "web.api_url is empty")

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

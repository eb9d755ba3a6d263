package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCacheTTL        = 24 * time.Hour
	DefaultRefreshInterval = 12 * time.Hour
	DefaultRefreshBackoff  = 1 * time.Hour
	DefaultRealtimeTTL     = 1 * time.Minute
	DefaultRealtimeTimeout = 30 * time.Second
	DefaultStaticTimeout   = 5 * time.Minute
	DefaultRealtimeMaxSize = 1 << 20   // 1 MB
	DefaultStaticMaxSize   = 800 << 20 // 800 MB

	// Entity scan ceiling for the realtime join, applied once a
	// feed crosses the large-feed threshold. Tuned empirically on
	// the German country-wide feed; override per provider.
	DefaultMaxScanEntities    = 100000
	DefaultLargeFeedThreshold = 50000

	DefaultChunkSize      = 64 << 10
	DefaultLargeChunkSize = 256 << 10
)

// Duration wraps time.Duration so YAML configs can say "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Provider describes one upstream feed pair.
type Provider struct {
	StaticURL   string `yaml:"static_url" validate:"required,url"`
	RealtimeURL string `yaml:"realtime_url" validate:"omitempty,url"`

	// LargeFeed switches the download to bigger chunks and a
	// longer timeout, and keeps the entity scan ceiling armed.
	LargeFeed bool `yaml:"large_feed"`

	StaticTimeout   Duration `yaml:"static_timeout"`
	RealtimeTimeout Duration `yaml:"realtime_timeout"`
	ChunkSize       int      `yaml:"chunk_size"`

	MaxScanEntities    int `yaml:"max_scan_entities"`
	LargeFeedThreshold int `yaml:"large_feed_threshold"`
}

type Config struct {
	CacheDir string `yaml:"cache_dir" validate:"required"`

	// CacheTTL is how long a downloaded static archive stays
	// fresh before a refresh is due.
	CacheTTL        Duration `yaml:"cache_ttl"`
	RefreshInterval Duration `yaml:"refresh_interval"`
	RefreshBackoff  Duration `yaml:"refresh_backoff"`
	RealtimeTTL     Duration `yaml:"realtime_ttl"`

	RealtimeMaxSize int64 `yaml:"realtime_max_size"`
	StaticMaxSize   int64 `yaml:"static_max_size"`

	Providers map[string]Provider `yaml:"providers" validate:"required,dive"`
}

// Default returns the built-in configuration, carrying the two
// providers this started out with. gtfs_de serves the aggregated
// Germany-wide dump, which is why it gets the large-feed treatment.
func Default() *Config {
	cfg := &Config{
		CacheDir:        defaultCacheDir(),
		CacheTTL:        Duration(DefaultCacheTTL),
		RefreshInterval: Duration(DefaultRefreshInterval),
		RefreshBackoff:  Duration(DefaultRefreshBackoff),
		RealtimeTTL:     Duration(DefaultRealtimeTTL),
		RealtimeMaxSize: DefaultRealtimeMaxSize,
		StaticMaxSize:   DefaultStaticMaxSize,
		Providers: map[string]Provider{
			"gtfs_de": {
				StaticURL:     "https://download.gtfs.de/germany/free/latest.zip",
				RealtimeURL:   "https://realtime.gtfs.de/realtime-free.pb",
				LargeFeed:     true,
				StaticTimeout: Duration(10 * time.Minute),
				ChunkSize:     DefaultLargeChunkSize,
			},
			"nta_ie": {
				StaticURL:   "https://www.transportforireland.ie/transitData/Data/GTFS_All.zip",
				RealtimeURL: "https://api.nationaltransport.ie/gtfsr/v2/gtfsr?format=pb",
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config from path, layered over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CacheTTL == 0 {
		c.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(DefaultRefreshInterval)
	}
	if c.RefreshBackoff == 0 {
		c.RefreshBackoff = Duration(DefaultRefreshBackoff)
	}
	if c.RealtimeTTL == 0 {
		c.RealtimeTTL = Duration(DefaultRealtimeTTL)
	}
	if c.RealtimeMaxSize == 0 {
		c.RealtimeMaxSize = DefaultRealtimeMaxSize
	}
	if c.StaticMaxSize == 0 {
		c.StaticMaxSize = DefaultStaticMaxSize
	}

	for id, p := range c.Providers {
		if p.StaticTimeout == 0 {
			p.StaticTimeout = Duration(DefaultStaticTimeout)
		}
		if p.RealtimeTimeout == 0 {
			p.RealtimeTimeout = Duration(DefaultRealtimeTimeout)
		}
		if p.ChunkSize == 0 {
			if p.LargeFeed {
				p.ChunkSize = DefaultLargeChunkSize
			} else {
				p.ChunkSize = DefaultChunkSize
			}
		}
		if p.MaxScanEntities == 0 {
			p.MaxScanEntities = DefaultMaxScanEntities
		}
		if p.LargeFeedThreshold == 0 {
			p.LargeFeedThreshold = DefaultLargeFeedThreshold
		}
		c.Providers[id] = p
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/gtfscache"
	}
	return ".gtfscache"
}

package model

import "time"

// Config is the complete rankme configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Throttle ThrottleConfig `yaml:"throttle" mapstructure:"throttle"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Core     CoreConfig     `yaml:"core" mapstructure:"core"`
	SJR      SJRConfig      `yaml:"sjr" mapstructure:"sjr"`
	DBLP     DBLPConfig     `yaml:"dblp" mapstructure:"dblp"`
	Importer ImporterConfig `yaml:"importer" mapstructure:"importer"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures the zerolog logger
type LogConfig struct {
	Level         string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format        string `yaml:"format" mapstructure:"format"` // json, pretty
	FileEnabled   bool   `yaml:"file_enabled" mapstructure:"file_enabled"`
	Dir           string `yaml:"dir" mapstructure:"dir"`
	MaxSizeMB     int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// HTTPConfig configures outbound HTTP requests
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// ThrottleConfig configures per-host request scheduling
type ThrottleConfig struct {
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after" mapstructure:"default_retry_after"`
	// DefaultConcurrency applies to hosts that match no rule.
	DefaultConcurrency int          `yaml:"default_concurrency" mapstructure:"default_concurrency"`
	Hosts              []HostConfig `yaml:"hosts" mapstructure:"hosts"`
}

// HostConfig is a scheduling rule for upstream hosts whose name contains Match.
type HostConfig struct {
	Match       string        `yaml:"match" mapstructure:"match"`
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
}

// CacheConfig selects and tunes the cache backend
type CacheConfig struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"` // memory, disk, redis, layered
	Dir             string        `yaml:"dir" mapstructure:"dir"`
	RedisURL        string        `yaml:"redis_url,omitempty" mapstructure:"redis_url"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
	VenueTTL        time.Duration `yaml:"venue_ttl" mapstructure:"venue_ttl"`
	RankTTL         time.Duration `yaml:"rank_ttl" mapstructure:"rank_ttl"`
	SourcesTTL      time.Duration `yaml:"sources_ttl" mapstructure:"sources_ttl"`
	AuthorTTL       time.Duration `yaml:"author_ttl" mapstructure:"author_ttl"`
	UnavailableTTL  time.Duration `yaml:"unavailable_ttl" mapstructure:"unavailable_ttl"`
}

// StoreConfig selects the authoritative venue store
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, memory
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// CoreConfig configures the CORE conference ranking source
type CoreConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	MaxDistance int    `yaml:"max_distance" mapstructure:"max_distance"` // -1 disables the cut-off
}

// SJRConfig configures the SCImago journal ranking source
type SJRConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	MinYear     int    `yaml:"min_year" mapstructure:"min_year"`
	MaxYear     int    `yaml:"max_year" mapstructure:"max_year"`
	MaxDistance int    `yaml:"max_distance" mapstructure:"max_distance"`
}

// DBLPConfig configures the bibliographic metadata source
type DBLPConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ImporterConfig tunes the bulk venue importer
type ImporterConfig struct {
	Workers   int `yaml:"workers" mapstructure:"workers"`
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Log: LogConfig{
			Level:         "info",
			Format:        "pretty",
			Dir:           "logs",
			MaxSizeMB:     50,
			RetentionDays: 14,
		},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "rankme/0.3 (+https://github.com/ppiankov/rankme)",
			MaxBodyBytes: 64 << 20,
		},
		Throttle: ThrottleConfig{
			MaxRetries:         5,
			DefaultRetryAfter:  60 * time.Second,
			DefaultConcurrency: 16,
			Hosts: []HostConfig{
				{Match: "dblp.org", Concurrency: 1, Interval: 500 * time.Millisecond},
				{Match: "portal.core.edu.au", Concurrency: 1, Interval: time.Second},
				{Match: "scimagojr.com", Concurrency: 1, Interval: time.Second},
			},
		},
		Cache: CacheConfig{
			Backend:         "memory",
			Dir:             ".rankme-cache",
			CleanupInterval: 10 * time.Minute,
			VenueTTL:        0,
			RankTTL:         7 * 24 * time.Hour,
			SourcesTTL:      24 * time.Hour,
			AuthorTTL:       time.Hour,
			UnavailableTTL:  time.Hour,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "rankme.db",
		},
		Core: CoreConfig{
			BaseURL:     "http://portal.core.edu.au/conf-ranks",
			MaxDistance: -1,
		},
		SJR: SJRConfig{
			BaseURL:     "https://www.scimagojr.com/journalrank.php",
			MinYear:     1999,
			MaxYear:     2022,
			MaxDistance: 3,
		},
		DBLP: DBLPConfig{
			BaseURL: "https://dblp.org",
		},
		Importer: ImporterConfig{
			Workers:   4,
			BatchSize: 100,
		},
	}
}

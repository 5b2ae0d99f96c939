package figrnet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the client options. Durations use
// time.ParseDuration syntax and sizes humanize syntax ("8MB", "512KiB").
type Config struct {
	BaseURL   string            `yaml:"base_url" toml:"base_url"`
	Timeout   string            `yaml:"timeout" toml:"timeout"`
	UserAgent string            `yaml:"user_agent" toml:"user_agent"`
	Headers   map[string]string `yaml:"headers" toml:"headers"`

	Auth struct {
		RefreshPath string `yaml:"refresh_path" toml:"refresh_path"`
		AccessToken string `yaml:"access_token" toml:"access_token"`
		// RefreshToken seeds the token store; usually left empty and
		// supplied at runtime.
		RefreshToken string `yaml:"refresh_token" toml:"refresh_token"`
	} `yaml:"auth" toml:"auth"`

	Cache struct {
		MaxSize       string `yaml:"max_size" toml:"max_size"`
		SweepInterval string `yaml:"sweep_interval" toml:"sweep_interval"`
		StaleGrace    string `yaml:"stale_grace" toml:"stale_grace"`
	} `yaml:"cache" toml:"cache"`

	CircuitBreaker struct {
		FailureThreshold int    `yaml:"failure_threshold" toml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold" toml:"success_threshold"`
		MinimumRequests  int    `yaml:"minimum_requests" toml:"minimum_requests"`
		RecoveryTimeout  string `yaml:"recovery_timeout" toml:"recovery_timeout"`
		Window           string `yaml:"window" toml:"window"`
	} `yaml:"circuit_breaker" toml:"circuit_breaker"`

	RateLimit struct {
		Burst int    `yaml:"burst" toml:"burst"`
		Every string `yaml:"every" toml:"every"`
		// Endpoints maps breaker keys ("GET /items") to their own limit.
		Endpoints map[string]struct {
			Burst int    `yaml:"burst" toml:"burst"`
			Every string `yaml:"every" toml:"every"`
		} `yaml:"endpoints" toml:"endpoints"`
	} `yaml:"rate_limit" toml:"rate_limit"`

	Queue struct {
		Disabled bool `yaml:"disabled" toml:"disabled"`
		Limit    int  `yaml:"limit" toml:"limit"`
		Retries  int  `yaml:"retries" toml:"retries"`
		// Store is "memory", "file" or "leveldb".
		Store    string `yaml:"store" toml:"store"`
		Path     string `yaml:"path" toml:"path"`
		Interval string `yaml:"interval" toml:"interval"`
	} `yaml:"queue" toml:"queue"`

	Connectivity struct {
		ProbeURL string `yaml:"probe_url" toml:"probe_url"`
		Interval string `yaml:"interval" toml:"interval"`
	} `yaml:"connectivity" toml:"connectivity"`

	Debug   bool `yaml:"debug" toml:"debug"`
	Metrics bool `yaml:"metrics" toml:"metrics"`
}

// LoadConfig reads a YAML or TOML config file, chosen by extension.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}
	if _, err := cfg.Options(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Options converts the config into client options. The queue store is
// not included; NewFromConfig opens it.
func (cfg Config) Options() ([]Option, error) {
	var opts []Option

	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	if d, err := parseDuration("timeout", cfg.Timeout); err != nil {
		return nil, err
	} else if d > 0 {
		opts = append(opts, WithTimeout(d))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, WithUserAgent(cfg.UserAgent))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, WithDefaultHeader(k, v))
	}
	if cfg.Auth.RefreshPath != "" {
		opts = append(opts, WithRefreshEndpoint(cfg.Auth.RefreshPath))
	}
	if cfg.Auth.AccessToken != "" || cfg.Auth.RefreshToken != "" {
		opts = append(opts, WithTokenStore(NewMemoryTokenStore(Token{
			AccessToken:  cfg.Auth.AccessToken,
			RefreshToken: cfg.Auth.RefreshToken,
		})))
	}

	if cfg.Cache.MaxSize != "" {
		n, err := humanize.ParseBytes(cfg.Cache.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("cache.max_size: %w", err)
		}
		opts = append(opts, WithCacheSize(int64(n)))
	}
	if d, err := parseDuration("cache.sweep_interval", cfg.Cache.SweepInterval); err != nil {
		return nil, err
	} else if d > 0 {
		opts = append(opts, WithCacheSweepInterval(d))
	}
	if d, err := parseDuration("cache.stale_grace", cfg.Cache.StaleGrace); err != nil {
		return nil, err
	} else if d > 0 {
		opts = append(opts, WithStaleGrace(d))
	}

	cb := cfg.CircuitBreaker
	if cb.FailureThreshold > 0 || cb.SuccessThreshold > 0 || cb.MinimumRequests > 0 || cb.RecoveryTimeout != "" || cb.Window != "" {
		bc := DefaultCircuitBreakerConfig()
		if cb.FailureThreshold > 0 {
			bc.FailureThreshold = cb.FailureThreshold
		}
		if cb.SuccessThreshold > 0 {
			bc.SuccessThreshold = cb.SuccessThreshold
		}
		if cb.MinimumRequests > 0 {
			bc.MinimumRequests = cb.MinimumRequests
		}
		if d, err := parseDuration("circuit_breaker.recovery_timeout", cb.RecoveryTimeout); err != nil {
			return nil, err
		} else if d > 0 {
			bc.RecoveryTimeout = d
		}
		if d, err := parseDuration("circuit_breaker.window", cb.Window); err != nil {
			return nil, err
		} else if d > 0 {
			bc.Window = d
		}
		opts = append(opts, WithCircuitBreaker(bc))
	}

	if cfg.RateLimit.Burst > 0 {
		d, err := parseDuration("rate_limit.every", cfg.RateLimit.Every)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRateLimit(cfg.RateLimit.Burst, d))
	}
	for key, l := range cfg.RateLimit.Endpoints {
		d, err := parseDuration("rate_limit.endpoints."+key, l.Every)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithEndpointRateLimit(key, l.Burst, d))
	}

	if cfg.Queue.Disabled {
		opts = append(opts, WithoutOfflineQueue())
	} else {
		if cfg.Queue.Limit > 0 {
			opts = append(opts, WithQueueLimit(cfg.Queue.Limit))
		}
		if cfg.Queue.Retries > 0 {
			opts = append(opts, WithQueueRetries(cfg.Queue.Retries))
		}
		if d, err := parseDuration("queue.interval", cfg.Queue.Interval); err != nil {
			return nil, err
		} else if d > 0 {
			opts = append(opts, WithQueueProcessInterval(d))
		}
		switch cfg.Queue.Store {
		case "", "memory":
		case "file", "leveldb":
			if cfg.Queue.Path == "" {
				return nil, fmt.Errorf("queue.path is required for the %s store", cfg.Queue.Store)
			}
		default:
			return nil, fmt.Errorf("queue.store: unknown store %q", cfg.Queue.Store)
		}
	}
	if cfg.Connectivity.ProbeURL != "" {
		d, err := parseDuration("connectivity.interval", cfg.Connectivity.Interval)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithConnectivityProbe(cfg.Connectivity.ProbeURL, d))
	}

	if cfg.Debug {
		opts = append(opts, WithDebug())
	}
	if cfg.Metrics {
		opts = append(opts, WithMetrics())
	}
	return opts, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", field)
	}
	return d, nil
}

// NewFromConfig builds a client from cfg, opening the configured queue
// store. extra options are applied last.
func NewFromConfig(cfg Config, extra ...Option) (*Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	if !cfg.Queue.Disabled {
		switch cfg.Queue.Store {
		case "file":
			opts = append(opts, WithQueuePersistence(NewFileQueueStore(cfg.Queue.Path)))
		case "leveldb":
			store, err := OpenLevelDBQueueStore(cfg.Queue.Path)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithQueuePersistence(store))
		}
	}

	opts = append(opts, extra...)
	c := New(opts...)
	if !c.IsValid() {
		err := c.ValidationError()
		if cerr := c.Close(); cerr != nil {
			c.logger.Warn("Closing invalid client failed", "error", cerr)
		}
		return nil, err
	}
	return c, nil
}

// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers.
const (
	StorageDriverMemory = "memory"
	StorageDriverSQLite = "sqlite"
)

// Resolver backends.
const (
	ResolverBackendYouTube = "youtube"
	ResolverBackendYTdlp   = "ytdlp"
	ResolverBackendMock    = "mock"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Job        Job
	Storage    Storage
	Resolver   Resolver
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"TUBEFETCH_APP_LOG_LEVEL" envDefault:"info"`
}

// Job holds download job configuration.
type Job struct {
	// Timeout bounds a single background download. 0 disables the limit.
	Timeout time.Duration `env:"TUBEFETCH_JOB_TIMEOUT" envDefault:"30m"`
	// BufferSize is the size of a single stream read during a transfer.
	BufferSize int `env:"TUBEFETCH_JOB_BUFFER_SIZE" envDefault:"262144"`
	// WatchInterval is how often websocket watchers poll the store for changes.
	WatchInterval time.Duration `env:"TUBEFETCH_JOB_WATCH_INTERVAL" envDefault:"500ms"`
}

// Storage holds job store configuration.
type Storage struct {
	Driver string `env:"TUBEFETCH_STORAGE_DRIVER" envDefault:"memory"`
	// Path is the sqlite database file, used only by the sqlite driver.
	Path string `env:"TUBEFETCH_STORAGE_PATH" envDefault:"./data/tubefetch.db"`
	// TTL removes terminal jobs older than this. 0 keeps history until it is cleared.
	TTL             time.Duration `env:"TUBEFETCH_STORAGE_TTL"              envDefault:"0"`
	CleanupInterval time.Duration `env:"TUBEFETCH_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"TUBEFETCH_HTTP_PORT"             envDefault:":8080"`
	HandlerTimeout  time.Duration `env:"TUBEFETCH_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	DownloadTimeout time.Duration `env:"TUBEFETCH_HTTP_DOWNLOAD_TIMEOUT" envDefault:"30m"`
	ShutdownTimeout time.Duration `env:"TUBEFETCH_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Resolver holds video resolver configuration.
type Resolver struct {
	Backend string `env:"TUBEFETCH_RESOLVER_BACKEND" envDefault:"youtube"`
	// AllowedHosts is the supported host family. Subdomains of every entry are accepted.
	AllowedHosts []string      `env:"TUBEFETCH_RESOLVER_ALLOWED_HOSTS" envDefault:"youtube.com,youtu.be,youtube-nocookie.com" envSeparator:","` //nolint:lll
	Timeout      time.Duration `env:"TUBEFETCH_RESOLVER_TIMEOUT"       envDefault:"30s"`

	// yt-dlp backend only.
	CacheDir string `env:"TUBEFETCH_RESOLVER_CACHE_DIR" envDefault:"./data/cache"`
	// must contain cookies.txt file
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"TUBEFETCH_RESOLVER_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts resolver paths to absolute paths.
func (r *Resolver) SetAbsPaths() error {
	var err error
	if r.CacheDir, err = filepath.Abs(r.CacheDir); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}

	if r.CookieFile != "" {
		if r.CookieFile, err = filepath.Abs(r.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	err = cfg.Resolver.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set resolver absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	if cfg.Storage.Driver == StorageDriverSQLite {
		if cfg.Storage.Path, err = filepath.Abs(cfg.Storage.Path); err != nil {
			return nil, fmt.Errorf("storage path: %w", err)
		}
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverMemory, StorageDriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Resolver.Backend {
	case ResolverBackendYouTube, ResolverBackendYTdlp, ResolverBackendMock:
	default:
		return fmt.Errorf("unknown resolver backend %q", c.Resolver.Backend)
	}

	if c.Job.BufferSize <= 0 {
		return fmt.Errorf("job buffer size must be positive, got %d", c.Job.BufferSize)
	}

	if c.Job.WatchInterval <= 0 {
		return fmt.Errorf("job watch interval must be positive, got %s", c.Job.WatchInterval)
	}

	return nil
}

// DepManager holds binary dependency management configuration.
// Binaries are provisioned only for the yt-dlp resolver backend.
type DepManager struct {
	// BinsDir is the directory where binaries are stored
	BinsDir string `env:"TUBEFETCH_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries indicates whether to use system-installed binaries or download them.
	UseSystemBinaries bool `env:"TUBEFETCH_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"false"`
	// UpdateInterval is how often to check for binary updates
	UpdateInterval time.Duration `env:"TUBEFETCH_DEPMANAGER_UPDATE_INTERVAL" envDefault:"24h"`

	// yt-dlp binary URLs per platform.
	YTdlpSHA256SumsURL string `env:"TUBEFETCH_DEPMANAGER_YTDLP_SHA256SUMS_URL" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/SHA2-256SUMS"`      //nolint:lll
	YTdlpLinuxARM64    string `env:"TUBEFETCH_DEPMANAGER_YTDLP_LINUX_ARM64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"` //nolint:lll
	YTdlpLinuxAMD64    string `env:"TUBEFETCH_DEPMANAGER_YTDLP_LINUX_AMD64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`         //nolint:lll

	// deno is the javascript runtime yt-dlp needs to solve youtube player challenges.
	DenoSHA256SumsURL string `env:"TUBEFETCH_DEPMANAGER_DENO_SHA256SUMS_URL" envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip.sha256sum,https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip.sha256sum"` //nolint:lll
	DenoLinuxARM64    string `env:"TUBEFETCH_DEPMANAGER_DENO_LINUX_ARM64" envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip"`                                                                                                                    //nolint:lll
	DenoLinuxAMD64    string `env:"TUBEFETCH_DEPMANAGER_DENO_LINUX_AMD64" envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip"`                                                                                                                     //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for resolver and media requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs (http, https or socks5)
	List string `env:"TUBEFETCH_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"TUBEFETCH_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"TUBEFETCH_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"TUBEFETCH_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}

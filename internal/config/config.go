package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/xpostd/internal/poller"
	"github.com/blacktop/xpostd/internal/token"
	"github.com/blacktop/xpostd/internal/xpost/bluesky"
	"github.com/blacktop/xpostd/internal/xpost/facebook"
	"github.com/blacktop/xpostd/internal/xpost/graphapi"
	"github.com/blacktop/xpostd/internal/xpost/instagram"
	"github.com/blacktop/xpostd/internal/xpost/mastodon"
	"github.com/blacktop/xpostd/internal/xpost/twitter"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// Config holds all application configuration.
type Config struct {
	// HTTP
	Addr      string
	PublicURL string // base used to build media URLs
	MediaDir  string

	// Storage
	Store        string // "sqlite" or "mongo"
	DatabasePath string
	MongoURI     string
	MongoDB      string

	// Messaging
	NatsURL string

	// Logging
	LogLevel string
	LogFile  string

	// Provider calls
	HTTPTimeout  time.Duration
	PollInterval time.Duration
	PollAttempts int
	GraphURL     string

	Facebook  facebook.Config
	Twitter   twitter.Config
	Instagram instagram.Config
	YouTube   token.Config
	Mastodon  mastodon.Config
	Bluesky   bluesky.Config
}

// Load reads configuration from environment variables.
// It automatically loads .env file if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:         getEnv("XPOSTD_ADDR", ":8080"),
		PublicURL:    strings.TrimRight(getEnv("XPOSTD_PUBLIC_URL", "http://localhost:8080"), "/"),
		MediaDir:     getEnv("XPOSTD_MEDIA_DIR", "uploads"),
		Store:        strings.ToLower(getEnv("XPOSTD_STORE", StoreSQLite)),
		DatabasePath: getEnv("XPOSTD_DATABASE_PATH", "data/xpostd.db"),
		MongoURI:     getEnv("XPOSTD_MONGO_URI", ""),
		MongoDB:      getEnv("XPOSTD_MONGO_DB", "xpostd"),
		NatsURL:      getEnv("XPOSTD_NATS_URL", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
		GraphURL:     getEnv("XPOSTD_GRAPH_URL", graphapi.DefaultBaseURL),
	}

	var err error
	cfg.HTTPTimeout, err = time.ParseDuration(getEnv("XPOSTD_HTTP_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid XPOSTD_HTTP_TIMEOUT: %w", err)
	}

	cfg.PollInterval, err = time.ParseDuration(getEnv("XPOSTD_POLL_INTERVAL", poller.DefaultInterval.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid XPOSTD_POLL_INTERVAL: %w", err)
	}

	cfg.PollAttempts, err = strconv.Atoi(getEnv("XPOSTD_POLL_ATTEMPTS", strconv.Itoa(poller.DefaultMaxAttempts)))
	if err != nil {
		return nil, fmt.Errorf("invalid XPOSTD_POLL_ATTEMPTS: %w", err)
	}

	cfg.Facebook = facebook.Config{
		PageID:      getEnv("XPOSTD_FACEBOOK_PAGE_ID", ""),
		AccessToken: getEnv("XPOSTD_FACEBOOK_ACCESS_TOKEN", ""),
		GraphURL:    cfg.GraphURL,
		Timeout:     cfg.HTTPTimeout,
	}
	cfg.Twitter = twitter.Config{
		APIKey:       getEnv("XPOSTD_TWITTER_CONSUMER_KEY", ""),
		APISecret:    getEnv("XPOSTD_TWITTER_CONSUMER_SECRET", ""),
		AccessToken:  getEnv("XPOSTD_TWITTER_ACCESS_TOKEN", ""),
		AccessSecret: getEnv("XPOSTD_TWITTER_ACCESS_TOKEN_SECRET", ""),
		Timeout:      cfg.HTTPTimeout,
	}
	cfg.Instagram = instagram.Config{
		UserID:        getEnv("XPOSTD_INSTAGRAM_USER_ID", ""),
		AccessToken:   getEnv("XPOSTD_INSTAGRAM_ACCESS_TOKEN", ""),
		GraphURL:      cfg.GraphURL,
		Timeout:       cfg.HTTPTimeout,
		ServeAddr:     getEnv("XPOSTD_INSTAGRAM_SERVE_ADDR", ":8081"),
		PublicBaseURL: getEnv("XPOSTD_INSTAGRAM_PUBLIC_URL", ""),
		Poller:        &poller.Poller{Interval: cfg.PollInterval, MaxAttempts: cfg.PollAttempts},
	}
	cfg.YouTube = token.Config{
		ClientID:     getEnv("XPOSTD_YOUTUBE_CLIENT_ID", ""),
		ClientSecret: getEnv("XPOSTD_YOUTUBE_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("XPOSTD_YOUTUBE_REDIRECT_URL", cfg.PublicURL+"/oauth/youtube/callback"),
		RefreshToken: getEnv("XPOSTD_YOUTUBE_REFRESH_TOKEN", ""),
	}
	cfg.Mastodon = mastodon.Config{
		Server:       getEnv("XPOSTD_MASTODON_SERVER", ""),
		AccessToken:  getEnv("XPOSTD_MASTODON_ACCESS_TOKEN", ""),
		ClientID:     getEnv("XPOSTD_MASTODON_CLIENT_ID", ""),
		ClientSecret: getEnv("XPOSTD_MASTODON_CLIENT_SECRET", ""),
	}
	cfg.Bluesky = bluesky.Config{
		Handle:      getEnv("XPOSTD_BLUESKY_HANDLE", ""),
		AppPassword: getEnv("XPOSTD_BLUESKY_APP_PASSWORD", ""),
		PDSURL:      getEnv("XPOSTD_BLUESKY_PDS_URL", bluesky.DefaultPDSURL),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("XPOSTD_ADDR is required")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("XPOSTD_MEDIA_DIR is required")
	}
	switch c.Store {
	case StoreSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("XPOSTD_DATABASE_PATH is required for the sqlite store")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("XPOSTD_MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("invalid XPOSTD_STORE: %s (must be 'sqlite' or 'mongo')", c.Store)
	}
	if c.PollAttempts <= 0 {
		return fmt.Errorf("XPOSTD_POLL_ATTEMPTS must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("XPOSTD_POLL_INTERVAL must be positive")
	}
	// The Graph API fetches videos from outside, so the listener's own
	// address is never a usable default once Instagram is enabled.
	if len(c.Instagram.Missing()) == 0 && strings.TrimSpace(c.Instagram.PublicBaseURL) == "" {
		return fmt.Errorf("XPOSTD_INSTAGRAM_PUBLIC_URL is required when Instagram is configured")
	}
	return nil
}

// YouTubeConfigured reports whether the OAuth client is set up. The refresh
// token may still be missing; it can be obtained through the consent flow.
func (c *Config) YouTubeConfigured() bool {
	return c.YouTube.ClientID != "" && c.YouTube.ClientSecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

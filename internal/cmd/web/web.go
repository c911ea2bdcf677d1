// Package web wires configuration, storage, and the web server into a
// runnable process.
package web

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution/service"
	"github.com/handout-dev/handout/internal/platform/config"
	"github.com/handout-dev/handout/internal/services/web"
	"github.com/handout-dev/handout/internal/storage"
	bboltstore "github.com/handout-dev/handout/internal/storage/bbolt"
	sqlitestore "github.com/handout-dev/handout/internal/storage/sqlite"
)

const (
	defaultHTTPAddr     = "localhost:8080"
	defaultDriver       = "sqlite"
	defaultStoragePath  = "data/handout.db"
	defaultAuthorizeURL = "https://connect.linux.do/oauth2/authorize"
	defaultTokenURL     = "https://connect.linux.do/oauth2/token"
	defaultUserInfoURL  = "https://connect.linux.do/api/user"
	defaultCallbackURL  = "http://localhost:8080/oauth2/callback"
)

// Config holds the web command configuration.
type Config struct {
	HTTPAddr          string        `env:"HANDOUT_HTTP_ADDR"`
	StorageDriver     string        `env:"HANDOUT_STORAGE_DRIVER"`
	StoragePath       string        `env:"HANDOUT_STORAGE_PATH"`
	SessionTTL        time.Duration `env:"HANDOUT_SESSION_TTL"`
	SecureCookies     bool          `env:"HANDOUT_SECURE_COOKIES"`
	RestrictByAddress bool          `env:"HANDOUT_RESTRICT_BY_ADDRESS"`

	OAuthClientID     string `env:"HANDOUT_OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"HANDOUT_OAUTH_CLIENT_SECRET"`
	OAuthAuthorizeURL string `env:"HANDOUT_OAUTH_AUTHORIZE_URL"`
	OAuthTokenURL     string `env:"HANDOUT_OAUTH_TOKEN_URL"`
	OAuthUserInfoURL  string `env:"HANDOUT_OAUTH_USERINFO_URL"`
	OAuthCallbackURL  string `env:"HANDOUT_OAUTH_CALLBACK_URL"`
}

// ParseConfig loads environment defaults and parses flag overrides.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.StorageDriver, "storage-driver", cfg.StorageDriver, "storage backend: sqlite or bbolt")
	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "storage file path")
	fs.BoolVar(&cfg.SecureCookies, "secure-cookies", cfg.SecureCookies, "mark session cookies Secure")
	fs.BoolVar(&cfg.RestrictByAddress, "restrict-by-address", cfg.RestrictByAddress, "allow one claim per network address")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if strings.TrimSpace(cfg.StorageDriver) == "" {
		cfg.StorageDriver = defaultDriver
	}
	if strings.TrimSpace(cfg.StoragePath) == "" {
		cfg.StoragePath = defaultStoragePath
	}
	if strings.TrimSpace(cfg.OAuthAuthorizeURL) == "" {
		cfg.OAuthAuthorizeURL = defaultAuthorizeURL
	}
	if strings.TrimSpace(cfg.OAuthTokenURL) == "" {
		cfg.OAuthTokenURL = defaultTokenURL
	}
	if strings.TrimSpace(cfg.OAuthUserInfoURL) == "" {
		cfg.OAuthUserInfoURL = defaultUserInfoURL
	}
	if strings.TrimSpace(cfg.OAuthCallbackURL) == "" {
		cfg.OAuthCallbackURL = defaultCallbackURL
	}
}

// Run opens the store and serves web traffic until the context ends.
func Run(ctx context.Context, cfg Config) error {
	store, err := openStore(cfg.StorageDriver, cfg.StoragePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	ledger := service.NewLedger(store, store, cfg.RestrictByAddress)
	server, err := web.NewServer(web.Config{
		HTTPAddr:      cfg.HTTPAddr,
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: cfg.SecureCookies,
		OAuth: auth.OAuthConfig{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			AuthorizeURL: cfg.OAuthAuthorizeURL,
			TokenURL:     cfg.OAuthTokenURL,
			UserInfoURL:  cfg.OAuthUserInfoURL,
			CallbackURL:  cfg.OAuthCallbackURL,
		},
	}, ledger, store)
	if err != nil {
		return fmt.Errorf("init web server: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve web: %w", err)
	}
	return nil
}

func openStore(driver, path string) (storage.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		store, err := sqlitestore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "bbolt":
		store, err := bboltstore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open bbolt store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

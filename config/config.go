// Package config loads the gitlaber settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Token store modes
const (
	TokenStoreSession = "session"
	TokenStoreSecret  = "secret"
)

// Config contains the service configuration
type Config struct {
	// Port is the HTTP listen port
	Port int

	// GitLabURL is the GitLab instance root, e.g. https://gitlab.example.com
	GitLabURL string

	// APIPrefix is appended to GitLabURL to form the API root
	APIPrefix string

	// AppID and AppSecret are the GitLab OAuth application credentials
	AppID     string
	AppSecret string

	// SecretKey signs session cookies
	SecretKey string

	// RedirectURL is the OAuth callback; derived from the request when empty
	RedirectURL string

	// TimeoutSeconds bounds each GitLab API call
	TimeoutSeconds int

	// PageSize is the per_page value used for listings
	PageSize int

	// TokenStore is "session" or "secret"
	TokenStore string

	// Namespace holds the token Secret in secret mode
	Namespace string

	// Kubeconfig is used outside a cluster
	Kubeconfig string

	LogLevel  string
	LogFormat string

	// Token is the access token used by the CLI
	Token string

	// SessionTTLMinutes is the lifetime of a login session
	SessionTTLMinutes int
}

// Load reads .env when present and then the environment
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:              getEnvAsInt("PORT", 5000),
		GitLabURL:         strings.TrimSuffix(getEnv("GITLAB_URL", ""), "/"),
		APIPrefix:         getEnv("GITLAB_API_PREFIX", "/api/v3"),
		AppID:             getEnv("GITLAB_APP_ID", ""),
		AppSecret:         getEnv("GITLAB_APP_SECRET", ""),
		SecretKey:         getEnv("SECRET_KEY", ""),
		RedirectURL:       getEnv("OAUTH_REDIRECT_URL", ""),
		TimeoutSeconds:    getEnvAsInt("GITLAB_TIMEOUT_SECONDS", 15),
		PageSize:          getEnvAsInt("PAGE_SIZE", 20),
		TokenStore:        getEnv("TOKEN_STORE", TokenStoreSession),
		Namespace:         getEnv("NAMESPACE", "default"),
		Kubeconfig:        getEnv("KUBECONFIG", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		Token:             getEnv("GITLAB_TOKEN", ""),
		SessionTTLMinutes: getEnvAsInt("SESSION_TTL_MINUTES", 480),
	}
}

// APIURL returns the GitLab API root
func (c *Config) APIURL() string {
	return c.GitLabURL + c.APIPrefix
}

// Timeout returns the per-call timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SessionTTL returns the login session lifetime
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	var errs []error
	if c.GitLabURL == "" {
		errs = append(errs, errors.New("GITLAB_URL is required"))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize))
	}
	if c.TimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("GITLAB_TIMEOUT_SECONDS must be positive, got %d", c.TimeoutSeconds))
	}
	return errors.Join(errs...)
}

// ValidateServer additionally checks the settings of the HTTP surface
func (c *Config) ValidateServer() error {
	errs := []error{c.Validate()}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY is required"))
	}
	if c.TokenStore != TokenStoreSession && c.TokenStore != TokenStoreSecret {
		errs = append(errs, fmt.Errorf("TOKEN_STORE must be %q or %q, got %q", TokenStoreSession, TokenStoreSecret, c.TokenStore))
	}
	return errors.Join(errs...)
}

// Helper function to get environment variable with fallback
func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// Helper function to get integer environment variable with fallback
func getEnvAsInt(key string, fallback int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}

	return value
}

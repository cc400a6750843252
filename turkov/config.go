package turkov

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production cloud endpoint.
	DefaultBaseURL = "https://turkovwifi.ru"

	defaultTimeout = 15 * time.Second
)

// Config defines runtime configuration for the cloud client.
type Config struct {
	// BaseURL overrides the cloud endpoint; empty means DefaultBaseURL.
	BaseURL string

	Email    string
	Password string

	// Tokens from a previous session may be seeded to skip the initial
	// credential exchange while they remain fresh.
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time

	// DisableAuthHandling turns off the automatic refresh-and-retry wrapping
	// around authenticated calls; the caller then drives Authenticate itself.
	DisableAuthHandling bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

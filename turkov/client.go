package turkov

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// tokenExpiryMargin is how long before expiry a token stops being usable.
const tokenExpiryMargin = 60 * time.Second

// Client talks to the Turkov cloud API. It owns the account session (tokens,
// conditional-request validators) and the registry of known devices.
//
// Token fields and the validator map are guarded by mu so multiple device
// polls may share one client; reconciliation of a single device is not
// concurrency-safe and callers must serialize UpdateState per device.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
	handleAuth bool

	email    string
	password string

	mu                    sync.Mutex
	accessToken           string
	accessTokenExpiresAt  time.Time
	refreshToken          string
	refreshTokenExpiresAt time.Time
	validators            map[string]string
	firstName             string
	lastName              string
	middleName            string
	devices               map[string]*Device

	now func() time.Time
}

// NewClient builds a cloud client from config.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:               baseURL,
		httpClient:            httpClient,
		log:                   logger.With("user", maskEmail(cfg.Email)),
		handleAuth:            !cfg.DisableAuthHandling,
		email:                 cfg.Email,
		password:              cfg.Password,
		accessToken:           cfg.AccessToken,
		accessTokenExpiresAt:  cfg.AccessTokenExpiresAt,
		refreshToken:          cfg.RefreshToken,
		refreshTokenExpiresAt: cfg.RefreshTokenExpiresAt,
		validators:            make(map[string]string),
		devices:               make(map[string]*Device),
		now:                   time.Now,
	}, nil
}

// Devices returns a snapshot of the registry keyed by device id.
func (c *Client) Devices() map[string]*Device {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]*Device, len(c.devices))
	for id, device := range c.devices {
		out[id] = device
	}
	return out
}

// Device looks up a registered device by id.
func (c *Client) Device(id string) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	device, ok := c.devices[id]
	return device, ok
}

func (c *Client) Email() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.email
}

// Profile returns the account's first, last, and middle name from the last
// user-data sync.
func (c *Client) Profile() (first, last, middle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstName, c.lastName, c.middleName
}

// AccessToken returns the current access token and its expiry.
func (c *Client) AccessToken() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.accessTokenExpiresAt
}

// RefreshToken returns the current refresh token and its expiry.
func (c *Client) RefreshToken() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken, c.refreshTokenExpiresAt
}

// AccessTokenNeedsUpdate reports whether the access token is absent or due to
// expire within the freshness margin.
func (c *Client) AccessTokenNeedsUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tokenNeedsUpdate(c.accessToken, c.accessTokenExpiresAt, c.now())
}

// RefreshTokenNeedsUpdate reports the same freshness rule for the refresh
// token.
func (c *Client) RefreshTokenNeedsUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tokenNeedsUpdate(c.refreshToken, c.refreshTokenExpiresAt, c.now())
}

func tokenNeedsUpdate(token string, expiresAt, now time.Time) bool {
	if token == "" || expiresAt.IsZero() {
		return true
	}
	return !now.Add(tokenExpiryMargin).Before(expiresAt)
}

// AuthenticateWithCredentials performs the email/password sign-in exchange.
func (c *Client) AuthenticateWithCredentials(ctx context.Context) error {
	c.log.Info("authenticating with credentials")

	body, err := json.Marshal(map[string]string{
		"userEmail": c.email,
		"password":  c.password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/signin", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.processAuthResponse(c.httpClient.Do(req))
}

// AuthenticateWithRefreshToken performs the refresh exchange. An empty token
// means "use the stored one", which must still be fresh.
func (c *Client) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		c.mu.Lock()
		if tokenNeedsUpdate(c.refreshToken, c.refreshTokenExpiresAt, c.now()) {
			c.mu.Unlock()
			return ErrRefreshTokenExpired
		}
		refreshToken = c.refreshToken
		c.mu.Unlock()
	}

	c.log.Info("authenticating with refresh token")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/token", nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-access-token", refreshToken)

	return c.processAuthResponse(c.httpClient.Do(req))
}

// processAuthResponse validates a token envelope and, only once every check
// passes, swaps in all four token fields atomically.
func (c *Client) processAuthResponse(resp *http.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: server did not respond: %v", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: server did not respond: %v", ErrAuthentication, err)
	}

	var envelope tokenEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("%w: server returned bad response", ErrAuthentication)
	}

	now := c.now()
	if envelope.AccessToken == "" || envelope.RefreshToken == "" {
		message := envelope.Message
		if message == "" {
			message = "<no message>"
		}
		return fmt.Errorf("%w: server did not provide auth data: %s", ErrAuthentication, message)
	}

	accessExpiresAt := time.Unix(envelope.AccessTokenExpiresAt, 0)
	refreshExpiresAt := time.Unix(envelope.RefreshTokenExpiresAt, 0)
	if accessExpiresAt.Before(now) {
		return fmt.Errorf("%w: server provided expired access token", ErrAuthentication)
	}
	if refreshExpiresAt.Before(now) {
		return fmt.Errorf("%w: server provided expired refresh token", ErrAuthentication)
	}

	c.mu.Lock()
	c.accessToken = envelope.AccessToken
	c.accessTokenExpiresAt = accessExpiresAt
	c.refreshToken = envelope.RefreshToken
	c.refreshTokenExpiresAt = refreshExpiresAt
	c.mu.Unlock()

	c.log.Debug("authentication successful",
		"access_expires_in", accessExpiresAt.Sub(now).Round(time.Second),
		"refresh_expires_in", refreshExpiresAt.Sub(now).Round(time.Second),
	)
	authSuccess.Inc()
	return nil
}

// Authenticate refreshes the session: a refresh-token exchange first while
// the refresh token is fresh, then a single credential exchange. Exactly one
// attempt of each, never a loop.
func (c *Client) Authenticate(ctx context.Context) error {
	if !c.RefreshTokenNeedsUpdate() {
		err := c.AuthenticateWithRefreshToken(ctx, "")
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		authFallback.Inc()
		c.log.Warn("token refresh failed, falling back to credential auth", "error", err)
	}

	return c.AuthenticateWithCredentials(ctx)
}

// withAuth wraps an authenticated call with the bounded re-auth policy:
// refresh up front when the access token is stale, and on an authorization
// failure re-authenticate at most once and retry at most once.
func (c *Client) withAuth(ctx context.Context, fn func(context.Context) error) error {
	attempted := false
	if c.handleAuth && c.AccessTokenNeedsUpdate() {
		c.log.Debug("access token requires update before request")
		if err := c.Authenticate(ctx); err != nil {
			return err
		}
		attempted = true
	}

	err := fn(ctx)
	if err == nil || !isAuthFailure(err) {
		return err
	}
	if attempted || !c.handleAuth {
		return asAuthError(err)
	}

	c.log.Debug("re-authenticating after authorization failure")
	if err := c.Authenticate(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if isAuthFailure(err) {
			return asAuthError(err)
		}
		return err
	}
	return nil
}

func asAuthError(err error) error {
	if errors.Is(err, ErrAuthentication) {
		return err
	}
	return fmt.Errorf("%w: unauthorized request performed: %v", ErrAuthentication, err)
}

// newAuthedRequest builds a request carrying the access token and, when a
// request tag is given, the stored cache validator for that tag.
func (c *Client) newAuthedRequest(ctx context.Context, method, url string, body io.Reader, tag string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	req.Header.Set("x-access-token", c.accessToken)
	if tag != "" {
		if validator, ok := c.validators[tag]; ok {
			req.Header.Set("If-None-Match", validator)
		}
	}
	c.mu.Unlock()

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// storeValidator records a response validator for reuse; servers that return
// no validator leave the previous one in place.
func (c *Client) storeValidator(tag, validator string) {
	if tag == "" || validator == "" {
		return
	}
	c.mu.Lock()
	c.validators[tag] = validator
	c.mu.Unlock()
}

func checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode < 300 {
		return nil
	}
	return StatusError{Status: resp.StatusCode, Body: string(body)}
}

func maskEmail(email string) string {
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" {
		return "**"
	}
	return local[:1] + "**@" + domain
}

func maskID(id string) string {
	if len(id) <= 4 {
		return "*" + id
	}
	return "*" + id[len(id)-4:]
}

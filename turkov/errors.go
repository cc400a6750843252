package turkov

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds surfaced by the client. Wrapped errors carry detail; callers
// discriminate with errors.Is.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrValidation     = errors.New("invalid value")
	ErrProtocol       = errors.New("unexpected payload")
	ErrTransport      = errors.New("transport failure")
)

// ErrRefreshTokenExpired is returned by AuthenticateWithRefreshToken when no
// usable refresh token is stored and none was supplied.
var ErrRefreshTokenExpired = errors.New("refresh token expired")

// StatusError reports a non-success HTTP status from the cloud API.
type StatusError struct {
	Status int
	Body   string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("turkov api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// isAuthFailure reports whether err should trigger the one-shot
// re-authentication path: an explicit authentication error or a 401/403.
func isAuthFailure(err error) bool {
	if errors.Is(err, ErrAuthentication) {
		return true
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden
	}
	return false
}

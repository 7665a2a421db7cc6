// Package auth resolves the bearer token used for the REST and realtime channels.
//
// Token issuance and session management belong to the backend; this package
// only locates a provided token and attaches it to requests.
package auth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// QueryParam is the query parameter carrying the token on the realtime handshake.
const QueryParam = "access_token"

// ErrTokenMissing is returned when neither a token nor a token file is configured.
var ErrTokenMissing = errors.New("auth token missing")

// Credentials holds the bearer token for backend requests.
type Credentials struct {
	Token string
}

// LoadCredentials resolves credentials from an inline token or a token file.
// An inline token wins when both are set.
func LoadCredentials(token, tokenPath string) (*Credentials, error) {
	token = strings.TrimSpace(token)
	if token != "" {
		return &Credentials{Token: token}, nil
	}
	if tokenPath == "" {
		return nil, ErrTokenMissing
	}

	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	token = strings.TrimSpace(string(data))
	if token == "" {
		return nil, fmt.Errorf("token file %s: %w", tokenPath, ErrTokenMissing)
	}

	return &Credentials{Token: token}, nil
}

// BearerHeader returns the Authorization header value for the token.
func (c *Credentials) BearerHeader() string {
	return Bearer(c.Token)
}

// Bearer formats token as an Authorization header value.
func Bearer(token string) string {
	return "Bearer " + token
}

// QueryURL returns rawURL with the token added as the access_token query parameter.
func (c *Credentials) QueryURL(rawURL string) (string, error) {
	return WithQueryToken(rawURL, c.Token)
}

// WithQueryToken adds token to rawURL as the access_token query parameter.
func WithQueryToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set(QueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

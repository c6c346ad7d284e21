// Package token exchanges long-lived OAuth2 refresh tokens for access tokens
// and tells rejected refresh tokens apart from transient token-service errors.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrReauthorizationRequired marks a refresh token the provider will never
// accept again. Retrying is pointless until a human re-consents.
var ErrReauthorizationRequired = errors.New("reauthorization required")

// YouTubeUploadScope is the scope requested during consent.
const YouTubeUploadScope = "https://www.googleapis.com/auth/youtube.upload"

// Config describes the OAuth2 client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
	Scopes       []string
	// Endpoint overrides the Google endpoint (tests).
	Endpoint *oauth2.Endpoint
}

// Grant summarizes a code exchange without exposing token values.
type Grant struct {
	AccessToken  bool      `json:"accessToken"`
	RefreshToken bool      `json:"refreshToken"`
	Expiry       time.Time `json:"expiry"`
}

// Manager owns the OAuth2 client configuration and the current refresh token.
type Manager struct {
	oauth *oauth2.Config

	mu           sync.RWMutex
	refreshToken string
}

// NewManager builds a manager for Google's OAuth2 endpoint.
func NewManager(cfg Config) *Manager {
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{YouTubeUploadScope}
	}
	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		refreshToken: strings.TrimSpace(cfg.RefreshToken),
	}
}

// AccessToken refreshes using the currently stored refresh token.
func (m *Manager) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	m.mu.RLock()
	refresh := m.refreshToken
	m.mu.RUnlock()
	return m.GetAccessToken(ctx, refresh)
}

// GetAccessToken exchanges refreshToken for a short-lived access token. An
// invalid_grant rejection, or no refresh token at all, wraps
// ErrReauthorizationRequired; anything else is returned as an ordinary error.
func (m *Manager) GetAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored: %w", ErrReauthorizationRequired)
	}

	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			logutil.Warnf("refresh token rejected by provider: %v", err)
			return nil, fmt.Errorf("refresh token rejected: %w", ErrReauthorizationRequired)
		}
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	return tok, nil
}

// AuthCodeURL returns the consent URL. Offline access with forced approval
// makes Google issue a fresh refresh token every time.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens. A returned refresh token
// replaces the stored one.
func (m *Manager) Exchange(ctx context.Context, code string) (Grant, error) {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return Grant{}, fmt.Errorf("exchange code: %w", err)
	}
	if tok.RefreshToken != "" {
		m.mu.Lock()
		m.refreshToken = tok.RefreshToken
		m.mu.Unlock()
		logutil.Infof("stored new refresh token (expiry=%s)", tok.Expiry.Format(time.RFC3339))
	}
	return Grant{
		AccessToken:  tok.AccessToken != "",
		RefreshToken: tok.RefreshToken != "",
		Expiry:       tok.Expiry,
	}, nil
}

// HasRefreshToken reports whether a refresh token is configured.
func (m *Manager) HasRefreshToken() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken != ""
}

func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	if retrieveErr.ErrorCode != "" {
		return retrieveErr.ErrorCode == "invalid_grant"
	}
	return strings.Contains(string(retrieveErr.Body), "invalid_grant")
}

package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newManager(t *testing.T, handler http.HandlerFunc, refresh string) *Manager {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/oauth/youtube/callback",
		RefreshToken: refresh,
		Endpoint: &oauth2.Endpoint{
			AuthURL:   server.URL + "/auth",
			TokenURL:  server.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	})
}

func TestGetAccessToken(t *testing.T) {
	t.Run("successful refresh", func(t *testing.T) {
		m := newManager(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "good-refresh", r.Form.Get("refresh_token"))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"ya29.token","token_type":"Bearer","expires_in":3600}`))
		}, "good-refresh")

		tok, err := m.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ya29.token", tok.AccessToken)
	})

	t.Run("invalid_grant requires reauthorization", func(t *testing.T) {
		m := newManager(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
		}, "revoked")

		_, err := m.AccessToken(context.Background())
		require.ErrorIs(t, err, ErrReauthorizationRequired)
	})

	t.Run("server error is ordinary failure", func(t *testing.T) {
		m := newManager(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal_failure"}`))
		}, "good-refresh")

		_, err := m.AccessToken(context.Background())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrReauthorizationRequired)
	})

	t.Run("missing refresh token requires reauthorization", func(t *testing.T) {
		called := false
		m := newManager(t, func(w http.ResponseWriter, r *http.Request) { called = true }, "")

		_, err := m.AccessToken(context.Background())
		require.ErrorIs(t, err, ErrReauthorizationRequired)
		assert.False(t, called)
		assert.False(t, m.HasRefreshToken())
	})
}

func TestAuthCodeURL(t *testing.T) {
	m := newManager(t, func(http.ResponseWriter, *http.Request) {}, "")

	raw := m.AuthCodeURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, YouTubeUploadScope, q.Get("scope"))
}

func TestExchange(t *testing.T) {
	m := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			assert.Equal(t, "auth-code", r.Form.Get("code"))
			w.Write([]byte(`{"access_token":"fresh","refresh_token":"new-refresh","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			assert.Equal(t, "new-refresh", r.Form.Get("refresh_token"))
			w.Write([]byte(`{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`))
		default:
			t.Errorf("unexpected grant type %q", r.Form.Get("grant_type"))
		}
	}, "")

	grant, err := m.Exchange(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.True(t, grant.AccessToken)
	assert.True(t, grant.RefreshToken)
	assert.False(t, grant.Expiry.IsZero())
	assert.True(t, m.HasRefreshToken())

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)
}

func TestIsInvalidGrantFallsBackToBody(t *testing.T) {
	err := &oauth2.RetrieveError{Body: []byte(`error=invalid_grant`)}
	assert.True(t, isInvalidGrant(err))
	assert.False(t, isInvalidGrant(&oauth2.RetrieveError{Body: []byte(`{"error":"server"}`)}))
	assert.False(t, isInvalidGrant(assert.AnError))
}

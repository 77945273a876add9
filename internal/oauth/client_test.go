package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAuthURLRejectsEmptyInput(t *testing.T) {
	c := NewClient(Config{ClientID: "id", ClientSecret: "secret"})
	_, err := c.BuildAuthURL("", "state")
	require.Error(t, err)
	var invalidArg *ErrInvalidArgument
	require.ErrorAs(t, err, &invalidArg)
}

func TestBuildAuthURLIncludesStateAndRedirect(t *testing.T) {
	c := NewClient(Config{ClientID: "id", ClientSecret: "secret", Scopes: []string{"email"}})
	u, err := c.BuildAuthURL("https://gw.example.com/callback", "the-state")
	require.NoError(t, err)
	require.Contains(t, u, "state=the-state")
	require.Contains(t, u, "client_id=id")
}

func TestStateRoundTripGenerateAndValidate(t *testing.T) {
	c := NewClient(Config{ClientID: "id", ClientSecret: "secret"})
	state, err := c.GenerateState()
	require.NoError(t, err)
	require.True(t, c.ValidateState(state))
	// Second validation of the same value must fail: one-time use.
	require.False(t, c.ValidateState(state))
}

func TestGetUserInfoRejectsEmptyToken(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.GetUserInfo(context.Background(), "")
	require.Error(t, err)
	var invalidArg *ErrInvalidArgument
	require.ErrorAs(t, err, &invalidArg)
}

func TestDoMapsNon2xxToOAuthFailedWithBodyPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient_scope"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	_, _, err := c.get(context.Background(), "tok", srv.URL)
	require.Error(t, err)
	var failed *ErrOAuthFailed
	require.ErrorAs(t, err, &failed)
	require.Equal(t, http.StatusForbidden, failed.Status)
	require.Contains(t, failed.Body, "insufficient_scope")
}

func TestDoRejectsOversizeResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBytes+1)))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	_, _, err := c.get(context.Background(), "tok", srv.URL)
	require.Error(t, err)
	var tooLarge *ErrResponseTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestGetUserInfoParsesEmailAndName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"email":"a@example.com","name":"A"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{})
	body, _, err := c.get(context.Background(), "tok", srv.URL)
	require.NoError(t, err)
	require.Contains(t, string(body), "a@example.com")
}

func TestFetchProjectIDRejectsEmptyToken(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.FetchProjectID(context.Background(), "")
	require.Error(t, err)
	var invalidArg *ErrInvalidArgument
	require.ErrorAs(t, err, &invalidArg)
}

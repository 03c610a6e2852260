package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgate/authgate/internal/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestAuthorizeURL(t *testing.T) {
	client := NewClient(config.ProviderConfig{
		Name:         "sf",
		AuthorizeURL: "https://idp.example.com/authorize",
		ClientID:     "client-1",
		CallbackURL:  "http://gateway.example.com/auth/sf/callback",
		Scope:        "api id",
	}, testLogger())

	raw := client.AuthorizeURL()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "https://idp.example.com/authorize", parsed.Scheme+"://"+parsed.Host+parsed.Path)
	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "http://gateway.example.com/auth/sf/callback", q.Get("redirect_uri"))
	assert.Equal(t, "api id", q.Get("scope"))
}

func TestExchangeAndFetchProfile(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()

	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "a1b2c3d4e5f6", r.PostForm.Get("code"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))

		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "provider-access",
			"refresh_token": "provider-refresh",
			"id":            srv.URL + "/id/00De00000004cdeEAA/005e0000001uNIyAAM",
		})
	})

	mux.HandleFunc("/id/00De00000004cdeEAA/005e0000001uNIyAAM", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer provider-access", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":              srv.URL + "/id/00De00000004cdeEAA/005e0000001uNIyAAM",
			"user_id":         "005e0000001uNIyAAM",
			"organization_id": "00De00000004cdeEAA",
			"first_name":      "Name",
			"last_name":       "Lastname",
			"email":           "name.lastname@email.com",
			"mobile_phone":    "+34000000000",
			"photos": map[string]string{
				"picture": "https://img.example.com/photo.jpeg",
			},
		})
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(config.ProviderConfig{
		Name:         "sf",
		TokenURL:     srv.URL + "/services/oauth2/token",
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		CallbackURL:  "http://gateway.example.com/auth/sf/callback",
	}, testLogger())

	creds, err := client.Exchange(context.Background(), "a1b2c3d4e5f6")
	require.NoError(t, err)
	assert.Equal(t, "provider-access", creds.AccessToken)
	assert.Equal(t, "provider-refresh", creds.RefreshToken)

	profile, photoURL, err := client.FetchProfile(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, "00De00000004cdeEAA/005e0000001uNIyAAM", profile.SubjectID)
	assert.Equal(t, "Name", profile.Name)
	assert.Equal(t, "Lastname", profile.Lastname)
	assert.Equal(t, "name.lastname@email.com", profile.Email)
	assert.Equal(t, "000000000", profile.Phone)
	assert.Equal(t, "ES", profile.Country)
	assert.Nil(t, profile.Avatar)
	assert.Equal(t, "https://img.example.com/photo.jpeg", photoURL)
}

func TestExchangeRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(config.ProviderConfig{Name: "sf", TokenURL: srv.URL}, testLogger())

	_, err := client.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestExchangeRejectsMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"refresh_token": "only"})
	}))
	defer srv.Close()

	client := NewClient(config.ProviderConfig{Name: "sf", TokenURL: srv.URL}, testLogger())

	_, err := client.Exchange(context.Background(), "code")
	assert.Error(t, err)
}

func TestFetchProfileFlatID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":                 "abc123",
			"localizedFirstName": "Nom",
			"localizedLastName":  "Prenom",
			"emailAddress":       "nom@email.com",
		})
	}))
	defer srv.Close()

	client := NewClient(config.ProviderConfig{Name: "in", ProfileURL: srv.URL}, testLogger())

	profile, photoURL, err := client.FetchProfile(context.Background(), &Credentials{AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", profile.SubjectID)
	assert.Equal(t, "Nom", profile.Name)
	assert.Equal(t, "Prenom", profile.Lastname)
	assert.Equal(t, "nom@email.com", profile.Email)
	assert.Empty(t, photoURL)
}
